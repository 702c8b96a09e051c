package vfs

import (
	"crypto/rand"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemVFS is an in-memory VFS used for ":memory:" databases and ephemeral
// sorter/B-tree temp files. Locking never blocks, since a MemVFS is never
// shared across processes: Lock only records the level, which
// CheckReservedLock reports.
type MemVFS struct {
	mu    sync.Mutex
	files map[string]*memFile
}

func NewMemVFS() *MemVFS {
	return &MemVFS{files: make(map[string]*memFile)}
}

func (v *MemVFS) Open(name string, flags OpenFlag) (File, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	f, ok := v.files[name]
	if !ok {
		if flags&OpenCreate == 0 {
			return nil, fmt.Errorf("vfs open %s: not found", name)
		}
		f = &memFile{name: name, shm: make(map[string][]byte)}
		v.files[name] = f
	} else if flags&OpenExclusive != 0 {
		return nil, fmt.Errorf("vfs open %s: exists", name)
	}
	if flags&OpenDeleteOnClose != 0 {
		f.deleteOnClose = true
		f.owner = v
	}
	return f, nil
}

func (v *MemVFS) Delete(name string, syncDir bool) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	delete(v.files, name)
	return nil
}

func (v *MemVFS) Exists(name string) (bool, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	_, ok := v.files[name]
	return ok, nil
}

func (v *MemVFS) FullPath(name string) (string, error) { return name, nil }

func (v *MemVFS) Randomness(buf []byte) error {
	_, err := rand.Read(buf)
	return err
}

func (v *MemVFS) Sleep(d time.Duration) { time.Sleep(d) }

func (v *MemVFS) Now() time.Time { return time.Now().UTC() }

func (v *MemVFS) TempFileName(prefix string) (string, error) {
	return fmt.Sprintf("%s-%s.tmp", prefix, uuid.NewString()), nil
}

type memFile struct {
	mu            sync.Mutex
	name          string
	buf           []byte
	deleteOnClose bool
	owner         *MemVFS
	lockLevel     LockLevel
	shm           map[string][]byte
}

func (m *memFile) ReadAt(p []byte, off int64) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if off >= int64(len(m.buf)) {
		return 0, fmt.Errorf("EOF")
	}
	n := copy(p, m.buf[off:])
	if n < len(p) {
		return n, fmt.Errorf("short read")
	}
	return n, nil
}

func (m *memFile) WriteAt(p []byte, off int64) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	end := off + int64(len(p))
	if end > int64(len(m.buf)) {
		grown := make([]byte, end)
		copy(grown, m.buf)
		m.buf = grown
	}
	return copy(m.buf[off:], p), nil
}

func (m *memFile) Close() error {
	if m.deleteOnClose && m.owner != nil {
		_ = m.owner.Delete(m.name, false)
	}
	return nil
}

func (m *memFile) Truncate(size int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if size <= int64(len(m.buf)) {
		m.buf = m.buf[:size]
		return nil
	}
	grown := make([]byte, size)
	copy(grown, m.buf)
	m.buf = grown
	return nil
}

func (m *memFile) Sync(flag SyncFlag) error { return nil }

func (m *memFile) Size() (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return int64(len(m.buf)), nil
}

func (m *memFile) Lock(level LockLevel) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lockLevel = level
	return nil
}

func (m *memFile) Unlock(level LockLevel) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lockLevel = LockNone
	return nil
}

func (m *memFile) CheckReservedLock() (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lockLevel >= LockReserved, nil
}

func (m *memFile) SharedMemoryMap(region string, size int, create bool) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	buf, ok := m.shm[region]
	if !ok {
		if !create {
			return nil, fmt.Errorf("vfs shm region %q not found", region)
		}
		buf = make([]byte, size)
		m.shm[region] = buf
	}
	return buf, nil
}
