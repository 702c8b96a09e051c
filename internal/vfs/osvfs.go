package vfs

import (
	"crypto/rand"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
)

// OSVFS is the default VFS backed by the real filesystem. It uses
// golang.org/x/sys/unix fcntl byte-range locks for the lock ladder on unix
// platforms (see osvfs_unix.go / osvfs_other.go).
type OSVFS struct {
	tempDir string
}

// NewOSVFS returns a VFS rooted at the given temp directory (os.TempDir()
// if empty).
func NewOSVFS(tempDir string) *OSVFS {
	if tempDir == "" {
		tempDir = os.TempDir()
	}
	return &OSVFS{tempDir: tempDir}
}

func (v *OSVFS) osFlags(flags OpenFlag) int {
	f := 0
	switch {
	case flags&OpenReadWrite != 0:
		f = os.O_RDWR
	case flags&OpenReadOnly != 0:
		f = os.O_RDONLY
	default:
		f = os.O_RDWR
	}
	if flags&OpenCreate != 0 {
		f |= os.O_CREATE
	}
	if flags&OpenExclusive != 0 {
		f |= os.O_EXCL
	}
	return f
}

func (v *OSVFS) Open(name string, flags OpenFlag) (File, error) {
	f, err := os.OpenFile(name, v.osFlags(flags), 0644)
	if err != nil {
		return nil, fmt.Errorf("vfs open %s: %w", name, err)
	}
	of := &osFile{f: f, name: name, deleteOnClose: flags&OpenDeleteOnClose != 0}
	return of, nil
}

func (v *OSVFS) Delete(name string, syncDir bool) error {
	if err := os.Remove(name); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("vfs delete %s: %w", name, err)
	}
	if syncDir {
		if dir, err := os.Open(filepath.Dir(name)); err == nil {
			_ = dir.Sync()
			_ = dir.Close()
		}
	}
	return nil
}

func (v *OSVFS) Exists(name string) (bool, error) {
	_, err := os.Stat(name)
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, err
}

func (v *OSVFS) FullPath(name string) (string, error) {
	return filepath.Abs(name)
}

func (v *OSVFS) Randomness(buf []byte) error {
	_, err := rand.Read(buf)
	return err
}

func (v *OSVFS) Sleep(d time.Duration) { time.Sleep(d) }

func (v *OSVFS) Now() time.Time { return time.Now().UTC() }

func (v *OSVFS) TempFileName(prefix string) (string, error) {
	return filepath.Join(v.tempDir, fmt.Sprintf("%s-%s.tmp", prefix, uuid.NewString())), nil
}

// osFile is the concrete File implementation over *os.File. Lock/Unlock are
// implemented per-platform (see osvfs_unix.go / osvfs_other.go) because the
// fcntl byte-range lock ladder only exists on unix-like systems.
type osFile struct {
	mu            sync.Mutex
	f             *os.File
	name          string
	deleteOnClose bool
	shm           map[string][]byte
}

func (o *osFile) ReadAt(p []byte, off int64) (int, error)  { return o.f.ReadAt(p, off) }
func (o *osFile) WriteAt(p []byte, off int64) (int, error) { return o.f.WriteAt(p, off) }

func (o *osFile) Close() error {
	err := o.f.Close()
	if o.deleteOnClose {
		_ = os.Remove(o.name)
	}
	return err
}

func (o *osFile) Truncate(size int64) error { return o.f.Truncate(size) }

func (o *osFile) Sync(flag SyncFlag) error {
	// DataOnly is best-effort on platforms without fdatasync exposed via
	// os.File; fall back to a full Sync, which is always safe (stronger).
	return o.f.Sync()
}

func (o *osFile) Size() (int64, error) {
	fi, err := o.f.Stat()
	if err != nil {
		return 0, err
	}
	return fi.Size(), nil
}

func (o *osFile) SharedMemoryMap(region string, size int, create bool) ([]byte, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.shm == nil {
		o.shm = make(map[string][]byte)
	}
	buf, ok := o.shm[region]
	if !ok {
		if !create {
			return nil, fmt.Errorf("vfs shm region %q not found", region)
		}
		buf = make([]byte, size)
		o.shm[region] = buf
	}
	return buf, nil
}
