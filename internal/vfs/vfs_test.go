package vfs

import (
	"path/filepath"
	"testing"
)

func TestMemVFS_ReadWriteRoundTrip(t *testing.T) {
	v := NewMemVFS()
	f, err := v.Open("test.db", OpenCreate|OpenReadWrite)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer f.Close()

	want := []byte("hello world")
	if _, err := f.WriteAt(want, 10); err != nil {
		t.Fatalf("write: %v", err)
	}
	got := make([]byte, len(want))
	if _, err := f.ReadAt(got, 10); err != nil {
		t.Fatalf("read: %v", err)
	}
	if string(got) != string(want) {
		t.Fatalf("roundtrip mismatch: got %q want %q", got, want)
	}
	size, err := f.Size()
	if err != nil {
		t.Fatalf("size: %v", err)
	}
	if size != 21 {
		t.Fatalf("size = %d, want 21", size)
	}
}

func TestMemVFS_ExclusiveOpenFails(t *testing.T) {
	v := NewMemVFS()
	if _, err := v.Open("a.db", OpenCreate); err != nil {
		t.Fatalf("first open: %v", err)
	}
	if _, err := v.Open("a.db", OpenCreate|OpenExclusive); err == nil {
		t.Fatal("expected exclusive open of existing file to fail")
	}
}

func TestMemVFS_DeleteOnClose(t *testing.T) {
	v := NewMemVFS()
	f, err := v.Open("tmp.db", OpenCreate|OpenDeleteOnClose)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	f.Close()
	if ok, _ := v.Exists("tmp.db"); ok {
		t.Fatal("expected file to be deleted on close")
	}
}

func TestMemVFS_LockLevels(t *testing.T) {
	v := NewMemVFS()
	f, _ := v.Open("l.db", OpenCreate)
	defer f.Close()
	if err := f.Lock(LockShared); err != nil {
		t.Fatalf("lock shared: %v", err)
	}
	if reserved, _ := f.CheckReservedLock(); reserved {
		t.Fatal("shared lock should not report reserved")
	}
	if err := f.Lock(LockReserved); err != nil {
		t.Fatalf("lock reserved: %v", err)
	}
	if reserved, _ := f.CheckReservedLock(); !reserved {
		t.Fatal("expected reserved lock to be visible")
	}
	if err := f.Unlock(LockNone); err != nil {
		t.Fatalf("unlock: %v", err)
	}
}

func TestOSVFS_TempFileNameUnique(t *testing.T) {
	v := NewOSVFS(t.TempDir())
	a, err := v.TempFileName("sorter")
	if err != nil {
		t.Fatalf("tempfilename: %v", err)
	}
	b, _ := v.TempFileName("sorter")
	if a == b {
		t.Fatal("expected unique temp file names")
	}
	if filepath.Dir(a) != v.tempDir {
		t.Fatalf("temp file %q not rooted under %q", a, v.tempDir)
	}
}

func TestOSVFS_OpenReadWriteSync(t *testing.T) {
	dir := t.TempDir()
	v := NewOSVFS(dir)
	path := filepath.Join(dir, "main.db")
	f, err := v.Open(path, OpenCreate|OpenReadWrite|OpenMainDB)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer f.Close()
	if _, err := f.WriteAt([]byte("page-data"), 0); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := f.Sync(SyncFull); err != nil {
		t.Fatalf("sync: %v", err)
	}
	exists, err := v.Exists(path)
	if err != nil || !exists {
		t.Fatalf("exists: %v %v", exists, err)
	}
}
