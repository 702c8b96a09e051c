package pager

import (
	"bytes"
	"testing"

	"github.com/SimonWaldherr/tinySQL/internal/vfs"
)

func newTestPager(t *testing.T) *Pager {
	t.Helper()
	v := vfs.NewMemVFS()
	p, err := Open(v, "test.db", 16)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { p.Close() })
	return p
}

func TestPager_OpenCreatesHeader(t *testing.T) {
	p := newTestPager(t)
	h := p.Header()
	if h.PageSize != DefaultPageSize {
		t.Fatalf("page size = %d, want %d", h.PageSize, DefaultPageSize)
	}
	if h.DatabaseSizePages != 1 {
		t.Fatalf("database size = %d, want 1", h.DatabaseSizePages)
	}
}

func TestPager_WriteCommitReopen(t *testing.T) {
	v := vfs.NewMemVFS()
	p, err := Open(v, "test.db", 16)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	if err := p.BeginWrite(); err != nil {
		t.Fatalf("BeginWrite: %v", err)
	}
	id, err := p.Allocate()
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	if err := p.MarkDirty(id); err != nil {
		t.Fatalf("MarkDirty: %v", err)
	}
	payload := bytes.Repeat([]byte{0xAB}, p.PageSize())
	if err := p.Write(id, payload); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := p.Commit(); err != nil {
		t.Fatalf("Commit: %v", err)
	}
	p.Close()

	p2, err := Open(v, "test.db", 16)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer p2.Close()
	got, err := p2.Get(id)
	if err != nil {
		t.Fatalf("Get after reopen: %v", err)
	}
	if !bytes.Equal(got, payload) {
		t.Fatalf("page contents lost across reopen")
	}
}

func TestPager_RollbackDiscardsWrites(t *testing.T) {
	p := newTestPager(t)
	if err := p.BeginWrite(); err != nil {
		t.Fatalf("BeginWrite: %v", err)
	}
	id, err := p.Allocate()
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	if err := p.MarkDirty(id); err != nil {
		t.Fatalf("MarkDirty: %v", err)
	}
	if err := p.Write(id, bytes.Repeat([]byte{0x42}, p.PageSize())); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := p.Rollback(); err != nil {
		t.Fatalf("Rollback: %v", err)
	}
	h := p.Header()
	if h.DatabaseSizePages != 1 {
		t.Fatalf("database size after rollback = %d, want 1", h.DatabaseSizePages)
	}
}

func TestPager_SavepointRollback(t *testing.T) {
	p := newTestPager(t)
	if err := p.BeginWrite(); err != nil {
		t.Fatalf("BeginWrite: %v", err)
	}
	id, err := p.Allocate()
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	if err := p.MarkDirty(id); err != nil {
		t.Fatalf("MarkDirty: %v", err)
	}
	original := bytes.Repeat([]byte{0x11}, p.PageSize())
	if err := p.Write(id, original); err != nil {
		t.Fatalf("Write: %v", err)
	}

	if err := p.OpenSavepoint("sp1"); err != nil {
		t.Fatalf("OpenSavepoint: %v", err)
	}
	if err := p.MarkDirty(id); err != nil {
		t.Fatalf("MarkDirty: %v", err)
	}
	if err := p.Write(id, bytes.Repeat([]byte{0x22}, p.PageSize())); err != nil {
		t.Fatalf("Write: %v", err)
	}
	id2, err := p.Allocate()
	if err != nil {
		t.Fatalf("Allocate after savepoint: %v", err)
	}

	if err := p.RollbackToSavepoint("sp1"); err != nil {
		t.Fatalf("RollbackToSavepoint: %v", err)
	}
	got, err := p.Get(id)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !bytes.Equal(got, original) {
		t.Fatal("savepoint rollback did not restore pre-image")
	}
	h := p.Header()
	if h.DatabaseSizePages != 2 {
		t.Fatalf("database size after savepoint rollback = %d, want 2 (page %d should be gone)", h.DatabaseSizePages, id2)
	}
	if err := p.Commit(); err != nil {
		t.Fatalf("Commit: %v", err)
	}
}

func TestPager_WALCommitAndCheckpoint(t *testing.T) {
	v := vfs.NewMemVFS()
	p, err := Open(v, "wal.db", 16)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer p.Close()

	p.UpdateFileHeader(func(h *FileHeader) {
		h.WriteVersion = 2
		h.ReadVersion = 2
	})
	p.mode = JournalWAL
	wal, err := OpenWAL(v, "wal.db-wal", p.PageSize())
	if err != nil {
		t.Fatalf("OpenWAL: %v", err)
	}
	p.wal = wal

	if err := p.BeginWrite(); err != nil {
		t.Fatalf("BeginWrite: %v", err)
	}
	id, err := p.Allocate()
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	if err := p.MarkDirty(id); err != nil {
		t.Fatalf("MarkDirty: %v", err)
	}
	payload := bytes.Repeat([]byte{0x77}, p.PageSize())
	if err := p.Write(id, payload); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := p.Commit(); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	got, err := p.Get(id)
	if err != nil {
		t.Fatalf("Get after WAL commit: %v", err)
	}
	if !bytes.Equal(got, payload) {
		t.Fatal("WAL-committed page not readable back")
	}

	if err := p.Checkpoint(CheckpointFull); err != nil {
		t.Fatalf("Checkpoint: %v", err)
	}
	if p.wal.MaxFrame() != 0 {
		t.Fatal("checkpoint should reset the WAL")
	}
}
