package pager

import (
	"fmt"
	"sync"

	"github.com/SimonWaldherr/tinySQL/internal/dberr"
	"github.com/SimonWaldherr/tinySQL/internal/vfs"
)

// JournalMode selects which durability strategy a Pager uses to make
// writes crash-safe (spec.md §4.3).
type JournalMode int

const (
	JournalRollback JournalMode = iota
	JournalWAL
)

// savepoint captures enough state to undo every page write made since it
// was opened, without needing a second on-disk journal file (spec.md §4.3
// Savepoints).
type savepoint struct {
	name        string
	dbSize      uint32
	preImages   map[PageID][]byte // first image of each page touched after this savepoint
	newPages    map[PageID]bool   // pages allocated after this savepoint
}

// Pager owns the page cache, the database file, and the journal/WAL
// needed to make multi-page writes atomic (spec.md §4 Pager).
type Pager struct {
	mu sync.Mutex

	v    vfs.VFS
	path string
	file vfs.File

	mode     JournalMode
	header   FileHeader
	cache    *PageCache
	pageSize int

	journalPath string
	journal     *JournalWriter
	inTx        bool
	firstDirty  map[PageID]bool // pages already written to the journal this tx

	wal          *WAL
	walSnapshot  int // reader snapshot taken at BeginRead, 0 if no read open
	walWriteOpen bool
	pendingWAL   map[PageID]int // frame ordinal of pages spilled this tx but not yet published

	savepoints []*savepoint
}

// Open opens (creating if necessary) the database file at path using v,
// reading or initializing the file header and selecting rollback-journal
// or WAL mode from the header's version fields.
func Open(v vfs.VFS, path string, cachePages int) (*Pager, error) {
	f, err := v.Open(path, vfs.OpenCreate|vfs.OpenReadWrite|vfs.OpenMainDB)
	if err != nil {
		return nil, fmt.Errorf("pager: open database: %w", err)
	}
	size, err := f.Size()
	if err != nil {
		return nil, err
	}

	p := &Pager{
		v:           v,
		path:        path,
		file:        f,
		cache:       NewPageCache(cachePages),
		journalPath: path + "-journal",
		firstDirty:  make(map[PageID]bool),
	}

	if size == 0 {
		p.header = DefaultFileHeader(DefaultPageSize)
		p.pageSize = DefaultPageSize
		buf := make([]byte, p.pageSize)
		MarshalFileHeader(&p.header, buf)
		if _, err := f.WriteAt(buf, 0); err != nil {
			return nil, err
		}
		if err := f.Sync(vfs.SyncFull); err != nil {
			return nil, err
		}
	} else {
		page1 := make([]byte, FileHeaderSize)
		if _, err := f.ReadAt(page1, 0); err != nil {
			return nil, fmt.Errorf("pager: read header: %w", err)
		}
		h, err := UnmarshalFileHeader(page1)
		if err != nil {
			return nil, err
		}
		p.header = h
		p.pageSize = int(h.PageSize)
	}

	if p.header.ReadVersion == 2 {
		p.mode = JournalWAL
		p.wal, err = OpenWAL(v, path+"-wal", p.pageSize)
		if err != nil {
			return nil, err
		}
	} else {
		p.mode = JournalRollback
		if err := p.recoverIfHotJournal(); err != nil {
			return nil, err
		}
	}
	return p, nil
}

// recoverIfHotJournal replays a leftover rollback journal found on open,
// then deletes it (spec.md §4.3 crash recovery).
func (p *Pager) recoverIfHotJournal() error {
	exists, err := p.v.Exists(p.journalPath)
	if err != nil || !exists {
		return err
	}
	jf, err := p.v.Open(p.journalPath, vfs.OpenReadWrite|vfs.OpenMainJournal)
	if err != nil {
		return nil // unreadable journal: nothing to recover
	}
	defer jf.Close()

	recs, initialSize, err := ReplayJournal(jf, p.pageSize)
	if err != nil {
		return nil
	}
	for _, r := range recs {
		if err := p.writePageToFile(r.PageNo, r.Image); err != nil {
			return err
		}
	}
	if initialSize > 0 {
		if err := p.file.Truncate(int64(initialSize) * int64(p.pageSize)); err != nil {
			return err
		}
	}
	if err := p.file.Sync(vfs.SyncFull); err != nil {
		return err
	}
	return p.v.Delete(p.journalPath, true)
}

func (p *Pager) writePageToFile(id PageID, buf []byte) error {
	off := int64(id-1) * int64(p.pageSize)
	_, err := p.file.WriteAt(buf, off)
	return err
}

func (p *Pager) readPageFromFile(id PageID) ([]byte, error) {
	buf := make([]byte, p.pageSize)
	off := int64(id-1) * int64(p.pageSize)
	if _, err := p.file.ReadAt(buf, off); err != nil {
		return nil, fmt.Errorf("pager: read page %d: %w", id, err)
	}
	return buf, nil
}

// Get returns the contents of page id, pinning it in the cache. In WAL
// mode, a page visible in the current reader snapshot is served from the
// WAL in preference to the main file (spec.md §4.4).
func (p *Pager) Get(id PageID) ([]byte, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.getLocked(id)
}

func (p *Pager) getLocked(id PageID) ([]byte, error) {
	if buf, ok := p.cache.Fetch(id); ok {
		return buf, nil
	}

	var buf []byte
	var err error
	if p.mode == JournalWAL {
		if ord, spilled := p.pendingWAL[id]; spilled {
			walBuf, werr := p.wal.ReadFrameByOrdinal(ord)
			if werr != nil {
				return nil, werr
			}
			buf = walBuf
		} else {
			snap := p.walSnapshot
			if snap == 0 {
				snap = p.wal.MaxFrame()
			}
			walBuf, found, werr := p.wal.ReadPage(id, snap)
			if werr != nil {
				return nil, werr
			}
			if found {
				buf = walBuf
			}
		}
	}
	if buf == nil {
		buf, err = p.readPageFromFile(id)
		if err != nil {
			return nil, err
		}
	}
	if !p.cache.Insert(id, buf) {
		if !p.spillOneLocked() {
			return nil, dberr.New(dberr.NoMem, "pager: cache full, no clean page to evict")
		}
		p.cache.Insert(id, buf)
	}
	return buf, nil
}

// Release decrements page id's pin count.
func (p *Pager) Release(id PageID) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cache.Release(id)
}

// InWriteTxn reports whether a write transaction is currently open, so a
// caller that may be nested inside a caller-managed BEGIN/COMMIT (e.g. a
// generated program's own auto-transaction wrapping) can skip opening a
// second one.
func (p *Pager) InWriteTxn() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.inTx
}

// BeginRead opens a read transaction, pinning a WAL snapshot so pages
// fetched afterward reflect a single consistent point in time even if a
// concurrent writer commits (spec.md §4.4 Reader snapshot). It is a no-op
// in rollback-journal mode, where the SHARED lock alone gives that
// guarantee.
func (p *Pager) BeginRead() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.mode == JournalWAL {
		p.walSnapshot = p.wal.MaxFrame()
	}
}

// EndRead releases the pinned WAL snapshot opened by BeginRead.
func (p *Pager) EndRead() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.walSnapshot = 0
}

// BeginWrite opens a write transaction: in rollback mode it creates the
// journal file and acquires the RESERVED lock; in WAL mode it simply marks
// the pager ready to append frames (spec.md §4.3/§4.4).
func (p *Pager) BeginWrite() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.inTx {
		return dberr.New(dberr.Misuse, "pager: write transaction already open")
	}
	if err := p.file.Lock(vfs.LockReserved); err != nil {
		return fmt.Errorf("pager: acquire RESERVED lock: %w", err)
	}
	if p.mode == JournalRollback {
		jw, err := CreateJournal(p.v, p.journalPath, p.pageSize, p.header.DatabaseSizePages)
		if err != nil {
			p.file.Unlock(vfs.LockShared)
			return err
		}
		p.journal = jw
		p.firstDirty = make(map[PageID]bool)
	} else {
		p.walWriteOpen = true
		p.pendingWAL = make(map[PageID]int)
	}
	p.inTx = true
	p.savepoints = p.savepoints[:0]
	return nil
}

// MarkDirty records that the caller is about to modify the in-cache image
// of page id, journaling its pre-modification image the first time it is
// touched in the current transaction or savepoint.
func (p *Pager) MarkDirty(id PageID) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.inTx {
		return dberr.New(dberr.Misuse, "pager: write outside transaction")
	}
	buf, ok := p.cache.Get(id)
	if !ok {
		return dberr.New(dberr.Corrupt, "pager: dirty unknown page")
	}

	if p.mode == JournalRollback && !p.firstDirty[id] {
		preImage := append([]byte(nil), buf...)
		if err := p.journal.WritePageIfNeeded(id, preImage); err != nil {
			return err
		}
		p.firstDirty[id] = true
	}
	for _, sp := range p.savepoints {
		if _, have := sp.preImages[id]; !have && !sp.newPages[id] {
			sp.preImages[id] = append([]byte(nil), buf...)
		}
	}
	p.cache.MakeDirty(id)
	return nil
}

// Write replaces the in-cache bytes of page id with buf. Callers must
// have called MarkDirty(id) first in the same transaction.
func (p *Pager) Write(id PageID, buf []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	cur, ok := p.cache.Get(id)
	if !ok {
		return dberr.New(dberr.Corrupt, "pager: write unknown page")
	}
	copy(cur, buf)
	return nil
}

// Allocate grows the database by one page, returning its new page id.
func (p *Pager) Allocate() (PageID, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.inTx {
		return InvalidPageID, dberr.New(dberr.Misuse, "pager: allocate outside transaction")
	}
	p.header.DatabaseSizePages++
	id := PageID(p.header.DatabaseSizePages)
	buf := make([]byte, p.pageSize)
	if !p.cache.Insert(id, buf) {
		if !p.spillOneLocked() {
			return InvalidPageID, dberr.New(dberr.NoMem, "pager: cache full on allocate")
		}
		p.cache.Insert(id, buf)
	}
	for _, sp := range p.savepoints {
		sp.newPages[id] = true
	}
	p.cache.MakeDirty(id)
	return id, nil
}

// Free discards page id from the cache; the B-tree layer is responsible
// for threading it onto the freelist before calling this.
func (p *Pager) Free(id PageID) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cache.Discard(id)
}

// spillOneLocked writes the oldest dirty page to the WAL or journal+file
// so the cache can evict it, relieving memory pressure mid-transaction
// (spec.md §4.2 "cache full" signal).
func (p *Pager) spillOneLocked() bool {
	dirty := p.cache.DirtyPages()
	if len(dirty) == 0 {
		return false
	}
	id := dirty[0]
	buf, ok := p.cache.Get(id)
	if !ok {
		return false
	}
	if p.mode == JournalWAL {
		if err := p.wal.AppendFrame(id, buf, 0); err != nil {
			return false
		}
		p.pendingWAL[id] = p.wal.FrameCount()
	} else {
		if err := p.writePageToFile(id, buf); err != nil {
			return false
		}
	}
	p.cache.Discard(id)
	return true
}

// Commit flushes every dirty page durably, using the rollback-journal
// two-sync protocol or the WAL append-and-publish protocol, then updates
// and writes the file header (spec.md §4.3/§4.4).
func (p *Pager) Commit() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.inTx {
		return dberr.New(dberr.Misuse, "pager: commit outside transaction")
	}

	p.header.FileChangeCounter++
	p.header.VersionValidFor = p.header.FileChangeCounter

	// Every commit changes the file header (at least the change counter),
	// so page 1 is always part of this transaction's write set even if no
	// caller explicitly dirtied it.
	page1, err := p.getLocked(1)
	if err != nil {
		return err
	}
	defer p.cache.Release(1)
	if p.mode == JournalRollback && !p.firstDirty[1] {
		preImage := append([]byte(nil), page1...)
		if p.journal == nil {
			return dberr.New(dberr.Misuse, "pager: commit without journal")
		}
		if err := p.journal.WritePageIfNeeded(1, preImage); err != nil {
			return err
		}
		p.firstDirty[1] = true
	}
	MarshalFileHeader(&p.header, page1)
	p.cache.MakeDirty(1)

	dirty := p.cache.DirtyPages()
	if p.mode == JournalRollback {
		if err := p.journal.Commit(); err != nil {
			return err
		}
		if err := p.file.Lock(vfs.LockExclusive); err != nil {
			return err
		}
		for _, id := range dirty {
			buf, _ := p.cache.Get(id)
			if err := p.writePageToFile(id, buf); err != nil {
				return err
			}
		}
		if err := p.file.Truncate(int64(p.header.DatabaseSizePages) * int64(p.pageSize)); err != nil {
			return err
		}
		if err := p.file.Sync(vfs.SyncFull); err != nil {
			return err
		}
		if err := p.journal.Delete(p.v, p.journalPath); err != nil {
			return err
		}
		p.file.Unlock(vfs.LockReserved)
	} else {
		for i, id := range dirty {
			buf, _ := p.cache.Get(id)
			commitSize := uint32(0)
			if i == len(dirty)-1 {
				commitSize = p.header.DatabaseSizePages
			}
			if err := p.wal.AppendFrame(id, buf, commitSize); err != nil {
				return err
			}
		}
		if err := p.wal.Publish(); err != nil {
			return err
		}
		p.walWriteOpen = false
		p.file.Unlock(vfs.LockReserved)
	}

	p.cache.MakeClean()
	p.inTx = false
	p.journal = nil
	p.pendingWAL = nil
	p.savepoints = p.savepoints[:0]
	return nil
}

// Rollback discards every page written in the current transaction and
// releases the write lock.
func (p *Pager) Rollback() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.inTx {
		return nil
	}
	for _, id := range p.cache.DirtyPages() {
		p.cache.Discard(id)
	}
	p.cache.MakeClean()
	if p.journal != nil {
		p.journal.Close()
		p.v.Delete(p.journalPath, false)
		p.journal = nil
	}
	p.walWriteOpen = false
	p.pendingWAL = nil
	p.inTx = false
	p.firstDirty = make(map[PageID]bool)
	p.savepoints = p.savepoints[:0]
	p.file.Unlock(vfs.LockReserved)

	if size, err := p.file.Size(); err == nil {
		p.header.DatabaseSizePages = uint32(size / int64(p.pageSize))
	}
	return nil
}

// OpenSavepoint pushes a new named savepoint onto the transaction's
// savepoint stack (spec.md §4.3 Savepoints).
func (p *Pager) OpenSavepoint(name string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.inTx {
		return dberr.New(dberr.Misuse, "pager: savepoint outside transaction")
	}
	p.savepoints = append(p.savepoints, &savepoint{
		name:      name,
		dbSize:    p.header.DatabaseSizePages,
		preImages: make(map[PageID][]byte),
		newPages:  make(map[PageID]bool),
	})
	return nil
}

// ReleaseSavepoint merges a savepoint's tracked state into its parent
// (committing it without touching the on-disk journal/WAL, which keeps
// the whole enclosing transaction's durability story unchanged).
func (p *Pager) ReleaseSavepoint(name string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	idx := p.findSavepointLocked(name)
	if idx < 0 {
		return dberr.New(dberr.Misuse, "pager: unknown savepoint "+name)
	}
	if idx == 0 {
		p.savepoints = p.savepoints[:0]
		return nil
	}
	parent := p.savepoints[idx-1]
	for _, sp := range p.savepoints[idx:] {
		for id, img := range sp.preImages {
			if _, have := parent.preImages[id]; !have {
				parent.preImages[id] = img
			}
		}
		for id := range sp.newPages {
			parent.newPages[id] = true
		}
	}
	p.savepoints = p.savepoints[:idx]
	return nil
}

// RollbackToSavepoint restores every page touched since the savepoint was
// opened to its pre-savepoint image and shrinks the database back to the
// savepoint's page count, without ending the enclosing transaction.
func (p *Pager) RollbackToSavepoint(name string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	idx := p.findSavepointLocked(name)
	if idx < 0 {
		return dberr.New(dberr.Misuse, "pager: unknown savepoint "+name)
	}
	for i := len(p.savepoints) - 1; i >= idx; i-- {
		sp := p.savepoints[i]
		for id, img := range sp.preImages {
			if buf, ok := p.cache.Get(id); ok {
				copy(buf, img)
			} else {
				p.cache.Insert(id, append([]byte(nil), img...))
			}
		}
		for id := range sp.newPages {
			p.cache.Discard(id)
		}
		p.header.DatabaseSizePages = sp.dbSize
	}
	p.savepoints = p.savepoints[:idx+1]
	return nil
}

func (p *Pager) findSavepointLocked(name string) int {
	for i := len(p.savepoints) - 1; i >= 0; i-- {
		if p.savepoints[i].name == name {
			return i
		}
	}
	return -1
}

// CheckpointMode selects how much of the WAL a Checkpoint call drains
// (spec.md §4.3 Checkpoint modes).
type CheckpointMode int

const (
	CheckpointPassive CheckpointMode = iota
	CheckpointFull
	CheckpointRestart
	CheckpointTruncate
)

// Checkpoint copies WAL frames up to the latest commit back into the main
// database file. Full/Restart/Truncate additionally require no other
// reader to be using frames beyond the copied point before resetting the
// WAL; spec.md's Non-goals exclude multi-process WAL, so a single-process
// Pager can always satisfy that requirement once no read transaction is
// outstanding.
func (p *Pager) Checkpoint(mode CheckpointMode) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.mode != JournalWAL {
		return nil
	}
	maxFrame := p.wal.MaxFrame()
	if maxFrame == 0 {
		return nil
	}
	pages := p.wal.PagesAtOrBefore(maxFrame)
	if err := p.file.Lock(vfs.LockExclusive); err != nil {
		return err
	}
	defer p.file.Unlock(vfs.LockShared)

	for pgno, ord := range pages {
		buf, err := p.wal.ReadFrameByOrdinal(ord)
		if err != nil {
			return err
		}
		if err := p.writePageToFile(pgno, buf); err != nil {
			return err
		}
	}
	if err := p.file.Sync(vfs.SyncFull); err != nil {
		return err
	}
	if mode == CheckpointPassive {
		return nil
	}
	return p.wal.Reset(p.v)
}

// Header returns a copy of the current file header.
func (p *Pager) Header() FileHeader {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.header
}

// UpdateFileHeader mutates the in-memory header via fn. Commit always
// re-marshals and journals page 1, so any change made here during a write
// transaction is captured automatically at commit time.
func (p *Pager) UpdateFileHeader(fn func(h *FileHeader)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fn(&p.header)
}

// PageSize returns the database's fixed page size.
func (p *Pager) PageSize() int {
	return p.pageSize
}

// Close releases the pager's underlying file handles.
func (p *Pager) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.wal != nil {
		p.wal.Close()
	}
	return p.file.Close()
}
