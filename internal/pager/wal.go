package pager

import (
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/SimonWaldherr/tinySQL/internal/vfs"
)

// WAL file format (spec.md §6 "WAL file"):
//
//	32-byte magic header: magic, format version, page size, ckpt sequence,
//	salt1, salt2, checksum1, checksum2
//	then frames: page_no(4) commit_size(4) salt1(4) salt2(4) checksum1(4)
//	checksum2(4) page_image
//
// A frame's commit_size is non-zero exactly for the last frame of a
// committed transaction (the "commit marker", spec.md §4.4).
const (
	walMagicBE    = uint32(0x377f0682)
	walFrameHdrSz = 24
)

// WALFrame is the in-memory view of one WAL frame.
type WALFrame struct {
	PageNo     PageID
	CommitSize uint32 // database size in pages; 0 unless this is a commit frame
	Salt1      uint32
	Salt2      uint32
	Checksum1  uint32
	Checksum2  uint32
	Page       []byte
}

// WAL manages the append-only write-ahead log file plus an in-memory
// wal-index mapping page number to its newest visible frame per snapshot
// (spec.md §4.4).
type WAL struct {
	mu        sync.Mutex
	file      vfs.File
	pageSize  int
	salt1     uint32
	salt2     uint32
	cksum1    uint32
	cksum2    uint32
	frameSize int64
	nFrames   int
	maxFrame  int // highest frame index committed and fsynced (1-based)

	// index maps page number -> newest frame ordinal (1-based) at-or-below
	// each committed boundary; readers take a snapshot of maxFrame and use
	// index entries <= that frame.
	index map[PageID][]int // page -> sorted list of frame ordinals holding it
}

// OpenWAL opens or creates the WAL file at path.
func OpenWAL(v vfs.VFS, path string, pageSize int) (*WAL, error) {
	f, err := v.Open(path, vfs.OpenCreate|vfs.OpenReadWrite|vfs.OpenWAL)
	if err != nil {
		return nil, fmt.Errorf("pager: open WAL: %w", err)
	}
	w := &WAL{
		file:      f,
		pageSize:  pageSize,
		frameSize: int64(walFrameHdrSz + pageSize),
		index:     make(map[PageID][]int),
	}
	size, err := f.Size()
	if err != nil {
		return nil, err
	}
	if size == 0 {
		if err := w.writeMagicHeader(v); err != nil {
			return nil, err
		}
		return w, nil
	}
	if err := w.readMagicHeader(); err != nil {
		return nil, err
	}
	if err := w.replayIndex(); err != nil {
		return nil, err
	}
	return w, nil
}

func (w *WAL) writeMagicHeader(v vfs.VFS) error {
	var salts [8]byte
	if err := v.Randomness(salts[:]); err != nil {
		return err
	}
	w.salt1 = binary.BigEndian.Uint32(salts[0:4])
	w.salt2 = binary.BigEndian.Uint32(salts[4:8])
	return w.flushMagicHeader()
}

func (w *WAL) flushMagicHeader() error {
	var hdr [32]byte
	binary.BigEndian.PutUint32(hdr[0:4], walMagicBE)
	binary.BigEndian.PutUint32(hdr[4:8], 1) // format version
	binary.BigEndian.PutUint32(hdr[8:12], uint32(w.pageSize))
	binary.BigEndian.PutUint32(hdr[12:16], 0) // checkpoint sequence
	binary.BigEndian.PutUint32(hdr[16:20], w.salt1)
	binary.BigEndian.PutUint32(hdr[20:24], w.salt2)
	c1, c2 := walChecksum(0, 0, hdr[:24])
	w.cksum1, w.cksum2 = c1, c2
	binary.BigEndian.PutUint32(hdr[24:28], c1)
	binary.BigEndian.PutUint32(hdr[28:32], c2)
	_, err := w.file.WriteAt(hdr[:], 0)
	return err
}

func (w *WAL) readMagicHeader() error {
	var hdr [32]byte
	if _, err := w.file.ReadAt(hdr[:], 0); err != nil {
		return fmt.Errorf("pager: read WAL header: %w", err)
	}
	if binary.BigEndian.Uint32(hdr[0:4]) != walMagicBE {
		return fmt.Errorf("pager: bad WAL magic")
	}
	ps := binary.BigEndian.Uint32(hdr[8:12])
	if int(ps) != w.pageSize {
		return fmt.Errorf("pager: WAL page size %d != %d", ps, w.pageSize)
	}
	w.salt1 = binary.BigEndian.Uint32(hdr[16:20])
	w.salt2 = binary.BigEndian.Uint32(hdr[20:24])
	w.cksum1 = binary.BigEndian.Uint32(hdr[24:28])
	w.cksum2 = binary.BigEndian.Uint32(hdr[28:32])
	return nil
}

// replayIndex scans every frame after the header and rebuilds the
// wal-index, stopping at the first frame that fails its checksum (a torn
// write at the tail, spec.md §4.4 invariant: a frame is visible only after
// its transaction's commit marker is durable).
func (w *WAL) replayIndex() error {
	c1, c2 := w.cksum1, w.cksum2
	ord := 0
	off := int64(32)
	for {
		var hdr [walFrameHdrSz]byte
		n, err := w.file.ReadAt(hdr[:], off)
		if err != nil && n < walFrameHdrSz {
			break
		}
		pgno := PageID(binary.BigEndian.Uint32(hdr[0:4]))
		commitSize := binary.BigEndian.Uint32(hdr[4:8])
		salt1 := binary.BigEndian.Uint32(hdr[8:12])
		salt2 := binary.BigEndian.Uint32(hdr[12:16])
		wantC1 := binary.BigEndian.Uint32(hdr[16:20])
		wantC2 := binary.BigEndian.Uint32(hdr[20:24])
		if salt1 != w.salt1 || salt2 != w.salt2 {
			break
		}
		page := make([]byte, w.pageSize)
		if _, err := w.file.ReadAt(page, off+walFrameHdrSz); err != nil {
			break
		}
		nc1, nc2 := walChecksum(c1, c2, hdr[0:8])
		nc1, nc2 = walChecksum(nc1, nc2, page)
		if nc1 != wantC1 || nc2 != wantC2 {
			break
		}
		c1, c2 = nc1, nc2
		ord++
		w.index[pgno] = append(w.index[pgno], ord)
		if commitSize != 0 {
			w.maxFrame = ord
		}
		off += w.frameSize
	}
	w.nFrames = ord
	w.cksum1, w.cksum2 = c1, c2
	return nil
}

// AppendFrame appends a page image frame. commitSize is non-zero iff this
// frame is the transaction's commit marker.
func (w *WAL) AppendFrame(pgno PageID, page []byte, commitSize uint32) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	var hdr [walFrameHdrSz]byte
	binary.BigEndian.PutUint32(hdr[0:4], uint32(pgno))
	binary.BigEndian.PutUint32(hdr[4:8], commitSize)
	binary.BigEndian.PutUint32(hdr[8:12], w.salt1)
	binary.BigEndian.PutUint32(hdr[12:16], w.salt2)

	c1, c2 := walChecksum(w.cksum1, w.cksum2, hdr[0:8])
	c1, c2 = walChecksum(c1, c2, page)
	binary.BigEndian.PutUint32(hdr[16:20], c1)
	binary.BigEndian.PutUint32(hdr[20:24], c2)
	w.cksum1, w.cksum2 = c1, c2

	off := 32 + int64(w.nFrames)*w.frameSize
	if _, err := w.file.WriteAt(hdr[:], off); err != nil {
		return fmt.Errorf("pager: WAL frame header: %w", err)
	}
	if _, err := w.file.WriteAt(page, off+walFrameHdrSz); err != nil {
		return fmt.Errorf("pager: WAL frame page: %w", err)
	}
	w.nFrames++
	w.index[pgno] = append(w.index[pgno], w.nFrames)
	return nil
}

// Publish fsyncs every frame written since the last publish and advances
// maxFrame to the latest commit frame, making those writes visible to new
// readers (spec.md §4.4: "Writer appends and publishes the new max_frame
// only after fsync of all its frames").
func (w *WAL) Publish() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.file.Sync(vfs.SyncFull); err != nil {
		return err
	}
	w.maxFrame = w.nFrames
	return nil
}

// Snapshot returns the reader end-mark to use for a new read transaction
// (spec.md §4.4 Reader snapshot = (epoch, max_frame); epoch is folded into
// the salts here since this is a single-process WAL, spec.md Non-goals).
func (w *WAL) Snapshot() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.maxFrame
}

// ReadPage returns the newest frame for pgno visible at or before snapshot,
// or (nil, false) if the page isn't present in the WAL within that window.
func (w *WAL) ReadPage(pgno PageID, snapshot int) ([]byte, bool, error) {
	w.mu.Lock()
	ords := w.index[pgno]
	var best int
	for _, o := range ords {
		if o <= snapshot && o > best {
			best = o
		}
	}
	w.mu.Unlock()
	if best == 0 {
		return nil, false, nil
	}
	off := 32 + int64(best-1)*w.frameSize + walFrameHdrSz
	buf := make([]byte, w.pageSize)
	if _, err := w.file.ReadAt(buf, off); err != nil {
		return nil, false, err
	}
	return buf, true, nil
}

// FrameCount returns the total number of frames ever appended (committed
// or not).
func (w *WAL) FrameCount() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.nFrames
}

// MaxFrame returns the latest committed/published frame ordinal.
func (w *WAL) MaxFrame() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.maxFrame
}

// PagesAtOrBefore returns the set of distinct page numbers that have a
// frame at or before the given frame ordinal — used by checkpointing to
// know what to copy into the main file.
func (w *WAL) PagesAtOrBefore(frameOrd int) map[PageID]int {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make(map[PageID]int)
	for pgno, ords := range w.index {
		best := 0
		for _, o := range ords {
			if o <= frameOrd && o > best {
				best = o
			}
		}
		if best > 0 {
			out[pgno] = best
		}
	}
	return out
}

// ReadFrameByOrdinal reads the page image stored at a specific frame
// ordinal (1-based), used by the checkpointer.
func (w *WAL) ReadFrameByOrdinal(ord int) ([]byte, error) {
	off := 32 + int64(ord-1)*w.frameSize + walFrameHdrSz
	buf := make([]byte, w.pageSize)
	if _, err := w.file.ReadAt(buf, off); err != nil {
		return nil, err
	}
	return buf, nil
}

// Reset truncates the WAL back to just the header after a successful
// checkpoint that drained every reader (spec.md §4.3 Checkpoint modes).
func (w *WAL) Reset(v vfs.VFS) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.file.Truncate(32); err != nil {
		return err
	}
	w.nFrames = 0
	w.maxFrame = 0
	w.index = make(map[PageID][]int)
	var salts [8]byte
	if err := v.Randomness(salts[:]); err != nil {
		return err
	}
	w.salt1 = binary.BigEndian.Uint32(salts[0:4])
	w.salt2 = binary.BigEndian.Uint32(salts[4:8])
	return w.flushMagicHeader()
}

func (w *WAL) Close() error {
	return w.file.Close()
}

// walChecksum computes a running 32-bit-pair checksum over data (which
// must be a multiple of 8 bytes), seeded from (s0, s1). This is a simple,
// independently specified rolling checksum fulfilling the "checksum1,
// checksum2" fields spec.md §6 requires of every WAL frame; it is not
// derived from any particular implementation's algorithm.
func walChecksum(s0, s1 uint32, data []byte) (uint32, uint32) {
	for i := 0; i+8 <= len(data); i += 8 {
		x0 := binary.BigEndian.Uint32(data[i : i+4])
		x1 := binary.BigEndian.Uint32(data[i+4 : i+8])
		s0 += x0 + s1
		s1 += x1 + s0
	}
	return s0, s1
}
