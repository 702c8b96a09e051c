package pager

import (
	"encoding/binary"
	"fmt"

	"github.com/SimonWaldherr/tinySQL/internal/vfs"
)

// Rollback journal format (spec.md §6 "Rollback journal"):
//
//	28-byte header: magic, n_records, nonce, initial_db_size_pages,
//	sector_size, page_size
//	then records: page_no(4) page_image(page_size) checksum(4)
//
// The journal header's n_records field is only trustworthy once the
// journal has been fully written and synced; a hot journal found on open
// with a header that doesn't match (or whose records fail checksum) is
// replayed only up to the first bad record, per spec.md §4.3 recovery.
const (
	journalHeaderSz = 28
	journalMagicHi  = uint32(0xd9d505f9)
	journalMagicLo  = uint32(0x20a163d7)
)

// JournalWriter appends page images to a rollback journal as they are
// dirtied for the first time in the current transaction.
type JournalWriter struct {
	file        vfs.File
	pageSize    int
	nonce       uint32
	initialSize uint32
	written     map[PageID]bool
	nRecords    uint32
}

// CreateJournal creates (or truncates) the journal file and writes its
// header. initialSize is the database's page count before this
// transaction began, used to restore the file size on rollback.
func CreateJournal(v vfs.VFS, path string, pageSize int, initialSize uint32) (*JournalWriter, error) {
	f, err := v.Open(path, vfs.OpenCreate|vfs.OpenReadWrite|vfs.OpenExclusive|vfs.OpenMainJournal)
	if err != nil {
		return nil, fmt.Errorf("pager: create journal: %w", err)
	}
	var nonceBuf [4]byte
	if err := v.Randomness(nonceBuf[:]); err != nil {
		return nil, err
	}
	jw := &JournalWriter{
		file:        f,
		pageSize:    pageSize,
		nonce:       binary.BigEndian.Uint32(nonceBuf[:]),
		initialSize: initialSize,
		written:     make(map[PageID]bool),
	}
	if err := jw.writeHeader(); err != nil {
		return nil, err
	}
	return jw, nil
}

func (jw *JournalWriter) writeHeader() error {
	var hdr [journalHeaderSz]byte
	binary.BigEndian.PutUint32(hdr[0:4], journalMagicHi)
	binary.BigEndian.PutUint32(hdr[4:8], journalMagicLo)
	binary.BigEndian.PutUint32(hdr[8:12], jw.nRecords)
	binary.BigEndian.PutUint32(hdr[12:16], jw.nonce)
	binary.BigEndian.PutUint32(hdr[16:20], jw.initialSize)
	binary.BigEndian.PutUint32(hdr[20:24], uint32(jw.pageSize))
	binary.BigEndian.PutUint32(hdr[24:28], uint32(jw.pageSize))
	_, err := jw.file.WriteAt(hdr[:], 0)
	return err
}

// WritePageIfNeeded appends a before-image of page id the first time it is
// dirtied in this transaction; subsequent dirtying of the same page within
// the same transaction is a no-op since the journal only needs the
// earliest image to roll back to.
func (jw *JournalWriter) WritePageIfNeeded(id PageID, preImage []byte) error {
	if jw.written[id] {
		return nil
	}
	off := int64(journalHeaderSz) + int64(jw.nRecords)*int64(4+jw.pageSize+4)
	var rec [8]byte
	binary.BigEndian.PutUint32(rec[0:4], uint32(id))
	if _, err := jw.file.WriteAt(rec[0:4], off); err != nil {
		return fmt.Errorf("pager: journal record header: %w", err)
	}
	if _, err := jw.file.WriteAt(preImage, off+4); err != nil {
		return fmt.Errorf("pager: journal page image: %w", err)
	}
	cksum := journalChecksum(jw.nonce, preImage)
	binary.BigEndian.PutUint32(rec[4:8], cksum)
	if _, err := jw.file.WriteAt(rec[4:8], off+4+int64(jw.pageSize)); err != nil {
		return fmt.Errorf("pager: journal checksum: %w", err)
	}
	jw.written[id] = true
	jw.nRecords++
	return nil
}

// Commit syncs the journal's data then rewrites the header with the final
// record count and syncs again — the second sync is the durability point
// after which the journal is a valid "hot journal" for crash recovery
// (spec.md §4.3).
func (jw *JournalWriter) Commit() error {
	if err := jw.file.Sync(vfs.SyncFull); err != nil {
		return err
	}
	if err := jw.writeHeader(); err != nil {
		return err
	}
	return jw.file.Sync(vfs.SyncFull)
}

// Delete removes the journal file, ending the transaction's rollback
// window (spec.md §4.3: presence of the journal is what makes a crash
// recoverable, so deletion must be the last step of a commit).
func (jw *JournalWriter) Delete(v vfs.VFS, path string) error {
	if err := jw.file.Close(); err != nil {
		return err
	}
	return v.Delete(path, true)
}

// Close releases the underlying file without deleting it; the caller
// decides what happens to the file afterwards (Pager.Rollback deletes it).
func (jw *JournalWriter) Close() error {
	return jw.file.Close()
}

// JournalRecord is one decoded page-image entry read back during replay.
type JournalRecord struct {
	PageNo PageID
	Image  []byte
}

// ReplayJournal reads a hot journal and returns the records that pass
// their checksum, stopping at the first corrupt or short record — a torn
// write during the crash that produced this journal (spec.md §4.3).
func ReplayJournal(f vfs.File, pageSize int) ([]JournalRecord, uint32, error) {
	var hdr [journalHeaderSz]byte
	if _, err := f.ReadAt(hdr[:], 0); err != nil {
		return nil, 0, fmt.Errorf("pager: read journal header: %w", err)
	}
	if binary.BigEndian.Uint32(hdr[0:4]) != journalMagicHi ||
		binary.BigEndian.Uint32(hdr[4:8]) != journalMagicLo {
		return nil, 0, fmt.Errorf("pager: not a journal file")
	}
	nRecords := binary.BigEndian.Uint32(hdr[8:12])
	nonce := binary.BigEndian.Uint32(hdr[12:16])
	initialSize := binary.BigEndian.Uint32(hdr[16:20])
	hdrPageSize := int(binary.BigEndian.Uint32(hdr[20:24]))
	if hdrPageSize != 0 {
		pageSize = hdrPageSize
	}

	recs := make([]JournalRecord, 0, nRecords)
	recSz := int64(4 + pageSize + 4)
	for i := uint32(0); i < nRecords; i++ {
		off := int64(journalHeaderSz) + int64(i)*recSz
		var rec [8]byte
		if _, err := f.ReadAt(rec[0:4], off); err != nil {
			break
		}
		pgno := PageID(binary.BigEndian.Uint32(rec[0:4]))
		image := make([]byte, pageSize)
		if _, err := f.ReadAt(image, off+4); err != nil {
			break
		}
		if _, err := f.ReadAt(rec[4:8], off+4+int64(pageSize)); err != nil {
			break
		}
		wantCksum := binary.BigEndian.Uint32(rec[4:8])
		if journalChecksum(nonce, image) != wantCksum {
			break
		}
		recs = append(recs, JournalRecord{PageNo: pgno, Image: image})
	}
	return recs, initialSize, nil
}

// journalChecksum combines a per-transaction nonce with the page image so
// that a journal record from a stale/earlier transaction can never be
// mistaken for a valid record of the current one.
func journalChecksum(nonce uint32, page []byte) uint32 {
	sum := nonce
	for i := 0; i+4 <= len(page); i += 4 {
		sum += binary.BigEndian.Uint32(page[i : i+4])
	}
	for i := len(page) - len(page)%4; i < len(page); i++ {
		sum += uint32(page[i])
	}
	return sum
}
