// Package pager implements the page cache, the pager (rollback-journal and
// WAL commit paths), and the on-disk file header, byte-exact with the file
// format described in spec.md §6.
package pager

import (
	"encoding/binary"
	"fmt"
)

const (
	// FileHeaderSize is the fixed 100-byte header carried on page 1
	// (spec.md §6 "Page 1 header, 100 bytes").
	FileHeaderSize = 100

	DefaultPageSize = 4096
	MinPageSize     = 512
	MaxPageSize     = 65536

	magicString = "SQLite format 3\x00"
)

// TextEncoding mirrors the file header's encoding field.
type TextEncoding uint32

const (
	EncUTF8    TextEncoding = 1
	EncUTF16LE TextEncoding = 2
	EncUTF16BE TextEncoding = 3
)

// PageID identifies a page by its 1-based page number; page 1 carries the
// file header.
type PageID uint32

const InvalidPageID PageID = 0

// FileHeader is the parsed contents of the first 100 bytes of page 1
// (spec.md §6, byte-exact layout).
type FileHeader struct {
	PageSize              uint32 // stored as uint16 on disk; 1 means 65536
	WriteVersion          uint8
	ReadVersion           uint8
	ReservedPerPage       uint8
	MaxEmbeddedFrac       uint8 // fixed at 64
	MinEmbeddedFrac       uint8 // fixed at 32
	LeafPayloadFrac       uint8 // fixed at 32
	FileChangeCounter     uint32
	DatabaseSizePages     uint32
	FirstFreelistTrunk    uint32
	FreelistCount         uint32
	SchemaCookie          uint32
	SchemaFormatNumber    uint32
	DefaultCacheSize      uint32
	LargestRootPage       uint32 // non-zero only in auto/incremental vacuum mode
	TextEncoding          TextEncoding
	UserVersion           uint32
	IncrementalVacuum     uint32
	ApplicationID         uint32
	VersionValidFor       uint32
	SQLiteVersionNumber   uint32
}

// DefaultFileHeader returns the header for a freshly created database of
// the given page size.
func DefaultFileHeader(pageSize uint32) FileHeader {
	return FileHeader{
		PageSize:           pageSize,
		WriteVersion:       1, // rollback-journal legacy mode by default
		ReadVersion:        1,
		MaxEmbeddedFrac:    64,
		MinEmbeddedFrac:    32,
		LeafPayloadFrac:    32,
		DatabaseSizePages:  1,
		SchemaCookie:       0,
		SchemaFormatNumber: 4,
		DefaultCacheSize:   0,
		TextEncoding:       EncUTF8,
		SQLiteVersionNumber: 3045000,
	}
}

// MarshalFileHeader writes h into the first FileHeaderSize bytes of page
// (page must be a full page-1 buffer, >= FileHeaderSize bytes).
func MarshalFileHeader(h *FileHeader, page []byte) {
	copy(page[0:16], magicString)
	ps := h.PageSize
	if ps >= 65536 {
		ps = 1 // 1 encodes 65536 on disk
	}
	binary.BigEndian.PutUint16(page[16:18], uint16(ps))
	page[18] = h.WriteVersion
	page[19] = h.ReadVersion
	page[20] = h.ReservedPerPage
	page[21] = h.MaxEmbeddedFrac
	page[22] = h.MinEmbeddedFrac
	page[23] = h.LeafPayloadFrac
	binary.BigEndian.PutUint32(page[24:28], h.FileChangeCounter)
	binary.BigEndian.PutUint32(page[28:32], h.DatabaseSizePages)
	binary.BigEndian.PutUint32(page[32:36], h.FirstFreelistTrunk)
	binary.BigEndian.PutUint32(page[36:40], h.FreelistCount)
	binary.BigEndian.PutUint32(page[40:44], h.SchemaCookie)
	binary.BigEndian.PutUint32(page[44:48], h.SchemaFormatNumber)
	binary.BigEndian.PutUint32(page[48:52], h.DefaultCacheSize)
	binary.BigEndian.PutUint32(page[52:56], h.LargestRootPage)
	binary.BigEndian.PutUint32(page[56:60], uint32(h.TextEncoding))
	binary.BigEndian.PutUint32(page[60:64], h.UserVersion)
	binary.BigEndian.PutUint32(page[64:68], h.IncrementalVacuum)
	binary.BigEndian.PutUint32(page[68:72], h.ApplicationID)
	for i := 72; i < 92; i++ {
		page[i] = 0 // 20 reserved bytes, zero-filled
	}
	binary.BigEndian.PutUint32(page[92:96], h.VersionValidFor)
	binary.BigEndian.PutUint32(page[96:100], h.SQLiteVersionNumber)
}

// UnmarshalFileHeader parses the first FileHeaderSize bytes of page 1.
func UnmarshalFileHeader(page []byte) (FileHeader, error) {
	if len(page) < FileHeaderSize {
		return FileHeader{}, fmt.Errorf("pager: page too small for file header: %d bytes", len(page))
	}
	if string(page[0:16]) != magicString {
		return FileHeader{}, fmt.Errorf("pager: bad magic %q", page[0:16])
	}
	ps := uint32(binary.BigEndian.Uint16(page[16:18]))
	if ps == 1 {
		ps = 65536
	}
	h := FileHeader{
		PageSize:            ps,
		WriteVersion:        page[18],
		ReadVersion:         page[19],
		ReservedPerPage:     page[20],
		MaxEmbeddedFrac:     page[21],
		MinEmbeddedFrac:     page[22],
		LeafPayloadFrac:     page[23],
		FileChangeCounter:   binary.BigEndian.Uint32(page[24:28]),
		DatabaseSizePages:   binary.BigEndian.Uint32(page[28:32]),
		FirstFreelistTrunk:  binary.BigEndian.Uint32(page[32:36]),
		FreelistCount:       binary.BigEndian.Uint32(page[36:40]),
		SchemaCookie:        binary.BigEndian.Uint32(page[40:44]),
		SchemaFormatNumber:  binary.BigEndian.Uint32(page[44:48]),
		DefaultCacheSize:    binary.BigEndian.Uint32(page[48:52]),
		LargestRootPage:     binary.BigEndian.Uint32(page[52:56]),
		TextEncoding:        TextEncoding(binary.BigEndian.Uint32(page[56:60])),
		UserVersion:         binary.BigEndian.Uint32(page[60:64]),
		IncrementalVacuum:   binary.BigEndian.Uint32(page[64:68]),
		ApplicationID:       binary.BigEndian.Uint32(page[68:72]),
		VersionValidFor:     binary.BigEndian.Uint32(page[92:96]),
		SQLiteVersionNumber: binary.BigEndian.Uint32(page[96:100]),
	}
	if ps < MinPageSize || ps > MaxPageSize || ps&(ps-1) != 0 {
		return FileHeader{}, fmt.Errorf("pager: invalid page size %d", ps)
	}
	return h, nil
}

// UsableSize returns the page size minus the reserved-per-page bytes that
// the B-tree layer must leave untouched at the end of every page.
func (h FileHeader) UsableSize() int {
	return int(h.PageSize) - int(h.ReservedPerPage)
}
