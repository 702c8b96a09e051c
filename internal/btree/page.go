// Package btree implements the table and index B-trees that sit on top of
// internal/pager: SQLite-compatible page layout, cursors, insert with page
// splits, delete (underfull pages are not merged), overflow chains, and
// the free-list (spec.md §4.5).
package btree

import (
	"encoding/binary"
	"fmt"

	"github.com/SimonWaldherr/tinySQL/internal/pager"
	"github.com/SimonWaldherr/tinySQL/internal/record"
)

// PageType identifies one of the four B-tree page kinds by its header's
// first byte (spec.md §4.5/§6).
type PageType byte

const (
	TypeTableInterior PageType = 0x05
	TypeTableLeaf      PageType = 0x0d
	TypeIndexInterior PageType = 0x02
	TypeIndexLeaf      PageType = 0x0a
)

func (t PageType) IsLeaf() bool     { return t == TypeTableLeaf || t == TypeIndexLeaf }
func (t PageType) IsInterior() bool { return t == TypeTableInterior || t == TypeIndexInterior }
func (t PageType) IsTable() bool    { return t == TypeTableInterior || t == TypeTableLeaf }
func (t PageType) IsIndex() bool    { return t == TypeIndexInterior || t == TypeIndexLeaf }

// Page-header field sizes. Table/index leaf headers are 8 bytes; interior
// headers add a 4-byte right-most-child pointer, for 12.
const (
	leafHeaderSize     = 8
	interiorHeaderSize = 12
	cellPointerSize    = 2
)

// headerOffset is 0 on every page except page 1, which reserves the first
// 100 bytes of the page for the file header (spec.md §6).
func headerOffset(pageNo pager.PageID) int {
	if pageNo == 1 {
		return pager.FileHeaderSize
	}
	return 0
}

// Page wraps a raw page buffer as a B-tree node, giving structured access
// to its cell-pointer array and cell-content area (spec.md §4.5 "Page").
//
// Layout, following the teacher's slotted-page convention of a pointer
// array that grows from just after the header while cell content is
// appended from the end of the usable page backward:
//
//	[hdrOff : hdrOff+hdrSize]              page header
//	[hdrOff+hdrSize : ...]                 cell pointer array, cellCount * u16
//	[... : usableSize]                     free space
//	[cellContentStart : usableSize]        cell content, most recent first
type Page struct {
	buf         []byte
	usableSize  int
	hdrOff      int
	pageNo      pager.PageID
}

// NewPage initializes buf as a fresh page of the given type.
func NewPage(buf []byte, pageNo pager.PageID, usableSize int, typ PageType) *Page {
	p := &Page{buf: buf, usableSize: usableSize, hdrOff: headerOffset(pageNo), pageNo: pageNo}
	p.buf[p.hdrOff] = byte(typ)
	binary.BigEndian.PutUint16(p.buf[p.hdrOff+1:], 0) // first freeblock
	binary.BigEndian.PutUint16(p.buf[p.hdrOff+3:], 0) // cell count
	p.setContentStart(usableSize)
	p.buf[p.hdrOff+7] = 0 // fragmented free bytes
	if typ.IsInterior() {
		p.SetRightChild(pager.InvalidPageID)
	}
	return p
}

// WrapPage interprets an existing page buffer as a B-tree node.
func WrapPage(buf []byte, pageNo pager.PageID, usableSize int) *Page {
	return &Page{buf: buf, usableSize: usableSize, hdrOff: headerOffset(pageNo), pageNo: pageNo}
}

func (p *Page) Type() PageType   { return PageType(p.buf[p.hdrOff]) }
func (p *Page) PageNo() pager.PageID { return p.pageNo }
func (p *Page) Bytes() []byte    { return p.buf }

func (p *Page) headerSize() int {
	if p.Type().IsInterior() {
		return interiorHeaderSize
	}
	return leafHeaderSize
}

func (p *Page) CellCount() int {
	return int(binary.BigEndian.Uint16(p.buf[p.hdrOff+3:]))
}

func (p *Page) setCellCount(n int) {
	binary.BigEndian.PutUint16(p.buf[p.hdrOff+3:], uint16(n))
}

func (p *Page) contentStart() int {
	v := binary.BigEndian.Uint16(p.buf[p.hdrOff+5:])
	if v == 0 {
		return 65536 // encodes usableSize==65536 case
	}
	return int(v)
}

func (p *Page) setContentStart(off int) {
	if off >= 65536 {
		off = 0
	}
	binary.BigEndian.PutUint16(p.buf[p.hdrOff+5:], uint16(off))
}

func (p *Page) RightChild() pager.PageID {
	return pager.PageID(binary.BigEndian.Uint32(p.buf[p.hdrOff+8:]))
}

func (p *Page) SetRightChild(id pager.PageID) {
	binary.BigEndian.PutUint32(p.buf[p.hdrOff+8:], uint32(id))
}

func (p *Page) cellPtrArrayOff() int {
	return p.hdrOff + p.headerSize()
}

func (p *Page) cellOffset(i int) int {
	off := p.cellPtrArrayOff() + i*cellPointerSize
	return int(binary.BigEndian.Uint16(p.buf[off:]))
}

func (p *Page) setCellOffset(i int, off int) {
	at := p.cellPtrArrayOff() + i*cellPointerSize
	binary.BigEndian.PutUint16(p.buf[at:], uint16(off))
}

// FreeSpace returns the number of contiguous bytes available between the
// end of the cell pointer array and the start of cell content. This
// implementation ignores freeblocks: bytes vacated by deleted cells are not
// tracked, and come back only when a split rebuilds the page; see
// DESIGN.md for that simplification.
func (p *Page) FreeSpace() int {
	arrayEnd := p.cellPtrArrayOff() + p.CellCount()*cellPointerSize
	return p.contentStart() - arrayEnd
}

// Cell is the decoded form of one cell, generic across the four page
// kinds; unused fields are zero for kinds that don't carry them.
type Cell struct {
	LeftChild   pager.PageID // table/index interior only
	RowID       int64        // table cells only
	Payload     []byte       // full logical payload (record or index key)
	Overflow    pager.PageID // 0 if payload fits inline
	PayloadSize int          // total logical payload size (== len(Payload) when no overflow)
}

// GetCell decodes the i-th cell according to the page's type.
func (p *Page) GetCell(i int) (Cell, error) {
	if i < 0 || i >= p.CellCount() {
		return Cell{}, fmt.Errorf("btree: cell index %d out of range (count %d)", i, p.CellCount())
	}
	off := p.cellOffset(i)
	buf := p.buf[off:]
	switch p.Type() {
	case TypeTableInterior:
		child := pager.PageID(binary.BigEndian.Uint32(buf))
		key, _ := record.GetVarint(buf[4:])
		return Cell{LeftChild: child, RowID: int64(key)}, nil
	case TypeTableLeaf:
		n, nn := record.GetVarint(buf)
		rowid, rn := record.GetVarint(buf[nn:])
		hdrLen := nn + rn
		return p.decodePayloadCell(buf[hdrLen:], int(n), int64(rowid), 0)
	case TypeIndexInterior:
		child := pager.PageID(binary.BigEndian.Uint32(buf))
		n, nn := record.GetVarint(buf[4:])
		return p.decodePayloadCell(buf[4+nn:], int(n), 0, child)
	case TypeIndexLeaf:
		n, nn := record.GetVarint(buf)
		return p.decodePayloadCell(buf[nn:], int(n), 0, 0)
	default:
		return Cell{}, fmt.Errorf("btree: unknown page type %#x", p.Type())
	}
}

func (p *Page) decodePayloadCell(rest []byte, totalSize int, rowid int64, leftChild pager.PageID) (Cell, error) {
	localMax := p.maxLocal()
	if totalSize <= localMax {
		return Cell{RowID: rowid, LeftChild: leftChild, Payload: append([]byte(nil), rest[:totalSize]...), PayloadSize: totalSize}, nil
	}
	local := p.localPayloadSize(totalSize)
	ovf := pager.PageID(binary.BigEndian.Uint32(rest[local:]))
	return Cell{
		RowID:       rowid,
		LeftChild:   leftChild,
		Payload:     append([]byte(nil), rest[:local]...),
		Overflow:    ovf,
		PayloadSize: totalSize,
	}, nil
}

// maxLocal is the largest payload size (usable-35) storable entirely on
// the page without an overflow chain; a larger payload overflows.
func (p *Page) maxLocal() int {
	return p.usableSize - 35
}

// localPayloadSize returns how much of a payload is kept inline: all of it
// when it fits under maxLocal, otherwise the prefix length given by the
// spec.md §4.5 formula L = ((usable-35)*64/255) - 23, stored before the
// chain pointer.
func (p *Page) localPayloadSize(totalSize int) int {
	u := p.usableSize
	L := ((u-35)*64)/255 - 23
	if totalSize <= p.maxLocal() {
		return totalSize
	}
	if L < 0 {
		L = 0
	}
	return L
}

// EncodeTableInteriorCell builds the wire bytes for a table interior cell.
func EncodeTableInteriorCell(child pager.PageID, key int64) []byte {
	buf := make([]byte, 4+9)
	binary.BigEndian.PutUint32(buf[0:4], uint32(child))
	n := record.PutVarint(buf[4:], uint64(key))
	return buf[:4+n]
}

// EncodeTableLeafCell builds the wire bytes for a table leaf cell, given
// the (possibly already-truncated-for-overflow) local payload and an
// overflow page id (0 if the whole payload is inline).
func EncodeTableLeafCell(rowid int64, totalSize int, localPayload []byte, overflow pager.PageID) []byte {
	head := make([]byte, 18)
	n1 := record.PutVarint(head, uint64(totalSize))
	n2 := record.PutVarint(head[n1:], uint64(rowid))
	hdr := head[:n1+n2]
	if overflow == pager.InvalidPageID {
		out := make([]byte, len(hdr)+len(localPayload))
		copy(out, hdr)
		copy(out[len(hdr):], localPayload)
		return out
	}
	out := make([]byte, len(hdr)+len(localPayload)+4)
	copy(out, hdr)
	copy(out[len(hdr):], localPayload)
	binary.BigEndian.PutUint32(out[len(hdr)+len(localPayload):], uint32(overflow))
	return out
}

// EncodeIndexLeafCell builds the wire bytes for an index leaf cell.
func EncodeIndexLeafCell(totalSize int, localPayload []byte, overflow pager.PageID) []byte {
	head := make([]byte, 9)
	n := record.PutVarint(head, uint64(totalSize))
	hdr := head[:n]
	if overflow == pager.InvalidPageID {
		out := make([]byte, len(hdr)+len(localPayload))
		copy(out, hdr)
		copy(out[len(hdr):], localPayload)
		return out
	}
	out := make([]byte, len(hdr)+len(localPayload)+4)
	copy(out, hdr)
	copy(out[len(hdr):], localPayload)
	binary.BigEndian.PutUint32(out[len(hdr)+len(localPayload):], uint32(overflow))
	return out
}

// EncodeIndexInteriorCell builds the wire bytes for an index interior cell.
func EncodeIndexInteriorCell(child pager.PageID, totalSize int, localPayload []byte, overflow pager.PageID) []byte {
	rest := EncodeIndexLeafCell(totalSize, localPayload, overflow)
	out := make([]byte, 4+len(rest))
	binary.BigEndian.PutUint32(out[0:4], uint32(child))
	copy(out[4:], rest)
	return out
}

// LocalPayloadSize exposes localPayloadSize for callers building cells
// before they have a Page wrapper.
func LocalPayloadSize(usableSize, totalSize int) int {
	p := &Page{usableSize: usableSize}
	return p.localPayloadSize(totalSize)
}

// MaxLocal exposes maxLocal for callers deciding whether a payload needs
// an overflow chain at all.
func MaxLocal(usableSize int) int {
	return usableSize - 35
}

// InsertCellAt inserts raw cell bytes at slot index pos, shifting later
// pointers right, rewriting the cell-pointer array and cell-content area.
// The caller is responsible for finding pos via sorted key comparison.
func (p *Page) InsertCellAt(pos int, data []byte) error {
	if p.FreeSpace() < len(data)+cellPointerSize {
		return fmt.Errorf("btree: page full: need %d, have %d", len(data)+cellPointerSize, p.FreeSpace())
	}
	newStart := p.contentStart() - len(data)
	copy(p.buf[newStart:], data)
	p.setContentStart(newStart)

	n := p.CellCount()
	for i := n; i > pos; i-- {
		p.setCellOffset(i, p.cellOffset(i-1))
	}
	p.setCellOffset(pos, newStart)
	p.setCellCount(n + 1)
	return nil
}

// DeleteCellAt removes the cell at slot index pos from the pointer array.
// It does not reclaim the vacated content bytes; only Rebuild does.
func (p *Page) DeleteCellAt(pos int) {
	n := p.CellCount()
	for i := pos; i < n-1; i++ {
		p.setCellOffset(i, p.cellOffset(i+1))
	}
	p.setCellCount(n - 1)
}

// Rebuild compacts the page: re-encodes every surviving cell tightly
// against the end of the page, eliminating fragmentation left by deletes
// and in-place shrinking updates.
func (p *Page) Rebuild(cellBytes [][]byte, rightChild pager.PageID) {
	typ := p.Type()
	for i := range p.buf {
		p.buf[i] = 0
	}
	p.buf[p.hdrOff] = byte(typ)
	p.setCellCount(0)
	p.setContentStart(p.usableSize)
	if typ.IsInterior() {
		p.SetRightChild(rightChild)
	}
	for i, data := range cellBytes {
		if err := p.InsertCellAt(i, data); err != nil {
			panic(fmt.Sprintf("btree: rebuild overflowed a page that fit before: %v", err))
		}
	}
}
