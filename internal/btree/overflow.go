package btree

import (
	"encoding/binary"

	"github.com/SimonWaldherr/tinySQL/internal/pager"
)

// Overflow chain layout (spec.md §4.5): the first 4 bytes of each overflow
// page hold the next page id in the chain (0 for the last page), followed
// by raw payload bytes filling the rest of the usable page size.

const overflowHeaderSize = 4

// WriteOverflow splits payload across as many overflow pages as needed,
// returning the first page id in the chain. pager.Allocate/MarkDirty/Write
// are used directly since overflow pages carry no B-tree page header.
func WriteOverflow(p *pager.Pager, payload []byte, usableSize int) (pager.PageID, error) {
	if len(payload) == 0 {
		return pager.InvalidPageID, nil
	}
	perPage := usableSize - overflowHeaderSize
	nPages := (len(payload) + perPage - 1) / perPage

	ids := make([]pager.PageID, nPages)
	for i := range ids {
		id, err := p.Allocate()
		if err != nil {
			return 0, err
		}
		ids[i] = id
	}
	for i, id := range ids {
		if err := p.MarkDirty(id); err != nil {
			return 0, err
		}
		buf := make([]byte, p.PageSize())
		next := pager.InvalidPageID
		if i+1 < len(ids) {
			next = ids[i+1]
		}
		binary.BigEndian.PutUint32(buf[0:4], uint32(next))
		start := i * perPage
		end := start + perPage
		if end > len(payload) {
			end = len(payload)
		}
		copy(buf[overflowHeaderSize:], payload[start:end])
		if err := p.Write(id, buf); err != nil {
			return 0, err
		}
	}
	return ids[0], nil
}

// ReadOverflow reconstructs the remainder of a payload (totalSize minus
// what was already read inline) by walking the chain starting at first.
func ReadOverflow(p *pager.Pager, first pager.PageID, remaining int, usableSize int) ([]byte, error) {
	out := make([]byte, 0, remaining)
	perPage := usableSize - overflowHeaderSize
	id := first
	for len(out) < remaining && id != pager.InvalidPageID {
		buf, err := p.Get(id)
		if err != nil {
			return nil, err
		}
		next := pager.PageID(binary.BigEndian.Uint32(buf[0:4]))
		want := remaining - len(out)
		if want > perPage {
			want = perPage
		}
		out = append(out, buf[overflowHeaderSize:overflowHeaderSize+want]...)
		p.Release(id)
		id = next
	}
	return out, nil
}

// FreeOverflowChain walks a chain releasing every page back to the pager.
// Callers must thread the freed ids onto the free-list (see freelist.go)
// rather than calling this directly when the database should reuse the
// space.
func FreeOverflowChain(p *pager.Pager, first pager.PageID) ([]pager.PageID, error) {
	var ids []pager.PageID
	id := first
	for id != pager.InvalidPageID {
		buf, err := p.Get(id)
		if err != nil {
			return ids, err
		}
		next := pager.PageID(binary.BigEndian.Uint32(buf[0:4]))
		p.Release(id)
		ids = append(ids, id)
		id = next
	}
	return ids, nil
}
