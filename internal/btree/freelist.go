package btree

import (
	"encoding/binary"

	"github.com/SimonWaldherr/tinySQL/internal/pager"
)

// Free-list trunk page layout (spec.md §4.5 "Freelist"):
//
//	[0:4]   next trunk page id, 0 = end of chain
//	[4:8]   leaf count on this trunk
//	[8:8+4*n] leaf page ids
//
// Trunk pages carry no B-tree page header; they are addressed only via
// the file header's FirstFreelistTrunk field and FreelistCount.
const (
	trunkNextOff  = 0
	trunkCountOff = 4
	trunkDataOff  = 8
	trunkEntrySz  = 4
)

func trunkCapacity(pageSize int) int {
	return (pageSize - trunkDataOff) / trunkEntrySz
}

// FreeList manages the LIFO free-page pool for one database (spec.md §4.5:
// "LIFO freelist allocation"). It holds no cached state of its own: every
// operation reads the trunk pages through the pager.
type FreeList struct {
	p *pager.Pager
}

func NewFreeList(p *pager.Pager) *FreeList {
	return &FreeList{p: p}
}

// Pop returns a page id from the freelist and shrinks it by one entry, or
// InvalidPageID if the freelist is empty.
func (f *FreeList) Pop() (pager.PageID, error) {
	h := f.p.Header()
	if h.FreelistCount == 0 || h.FirstFreelistTrunk == pager.InvalidPageID {
		return pager.InvalidPageID, nil
	}
	trunkID := pager.PageID(h.FirstFreelistTrunk)
	buf, err := f.p.Get(trunkID)
	if err != nil {
		return 0, err
	}
	defer f.p.Release(trunkID)

	count := int(binary.BigEndian.Uint32(buf[trunkCountOff:]))
	if count > 0 {
		id := pager.PageID(binary.BigEndian.Uint32(buf[trunkDataOff+(count-1)*trunkEntrySz:]))
		if err := f.p.MarkDirty(trunkID); err != nil {
			return 0, err
		}
		newBuf := append([]byte(nil), buf...)
		binary.BigEndian.PutUint32(newBuf[trunkCountOff:], uint32(count-1))
		if err := f.p.Write(trunkID, newBuf); err != nil {
			return 0, err
		}
		f.p.UpdateFileHeader(func(h *pager.FileHeader) { h.FreelistCount-- })
		return id, nil
	}

	// Trunk itself is now empty: promote the next trunk, and the emptied
	// trunk page becomes the page we hand out.
	next := pager.PageID(binary.BigEndian.Uint32(buf[trunkNextOff:]))
	f.p.UpdateFileHeader(func(h *pager.FileHeader) {
		h.FirstFreelistTrunk = uint32(next)
		h.FreelistCount--
	})
	return trunkID, nil
}

// Push adds page id back onto the freelist, creating a new trunk page
// when the current head is full or absent.
func (f *FreeList) Push(id pager.PageID) error {
	h := f.p.Header()
	if h.FirstFreelistTrunk != pager.InvalidPageID {
		trunkID := pager.PageID(h.FirstFreelistTrunk)
		buf, err := f.p.Get(trunkID)
		if err != nil {
			return err
		}
		count := int(binary.BigEndian.Uint32(buf[trunkCountOff:]))
		if count < trunkCapacity(f.p.PageSize()) {
			if err := f.p.MarkDirty(trunkID); err != nil {
				f.p.Release(trunkID)
				return err
			}
			newBuf := append([]byte(nil), buf...)
			binary.BigEndian.PutUint32(newBuf[trunkDataOff+count*trunkEntrySz:], uint32(id))
			binary.BigEndian.PutUint32(newBuf[trunkCountOff:], uint32(count+1))
			if err := f.p.Write(trunkID, newBuf); err != nil {
				f.p.Release(trunkID)
				return err
			}
			f.p.Release(trunkID)
			f.p.UpdateFileHeader(func(h *pager.FileHeader) { h.FreelistCount++ })
			return nil
		}
		f.p.Release(trunkID)
	}

	// id itself becomes the new trunk head, pointing at the old head.
	if err := f.p.MarkDirty(id); err != nil {
		return err
	}
	buf := make([]byte, f.p.PageSize())
	binary.BigEndian.PutUint32(buf[trunkNextOff:], uint32(h.FirstFreelistTrunk))
	binary.BigEndian.PutUint32(buf[trunkCountOff:], 0)
	if err := f.p.Write(id, buf); err != nil {
		return err
	}
	f.p.UpdateFileHeader(func(h *pager.FileHeader) {
		h.FirstFreelistTrunk = uint32(id)
		h.FreelistCount++
	})
	return nil
}

// Allocate returns a page id ready for use: from the freelist if
// non-empty, otherwise a fresh page grown onto the end of the file.
func (f *FreeList) Allocate() (pager.PageID, error) {
	id, err := f.Pop()
	if err != nil {
		return 0, err
	}
	if id != pager.InvalidPageID {
		return id, nil
	}
	return f.p.Allocate()
}
