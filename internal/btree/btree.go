package btree

import (
	"encoding/binary"
	"fmt"

	"github.com/SimonWaldherr/tinySQL/internal/pager"
	"github.com/SimonWaldherr/tinySQL/internal/record"
)

// BTree is one table or index tree rooted at a fixed page number (spec.md
// §4.5). The root's page number never changes across splits: growing the
// tree allocates two fresh pages for the split halves and rewrites the
// root in place as a new interior page, exactly as real SQLite does, so
// that callers (internal/schema's catalog) never need to update a stored
// root-page reference after a split.
type BTree struct {
	p       *pager.Pager
	root    pager.PageID
	isTable bool
	ki      *record.KeyInfo
}

// CreateTableTree allocates a fresh table leaf page and returns a tree
// rooted on it.
func CreateTableTree(p *pager.Pager) (*BTree, pager.PageID, error) {
	root, err := allocPage(p, TypeTableLeaf)
	if err != nil {
		return nil, 0, err
	}
	return &BTree{p: p, root: root, isTable: true}, root, nil
}

// OpenTableTree wraps an existing table tree rooted at root.
func OpenTableTree(p *pager.Pager, root pager.PageID) *BTree {
	return &BTree{p: p, root: root, isTable: true}
}

// CreateIndexTree allocates a fresh index leaf page and returns a tree
// rooted on it, comparing keys with ki.
func CreateIndexTree(p *pager.Pager, ki *record.KeyInfo) (*BTree, pager.PageID, error) {
	root, err := allocPage(p, TypeIndexLeaf)
	if err != nil {
		return nil, 0, err
	}
	return &BTree{p: p, root: root, ki: ki}, root, nil
}

// OpenIndexTree wraps an existing index tree rooted at root.
func OpenIndexTree(p *pager.Pager, root pager.PageID, ki *record.KeyInfo) *BTree {
	return &BTree{p: p, root: root, ki: ki}
}

func (t *BTree) Root() pager.PageID { return t.root }

// NewCursor returns a cursor over this tree, positioned invalid until
// First/Last/SeekTable/SeekIndex is called.
func (t *BTree) NewCursor() *Cursor { return newCursor(t) }

func (t *BTree) usableSize() int { return t.p.Header().UsableSize() }

func (t *BTree) loadPage(id pager.PageID) (*Page, error) {
	buf, err := t.p.Get(id)
	if err != nil {
		return nil, err
	}
	return WrapPage(buf, id, t.usableSize()), nil
}

// fullPayload reconstructs the cell's whole logical payload, following the
// overflow chain for the part that didn't fit inline.
func (t *BTree) fullPayload(page *Page, idx int) ([]byte, error) {
	cell, err := page.GetCell(idx)
	if err != nil {
		return nil, err
	}
	if cell.Overflow == pager.InvalidPageID || len(cell.Payload) == cell.PayloadSize {
		return cell.Payload, nil
	}
	remaining := cell.PayloadSize - len(cell.Payload)
	rest, err := ReadOverflow(t.p, cell.Overflow, remaining, t.usableSize())
	if err != nil {
		return nil, err
	}
	out := make([]byte, 0, cell.PayloadSize)
	out = append(out, cell.Payload...)
	out = append(out, rest...)
	return out, nil
}

// allocPage grabs a page off the free-list (or grows the file) and
// initializes it as an empty page of typ.
func allocPage(p *pager.Pager, typ PageType) (pager.PageID, error) {
	id, err := NewFreeList(p).Allocate()
	if err != nil {
		return 0, err
	}
	buf, err := p.Get(id)
	if err != nil {
		return 0, err
	}
	if err := p.MarkDirty(id); err != nil {
		return 0, err
	}
	NewPage(buf, id, p.Header().UsableSize(), typ)
	if err := p.Write(id, buf); err != nil {
		return 0, err
	}
	p.Release(id)
	return id, nil
}

// mutatePage fetches id, marks it dirty (snapshotting its pre-image for
// journal/savepoint purposes), lets fn edit the wrapped page in place, and
// writes the result back.
func (t *BTree) mutatePage(id pager.PageID, fn func(*Page) error) error {
	buf, err := t.p.Get(id)
	if err != nil {
		return err
	}
	defer t.p.Release(id)
	if err := t.p.MarkDirty(id); err != nil {
		return err
	}
	page := WrapPage(buf, id, t.usableSize())
	if err := fn(page); err != nil {
		return err
	}
	return t.p.Write(id, buf)
}

func (t *BTree) encodeCell(typ PageType, c Cell) []byte {
	switch typ {
	case TypeTableLeaf:
		return EncodeTableLeafCell(c.RowID, c.PayloadSize, c.Payload, c.Overflow)
	case TypeTableInterior:
		return EncodeTableInteriorCell(c.LeftChild, c.RowID)
	case TypeIndexLeaf:
		return EncodeIndexLeafCell(c.PayloadSize, c.Payload, c.Overflow)
	case TypeIndexInterior:
		return EncodeIndexInteriorCell(c.LeftChild, c.PayloadSize, c.Payload, c.Overflow)
	default:
		return nil
	}
}

func (t *BTree) rebuildPage(id pager.PageID, typ PageType, cells []Cell, rightChild pager.PageID) error {
	raw := make([][]byte, len(cells))
	for i, c := range cells {
		raw[i] = t.encodeCell(typ, c)
	}
	return t.mutatePage(id, func(page *Page) error {
		page.Rebuild(raw, rightChild)
		return nil
	})
}

// gatherWithInsert reads every existing cell of page id, splicing in
// extra at position insertIdx, returning the merged slice plus the page's
// type and (for interior pages) its right-child pointer.
func (t *BTree) gatherWithInsert(id pager.PageID, insertIdx int, extra Cell) ([]Cell, PageType, pager.PageID, error) {
	page, err := t.loadPage(id)
	if err != nil {
		return nil, 0, 0, err
	}
	typ := page.Type()
	n := page.CellCount()
	cells := make([]Cell, 0, n+1)
	for i := 0; i < n; i++ {
		if i == insertIdx {
			cells = append(cells, extra)
		}
		c, gerr := page.GetCell(i)
		if gerr != nil {
			t.p.Release(id)
			return nil, 0, 0, gerr
		}
		cells = append(cells, c)
	}
	if insertIdx >= n {
		cells = append(cells, extra)
	}
	origRight := pager.InvalidPageID
	if typ.IsInterior() {
		origRight = page.RightChild()
	}
	t.p.Release(id)
	return cells, typ, origRight, nil
}

// splitHalves divides cells into a left and right half, promoting (for
// interior pages) or copying (for leaf pages) the boundary key as the
// separator to route from the parent (spec.md §4.5 page split).
func splitHalves(cells []Cell, typ PageType, origRight pager.PageID) (left, right []Cell, leftRight pager.PageID, rightRight pager.PageID, sep Cell) {
	mid := len(cells) / 2
	left = append([]Cell(nil), cells[:mid]...)
	right = append([]Cell(nil), cells[mid:]...)
	rightRight = origRight
	leftRight = pager.InvalidPageID
	if typ.IsInterior() {
		boundary := left[len(left)-1]
		left = left[:len(left)-1]
		leftRight = boundary.LeftChild
		sep = Cell{RowID: boundary.RowID, Payload: boundary.Payload, Overflow: boundary.Overflow, PayloadSize: boundary.PayloadSize}
	} else {
		first := right[0]
		sep = Cell{RowID: first.RowID, Payload: first.Payload, Overflow: first.Overflow, PayloadSize: first.PayloadSize}
	}
	return
}

// splitRoot handles the case where the tree's root page itself overflows:
// its content (plus the new cell) is divided across two freshly allocated
// pages, and the root page is rewritten in place as a new interior page
// pointing at both, keeping the root's page number stable.
func (t *BTree) splitRoot(rootID pager.PageID, insertIdx int, newCell Cell) error {
	cells, typ, origRight, err := t.gatherWithInsert(rootID, insertIdx, newCell)
	if err != nil {
		return err
	}
	left, right, leftRight, rightRight, sep := splitHalves(cells, typ, origRight)

	leftID, err := allocPage(t.p, typ)
	if err != nil {
		return err
	}
	rightID, err := allocPage(t.p, typ)
	if err != nil {
		return err
	}
	if err := t.rebuildPage(leftID, typ, left, leftRight); err != nil {
		return err
	}
	if err := t.rebuildPage(rightID, typ, right, rightRight); err != nil {
		return err
	}

	newRootType := TypeTableInterior
	if typ.IsIndex() {
		newRootType = TypeIndexInterior
	}
	sep.LeftChild = leftID
	return t.rebuildPage(rootID, newRootType, []Cell{sep}, rightID)
}

// splitNonRoot splits a non-root page, leaving the left half in place
// (pageID keeps its identity) and allocating a new page for the right
// half. It returns the separator cell (already carrying LeftChild=pageID)
// that the caller must link into the parent at the same slot pageID used
// to occupy.
func (t *BTree) splitNonRoot(pageID pager.PageID, insertIdx int, newCell Cell) (Cell, pager.PageID, error) {
	cells, typ, origRight, err := t.gatherWithInsert(pageID, insertIdx, newCell)
	if err != nil {
		return Cell{}, 0, err
	}
	left, right, leftRight, rightRight, sep := splitHalves(cells, typ, origRight)

	rightID, err := allocPage(t.p, typ)
	if err != nil {
		return Cell{}, 0, err
	}
	if err := t.rebuildPage(pageID, typ, left, leftRight); err != nil {
		return Cell{}, 0, err
	}
	if err := t.rebuildPage(rightID, typ, right, rightRight); err != nil {
		return Cell{}, 0, err
	}
	sep.LeftChild = pageID
	return sep, rightID, nil
}

// repointParentChild rewrites the child pointer at slot idx (a regular
// cell's LeftChild, or the page's right-most-child pointer when idx is
// the cell count) to newChild, without touching cell byte layout.
func (t *BTree) repointParentChild(parentID pager.PageID, idx int, newChild pager.PageID) error {
	return t.mutatePage(parentID, func(page *Page) error {
		if idx >= page.CellCount() {
			page.SetRightChild(newChild)
			return nil
		}
		off := page.cellOffset(idx)
		switch page.Type() {
		case TypeTableInterior, TypeIndexInterior:
			binary.BigEndian.PutUint32(page.buf[off:], uint32(newChild))
		default:
			return fmt.Errorf("btree: repoint on non-interior page")
		}
		return nil
	})
}

// insertAt inserts cell at slot idx on the page at stack depth d, splitting
// that page (and recursing into the parent to link the split) when it
// doesn't fit.
func (t *BTree) insertAt(c *Cursor, depth, idx int, cell Cell) error {
	entry := c.stack[depth]
	page, err := t.loadPage(entry.pageNo)
	if err != nil {
		return err
	}
	typ := page.Type()
	raw := t.encodeCell(typ, cell)
	fits := page.FreeSpace() >= len(raw)+cellPointerSize
	t.p.Release(entry.pageNo)
	if fits {
		return t.mutatePage(entry.pageNo, func(p *Page) error {
			return p.InsertCellAt(idx, raw)
		})
	}
	if depth == 0 {
		return t.splitRoot(entry.pageNo, idx, cell)
	}
	sep, rightID, err := t.splitNonRoot(entry.pageNo, idx, cell)
	if err != nil {
		return err
	}
	parentIdx := c.stack[depth-1].idx
	if err := t.repointParentChild(c.stack[depth-1].pageNo, parentIdx, rightID); err != nil {
		return err
	}
	return t.insertAt(c, depth-1, parentIdx, sep)
}

// replaceCellAt deletes the cell currently at the cursor and reinserts
// cell in its place, used for table UPDATE-by-rowid.
func (t *BTree) replaceCellAt(c *Cursor, cell Cell) error {
	depth := len(c.stack) - 1
	entry := c.stack[depth]
	if err := t.mutatePage(entry.pageNo, func(page *Page) error {
		page.DeleteCellAt(entry.idx)
		return nil
	}); err != nil {
		return err
	}
	return t.insertAt(c, depth, entry.idx, cell)
}

// splitOverflow decides, for a payload of the tree's usable page size, how
// much stays inline versus moves to an overflow chain (spec.md §4.5).
func (t *BTree) splitOverflow(payload []byte) (local, overflow []byte) {
	max := MaxLocal(t.usableSize())
	if len(payload) <= max {
		return payload, nil
	}
	l := LocalPayloadSize(t.usableSize(), len(payload))
	return payload[:l], payload[l:]
}

// InsertTable inserts or overwrites the row with the given rowid.
func (t *BTree) InsertTable(rowid int64, payload []byte) error {
	return t.InsertTableWithCursor(t.NewCursor(), rowid, payload)
}

// InsertTableWithCursor is InsertTable using a caller-supplied cursor
// instead of a fresh one per call. A bulk loader that sets the cursor's
// bulkload flag and keeps reusing the same Cursor across an entire
// ascending-rowid load avoids paying a new Cursor allocation per row
// (spec.md §3 cursor "bulkload" flag, internal/bulkload). The flag does
// not change the insert itself: every call still seeks from the root.
func (t *BTree) InsertTableWithCursor(c *Cursor, rowid int64, payload []byte) error {
	found, err := c.SeekTable(rowid)
	if err != nil {
		return err
	}
	local, overflow := t.splitOverflow(payload)
	var ovf pager.PageID
	if len(overflow) > 0 {
		if ovf, err = WriteOverflow(t.p, overflow, t.usableSize()); err != nil {
			return err
		}
	}
	cell := Cell{RowID: rowid, Payload: local, Overflow: ovf, PayloadSize: len(payload)}
	depth := len(c.stack) - 1
	if found {
		return t.replaceCellAt(c, cell)
	}
	return t.insertAt(c, depth, c.stack[depth].idx, cell)
}

// InsertIndexKey inserts a new index entry; the caller is responsible for
// composing key as the encoded index-column record (with the owning
// table's rowid appended as the final field for uniqueness, per spec.md
// §4.6 index-key composition), and decoded as its already-decoded form for
// comparison during descent.
func (t *BTree) InsertIndexKey(key []byte, decoded []record.Value) error {
	c := t.NewCursor()
	found, err := c.SeekIndex(key, decoded, t.ki)
	if err != nil {
		return err
	}
	if found {
		return fmt.Errorf("btree: duplicate index key")
	}
	local, overflow := t.splitOverflow(key)
	var ovf pager.PageID
	if len(overflow) > 0 {
		if ovf, err = WriteOverflow(t.p, overflow, t.usableSize()); err != nil {
			return err
		}
	}
	cell := Cell{Payload: local, Overflow: ovf, PayloadSize: len(key)}
	depth := len(c.stack) - 1
	return t.insertAt(c, depth, c.stack[depth].idx, cell)
}

// DeleteTable removes the row with the given rowid.
func (t *BTree) DeleteTable(rowid int64) error {
	c := t.NewCursor()
	found, err := c.SeekTable(rowid)
	if err != nil {
		return err
	}
	if !found {
		return fmt.Errorf("btree: rowid %d not found", rowid)
	}
	return t.deleteAtCursor(c)
}

// DeleteIndexKey removes a matching index entry.
func (t *BTree) DeleteIndexKey(key []byte, decoded []record.Value) error {
	c := t.NewCursor()
	found, err := c.SeekIndex(key, decoded, t.ki)
	if err != nil {
		return err
	}
	if !found {
		return fmt.Errorf("btree: index key not found")
	}
	return t.deleteAtCursor(c)
}

// deleteAtCursor removes the cell the cursor currently sits on, freeing
// its overflow chain if any. Underfull leaves are not merged with
// siblings after a delete (documented simplification, DESIGN.md): space
// is reclaimed lazily the next time a neighboring page splits and the
// freelist hands out a page, not proactively by rebalancing.
func (t *BTree) deleteAtCursor(c *Cursor) error {
	depth := len(c.stack) - 1
	entry := c.stack[depth]
	page, err := t.loadPage(entry.pageNo)
	if err != nil {
		return err
	}
	cell, err := page.GetCell(entry.idx)
	t.p.Release(entry.pageNo)
	if err != nil {
		return err
	}
	if cell.Overflow != pager.InvalidPageID {
		ids, ferr := FreeOverflowChain(t.p, cell.Overflow)
		if ferr != nil {
			return ferr
		}
		fl := NewFreeList(t.p)
		for _, id := range ids {
			if err := fl.Push(id); err != nil {
				return err
			}
		}
	}
	return t.mutatePage(entry.pageNo, func(page *Page) error {
		page.DeleteCellAt(entry.idx)
		return nil
	})
}
