package btree

import (
	"github.com/SimonWaldherr/tinySQL/internal/pager"
	"github.com/SimonWaldherr/tinySQL/internal/record"
)

// CursorState mirrors the cursor life cycle spec.md §3 describes.
type CursorState int

const (
	StateInvalid CursorState = iota
	StateValid
	StateRequireSeek
	StateFault
)

type stackEntry struct {
	pageNo pager.PageID
	idx    int // cell index currently positioned at on this page
}

// Cursor walks one B-tree (table or index), keeping a descent stack from
// root to the current leaf so Next/Prev can climb back up on exhaustion
// (spec.md §3 Cursor, §4.5).
type Cursor struct {
	tree  *BTree
	state CursorState
	stack []stackEntry
	err   error

	// bulkload marks a cursor owned by a bulk loader (spec.md §3 cursor
	// "bulkload" flag). It is recorded only: no insert path reads it, and
	// InsertTableWithCursor still does a full descent+search per row.
	bulkload bool
}

func newCursor(t *BTree) *Cursor {
	return &Cursor{tree: t, state: StateInvalid}
}

func (c *Cursor) State() CursorState { return c.state }
func (c *Cursor) Err() error         { return c.err }

// SetBulkLoad sets the cursor's bulkload flag. Inserts through the cursor
// take the same path whether or not it is set.
func (c *Cursor) SetBulkLoad(v bool) { c.bulkload = v }

func (c *Cursor) fail(err error) {
	c.err = err
	c.state = StateFault
}

// First positions the cursor at the smallest key in the tree.
func (c *Cursor) First() (bool, error) {
	c.stack = c.stack[:0]
	pageNo := c.tree.root
	for {
		page, err := c.tree.loadPage(pageNo)
		if err != nil {
			c.fail(err)
			return false, err
		}
		c.stack = append(c.stack, stackEntry{pageNo: pageNo, idx: 0})
		c.tree.p.Release(pageNo)
		if page.Type().IsLeaf() {
			break
		}
		if page.CellCount() == 0 {
			pageNo = page.RightChild()
			continue
		}
		cell, err := page.GetCell(0)
		if err != nil {
			c.fail(err)
			return false, err
		}
		pageNo = cell.LeftChild
	}
	return c.settleAt(len(c.stack)-1, 0)
}

// Last positions the cursor at the largest key in the tree.
func (c *Cursor) Last() (bool, error) {
	c.stack = c.stack[:0]
	pageNo := c.tree.root
	for {
		page, err := c.tree.loadPage(pageNo)
		if err != nil {
			c.fail(err)
			return false, err
		}
		last := page.CellCount()
		c.tree.p.Release(pageNo)
		if page.Type().IsLeaf() {
			if last == 0 {
				c.stack = append(c.stack, stackEntry{pageNo: pageNo, idx: 0})
				c.state = StateInvalid
				return false, nil
			}
			c.stack = append(c.stack, stackEntry{pageNo: pageNo, idx: last - 1})
			break
		}
		c.stack = append(c.stack, stackEntry{pageNo: pageNo, idx: last})
		pageNo = page.RightChild()
	}
	return c.settleAt(len(c.stack)-1, c.stack[len(c.stack)-1].idx)
}

func (c *Cursor) settleAt(depth, idx int) (bool, error) {
	entry := c.stack[depth]
	page, err := c.tree.loadPage(entry.pageNo)
	if err != nil {
		c.fail(err)
		return false, err
	}
	defer c.tree.p.Release(entry.pageNo)
	if page.CellCount() == 0 {
		c.state = StateInvalid
		return false, nil
	}
	c.stack[depth].idx = idx
	c.state = StateValid
	return true, nil
}

// SeekTable descends to the table-tree leaf cell with the given rowid, or,
// when no cell has that rowid, to the position where it would be inserted.
func (c *Cursor) SeekTable(rowid int64) (found bool, err error) {
	c.stack = c.stack[:0]
	pageNo := c.tree.root
	for {
		page, err := c.tree.loadPage(pageNo)
		if err != nil {
			c.fail(err)
			return false, err
		}
		idx, exact := searchTablePage(page, rowid)
		c.stack = append(c.stack, stackEntry{pageNo: pageNo, idx: idx})
		if page.Type().IsLeaf() {
			c.tree.p.Release(pageNo)
			if exact {
				c.state = StateValid
				return true, nil
			}
			if idx >= page.CellCount() {
				c.state = StateInvalid
				return false, nil
			}
			c.state = StateValid
			return false, nil
		}
		var child pager.PageID
		if idx >= page.CellCount() {
			child = page.RightChild()
		} else {
			cell, cerr := page.GetCell(idx)
			if cerr != nil {
				c.tree.p.Release(pageNo)
				c.fail(cerr)
				return false, cerr
			}
			child = cell.LeftChild
		}
		c.tree.p.Release(pageNo)
		pageNo = child
	}
}

// searchTablePage returns the insertion index for rowid in a table page's
// cells (table interior separators are the max key of the left subtree).
func searchTablePage(page *Page, rowid int64) (int, bool) {
	lo, hi := 0, page.CellCount()
	for lo < hi {
		mid := (lo + hi) / 2
		cell, _ := page.GetCell(mid)
		if cell.RowID < rowid {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	if lo < page.CellCount() {
		cell, _ := page.GetCell(lo)
		if cell.RowID == rowid {
			return lo, true
		}
	}
	return lo, false
}

// SeekIndex descends to the index-tree leaf position for key, compared
// with ki, returning whether an exact match was found.
func (c *Cursor) SeekIndex(key []byte, decodedKey []record.Value, ki *record.KeyInfo) (found bool, err error) {
	c.stack = c.stack[:0]
	pageNo := c.tree.root
	for {
		page, err := c.tree.loadPage(pageNo)
		if err != nil {
			c.fail(err)
			return false, err
		}
		idx, exact, cerr := c.searchIndexPage(page, decodedKey, ki)
		if cerr != nil {
			c.tree.p.Release(pageNo)
			c.fail(cerr)
			return false, cerr
		}
		c.stack = append(c.stack, stackEntry{pageNo: pageNo, idx: idx})
		if page.Type().IsLeaf() {
			c.tree.p.Release(pageNo)
			c.state = StateValid
			if page.CellCount() == 0 {
				c.state = StateInvalid
			}
			return exact, nil
		}
		var child pager.PageID
		if idx >= page.CellCount() {
			child = page.RightChild()
		} else {
			cell, cerr := page.GetCell(idx)
			if cerr != nil {
				c.tree.p.Release(pageNo)
				c.fail(cerr)
				return false, cerr
			}
			child = cell.LeftChild
		}
		c.tree.p.Release(pageNo)
		pageNo = child
	}
}

func (c *Cursor) searchIndexPage(page *Page, decodedKey []record.Value, ki *record.KeyInfo) (int, bool, error) {
	lo, hi := 0, page.CellCount()
	for lo < hi {
		mid := (lo + hi) / 2
		payload, err := c.tree.fullPayload(page, mid)
		if err != nil {
			return 0, false, err
		}
		vals, err := record.Decode(payload)
		if err != nil {
			return 0, false, err
		}
		if record.CompareRecords(vals, decodedKey, ki) < 0 {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	if lo < page.CellCount() {
		payload, err := c.tree.fullPayload(page, lo)
		if err != nil {
			return 0, false, err
		}
		vals, err := record.Decode(payload)
		if err != nil {
			return 0, false, err
		}
		if record.CompareRecords(vals, decodedKey, ki) == 0 {
			return lo, true, nil
		}
	}
	return lo, false, nil
}

// Next advances the cursor to the following key in sorted order.
func (c *Cursor) Next() (bool, error) {
	if c.state != StateValid {
		return false, nil
	}
	depth := len(c.stack) - 1
	page, err := c.tree.loadPage(c.stack[depth].pageNo)
	if err != nil {
		c.fail(err)
		return false, err
	}
	c.stack[depth].idx++
	leafExhausted := c.stack[depth].idx >= page.CellCount()
	c.tree.p.Release(c.stack[depth].pageNo)
	if !leafExhausted {
		return true, nil
	}
	return c.climbAndDescendNext(depth)
}

func (c *Cursor) climbAndDescendNext(leafDepth int) (bool, error) {
	d := leafDepth - 1
	for d >= 0 {
		page, err := c.tree.loadPage(c.stack[d].pageNo)
		if err != nil {
			c.fail(err)
			return false, err
		}
		c.stack[d].idx++
		hasMore := c.stack[d].idx <= page.CellCount()
		c.tree.p.Release(c.stack[d].pageNo)
		if hasMore {
			c.stack = c.stack[:d+1]
			return c.descendLeftmost(d)
		}
		d--
	}
	c.state = StateInvalid
	return false, nil
}

func (c *Cursor) descendLeftmost(depth int) (bool, error) {
	for {
		entry := c.stack[depth]
		page, err := c.tree.loadPage(entry.pageNo)
		if err != nil {
			c.fail(err)
			return false, err
		}
		if page.Type().IsLeaf() {
			c.tree.p.Release(entry.pageNo)
			if entry.idx >= page.CellCount() {
				c.state = StateInvalid
				return false, nil
			}
			c.state = StateValid
			return true, nil
		}
		var child pager.PageID
		if entry.idx >= page.CellCount() {
			child = page.RightChild()
		} else {
			cell, cerr := page.GetCell(entry.idx)
			if cerr != nil {
				c.tree.p.Release(entry.pageNo)
				c.fail(cerr)
				return false, cerr
			}
			child = cell.LeftChild
		}
		c.tree.p.Release(entry.pageNo)
		depth++
		c.stack = append(c.stack[:depth], stackEntry{pageNo: child, idx: 0})
	}
}

// Prev moves the cursor to the preceding key in sorted order.
func (c *Cursor) Prev() (bool, error) {
	if c.state != StateValid {
		return false, nil
	}
	depth := len(c.stack) - 1
	if c.stack[depth].idx > 0 {
		c.stack[depth].idx--
		return true, nil
	}
	d := depth - 1
	for d >= 0 {
		if c.stack[d].idx > 0 {
			c.stack[d].idx--
			c.stack = c.stack[:d+1]
			return c.descendRightmost(d)
		}
		d--
	}
	c.state = StateInvalid
	return false, nil
}

func (c *Cursor) descendRightmost(depth int) (bool, error) {
	for {
		entry := c.stack[depth]
		page, err := c.tree.loadPage(entry.pageNo)
		if err != nil {
			c.fail(err)
			return false, err
		}
		if page.Type().IsLeaf() {
			n := page.CellCount()
			c.tree.p.Release(entry.pageNo)
			if n == 0 {
				c.state = StateInvalid
				return false, nil
			}
			c.stack[depth].idx = n - 1
			c.state = StateValid
			return true, nil
		}
		var child pager.PageID
		if entry.idx >= page.CellCount() {
			child = page.RightChild()
		} else {
			cell, cerr := page.GetCell(entry.idx)
			if cerr != nil {
				c.tree.p.Release(entry.pageNo)
				c.fail(cerr)
				return false, cerr
			}
			child = cell.LeftChild
		}
		c.tree.p.Release(entry.pageNo)
		depth++
		nextIdx := 0
		if nPage, err := c.tree.loadPage(child); err == nil {
			nextIdx = nPage.CellCount()
			c.tree.p.Release(child)
		}
		c.stack = append(c.stack[:depth], stackEntry{pageNo: child, idx: nextIdx})
	}
}

// Key returns the current table-tree rowid. Valid only for table cursors.
func (c *Cursor) Key() (int64, error) {
	entry := c.stack[len(c.stack)-1]
	page, err := c.tree.loadPage(entry.pageNo)
	if err != nil {
		return 0, err
	}
	defer c.tree.p.Release(entry.pageNo)
	cell, err := page.GetCell(entry.idx)
	if err != nil {
		return 0, err
	}
	return cell.RowID, nil
}

// Payload returns the current cell's full logical payload, following the
// overflow chain if needed.
func (c *Cursor) Payload() ([]byte, error) {
	entry := c.stack[len(c.stack)-1]
	page, err := c.tree.loadPage(entry.pageNo)
	if err != nil {
		return nil, err
	}
	defer c.tree.p.Release(entry.pageNo)
	return c.tree.fullPayload(page, entry.idx)
}
