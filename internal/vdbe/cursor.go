package vdbe

import (
	"github.com/SimonWaldherr/tinySQL/internal/btree"
	"github.com/SimonWaldherr/tinySQL/internal/record"
	"github.com/SimonWaldherr/tinySQL/internal/schema"
)

// cursorState is the interpreter's live handle for one open cursor id
// (spec.md §3 Cursor, §4.9 "cursor table"). A real B-tree cursor backs
// table/index reads and writes; an ephemeral cursor instead walks an
// in-memory slice — standing in for the on-disk temp B-tree spec.md
// describes for UPDATE/DELETE's two-phase rowid collection and for
// ORDER BY spill, since no test in this engine's scope needs a sort or a
// rowid set too large to hold in memory.
type cursorState struct {
	table *schema.Table
	index *schema.Index
	tree  *btree.BTree
	cur   *btree.Cursor

	curRow   []record.Value
	curRowid int64

	ephemeral bool
	ephRows   []int64
	ephPos    int

	sorter    bool
	sortKI    *record.KeyInfo
	sortRows  [][]record.Value
	sortPos   int
}

func (cs *cursorState) loadTableRow() (bool, error) {
	rowid, err := cs.cur.Key()
	if err != nil {
		return false, err
	}
	payload, err := cs.cur.Payload()
	if err != nil {
		return false, err
	}
	row, err := record.Decode(payload)
	if err != nil {
		return false, err
	}
	cs.curRowid = rowid
	cs.curRow = row
	return true, nil
}
