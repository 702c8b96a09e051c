package vdbe

import (
	"github.com/SimonWaldherr/tinySQL/internal/btree"
	"github.com/SimonWaldherr/tinySQL/internal/dberr"
	"github.com/SimonWaldherr/tinySQL/internal/record"
	"github.com/SimonWaldherr/tinySQL/internal/schema"
)

// BulkInsert appends rows to table in a single write transaction, reusing
// one table cursor flagged for bulk-loading across every row instead of
// compiling and running a fresh CompileInsert program per row. This is the
// insertion path internal/bulkload's shapefile importer drives: it assumes
// rows already arrive in a single batch from an external source rather than
// one statement at a time (spec.md §3 cursor "bulkload" flag).
//
// A declared INTEGER PRIMARY KEY is still checked for collisions; secondary
// indexes are still maintained. Unlike CompileInsert's generated program,
// the scan happens directly against the B-tree rather than through the
// register machine, since there is no per-row SQL text to compile.
func (c *Conn) BulkInsert(table string, rows [][]record.Value) (int, error) {
	tbl, ok := c.cat.Table(table)
	if !ok {
		return 0, dberr.New(dberr.Error, "no such table: %s", table)
	}
	indexes := c.cat.IndexesOn(tbl.Name)

	if err := c.p.BeginWrite(); err != nil {
		return 0, err
	}
	committed := false
	defer func() {
		if !committed {
			c.p.Rollback()
		}
	}()

	tree := btree.OpenTableTree(c.p, tbl.RootPage)
	cur := tree.NewCursor()
	cur.SetBulkLoad(true)

	idxTrees := make(map[*schema.Index]*btree.BTree, len(indexes))
	for _, idx := range indexes {
		idxTrees[idx] = btree.OpenIndexTree(c.p, idx.RootPage, idx.KeyInfo)
	}

	n := 0
	for _, row := range rows {
		if len(row) != len(tbl.Columns) {
			return n, dberr.New(dberr.Mismatch, "row %d has %d values for %d columns", n, len(row), len(tbl.Columns))
		}

		var rowid int64
		if tbl.RowIDAlias >= 0 {
			rowid = row[tbl.RowIDAlias].I
			found, err := cur.SeekTable(rowid)
			if err != nil {
				return n, err
			}
			if found {
				return n, dberr.NewExtended(dberr.Constraint, dberr.ExtConstraintPrimaryKey,
					"UNIQUE constraint failed: %s.%s", tbl.Name, tbl.Columns[tbl.RowIDAlias].Name)
			}
		} else {
			rowid = tbl.AllocRowID()
		}

		for _, idx := range indexes {
			if !idx.Unique {
				continue
			}
			cols := make([]record.Value, len(idx.Columns))
			for i, ic := range idx.Columns {
				cols[i] = row[tbl.ColumnIndex(ic.Name)]
			}
			if violated, err := uniqueIndexConflict(idxTrees[idx], idx, cols); err != nil {
				return n, err
			} else if violated {
				return n, dberr.NewExtended(dberr.Constraint, dberr.ExtConstraintUnique, "UNIQUE constraint failed: %s", idx.Name)
			}
		}

		if err := tree.InsertTableWithCursor(cur, rowid, record.Encode(row)); err != nil {
			return n, err
		}
		tbl.ObserveRowID(rowid)

		for _, idx := range indexes {
			key, decoded := schema.BuildIndexKey(tbl, idx, row, rowid)
			if err := idxTrees[idx].InsertIndexKey(key, decoded); err != nil {
				return n, err
			}
		}
		n++
	}

	if err := c.p.Commit(); err != nil {
		return n, err
	}
	committed = true
	return n, nil
}

// uniqueIndexConflict mirrors VM.checkUniqueViolation for a freshly
// bulk-loaded row, which (unlike an UPDATE) never needs to exclude its own
// prior key.
func uniqueIndexConflict(tree *btree.BTree, idx *schema.Index, cols []record.Value) (bool, error) {
	seekKey := append(append([]record.Value{}, cols...), record.Integer(minInt64))
	key := record.Encode(seekKey)
	cur := tree.NewCursor()
	if _, err := cur.SeekIndex(key, seekKey, idx.KeyInfo); err != nil {
		return false, err
	}
	if cur.State() != btree.StateValid {
		return false, nil
	}
	payload, err := cur.Payload()
	if err != nil {
		return false, err
	}
	vals, err := record.Decode(payload)
	if err != nil {
		return false, err
	}
	return prefixEqual(vals, cols), nil
}
