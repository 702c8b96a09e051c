// Package schema is the catalog of tables and indexes backing a database:
// an in-memory map kept in sync with a persistent system table-tree rooted
// at page 1, mirroring sqlite_master's type/name/tbl_name/rootpage/sql
// columns (spec.md §3 "schema catalog"). Every CREATE/DROP bumps the file
// header's schema cookie so other connections can detect a stale cached
// schema (spec.md §4.9 schema cookie).
package schema

import (
	"fmt"
	"strings"

	"github.com/SimonWaldherr/tinySQL/internal/ast"
	"github.com/SimonWaldherr/tinySQL/internal/btree"
	"github.com/SimonWaldherr/tinySQL/internal/pager"
	"github.com/SimonWaldherr/tinySQL/internal/record"
)

// Column is one column of a Table, carrying the affinity spec.md §4.9
// derives from its declared type.
type Column struct {
	Name          string
	TypeName      string
	Affinity      record.Affinity
	PrimaryKey    bool
	AutoIncrement bool
	NotNull       bool
	Unique        bool
	HasDefault    bool
	Default       ast.Expr
}

// Table is one entry of the catalog's "table" kind (spec.md §3 Schema
// object).
type Table struct {
	Name         string
	Columns      []Column
	RootPage     pager.PageID
	WithoutRowID bool
	// RowIDAlias is the column index of a declared `INTEGER PRIMARY KEY`,
	// which aliases the table's rowid (spec.md §4.8); -1 if none.
	RowIDAlias int

	nextRowID int64
}

// ColumnIndex returns the position of the named column, or -1.
func (t *Table) ColumnIndex(name string) int {
	for i, c := range t.Columns {
		if strings.EqualFold(c.Name, name) {
			return i
		}
	}
	return -1
}

// AllocRowID returns the next unused rowid for an implicit or
// INTEGER-PRIMARY-KEY-less insert and advances the high-water mark
// (spec.md §4.8): one greater than the largest rowid this Catalog has
// seen for the table, i.e. the largest stored rowid when the catalog was
// loaded or any larger one stored since. A deleted rowid is not handed
// out again while the catalog stays open.
func (t *Table) AllocRowID() int64 {
	t.nextRowID++
	return t.nextRowID
}

// ObserveRowID raises the high-water mark so an explicitly supplied rowid
// (an INTEGER PRIMARY KEY value, or a table's largest rowid found while
// loading an existing database) is never handed out again by AllocRowID.
func (t *Table) ObserveRowID(id int64) {
	if id > t.nextRowID {
		t.nextRowID = id
	}
}

// IndexColumn names one column participating in an index key plus its
// sort direction, resolved against the owning table.
type IndexColumn struct {
	Name string
	Desc bool
}

// Index is one entry of the catalog's "index" kind.
type Index struct {
	Name     string
	Table    string
	Columns  []IndexColumn
	RootPage pager.PageID
	Unique   bool
	KeyInfo  *record.KeyInfo
}

// Catalog is the schema catalog for one database file.
type Catalog struct {
	p       *pager.Pager
	master  *btree.BTree
	tables  map[string]*Table
	indexes map[string]*Index

	nextMasterRowID int64
}

// Open loads (initializing if necessary) the catalog stored in p.
func Open(p *pager.Pager) (*Catalog, error) {
	c := &Catalog{
		p:       p,
		tables:  make(map[string]*Table),
		indexes: make(map[string]*Index),
	}
	if err := c.ensureMasterPage(); err != nil {
		return nil, err
	}
	c.master = btree.OpenTableTree(p, 1)
	if err := c.loadAll(); err != nil {
		return nil, err
	}
	return c, nil
}

// ensureMasterPage formats page 1's content area as an empty table leaf
// the first time a database is opened; existing databases already carry a
// valid page-1 B-tree header byte past the 100-byte file header.
func (c *Catalog) ensureMasterPage() error {
	buf, err := c.p.Get(1)
	if err != nil {
		return err
	}
	needsInit := buf[pager.FileHeaderSize] == 0
	c.p.Release(1)
	if !needsInit {
		return nil
	}
	if err := c.p.BeginWrite(); err != nil {
		return err
	}
	if err := c.p.MarkDirty(1); err != nil {
		c.p.Rollback()
		return err
	}
	buf, err = c.p.Get(1)
	if err != nil {
		c.p.Rollback()
		return err
	}
	btree.NewPage(buf, 1, c.p.Header().UsableSize(), btree.TypeTableLeaf)
	if err := c.p.Write(1, buf); err != nil {
		c.p.Release(1)
		c.p.Rollback()
		return err
	}
	c.p.Release(1)
	return c.p.Commit()
}

type masterRow struct {
	kind     string // "table" or "index"
	name     string
	tblName  string
	rootPage pager.PageID
	sql      string
}

func decodeMasterRow(payload []byte) (masterRow, error) {
	vals, err := record.Decode(payload)
	if err != nil {
		return masterRow{}, err
	}
	if len(vals) != 5 {
		return masterRow{}, fmt.Errorf("schema: malformed master row: %d fields", len(vals))
	}
	return masterRow{
		kind:     string(vals[0].S),
		name:     string(vals[1].S),
		tblName:  string(vals[2].S),
		rootPage: pager.PageID(vals[3].I),
		sql:      string(vals[4].S),
	}, nil
}

func encodeMasterRow(r masterRow) []byte {
	return record.Encode([]record.Value{
		record.Text(r.kind),
		record.Text(r.name),
		record.Text(r.tblName),
		record.Integer(int64(r.rootPage)),
		record.Text(r.sql),
	})
}

// loadAll scans the master tree and reconstructs the in-memory table/index
// maps by re-parsing each row's stored CREATE statement text.
func (c *Catalog) loadAll() error {
	cur := c.master.NewCursor()
	ok, err := cur.First()
	if err != nil {
		return err
	}
	for ok {
		rowid, err := cur.Key()
		if err != nil {
			return err
		}
		if rowid > c.nextMasterRowID {
			c.nextMasterRowID = rowid
		}
		payload, err := cur.Payload()
		if err != nil {
			return err
		}
		row, err := decodeMasterRow(payload)
		if err != nil {
			return err
		}
		switch row.kind {
		case "table":
			stmt, err := ast.Parse(row.sql)
			if err != nil {
				return fmt.Errorf("schema: reparse %q: %w", row.name, err)
			}
			tbl := tableFromAST(stmt.CreateTable, row.rootPage)
			tcur := btree.OpenTableTree(c.p, tbl.RootPage).NewCursor()
			if last, err := tcur.Last(); err != nil {
				return err
			} else if last {
				maxID, err := tcur.Key()
				if err != nil {
					return err
				}
				tbl.ObserveRowID(maxID)
			}
			c.tables[strings.ToLower(tbl.Name)] = tbl
		case "index":
			stmt, err := ast.Parse(row.sql)
			if err != nil {
				return fmt.Errorf("schema: reparse %q: %w", row.name, err)
			}
			idx := &Index{Name: stmt.CreateIndex.Name, Table: stmt.CreateIndex.Table, RootPage: row.rootPage, Unique: stmt.CreateIndex.Unique}
			for _, ic := range stmt.CreateIndex.Columns {
				idx.Columns = append(idx.Columns, IndexColumn{Name: ic.Name, Desc: ic.Desc})
			}
			c.indexes[strings.ToLower(idx.Name)] = idx
		}
		ok, err = cur.Next()
		if err != nil {
			return err
		}
	}
	// Second pass: resolve each index's KeyInfo now that every table is
	// loaded (an index can be declared before or after its table row is
	// scanned, depending on insertion order).
	for _, idx := range c.indexes {
		tbl := c.tables[strings.ToLower(idx.Table)]
		if tbl != nil {
			idx.KeyInfo = buildKeyInfo(tbl, idx)
		}
	}
	return nil
}

func tableFromAST(ct *ast.CreateTable, root pager.PageID) *Table {
	tbl := &Table{Name: ct.Name, RootPage: root, WithoutRowID: ct.WithoutRowID, RowIDAlias: -1}
	for i, cd := range ct.Columns {
		col := Column{
			Name:          cd.Name,
			TypeName:      cd.TypeName,
			Affinity:      AffinityForType(cd.TypeName),
			PrimaryKey:    cd.PrimaryKey,
			AutoIncrement: cd.AutoIncrement,
			NotNull:       cd.NotNull,
			Unique:        cd.Unique,
			HasDefault:    cd.HasDefault,
			Default:       cd.Default,
		}
		tbl.Columns = append(tbl.Columns, col)
		if cd.PrimaryKey && col.Affinity == record.AffInteger && !ct.WithoutRowID {
			tbl.RowIDAlias = i
		}
	}
	return tbl
}

func buildKeyInfo(tbl *Table, idx *Index) *record.KeyInfo {
	ki := &record.KeyInfo{}
	for _, ic := range idx.Columns {
		// BINARY collation by default; a COLLATE clause per index column
		// is future work (spec.md's Non-goals don't exclude it, but no
		// caller here needs it yet).
		ki.Columns = append(ki.Columns, record.ColumnKey{Desc: ic.Desc})
	}
	// The owning table's rowid is appended as a trailing ascending key
	// column so non-unique index entries with equal user-key values still
	// sort deterministically (spec.md §4.6 index-key composition).
	ki.Columns = append(ki.Columns, record.ColumnKey{})
	return ki
}

// Table looks up a table by name (case-insensitive).
func (c *Catalog) Table(name string) (*Table, bool) {
	t, ok := c.tables[strings.ToLower(name)]
	return t, ok
}

// Index looks up an index by name (case-insensitive).
func (c *Catalog) Index(name string) (*Index, bool) {
	i, ok := c.indexes[strings.ToLower(name)]
	return i, ok
}

// IndexesOn returns every index defined on the named table.
func (c *Catalog) IndexesOn(table string) []*Index {
	var out []*Index
	for _, idx := range c.indexes {
		if strings.EqualFold(idx.Table, table) {
			out = append(out, idx)
		}
	}
	return out
}

// TableNames returns every table name in the catalog, for `.tables` and
// similar introspection (spec.md §6 dot-commands).
func (c *Catalog) TableNames() []string {
	out := make([]string, 0, len(c.tables))
	for _, t := range c.tables {
		out = append(out, t.Name)
	}
	return out
}

// SQLText returns the reconstructed CREATE statement for a table or index
// name, for `.schema` (spec.md §6).
func (c *Catalog) SQLText(name string) (string, bool) {
	if t, ok := c.Table(name); ok {
		return renderCreateTable(tableToAST(t)), true
	}
	if i, ok := c.Index(name); ok {
		return renderCreateIndex(indexToAST(i)), true
	}
	return "", false
}

func tableToAST(t *Table) *ast.CreateTable {
	ct := &ast.CreateTable{Name: t.Name, WithoutRowID: t.WithoutRowID}
	for _, c := range t.Columns {
		ct.Columns = append(ct.Columns, ast.ColumnDef{
			Name: c.Name, TypeName: c.TypeName, PrimaryKey: c.PrimaryKey,
			AutoIncrement: c.AutoIncrement, NotNull: c.NotNull, Unique: c.Unique,
			HasDefault: c.HasDefault, Default: c.Default,
		})
	}
	return ct
}

func indexToAST(i *Index) *ast.CreateIndex {
	ci := &ast.CreateIndex{Name: i.Name, Table: i.Table, Unique: i.Unique}
	for _, c := range i.Columns {
		ci.Columns = append(ci.Columns, ast.IndexedColumn{Name: c.Name, Desc: c.Desc})
	}
	return ci
}

// bumpSchemaCookie marks the schema generation as changed (spec.md §4.9),
// letting a connection caching a stale Table/Index pointer detect it needs
// to reload.
func (c *Catalog) bumpSchemaCookie() {
	c.p.UpdateFileHeader(func(h *pager.FileHeader) { h.SchemaCookie++ })
}

// SchemaCookie returns the current schema generation counter.
func (c *Catalog) SchemaCookie() uint32 { return c.p.Header().SchemaCookie }

// CreateTable registers a new table, allocating its root page and
// persisting a master-table row. DDL commits its own transaction
// (spec.md §5: schema changes are not part of the caller's row-level
// transaction).
func (c *Catalog) CreateTable(ct *ast.CreateTable) (*Table, error) {
	key := strings.ToLower(ct.Name)
	if _, exists := c.tables[key]; exists {
		if ct.IfNotExists {
			return c.tables[key], nil
		}
		return nil, fmt.Errorf("schema: table %q already exists", ct.Name)
	}
	if err := c.p.BeginWrite(); err != nil {
		return nil, err
	}
	_, root, err := btree.CreateTableTree(c.p)
	if err != nil {
		c.p.Rollback()
		return nil, err
	}
	tbl := tableFromAST(ct, root)
	c.nextMasterRowID++
	row := masterRow{kind: "table", name: tbl.Name, tblName: tbl.Name, rootPage: root, sql: renderCreateTable(ct)}
	if err := c.master.InsertTable(c.nextMasterRowID, encodeMasterRow(row)); err != nil {
		c.p.Rollback()
		return nil, err
	}
	c.bumpSchemaCookie()
	if err := c.p.Commit(); err != nil {
		return nil, err
	}
	c.tables[key] = tbl
	return tbl, nil
}

// DropTable removes a table's catalog entry. The table's row-data pages
// are not freed: nothing returns them to the free-list, so they stay
// allocated in the file.
func (c *Catalog) DropTable(name string, ifExists bool) error {
	key := strings.ToLower(name)
	tbl, ok := c.tables[key]
	if !ok {
		if ifExists {
			return nil
		}
		return fmt.Errorf("schema: table %q does not exist", name)
	}
	if err := c.deleteMasterRow("table", tbl.Name); err != nil {
		return err
	}
	delete(c.tables, key)
	for idxName, idx := range c.indexes {
		if strings.EqualFold(idx.Table, tbl.Name) {
			delete(c.indexes, idxName)
		}
	}
	return nil
}

// CreateIndex registers a new index, allocates its root page, backfills it
// from the table's existing rows, and persists a master-table row.
func (c *Catalog) CreateIndex(ci *ast.CreateIndex) (*Index, error) {
	key := strings.ToLower(ci.Name)
	if _, exists := c.indexes[key]; exists {
		if ci.IfNotExists {
			return c.indexes[key], nil
		}
		return nil, fmt.Errorf("schema: index %q already exists", ci.Name)
	}
	tbl, ok := c.Table(ci.Table)
	if !ok {
		return nil, fmt.Errorf("schema: no such table %q", ci.Table)
	}
	idx := &Index{Name: ci.Name, Table: tbl.Name, Unique: ci.Unique}
	for _, c2 := range ci.Columns {
		if tbl.ColumnIndex(c2.Name) < 0 {
			return nil, fmt.Errorf("schema: no such column %q on table %q", c2.Name, tbl.Name)
		}
		idx.Columns = append(idx.Columns, IndexColumn{Name: c2.Name, Desc: c2.Desc})
	}
	idx.KeyInfo = buildKeyInfo(tbl, idx)

	if err := c.p.BeginWrite(); err != nil {
		return nil, err
	}
	itree, root, err := btree.CreateIndexTree(c.p, idx.KeyInfo)
	if err != nil {
		c.p.Rollback()
		return nil, err
	}
	idx.RootPage = root

	if err := c.backfillIndex(itree, tbl, idx); err != nil {
		c.p.Rollback()
		return nil, err
	}

	c.nextMasterRowID++
	row := masterRow{kind: "index", name: idx.Name, tblName: tbl.Name, rootPage: root, sql: renderCreateIndex(ci)}
	if err := c.master.InsertTable(c.nextMasterRowID, encodeMasterRow(row)); err != nil {
		c.p.Rollback()
		return nil, err
	}
	c.bumpSchemaCookie()
	if err := c.p.Commit(); err != nil {
		return nil, err
	}
	c.indexes[key] = idx
	return idx, nil
}

// backfillIndex walks every existing row of tbl's table-tree, building and
// inserting this index's key for each — used both at CREATE INDEX time and
// conceptually mirrored by internal/vdbe's per-row index maintenance on
// INSERT/UPDATE/DELETE (BuildIndexKey is shared by both).
func (c *Catalog) backfillIndex(itree *btree.BTree, tbl *Table, idx *Index) error {
	ttree := btree.OpenTableTree(c.p, tbl.RootPage)
	cur := ttree.NewCursor()
	ok, err := cur.First()
	if err != nil {
		return err
	}
	for ok {
		rowid, err := cur.Key()
		if err != nil {
			return err
		}
		payload, err := cur.Payload()
		if err != nil {
			return err
		}
		vals, err := record.Decode(payload)
		if err != nil {
			return err
		}
		key, decoded := BuildIndexKey(tbl, idx, vals, rowid)
		if err := itree.InsertIndexKey(key, decoded); err != nil {
			return err
		}
		ok, err = cur.Next()
		if err != nil {
			return err
		}
	}
	return nil
}

// DropIndex removes an index's catalog entry (its pages are abandoned the
// same way DropTable's are).
func (c *Catalog) DropIndex(name string, ifExists bool) error {
	key := strings.ToLower(name)
	idx, ok := c.indexes[key]
	if !ok {
		if ifExists {
			return nil
		}
		return fmt.Errorf("schema: index %q does not exist", name)
	}
	if err := c.deleteMasterRow("index", idx.Name); err != nil {
		return err
	}
	delete(c.indexes, key)
	return nil
}

func (c *Catalog) deleteMasterRow(kind, name string) error {
	if err := c.p.BeginWrite(); err != nil {
		return err
	}
	cur := c.master.NewCursor()
	ok, err := cur.First()
	if err != nil {
		c.p.Rollback()
		return err
	}
	var target int64 = -1
	for ok {
		rowid, err := cur.Key()
		if err != nil {
			c.p.Rollback()
			return err
		}
		payload, err := cur.Payload()
		if err != nil {
			c.p.Rollback()
			return err
		}
		row, err := decodeMasterRow(payload)
		if err != nil {
			c.p.Rollback()
			return err
		}
		if row.kind == kind && strings.EqualFold(row.name, name) {
			target = rowid
			break
		}
		ok, err = cur.Next()
		if err != nil {
			c.p.Rollback()
			return err
		}
	}
	if target < 0 {
		c.p.Rollback()
		return fmt.Errorf("schema: master row for %s %q not found", kind, name)
	}
	if err := c.master.DeleteTable(target); err != nil {
		c.p.Rollback()
		return err
	}
	c.bumpSchemaCookie()
	return c.p.Commit()
}
