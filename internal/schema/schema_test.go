package schema

import (
	"testing"

	"github.com/SimonWaldherr/tinySQL/internal/ast"
	"github.com/SimonWaldherr/tinySQL/internal/btree"
	"github.com/SimonWaldherr/tinySQL/internal/pager"
	"github.com/SimonWaldherr/tinySQL/internal/record"
	"github.com/SimonWaldherr/tinySQL/internal/vfs"
)

func newTestCatalog(t *testing.T) *Catalog {
	t.Helper()
	v := vfs.NewMemVFS()
	p, err := pager.Open(v, "schema-test.db", 64)
	if err != nil {
		t.Fatalf("pager.Open: %v", err)
	}
	t.Cleanup(func() { p.Close() })
	c, err := Open(p)
	if err != nil {
		t.Fatalf("schema.Open: %v", err)
	}
	return c
}

func mustParseCreateTable(t *testing.T, sql string) *ast.CreateTable {
	t.Helper()
	stmt, err := ast.Parse(sql)
	if err != nil {
		t.Fatalf("ast.Parse: %v", err)
	}
	if stmt.CreateTable == nil {
		t.Fatalf("expected CreateTable statement")
	}
	return stmt.CreateTable
}

func TestCreateTableAndReload(t *testing.T) {
	c := newTestCatalog(t)
	ct := mustParseCreateTable(t, `CREATE TABLE users (id INTEGER PRIMARY KEY, name TEXT NOT NULL, age INT)`)
	tbl, err := c.CreateTable(ct)
	if err != nil {
		t.Fatalf("CreateTable: %v", err)
	}
	if tbl.RowIDAlias != 0 {
		t.Fatalf("expected id to be rowid alias, got %d", tbl.RowIDAlias)
	}
	if got, ok := c.Table("USERS"); !ok || got.Name != "users" {
		t.Fatalf("case-insensitive lookup failed: %+v %v", got, ok)
	}
	if c.SchemaCookie() == 0 {
		t.Fatalf("expected schema cookie to have advanced past 0")
	}

	// A fresh catalog reloading the same pager state should see the table
	// round-trip through the master tree, re-parsing its stored SQL.
	c2 := &Catalog{p: c.p, tables: make(map[string]*Table), indexes: make(map[string]*Index)}
	if err := c2.loadAll(); err != nil {
		t.Fatalf("loadAll: %v", err)
	}
	reloaded, ok := c2.Table("users")
	if !ok {
		t.Fatalf("expected users table to reload")
	}
	if len(reloaded.Columns) != 3 || reloaded.Columns[1].Name != "name" {
		t.Fatalf("unexpected reloaded columns: %+v", reloaded.Columns)
	}
	if reloaded.Columns[2].Affinity != record.AffInteger {
		t.Fatalf("expected age to carry integer affinity, got %v", reloaded.Columns[2].Affinity)
	}
}

func TestCreateTableIfNotExists(t *testing.T) {
	c := newTestCatalog(t)
	ct := mustParseCreateTable(t, `CREATE TABLE t (id INTEGER PRIMARY KEY)`)
	if _, err := c.CreateTable(ct); err != nil {
		t.Fatalf("CreateTable: %v", err)
	}
	ct2 := mustParseCreateTable(t, `CREATE TABLE IF NOT EXISTS t (id INTEGER PRIMARY KEY)`)
	if _, err := c.CreateTable(ct2); err != nil {
		t.Fatalf("expected IF NOT EXISTS to succeed silently: %v", err)
	}
	ct3 := mustParseCreateTable(t, `CREATE TABLE t (id INTEGER PRIMARY KEY)`)
	if _, err := c.CreateTable(ct3); err == nil {
		t.Fatalf("expected duplicate CREATE TABLE without IF NOT EXISTS to fail")
	}
}

func TestCreateIndexAndBackfill(t *testing.T) {
	c := newTestCatalog(t)
	ct := mustParseCreateTable(t, `CREATE TABLE users (id INTEGER PRIMARY KEY, name TEXT)`)
	tbl, err := c.CreateTable(ct)
	if err != nil {
		t.Fatalf("CreateTable: %v", err)
	}

	if err := c.p.BeginWrite(); err != nil {
		t.Fatalf("BeginWrite: %v", err)
	}
	ttree := btree.OpenTableTree(c.p, tbl.RootPage)
	for i, name := range []string{"carol", "alice", "bob"} {
		rowid := int64(i + 1)
		payload := record.Encode([]record.Value{record.Integer(rowid), record.Text(name)})
		if err := ttree.InsertTable(rowid, payload); err != nil {
			t.Fatalf("InsertTable: %v", err)
		}
		tbl.ObserveRowID(rowid)
	}
	if err := c.p.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}

	stmt, err := ast.Parse(`CREATE INDEX idx_users_name ON users (name)`)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	idx, err := c.CreateIndex(stmt.CreateIndex)
	if err != nil {
		t.Fatalf("CreateIndex: %v", err)
	}
	if idx.RootPage == 0 {
		t.Fatalf("expected a root page for the new index")
	}
	if idx.KeyInfo == nil || len(idx.KeyInfo.Columns) != 2 {
		t.Fatalf("expected key info with name+rowid columns: %+v", idx.KeyInfo)
	}

	itree := btree.OpenIndexTree(c.p, idx.RootPage, idx.KeyInfo)
	cur := itree.NewCursor()
	ok, err := cur.First()
	if err != nil || !ok {
		t.Fatalf("expected a populated index, First: ok=%v err=%v", ok, err)
	}
	payload, err := cur.Payload()
	if err != nil {
		t.Fatalf("Payload: %v", err)
	}
	vals, err := record.Decode(payload)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if string(vals[0].S) != "alice" {
		t.Fatalf("expected backfilled index's first key to be 'alice' (sorted), got %q", vals[0].S)
	}
}

func TestDropTableRemovesIndexes(t *testing.T) {
	c := newTestCatalog(t)
	ct := mustParseCreateTable(t, `CREATE TABLE t (id INTEGER PRIMARY KEY, v TEXT)`)
	if _, err := c.CreateTable(ct); err != nil {
		t.Fatalf("CreateTable: %v", err)
	}
	stmt, _ := ast.Parse(`CREATE INDEX idx_t_v ON t (v)`)
	if _, err := c.CreateIndex(stmt.CreateIndex); err != nil {
		t.Fatalf("CreateIndex: %v", err)
	}
	if err := c.DropTable("t", false); err != nil {
		t.Fatalf("DropTable: %v", err)
	}
	if _, ok := c.Table("t"); ok {
		t.Fatalf("expected table to be gone")
	}
	if _, ok := c.Index("idx_t_v"); ok {
		t.Fatalf("expected dependent index to be gone from the catalog too")
	}
}

func TestSQLTextRoundTrip(t *testing.T) {
	c := newTestCatalog(t)
	ct := mustParseCreateTable(t, `CREATE TABLE widgets (id INTEGER PRIMARY KEY, label TEXT UNIQUE)`)
	if _, err := c.CreateTable(ct); err != nil {
		t.Fatalf("CreateTable: %v", err)
	}
	sql, ok := c.SQLText("widgets")
	if !ok {
		t.Fatalf("expected SQLText to find widgets")
	}
	stmt, err := ast.Parse(sql)
	if err != nil {
		t.Fatalf("rendered SQL does not reparse: %v (sql=%q)", err, sql)
	}
	if stmt.CreateTable == nil || len(stmt.CreateTable.Columns) != 2 {
		t.Fatalf("unexpected reparsed statement: %+v", stmt.CreateTable)
	}
}
