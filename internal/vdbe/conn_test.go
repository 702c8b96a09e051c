package vdbe

import (
	"strings"
	"testing"

	"github.com/SimonWaldherr/tinySQL/internal/dberr"
	"github.com/SimonWaldherr/tinySQL/internal/pager"
	"github.com/SimonWaldherr/tinySQL/internal/record"
	"github.com/SimonWaldherr/tinySQL/internal/vfs"
)

func newTestConn(t *testing.T) *Conn {
	t.Helper()
	v := vfs.NewMemVFS()
	p, err := pager.Open(v, "vdbe-test.db", 64)
	if err != nil {
		t.Fatalf("pager.Open: %v", err)
	}
	t.Cleanup(func() { p.Close() })
	c, err := Open(p)
	if err != nil {
		t.Fatalf("vdbe.Open: %v", err)
	}
	return c
}

func mustExec(t *testing.T, c *Conn, sql string) Result {
	t.Helper()
	res, err := c.Exec(sql)
	if err != nil {
		t.Fatalf("Exec(%q): %v", sql, err)
	}
	return res
}

// scenario 1: create, insert, select (spec.md §8 scenario 1).
func TestCreateInsertSelect(t *testing.T) {
	c := newTestConn(t)
	mustExec(t, c, `CREATE TABLE t(a,b)`)
	mustExec(t, c, `INSERT INTO t VALUES(1,2),(3,4)`)

	rs, err := c.Query(`SELECT a,b FROM t ORDER BY a`)
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(rs.Rows) != 2 {
		t.Fatalf("expected 2 rows, got %d: %+v", len(rs.Rows), rs.Rows)
	}
	if rs.Rows[0][0].I != 1 || rs.Rows[0][1].I != 2 {
		t.Fatalf("unexpected row 0: %+v", rs.Rows[0])
	}
	if rs.Rows[1][0].I != 3 || rs.Rows[1][1].I != 4 {
		t.Fatalf("unexpected row 1: %+v", rs.Rows[1])
	}

	tbl, ok := c.cat.Table("t")
	if !ok {
		t.Fatalf("expected table t to be registered in the schema catalog")
	}
	if tbl.RootPage == 0 {
		t.Fatalf("expected t's root page to be recorded")
	}
}

// ORDER BY DESC exercises the sorter path directly (an unindexed table has
// no access path that already produces descending order).
func TestSelectOrderByDesc(t *testing.T) {
	c := newTestConn(t)
	mustExec(t, c, `CREATE TABLE t(a,b)`)
	mustExec(t, c, `INSERT INTO t VALUES(1,2),(3,4),(2,9)`)

	rs, err := c.Query(`SELECT a FROM t ORDER BY a DESC`)
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	got := make([]int64, len(rs.Rows))
	for i, row := range rs.Rows {
		got[i] = row[0].I
	}
	want := []int64{3, 2, 1}
	if len(got) != len(want) {
		t.Fatalf("expected %d rows, got %d", len(want), len(got))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("row %d: expected %d got %d (full: %v)", i, want[i], got[i], got)
		}
	}
}

func TestSelectLimitOffset(t *testing.T) {
	c := newTestConn(t)
	mustExec(t, c, `CREATE TABLE t(a)`)
	mustExec(t, c, `INSERT INTO t VALUES(1),(2),(3),(4),(5)`)

	rs, err := c.Query(`SELECT a FROM t ORDER BY a LIMIT 2 OFFSET 1`)
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(rs.Rows) != 2 {
		t.Fatalf("expected 2 rows, got %d: %+v", len(rs.Rows), rs.Rows)
	}
	if rs.Rows[0][0].I != 2 || rs.Rows[1][0].I != 3 {
		t.Fatalf("unexpected LIMIT/OFFSET window: %+v", rs.Rows)
	}
}

// scenario 2: WHERE with index — the planner must choose the index, and
// the generated program must seek it (spec.md §8 scenario 2).
func TestWhereWithIndexUsesSeekGE(t *testing.T) {
	c := newTestConn(t)
	mustExec(t, c, `CREATE TABLE t(a,b)`)
	mustExec(t, c, `CREATE INDEX i ON t(a)`)
	mustExec(t, c, `INSERT INTO t VALUES(1,'x'),(2,'y'),(3,'z')`)

	rs, err := c.Query(`SELECT b FROM t WHERE a=2`)
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(rs.Rows) != 1 || string(rs.Rows[0][0].S) != "y" {
		t.Fatalf("expected a single row ['y'], got %+v", rs.Rows)
	}

	explain, err := c.Explain(`SELECT b FROM t WHERE a=2`)
	if err != nil {
		t.Fatalf("Explain: %v", err)
	}
	if !strings.Contains(explain, "SeekGE") {
		t.Fatalf("expected a SeekGE opcode in the plan:\n%s", explain)
	}
	if !strings.Contains(explain, "index:i@") {
		t.Fatalf("expected SeekGE's cursor to be opened over index i:\n%s", explain)
	}
}

// scenario 3: a duplicate INTEGER PRIMARY KEY must fail with Constraint
// (extended PrimaryKey), leaving the first row intact (spec.md §8
// scenario 3).
func TestUniquePrimaryKeyViolation(t *testing.T) {
	c := newTestConn(t)
	mustExec(t, c, `CREATE TABLE t(a INTEGER PRIMARY KEY)`)
	mustExec(t, c, `INSERT INTO t VALUES(1)`)

	_, err := c.Exec(`INSERT INTO t VALUES(1)`)
	if err == nil {
		t.Fatalf("expected the second INSERT to fail")
	}
	dberrErr, ok := err.(*dberr.Error)
	if !ok {
		t.Fatalf("expected a *dberr.Error, got %T: %v", err, err)
	}
	if dberrErr.Code != dberr.Constraint {
		t.Fatalf("expected Constraint, got %v", dberrErr.Code)
	}
	if dberrErr.Extended != dberr.ExtConstraintPrimaryKey {
		t.Fatalf("expected ExtConstraintPrimaryKey, got %v", dberrErr.Extended)
	}

	rs, err := c.Query(`SELECT a FROM t`)
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(rs.Rows) != 1 || rs.Rows[0][0].I != 1 {
		t.Fatalf("expected only the first row to survive, got %+v", rs.Rows)
	}
}

// A secondary UNIQUE index rejects a colliding insert too, distinct from
// the primary-key rowid path above.
func TestUniqueIndexViolation(t *testing.T) {
	c := newTestConn(t)
	mustExec(t, c, `CREATE TABLE t(a INTEGER PRIMARY KEY, email TEXT)`)
	mustExec(t, c, `CREATE UNIQUE INDEX i_email ON t(email)`)
	mustExec(t, c, `INSERT INTO t VALUES(1,'a@example.com')`)

	_, err := c.Exec(`INSERT INTO t VALUES(2,'a@example.com')`)
	if err == nil {
		t.Fatalf("expected the colliding email INSERT to fail")
	}
	dberrErr, ok := err.(*dberr.Error)
	if !ok {
		t.Fatalf("expected a *dberr.Error, got %T: %v", err, err)
	}
	if dberrErr.Code != dberr.Constraint || dberrErr.Extended != dberr.ExtConstraintUnique {
		t.Fatalf("expected Constraint/ExtConstraintUnique, got %v/%v", dberrErr.Code, dberrErr.Extended)
	}
}

func TestUpdateAndDelete(t *testing.T) {
	c := newTestConn(t)
	mustExec(t, c, `CREATE TABLE t(a INTEGER PRIMARY KEY, b)`)
	mustExec(t, c, `INSERT INTO t VALUES(1,10),(2,20),(3,30)`)

	res := mustExec(t, c, `UPDATE t SET b=99 WHERE a=2`)
	if res.RowsAffected != 1 {
		t.Fatalf("expected 1 row updated, got %d", res.RowsAffected)
	}
	rs, err := c.Query(`SELECT b FROM t WHERE a=2`)
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(rs.Rows) != 1 || rs.Rows[0][0].I != 99 {
		t.Fatalf("expected updated value 99, got %+v", rs.Rows)
	}

	res = mustExec(t, c, `DELETE FROM t WHERE a=1`)
	if res.RowsAffected != 1 {
		t.Fatalf("expected 1 row deleted, got %d", res.RowsAffected)
	}
	rs, err = c.Query(`SELECT a FROM t ORDER BY a`)
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(rs.Rows) != 2 || rs.Rows[0][0].I != 2 || rs.Rows[1][0].I != 3 {
		t.Fatalf("unexpected surviving rows: %+v", rs.Rows)
	}
}

// Bound `?` parameters resolve by position, including a statement with
// more than one placeholder (spec.md §7 prepared-statement parameters).
func TestBoundParameters(t *testing.T) {
	c := newTestConn(t)
	mustExec(t, c, `CREATE TABLE t(a,b)`)

	if _, err := c.Exec(`INSERT INTO t VALUES(?,?)`, record.Integer(1), record.Text("x")); err != nil {
		t.Fatalf("Exec with params: %v", err)
	}

	rs, err := c.Query(`SELECT b FROM t WHERE a=?`, record.Integer(1))
	if err != nil {
		t.Fatalf("Query with params: %v", err)
	}
	if len(rs.Rows) != 1 || string(rs.Rows[0][0].S) != "x" {
		t.Fatalf("expected a single row ['x'], got %+v", rs.Rows)
	}
}

// An explicit BEGIN spanning multiple DML statements must not double-open
// the pager's write transaction, and ROLLBACK must undo every statement
// issued since BEGIN.
func TestExplicitTransactionRollback(t *testing.T) {
	c := newTestConn(t)
	mustExec(t, c, `CREATE TABLE t(a)`)
	mustExec(t, c, `INSERT INTO t VALUES(1)`)

	mustExec(t, c, `BEGIN`)
	mustExec(t, c, `INSERT INTO t VALUES(2)`)
	mustExec(t, c, `INSERT INTO t VALUES(3)`)
	mustExec(t, c, `ROLLBACK`)

	rs, err := c.Query(`SELECT a FROM t`)
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(rs.Rows) != 1 || rs.Rows[0][0].I != 1 {
		t.Fatalf("expected ROLLBACK to undo both inserts, got %+v", rs.Rows)
	}
}
