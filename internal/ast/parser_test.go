package ast

import "testing"

func TestParseCreateTable(t *testing.T) {
	stmt, err := Parse(`CREATE TABLE IF NOT EXISTS users (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL,
		age INT DEFAULT 0,
		email VARCHAR(255) UNIQUE
	)`)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	ct := stmt.CreateTable
	if ct == nil {
		t.Fatal("expected CreateTable")
	}
	if ct.Name != "users" || !ct.IfNotExists {
		t.Fatalf("unexpected table header: %+v", ct)
	}
	if len(ct.Columns) != 4 {
		t.Fatalf("expected 4 columns, got %d", len(ct.Columns))
	}
	if !ct.Columns[0].PrimaryKey || !ct.Columns[0].AutoIncrement {
		t.Fatalf("expected id to be PK+autoincrement: %+v", ct.Columns[0])
	}
	if !ct.Columns[1].NotNull {
		t.Fatalf("expected name NOT NULL: %+v", ct.Columns[1])
	}
	if !ct.Columns[2].HasDefault {
		t.Fatalf("expected age to carry a default: %+v", ct.Columns[2])
	}
	if !ct.Columns[3].Unique {
		t.Fatalf("expected email UNIQUE: %+v", ct.Columns[3])
	}
}

func TestParseCreateIndex(t *testing.T) {
	stmt, err := Parse(`CREATE UNIQUE INDEX idx_users_email ON users (email DESC)`)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	ci := stmt.CreateIndex
	if ci == nil || !ci.Unique || ci.Table != "users" {
		t.Fatalf("unexpected CreateIndex: %+v", ci)
	}
	if len(ci.Columns) != 1 || ci.Columns[0].Name != "email" || !ci.Columns[0].Desc {
		t.Fatalf("unexpected columns: %+v", ci.Columns)
	}
}

func TestParseInsert(t *testing.T) {
	stmt, err := Parse(`INSERT INTO users (id, name) VALUES (1, 'alice'), (2, 'bob')`)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	ins := stmt.Insert
	if ins == nil || ins.Table != "users" {
		t.Fatalf("unexpected Insert: %+v", ins)
	}
	if len(ins.Columns) != 2 || len(ins.Rows) != 2 {
		t.Fatalf("unexpected shape: cols=%v rows=%d", ins.Columns, len(ins.Rows))
	}
	lit, ok := ins.Rows[1][1].(*Literal)
	if !ok || lit.Str == nil || *lit.Str != "bob" {
		t.Fatalf("expected second row name literal 'bob', got %#v", ins.Rows[1][1])
	}
}

func TestParseSelectWhereOrderLimit(t *testing.T) {
	stmt, err := Parse(`SELECT id, name FROM users WHERE age >= 18 AND name LIKE 'a%' ORDER BY age DESC LIMIT 10 OFFSET 5`)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	sel := stmt.Select
	if sel == nil || sel.Table != "users" {
		t.Fatalf("unexpected Select: %+v", sel)
	}
	if len(sel.Columns) != 2 || sel.Columns[0].Star {
		t.Fatalf("unexpected columns: %+v", sel.Columns)
	}
	be, ok := sel.Where.(*BinaryExpr)
	if !ok || be.Op != OpAnd {
		t.Fatalf("expected top-level AND, got %#v", sel.Where)
	}
	if len(sel.OrderBy) != 1 || !sel.OrderBy[0].Desc {
		t.Fatalf("unexpected order by: %+v", sel.OrderBy)
	}
	if sel.Limit == nil || sel.Offset == nil {
		t.Fatalf("expected limit and offset to be set")
	}
}

func TestParseSelectStar(t *testing.T) {
	stmt, err := Parse(`SELECT * FROM users WHERE id IN (1, 2, 3)`)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	sel := stmt.Select
	if len(sel.Columns) != 1 || !sel.Columns[0].Star {
		t.Fatalf("expected a single star column: %+v", sel.Columns)
	}
	in, ok := sel.Where.(*InExpr)
	if !ok || len(in.List) != 3 {
		t.Fatalf("unexpected where: %#v", sel.Where)
	}
}

func TestParseUpdateDelete(t *testing.T) {
	stmt, err := Parse(`UPDATE users SET age = age + 1, name = 'x' WHERE id = 7`)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	up := stmt.Update
	if up == nil || up.Table != "users" || len(up.Set) != 2 {
		t.Fatalf("unexpected Update: %+v", up)
	}

	stmt2, err := Parse(`DELETE FROM users WHERE id = 7`)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if stmt2.Delete == nil || stmt2.Delete.Table != "users" {
		t.Fatalf("unexpected Delete: %+v", stmt2.Delete)
	}
}

func TestParseTxnControl(t *testing.T) {
	cases := map[string]TxnKind{
		"BEGIN":                 TxnBegin,
		"BEGIN TRANSACTION":     TxnBegin,
		"COMMIT":                TxnCommit,
		"ROLLBACK":              TxnRollback,
		"SAVEPOINT sp1":         TxnSavepoint,
		"RELEASE SAVEPOINT sp1": TxnRelease,
		"ROLLBACK TO sp1":       TxnRollbackTo,
	}
	for sql, want := range cases {
		stmt, err := Parse(sql)
		if err != nil {
			t.Fatalf("Parse(%q): %v", sql, err)
		}
		if stmt.Txn == nil || stmt.Txn.Kind != want {
			t.Fatalf("Parse(%q): got %+v, want kind %v", sql, stmt.Txn, want)
		}
	}
}

func TestParsePragma(t *testing.T) {
	stmt, err := Parse(`PRAGMA journal_mode = WAL`)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if stmt.Pragma == nil || stmt.Pragma.Name != "journal_mode" || stmt.Pragma.Value == nil {
		t.Fatalf("unexpected Pragma: %+v", stmt.Pragma)
	}
}

func TestParseFuncCallCountStar(t *testing.T) {
	stmt, err := Parse(`SELECT COUNT(*) FROM users`)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	fc, ok := stmt.Select.Columns[0].Expr.(*FuncCall)
	if !ok || fc.Name != "COUNT" || !fc.Star {
		t.Fatalf("unexpected func call: %#v", stmt.Select.Columns[0].Expr)
	}
}
