package vdbe

import (
	"fmt"

	"github.com/SimonWaldherr/tinySQL/internal/ast"
	"github.com/SimonWaldherr/tinySQL/internal/dberr"
	"github.com/SimonWaldherr/tinySQL/internal/pager"
	"github.com/SimonWaldherr/tinySQL/internal/planner"
	"github.com/SimonWaldherr/tinySQL/internal/record"
	"github.com/SimonWaldherr/tinySQL/internal/schema"
)

// Result is the outcome of Conn.Exec: either a statement's affected-row
// count and last-insert rowid (DML) or nothing at all (DDL/Txn/Pragma).
type Result struct {
	RowsAffected    int
	LastInsertRowid int64
}

// ResultSet is a query's rows alongside their column names, mirroring the
// shape of a real cursor's scan output one row at a time but collected
// eagerly here since every program runs to completion inside Conn.Query
// before returning (spec.md §4.9 "the interpreter runs to a Halt").
type ResultSet struct {
	Cols []string
	Rows [][]record.Value
}

// Conn is one connection onto a single database file: the schema catalog
// plus the pager it and every VM share. Statement execution dispatches by
// the parsed statement's non-nil field, exactly as CREATE/DROP/SELECT/...
// dispatch in the engine this package supersedes — DDL, transaction
// control, and PRAGMA are handled directly; only SELECT/INSERT/UPDATE/
// DELETE go through code generation and the register machine (spec.md §0:
// "the interpreter itself has no tree traversal").
type Conn struct {
	p   *pager.Pager
	cat *schema.Catalog
}

// Pager returns the pager this connection runs over, for callers (cmd/shell's
// .dbinfo, internal/bulkload) that need page-cache statistics or to drive a
// bulk load directly rather than through SQL text.
func (c *Conn) Pager() *pager.Pager { return c.p }

// Catalog returns the connection's schema catalog, for callers that need
// table/index metadata without going through a SELECT against it.
func (c *Conn) Catalog() *schema.Catalog { return c.cat }

// Open attaches a Conn to an already-open pager, loading (or initializing)
// its schema catalog.
func Open(p *pager.Pager) (*Conn, error) {
	cat, err := schema.Open(p)
	if err != nil {
		return nil, err
	}
	return &Conn{p: p, cat: cat}, nil
}

// Exec runs a non-SELECT statement and reports its effect.
func (c *Conn) Exec(sql string, params ...record.Value) (Result, error) {
	stmt, err := ast.Parse(sql)
	if err != nil {
		return Result{}, dberr.NewParse(0, "%v", err)
	}
	return c.ExecStmt(stmt, params...)
}

// Query runs a SELECT statement and returns its rows.
func (c *Conn) Query(sql string, params ...record.Value) (*ResultSet, error) {
	stmt, err := ast.Parse(sql)
	if err != nil {
		return nil, dberr.NewParse(0, "%v", err)
	}
	if stmt.Select == nil {
		return nil, dberr.New(dberr.Misuse, "Query requires a SELECT statement")
	}
	return c.querySelect(stmt.Select, params)
}

// ExecStmt dispatches an already-parsed statement, the same shape the
// teacher's engine used for its own Execute entry point.
func (c *Conn) ExecStmt(stmt *ast.Stmt, params ...record.Value) (Result, error) {
	switch {
	case stmt.CreateTable != nil:
		return Result{}, c.execCreateTable(stmt.CreateTable)
	case stmt.CreateIndex != nil:
		return Result{}, c.execCreateIndex(stmt.CreateIndex)
	case stmt.DropTable != nil:
		return Result{}, c.cat.DropTable(stmt.DropTable.Name, stmt.DropTable.IfExists)
	case stmt.DropIndex != nil:
		return Result{}, c.cat.DropIndex(stmt.DropIndex.Name, stmt.DropIndex.IfExists)
	case stmt.Insert != nil:
		return c.execInsert(stmt.Insert, params)
	case stmt.Update != nil:
		return c.execUpdate(stmt.Update, params)
	case stmt.Delete != nil:
		return c.execDelete(stmt.Delete, params)
	case stmt.Txn != nil:
		return Result{}, c.execTxn(stmt.Txn)
	case stmt.Pragma != nil:
		return Result{}, c.execPragma(stmt.Pragma)
	case stmt.Select != nil:
		rs, err := c.querySelect(stmt.Select, params)
		if err != nil {
			return Result{}, err
		}
		return Result{RowsAffected: len(rs.Rows)}, nil
	default:
		return Result{}, dberr.New(dberr.Misuse, "empty statement")
	}
}

// Explain compiles sql's program without running it and returns its
// disassembly — the form scenario 2's "assert an opcode sequence
// containing SeekGE" inspects (spec.md §8).
func (c *Conn) Explain(sql string) (string, error) {
	stmt, err := ast.Parse(sql)
	if err != nil {
		return "", dberr.NewParse(0, "%v", err)
	}
	prog, err := c.compile(stmt)
	if err != nil {
		return "", err
	}
	return prog.Disassemble(), nil
}

// compile builds the Program for a DML/SELECT statement without running
// it (shared by Explain and the exec/query paths below).
func (c *Conn) compile(stmt *ast.Stmt) (*Program, error) {
	switch {
	case stmt.Select != nil:
		tbl, plan, err := c.planSelect(stmt.Select)
		if err != nil {
			return nil, err
		}
		return CompileSelect(stmt.Select, tbl, plan), nil
	case stmt.Insert != nil:
		tbl, ok := c.cat.Table(stmt.Insert.Table)
		if !ok {
			return nil, dberr.New(dberr.Error, "no such table: %s", stmt.Insert.Table)
		}
		return CompileInsert(stmt.Insert, tbl, c.cat.IndexesOn(tbl.Name))
	case stmt.Update != nil:
		tbl, ok := c.cat.Table(stmt.Update.Table)
		if !ok {
			return nil, dberr.New(dberr.Error, "no such table: %s", stmt.Update.Table)
		}
		plan := planner.Plan(tbl, c.cat.IndexesOn(tbl.Name), stmt.Update.Where, nil)
		return CompileUpdate(stmt.Update, tbl, c.cat.IndexesOn(tbl.Name), plan)
	case stmt.Delete != nil:
		tbl, ok := c.cat.Table(stmt.Delete.Table)
		if !ok {
			return nil, dberr.New(dberr.Error, "no such table: %s", stmt.Delete.Table)
		}
		plan := planner.Plan(tbl, c.cat.IndexesOn(tbl.Name), stmt.Delete.Where, nil)
		return CompileDelete(stmt.Delete, tbl, c.cat.IndexesOn(tbl.Name), plan)
	default:
		return nil, dberr.New(dberr.Misuse, "statement has no bytecode form")
	}
}

func (c *Conn) planSelect(sel *ast.Select) (*schema.Table, *planner.WherePlan, error) {
	tbl, ok := c.cat.Table(sel.Table)
	if !ok {
		return nil, nil, dberr.New(dberr.Error, "no such table: %s", sel.Table)
	}
	plan := planner.Plan(tbl, c.cat.IndexesOn(tbl.Name), sel.Where, sel.OrderBy)
	return tbl, plan, nil
}

func (c *Conn) querySelect(sel *ast.Select, params []record.Value) (*ResultSet, error) {
	tbl, plan, err := c.planSelect(sel)
	if err != nil {
		return nil, err
	}
	prog := CompileSelect(sel, tbl, plan)
	vm := NewVM(c.p, c.cat, params)
	if err := vm.Run(prog); err != nil {
		return nil, err
	}
	return &ResultSet{Cols: prog.ResultCols, Rows: vm.Rows()}, nil
}

func (c *Conn) execInsert(ins *ast.Insert, params []record.Value) (Result, error) {
	tbl, ok := c.cat.Table(ins.Table)
	if !ok {
		return Result{}, dberr.New(dberr.Error, "no such table: %s", ins.Table)
	}
	prog, err := CompileInsert(ins, tbl, c.cat.IndexesOn(tbl.Name))
	if err != nil {
		return Result{}, err
	}
	return c.runWrite(prog, params)
}

func (c *Conn) execUpdate(upd *ast.Update, params []record.Value) (Result, error) {
	tbl, ok := c.cat.Table(upd.Table)
	if !ok {
		return Result{}, dberr.New(dberr.Error, "no such table: %s", upd.Table)
	}
	plan := planner.Plan(tbl, c.cat.IndexesOn(tbl.Name), upd.Where, nil)
	prog, err := CompileUpdate(upd, tbl, c.cat.IndexesOn(tbl.Name), plan)
	if err != nil {
		return Result{}, err
	}
	return c.runWrite(prog, params)
}

func (c *Conn) execDelete(del *ast.Delete, params []record.Value) (Result, error) {
	tbl, ok := c.cat.Table(del.Table)
	if !ok {
		return Result{}, dberr.New(dberr.Error, "no such table: %s", del.Table)
	}
	plan := planner.Plan(tbl, c.cat.IndexesOn(tbl.Name), del.Where, nil)
	prog, err := CompileDelete(del, tbl, c.cat.IndexesOn(tbl.Name), plan)
	if err != nil {
		return Result{}, err
	}
	return c.runWrite(prog, params)
}

// runWrite executes a DML program in its own auto-committing transaction
// (spec.md §5 "a bare DML statement outside BEGIN is its own
// transaction"); each CompileInsert/Update/Delete program emits its own
// OpTransaction as its first real instruction.
func (c *Conn) runWrite(prog *Program, params []record.Value) (Result, error) {
	vm := NewVM(c.p, c.cat, params)
	if err := vm.Run(prog); err != nil {
		return Result{}, err
	}
	return Result{RowsAffected: vm.Changes, LastInsertRowid: vm.LastInsertRowid}, nil
}

func (c *Conn) execCreateTable(ct *ast.CreateTable) error {
	_, err := c.cat.CreateTable(ct)
	return err
}

func (c *Conn) execCreateIndex(ci *ast.CreateIndex) error {
	_, err := c.cat.CreateIndex(ci)
	return err
}

func (c *Conn) execTxn(t *ast.TxnStmt) error {
	switch t.Kind {
	case ast.TxnBegin:
		return c.p.BeginWrite()
	case ast.TxnCommit:
		return c.p.Commit()
	case ast.TxnRollback:
		return c.p.Rollback()
	case ast.TxnSavepoint:
		return c.p.OpenSavepoint(t.Name)
	case ast.TxnRelease:
		return c.p.ReleaseSavepoint(t.Name)
	case ast.TxnRollbackTo:
		return c.p.RollbackToSavepoint(t.Name)
	default:
		return fmt.Errorf("vdbe: unknown transaction statement kind %d", t.Kind)
	}
}

// execPragma accepts every PRAGMA as a silent no-op: no pragma reads or
// changes engine state or returns rows, in the spirit of SQLite's own
// tolerance of unrecognized PRAGMA names (spec.md §7 "selected pragmas").
func (c *Conn) execPragma(p *ast.Pragma) error {
	switch p.Name {
	case "schema_version":
		return nil
	default:
		return nil
	}
}
