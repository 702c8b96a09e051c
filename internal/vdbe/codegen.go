package vdbe

import (
	"fmt"

	"github.com/SimonWaldherr/tinySQL/internal/ast"
	"github.com/SimonWaldherr/tinySQL/internal/dberr"
	"github.com/SimonWaldherr/tinySQL/internal/planner"
	"github.com/SimonWaldherr/tinySQL/internal/record"
	"github.com/SimonWaldherr/tinySQL/internal/schema"
)

// emitHalt emits an OpHalt carrying an extended result code, returning the
// instruction's index so a caller can patch a jump target past it.
func (g *gen) emitHalt(code dberr.Code, ext dberr.Extended, msg string) int {
	h := g.emit(OpHalt, int(code), 0, 0, msg)
	g.prog.Instrs[h].P5 = uint16(ext)
	return h
}

// gen holds the mutable state of one statement's compilation: the program
// being built and the next unused register/cursor numbers (spec.md §4.8
// code generator).
type gen struct {
	prog    Program
	nextReg int
	nextCur int
}

func (g *gen) reg() int { n := g.nextReg; g.nextReg++; return n }
func (g *gen) regs(n int) int {
	start := g.nextReg
	g.nextReg += n
	return start
}
func (g *gen) cursor() int { n := g.nextCur; g.nextCur++; return n }

func (g *gen) emit(op Opcode, p1, p2, p3 int, p4 any) int {
	return g.prog.emit(Instr{Op: op, P1: p1, P2: p2, P3: p3, P4: p4})
}

func (g *gen) finish() *Program {
	g.prog.NumReg = g.nextReg
	g.prog.NumCursor = g.nextCur
	return &g.prog
}

// CompileSelect generates a program that scans tbl per plan, evaluates
// each result column against the current row, and emits a ResultRow per
// surviving row (spec.md §4.8: "for each candidate row ... re-evaluate the
// full WHERE ... ResultRow").
func CompileSelect(sel *ast.Select, tbl *schema.Table, plan *planner.WherePlan) *Program {
	g := &gen{}
	g.emit(OpInit, 0, 0, 0, nil)
	g.emit(OpTransaction, 0, 0, 0, nil)
	g.emitResultLimit(sel.Offset, sel.Limit)

	cols := resultColumns(sel)
	needsSort := len(sel.OrderBy) > 0 && !plan.Access.PreservesOrder

	tblCur, idxCur := g.openScan(tbl, plan.Access, false)

	if !needsSort {
		g.emitScanLoop(tblCur, idxCur, plan.Access, plan.ResidualWhere, func() {
			start := g.regs(len(cols))
			for i, c := range cols {
				g.emit(OpEvalExpr, start+i, tblCur, 0, c)
			}
			g.emit(OpResultRow, start, len(cols), 0, nil)
		})
		g.emit(OpClose, tblCur, 0, 0, nil)
		if idxCur >= 0 {
			g.emit(OpClose, idxCur, 0, 0, nil)
		}
		g.emit(OpHalt, 0, 0, 0, nil)
		p := g.finish()
		p.ResultCols = resultColumnNames(sel)
		return p
	}

	// ORDER BY names a sort order the chosen access path doesn't already
	// produce: collect every matching row's sort-key plus result columns
	// into an ephemeral sorter, sort it once the scan is exhausted, then
	// stream ResultRow out of the sorted order (spec.md §4.8 sorter).
	sortKI := orderKeyInfo(sel.OrderBy)
	sortCur := g.cursor()
	g.emit(OpOpenEphemeral, sortCur, 0, 0, sortKI)

	g.emitScanLoop(tblCur, idxCur, plan.Access, plan.ResidualWhere, func() {
		keyStart := g.regs(len(sel.OrderBy))
		for i, ot := range sel.OrderBy {
			g.emit(OpEvalExpr, keyStart+i, tblCur, 0, ot.Expr)
		}
		keyRec := g.reg()
		g.emit(OpMakeRecord, keyStart, len(sel.OrderBy), keyRec, nil)

		valStart := g.regs(len(cols))
		for i, c := range cols {
			g.emit(OpEvalExpr, valStart+i, tblCur, 0, c)
		}
		valRec := g.reg()
		g.emit(OpMakeRecord, valStart, len(cols), valRec, nil)

		g.emit(OpSorterInsert, sortCur, keyRec, valRec, nil)
	})
	g.emit(OpClose, tblCur, 0, 0, nil)
	if idxCur >= 0 {
		g.emit(OpClose, idxCur, 0, 0, nil)
	}

	g.emit(OpSort, sortCur, len(sel.OrderBy), 0, nil)
	rewindAt := g.emit(OpRewind, sortCur, 0, 0, nil)
	bodyStart := g.prog.label()
	start := g.regs(len(cols))
	g.emit(OpSorterData, sortCur, start, len(cols), nil)
	g.emit(OpResultRow, start, len(cols), 0, nil)
	g.emit(OpNext, sortCur, bodyStart, 0, nil)
	g.prog.patch(rewindAt, g.prog.label())
	g.emit(OpClose, sortCur, 0, 0, nil)

	g.emit(OpHalt, 0, 0, 0, nil)
	p := g.finish()
	p.ResultCols = resultColumnNames(sel)
	return p
}

// emitResultLimit evaluates offset/limit (nil means none) into registers
// and installs them as the VM's ResultRow gate, so a plain unordered scan
// and a sorted one both honor LIMIT/OFFSET through the same mechanism
// without the generator needing register-level arithmetic opcodes of its
// own (spec.md §4.8 LIMIT/OFFSET).
func (g *gen) emitResultLimit(offset, limit ast.Expr) {
	offsetReg := g.reg()
	if offset != nil {
		g.emit(OpEvalExpr, offsetReg, -1, 0, offset)
	} else {
		g.emit(OpInteger, 0, offsetReg, 0, nil)
	}
	limitReg := g.reg()
	if limit != nil {
		g.emit(OpEvalExpr, limitReg, -1, 0, limit)
	} else {
		g.emit(OpInteger, -1, limitReg, 0, nil)
	}
	g.emit(OpResultLimit, offsetReg, limitReg, 0, nil)
}

// orderKeyInfo builds the comparison rule for a sorter cursor from an
// ORDER BY clause: each term's ASC/DESC flag carries through, with no
// custom collation (spec.md's ORDER BY has no COLLATE clause).
func orderKeyInfo(terms []ast.OrderTerm) *record.KeyInfo {
	cols := make([]record.ColumnKey, len(terms))
	for i, t := range terms {
		cols[i] = record.ColumnKey{Desc: t.Desc}
	}
	return &record.KeyInfo{Columns: cols}
}

func resultColumns(sel *ast.Select) []ast.Expr {
	cols := make([]ast.Expr, 0, len(sel.Columns))
	for _, rc := range sel.Columns {
		if rc.Star {
			continue
		}
		cols = append(cols, rc.Expr)
	}
	return cols
}

func resultColumnNames(sel *ast.Select) []string {
	names := make([]string, 0, len(sel.Columns))
	for i, rc := range sel.Columns {
		switch {
		case rc.Alias != "":
			names = append(names, rc.Alias)
		case rc.Star:
			names = append(names, "*")
		default:
			if cr, ok := rc.Expr.(*ast.ColumnRef); ok {
				names = append(names, cr.Name)
			} else {
				names = append(names, fmt.Sprintf("col%d", i+1))
			}
		}
	}
	return names
}

// openScan emits the cursor(s) for plan's chosen access path: always a
// table cursor (tblCur), plus a secondary index cursor (idxCur) when the
// plan chose an index — the index only narrows iteration position, since
// this engine has no covering-index optimization: every row's columns are
// still read from the table cursor by rowid (spec.md §4.8 SeekGE is
// followed by a bookmark lookup, same as a non-covering index in the file
// format this engine is compatible with). idxCur is -1 for a full scan.
func (g *gen) openScan(tbl *schema.Table, ap planner.AccessPath, write bool) (tblCur int, idxCur int) {
	op := OpOpenRead
	if write {
		op = OpOpenWrite
	}
	tblCur = g.cursor()
	g.emit(op, tblCur, 0, 0, &cursorTarget{table: tbl})
	idxCur = -1
	if ap.Kind == planner.AccessIndexScan && ap.Index != nil {
		idxCur = g.cursor()
		g.emit(OpOpenRead, idxCur, 0, 0, &cursorTarget{index: ap.Index})
	}
	return tblCur, idxCur
}

// emitScanLoop emits the Rewind/seek, per-row residual filter, body(), and
// Next/advance for one scan of tblCur (optionally positioned by idxCur),
// returning the label just past the loop. For an index access path with
// equality terms it seeks idxCur instead of rewinding (spec.md §4.8
// SeekGE), then re-fetches the full row on tblCur by the rowid idxCur
// names.
func (g *gen) emitScanLoop(tblCur, idxCur int, ap planner.AccessPath, where ast.Expr, body func()) {
	if idxCur < 0 {
		g.emitFullScan(tblCur, where, body)
		return
	}

	var rewindAt int
	if len(ap.EqualityTerms) > 0 {
		start := g.regs(len(ap.EqualityTerms))
		for i, t := range ap.EqualityTerms {
			g.emit(OpEvalExpr, start+i, tblCur, 0, t.Value)
		}
		rewindAt = g.emit(OpSeekGE, idxCur, 0, start, len(ap.EqualityTerms))
	} else {
		rewindAt = g.emit(OpRewind, idxCur, 0, 0, nil)
	}
	bodyStart := g.prog.label()

	rowidReg := g.reg()
	g.emit(OpRowid, idxCur, rowidReg, 0, nil)
	skipRow := g.emit(OpNotExists, tblCur, 0, rowidReg, nil)

	if where != nil {
		cond := g.reg()
		g.emit(OpEvalExpr, cond, tblCur, 0, where)
		skipTo := g.emit(OpIfNot, cond, 0, 0, nil)
		body()
		g.prog.patch(skipTo, g.prog.label())
	} else {
		body()
	}
	g.prog.patch(skipRow, g.prog.label())

	g.emit(OpNext, idxCur, bodyStart, 0, nil)
	done := g.prog.label()
	g.prog.patch(rewindAt, done)
}

func (g *gen) emitFullScan(cur int, where ast.Expr, body func()) {
	rewindAt := g.emit(OpRewind, cur, 0, 0, nil)
	bodyStart := g.prog.label()

	if where != nil {
		cond := g.reg()
		g.emit(OpEvalExpr, cond, cur, 0, where)
		skipTo := g.emit(OpIfNot, cond, 0, 0, nil)
		body()
		g.prog.patch(skipTo, g.prog.label())
	} else {
		body()
	}

	g.emit(OpNext, cur, bodyStart, 0, nil)
	done := g.prog.label()
	g.prog.patch(rewindAt, done)
}

// CompileInsert generates a program that appends one row per entry of
// ins.Rows, allocating a rowid when the table has no declared
// INTEGER PRIMARY KEY alias, maintaining every secondary index, and
// checking PRIMARY KEY/UNIQUE constraints before writing (spec.md §4.8
// "generated program ... checks PK/unique constraints via index probes
// before committing a row").
func CompileInsert(ins *ast.Insert, tbl *schema.Table, indexes []*schema.Index) (*Program, error) {
	g := &gen{}
	g.emit(OpInit, 0, 0, 0, nil)
	g.emit(OpTransaction, 1, 0, 0, nil)

	tcur := g.cursor()
	g.emit(OpOpenWrite, tcur, 0, 0, &cursorTarget{table: tbl})

	idxCursors := make(map[*schema.Index]int, len(indexes))
	for _, idx := range indexes {
		ic := g.cursor()
		g.emit(OpOpenWrite, ic, 0, 0, &cursorTarget{index: idx})
		idxCursors[idx] = ic
	}

	colOrder, err := insertColumnOrder(ins, tbl)
	if err != nil {
		return nil, err
	}

	for _, row := range ins.Rows {
		if len(row) != len(colOrder) {
			return nil, dberr.New(dberr.Mismatch, "INSERT has %d values for %d columns", len(row), len(colOrder))
		}
		rowStart := g.regs(len(tbl.Columns))
		for i := range tbl.Columns {
			g.emit(OpNull, 0, rowStart+i, 0, nil)
		}
		for i, ci := range colOrder {
			g.emit(OpEvalExpr, rowStart+ci, -1, 0, row[i])
		}

		rowidReg := g.reg()
		if tbl.RowIDAlias >= 0 {
			g.emit(OpCopy, rowStart+tbl.RowIDAlias, rowidReg, 0, nil)
			// A declared INTEGER PRIMARY KEY column IS the rowid, and
			// InsertTable upserts by rowid rather than rejecting a
			// collision — so the primary-key uniqueness check has to
			// happen here explicitly, not inside the btree (spec.md §8
			// scenario 3: a duplicate INTEGER PRIMARY KEY must fail, not
			// silently replace the existing row).
			absent := g.emit(OpNotExists, tcur, 0, rowidReg, nil)
			g.emitHalt(dberr.Constraint, dberr.ExtConstraintPrimaryKey,
				fmt.Sprintf("UNIQUE constraint failed: %s.%s", tbl.Name, tbl.Columns[tbl.RowIDAlias].Name))
			g.prog.patch(absent, g.prog.label())
		} else {
			g.emit(OpNewRowid, tcur, rowidReg, 0, nil)
		}

		for _, idx := range indexes {
			if !idx.Unique {
				continue
			}
			start := g.regs(len(idx.Columns))
			for i, c := range idx.Columns {
				ci := tbl.ColumnIndex(c.Name)
				g.emit(OpCopy, rowStart+ci, start+i, 0, nil)
			}
			notExcl := g.reg()
			g.emit(OpInteger, -1, notExcl, 0, nil)
			conflict := g.emit(OpFoundKey, idxCursors[idx], 0, start, len(idx.Columns))
			g.prog.Instrs[conflict].P5 = uint16(notExcl)
			g.emitHalt(dberr.Constraint, dberr.ExtConstraintUnique, fmt.Sprintf("UNIQUE constraint failed: %s", idx.Name))
			g.prog.patch(conflict, g.prog.label())
		}

		recReg := g.reg()
		g.emit(OpMakeRecord, rowStart, len(tbl.Columns), recReg, nil)
		g.emit(OpInsertRow, tcur, rowidReg, recReg, nil)

		for _, idx := range indexes {
			g.emit(OpIdxInsert, idxCursors[idx], rowidReg, rowStart, &idxMaintTarget{table: tbl, idx: idx})
		}
	}

	g.emit(OpClose, tcur, 0, 0, nil)
	for _, idx := range indexes {
		g.emit(OpClose, idxCursors[idx], 0, 0, nil)
	}
	g.emit(OpHalt, 0, 0, 0, nil)
	return g.finish(), nil
}

func insertColumnOrder(ins *ast.Insert, tbl *schema.Table) ([]int, error) {
	if ins.Columns == nil {
		order := make([]int, len(tbl.Columns))
		for i := range order {
			order[i] = i
		}
		return order, nil
	}
	order := make([]int, len(ins.Columns))
	for i, name := range ins.Columns {
		ci := tbl.ColumnIndex(name)
		if ci < 0 {
			return nil, dberr.New(dberr.Error, "no such column: %s", name)
		}
		order[i] = ci
	}
	return order, nil
}

// CompileUpdate generates a two-phase program: phase one scans tbl per
// plan and collects the rowids of every matching row into an ephemeral
// cursor, phase two re-seeks each collected rowid and rewrites it (spec.md
// §4.8 "UPDATE/DELETE use an ephemeral rowid set collected in a first pass
// ... so that rewriting row N never perturbs the cursor positioned on row
// N+1 of the same scan").
func CompileUpdate(upd *ast.Update, tbl *schema.Table, indexes []*schema.Index, plan *planner.WherePlan) (*Program, error) {
	g := &gen{}
	g.emit(OpInit, 0, 0, 0, nil)
	g.emit(OpTransaction, 1, 0, 0, nil)

	scanTblCur, scanIdxCur := g.openScan(tbl, plan.Access, false)
	ephCur := g.cursor()
	g.emit(OpOpenEphemeral, ephCur, 0, 0, nil)

	g.emitScanLoop(scanTblCur, scanIdxCur, plan.Access, plan.ResidualWhere, func() {
		rowidReg := g.reg()
		g.emit(OpRowid, scanTblCur, rowidReg, 0, nil)
		g.emit(OpEphInsert, ephCur, rowidReg, 0, nil)
	})
	g.emit(OpClose, scanTblCur, 0, 0, nil)
	if scanIdxCur >= 0 {
		g.emit(OpClose, scanIdxCur, 0, 0, nil)
	}

	tcur := g.cursor()
	g.emit(OpOpenWrite, tcur, 0, 0, &cursorTarget{table: tbl})
	idxCursors := make(map[*schema.Index]int, len(indexes))
	for _, idx := range indexes {
		ic := g.cursor()
		g.emit(OpOpenWrite, ic, 0, 0, &cursorTarget{index: idx})
		idxCursors[idx] = ic
	}

	loopEnd := g.emit(OpRewind, ephCur, 0, 0, nil)
	bodyStart := g.prog.label()

	rowidReg := g.reg()
	g.emit(OpRowid, ephCur, rowidReg, 0, nil)
	skip := g.emit(OpNotExists, tcur, 0, rowidReg, nil)

	oldStart := g.regs(len(tbl.Columns))
	for i := range tbl.Columns {
		g.emit(OpEvalExpr, oldStart+i, tcur, 0, &ast.ColumnRef{Name: tbl.Columns[i].Name})
	}
	newStart := g.regs(len(tbl.Columns))
	for i := range tbl.Columns {
		g.emit(OpCopy, oldStart+i, newStart+i, 0, nil)
	}
	for _, asg := range upd.Set {
		ci := tbl.ColumnIndex(asg.Column)
		if ci < 0 {
			return nil, dberr.New(dberr.Error, "no such column: %s", asg.Column)
		}
		g.emit(OpEvalExpr, newStart+ci, tcur, 0, asg.Value)
	}

	for _, idx := range indexes {
		g.emit(OpIdxDelete, idxCursors[idx], rowidReg, oldStart, &idxMaintTarget{table: tbl, idx: idx})
	}
	// No DeleteRow here: InsertRow below overwrites the row in place
	// (InsertTable upserts by rowid), so each updated row counts one change.

	for _, idx := range indexes {
		if !idx.Unique {
			continue
		}
		start := g.regs(len(idx.Columns))
		for i, c := range idx.Columns {
			ci := tbl.ColumnIndex(c.Name)
			g.emit(OpCopy, newStart+ci, start+i, 0, nil)
		}
		conflict := g.emit(OpFoundKey, idxCursors[idx], 0, start, len(idx.Columns))
		g.prog.Instrs[conflict].P5 = uint16(rowidReg)
		g.emitHalt(dberr.Constraint, dberr.ExtConstraintUnique, fmt.Sprintf("UNIQUE constraint failed: %s", idx.Name))
		g.prog.patch(conflict, g.prog.label())
	}

	recReg := g.reg()
	g.emit(OpMakeRecord, newStart, len(tbl.Columns), recReg, nil)
	g.emit(OpInsertRow, tcur, rowidReg, recReg, nil)
	for _, idx := range indexes {
		g.emit(OpIdxInsert, idxCursors[idx], rowidReg, newStart, &idxMaintTarget{table: tbl, idx: idx})
	}

	g.prog.patch(skip, g.prog.label())
	g.emit(OpNext, ephCur, bodyStart, 0, nil)
	g.prog.patch(loopEnd, g.prog.label())

	g.emit(OpClose, tcur, 0, 0, nil)
	for _, idx := range indexes {
		g.emit(OpClose, idxCursors[idx], 0, 0, nil)
	}
	g.emit(OpClose, ephCur, 0, 0, nil)
	g.emit(OpHalt, 0, 0, 0, nil)
	return g.finish(), nil
}

// CompileDelete mirrors CompileUpdate's two-phase collect-then-mutate
// shape without the rewrite step.
func CompileDelete(del *ast.Delete, tbl *schema.Table, indexes []*schema.Index, plan *planner.WherePlan) (*Program, error) {
	g := &gen{}
	g.emit(OpInit, 0, 0, 0, nil)
	g.emit(OpTransaction, 1, 0, 0, nil)

	scanTblCur, scanIdxCur := g.openScan(tbl, plan.Access, false)
	ephCur := g.cursor()
	g.emit(OpOpenEphemeral, ephCur, 0, 0, nil)

	g.emitScanLoop(scanTblCur, scanIdxCur, plan.Access, plan.ResidualWhere, func() {
		rowidReg := g.reg()
		g.emit(OpRowid, scanTblCur, rowidReg, 0, nil)
		g.emit(OpEphInsert, ephCur, rowidReg, 0, nil)
	})
	g.emit(OpClose, scanTblCur, 0, 0, nil)
	if scanIdxCur >= 0 {
		g.emit(OpClose, scanIdxCur, 0, 0, nil)
	}

	tcur := g.cursor()
	g.emit(OpOpenWrite, tcur, 0, 0, &cursorTarget{table: tbl})
	idxCursors := make(map[*schema.Index]int, len(indexes))
	for _, idx := range indexes {
		ic := g.cursor()
		g.emit(OpOpenWrite, ic, 0, 0, &cursorTarget{index: idx})
		idxCursors[idx] = ic
	}

	loopEnd := g.emit(OpRewind, ephCur, 0, 0, nil)
	bodyStart := g.prog.label()

	rowidReg := g.reg()
	g.emit(OpRowid, ephCur, rowidReg, 0, nil)
	skip := g.emit(OpNotExists, tcur, 0, rowidReg, nil)

	if len(indexes) > 0 {
		oldStart := g.regs(len(tbl.Columns))
		for i := range tbl.Columns {
			g.emit(OpEvalExpr, oldStart+i, tcur, 0, &ast.ColumnRef{Name: tbl.Columns[i].Name})
		}
		for _, idx := range indexes {
			g.emit(OpIdxDelete, idxCursors[idx], rowidReg, oldStart, &idxMaintTarget{table: tbl, idx: idx})
		}
	}
	g.emit(OpDeleteRow, tcur, 0, 0, nil)

	g.prog.patch(skip, g.prog.label())
	g.emit(OpNext, ephCur, bodyStart, 0, nil)
	g.prog.patch(loopEnd, g.prog.label())

	g.emit(OpClose, tcur, 0, 0, nil)
	for _, idx := range indexes {
		g.emit(OpClose, idxCursors[idx], 0, 0, nil)
	}
	g.emit(OpClose, ephCur, 0, 0, nil)
	g.emit(OpHalt, 0, 0, 0, nil)
	return g.finish(), nil
}
