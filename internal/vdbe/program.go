package vdbe

import (
	"fmt"
	"strings"

	"github.com/SimonWaldherr/tinySQL/internal/ast"
	"github.com/SimonWaldherr/tinySQL/internal/schema"
)

// Instr is one VDBE instruction: an opcode plus up to three immediate
// integer operands, a polymorphic P4, and a flag byte P5 (spec.md §4.9).
type Instr struct {
	Op Opcode
	P1 int
	P2 int
	P3 int
	P4 any
	P5 uint16
}

// cursorTarget is the P4 payload of OpOpenRead/OpOpenWrite: which tree a
// cursor descends. Exactly one of Table/Index is non-nil.
type cursorTarget struct {
	table *schema.Table
	index *schema.Index
}

// Program is a compiled statement: a flat instruction stream plus the
// number of registers and cursors it needs (spec.md §4.8 code generator
// output). ResultCols names the projection for SELECT programs; nil for
// DDL/DML programs, which report a change count instead.
type Program struct {
	Instrs     []Instr
	NumReg     int
	NumCursor  int
	ResultCols []string
}

func (p *Program) emit(in Instr) int {
	p.Instrs = append(p.Instrs, in)
	return len(p.Instrs) - 1
}

func (p *Program) label() int { return len(p.Instrs) }

func (p *Program) patch(at int, p2 int) { p.Instrs[at].P2 = p2 }

// Disassemble renders the program as a human-readable opcode trace, the
// form Conn.Explain returns and the form scenario 2's
// "assert on an opcode sequence containing SeekGE" test inspects.
func (p *Program) Disassemble() string {
	var b strings.Builder
	for i, in := range p.Instrs {
		fmt.Fprintf(&b, "%4d %-14s p1=%-4d p2=%-4d p3=%-4d", i, opcodeName(in.Op), in.P1, in.P2, in.P3)
		if in.P4 != nil {
			fmt.Fprintf(&b, " p4=%v", describeP4(in.P4))
		}
		b.WriteByte('\n')
	}
	return b.String()
}

func describeP4(p4 any) any {
	switch v := p4.(type) {
	case *cursorTarget:
		if v.table != nil {
			return fmt.Sprintf("table:%s@%d", v.table.Name, v.table.RootPage)
		}
		return fmt.Sprintf("index:%s@%d", v.index.Name, v.index.RootPage)
	case *idxMaintTarget:
		return fmt.Sprintf("index:%s", v.idx.Name)
	case ast.Expr:
		return renderExprDebug(v)
	default:
		return v
	}
}

// renderExprDebug is a terse one-line rendering of an expression for
// Disassemble output only; it does not need to round-trip through the
// parser the way internal/schema's SQL-text renderer does.
func renderExprDebug(e ast.Expr) string {
	switch v := e.(type) {
	case *ast.ColumnRef:
		return v.Name
	case *ast.Literal:
		switch {
		case v.Null:
			return "NULL"
		case v.Str != nil:
			return fmt.Sprintf("%q", *v.Str)
		case v.Int != nil:
			return fmt.Sprintf("%d", *v.Int)
		case v.Real != nil:
			return fmt.Sprintf("%g", *v.Real)
		case v.Bool != nil:
			return fmt.Sprintf("%t", *v.Bool)
		}
		return "NULL"
	case *ast.BinaryExpr:
		return fmt.Sprintf("(%s %d %s)", renderExprDebug(v.Left), v.Op, renderExprDebug(v.Right))
	default:
		return fmt.Sprintf("%T", e)
	}
}

func opcodeName(op Opcode) string {
	names := [...]string{
		"Init", "Goto", "If", "IfNot", "Halt",
		"OpenRead", "OpenWrite", "OpenEphemeral", "Close",
		"Rewind", "Next", "Prev", "SeekGE", "SeekRowid", "NotExists", "FoundKey",
		"Rowid", "EvalExpr", "ResultRow", "ResultLimit", "MakeRecord", "NewRowid", "InsertRow",
		"DeleteRow", "IdxInsert", "IdxDelete", "EphInsert",
		"SorterOpen", "SorterInsert", "Sort", "SorterNext", "SorterData",
		"Transaction", "AutoCommit",
		"Integer", "Null", "String", "Copy", "Limit",
	}
	if int(op) < len(names) {
		return names[op]
	}
	return "?"
}
