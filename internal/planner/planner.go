// Package planner turns a resolved WHERE/ORDER BY clause plus the set of
// indexes available on a table into a WherePlan: a chosen access method
// (full scan or a specific index, with the equality prefix it can seek on)
// and whether that access path already satisfies ORDER BY without an
// external sort (spec.md §4.7). Cost is informational only — the VDBE code
// generator (internal/vdbe) is always free to fall back to a full scan.
package planner

import (
	"math"
	"strings"

	"github.com/SimonWaldherr/tinySQL/internal/ast"
	"github.com/SimonWaldherr/tinySQL/internal/schema"
)

// CompareOp narrows ast.BinaryOp to the comparison operators a WHERE
// conjunct can classify as (spec.md §4.7: "OP ∈ {=, <, ≤, >, ≥, IS, IS
// NULL, IN, LIKE-prefix}").
type CompareOp int

const (
	OpEq CompareOp = iota
	OpLt
	OpLe
	OpGt
	OpGe
	OpIs
	OpIn
	OpLike
)

// Term is one classified `column OP expr` WHERE conjunct.
type Term struct {
	Column string
	Op     CompareOp
	Value  ast.Expr   // the right-hand operand, for Eq/Lt/Le/Gt/Ge/Is/Like
	List   []ast.Expr // the value list, for In
	Source ast.Expr   // the original conjunct, for diagnostics/EXPLAIN
}

// SplitConjuncts flattens a WHERE tree's top-level AND chain into its
// individual conjuncts, leaving OR/NOT/comparison subtrees intact.
func SplitConjuncts(e ast.Expr) []ast.Expr {
	if e == nil {
		return nil
	}
	if be, ok := e.(*ast.BinaryExpr); ok && be.Op == ast.OpAnd {
		return append(SplitConjuncts(be.Left), SplitConjuncts(be.Right)...)
	}
	return []ast.Expr{e}
}

// classifyTerm recognizes `column OP literal-or-param` and the reverse
// `literal-or-param OP column` shape, returning the normalized Term.
func classifyTerm(e ast.Expr) (Term, bool) {
	switch v := e.(type) {
	case *ast.BinaryExpr:
		col, val, ok := splitColumnOperand(v.Left, v.Right)
		if !ok {
			return Term{}, false
		}
		op, ok := compareOpFor(v.Op)
		if !ok {
			return Term{}, false
		}
		return Term{Column: col, Op: op, Value: val, Source: e}, true
	case *ast.InExpr:
		cr, ok := v.Operand.(*ast.ColumnRef)
		if !ok || v.Not {
			return Term{}, false
		}
		return Term{Column: cr.Name, Op: OpIn, List: v.List, Source: e}, true
	}
	return Term{}, false
}

func splitColumnOperand(left, right ast.Expr) (col string, val ast.Expr, ok bool) {
	if cr, isCol := left.(*ast.ColumnRef); isCol {
		return cr.Name, right, true
	}
	if cr, isCol := right.(*ast.ColumnRef); isCol {
		return cr.Name, left, true
	}
	return "", nil, false
}

func compareOpFor(op ast.BinaryOp) (CompareOp, bool) {
	switch op {
	case ast.OpEq:
		return OpEq, true
	case ast.OpLt:
		return OpLt, true
	case ast.OpLe:
		return OpLe, true
	case ast.OpGt:
		return OpGt, true
	case ast.OpGe:
		return OpGe, true
	case ast.OpIs:
		return OpIs, true
	case ast.OpLike:
		return OpLike, true
	}
	return 0, false
}

// ClassifyWhere splits where into conjuncts and classifies each one,
// returning the recognized Terms (unrecognized conjuncts, e.g. an OR
// subtree, are simply not represented here — they still apply as residual
// filtering at runtime since the interpreter re-evaluates the full WHERE
// expression on every candidate row regardless of access path).
func ClassifyWhere(where ast.Expr) []Term {
	var terms []Term
	for _, c := range SplitConjuncts(where) {
		if t, ok := classifyTerm(c); ok {
			terms = append(terms, t)
		}
	}
	return terms
}

// AccessKind selects a table's scan method.
type AccessKind int

const (
	AccessFullScan AccessKind = iota
	AccessIndexScan
)

// AccessPath is the chosen method for reading one table.
type AccessPath struct {
	Kind AccessKind
	// Index is the chosen index; nil for a full scan.
	Index *schema.Index
	// EqualityTerms are the leading index columns with an equality term
	// available, in index-column order — the generator uses these to
	// build a seek key (spec.md §4.8 SeekGE).
	EqualityTerms []Term
	// RangeTerm is an optional trailing inequality on the next index
	// column after EqualityTerms, bounding the scan further.
	RangeTerm *Term
	// PreservesOrder reports whether iterating this access path in its
	// natural direction already yields rows in the statement's ORDER BY
	// order, letting the generator skip the external sorter.
	PreservesOrder bool
	Cost           float64
}

// WherePlan is the planner's output for one table (spec.md §4.7).
type WherePlan struct {
	Table  string
	Access AccessPath
	// ResidualWhere is the WHERE expression the interpreter must still
	// evaluate per row. It is always the original WHERE clause: this
	// planner never claims a term is satisfied purely by an access path
	// (e.g. a hash collision within an index's trailing rowid tie-break,
	// or an index that covers only a prefix), so correctness never
	// depends on the chosen access path's precision — only its speed.
	ResidualWhere ast.Expr
}

// EstimatedRows is a crude, stats-free cardinality estimate; a more
// faithful planner would read this from an ANALYZE-populated statistics
// table (spec.md §4.7 "available statistics from ANALYZE"), which is
// beyond this engine's scope, so a fixed default stands in as the
// planner's uniform prior when no better estimate is available.
const EstimatedRows = 1000.0

// Plan chooses an access path for scanning tbl given the WHERE clause and
// ORDER BY terms of a single-table statement, and the indexes available on
// it (spec.md §4.7).
func Plan(tbl *schema.Table, indexes []*schema.Index, where ast.Expr, orderBy []ast.OrderTerm) *WherePlan {
	terms := ClassifyWhere(where)
	best := AccessPath{Kind: AccessFullScan, Cost: EstimatedRows}
	if rowidTerm, ok := equalityOnRowID(tbl, terms); ok {
		best = AccessPath{
			Kind:           AccessIndexScan,
			EqualityTerms:  []Term{rowidTerm},
			PreservesOrder: orderPreservedByRowID(tbl, orderBy),
			Cost:           math.Log2(EstimatedRows + 1),
		}
	}
	for _, idx := range indexes {
		cand := candidateFor(idx, terms, orderBy)
		if cand.Cost < best.Cost {
			cand.Index = idx
			best = cand
		}
	}
	return &WherePlan{Table: tbl.Name, Access: best, ResidualWhere: where}
}

// equalityOnRowID recognizes an equality term directly on the table's
// rowid alias column, letting the generator use SeekTable instead of a
// secondary index (spec.md §4.8 "NotExists (for explicit rowids)").
func equalityOnRowID(tbl *schema.Table, terms []Term) (Term, bool) {
	if tbl.RowIDAlias < 0 {
		return Term{}, false
	}
	rowidCol := tbl.Columns[tbl.RowIDAlias].Name
	for _, t := range terms {
		if t.Op == OpEq && equalFold(t.Column, rowidCol) {
			return t, true
		}
	}
	return Term{}, false
}

func orderPreservedByRowID(tbl *schema.Table, orderBy []ast.OrderTerm) bool {
	if tbl.RowIDAlias < 0 || len(orderBy) != 1 {
		return false
	}
	cr, ok := orderBy[0].Expr.(*ast.ColumnRef)
	if !ok {
		return false
	}
	return equalFold(cr.Name, tbl.Columns[tbl.RowIDAlias].Name) && !orderBy[0].Desc
}

// candidateFor scores idx against the classified WHERE terms: the cost
// model is `log2(N) per probe + N-visited per scan` per spec.md §4.7,
// discounted for each leading column idx covers with an equality term and
// halved again if the remaining scan direction already satisfies ORDER BY.
func candidateFor(idx *schema.Index, terms []Term, orderBy []ast.OrderTerm) AccessPath {
	var eq []Term
	for _, col := range idx.Columns {
		t, ok := findEquality(terms, col.Name)
		if !ok {
			break
		}
		eq = append(eq, t)
	}
	var rangeTerm *Term
	if len(eq) < len(idx.Columns) {
		nextCol := idx.Columns[len(eq)].Name
		if t, ok := findRange(terms, nextCol); ok {
			rangeTerm = &t
		}
	}

	rowsVisited := EstimatedRows
	for range eq {
		rowsVisited /= 10 // each equality-matched leading column narrows the scan by an order of magnitude, informationally
	}
	if rowsVisited < 1 {
		rowsVisited = 1
	}
	if rangeTerm != nil {
		rowsVisited /= 2
	}
	cost := math.Log2(EstimatedRows+1) + rowsVisited

	preserves := indexSatisfiesOrder(idx, len(eq), orderBy)
	orderingBenefit := len(orderBy) > 0 && preserves
	if orderingBenefit {
		cost /= 2
	}

	kind := AccessFullScan
	if len(eq) > 0 || rangeTerm != nil || orderingBenefit {
		kind = AccessIndexScan
	}
	return AccessPath{Kind: kind, EqualityTerms: eq, RangeTerm: rangeTerm, PreservesOrder: preserves, Cost: cost}
}

func findEquality(terms []Term, col string) (Term, bool) {
	for _, t := range terms {
		if t.Op == OpEq && equalFold(t.Column, col) {
			return t, true
		}
	}
	return Term{}, false
}

func findRange(terms []Term, col string) (Term, bool) {
	for _, t := range terms {
		if equalFold(t.Column, col) {
			switch t.Op {
			case OpLt, OpLe, OpGt, OpGe:
				return t, true
			}
		}
	}
	return Term{}, false
}

// indexSatisfiesOrder reports whether scanning idx forward, after its
// first skipEq columns are pinned by equality, yields rows already sorted
// per orderBy (spec.md §4.7 "matching ORDER BY prefixes").
func indexSatisfiesOrder(idx *schema.Index, skipEq int, orderBy []ast.OrderTerm) bool {
	if len(orderBy) == 0 {
		return true
	}
	rest := idx.Columns[skipEq:]
	if len(rest) < len(orderBy) {
		return false
	}
	for i, ot := range orderBy {
		cr, ok := ot.Expr.(*ast.ColumnRef)
		if !ok || !equalFold(cr.Name, rest[i].Name) {
			return false
		}
		if ot.Desc != rest[i].Desc {
			return false
		}
	}
	return true
}

func equalFold(a, b string) bool { return strings.EqualFold(a, b) }
