package vdbe

import (
	"fmt"
	"strings"

	"github.com/SimonWaldherr/tinySQL/internal/ast"
	"github.com/SimonWaldherr/tinySQL/internal/dberr"
	"github.com/SimonWaldherr/tinySQL/internal/record"
)

// evalExpr walks e and returns its value against the row currently loaded
// on cursor cid (spec.md §4.9 "Expressions"). Real SQLite compiles every
// expression into opcode sequences with no tree traversal left at run
// time; this interpreter instead exposes a single EvalExpr opcode that
// invokes this tree-walking evaluator, trading one documented
// simplification for a generator that doesn't need a sub-compiler per
// operator — the register machine still does every other piece of work
// (cursor movement, record assembly, sorting) exactly as spec'd.
func (vm *VM) evalExpr(e ast.Expr, cid int) (record.Value, error) {
	switch v := e.(type) {
	case *ast.Literal:
		return literalValue(v), nil
	case *ast.Param:
		if v.Index < 1 || v.Index > len(vm.params) {
			return record.Value{}, dberr.New(dberr.Range, "parameter index %d out of range", v.Index)
		}
		return vm.params[v.Index-1], nil
	case *ast.ColumnRef:
		return vm.columnValue(v, cid)
	case *ast.UnaryExpr:
		return vm.evalUnary(v, cid)
	case *ast.BinaryExpr:
		return vm.evalBinary(v, cid)
	case *ast.BetweenExpr:
		return vm.evalBetween(v, cid)
	case *ast.InExpr:
		return vm.evalIn(v, cid)
	case *ast.FuncCall:
		return vm.evalFunc(v, cid)
	default:
		return record.Value{}, fmt.Errorf("vdbe: unsupported expression %T", e)
	}
}

func literalValue(l *ast.Literal) record.Value {
	switch {
	case l.Null:
		return record.Null()
	case l.Str != nil:
		return record.Text(*l.Str)
	case l.Int != nil:
		return record.Integer(*l.Int)
	case l.Real != nil:
		return record.Real(*l.Real)
	case l.Bool != nil:
		if *l.Bool {
			return record.Integer(1)
		}
		return record.Integer(0)
	default:
		return record.Null()
	}
}

func (vm *VM) columnValue(cr *ast.ColumnRef, cid int) (record.Value, error) {
	if cid < 0 || cid >= len(vm.cursors) || vm.cursors[cid] == nil {
		return record.Value{}, fmt.Errorf("vdbe: column %q referenced in a constant-only expression context", cr.Name)
	}
	cs := vm.cursors[cid]
	if cs.table == nil {
		return record.Value{}, fmt.Errorf("vdbe: column reference with no bound table cursor")
	}
	idx := cs.table.ColumnIndex(cr.Name)
	if idx < 0 {
		return record.Value{}, dberr.New(dberr.Error, "no such column: %s", cr.Name)
	}
	if idx == cs.table.RowIDAlias {
		return record.Integer(cs.curRowid), nil
	}
	if idx >= len(cs.curRow) {
		return record.Null(), nil
	}
	return cs.curRow[idx], nil
}

func (vm *VM) evalUnary(u *ast.UnaryExpr, cid int) (record.Value, error) {
	val, err := vm.evalExpr(u.Operand, cid)
	if err != nil {
		return record.Value{}, err
	}
	switch u.Op {
	case ast.OpNeg:
		if val.IsNull() {
			return val, nil
		}
		if val.Kind == record.KindReal {
			return record.Real(-val.R), nil
		}
		return record.Integer(-val.I), nil
	case ast.OpNot:
		if val.IsNull() {
			return val, nil
		}
		if truthy(val) {
			return record.Integer(0), nil
		}
		return record.Integer(1), nil
	default:
		return record.Value{}, fmt.Errorf("vdbe: unknown unary op")
	}
}

func (vm *VM) evalBinary(b *ast.BinaryExpr, cid int) (record.Value, error) {
	if b.Op == ast.OpAnd || b.Op == ast.OpOr {
		return vm.evalShortCircuit(b, cid)
	}
	l, err := vm.evalExpr(b.Left, cid)
	if err != nil {
		return record.Value{}, err
	}
	r, err := vm.evalExpr(b.Right, cid)
	if err != nil {
		return record.Value{}, err
	}
	switch b.Op {
	case ast.OpAdd, ast.OpSub, ast.OpMul, ast.OpDiv:
		return evalArith(b.Op, l, r)
	case ast.OpLike:
		return evalLike(l, r), nil
	case ast.OpIs:
		if l.IsNull() && r.IsNull() {
			return record.Integer(1), nil
		}
		if l.IsNull() != r.IsNull() {
			return record.Integer(0), nil
		}
		return boolVal(record.CompareValue(l, r, record.ColumnKey{}) == 0), nil
	default:
		if l.IsNull() || r.IsNull() {
			return record.Null(), nil
		}
		cmp := record.CompareValue(coerceLike(l, r), coerceLike(r, l), record.ColumnKey{})
		switch b.Op {
		case ast.OpEq:
			return boolVal(cmp == 0), nil
		case ast.OpNe:
			return boolVal(cmp != 0), nil
		case ast.OpLt:
			return boolVal(cmp < 0), nil
		case ast.OpLe:
			return boolVal(cmp <= 0), nil
		case ast.OpGt:
			return boolVal(cmp > 0), nil
		case ast.OpGe:
			return boolVal(cmp >= 0), nil
		}
	}
	return record.Value{}, fmt.Errorf("vdbe: unknown binary op")
}

// coerceLike applies `like`'s affinity to make numeric-vs-text literal
// comparisons ("age = '30'") behave the way SQLite's type-affinity rules
// do: a text value compared against a numeric one is coerced numeric.
func coerceLike(v, like record.Value) record.Value {
	if v.Kind == record.KindText && (like.Kind == record.KindInteger || like.Kind == record.KindReal) {
		return record.ApplyAffinity(v, record.AffNumeric)
	}
	return v
}

func boolVal(b bool) record.Value {
	if b {
		return record.Integer(1)
	}
	return record.Integer(0)
}

func (vm *VM) evalShortCircuit(b *ast.BinaryExpr, cid int) (record.Value, error) {
	l, err := vm.evalExpr(b.Left, cid)
	if err != nil {
		return record.Value{}, err
	}
	if b.Op == ast.OpAnd && !l.IsNull() && !truthy(l) {
		return record.Integer(0), nil
	}
	if b.Op == ast.OpOr && !l.IsNull() && truthy(l) {
		return record.Integer(1), nil
	}
	r, err := vm.evalExpr(b.Right, cid)
	if err != nil {
		return record.Value{}, err
	}
	if l.IsNull() || r.IsNull() {
		return record.Null(), nil
	}
	if b.Op == ast.OpAnd {
		return boolVal(truthy(l) && truthy(r)), nil
	}
	return boolVal(truthy(l) || truthy(r)), nil
}

func evalArith(op ast.BinaryOp, l, r record.Value) (record.Value, error) {
	if l.IsNull() || r.IsNull() {
		return record.Null(), nil
	}
	l = record.ApplyAffinity(l, record.AffNumeric)
	r = record.ApplyAffinity(r, record.AffNumeric)
	if l.Kind == record.KindInteger && r.Kind == record.KindInteger {
		switch op {
		case ast.OpAdd:
			return record.Integer(l.I + r.I), nil
		case ast.OpSub:
			return record.Integer(l.I - r.I), nil
		case ast.OpMul:
			return record.Integer(l.I * r.I), nil
		case ast.OpDiv:
			if r.I == 0 {
				return record.Null(), nil
			}
			return record.Integer(l.I / r.I), nil
		}
	}
	lf, rf := asFloat(l), asFloat(r)
	switch op {
	case ast.OpAdd:
		return record.Real(lf + rf), nil
	case ast.OpSub:
		return record.Real(lf - rf), nil
	case ast.OpMul:
		return record.Real(lf * rf), nil
	case ast.OpDiv:
		if rf == 0 {
			return record.Null(), nil
		}
		return record.Real(lf / rf), nil
	}
	return record.Value{}, fmt.Errorf("vdbe: unknown arithmetic op")
}

func asFloat(v record.Value) float64 {
	if v.Kind == record.KindInteger {
		return float64(v.I)
	}
	return v.R
}

// evalLike implements the `%`/`_` wildcard subset of SQL LIKE; matching is
// case-insensitive via strings.ToLower, which also folds non-ASCII letters
// (SQLite's default LIKE folds ASCII only).
func evalLike(v, pattern record.Value) record.Value {
	if v.IsNull() || pattern.IsNull() {
		return record.Null()
	}
	return boolVal(likeMatch(strings.ToLower(string(pattern.S)), strings.ToLower(v.String())))
}

func likeMatch(pattern, s string) bool {
	return likeMatchRunes([]rune(pattern), []rune(s))
}

func likeMatchRunes(p, s []rune) bool {
	if len(p) == 0 {
		return len(s) == 0
	}
	switch p[0] {
	case '%':
		for i := 0; i <= len(s); i++ {
			if likeMatchRunes(p[1:], s[i:]) {
				return true
			}
		}
		return false
	case '_':
		if len(s) == 0 {
			return false
		}
		return likeMatchRunes(p[1:], s[1:])
	default:
		if len(s) == 0 || s[0] != p[0] {
			return false
		}
		return likeMatchRunes(p[1:], s[1:])
	}
}

func (vm *VM) evalBetween(b *ast.BetweenExpr, cid int) (record.Value, error) {
	v, err := vm.evalExpr(b.Operand, cid)
	if err != nil {
		return record.Value{}, err
	}
	lo, err := vm.evalExpr(b.Low, cid)
	if err != nil {
		return record.Value{}, err
	}
	hi, err := vm.evalExpr(b.High, cid)
	if err != nil {
		return record.Value{}, err
	}
	if v.IsNull() || lo.IsNull() || hi.IsNull() {
		return record.Null(), nil
	}
	in := record.CompareValue(v, lo, record.ColumnKey{}) >= 0 && record.CompareValue(v, hi, record.ColumnKey{}) <= 0
	if b.Not {
		in = !in
	}
	return boolVal(in), nil
}

func (vm *VM) evalIn(in *ast.InExpr, cid int) (record.Value, error) {
	v, err := vm.evalExpr(in.Operand, cid)
	if err != nil {
		return record.Value{}, err
	}
	if v.IsNull() {
		return record.Null(), nil
	}
	found := false
	sawNull := false
	for _, e := range in.List {
		item, err := vm.evalExpr(e, cid)
		if err != nil {
			return record.Value{}, err
		}
		if item.IsNull() {
			sawNull = true
			continue
		}
		if record.CompareValue(v, item, record.ColumnKey{}) == 0 {
			found = true
			break
		}
	}
	if !found && sawNull {
		return record.Null(), nil
	}
	if in.Not {
		found = !found
	}
	return boolVal(found), nil
}

func (vm *VM) evalFunc(f *ast.FuncCall, cid int) (record.Value, error) {
	name := strings.ToUpper(f.Name)
	if isAggregateName(name) {
		return record.Value{}, fmt.Errorf("vdbe: aggregate %s used outside of an aggregate context", name)
	}
	args := make([]record.Value, len(f.Args))
	for i, a := range f.Args {
		v, err := vm.evalExpr(a, cid)
		if err != nil {
			return record.Value{}, err
		}
		args[i] = v
	}
	switch name {
	case "UPPER":
		return record.Text(strings.ToUpper(string(arg0(args).S))), nil
	case "LOWER":
		return record.Text(strings.ToLower(string(arg0(args).S))), nil
	case "LENGTH":
		if arg0(args).IsNull() {
			return record.Null(), nil
		}
		return record.Integer(int64(len(arg0(args).S))), nil
	case "ABS":
		v := record.ApplyAffinity(arg0(args), record.AffNumeric)
		if v.Kind == record.KindInteger {
			if v.I < 0 {
				v.I = -v.I
			}
			return v, nil
		}
		if v.R < 0 {
			v.R = -v.R
		}
		return v, nil
	case "TYPEOF":
		return record.Text(typeName(arg0(args))), nil
	case "COALESCE":
		for _, a := range args {
			if !a.IsNull() {
				return a, nil
			}
		}
		return record.Null(), nil
	default:
		return record.Value{}, fmt.Errorf("vdbe: unknown function %s", f.Name)
	}
}

func arg0(args []record.Value) record.Value {
	if len(args) == 0 {
		return record.Null()
	}
	return args[0]
}

func typeName(v record.Value) string {
	switch v.Kind {
	case record.KindNull:
		return "null"
	case record.KindInteger:
		return "integer"
	case record.KindReal:
		return "real"
	case record.KindText:
		return "text"
	case record.KindBlob:
		return "blob"
	default:
		return "null"
	}
}

func isAggregateName(name string) bool {
	switch name {
	case "COUNT", "SUM", "AVG", "MIN", "MAX":
		return true
	default:
		return false
	}
}

// exprHasAggregate reports whether e is a call to an aggregate function.
// Nothing calls it: the code generator has no aggregate path, and
// evalFunc rejects aggregate calls at run time.
func exprHasAggregate(e ast.Expr) bool {
	fc, ok := e.(*ast.FuncCall)
	return ok && isAggregateName(strings.ToUpper(fc.Name))
}

func parseIntLiteral(e ast.Expr) (int64, bool) {
	lit, ok := e.(*ast.Literal)
	if !ok || lit.Int == nil {
		return 0, false
	}
	return *lit.Int, true
}
