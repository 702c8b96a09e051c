package ast

import (
	"fmt"
	"strconv"
	"strings"
)

// Parser turns a single SQL statement's source text into a Stmt. It is
// deliberately small: one statement per Parse call, no multi-statement
// scripts, no CTEs/joins/subqueries/window functions — those are out of
// scope for this engine's parser (spec.md explicitly excludes the general
// tokenizer/parser surface; internal/planner and internal/vdbe only ever
// need to compile the statement shapes this type can produce).
type Parser struct {
	lx        *lexer
	cur       token
	peek      token
	nextParam int
}

// NewParser builds a Parser over sql, priming its one-token lookahead.
func NewParser(sql string) *Parser {
	p := &Parser{lx: newLexer(sql)}
	p.cur = p.lx.next()
	p.peek = p.lx.next()
	return p
}

func (p *Parser) advance() {
	p.cur = p.peek
	p.peek = p.lx.next()
}

func (p *Parser) atKeyword(kw string) bool {
	return p.cur.kind == tokKeyword && p.cur.val == kw
}

func (p *Parser) atSymbol(s string) bool {
	return p.cur.kind == tokSymbol && p.cur.val == s
}

func (p *Parser) eatKeyword(kw string) bool {
	if p.atKeyword(kw) {
		p.advance()
		return true
	}
	return false
}

func (p *Parser) expectKeyword(kw string) error {
	if !p.eatKeyword(kw) {
		return fmt.Errorf("ast: expected keyword %s, got %q at %d", kw, p.cur.val, p.cur.pos)
	}
	return nil
}

func (p *Parser) expectSymbol(s string) error {
	if !p.atSymbol(s) {
		return fmt.Errorf("ast: expected %q, got %q at %d", s, p.cur.val, p.cur.pos)
	}
	p.advance()
	return nil
}

func (p *Parser) expectIdent() (string, error) {
	if p.cur.kind != tokIdent && p.cur.kind != tokKeyword {
		return "", fmt.Errorf("ast: expected identifier, got %q at %d", p.cur.val, p.cur.pos)
	}
	name := p.cur.val
	p.advance()
	return name, nil
}

// Parse parses the single statement held by the Parser.
func (p *Parser) Parse() (*Stmt, error) {
	switch {
	case p.atKeyword("CREATE"):
		return p.parseCreate()
	case p.atKeyword("DROP"):
		return p.parseDrop()
	case p.atKeyword("INSERT"):
		return p.parseInsert()
	case p.atKeyword("UPDATE"):
		return p.parseUpdate()
	case p.atKeyword("DELETE"):
		return p.parseDelete()
	case p.atKeyword("SELECT"):
		return p.parseSelect()
	case p.atKeyword("BEGIN"):
		p.advance()
		p.eatKeyword("TRANSACTION")
		return &Stmt{Txn: &TxnStmt{Kind: TxnBegin}}, nil
	case p.atKeyword("COMMIT"):
		p.advance()
		return &Stmt{Txn: &TxnStmt{Kind: TxnCommit}}, nil
	case p.atKeyword("ROLLBACK"):
		return p.parseRollback()
	case p.atKeyword("SAVEPOINT"):
		p.advance()
		name, err := p.expectIdent()
		if err != nil {
			return nil, err
		}
		return &Stmt{Txn: &TxnStmt{Kind: TxnSavepoint, Name: name}}, nil
	case p.atKeyword("RELEASE"):
		p.advance()
		p.eatKeyword("SAVEPOINT")
		name, err := p.expectIdent()
		if err != nil {
			return nil, err
		}
		return &Stmt{Txn: &TxnStmt{Kind: TxnRelease, Name: name}}, nil
	case p.atKeyword("PRAGMA"):
		return p.parsePragma()
	default:
		return nil, fmt.Errorf("ast: unrecognized statement near %q at %d", p.cur.val, p.cur.pos)
	}
}

func (p *Parser) parseRollback() (*Stmt, error) {
	p.advance()
	p.eatKeyword("TRANSACTION")
	if p.eatKeyword("TO") {
		p.eatKeyword("SAVEPOINT")
		name, err := p.expectIdent()
		if err != nil {
			return nil, err
		}
		return &Stmt{Txn: &TxnStmt{Kind: TxnRollbackTo, Name: name}}, nil
	}
	return &Stmt{Txn: &TxnStmt{Kind: TxnRollback}}, nil
}

func (p *Parser) parsePragma() (*Stmt, error) {
	p.advance()
	name, err := p.expectIdent()
	if err != nil {
		return nil, err
	}
	pr := &Pragma{Name: strings.ToLower(name)}
	if p.atSymbol("=") {
		p.advance()
		v, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		pr.Value = v
	} else if p.atSymbol("(") {
		p.advance()
		v, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		if err := p.expectSymbol(")"); err != nil {
			return nil, err
		}
		pr.Value = v
	}
	return &Stmt{Pragma: pr}, nil
}

func (p *Parser) parseCreate() (*Stmt, error) {
	p.advance() // CREATE
	unique := false
	if p.eatKeyword("UNIQUE") {
		unique = true
	}
	switch {
	case p.eatKeyword("TABLE"):
		return p.parseCreateTable()
	case p.eatKeyword("INDEX"):
		return p.parseCreateIndex(unique)
	default:
		return nil, fmt.Errorf("ast: expected TABLE or INDEX after CREATE, got %q", p.cur.val)
	}
}

func (p *Parser) eatIfNotExists() bool {
	if p.atKeyword("IF") {
		p.advance()
		p.eatKeyword("NOT")
		p.eatKeyword("EXISTS")
		return true
	}
	return false
}

func (p *Parser) parseCreateTable() (*Stmt, error) {
	ifNotExists := p.eatIfNotExists()
	name, err := p.expectIdent()
	if err != nil {
		return nil, err
	}
	ct := &CreateTable{Name: name, IfNotExists: ifNotExists}
	if err := p.expectSymbol("("); err != nil {
		return nil, err
	}
	for {
		col, err := p.parseColumnDef()
		if err != nil {
			return nil, err
		}
		ct.Columns = append(ct.Columns, col)
		if p.atSymbol(",") {
			p.advance()
			continue
		}
		break
	}
	if err := p.expectSymbol(")"); err != nil {
		return nil, err
	}
	// WITHOUT and ROWID are not in the keyword table, so they lex as
	// identifiers.
	if p.cur.kind == tokIdent && strings.EqualFold(p.cur.val, "WITHOUT") {
		p.advance()
		if p.cur.kind != tokIdent || !strings.EqualFold(p.cur.val, "ROWID") {
			return nil, fmt.Errorf("ast: expected ROWID after WITHOUT, got %q at %d", p.cur.val, p.cur.pos)
		}
		p.advance()
		ct.WithoutRowID = true
	}
	return &Stmt{CreateTable: ct}, nil
}

func (p *Parser) parseColumnDef() (ColumnDef, error) {
	name, err := p.expectIdent()
	if err != nil {
		return ColumnDef{}, err
	}
	col := ColumnDef{Name: name}
	var typeParts []string
	for p.cur.kind == tokIdent || (p.cur.kind == tokKeyword && isTypeKeyword(p.cur.val)) {
		typeParts = append(typeParts, p.cur.val)
		p.advance()
		if p.atSymbol("(") {
			p.advance()
			for !p.atSymbol(")") {
				typeParts = append(typeParts, p.cur.val)
				p.advance()
			}
			p.advance()
		}
	}
	col.TypeName = strings.Join(typeParts, " ")
loop:
	for {
		switch {
		case p.eatKeyword("PRIMARY"):
			if err := p.expectKeyword("KEY"); err != nil {
				return col, err
			}
			col.PrimaryKey = true
			if p.eatKeyword("AUTOINCREMENT") {
				col.AutoIncrement = true
			}
		case p.eatKeyword("NOT"):
			if err := p.expectKeyword("NULL"); err != nil {
				return col, err
			}
			col.NotNull = true
		case p.eatKeyword("UNIQUE"):
			col.Unique = true
		case p.eatKeyword("NULL"):
			// explicit nullability, no-op
		case p.eatKeyword("DEFAULT"):
			v, err := p.parseUnaryExpr()
			if err != nil {
				return col, err
			}
			col.HasDefault = true
			col.Default = v
		default:
			break loop
		}
	}
	return col, nil
}

func isTypeKeyword(kw string) bool {
	switch kw {
	case "INT", "INTEGER", "TEXT", "REAL", "BLOB", "NUMERIC", "BOOLEAN":
		return true
	}
	return false
}

func (p *Parser) parseCreateIndex(unique bool) (*Stmt, error) {
	ifNotExists := p.eatIfNotExists()
	name, err := p.expectIdent()
	if err != nil {
		return nil, err
	}
	if err := p.expectKeyword("ON"); err != nil {
		return nil, err
	}
	table, err := p.expectIdent()
	if err != nil {
		return nil, err
	}
	if err := p.expectSymbol("("); err != nil {
		return nil, err
	}
	ci := &CreateIndex{Name: name, Table: table, Unique: unique, IfNotExists: ifNotExists}
	for {
		col, err := p.expectIdent()
		if err != nil {
			return nil, err
		}
		ic := IndexedColumn{Name: col}
		if p.eatKeyword("DESC") {
			ic.Desc = true
		} else {
			p.eatKeyword("ASC")
		}
		ci.Columns = append(ci.Columns, ic)
		if p.atSymbol(",") {
			p.advance()
			continue
		}
		break
	}
	if err := p.expectSymbol(")"); err != nil {
		return nil, err
	}
	return &Stmt{CreateIndex: ci}, nil
}

func (p *Parser) parseDrop() (*Stmt, error) {
	p.advance()
	switch {
	case p.eatKeyword("TABLE"):
		ifExists := p.eatKeyword("IF")
		if ifExists {
			p.eatKeyword("EXISTS")
		}
		name, err := p.expectIdent()
		if err != nil {
			return nil, err
		}
		return &Stmt{DropTable: &DropTable{Name: name, IfExists: ifExists}}, nil
	case p.eatKeyword("INDEX"):
		ifExists := p.eatKeyword("IF")
		if ifExists {
			p.eatKeyword("EXISTS")
		}
		name, err := p.expectIdent()
		if err != nil {
			return nil, err
		}
		return &Stmt{DropIndex: &DropIndex{Name: name, IfExists: ifExists}}, nil
	default:
		return nil, fmt.Errorf("ast: expected TABLE or INDEX after DROP")
	}
}

func (p *Parser) parseInsert() (*Stmt, error) {
	p.advance() // INSERT
	if err := p.expectKeyword("INTO"); err != nil {
		return nil, err
	}
	table, err := p.expectIdent()
	if err != nil {
		return nil, err
	}
	ins := &Insert{Table: table}
	if p.atSymbol("(") {
		p.advance()
		for {
			col, err := p.expectIdent()
			if err != nil {
				return nil, err
			}
			ins.Columns = append(ins.Columns, col)
			if p.atSymbol(",") {
				p.advance()
				continue
			}
			break
		}
		if err := p.expectSymbol(")"); err != nil {
			return nil, err
		}
	}
	if err := p.expectKeyword("VALUES"); err != nil {
		return nil, err
	}
	for {
		if err := p.expectSymbol("("); err != nil {
			return nil, err
		}
		var row []Expr
		for {
			v, err := p.parseExpr()
			if err != nil {
				return nil, err
			}
			row = append(row, v)
			if p.atSymbol(",") {
				p.advance()
				continue
			}
			break
		}
		if err := p.expectSymbol(")"); err != nil {
			return nil, err
		}
		ins.Rows = append(ins.Rows, row)
		if p.atSymbol(",") {
			p.advance()
			continue
		}
		break
	}
	return &Stmt{Insert: ins}, nil
}

func (p *Parser) parseUpdate() (*Stmt, error) {
	p.advance()
	table, err := p.expectIdent()
	if err != nil {
		return nil, err
	}
	if err := p.expectKeyword("SET"); err != nil {
		return nil, err
	}
	up := &Update{Table: table}
	for {
		col, err := p.expectIdent()
		if err != nil {
			return nil, err
		}
		if err := p.expectSymbol("="); err != nil {
			return nil, err
		}
		v, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		up.Set = append(up.Set, Assignment{Column: col, Value: v})
		if p.atSymbol(",") {
			p.advance()
			continue
		}
		break
	}
	if p.eatKeyword("WHERE") {
		w, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		up.Where = w
	}
	return &Stmt{Update: up}, nil
}

func (p *Parser) parseDelete() (*Stmt, error) {
	p.advance()
	if err := p.expectKeyword("FROM"); err != nil {
		return nil, err
	}
	table, err := p.expectIdent()
	if err != nil {
		return nil, err
	}
	del := &Delete{Table: table}
	if p.eatKeyword("WHERE") {
		w, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		del.Where = w
	}
	return &Stmt{Delete: del}, nil
}

func (p *Parser) parseSelect() (*Stmt, error) {
	p.advance()
	sel := &Select{}
	if p.eatKeyword("DISTINCT") {
		sel.Distinct = true
	}
	for {
		rc, err := p.parseResultColumn()
		if err != nil {
			return nil, err
		}
		sel.Columns = append(sel.Columns, rc)
		if p.atSymbol(",") {
			p.advance()
			continue
		}
		break
	}
	if err := p.expectKeyword("FROM"); err != nil {
		return nil, err
	}
	table, err := p.expectIdent()
	if err != nil {
		return nil, err
	}
	sel.Table = table
	if p.eatKeyword("WHERE") {
		w, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		sel.Where = w
	}
	if p.eatKeyword("ORDER") {
		if err := p.expectKeyword("BY"); err != nil {
			return nil, err
		}
		for {
			e, err := p.parseExpr()
			if err != nil {
				return nil, err
			}
			ot := OrderTerm{Expr: e}
			if p.eatKeyword("DESC") {
				ot.Desc = true
			} else {
				p.eatKeyword("ASC")
			}
			sel.OrderBy = append(sel.OrderBy, ot)
			if p.atSymbol(",") {
				p.advance()
				continue
			}
			break
		}
	}
	if p.eatKeyword("LIMIT") {
		v, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		sel.Limit = v
		if p.eatKeyword("OFFSET") {
			o, err := p.parseExpr()
			if err != nil {
				return nil, err
			}
			sel.Offset = o
		}
	}
	return &Stmt{Select: sel}, nil
}

func (p *Parser) parseResultColumn() (ResultColumn, error) {
	if p.atSymbol("*") {
		p.advance()
		return ResultColumn{Star: true}, nil
	}
	e, err := p.parseExpr()
	if err != nil {
		return ResultColumn{}, err
	}
	rc := ResultColumn{Expr: e}
	if p.eatKeyword("AS") {
		alias, err := p.expectIdent()
		if err != nil {
			return rc, err
		}
		rc.Alias = alias
	} else if p.cur.kind == tokIdent {
		rc.Alias = p.cur.val
		p.advance()
	}
	return rc, nil
}

// Expression parsing: precedence-climbing over OR, AND, comparison/BETWEEN/
// IN/LIKE/IS, +-, */, unary, primary (spec.md GLOSSARY "expression tree").

func (p *Parser) parseExpr() (Expr, error) { return p.parseOr() }

func (p *Parser) parseOr() (Expr, error) {
	left, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	for p.eatKeyword("OR") {
		right, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		left = &BinaryExpr{Op: OpOr, Left: left, Right: right}
	}
	return left, nil
}

func (p *Parser) parseAnd() (Expr, error) {
	left, err := p.parseNot()
	if err != nil {
		return nil, err
	}
	for p.eatKeyword("AND") {
		right, err := p.parseNot()
		if err != nil {
			return nil, err
		}
		left = &BinaryExpr{Op: OpAnd, Left: left, Right: right}
	}
	return left, nil
}

func (p *Parser) parseNot() (Expr, error) {
	if p.eatKeyword("NOT") {
		e, err := p.parseNot()
		if err != nil {
			return nil, err
		}
		return &UnaryExpr{Op: OpNot, Operand: e}, nil
	}
	return p.parseComparison()
}

func (p *Parser) parseComparison() (Expr, error) {
	left, err := p.parseAdditive()
	if err != nil {
		return nil, err
	}
	switch {
	case p.atSymbol("="):
		p.advance()
		right, err := p.parseAdditive()
		if err != nil {
			return nil, err
		}
		return &BinaryExpr{Op: OpEq, Left: left, Right: right}, nil
	case p.atSymbol("!=") || p.atSymbol("<>"):
		p.advance()
		right, err := p.parseAdditive()
		if err != nil {
			return nil, err
		}
		return &BinaryExpr{Op: OpNe, Left: left, Right: right}, nil
	case p.atSymbol("<"):
		p.advance()
		right, err := p.parseAdditive()
		if err != nil {
			return nil, err
		}
		return &BinaryExpr{Op: OpLt, Left: left, Right: right}, nil
	case p.atSymbol("<="):
		p.advance()
		right, err := p.parseAdditive()
		if err != nil {
			return nil, err
		}
		return &BinaryExpr{Op: OpLe, Left: left, Right: right}, nil
	case p.atSymbol(">"):
		p.advance()
		right, err := p.parseAdditive()
		if err != nil {
			return nil, err
		}
		return &BinaryExpr{Op: OpGt, Left: left, Right: right}, nil
	case p.atSymbol(">="):
		p.advance()
		right, err := p.parseAdditive()
		if err != nil {
			return nil, err
		}
		return &BinaryExpr{Op: OpGe, Left: left, Right: right}, nil
	case p.atKeyword("LIKE"):
		p.advance()
		right, err := p.parseAdditive()
		if err != nil {
			return nil, err
		}
		return &BinaryExpr{Op: OpLike, Left: left, Right: right}, nil
	case p.atKeyword("IS"):
		p.advance()
		right, err := p.parseAdditive()
		if err != nil {
			return nil, err
		}
		return &BinaryExpr{Op: OpIs, Left: left, Right: right}, nil
	case p.atKeyword("BETWEEN"):
		p.advance()
		lo, err := p.parseAdditive()
		if err != nil {
			return nil, err
		}
		if err := p.expectKeyword("AND"); err != nil {
			return nil, err
		}
		hi, err := p.parseAdditive()
		if err != nil {
			return nil, err
		}
		return &BetweenExpr{Operand: left, Low: lo, High: hi}, nil
	case p.atKeyword("IN"):
		p.advance()
		return p.parseInList(left, false)
	case p.atKeyword("NOT"):
		// lookahead for NOT IN / NOT BETWEEN / NOT LIKE
		save := *p
		p.advance()
		switch {
		case p.eatKeyword("IN"):
			return p.parseInList(left, true)
		case p.atKeyword("BETWEEN"):
			p.advance()
			lo, err := p.parseAdditive()
			if err != nil {
				return nil, err
			}
			if err := p.expectKeyword("AND"); err != nil {
				return nil, err
			}
			hi, err := p.parseAdditive()
			if err != nil {
				return nil, err
			}
			return &BetweenExpr{Operand: left, Low: lo, High: hi, Not: true}, nil
		case p.atKeyword("LIKE"):
			p.advance()
			right, err := p.parseAdditive()
			if err != nil {
				return nil, err
			}
			return &UnaryExpr{Op: OpNot, Operand: &BinaryExpr{Op: OpLike, Left: left, Right: right}}, nil
		default:
			*p = save
			return left, nil
		}
	default:
		return left, nil
	}
}

func (p *Parser) parseInList(left Expr, not bool) (Expr, error) {
	if err := p.expectSymbol("("); err != nil {
		return nil, err
	}
	in := &InExpr{Operand: left, Not: not}
	if !p.atSymbol(")") {
		for {
			e, err := p.parseExpr()
			if err != nil {
				return nil, err
			}
			in.List = append(in.List, e)
			if p.atSymbol(",") {
				p.advance()
				continue
			}
			break
		}
	}
	if err := p.expectSymbol(")"); err != nil {
		return nil, err
	}
	return in, nil
}

func (p *Parser) parseAdditive() (Expr, error) {
	left, err := p.parseMultiplicative()
	if err != nil {
		return nil, err
	}
	for p.atSymbol("+") || p.atSymbol("-") {
		op := OpAdd
		if p.cur.val == "-" {
			op = OpSub
		}
		p.advance()
		right, err := p.parseMultiplicative()
		if err != nil {
			return nil, err
		}
		left = &BinaryExpr{Op: op, Left: left, Right: right}
	}
	return left, nil
}

func (p *Parser) parseMultiplicative() (Expr, error) {
	left, err := p.parseUnaryExpr()
	if err != nil {
		return nil, err
	}
	for p.atSymbol("*") || p.atSymbol("/") {
		op := OpMul
		if p.cur.val == "/" {
			op = OpDiv
		}
		p.advance()
		right, err := p.parseUnaryExpr()
		if err != nil {
			return nil, err
		}
		left = &BinaryExpr{Op: op, Left: left, Right: right}
	}
	return left, nil
}

func (p *Parser) parseUnaryExpr() (Expr, error) {
	if p.atSymbol("-") {
		p.advance()
		e, err := p.parseUnaryExpr()
		if err != nil {
			return nil, err
		}
		return &UnaryExpr{Op: OpNeg, Operand: e}, nil
	}
	if p.atSymbol("+") {
		p.advance()
		return p.parseUnaryExpr()
	}
	return p.parsePrimary()
}

func (p *Parser) parsePrimary() (Expr, error) {
	switch {
	case p.atSymbol("("):
		p.advance()
		e, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		if err := p.expectSymbol(")"); err != nil {
			return nil, err
		}
		return e, nil
	case p.atSymbol("?"):
		p.advance()
		p.nextParam++
		return &Param{Index: p.nextParam}, nil
	case p.cur.kind == tokNumber:
		return p.parseNumberLiteral()
	case p.cur.kind == tokString:
		s := p.cur.val
		p.advance()
		return &Literal{Str: &s}, nil
	case p.atKeyword("NULL"):
		p.advance()
		return &Literal{Null: true}, nil
	case p.atKeyword("TRUE"):
		p.advance()
		b := true
		return &Literal{Bool: &b}, nil
	case p.atKeyword("FALSE"):
		p.advance()
		b := false
		return &Literal{Bool: &b}, nil
	case p.cur.kind == tokIdent || p.cur.kind == tokKeyword:
		return p.parseIdentOrCall()
	default:
		return nil, fmt.Errorf("ast: unexpected token %q at %d", p.cur.val, p.cur.pos)
	}
}

func (p *Parser) parseNumberLiteral() (Expr, error) {
	s := p.cur.val
	p.advance()
	if strings.ContainsAny(s, ".eE") {
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return nil, fmt.Errorf("ast: bad numeric literal %q: %w", s, err)
		}
		return &Literal{Real: &f}, nil
	}
	i, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		f, ferr := strconv.ParseFloat(s, 64)
		if ferr != nil {
			return nil, fmt.Errorf("ast: bad integer literal %q: %w", s, err)
		}
		return &Literal{Real: &f}, nil
	}
	return &Literal{Int: &i}, nil
}

func (p *Parser) parseIdentOrCall() (Expr, error) {
	name := p.cur.val
	p.advance()
	if p.atSymbol(".") {
		p.advance()
		col, err := p.expectIdent()
		if err != nil {
			return nil, err
		}
		return &ColumnRef{Table: name, Name: col}, nil
	}
	if p.atSymbol("(") {
		p.advance()
		fc := &FuncCall{Name: strings.ToUpper(name)}
		if p.atSymbol("*") {
			p.advance()
			fc.Star = true
		} else if !p.atSymbol(")") {
			if p.eatKeyword("DISTINCT") {
				fc.Distinct = true
			}
			for {
				e, err := p.parseExpr()
				if err != nil {
					return nil, err
				}
				fc.Args = append(fc.Args, e)
				if p.atSymbol(",") {
					p.advance()
					continue
				}
				break
			}
		}
		if err := p.expectSymbol(")"); err != nil {
			return nil, err
		}
		return fc, nil
	}
	return &ColumnRef{Name: name}, nil
}

// Parse is a convenience wrapper that parses a single statement from sql.
func Parse(sql string) (*Stmt, error) {
	return NewParser(sql).Parse()
}
