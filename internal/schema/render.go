package schema

import (
	"fmt"
	"strings"

	"github.com/SimonWaldherr/tinySQL/internal/ast"
)

// renderCreateTable regenerates canonical CREATE TABLE SQL text for the
// catalog's "sql" column (spec.md §3 Schema object: sqlite_master-style
// "sql" column holding the text that (re)creates the object). The ast
// package doesn't retain original source spans, so this is a faithful
// reconstruction rather than the literal bytes the caller typed — decided
// as an open question in DESIGN.md, since nothing downstream depends on
// byte-identical round-tripping, only on re-parsing to the same meaning.
func renderCreateTable(ct *ast.CreateTable) string {
	var b strings.Builder
	b.WriteString("CREATE TABLE ")
	b.WriteString(ct.Name)
	b.WriteString(" (")
	for i, c := range ct.Columns {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(c.Name)
		if c.TypeName != "" {
			b.WriteString(" ")
			b.WriteString(c.TypeName)
		}
		if c.PrimaryKey {
			b.WriteString(" PRIMARY KEY")
			if c.AutoIncrement {
				b.WriteString(" AUTOINCREMENT")
			}
		}
		if c.NotNull {
			b.WriteString(" NOT NULL")
		}
		if c.Unique {
			b.WriteString(" UNIQUE")
		}
		if c.HasDefault {
			b.WriteString(" DEFAULT ")
			b.WriteString(renderExpr(c.Default))
		}
	}
	b.WriteString(")")
	if ct.WithoutRowID {
		b.WriteString(" WITHOUT ROWID")
	}
	return b.String()
}

func renderCreateIndex(ci *ast.CreateIndex) string {
	var b strings.Builder
	b.WriteString("CREATE ")
	if ci.Unique {
		b.WriteString("UNIQUE ")
	}
	b.WriteString("INDEX ")
	b.WriteString(ci.Name)
	b.WriteString(" ON ")
	b.WriteString(ci.Table)
	b.WriteString(" (")
	for i, c := range ci.Columns {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(c.Name)
		if c.Desc {
			b.WriteString(" DESC")
		}
	}
	b.WriteString(")")
	return b.String()
}

// renderExpr is a minimal expression-to-SQL renderer, sufficient for the
// literal-valued DEFAULT clauses this engine supports.
func renderExpr(e ast.Expr) string {
	switch v := e.(type) {
	case *ast.Literal:
		switch {
		case v.Null:
			return "NULL"
		case v.Int != nil:
			return fmt.Sprintf("%d", *v.Int)
		case v.Real != nil:
			return fmt.Sprintf("%v", *v.Real)
		case v.Str != nil:
			return "'" + strings.ReplaceAll(*v.Str, "'", "''") + "'"
		case v.Bool != nil:
			if *v.Bool {
				return "TRUE"
			}
			return "FALSE"
		}
	case *ast.UnaryExpr:
		if v.Op == ast.OpNeg {
			return "-" + renderExpr(v.Operand)
		}
	}
	return ""
}
