package planner

import (
	"testing"

	"github.com/SimonWaldherr/tinySQL/internal/ast"
	"github.com/SimonWaldherr/tinySQL/internal/record"
	"github.com/SimonWaldherr/tinySQL/internal/schema"
)

func testTable() *schema.Table {
	return &schema.Table{
		Name:       "users",
		RowIDAlias: 0,
		Columns: []schema.Column{
			{Name: "id", Affinity: record.AffInteger, PrimaryKey: true},
			{Name: "age", Affinity: record.AffInteger},
			{Name: "name", Affinity: record.AffText},
		},
	}
}

func testIndex() *schema.Index {
	return &schema.Index{
		Name:  "idx_users_age_name",
		Table: "users",
		Columns: []schema.IndexColumn{
			{Name: "age"},
			{Name: "name"},
		},
	}
}

func mustParseWhere(t *testing.T, sql string) ast.Expr {
	t.Helper()
	stmt, err := ast.Parse(sql)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	return stmt.Select.Where
}

func TestSplitConjuncts(t *testing.T) {
	where := mustParseWhere(t, `SELECT * FROM users WHERE age = 30 AND name = 'x'`)
	conj := SplitConjuncts(where)
	if len(conj) != 2 {
		t.Fatalf("expected 2 conjuncts, got %d: %#v", len(conj), conj)
	}
}

func TestPlanChoosesRowIDSeekOverFullScan(t *testing.T) {
	tbl := testTable()
	where := mustParseWhere(t, `SELECT * FROM users WHERE id = 5`)
	plan := Plan(tbl, nil, where, nil)
	if plan.Access.Kind != AccessIndexScan {
		t.Fatalf("expected a rowid seek, got %+v", plan.Access)
	}
	if len(plan.Access.EqualityTerms) != 1 || plan.Access.EqualityTerms[0].Column != "id" {
		t.Fatalf("expected id equality term, got %+v", plan.Access.EqualityTerms)
	}
}

func TestPlanChoosesSecondaryIndexOnEquality(t *testing.T) {
	tbl := testTable()
	idx := testIndex()
	where := mustParseWhere(t, `SELECT * FROM users WHERE age = 30`)
	plan := Plan(tbl, []*schema.Index{idx}, where, nil)
	if plan.Access.Kind != AccessIndexScan || plan.Access.Index != idx {
		t.Fatalf("expected index scan over idx_users_age_name, got %+v", plan.Access)
	}
	if len(plan.Access.EqualityTerms) != 1 {
		t.Fatalf("expected exactly one leading equality term consumed, got %+v", plan.Access.EqualityTerms)
	}
}

func TestPlanFallsBackToFullScanWithoutUsableTerms(t *testing.T) {
	tbl := testTable()
	idx := testIndex()
	where := mustParseWhere(t, `SELECT * FROM users WHERE name = 'bob'`)
	plan := Plan(tbl, []*schema.Index{idx}, where, nil)
	if plan.Access.Kind != AccessFullScan {
		t.Fatalf("expected full scan since 'name' is not a leading index column, got %+v", plan.Access)
	}
}

func TestPlanDetectsOrderByPrefixMatch(t *testing.T) {
	tbl := testTable()
	idx := testIndex()
	where := mustParseWhere(t, `SELECT * FROM users WHERE age = 30 ORDER BY name`)
	orderBy := []ast.OrderTerm{{Expr: &ast.ColumnRef{Name: "name"}}}
	plan := Plan(tbl, []*schema.Index{idx}, where, orderBy)
	if !plan.Access.PreservesOrder {
		t.Fatalf("expected index scan to already satisfy ORDER BY name, got %+v", plan.Access)
	}
}

func TestResidualWhereIsAlwaysFullExpression(t *testing.T) {
	tbl := testTable()
	where := mustParseWhere(t, `SELECT * FROM users WHERE id = 5`)
	plan := Plan(tbl, nil, where, nil)
	if plan.ResidualWhere != where {
		t.Fatalf("expected ResidualWhere to be the original WHERE expression")
	}
}
