package bulkload

import "testing"

func TestInferColumnTypes(t *testing.T) {
	rows := [][]string{
		{"1", "3.5", "alpha"},
		{"2", "4", "beta"},
		{"", "5.25", ""},
	}
	got := inferColumnTypes(rows, 3)
	want := []colType{colInteger, colReal, colText}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("field %d: expected %v got %v", i, want[i], got[i])
		}
	}
}

func TestInferColumnTypesAllBlankIsText(t *testing.T) {
	rows := [][]string{{""}, {""}}
	got := inferColumnTypes(rows, 1)
	if got[0] != colText {
		t.Fatalf("expected an all-blank field to default to text, got %v", got[0])
	}
}

func TestConvertValue(t *testing.T) {
	if v := convertValue("42", colInteger); v.I != 42 {
		t.Fatalf("expected integer 42, got %+v", v)
	}
	if v := convertValue("3.5", colReal); v.R != 3.5 {
		t.Fatalf("expected real 3.5, got %+v", v)
	}
	if v := convertValue("hello", colText); string(v.S) != "hello" {
		t.Fatalf("expected text hello, got %+v", v)
	}
	if v := convertValue("  ", colText); !v.IsNull() {
		t.Fatalf("expected a blank value to convert to NULL, got %+v", v)
	}
}

func TestSanitizeIdent(t *testing.T) {
	cases := map[string]string{
		"NAME":      "NAME",
		"pop 2020":  "pop_2020",
		"  Trimmed": "Trimmed",
		"1st":       "_1st",
		"":          "col",
	}
	for in, want := range cases {
		if got := sanitizeIdent(in); got != want {
			t.Fatalf("sanitizeIdent(%q): expected %q got %q", in, want, got)
		}
	}
}
