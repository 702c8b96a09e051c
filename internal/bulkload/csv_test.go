package bulkload

import (
	"strings"
	"testing"

	"github.com/SimonWaldherr/tinySQL/internal/pager"
	"github.com/SimonWaldherr/tinySQL/internal/vdbe"
	"github.com/SimonWaldherr/tinySQL/internal/vfs"
)

func TestDetectDelimiter(t *testing.T) {
	cases := map[string]rune{
		"a,b,c\n1,2,3\n":   ',',
		"a;b;c\n1;2;3\n":   ';',
		"a\tb\tc\n1\t2\t3\n": '\t',
		"a|b|c\n1|2|3\n":   '|',
	}
	for sample, want := range cases {
		if got := detectDelimiter(sample); got != want {
			t.Errorf("detectDelimiter(%q) = %q, want %q", sample, got, want)
		}
	}
}

func TestSplitHeader(t *testing.T) {
	records := [][]string{
		{"name", "age"},
		{"alice", "30"},
		{"bob", "40"},
	}
	header, data := splitHeader(records, 2)
	if header == nil || header[0] != "name" || header[1] != "age" {
		t.Fatalf("expected a detected header, got %v", header)
	}
	if len(data) != 2 {
		t.Fatalf("expected 2 data rows, got %d", len(data))
	}
}

func TestSplitHeaderAllNumericIsData(t *testing.T) {
	records := [][]string{
		{"1", "2"},
		{"3", "4"},
	}
	header, data := splitHeader(records, 2)
	if header != nil {
		t.Fatalf("expected no header to be detected, got %v", header)
	}
	if len(data) != 2 {
		t.Fatalf("expected both rows treated as data, got %d", len(data))
	}
}

func newTestConn(t *testing.T) *vdbe.Conn {
	t.Helper()
	p, err := pager.Open(vfs.NewMemVFS(), "bulkload-csv-test.db", 64)
	if err != nil {
		t.Fatalf("pager.Open: %v", err)
	}
	t.Cleanup(func() { p.Close() })
	c, err := vdbe.Open(p)
	if err != nil {
		t.Fatalf("vdbe.Open: %v", err)
	}
	return c
}

func TestImportCSVCreatesTableAndInsertsRows(t *testing.T) {
	conn := newTestConn(t)
	src := "name,age\nalice,30\nbob,40\n"

	res, err := ImportCSV(conn, strings.NewReader(src), "people")
	if err != nil {
		t.Fatalf("ImportCSV: %v", err)
	}
	if res.Rows != 2 {
		t.Fatalf("expected 2 rows imported, got %d", res.Rows)
	}

	rs, err := conn.Query(`SELECT name, age FROM people ORDER BY age`)
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(rs.Rows) != 2 {
		t.Fatalf("expected 2 rows in table, got %d", len(rs.Rows))
	}
	if rs.Rows[0][0].String() != "alice" || rs.Rows[0][1].I != 30 {
		t.Fatalf("unexpected row 0: %+v", rs.Rows[0])
	}
	if rs.Rows[1][0].String() != "bob" || rs.Rows[1][1].I != 40 {
		t.Fatalf("unexpected row 1: %+v", rs.Rows[1])
	}
}
