package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func newTestShell(t *testing.T) *shell {
	t.Helper()
	sh := &shell{mode: "list", headers: true, out: &bytes.Buffer{}}
	if err := sh.open("mem://" + t.Name()); err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { sh.p.Close() })
	return sh
}

func TestShellRunAndQuery(t *testing.T) {
	sh := newTestShell(t)
	buf := sh.out.(*bytes.Buffer)

	if err := sh.run(`CREATE TABLE t(a,b)`); err != nil {
		t.Fatalf("CREATE TABLE: %v", err)
	}
	if err := sh.run(`INSERT INTO t VALUES(1,'x'),(2,'y')`); err != nil {
		t.Fatalf("INSERT: %v", err)
	}
	if err := sh.run(`SELECT a,b FROM t ORDER BY a`); err != nil {
		t.Fatalf("SELECT: %v", err)
	}

	out := buf.String()
	if !strings.Contains(out, "a|b") {
		t.Fatalf("expected a header row in list mode, got %q", out)
	}
	if !strings.Contains(out, "1|x") || !strings.Contains(out, "2|y") {
		t.Fatalf("expected both rows rendered, got %q", out)
	}
}

func TestDotCommandsTablesAndSchema(t *testing.T) {
	sh := newTestShell(t)
	buf := sh.out.(*bytes.Buffer)

	if err := sh.run(`CREATE TABLE widgets(id INTEGER PRIMARY KEY, name)`); err != nil {
		t.Fatalf("CREATE TABLE: %v", err)
	}

	if code, quit := sh.handleDot(".tables"); code != 0 || quit {
		t.Fatalf(".tables: code=%d quit=%v", code, quit)
	}
	if !strings.Contains(buf.String(), "widgets") {
		t.Fatalf("expected .tables output to list widgets, got %q", buf.String())
	}
	buf.Reset()

	if code, quit := sh.handleDot(".schema widgets"); code != 0 || quit {
		t.Fatalf(".schema: code=%d quit=%v", code, quit)
	}
	if !strings.Contains(buf.String(), "CREATE TABLE") {
		t.Fatalf("expected .schema output to render a CREATE TABLE statement, got %q", buf.String())
	}
}

func TestDotHeadersAndMode(t *testing.T) {
	sh := newTestShell(t)

	if code, quit := sh.handleDot(".headers off"); code != 0 || quit {
		t.Fatalf(".headers off: code=%d quit=%v", code, quit)
	}
	if sh.headers {
		t.Fatalf("expected headers to be disabled")
	}

	if code, quit := sh.handleDot(".mode csv"); code != 0 || quit {
		t.Fatalf(".mode csv: code=%d quit=%v", code, quit)
	}
	if sh.mode != "csv" {
		t.Fatalf("expected mode csv, got %q", sh.mode)
	}

	if code, _ := sh.handleDot(".mode bogus"); code == 0 {
		t.Fatalf("expected an unknown mode to report a non-zero code")
	}
}

func TestDotImportCSV(t *testing.T) {
	sh := newTestShell(t)
	buf := sh.out.(*bytes.Buffer)

	path := filepath.Join(t.TempDir(), "people.csv")
	if err := os.WriteFile(path, []byte("name,age\nalice,30\nbob,40\n"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	if code, quit := sh.handleDot(".import --csv " + path + " people"); code != 0 || quit {
		t.Fatalf(".import --csv: code=%d quit=%v out=%q", code, quit, buf.String())
	}
	if !strings.Contains(buf.String(), "imported 2 rows into people") {
		t.Fatalf("unexpected .import output: %q", buf.String())
	}
	buf.Reset()

	if err := sh.run(`SELECT name FROM people ORDER BY name`); err != nil {
		t.Fatalf("SELECT after import: %v", err)
	}
	if !strings.Contains(buf.String(), "alice") || !strings.Contains(buf.String(), "bob") {
		t.Fatalf("expected imported rows to be queryable, got %q", buf.String())
	}
}

func TestDotQuit(t *testing.T) {
	sh := newTestShell(t)
	code, quit := sh.handleDot(".quit")
	if !quit || code != 0 {
		t.Fatalf(".quit: code=%d quit=%v", code, quit)
	}
}
