//go:build sqlite_divergence

package driver_test

import (
	"database/sql"
	"fmt"
	"testing"

	_ "github.com/SimonWaldherr/tinySQL/internal/driver"
	_ "modernc.org/sqlite"
)

// divergenceCase runs the same SQL against this engine and modernc.org/sqlite
// and requires identical scalar results, the same "CGO vs pure Go must agree"
// check the JuniperBible example repo runs between its two SQLite backends —
// here between this engine and a real SQLite implementation instead.
type divergenceCase struct {
	name  string
	setup []string
	query string
	args  []any
	want  string
}

var divergenceCases = []divergenceCase{
	{
		name:  "basic_integer",
		setup: []string{`CREATE TABLE t(v INTEGER)`, `INSERT INTO t VALUES (42)`},
		query: `SELECT v FROM t`,
		want:  "42",
	},
	{
		name:  "basic_text",
		setup: []string{`CREATE TABLE t(v TEXT)`, `INSERT INTO t VALUES ('hello world')`},
		query: `SELECT v FROM t`,
		want:  "hello world",
	},
	{
		name:  "null_handling",
		setup: []string{`CREATE TABLE t(v TEXT)`, `INSERT INTO t VALUES (NULL)`},
		query: `SELECT v FROM t`,
		want:  "<NULL>",
	},
	{
		name: "aggregate_sum",
		setup: func() []string {
			stmts := []string{`CREATE TABLE t(v INTEGER)`}
			for i := 1; i <= 100; i++ {
				stmts = append(stmts, fmt.Sprintf(`INSERT INTO t VALUES (%d)`, i))
			}
			return stmts
		}(),
		query: `SELECT SUM(v) FROM t`,
		want:  "5050",
	},
	{
		name: "multi_row_order",
		setup: []string{
			`CREATE TABLE t(id INTEGER, v TEXT)`,
			`INSERT INTO t VALUES (1,'charlie')`,
			`INSERT INTO t VALUES (2,'alpha')`,
			`INSERT INTO t VALUES (3,'bravo')`,
		},
		query: `SELECT v FROM t ORDER BY v`,
		want:  "alpha",
	},
	{
		name: "count_after_insert",
		setup: []string{
			`CREATE TABLE t(v INTEGER)`,
			`INSERT INTO t VALUES (1)`,
		},
		query: `SELECT COUNT(*) FROM t`,
		want:  "1",
	},
}

func runDivergenceCase(t *testing.T, driverName, dsn string, tc divergenceCase) string {
	t.Helper()
	db, err := sql.Open(driverName, dsn)
	if err != nil {
		t.Fatalf("%s: open: %v", driverName, err)
	}
	defer db.Close()

	for _, stmt := range tc.setup {
		if _, err := db.Exec(stmt); err != nil {
			t.Fatalf("%s: setup %q: %v", driverName, stmt, err)
		}
	}

	var v sql.NullString
	if err := db.QueryRow(tc.query).Scan(&v); err != nil {
		t.Fatalf("%s: query: %v", driverName, err)
	}
	if !v.Valid {
		return "<NULL>"
	}
	return v.String
}

// TestDivergence runs every case against both this engine's driver and
// modernc.org/sqlite's, over a fresh database each time, and fails if their
// scalar results disagree.
func TestDivergence(t *testing.T) {
	for i, tc := range divergenceCases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			tinysqlDSN := fmt.Sprintf("mem://divergence-tinysql-%d", i)
			sqliteDSN := fmt.Sprintf("file:divergence-sqlite-%d?mode=memory&cache=shared", i)

			got := runDivergenceCase(t, "tinysql", tinysqlDSN, tc)
			want := runDivergenceCase(t, "sqlite", sqliteDSN, tc)

			if tc.want != "" && got != tc.want {
				t.Errorf("tinysql result %q does not match golden %q", got, tc.want)
			}
			if got != want {
				t.Errorf("divergence detected: tinysql=%q modernc.org/sqlite=%q", got, want)
			}
		})
	}
}
