package driver

import (
	"database/sql"
	"testing"
)

func TestOpenInMemoryExecQuery(t *testing.T) {
	db, err := OpenInMemory(t.Name())
	if err != nil {
		t.Fatalf("OpenInMemory: %v", err)
	}
	defer db.Close()

	if _, err := db.Exec(`CREATE TABLE t(a,b)`); err != nil {
		t.Fatalf("CREATE TABLE: %v", err)
	}
	if _, err := db.Exec(`INSERT INTO t VALUES(?,?)`, 1, "x"); err != nil {
		t.Fatalf("INSERT: %v", err)
	}

	var a int64
	var b string
	if err := db.QueryRow(`SELECT a,b FROM t WHERE a=?`, 1).Scan(&a, &b); err != nil {
		t.Fatalf("QueryRow/Scan: %v", err)
	}
	if a != 1 || b != "x" {
		t.Fatalf("unexpected row: a=%d b=%q", a, b)
	}
}

func TestTwoConnsShareNamedMemoryDB(t *testing.T) {
	name := "mem://" + t.Name()
	db1, err := sql.Open(DriverName, name)
	if err != nil {
		t.Fatalf("sql.Open: %v", err)
	}
	defer db1.Close()
	db2, err := sql.Open(DriverName, name)
	if err != nil {
		t.Fatalf("sql.Open: %v", err)
	}
	defer db2.Close()

	if _, err := db1.Exec(`CREATE TABLE t(a)`); err != nil {
		t.Fatalf("CREATE TABLE via db1: %v", err)
	}
	if _, err := db1.Exec(`INSERT INTO t VALUES(1)`); err != nil {
		t.Fatalf("INSERT via db1: %v", err)
	}

	var a int64
	if err := db2.QueryRow(`SELECT a FROM t`).Scan(&a); err != nil {
		t.Fatalf("SELECT via db2 (expected to see db1's row): %v", err)
	}
	if a != 1 {
		t.Fatalf("expected a=1, got %d", a)
	}
}

func TestExplicitTransactionCommit(t *testing.T) {
	db, err := OpenInMemory(t.Name())
	if err != nil {
		t.Fatalf("OpenInMemory: %v", err)
	}
	defer db.Close()

	if _, err := db.Exec(`CREATE TABLE t(a)`); err != nil {
		t.Fatalf("CREATE TABLE: %v", err)
	}

	txn, err := db.Begin()
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}
	if _, err := txn.Exec(`INSERT INTO t VALUES(1)`); err != nil {
		t.Fatalf("INSERT in txn: %v", err)
	}
	if err := txn.Commit(); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	var n int
	if err := db.QueryRow(`SELECT a FROM t`).Scan(&n); err != nil {
		t.Fatalf("SELECT after commit: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1, got %d", n)
	}
}
