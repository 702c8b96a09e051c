package main

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
	"time"
)

func TestBuildServer(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	out := filepath.Join(os.TempDir(), "tiny_server_bin")
	cmd := exec.CommandContext(ctx, "go", "build", "-o", out, ".")
	cmd.Env = os.Environ()
	if outp, err := cmd.CombinedOutput(); err != nil {
		_ = os.Remove(out)
		t.Fatalf("go build failed: %v\n%s", err, string(outp))
	}
	_ = os.Remove(out)
}

func TestServerExecQuery(t *testing.T) {
	srv, err := newServer("mem://" + t.Name())
	if err != nil {
		t.Fatalf("newServer: %v", err)
	}
	defer srv.p.Close()

	ctx := context.Background()
	if _, err := srv.Exec(ctx, &execRequest{SQL: "CREATE TABLE t(a,b)"}); err != nil {
		t.Fatalf("Exec CREATE TABLE: %v", err)
	}
	res, err := srv.Exec(ctx, &execRequest{SQL: "INSERT INTO t VALUES(1,'x')"})
	if err != nil {
		t.Fatalf("Exec INSERT: %v", err)
	}
	if !res.Success || res.RowsAffected != 1 {
		t.Fatalf("unexpected exec response: %+v", res)
	}

	qr, err := srv.Query(ctx, &queryRequest{SQL: "SELECT a,b FROM t"})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if qr.Count != 1 || qr.Rows[0]["a"] != int64(1) || qr.Rows[0]["b"] != "x" {
		t.Fatalf("unexpected query response: %+v", qr)
	}
}

func TestEqualStringSlices(t *testing.T) {
	tests := []struct {
		a, b []string
		want bool
	}{
		{[]string{"a", "b"}, []string{"a", "b"}, true},
		{[]string{"a", "b"}, []string{"b", "a"}, true}, // column order doesn't affect a name-keyed merge
		{[]string{"a"}, []string{"a", "b"}, false},
		{[]string{"a", "b"}, []string{"a"}, false},
		{[]string{}, []string{}, true},
	}
	for _, tt := range tests {
		if got := equalStringSlices(tt.a, tt.b); got != tt.want {
			t.Errorf("equalStringSlices(%v, %v) = %v; want %v", tt.a, tt.b, got, tt.want)
		}
	}
}
