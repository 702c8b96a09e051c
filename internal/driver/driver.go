// Package driver implements a database/sql driver, wired directly onto
// internal/vdbe's connection instead of an in-memory engine: every
// statement this driver runs goes through the real page cache, B-tree, and
// register machine (spec.md §0). Two DSN forms are supported:
//
//	mem://name   an in-memory database backed by internal/vfs's MemVFS;
//	             every Open("tinysql", "mem://name") against the same name
//	             shares one underlying pager, the way multiple connections
//	             against one real file would
//	file:path    a file-backed database backed by internal/vfs's OSVFS
//
// Placeholders are bound positionally with `?`, resolved by internal/ast's
// parser and internal/vdbe's evaluator rather than by string substitution.
package driver

import (
	"database/sql"
	"database/sql/driver"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/SimonWaldherr/tinySQL/internal/pager"
	"github.com/SimonWaldherr/tinySQL/internal/record"
	"github.com/SimonWaldherr/tinySQL/internal/vdbe"
	"github.com/SimonWaldherr/tinySQL/internal/vfs"
)

// DriverName is the name this package registers with database/sql.
const DriverName = "tinysql"

func init() {
	sql.Register(DriverName, &tinyDriver{})
}

// OpenInMemory returns a *sql.DB backed by a fresh named in-memory
// database. An empty name gets an unshared database of its own.
func OpenInMemory(name string) (*sql.DB, error) {
	if name == "" {
		name = fmt.Sprintf("anon%p", &name)
	}
	return sql.Open(DriverName, "mem://"+name)
}

// tinyDriver is the database/sql entry point.
type tinyDriver struct {
	mu  sync.Mutex
	mem map[string]*pager.Pager
}

func (d *tinyDriver) Open(dsn string) (driver.Conn, error) {
	p, err := d.openPager(dsn)
	if err != nil {
		return nil, err
	}
	vc, err := vdbe.Open(p)
	if err != nil {
		return nil, err
	}
	return &conn{p: p, vc: vc}, nil
}

// openPager resolves dsn to a *pager.Pager. Two connections sharing a
// mem://name DSN share one in-memory pager instead of each getting their
// own empty database, matching how two connections to the same file:path
// DSN already end up looking at the same on-disk bytes through the OS.
func (d *tinyDriver) openPager(dsn string) (*pager.Pager, error) {
	switch {
	case dsn == "" || strings.HasPrefix(dsn, "mem://"):
		name := strings.TrimPrefix(dsn, "mem://")
		if name == "" {
			name = "default"
		}
		d.mu.Lock()
		defer d.mu.Unlock()
		if d.mem == nil {
			d.mem = make(map[string]*pager.Pager)
		}
		if p, ok := d.mem[name]; ok {
			return p, nil
		}
		p, err := pager.Open(vfs.NewMemVFS(), name+".db", 256)
		if err != nil {
			return nil, err
		}
		d.mem[name] = p
		return p, nil
	case strings.HasPrefix(dsn, "file:"):
		path := strings.TrimPrefix(dsn, "file:")
		if i := strings.IndexByte(path, '?'); i >= 0 {
			path = path[:i]
		}
		if path == "" {
			return nil, fmt.Errorf("tinysql: file: DSN requires a path")
		}
		return pager.Open(vfs.NewOSVFS(""), path, 256)
	default:
		return nil, fmt.Errorf("tinysql: unsupported DSN %q", dsn)
	}
}

// conn is one database/sql connection: a vdbe.Conn plus the pager behind
// it, needed directly for transaction control.
type conn struct {
	p  *pager.Pager
	vc *vdbe.Conn
}

func (c *conn) Prepare(query string) (driver.Stmt, error) {
	return &stmt{c: c, query: query}, nil
}

// Close is a no-op: the pager (and, for mem:// DSNs, the database it
// guards) outlives any one *sql.DB connection-pool slot, exactly as a real
// file's bytes outlive any one process that happens to close its handle.
func (c *conn) Close() error { return nil }

func (c *conn) Begin() (driver.Tx, error) {
	if err := c.p.BeginWrite(); err != nil {
		return nil, err
	}
	return &tx{c: c}, nil
}

type tx struct{ c *conn }

func (t *tx) Commit() error   { return t.c.p.Commit() }
func (t *tx) Rollback() error { return t.c.p.Rollback() }

type stmt struct {
	c     *conn
	query string
}

func (s *stmt) Close() error { return nil }

// NumInput returns -1: parameter counting would require parsing the
// statement a second time outside of Exec/Query, and database/sql accepts
// -1 to mean "don't pre-validate the argument count".
func (s *stmt) NumInput() int { return -1 }

func (s *stmt) Exec(args []driver.Value) (driver.Result, error) {
	res, err := s.c.vc.Exec(s.query, toParams(args)...)
	if err != nil {
		return nil, err
	}
	return execResult{res}, nil
}

func (s *stmt) Query(args []driver.Value) (driver.Rows, error) {
	rs, err := s.c.vc.Query(s.query, toParams(args)...)
	if err != nil {
		return nil, err
	}
	return &rows{cols: rs.Cols, data: rs.Rows}, nil
}

func toParams(args []driver.Value) []record.Value {
	out := make([]record.Value, len(args))
	for i, a := range args {
		out[i] = fromDriverValue(a)
	}
	return out
}

func fromDriverValue(v driver.Value) record.Value {
	switch x := v.(type) {
	case nil:
		return record.Null()
	case int64:
		return record.Integer(x)
	case float64:
		return record.Real(x)
	case bool:
		if x {
			return record.Integer(1)
		}
		return record.Integer(0)
	case []byte:
		return record.Blob(x)
	case string:
		return record.Text(x)
	default:
		return record.Text(fmt.Sprint(x))
	}
}

type execResult struct{ res vdbe.Result }

func (r execResult) LastInsertId() (int64, error) { return r.res.LastInsertRowid, nil }
func (r execResult) RowsAffected() (int64, error) { return int64(r.res.RowsAffected), nil }

type rows struct {
	cols []string
	data [][]record.Value
	pos  int
}

func (r *rows) Columns() []string { return r.cols }
func (r *rows) Close() error      { return nil }

func (r *rows) Next(dest []driver.Value) error {
	if r.pos >= len(r.data) {
		return io.EOF
	}
	row := r.data[r.pos]
	r.pos++
	for i, v := range row {
		dest[i] = toDriverValue(v)
	}
	return nil
}

func toDriverValue(v record.Value) driver.Value {
	switch v.Kind {
	case record.KindNull:
		return nil
	case record.KindInteger:
		return v.I
	case record.KindReal:
		return v.R
	case record.KindBlob:
		return append([]byte(nil), v.S...)
	default:
		return string(v.S)
	}
}

var (
	_ driver.Conn = (*conn)(nil)
	_ driver.Tx   = (*tx)(nil)
	_ driver.Stmt = (*stmt)(nil)
	_ driver.Rows = (*rows)(nil)
)
