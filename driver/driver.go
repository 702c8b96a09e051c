// Package driver is the public, stable-surface wrapper around
// internal/driver's database/sql driver.
package driver

import (
	"database/sql"

	id "github.com/SimonWaldherr/tinySQL/internal/driver"
)

// DriverName is the registered database/sql driver name for tinySQL.
const DriverName = id.DriverName

// Open is a convenience wrapper around `sql.Open(DriverName, dsn)`.
func Open(dsn string) (*sql.DB, error) { return sql.Open(DriverName, dsn) }

// OpenFile is a convenience wrapper that opens a file-backed database by
// constructing a `file:` DSN for `sql.Open`.
func OpenFile(path string) (*sql.DB, error) { return Open("file:" + path) }

// OpenInMemory returns a *sql.DB backed by a fresh named in-memory
// database.
func OpenInMemory(name string) (*sql.DB, error) { return id.OpenInMemory(name) }
