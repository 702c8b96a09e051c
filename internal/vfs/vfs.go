// Package vfs defines the narrow OS-capability interface the storage core
// consumes (spec.md §4.1). It is the only place that touches the real
// filesystem; the pager, B-tree, and VDBE packages never call os.* directly.
package vfs

import (
	"io"
	"time"
)

// OpenFlag is a bitmask of open intents passed to VFS.Open.
type OpenFlag uint32

const (
	OpenReadOnly OpenFlag = 1 << iota
	OpenReadWrite
	OpenCreate
	OpenExclusive
	OpenMainDB
	OpenMainJournal
	OpenWAL
	OpenTemp
	OpenDeleteOnClose
)

// LockLevel mirrors the rollback-journal lock ladder (spec.md §5).
type LockLevel int

const (
	LockNone LockLevel = iota
	LockShared
	LockReserved
	LockPending
	LockExclusive
)

// SyncFlag chooses the durability strength of a File.Sync call.
type SyncFlag int

const (
	SyncNormal SyncFlag = iota
	SyncFull
	SyncDataOnly
)

// File is the capability set a single open file exposes to the core.
type File interface {
	io.ReaderAt
	io.WriterAt
	io.Closer
	Truncate(size int64) error
	Sync(flag SyncFlag) error
	Size() (int64, error)
	Lock(level LockLevel) error
	Unlock(level LockLevel) error
	CheckReservedLock() (bool, error)

	// SharedMemoryMap exposes a named region for the WAL-index (spec.md
	// §4.4). Single-process implementations may back this with a plain
	// in-memory byte slice since spec.md's Non-goals exclude multi-process
	// shared WAL on exotic filesystems.
	SharedMemoryMap(region string, size int, create bool) ([]byte, error)
}

// VFS is the capability set the pager needs from the OS layer.
type VFS interface {
	Open(name string, flags OpenFlag) (File, error)
	Delete(name string, syncDir bool) error
	Exists(name string) (bool, error)
	FullPath(name string) (string, error)

	// Randomness fills buf with random bytes, used for WAL salts and the
	// rollback-journal nonce.
	Randomness(buf []byte) error

	// Sleep pauses the calling goroutine for at least d, used by busy
	// handlers (spec.md §5 Cancellation/timeouts).
	Sleep(d time.Duration)

	// Now returns the current UTC time.
	Now() time.Time

	// TempFileName returns a unique temporary file name built from prefix
	// and a UUID; OSVFS roots it under its temp directory.
	TempFileName(prefix string) (string, error)
}
