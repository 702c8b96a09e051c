//go:build unix

package vfs

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// Lock implements the Shared→Reserved→Pending→Exclusive ladder with
// advisory byte-range record locks via fcntl(2) F_SETLK, the same
// primitive the format's own unix VFS uses (spec.md §4.1, §5). Byte ranges
// are chosen so that Shared locks from many readers coexist, Reserved
// coexists with existing Shared locks but blocks new Reserved/Exclusive,
// and Pending blocks new Shared locks (Shared probes the pending byte)
// while existing ones drain. The locks are per process: they do not
// exclude other handles within the same process.
const (
	lockByteShared    = 1 << 20
	lockByteReserved  = lockByteShared + 1
	lockBytePending   = lockByteShared + 2
	lockByteExclusive = lockByteShared + 3
)

func (o *osFile) Lock(level LockLevel) error {
	fd := int(o.f.Fd())
	switch level {
	case LockNone:
		return nil
	case LockShared:
		// Probe the pending byte first so a writer holding Pending turns
		// away new readers.
		if err := flockRange(fd, lockBytePending, 1, unix.F_RDLCK); err != nil {
			return err
		}
		err := flockRange(fd, lockByteShared, 1, unix.F_RDLCK)
		_ = flockRange(fd, lockBytePending, 1, unix.F_UNLCK)
		return err
	case LockReserved:
		return flockRange(fd, lockByteReserved, 1, unix.F_WRLCK)
	case LockPending:
		return flockRange(fd, lockBytePending, 1, unix.F_WRLCK)
	case LockExclusive:
		return flockRange(fd, lockByteShared, 4, unix.F_WRLCK)
	default:
		return fmt.Errorf("vfs lock: unknown level %d", level)
	}
}

func (o *osFile) Unlock(level LockLevel) error {
	fd := int(o.f.Fd())
	switch level {
	case LockNone, LockShared:
		return flockRange(fd, lockByteShared, 4, unix.F_UNLCK)
	default:
		return flockRange(fd, lockByteShared, 4, unix.F_UNLCK)
	}
}

func (o *osFile) CheckReservedLock() (bool, error) {
	fd := int(o.f.Fd())
	fl := unix.Flock_t{Type: unix.F_WRLCK, Whence: 0, Start: lockByteReserved, Len: 1}
	if err := unix.FcntlFlock(uintptr(fd), unix.F_GETLK, &fl); err != nil {
		return false, err
	}
	return fl.Type != unix.F_UNLCK, nil
}

func flockRange(fd int, start int64, length int64, typ int16) error {
	fl := unix.Flock_t{Type: typ, Whence: 0, Start: start, Len: length}
	if err := unix.FcntlFlock(uintptr(fd), unix.F_SETLK, &fl); err != nil {
		return fmt.Errorf("vfs flock: %w", err)
	}
	return nil
}
