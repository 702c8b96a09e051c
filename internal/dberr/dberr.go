// Package dberr defines the closed taxonomy of result codes the engine
// returns, mirroring the primary/extended result-code scheme of the file
// format this module is compatible with.
package dberr

import "fmt"

// Code is a primary result code. Values match the well-known stable codes
// so callers that already branch on them (e.g. "retry on Busy") port over
// unchanged.
type Code int

const (
	OK         Code = 0
	Error      Code = 1
	Busy       Code = 5
	Locked     Code = 6
	NoMem      Code = 7
	ReadOnly   Code = 8
	Interrupt  Code = 9
	IOErr      Code = 10
	Corrupt    Code = 11
	Full       Code = 13
	CantOpen   Code = 14
	Schema     Code = 17
	TooBig     Code = 18
	Constraint Code = 19
	Mismatch   Code = 20
	Misuse     Code = 21
	Range      Code = 25
	NotADB     Code = 26
	Row        Code = 100
	Done       Code = 101
)

func (c Code) String() string {
	switch c {
	case OK:
		return "ok"
	case Error:
		return "error"
	case Busy:
		return "busy"
	case Locked:
		return "locked"
	case NoMem:
		return "nomem"
	case ReadOnly:
		return "readonly"
	case Interrupt:
		return "interrupt"
	case IOErr:
		return "ioerr"
	case Corrupt:
		return "corrupt"
	case Full:
		return "full"
	case CantOpen:
		return "cantopen"
	case Schema:
		return "schema"
	case TooBig:
		return "toobig"
	case Constraint:
		return "constraint"
	case Mismatch:
		return "mismatch"
	case Misuse:
		return "misuse"
	case Range:
		return "range"
	case NotADB:
		return "notadb"
	case Row:
		return "row"
	case Done:
		return "done"
	default:
		return fmt.Sprintf("code(%d)", int(c))
	}
}

// Extended refines a primary Code. Zero means "no refinement".
type Extended int

const (
	ExtNone            Extended = 0
	ExtConstraintUnique Extended = 8 << 8
	ExtConstraintNotNull Extended = 5 << 8
	ExtConstraintCheck  Extended = 3 << 8
	ExtConstraintForeignKey Extended = 4 << 8
	ExtConstraintPrimaryKey Extended = 6 << 8
	ExtIOErrRead        Extended = 1 << 8
	ExtIOErrWrite       Extended = 2 << 8
	ExtIOErrFsync       Extended = 4 << 8
)

// Error is the error type returned by every engine operation that can fail.
type Error struct {
	Code     Code
	Extended Extended
	Message  string
	Offset   int // byte offset into SQL text, for parse errors; -1 if n/a
}

func New(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...), Offset: -1}
}

func NewExtended(code Code, ext Extended, format string, args ...any) *Error {
	return &Error{Code: code, Extended: ext, Message: fmt.Sprintf(format, args...), Offset: -1}
}

func NewParse(offset int, format string, args ...any) *Error {
	return &Error{Code: Error, Message: fmt.Sprintf(format, args...), Offset: offset}
}

func (e *Error) Error() string {
	msg := e.Code.String() + ": " + e.Message
	if e.Extended != ExtNone {
		msg = fmt.Sprintf("%s (extended 0x%04x)", msg, int(e.Extended))
	}
	if e.Offset >= 0 {
		msg = fmt.Sprintf("%s (at byte %d)", msg, e.Offset)
	}
	return msg
}

// Is reports whether err carries the given primary code, so callers can use
// errors.Is(err, dberr.Busy) style checks via a sentinel comparison helper.
func Is(err error, code Code) bool {
	var e *Error
	if err == nil {
		return false
	}
	if as, ok := err.(*Error); ok {
		e = as
	} else {
		return false
	}
	return e.Code == code
}

// Retryable reports whether the caller may retry the operation unchanged:
// Busy/Locked/Interrupt carry no state change (spec.md §7).
func Retryable(err error) bool {
	var e *Error
	as, ok := err.(*Error)
	if !ok {
		return false
	}
	e = as
	switch e.Code {
	case Busy, Locked, Interrupt:
		return true
	default:
		return false
	}
}

// TransactionFatal reports whether the pager must refuse further writes
// until the caller rolls back (spec.md §7).
func TransactionFatal(err error) bool {
	as, ok := err.(*Error)
	if !ok {
		return false
	}
	switch as.Code {
	case IOErr, Corrupt, Full, NoMem:
		return true
	default:
		return false
	}
}
