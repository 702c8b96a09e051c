package vdbe

import "github.com/SimonWaldherr/tinySQL/internal/record"

// Mem is one register-file cell (spec.md §4.9 "dynamic Mem cells"). It
// wraps a record.Value since every scalar the interpreter touches already
// has a well-defined serialization; no separate register tag type is
// needed beyond the Value's own Kind.
type Mem = record.Value

func truthy(m Mem) bool {
	switch m.Kind {
	case record.KindNull:
		return false
	case record.KindInteger:
		return m.I != 0
	case record.KindReal:
		return m.R != 0
	case record.KindText, record.KindBlob:
		return len(m.S) > 0
	default:
		return false
	}
}
