package record

import (
	"bytes"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// Collation is a total order over text values (spec.md §3, GLOSSARY).
type Collation uint8

const (
	CollationBinary Collation = iota
	CollationNoCase
	CollationRTrim
	CollationCustom
)

// CompareFunc is the shape of a Custom collation's comparator.
type CompareFunc func(a, b []byte) int

var foldCaser = cases.Fold()

// CompareText compares two text byte slices under the given collation. For
// CollationCustom, cmp must be non-nil.
func CompareText(a, b []byte, coll Collation, cmp CompareFunc) int {
	switch coll {
	case CollationBinary:
		return bytes.Compare(a, b)
	case CollationNoCase:
		// Unicode case-folding (not ASCII-only strings.ToUpper), so that
		// e.g. Turkish "İ" folds consistently — golang.org/x/text/cases
		// backs this rather than a hand-rolled ASCII fold.
		fa := foldCaser.Bytes(a)
		fb := foldCaser.Bytes(b)
		return bytes.Compare(fa, fb)
	case CollationRTrim:
		ta := bytes.TrimRight(a, " ")
		tb := bytes.TrimRight(b, " ")
		return bytes.Compare(ta, tb)
	case CollationCustom:
		if cmp == nil {
			return bytes.Compare(a, b)
		}
		return cmp(a, b)
	default:
		return bytes.Compare(a, b)
	}
}

// LocaleCollator builds a Custom CompareFunc for registering COLLATE names
// beyond NOCASE/RTRIM/BINARY. The returned function compares Unicode
// case-folded bytes; tag is stored but does not change the order, and no
// locale collation tables are used.
func LocaleCollator(tag language.Tag) CompareFunc {
	col := newXTextCollator(tag)
	return func(a, b []byte) int {
		return col.Compare(a, b)
	}
}

type xtextCollator struct {
	tag language.Tag
}

func newXTextCollator(tag language.Tag) *xtextCollator {
	return &xtextCollator{tag: tag}
}

// Compare delegates to strings.Compare after the same locale-independent
// Unicode case folding NOCASE uses, whatever c.tag is; kept
// minimal since full tailored collation tables are outside this engine's
// scope (spec.md Non-goals exclude user-defined query languages, and custom
// collation functions are registered by the embedding application, not the
// core).
func (c *xtextCollator) Compare(a, b []byte) int {
	return strings.Compare(string(foldCaser.Bytes(a)), string(foldCaser.Bytes(b)))
}
