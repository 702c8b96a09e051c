package record

// ColumnKey describes one column of an index's key for comparison purposes
// (spec.md GLOSSARY: KeyInfo).
type ColumnKey struct {
	Collation   Collation
	CustomCmp   CompareFunc
	Desc        bool
	NullsFirst  bool
}

// KeyInfo names the per-column collations and sort flags used to compare
// two index keys or two table rowids (spec.md §4.5, §4.6).
type KeyInfo struct {
	Columns []ColumnKey
}

// typeClass orders the comparison classes: NULL < Integer/Real < Text < Blob
// (spec.md §3 Value types).
func typeClass(v Value) int {
	switch v.Kind {
	case KindNull:
		return 0
	case KindInteger, KindReal:
		return 1
	case KindText:
		return 2
	case KindBlob:
		return 3
	default:
		return 0
	}
}

// CompareValue compares two scalar values honoring NULL-ordering and
// collation, without column affinity coercion (callers apply affinity
// first via ApplyAffinity when a column affinity is known).
func CompareValue(a, b Value, ck ColumnKey) int {
	ca, cb := typeClass(a), typeClass(b)
	if a.IsNull() || b.IsNull() {
		if a.IsNull() && b.IsNull() {
			return 0
		}
		// NULL sorts below every other value (spec.md §4.6); Desc flips
		// that unless the NULL-ordering flag pins NULLs first.
		cmp := 1
		if a.IsNull() {
			cmp = -1
		}
		if ck.Desc && !ck.NullsFirst {
			cmp = -cmp
		}
		return cmp
	}
	if ca != cb {
		if ca < cb {
			return -1
		}
		return 1
	}
	var cmp int
	switch ca {
	case 1: // numeric
		cmp = compareNumeric(a, b)
	case 2: // text
		cmp = CompareText(a.S, b.S, ck.Collation, ck.CustomCmp)
	case 3: // blob
		cmp = compareBytesRaw(a.S, b.S)
	}
	if ck.Desc {
		cmp = -cmp
	}
	return cmp
}

func compareNumeric(a, b Value) int {
	af, bf := asFloat(a), asFloat(b)
	switch {
	case af < bf:
		return -1
	case af > bf:
		return 1
	default:
		return 0
	}
}

func asFloat(v Value) float64 {
	if v.Kind == KindInteger {
		return float64(v.I)
	}
	return v.R
}

func compareBytesRaw(a, b []byte) int {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	for i := 0; i < n; i++ {
		if a[i] != b[i] {
			if a[i] < b[i] {
				return -1
			}
			return 1
		}
	}
	switch {
	case len(a) < len(b):
		return -1
	case len(a) > len(b):
		return 1
	default:
		return 0
	}
}

// CompareRecords compares two decoded records column-by-column in KeyInfo
// order, stopping at the first non-zero comparison (spec.md §4.6).
func CompareRecords(a, b []Value, ki *KeyInfo) int {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	for i := 0; i < n; i++ {
		var ck ColumnKey
		if ki != nil && i < len(ki.Columns) {
			ck = ki.Columns[i]
		}
		if c := CompareValue(a[i], b[i], ck); c != 0 {
			return c
		}
	}
	switch {
	case len(a) < len(b):
		return -1
	case len(a) > len(b):
		return 1
	default:
		return 0
	}
}
