package schema

import (
	"strings"

	"github.com/SimonWaldherr/tinySQL/internal/record"
)

// AffinityForType derives a column's type affinity from its declared type
// name using SQLite's own substring-matching rules (spec.md §4.9 Affinity
// and comparison), since the parser keeps the declared type as free text
// rather than normalizing it into a closed enum.
func AffinityForType(typeName string) record.Affinity {
	t := strings.ToUpper(typeName)
	switch {
	case t == "":
		return record.AffBlob
	case strings.Contains(t, "INT"):
		return record.AffInteger
	case strings.Contains(t, "CHAR"), strings.Contains(t, "CLOB"), strings.Contains(t, "TEXT"):
		return record.AffText
	case strings.Contains(t, "BLOB"):
		return record.AffBlob
	case strings.Contains(t, "REAL"), strings.Contains(t, "FLOA"), strings.Contains(t, "DOUB"):
		return record.AffReal
	default:
		return record.AffNumeric
	}
}
