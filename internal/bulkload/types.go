package bulkload

import (
	"strconv"
	"strings"

	"github.com/SimonWaldherr/tinySQL/internal/record"
)

// colType is the column affinity a shapefile attribute field gets mapped
// to, inferred by sampling every row's value for that field.
type colType int

const (
	colText colType = iota
	colInteger
	colReal
)

func (t colType) sqlName() string {
	switch t {
	case colInteger:
		return "INTEGER"
	case colReal:
		return "REAL"
	default:
		return "TEXT"
	}
}

// inferColumnTypes decides one colType per field by checking whether every
// non-empty value in that field across every row parses as an integer or a
// float, the way the teacher's CSV/JSON importer votes across a column's
// sampled values before committing to a type — except here the vote must be
// unanimous, since this engine's affinity model has no partial-confidence
// "mostly numeric" column.
func inferColumnTypes(rows [][]string, numFields int) []colType {
	types := make([]colType, numFields)
	for fi := 0; fi < numFields; fi++ {
		allInt, allReal, sawValue := true, true, false
		for _, row := range rows {
			v := strings.TrimSpace(row[fi])
			if v == "" {
				continue
			}
			sawValue = true
			if _, err := strconv.ParseInt(v, 10, 64); err != nil {
				allInt = false
			}
			if _, err := strconv.ParseFloat(v, 64); err != nil {
				allReal = false
			}
		}
		switch {
		case !sawValue:
			types[fi] = colText
		case allInt:
			types[fi] = colInteger
		case allReal:
			types[fi] = colReal
		default:
			types[fi] = colText
		}
	}
	return types
}

func convertValue(s string, t colType) record.Value {
	s = strings.TrimSpace(s)
	if s == "" {
		return record.Null()
	}
	switch t {
	case colInteger:
		if n, err := strconv.ParseInt(s, 10, 64); err == nil {
			return record.Integer(n)
		}
	case colReal:
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			return record.Real(f)
		}
	}
	return record.Text(s)
}
