package schema

import "github.com/SimonWaldherr/tinySQL/internal/record"

// BuildIndexKey composes the encoded b-tree key (and its decoded values,
// for cursor comparisons) for one table row's entry in idx: the indexed
// columns in declared order, affinity-coerced, followed by the owning
// table's rowid as a trailing tie-breaker column (spec.md §4.6 index-key
// composition) so non-unique indexes still impose a total order. Shared
// by internal/schema's CREATE INDEX backfill and internal/vdbe's per-row
// index maintenance on INSERT/UPDATE/DELETE.
func BuildIndexKey(tbl *Table, idx *Index, row []record.Value, rowid int64) (key []byte, decoded []record.Value) {
	decoded = make([]record.Value, 0, len(idx.Columns)+1)
	for _, ic := range idx.Columns {
		ci := tbl.ColumnIndex(ic.Name)
		var v record.Value
		if ci >= 0 && ci < len(row) {
			v = record.ApplyAffinity(row[ci], tbl.Columns[ci].Affinity)
		}
		decoded = append(decoded, v)
	}
	decoded = append(decoded, record.Integer(rowid))
	key = record.Encode(decoded)
	return key, decoded
}
