// Package bulkload imports external row sources into a table, feeding the
// decoded rows through vdbe.Conn.BulkInsert's bulk-load path instead of one
// INSERT statement per row, the way a real .import command streams a large
// external file in with minimal per-row overhead (spec.md §0 internal/
// bulkload).
package bulkload

import (
	"fmt"
	"strings"

	shp "github.com/jonas-p/go-shp"

	"github.com/SimonWaldherr/tinySQL/internal/record"
	"github.com/SimonWaldherr/tinySQL/internal/vdbe"
)

// Result reports what one import call did.
type Result struct {
	Table   string
	Rows    int
	Columns []string
}

// ImportShapefile reads path's .shp/.dbf pair and loads every record into
// table, creating the table first if it doesn't already exist. Each DBF
// attribute field becomes a column, typed by sampling its values; geometry
// is flattened into a trailing "geometry" text column holding a WKT
// rendering, since this engine has no native geometry type (spec.md §0,
// driven by `.import --shp` in cmd/shell).
func ImportShapefile(conn *vdbe.Conn, path, table string) (*Result, error) {
	r, err := shp.Open(path)
	if err != nil {
		return nil, fmt.Errorf("bulkload: open %s: %w", path, err)
	}
	defer r.Close()

	fields := r.Fields()
	attrNames := make([]string, len(fields))
	for i, f := range fields {
		attrNames[i] = sanitizeIdent(f.String())
	}
	colNames := append(append([]string{}, attrNames...), "geometry")

	var attrRows [][]string
	var geoms []string
	for r.Next() {
		idx, shape := r.Shape()
		row := make([]string, len(fields))
		for fi := range fields {
			row[fi] = r.ReadAttribute(idx, fi)
		}
		attrRows = append(attrRows, row)
		geoms = append(geoms, renderGeometry(shape))
	}
	if len(attrRows) == 0 {
		return nil, fmt.Errorf("bulkload: no features found in %s", path)
	}

	colTypes := inferColumnTypes(attrRows, len(fields))

	if _, err := conn.Exec(buildCreateTableSQL(table, attrNames, colTypes)); err != nil {
		return nil, fmt.Errorf("bulkload: create table %s: %w", table, err)
	}

	rows := make([][]record.Value, len(attrRows))
	for i, attrs := range attrRows {
		row := make([]record.Value, len(attrs)+1)
		for fi, v := range attrs {
			row[fi] = convertValue(v, colTypes[fi])
		}
		row[len(attrs)] = record.Text(geoms[i])
		rows[i] = row
	}

	n, err := conn.BulkInsert(table, rows)
	if err != nil {
		return nil, fmt.Errorf("bulkload: insert into %s: %w", table, err)
	}
	return &Result{Table: table, Rows: n, Columns: colNames}, nil
}

// renderGeometry flattens a shapefile shape into WKT text, the way
// shapefile.go's type switch over *shp.Point/*shp.PolyLine/*shp.Polygon
// turns a shape into a representation the target schema can store in a
// single column.
func renderGeometry(shape shp.Shape) string {
	switch s := shape.(type) {
	case *shp.Point:
		return fmt.Sprintf("POINT(%s)", renderCoord(s.X, s.Y))
	case *shp.PolyLine:
		return fmt.Sprintf("LINESTRING(%s)", renderPoints(s.Points))
	case *shp.Polygon:
		return fmt.Sprintf("POLYGON((%s))", renderPoints(s.Points))
	default:
		return ""
	}
}

func renderPoints(pts []shp.Point) string {
	parts := make([]string, len(pts))
	for i, p := range pts {
		parts[i] = renderCoord(p.X, p.Y)
	}
	return strings.Join(parts, ", ")
}

func renderCoord(x, y float64) string {
	return fmt.Sprintf("%g %g", x, y)
}

func buildCreateTableSQL(table string, attrNames []string, colTypes []colType) string {
	var b strings.Builder
	b.WriteString("CREATE TABLE IF NOT EXISTS ")
	b.WriteString(quoteIdent(table))
	b.WriteString(" (")
	for i, name := range attrNames {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(quoteIdent(name))
		b.WriteByte(' ')
		b.WriteString(colTypes[i].sqlName())
	}
	if len(attrNames) > 0 {
		b.WriteString(", ")
	}
	b.WriteString(`"geometry" TEXT)`)
	return b.String()
}

func quoteIdent(s string) string {
	return `"` + s + `"`
}

// sanitizeIdent maps a DBF field name (fixed-width, sometimes padded with
// spaces or using characters this engine's identifier grammar rejects
// unquoted) onto a safe SQL identifier.
func sanitizeIdent(name string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		return "col"
	}
	var b strings.Builder
	for i, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r == '_':
			b.WriteRune(r)
		case r >= '0' && r <= '9':
			if i == 0 {
				b.WriteByte('_')
			}
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	return b.String()
}
