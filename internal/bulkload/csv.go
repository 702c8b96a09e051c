package bulkload

import (
	"bufio"
	"compress/gzip"
	"encoding/csv"
	"fmt"
	"io"
	"strings"
	"unicode/utf8"

	"github.com/SimonWaldherr/tinySQL/internal/record"
	"github.com/SimonWaldherr/tinySQL/internal/vdbe"
)

// delimiterCandidates is tried in order during auto-detection, the same
// four separators the teacher's csv.go tests for.
var delimiterCandidates = []rune{',', ';', '\t', '|'}

// ImportCSV reads delimited data from r, auto-detecting its delimiter and
// whether the first record is a header row, then loads every record into
// table (creating it first if it doesn't already exist). A gzip-compressed
// reader is detected and transparently decompressed, matching the
// teacher's importer's "transparent GZIP input" feature.
func ImportCSV(conn *vdbe.Conn, r io.Reader, table string) (*Result, error) {
	br := bufio.NewReader(r)
	if gz, err := maybeGunzip(br); err != nil {
		return nil, fmt.Errorf("bulkload: %w", err)
	} else if gz != nil {
		br = bufio.NewReader(gz)
	}

	sample, err := br.Peek(64 * 1024)
	if err != nil && err != io.EOF && err != bufio.ErrBufferFull {
		return nil, fmt.Errorf("bulkload: sample csv: %w", err)
	}
	delim := detectDelimiter(string(sample))

	cr := csv.NewReader(br)
	cr.Comma = delim
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	records, err := cr.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("bulkload: parse csv: %w", err)
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("bulkload: no records found")
	}

	numFields := len(records[0])
	header, dataRows := splitHeader(records, numFields)

	colNames := make([]string, numFields)
	for i := range colNames {
		if header != nil {
			colNames[i] = sanitizeIdent(header[i])
		} else {
			colNames[i] = fmt.Sprintf("col_%d", i+1)
		}
	}

	colTypes := inferColumnTypes(dataRows, numFields)

	// Unlike a shapefile import, a CSV table has no geometry column, so
	// buildCreateTableSQL is not used here.
	defs := make([]string, numFields)
	for i := range colNames {
		defs[i] = quoteIdent(colNames[i]) + " " + colTypes[i].sqlName()
	}
	createSQL := "CREATE TABLE IF NOT EXISTS " + quoteIdent(table) + " (" + strings.Join(defs, ", ") + ")"
	if _, err := conn.Exec(createSQL); err != nil {
		return nil, fmt.Errorf("bulkload: create table %s: %w", table, err)
	}

	rows := make([][]record.Value, len(dataRows))
	for i, rec := range dataRows {
		row := make([]record.Value, numFields)
		for fi := 0; fi < numFields; fi++ {
			var v string
			if fi < len(rec) {
				v = rec[fi]
			}
			row[fi] = convertValue(v, colTypes[fi])
		}
		rows[i] = row
	}

	n, err := conn.BulkInsert(table, rows)
	if err != nil {
		return nil, fmt.Errorf("bulkload: insert into %s: %w", table, err)
	}
	return &Result{Table: table, Rows: n, Columns: colNames}, nil
}

func maybeGunzip(br *bufio.Reader) (io.Reader, error) {
	magic, err := br.Peek(2)
	if err != nil {
		if err == io.EOF {
			return nil, nil
		}
		return nil, err
	}
	if magic[0] == 0x1f && magic[1] == 0x8b {
		return gzip.NewReader(br)
	}
	return nil, nil
}

// detectDelimiter picks whichever candidate separator occurs the most
// times in total across sample's first few lines (ties go to the earlier
// candidate). It counts occurrences per candidate like the teacher's
// importer, but does not score how steady each count is from line to line.
func detectDelimiter(sample string) rune {
	lines := strings.SplitN(sample, "\n", 6)
	best := delimiterCandidates[0]
	bestCount := -1
	for _, d := range delimiterCandidates {
		total := 0
		for _, line := range lines {
			total += strings.Count(line, string(d))
		}
		if total > bestCount {
			bestCount = total
			best = d
		}
	}
	return best
}

// splitHeader decides whether records[0] is a header row: if every field in
// it is non-numeric while at least one field in records[1] parses as a
// number, it is treated as a header the way the teacher's importer's
// heuristic does; otherwise every record is data and synthetic column names
// are generated.
func splitHeader(records [][]string, numFields int) (header []string, data [][]string) {
	if len(records) < 2 {
		return nil, records
	}
	first, second := records[0], records[1]
	firstLooksNumeric := false
	for _, v := range first {
		if looksNumeric(v) {
			firstLooksNumeric = true
			break
		}
	}
	secondHasNumeric := false
	for _, v := range second {
		if looksNumeric(v) {
			secondHasNumeric = true
			break
		}
	}
	allValidUTF8 := true
	for _, v := range first {
		if !utf8.ValidString(v) {
			allValidUTF8 = false
			break
		}
	}
	if !firstLooksNumeric && secondHasNumeric && allValidUTF8 {
		return first, records[1:]
	}
	return nil, records
}

func looksNumeric(s string) bool {
	s = strings.TrimSpace(s)
	if s == "" {
		return false
	}
	for _, r := range s {
		if (r < '0' || r > '9') && r != '.' && r != '-' && r != '+' {
			return false
		}
	}
	return true
}
