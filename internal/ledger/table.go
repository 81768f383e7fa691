package ledger

import (
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Table is a snapshot of a sheet: the header row plus data rows.
type Table struct {
	Header []string
	rows   [][]string
}

func newTable(rows [][]string) *Table {
	if len(rows) == 0 {
		return &Table{}
	}
	return &Table{Header: rows[0], rows: rows[1:]}
}

// Column resolves a header label to its 0-based index, ignoring case,
// whitespace and accents.
func (t *Table) Column(label string) (int, bool) {
	want := normalizeHeader(label)
	for i, h := range t.Header {
		if normalizeHeader(h) == want {
			return i, true
		}
	}
	return -1, false
}

func (t *Table) Records() []Record {
	out := make([]Record, len(t.rows))
	for i, r := range t.rows {
		out[i] = Record{Number: i + 2, cells: r, table: t}
	}
	return out
}

// Record is one data row. Number is its 1-based position in the sheet.
type Record struct {
	Number int
	cells  []string
	table  *Table
}

// At returns the trimmed cell at col, or "" when the row is shorter.
func (r Record) At(col int) string {
	if col < 0 || col >= len(r.cells) {
		return ""
	}
	return strings.TrimSpace(r.cells[col])
}

// Get returns the cell under the named header.
func (r Record) Get(label string) string {
	if r.table == nil {
		return ""
	}
	col, ok := r.table.Column(label)
	if !ok {
		return ""
	}
	return r.At(col)
}

func normalizeValue(s string) string {
	s = cases.Fold().String(s)
	return strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) {
			return -1
		}
		return r
	}, s)
}

func normalizeHeader(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	stripped, _, err := transform.String(t, s)
	if err != nil {
		stripped = s
	}
	return normalizeValue(stripped)
}
