// Package ledger wraps a spreadsheet used as a system of record. The first
// row of a sheet names its columns: reads locate columns by header name on
// every access, writes are positional and the caller owns the field order.
package ledger

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
)

// Sheets is the values API the ledger needs.
type Sheets interface {
	Values(ctx context.Context, spreadsheetID, rng string) ([][]string, error)
	Append(ctx context.Context, spreadsheetID, rng string, row []string) error
	Update(ctx context.Context, spreadsheetID, rng string, row []string) error
}

type Ledger struct {
	sheets        Sheets
	spreadsheetID string
	sheet         string
}

func New(sheets Sheets, spreadsheetID, sheet string) *Ledger {
	return &Ledger{sheets: sheets, spreadsheetID: spreadsheetID, sheet: sheet}
}

func (l *Ledger) Sheet() string {
	return l.sheet
}

// Read loads the sheet's full used range.
func (l *Ledger) Read(ctx context.Context) (*Table, error) {
	rows, err := l.sheets.Values(ctx, l.spreadsheetID, quoteSheet(l.sheet))
	if err != nil {
		return nil, fmt.Errorf("read ledger %s: %w", l.sheet, err)
	}
	return newTable(rows), nil
}

// IsDuplicate reports whether any data row holds value in the column headed
// by header, comparing case and whitespace insensitively. A sheet without
// that header never reports a duplicate: a broken schema must not block
// legitimate submissions.
func (l *Ledger) IsDuplicate(ctx context.Context, header, value string) (bool, error) {
	t, err := l.Read(ctx)
	if err != nil {
		return false, err
	}

	col, ok := t.Column(header)
	if !ok {
		slog.Warn("duplicate check skipped, header not found", "sheet", l.sheet, "header", header)
		return false, nil
	}

	want := normalizeValue(value)
	if want == "" {
		return false, nil
	}
	for _, rec := range t.Records() {
		if normalizeValue(rec.At(col)) == want {
			return true, nil
		}
	}
	return false, nil
}

// FindRow returns the last data row whose header column matches value.
func (l *Ledger) FindRow(ctx context.Context, header, value string) (Record, bool, error) {
	t, err := l.Read(ctx)
	if err != nil {
		return Record{}, false, err
	}

	col, ok := t.Column(header)
	if !ok {
		slog.Warn("lookup skipped, header not found", "sheet", l.sheet, "header", header)
		return Record{}, false, nil
	}

	want := normalizeValue(value)
	recs := t.Records()
	for i := len(recs) - 1; i >= 0; i-- {
		if normalizeValue(recs[i].At(col)) == want {
			return recs[i], true, nil
		}
	}
	return Record{}, false, nil
}

// AppendRow writes row as a new line. Values land in column order starting
// at A; nothing is reordered by header.
func (l *Ledger) AppendRow(ctx context.Context, row []string) error {
	if len(row) == 0 {
		return fmt.Errorf("append to %s: empty row", l.sheet)
	}
	rng := fmt.Sprintf("%s!A:%s", quoteSheet(l.sheet), ColumnLetter(len(row)-1))
	if err := l.sheets.Append(ctx, l.spreadsheetID, rng, row); err != nil {
		return fmt.Errorf("append to %s: %w", l.sheet, err)
	}
	return nil
}

// SetCell overwrites one cell. rowNumber is the 1-based sheet row and col the
// 0-based column index, as reported by Record.Number and Table.Column.
func (l *Ledger) SetCell(ctx context.Context, rowNumber, col int, value string) error {
	if rowNumber < 2 {
		return fmt.Errorf("set cell in %s: row %d is not a data row", l.sheet, rowNumber)
	}
	rng := fmt.Sprintf("%s!%s%d", quoteSheet(l.sheet), ColumnLetter(col), rowNumber)
	if err := l.sheets.Update(ctx, l.spreadsheetID, rng, []string{value}); err != nil {
		return fmt.Errorf("set cell %s: %w", rng, err)
	}
	return nil
}

// ColumnLetter converts a 0-based column index to A1 notation (0 -> A,
// 26 -> AA).
func ColumnLetter(col int) string {
	var b []byte
	for col >= 0 {
		b = append([]byte{byte('A' + col%26)}, b...)
		col = col/26 - 1
	}
	return string(b)
}

func quoteSheet(name string) string {
	for _, r := range name {
		if !(r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9' || r == '_') {
			return "'" + strings.ReplaceAll(name, "'", "''") + "'"
		}
	}
	return name
}
