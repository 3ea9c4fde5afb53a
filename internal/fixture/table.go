// Package fixture is a self-contained development backend. It serves the
// same HTTP surface as the production scoring service with canned models,
// so the terminal UI and ingest tools can run without Python infrastructure.
// Ingested datasets are kept in a local SQLite registry.
package fixture

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"regexp"
	"strings"
)

// RequiredCols are the columns every dataset must carry.
var RequiredCols = []string{"Date", "Ticker", "Open", "High", "Low", "Close", "Volume"}

// Table is a parsed tabular dataset. Cell values stay as strings; the
// production service does typed parsing downstream, the fixture only needs
// validation-level access.
type Table struct {
	Columns []string
	Rows    [][]string
}

// Col returns the index of a column, or -1.
func (t *Table) Col(name string) int {
	for i, c := range t.Columns {
		if c == name {
			return i
		}
	}
	return -1
}

// Cell returns the value at (row, column name), or "" when absent.
func (t *Table) Cell(row int, name string) string {
	i := t.Col(name)
	if i < 0 || i >= len(t.Rows[row]) {
		return ""
	}
	return t.Rows[row][i]
}

// NormalizeTicker uppercases a ticker and appends the .JK suffix for the
// Indonesian market.
func NormalizeTicker(ticker, market string) string {
	ticker = strings.ToUpper(strings.TrimSpace(ticker))
	if market == "ID" && !strings.HasSuffix(ticker, ".JK") {
		ticker += ".JK"
	}
	return ticker
}

// ParseCSV parses CSV bytes into a Table and normalizes tickers for the
// given market.
func ParseCSV(data []byte, market string) (*Table, error) {
	r := csv.NewReader(bytes.NewReader(data))
	r.FieldsPerRecord = -1
	records, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("parsing csv: %w", err)
	}
	if len(records) == 0 {
		return &Table{}, nil
	}
	t := &Table{Columns: records[0], Rows: records[1:]}
	normalizeTickers(t, market)
	return t, nil
}

var wsSplit = regexp.MustCompile(`\s+`)

// ParsePaste parses pasted text. Tab and comma delimiters are detected,
// otherwise any whitespace run splits columns.
func ParsePaste(text, market string) (*Table, error) {
	switch {
	case strings.Contains(text, "\t"):
		return parseSep(text, '\t', market)
	case strings.Contains(text, ","):
		return parseSep(text, ',', market)
	}

	var rows [][]string
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		rows = append(rows, wsSplit.Split(line, -1))
	}
	if len(rows) == 0 {
		return &Table{}, nil
	}
	t := &Table{Columns: rows[0], Rows: rows[1:]}
	normalizeTickers(t, market)
	return t, nil
}

func parseSep(text string, sep rune, market string) (*Table, error) {
	r := csv.NewReader(strings.NewReader(text))
	r.Comma = sep
	r.FieldsPerRecord = -1
	records, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("parsing pasted text: %w", err)
	}
	if len(records) == 0 {
		return &Table{}, nil
	}
	t := &Table{Columns: records[0], Rows: records[1:]}
	normalizeTickers(t, market)
	return t, nil
}

func normalizeTickers(t *Table, market string) {
	i := t.Col("Ticker")
	if i < 0 {
		return
	}
	for _, row := range t.Rows {
		if i < len(row) {
			row[i] = NormalizeTicker(row[i], market)
		}
	}
}
