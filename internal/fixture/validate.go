package fixture

import (
	"fmt"
	"sort"

	"araradar/internal/api"
)

// Statuses reported by Validate.
const (
	StatusValid   = "valid"
	StatusWarning = "warning"
	StatusError   = "error"
)

// Validate checks a dataset and returns its status plus structured notes.
// Null Date or Ticker cells are fatal, nulls elsewhere only warn, and
// duplicate (Date, Ticker) pairs warn with first occurrence kept.
func Validate(t *Table) (string, api.Validation) {
	var v api.Validation

	if len(t.Rows) == 0 {
		v.Errors = append(v.Errors, "Dataset is empty")
		return StatusError, v
	}

	var missing []string
	for _, col := range RequiredCols {
		if t.Col(col) < 0 {
			missing = append(missing, col)
		}
	}
	if len(missing) > 0 {
		v.Errors = append(v.Errors, fmt.Sprintf("Missing required columns: %v", missing))
		return StatusError, v
	}

	total := len(t.Rows)
	for _, col := range RequiredCols {
		nulls := 0
		for i := range t.Rows {
			if t.Cell(i, col) == "" {
				nulls++
			}
		}
		if nulls == 0 {
			continue
		}
		pct := float64(nulls) / float64(total) * 100
		msg := fmt.Sprintf("%s has %d null values (%.1f%%)", col, nulls, pct)
		if col == "Date" || col == "Ticker" {
			v.Errors = append(v.Errors, msg)
		} else {
			v.Warnings = append(v.Warnings, msg)
		}
	}
	if len(v.Errors) > 0 {
		return StatusError, v
	}

	// Rows with both keys present, in original order.
	type key struct{ date, ticker string }
	seen := make(map[key]bool)
	dupes := 0
	var dates []string
	tickers := make(map[string]bool)
	clean := 0
	for i := range t.Rows {
		d, tk := t.Cell(i, "Date"), t.Cell(i, "Ticker")
		if d == "" || tk == "" {
			continue
		}
		clean++
		dates = append(dates, d)
		tickers[tk] = true
		k := key{d, tk}
		if seen[k] {
			dupes++
		}
		seen[k] = true
	}
	if dupes > 0 {
		v.Warnings = append(v.Warnings, fmt.Sprintf(
			"Found %d duplicate (Date, Ticker) pairs - keeping first occurrence", dupes))
	}

	sort.Strings(dates)
	v.Info = append(v.Info, fmt.Sprintf("Date range: %s to %s", dates[0], dates[len(dates)-1]))
	v.Info = append(v.Info, fmt.Sprintf("Unique tickers: %d", len(tickers)))
	v.Info = append(v.Info, fmt.Sprintf("Total rows: %d", clean))

	if len(v.Warnings) > 0 {
		return StatusWarning, v
	}
	return StatusValid, v
}

// TickerCount returns the number of distinct tickers in the dataset.
func TickerCount(t *Table) int {
	i := t.Col("Ticker")
	if i < 0 {
		return 0
	}
	set := make(map[string]bool)
	for _, row := range t.Rows {
		if i < len(row) && row[i] != "" {
			set[row[i]] = true
		}
	}
	return len(set)
}

// AsOfDate returns the latest Date value in the dataset, or "".
func AsOfDate(t *Table) string {
	i := t.Col("Date")
	if i < 0 {
		return ""
	}
	latest := ""
	for _, row := range t.Rows {
		if i < len(row) && row[i] > latest {
			latest = row[i]
		}
	}
	return latest
}
