// Package dashboard renders backend state for the terminal UI. Everything
// here is pure presentation: no fetching, no decisions, just formatting of
// what the coordinators already hold.
package dashboard

import (
	"fmt"
	"strings"
)

// FormatProba formats a model probability to 4 decimal places.
func FormatProba(p float64) string {
	return fmt.Sprintf("%.4f", p)
}

// FormatVolRank formats a volume-rank percentile to 3 decimal places, or
// "-" when the backend supplied none.
func FormatVolRank(v float64) string {
	if v == 0 {
		return "-"
	}
	return fmt.Sprintf("%.3f", v)
}

// FormatInt formats an integer with comma separators.
func FormatInt(n int) string {
	s := fmt.Sprintf("%d", n)
	if len(s) <= 3 {
		return s
	}
	var b strings.Builder
	start := len(s) % 3
	if start > 0 {
		b.WriteString(s[:start])
	}
	for i := start; i < len(s); i += 3 {
		if b.Len() > 0 {
			b.WriteByte(',')
		}
		b.WriteString(s[i : i+3])
	}
	return b.String()
}

// PadOrTrunc pads s with spaces to width, or truncates if longer.
func PadOrTrunc(s string, width int) string {
	n := len(s)
	if n >= width {
		return s[:width]
	}
	return s + strings.Repeat(" ", width-n)
}

// orDash substitutes "-" for an empty backend field.
func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
