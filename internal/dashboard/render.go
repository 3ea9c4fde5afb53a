package dashboard

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"araradar/internal/alerts"
	"araradar/internal/api"
)

// Styles.
var (
	headerStyle    = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("15")).Background(lipgloss.Color("4"))
	colHeaderStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
	tickerStyle    = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	tickerHlStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("11")).Background(lipgloss.Color("236"))
	probaStyle     = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("10"))
	dimStyle       = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
	errorStyle     = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("9"))
	alertBarStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("0")).Background(lipgloss.Color("3"))
	sparkStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("6"))
)

// RenderTable renders the candidates table: rank, ticker, probability to 4
// decimals, name, board, volume rank. Rows appear exactly in server order;
// tickers in the highlight set flash with an emphasis style.
func RenderTable(snap *api.ScoreSnapshot, highlighted map[string]bool, isLoading bool, err error) string {
	var b strings.Builder

	switch {
	case err != nil:
		b.WriteString(errorStyle.Render("Error loading data: " + err.Error()))
		b.WriteString("\n")
		if snap == nil {
			return b.String()
		}
		// Stale data stays visible under the error banner.
	case isLoading && snap == nil:
		b.WriteString(dimStyle.Render("Loading..."))
		b.WriteString("\n")
		return b.String()
	case snap == nil || len(snap.Rows) == 0:
		b.WriteString(dimStyle.Render("No candidates available. Upload data via the score endpoint."))
		b.WriteString("\n")
		return b.String()
	}

	b.WriteString(dimStyle.Render("Date: " + snap.Date))
	b.WriteString("\n")
	b.WriteString(colHeaderStyle.Render(fmt.Sprintf(
		"  %-4s %-10s %8s  %-28s %-12s %8s",
		"#", "Ticker", "Prob", "Nama", "Papan", "VolRank")))
	b.WriteString("\n")

	for i, row := range snap.Rows {
		hl := highlighted[row.Ticker]
		ts := tickerStyle
		if hl {
			ts = tickerHlStyle
		}
		b.WriteString(dimStyle.Render(fmt.Sprintf("  %-4d", i+1)))
		b.WriteString(ts.Render(fmt.Sprintf("%-10s", orDash(row.Ticker))))
		b.WriteString(probaStyle.Render(fmt.Sprintf("%8s", FormatProba(row.ProbaARAT1))))
		b.WriteString(fmt.Sprintf("  %-28s %-12s ", PadOrTrunc(orDash(row.Nama), 28), PadOrTrunc(orDash(row.Papan), 12)))
		b.WriteString(dimStyle.Render(fmt.Sprintf("%8s", FormatVolRank(row.VolRankDay))))
		b.WriteString("\n")
	}

	return b.String()
}

// RenderAlertBar renders the recent alerts strip, newest first. Empty input
// renders nothing.
func RenderAlertBar(recent []alerts.Event) string {
	if len(recent) == 0 {
		return ""
	}
	parts := make([]string, 0, len(recent))
	for _, ev := range recent {
		parts = append(parts, fmt.Sprintf("%s %s", ev.Ticker, FormatProba(ev.Proba)))
	}
	return alertBarStyle.Render(" ⚡ " + strings.Join(parts, "   ") + " ")
}

// RenderMetrics renders the aggregate metrics panel with an equity
// sparkline underneath when curve data is present.
func RenderMetrics(m *api.Metrics, eq *api.EquityCurve, width int) string {
	var b strings.Builder
	if m == nil {
		b.WriteString(dimStyle.Render("Metrics: loading..."))
		b.WriteString("\n")
		return b.String()
	}

	b.WriteString(fmt.Sprintf("AP Valid: %s   AP Test: %s\n",
		FormatProba(m.APValid), FormatProba(m.APTest)))

	if len(m.PAtK) > 0 {
		parts := make([]string, 0, len(m.PAtK))
		for _, k := range sortedPAtKKeys(m.PAtK) {
			parts = append(parts, fmt.Sprintf("P@%s %.3f", k, m.PAtK[k]))
		}
		b.WriteString(dimStyle.Render(strings.Join(parts, "   ")))
		b.WriteString("\n")
	}

	if eq != nil && len(eq.Equity) > 1 {
		b.WriteString(sparkStyle.Render(Sparkline(eq.Equity, width)))
		b.WriteString("\n")
		min, max := minMax(eq.Equity)
		b.WriteString(dimStyle.Render(fmt.Sprintf("equity %.2f .. %.2f", min, max)))
		b.WriteString("\n")
	}
	return b.String()
}

// RenderModelCard renders the model metadata page: type, version, expected
// feature count, evaluation metrics when the card carries them, backend
// health, and the raw card JSON.
func RenderModelCard(card *api.ModelCard, health json.RawMessage, isLoading bool, err error) string {
	var b strings.Builder
	b.WriteString(headerStyle.Render(" Model Card "))
	b.WriteString("\n\n")

	if err != nil {
		b.WriteString(errorStyle.Render("Error loading model card: " + err.Error()))
		b.WriteString("\n")
		return b.String()
	}
	if card == nil {
		if isLoading {
			b.WriteString(dimStyle.Render("Loading..."))
		} else {
			b.WriteString(dimStyle.Render("No model card available."))
		}
		b.WriteString("\n")
		return b.String()
	}

	var info struct {
		ModelType string `json:"model_type"`
		Version   string `json:"version"`
		Metrics   struct {
			APValid *float64           `json:"ap_valid"`
			APTest  *float64           `json:"ap_test"`
			PAtK    map[string]float64 `json:"p_at_k"`
		} `json:"metrics"`
	}
	_ = json.Unmarshal(card.Card, &info)
	if info.ModelType == "" {
		info.ModelType = "XGBoost Ensemble"
	}
	if info.Version == "" {
		info.Version = "N/A"
	}

	b.WriteString(fmt.Sprintf("Model Type: %s\n", info.ModelType))
	b.WriteString(fmt.Sprintf("Version:    %s\n", info.Version))
	b.WriteString(fmt.Sprintf("Features:   %d required\n", card.RequiredFeaturesCount))

	if info.Metrics.APValid != nil || info.Metrics.APTest != nil {
		b.WriteString("\n")
		if info.Metrics.APValid != nil {
			b.WriteString(fmt.Sprintf("AP Validation: %s\n", FormatProba(*info.Metrics.APValid)))
		}
		if info.Metrics.APTest != nil {
			b.WriteString(fmt.Sprintf("AP Test:       %s\n", FormatProba(*info.Metrics.APTest)))
		}
	}
	if len(info.Metrics.PAtK) > 0 {
		b.WriteString("\n")
		b.WriteString(colHeaderStyle.Render("Precision @ K"))
		b.WriteString("\n")
		for _, k := range sortedPAtKKeys(info.Metrics.PAtK) {
			b.WriteString(fmt.Sprintf("  P@%-4s %.3f\n", k, info.Metrics.PAtK[k]))
		}
	}

	if len(health) > 0 {
		b.WriteString("\n")
		b.WriteString(dimStyle.Render("Backend: " + string(health)))
		b.WriteString("\n")
	}

	if len(card.Card) > 0 {
		raw := &bytes.Buffer{}
		if json.Indent(raw, card.Card, "", "  ") == nil {
			b.WriteString("\n")
			b.WriteString(colHeaderStyle.Render("Raw JSON"))
			b.WriteString("\n")
			b.WriteString(dimStyle.Render(raw.String()))
			b.WriteString("\n")
		}
	}
	return b.String()
}

// sortedPAtKKeys orders p@k keys numerically so P@10 precedes P@20.
func sortedPAtKKeys(m map[string]float64) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		a, errA := strconv.Atoi(keys[i])
		b, errB := strconv.Atoi(keys[j])
		if errA == nil && errB == nil {
			return a < b
		}
		return keys[i] < keys[j]
	})
	return keys
}

// RenderHeader renders the top status bar.
func RenderHeader(date string, k int, liq float64, excludePemantauan, autoRefresh, notifications bool, streamState string, width int) string {
	excl := "off"
	if excludePemantauan {
		excl = "on"
	}
	auto := "off"
	if autoRefresh {
		auto = "on"
	}
	notif := "off"
	if notifications {
		notif = "on"
	}
	text := fmt.Sprintf(" ARA Radar  %s    k: %d  liq: %.2f  excl: %s    auto: %s  notif: %s  stream: %s ",
		date, k, liq, excl, auto, notif, streamState)
	return headerStyle.Render(PadOrTrunc(text, width))
}

var sparkLevels = []rune("▁▂▃▄▅▆▇█")

// Sparkline draws values as a one-line block-character chart, downsampled
// to at most width columns.
func Sparkline(values []float64, width int) string {
	if len(values) == 0 || width <= 0 {
		return ""
	}
	if len(values) > width {
		step := float64(len(values)) / float64(width)
		sampled := make([]float64, width)
		for i := 0; i < width; i++ {
			sampled[i] = values[int(float64(i)*step)]
		}
		values = sampled
	}

	min, max := minMax(values)
	span := max - min
	var b strings.Builder
	for _, v := range values {
		idx := 0
		if span > 0 {
			idx = int((v - min) / span * float64(len(sparkLevels)-1))
		}
		b.WriteRune(sparkLevels[idx])
	}
	return b.String()
}

func minMax(values []float64) (min, max float64) {
	min, max = values[0], values[0]
	for _, v := range values[1:] {
		if v < min {
			min = v
		}
		if v > max {
			max = v
		}
	}
	return
}
