package fixture

import (
	"context"
	"encoding/json"
	"fmt"
	"hash/fnv"
	"io"
	"log/slog"
	"net/http"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"araradar/internal/api"
)

// Server serves the development scoring API.
type Server struct {
	registry *Registry
	hub      *Hub
	log      *slog.Logger

	// Alerts are emitted for candidates at or above this probability.
	threshold float64
}

// NewServer creates a development backend over the given dataset registry.
func NewServer(registry *Registry, threshold float64, log *slog.Logger) *Server {
	return &Server{
		registry:  registry,
		hub:       NewHub(log),
		log:       log,
		threshold: threshold,
	}
}

// Hub exposes the alert hub so callers can publish test alerts.
func (s *Server) Hub() *Hub { return s.hub }

// RegisterRoutes registers all API routes on the given mux.
func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /meta", s.handleMeta)
	mux.HandleFunc("GET /metrics", s.handleMetrics)
	mux.HandleFunc("GET /score_latest", s.handleScoreLatest)
	mux.HandleFunc("GET /equity", s.handleEquity)
	mux.HandleFunc("GET /datasets", s.handleDatasets)
	mux.HandleFunc("POST /score", s.handleScore)
	mux.HandleFunc("POST /ingest/paste", s.handleIngestPaste)
	mux.HandleFunc("POST /ingest/scrape", s.handleIngestScrape)
	mux.HandleFunc("POST /ingest/{kind}", s.handleIngestFile)
	mux.Handle("GET /alerts/stream", s.hub)
}

// Handler returns an http.Handler with CORS middleware.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.RegisterRoutes(mux)
	return corsMiddleware(mux)
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("encoding JSON response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]any{
		"ok":                   true,
		"models":               5,
		"has_calibrator":       true,
		"features_from_bundle": true,
	})
}

func (s *Server) handleMeta(w http.ResponseWriter, r *http.Request) {
	card, _ := json.Marshal(map[string]any{
		"model_type": "XGBoost Ensemble",
		"version":    "dev-fixture",
		"trained_at": "2026-08-01",
		"metrics": map[string]any{
			"ap_valid": 0.6123,
			"ap_test":  0.5847,
			"p_at_k":   map[string]float64{"10": 0.70, "20": 0.62, "50": 0.48},
		},
	})
	writeJSON(w, api.ModelCard{
		Card:                  card,
		RequiredFeaturesCount: 42,
	})
}

func (s *Server) handleDatasets(w http.ResponseWriter, r *http.Request) {
	market := r.URL.Query().Get("market")
	if market == "" {
		market = "ID"
	}

	list, err := s.registry.List(r.Context(), market)
	if err != nil {
		s.log.Error("listing datasets", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to list datasets")
		return
	}

	out := make([]api.DatasetMeta, 0, len(list))
	for _, ds := range list {
		out = append(out, api.DatasetMeta{
			ID:          ds.ID,
			Market:      ds.Market,
			SourceType:  ds.SourceType,
			SourceName:  ds.SourceName,
			AsOfDate:    ds.AsOfDate,
			RowCount:    ds.RowCount,
			TickerCount: ds.TickerCount,
			Status:      ds.Status,
			CreatedAt:   ds.CreatedAt,
		})
	}
	writeJSON(w, map[string]any{"datasets": out})
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, api.Metrics{
		APValid: 0.6123,
		APTest:  0.5847,
		PAtK: map[string]float64{
			"10": 0.70,
			"20": 0.62,
			"50": 0.48,
		},
	})
}

func (s *Server) handleScoreLatest(w http.ResponseWriter, r *http.Request) {
	p, err := parseScoreParams(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	date, rows := s.latestCandidates(r.Context())
	rows = screenRows(rows, p.ExcludePemantauan, p.Liq)
	if len(rows) > p.K {
		rows = rows[:p.K]
	}
	writeJSON(w, api.ScoreSnapshot{Date: date, Rows: rows})
}

func (s *Server) handleEquity(w http.ResponseWriter, r *http.Request) {
	k, err := strconv.Atoi(r.URL.Query().Get("k"))
	if err != nil || k < 1 {
		k = 50
	}

	// Deterministic pseudo-random walk seeded by k.
	equity := make([]float64, 120)
	v := 1.0
	for i := range equity {
		step := hashFloat(fmt.Sprintf("eq|%d|%d", k, i))
		v *= 1 + (step-0.48)*0.04
		equity[i] = v
	}
	writeJSON(w, api.EquityCurve{Equity: equity})
}

func (s *Server) handleScore(w http.ResponseWriter, r *http.Request) {
	p, err := parseScoreParams(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := r.ParseMultipartForm(64 << 20); err != nil {
		writeError(w, http.StatusBadRequest, "invalid multipart body")
		return
	}

	features, err := readFormFile(r, "features_csv")
	if err != nil {
		writeError(w, http.StatusBadRequest, "features_csv is required")
		return
	}
	t, err := ParseCSV(features, "ID")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if t.Col("Date") < 0 {
		writeError(w, http.StatusBadRequest, "features CSV must contain a Date column")
		return
	}

	latest := AsOfDate(t)
	volRanks := map[string]float64{}
	if raw, err := readFormFile(r, "raw_csv"); err == nil {
		if rt, err := ParseCSV(raw, "ID"); err == nil {
			volRanks = volRankByTicker(rt, latest)
		}
	}
	// meta_xlsx is accepted but not parsed; the fixture has no spreadsheet
	// reader, so nama and papan stay empty for uploaded datasets.

	var all []api.CandidateRow
	seen := make(map[string]bool)
	for i := range t.Rows {
		if t.Cell(i, "Date") != latest {
			continue
		}
		ticker := t.Cell(i, "Ticker")
		if ticker == "" || seen[ticker] {
			continue
		}
		seen[ticker] = true
		all = append(all, api.CandidateRow{
			Ticker:     ticker,
			ProbaARAT1: hashFloat("proba|" + ticker + "|" + latest),
			VolRankDay: volRanks[ticker],
		})
	}
	sort.SliceStable(all, func(i, j int) bool { return all[i].ProbaARAT1 > all[j].ProbaARAT1 })

	screened := screenRows(all, p.ExcludePemantauan, p.Liq)
	topAll := all
	if len(topAll) > p.K {
		topAll = topAll[:p.K]
	}
	if len(screened) > p.K {
		screened = screened[:p.K]
	}

	writeJSON(w, api.ScoreResult{
		LatestDate:  latest,
		RowsScored:  len(all),
		TopScreened: screened,
		TopAll:      topAll,
	})
}

func (s *Server) handleIngestFile(w http.ResponseWriter, r *http.Request) {
	kind := r.PathValue("kind")
	switch kind {
	case "csv", "excel", "pdf", "image", "docx":
	default:
		writeError(w, http.StatusNotFound, fmt.Sprintf("unknown ingest kind %q", kind))
		return
	}

	if err := r.ParseMultipartForm(64 << 20); err != nil {
		writeError(w, http.StatusBadRequest, "invalid multipart body")
		return
	}
	market := formMarket(r)

	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "file is required")
		return
	}
	defer file.Close()
	data, err := io.ReadAll(file)
	if err != nil {
		writeError(w, http.StatusBadRequest, "reading upload")
		return
	}

	// The fixture parses every upload as delimited text. Binary formats
	// (real xlsx, pdf, images) fail parsing and report an empty dataset.
	t, err := ParseCSV(data, market)
	if err != nil {
		t = &Table{}
	}

	name := filepath.Base(header.Filename)
	s.finishIngest(w, r, t, kind, name, market)
}

func (s *Server) handleIngestPaste(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(16 << 20); err != nil {
		writeError(w, http.StatusBadRequest, "invalid multipart body")
		return
	}
	text := r.FormValue("text")
	market := formMarket(r)

	t, err := ParsePaste(text, market)
	if err != nil {
		t = &Table{}
	}
	s.finishIngest(w, r, t, "paste", "paste", market)
}

func (s *Server) handleIngestScrape(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	source := q.Get("source")
	market := q.Get("market")
	if market == "" {
		market = "ID"
	}
	if !strings.EqualFold(source, "yahoo") {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("Unsupported scrape source: %s", source))
		return
	}

	var tickers []string
	for _, tk := range strings.Split(q.Get("tickers"), ",") {
		if tk = strings.TrimSpace(tk); tk != "" {
			tickers = append(tickers, NormalizeTicker(tk, market))
		}
	}
	if len(tickers) == 0 {
		writeError(w, http.StatusBadRequest, "Tickers required for Yahoo scraping")
		return
	}

	// Synthesize a 5-day history per ticker instead of hitting Yahoo.
	t := &Table{Columns: append(append([]string{}, RequiredCols...), "AdjClose")}
	now := time.Now()
	for _, tk := range tickers {
		for d := 4; d >= 0; d-- {
			date := now.AddDate(0, 0, -d).Format("2006-01-02")
			base := 100 + hashFloat("px|"+tk+"|"+date)*900
			vol := 1e6 + hashFloat("vol|"+tk+"|"+date)*9e6
			t.Rows = append(t.Rows, []string{
				date, tk,
				fmt.Sprintf("%.2f", base),
				fmt.Sprintf("%.2f", base*1.02),
				fmt.Sprintf("%.2f", base*0.98),
				fmt.Sprintf("%.2f", base*1.01),
				fmt.Sprintf("%.0f", vol),
				fmt.Sprintf("%.2f", base*1.01),
			})
		}
	}
	s.finishIngest(w, r, t, "scrape_yahoo", "yahoo", market)
}

// finishIngest validates the parsed table, stores it when usable, and
// writes the ingest result. Datasets that fail validation are reported but
// never saved.
func (s *Server) finishIngest(w http.ResponseWriter, r *http.Request, t *Table, kind, name, market string) {
	status, notes := Validate(t)

	res := api.IngestResult{
		Status:      status,
		RowCount:    len(t.Rows),
		TickerCount: TickerCount(t),
		Validation:  notes,
	}

	if status != StatusError {
		id, err := s.registry.Save(r.Context(), Dataset{
			Market:      market,
			SourceType:  kind,
			SourceName:  name,
			AsOfDate:    AsOfDate(t),
			RowCount:    len(t.Rows),
			TickerCount: TickerCount(t),
			Status:      status,
			Notes:       notes,
		}, t)
		if err != nil {
			s.log.Error("saving dataset", "error", err)
			writeError(w, http.StatusInternalServerError, "failed to save dataset")
			return
		}
		res.DatasetID = id
		s.log.Info("dataset ingested", "id", id, "kind", kind, "rows", res.RowCount, "status", status)
	}

	writeJSON(w, res)
}

// EmitAlerts periodically publishes an alert for the strongest current
// candidate above the threshold. Used by the dev server to exercise the
// stream without real model output.
func (s *Server) EmitAlerts(interval time.Duration) (stop func()) {
	done := make(chan struct{})
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		n := 0
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				date, rows := s.latestCandidates(context.Background())
				if len(rows) == 0 {
					continue
				}
				row := rows[n%len(rows)]
				n++
				if row.ProbaARAT1 < s.threshold {
					continue
				}
				s.hub.Publish(Alert{Ticker: row.Ticker, Proba: row.ProbaARAT1, Date: date})
			}
		}
	}()
	return func() { close(done) }
}

// --- candidate generation ---

// sampleUniverse backs score_latest when nothing has been ingested yet.
var sampleUniverse = []struct {
	Ticker, Nama, Papan string
}{
	{"BBCA.JK", "Bank Central Asia Tbk", "Utama"},
	{"GOTO.JK", "GoTo Gojek Tokopedia Tbk", "Ekonomi Baru"},
	{"BREN.JK", "Barito Renewables Energy Tbk", "Utama"},
	{"AMMN.JK", "Amman Mineral Internasional Tbk", "Utama"},
	{"CUAN.JK", "Petrindo Jaya Kreasi Tbk", "Pengembangan"},
	{"PTRO.JK", "Petrosea Tbk", "Utama"},
	{"KJEN.JK", "Krida Jaringan Nusantara Tbk", "Pemantauan Khusus"},
	{"WIDI.JK", "Widiant Jaya Krenindo Tbk", "Pemantauan Khusus"},
	{"TPIA.JK", "Chandra Asri Pacific Tbk", "Utama"},
	{"BRMS.JK", "Bumi Resources Minerals Tbk", "Pengembangan"},
}

// latestCandidates builds the scored candidate list: from the most recent
// ingested dataset when one exists, otherwise from the builtin universe.
func (s *Server) latestCandidates(ctx context.Context) (string, []api.CandidateRow) {
	if ds, t, err := s.registry.Latest(ctx, "ID"); err == nil {
		return ds.AsOfDate, candidatesFromTable(t, ds.AsOfDate)
	}

	date := time.Now().Format("2006-01-02")
	rows := make([]api.CandidateRow, 0, len(sampleUniverse))
	for i, u := range sampleUniverse {
		rows = append(rows, api.CandidateRow{
			Ticker:     u.Ticker,
			ProbaARAT1: hashFloat("proba|" + u.Ticker + "|" + date),
			Nama:       u.Nama,
			Papan:      u.Papan,
			VolRankDay: float64(len(sampleUniverse)-i) / float64(len(sampleUniverse)),
		})
	}
	sort.SliceStable(rows, func(i, j int) bool { return rows[i].ProbaARAT1 > rows[j].ProbaARAT1 })
	return date, rows
}

func candidatesFromTable(t *Table, latest string) []api.CandidateRow {
	volRanks := volRankByTicker(t, latest)
	var rows []api.CandidateRow
	seen := make(map[string]bool)
	for i := range t.Rows {
		if t.Cell(i, "Date") != latest {
			continue
		}
		ticker := t.Cell(i, "Ticker")
		if ticker == "" || seen[ticker] {
			continue
		}
		seen[ticker] = true
		rows = append(rows, api.CandidateRow{
			Ticker:     ticker,
			ProbaARAT1: hashFloat("proba|" + ticker + "|" + latest),
			Papan:      t.Cell(i, "Papan"),
			VolRankDay: volRanks[ticker],
		})
	}
	sort.SliceStable(rows, func(i, j int) bool { return rows[i].ProbaARAT1 > rows[j].ProbaARAT1 })
	return rows
}

// screenRows drops special-monitoring-board tickers (when excluding) and
// tickers below the liquidity floor. Missing volume ranks count as zero.
func screenRows(rows []api.CandidateRow, excludePemantauan bool, liq float64) []api.CandidateRow {
	out := make([]api.CandidateRow, 0, len(rows))
	for _, row := range rows {
		if excludePemantauan && strings.EqualFold(strings.TrimSpace(row.Papan), "pemantauan khusus") {
			continue
		}
		if row.VolRankDay < liq {
			continue
		}
		out = append(out, row)
	}
	return out
}

// volRankByTicker computes percentile volume ranks over rows at the given
// date.
func volRankByTicker(t *Table, date string) map[string]float64 {
	type tv struct {
		ticker string
		volume float64
	}
	var vols []tv
	for i := range t.Rows {
		if t.Cell(i, "Date") != date {
			continue
		}
		ticker := t.Cell(i, "Ticker")
		if ticker == "" {
			continue
		}
		v, err := strconv.ParseFloat(t.Cell(i, "Volume"), 64)
		if err != nil {
			continue
		}
		vols = append(vols, tv{ticker, v})
	}
	if len(vols) == 0 {
		return map[string]float64{}
	}
	sort.SliceStable(vols, func(i, j int) bool { return vols[i].volume < vols[j].volume })
	out := make(map[string]float64, len(vols))
	for i, v := range vols {
		out[v.ticker] = float64(i+1) / float64(len(vols))
	}
	return out
}

func parseScoreParams(r *http.Request) (api.ScoreParams, error) {
	q := r.URL.Query()
	p := api.ScoreParams{K: 50, Liq: 0.5, ExcludePemantauan: true}

	if s := q.Get("k"); s != "" {
		k, err := strconv.Atoi(s)
		if err != nil || k < 1 || k > 200 {
			return p, fmt.Errorf("k must be an integer in [1, 200]")
		}
		p.K = k
	}
	if s := q.Get("liq"); s != "" {
		liq, err := strconv.ParseFloat(s, 64)
		if err != nil || liq < 0 || liq > 1 {
			return p, fmt.Errorf("liq must be a number in [0, 1]")
		}
		p.Liq = liq
	}
	if s := q.Get("exclude_pemantauan"); s != "" {
		b, err := strconv.ParseBool(s)
		if err != nil {
			return p, fmt.Errorf("exclude_pemantauan must be a boolean")
		}
		p.ExcludePemantauan = b
	}
	return p, nil
}

func readFormFile(r *http.Request, field string) ([]byte, error) {
	file, _, err := r.FormFile(field)
	if err != nil {
		return nil, err
	}
	defer file.Close()
	return io.ReadAll(file)
}

func formMarket(r *http.Request) string {
	if m := r.FormValue("market"); m != "" {
		return m
	}
	return "ID"
}

// hashFloat maps a string deterministically into [0, 1).
func hashFloat(s string) float64 {
	h := fnv.New64a()
	h.Write([]byte(s))
	return float64(h.Sum64()%1_000_000) / 1_000_000
}
