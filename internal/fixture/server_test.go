package fixture

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"araradar/internal/api"
	"araradar/internal/util"
)

func newTestServer(t *testing.T) (*Server, *httptest.Server) {
	t.Helper()
	reg, err := OpenRegistry(filepath.Join(t.TempDir(), "datasets.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { reg.Close() })

	srv := NewServer(reg, 0.75, util.NewLoggerTo(io.Discard, "error"))
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return srv, ts
}

func getJSON(t *testing.T, url string, out any) {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		t.Fatalf("GET %s: status %d: %s", url, resp.StatusCode, body)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		t.Fatal(err)
	}
}

func TestHealthAndMetrics(t *testing.T) {
	_, ts := newTestServer(t)

	var health map[string]any
	getJSON(t, ts.URL+"/health", &health)
	if health["ok"] != true {
		t.Errorf("health = %v", health)
	}

	var m api.Metrics
	getJSON(t, ts.URL+"/metrics", &m)
	if m.APValid == 0 || len(m.PAtK) == 0 {
		t.Errorf("metrics = %+v", m)
	}

	var card api.ModelCard
	getJSON(t, ts.URL+"/meta", &card)
	if card.RequiredFeaturesCount == 0 || len(card.Card) == 0 {
		t.Errorf("meta = %+v", card)
	}
}

func TestScoreLatestFromBuiltinUniverse(t *testing.T) {
	_, ts := newTestServer(t)

	var snap api.ScoreSnapshot
	getJSON(t, ts.URL+"/score_latest?k=10&liq=0&exclude_pemantauan=false", &snap)
	if snap.Date == "" {
		t.Error("snapshot date empty")
	}
	if len(snap.Rows) != len(sampleUniverse) {
		t.Fatalf("got %d rows, want full universe of %d", len(snap.Rows), len(sampleUniverse))
	}
	for i := 1; i < len(snap.Rows); i++ {
		if snap.Rows[i].ProbaARAT1 > snap.Rows[i-1].ProbaARAT1 {
			t.Fatal("rows not sorted by probability descending")
		}
	}
}

func TestScoreLatestScreening(t *testing.T) {
	_, ts := newTestServer(t)

	var snap api.ScoreSnapshot
	getJSON(t, ts.URL+"/score_latest?k=200&liq=0&exclude_pemantauan=true", &snap)
	for _, row := range snap.Rows {
		if strings.EqualFold(row.Papan, "pemantauan khusus") {
			t.Errorf("special-monitoring ticker %s not excluded", row.Ticker)
		}
	}

	getJSON(t, ts.URL+"/score_latest?k=200&liq=0.8&exclude_pemantauan=false", &snap)
	for _, row := range snap.Rows {
		if row.VolRankDay < 0.8 {
			t.Errorf("ticker %s below liquidity floor: %v", row.Ticker, row.VolRankDay)
		}
	}

	getJSON(t, ts.URL+"/score_latest?k=3&liq=0&exclude_pemantauan=false", &snap)
	if len(snap.Rows) != 3 {
		t.Errorf("k=3 returned %d rows", len(snap.Rows))
	}
}

func TestScoreLatestRejectsBadParams(t *testing.T) {
	_, ts := newTestServer(t)

	for _, q := range []string{"k=0", "k=999", "liq=2", "exclude_pemantauan=maybe"} {
		resp, err := http.Get(ts.URL + "/score_latest?" + q)
		if err != nil {
			t.Fatal(err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusBadRequest {
			t.Errorf("query %q: status %d, want 400", q, resp.StatusCode)
		}
	}
}

func TestEquityDeterministic(t *testing.T) {
	_, ts := newTestServer(t)

	var a, b api.EquityCurve
	getJSON(t, ts.URL+"/equity?k=50", &a)
	getJSON(t, ts.URL+"/equity?k=50", &b)
	if len(a.Equity) == 0 {
		t.Fatal("empty equity curve")
	}
	for i := range a.Equity {
		if a.Equity[i] != b.Equity[i] {
			t.Fatal("equity curve not deterministic for same k")
		}
	}
}

func ingestCSV(t *testing.T, ts *httptest.Server, csv string) api.IngestResult {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	fw, err := mw.CreateFormFile("file", "prices.csv")
	if err != nil {
		t.Fatal(err)
	}
	fw.Write([]byte(csv))
	mw.WriteField("market", "ID")
	mw.Close()

	resp, err := http.Post(ts.URL+"/ingest/csv", mw.FormDataContentType(), &body)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(resp.Body)
		t.Fatalf("ingest status %d: %s", resp.StatusCode, raw)
	}
	var res api.IngestResult
	if err := json.NewDecoder(resp.Body).Decode(&res); err != nil {
		t.Fatal(err)
	}
	return res
}

const goodCSV = `Date,Ticker,Open,High,Low,Close,Volume
2026-08-28,bbca,9000,9100,8900,9050,1000000
2026-08-28,goto,60,66,59,65,9000000
2026-08-27,bbca,8900,9000,8800,9000,1200000
`

func TestIngestCSVRoundTrip(t *testing.T) {
	srv, ts := newTestServer(t)

	res := ingestCSV(t, ts, goodCSV)
	if res.Status != StatusValid {
		t.Fatalf("status = %q, validation = %+v", res.Status, res.Validation)
	}
	if res.DatasetID == "" {
		t.Fatal("valid ingest produced no dataset id")
	}
	if res.RowCount != 3 || res.TickerCount != 2 {
		t.Errorf("rows = %d tickers = %d", res.RowCount, res.TickerCount)
	}

	ds, tab, err := srv.registry.Get(context.Background(), res.DatasetID)
	if err != nil {
		t.Fatal(err)
	}
	if ds.AsOfDate != "2026-08-28" || len(tab.Rows) != 3 {
		t.Errorf("stored dataset = %+v with %d rows", ds, len(tab.Rows))
	}

	// score_latest now serves the ingested dataset.
	var snap api.ScoreSnapshot
	getJSON(t, ts.URL+"/score_latest?k=50&liq=0&exclude_pemantauan=false", &snap)
	if snap.Date != "2026-08-28" {
		t.Errorf("snapshot date = %q, want ingested as-of date", snap.Date)
	}
	if len(snap.Rows) != 2 {
		t.Fatalf("got %d rows, want 2 tickers at latest date", len(snap.Rows))
	}
	for _, row := range snap.Rows {
		if row.Ticker != "BBCA.JK" && row.Ticker != "GOTO.JK" {
			t.Errorf("unexpected ticker %q", row.Ticker)
		}
	}
}

func TestDatasetListNewestFirst(t *testing.T) {
	_, ts := newTestServer(t)

	first := ingestCSV(t, ts, goodCSV)
	second := ingestCSV(t, ts, `Date,Ticker,Open,High,Low,Close,Volume
2026-08-29,bbca,9050,9150,8950,9100,1100000
`)

	list, err := api.NewClient(ts.URL, 0).Datasets(context.Background(), "ID")
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 2 {
		t.Fatalf("got %d datasets, want 2", len(list))
	}
	if list[0].ID != second.DatasetID || list[1].ID != first.DatasetID {
		t.Errorf("order = [%s %s], want newest first", list[0].ID, list[1].ID)
	}
	if list[0].AsOfDate != "2026-08-29" || list[0].RowCount != 1 {
		t.Errorf("newest = %+v", list[0])
	}
	if list[0].SourceType != "csv" || list[0].Status != StatusValid {
		t.Errorf("metadata = %+v", list[0])
	}
	if list[0].CreatedAt.IsZero() {
		t.Error("created_at not populated")
	}

	// Other markets see nothing.
	other, err := api.NewClient(ts.URL, 0).Datasets(context.Background(), "US")
	if err != nil {
		t.Fatal(err)
	}
	if len(other) != 0 {
		t.Errorf("US market lists %d datasets, want none", len(other))
	}
}

func TestIngestEmptyCSVIsError(t *testing.T) {
	_, ts := newTestServer(t)

	res := ingestCSV(t, ts, "")
	if res.Status != StatusError {
		t.Fatalf("status = %q, want error", res.Status)
	}
	if res.DatasetID != "" {
		t.Error("invalid dataset was saved")
	}
	if len(res.Validation.Errors) == 0 || res.Validation.Errors[0] != "Dataset is empty" {
		t.Errorf("errors = %v", res.Validation.Errors)
	}
}

func TestIngestPaste(t *testing.T) {
	_, ts := newTestServer(t)

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	mw.WriteField("text", strings.ReplaceAll(goodCSV, ",", "\t"))
	mw.WriteField("market", "ID")
	mw.Close()

	resp, err := http.Post(ts.URL+"/ingest/paste", mw.FormDataContentType(), &body)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	var res api.IngestResult
	if err := json.NewDecoder(resp.Body).Decode(&res); err != nil {
		t.Fatal(err)
	}
	if res.Status != StatusValid || res.RowCount != 3 {
		t.Errorf("paste result = %+v", res)
	}
}

func TestIngestScrape(t *testing.T) {
	_, ts := newTestServer(t)

	resp, err := http.Post(ts.URL+"/ingest/scrape?source=yahoo&market=ID&tickers=bbca,goto", "", nil)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	var res api.IngestResult
	if err := json.NewDecoder(resp.Body).Decode(&res); err != nil {
		t.Fatal(err)
	}
	if res.Status != StatusValid {
		t.Fatalf("scrape result = %+v", res)
	}
	if res.RowCount != 10 || res.TickerCount != 2 {
		t.Errorf("rows = %d tickers = %d, want 5 days x 2 tickers", res.RowCount, res.TickerCount)
	}
}

func TestIngestScrapeRequiresTickers(t *testing.T) {
	_, ts := newTestServer(t)

	resp, err := http.Post(ts.URL+"/ingest/scrape?source=yahoo", "", nil)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
	body, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(body), "Tickers required") {
		t.Errorf("body = %s", body)
	}
}

func TestScoreRequiresFeatures(t *testing.T) {
	_, ts := newTestServer(t)

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	mw.Close()

	resp, err := http.Post(ts.URL+"/score", mw.FormDataContentType(), &body)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
}

func TestScoreUpload(t *testing.T) {
	_, ts := newTestServer(t)

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	fw, _ := mw.CreateFormFile("features_csv", "features.csv")
	fw.Write([]byte(goodCSV))
	rw, _ := mw.CreateFormFile("raw_csv", "raw.csv")
	rw.Write([]byte(goodCSV))
	mw.Close()

	resp, err := http.Post(ts.URL+"/score?k=50&liq=0&exclude_pemantauan=false", mw.FormDataContentType(), &body)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(resp.Body)
		t.Fatalf("status %d: %s", resp.StatusCode, raw)
	}

	var res api.ScoreResult
	if err := json.NewDecoder(resp.Body).Decode(&res); err != nil {
		t.Fatal(err)
	}
	if res.LatestDate != "2026-08-28" {
		t.Errorf("latest date = %q", res.LatestDate)
	}
	if res.RowsScored != 2 || len(res.TopAll) != 2 {
		t.Errorf("rows scored = %d, top all = %d", res.RowsScored, len(res.TopAll))
	}
	// GOTO has the larger volume at the latest date, so the higher rank.
	for _, row := range res.TopAll {
		if row.Ticker == "GOTO.JK" && row.VolRankDay != 1.0 {
			t.Errorf("GOTO vol rank = %v, want 1.0", row.VolRankDay)
		}
	}
}

func TestAlertStreamDeliversPublishedAlerts(t *testing.T) {
	srv, ts := newTestServer(t)

	resp, err := http.Get(ts.URL + "/alerts/stream")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("content type = %q", ct)
	}

	// Wait for the subscription to register before publishing.
	deadline := time.Now().Add(2 * time.Second)
	for srv.Hub().Subscribers() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("subscriber never registered")
		}
		time.Sleep(5 * time.Millisecond)
	}
	srv.Hub().Publish(Alert{Ticker: "BBCA.JK", Proba: 0.9123})

	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		var a Alert
		if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &a); err != nil {
			t.Fatal(err)
		}
		if a.Ticker != "BBCA.JK" || a.Proba != 0.9123 {
			t.Errorf("alert = %+v", a)
		}
		return
	}
	t.Fatal("stream closed without delivering alert")
}
