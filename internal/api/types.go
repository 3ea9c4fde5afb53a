// Package api provides a client for the ARA scoring backend. All scoring,
// ranking, and validation happens server-side; this package only issues plain
// request/response calls with no retries and no caching.
package api

import (
	"encoding/json"
	"time"
)

// CandidateRow is one ranked candidate as returned by the backend. Field
// names follow the backend's JSON contract verbatim.
type CandidateRow struct {
	Ticker     string  `json:"Ticker"`
	ProbaARAT1 float64 `json:"proba_ARA_t1"`
	Nama       string  `json:"nama"`
	Papan      string  `json:"Papan"`
	VolRankDay float64 `json:"vol_rank_day"`
}

// ScoreSnapshot is the latest scored candidate list for one query. It is
// replaced wholesale on every successful poll, never merged row by row.
type ScoreSnapshot struct {
	Date string         `json:"date"`
	Rows []CandidateRow `json:"rows"`
}

// Metrics holds aggregate model evaluation metrics.
type Metrics struct {
	APValid float64            `json:"ap_valid"`
	APTest  float64            `json:"ap_test"`
	PAtK    map[string]float64 `json:"p_at_k"`
}

// EquityCurve is the simulated equity sequence for a given top-K.
type EquityCurve struct {
	Equity []float64 `json:"equity"`
}

// ModelCard carries the model metadata blob plus the feature count the
// backend expects in uploaded feature files.
type ModelCard struct {
	Card                  json.RawMessage `json:"card"`
	RequiredFeaturesCount int             `json:"required_features_count"`
}

// Validation holds structured ingest findings, rendered verbatim in the UI.
type Validation struct {
	Errors   []string `json:"errors"`
	Warnings []string `json:"warnings"`
	Info     []string `json:"info,omitempty"`
}

// DatasetMeta describes one ingested dataset without its table payload.
type DatasetMeta struct {
	ID          string    `json:"id"`
	Market      string    `json:"market"`
	SourceType  string    `json:"source_type"`
	SourceName  string    `json:"source_name"`
	AsOfDate    string    `json:"asof_date"`
	RowCount    int       `json:"row_count"`
	TickerCount int       `json:"ticker_count"`
	Status      string    `json:"status"`
	CreatedAt   time.Time `json:"created_at"`
}

// IngestResult is the outcome of any ingest operation (file, paste, scrape).
type IngestResult struct {
	Status      string     `json:"status"` // valid | warning | error
	DatasetID   string     `json:"dataset_id"`
	RowCount    int        `json:"row_count"`
	TickerCount int        `json:"ticker_count"`
	Validation  Validation `json:"validation"`
}

// ScoreResult is the outcome of a one-shot manual scoring request.
type ScoreResult struct {
	LatestDate  string         `json:"latest_date"`
	RowsScored  int            `json:"rows_scored"`
	TopScreened []CandidateRow `json:"top_screened"`
	TopAll      []CandidateRow `json:"top_all"`
}

// ScoreParams are the screening parameters shared by the latest-score poll
// and the manual scoring request.
type ScoreParams struct {
	K                 int
	Liq               float64
	ExcludePemantauan bool
}

// ScoreFiles bundles the uploads for a manual scoring request. Features is
// mandatory; Raw and Meta are optional and may be nil.
type ScoreFiles struct {
	Features *Upload
	Raw      *Upload
	Meta     *Upload
}

// Upload is a named file payload for a multipart request.
type Upload struct {
	Name string
	Data []byte
}

// apiError is the JSON error body the backend attaches to non-2xx responses.
type apiError struct {
	Detail string `json:"detail"`
	Error  string `json:"error"`
}
