package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Client issues requests against the scoring backend. The zero base URL is
// valid and produces relative requests.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a backend client with the given base URL and timeout.
// A zero timeout falls back to 30s.
func NewClient(baseURL string, timeout time.Duration) *Client {
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
	}
}

// BaseURL returns the configured backend base URL.
func (c *Client) BaseURL() string { return c.baseURL }

// Health checks backend liveness and returns the raw response body.
func (c *Client) Health(ctx context.Context) (json.RawMessage, error) {
	var out json.RawMessage
	if err := c.getJSON(ctx, "/health", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Metrics fetches aggregate model evaluation metrics.
func (c *Client) Metrics(ctx context.Context) (*Metrics, error) {
	out := &Metrics{}
	if err := c.getJSON(ctx, "/metrics", nil, out); err != nil {
		return nil, err
	}
	return out, nil
}

// ScoreLatest fetches the latest scored candidates for the given screening
// parameters.
func (c *Client) ScoreLatest(ctx context.Context, p ScoreParams) (*ScoreSnapshot, error) {
	q := url.Values{}
	q.Set("k", strconv.Itoa(p.K))
	q.Set("liq", strconv.FormatFloat(p.Liq, 'f', -1, 64))
	q.Set("exclude_pemantauan", strconv.FormatBool(p.ExcludePemantauan))

	out := &ScoreSnapshot{}
	if err := c.getJSON(ctx, "/score_latest", q, out); err != nil {
		return nil, err
	}
	return out, nil
}

// Equity fetches the equity curve for the given top-K.
func (c *Client) Equity(ctx context.Context, k int) (*EquityCurve, error) {
	q := url.Values{}
	q.Set("k", strconv.Itoa(k))

	out := &EquityCurve{}
	if err := c.getJSON(ctx, "/equity", q, out); err != nil {
		return nil, err
	}
	return out, nil
}

// ModelCard fetches model metadata.
func (c *Client) ModelCard(ctx context.Context) (*ModelCard, error) {
	out := &ModelCard{}
	if err := c.getJSON(ctx, "/meta", nil, out); err != nil {
		return nil, err
	}
	return out, nil
}

// Datasets lists ingested datasets for a market, newest first.
func (c *Client) Datasets(ctx context.Context, market string) ([]DatasetMeta, error) {
	q := url.Values{}
	q.Set("market", market)

	var out struct {
		Datasets []DatasetMeta `json:"datasets"`
	}
	if err := c.getJSON(ctx, "/datasets", q, &out); err != nil {
		return nil, err
	}
	return out.Datasets, nil
}

// Score submits a one-shot manual scoring request. files.Features is
// mandatory; the caller must check that before calling.
func (c *Client) Score(ctx context.Context, p ScoreParams, files ScoreFiles) (*ScoreResult, error) {
	if files.Features == nil {
		return nil, fmt.Errorf("features file is required")
	}

	q := url.Values{}
	q.Set("k", strconv.Itoa(p.K))
	q.Set("liq", strconv.FormatFloat(p.Liq, 'f', -1, 64))
	q.Set("exclude_pemantauan", strconv.FormatBool(p.ExcludePemantauan))

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	if err := writeFilePart(mw, "features_csv", files.Features); err != nil {
		return nil, err
	}
	if files.Raw != nil {
		if err := writeFilePart(mw, "raw_csv", files.Raw); err != nil {
			return nil, err
		}
	}
	if files.Meta != nil {
		if err := writeFilePart(mw, "meta_xlsx", files.Meta); err != nil {
			return nil, err
		}
	}
	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("closing multipart body: %w", err)
	}

	out := &ScoreResult{}
	if err := c.postJSON(ctx, "/score?"+q.Encode(), mw.FormDataContentType(), &body, out); err != nil {
		return nil, err
	}
	return out, nil
}

// IngestKinds maps file extensions to ingest endpoint suffixes.
var IngestKinds = map[string]string{
	".csv":  "csv",
	".xlsx": "excel",
	".xls":  "excel",
	".pdf":  "pdf",
	".png":  "image",
	".jpg":  "image",
	".jpeg": "image",
	".docx": "docx",
}

// IngestFile uploads a file of the given kind (csv, excel, pdf, image, docx)
// for the given market.
func (c *Client) IngestFile(ctx context.Context, kind, market string, file *Upload) (*IngestResult, error) {
	if file == nil {
		return nil, fmt.Errorf("file is required")
	}

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	if err := writeFilePart(mw, "file", file); err != nil {
		return nil, err
	}
	if err := mw.WriteField("market", market); err != nil {
		return nil, fmt.Errorf("writing market field: %w", err)
	}
	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("closing multipart body: %w", err)
	}

	out := &IngestResult{}
	if err := c.postJSON(ctx, "/ingest/"+kind, mw.FormDataContentType(), &body, out); err != nil {
		return nil, err
	}
	return out, nil
}

// IngestPaste submits raw pasted text for the given market.
func (c *Client) IngestPaste(ctx context.Context, text, market string) (*IngestResult, error) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	if err := mw.WriteField("text", text); err != nil {
		return nil, fmt.Errorf("writing text field: %w", err)
	}
	if err := mw.WriteField("market", market); err != nil {
		return nil, fmt.Errorf("writing market field: %w", err)
	}
	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("closing multipart body: %w", err)
	}

	out := &IngestResult{}
	if err := c.postJSON(ctx, "/ingest/paste", mw.FormDataContentType(), &body, out); err != nil {
		return nil, err
	}
	return out, nil
}

// IngestScrape asks the backend to scrape the given tickers from a source.
func (c *Client) IngestScrape(ctx context.Context, source, market string, tickers []string) (*IngestResult, error) {
	q := url.Values{}
	q.Set("source", source)
	q.Set("market", market)
	q.Set("tickers", strings.Join(tickers, ","))

	out := &IngestResult{}
	if err := c.postJSON(ctx, "/ingest/scrape?"+q.Encode(), "", nil, out); err != nil {
		return nil, err
	}
	return out, nil
}

// --- request plumbing ---

func (c *Client) getJSON(ctx context.Context, path string, q url.Values, out any) error {
	u := c.baseURL + path
	if len(q) > 0 {
		u += "?" + q.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return fmt.Errorf("building request %s: %w", path, err)
	}
	return c.do(req, out)
}

func (c *Client) postJSON(ctx context.Context, pathAndQuery, contentType string, body io.Reader, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+pathAndQuery, body)
	if err != nil {
		return fmt.Errorf("building request %s: %w", pathAndQuery, err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	return c.do(req, out)
}

func (c *Client) do(req *http.Request, out any) error {
	req.Header.Set("X-Request-ID", uuid.NewString())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", req.Method, req.URL.Path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return decodeError(resp)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding %s response: %w", req.URL.Path, err)
	}
	return nil
}

// StatusError is a non-2xx backend verdict. Callers retrying transport
// failures should stop when errors.As finds one: the backend already
// answered, it just said no.
type StatusError struct {
	Status int
	Msg    string
}

func (e *StatusError) Error() string { return e.Msg }

// decodeError extracts the backend's human-readable error message from a
// non-2xx response, falling back to the HTTP status text.
func decodeError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))

	var e apiError
	if err := json.Unmarshal(body, &e); err == nil {
		if e.Detail != "" {
			return &StatusError{Status: resp.StatusCode, Msg: e.Detail}
		}
		if e.Error != "" {
			return &StatusError{Status: resp.StatusCode, Msg: e.Error}
		}
	}
	return &StatusError{Status: resp.StatusCode, Msg: http.StatusText(resp.StatusCode)}
}

func writeFilePart(mw *multipart.Writer, field string, u *Upload) error {
	w, err := mw.CreateFormFile(field, u.Name)
	if err != nil {
		return fmt.Errorf("creating %s part: %w", field, err)
	}
	if _, err := w.Write(u.Data); err != nil {
		return fmt.Errorf("writing %s part: %w", field, err)
	}
	return nil
}
