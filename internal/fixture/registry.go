package fixture

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"araradar/internal/api"

	_ "modernc.org/sqlite" // Pure-Go SQLite driver.
)

// Dataset is one ingested dataset as stored in the registry.
type Dataset struct {
	ID          string
	Market      string
	SourceType  string
	SourceName  string
	AsOfDate    string
	RowCount    int
	TickerCount int
	Status      string
	Notes       api.Validation
	CreatedAt   time.Time
}

// Registry persists ingested datasets in a SQLite database.
type Registry struct {
	db *sql.DB
}

const registrySchema = `
CREATE TABLE IF NOT EXISTS datasets (
	id            TEXT PRIMARY KEY,
	market        TEXT NOT NULL,
	source_type   TEXT NOT NULL,
	source_name   TEXT NOT NULL,
	asof_date     TEXT,
	row_count     INTEGER NOT NULL,
	ticker_count  INTEGER NOT NULL,
	status        TEXT NOT NULL,
	notes_json    TEXT NOT NULL,
	data_json     TEXT NOT NULL,
	created_at    TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_datasets_market_created
	ON datasets (market, created_at DESC);
`

// OpenRegistry opens (or creates) the dataset registry at dbPath.
func OpenRegistry(dbPath string) (*Registry, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening registry: %w", err)
	}
	if _, err := db.Exec(registrySchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating registry schema: %w", err)
	}
	return &Registry{db: db}, nil
}

// Close closes the underlying database.
func (r *Registry) Close() error {
	return r.db.Close()
}

// Save stores a dataset and its table contents, returning the new dataset ID.
func (r *Registry) Save(ctx context.Context, ds Dataset, t *Table) (string, error) {
	id := uuid.NewString()

	notes, err := json.Marshal(ds.Notes)
	if err != nil {
		return "", fmt.Errorf("encoding validation notes: %w", err)
	}
	data, err := json.Marshal(t)
	if err != nil {
		return "", fmt.Errorf("encoding dataset rows: %w", err)
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO datasets
			(id, market, source_type, source_name, asof_date,
			 row_count, ticker_count, status, notes_json, data_json, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		id, ds.Market, ds.SourceType, ds.SourceName, ds.AsOfDate,
		ds.RowCount, ds.TickerCount, ds.Status, string(notes), string(data),
		time.Now().UTC().Format(time.RFC3339Nano))
	if err != nil {
		return "", fmt.Errorf("inserting dataset: %w", err)
	}
	return id, nil
}

// Get loads a dataset and its table by ID. Returns sql.ErrNoRows when the
// ID is unknown.
func (r *Registry) Get(ctx context.Context, id string) (*Dataset, *Table, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, market, source_type, source_name, asof_date,
		       row_count, ticker_count, status, notes_json, data_json, created_at
		FROM datasets WHERE id = ?`, id)
	return scanDataset(row)
}

// Latest returns the most recently ingested dataset for a market, or
// sql.ErrNoRows when the registry has none.
func (r *Registry) Latest(ctx context.Context, market string) (*Dataset, *Table, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, market, source_type, source_name, asof_date,
		       row_count, ticker_count, status, notes_json, data_json, created_at
		FROM datasets WHERE market = ?
		ORDER BY created_at DESC LIMIT 1`, market)
	return scanDataset(row)
}

// List returns dataset metadata for a market, newest first, without the
// table payloads.
func (r *Registry) List(ctx context.Context, market string) ([]Dataset, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, market, source_type, source_name, asof_date,
		       row_count, ticker_count, status, notes_json, created_at
		FROM datasets WHERE market = ?
		ORDER BY created_at DESC`, market)
	if err != nil {
		return nil, fmt.Errorf("listing datasets: %w", err)
	}
	defer rows.Close()

	var out []Dataset
	for rows.Next() {
		var ds Dataset
		var notes, created string
		if err := rows.Scan(&ds.ID, &ds.Market, &ds.SourceType, &ds.SourceName,
			&ds.AsOfDate, &ds.RowCount, &ds.TickerCount, &ds.Status, &notes, &created); err != nil {
			return nil, fmt.Errorf("scanning dataset row: %w", err)
		}
		if err := json.Unmarshal([]byte(notes), &ds.Notes); err != nil {
			return nil, fmt.Errorf("decoding validation notes: %w", err)
		}
		ds.CreatedAt, _ = time.Parse(time.RFC3339Nano, created)
		out = append(out, ds)
	}
	return out, rows.Err()
}

func scanDataset(row *sql.Row) (*Dataset, *Table, error) {
	var ds Dataset
	var notes, data, created string
	err := row.Scan(&ds.ID, &ds.Market, &ds.SourceType, &ds.SourceName,
		&ds.AsOfDate, &ds.RowCount, &ds.TickerCount, &ds.Status, &notes, &data, &created)
	if err != nil {
		return nil, nil, err
	}
	if err := json.Unmarshal([]byte(notes), &ds.Notes); err != nil {
		return nil, nil, fmt.Errorf("decoding validation notes: %w", err)
	}
	var t Table
	if err := json.Unmarshal([]byte(data), &t); err != nil {
		return nil, nil, fmt.Errorf("decoding dataset rows: %w", err)
	}
	ds.CreatedAt, _ = time.Parse(time.RFC3339Nano, created)
	return &ds, &t, nil
}
