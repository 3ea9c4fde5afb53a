// ara-score submits a one-shot manual scoring request: a latest-day
// features CSV (mandatory), plus optional raw prices and metadata files.
// The top screened candidates are printed as a table, or written as CSV
// with -csv.
//
// Usage:
//
//	ara-score -features features.csv -raw raw.csv -k 20
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"

	"araradar/internal/api"
	"araradar/internal/config"
	"araradar/internal/dashboard"
	"araradar/internal/util"
)

func main() {
	features := flag.String("features", "", "latest-day features CSV (required)")
	raw := flag.String("raw", "", "raw prices CSV with Date,Ticker,Volume (optional)")
	meta := flag.String("meta", "", "metadata spreadsheet (optional)")
	k := flag.Int("k", 0, "top-k (default from config)")
	liq := flag.Float64("liq", -1, "liquidity floor 0..1 (default from config)")
	includeAll := flag.Bool("all", false, "print the unscreened top-k instead")
	csvOut := flag.Bool("csv", false, "write the result as CSV to stdout")
	flag.Parse()

	_ = godotenv.Load()

	cfgPath := os.Getenv("ARA_CONFIG")
	if cfgPath == "" {
		cfgPath = "ara-radar.yaml"
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "loading config: %v\n", err)
		os.Exit(1)
	}
	logger := util.NewLogger(cfg.Logging.Level)
	util.SetDefault(logger)

	if *features == "" {
		fmt.Fprintln(os.Stderr, "error: -features is required")
		flag.Usage()
		os.Exit(2)
	}
	if *k == 0 {
		*k = cfg.UI.DefaultK
	}
	if *liq < 0 {
		*liq = cfg.UI.DefaultLiq
	}

	files := api.ScoreFiles{}
	if files.Features, err = readUpload(*features); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	if *raw != "" {
		if files.Raw, err = readUpload(*raw); err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			os.Exit(1)
		}
	}
	if *meta != "" {
		if files.Meta, err = readUpload(*meta); err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			os.Exit(1)
		}
	}

	client := api.NewClient(cfg.Backend.BaseURL, cfg.Backend.RequestTimeout)
	params := api.ScoreParams{
		K:                 *k,
		Liq:               *liq,
		ExcludePemantauan: cfg.UI.ExcludePemantauan,
	}

	// Scoring persists nothing server-side, so transient transport failures
	// are safe to retry. A backend verdict is final: don't resubmit on 4xx.
	var res *api.ScoreResult
	var scoreErr error
	err = util.Retry(context.Background(), 3, time.Second, func() error {
		res, scoreErr = client.Score(context.Background(), params, files)
		var verdict *api.StatusError
		if errors.As(scoreErr, &verdict) {
			return nil // backend answered; surfaced below, never retried
		}
		if scoreErr != nil {
			logger.Warn("scoring request failed", "error", scoreErr)
		}
		return scoreErr
	})
	if err == nil {
		err = scoreErr
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	rows := res.TopScreened
	if *includeAll {
		rows = res.TopAll
	}
	snap := &api.ScoreSnapshot{Date: res.LatestDate, Rows: rows}

	if *csvOut {
		if err := dashboard.WriteCandidatesCSV(os.Stdout, snap); err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			os.Exit(1)
		}
		return
	}

	fmt.Printf("scored %d rows\n", res.RowsScored)
	fmt.Print(dashboard.RenderTable(snap, nil, false, nil))
}

func readUpload(path string) (*api.Upload, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	return &api.Upload{Name: filepath.Base(path), Data: data}, nil
}
