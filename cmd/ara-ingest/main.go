// ara-ingest uploads market data to the scoring backend: a file, pasted
// text from stdin, or a scrape request. Validation findings come back from
// the server and are printed verbatim.
//
// Usage:
//
//	ara-ingest -file prices.csv
//	cat prices.tsv | ara-ingest -paste
//	ara-ingest -scrape yahoo -tickers BBCA,GOTO
//	ara-ingest -list
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"

	"araradar/internal/api"
	"araradar/internal/config"
	"araradar/internal/util"
)

func main() {
	file := flag.String("file", "", "path of the file to upload (csv, xlsx, pdf, png/jpg, docx)")
	paste := flag.Bool("paste", false, "read pasted text from stdin")
	scrape := flag.String("scrape", "", "scrape source (yahoo)")
	tickers := flag.String("tickers", "", "comma-separated tickers for -scrape")
	market := flag.String("market", "ID", "market code")
	list := flag.Bool("list", false, "list ingested datasets instead of uploading")
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

	client := api.NewClient(cfg.Backend.BaseURL, cfg.Backend.RequestTimeout)
	ctx := context.Background()

	if *list {
		if err := printDatasets(ctx, client, *market); err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			os.Exit(1)
		}
		return
	}

	var res *api.IngestResult
	switch {
	case *file != "":
		res, err = ingestFile(ctx, client, *file, *market)
	case *paste:
		res, err = ingestPaste(ctx, client, *market)
	case *scrape != "":
		res, err = ingestScrape(ctx, client, *scrape, *market, *tickers)
	default:
		flag.Usage()
		os.Exit(2)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	printResult(res)
	if res.Status == "error" {
		os.Exit(1)
	}
}

func ingestFile(ctx context.Context, client *api.Client, path, market string) (*api.IngestResult, error) {
	ext := strings.ToLower(filepath.Ext(path))
	kind, ok := api.IngestKinds[ext]
	if !ok {
		return nil, fmt.Errorf("unsupported file type %q", ext)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}

	return client.IngestFile(ctx, kind, market, &api.Upload{
		Name: filepath.Base(path),
		Data: data,
	})
}

func ingestPaste(ctx context.Context, client *api.Client, market string) (*api.IngestResult, error) {
	text, err := io.ReadAll(os.Stdin)
	if err != nil {
		return nil, fmt.Errorf("reading stdin: %w", err)
	}
	if strings.TrimSpace(string(text)) == "" {
		return nil, fmt.Errorf("no text on stdin")
	}
	return client.IngestPaste(ctx, string(text), market)
}

func ingestScrape(ctx context.Context, client *api.Client, source, market, tickers string) (*api.IngestResult, error) {
	var list []string
	for _, t := range strings.Split(tickers, ",") {
		if t = strings.TrimSpace(t); t != "" {
			list = append(list, t)
		}
	}
	if len(list) == 0 {
		return nil, fmt.Errorf("-scrape requires -tickers")
	}
	return client.IngestScrape(ctx, source, market, list)
}

func printDatasets(ctx context.Context, client *api.Client, market string) error {
	datasets, err := client.Datasets(ctx, market)
	if err != nil {
		return err
	}
	if len(datasets) == 0 {
		fmt.Println("no datasets ingested")
		return nil
	}
	for _, ds := range datasets {
		fmt.Printf("%s  %-12s %-10s as-of %-10s rows %-6d %s\n",
			ds.CreatedAt.Local().Format("2006-01-02 15:04"),
			ds.SourceType, ds.Status, ds.AsOfDate, ds.RowCount, ds.ID)
	}
	return nil
}

func printResult(res *api.IngestResult) {
	fmt.Printf("status:  %s\n", res.Status)
	if res.DatasetID != "" {
		fmt.Printf("dataset: %s\n", res.DatasetID)
	}
	fmt.Printf("rows:    %d\ntickers: %d\n", res.RowCount, res.TickerCount)

	for _, e := range res.Validation.Errors {
		fmt.Printf("ERROR    %s\n", e)
	}
	for _, w := range res.Validation.Warnings {
		fmt.Printf("WARNING  %s\n", w)
	}
	for _, i := range res.Validation.Info {
		fmt.Printf("INFO     %s\n", i)
	}
}
