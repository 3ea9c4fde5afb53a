// ara-devserver runs the self-contained development backend: the full
// scoring API surface with canned models, a SQLite dataset registry, and a
// synthetic alert stream. Point ARA_BACKEND_URL at it and the dashboard
// works without the real model service.
//
// Usage:
//
//	ara-devserver -addr :8000 -db /tmp/ara-datasets.db -alert-every 10s
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"araradar/internal/config"
	"araradar/internal/fixture"
	"araradar/internal/util"
)

func main() {
	addr := flag.String("addr", ":8000", "listen address")
	dbPath := flag.String("db", "/tmp/ara-datasets.db", "dataset registry path")
	alertEvery := flag.Duration("alert-every", 10*time.Second, "synthetic alert interval (0 disables)")
	flag.Parse()

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

	registry, err := fixture.OpenRegistry(*dbPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "opening registry: %v\n", err)
		os.Exit(1)
	}
	defer registry.Close()

	srv := fixture.NewServer(registry, cfg.UI.Threshold, logger)
	if *alertEvery > 0 {
		stop := srv.EmitAlerts(*alertEvery)
		defer stop()
	}

	httpSrv := &http.Server{
		Addr:    *addr,
		Handler: srv.Handler(),
	}

	go func() {
		logger.Info("dev backend listening", "addr", *addr, "db", *dbPath)
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	logger.Info("shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(ctx); err != nil {
		logger.Warn("shutdown", "error", err)
	}
}
