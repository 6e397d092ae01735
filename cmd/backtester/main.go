// Batch backtester: loads the configured runs, replays each against the
// Parquet bar store, persists the results and prints a comparison as JSON.
//
// Usage:
//
//	go run ./cmd/backtester [-config config/backtester.yaml] [-no-save] [-format json|table]
package main

import (
	"context"
	"encoding/json"
	"flag"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"quantlab/internal/backtest"
	"quantlab/internal/broker"
	"quantlab/internal/config"
	"quantlab/internal/domain"
	"quantlab/internal/report"
	"quantlab/internal/store"
	"quantlab/internal/strategy"
	"quantlab/internal/strategy/builtins"
	"quantlab/internal/telemetry"
	"quantlab/internal/util"
)

func main() {
	cfgFlag := flag.String("config", "", "path to the YAML config (default $BACKTESTER_CONFIG or config/backtester.yaml)")
	noSave := flag.Bool("no-save", false, "skip SQLite persistence and Parquet export")
	format := flag.String("format", "json", "report format: json or table")
	flag.Parse()

	cfg, err := config.Load(config.ResolvePath(*cfgFlag))
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	// stdout carries the report; logs go to stderr.
	logger := util.NewLoggerWithFormat(cfg.Logging.Level, cfg.Logging.Format, os.Stderr)
	util.SetDefault(logger)

	if len(cfg.Runs) == 0 {
		log.Fatalf("no runs configured")
	}
	start, end, err := cfg.DateRange()
	if err != nil {
		log.Fatalf("invalid date range: %v", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	bars := store.NewParquetStore(cfg.Storage.DataDir)
	if cfg.Storage.ResultsDir != "" {
		bars.ResultsDir = cfg.Storage.ResultsDir
	}
	m := telemetry.New()

	runner := backtest.NewRunner(builtins.NewRegistry(), bars, backtest.RunnerConfig{
		Broker: broker.Config{
			InitialCash:    cfg.Backtest.InitialCash,
			CommissionRate: cfg.Backtest.Commission,
		},
		Market:          domain.Market(cfg.Backtest.Market),
		Start:           start,
		End:             end,
		PeriodsPerYear:  cfg.Backtest.PeriodsPerYear,
		MaxConcurrent:   cfg.Backtest.MaxConcurrent,
		Timeout:         cfg.Backtest.Timeout,
		MaxPositionPct:  cfg.Backtest.MaxPositionPct,
		MaxDailyLossPct: cfg.Backtest.MaxDailyLossPct,
	}, m, logger)

	configs := make([]backtest.RunConfig, len(cfg.Runs))
	for i, r := range cfg.Runs {
		configs[i] = backtest.RunConfig{
			Name:     r.Name,
			Strategy: r.Strategy,
			Symbol:   r.Symbol,
			Params:   strategy.Params(r.Parameters),
			Filters:  r.Filters,
		}
	}

	slog.Info("starting batch", "runs", len(configs), "max_concurrent", cfg.Backtest.MaxConcurrent)
	results := runner.RunBatch(ctx, configs)
	slog.Info("batch complete", "succeeded", len(results), "failed", len(configs)-len(results))

	if !*noSave && len(results) > 0 {
		persist(ctx, cfg, bars, results)
	}

	if cfg.Telemetry.Textfile != "" {
		if err := m.WriteTextfile(cfg.Telemetry.Textfile); err != nil {
			slog.Warn("writing telemetry textfile", "path", cfg.Telemetry.Textfile, "error", err)
		}
	}

	comparison := backtest.Compare(results)
	if *format == "table" {
		if err := report.WriteComparison(os.Stdout, comparison); err != nil {
			log.Fatalf("writing report: %v", err)
		}
	} else {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(struct {
			Results    []*domain.RunResult       `json:"results"`
			Comparison backtest.ComparisonReport `json:"comparison"`
		}{results, comparison}); err != nil {
			log.Fatalf("encoding report: %v", err)
		}
	}

	if len(results) == 0 {
		os.Exit(1)
	}
}

// persist saves every result to SQLite and exports its trades and equity to
// Parquet. Failures are logged; the report is still printed.
func persist(ctx context.Context, cfg *config.Config, exporter store.ResultExporter, results []*domain.RunResult) {
	var saver store.ResultStore
	if cfg.Storage.SQLitePath != "" {
		db, err := store.NewSQLiteStore(cfg.Storage.SQLitePath)
		if err != nil {
			slog.Error("opening result store", "path", cfg.Storage.SQLitePath, "error", err)
		} else {
			defer db.Close()
			saver = db
		}
	}

	for _, r := range results {
		if saver != nil {
			if err := saver.SaveResult(ctx, r); err != nil {
				slog.Error("saving result", "name", r.Name, "id", r.ID, "error", err)
			}
		}
		if err := exporter.ExportResult(ctx, r); err != nil {
			slog.Error("exporting result", "name", r.Name, "id", r.ID, "error", err)
		}
	}
}
