// Command archiver runs the electricity-market archive: it collects
// raw market data into the local parquet store, reports coverage, and
// reingests revised windows.
//
// Usage:
//
//	archiver -config configs/archiver.yaml collect -start 2024-01-01 -end 2024-02-01
//	archiver -config configs/archiver.yaml status
//	archiver -config configs/archiver.yaml reingest -market AESO -type prices -start 2024-01-01 -end 2024-01-08
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gridfeed/elecdata/internal/backfill"
	"github.com/gridfeed/elecdata/internal/collector"
	"github.com/gridfeed/elecdata/internal/collector/gridapi"
	"github.com/gridfeed/elecdata/internal/config"
	"github.com/gridfeed/elecdata/internal/harmonize"
	"github.com/gridfeed/elecdata/internal/interval"
	"github.com/gridfeed/elecdata/internal/ledger"
	"github.com/gridfeed/elecdata/internal/metrics"
	"github.com/gridfeed/elecdata/internal/model"
	"github.com/gridfeed/elecdata/internal/registry"
	"github.com/gridfeed/elecdata/internal/store"
	"github.com/gridfeed/elecdata/internal/toolkit"
	"github.com/gridfeed/elecdata/internal/version"
)

func main() {
	configPath := flag.String("config", "configs/archiver.yaml", "path to config file")
	marketsFlag := flag.String("markets", "", "comma-separated markets (default: all registered)")
	typesFlag := flag.String("types", "prices,demand,generation,flows", "comma-separated data types")
	marketFlag := flag.String("market", "", "single market (reingest)")
	typeFlag := flag.String("type", "", "single data type (reingest)")
	startFlag := flag.String("start", "", "window start, YYYY-MM-DD or RFC3339")
	endFlag := flag.String("end", "", "window end, YYYY-MM-DD or RFC3339")
	flag.Parse()

	// Set up structured logging
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	}))
	slog.SetDefault(logger)

	command := flag.Arg(0)
	if command == "" {
		fmt.Fprintln(os.Stderr, "usage: archiver [flags] collect|status|reingest")
		os.Exit(2)
	}

	logger.Info("starting archiver",
		"version", version.Version,
		"commit", version.Commit,
		"command", command,
		"config", *configPath,
	)

	// Load configuration
	cfg, err := config.LoadAndValidate(*configPath)
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger.Info("configuration loaded",
		"instance_id", cfg.Instance.ID,
		"data_dir", cfg.Storage.DataDir,
		"collectors", len(cfg.Collectors),
	)

	// Create context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle shutdown signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Info("received shutdown signal", "signal", sig)
		cancel()
	}()

	// Market registry
	reg, err := registry.Load(cfg.Registry.Path)
	if err != nil {
		logger.Error("failed to load market registry", "error", err)
		os.Exit(1)
	}
	logger.Info("market registry loaded", "markets", len(reg.Markets()))

	// Open the store
	st, err := store.Open(cfg.Storage.DataDir, logger)
	if err != nil {
		logger.Error("failed to open store", "error", err)
		os.Exit(1)
	}
	defer st.Close()

	led, err := ledger.New(st, logger)
	if err != nil {
		logger.Error("failed to open ledger", "error", err)
		os.Exit(1)
	}

	// Collectors
	var collectors []collector.Collector
	for _, cc := range cfg.Collectors {
		collectors = append(collectors, gridapi.NewClient(
			cc.BaseURL,
			cc.APIKey,
			cc.Markets,
			gridapi.WithLogger(logger),
			gridapi.WithTimeout(cc.Timeout),
		))
	}
	colReg, err := collector.NewRegistry(collectors...)
	if err != nil {
		logger.Error("invalid collector configuration", "error", err)
		os.Exit(1)
	}

	m := metrics.New()
	coord := backfill.New(backfill.Config{
		MaxAttempts:    cfg.Backfill.MaxAttempts,
		InitialBackoff: cfg.Backfill.InitialBackoff,
		MaxChunk:       cfg.Backfill.MaxChunk,
		Concurrency:    cfg.Backfill.Concurrency,
	}, reg, colReg, harmonize.New(reg, logger), st, led, m, logger)
	runner := backfill.NewRunner(coord, cfg.Backfill.Concurrency, logger)
	tk := toolkit.New(reg, st, led, coord, runner, logger)

	// Health and metrics server
	healthServer := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Metrics.Port),
		Handler: createHealthHandler(st, reg, m, cfg.Metrics.Path),
	}
	go func() {
		logger.Info("starting health server", "port", cfg.Metrics.Port)
		if err := healthServer.ListenAndServe(); err != http.ErrServerClosed {
			logger.Error("health server error", "error", err)
		}
	}()
	defer func() {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		healthServer.Shutdown(shutdownCtx)
	}()

	var exit int
	switch command {
	case "collect":
		exit = runCollect(ctx, tk, reg, logger, *marketsFlag, *typesFlag, *startFlag, *endFlag)
	case "status":
		exit = runStatus(ctx, tk, reg, logger, *marketsFlag, *typesFlag)
	case "reingest":
		exit = runReingest(ctx, tk, logger, *marketFlag, *typeFlag, *startFlag, *endFlag)
	default:
		logger.Error("unknown command", "command", command)
		exit = 2
	}

	logger.Info("archiver stopped")
	os.Exit(exit)
}

func runCollect(ctx context.Context, tk *toolkit.Toolkit, reg *registry.Registry, logger *slog.Logger, marketsFlag, typesFlag, startFlag, endFlag string) int {
	window, err := parseWindow(startFlag, endFlag)
	if err != nil {
		logger.Error("invalid window", "error", err)
		return 2
	}
	markets := splitList(marketsFlag)
	if len(markets) == 0 {
		markets = reg.Markets()
	}
	types, err := parseTypes(typesFlag)
	if err != nil {
		logger.Error("invalid types", "error", err)
		return 2
	}

	reports, err := tk.Collect(ctx, markets, types, window)
	if err != nil {
		logger.Error("collection failed", "error", err)
		return 1
	}

	failed := 0
	for _, r := range reports {
		logger.Info("collection result",
			"market", r.Job.Market,
			"data_type", r.Job.DataType,
			"state", r.State,
			"rows", r.Rows,
			"missing", len(r.MissingWindows()),
		)
		if r.State != backfill.StateDone {
			failed++
		}
	}
	if failed > 0 {
		logger.Warn("some collections incomplete", "failed", failed, "total", len(reports))
		return 1
	}
	return 0
}

func runStatus(ctx context.Context, tk *toolkit.Toolkit, reg *registry.Registry, logger *slog.Logger, marketsFlag, typesFlag string) int {
	markets := splitList(marketsFlag)
	if len(markets) == 0 {
		markets = reg.Markets()
	}
	types, err := parseTypes(typesFlag)
	if err != nil {
		logger.Error("invalid types", "error", err)
		return 2
	}

	for _, market := range markets {
		for _, dt := range types {
			statuses, err := tk.Status(ctx, market, dt)
			if err != nil {
				logger.Error("status failed", "market", market, "data_type", dt, "error", err)
				return 1
			}
			for _, s := range statuses {
				logger.Info("series status",
					"market", s.Market,
					"data_type", s.DataType,
					"resolution_minutes", s.ResolutionMinutes,
					"earliest", s.Earliest.Format(time.RFC3339),
					"latest", s.Latest.Format(time.RFC3339),
					"rows", s.Rows,
					"covered_fraction", fmt.Sprintf("%.4f", s.CoveredFraction),
					"gaps", len(s.Gaps),
					"last_collected", s.LastCollectedAt.Format(time.RFC3339),
					"last_source", s.LastSource,
				)
			}
		}
	}
	return 0
}

func runReingest(ctx context.Context, tk *toolkit.Toolkit, logger *slog.Logger, market, typeFlag, startFlag, endFlag string) int {
	if market == "" || typeFlag == "" {
		logger.Error("reingest requires -market and -type")
		return 2
	}
	dt := model.DataType(typeFlag)
	if !dt.Valid() {
		logger.Error("unknown data type", "type", typeFlag)
		return 2
	}
	window, err := parseWindow(startFlag, endFlag)
	if err != nil {
		logger.Error("invalid window", "error", err)
		return 2
	}

	report, err := tk.Reingest(ctx, market, dt, window)
	if err != nil {
		logger.Error("reingest failed", "error", err)
		return 1
	}
	logger.Info("reingest result", "state", report.State, "rows", report.Rows, "missing", len(report.MissingWindows()))
	if report.State != backfill.StateDone {
		return 1
	}
	return 0
}

func parseWindow(startFlag, endFlag string) (interval.Interval, error) {
	start, err := parseInstant(startFlag)
	if err != nil {
		return interval.Interval{}, fmt.Errorf("start: %w", err)
	}
	end, err := parseInstant(endFlag)
	if err != nil {
		return interval.Interval{}, fmt.Errorf("end: %w", err)
	}
	w := interval.New(start, end)
	if w.Empty() {
		return interval.Interval{}, fmt.Errorf("window [%s, %s) is empty", startFlag, endFlag)
	}
	return w, nil
}

func parseInstant(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, fmt.Errorf("missing value")
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t.UTC(), nil
	}
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse %q: want YYYY-MM-DD or RFC3339", s)
	}
	return t.UTC(), nil
}

func parseTypes(s string) ([]model.DataType, error) {
	var out []model.DataType
	for _, part := range splitList(s) {
		dt := model.DataType(part)
		if !dt.Valid() {
			return nil, fmt.Errorf("unknown data type %q", part)
		}
		out = append(out, dt)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("no data types given")
	}
	return out, nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// createHealthHandler serves liveness plus the metrics endpoint.
func createHealthHandler(st *store.Store, reg *registry.Registry, m *metrics.Metrics, metricsPath string) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		health := struct {
			Status     string         `json:"status"`
			Components map[string]any `json:"components"`
		}{
			Status:     "healthy",
			Components: make(map[string]any),
		}

		// Check the catalog database
		if err := st.DB().PingContext(ctx); err != nil {
			health.Status = "unhealthy"
			health.Components["catalog"] = map[string]string{
				"status": "disconnected",
				"error":  err.Error(),
			}
		} else {
			health.Components["catalog"] = "connected"
		}

		health.Components["market_registry"] = map[string]any{
			"markets": len(reg.Markets()),
		}

		w.Header().Set("Content-Type", "application/json")
		if health.Status == "unhealthy" {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		json.NewEncoder(w).Encode(health)
	})

	mux.Handle(metricsPath, m.Handler())

	return mux
}
