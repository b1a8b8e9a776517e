package backfill

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/gridfeed/elecdata/internal/collector"
	"github.com/gridfeed/elecdata/internal/harmonize"
	"github.com/gridfeed/elecdata/internal/interval"
	"github.com/gridfeed/elecdata/internal/ledger"
	"github.com/gridfeed/elecdata/internal/metrics"
	"github.com/gridfeed/elecdata/internal/registry"
	"github.com/gridfeed/elecdata/internal/store"
)

// Config holds coordinator tuning.
type Config struct {
	MaxAttempts    int           // Fetch attempts per gap (default: 4)
	InitialBackoff time.Duration // First retry delay, doubles per attempt (default: 2s)
	MaxChunk       time.Duration // Largest window fetched in one request (default: 7d)
	Concurrency    int           // Gaps filled in parallel (default: 4)
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		MaxAttempts:    4,
		InitialBackoff: 2 * time.Second,
		MaxChunk:       7 * 24 * time.Hour,
		Concurrency:    4,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = d.MaxAttempts
	}
	if c.InitialBackoff <= 0 {
		c.InitialBackoff = d.InitialBackoff
	}
	if c.MaxChunk <= 0 {
		c.MaxChunk = d.MaxChunk
	}
	if c.Concurrency <= 0 {
		c.Concurrency = d.Concurrency
	}
	return c
}

// Coordinator fills ledger gaps by fetching, harmonizing, and
// appending, one gap at a time.
type Coordinator struct {
	cfg        Config
	registry   *registry.Registry
	collectors *collector.Registry
	pipeline   *harmonize.Pipeline
	store      *store.Store
	ledger     *ledger.Ledger
	metrics    *metrics.Metrics
	logger     *slog.Logger
}

// New wires a coordinator. A nil metrics set disables instrumentation.
func New(cfg Config, reg *registry.Registry, collectors *collector.Registry, pipeline *harmonize.Pipeline, st *store.Store, led *ledger.Ledger, m *metrics.Metrics, logger *slog.Logger) *Coordinator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Coordinator{
		cfg:        cfg.withDefaults(),
		registry:   reg,
		collectors: collectors,
		pipeline:   pipeline,
		store:      st,
		ledger:     led,
		metrics:    m,
		logger:     logger,
	}
}

// Run executes one job to completion. Gaps already covered by the
// ledger are skipped, so re-running after a partial failure only
// touches what is still missing. The error is non-nil only for
// planning failures; per-gap failures live in the report.
func (c *Coordinator) Run(ctx context.Context, job Job) (Report, error) {
	desc, err := c.registry.Describe(job.Market)
	if err != nil {
		return Report{}, err
	}
	resolution, err := desc.NativeResolution(job.DataType)
	if err != nil {
		return Report{}, err
	}
	key := ledger.Key{Market: job.Market, DataType: job.DataType, ResolutionMinutes: resolution}

	gaps, err := c.ledger.Plan(ctx, key, job.Window)
	if err != nil {
		return Report{}, fmt.Errorf("plan gaps: %w", err)
	}

	var chunks []interval.Interval
	for _, gap := range gaps {
		chunks = append(chunks, interval.Split(gap, c.cfg.MaxChunk)...)
	}

	c.logger.Info("backfill job started",
		"job", job.ID,
		"market", job.Market,
		"data_type", job.DataType,
		"window", job.Window.String(),
		"gaps", len(chunks),
	)

	report := Report{Job: job, Gaps: make([]GapResult, len(chunks))}

	// Semaphore for bounded concurrency.
	sem := make(chan struct{}, c.cfg.Concurrency)
	var wg sync.WaitGroup

	for i, chunk := range chunks {
		wg.Add(1)
		go func(i int, gap interval.Interval) {
			defer wg.Done()

			select {
			case sem <- struct{}{}:
				defer func() { <-sem }()
			case <-ctx.Done():
				report.Gaps[i] = GapResult{Gap: gap, Phase: PhaseFetching, Err: ctx.Err()}
				return
			}

			report.Gaps[i] = c.fillGap(ctx, job, key, gap)
		}(i, chunk)
	}
	wg.Wait()

	failed := 0
	for _, g := range report.Gaps {
		report.Rows += g.Rows
		if g.Err != nil {
			failed++
		}
	}
	switch {
	case failed == 0:
		report.State = StateDone
	case failed == len(report.Gaps):
		report.State = StateFailed
	default:
		report.State = StatePartiallyCompleted
	}

	if c.metrics != nil {
		c.metrics.BackfillJobs.WithLabelValues(string(report.State)).Inc()
	}
	c.logger.Info("backfill job finished",
		"job", job.ID,
		"state", report.State,
		"rows", report.Rows,
		"failed_gaps", failed,
	)
	return report, nil
}

// fillGap runs one gap through fetch, harmonize, append, and ledger
// update. The ledger record lands last, so a crash anywhere leaves the
// gap open and the next run redoes it; the store's dedup makes that
// replay harmless.
func (c *Coordinator) fillGap(ctx context.Context, job Job, key ledger.Key, gap interval.Interval) GapResult {
	res := GapResult{Gap: gap, Phase: PhaseFetching}

	col, err := c.collectors.For(job.Market)
	if err != nil {
		res.Err = err
		return res
	}
	source := col.Source(job.Market)

	rows, attempts, err := c.fetchWithRetry(ctx, col, job, gap)
	res.Attempts = attempts
	if err != nil {
		res.Err = err
		return res
	}

	res.Phase = PhaseHarmonizing
	harmonized, err := c.pipeline.Harmonize(job.Market, job.DataType, source, rows)
	if err != nil {
		res.Err = err
		return res
	}
	for _, ev := range harmonized.Events {
		if c.metrics != nil {
			c.metrics.QualityEvents.WithLabelValues(ev.Market, string(ev.DataType), string(ev.Kind)).Inc()
		}
		if err := c.store.LogQualityEvent(ctx, ev); err != nil {
			res.Err = err
			return res
		}
	}

	res.Phase = PhaseAppending
	appended, err := c.store.Append(ctx, job.DataType, harmonized.Observations)
	if err != nil {
		res.Err = err
		return res
	}
	res.Rows = appended
	if c.metrics != nil && appended > 0 {
		c.metrics.RowsAppended.WithLabelValues(job.Market, string(job.DataType)).Add(float64(appended))
	}

	// A gap that legitimately produced zero rows still counts as
	// collected; otherwise it would be re-fetched forever.
	res.Phase = PhaseLedgerUpdate
	if err := c.ledger.Record(ctx, key, gap, source); err != nil {
		res.Err = err
		return res
	}

	res.Phase = PhaseDone
	return res
}

// fetchWithRetry retries transient failures with exponential backoff
// and jitter. Permanent failures return immediately.
func (c *Coordinator) fetchWithRetry(ctx context.Context, col collector.Collector, job Job, gap interval.Interval) ([]collector.RawRow, int, error) {
	var lastErr error
	backoff := c.cfg.InitialBackoff

	for attempt := 1; attempt <= c.cfg.MaxAttempts; attempt++ {
		if attempt > 1 {
			// Add jitter: backoff * (0.5 to 1.5)
			jitter := backoff/2 + time.Duration(rand.Int64N(int64(backoff)))
			c.logger.Debug("retrying gap fetch",
				"job", job.ID,
				"gap", gap.String(),
				"attempt", attempt,
				"backoff", jitter,
			)
			if c.metrics != nil {
				c.metrics.FetchRetries.WithLabelValues(job.Market, string(job.DataType)).Inc()
			}

			select {
			case <-ctx.Done():
				return nil, attempt - 1, ctx.Err()
			case <-time.After(jitter):
			}

			backoff *= 2
		}

		start := time.Now()
		rows, err := col.Fetch(ctx, job.Market, job.DataType, gap)
		if c.metrics != nil {
			c.metrics.FetchDuration.WithLabelValues(job.Market, string(job.DataType)).Observe(time.Since(start).Seconds())
		}
		if err == nil {
			return rows, attempt, nil
		}

		lastErr = err
		if !collector.Transient(err) {
			return nil, attempt, err
		}
	}

	return nil, c.cfg.MaxAttempts, fmt.Errorf("max fetch attempts exceeded: %w", lastErr)
}
