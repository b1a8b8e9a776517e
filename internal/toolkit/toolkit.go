package toolkit

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/gridfeed/elecdata/internal/backfill"
	"github.com/gridfeed/elecdata/internal/interval"
	"github.com/gridfeed/elecdata/internal/ledger"
	"github.com/gridfeed/elecdata/internal/model"
	"github.com/gridfeed/elecdata/internal/registry"
	"github.com/gridfeed/elecdata/internal/resample"
	"github.com/gridfeed/elecdata/internal/store"
)

// Toolkit bundles the archive's public operations.
type Toolkit struct {
	registry *registry.Registry
	store    *store.Store
	ledger   *ledger.Ledger
	coord    *backfill.Coordinator
	runner   *backfill.Runner
	logger   *slog.Logger
}

// New wires the facade over already-constructed components.
func New(reg *registry.Registry, st *store.Store, led *ledger.Ledger, coord *backfill.Coordinator, runner *backfill.Runner, logger *slog.Logger) *Toolkit {
	if logger == nil {
		logger = slog.Default()
	}
	return &Toolkit{
		registry: reg,
		store:    st,
		ledger:   led,
		coord:    coord,
		runner:   runner,
		logger:   logger,
	}
}

// GetRequest parameterizes one windowed read across one or more
// markets.
type GetRequest struct {
	Markets           []string
	DataType          model.DataType
	Window            interval.Interval
	ResolutionMinutes int    // 0 or native resolution returns stored rows as-is
	FillGaps          bool   // collect missing sub-windows before reading
	Filter            Filter // empty filter keeps every row
}

// Filter narrows a read to selected series within the data type. An
// empty field keeps all rows of that variant; fields for other
// variants are ignored.
type Filter struct {
	FuelTypes   []model.FuelType
	PriceTypes  []model.PriceType
	DemandTypes []model.DemandType
}

func (f Filter) keep(obs model.Observation) bool {
	switch o := obs.(type) {
	case model.Price:
		return matchAny(f.PriceTypes, o.PriceType)
	case model.Demand:
		return matchAny(f.DemandTypes, o.DemandType)
	case model.Generation:
		return matchAny(f.FuelTypes, o.FuelType)
	}
	return true
}

func matchAny[T comparable](wanted []T, got T) bool {
	if len(wanted) == 0 {
		return true
	}
	for _, w := range wanted {
		if w == got {
			return true
		}
	}
	return false
}

// Get returns observations for the window, merged across the requested
// markets and sorted by timestamp. Gaps are optionally filled first and
// rows resampled to the requested resolution per market, since native
// resolutions differ between markets. Resampled rows at non-native
// resolutions carry Interpolated=true and are never persisted. When gap
// filling partially fails, Get returns what is stored rather than
// erroring; Status exposes what is still missing. An unknown market is
// a configuration error and fails the whole call.
func (t *Toolkit) Get(ctx context.Context, req GetRequest) ([]model.Observation, error) {
	var out []model.Observation
	for _, market := range req.Markets {
		rows, err := t.getMarket(ctx, market, req)
		if err != nil {
			return nil, err
		}
		out = append(out, rows...)
	}

	sort.SliceStable(out, func(i, j int) bool {
		ti, tj := out[i].Timestamp(), out[j].Timestamp()
		if !ti.Equal(tj) {
			return ti.Before(tj)
		}
		return out[i].Key() < out[j].Key()
	})
	return out, nil
}

func (t *Toolkit) getMarket(ctx context.Context, market string, req GetRequest) ([]model.Observation, error) {
	desc, err := t.registry.Describe(market)
	if err != nil {
		return nil, err
	}
	native, err := desc.NativeResolution(req.DataType)
	if err != nil {
		return nil, err
	}

	if req.FillGaps {
		report, err := t.coord.Run(ctx, backfill.NewJob(market, req.DataType, req.Window))
		if err != nil {
			return nil, fmt.Errorf("fill gaps: %w", err)
		}
		if report.State != backfill.StateDone {
			t.logger.Warn("gap fill incomplete, serving stored rows",
				"market", market,
				"data_type", req.DataType,
				"state", report.State,
				"missing", len(report.MissingWindows()),
			)
		}
	}

	stored, err := t.store.Read(ctx, market, req.DataType, req.Window)
	if err != nil {
		return nil, err
	}

	// Filter before resampling so excluded series are never interpolated.
	rows := stored[:0]
	for _, o := range stored {
		if req.Filter.keep(o) {
			rows = append(rows, o)
		}
	}

	if req.ResolutionMinutes == 0 || req.ResolutionMinutes == native {
		return rows, nil
	}

	resampled, err := resample.Resample(rows, req.ResolutionMinutes)
	if err != nil {
		return nil, err
	}

	// Downsampling buckets align to the epoch, not the window, so trim
	// anything that slid outside the request.
	out := resampled[:0]
	for _, o := range resampled {
		if req.Window.Contains(o.Timestamp()) {
			out = append(out, o)
		}
	}
	return out, nil
}

// SeriesStatus summarizes one (market, data_type, resolution) series.
type SeriesStatus struct {
	Market            string
	DataType          model.DataType
	ResolutionMinutes int
	Earliest          time.Time           // First stored observation
	Latest            time.Time           // Last stored observation
	Rows              int                 // Total stored rows
	CoveredFraction   float64             // Of [Earliest, Latest+resolution)
	Gaps              []interval.Interval // Ledger gaps inside that span
	LastCollectedAt   time.Time
	LastSource        string
}

// Status reports coverage per resolution for one market and data
// type. A series with no stored rows yields no entry.
func (t *Toolkit) Status(ctx context.Context, market string, dt model.DataType) ([]SeriesStatus, error) {
	if _, err := t.registry.Describe(market); err != nil {
		return nil, err
	}

	covered, err := t.store.CoveredIntervals(ctx, market, dt)
	if err != nil {
		return nil, err
	}

	var out []SeriesStatus
	for res, ivs := range covered {
		if len(ivs) == 0 {
			continue
		}
		span := interval.New(ivs[0].Start, ivs[len(ivs)-1].End)
		key := ledger.Key{Market: market, DataType: dt, ResolutionMinutes: res}

		ledStatus, err := t.ledger.StatusFor(ctx, key, span)
		if err != nil {
			return nil, err
		}

		rows, err := t.countRows(ctx, market, dt, res)
		if err != nil {
			return nil, err
		}

		out = append(out, SeriesStatus{
			Market:            market,
			DataType:          dt,
			ResolutionMinutes: res,
			Earliest:          span.Start,
			Latest:            span.End.Add(-time.Duration(res) * time.Minute),
			Rows:              rows,
			CoveredFraction:   ledStatus.CoveredFraction,
			Gaps:              ledStatus.Gaps,
			LastCollectedAt:   ledStatus.LastUpdatedAt,
			LastSource:        ledStatus.LastSource,
		})
	}
	return out, nil
}

func (t *Toolkit) countRows(ctx context.Context, market string, dt model.DataType, res int) (int, error) {
	rows, err := t.store.Query(ctx,
		fmt.Sprintf("SELECT count(*) FROM %s WHERE market = $1 AND resolution_minutes = $2", dt),
		market, res)
	if err != nil {
		return 0, err
	}
	defer rows.Close()

	var n int
	if rows.Next() {
		if err := rows.Scan(&n); err != nil {
			return 0, fmt.Errorf("scan row count: %w", err)
		}
	}
	return n, rows.Err()
}

// Collect backfills every (market, data type) combination over the
// window. Combinations the registry or collector set cannot serve are
// logged and skipped instead of aborting the rest.
func (t *Toolkit) Collect(ctx context.Context, markets []string, dts []model.DataType, window interval.Interval) ([]backfill.Report, error) {
	var jobs []backfill.Job
	for _, market := range markets {
		desc, err := t.registry.Describe(market)
		if err != nil {
			t.logger.Warn("skipping unknown market", "market", market)
			continue
		}
		for _, dt := range dts {
			if _, err := desc.NativeResolution(dt); err != nil {
				t.logger.Warn("skipping unsupported combination", "market", market, "data_type", dt)
				continue
			}
			jobs = append(jobs, backfill.NewJob(market, dt, window))
		}
	}
	if len(jobs) == 0 {
		return nil, fmt.Errorf("no collectable (market, data_type) combinations")
	}

	t.logger.Info("bulk collection started", "jobs", len(jobs), "window", window.String())
	return t.runner.RunAll(ctx, jobs), nil
}

// Reingest drops the stored rows and ledger coverage inside the
// window, then re-collects it. The one sanctioned way to replace data
// after an upstream revision.
func (t *Toolkit) Reingest(ctx context.Context, market string, dt model.DataType, window interval.Interval) (backfill.Report, error) {
	desc, err := t.registry.Describe(market)
	if err != nil {
		return backfill.Report{}, err
	}
	native, err := desc.NativeResolution(dt)
	if err != nil {
		return backfill.Report{}, err
	}

	removed, err := t.store.DeleteRange(ctx, market, dt, window)
	if err != nil {
		return backfill.Report{}, fmt.Errorf("delete stored rows: %w", err)
	}

	key := ledger.Key{Market: market, DataType: dt, ResolutionMinutes: native}
	if err := t.ledger.ReplaceRange(ctx, key, window); err != nil {
		return backfill.Report{}, fmt.Errorf("withdraw ledger coverage: %w", err)
	}

	t.logger.Info("reingest window cleared",
		"market", market,
		"data_type", dt,
		"window", window.String(),
		"rows_removed", removed,
	)

	report, err := t.coord.Run(ctx, backfill.NewJob(market, dt, window))
	if err != nil {
		return backfill.Report{}, fmt.Errorf("re-collect window: %w", err)
	}
	return report, nil
}
