package harmonize

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/gridfeed/elecdata/internal/collector"
	"github.com/gridfeed/elecdata/internal/fuel"
	"github.com/gridfeed/elecdata/internal/localtime"
	"github.com/gridfeed/elecdata/internal/model"
	"github.com/gridfeed/elecdata/internal/registry"
)

// Result carries the harmonized batch plus everything that did not
// make it through, as quality events.
type Result struct {
	Observations []model.Observation
	Events       []model.QualityEvent
}

// Pipeline harmonizes raw rows for the markets in its registry.
type Pipeline struct {
	registry *registry.Registry
	fuels    *fuel.Normalizer
	logger   *slog.Logger
	now      func() time.Time // stubbed in tests
}

// New builds a pipeline over the market registry with the bundled
// fuel mapping tables.
func New(reg *registry.Registry, logger *slog.Logger) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{
		registry: reg,
		fuels:    fuel.NewNormalizer(),
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Harmonize converts one fetched batch into canonical observations.
// Row-level problems become quality events, not errors; the returned
// error covers batch-level failures only (unknown market, bad
// timezone data).
func (p *Pipeline) Harmonize(market string, dt model.DataType, source string, rows []collector.RawRow) (Result, error) {
	desc, err := p.registry.Describe(market)
	if err != nil {
		return Result{}, err
	}
	loc, err := desc.Location()
	if err != nil {
		return Result{}, fmt.Errorf("load timezone for %s: %w", market, err)
	}
	resolution, err := desc.NativeResolution(dt)
	if err != nil {
		return Result{}, err
	}

	var res Result
	seen := make(map[string]struct{}, len(rows))

	for _, row := range rows {
		obs, events := p.harmonizeRow(desc, loc, market, dt, source, resolution, row)
		res.Events = append(res.Events, events...)
		if obs == nil {
			continue
		}

		key := obs.Key()
		if _, dup := seen[key]; dup {
			res.Events = append(res.Events, p.event(market, dt, source, model.QualityDuplicateDropped,
				fmt.Sprintf("duplicate key %s in batch", key)))
			continue
		}
		seen[key] = struct{}{}
		res.Observations = append(res.Observations, obs)
	}

	p.logger.Debug("harmonized batch",
		"market", market,
		"data_type", dt,
		"in", len(rows),
		"out", len(res.Observations),
		"events", len(res.Events),
	)
	return res, nil
}

// harmonizeRow maps one raw row to an observation. A nil observation
// means the row was dropped; the events say why.
func (p *Pipeline) harmonizeRow(desc registry.Descriptor, loc *time.Location, market string, dt model.DataType, source string, resolution int, row collector.RawRow) (model.Observation, []model.QualityEvent) {
	var events []model.QualityEvent

	wall, err := localtime.ParseWall(row.LocalTime)
	if err != nil {
		return nil, append(events, p.event(market, dt, source, model.QualitySchemaViolation,
			fmt.Sprintf("unparseable local time %q: %v", row.LocalTime, err)))
	}

	hint := localtime.Hint{UTCOffsetSec: row.UTCOffsetSec, Occurrence: row.Occurrence}
	utc, ambiguous, err := localtime.Resolve(wall, loc, hint)
	if errors.Is(err, localtime.ErrNonexistentLocalTime) {
		return nil, append(events, p.event(market, dt, source, model.QualityNonexistentTime,
			fmt.Sprintf("%s does not exist in %s", row.LocalTime, desc.Timezone)))
	}
	if err != nil {
		return nil, append(events, p.event(market, dt, source, model.QualitySchemaViolation,
			fmt.Sprintf("resolve local time %q: %v", row.LocalTime, err)))
	}
	if ambiguous {
		events = append(events, p.event(market, dt, source, model.QualityAmbiguousTime,
			fmt.Sprintf("%s is ambiguous in %s, took earlier instant %s", row.LocalTime, desc.Timezone, utc.Format(time.RFC3339))))
	}

	header := model.Header{
		TimestampUTC:      utc,
		Market:            market,
		ResolutionMinutes: resolution,
		Source:            source,
	}

	obs, err := p.buildVariant(desc, header, dt, row, &events, market, source)
	if err != nil {
		return nil, append(events, p.event(market, dt, source, model.QualitySchemaViolation, err.Error()))
	}

	if err := model.Validate(obs); err != nil {
		return nil, append(events, p.event(market, dt, source, model.QualitySchemaViolation, err.Error()))
	}
	return obs, events
}

func (p *Pipeline) buildVariant(desc registry.Descriptor, header model.Header, dt model.DataType, row collector.RawRow, events *[]model.QualityEvent, market, source string) (model.Observation, error) {
	switch dt {
	case model.DataTypePrices:
		pt, err := priceType(row.Label)
		if err != nil {
			return nil, err
		}
		return model.Price{
			Header:    header,
			Value:     row.Value,
			Currency:  desc.Currency,
			PriceType: pt,
			VolumeMWh: row.VolumeMWh,
		}, nil

	case model.DataTypeDemand:
		unit, value, err := normalizedUnit(row)
		if err != nil {
			return nil, err
		}
		dtype, err := demandType(row.Label)
		if err != nil {
			return nil, err
		}
		return model.Demand{
			Header:     header,
			MW:         value,
			DemandType: dtype,
			Unit:       unit,
		}, nil

	case model.DataTypeGeneration:
		unit, value, err := normalizedUnit(row)
		if err != nil {
			return nil, err
		}
		ft, unmapped := p.fuels.Normalize(market, row.Label)
		gen := model.Generation{
			Header:   header,
			FuelType: ft,
			MW:       value,
			Unit:     unit,
			Unmapped: unmapped,
		}
		if unmapped {
			gen.RawFuel = row.Label
			*events = append(*events, p.event(market, dt, source, model.QualityUnmappedFuel,
				fmt.Sprintf("no fuel mapping for %q in %s", row.Label, market)))
		}
		return gen, nil

	case model.DataTypeFlows:
		if row.CounterParty == "" {
			return nil, fmt.Errorf("flow row missing counterparty")
		}
		return model.Flow{
			Header:     header,
			FromMarket: market,
			ToMarket:   row.CounterParty,
			MW:         row.Value,
		}, nil

	default:
		return nil, fmt.Errorf("unknown data type %q", dt)
	}
}

func (p *Pipeline) event(market string, dt model.DataType, source string, kind model.QualityEventKind, detail string) model.QualityEvent {
	return model.QualityEvent{
		OccurredAt: p.now(),
		Market:     market,
		DataType:   dt,
		Kind:       kind,
		Source:     source,
		Detail:     detail,
	}
}

// normalizedUnit applies the unit normalizer, treating a missing unit
// label as MW.
func normalizedUnit(row collector.RawRow) (model.Unit, float64, error) {
	if row.Unit == "" {
		return model.UnitMW, row.Value, nil
	}
	return fuel.NormalizeUnit(row.Unit, row.Value)
}

func priceType(label string) (model.PriceType, error) {
	switch pt := model.PriceType(label); pt {
	case model.PriceDayAhead, model.PriceRealTime, model.PricePool, model.PriceIntraday, model.PriceImbalance:
		return pt, nil
	}
	return "", fmt.Errorf("unknown price type label %q", label)
}

func demandType(label string) (model.DemandType, error) {
	if label == "" {
		return model.DemandActual, nil
	}
	switch dt := model.DemandType(label); dt {
	case model.DemandActual, model.DemandForecastDayAhead, model.DemandForecastIntraday:
		return dt, nil
	}
	return "", fmt.Errorf("unknown demand type label %q", label)
}
