package store

import (
	"fmt"
	"time"

	"github.com/gridfeed/elecdata/internal/model"
)

// Column schemas per data type. The parquet files are the stable
// external contract, so column names and order are fixed here and
// nowhere else.

func columnsFor(dt model.DataType) (string, error) {
	switch dt {
	case model.DataTypePrices:
		return `timestamp_utc TIMESTAMP, market VARCHAR, price DOUBLE, currency VARCHAR,
			price_type VARCHAR, volume_mwh DOUBLE, resolution_minutes INTEGER, source VARCHAR`, nil
	case model.DataTypeDemand:
		return `timestamp_utc TIMESTAMP, market VARCHAR, demand_mw DOUBLE, demand_type VARCHAR,
			unit VARCHAR, resolution_minutes INTEGER, source VARCHAR`, nil
	case model.DataTypeGeneration:
		return `timestamp_utc TIMESTAMP, market VARCHAR, fuel_type VARCHAR, generation_mw DOUBLE,
			unit VARCHAR, unmapped BOOLEAN, raw_fuel VARCHAR, resolution_minutes INTEGER, source VARCHAR`, nil
	case model.DataTypeFlows:
		return `timestamp_utc TIMESTAMP, market VARCHAR, from_market VARCHAR, to_market VARCHAR,
			flow_mw DOUBLE, resolution_minutes INTEGER, source VARCHAR`, nil
	default:
		return "", fmt.Errorf("no schema for data type %q", dt)
	}
}

func columnNames(dt model.DataType) []string {
	switch dt {
	case model.DataTypePrices:
		return []string{"timestamp_utc", "market", "price", "currency", "price_type", "volume_mwh", "resolution_minutes", "source"}
	case model.DataTypeDemand:
		return []string{"timestamp_utc", "market", "demand_mw", "demand_type", "unit", "resolution_minutes", "source"}
	case model.DataTypeGeneration:
		return []string{"timestamp_utc", "market", "fuel_type", "generation_mw", "unit", "unmapped", "raw_fuel", "resolution_minutes", "source"}
	case model.DataTypeFlows:
		return []string{"timestamp_utc", "market", "from_market", "to_market", "flow_mw", "resolution_minutes", "source"}
	default:
		return nil
	}
}

// insertArgs flattens an observation into the column order of its
// data-type schema.
func insertArgs(obs model.Observation) ([]any, error) {
	switch o := obs.(type) {
	case model.Price:
		return []any{o.TimestampUTC, o.Market, o.Value, o.Currency, string(o.PriceType), o.VolumeMWh, o.ResolutionMinutes, o.Source}, nil
	case model.Demand:
		return []any{o.TimestampUTC, o.Market, o.MW, string(o.DemandType), string(unitOrMW(o.Unit)), o.ResolutionMinutes, o.Source}, nil
	case model.Generation:
		return []any{o.TimestampUTC, o.Market, string(o.FuelType), o.MW, string(unitOrMW(o.Unit)), o.Unmapped, o.RawFuel, o.ResolutionMinutes, o.Source}, nil
	case model.Flow:
		return []any{o.TimestampUTC, o.Market, o.FromMarket, o.ToMarket, o.MW, o.ResolutionMinutes, o.Source}, nil
	default:
		return nil, fmt.Errorf("unknown observation variant %T", obs)
	}
}

// rowScanner produces an observation from one result row of a
// data-type schema query.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanObservation(dt model.DataType, r rowScanner) (model.Observation, error) {
	switch dt {
	case model.DataTypePrices:
		var o model.Price
		var ts time.Time
		var pt string
		if err := r.Scan(&ts, &o.Market, &o.Value, &o.Currency, &pt, &o.VolumeMWh, &o.ResolutionMinutes, &o.Source); err != nil {
			return nil, err
		}
		o.TimestampUTC = ts.UTC()
		o.PriceType = model.PriceType(pt)
		return o, nil

	case model.DataTypeDemand:
		var o model.Demand
		var ts time.Time
		var dtype, unit string
		if err := r.Scan(&ts, &o.Market, &o.MW, &dtype, &unit, &o.ResolutionMinutes, &o.Source); err != nil {
			return nil, err
		}
		o.TimestampUTC = ts.UTC()
		o.DemandType = model.DemandType(dtype)
		o.Unit = model.Unit(unit)
		return o, nil

	case model.DataTypeGeneration:
		var o model.Generation
		var ts time.Time
		var ft, unit string
		if err := r.Scan(&ts, &o.Market, &ft, &o.MW, &unit, &o.Unmapped, &o.RawFuel, &o.ResolutionMinutes, &o.Source); err != nil {
			return nil, err
		}
		o.TimestampUTC = ts.UTC()
		o.FuelType = model.FuelType(ft)
		o.Unit = model.Unit(unit)
		return o, nil

	case model.DataTypeFlows:
		var o model.Flow
		var ts time.Time
		if err := r.Scan(&ts, &o.Market, &o.FromMarket, &o.ToMarket, &o.MW, &o.ResolutionMinutes, &o.Source); err != nil {
			return nil, err
		}
		o.TimestampUTC = ts.UTC()
		return o, nil

	default:
		return nil, fmt.Errorf("no scanner for data type %q", dt)
	}
}

func unitOrMW(u model.Unit) model.Unit {
	if u == "" {
		return model.UnitMW
	}
	return u
}
