package model

import (
	"fmt"
	"time"
)

// -----------------------------------------------------------------------------
// Enumerations
// -----------------------------------------------------------------------------

// DataType identifies one of the archived time-series families.
type DataType string

const (
	DataTypePrices     DataType = "prices"
	DataTypeDemand     DataType = "demand"
	DataTypeGeneration DataType = "generation"
	DataTypeFlows      DataType = "flows"
)

// DataTypes lists every valid data type, in canonical order.
var DataTypes = []DataType{DataTypePrices, DataTypeDemand, DataTypeGeneration, DataTypeFlows}

// Valid reports whether dt is a known data type.
func (dt DataType) Valid() bool {
	switch dt {
	case DataTypePrices, DataTypeDemand, DataTypeGeneration, DataTypeFlows:
		return true
	}
	return false
}

// PriceType classifies a price observation.
type PriceType string

const (
	PriceDayAhead  PriceType = "day_ahead"
	PriceRealTime  PriceType = "real_time"
	PricePool      PriceType = "pool"
	PriceIntraday  PriceType = "intraday"
	PriceImbalance PriceType = "imbalance"
)

// DemandType classifies a demand observation.
type DemandType string

const (
	DemandActual           DemandType = "actual"
	DemandForecastDayAhead DemandType = "forecast_day_ahead"
	DemandForecastIntraday DemandType = "forecast_intraday"
)

// FuelType is the canonical fuel taxonomy for generation observations.
type FuelType string

const (
	FuelCoal    FuelType = "coal"
	FuelGas     FuelType = "gas"
	FuelOil     FuelType = "oil"
	FuelHydro   FuelType = "hydro"
	FuelNuclear FuelType = "nuclear"
	FuelWind    FuelType = "wind"
	FuelSolar   FuelType = "solar"
	FuelBiomass FuelType = "biomass"
	FuelStorage FuelType = "storage"
	FuelOther   FuelType = "other"
)

// Unit identifies the physical unit of an observation value.
type Unit string

const (
	UnitMW  Unit = "MW"  // instantaneous power
	UnitMWh Unit = "MWh" // cumulative energy over the sample interval
)

// -----------------------------------------------------------------------------
// Canonical observations
// -----------------------------------------------------------------------------

// Observation is the closed set of canonical row variants. Each variant
// shares the timestamp/market/resolution/source header and diverges in
// payload, so downstream dispatch (resampling, storage schemas) is
// exhaustive over the four concrete types.
type Observation interface {
	// Timestamp returns the absolute UTC instant of the sample start.
	Timestamp() time.Time

	// MarketID returns the market the row belongs to. For flows this is
	// the exporting market.
	MarketID() string

	// Type returns the data-type discriminator.
	Type() DataType

	// Resolution returns the native granularity in minutes.
	Resolution() int

	// SourceID identifies the upstream that produced the row.
	SourceID() string

	// Derived reports whether the value was produced by resampling rather
	// than observed upstream.
	Derived() bool

	// Key returns the uniqueness key within a partition. Two rows with
	// equal keys are duplicates; the first seen wins.
	Key() string
}

// Header carries the fields common to every observation variant.
type Header struct {
	TimestampUTC      time.Time // Sample interval start (UTC)
	Market            string    // Market identifier (e.g. "AESO")
	ResolutionMinutes int       // Native granularity, immutable post-write
	Source            string    // Upstream source identifier
	Interpolated      bool      // True only on resampled (derived) rows
}

func (h Header) Timestamp() time.Time { return h.TimestampUTC }
func (h Header) MarketID() string     { return h.Market }
func (h Header) Resolution() int      { return h.ResolutionMinutes }
func (h Header) SourceID() string     { return h.Source }
func (h Header) Derived() bool        { return h.Interpolated }

// Price is a settlement or spot price observation.
type Price struct {
	Header
	Value     float64   // Price per MWh in Currency
	Currency  string    // ISO 4217 code from the market descriptor
	PriceType PriceType // Market pricing mechanism
	VolumeMWh float64   // Traded volume, 0 if the source reports none
}

func (p Price) Type() DataType { return DataTypePrices }

func (p Price) Key() string {
	return fmt.Sprintf("%d|%s|%d|%s", p.TimestampUTC.UnixMicro(), p.Market, p.ResolutionMinutes, p.PriceType)
}

// Demand is a system load observation.
type Demand struct {
	Header
	MW         float64    // Demand in MW (or MWh when Unit is MWh)
	DemandType DemandType // Actual vs forecast
	Unit       Unit       // MW for power, MWh for metered energy
}

func (d Demand) Type() DataType { return DataTypeDemand }

func (d Demand) Key() string {
	return fmt.Sprintf("%d|%s|%d|%s|%s", d.TimestampUTC.UnixMicro(), d.Market, d.ResolutionMinutes, d.DemandType, d.Unit)
}

// Generation is per-fuel generation output. Rows with an unrecognized
// source label keep their volume and carry Unmapped plus the raw label.
type Generation struct {
	Header
	FuelType FuelType // Canonical fuel, FuelOther when unmapped
	MW       float64  // Generation in MW (or MWh when Unit is MWh)
	Unit     Unit     // MW for power, MWh for cumulative energy
	Unmapped bool     // True when the source label had no mapping
	RawFuel  string   // Original source label, kept for unmapped rows
}

func (g Generation) Type() DataType { return DataTypeGeneration }

func (g Generation) Key() string {
	return fmt.Sprintf("%d|%s|%d|%s|%t|%s|%s", g.TimestampUTC.UnixMicro(), g.Market, g.ResolutionMinutes, g.FuelType, g.Unmapped, g.RawFuel, g.Unit)
}

// Flow is a cross-border interchange observation. Market in the header is
// the exporting side; positive MW flows from FromMarket to ToMarket.
type Flow struct {
	Header
	FromMarket string  // Exporting market
	ToMarket   string  // Importing market
	MW         float64 // Scheduled or actual flow in MW
}

func (f Flow) Type() DataType { return DataTypeFlows }

func (f Flow) Key() string {
	return fmt.Sprintf("%d|%s|%d|%s|%s", f.TimestampUTC.UnixMicro(), f.Market, f.ResolutionMinutes, f.FromMarket, f.ToMarket)
}

// -----------------------------------------------------------------------------
// Validation
// -----------------------------------------------------------------------------

// Validate checks the invariants every persisted row must satisfy. It is
// the schema gate the harmonization pipeline applies before any append.
func Validate(obs Observation) error {
	ts := obs.Timestamp()
	switch {
	case ts.IsZero():
		return fmt.Errorf("observation has zero timestamp")
	case ts.Location() != time.UTC:
		return fmt.Errorf("observation timestamp is not UTC: %s", ts.Location())
	case obs.MarketID() == "":
		return fmt.Errorf("observation has empty market")
	case obs.Resolution() <= 0:
		return fmt.Errorf("observation has non-positive resolution: %d", obs.Resolution())
	case obs.SourceID() == "":
		return fmt.Errorf("observation has empty source")
	case obs.Derived():
		return fmt.Errorf("derived (interpolated) rows must not be persisted")
	}

	switch o := obs.(type) {
	case Price:
		if o.Currency == "" {
			return fmt.Errorf("price row has empty currency")
		}
		if o.PriceType == "" {
			return fmt.Errorf("price row has empty price_type")
		}
	case Demand:
		if o.DemandType == "" {
			return fmt.Errorf("demand row has empty demand_type")
		}
	case Generation:
		if o.FuelType == "" {
			return fmt.Errorf("generation row has empty fuel_type")
		}
	case Flow:
		if o.FromMarket == "" || o.ToMarket == "" {
			return fmt.Errorf("flow row missing from/to market")
		}
	default:
		return fmt.Errorf("unknown observation variant %T", obs)
	}

	return nil
}
