package collector

import (
	"context"
	"errors"
	"fmt"

	"github.com/gridfeed/elecdata/internal/interval"
	"github.com/gridfeed/elecdata/internal/model"
)

// RawRow is one upstream sample before harmonization. Timestamps are
// source-local wall-clock strings; the harmonization pipeline resolves
// them to UTC against the market's timezone.
type RawRow struct {
	LocalTime    string  // e.g. "2024-01-01T13:00" in the market's zone
	UTCOffsetSec *int    // Optional explicit offset (DST disambiguator)
	Occurrence   int     // Optional repeat index for fall-back hours (1 or 2)
	Value        float64 // Price, MW, or MWh depending on data type
	Unit         string  // Source unit; empty means MW
	Label        string  // Fuel label (generation) or price/demand type
	CounterParty string  // Interconnection partner (flows only)
	VolumeMWh    float64 // Traded volume, prices only, 0 if unreported
}

// Collector is the capability every upstream source implements.
type Collector interface {
	// Source returns the stable source identifier recorded on rows,
	// e.g. "gridapi_aeso".
	Source(marketID string) string

	// Markets lists the market IDs this collector can serve.
	Markets() []string

	// Fetch returns the raw rows for one market, data type, and
	// half-open UTC window. Implementations classify failures via
	// FetchError so the coordinator can decide whether to retry.
	Fetch(ctx context.Context, marketID string, dt model.DataType, window interval.Interval) ([]RawRow, error)
}

// FetchError classifies an upstream failure. Transient errors (rate
// limits, timeouts, 5xx) are retried with backoff; permanent errors
// fail the sub-interval immediately.
type FetchError struct {
	Transient bool
	Err       error
}

func (e *FetchError) Error() string {
	kind := "permanent"
	if e.Transient {
		kind = "transient"
	}
	return fmt.Sprintf("fetch failed (%s): %v", kind, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// Transient reports whether err is a retryable fetch failure.
func Transient(err error) bool {
	var fe *FetchError
	return errors.As(err, &fe) && fe.Transient
}

// Registry selects the collector for a market, fixed at configuration
// time.
type Registry struct {
	byMarket map[string]Collector
}

// NewRegistry builds the market → collector table. Registering two
// collectors for one market is a configuration error.
func NewRegistry(collectors ...Collector) (*Registry, error) {
	byMarket := make(map[string]Collector)
	for _, c := range collectors {
		for _, m := range c.Markets() {
			if _, dup := byMarket[m]; dup {
				return nil, fmt.Errorf("market %s claimed by two collectors", m)
			}
			byMarket[m] = c
		}
	}
	return &Registry{byMarket: byMarket}, nil
}

// For returns the collector serving a market.
func (r *Registry) For(marketID string) (Collector, error) {
	c, ok := r.byMarket[marketID]
	if !ok {
		return nil, fmt.Errorf("no collector configured for market %q", marketID)
	}
	return c, nil
}
