package registry

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/gridfeed/elecdata/internal/model"
)

// Descriptor holds the metadata for one market. All fields are
// read-only once loaded.
type Descriptor struct {
	MarketID          string         `json:"market_id"`
	Timezone          string         `json:"timezone"` // IANA zone name
	Currency          string         `json:"currency"` // ISO 4217 code
	NativeResolutions map[string]int `json:"native_resolution_minutes"`
	Interconnections  []string       `json:"interconnections"`
}

// Location returns the parsed IANA timezone of the market.
func (d Descriptor) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(d.Timezone)
	if err != nil {
		return nil, fmt.Errorf("load timezone %q for market %s: %w", d.Timezone, d.MarketID, err)
	}
	return loc, nil
}

// NativeResolution returns the native granularity in minutes for a
// data type, or an error when the registry carries no entry for it.
func (d Descriptor) NativeResolution(dt model.DataType) (int, error) {
	res, ok := d.NativeResolutions[string(dt)]
	if !ok || res <= 0 {
		return 0, fmt.Errorf("market %s has no native resolution for %s", d.MarketID, dt)
	}
	return res, nil
}

// ErrUnknownMarket is returned by Describe for markets not in the
// registry. It is a configuration error, never retried.
type ErrUnknownMarket struct {
	MarketID string
}

func (e *ErrUnknownMarket) Error() string {
	return fmt.Sprintf("unknown market: %q", e.MarketID)
}

// Registry is an immutable in-memory descriptor table.
type Registry struct {
	markets map[string]Descriptor
}

// Load reads a JSON registry file keyed by market ID.
func Load(path string) (*Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read market registry: %w", err)
	}
	return Parse(data)
}

// Parse builds a registry from raw JSON.
func Parse(data []byte) (*Registry, error) {
	var raw map[string]Descriptor
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse market registry json: %w", err)
	}

	markets := make(map[string]Descriptor, len(raw))
	for id, d := range raw {
		d.MarketID = id
		if d.Timezone == "" {
			return nil, fmt.Errorf("market %s has no timezone", id)
		}
		if _, err := d.Location(); err != nil {
			return nil, err
		}
		if d.Currency == "" {
			return nil, fmt.Errorf("market %s has no currency", id)
		}
		markets[id] = d
	}

	return &Registry{markets: markets}, nil
}

// Describe returns the descriptor for a market.
func (r *Registry) Describe(marketID string) (Descriptor, error) {
	d, ok := r.markets[marketID]
	if !ok {
		return Descriptor{}, &ErrUnknownMarket{MarketID: marketID}
	}
	return d, nil
}

// Markets returns all registered market IDs, sorted.
func (r *Registry) Markets() []string {
	ids := make([]string, 0, len(r.markets))
	for id := range r.markets {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
