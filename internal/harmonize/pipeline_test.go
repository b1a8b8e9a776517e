package harmonize

import (
	"testing"
	"time"

	"github.com/gridfeed/elecdata/internal/collector"
	"github.com/gridfeed/elecdata/internal/model"
	"github.com/gridfeed/elecdata/internal/registry"
)

const testRegistryJSON = `{
	"AESO": {
		"timezone": "America/Edmonton",
		"currency": "CAD",
		"native_resolution_minutes": {"prices": 60, "demand": 60, "generation": 60, "flows": 60},
		"interconnections": ["IESO"]
	},
	"DE_LU": {
		"timezone": "Europe/Berlin",
		"currency": "EUR",
		"native_resolution_minutes": {"prices": 60, "demand": 15, "generation": 15}
	}
}`

func testPipeline(t *testing.T) *Pipeline {
	t.Helper()
	reg, err := registry.Parse([]byte(testRegistryJSON))
	if err != nil {
		t.Fatalf("registry.Parse failed: %v", err)
	}
	p := New(reg, nil)
	p.now = func() time.Time { return time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC) }
	return p
}

func countKind(events []model.QualityEvent, kind model.QualityEventKind) int {
	n := 0
	for _, ev := range events {
		if ev.Kind == kind {
			n++
		}
	}
	return n
}

func TestHarmonizePrices(t *testing.T) {
	p := testPipeline(t)

	res, err := p.Harmonize("AESO", model.DataTypePrices, "gridapi_aeso", []collector.RawRow{
		{LocalTime: "2024-06-01T10:00", Value: 45.5, Label: "pool"},
		{LocalTime: "2024-06-01T11:00", Value: 50.25, Label: "pool", VolumeMWh: 120},
	})
	if err != nil {
		t.Fatalf("Harmonize failed: %v", err)
	}
	if len(res.Observations) != 2 || len(res.Events) != 0 {
		t.Fatalf("got %d observations, %d events", len(res.Observations), len(res.Events))
	}

	price := res.Observations[0].(model.Price)
	// Edmonton is UTC-6 in June.
	want := time.Date(2024, 6, 1, 16, 0, 0, 0, time.UTC)
	if !price.TimestampUTC.Equal(want) {
		t.Errorf("TimestampUTC = %s, want %s", price.TimestampUTC, want)
	}
	if price.Currency != "CAD" {
		t.Errorf("Currency = %q, want CAD (from registry)", price.Currency)
	}
	if price.PriceType != model.PricePool || price.ResolutionMinutes != 60 {
		t.Errorf("price = %+v", price)
	}
	if price.Interpolated {
		t.Error("observed row marked interpolated")
	}
}

func TestHarmonizeDropsNonexistentLocalTime(t *testing.T) {
	p := testPipeline(t)

	// 2024-03-10 02:30 was skipped by the Edmonton spring-forward.
	res, err := p.Harmonize("AESO", model.DataTypePrices, "gridapi_aeso", []collector.RawRow{
		{LocalTime: "2024-03-10T01:00", Value: 40, Label: "pool"},
		{LocalTime: "2024-03-10T02:30", Value: 41, Label: "pool"},
		{LocalTime: "2024-03-10T03:00", Value: 42, Label: "pool"},
	})
	if err != nil {
		t.Fatalf("Harmonize failed: %v", err)
	}
	if len(res.Observations) != 2 {
		t.Fatalf("got %d observations, want 2", len(res.Observations))
	}
	if got := countKind(res.Events, model.QualityNonexistentTime); got != 1 {
		t.Errorf("nonexistent_local_time events = %d, want 1", got)
	}
}

func TestHarmonizeFallBackAmbiguity(t *testing.T) {
	p := testPipeline(t)

	// 2024-11-03 01:30 occurs twice in Edmonton. Without a hint the
	// earlier (DST, UTC-6) instant wins and the row is flagged.
	offset := -7 * 3600
	res, err := p.Harmonize("AESO", model.DataTypePrices, "gridapi_aeso", []collector.RawRow{
		{LocalTime: "2024-11-03T01:30", Value: 40, Label: "pool"},
		{LocalTime: "2024-11-03T01:30", Value: 41, Label: "pool", UTCOffsetSec: &offset},
	})
	if err != nil {
		t.Fatalf("Harmonize failed: %v", err)
	}
	if len(res.Observations) != 2 {
		t.Fatalf("got %d observations, want 2", len(res.Observations))
	}

	first := res.Observations[0].(model.Price)
	second := res.Observations[1].(model.Price)
	if want := time.Date(2024, 11, 3, 7, 30, 0, 0, time.UTC); !first.TimestampUTC.Equal(want) {
		t.Errorf("unhinted instant = %s, want %s", first.TimestampUTC, want)
	}
	if want := time.Date(2024, 11, 3, 8, 30, 0, 0, time.UTC); !second.TimestampUTC.Equal(want) {
		t.Errorf("hinted instant = %s, want %s", second.TimestampUTC, want)
	}
	if got := countKind(res.Events, model.QualityAmbiguousTime); got != 1 {
		t.Errorf("ambiguous_local_time events = %d, want 1 (hinted row is unambiguous)", got)
	}
}

func TestHarmonizeUnmappedFuelIsKept(t *testing.T) {
	p := testPipeline(t)

	res, err := p.Harmonize("AESO", model.DataTypeGeneration, "gridapi_aeso", []collector.RawRow{
		{LocalTime: "2024-06-01T10:00", Value: 312, Label: "Wind"},
		{LocalTime: "2024-06-01T10:00", Value: 5, Label: "EXPERIMENTAL UNIT"},
	})
	if err != nil {
		t.Fatalf("Harmonize failed: %v", err)
	}
	if len(res.Observations) != 2 {
		t.Fatalf("got %d observations, want 2 (unmapped rows keep their volume)", len(res.Observations))
	}

	wind := res.Observations[0].(model.Generation)
	if wind.FuelType != model.FuelWind || wind.Unmapped {
		t.Errorf("wind row = %+v", wind)
	}

	other := res.Observations[1].(model.Generation)
	if other.FuelType != model.FuelOther || !other.Unmapped || other.RawFuel != "EXPERIMENTAL UNIT" {
		t.Errorf("unmapped row = %+v", other)
	}
	if other.MW != 5 {
		t.Errorf("unmapped row lost its value: %v", other.MW)
	}
	if got := countKind(res.Events, model.QualityUnmappedFuel); got != 1 {
		t.Errorf("unmapped_fuel_type events = %d, want 1", got)
	}
}

func TestHarmonizeUnitScaling(t *testing.T) {
	p := testPipeline(t)

	res, err := p.Harmonize("DE_LU", model.DataTypeDemand, "gridapi_de_lu", []collector.RawRow{
		{LocalTime: "2024-06-01T10:00", Value: 1.2, Unit: "GW", Label: "actual"},
		{LocalTime: "2024-06-01T10:15", Value: 61000, Unit: "KW"},
	})
	if err != nil {
		t.Fatalf("Harmonize failed: %v", err)
	}
	if len(res.Observations) != 2 {
		t.Fatalf("got %d observations, want 2", len(res.Observations))
	}

	gw := res.Observations[0].(model.Demand)
	if gw.MW != 1200 || gw.Unit != model.UnitMW {
		t.Errorf("GW row = %+v, want 1200 MW", gw)
	}
	kw := res.Observations[1].(model.Demand)
	if kw.MW != 61 || kw.Unit != model.UnitMW {
		t.Errorf("KW row = %+v, want 61 MW", kw)
	}
	if kw.DemandType != model.DemandActual {
		t.Errorf("empty label did not default to actual: %q", kw.DemandType)
	}
	if kw.ResolutionMinutes != 15 {
		t.Errorf("DE_LU demand resolution = %d, want 15", kw.ResolutionMinutes)
	}
}

func TestHarmonizeBatchDeduplicates(t *testing.T) {
	p := testPipeline(t)

	res, err := p.Harmonize("AESO", model.DataTypePrices, "gridapi_aeso", []collector.RawRow{
		{LocalTime: "2024-06-01T10:00", Value: 45.5, Label: "pool"},
		{LocalTime: "2024-06-01T10:00", Value: 99.9, Label: "pool"}, // same key, later value
	})
	if err != nil {
		t.Fatalf("Harmonize failed: %v", err)
	}
	if len(res.Observations) != 1 {
		t.Fatalf("got %d observations, want 1", len(res.Observations))
	}
	if v := res.Observations[0].(model.Price).Value; v != 45.5 {
		t.Errorf("first-seen value lost: got %v, want 45.5", v)
	}
	if got := countKind(res.Events, model.QualityDuplicateDropped); got != 1 {
		t.Errorf("duplicate_dropped events = %d, want 1", got)
	}
}

func TestHarmonizeSchemaViolations(t *testing.T) {
	p := testPipeline(t)

	cases := []struct {
		name string
		dt   model.DataType
		row  collector.RawRow
	}{
		{"bad local time", model.DataTypePrices, collector.RawRow{LocalTime: "junk", Value: 1, Label: "pool"}},
		{"unknown price type", model.DataTypePrices, collector.RawRow{LocalTime: "2024-06-01T10:00", Value: 1, Label: "mystery"}},
		{"unknown demand type", model.DataTypeDemand, collector.RawRow{LocalTime: "2024-06-01T10:00", Value: 1, Label: "mystery"}},
		{"unknown unit", model.DataTypeDemand, collector.RawRow{LocalTime: "2024-06-01T10:00", Value: 1, Unit: "BTU"}},
		{"flow without counterparty", model.DataTypeFlows, collector.RawRow{LocalTime: "2024-06-01T10:00", Value: 1}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			res, err := p.Harmonize("AESO", tc.dt, "gridapi_aeso", []collector.RawRow{tc.row})
			if err != nil {
				t.Fatalf("Harmonize failed: %v", err)
			}
			if len(res.Observations) != 0 {
				t.Errorf("invalid row passed the gate: %+v", res.Observations)
			}
			if got := countKind(res.Events, model.QualitySchemaViolation); got != 1 {
				t.Errorf("schema_violation events = %d, want 1", got)
			}
		})
	}
}

func TestHarmonizeFlows(t *testing.T) {
	p := testPipeline(t)

	res, err := p.Harmonize("AESO", model.DataTypeFlows, "gridapi_aeso", []collector.RawRow{
		{LocalTime: "2024-06-01T10:00", Value: 150, CounterParty: "IESO"},
	})
	if err != nil {
		t.Fatalf("Harmonize failed: %v", err)
	}
	if len(res.Observations) != 1 {
		t.Fatalf("got %d observations, want 1", len(res.Observations))
	}
	flow := res.Observations[0].(model.Flow)
	if flow.FromMarket != "AESO" || flow.ToMarket != "IESO" || flow.MW != 150 {
		t.Errorf("flow = %+v", flow)
	}
}

func TestHarmonizeUnknownMarket(t *testing.T) {
	p := testPipeline(t)

	if _, err := p.Harmonize("NOPE", model.DataTypePrices, "x", nil); err == nil {
		t.Fatal("Harmonize accepted unknown market")
	}
}
