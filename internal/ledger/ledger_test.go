package ledger

import (
	"context"
	"testing"
	"time"

	"github.com/gridfeed/elecdata/internal/interval"
	"github.com/gridfeed/elecdata/internal/model"
	"github.com/gridfeed/elecdata/internal/store"
)

func openTestLedger(t *testing.T) (*Ledger, *store.Store) {
	t.Helper()
	st, err := store.Open(t.TempDir(), nil)
	if err != nil {
		t.Fatalf("store.Open failed: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	l, err := New(st, nil)
	if err != nil {
		t.Fatalf("ledger.New failed: %v", err)
	}
	return l, st
}

func aesoKey() Key {
	return Key{Market: "AESO", DataType: model.DataTypePrices, ResolutionMinutes: 60}
}

func day(d int) time.Time {
	return time.Date(2024, 6, d, 0, 0, 0, 0, time.UTC)
}

func TestRecordMergesAdjacentAndOverlapping(t *testing.T) {
	l, _ := openTestLedger(t)
	ctx := context.Background()
	k := aesoKey()

	// Record out of order with an overlap and an adjacency.
	for _, iv := range []interval.Interval{
		interval.New(day(3), day(5)),
		interval.New(day(1), day(2)),
		interval.New(day(2), day(3)), // adjacent to both neighbors
		interval.New(day(4), day(6)), // overlaps the first
		interval.New(day(10), day(11)),
	} {
		if err := l.Record(ctx, k, iv, "gridapi_aeso"); err != nil {
			t.Fatalf("Record(%s) failed: %v", iv, err)
		}
	}

	covered, err := l.Covered(ctx, k)
	if err != nil {
		t.Fatalf("Covered failed: %v", err)
	}
	want := []interval.Interval{
		interval.New(day(1), day(6)),
		interval.New(day(10), day(11)),
	}
	if len(covered) != len(want) {
		t.Fatalf("covered = %v, want %v", covered, want)
	}
	for i := range want {
		if covered[i] != want[i] {
			t.Errorf("covered[%d] = %v, want %v", i, covered[i], want[i])
		}
	}
}

func TestRecordEmptyIsNoop(t *testing.T) {
	l, _ := openTestLedger(t)
	ctx := context.Background()
	k := aesoKey()

	if err := l.Record(ctx, k, interval.Interval{}, "gridapi_aeso"); err != nil {
		t.Fatalf("Record of empty interval failed: %v", err)
	}
	covered, err := l.Covered(ctx, k)
	if err != nil {
		t.Fatalf("Covered failed: %v", err)
	}
	if len(covered) != 0 {
		t.Errorf("covered = %v, want none", covered)
	}
}

func TestPlanReturnsGaps(t *testing.T) {
	l, _ := openTestLedger(t)
	ctx := context.Background()
	k := aesoKey()

	if err := l.Record(ctx, k, interval.New(day(2), day(4)), "gridapi_aeso"); err != nil {
		t.Fatalf("Record failed: %v", err)
	}
	if err := l.Record(ctx, k, interval.New(day(6), day(8)), "gridapi_aeso"); err != nil {
		t.Fatalf("Record failed: %v", err)
	}

	want := interval.New(day(1), day(10))
	gaps, err := l.Plan(ctx, k, want)
	if err != nil {
		t.Fatalf("Plan failed: %v", err)
	}
	expect := []interval.Interval{
		interval.New(day(1), day(2)),
		interval.New(day(4), day(6)),
		interval.New(day(8), day(10)),
	}
	if len(gaps) != len(expect) {
		t.Fatalf("gaps = %v, want %v", gaps, expect)
	}
	for i := range expect {
		if gaps[i] != expect[i] {
			t.Errorf("gaps[%d] = %v, want %v", i, gaps[i], expect[i])
		}
	}

	// Gaps plus covered must reconstruct the window exactly.
	covered, err := l.Covered(ctx, k)
	if err != nil {
		t.Fatalf("Covered failed: %v", err)
	}
	var pieces []interval.Interval
	pieces = append(pieces, gaps...)
	for _, c := range covered {
		if x := c.Intersect(want); !x.Empty() {
			pieces = append(pieces, x)
		}
	}
	merged := interval.Normalize(pieces)
	if len(merged) != 1 || merged[0] != want {
		t.Errorf("gaps and coverage do not tile the window: %v", merged)
	}

	// Fully covered window plans to nothing.
	none, err := l.Plan(ctx, k, interval.New(day(2), day(4)))
	if err != nil {
		t.Fatalf("Plan failed: %v", err)
	}
	if len(none) != 0 {
		t.Errorf("plan over covered window = %v, want none", none)
	}

	// A series never recorded plans to the whole window.
	fresh := Key{Market: "GB", DataType: model.DataTypePrices, ResolutionMinutes: 30}
	all, err := l.Plan(ctx, fresh, want)
	if err != nil {
		t.Fatalf("Plan failed: %v", err)
	}
	if len(all) != 1 || all[0] != want {
		t.Errorf("plan for fresh series = %v, want [%v]", all, want)
	}
}

func TestStatusFor(t *testing.T) {
	l, _ := openTestLedger(t)
	ctx := context.Background()
	k := aesoKey()

	if err := l.Record(ctx, k, interval.New(day(1), day(3)), "gridapi_aeso"); err != nil {
		t.Fatalf("Record failed: %v", err)
	}

	st, err := l.StatusFor(ctx, k, interval.New(day(1), day(5)))
	if err != nil {
		t.Fatalf("StatusFor failed: %v", err)
	}
	if got := st.CoveredFraction; got != 0.5 {
		t.Errorf("CoveredFraction = %v, want 0.5", got)
	}
	if len(st.Covered) != 1 || st.Covered[0] != interval.New(day(1), day(3)) {
		t.Errorf("Covered = %v", st.Covered)
	}
	if len(st.Gaps) != 1 || st.Gaps[0] != interval.New(day(3), day(5)) {
		t.Errorf("Gaps = %v", st.Gaps)
	}
	if st.LastSource != "gridapi_aeso" {
		t.Errorf("LastSource = %q, want gridapi_aeso", st.LastSource)
	}
	if st.LastUpdatedAt.IsZero() {
		t.Error("LastUpdatedAt is zero after a Record")
	}
}

func TestReplaceRangeShrinksCoverage(t *testing.T) {
	l, _ := openTestLedger(t)
	ctx := context.Background()
	k := aesoKey()

	if err := l.Record(ctx, k, interval.New(day(1), day(10)), "gridapi_aeso"); err != nil {
		t.Fatalf("Record failed: %v", err)
	}
	if err := l.ReplaceRange(ctx, k, interval.New(day(4), day(6))); err != nil {
		t.Fatalf("ReplaceRange failed: %v", err)
	}

	covered, err := l.Covered(ctx, k)
	if err != nil {
		t.Fatalf("Covered failed: %v", err)
	}
	want := []interval.Interval{
		interval.New(day(1), day(4)),
		interval.New(day(6), day(10)),
	}
	if len(covered) != 2 || covered[0] != want[0] || covered[1] != want[1] {
		t.Fatalf("covered = %v, want %v", covered, want)
	}

	gaps, err := l.Plan(ctx, k, interval.New(day(1), day(10)))
	if err != nil {
		t.Fatalf("Plan failed: %v", err)
	}
	if len(gaps) != 1 || gaps[0] != interval.New(day(4), day(6)) {
		t.Errorf("gaps after ReplaceRange = %v", gaps)
	}
}

func TestReconcileFromStore(t *testing.T) {
	l, st := openTestLedger(t)
	ctx := context.Background()
	k := aesoKey()

	base := day(1)
	var obs []model.Observation
	for i := 0; i < 3; i++ {
		obs = append(obs, model.Price{
			Header: model.Header{
				TimestampUTC:      base.Add(time.Duration(i) * time.Hour),
				Market:            "AESO",
				ResolutionMinutes: 60,
				Source:            "gridapi_aeso",
			},
			Value:     float64(40 + i),
			Currency:  "CAD",
			PriceType: model.PricePool,
		})
	}
	if _, err := st.Append(ctx, model.DataTypePrices, obs); err != nil {
		t.Fatalf("Append failed: %v", err)
	}

	// Ledger is empty, so the on-disk rows count as an inconsistency.
	if err := l.Reconcile(ctx, "AESO", model.DataTypePrices); err != nil {
		t.Fatalf("Reconcile failed: %v", err)
	}

	covered, err := l.Covered(ctx, k)
	if err != nil {
		t.Fatalf("Covered failed: %v", err)
	}
	want := interval.New(base, base.Add(3*time.Hour))
	if len(covered) != 1 || covered[0] != want {
		t.Fatalf("covered = %v, want [%v]", covered, want)
	}

	events, err := st.QualityEvents(ctx, "AESO", model.DataTypePrices)
	if err != nil {
		t.Fatalf("QualityEvents failed: %v", err)
	}
	found := false
	for _, ev := range events {
		if ev.Kind == model.QualityLedgerInconsistent {
			found = true
		}
	}
	if !found {
		t.Error("no ledger_inconsistency event recorded for drift")
	}

	// A second reconcile sees no drift and records no new event.
	if err := l.Reconcile(ctx, "AESO", model.DataTypePrices); err != nil {
		t.Fatalf("second Reconcile failed: %v", err)
	}
	again, err := st.QualityEvents(ctx, "AESO", model.DataTypePrices)
	if err != nil {
		t.Fatalf("QualityEvents failed: %v", err)
	}
	if len(again) != len(events) {
		t.Errorf("second Reconcile added events: %d -> %d", len(events), len(again))
	}
}
