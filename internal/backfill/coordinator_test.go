package backfill

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gridfeed/elecdata/internal/collector"
	"github.com/gridfeed/elecdata/internal/harmonize"
	"github.com/gridfeed/elecdata/internal/interval"
	"github.com/gridfeed/elecdata/internal/ledger"
	"github.com/gridfeed/elecdata/internal/model"
	"github.com/gridfeed/elecdata/internal/registry"
	"github.com/gridfeed/elecdata/internal/store"
)

const testRegistryJSON = `{
	"TEST": {
		"timezone": "UTC",
		"currency": "EUR",
		"native_resolution_minutes": {"prices": 60, "demand": 60}
	}
}`

// fakeCollector serves synthetic hourly pool prices and fails on
// demand: transiently N times per window, or permanently.
type fakeCollector struct {
	mu        sync.Mutex
	transient map[string]int  // window start -> remaining transient failures
	permanent map[string]bool // window start -> always fail
	calls     []interval.Interval
	empty     bool // serve zero rows
}

func (f *fakeCollector) Source(marketID string) string {
	return "fake_" + strings.ToLower(marketID)
}

func (f *fakeCollector) Markets() []string { return []string{"TEST"} }

func (f *fakeCollector) Fetch(ctx context.Context, marketID string, dt model.DataType, window interval.Interval) ([]collector.RawRow, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.calls = append(f.calls, window)
	key := window.Start.Format(time.RFC3339)

	if f.permanent[key] {
		return nil, &collector.FetchError{Transient: false, Err: errors.New("window rejected upstream")}
	}
	if f.transient[key] > 0 {
		f.transient[key]--
		return nil, &collector.FetchError{Transient: true, Err: errors.New("upstream flaking")}
	}
	if f.empty {
		return nil, nil
	}

	var rows []collector.RawRow
	for ts := window.Start; ts.Before(window.End); ts = ts.Add(time.Hour) {
		rows = append(rows, collector.RawRow{
			LocalTime: ts.Format("2006-01-02T15:04"),
			Value:     float64(ts.Hour()),
			Label:     "pool",
		})
	}
	return rows, nil
}

type fixture struct {
	coord *Coordinator
	store *store.Store
	led   *ledger.Ledger
	fake  *fakeCollector
}

func newFixture(t *testing.T, cfg Config, fake *fakeCollector) fixture {
	t.Helper()

	st, err := store.Open(t.TempDir(), nil)
	if err != nil {
		t.Fatalf("store.Open failed: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	led, err := ledger.New(st, nil)
	if err != nil {
		t.Fatalf("ledger.New failed: %v", err)
	}
	reg, err := registry.Parse([]byte(testRegistryJSON))
	if err != nil {
		t.Fatalf("registry.Parse failed: %v", err)
	}
	cols, err := collector.NewRegistry(fake)
	if err != nil {
		t.Fatalf("collector.NewRegistry failed: %v", err)
	}

	coord := New(cfg, reg, cols, harmonize.New(reg, nil), st, led, nil, nil)
	return fixture{coord: coord, store: st, led: led, fake: fake}
}

func testKey() ledger.Key {
	return ledger.Key{Market: "TEST", DataType: model.DataTypePrices, ResolutionMinutes: 60}
}

func hourWindow(d, from, to int) interval.Interval {
	return interval.New(
		time.Date(2024, 6, d, from, 0, 0, 0, time.UTC),
		time.Date(2024, 6, d, to, 0, 0, 0, time.UTC),
	)
}

func TestRunFillsWindow(t *testing.T) {
	fake := &fakeCollector{}
	f := newFixture(t, Config{InitialBackoff: time.Millisecond}, fake)
	ctx := context.Background()

	window := hourWindow(1, 0, 6)
	report, err := f.coord.Run(ctx, NewJob("TEST", model.DataTypePrices, window))
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if report.State != StateDone {
		t.Fatalf("State = %s, want done (gaps: %+v)", report.State, report.Gaps)
	}
	if report.Rows != 6 {
		t.Errorf("Rows = %d, want 6", report.Rows)
	}

	covered, err := f.led.Covered(ctx, testKey())
	if err != nil {
		t.Fatalf("Covered failed: %v", err)
	}
	if len(covered) != 1 || covered[0] != window {
		t.Errorf("ledger covered = %v, want [%v]", covered, window)
	}

	stored, err := f.store.Read(ctx, "TEST", model.DataTypePrices, window)
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if len(stored) != 6 {
		t.Errorf("stored %d rows, want 6", len(stored))
	}
}

func TestRunSkipsCoveredGaps(t *testing.T) {
	fake := &fakeCollector{}
	f := newFixture(t, Config{InitialBackoff: time.Millisecond}, fake)
	ctx := context.Background()

	// Middle of the window is already collected.
	if err := f.led.Record(ctx, testKey(), hourWindow(1, 2, 4), "fake_test"); err != nil {
		t.Fatalf("Record failed: %v", err)
	}

	report, err := f.coord.Run(ctx, NewJob("TEST", model.DataTypePrices, hourWindow(1, 0, 6)))
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if report.State != StateDone {
		t.Fatalf("State = %s, want done", report.State)
	}
	if len(report.Gaps) != 2 {
		t.Fatalf("attempted %d gaps, want 2", len(report.Gaps))
	}
	if report.Rows != 4 {
		t.Errorf("Rows = %d, want 4 (2 hours were already covered)", report.Rows)
	}
	for _, w := range fake.calls {
		if w.Overlaps(hourWindow(1, 2, 4)) {
			t.Errorf("fetched already-covered window %v", w)
		}
	}
}

func TestRunRetriesTransientFailures(t *testing.T) {
	window := hourWindow(1, 0, 3)
	fake := &fakeCollector{
		transient: map[string]int{window.Start.Format(time.RFC3339): 2},
	}
	f := newFixture(t, Config{MaxAttempts: 4, InitialBackoff: time.Millisecond}, fake)

	report, err := f.coord.Run(context.Background(), NewJob("TEST", model.DataTypePrices, window))
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if report.State != StateDone {
		t.Fatalf("State = %s, want done", report.State)
	}
	if got := report.Gaps[0].Attempts; got != 3 {
		t.Errorf("Attempts = %d, want 3", got)
	}
}

func TestRunGivesUpAfterMaxAttempts(t *testing.T) {
	window := hourWindow(1, 0, 3)
	fake := &fakeCollector{
		transient: map[string]int{window.Start.Format(time.RFC3339): 100},
	}
	f := newFixture(t, Config{MaxAttempts: 3, InitialBackoff: time.Millisecond}, fake)
	ctx := context.Background()

	report, err := f.coord.Run(ctx, NewJob("TEST", model.DataTypePrices, window))
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if report.State != StateFailed {
		t.Fatalf("State = %s, want failed", report.State)
	}
	if got := report.Gaps[0].Attempts; got != 3 {
		t.Errorf("Attempts = %d, want 3", got)
	}

	// Nothing landed, so the ledger must not claim the window.
	covered, err := f.led.Covered(ctx, testKey())
	if err != nil {
		t.Fatalf("Covered failed: %v", err)
	}
	if len(covered) != 0 {
		t.Errorf("ledger covered = %v, want none", covered)
	}
}

func TestRunPermanentFailureIsNotRetried(t *testing.T) {
	window := hourWindow(1, 0, 3)
	fake := &fakeCollector{
		permanent: map[string]bool{window.Start.Format(time.RFC3339): true},
	}
	f := newFixture(t, Config{MaxAttempts: 5, InitialBackoff: time.Millisecond}, fake)

	report, err := f.coord.Run(context.Background(), NewJob("TEST", model.DataTypePrices, window))
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if report.State != StateFailed {
		t.Fatalf("State = %s, want failed", report.State)
	}
	if got := report.Gaps[0].Attempts; got != 1 {
		t.Errorf("Attempts = %d, want 1 (permanent errors skip the retry loop)", got)
	}
	if report.Gaps[0].Phase != PhaseFetching {
		t.Errorf("Phase = %s, want fetching", report.Gaps[0].Phase)
	}
}

func TestRunResumesAfterPartialFailure(t *testing.T) {
	// Two disjoint gaps; the second fails permanently on the first run.
	early := hourWindow(1, 0, 3)
	late := hourWindow(1, 6, 9)
	fake := &fakeCollector{
		permanent: map[string]bool{late.Start.Format(time.RFC3339): true},
	}
	f := newFixture(t, Config{MaxAttempts: 2, InitialBackoff: time.Millisecond}, fake)
	ctx := context.Background()

	if err := f.led.Record(ctx, testKey(), hourWindow(1, 3, 6), "fake_test"); err != nil {
		t.Fatalf("Record failed: %v", err)
	}

	window := hourWindow(1, 0, 9)
	job := NewJob("TEST", model.DataTypePrices, window)

	report, err := f.coord.Run(ctx, job)
	if err != nil {
		t.Fatalf("first Run failed: %v", err)
	}
	if report.State != StatePartiallyCompleted {
		t.Fatalf("State = %s, want partially_completed", report.State)
	}
	missing := report.MissingWindows()
	if len(missing) != 1 || missing[0] != late {
		t.Fatalf("MissingWindows = %v, want [%v]", missing, late)
	}
	if report.Rows != 3 {
		t.Errorf("Rows = %d, want 3", report.Rows)
	}
	fetchedEarly := false
	for _, w := range fake.calls {
		if w == early {
			fetchedEarly = true
		}
	}
	if !fetchedEarly {
		t.Errorf("first run never fetched %v: %v", early, fake.calls)
	}

	// Upstream recovers; a second run touches only the failed window.
	fake.mu.Lock()
	fake.permanent = nil
	fake.calls = nil
	fake.mu.Unlock()

	report, err = f.coord.Run(ctx, NewJob("TEST", model.DataTypePrices, window))
	if err != nil {
		t.Fatalf("second Run failed: %v", err)
	}
	if report.State != StateDone {
		t.Fatalf("second State = %s, want done", report.State)
	}
	if len(fake.calls) != 1 || fake.calls[0] != late {
		t.Errorf("second run fetched %v, want only %v", fake.calls, late)
	}

	covered, err := f.led.Covered(ctx, testKey())
	if err != nil {
		t.Fatalf("Covered failed: %v", err)
	}
	if len(covered) != 1 || covered[0] != window {
		t.Errorf("ledger covered = %v, want [%v]", covered, window)
	}
}

func TestRunRecordsEmptyWindows(t *testing.T) {
	fake := &fakeCollector{empty: true}
	f := newFixture(t, Config{InitialBackoff: time.Millisecond}, fake)
	ctx := context.Background()

	window := hourWindow(1, 0, 6)
	report, err := f.coord.Run(ctx, NewJob("TEST", model.DataTypePrices, window))
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if report.State != StateDone || report.Rows != 0 {
		t.Fatalf("report = %+v, want done with 0 rows", report)
	}

	// Zero rows is still a successful collection; the window must not
	// be re-planned forever.
	covered, err := f.led.Covered(ctx, testKey())
	if err != nil {
		t.Fatalf("Covered failed: %v", err)
	}
	if len(covered) != 1 || covered[0] != window {
		t.Errorf("ledger covered = %v, want [%v]", covered, window)
	}
}

func TestRunSplitsLargeGaps(t *testing.T) {
	fake := &fakeCollector{}
	f := newFixture(t, Config{InitialBackoff: time.Millisecond, MaxChunk: 2 * time.Hour}, fake)

	report, err := f.coord.Run(context.Background(), NewJob("TEST", model.DataTypePrices, hourWindow(1, 0, 6)))
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if report.State != StateDone {
		t.Fatalf("State = %s, want done", report.State)
	}
	if len(report.Gaps) != 3 {
		t.Errorf("attempted %d chunks, want 3", len(report.Gaps))
	}
	for _, w := range fake.calls {
		if w.Duration() > 2*time.Hour {
			t.Errorf("chunk %v exceeds max duration", w)
		}
	}
}
