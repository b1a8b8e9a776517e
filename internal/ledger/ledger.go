package ledger

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gridfeed/elecdata/internal/interval"
	"github.com/gridfeed/elecdata/internal/model"
	"github.com/gridfeed/elecdata/internal/store"
)

// Key identifies one tracked series.
type Key struct {
	Market            string
	DataType          model.DataType
	ResolutionMinutes int
}

func (k Key) String() string {
	return fmt.Sprintf("%s/%s/%dm", k.Market, k.DataType, k.ResolutionMinutes)
}

// Status summarizes coverage of a wanted window for one series.
type Status struct {
	Covered         []interval.Interval // Intersection of records with the window
	Gaps            []interval.Interval // Window minus covered
	CoveredFraction float64             // 0 when the window is empty
	LastUpdatedAt   time.Time           // Zero when the series has no records
	LastSource      string              // Source of the most recent Record call
}

// Ledger persists collection records in the catalog database shared
// with the store. Safe for concurrent use; writes to the same series
// are serialized.
type Ledger struct {
	store  *store.Store
	db     *sql.DB
	logger *slog.Logger

	mu      sync.Mutex
	keyLock map[Key]*sync.Mutex
}

// New binds a ledger to the store's catalog, creating the records
// table on first use.
func New(st *store.Store, logger *slog.Logger) (*Ledger, error) {
	if logger == nil {
		logger = slog.Default()
	}

	l := &Ledger{
		store:   st,
		db:      st.DB(),
		logger:  logger,
		keyLock: make(map[Key]*sync.Mutex),
	}

	if _, err := l.db.ExecContext(context.Background(), `
		CREATE TABLE IF NOT EXISTS collection_ledger (
			market VARCHAR,
			data_type VARCHAR,
			resolution_minutes INTEGER,
			range_start TIMESTAMP,
			range_end TIMESTAMP,
			last_updated_at TIMESTAMP,
			last_source VARCHAR
		)
	`); err != nil {
		return nil, fmt.Errorf("create collection_ledger table: %w", err)
	}
	return l, nil
}

func (l *Ledger) lockKey(k Key) *sync.Mutex {
	l.mu.Lock()
	defer l.mu.Unlock()
	m, ok := l.keyLock[k]
	if !ok {
		m = &sync.Mutex{}
		l.keyLock[k] = m
	}
	return m
}

// Record marks an interval as collected, merging it with adjacent and
// overlapping records. Recording an empty interval is a no-op.
// Recording a window that produced zero rows is still a valid Record:
// the range was checked and found empty upstream.
func (l *Ledger) Record(ctx context.Context, k Key, iv interval.Interval, source string) error {
	if iv.Empty() {
		return nil
	}

	lock := l.lockKey(k)
	lock.Lock()
	defer lock.Unlock()

	return l.rewrite(ctx, k, func(existing []interval.Interval) []interval.Interval {
		return interval.Normalize(append(existing, iv))
	}, source)
}

// ReplaceRange withdraws coverage inside the window so a reingest can
// re-collect it. The inverse of Record; the only operation that
// shrinks the ledger.
func (l *Ledger) ReplaceRange(ctx context.Context, k Key, window interval.Interval) error {
	if window.Empty() {
		return nil
	}

	lock := l.lockKey(k)
	lock.Lock()
	defer lock.Unlock()

	hole := []interval.Interval{window}
	return l.rewrite(ctx, k, func(existing []interval.Interval) []interval.Interval {
		var kept []interval.Interval
		for _, iv := range interval.Normalize(existing) {
			kept = append(kept, interval.Subtract(iv, hole)...)
		}
		return kept
	}, "")
}

// rewrite replaces the record set of one series inside a transaction.
// Caller holds the key lock. An empty source keeps the previous one.
func (l *Ledger) rewrite(ctx context.Context, k Key, xform func([]interval.Interval) []interval.Interval, source string) error {
	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin ledger tx: %w", err)
	}
	defer tx.Rollback()

	existing, prevSource, err := selectRecords(ctx, tx, k)
	if err != nil {
		return err
	}
	if source == "" {
		source = prevSource
	}

	merged := xform(existing)

	if _, err := tx.ExecContext(ctx, `
		DELETE FROM collection_ledger
		WHERE market = $1 AND data_type = $2 AND resolution_minutes = $3
	`, k.Market, string(k.DataType), k.ResolutionMinutes); err != nil {
		return fmt.Errorf("clear ledger records: %w", err)
	}

	now := time.Now().UTC()
	for _, iv := range merged {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO collection_ledger
				(market, data_type, resolution_minutes, range_start, range_end, last_updated_at, last_source)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
		`, k.Market, string(k.DataType), k.ResolutionMinutes, iv.Start, iv.End, now, source); err != nil {
			return fmt.Errorf("insert ledger record: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit ledger tx: %w", err)
	}

	l.logger.Debug("ledger rewritten", "key", k.String(), "records", len(merged))
	return nil
}

type queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func selectRecords(ctx context.Context, q queryer, k Key) ([]interval.Interval, string, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT range_start, range_end, last_updated_at, last_source
		FROM collection_ledger
		WHERE market = $1 AND data_type = $2 AND resolution_minutes = $3
		ORDER BY range_start
	`, k.Market, string(k.DataType), k.ResolutionMinutes)
	if err != nil {
		return nil, "", fmt.Errorf("select ledger records: %w", err)
	}
	defer rows.Close()

	var (
		out     []interval.Interval
		latest  time.Time
		source  string
		start   time.Time
		end     time.Time
		updated time.Time
		src     string
	)
	for rows.Next() {
		if err := rows.Scan(&start, &end, &updated, &src); err != nil {
			return nil, "", fmt.Errorf("scan ledger record: %w", err)
		}
		out = append(out, interval.New(start.UTC(), end.UTC()))
		if updated.After(latest) {
			latest = updated
			source = src
		}
	}
	return out, source, rows.Err()
}

// Covered returns the normalized intervals recorded for a series.
func (l *Ledger) Covered(ctx context.Context, k Key) ([]interval.Interval, error) {
	ivs, _, err := selectRecords(ctx, l.db, k)
	if err != nil {
		return nil, err
	}
	return interval.Normalize(ivs), nil
}

// Plan returns the gaps inside the wanted window, in chronological
// order. An empty result means the window is fully covered.
func (l *Ledger) Plan(ctx context.Context, k Key, want interval.Interval) ([]interval.Interval, error) {
	if want.Empty() {
		return nil, nil
	}
	covered, err := l.Covered(ctx, k)
	if err != nil {
		return nil, err
	}
	return interval.Subtract(want, covered), nil
}

// StatusFor reports coverage of the wanted window.
func (l *Ledger) StatusFor(ctx context.Context, k Key, want interval.Interval) (Status, error) {
	records, source, err := selectRecords(ctx, l.db, k)
	if err != nil {
		return Status{}, err
	}

	var latest time.Time
	row := l.db.QueryRowContext(ctx, `
		SELECT max(last_updated_at) FROM collection_ledger
		WHERE market = $1 AND data_type = $2 AND resolution_minutes = $3
	`, k.Market, string(k.DataType), k.ResolutionMinutes)
	var nullable sql.NullTime
	if err := row.Scan(&nullable); err != nil {
		return Status{}, fmt.Errorf("scan last update: %w", err)
	}
	if nullable.Valid {
		latest = nullable.Time.UTC()
	}

	covered := interval.Normalize(records)
	var inWindow []interval.Interval
	for _, iv := range covered {
		if x := iv.Intersect(want); !x.Empty() {
			inWindow = append(inWindow, x)
		}
	}

	return Status{
		Covered:         inWindow,
		Gaps:            interval.Subtract(want, covered),
		CoveredFraction: interval.CoveredFraction(want, covered),
		LastUpdatedAt:   latest,
		LastSource:      source,
	}, nil
}

// Reconcile rebuilds a market's ledger records for one data type from
// the observations actually on disk. Divergence between the ledger and
// the store is recorded as a quality event before the rebuild. Note
// that coverage of windows that legitimately produced zero rows is
// lost by a rebuild; Reconcile is a repair tool, not a routine step.
func (l *Ledger) Reconcile(ctx context.Context, market string, dt model.DataType) error {
	truth, err := l.store.CoveredIntervals(ctx, market, dt)
	if err != nil {
		return fmt.Errorf("derive coverage from store: %w", err)
	}

	for res, ivs := range truth {
		k := Key{Market: market, DataType: dt, ResolutionMinutes: res}

		recorded, err := l.Covered(ctx, k)
		if err != nil {
			return err
		}

		// Data on disk that the ledger does not claim means the two
		// drifted apart, worth an audit trail entry.
		var missing []interval.Interval
		for _, iv := range ivs {
			missing = append(missing, interval.Subtract(iv, recorded)...)
		}
		if len(missing) > 0 {
			ev := model.QualityEvent{
				OccurredAt: time.Now().UTC(),
				Market:     market,
				DataType:   dt,
				Kind:       model.QualityLedgerInconsistent,
				Detail:     fmt.Sprintf("%d stored interval(s) absent from ledger at %dm, first %s", len(missing), res, missing[0]),
			}
			if err := l.store.LogQualityEvent(ctx, ev); err != nil {
				return err
			}
		}

		lock := l.lockKey(k)
		lock.Lock()
		err = l.rewrite(ctx, k, func([]interval.Interval) []interval.Interval {
			return ivs
		}, "")
		lock.Unlock()
		if err != nil {
			return err
		}
	}

	l.logger.Info("ledger reconciled", "market", market, "data_type", dt, "resolutions", len(truth))
	return nil
}
