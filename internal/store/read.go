package store

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/gridfeed/elecdata/internal/interval"
	"github.com/gridfeed/elecdata/internal/model"
)

// Read returns stored observations for a market and data type whose
// timestamps fall inside the half-open window, ordered by timestamp.
func (s *Store) Read(ctx context.Context, market string, dt model.DataType, window interval.Interval) ([]model.Observation, error) {
	var out []model.Observation
	for year := window.Start.Year(); year <= window.End.Year(); year++ {
		p := Partition{Market: market, DataType: dt, Year: year}
		rows, err := s.readPartitionWindow(ctx, p, &window)
		if err != nil {
			return nil, fmt.Errorf("read partition %s: %w", p, err)
		}
		out = append(out, rows...)
	}
	return out, nil
}

// readPartition loads every row of one partition. Missing files read
// as empty.
func (s *Store) readPartition(ctx context.Context, p Partition) ([]model.Observation, error) {
	return s.readPartitionWindow(ctx, p, nil)
}

func (s *Store) readPartitionWindow(ctx context.Context, p Partition, window *interval.Interval) ([]model.Observation, error) {
	path := s.PartitionPath(p)
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil, nil
	}

	query := fmt.Sprintf("SELECT %s FROM read_parquet('%s')", columnList(p.DataType), sqlEscape(path))
	var args []any
	if window != nil {
		query += " WHERE timestamp_utc >= $1 AND timestamp_utc < $2"
		args = append(args, window.Start, window.End)
	}
	query += " ORDER BY timestamp_utc"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query parquet: %w", err)
	}
	defer rows.Close()

	var out []model.Observation
	for rows.Next() {
		obs, err := scanObservation(p.DataType, rows)
		if err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		out = append(out, obs)
	}
	return out, rows.Err()
}

func columnList(dt model.DataType) string {
	names := columnNames(dt)
	list := ""
	for i, n := range names {
		if i > 0 {
			list += ", "
		}
		list += n
	}
	return list
}

// CoveredIntervals derives, per native resolution, the normalized
// intervals actually present on disk for a market and data type. Each
// observation covers [timestamp, timestamp+resolution). Used by the
// ledger to rebuild its records from ground truth.
func (s *Store) CoveredIntervals(ctx context.Context, market string, dt model.DataType) (map[int][]interval.Interval, error) {
	years, err := s.partitionYears(market, dt)
	if err != nil {
		return nil, err
	}

	raw := make(map[int][]interval.Interval)
	for _, year := range years {
		p := Partition{Market: market, DataType: dt, Year: year}
		obs, err := s.readPartition(ctx, p)
		if err != nil {
			return nil, fmt.Errorf("read partition %s: %w", p, err)
		}
		for _, o := range obs {
			res := o.Resolution()
			raw[res] = append(raw[res], interval.New(
				o.Timestamp(),
				o.Timestamp().Add(time.Duration(res)*time.Minute),
			))
		}
	}

	out := make(map[int][]interval.Interval, len(raw))
	for res, ivs := range raw {
		out[res] = interval.Normalize(ivs)
	}
	return out, nil
}

// DeleteRange removes stored rows inside the half-open window, making
// room for an explicit reingest. Affected partitions are rewritten in
// place; a partition left empty is deleted. Returns the number of rows
// removed.
func (s *Store) DeleteRange(ctx context.Context, market string, dt model.DataType, window interval.Interval) (int, error) {
	removed := 0
	for year := window.Start.Year(); year <= window.End.Year(); year++ {
		p := Partition{Market: market, DataType: dt, Year: year}
		n, err := s.deleteRangePartition(ctx, p, window)
		if err != nil {
			return removed, fmt.Errorf("delete from partition %s: %w", p, err)
		}
		removed += n
	}
	return removed, nil
}

func (s *Store) deleteRangePartition(ctx context.Context, p Partition, window interval.Interval) (int, error) {
	lock := s.lockPartition(p)
	lock.Lock()
	defer lock.Unlock()

	existing, err := s.readPartition(ctx, p)
	if err != nil {
		return 0, err
	}
	if len(existing) == 0 {
		return 0, nil
	}

	kept := existing[:0]
	for _, o := range existing {
		if !window.Contains(o.Timestamp()) {
			kept = append(kept, o)
		}
	}
	removed := len(existing) - len(kept)
	if removed == 0 {
		return 0, nil
	}

	if len(kept) == 0 {
		if err := os.Remove(s.PartitionPath(p)); err != nil {
			return 0, fmt.Errorf("remove empty partition: %w", err)
		}
	} else if err := s.writePartition(ctx, p, kept); err != nil {
		return 0, err
	}

	s.logger.Info("deleted observations",
		"partition", p.String(),
		"removed", removed,
		"remaining", len(kept),
	)
	return removed, nil
}

// partitionYears lists the years that have a parquet file on disk for
// a market and data type.
func (s *Store) partitionYears(market string, dt model.DataType) ([]int, error) {
	dir := s.partitionDir(market, dt)
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("list partition dir: %w", err)
	}

	var years []int
	for _, e := range entries {
		var year int
		if _, err := fmt.Sscanf(e.Name(), "%d.parquet", &year); err == nil {
			years = append(years, year)
		}
	}
	return years, nil
}
