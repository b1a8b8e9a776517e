package store

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/gridfeed/elecdata/internal/model"
)

// Append persists observations into their (market, data_type, year)
// partitions. Rows whose uniqueness key already exists in a partition
// are dropped, so replaying an append is a no-op. Returns the number
// of rows actually written.
func (s *Store) Append(ctx context.Context, dt model.DataType, obs []model.Observation) (int, error) {
	if len(obs) == 0 {
		return 0, nil
	}

	byPart := make(map[Partition][]model.Observation)
	for _, o := range obs {
		if o.Type() != dt {
			return 0, fmt.Errorf("observation type %q in %q append", o.Type(), dt)
		}
		p := Partition{Market: o.MarketID(), DataType: dt, Year: o.Timestamp().Year()}
		byPart[p] = append(byPart[p], o)
	}

	// Stable partition order keeps lock acquisition deterministic.
	parts := make([]Partition, 0, len(byPart))
	for p := range byPart {
		parts = append(parts, p)
	}
	sort.Slice(parts, func(i, j int) bool { return parts[i].String() < parts[j].String() })

	written := 0
	for _, p := range parts {
		n, err := s.appendPartition(ctx, p, byPart[p])
		if err != nil {
			return written, fmt.Errorf("append partition %s: %w", p, err)
		}
		written += n
	}
	return written, nil
}

func (s *Store) appendPartition(ctx context.Context, p Partition, batch []model.Observation) (int, error) {
	lock := s.lockPartition(p)
	lock.Lock()
	defer lock.Unlock()

	existing, err := s.readPartition(ctx, p)
	if err != nil {
		return 0, err
	}

	seen := make(map[string]struct{}, len(existing)+len(batch))
	for _, o := range existing {
		seen[o.Key()] = struct{}{}
	}

	merged := existing
	added := 0
	for _, o := range batch {
		k := o.Key()
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = struct{}{}
		merged = append(merged, o)
		added++
	}
	if added == 0 {
		s.logger.Debug("append was a no-op", "partition", p.String(), "batch", len(batch))
		return 0, nil
	}

	sort.SliceStable(merged, func(i, j int) bool {
		return merged[i].Timestamp().Before(merged[j].Timestamp())
	})

	if err := s.writePartition(ctx, p, merged); err != nil {
		return 0, err
	}

	s.logger.Info("appended observations",
		"partition", p.String(),
		"added", added,
		"dropped_duplicates", len(batch)-added,
		"total", len(merged),
	)
	return added, nil
}

// writePartition materializes the full row set as a parquet file,
// replacing the previous file atomically via rename. All statements
// run on one pinned connection: temp tables in DuckDB are scoped to
// the connection that created them.
func (s *Store) writePartition(ctx context.Context, p Partition, rows []model.Observation) error {
	cols, err := columnsFor(p.DataType)
	if err != nil {
		return err
	}

	conn, err := s.db.Conn(ctx)
	if err != nil {
		return fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Close()

	tmpTable := s.nextTmpName()
	if _, err := conn.ExecContext(ctx, fmt.Sprintf("CREATE TEMP TABLE %s (%s)", tmpTable, cols)); err != nil {
		return fmt.Errorf("create temp table: %w", err)
	}
	defer conn.ExecContext(context.Background(), "DROP TABLE IF EXISTS "+tmpTable)

	names := columnNames(p.DataType)
	placeholders := make([]string, len(names))
	for i := range names {
		placeholders[i] = fmt.Sprintf("$%d", i+1)
	}
	insertSQL := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		tmpTable, strings.Join(names, ", "), strings.Join(placeholders, ", "))

	stmt, err := conn.PrepareContext(ctx, insertSQL)
	if err != nil {
		return fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()

	for _, o := range rows {
		args, err := insertArgs(o)
		if err != nil {
			return err
		}
		if _, err := stmt.ExecContext(ctx, args...); err != nil {
			return fmt.Errorf("insert row: %w", err)
		}
	}

	dest := s.PartitionPath(p)
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return fmt.Errorf("create partition dir: %w", err)
	}

	tmpFile := dest + ".tmp"
	copySQL := fmt.Sprintf(
		"COPY (SELECT * FROM %s ORDER BY timestamp_utc) TO '%s' (FORMAT PARQUET)",
		tmpTable, sqlEscape(tmpFile))
	if _, err := conn.ExecContext(ctx, copySQL); err != nil {
		return fmt.Errorf("write parquet: %w", err)
	}

	if err := os.Rename(tmpFile, dest); err != nil {
		os.Remove(tmpFile)
		return fmt.Errorf("replace partition file: %w", err)
	}
	return nil
}

// sqlEscape quotes a path for embedding in a DuckDB string literal.
func sqlEscape(s string) string {
	return strings.ReplaceAll(s, "'", "''")
}
