package store

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/gridfeed/elecdata/internal/model"
)

// Query runs ad hoc analytical SQL against the archive. Before the
// statement executes, one view per data type is (re)bound over the
// parquet tree, so queries see the current on-disk state:
//
//	SELECT market, avg(price) FROM prices GROUP BY market
func (s *Store) Query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	if err := s.refreshViews(ctx); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query: %w", err)
	}
	return rows, nil
}

// refreshViews rebinds the per-data-type views over the parquet glob.
// A data type with no files yet gets an empty view with the canonical
// schema so queries against it still parse.
func (s *Store) refreshViews(ctx context.Context) error {
	for _, dt := range []model.DataType{
		model.DataTypePrices,
		model.DataTypeDemand,
		model.DataTypeGeneration,
		model.DataTypeFlows,
	} {
		if err := s.refreshView(ctx, dt); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) refreshView(ctx context.Context, dt model.DataType) error {
	glob := filepath.Join(s.dataDir, "raw", "*", string(dt), "*.parquet")
	matches, err := filepath.Glob(glob)
	if err != nil {
		return fmt.Errorf("glob partitions: %w", err)
	}

	var stmt string
	if len(matches) == 0 {
		cols, err := columnsFor(dt)
		if err != nil {
			return err
		}
		selects := make([]string, 0, len(columnNames(dt)))
		for _, c := range strings.Split(cols, ",") {
			c = strings.TrimSpace(c)
			name, typ, _ := strings.Cut(c, " ")
			selects = append(selects, fmt.Sprintf("CAST(NULL AS %s) AS %s", typ, name))
		}
		stmt = fmt.Sprintf("CREATE OR REPLACE VIEW %s AS SELECT %s WHERE false",
			dt, strings.Join(selects, ", "))
	} else {
		stmt = fmt.Sprintf(
			"CREATE OR REPLACE VIEW %s AS SELECT * FROM read_parquet('%s', union_by_name=true)",
			dt, sqlEscape(glob))
	}

	if _, err := s.db.ExecContext(ctx, stmt); err != nil {
		return fmt.Errorf("bind %s view: %w", dt, err)
	}
	return nil
}
