package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	_ "github.com/duckdb/duckdb-go/v2"

	"github.com/gridfeed/elecdata/internal/model"
)

// Partition is the physical storage unit: one parquet file per
// (market, data_type, calendar_year).
type Partition struct {
	Market   string
	DataType model.DataType
	Year     int
}

func (p Partition) String() string {
	return fmt.Sprintf("%s/%s/%d", p.Market, p.DataType, p.Year)
}

// Store provides durable columnar persistence with an embedded SQL
// layer. Safe for concurrent use; appends to the same partition are
// serialized internally.
type Store struct {
	dataDir string
	db      *sql.DB
	logger  *slog.Logger

	mu        sync.Mutex
	partLocks map[string]*sync.Mutex
	tmpSeq    int
}

// Open initializes the store under dataDir, creating the directory
// tree and the catalog database on first use.
func Open(dataDir string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}

	metaDir := filepath.Join(dataDir, "metadata")
	if err := os.MkdirAll(metaDir, 0o755); err != nil {
		return nil, fmt.Errorf("create metadata dir: %w", err)
	}
	if err := os.MkdirAll(filepath.Join(dataDir, "raw"), 0o755); err != nil {
		return nil, fmt.Errorf("create raw dir: %w", err)
	}

	db, err := sql.Open("duckdb", filepath.Join(metaDir, "catalog.duckdb"))
	if err != nil {
		return nil, fmt.Errorf("open catalog database: %w", err)
	}

	s := &Store{
		dataDir:   dataDir,
		db:        db,
		logger:    logger,
		partLocks: make(map[string]*sync.Mutex),
	}

	if err := s.initCatalog(); err != nil {
		db.Close()
		return nil, err
	}

	logger.Info("store opened", "data_dir", dataDir)
	return s, nil
}

// Close releases the catalog database.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB exposes the catalog database so the ledger can share transactions
// and external tools can be pointed at one file.
func (s *Store) DB() *sql.DB {
	return s.db
}

// DataDir returns the root data directory.
func (s *Store) DataDir() string {
	return s.dataDir
}

// PartitionPath returns the parquet file path for a partition. Market
// directories are lowercased, matching the stable on-disk contract.
func (s *Store) PartitionPath(p Partition) string {
	return filepath.Join(s.partitionDir(p.Market, p.DataType), fmt.Sprintf("%d.parquet", p.Year))
}

func (s *Store) partitionDir(market string, dt model.DataType) string {
	return filepath.Join(s.dataDir, "raw", strings.ToLower(market), string(dt))
}

// lockPartition returns the mutex serializing appends to one partition.
func (s *Store) lockPartition(p Partition) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := p.String()
	l, ok := s.partLocks[key]
	if !ok {
		l = &sync.Mutex{}
		s.partLocks[key] = l
	}
	return l
}

// nextTmpName returns a unique temp table name for one append.
func (s *Store) nextTmpName() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tmpSeq++
	return fmt.Sprintf("append_batch_%d", s.tmpSeq)
}

func (s *Store) initCatalog() error {
	ctx := context.Background()
	if _, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS quality_events (
			occurred_at TIMESTAMP,
			market VARCHAR,
			data_type VARCHAR,
			kind VARCHAR,
			source VARCHAR,
			detail VARCHAR
		)
	`); err != nil {
		return fmt.Errorf("create quality_events table: %w", err)
	}
	return nil
}

// LogQualityEvent records a data-quality anomaly in the catalog.
func (s *Store) LogQualityEvent(ctx context.Context, ev model.QualityEvent) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO quality_events (occurred_at, market, data_type, kind, source, detail)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, ev.OccurredAt, ev.Market, string(ev.DataType), string(ev.Kind), ev.Source, ev.Detail)
	if err != nil {
		return fmt.Errorf("log quality event: %w", err)
	}
	return nil
}

// QualityEvents returns recorded events for a market and data type,
// oldest first.
func (s *Store) QualityEvents(ctx context.Context, market string, dt model.DataType) ([]model.QualityEvent, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT occurred_at, market, data_type, kind, source, detail
		FROM quality_events
		WHERE market = $1 AND data_type = $2
		ORDER BY occurred_at
	`, market, string(dt))
	if err != nil {
		return nil, fmt.Errorf("query quality events: %w", err)
	}
	defer rows.Close()

	var out []model.QualityEvent
	for rows.Next() {
		var ev model.QualityEvent
		var dtStr, kind string
		if err := rows.Scan(&ev.OccurredAt, &ev.Market, &dtStr, &kind, &ev.Source, &ev.Detail); err != nil {
			return nil, fmt.Errorf("scan quality event: %w", err)
		}
		ev.OccurredAt = ev.OccurredAt.UTC()
		ev.DataType = model.DataType(dtStr)
		ev.Kind = model.QualityEventKind(kind)
		out = append(out, ev)
	}
	return out, rows.Err()
}
