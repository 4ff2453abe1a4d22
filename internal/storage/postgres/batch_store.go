// Package postgres provides Postgres-backed batch persistence.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/cloudscout/archscraper/internal/scraper"
)

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

const uniqueViolationCode = "23505"

// Config controls the Postgres connection pool used for batch documents.
type Config struct {
	DSN             string        `mapstructure:"dsn" yaml:"dsn"`
	Table           string        `mapstructure:"table" yaml:"table"`
	MaxConns        int32         `mapstructure:"max_conns" yaml:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns" yaml:"min_conns"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime" yaml:"max_conn_lifetime"`
}

type dbPool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Close()
}

// BatchStore writes batch documents into Postgres as jsonb rows.
type BatchStore struct {
	pool  dbPool
	table string
}

// NewBatchStore creates a Postgres-backed BatchStore using the provided config.
func NewBatchStore(ctx context.Context, cfg Config) (*BatchStore, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("storage.postgres.dsn is required")
	}
	table := cfg.Table
	if table == "" {
		table = "batches"
	}
	if !validTableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &BatchStore{pool: pool, table: table}, nil
}

// NewBatchStoreWithPool constructs a store from an existing pool (primarily for testing).
func NewBatchStoreWithPool(pool dbPool, table string) (*BatchStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if table == "" {
		table = "batches"
	}
	if !validTableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	return &BatchStore{pool: pool, table: table}, nil
}

// Close releases the underlying pool resources.
func (s *BatchStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// EnsureSchema creates the batch table when it does not exist yet.
func (s *BatchStore) EnsureSchema(ctx context.Context) error {
	query := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
	batch_id   TEXT PRIMARY KEY,
	created_at TIMESTAMPTZ NOT NULL,
	document   JSONB NOT NULL
)`, s.table)
	if _, err := s.pool.Exec(ctx, query); err != nil {
		return &scraper.StoreError{Op: "ensure schema", Err: err}
	}
	return nil
}

// Persist inserts the batch as a single jsonb document. The primary key
// enforces id uniqueness even against concurrent writers.
func (s *BatchStore) Persist(ctx context.Context, batch scraper.Batch) (string, error) {
	if batch.BatchID == "" {
		id, err := s.nextID(ctx, batch.CreatedAt)
		if err != nil {
			return "", err
		}
		batch.BatchID = id
	}
	document, err := json.Marshal(batch)
	if err != nil {
		return "", &scraper.StoreError{Op: "persist", Err: fmt.Errorf("marshal batch: %w", err)}
	}

	query := fmt.Sprintf(`INSERT INTO %s (batch_id, created_at, document) VALUES ($1, $2, $3)`, s.table)
	if _, err := s.pool.Exec(ctx, query, batch.BatchID, batch.CreatedAt, document); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolationCode {
			return "", scraper.ErrDuplicateBatch
		}
		return "", &scraper.StoreError{Op: "persist", Err: err}
	}
	return batch.BatchID, nil
}

func (s *BatchStore) nextID(ctx context.Context, created time.Time) (string, error) {
	id, err := scraper.NextBatchID(created, func(candidate string) (bool, error) {
		var exists bool
		query := fmt.Sprintf(`SELECT EXISTS (SELECT 1 FROM %s WHERE batch_id = $1)`, s.table)
		if err := s.pool.QueryRow(ctx, query, candidate).Scan(&exists); err != nil {
			return false, err
		}
		return exists, nil
	})
	if err != nil {
		return "", &scraper.StoreError{Op: "persist", Err: err}
	}
	return id, nil
}

// Get returns the batch for the given id.
func (s *BatchStore) Get(ctx context.Context, batchID string) (scraper.Batch, error) {
	query := fmt.Sprintf(`SELECT document FROM %s WHERE batch_id = $1`, s.table)
	var document []byte
	if err := s.pool.QueryRow(ctx, query, batchID).Scan(&document); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return scraper.Batch{}, scraper.ErrNotFound
		}
		return scraper.Batch{}, &scraper.StoreError{Op: "get", Err: err}
	}
	return unmarshalBatch(document)
}

// GetLatest returns the most recent batch, tie-broken on batch id. Ids
// sharing a creation second differ only in suffix length and digits, so
// ordering by length before text compares the suffixes numerically.
func (s *BatchStore) GetLatest(ctx context.Context) (scraper.Batch, error) {
	query := fmt.Sprintf(
		`SELECT document FROM %s ORDER BY created_at DESC, length(batch_id) DESC, batch_id DESC LIMIT 1`, s.table)
	var document []byte
	if err := s.pool.QueryRow(ctx, query).Scan(&document); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return scraper.Batch{}, scraper.ErrNotFound
		}
		return scraper.Batch{}, &scraper.StoreError{Op: "get latest", Err: err}
	}
	return unmarshalBatch(document)
}

// List returns summaries of all batches, newest first.
func (s *BatchStore) List(ctx context.Context) ([]scraper.BatchSummary, error) {
	query := fmt.Sprintf(`SELECT document FROM %s ORDER BY created_at DESC, length(batch_id) DESC, batch_id DESC`, s.table)
	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, &scraper.StoreError{Op: "list", Err: err}
	}
	defer rows.Close()

	var summaries []scraper.BatchSummary
	for rows.Next() {
		var document []byte
		if err := rows.Scan(&document); err != nil {
			return nil, &scraper.StoreError{Op: "list", Err: err}
		}
		batch, err := unmarshalBatch(document)
		if err != nil {
			return nil, err
		}
		summaries = append(summaries, batch.Summary())
	}
	if err := rows.Err(); err != nil {
		return nil, &scraper.StoreError{Op: "list", Err: err}
	}
	return summaries, nil
}

func unmarshalBatch(document []byte) (scraper.Batch, error) {
	var batch scraper.Batch
	if err := json.Unmarshal(document, &batch); err != nil {
		return scraper.Batch{}, &scraper.StoreError{Op: "decode", Err: err}
	}
	return batch, nil
}
