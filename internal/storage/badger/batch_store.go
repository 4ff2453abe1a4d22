// Package badger provides an embedded, persistent batch store backed by
// BadgerHold.
package badger

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/timshannon/badgerhold/v4"
	"go.uber.org/zap"

	"github.com/cloudscout/archscraper/internal/scraper"
)

// Config controls where the embedded database lives.
type Config struct {
	Path string `mapstructure:"path" yaml:"path"`
}

// BatchStore persists batches in an embedded BadgerHold store.
type BatchStore struct {
	store  *badgerhold.Store
	logger *zap.Logger
}

// NewBatchStore opens (or creates) the database at cfg.Path.
func NewBatchStore(cfg Config, logger *zap.Logger) (*BatchStore, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("badger path is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o750); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	options := badgerhold.DefaultOptions
	options.Dir = cfg.Path
	options.ValueDir = cfg.Path
	options.Logger = nil

	store, err := badgerhold.Open(options)
	if err != nil {
		return nil, fmt.Errorf("open badger database: %w", err)
	}
	logger.Debug("badger batch store opened", zap.String("path", cfg.Path))

	return &BatchStore{store: store, logger: logger}, nil
}

// Close releases the underlying database.
func (s *BatchStore) Close() error {
	if s.store != nil {
		return s.store.Close()
	}
	return nil
}

// Persist inserts the batch under a unique id. Insert (not Upsert) is used
// so a concurrent writer of the same id fails rather than overwriting.
func (s *BatchStore) Persist(_ context.Context, batch scraper.Batch) (string, error) {
	if batch.BatchID == "" {
		id, err := scraper.NextBatchID(batch.CreatedAt, s.exists)
		if err != nil {
			return "", &scraper.StoreError{Op: "persist", Err: err}
		}
		batch.BatchID = id
	}
	if err := s.store.Insert(batch.BatchID, &batch); err != nil {
		if errors.Is(err, badgerhold.ErrKeyExists) {
			return "", scraper.ErrDuplicateBatch
		}
		return "", &scraper.StoreError{Op: "persist", Err: err}
	}
	return batch.BatchID, nil
}

func (s *BatchStore) exists(batchID string) (bool, error) {
	var b scraper.Batch
	err := s.store.Get(batchID, &b)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, badgerhold.ErrNotFound):
		return false, nil
	default:
		return false, err
	}
}

// Get returns the batch for the given id.
func (s *BatchStore) Get(_ context.Context, batchID string) (scraper.Batch, error) {
	var batch scraper.Batch
	if err := s.store.Get(batchID, &batch); err != nil {
		if errors.Is(err, badgerhold.ErrNotFound) {
			return scraper.Batch{}, scraper.ErrNotFound
		}
		return scraper.Batch{}, &scraper.StoreError{Op: "get", Err: err}
	}
	return batch, nil
}

// GetLatest returns the most recent batch, tie-broken on batch id.
func (s *BatchStore) GetLatest(_ context.Context) (scraper.Batch, error) {
	var batches []scraper.Batch
	if err := s.store.Find(&batches, badgerhold.Where("BatchID").Ne("")); err != nil {
		return scraper.Batch{}, &scraper.StoreError{Op: "get latest", Err: err}
	}
	if len(batches) == 0 {
		return scraper.Batch{}, scraper.ErrNotFound
	}
	sortNewestFirst(batches)
	return batches[0], nil
}

// List returns summaries of all batches, newest first.
func (s *BatchStore) List(_ context.Context) ([]scraper.BatchSummary, error) {
	var batches []scraper.Batch
	if err := s.store.Find(&batches, badgerhold.Where("BatchID").Ne("")); err != nil {
		return nil, &scraper.StoreError{Op: "list", Err: err}
	}
	sortNewestFirst(batches)
	summaries := make([]scraper.BatchSummary, 0, len(batches))
	for _, b := range batches {
		summaries = append(summaries, b.Summary())
	}
	return summaries, nil
}

// sortNewestFirst orders in memory rather than via a store index: the id
// tie-break is numeric on the collision suffix, which a lexicographic
// index sort would get wrong past _9.
func sortNewestFirst(batches []scraper.Batch) {
	sort.Slice(batches, func(i, j int) bool {
		if !batches[i].CreatedAt.Equal(batches[j].CreatedAt) {
			return batches[i].CreatedAt.After(batches[j].CreatedAt)
		}
		return scraper.LaterBatchID(batches[i].BatchID, batches[j].BatchID)
	})
}
