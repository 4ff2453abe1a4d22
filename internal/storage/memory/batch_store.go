// Package memory provides in-memory persistence for development and tests.
package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/cloudscout/archscraper/internal/scraper"
)

// BatchStore keeps batches in a process-local map.
type BatchStore struct {
	mu      sync.RWMutex
	batches map[string]scraper.Batch
}

// NewBatchStore constructs an empty BatchStore.
func NewBatchStore() *BatchStore {
	return &BatchStore{
		batches: make(map[string]scraper.Batch),
	}
}

// Persist writes the batch under a unique id. An empty BatchID gets one
// derived from CreatedAt, with a numeric suffix on collision. A caller-set
// BatchID that already exists is a duplicate.
func (s *BatchStore) Persist(_ context.Context, batch scraper.Batch) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if batch.BatchID == "" {
		id, err := scraper.NextBatchID(batch.CreatedAt, func(id string) (bool, error) {
			_, taken := s.batches[id]
			return taken, nil
		})
		if err != nil {
			return "", err
		}
		batch.BatchID = id
	} else if _, taken := s.batches[batch.BatchID]; taken {
		return "", scraper.ErrDuplicateBatch
	}

	s.batches[batch.BatchID] = cloneBatch(batch)
	return batch.BatchID, nil
}

// Get returns the batch for the given id.
func (s *BatchStore) Get(_ context.Context, batchID string) (scraper.Batch, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	batch, ok := s.batches[batchID]
	if !ok {
		return scraper.Batch{}, scraper.ErrNotFound
	}
	return cloneBatch(batch), nil
}

// GetLatest returns the most recent batch by creation time, breaking ties
// on batch id so suffixed collisions order deterministically.
func (s *BatchStore) GetLatest(_ context.Context) (scraper.Batch, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var (
		latest scraper.Batch
		found  bool
	)
	for _, b := range s.batches {
		if !found || newer(b, latest) {
			latest = b
			found = true
		}
	}
	if !found {
		return scraper.Batch{}, scraper.ErrNotFound
	}
	return cloneBatch(latest), nil
}

// List returns summaries of all batches, newest first.
func (s *BatchStore) List(_ context.Context) ([]scraper.BatchSummary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	summaries := make([]scraper.BatchSummary, 0, len(s.batches))
	for _, b := range s.batches {
		summaries = append(summaries, b.Summary())
	}
	sort.Slice(summaries, func(i, j int) bool {
		if !summaries[i].CreatedAt.Equal(summaries[j].CreatedAt) {
			return summaries[i].CreatedAt.After(summaries[j].CreatedAt)
		}
		return scraper.LaterBatchID(summaries[i].BatchID, summaries[j].BatchID)
	})
	return summaries, nil
}

func newer(a, b scraper.Batch) bool {
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.After(b.CreatedAt)
	}
	return scraper.LaterBatchID(a.BatchID, b.BatchID)
}

func cloneBatch(b scraper.Batch) scraper.Batch {
	out := b
	out.Sources = append([]string(nil), b.Sources...)
	out.Architectures = append([]scraper.PatternRecord(nil), b.Architectures...)
	out.PerSourceStatus = make(map[string]scraper.OutcomeStatus, len(b.PerSourceStatus))
	for k, v := range b.PerSourceStatus {
		out.PerSourceStatus[k] = v
	}
	return out
}
