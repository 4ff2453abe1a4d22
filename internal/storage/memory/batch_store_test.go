package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/cloudscout/archscraper/internal/scraper"
)

func batchAt(t time.Time, patterns int) scraper.Batch {
	return scraper.Batch{
		CreatedAt:       t,
		Sources:         []string{"AWS Prescriptive Guidance"},
		TotalPatterns:   patterns,
		PerSourceStatus: map[string]scraper.OutcomeStatus{"AWS Prescriptive Guidance": scraper.OutcomeOK},
	}
}

func TestPersistAssignsTimestampID(t *testing.T) {
	t.Parallel()
	store := NewBatchStore()

	created := time.Date(2026, 3, 14, 9, 26, 53, 0, time.UTC)
	id, err := store.Persist(context.Background(), batchAt(created, 5))
	require.NoError(t, err)
	require.Equal(t, "20260314_092653", id)

	got, err := store.Get(context.Background(), id)
	require.NoError(t, err)
	require.Equal(t, 5, got.TotalPatterns)
}

func TestPersistCollisionGetsSuffix(t *testing.T) {
	t.Parallel()
	store := NewBatchStore()
	created := time.Date(2026, 3, 14, 9, 26, 53, 0, time.UTC)

	first, err := store.Persist(context.Background(), batchAt(created, 1))
	require.NoError(t, err)
	second, err := store.Persist(context.Background(), batchAt(created, 2))
	require.NoError(t, err)
	third, err := store.Persist(context.Background(), batchAt(created, 3))
	require.NoError(t, err)

	require.Equal(t, "20260314_092653", first)
	require.Equal(t, "20260314_092653_2", second)
	require.Equal(t, "20260314_092653_3", third)
}

func TestPersistExplicitDuplicateRejected(t *testing.T) {
	t.Parallel()
	store := NewBatchStore()
	created := time.Now().UTC()

	b := batchAt(created, 1)
	b.BatchID = "20260101_000000"
	_, err := store.Persist(context.Background(), b)
	require.NoError(t, err)

	_, err = store.Persist(context.Background(), b)
	require.ErrorIs(t, err, scraper.ErrDuplicateBatch)
}

func TestGetMissingBatch(t *testing.T) {
	t.Parallel()
	store := NewBatchStore()

	_, err := store.Get(context.Background(), "20990101_000000")
	require.ErrorIs(t, err, scraper.ErrNotFound)
}

func TestGetLatestOrdersByCreationThenID(t *testing.T) {
	t.Parallel()
	store := NewBatchStore()
	ctx := context.Background()

	older := time.Date(2026, 3, 13, 8, 0, 0, 0, time.UTC)
	newer := time.Date(2026, 3, 14, 9, 26, 53, 0, time.UTC)

	_, err := store.Persist(ctx, batchAt(older, 1))
	require.NoError(t, err)
	_, err = store.Persist(ctx, batchAt(newer, 2))
	require.NoError(t, err)
	// Same timestamp, suffixed id must win the tie.
	lastID, err := store.Persist(ctx, batchAt(newer, 3))
	require.NoError(t, err)
	require.Equal(t, "20260314_092653_2", lastID)

	latest, err := store.GetLatest(ctx)
	require.NoError(t, err)
	require.Equal(t, lastID, latest.BatchID)
	require.Equal(t, 3, latest.TotalPatterns)
}

func TestGetLatestTenthCollisionWins(t *testing.T) {
	t.Parallel()
	store := NewBatchStore()
	ctx := context.Background()
	created := time.Date(2026, 3, 14, 9, 26, 53, 0, time.UTC)

	var lastID string
	for n := 1; n <= 10; n++ {
		id, err := store.Persist(ctx, batchAt(created, n))
		require.NoError(t, err)
		lastID = id
	}
	require.Equal(t, "20260314_092653_10", lastID)

	latest, err := store.GetLatest(ctx)
	require.NoError(t, err)
	require.Equal(t, lastID, latest.BatchID)
	require.Equal(t, 10, latest.TotalPatterns)

	summaries, err := store.List(ctx)
	require.NoError(t, err)
	require.Equal(t, lastID, summaries[0].BatchID)
}

func TestGetLatestEmptyStore(t *testing.T) {
	t.Parallel()
	store := NewBatchStore()

	_, err := store.GetLatest(context.Background())
	require.ErrorIs(t, err, scraper.ErrNotFound)
}

func TestListNewestFirst(t *testing.T) {
	t.Parallel()
	store := NewBatchStore()
	ctx := context.Background()

	_, err := store.Persist(ctx, batchAt(time.Date(2026, 3, 13, 8, 0, 0, 0, time.UTC), 1))
	require.NoError(t, err)
	_, err = store.Persist(ctx, batchAt(time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC), 2))
	require.NoError(t, err)

	summaries, err := store.List(ctx)
	require.NoError(t, err)
	require.Len(t, summaries, 2)
	require.Equal(t, "20260314_090000", summaries[0].BatchID)
	require.Equal(t, "20260313_080000", summaries[1].BatchID)
}

func TestPersistedBatchIsIsolated(t *testing.T) {
	t.Parallel()
	store := NewBatchStore()
	ctx := context.Background()

	b := batchAt(time.Now().UTC(), 1)
	id, err := store.Persist(ctx, b)
	require.NoError(t, err)

	// Mutating the caller's copy must not affect the stored batch.
	b.Sources[0] = "mutated"
	b.PerSourceStatus["AWS Prescriptive Guidance"] = scraper.OutcomeFailed

	got, err := store.Get(ctx, id)
	require.NoError(t, err)
	require.Equal(t, "AWS Prescriptive Guidance", got.Sources[0])
	require.Equal(t, scraper.OutcomeOK, got.PerSourceStatus["AWS Prescriptive Guidance"])
}
