package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/require"

	"github.com/cloudscout/archscraper/internal/scraper"
)

func newMockStore(t *testing.T) (*BatchStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)

	store, err := NewBatchStoreWithPool(mock, "batches")
	require.NoError(t, err)
	return store, mock
}

func sampleBatch(created time.Time) scraper.Batch {
	return scraper.Batch{
		CreatedAt:       created,
		Sources:         []string{"AWS Prescriptive Guidance"},
		TotalPatterns:   3,
		PerSourceStatus: map[string]scraper.OutcomeStatus{"AWS Prescriptive Guidance": scraper.OutcomeOK},
	}
}

func mustMarshal(t *testing.T, batch scraper.Batch) []byte {
	t.Helper()
	document, err := json.Marshal(batch)
	require.NoError(t, err)
	return document
}

func TestPersistAssignsIDAndInserts(t *testing.T) {
	t.Parallel()
	store, mock := newMockStore(t)

	created := time.Date(2026, 3, 14, 9, 26, 53, 0, time.UTC)
	batch := sampleBatch(created)

	mock.ExpectQuery("SELECT EXISTS").
		WithArgs("20260314_092653").
		WillReturnRows(pgxmock.NewRows([]string{"exists"}).AddRow(false))

	expected := batch
	expected.BatchID = "20260314_092653"
	mock.ExpectExec("INSERT INTO batches").
		WithArgs("20260314_092653", created, mustMarshal(t, expected)).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	id, err := store.Persist(context.Background(), batch)
	require.NoError(t, err)
	require.Equal(t, "20260314_092653", id)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPersistCollisionProbesSuffix(t *testing.T) {
	t.Parallel()
	store, mock := newMockStore(t)

	created := time.Date(2026, 3, 14, 9, 26, 53, 0, time.UTC)
	batch := sampleBatch(created)

	mock.ExpectQuery("SELECT EXISTS").
		WithArgs("20260314_092653").
		WillReturnRows(pgxmock.NewRows([]string{"exists"}).AddRow(true))
	mock.ExpectQuery("SELECT EXISTS").
		WithArgs("20260314_092653_2").
		WillReturnRows(pgxmock.NewRows([]string{"exists"}).AddRow(false))

	expected := batch
	expected.BatchID = "20260314_092653_2"
	mock.ExpectExec("INSERT INTO batches").
		WithArgs("20260314_092653_2", created, mustMarshal(t, expected)).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	id, err := store.Persist(context.Background(), batch)
	require.NoError(t, err)
	require.Equal(t, "20260314_092653_2", id)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPersistIDProbeFailureIsStoreError(t *testing.T) {
	t.Parallel()
	store, mock := newMockStore(t)

	created := time.Date(2026, 3, 14, 9, 26, 53, 0, time.UTC)
	batch := sampleBatch(created)

	mock.ExpectQuery("SELECT EXISTS").
		WithArgs("20260314_092653").
		WillReturnError(errors.New("connection reset"))

	_, err := store.Persist(context.Background(), batch)
	var storeErr *scraper.StoreError
	require.ErrorAs(t, err, &storeErr)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPersistUniqueViolationIsDuplicate(t *testing.T) {
	t.Parallel()
	store, mock := newMockStore(t)

	created := time.Date(2026, 3, 14, 9, 26, 53, 0, time.UTC)
	batch := sampleBatch(created)
	batch.BatchID = "20260314_092653"

	mock.ExpectExec("INSERT INTO batches").
		WithArgs("20260314_092653", created, mustMarshal(t, batch)).
		WillReturnError(&pgconn.PgError{Code: "23505"})

	_, err := store.Persist(context.Background(), batch)
	require.ErrorIs(t, err, scraper.ErrDuplicateBatch)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetReturnsDocument(t *testing.T) {
	t.Parallel()
	store, mock := newMockStore(t)

	created := time.Date(2026, 3, 14, 9, 26, 53, 0, time.UTC)
	batch := sampleBatch(created)
	batch.BatchID = "20260314_092653"

	mock.ExpectQuery("SELECT document FROM batches WHERE").
		WithArgs("20260314_092653").
		WillReturnRows(pgxmock.NewRows([]string{"document"}).AddRow(mustMarshal(t, batch)))

	got, err := store.Get(context.Background(), "20260314_092653")
	require.NoError(t, err)
	require.Equal(t, batch.BatchID, got.BatchID)
	require.Equal(t, 3, got.TotalPatterns)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetMissingIsNotFound(t *testing.T) {
	t.Parallel()
	store, mock := newMockStore(t)

	mock.ExpectQuery("SELECT document FROM batches WHERE").
		WithArgs("20990101_000000").
		WillReturnError(pgx.ErrNoRows)

	_, err := store.Get(context.Background(), "20990101_000000")
	require.ErrorIs(t, err, scraper.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetLatestEmptyIsNotFound(t *testing.T) {
	t.Parallel()
	store, mock := newMockStore(t)

	mock.ExpectQuery("SELECT document FROM batches ORDER BY").
		WillReturnError(pgx.ErrNoRows)

	_, err := store.GetLatest(context.Background())
	require.ErrorIs(t, err, scraper.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestListBuildsSummaries(t *testing.T) {
	t.Parallel()
	store, mock := newMockStore(t)

	newer := sampleBatch(time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC))
	newer.BatchID = "20260314_090000"
	older := sampleBatch(time.Date(2026, 3, 13, 8, 0, 0, 0, time.UTC))
	older.BatchID = "20260313_080000"

	mock.ExpectQuery("SELECT document FROM batches ORDER BY").
		WillReturnRows(pgxmock.NewRows([]string{"document"}).
			AddRow(mustMarshal(t, newer)).
			AddRow(mustMarshal(t, older)))

	summaries, err := store.List(context.Background())
	require.NoError(t, err)
	require.Len(t, summaries, 2)
	require.Equal(t, "20260314_090000", summaries[0].BatchID)
	require.Equal(t, "20260313_080000", summaries[1].BatchID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestStoreFailureIsStoreError(t *testing.T) {
	t.Parallel()
	store, mock := newMockStore(t)

	created := time.Date(2026, 3, 14, 9, 26, 53, 0, time.UTC)
	batch := sampleBatch(created)
	batch.BatchID = "20260314_092653"

	mock.ExpectExec("INSERT INTO batches").
		WithArgs("20260314_092653", created, mustMarshal(t, batch)).
		WillReturnError(&pgconn.PgError{Code: "57P01"})

	_, err := store.Persist(context.Background(), batch)
	var storeErr *scraper.StoreError
	require.ErrorAs(t, err, &storeErr)
	require.NoError(t, mock.ExpectationsWereMet())
}
