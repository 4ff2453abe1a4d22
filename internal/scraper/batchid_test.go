package scraper

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestBatchIDForTime_UsesUTCTimestampLayout(t *testing.T) {
	t.Parallel()

	loc := time.FixedZone("EST", -5*3600)
	created := time.Date(2026, 3, 14, 4, 26, 53, 0, loc)

	require.Equal(t, "20260314_092653", BatchIDForTime(created))
}

func TestNextBatchID_SameSecondCollisionsGetSuffix(t *testing.T) {
	t.Parallel()

	created := time.Date(2026, 3, 14, 9, 26, 53, 0, time.UTC)
	taken := map[string]bool{
		"20260314_092653":   true,
		"20260314_092653_2": true,
	}
	exists := func(id string) (bool, error) { return taken[id], nil }

	id, err := NextBatchID(created, exists)
	require.NoError(t, err)
	require.Equal(t, "20260314_092653_3", id)

	// Suffixed ids order after the bare id.
	require.True(t, LaterBatchID(id, "20260314_092653"))
}

func TestNextBatchID_ProbeErrorPropagates(t *testing.T) {
	t.Parallel()

	created := time.Date(2026, 3, 14, 9, 26, 53, 0, time.UTC)
	probeErr := errors.New("store offline")

	_, err := NextBatchID(created, func(string) (bool, error) { return false, probeErr })
	require.ErrorIs(t, err, probeErr)
}

func TestNextBatchID_ManyCollisionsInOneSecond(t *testing.T) {
	t.Parallel()

	created := time.Date(2026, 3, 14, 9, 26, 53, 0, time.UTC)
	taken := map[string]bool{"20260314_092653": true}
	for n := 2; n <= 10; n++ {
		taken[fmt.Sprintf("20260314_092653_%d", n)] = true
	}
	exists := func(id string) (bool, error) { return taken[id], nil }

	id, err := NextBatchID(created, exists)
	require.NoError(t, err)
	require.Equal(t, "20260314_092653_11", id)
}

func TestLaterBatchID_SuffixesCompareNumerically(t *testing.T) {
	t.Parallel()

	require.True(t, LaterBatchID("20260314_092653_10", "20260314_092653_9"))
	require.True(t, LaterBatchID("20260314_092653_2", "20260314_092653"))
	require.True(t, LaterBatchID("20260315_000000", "20260314_092653_10"))
	require.False(t, LaterBatchID("20260314_092653", "20260314_092653_2"))
	require.False(t, LaterBatchID("20260314_092653_9", "20260314_092653_10"))
}

func TestNextBatchID_FirstWriterKeepsBareID(t *testing.T) {
	t.Parallel()

	created := time.Date(2026, 3, 14, 9, 26, 53, 0, time.UTC)
	exists := func(string) (bool, error) { return false, nil }

	id, err := NextBatchID(created, exists)
	require.NoError(t, err)
	require.Equal(t, "20260314_092653", id)
}
