package sweeper

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/farreach/jobingest/internal/jobs"
	"github.com/farreach/jobingest/internal/storage/memory"
)

type fixedClock struct{ now time.Time }

func (c fixedClock) Now() time.Time { return c.now }

func seed(t *testing.T, store *memory.Store, externalID string, lastSeen time.Time) {
	t.Helper()
	err := store.RunInSourceTx(context.Background(), func(tx jobs.JobTx) error {
		_, upsertErr := tx.Upsert(context.Background(), 1,
			jobs.ScrapedJob{ExternalID: externalID, Title: "Job " + externalID}, lastSeen)
		return upsertErr
	})
	require.NoError(t, err)
}

func TestSweepLifecycle(t *testing.T) {
	store := memory.NewStore()
	now := time.Date(2024, 3, 10, 0, 30, 0, 0, time.UTC)

	seed(t, store, "fresh", now.Add(-2*time.Hour))
	seed(t, store, "day-old", now.Add(-30*time.Hour))
	seed(t, store, "week-old", now.Add(-8*24*time.Hour))

	sweeper := New(store, fixedClock{now: now}, 0, 0, zap.NewNop())

	result, err := sweeper.Sweep(context.Background())
	require.NoError(t, err)
	require.EqualValues(t, 2, result.Marked)
	require.EqualValues(t, 0, result.Deleted,
		"records marked this sweep have not been stale for a week yet")

	// A week later the untouched stale records age out.
	later := New(store, fixedClock{now: now.Add(8 * 24 * time.Hour)}, 0, 0, zap.NewNop())
	result, err = later.Sweep(context.Background())
	require.NoError(t, err)
	require.EqualValues(t, 1, result.Marked, "the fresh record has gone unseen by now")
	require.EqualValues(t, 2, result.Deleted)

	stale, err := store.CountStale(context.Background())
	require.NoError(t, err)
	require.EqualValues(t, 1, stale)
}

func TestSweepIsIdempotent(t *testing.T) {
	store := memory.NewStore()
	now := time.Date(2024, 3, 10, 0, 30, 0, 0, time.UTC)
	seed(t, store, "day-old", now.Add(-30*time.Hour))

	sweeper := New(store, fixedClock{now: now}, 0, 0, zap.NewNop())

	result, err := sweeper.Sweep(context.Background())
	require.NoError(t, err)
	require.EqualValues(t, 1, result.Marked)

	result, err = sweeper.Sweep(context.Background())
	require.NoError(t, err)
	require.EqualValues(t, 0, result.Marked)
	require.EqualValues(t, 0, result.Deleted)
}

func TestLongUnseenRecordIsNotDeletedWhenMarked(t *testing.T) {
	store := memory.NewStore()
	now := time.Date(2024, 3, 10, 0, 30, 0, 0, time.UTC)
	seed(t, store, "long-gone", now.Add(-8*24*time.Hour))

	sweeper := New(store, fixedClock{now: now}, 0, 0, zap.NewNop())

	// Unseen for over a week, but it only went stale this sweep, so the
	// delete window starts now.
	result, err := sweeper.Sweep(context.Background())
	require.NoError(t, err)
	require.EqualValues(t, 1, result.Marked)
	require.EqualValues(t, 0, result.Deleted)

	stale, err := store.CountStale(context.Background())
	require.NoError(t, err)
	require.EqualValues(t, 1, stale)

	// It ages out once it has stayed stale for the full delete window.
	later := New(store, fixedClock{now: now.Add(7*24*time.Hour + time.Hour)}, 0, 0, zap.NewNop())
	result, err = later.Sweep(context.Background())
	require.NoError(t, err)
	require.EqualValues(t, 1, result.Deleted)
}

type failingMark struct{ *memory.Store }

func (failingMark) MarkStale(context.Context, time.Time, time.Time) (int64, error) {
	return 0, fmt.Errorf("connection reset")
}

func TestSweepSurfacesStoreErrors(t *testing.T) {
	sweeper := New(failingMark{memory.NewStore()},
		fixedClock{now: time.Now()}, 0, 0, zap.NewNop())
	_, err := sweeper.Sweep(context.Background())
	require.Error(t, err)
	require.Contains(t, err.Error(), "mark stale")
}
