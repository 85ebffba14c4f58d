package postgres

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v3"
	"github.com/stretchr/testify/require"

	"github.com/farreach/jobingest/internal/jobs"
)

func newMockStore(t *testing.T) (*Store, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)

	store, err := NewStoreWithPool(mock)
	require.NoError(t, err)
	return store, mock
}

func TestUpsertInsertsNewJob(t *testing.T) {
	t.Parallel()
	store, mock := newMockStore(t)
	now := time.Unix(1700000000, 0).UTC()

	mock.ExpectBegin()
	mock.ExpectExec("SAVEPOINT upsert_job").WillReturnResult(pgxmock.NewResult("SAVEPOINT", 0))
	mock.ExpectQuery("SELECT id, title, url, organization").
		WithArgs("abc123").
		WillReturnError(pgx.ErrNoRows)
	mock.ExpectExec("INSERT INTO jobs").
		WithArgs(int64(7), "abc123", "Deckhand", "https://harbor.example/careers/deckhand",
			"Harbor Jobs", "Kodiak, AK", "AK", "", "Full-time", "", now).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec("RELEASE SAVEPOINT upsert_job").WillReturnResult(pgxmock.NewResult("RELEASE", 0))
	mock.ExpectCommit()

	err := store.RunInSourceTx(context.Background(), func(tx jobs.JobTx) error {
		outcome, upsertErr := tx.Upsert(context.Background(), 7, jobs.ScrapedJob{
			ExternalID:   "abc123",
			Title:        "Deckhand",
			URL:          "https://harbor.example/careers/deckhand",
			Organization: "Harbor Jobs",
			Location:     "Kodiak, AK",
			State:        "AK",
			JobType:      "Full-time",
		}, now)
		require.NoError(t, upsertErr)
		require.Equal(t, jobs.UpsertInserted, outcome)
		return nil
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpsertUpdatesOnlyChangedFields(t *testing.T) {
	t.Parallel()
	store, mock := newMockStore(t)
	now := time.Unix(1700000000, 0).UTC()

	existing := pgxmock.NewRows([]string{
		"id", "title", "url", "organization", "location", "state",
		"description", "job_type", "salary_info", "is_stale",
	}).AddRow(int64(42), "Deckhand", "https://harbor.example/careers/deckhand",
		"Harbor Jobs", "Kodiak, AK", "AK", "", "Full-time", "", false)

	mock.ExpectBegin()
	mock.ExpectExec("SAVEPOINT upsert_job").WillReturnResult(pgxmock.NewResult("SAVEPOINT", 0))
	mock.ExpectQuery("SELECT id, title, url, organization").
		WithArgs("abc123").
		WillReturnRows(existing)
	// The title changed and the location is scraped empty: only title and
	// last_seen_at are written.
	mock.ExpectExec(`UPDATE jobs SET last_seen_at = \$1, title = \$2 WHERE id = \$3`).
		WithArgs(now, "Senior Deckhand", int64(42)).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec("RELEASE SAVEPOINT upsert_job").WillReturnResult(pgxmock.NewResult("RELEASE", 0))
	mock.ExpectCommit()

	err := store.RunInSourceTx(context.Background(), func(tx jobs.JobTx) error {
		outcome, upsertErr := tx.Upsert(context.Background(), 7, jobs.ScrapedJob{
			ExternalID: "abc123",
			Title:      "Senior Deckhand",
			URL:        "https://harbor.example/careers/deckhand",
			JobType:    "Full-time",
		}, now)
		require.NoError(t, upsertErr)
		require.Equal(t, jobs.UpsertUpdated, outcome)
		return nil
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpsertUnchangedRefreshesLastSeen(t *testing.T) {
	t.Parallel()
	store, mock := newMockStore(t)
	now := time.Unix(1700000000, 0).UTC()

	existing := pgxmock.NewRows([]string{
		"id", "title", "url", "organization", "location", "state",
		"description", "job_type", "salary_info", "is_stale",
	}).AddRow(int64(42), "Deckhand", "", "", "", "", "", "", "", false)

	mock.ExpectBegin()
	mock.ExpectExec("SAVEPOINT upsert_job").WillReturnResult(pgxmock.NewResult("SAVEPOINT", 0))
	mock.ExpectQuery("SELECT id, title, url, organization").
		WithArgs("abc123").
		WillReturnRows(existing)
	mock.ExpectExec(`UPDATE jobs SET last_seen_at = \$1 WHERE id = \$2`).
		WithArgs(now, int64(42)).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec("RELEASE SAVEPOINT upsert_job").WillReturnResult(pgxmock.NewResult("RELEASE", 0))
	mock.ExpectCommit()

	err := store.RunInSourceTx(context.Background(), func(tx jobs.JobTx) error {
		outcome, upsertErr := tx.Upsert(context.Background(), 7,
			jobs.ScrapedJob{ExternalID: "abc123", Title: "Deckhand"}, now)
		require.NoError(t, upsertErr)
		require.Equal(t, jobs.UpsertUnchanged, outcome)
		return nil
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpsertFailureRollsBackToSavepoint(t *testing.T) {
	t.Parallel()
	store, mock := newMockStore(t)
	now := time.Unix(1700000000, 0).UTC()

	mock.ExpectBegin()
	mock.ExpectExec("SAVEPOINT upsert_job").WillReturnResult(pgxmock.NewResult("SAVEPOINT", 0))
	mock.ExpectQuery("SELECT id, title, url, organization").
		WithArgs("abc123").
		WillReturnError(pgx.ErrNoRows)
	mock.ExpectExec("INSERT INTO jobs").
		WithArgs(int64(7), "abc123", "Deckhand", "", "", "", "", "", "", "", now).
		WillReturnError(fmt.Errorf("duplicate key value violates unique constraint"))
	mock.ExpectExec("ROLLBACK TO SAVEPOINT upsert_job").WillReturnResult(pgxmock.NewResult("ROLLBACK", 0))
	mock.ExpectCommit()

	err := store.RunInSourceTx(context.Background(), func(tx jobs.JobTx) error {
		_, upsertErr := tx.Upsert(context.Background(), 7,
			jobs.ScrapedJob{ExternalID: "abc123", Title: "Deckhand"}, now)
		require.Error(t, upsertErr)
		// The caller records the error and keeps going; the source
		// transaction still commits.
		return nil
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSourceTxRollsBackOnError(t *testing.T) {
	t.Parallel()
	store, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectRollback()

	err := store.RunInSourceTx(context.Background(), func(jobs.JobTx) error {
		return fmt.Errorf("strategy blew up")
	})
	require.Error(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestStaleQueries(t *testing.T) {
	t.Parallel()
	store, mock := newMockStore(t)
	cutoff := time.Unix(1700000000, 0).UTC()
	now := cutoff.Add(24 * time.Hour)

	mock.ExpectExec(`UPDATE jobs SET is_stale = TRUE, stale_since = \$2 WHERE is_stale = FALSE AND last_seen_at < \$1`).
		WithArgs(cutoff, now).
		WillReturnResult(pgxmock.NewResult("UPDATE", 3))
	marked, err := store.MarkStale(context.Background(), cutoff, now)
	require.NoError(t, err)
	require.EqualValues(t, 3, marked)

	mock.ExpectExec(`DELETE FROM jobs WHERE is_stale = TRUE AND stale_since < \$1`).
		WithArgs(cutoff).
		WillReturnResult(pgxmock.NewResult("DELETE", 2))
	deleted, err := store.DeleteStale(context.Background(), cutoff)
	require.NoError(t, err)
	require.EqualValues(t, 2, deleted)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAppendRunLog(t *testing.T) {
	t.Parallel()
	store, mock := newMockStore(t)

	startedAt := time.Unix(1700000000, 0).UTC()
	sourceID := int64(7)
	entry := jobs.RunLogEntry{
		ID:          "0191d4a0-0000-7000-8000-000000000001",
		SourceID:    &sourceID,
		SourceName:  "Harbor Jobs",
		Trigger:     jobs.TriggerScheduled,
		StartedAt:   startedAt,
		CompletedAt: startedAt.Add(time.Minute),
		Success:     false,
		JobsFound:   12,
		JobsNew:     3,
		JobsUpdated: 2,
		Errors:      []string{"failed to upsert job abc123"},
	}

	mock.ExpectExec("INSERT INTO run_logs").
		WithArgs(entry.ID, entry.SourceID, entry.SourceName, "scheduled",
			entry.StartedAt, entry.CompletedAt, entry.Success,
			entry.JobsFound, entry.JobsNew, entry.JobsUpdated, entry.JobsRemoved,
			[]byte(`["failed to upsert job abc123"]`)).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, store.Append(context.Background(), entry))
	require.NoError(t, mock.ExpectationsWereMet())
}

func sourceRows() *pgxmock.Rows {
	return pgxmock.NewRows([]string{
		"id", "name", "base_url", "strategy", "custom_name", "active", "robots_blocked",
		"needs_configuration", "skip_robots_check", "listing_url", "selectors", "sitemap_url",
		"sitemap_url_pattern", "script_body", "organization", "default_location",
		"default_state", "render_mode", "max_pages", "last_scraped_at", "last_scrape_success",
	})
}

func TestListActiveScansSources(t *testing.T) {
	t.Parallel()
	store, mock := newMockStore(t)

	rows := sourceRows().AddRow(
		int64(1), "Harbor Jobs", "https://harbor.example", "selector", "",
		true, false, false, false, "https://harbor.example/careers",
		[]byte(`{"container":".job","title":".title","url":"a.apply"}`),
		"", "", "", "Harbor Jobs Inc", "Kodiak, AK", "AK", "browser", 5,
		nil, nil)

	mock.ExpectQuery("SELECT (.+) FROM sources WHERE active = TRUE ORDER BY id").
		WillReturnRows(rows)

	sources, err := store.ListActive(context.Background())
	require.NoError(t, err)
	require.Len(t, sources, 1)

	src := sources[0]
	require.Equal(t, jobs.StrategySelector, src.Strategy)
	require.Equal(t, jobs.RenderBrowser, src.RenderMode)
	require.Equal(t, ".job", src.Selectors.Container)
	require.Equal(t, "a.apply", src.Selectors.URL)
	require.Nil(t, src.LastScrapedAt)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRecordScrapeOutcome(t *testing.T) {
	t.Parallel()
	store, mock := newMockStore(t)
	at := time.Unix(1700000000, 0).UTC()

	mock.ExpectExec("UPDATE sources SET last_scraped_at").
		WithArgs(int64(7), at, true).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	require.NoError(t, store.RecordScrapeOutcome(context.Background(), 7, at, true))

	mock.ExpectExec("UPDATE sources SET last_scraped_at").
		WithArgs(int64(99), at, false).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	err := store.RecordScrapeOutcome(context.Background(), 99, at, false)
	require.Error(t, err)
	require.Contains(t, err.Error(), "source 99 not found")

	require.NoError(t, mock.ExpectationsWereMet())
}
