package jobs

import (
	"context"
	"io"
	"time"
)

// UpsertOutcome classifies what an upsert did to the stored record.
type UpsertOutcome int

// Upsert outcomes.
const (
	UpsertInserted UpsertOutcome = iota
	UpsertUpdated
	UpsertUnchanged
)

// JobTx is the per-source transaction scope. Each Upsert runs inside its
// own savepoint so a single job's failure rolls back only that job.
type JobTx interface {
	Upsert(ctx context.Context, sourceID int64, job ScrapedJob, now time.Time) (UpsertOutcome, error)
}

// JobStore persists job records.
type JobStore interface {
	// RunInSourceTx opens one transaction for a source's run, invokes fn,
	// and commits on nil error. Other sources' transactions are unaffected.
	RunInSourceTx(ctx context.Context, fn func(tx JobTx) error) error

	GetByExternalID(ctx context.Context, externalID string) (JobRecord, error)

	// MarkStale flags non-stale records whose last_seen_at is before cutoff,
	// stamping now as the moment they went stale.
	MarkStale(ctx context.Context, cutoff, now time.Time) (int64, error)
	// DeleteStale removes records that went stale before cutoff. A record
	// marked in the current sweep never qualifies.
	DeleteStale(ctx context.Context, cutoff time.Time) (int64, error)

	CountActive(ctx context.Context) (int64, error)
	CountStale(ctx context.Context) (int64, error)
}

// RunLogStore appends run log entries. Entries are never mutated.
type RunLogStore interface {
	Append(ctx context.Context, entry RunLogEntry) error
}

// SourceStore reads source configurations.
type SourceStore interface {
	ListActive(ctx context.Context) ([]SourceConfig, error)
	GetByName(ctx context.Context, name string) (SourceConfig, error)
	// RecordScrapeOutcome updates last_scraped_at/last_scrape_success.
	RecordScrapeOutcome(ctx context.Context, sourceID int64, at time.Time, success bool) error
}

// BlobStore writes raw page snapshots and returns a URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, r io.Reader) (string, error)
}

// Publisher pushes run summaries to downstream consumers.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Clock returns the current time (injectable for tests).
type Clock interface {
	Now() time.Time
}
