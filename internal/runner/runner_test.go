package runner

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/farreach/jobingest/internal/jobs"
	"github.com/farreach/jobingest/internal/storage/memory"
	"github.com/farreach/jobingest/internal/strategy"
)

type stubStrategy struct {
	found []jobs.ScrapedJob
	errs  []string
	panic bool
}

func (s *stubStrategy) Run(context.Context, jobs.SourceConfig) ([]jobs.ScrapedJob, []string) {
	if s.panic {
		panic("selector index out of range")
	}
	return s.found, s.errs
}

type stubResolver struct {
	byName map[string]strategy.Strategy
	calls  int
}

func (r *stubResolver) ForSource(src jobs.SourceConfig) (strategy.Strategy, error) {
	r.calls++
	strat, ok := r.byName[src.Name]
	if !ok {
		return nil, fmt.Errorf("unknown strategy kind %q for %s", src.Strategy, src.Name)
	}
	return strat, nil
}

type stepClock struct {
	now time.Time
}

func (c *stepClock) Now() time.Time {
	c.now = c.now.Add(time.Second)
	return c.now
}

type stubIDs struct{ n int }

func (g *stubIDs) NewID() (string, error) {
	g.n++
	return fmt.Sprintf("run-%d", g.n), nil
}

type stubPublisher struct {
	topics   []string
	payloads []any
}

func (p *stubPublisher) Publish(_ context.Context, topic string, payload any) (string, error) {
	p.topics = append(p.topics, topic)
	p.payloads = append(p.payloads, payload)
	return "msg-1", nil
}

type stubRobots struct{ content string }

func (r stubRobots) RobotsContent(string) string { return r.content }

// flakyStore fails upserts for chosen external ids, standing in for
// store-level conflicts.
type flakyStore struct {
	*memory.Store
	failIDs map[string]bool
}

func (f *flakyStore) RunInSourceTx(ctx context.Context, fn func(tx jobs.JobTx) error) error {
	return f.Store.RunInSourceTx(ctx, func(tx jobs.JobTx) error {
		return fn(&flakyTx{inner: tx, store: f})
	})
}

type flakyTx struct {
	inner jobs.JobTx
	store *flakyStore
}

func (t *flakyTx) Upsert(ctx context.Context, sourceID int64, job jobs.ScrapedJob, now time.Time) (jobs.UpsertOutcome, error) {
	if t.store.failIDs[job.ExternalID] {
		delete(t.store.failIDs, job.ExternalID)
		return 0, fmt.Errorf("duplicate key value violates unique constraint")
	}
	return t.inner.Upsert(ctx, sourceID, job, now)
}

type fixture struct {
	runner    *Runner
	store     *memory.Store
	resolver  *stubResolver
	publisher *stubPublisher
}

func newFixture(t *testing.T, jobStore jobs.JobStore, store *memory.Store, resolver *stubResolver) *fixture {
	t.Helper()
	publisher := &stubPublisher{}
	return &fixture{
		runner: New(Config{
			Store:      jobStore,
			RunLogs:    store,
			Sources:    store,
			Strategies: resolver,
			Robots:     stubRobots{content: "User-agent: *\nDisallow: /"},
			Publisher:  publisher,
			Topic:      "ingest-runs",
			Clock:      &stepClock{now: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)},
			IDs:        &stubIDs{},
			Logger:     zap.NewNop(),
		}),
		store:     store,
		resolver:  resolver,
		publisher: publisher,
	}
}

func sampleJobs(ids ...string) []jobs.ScrapedJob {
	out := make([]jobs.ScrapedJob, 0, len(ids))
	for _, id := range ids {
		out = append(out, jobs.ScrapedJob{ExternalID: id, Title: "Job " + id})
	}
	return out
}

func TestRunOneUpsertsAndLogs(t *testing.T) {
	store := memory.NewStore()
	src := store.AddSource(jobs.SourceConfig{Name: "Harbor Jobs", Active: true, Strategy: jobs.StrategySelector})
	resolver := &stubResolver{byName: map[string]strategy.Strategy{
		"Harbor Jobs": &stubStrategy{found: sampleJobs("a", "b", "c")},
	}}
	f := newFixture(t, store, store, resolver)

	result := f.runner.RunOne(context.Background(), src, jobs.TriggerManual)
	require.False(t, result.Failed())
	require.Equal(t, 3, result.JobsFound)
	require.Equal(t, 3, result.JobsNew)
	require.Equal(t, 0, result.JobsUpdated)
	require.Greater(t, result.Duration, time.Duration(0))

	logs := f.store.RunLogs()
	require.Len(t, logs, 1)
	entry := logs[0]
	require.Equal(t, "run-1", entry.ID)
	require.Equal(t, "Harbor Jobs", entry.SourceName)
	require.NotNil(t, entry.SourceID)
	require.Equal(t, src.ID, *entry.SourceID)
	require.Equal(t, jobs.TriggerManual, entry.Trigger)
	require.True(t, entry.Success)
	require.Equal(t, 3, entry.JobsFound)

	updated, err := f.store.GetByName(context.Background(), "Harbor Jobs")
	require.NoError(t, err)
	require.NotNil(t, updated.LastScrapeSuccess)
	require.True(t, *updated.LastScrapeSuccess)

	// A second identical run touches nothing but last_seen_at.
	result = f.runner.RunOne(context.Background(), src, jobs.TriggerManual)
	require.Equal(t, 3, result.JobsFound)
	require.Equal(t, 0, result.JobsNew)
	require.Equal(t, 0, result.JobsUpdated)
}

func TestRunAllScopesDedupPerSource(t *testing.T) {
	store := memory.NewStore()
	first := store.AddSource(jobs.SourceConfig{Name: "Harbor Jobs", Active: true})
	second := store.AddSource(jobs.SourceConfig{Name: "Mirror Board", Active: true})
	resolver := &stubResolver{byName: map[string]strategy.Strategy{
		"Harbor Jobs":  &stubStrategy{found: sampleJobs("shared", "dup", "dup", "only-first")},
		"Mirror Board": &stubStrategy{found: sampleJobs("shared", "only-second")},
	}}
	f := newFixture(t, store, store, resolver)

	results := f.runner.RunAll(context.Background(), []jobs.SourceConfig{first, second}, jobs.TriggerScheduled)
	require.Len(t, results, 2)
	require.Equal(t, 3, results[0].JobsFound, "a repeated id within one source is dropped silently")
	require.Equal(t, 3, results[0].JobsNew)
	require.Equal(t, 2, results[1].JobsFound, "another source's id is re-upserted, not dropped")
	require.Equal(t, 1, results[1].JobsNew)
	require.Empty(t, results[1].Errors)

	record, err := store.GetByExternalID(context.Background(), "shared")
	require.NoError(t, err)
	require.Equal(t, first.ID, record.SourceID, "re-sighting leaves the original owner in place")
}

func TestFailedUpsertIsIsolatedAndRetriable(t *testing.T) {
	store := memory.NewStore()
	src := store.AddSource(jobs.SourceConfig{Name: "Harbor Jobs", Active: true})
	resolver := &stubResolver{byName: map[string]strategy.Strategy{
		"Harbor Jobs": &stubStrategy{found: sampleJobs("a", "conflicted", "c", "conflicted")},
	}}
	flaky := &flakyStore{Store: store, failIDs: map[string]bool{"conflicted": true}}
	f := newFixture(t, flaky, store, resolver)

	result := f.runner.RunOne(context.Background(), src, jobs.TriggerManual)

	require.Equal(t, 2+1, result.JobsNew, "the failed id is released, so its later sighting lands")
	require.Len(t, result.Errors, 1)
	require.Contains(t, result.Errors[0], "failed to upsert job conflicted")

	record, err := store.GetByExternalID(context.Background(), "conflicted")
	require.NoError(t, err)
	require.Equal(t, src.ID, record.SourceID)
}

func TestStrategyPanicIsContained(t *testing.T) {
	store := memory.NewStore()
	bad := store.AddSource(jobs.SourceConfig{Name: "Panicky", Active: true})
	good := store.AddSource(jobs.SourceConfig{Name: "Harbor Jobs", Active: true})
	resolver := &stubResolver{byName: map[string]strategy.Strategy{
		"Panicky":     &stubStrategy{panic: true},
		"Harbor Jobs": &stubStrategy{found: sampleJobs("a")},
	}}
	f := newFixture(t, store, store, resolver)

	results := f.runner.RunAll(context.Background(), []jobs.SourceConfig{bad, good}, jobs.TriggerScheduled)

	require.True(t, results[0].Failed())
	require.Len(t, results[0].Errors, 1)
	require.Contains(t, results[0].Errors[0], "strategy failed")
	require.Equal(t, 0, results[0].JobsFound)

	require.False(t, results[1].Failed(), "a panicking source does not stop the batch")
	require.Equal(t, 1, results[1].JobsNew)

	logs := f.store.RunLogs()
	require.Len(t, logs, 2, "the failed run still gets its log entry")
	require.False(t, logs[0].Success)
}

func TestShortCircuitSources(t *testing.T) {
	store := memory.NewStore()
	blocked := store.AddSource(jobs.SourceConfig{
		Name: "Walled Garden", Active: true, RobotsBlocked: true,
		BaseURL: "https://walled.example",
	})
	unconfigured := store.AddSource(jobs.SourceConfig{
		Name: "Half Built", Active: true, NeedsConfiguration: true,
	})
	resolver := &stubResolver{byName: map[string]strategy.Strategy{}}
	f := newFixture(t, store, store, resolver)

	result := f.runner.RunOne(context.Background(), blocked, jobs.TriggerManual)
	require.Len(t, result.Errors, 1)
	require.Contains(t, result.Errors[0], "blocked by robots.txt")
	require.Contains(t, result.Errors[0], "Disallow: /", "the cached robots text is attached for diagnosis")

	result = f.runner.RunOne(context.Background(), unconfigured, jobs.TriggerManual)
	require.Len(t, result.Errors, 1)
	require.Contains(t, result.Errors[0], "needs configuration")

	require.Zero(t, resolver.calls, "short-circuited sources never resolve a strategy")
	require.Len(t, f.store.RunLogs(), 2)
}

func TestUnknownStrategyKindIsConfigError(t *testing.T) {
	store := memory.NewStore()
	src := store.AddSource(jobs.SourceConfig{Name: "Mystery", Active: true, Strategy: "telepathy"})
	resolver := &stubResolver{byName: map[string]strategy.Strategy{}}
	f := newFixture(t, store, store, resolver)

	result := f.runner.RunOne(context.Background(), src, jobs.TriggerManual)
	require.Len(t, result.Errors, 1)
	require.Contains(t, result.Errors[0], `unknown strategy kind "telepathy"`)
	require.Len(t, f.store.RunLogs(), 1)
	require.False(t, f.store.RunLogs()[0].Success)
}

func TestRunAllPublishesSummary(t *testing.T) {
	store := memory.NewStore()
	src := store.AddSource(jobs.SourceConfig{Name: "Harbor Jobs", Active: true})
	resolver := &stubResolver{byName: map[string]strategy.Strategy{
		"Harbor Jobs": &stubStrategy{found: sampleJobs("a", "b")},
	}}
	f := newFixture(t, store, store, resolver)

	f.runner.RunAll(context.Background(), []jobs.SourceConfig{src}, jobs.TriggerScheduled)

	require.Equal(t, []string{"ingest-runs"}, f.publisher.topics)
	require.Len(t, f.publisher.payloads, 1)
	summary, ok := f.publisher.payloads[0].(jobs.RunSummary)
	require.True(t, ok)
	require.Equal(t, jobs.TriggerScheduled, summary.Trigger)
	require.Equal(t, 1, summary.Sources)
	require.Equal(t, 0, summary.Failures)
	require.Equal(t, 2, summary.JobsNew)
}
