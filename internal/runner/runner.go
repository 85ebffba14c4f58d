// Package runner orchestrates one strategy run per source: dedup, upsert,
// run logging, and outcome accounting.
package runner

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/farreach/jobingest/internal/jobs"
	"github.com/farreach/jobingest/internal/metrics"
	"github.com/farreach/jobingest/internal/strategy"
)

// StrategyResolver maps a source's configured strategy kind to an
// implementation.
type StrategyResolver interface {
	ForSource(src jobs.SourceConfig) (strategy.Strategy, error)
}

// IDGenerator mints run-log entry ids.
type IDGenerator interface {
	NewID() (string, error)
}

// RobotsReader surfaces cached robots.txt text for diagnostics.
type RobotsReader interface {
	RobotsContent(rawURL string) string
}

// Config wires the runner's collaborators. Robots, Publisher, and Topic are
// optional.
type Config struct {
	Store      jobs.JobStore
	RunLogs    jobs.RunLogStore
	Sources    jobs.SourceStore
	Strategies StrategyResolver
	Robots     RobotsReader
	Publisher  jobs.Publisher
	Topic      string
	Clock      jobs.Clock
	IDs        IDGenerator
	Logger     *zap.Logger
}

// Runner executes sources sequentially. Each source commits its own
// transaction, and each job upserts inside its own savepoint, so one bad
// job or one bad source never takes down the rest of a run.
type Runner struct {
	cfg Config
}

// New builds a Runner.
func New(cfg Config) *Runner {
	metrics.Init()
	return &Runner{cfg: cfg}
}

// RunOne runs a single source and returns its result. Exactly one run log
// entry is appended regardless of outcome.
func (r *Runner) RunOne(ctx context.Context, src jobs.SourceConfig, trigger jobs.TriggerKind) jobs.RunResult {
	return r.runOne(ctx, src, trigger, make(map[string]struct{}))
}

// RunAll runs the given sources sequentially. Each source deduplicates its
// own scraped IDs; a job listed by two sources is simply re-upserted by the
// second one. When a publisher is configured, an aggregate summary is
// published at the end.
func (r *Runner) RunAll(ctx context.Context, sources []jobs.SourceConfig, trigger jobs.TriggerKind) []jobs.RunResult {
	summary := jobs.RunSummary{Trigger: trigger, StartedAt: r.cfg.Clock.Now()}

	results := make([]jobs.RunResult, 0, len(sources))
	for _, src := range sources {
		result := r.runOne(ctx, src, trigger, make(map[string]struct{}))
		results = append(results, result)
		summary.Accumulate(result)
	}
	summary.CompletedAt = r.cfg.Clock.Now()

	r.publishSummary(ctx, summary)
	return results
}

func (r *Runner) runOne(ctx context.Context, src jobs.SourceConfig, trigger jobs.TriggerKind, seen map[string]struct{}) jobs.RunResult {
	startedAt := r.cfg.Clock.Now()
	r.cfg.Logger.Info("Running source", zap.String("source", src.Name), zap.String("trigger", string(trigger)))

	if result, skipped := r.shortCircuit(src); skipped {
		return r.finish(ctx, src, trigger, startedAt, result)
	}

	strat, err := r.cfg.Strategies.ForSource(src)
	if err != nil {
		return r.finish(ctx, src, trigger, startedAt, jobs.RunResult{
			SourceName: src.Name,
			Errors:     []string{err.Error()},
		})
	}

	scraped, errs, panicked := r.runStrategy(ctx, strat, src)
	if panicked != "" {
		return r.finish(ctx, src, trigger, startedAt, jobs.RunResult{
			SourceName: src.Name,
			Errors:     []string{panicked},
		})
	}

	var jobsNew, jobsUpdated, jobsUnchanged int
	now := r.cfg.Clock.Now()
	txErr := r.cfg.Store.RunInSourceTx(ctx, func(tx jobs.JobTx) error {
		for _, job := range scraped {
			if _, dup := seen[job.ExternalID]; dup {
				continue
			}
			seen[job.ExternalID] = struct{}{}

			outcome, upsertErr := tx.Upsert(ctx, src.ID, job, now)
			if upsertErr != nil {
				// The savepoint rolled back; the id was never
				// persisted, so a later source may retry it.
				delete(seen, job.ExternalID)
				r.cfg.Logger.Error("Failed to upsert job",
					zap.String("source", src.Name),
					zap.String("external_id", job.ExternalID),
					zap.Error(upsertErr))
				errs = append(errs, fmt.Sprintf("failed to upsert job %s", job.ExternalID))
				metrics.ObserveJobUpsert(src.Name, "error")
				continue
			}
			switch outcome {
			case jobs.UpsertInserted:
				jobsNew++
				metrics.ObserveJobUpsert(src.Name, "inserted")
			case jobs.UpsertUpdated:
				jobsUpdated++
				metrics.ObserveJobUpsert(src.Name, "updated")
			default:
				jobsUnchanged++
				metrics.ObserveJobUpsert(src.Name, "unchanged")
			}
		}
		return nil
	})
	if txErr != nil {
		errs = append(errs, fmt.Sprintf("source transaction failed: %v", txErr))
	}

	return r.finish(ctx, src, trigger, startedAt, jobs.RunResult{
		SourceName:  src.Name,
		JobsFound:   jobsNew + jobsUpdated + jobsUnchanged,
		JobsNew:     jobsNew,
		JobsUpdated: jobsUpdated,
		Errors:      errs,
	})
}

// shortCircuit ends a run before any fetch for sources flagged as blocked
// or incomplete.
func (r *Runner) shortCircuit(src jobs.SourceConfig) (jobs.RunResult, bool) {
	switch {
	case src.NeedsConfiguration:
		return jobs.RunResult{
			SourceName: src.Name,
			Errors:     []string{fmt.Sprintf("source %s needs configuration before it can be scraped", src.Name)},
		}, true
	case src.RobotsBlocked:
		msg := fmt.Sprintf("source %s is blocked by robots.txt", src.Name)
		if r.cfg.Robots != nil && src.BaseURL != "" {
			if excerpt := r.cfg.Robots.RobotsContent(src.BaseURL); excerpt != "" {
				msg = fmt.Sprintf("%s; robots.txt excerpt: %s", msg, excerpt)
			}
		}
		return jobs.RunResult{SourceName: src.Name, Errors: []string{msg}}, true
	}
	return jobs.RunResult{}, false
}

// runStrategy isolates a strategy's execution so a panic becomes a single
// error on this source instead of taking down the whole batch.
func (r *Runner) runStrategy(ctx context.Context, strat strategy.Strategy, src jobs.SourceConfig) (scraped []jobs.ScrapedJob, errs []string, panicked string) {
	defer func() {
		if cause := recover(); cause != nil {
			r.cfg.Logger.Error("Strategy panicked",
				zap.String("source", src.Name), zap.Any("cause", cause))
			panicked = fmt.Sprintf("strategy failed: %v", cause)
		}
	}()
	scraped, errs = strat.Run(ctx, src)
	return scraped, errs, ""
}

// finish records the outcome on the source row, appends the run log, emits
// metrics, and fills in the duration. Run logging happens outside the
// source transaction so the entry survives a rollback.
func (r *Runner) finish(ctx context.Context, src jobs.SourceConfig, trigger jobs.TriggerKind, startedAt time.Time, result jobs.RunResult) jobs.RunResult {
	completedAt := r.cfg.Clock.Now()
	result.Duration = completedAt.Sub(startedAt)

	success := !result.Failed()
	if src.ID != 0 {
		if err := r.cfg.Sources.RecordScrapeOutcome(ctx, src.ID, completedAt, success); err != nil {
			r.cfg.Logger.Warn("Failed to record scrape outcome",
				zap.String("source", src.Name), zap.Error(err))
		}
	}

	entry := jobs.RunLogEntry{
		SourceName:  src.Name,
		Trigger:     trigger,
		StartedAt:   startedAt,
		CompletedAt: completedAt,
		Success:     success,
		JobsFound:   result.JobsFound,
		JobsNew:     result.JobsNew,
		JobsUpdated: result.JobsUpdated,
		Errors:      result.Errors,
	}
	if src.ID != 0 {
		sourceID := src.ID
		entry.SourceID = &sourceID
	}
	if id, err := r.cfg.IDs.NewID(); err == nil {
		entry.ID = id
	} else {
		r.cfg.Logger.Warn("Failed to mint run log id", zap.Error(err))
	}
	if err := r.cfg.RunLogs.Append(ctx, entry); err != nil {
		r.cfg.Logger.Error("Failed to append run log",
			zap.String("source", src.Name), zap.Error(err))
	}

	status := "ok"
	if !success {
		status = "error"
	}
	metrics.ObserveRun(src.Name, status, result.Duration)

	r.cfg.Logger.Info("Scrape complete",
		zap.String("source", src.Name),
		zap.Int("jobs_found", result.JobsFound),
		zap.Int("jobs_new", result.JobsNew),
		zap.Int("jobs_updated", result.JobsUpdated),
		zap.Int("errors", len(result.Errors)),
		zap.Duration("duration", result.Duration))
	return result
}

func (r *Runner) publishSummary(ctx context.Context, summary jobs.RunSummary) {
	if r.cfg.Publisher == nil || r.cfg.Topic == "" {
		return
	}
	if _, err := r.cfg.Publisher.Publish(ctx, r.cfg.Topic, summary); err != nil {
		r.cfg.Logger.Warn("Failed to publish run summary", zap.Error(err))
	}
}
