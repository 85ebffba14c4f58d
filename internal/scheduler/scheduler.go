// Package scheduler drives recurring ingest runs and staleness sweeps on a
// civil-time cron cadence.
package scheduler

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/farreach/jobingest/internal/jobs"
	"github.com/farreach/jobingest/internal/sweeper"
)

// Cron entries are evaluated in the configured timezone, so the noon run
// lands at local noon year-round, across DST shifts.
var (
	ingestSpecs = []string{"0 0 * * *", "0 12 * * *"}
	sweepSpecs  = []string{"30 0 * * *", "30 12 * * *"}
)

// Ingestor runs a batch of sources.
type Ingestor interface {
	RunAll(ctx context.Context, sources []jobs.SourceConfig, trigger jobs.TriggerKind) []jobs.RunResult
}

// Sweeper ages out stale records.
type Sweeper interface {
	Sweep(ctx context.Context) (sweeper.Result, error)
}

// Config wires the scheduler's collaborators.
type Config struct {
	Timezone string
	Sources  jobs.SourceStore
	Runner   Ingestor
	Sweeper  Sweeper
	Logger   *zap.Logger
}

// Scheduler triggers ingest-then-sweep at 00:00 and 12:00 local time, and a
// standalone sweep at 00:30 and 12:30. A scheduled trigger is skipped while
// a previous run is still in flight.
type Scheduler struct {
	cfg     Config
	loc     *time.Location
	cron    *cron.Cron
	running atomic.Bool
}

// New builds a Scheduler in the configured IANA timezone.
func New(cfg Config) (*Scheduler, error) {
	loc, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		return nil, fmt.Errorf("load timezone %q: %w", cfg.Timezone, err)
	}
	return &Scheduler{
		cfg:  cfg,
		loc:  loc,
		cron: cron.New(cron.WithLocation(loc)),
	}, nil
}

// Start registers the cron entries and starts the trigger loop.
func (s *Scheduler) Start(ctx context.Context) error {
	for _, spec := range ingestSpecs {
		if _, err := s.cron.AddFunc(spec, func() { s.runIngest(ctx) }); err != nil {
			return fmt.Errorf("register ingest entry %q: %w", spec, err)
		}
	}
	for _, spec := range sweepSpecs {
		if _, err := s.cron.AddFunc(spec, func() { s.runSweep(ctx) }); err != nil {
			return fmt.Errorf("register sweep entry %q: %w", spec, err)
		}
	}
	s.cron.Start()
	s.cfg.Logger.Info("Scheduler started",
		zap.String("timezone", s.loc.String()),
		zap.Int("entries", len(s.cron.Entries())))
	return nil
}

// Stop halts future triggers and waits for an in-flight run to finish, up
// to the context's deadline. The run itself is never interrupted.
func (s *Scheduler) Stop(ctx context.Context) error {
	drained := s.cron.Stop()
	select {
	case <-drained.Done():
		s.cfg.Logger.Info("Scheduler stopped")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("scheduler shutdown: %w", ctx.Err())
	}
}

func (s *Scheduler) runIngest(ctx context.Context) {
	if !s.running.CompareAndSwap(false, true) {
		s.cfg.Logger.Warn("Skipping scheduled ingest; previous run still in flight")
		return
	}
	defer s.running.Store(false)

	sources, err := s.cfg.Sources.ListActive(ctx)
	if err != nil {
		s.cfg.Logger.Error("Failed to list active sources", zap.Error(err))
		return
	}
	if len(sources) == 0 {
		s.cfg.Logger.Info("No active sources to ingest")
		return
	}

	s.cfg.Logger.Info("Scheduled ingest starting", zap.Int("sources", len(sources)))
	results := s.cfg.Runner.RunAll(ctx, sources, jobs.TriggerScheduled)

	var failures int
	for _, result := range results {
		if result.Failed() {
			failures++
		}
	}
	s.cfg.Logger.Info("Scheduled ingest complete",
		zap.Int("sources", len(results)), zap.Int("failures", failures))

	s.sweep(ctx)
}

func (s *Scheduler) runSweep(ctx context.Context) {
	if !s.running.CompareAndSwap(false, true) {
		s.cfg.Logger.Warn("Skipping scheduled sweep; a run is still in flight")
		return
	}
	defer s.running.Store(false)
	s.sweep(ctx)
}

func (s *Scheduler) sweep(ctx context.Context) {
	if _, err := s.cfg.Sweeper.Sweep(ctx); err != nil {
		s.cfg.Logger.Error("Sweep failed", zap.Error(err))
	}
}
