// Package sweeper ages out job records that recent runs stopped
// re-confirming.
package sweeper

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/farreach/jobingest/internal/jobs"
	"github.com/farreach/jobingest/internal/metrics"
)

// Default lifecycle windows.
const (
	DefaultStaleAfter  = 24 * time.Hour
	DefaultDeleteAfter = 7 * 24 * time.Hour
)

// Result reports what one sweep did.
type Result struct {
	Marked  int64
	Deleted int64
}

// Sweeper marks records unseen for StaleAfter as stale and deletes records
// that have stayed stale for DeleteAfter. Both passes are idempotent.
type Sweeper struct {
	store       jobs.JobStore
	clock       jobs.Clock
	staleAfter  time.Duration
	deleteAfter time.Duration
	logger      *zap.Logger
}

// New builds a Sweeper. Non-positive windows fall back to the defaults.
func New(store jobs.JobStore, clock jobs.Clock, staleAfter, deleteAfter time.Duration, logger *zap.Logger) *Sweeper {
	metrics.Init()
	if staleAfter <= 0 {
		staleAfter = DefaultStaleAfter
	}
	if deleteAfter <= 0 {
		deleteAfter = DefaultDeleteAfter
	}
	return &Sweeper{
		store:       store,
		clock:       clock,
		staleAfter:  staleAfter,
		deleteAfter: deleteAfter,
		logger:      logger,
	}
}

// Sweep runs the mark pass then the delete pass. A record must age through
// the stale window and then stay stale through the whole delete window
// before it is removed; marking and deletion never happen in one sweep.
func (s *Sweeper) Sweep(ctx context.Context) (Result, error) {
	now := s.clock.Now()

	marked, err := s.store.MarkStale(ctx, now.Add(-s.staleAfter), now)
	if err != nil {
		return Result{}, fmt.Errorf("mark stale: %w", err)
	}

	deleted, err := s.store.DeleteStale(ctx, now.Add(-s.deleteAfter))
	if err != nil {
		metrics.ObserveSweep(marked, 0)
		return Result{Marked: marked}, fmt.Errorf("delete stale: %w", err)
	}

	metrics.ObserveSweep(marked, deleted)
	s.logger.Info("Sweep complete",
		zap.Int64("marked_stale", marked),
		zap.Int64("deleted", deleted))
	return Result{Marked: marked, Deleted: deleted}, nil
}
