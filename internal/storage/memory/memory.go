// Package memory provides in-memory store implementations for tests and
// local development.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/farreach/jobingest/internal/jobs"
)

// Store keeps jobs, run logs, and sources in process memory. It implements
// jobs.JobStore, jobs.RunLogStore, and jobs.SourceStore with the same
// semantics as the postgres store, minus durability.
type Store struct {
	mu         sync.Mutex
	nextJobID  int64
	byExternal map[string]*jobs.JobRecord
	runLogs    []jobs.RunLogEntry
	sources    map[int64]jobs.SourceConfig
}

// NewStore creates an empty Store.
func NewStore() *Store {
	return &Store{
		byExternal: make(map[string]*jobs.JobRecord),
		sources:    make(map[int64]jobs.SourceConfig),
	}
}

type memTx struct {
	store *Store
}

// RunInSourceTx implements jobs.JobStore. Each Upsert applies atomically,
// so per-job savepoint semantics hold trivially; there is nothing to roll
// back at commit granularity in memory.
func (s *Store) RunInSourceTx(_ context.Context, fn func(tx jobs.JobTx) error) error {
	return fn(&memTx{store: s})
}

func (t *memTx) Upsert(_ context.Context, sourceID int64, job jobs.ScrapedJob, now time.Time) (jobs.UpsertOutcome, error) {
	s := t.store
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.byExternal[job.ExternalID]
	if !ok {
		s.nextJobID++
		s.byExternal[job.ExternalID] = &jobs.JobRecord{
			ID:           s.nextJobID,
			SourceID:     sourceID,
			ExternalID:   job.ExternalID,
			Title:        job.Title,
			URL:          job.URL,
			Organization: job.Organization,
			Location:     job.Location,
			State:        job.State,
			Description:  job.Description,
			JobType:      job.JobType,
			SalaryInfo:   job.SalaryInfo,
			FirstSeenAt:  now,
			LastSeenAt:   now,
		}
		return jobs.UpsertInserted, nil
	}

	changed := false
	apply := func(target *string, value string) {
		if value != "" && *target != value {
			*target = value
			changed = true
		}
	}
	apply(&existing.Title, job.Title)
	apply(&existing.URL, job.URL)
	apply(&existing.Organization, job.Organization)
	apply(&existing.Location, job.Location)
	apply(&existing.State, job.State)
	apply(&existing.Description, job.Description)
	apply(&existing.JobType, job.JobType)
	apply(&existing.SalaryInfo, job.SalaryInfo)

	existing.LastSeenAt = now
	if existing.IsStale {
		existing.IsStale = false
		existing.StaleSince = nil
		changed = true
	}

	if changed {
		return jobs.UpsertUpdated, nil
	}
	return jobs.UpsertUnchanged, nil
}

// GetByExternalID implements jobs.JobStore.
func (s *Store) GetByExternalID(_ context.Context, externalID string) (jobs.JobRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	record, ok := s.byExternal[externalID]
	if !ok {
		return jobs.JobRecord{}, fmt.Errorf("job %s not found", externalID)
	}
	return *record, nil
}

// MarkStale implements jobs.JobStore.
func (s *Store) MarkStale(_ context.Context, cutoff, now time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var marked int64
	for _, record := range s.byExternal {
		if !record.IsStale && record.LastSeenAt.Before(cutoff) {
			record.IsStale = true
			staleSince := now
			record.StaleSince = &staleSince
			marked++
		}
	}
	return marked, nil
}

// DeleteStale implements jobs.JobStore.
func (s *Store) DeleteStale(_ context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var deleted int64
	for externalID, record := range s.byExternal {
		if record.IsStale && record.StaleSince != nil && record.StaleSince.Before(cutoff) {
			delete(s.byExternal, externalID)
			deleted++
		}
	}
	return deleted, nil
}

// CountActive implements jobs.JobStore.
func (s *Store) CountActive(context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var count int64
	for _, record := range s.byExternal {
		if !record.IsStale {
			count++
		}
	}
	return count, nil
}

// CountStale implements jobs.JobStore.
func (s *Store) CountStale(context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var count int64
	for _, record := range s.byExternal {
		if record.IsStale {
			count++
		}
	}
	return count, nil
}

// Append implements jobs.RunLogStore.
func (s *Store) Append(_ context.Context, entry jobs.RunLogEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.runLogs = append(s.runLogs, entry)
	return nil
}

// RunLogs returns a copy of the appended entries, oldest first.
func (s *Store) RunLogs() []jobs.RunLogEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]jobs.RunLogEntry, len(s.runLogs))
	copy(out, s.runLogs)
	return out
}

// AddSource registers a source config, assigning an id when unset.
func (s *Store) AddSource(src jobs.SourceConfig) jobs.SourceConfig {
	s.mu.Lock()
	defer s.mu.Unlock()
	if src.ID == 0 {
		src.ID = int64(len(s.sources) + 1)
	}
	s.sources[src.ID] = src
	return src
}

// ListActive implements jobs.SourceStore.
func (s *Store) ListActive(context.Context) ([]jobs.SourceConfig, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var active []jobs.SourceConfig
	for _, src := range s.sources {
		if src.Active {
			active = append(active, src)
		}
	}
	sort.Slice(active, func(i, j int) bool { return active[i].ID < active[j].ID })
	return active, nil
}

// GetByName implements jobs.SourceStore.
func (s *Store) GetByName(_ context.Context, name string) (jobs.SourceConfig, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, src := range s.sources {
		if src.Name == name {
			return src, nil
		}
	}
	return jobs.SourceConfig{}, fmt.Errorf("source %q not found", name)
}

// RecordScrapeOutcome implements jobs.SourceStore.
func (s *Store) RecordScrapeOutcome(_ context.Context, sourceID int64, at time.Time, success bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	src, ok := s.sources[sourceID]
	if !ok {
		return fmt.Errorf("source %d not found", sourceID)
	}
	src.LastScrapedAt = &at
	src.LastScrapeSuccess = &success
	s.sources[sourceID] = src
	return nil
}
