// Package jobs defines the core types and store contracts for the ingest engine.
package jobs

import (
	"time"
)

// StrategyKind selects the extraction algorithm for a source.
type StrategyKind string

// Strategy kinds persisted in the sources table.
const (
	StrategySelector StrategyKind = "selector"
	StrategySitemap  StrategyKind = "sitemap"
	StrategyWorkday  StrategyKind = "workday"
	StrategyUltiPro  StrategyKind = "ultipro"
	StrategyADP      StrategyKind = "adp"
	StrategyScript   StrategyKind = "script"
	StrategyCustom   StrategyKind = "custom"
)

// TriggerKind records what initiated a run.
type TriggerKind string

// Trigger kinds persisted in run logs.
const (
	TriggerManual    TriggerKind = "manual"
	TriggerScheduled TriggerKind = "scheduled"
)

// RenderMode selects plain HTTP or browser-rendered fetching for a source.
type RenderMode string

// Render modes.
const (
	RenderPlain   RenderMode = "plain"
	RenderBrowser RenderMode = "browser"
)

// SelectorConfig holds the CSS selectors driving the selector strategy.
// Container, Title, and URL are required; the rest are optional.
type SelectorConfig struct {
	Container    string `json:"container,omitempty" mapstructure:"container"`
	Title        string `json:"title,omitempty" mapstructure:"title"`
	URL          string `json:"url,omitempty" mapstructure:"url"`
	Organization string `json:"organization,omitempty" mapstructure:"organization"`
	Location     string `json:"location,omitempty" mapstructure:"location"`
	JobType      string `json:"job_type,omitempty" mapstructure:"job_type"`
	Salary       string `json:"salary,omitempty" mapstructure:"salary"`
	Description  string `json:"description,omitempty" mapstructure:"description"`
	NextPage     string `json:"next_page,omitempty" mapstructure:"next_page"`
	URLAttribute string `json:"url_attribute,omitempty" mapstructure:"url_attribute"`
}

// SourceConfig is one configured external site/API. It is owned by
// configuration management and read-only to the engine at run time.
type SourceConfig struct {
	ID       int64
	Name     string
	BaseURL  string
	Strategy StrategyKind
	// CustomName resolves a compiled-in custom strategy when Strategy is
	// StrategyCustom.
	CustomName string

	Active             bool
	RobotsBlocked      bool
	NeedsConfiguration bool
	SkipRobotsCheck    bool

	ListingURL string
	Selectors  SelectorConfig

	SitemapURL        string
	SitemapURLPattern string

	// ScriptBody carries an externally generated strategy body for
	// StrategyScript sources.
	ScriptBody string

	Organization    string
	DefaultLocation string
	DefaultState    string

	RenderMode RenderMode
	MaxPages   int

	LastScrapedAt     *time.Time
	LastScrapeSuccess *bool
}

// ScrapedJob is the normalized record a strategy produces for one listing.
// Strategies never mutate a ScrapedJob after creating it; the runner only
// compares it against the stored record during upsert.
type ScrapedJob struct {
	ExternalID   string
	Title        string
	URL          string
	Organization string
	Location     string
	State        string
	Description  string
	JobType      string
	SalaryInfo   string
}

// JobRecord is the persisted form of a job. external_id is globally unique.
type JobRecord struct {
	ID           int64
	SourceID     int64
	ExternalID   string
	Title        string
	URL          string
	Organization string
	Location     string
	State        string
	Description  string
	JobType      string
	SalaryInfo   string
	FirstSeenAt  time.Time
	LastSeenAt   time.Time
	IsStale      bool
	StaleSince   *time.Time
}

// RunResult is the per-source outcome of one orchestrator run.
type RunResult struct {
	SourceName  string
	JobsFound   int
	JobsNew     int
	JobsUpdated int
	Errors      []string
	Duration    time.Duration
}

// Failed reports whether the run produced any errors.
func (r RunResult) Failed() bool {
	return len(r.Errors) > 0
}

// RunLogEntry is the append-only record of one run. SourceName survives
// deletion of the source config (the foreign key is nulled, not cascaded).
type RunLogEntry struct {
	ID          string
	SourceID    *int64
	SourceName  string
	Trigger     TriggerKind
	StartedAt   time.Time
	CompletedAt time.Time
	Success     bool
	JobsFound   int
	JobsNew     int
	JobsUpdated int
	JobsRemoved int
	Errors      []string
}

// RunSummary aggregates RunResults across one scheduled or manual batch.
type RunSummary struct {
	Trigger     TriggerKind
	StartedAt   time.Time
	CompletedAt time.Time
	Sources     int
	Failures    int
	JobsFound   int
	JobsNew     int
	JobsUpdated int
	StaleMarked int64
	Deleted     int64
}

// Accumulate folds one source result into the summary.
func (s *RunSummary) Accumulate(r RunResult) {
	s.Sources++
	if r.Failed() {
		s.Failures++
	}
	s.JobsFound += r.JobsFound
	s.JobsNew += r.JobsNew
	s.JobsUpdated += r.JobsUpdated
}
