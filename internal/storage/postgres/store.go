// Package postgres provides Postgres-backed persistence implementations.
package postgres

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/farreach/jobingest/internal/jobs"
)

//go:embed schema.sql
var schemaSQL string

// Config controls the Postgres connection pool.
type Config struct {
	DSN             string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

// Pool is the subset of pgxpool.Pool the store uses.
type Pool interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Close()
}

// Store implements jobs.JobStore, jobs.RunLogStore, and jobs.SourceStore on
// Postgres.
type Store struct {
	pool Pool
}

// NewStore creates a Store using the provided config.
func NewStore(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("db.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &Store{pool: pool}, nil
}

// NewStoreWithPool constructs a store from an existing pool (primarily for
// testing).
func NewStoreWithPool(pool Pool) (*Store, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &Store{pool: pool}, nil
}

// Close releases the underlying pool resources.
func (s *Store) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// EnsureSchema creates the tables and indexes when they do not exist yet.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}

// RunInSourceTx implements jobs.JobStore. The transaction commits when fn
// returns nil and rolls back otherwise; other sources' transactions are
// unaffected either way.
func (s *Store) RunInSourceTx(ctx context.Context, fn func(tx jobs.JobTx) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin source tx: %w", err)
	}
	if err := fn(&sourceTx{tx: tx}); err != nil {
		_ = tx.Rollback(ctx)
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit source tx: %w", err)
	}
	return nil
}

type sourceTx struct {
	tx pgx.Tx
}

// Upsert wraps each job in an explicit savepoint so a failure rolls back
// only this job, leaving prior upserts in the transaction intact.
func (t *sourceTx) Upsert(ctx context.Context, sourceID int64, job jobs.ScrapedJob, now time.Time) (jobs.UpsertOutcome, error) {
	if _, err := t.tx.Exec(ctx, "SAVEPOINT upsert_job"); err != nil {
		return 0, fmt.Errorf("savepoint: %w", err)
	}
	outcome, err := t.upsert(ctx, sourceID, job, now)
	if err != nil {
		if _, rbErr := t.tx.Exec(ctx, "ROLLBACK TO SAVEPOINT upsert_job"); rbErr != nil {
			return 0, fmt.Errorf("rollback savepoint after %v: %w", err, rbErr)
		}
		return 0, err
	}
	if _, err := t.tx.Exec(ctx, "RELEASE SAVEPOINT upsert_job"); err != nil {
		return 0, fmt.Errorf("release savepoint: %w", err)
	}
	return outcome, nil
}

func (t *sourceTx) upsert(ctx context.Context, sourceID int64, job jobs.ScrapedJob, now time.Time) (jobs.UpsertOutcome, error) {
	var existing jobs.JobRecord
	err := t.tx.QueryRow(ctx, `
		SELECT id, title, url, organization, location, state, description, job_type, salary_info, is_stale
		FROM jobs WHERE external_id = $1 FOR UPDATE`, job.ExternalID).Scan(
		&existing.ID, &existing.Title, &existing.URL, &existing.Organization,
		&existing.Location, &existing.State, &existing.Description,
		&existing.JobType, &existing.SalaryInfo, &existing.IsStale)
	if errors.Is(err, pgx.ErrNoRows) {
		_, err = t.tx.Exec(ctx, `
			INSERT INTO jobs (source_id, external_id, title, url, organization, location, state,
				description, job_type, salary_info, first_seen_at, last_seen_at, is_stale)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $11, FALSE)`,
			sourceID, job.ExternalID, job.Title, job.URL, job.Organization, job.Location,
			job.State, job.Description, job.JobType, job.SalaryInfo, now)
		if err != nil {
			return 0, fmt.Errorf("insert job %s: %w", job.ExternalID, err)
		}
		return jobs.UpsertInserted, nil
	}
	if err != nil {
		return 0, fmt.Errorf("load job %s: %w", job.ExternalID, err)
	}

	sets := []string{"last_seen_at = $1"}
	args := []any{now}
	changed := false
	apply := func(column, stored, scraped string) {
		if scraped != "" && scraped != stored {
			args = append(args, scraped)
			sets = append(sets, fmt.Sprintf("%s = $%d", column, len(args)))
			changed = true
		}
	}
	apply("title", existing.Title, job.Title)
	apply("url", existing.URL, job.URL)
	apply("organization", existing.Organization, job.Organization)
	apply("location", existing.Location, job.Location)
	apply("state", existing.State, job.State)
	apply("description", existing.Description, job.Description)
	apply("job_type", existing.JobType, job.JobType)
	apply("salary_info", existing.SalaryInfo, job.SalaryInfo)
	if existing.IsStale {
		sets = append(sets, "is_stale = FALSE", "stale_since = NULL")
		changed = true
	}

	args = append(args, existing.ID)
	query := fmt.Sprintf("UPDATE jobs SET %s WHERE id = $%d", strings.Join(sets, ", "), len(args))
	if _, err := t.tx.Exec(ctx, query, args...); err != nil {
		return 0, fmt.Errorf("update job %s: %w", job.ExternalID, err)
	}
	if changed {
		return jobs.UpsertUpdated, nil
	}
	return jobs.UpsertUnchanged, nil
}

// GetByExternalID implements jobs.JobStore.
func (s *Store) GetByExternalID(ctx context.Context, externalID string) (jobs.JobRecord, error) {
	var record jobs.JobRecord
	err := s.pool.QueryRow(ctx, `
		SELECT id, source_id, external_id, title, url, organization, location, state,
			description, job_type, salary_info, first_seen_at, last_seen_at, is_stale, stale_since
		FROM jobs WHERE external_id = $1`, externalID).Scan(
		&record.ID, &record.SourceID, &record.ExternalID, &record.Title, &record.URL,
		&record.Organization, &record.Location, &record.State, &record.Description,
		&record.JobType, &record.SalaryInfo, &record.FirstSeenAt, &record.LastSeenAt,
		&record.IsStale, &record.StaleSince)
	if err != nil {
		return jobs.JobRecord{}, fmt.Errorf("load job %s: %w", externalID, err)
	}
	return record, nil
}

// MarkStale implements jobs.JobStore.
func (s *Store) MarkStale(ctx context.Context, cutoff, now time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx,
		"UPDATE jobs SET is_stale = TRUE, stale_since = $2 WHERE is_stale = FALSE AND last_seen_at < $1",
		cutoff, now)
	if err != nil {
		return 0, fmt.Errorf("mark stale: %w", err)
	}
	return tag.RowsAffected(), nil
}

// DeleteStale implements jobs.JobStore.
func (s *Store) DeleteStale(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx,
		"DELETE FROM jobs WHERE is_stale = TRUE AND stale_since < $1", cutoff)
	if err != nil {
		return 0, fmt.Errorf("delete stale: %w", err)
	}
	return tag.RowsAffected(), nil
}

// CountActive implements jobs.JobStore.
func (s *Store) CountActive(ctx context.Context) (int64, error) {
	var count int64
	if err := s.pool.QueryRow(ctx,
		"SELECT COUNT(*) FROM jobs WHERE is_stale = FALSE").Scan(&count); err != nil {
		return 0, fmt.Errorf("count active jobs: %w", err)
	}
	return count, nil
}

// CountStale implements jobs.JobStore.
func (s *Store) CountStale(ctx context.Context) (int64, error) {
	var count int64
	if err := s.pool.QueryRow(ctx,
		"SELECT COUNT(*) FROM jobs WHERE is_stale = TRUE").Scan(&count); err != nil {
		return 0, fmt.Errorf("count stale jobs: %w", err)
	}
	return count, nil
}

// Append implements jobs.RunLogStore.
func (s *Store) Append(ctx context.Context, entry jobs.RunLogEntry) error {
	var errorsJSON []byte
	if len(entry.Errors) > 0 {
		data, err := json.Marshal(entry.Errors)
		if err != nil {
			return fmt.Errorf("marshal run log errors: %w", err)
		}
		errorsJSON = data
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO run_logs (id, source_id, source_name, trigger_kind, started_at,
			completed_at, success, jobs_found, jobs_new, jobs_updated, jobs_removed, errors)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		entry.ID, entry.SourceID, entry.SourceName, string(entry.Trigger),
		entry.StartedAt, entry.CompletedAt, entry.Success,
		entry.JobsFound, entry.JobsNew, entry.JobsUpdated, entry.JobsRemoved, errorsJSON)
	if err != nil {
		return fmt.Errorf("append run log: %w", err)
	}
	return nil
}

const sourceColumns = `id, name, base_url, strategy, custom_name, active, robots_blocked,
	needs_configuration, skip_robots_check, listing_url, selectors, sitemap_url,
	sitemap_url_pattern, script_body, organization, default_location, default_state,
	render_mode, max_pages, last_scraped_at, last_scrape_success`

func scanSource(row pgx.Row) (jobs.SourceConfig, error) {
	var (
		src       jobs.SourceConfig
		strategy  string
		render    string
		selectors []byte
	)
	err := row.Scan(&src.ID, &src.Name, &src.BaseURL, &strategy, &src.CustomName,
		&src.Active, &src.RobotsBlocked, &src.NeedsConfiguration, &src.SkipRobotsCheck,
		&src.ListingURL, &selectors, &src.SitemapURL, &src.SitemapURLPattern,
		&src.ScriptBody, &src.Organization, &src.DefaultLocation, &src.DefaultState,
		&render, &src.MaxPages, &src.LastScrapedAt, &src.LastScrapeSuccess)
	if err != nil {
		return jobs.SourceConfig{}, err
	}
	src.Strategy = jobs.StrategyKind(strategy)
	src.RenderMode = jobs.RenderMode(render)
	if len(selectors) > 0 {
		if err := json.Unmarshal(selectors, &src.Selectors); err != nil {
			return jobs.SourceConfig{}, fmt.Errorf("decode selectors for %s: %w", src.Name, err)
		}
	}
	return src, nil
}

// ListActive implements jobs.SourceStore.
func (s *Store) ListActive(ctx context.Context) ([]jobs.SourceConfig, error) {
	rows, err := s.pool.Query(ctx,
		"SELECT "+sourceColumns+" FROM sources WHERE active = TRUE ORDER BY id")
	if err != nil {
		return nil, fmt.Errorf("list active sources: %w", err)
	}
	defer rows.Close()

	var sources []jobs.SourceConfig
	for rows.Next() {
		src, err := scanSource(rows)
		if err != nil {
			return nil, fmt.Errorf("scan source: %w", err)
		}
		sources = append(sources, src)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list active sources: %w", err)
	}
	return sources, nil
}

// GetByName implements jobs.SourceStore.
func (s *Store) GetByName(ctx context.Context, name string) (jobs.SourceConfig, error) {
	src, err := scanSource(s.pool.QueryRow(ctx,
		"SELECT "+sourceColumns+" FROM sources WHERE name = $1", name))
	if err != nil {
		return jobs.SourceConfig{}, fmt.Errorf("load source %q: %w", name, err)
	}
	return src, nil
}

// RecordScrapeOutcome implements jobs.SourceStore.
func (s *Store) RecordScrapeOutcome(ctx context.Context, sourceID int64, at time.Time, success bool) error {
	tag, err := s.pool.Exec(ctx,
		"UPDATE sources SET last_scraped_at = $2, last_scrape_success = $3 WHERE id = $1",
		sourceID, at, success)
	if err != nil {
		return fmt.Errorf("record scrape outcome: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("source %d not found", sourceID)
	}
	return nil
}
