package main

import (
	"context"
	"fmt"
	"time"

	cloudpubsub "cloud.google.com/go/pubsub"
	gcstorage "cloud.google.com/go/storage"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/farreach/jobingest/internal/clock/system"
	"github.com/farreach/jobingest/internal/config"
	"github.com/farreach/jobingest/internal/fetch"
	"github.com/farreach/jobingest/internal/id/uuid"
	"github.com/farreach/jobingest/internal/jobs"
	"github.com/farreach/jobingest/internal/logging"
	pubsubpublisher "github.com/farreach/jobingest/internal/publisher/pubsub"
	"github.com/farreach/jobingest/internal/robots"
	"github.com/farreach/jobingest/internal/runner"
	"github.com/farreach/jobingest/internal/storage/gcs"
	"github.com/farreach/jobingest/internal/storage/local"
	"github.com/farreach/jobingest/internal/storage/memory"
	"github.com/farreach/jobingest/internal/storage/postgres"
	"github.com/farreach/jobingest/internal/strategy"
	"github.com/farreach/jobingest/internal/sweeper"
)

var cfgFile string

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ingestd",
		Short: "Job-listing crawl and ingest engine",
		Long: `ingestd crawls configured career sites and applicant-tracking APIs,
normalizes their listings into a de-duplicated catalog, and ages out
records that stop being re-confirmed. It can run as a scheduled daemon
or fire one-off ingest and sweep passes.`,
		SilenceUsage: true,
	}
	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file path")
	cmd.AddCommand(newServeCmd(), newRunCmd(), newSweepCmd())
	return cmd
}

// app holds the wired service graph shared by the subcommands.
type app struct {
	cfg    config.Config
	logger *zap.Logger

	jobStore jobs.JobStore
	runLogs  jobs.RunLogStore
	sources  jobs.SourceStore

	fetcher *fetch.Client
	runner  *runner.Runner
	sweeper *sweeper.Sweeper

	closers []func()
}

func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	_ = a.logger.Sync()
}

func buildApp(ctx context.Context) (*app, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}

	a := &app{cfg: cfg, logger: logger}
	clock := system.New()

	if cfg.DB.DSN != "" {
		store, err := postgres.NewStore(ctx, postgres.Config{
			DSN:      cfg.DB.DSN,
			MaxConns: cfg.DB.MaxConns,
			MinConns: cfg.DB.MinConns,
		})
		if err != nil {
			return nil, err
		}
		if err := store.EnsureSchema(ctx); err != nil {
			store.Close()
			return nil, err
		}
		a.closers = append(a.closers, store.Close)
		a.jobStore, a.runLogs, a.sources = store, store, store
	} else {
		logger.Warn("No db.dsn configured; using the in-memory store")
		store := memory.NewStore()
		a.jobStore, a.runLogs, a.sources = store, store, store
	}

	snapshots, err := buildSnapshots(ctx, a)
	if err != nil {
		return nil, err
	}
	renderer, err := buildRenderer(cfg, logger)
	if err != nil {
		return nil, err
	}

	checker := robots.New(cfg.Scraper.RobotsIdentity, cfg.Scraper.UserAgent, logger)
	httpFetcher := fetch.NewHTTPFetcher(cfg.Scraper.UserAgent, cfg.FetchTimeout())
	a.fetcher = fetch.NewClient(httpFetcher, renderer, checker, snapshots, clock, logger)

	registry := strategy.NewRegistry(strategy.Deps{
		Fetcher:         a.fetcher,
		UserAgent:       cfg.Scraper.UserAgent,
		DefaultMaxPages: cfg.Scraper.DefaultMaxPages,
		Logger:          logger.Named("strategy"),
	})

	publisher, err := buildPublisher(ctx, a)
	if err != nil {
		return nil, err
	}

	a.runner = runner.New(runner.Config{
		Store:      a.jobStore,
		RunLogs:    a.runLogs,
		Sources:    a.sources,
		Strategies: registry,
		Robots:     a.fetcher,
		Publisher:  publisher,
		Topic:      cfg.PubSub.TopicName,
		Clock:      clock,
		IDs:        uuid.New(),
		Logger:     logger.Named("runner"),
	})
	a.sweeper = sweeper.New(a.jobStore, clock,
		time.Duration(cfg.Sweeper.StaleAfterHours)*time.Hour,
		time.Duration(cfg.Sweeper.DeleteAfterDays)*24*time.Hour,
		logger.Named("sweeper"))
	return a, nil
}

func buildSnapshots(ctx context.Context, a *app) (jobs.BlobStore, error) {
	switch a.cfg.Snapshots.Backend {
	case "", "off":
		return nil, nil
	case "local":
		return local.New(local.Config{BaseDir: a.cfg.Snapshots.LocalDir})
	case "gcs":
		client, err := gcstorage.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("init gcs client: %w", err)
		}
		a.closers = append(a.closers, func() { _ = client.Close() })
		return gcs.New(client, gcs.Config{
			Bucket: a.cfg.Snapshots.GCSBucket,
			Prefix: a.cfg.Snapshots.Prefix,
		})
	default:
		return nil, fmt.Errorf("unknown snapshots backend %q", a.cfg.Snapshots.Backend)
	}
}

func buildRenderer(cfg config.Config, logger *zap.Logger) (fetch.Renderer, error) {
	navTimeout := time.Duration(cfg.Renderer.NavTimeoutSecs) * time.Second
	switch cfg.Renderer.Mode {
	case "", "off":
		return nil, nil
	case "service":
		return fetch.NewServiceRenderer(cfg.Renderer.ServiceURL, navTimeout,
			logger.Named("renderer")), nil
	case "chromedp":
		return fetch.NewChromedpRenderer(fetch.ChromedpConfig{
			UserAgent:   cfg.Scraper.UserAgent,
			MaxParallel: cfg.Renderer.MaxParallel,
			NavTimeout:  navTimeout,
			DomainQPS:   cfg.Renderer.DomainQPS,
		}, logger.Named("renderer"))
	default:
		return nil, fmt.Errorf("unknown renderer mode %q", cfg.Renderer.Mode)
	}
}

func buildPublisher(ctx context.Context, a *app) (jobs.Publisher, error) {
	if a.cfg.PubSub.TopicName == "" || a.cfg.PubSub.ProjectID == "" {
		return nil, nil
	}
	client, err := cloudpubsub.NewClient(ctx, a.cfg.PubSub.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("init pubsub client: %w", err)
	}
	a.closers = append(a.closers, func() { _ = client.Close() })
	return pubsubpublisher.New(client)
}
