package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/farreach/jobingest/internal/metrics"
	"github.com/farreach/jobingest/internal/scheduler"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the scheduler daemon with the ops endpoint",
		Long: `Starts the cron scheduler (ingest at 00:00 and 12:00 local time, sweeps
on the half hour after) plus an HTTP listener serving /healthz and
/metrics. Runs until interrupted.`,
		RunE: runServe,
	}
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := buildApp(ctx)
	if err != nil {
		return err
	}
	defer a.close()

	sched, err := scheduler.New(scheduler.Config{
		Timezone: a.cfg.Scheduler.Timezone,
		Sources:  a.sources,
		Runner:   a.runner,
		Sweeper:  a.sweeper,
		Logger:   a.logger.Named("scheduler"),
	})
	if err != nil {
		return err
	}
	if err := sched.Start(ctx); err != nil {
		return err
	}

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.cfg.Ops.Port),
		Handler:           opsRouter(a),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		a.logger.Info("Ops server started", zap.Int("port", a.cfg.Ops.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("Ops server error", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	a.logger.Info("Shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("Ops server shutdown error", zap.Error(err))
	}
	if err := sched.Stop(shutdownCtx); err != nil {
		a.logger.Error("Scheduler shutdown error", zap.Error(err))
	}
	a.logger.Info("Shutdown complete")
	return nil
}

func opsRouter(a *app) http.Handler {
	r := chi.NewRouter()
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		active, err := a.jobStore.CountActive(r.Context())
		if err != nil {
			http.Error(w, "store unavailable", http.StatusServiceUnavailable)
			return
		}
		stale, err := a.jobStore.CountStale(r.Context())
		if err != nil {
			http.Error(w, "store unavailable", http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"status":"ok","jobs_active":%d,"jobs_stale":%d}`, active, stale)
	})
	r.Method(http.MethodGet, "/metrics", metrics.Handler())
	return r
}
