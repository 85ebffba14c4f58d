package main

import (
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func newSweepCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Run one staleness sweep",
		Long: `Marks jobs unseen for the configured window as stale, deletes jobs
that have stayed stale past the retention window, and exits.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := buildApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.close()

			result, err := a.sweeper.Sweep(cmd.Context())
			if err != nil {
				return err
			}
			a.logger.Info("Manual sweep complete",
				zap.Int64("marked_stale", result.Marked),
				zap.Int64("deleted", result.Deleted))
			return nil
		},
	}
}
