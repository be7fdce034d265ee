package cli

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/smallbiznis/invoicedesk/internal/config"
	"github.com/smallbiznis/invoicedesk/internal/metricspush"
	"github.com/smallbiznis/invoicedesk/internal/scheduler"
	"github.com/spf13/cobra"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Run one scheduled delivery sweep and exit",
	Long: `Sends every pending scheduled invoice email that is due, once.
Honors the runtime pause switch and the Redis sweep lock like the long-running scheduler.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		var (
			sched *scheduler.Scheduler
			cfg   config.Config
			log   *zap.Logger
		)
		return runOnce(cmd.Context(), func(ctx context.Context) error {
			sweepErr := sched.RunOnce(ctx)
			// Push runs even when the sweep failed.
			if pusher := metricspush.New(cfg, log); pusher != nil {
				if err := pusher.Push(ctx, prometheus.DefaultGatherer); err != nil {
					log.Warn("metricspush.failed", zap.Error(err))
				}
			}
			if sweepErr != nil {
				return fmt.Errorf("sweep: %w", sweepErr)
			}
			fmt.Fprintln(cmd.OutOrStdout(), "sweep finished")
			return nil
		},
			coreModules(),
			domainModules(),
			fx.Provide(scheduler.ProvideConfig, scheduler.New),
			fx.Populate(&sched, &cfg, &log),
		)
	},
}

func init() {
	rootCmd.AddCommand(sweepCmd)
}
