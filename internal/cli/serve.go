package cli

import (
	"github.com/smallbiznis/invoicedesk/internal/migration"
	"github.com/smallbiznis/invoicedesk/internal/scheduler"
	"github.com/smallbiznis/invoicedesk/internal/server"
	"github.com/spf13/cobra"
	"go.uber.org/fx"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API and the scheduled delivery sweep in one process",
	Example: `  # API on :8080 plus the hourly sweep
  invoicedesk serve

  # Apply migrations on start
  DB_AUTO_MIGRATE=true invoicedesk serve`,
	RunE: func(cmd *cobra.Command, args []string) error {
		app := fx.New(
			coreModules(),
			migration.Module,
			domainModules(),
			server.Module,
			scheduler.Module,
		)
		app.Run()
		return app.Err()
	},
}

var apiCmd = &cobra.Command{
	Use:   "api",
	Short: "Run only the HTTP API",
	RunE: func(cmd *cobra.Command, args []string) error {
		app := fx.New(
			coreModules(),
			migration.Module,
			domainModules(),
			server.Module,
		)
		app.Run()
		return app.Err()
	},
}

var schedulerCmd = &cobra.Command{
	Use:   "scheduler",
	Short: "Run only the scheduled delivery sweep",
	Long: `Runs the sweep at the top of every SCHEDULER_SWEEP_INTERVAL (hourly by default).
When REDIS_ADDR is set, concurrent instances coordinate through a sweep lock.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		app := fx.New(
			coreModules(),
			domainModules(),
			scheduler.Module,
		)
		app.Run()
		return app.Err()
	},
}

func init() {
	rootCmd.AddCommand(serveCmd, apiCmd, schedulerCmd)
}
