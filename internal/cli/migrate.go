package cli

import (
	"context"

	"github.com/smallbiznis/invoicedesk/internal/config"
	"github.com/smallbiznis/invoicedesk/internal/migration"
	"github.com/spf13/cobra"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply database migrations and exit",
	RunE: func(cmd *cobra.Command, args []string) error {
		var (
			conn *gorm.DB
			cfg  config.Config
			log  *zap.Logger
		)
		return runOnce(cmd.Context(), func(ctx context.Context) error {
			return migration.Run(conn.WithContext(ctx), cfg, log)
		},
			coreModules(),
			fx.Populate(&conn, &cfg, &log),
		)
	},
}

func init() {
	rootCmd.AddCommand(migrateCmd)
}
