package cli

import (
	"context"
	"fmt"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/invoicedesk/internal/seed"
	"github.com/spf13/cobra"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var seedOpts seed.Options

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Register the issuing company and sender addresses",
	RunE: func(cmd *cobra.Command, args []string) error {
		var (
			conn *gorm.DB
			node *snowflake.Node
			log  *zap.Logger
		)
		return runOnce(cmd.Context(), func(ctx context.Context) error {
			result, err := seed.EnsureDefaults(ctx, conn, node, seedOpts)
			if err != nil {
				return err
			}
			if result.Company != nil {
				fmt.Fprintf(cmd.OutOrStdout(), "company\t%s\t%s\n", result.Company.ID, result.Company.Name)
			}
			for _, sender := range result.EmailSenders {
				fmt.Fprintf(cmd.OutOrStdout(), "sender\t%s\t%s\n", sender.ID, sender.Email)
			}
			log.Info("seed.completed",
				zap.Bool("company", result.Company != nil),
				zap.Int("email_senders", len(result.EmailSenders)),
			)
			return nil
		},
			coreModules(),
			fx.Populate(&conn, &node, &log),
		)
	},
}

func init() {
	seedCmd.Flags().StringVar(&seedOpts.CompanyName, "company", "", "issuing company name")
	seedCmd.Flags().StringVar(&seedOpts.CompanyEmail, "company-email", "", "issuing company contact address")
	seedCmd.Flags().StringSliceVar(&seedOpts.EmailSenders, "sender", nil, "sender address to register (repeatable)")
	rootCmd.AddCommand(seedCmd)
}
