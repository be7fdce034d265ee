package cli

import (
	"context"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/smallbiznis/invoicedesk/internal/apikey"
	apikeydomain "github.com/smallbiznis/invoicedesk/internal/apikey/domain"
	"github.com/spf13/cobra"
	"go.uber.org/fx"
)

var apiKeyCmd = &cobra.Command{
	Use:   "apikey",
	Short: "Manage API keys for the HTTP API",
}

var apiKeyCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create an API key and print the secret once",
	Example: `  invoicedesk apikey create --name ops
  invoicedesk apikey create --name reports --role viewer --expires-in 720h`,
	RunE: func(cmd *cobra.Command, args []string) error {
		name, _ := cmd.Flags().GetString("name")
		role, _ := cmd.Flags().GetString("role")
		expiresIn, _ := cmd.Flags().GetDuration("expires-in")

		return withAPIKeyService(cmd, func(ctx context.Context, svc apikeydomain.Service) error {
			secret, err := svc.Create(ctx, apikeydomain.CreateRequest{
				Name:      name,
				Role:      role,
				ExpiresIn: expiresIn,
			})
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "key id:  %s\n", secret.KeyID)
			fmt.Fprintf(out, "api key: %s\n", secret.APIKey)
			fmt.Fprintln(out, "Store the API key now; it cannot be shown again.")
			return nil
		})
	},
}

var apiKeyListCmd = &cobra.Command{
	Use:   "list",
	Short: "List API keys",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withAPIKeyService(cmd, func(ctx context.Context, svc apikeydomain.Service) error {
			keys, err := svc.List(ctx)
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "KEY ID\tNAME\tROLE\tACTIVE\tLAST USED")
			for _, key := range keys {
				lastUsed := "-"
				if key.LastUsedAt != nil {
					lastUsed = key.LastUsedAt.Format(time.RFC3339)
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%t\t%s\n", key.KeyID, key.Name, key.Role, key.IsActive, lastUsed)
			}
			return w.Flush()
		})
	},
}

var apiKeyRevokeCmd = &cobra.Command{
	Use:   "revoke <key-id>",
	Short: "Deactivate an API key",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withAPIKeyService(cmd, func(ctx context.Context, svc apikeydomain.Service) error {
			if err := svc.Revoke(ctx, args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "revoked %s\n", args[0])
			return nil
		})
	},
}

func withAPIKeyService(cmd *cobra.Command, fn func(context.Context, apikeydomain.Service) error) error {
	var svc apikeydomain.Service
	return runOnce(cmd.Context(), func(ctx context.Context) error {
		return fn(ctx, svc)
	},
		coreModules(),
		apikey.Module,
		fx.Populate(&svc),
	)
}

func init() {
	apiKeyCreateCmd.Flags().String("name", "", "Human readable key name")
	apiKeyCreateCmd.Flags().String("role", apikeydomain.RoleAdmin, "Key role: admin or viewer")
	apiKeyCreateCmd.Flags().Duration("expires-in", 0, "Expire the key after this duration (0 never expires)")
	_ = apiKeyCreateCmd.MarkFlagRequired("name")

	apiKeyCmd.AddCommand(apiKeyCreateCmd, apiKeyListCmd, apiKeyRevokeCmd)
	rootCmd.AddCommand(apiKeyCmd)
}
