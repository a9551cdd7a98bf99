package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/matheusmosca/marketplace-payments/internal/config"
	"github.com/matheusmosca/marketplace-payments/internal/database"
)

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply the payments schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			if printOnly, _ := cmd.Flags().GetBool("print"); printOnly {
				fmt.Fprintln(cmd.OutOrStdout(), database.Schema())
				return nil
			}

			cfg, err := config.Load()
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			if err := database.Migrate(ctx, cfg.Database); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "schema applied")
			return nil
		},
	}
	cmd.Flags().Bool("print", false, "Print the schema instead of applying it")
	return cmd
}
