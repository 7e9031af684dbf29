// Package cmd - CLI command: cloudcost-etl migrate
package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"cloudcost-etl/internal/logging"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create the warehouse tables",
	Long: `Create the raw landing table (all-text, no constraints) and the
gold publication table (composite primary key, NOT NULL allocation
columns, non-negative cost check). Safe to re-run.`,
	RunE: runMigrate,
}

func init() {
	rootCmd.AddCommand(migrateCmd)
}

func runMigrate(cmd *cobra.Command, args []string) error {
	defer logging.Sync()
	ctx := context.Background()

	store, err := newStore(ctx)
	if err != nil {
		return err
	}
	defer store.Close()

	if err := store.Migrate(ctx); err != nil {
		return err
	}
	fmt.Println("Warehouse tables ready")
	return nil
}
