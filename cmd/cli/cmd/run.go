// Package cmd - CLI command: cloudcost-etl run
package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"cloudcost-etl/internal/logging"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the full pipeline for a date window",
	Long: `Run Extract → Transform → Load for one window.

Any fatal stage failure aborts the run and leaves prior side effects
in place: raw rows already written stay, and gold rows from earlier
windows are untouched. Re-running the window after fixing the cause
self-heals.`,
	RunE: runPipeline,
}

func init() {
	rootCmd.AddCommand(runCmd)
	addWindowFlags(runCmd)
}

func runPipeline(cmd *cobra.Command, args []string) error {
	defer logging.Sync()
	ctx := context.Background()

	win, err := parseWindow()
	if err != nil {
		return err
	}

	store, err := newStore(ctx)
	if err != nil {
		return err
	}
	defer store.Close()

	if err := store.Migrate(ctx); err != nil {
		return err
	}

	runner, err := newRunner(store)
	if err != nil {
		return err
	}

	result, err := runner.Run(ctx, win)
	if err != nil {
		return err
	}

	fmt.Printf("Pipeline complete for %s\n", win)
	fmt.Printf("  fetched:        %d\n", result.Extract.Fetched)
	fmt.Printf("  shape rejected: %d\n", result.Extract.ShapeRejected)
	fmt.Printf("  raw written:    %d\n", result.Extract.Written)
	fmt.Printf("  accepted:       %d\n", result.Transform.Accepted)
	fmt.Printf("  rejected:       %d\n", result.Transform.Rejected)
	for _, rc := range result.Transform.ReasonCounts() {
		fmt.Printf("    %-20s %d\n", rc.Reason, rc.Count)
	}
	fmt.Printf("  conflicts:      %d\n", result.Transform.Conflicts)
	fmt.Printf("  gold inserted:  %d\n", result.Load.Inserted)
	fmt.Printf("  gold replaced:  %d\n", result.Load.Replaced)
	fmt.Printf("  window total:   $%s\n", result.Load.WindowTotalUSD.StringFixed(2))
	return nil
}
