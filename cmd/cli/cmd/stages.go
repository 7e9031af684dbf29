// Package cmd - single-stage diagnostic commands
package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"cloudcost-etl/internal/logging"
)

var extractCmd = &cobra.Command{
	Use:   "extract",
	Short: "Run only the extract stage for a window",
	Long: `Fetch the window from the source API, shape-validate and append to
the raw landing zone. Nothing downstream of raw is touched.`,
	RunE: runExtractStage,
}

var transformCmd = &cobra.Command{
	Use:   "transform",
	Short: "Run only the transform stage for a window (dry run)",
	Long: `Read the raw rows for the window, coerce and aggregate them, and
print the rejection report. Nothing is published to gold.`,
	RunE: runTransformStage,
}

var loadCmd = &cobra.Command{
	Use:   "load",
	Short: "Re-derive and publish the gold batch for a window",
	Long: `Recompute the gold batch from the raw rows already landed for the
window and publish it. The source API is not contacted; load's input
is always transform output, so the (side-effect free) transform
computation runs first.`,
	RunE: runLoadStage,
}

func init() {
	rootCmd.AddCommand(extractCmd)
	rootCmd.AddCommand(transformCmd)
	rootCmd.AddCommand(loadCmd)
	addWindowFlags(extractCmd)
	addWindowFlags(transformCmd)
	addWindowFlags(loadCmd)
}

func runExtractStage(cmd *cobra.Command, args []string) error {
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

	result, err := runner.RunExtract(ctx, win)
	if err != nil {
		return err
	}
	fmt.Printf("Extract complete for %s: fetched=%d written=%d shape_rejected=%d\n",
		win, result.Fetched, result.Written, result.ShapeRejected)
	return nil
}

func runTransformStage(cmd *cobra.Command, args []string) error {
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
	runner, err := newRunner(store)
	if err != nil {
		return err
	}

	result, err := runner.RunTransform(ctx, win)
	if err != nil {
		return err
	}

	report := result.Report
	fmt.Printf("Transform complete for %s (dry run, nothing published)\n", win)
	fmt.Printf("  raw rows:  %d\n", report.TotalRaw)
	fmt.Printf("  accepted:  %d\n", report.Accepted)
	fmt.Printf("  rejected:  %d (rate %.1f%%)\n", report.Rejected, report.RejectionRate()*100)
	for _, rc := range report.ReasonCounts() {
		fmt.Printf("    %-20s %d\n", rc.Reason, rc.Count)
	}
	fmt.Printf("  conflicts: %d\n", report.Conflicts)
	fmt.Printf("  gold records: %d, total $%s\n", len(result.Records), result.TotalUSD.StringFixed(2))
	for _, sample := range report.Samples {
		fmt.Printf("  sample rejection [%s]: %s\n", sample.Reason, sample.Detail)
	}
	return nil
}

func runLoadStage(cmd *cobra.Command, args []string) error {
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

	result, err := runner.RunLoad(ctx, win)
	if err != nil {
		return err
	}
	fmt.Printf("Load complete for %s: inserted=%d replaced=%d window_rows=%d total=$%s\n",
		win, result.Inserted, result.Replaced, result.WindowRows, result.WindowTotalUSD.StringFixed(2))
	return nil
}
