// Package cmd provides the CLI commands for cloudcost-etl.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"cloudcost-etl/internal/config"
	"cloudcost-etl/internal/logging"
)

var (
	cfgFile string
	verbose bool
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "cloudcost-etl",
	Short: "Ingest cloud cost records into the raw/gold warehouse",
	Long: `cloudcost-etl runs the cloud cost ingestion pipeline: extract from
the cost API into the raw landing zone, transform and aggregate to the
daily gold grain, and publish idempotently.

Re-running a window is always safe: raw is append-only and the gold
publish is an upsert keyed on (cost_date, subscription_id, service_name).

Examples:
  cloudcost-etl run --start 2024-01-01 --end 2024-01-31
  cloudcost-etl transform --start 2024-01-01 --end 2024-01-31
  cloudcost-etl selftest --start 2024-01-01 --end 2024-01-07`,
}

// Execute runs the CLI
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.cloudcost-etl.json)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose output")

	rootCmd.AddCommand(versionCmd)
}

func initConfig() {
	if cfgFile != "" {
		cfg, err := config.Load(cfgFile)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
			os.Exit(1)
		}
		config.Set(cfg)
	}

	// Initialize logging
	cfg := config.Get()
	if verbose {
		cfg.Logging.Level = "debug"
	}
	if err := logging.Initialize(cfg.Logging); err != nil {
		fmt.Fprintf(os.Stderr, "Error initializing logging: %v\n", err)
	}
}

// versionCmd prints version information
var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println("cloudcost-etl version 0.1.0")
	},
}
