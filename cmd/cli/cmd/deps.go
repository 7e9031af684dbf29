package cmd

import (
	"context"
	"time"

	"github.com/spf13/cobra"

	"cloudcost-etl/adapters/source"
	"cloudcost-etl/core/contract"
	"cloudcost-etl/core/fx"
	"cloudcost-etl/core/pipeline"
	"cloudcost-etl/db"
	"cloudcost-etl/internal/config"
	"cloudcost-etl/internal/logging"
)

var (
	flagStart string
	flagEnd   string
)

// addWindowFlags wires the shared --start/--end flags onto a command
func addWindowFlags(c *cobra.Command) {
	c.Flags().StringVar(&flagStart, "start", "", "window start date (YYYY-MM-DD, default 30 days ago)")
	c.Flags().StringVar(&flagEnd, "end", "", "window end date (YYYY-MM-DD, default today)")
}

// parseWindow resolves the window flags, defaulting to the last 30 days
func parseWindow() (contract.Window, error) {
	if flagStart == "" && flagEnd == "" {
		return contract.LastNDays(30), nil
	}
	def := contract.LastNDays(30)
	start, end := flagStart, flagEnd
	if start == "" {
		start = def.StartISO()
	}
	if end == "" {
		end = def.EndISO()
	}
	return contract.ParseWindow(start, end)
}

// newStore connects to the configured Postgres database
func newStore(ctx context.Context) (*db.PostgresStore, error) {
	cfg := config.Get()
	return db.NewPostgresStore(ctx, cfg.Database.URL, logging.Logger)
}

// newRunner builds a pipeline Runner from global config over a store
func newRunner(store db.Store) (*pipeline.Runner, error) {
	cfg := config.Get()

	rates, err := fx.Default().WithOverrides(cfg.FX)
	if err != nil {
		return nil, err
	}

	client := source.New(&source.Config{
		BaseURL:        cfg.Source.BaseURL,
		Timeout:        time.Duration(cfg.Source.TimeoutSeconds) * time.Second,
		MaxRetries:     uint64(cfg.Source.MaxRetries),
		InitialBackoff: time.Duration(cfg.Source.InitialBackoffMillis) * time.Millisecond,
	}, logging.Logger)

	opts := pipeline.Options{
		RejectionThreshold: cfg.Pipeline.RejectionThreshold,
		SampleLimit:        cfg.Pipeline.SampleLimit,
		Rates:              rates,
	}
	return pipeline.New(client, store, opts, logging.Logger), nil
}
