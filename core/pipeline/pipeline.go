// Package pipeline sequences Extract → Transform → Load for one
// window and provides the idempotency self-test, the core correctness
// property of the whole design: repeated runs over the same window
// converge to identical gold contents.
package pipeline

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"cloudcost-etl/core/contract"
	"cloudcost-etl/core/extract"
	"cloudcost-etl/core/fx"
	"cloudcost-etl/core/load"
	"cloudcost-etl/core/transform"
	"cloudcost-etl/db"
	"cloudcost-etl/internal/errors"
)

// Options configure a Runner
type Options struct {
	// RejectionThreshold is the transform quality gate threshold
	RejectionThreshold float64

	// SampleLimit caps rejected-row diagnostics
	SampleLimit int

	// Rates is the currency conversion table
	Rates fx.Table
}

// DefaultOptions returns sensible defaults
func DefaultOptions() Options {
	return Options{
		RejectionThreshold: 0.10,
		SampleLimit:        5,
		Rates:              fx.Default(),
	}
}

// RunResult aggregates the counts of all three stages
type RunResult struct {
	RunID     uuid.UUID
	Window    contract.Window
	Extract   extract.Result
	Transform transform.Report
	Load      load.Result
}

// Runner orchestrates one pipeline over one store
type Runner struct {
	extract   *extract.Stage
	transform *transform.Stage
	load      *load.Stage
	gold      db.GoldStore
	log       *zap.Logger
}

// New creates a Runner wired to a source and a store
func New(source extract.Source, store db.Store, opts Options, log *zap.Logger) *Runner {
	return &Runner{
		extract:   extract.New(source, store, log),
		transform: transform.New(store, opts.Rates, opts.RejectionThreshold, opts.SampleLimit, log),
		load:      load.New(store, log),
		gold:      store,
		log:       log,
	}
}

// Run executes the full pipeline for a window. Any fatal stage
// failure aborts the run; prior stages' side effects are deliberately
// left in place — raw is append-only and gold upserts are idempotent,
// so a re-run after fixing the cause self-heals without cleanup.
func (r *Runner) Run(ctx context.Context, win contract.Window) (*RunResult, error) {
	runID := uuid.New()
	log := r.log.With(zap.Stringer("run_id", runID), zap.String("window", win.String()))
	log.Info("pipeline run starting")

	extractResult, err := r.extract.Run(ctx, runID, win)
	if err != nil {
		log.Error("extract stage failed", zap.Error(err))
		return nil, err
	}

	transformResult, err := r.transform.Run(ctx, win)
	if err != nil {
		log.Error("transform stage failed", zap.Error(err))
		return nil, err
	}

	loadResult, err := r.load.Run(ctx, win, transformResult.Records, transformResult.TotalUSD)
	if err != nil {
		log.Error("load stage failed", zap.Error(err))
		return nil, err
	}

	log.Info("pipeline run complete",
		zap.Int("fetched", extractResult.Fetched),
		zap.Int("raw_written", extractResult.Written),
		zap.Int("gold_published", len(transformResult.Records)),
		zap.Int("inserted", loadResult.Inserted),
		zap.Int("replaced", loadResult.Replaced))

	return &RunResult{
		RunID:     runID,
		Window:    win,
		Extract:   *extractResult,
		Transform: transformResult.Report,
		Load:      *loadResult,
	}, nil
}

// RunExtract executes only the extract stage, for diagnostics
func (r *Runner) RunExtract(ctx context.Context, win contract.Window) (*extract.Result, error) {
	return r.extract.Run(ctx, uuid.New(), win)
}

// RunTransform executes only the transform stage against whatever raw
// rows exist for the window. Nothing is published.
func (r *Runner) RunTransform(ctx context.Context, win contract.Window) (*transform.Result, error) {
	return r.transform.Run(ctx, win)
}

// RunLoad re-derives the gold batch from raw and publishes it. Load
// has no independent input of its own: its contract input is always
// transform output, so running it in isolation still goes through the
// (side-effect free) transform computation.
func (r *Runner) RunLoad(ctx context.Context, win contract.Window) (*load.Result, error) {
	transformResult, err := r.transform.Run(ctx, win)
	if err != nil {
		return nil, err
	}
	return r.load.Run(ctx, win, transformResult.Records, transformResult.TotalUSD)
}

// Snapshot returns the gold rows for a window in deterministic order,
// for diffing between runs.
func (r *Runner) Snapshot(ctx context.Context, win contract.Window) ([]contract.GoldCostRecord, error) {
	return r.gold.ListGoldRange(ctx, win)
}

// SelfTest runs the full pipeline twice in immediate succession for
// the same window and diffs the gold snapshots. Divergence means the
// pipeline is not idempotent and is returned as an error.
func (r *Runner) SelfTest(ctx context.Context, win contract.Window) error {
	if _, err := r.Run(ctx, win); err != nil {
		return errors.Wrap(errors.TypeInternal, "self-test first run failed", err)
	}
	first, err := r.Snapshot(ctx, win)
	if err != nil {
		return err
	}

	if _, err := r.Run(ctx, win); err != nil {
		return errors.Wrap(errors.TypeInternal, "self-test second run failed", err)
	}
	second, err := r.Snapshot(ctx, win)
	if err != nil {
		return err
	}

	if err := diffSnapshots(first, second); err != nil {
		return err
	}

	r.log.Info("idempotency self-test passed",
		zap.String("window", win.String()),
		zap.Int("gold_rows", len(first)))
	return nil
}

// diffSnapshots compares two window snapshots row by row. Both are
// already sorted by grain key.
func diffSnapshots(first, second []contract.GoldCostRecord) error {
	if len(first) != len(second) {
		return errors.Verify("self-test snapshots differ in row count").
			WithContext("first", len(first)).
			WithContext("second", len(second))
	}
	for i := range first {
		a, b := first[i], second[i]
		if a.Key() != b.Key() {
			return errors.Verify("self-test snapshots differ in key set").
				WithContext("index", i).
				WithContext("first", a.Key().String()).
				WithContext("second", b.Key().String())
		}
		if !a.CostUSD.Equal(b.CostUSD) || a.Team != b.Team || a.CostCenter != b.CostCenter {
			return errors.Verify("self-test snapshots differ in row contents").
				WithContext("key", a.Key().String()).
				WithContext("first", fmt.Sprintf("%s %s %s", a.CostUSD, a.Team, a.CostCenter)).
				WithContext("second", fmt.Sprintf("%s %s %s", b.CostUSD, b.Team, b.CostCenter))
		}
	}
	return nil
}
