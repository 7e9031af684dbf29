// Package load publishes transform output to the gold store via
// idempotent upsert and verifies the published window afterwards.
package load

import (
	"context"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"cloudcost-etl/core/contract"
	"cloudcost-etl/db"
	"cloudcost-etl/internal/errors"
)

// Result holds the observable counts of a load run
type Result struct {
	// Inserted is how many gold rows were newly created
	Inserted int

	// Replaced is how many existing gold rows were overwritten
	Replaced int

	// WindowRows is how many gold rows the window held after the load
	WindowRows int

	// WindowTotalUSD is the published sum over the expected keys
	WindowTotalUSD decimal.Decimal
}

// Stage is the load stage
type Stage struct {
	gold db.GoldStore
	log  *zap.Logger
}

// New creates a load stage
func New(gold db.GoldStore, log *zap.Logger) *Stage {
	return &Stage{gold: gold, log: log}
}

// Run upserts the records and then re-reads the window to verify the
// publication: every expected key must be present with its computed
// value, and the sum over those keys must match expectedTotal. A
// mismatch means the store silently dropped or truncated something
// and is fatal; retrying without remediation would reproduce it.
func (s *Stage) Run(ctx context.Context, win contract.Window, records []contract.GoldCostRecord, expectedTotal decimal.Decimal) (*Result, error) {
	inserted, replaced, err := s.gold.UpsertGold(ctx, records)
	if err != nil {
		return nil, err
	}

	published, err := s.gold.ListGoldRange(ctx, win)
	if err != nil {
		return nil, err
	}

	byKey := make(map[contract.GoldKey]contract.GoldCostRecord, len(published))
	for _, rec := range published {
		byKey[rec.Key()] = rec
	}

	publishedTotal := decimal.Zero
	for _, expected := range records {
		key := expected.Key()
		got, ok := byKey[key]
		if !ok {
			return nil, errors.Verify("published gold row missing after upsert").
				WithContext("key", key.String())
		}
		if !got.CostUSD.Equal(expected.CostUSD) {
			return nil, errors.Verify("published gold row differs from computed value").
				WithContext("key", key.String()).
				WithContext("expected", expected.CostUSD.String()).
				WithContext("published", got.CostUSD.String())
		}
		publishedTotal = publishedTotal.Add(got.CostUSD)
	}

	if !publishedTotal.Equal(expectedTotal) {
		return nil, errors.Verify("published window sum does not match transform sum").
			WithContext("expected", expectedTotal.String()).
			WithContext("published", publishedTotal.String())
	}

	s.log.Info("load complete",
		zap.String("window", win.String()),
		zap.Int("inserted", inserted),
		zap.Int("replaced", replaced),
		zap.Int("window_rows", len(published)),
		zap.String("window_total_usd", publishedTotal.StringFixed(4)))

	return &Result{
		Inserted:       inserted,
		Replaced:       replaced,
		WindowRows:     len(published),
		WindowTotalUSD: publishedTotal,
	}, nil
}
