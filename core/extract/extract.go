// Package extract pulls cost records from the source, validates
// their raw shape and lands them in the append-only raw store.
package extract

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"cloudcost-etl/core/contract"
	"cloudcost-etl/db"
)

// Source is the external cost API boundary. The production
// implementation is adapters/source.Client; tests use stubs.
type Source interface {
	FetchCosts(ctx context.Context, win contract.Window) ([]contract.SourceRecord, error)
}

// Result holds the observable counts of an extract run
type Result struct {
	// Fetched is how many records the source returned
	Fetched int

	// Written is how many rows were appended to the raw store
	Written int

	// ShapeRejected is how many payloads were missing required
	// fields. Shape rejection is counted, never fatal: the raw tier
	// simply omits the record.
	ShapeRejected int
}

// Stage is the extract stage
type Stage struct {
	source Source
	raw    db.RawStore
	log    *zap.Logger
}

// New creates an extract stage
func New(source Source, raw db.RawStore, log *zap.Logger) *Stage {
	return &Stage{source: source, raw: raw, log: log}
}

// Run fetches the window from the source, shape-validates each
// payload and appends the survivors to the raw store stamped with the
// run ID and ingestion timestamp. A partial raw load left behind by a
// failure is safe: raw is append-only and Transform re-derives gold
// from whatever raw rows exist for the window.
func (s *Stage) Run(ctx context.Context, runID uuid.UUID, win contract.Window) (*Result, error) {
	payloads, err := s.source.FetchCosts(ctx, win)
	if err != nil {
		return nil, err
	}

	ingestedAt := time.Now().UTC()
	records := make([]contract.RawCostRecord, 0, len(payloads))
	shapeRejected := 0

	for i, payload := range payloads {
		rec, err := contract.ValidateRaw(payload)
		if err != nil {
			shapeRejected++
			s.log.Warn("source payload failed shape validation",
				zap.Int("index", i),
				zap.Error(err))
			continue
		}
		rec.RunID = runID
		rec.IngestedAt = ingestedAt
		records = append(records, rec)
	}

	written, err := s.raw.AppendRaw(ctx, records)
	if err != nil {
		return nil, err
	}

	s.log.Info("extract complete",
		zap.String("window", win.String()),
		zap.Int("fetched", len(payloads)),
		zap.Int("written", written),
		zap.Int("shape_rejected", shapeRejected))

	return &Result{
		Fetched:       len(payloads),
		Written:       written,
		ShapeRejected: shapeRejected,
	}, nil
}
