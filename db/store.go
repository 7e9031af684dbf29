// Package db defines the warehouse store interfaces and their
// implementations. The raw table is an unconstrained, append-only
// landing zone; the gold table carries the composite primary key and
// check constraints that backstop application-level validation.
package db

import (
	"context"
	"time"

	"github.com/google/uuid"

	"cloudcost-etl/core/contract"
)

// RawStore is the landing zone for unvalidated source records
type RawStore interface {
	// AppendRaw appends records to the raw table. Raw rows are never
	// updated or deleted by the pipeline.
	AppendRaw(ctx context.Context, records []contract.RawCostRecord) (int, error)

	// ListRawRange returns the raw rows of the most recent extraction
	// run covering the window, ordered by ingestion sequence. Raw is
	// append-only, so every re-extraction of a window lands another
	// copy of its rows; only the latest run is authoritative — summing
	// across runs would double-count every re-run. Malformed
	// usage_date values from that run are included so they surface
	// downstream as bad_date rejections instead of vanishing.
	ListRawRange(ctx context.Context, win contract.Window) ([]contract.RawCostRecord, error)
}

// GoldStore is the constraint-enforced publication table
type GoldStore interface {
	// UpsertGold publishes records keyed on (cost_date,
	// subscription_id, service_name): insert if absent, fully replace
	// the non-key columns if present. Each write is a single atomic
	// conditional statement, never read-then-write, so concurrent
	// re-runs converge per key.
	UpsertGold(ctx context.Context, records []contract.GoldCostRecord) (inserted, replaced int, err error)

	// ListGoldRange returns gold rows dated within the window,
	// ordered by (cost_date, subscription_id, service_name).
	ListGoldRange(ctx context.Context, win contract.Window) ([]contract.GoldCostRecord, error)
}

// Store combines both warehouse tiers
type Store interface {
	RawStore
	GoldStore
}

// rawInWindow reports whether a raw usage_date belongs to the window.
// Valid ISO dates match by plain text range. A value malformed in the
// day component ("2024-01-bogus", "2024-01-32") sorts past the range's
// upper bound, so unparseable values are matched on their month prefix
// instead; losing them would hide bad_date rejections from Transform.
func rawInWindow(date string, win contract.Window) bool {
	start, end := win.StartISO(), win.EndISO()
	if date >= start && date <= end {
		return true
	}
	if len(date) < 7 {
		return false
	}
	if _, err := time.ParseInLocation(contract.DateFormat, date, time.UTC); err == nil {
		return false
	}
	month := date[:7]
	return month >= start[:7] && month <= end[:7]
}

// latestRunRows narrows candidate raw rows, already in ingestion
// order, to the window rows of the most recent run that touched the
// window. The run is identified by the run_id of the last matching
// row, so rows appended without a run_id all count as one run.
func latestRunRows(candidates []contract.RawCostRecord, win contract.Window) []contract.RawCostRecord {
	var (
		latest uuid.UUID
		found  bool
	)
	for _, r := range candidates {
		if rawInWindow(r.UsageDate, win) {
			latest = r.RunID
			found = true
		}
	}
	if !found {
		return nil
	}

	var out []contract.RawCostRecord
	for _, r := range candidates {
		if r.RunID == latest && rawInWindow(r.UsageDate, win) {
			out = append(out, r)
		}
	}
	return out
}
