// Package transform reads a raw batch for a window, converts it to
// validated gold candidates, aggregates to the daily grain and gates
// the batch on its rejection rate.
package transform

import (
	"context"
	"sort"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"cloudcost-etl/core/contract"
	"cloudcost-etl/core/fx"
	"cloudcost-etl/db"
	"cloudcost-etl/internal/errors"
)

// RejectedSample is one rejected raw row kept for diagnostics
type RejectedSample struct {
	Raw    contract.RawCostRecord
	Reason contract.RejectReason
	Detail string
}

// Report summarizes what happened to a raw batch
type Report struct {
	// TotalRaw is how many raw rows the window held
	TotalRaw int

	// Accepted is how many rows passed gold validation
	Accepted int

	// Rejected is how many rows were rejected
	Rejected int

	// ByReason breaks rejections down by tagged reason
	ByReason map[contract.RejectReason]int

	// Conflicts counts rows whose team/cost_center disagreed with the
	// first-seen values for their grain key
	Conflicts int

	// Samples holds the first few rejected rows for diagnostics
	Samples []RejectedSample
}

// ReasonCount is one line of the rejection breakdown
type ReasonCount struct {
	Reason contract.RejectReason
	Count  int
}

// ReasonCounts returns the rejection breakdown sorted by reason name,
// so reports render in a stable order.
func (r Report) ReasonCounts() []ReasonCount {
	out := make([]ReasonCount, 0, len(r.ByReason))
	for reason, count := range r.ByReason {
		out = append(out, ReasonCount{Reason: reason, Count: count})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Reason < out[j].Reason })
	return out
}

// RejectionRate returns the fraction of raw rows rejected
func (r Report) RejectionRate() float64 {
	if r.TotalRaw == 0 {
		return 0
	}
	return float64(r.Rejected) / float64(r.TotalRaw)
}

// Result is the transform output handed to Load
type Result struct {
	// Records are the aggregated gold records, sorted by grain key
	Records []contract.GoldCostRecord

	// TotalUSD is the sum of cost_usd across Records. Load verifies
	// the published window against this figure.
	TotalUSD decimal.Decimal

	// Report is the rejection breakdown
	Report Report
}

// Stage is the transform stage
type Stage struct {
	raw         db.RawStore
	rates       fx.Table
	threshold   float64
	sampleLimit int
	log         *zap.Logger
}

// New creates a transform stage. threshold is the maximum tolerated
// rejection rate before the batch is failed; sampleLimit caps how
// many rejected rows are kept in the report.
func New(raw db.RawStore, rates fx.Table, threshold float64, sampleLimit int, log *zap.Logger) *Stage {
	return &Stage{
		raw:         raw,
		rates:       rates,
		threshold:   threshold,
		sampleLimit: sampleLimit,
		log:         log,
	}
}

// aggregate accumulates one grain key. Team and cost_center are
// first-seen-wins: raw rows arrive in ingestion order, so the choice
// is deterministic across re-runs of the same window.
type aggregate struct {
	record contract.GoldCostRecord
}

// Run reads the raw batch for the window, coerces each row, and
// aggregates accepted candidates by (cost_date, subscription_id,
// service_name), summing cost_usd. If the rejection rate exceeds the
// configured threshold the whole batch fails: silently publishing the
// remainder would downgrade a feed outage into underreported costs.
func (s *Stage) Run(ctx context.Context, win contract.Window) (*Result, error) {
	rawRows, err := s.raw.ListRawRange(ctx, win)
	if err != nil {
		return nil, err
	}

	report := Report{
		TotalRaw: len(rawRows),
		ByReason: make(map[contract.RejectReason]int),
	}
	groups := make(map[contract.GoldKey]*aggregate)
	var order []contract.GoldKey

	for _, raw := range rawRows {
		candidate, rejection := contract.CoerceGold(raw, s.rates)
		if rejection != nil {
			report.Rejected++
			report.ByReason[rejection.Reason]++
			if len(report.Samples) < s.sampleLimit {
				report.Samples = append(report.Samples, RejectedSample{
					Raw:    raw,
					Reason: rejection.Reason,
					Detail: rejection.Detail,
				})
			}
			continue
		}
		report.Accepted++

		key := candidate.Key()
		group, seen := groups[key]
		if !seen {
			groups[key] = &aggregate{record: candidate}
			order = append(order, key)
			continue
		}

		group.record.CostUSD = group.record.CostUSD.Add(candidate.CostUSD)
		if group.record.Team != candidate.Team || group.record.CostCenter != candidate.CostCenter {
			report.Conflicts++
			s.log.Warn("allocation conflict within grain key, keeping first-seen values",
				zap.String("key", key.String()),
				zap.String("kept_team", group.record.Team),
				zap.String("kept_cost_center", group.record.CostCenter),
				zap.String("conflicting_team", candidate.Team),
				zap.String("conflicting_cost_center", candidate.CostCenter))
		}
	}

	if rate := report.RejectionRate(); rate > s.threshold {
		s.log.Error("quality gate breached",
			zap.Float64("rejection_rate", rate),
			zap.Float64("threshold", s.threshold),
			zap.Int("total_raw", report.TotalRaw),
			zap.Int("rejected", report.Rejected))
		return nil, errors.QualityGate("rejection rate exceeds threshold, refusing to publish a partial picture").
			WithContext("rejection_rate", rate).
			WithContext("threshold", s.threshold).
			WithContext("total_raw", report.TotalRaw).
			WithContext("rejected", report.Rejected).
			WithContext("by_reason", report.ByReason)
	}

	sort.Slice(order, func(i, j int) bool {
		a, b := order[i], order[j]
		if a.Date != b.Date {
			return a.Date < b.Date
		}
		if a.SubscriptionID != b.SubscriptionID {
			return a.SubscriptionID < b.SubscriptionID
		}
		return a.ServiceName < b.ServiceName
	})

	result := &Result{
		Records:  make([]contract.GoldCostRecord, 0, len(order)),
		TotalUSD: decimal.Zero,
		Report:   report,
	}
	for _, key := range order {
		rec := groups[key].record
		result.Records = append(result.Records, rec)
		result.TotalUSD = result.TotalUSD.Add(rec.CostUSD)
	}

	s.log.Info("transform complete",
		zap.String("window", win.String()),
		zap.Int("raw_rows", report.TotalRaw),
		zap.Int("accepted", report.Accepted),
		zap.Int("rejected", report.Rejected),
		zap.Int("conflicts", report.Conflicts),
		zap.Int("gold_records", len(result.Records)),
		zap.String("total_usd", result.TotalUSD.StringFixed(4)))

	return result, nil
}
