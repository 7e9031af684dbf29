// Package contract defines the two record shapes of the warehouse
// (unvalidated raw, constraint-enforced gold) and the coercion rules
// between them. Raw is accept-all: it preserves whatever the source
// sent. Gold is strict: a GoldCostRecord has passed every business
// rule and needs no further checks.
package contract

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"cloudcost-etl/core/fx"
	"cloudcost-etl/internal/errors"
)

// DateFormat is the calendar date format used on the wire and in keys
const DateFormat = "2006-01-02"

// SourceRecord is one line item as the source API reports it.
// Optional fields are pointers because the API sends nulls when
// billing data is delayed or allocation metadata is missing.
type SourceRecord struct {
	UsageDate      *string `json:"usage_date"`
	SubscriptionID *string `json:"subscription_id"`
	ServiceName    *string `json:"service_name"`
	Cost           *string `json:"cost"`
	Currency       *string `json:"currency"`
	Team           *string `json:"team"`
	CostCenter     *string `json:"cost_center"`
}

// RawCostRecord is the all-text landing-zone copy of a source line
// item. It is never rejected for content and never mutated after
// ingestion; malformed values are kept verbatim for forensic replay.
type RawCostRecord struct {
	UsageDate      string    `json:"usage_date"`
	SubscriptionID string    `json:"subscription_id"`
	ServiceName    string    `json:"service_name"`
	Cost           string    `json:"cost"`
	Currency       string    `json:"currency"`
	Team           string    `json:"team"`
	CostCenter     string    `json:"cost_center"`
	RunID          uuid.UUID `json:"run_id"`
	IngestedAt     time.Time `json:"ingested_at"`
}

// GoldKey is the grain of the gold table: day × subscription × service.
// The date is kept in ISO form so the struct is a stable map key.
type GoldKey struct {
	Date           string
	SubscriptionID string
	ServiceName    string
}

// String returns the key in a loggable form
func (k GoldKey) String() string {
	return k.Date + "/" + k.SubscriptionID + "/" + k.ServiceName
}

// GoldCostRecord is the published unit of truth. Every field has been
// validated; CostUSD is non-negative and in USD.
type GoldCostRecord struct {
	CostDate       time.Time       `json:"cost_date"`
	SubscriptionID string          `json:"subscription_id"`
	ServiceName    string          `json:"service_name"`
	Team           string          `json:"team"`
	CostCenter     string          `json:"cost_center"`
	CostUSD        decimal.Decimal `json:"cost_usd"`
}

// Key returns the grain key of the record
func (g GoldCostRecord) Key() GoldKey {
	return GoldKey{
		Date:           g.CostDate.Format(DateFormat),
		SubscriptionID: g.SubscriptionID,
		ServiceName:    g.ServiceName,
	}
}

// RejectReason tags why a raw record did not make it to gold
type RejectReason string

const (
	ReasonBadDate           RejectReason = "bad_date"
	ReasonNonNumericCost    RejectReason = "non_numeric_cost"
	ReasonNegativeCost      RejectReason = "negative_cost"
	ReasonUnknownCurrency   RejectReason = "unknown_currency"
	ReasonMissingTeam       RejectReason = "missing_team"
	ReasonMissingCostCenter RejectReason = "missing_cost_center"
)

// Rejection describes a per-record business-rule failure. Rejections
// are data, not bugs: they are tallied and reported, never raised as
// run-fatal errors on their own.
type Rejection struct {
	Reason RejectReason
	Detail string
}

func reject(reason RejectReason, detail string) *Rejection {
	return &Rejection{Reason: reason, Detail: detail}
}

// costSentinels are the placeholder values the source emits when
// billing data is delayed. They are never valid costs.
var costSentinels = map[string]bool{
	"":        true,
	"N/A":     true,
	"null":    true,
	"None":    true,
	"pending": true,
}

// ValidateRaw checks only structural shape: the identifying fields and
// the cost must be present in the payload. It never judges content;
// "N/A" is a perfectly good raw cost. Optional fields flatten null to
// the empty string.
func ValidateRaw(src SourceRecord) (RawCostRecord, error) {
	missing := func(name string) error {
		return errors.Validation("source payload missing field: " + name)
	}

	if src.UsageDate == nil {
		return RawCostRecord{}, missing("usage_date")
	}
	if src.SubscriptionID == nil {
		return RawCostRecord{}, missing("subscription_id")
	}
	if src.ServiceName == nil {
		return RawCostRecord{}, missing("service_name")
	}
	if src.Cost == nil {
		return RawCostRecord{}, missing("cost")
	}

	deref := func(p *string) string {
		if p == nil {
			return ""
		}
		return *p
	}

	return RawCostRecord{
		UsageDate:      *src.UsageDate,
		SubscriptionID: *src.SubscriptionID,
		ServiceName:    *src.ServiceName,
		Cost:           *src.Cost,
		Currency:       deref(src.Currency),
		Team:           deref(src.Team),
		CostCenter:     deref(src.CostCenter),
	}, nil
}

// CoerceGold attempts to turn a raw record into a gold candidate:
// parse the date, parse the cost, convert to USD, require allocation
// fields, require a non-negative result. The first failing rule wins;
// the returned Rejection is nil only when every rule passed.
func CoerceGold(raw RawCostRecord, rates fx.Table) (GoldCostRecord, *Rejection) {
	costDate, err := time.ParseInLocation(DateFormat, strings.TrimSpace(raw.UsageDate), time.UTC)
	if err != nil {
		return GoldCostRecord{}, reject(ReasonBadDate, "unparseable usage_date: "+raw.UsageDate)
	}

	// Strip thousands separators; the API formats large costs with
	// commas ("142,857.23").
	cleaned := strings.ReplaceAll(strings.TrimSpace(raw.Cost), ",", "")
	if costSentinels[cleaned] {
		return GoldCostRecord{}, reject(ReasonNonNumericCost, "cost sentinel: "+raw.Cost)
	}
	baseCost, err := decimal.NewFromString(cleaned)
	if err != nil {
		return GoldCostRecord{}, reject(ReasonNonNumericCost, "unparseable cost: "+raw.Cost)
	}

	rate, ok := rates.Lookup(raw.Currency)
	if !ok {
		return GoldCostRecord{}, reject(ReasonUnknownCurrency, "no conversion rate for currency: "+raw.Currency)
	}
	costUSD := baseCost.Mul(rate)

	team := strings.TrimSpace(raw.Team)
	if team == "" {
		return GoldCostRecord{}, reject(ReasonMissingTeam, "team is required for cost allocation")
	}
	costCenter := strings.TrimSpace(raw.CostCenter)
	if costCenter == "" {
		return GoldCostRecord{}, reject(ReasonMissingCostCenter, "cost_center is required for cost allocation")
	}

	// A refund should arrive as a separate credit record; a negative
	// converted cost indicates a bug or bad feed.
	if costUSD.IsNegative() {
		return GoldCostRecord{}, reject(ReasonNegativeCost, "negative cost: "+costUSD.String())
	}

	return GoldCostRecord{
		CostDate:       costDate,
		SubscriptionID: raw.SubscriptionID,
		ServiceName:    raw.ServiceName,
		Team:           team,
		CostCenter:     costCenter,
		CostUSD:        costUSD,
	}, nil
}

// Window is an inclusive [start, end] date range. All pipeline
// operations are bounded by a window; gold rows outside it are never
// touched.
type Window struct {
	Start time.Time
	End   time.Time
}

// ParseWindow parses a window from ISO date strings
func ParseWindow(start, end string) (Window, error) {
	s, err := time.ParseInLocation(DateFormat, start, time.UTC)
	if err != nil {
		return Window{}, errors.Wrapf(errors.TypeConfig, err, "invalid start date %q", start)
	}
	e, err := time.ParseInLocation(DateFormat, end, time.UTC)
	if err != nil {
		return Window{}, errors.Wrapf(errors.TypeConfig, err, "invalid end date %q", end)
	}
	if s.After(e) {
		return Window{}, errors.Newf(errors.TypeConfig, "start date %s after end date %s", start, end)
	}
	return Window{Start: s, End: e}, nil
}

// LastNDays returns a window covering the n days ending today (UTC)
func LastNDays(n int) Window {
	now := time.Now().UTC()
	end := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	return Window{Start: end.AddDate(0, 0, -(n - 1)), End: end}
}

// StartISO returns the start date in ISO form
func (w Window) StartISO() string { return w.Start.Format(DateFormat) }

// EndISO returns the end date in ISO form
func (w Window) EndISO() string { return w.End.Format(DateFormat) }

// Contains reports whether a date falls inside the window
func (w Window) Contains(d time.Time) bool {
	return !d.Before(w.Start) && !d.After(w.End)
}

// String returns the window in a loggable form
func (w Window) String() string {
	return w.StartISO() + ".." + w.EndISO()
}
