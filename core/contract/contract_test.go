package contract

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cloudcost-etl/core/fx"
)

func ptr(s string) *string { return &s }

func validSource() SourceRecord {
	return SourceRecord{
		UsageDate:      ptr("2024-01-15"),
		SubscriptionID: ptr("aws-prod-001"),
		ServiceName:    ptr("EC2 Compute"),
		Cost:           ptr("142857.23"),
		Currency:       ptr("USD"),
		Team:           ptr("Search Infrastructure"),
		CostCenter:     ptr("CC-4521"),
	}
}

func TestValidateRawAcceptsCompletePayload(t *testing.T) {
	raw, err := ValidateRaw(validSource())
	require.NoError(t, err)
	assert.Equal(t, "2024-01-15", raw.UsageDate)
	assert.Equal(t, "142857.23", raw.Cost)
	assert.Equal(t, "Search Infrastructure", raw.Team)
}

func TestValidateRawAcceptsGarbageContent(t *testing.T) {
	// Raw is accept-all: malformed values are content, not shape.
	src := validSource()
	src.UsageDate = ptr("not-a-date")
	src.Cost = ptr("N/A")
	src.Currency = nil
	src.Team = nil

	raw, err := ValidateRaw(src)
	require.NoError(t, err)
	assert.Equal(t, "not-a-date", raw.UsageDate)
	assert.Equal(t, "N/A", raw.Cost)
	assert.Equal(t, "", raw.Currency)
	assert.Equal(t, "", raw.Team)
}

func TestValidateRawRejectsMissingRequiredFields(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*SourceRecord)
	}{
		{"usage_date", func(s *SourceRecord) { s.UsageDate = nil }},
		{"subscription_id", func(s *SourceRecord) { s.SubscriptionID = nil }},
		{"service_name", func(s *SourceRecord) { s.ServiceName = nil }},
		{"cost", func(s *SourceRecord) { s.Cost = nil }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			src := validSource()
			tc.mutate(&src)
			_, err := ValidateRaw(src)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.name)
		})
	}
}

func rawRecord() RawCostRecord {
	return RawCostRecord{
		UsageDate:      "2024-01-15",
		SubscriptionID: "aws-prod-001",
		ServiceName:    "EC2 Compute",
		Cost:           "100.00",
		Currency:       "USD",
		Team:           "Search Infrastructure",
		CostCenter:     "CC-4521",
	}
}

func TestCoerceGoldValidRecord(t *testing.T) {
	gold, rejection := CoerceGold(rawRecord(), fx.Default())
	require.Nil(t, rejection)
	assert.Equal(t, time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC), gold.CostDate)
	assert.True(t, gold.CostUSD.Equal(decimal.RequireFromString("100.00")),
		"got %s", gold.CostUSD)
}

func TestCoerceGoldConvertsCurrency(t *testing.T) {
	raw := rawRecord()
	raw.Cost = "100.00"
	raw.Currency = "EUR"

	gold, rejection := CoerceGold(raw, fx.Default())
	require.Nil(t, rejection)
	assert.True(t, gold.CostUSD.Equal(decimal.RequireFromString("108")),
		"got %s", gold.CostUSD)
}

func TestCoerceGoldStripsCommaSeparators(t *testing.T) {
	raw := rawRecord()
	raw.Cost = "142,857.23"

	gold, rejection := CoerceGold(raw, fx.Default())
	require.Nil(t, rejection)
	assert.True(t, gold.CostUSD.Equal(decimal.RequireFromString("142857.23")))
}

func TestCoerceGoldDefaultsMissingCurrencyToUSD(t *testing.T) {
	raw := rawRecord()
	raw.Currency = ""
	raw.Cost = "50.00"

	gold, rejection := CoerceGold(raw, fx.Default())
	require.Nil(t, rejection)
	assert.True(t, gold.CostUSD.Equal(decimal.RequireFromString("50.00")))
}

func TestCoerceGoldRejectsSentinels(t *testing.T) {
	for _, sentinel := range []string{"N/A", "pending", "", "null", "None"} {
		t.Run("sentinel_"+sentinel, func(t *testing.T) {
			raw := rawRecord()
			raw.Cost = sentinel
			_, rejection := CoerceGold(raw, fx.Default())
			require.NotNil(t, rejection)
			assert.Equal(t, ReasonNonNumericCost, rejection.Reason)
		})
	}
}

func TestCoerceGoldRejectionReasons(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*RawCostRecord)
		reason RejectReason
	}{
		{"bad date", func(r *RawCostRecord) { r.UsageDate = "01/15/2024" }, ReasonBadDate},
		{"garbage cost", func(r *RawCostRecord) { r.Cost = "abc" }, ReasonNonNumericCost},
		{"unknown currency", func(r *RawCostRecord) { r.Currency = "XYZ" }, ReasonUnknownCurrency},
		{"missing team", func(r *RawCostRecord) { r.Team = "" }, ReasonMissingTeam},
		{"whitespace team", func(r *RawCostRecord) { r.Team = "   " }, ReasonMissingTeam},
		{"missing cost center", func(r *RawCostRecord) { r.CostCenter = "" }, ReasonMissingCostCenter},
		{"negative cost", func(r *RawCostRecord) { r.Cost = "-100.00" }, ReasonNegativeCost},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			raw := rawRecord()
			tc.mutate(&raw)
			_, rejection := CoerceGold(raw, fx.Default())
			require.NotNil(t, rejection)
			assert.Equal(t, tc.reason, rejection.Reason)
		})
	}
}

func TestCoerceGoldShortCircuitsOnFirstFailure(t *testing.T) {
	// A record that is broken several ways reports the first failing
	// rule only: date before cost before allocation.
	raw := rawRecord()
	raw.UsageDate = "garbage"
	raw.Cost = "N/A"
	raw.Team = ""

	_, rejection := CoerceGold(raw, fx.Default())
	require.NotNil(t, rejection)
	assert.Equal(t, ReasonBadDate, rejection.Reason)
}

func TestGoldKey(t *testing.T) {
	gold, rejection := CoerceGold(rawRecord(), fx.Default())
	require.Nil(t, rejection)

	key := gold.Key()
	assert.Equal(t, "2024-01-15", key.Date)
	assert.Equal(t, "aws-prod-001", key.SubscriptionID)
	assert.Equal(t, "EC2 Compute", key.ServiceName)
}

func TestParseWindow(t *testing.T) {
	win, err := ParseWindow("2024-01-01", "2024-01-31")
	require.NoError(t, err)
	assert.Equal(t, "2024-01-01..2024-01-31", win.String())
	assert.True(t, win.Contains(time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC)))
	assert.True(t, win.Contains(win.Start))
	assert.True(t, win.Contains(win.End))
	assert.False(t, win.Contains(time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)))
}

func TestParseWindowRejectsInvertedRange(t *testing.T) {
	_, err := ParseWindow("2024-02-01", "2024-01-01")
	require.Error(t, err)
}

func TestParseWindowRejectsBadDates(t *testing.T) {
	_, err := ParseWindow("2024-13-01", "2024-12-31")
	require.Error(t, err)
}
