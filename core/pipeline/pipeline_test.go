package pipeline

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"cloudcost-etl/core/contract"
	"cloudcost-etl/db"
	"cloudcost-etl/internal/errors"
)

// stubSource serves a fixed payload, like a frozen day of the real API
type stubSource struct {
	records []contract.SourceRecord
	err     error
	calls   int
}

func (s *stubSource) FetchCosts(_ context.Context, _ contract.Window) ([]contract.SourceRecord, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	return s.records, nil
}

func ptr(s string) *string { return &s }

func srcRecord(date, sub, service, cost, currency string) contract.SourceRecord {
	return contract.SourceRecord{
		UsageDate:      ptr(date),
		SubscriptionID: ptr(sub),
		ServiceName:    ptr(service),
		Cost:           ptr(cost),
		Currency:       ptr(currency),
		Team:           ptr("Search Infrastructure"),
		CostCenter:     ptr("CC-4521"),
	}
}

func window(t *testing.T, start, end string) contract.Window {
	t.Helper()
	win, err := contract.ParseWindow(start, end)
	require.NoError(t, err)
	return win
}

func newRunner(source *stubSource, store db.Store, threshold float64) *Runner {
	opts := DefaultOptions()
	opts.RejectionThreshold = threshold
	return New(source, store, opts, zap.NewNop())
}

// The reference end-to-end scenario: three raw rows for one day, one
// rejected for an unknown currency, the other two aggregated into a
// single gold row.
func TestEndToEndScenario(t *testing.T) {
	source := &stubSource{records: []contract.SourceRecord{
		srcRecord("2024-01-01", "aws-prod-001", "Compute", "10.00", "USD"),
		srcRecord("2024-01-01", "aws-prod-001", "Compute", "5.00", "USD"),
		srcRecord("2024-01-01", "aws-prod-001", "Storage", "3.00", "XYZ"),
	}}
	store := db.NewMemoryStore()
	runner := newRunner(source, store, 0.50)
	win := window(t, "2024-01-01", "2024-01-01")

	result, err := runner.Run(context.Background(), win)
	require.NoError(t, err)

	assert.Equal(t, 3, result.Extract.Fetched)
	assert.Equal(t, 3, result.Extract.Written)
	assert.Equal(t, 0, result.Extract.ShapeRejected)
	assert.Equal(t, 2, result.Transform.Accepted)
	assert.Equal(t, 1, result.Transform.ByReason[contract.ReasonUnknownCurrency])
	assert.Equal(t, 1, result.Load.Inserted)
	assert.Equal(t, 0, result.Load.Replaced)

	published, err := runner.Snapshot(context.Background(), win)
	require.NoError(t, err)
	require.Len(t, published, 1)
	rec := published[0]
	assert.Equal(t, "Compute", rec.ServiceName)
	assert.Equal(t, "2024-01-01", rec.Key().Date)
	assert.True(t, rec.CostUSD.Equal(decimal.RequireFromString("15.00")),
		"expected 15.00, got %s", rec.CostUSD)
}

func TestSecondRunIsIdempotent(t *testing.T) {
	source := &stubSource{records: []contract.SourceRecord{
		srcRecord("2024-01-01", "aws-prod-001", "Compute", "10.00", "USD"),
		srcRecord("2024-01-01", "aws-prod-001", "Compute", "5.00", "USD"),
		srcRecord("2024-01-01", "aws-prod-001", "Storage", "3.00", "XYZ"),
	}}
	store := db.NewMemoryStore()
	runner := newRunner(source, store, 0.50)
	win := window(t, "2024-01-01", "2024-01-01")

	first, err := runner.Run(context.Background(), win)
	require.NoError(t, err)
	assert.Equal(t, 1, first.Load.Inserted)

	second, err := runner.Run(context.Background(), win)
	require.NoError(t, err)
	assert.Equal(t, 0, second.Load.Inserted)
	assert.Equal(t, 1, second.Load.Replaced)

	published, err := runner.Snapshot(context.Background(), win)
	require.NoError(t, err)
	require.Len(t, published, 1)
	assert.True(t, published[0].CostUSD.Equal(decimal.RequireFromString("15.00")),
		"second run must converge to the same value, got %s", published[0].CostUSD)

	// Raw keeps both runs' rows: append-only, never truncated
	assert.Equal(t, 6, store.RawCount())
}

func TestSelfTestPasses(t *testing.T) {
	source := &stubSource{records: []contract.SourceRecord{
		srcRecord("2024-01-01", "aws-prod-001", "Compute", "10.00", "USD"),
		srcRecord("2024-01-02", "aws-prod-001", "Compute", "20.00", "EUR"),
	}}
	store := db.NewMemoryStore()
	runner := newRunner(source, store, 0.50)

	err := runner.SelfTest(context.Background(), window(t, "2024-01-01", "2024-01-02"))
	require.NoError(t, err)
	assert.Equal(t, 2, source.calls)
}

func TestQualityGateAbortsBeforeLoad(t *testing.T) {
	// 2 of 3 rejected = 66%, threshold 50%: the 33% remainder must
	// not be published.
	source := &stubSource{records: []contract.SourceRecord{
		srcRecord("2024-01-01", "aws-prod-001", "Compute", "10.00", "USD"),
		srcRecord("2024-01-01", "aws-prod-001", "Storage", "N/A", "USD"),
		srcRecord("2024-01-01", "aws-prod-001", "Database", "pending", "USD"),
	}}
	store := db.NewMemoryStore()
	runner := newRunner(source, store, 0.50)
	win := window(t, "2024-01-01", "2024-01-01")

	_, err := runner.Run(context.Background(), win)
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.TypeQualityGate), "got %v", err)

	// Gold untouched, raw rows left in place for inspection
	assert.Equal(t, 0, store.GoldCount())
	assert.Equal(t, 3, store.RawCount())
}

func TestSourceFailureAbortsRun(t *testing.T) {
	source := &stubSource{err: errors.Source("connection refused", nil)}
	store := db.NewMemoryStore()
	runner := newRunner(source, store, 0.50)

	_, err := runner.Run(context.Background(), window(t, "2024-01-01", "2024-01-01"))
	require.Error(t, err)
	assert.Equal(t, 0, store.RawCount())
	assert.Equal(t, 0, store.GoldCount())
}

func TestShapeRejectedPayloadsAreCountedNotFatal(t *testing.T) {
	missingCost := contract.SourceRecord{
		UsageDate:      ptr("2024-01-01"),
		SubscriptionID: ptr("aws-prod-001"),
		ServiceName:    ptr("Compute"),
		// Cost omitted entirely
	}
	source := &stubSource{records: []contract.SourceRecord{
		srcRecord("2024-01-01", "aws-prod-001", "Compute", "10.00", "USD"),
		missingCost,
	}}
	store := db.NewMemoryStore()
	runner := newRunner(source, store, 0.50)

	result, err := runner.Run(context.Background(), window(t, "2024-01-01", "2024-01-01"))
	require.NoError(t, err)
	assert.Equal(t, 1, result.Extract.ShapeRejected)
	assert.Equal(t, 1, result.Extract.Written)
	assert.Equal(t, 1, store.GoldCount())
}

func TestRunDoesNotTouchOtherWindows(t *testing.T) {
	store := db.NewMemoryStore()

	janSource := &stubSource{records: []contract.SourceRecord{
		srcRecord("2024-01-15", "aws-prod-001", "Compute", "10.00", "USD"),
	}}
	_, err := newRunner(janSource, store, 0.50).Run(context.Background(),
		window(t, "2024-01-01", "2024-01-31"))
	require.NoError(t, err)

	febSource := &stubSource{records: []contract.SourceRecord{
		srcRecord("2024-02-15", "aws-prod-001", "Compute", "99.00", "USD"),
	}}
	runner := newRunner(febSource, store, 0.50)
	_, err = runner.Run(context.Background(), window(t, "2024-02-01", "2024-02-29"))
	require.NoError(t, err)

	jan, err := runner.Snapshot(context.Background(), window(t, "2024-01-01", "2024-01-31"))
	require.NoError(t, err)
	require.Len(t, jan, 1)
	assert.True(t, jan[0].CostUSD.Equal(decimal.RequireFromString("10.00")),
		"january row must survive a february run untouched")
}

func TestNegativeCostNeverReachesGold(t *testing.T) {
	source := &stubSource{records: []contract.SourceRecord{
		srcRecord("2024-01-01", "aws-prod-001", "Compute", "10.00", "USD"),
		srcRecord("2024-01-01", "aws-prod-001", "Refunds", "-50.00", "USD"),
	}}
	store := db.NewMemoryStore()
	runner := newRunner(source, store, 0.50)
	win := window(t, "2024-01-01", "2024-01-01")

	result, err := runner.Run(context.Background(), win)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Transform.ByReason[contract.ReasonNegativeCost])

	published, err := runner.Snapshot(context.Background(), win)
	require.NoError(t, err)
	for _, rec := range published {
		assert.False(t, rec.CostUSD.IsNegative())
		assert.NotEqual(t, "Refunds", rec.ServiceName)
	}
}
