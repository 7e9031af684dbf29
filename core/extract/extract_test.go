package extract

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"cloudcost-etl/core/contract"
	"cloudcost-etl/db"
	"cloudcost-etl/internal/errors"
)

type stubSource struct {
	records []contract.SourceRecord
	err     error
}

func (s *stubSource) FetchCosts(_ context.Context, _ contract.Window) ([]contract.SourceRecord, error) {
	return s.records, s.err
}

func ptr(s string) *string { return &s }

func payload(date, cost string) contract.SourceRecord {
	return contract.SourceRecord{
		UsageDate:      ptr(date),
		SubscriptionID: ptr("aws-prod-001"),
		ServiceName:    ptr("Compute"),
		Cost:           ptr(cost),
		Currency:       ptr("USD"),
		Team:           ptr("team"),
		CostCenter:     ptr("cc"),
	}
}

func window(t *testing.T) contract.Window {
	t.Helper()
	win, err := contract.ParseWindow("2024-01-01", "2024-01-31")
	require.NoError(t, err)
	return win
}

func TestExtractWritesValidPayloads(t *testing.T) {
	store := db.NewMemoryStore()
	stage := New(&stubSource{records: []contract.SourceRecord{
		payload("2024-01-01", "10.00"),
		payload("2024-01-02", "N/A"), // garbage content is still valid raw shape
	}}, store, zap.NewNop())

	runID := uuid.New()
	result, err := stage.Run(context.Background(), runID, window(t))
	require.NoError(t, err)
	assert.Equal(t, 2, result.Fetched)
	assert.Equal(t, 2, result.Written)
	assert.Equal(t, 0, result.ShapeRejected)

	rows, err := store.ListRawRange(context.Background(), window(t))
	require.NoError(t, err)
	require.Len(t, rows, 2)
	for _, row := range rows {
		assert.Equal(t, runID, row.RunID)
		assert.False(t, row.IngestedAt.IsZero())
	}
}

func TestExtractCountsShapeRejections(t *testing.T) {
	missingDate := payload("2024-01-01", "10.00")
	missingDate.UsageDate = nil

	store := db.NewMemoryStore()
	stage := New(&stubSource{records: []contract.SourceRecord{
		payload("2024-01-01", "10.00"),
		missingDate,
	}}, store, zap.NewNop())

	result, err := stage.Run(context.Background(), uuid.New(), window(t))
	require.NoError(t, err)
	assert.Equal(t, 2, result.Fetched)
	assert.Equal(t, 1, result.Written)
	assert.Equal(t, 1, result.ShapeRejected)
}

func TestExtractPropagatesSourceFailure(t *testing.T) {
	store := db.NewMemoryStore()
	stage := New(&stubSource{err: errors.Source("source unreachable", nil)}, store, zap.NewNop())

	_, err := stage.Run(context.Background(), uuid.New(), window(t))
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.TypeSource))
	assert.Equal(t, 0, store.RawCount())
}

func TestExtractAppendsAcrossRuns(t *testing.T) {
	store := db.NewMemoryStore()
	stage := New(&stubSource{records: []contract.SourceRecord{
		payload("2024-01-01", "10.00"),
	}}, store, zap.NewNop())

	_, err := stage.Run(context.Background(), uuid.New(), window(t))
	require.NoError(t, err)
	_, err = stage.Run(context.Background(), uuid.New(), window(t))
	require.NoError(t, err)

	// Raw is append-only: a re-run lands a second copy, never truncates
	assert.Equal(t, 2, store.RawCount())
}
