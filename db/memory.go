package db

import (
	"context"
	"sort"
	"sync"

	"cloudcost-etl/core/contract"
)

// MemoryStore is an in-process Store used by tests and the
// idempotency self-test when no database is configured. It mirrors
// the Postgres semantics: append-only raw, keyed replace on gold.
type MemoryStore struct {
	mu   sync.Mutex
	raw  []contract.RawCostRecord
	gold map[contract.GoldKey]contract.GoldCostRecord
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		gold: make(map[contract.GoldKey]contract.GoldCostRecord),
	}
}

// AppendRaw implements RawStore
func (m *MemoryStore) AppendRaw(_ context.Context, records []contract.RawCostRecord) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.raw = append(m.raw, records...)
	return len(records), nil
}

// ListRawRange implements RawStore
func (m *MemoryStore) ListRawRange(_ context.Context, win contract.Window) ([]contract.RawCostRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return latestRunRows(m.raw, win), nil
}

// UpsertGold implements GoldStore
func (m *MemoryStore) UpsertGold(_ context.Context, records []contract.GoldCostRecord) (int, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	inserted, replaced := 0, 0
	for _, rec := range records {
		key := rec.Key()
		if _, exists := m.gold[key]; exists {
			replaced++
		} else {
			inserted++
		}
		m.gold[key] = rec
	}
	return inserted, replaced, nil
}

// ListGoldRange implements GoldStore
func (m *MemoryStore) ListGoldRange(_ context.Context, win contract.Window) ([]contract.GoldCostRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []contract.GoldCostRecord
	for _, rec := range m.gold {
		if win.Contains(rec.CostDate) {
			out = append(out, rec)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i].Key(), out[j].Key()
		if a.Date != b.Date {
			return a.Date < b.Date
		}
		if a.SubscriptionID != b.SubscriptionID {
			return a.SubscriptionID < b.SubscriptionID
		}
		return a.ServiceName < b.ServiceName
	})
	return out, nil
}

// RawCount returns the number of raw rows ever appended
func (m *MemoryStore) RawCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.raw)
}

// GoldCount returns the number of gold rows currently published
func (m *MemoryStore) GoldCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.gold)
}
