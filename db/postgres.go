package db

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"cloudcost-etl/core/contract"
	"cloudcost-etl/internal/errors"
)

// PostgresStore implements Store on Postgres via pgx
type PostgresStore struct {
	pool *pgxpool.Pool
	log  *zap.Logger
}

// NewPostgresStore connects to Postgres and returns a store
func NewPostgresStore(ctx context.Context, url string, log *zap.Logger) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, url)
	if err != nil {
		return nil, errors.Storage("failed to create connection pool", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, errors.Storage("failed to connect to postgres", err)
	}
	return &PostgresStore{pool: pool, log: log}, nil
}

// Close releases the connection pool
func (s *PostgresStore) Close() {
	s.pool.Close()
}

// Migrate creates the warehouse tables. The raw table carries no
// constraints beyond the surrogate id: it must accept whatever the
// source sent. The gold table enforces the grain key, NOT NULL on
// allocation fields and non-negativity at the storage layer as a
// backstop against application bugs.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	const ddl = `
CREATE TABLE IF NOT EXISTS raw_cloud_costs (
    id                  BIGSERIAL PRIMARY KEY,
    usage_date          TEXT,
    subscription_id     TEXT,
    service_name        TEXT,
    cost                TEXT,
    currency            TEXT,
    team                TEXT,
    cost_center         TEXT,
    run_id              UUID,
    ingestion_timestamp TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS gold_daily_costs (
    cost_date       DATE NOT NULL,
    subscription_id TEXT NOT NULL,
    service_name    TEXT NOT NULL,
    team            TEXT NOT NULL,
    cost_center     TEXT NOT NULL,
    cost_usd        NUMERIC(18, 4) NOT NULL CHECK (cost_usd >= 0),
    PRIMARY KEY (cost_date, subscription_id, service_name)
);`

	if _, err := s.pool.Exec(ctx, ddl); err != nil {
		return errors.Storage("failed to create warehouse tables", err)
	}
	s.log.Info("warehouse tables ready",
		zap.String("raw", "raw_cloud_costs"),
		zap.String("gold", "gold_daily_costs"))
	return nil
}

// AppendRaw implements RawStore
func (s *PostgresStore) AppendRaw(ctx context.Context, records []contract.RawCostRecord) (int, error) {
	if len(records) == 0 {
		return 0, nil
	}

	batch := &pgx.Batch{}
	for _, r := range records {
		batch.Queue(`
			INSERT INTO raw_cloud_costs
			    (usage_date, subscription_id, service_name,
			     cost, currency, team, cost_center, run_id, ingestion_timestamp)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
			r.UsageDate, r.SubscriptionID, r.ServiceName,
			r.Cost, r.Currency, r.Team, r.CostCenter, r.RunID, r.IngestedAt)
	}

	br := s.pool.SendBatch(ctx, batch)
	defer br.Close()
	for range records {
		if _, err := br.Exec(); err != nil {
			return 0, errors.Storage("failed to append raw rows", err)
		}
	}
	return len(records), nil
}

// ListRawRange implements RawStore. The SQL bound is a coarse
// month-prefix range so malformed day components are not lost; the
// exact window match and latest-run selection happen in Go, shared
// with the in-memory store. Ordering by id reproduces ingestion
// order, which keeps first-seen-wins conflict resolution
// deterministic across re-runs.
func (s *PostgresStore) ListRawRange(ctx context.Context, win contract.Window) ([]contract.RawCostRecord, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT usage_date, subscription_id, service_name,
		       cost, currency, team, cost_center, run_id, ingestion_timestamp
		FROM raw_cloud_costs
		WHERE left(usage_date, 7) >= $1 AND left(usage_date, 7) <= $2
		ORDER BY id`,
		win.StartISO()[:7], win.EndISO()[:7])
	if err != nil {
		return nil, errors.Storage("failed to read raw rows", err)
	}
	defer rows.Close()

	var candidates []contract.RawCostRecord
	for rows.Next() {
		var r contract.RawCostRecord
		if err := rows.Scan(&r.UsageDate, &r.SubscriptionID, &r.ServiceName,
			&r.Cost, &r.Currency, &r.Team, &r.CostCenter, &r.RunID, &r.IngestedAt); err != nil {
			return nil, errors.Storage("failed to scan raw row", err)
		}
		candidates = append(candidates, r)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Storage("failed to iterate raw rows", err)
	}
	return latestRunRows(candidates, win), nil
}

// UpsertGold implements GoldStore. Each record is a single
// INSERT ... ON CONFLICT DO UPDATE: the store's native conflict
// resolution, not a read-then-write round trip, so concurrent or
// retried runs converge per key. xmax = 0 distinguishes a fresh
// insert from a replaced row.
func (s *PostgresStore) UpsertGold(ctx context.Context, records []contract.GoldCostRecord) (int, int, error) {
	if len(records) == 0 {
		return 0, 0, nil
	}

	batch := &pgx.Batch{}
	for _, rec := range records {
		batch.Queue(`
			INSERT INTO gold_daily_costs
			    (cost_date, subscription_id, service_name, team, cost_center, cost_usd)
			VALUES ($1, $2, $3, $4, $5, $6)
			ON CONFLICT (cost_date, subscription_id, service_name)
			DO UPDATE SET
			    team        = EXCLUDED.team,
			    cost_center = EXCLUDED.cost_center,
			    cost_usd    = EXCLUDED.cost_usd
			RETURNING (xmax = 0)`,
			rec.CostDate, rec.SubscriptionID, rec.ServiceName,
			rec.Team, rec.CostCenter, rec.CostUSD.String())
	}

	br := s.pool.SendBatch(ctx, batch)
	defer br.Close()

	inserted, replaced := 0, 0
	for range records {
		var fresh bool
		if err := br.QueryRow().Scan(&fresh); err != nil {
			return 0, 0, errors.Storage("failed to upsert gold row", err)
		}
		if fresh {
			inserted++
		} else {
			replaced++
		}
	}
	return inserted, replaced, nil
}

// ListGoldRange implements GoldStore
func (s *PostgresStore) ListGoldRange(ctx context.Context, win contract.Window) ([]contract.GoldCostRecord, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT cost_date, subscription_id, service_name, team, cost_center, cost_usd::text
		FROM gold_daily_costs
		WHERE cost_date >= $1 AND cost_date <= $2
		ORDER BY cost_date, subscription_id, service_name`,
		win.Start, win.End)
	if err != nil {
		return nil, errors.Storage("failed to read gold rows", err)
	}
	defer rows.Close()

	var out []contract.GoldCostRecord
	for rows.Next() {
		var (
			rec     contract.GoldCostRecord
			date    time.Time
			costRaw string
		)
		if err := rows.Scan(&date, &rec.SubscriptionID, &rec.ServiceName,
			&rec.Team, &rec.CostCenter, &costRaw); err != nil {
			return nil, errors.Storage("failed to scan gold row", err)
		}
		rec.CostDate = time.Date(date.Year(), date.Month(), date.Day(), 0, 0, 0, 0, time.UTC)
		rec.CostUSD, err = decimal.NewFromString(costRaw)
		if err != nil {
			return nil, errors.Storage("failed to parse gold cost", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Storage("failed to iterate gold rows", err)
	}
	return out, nil
}
