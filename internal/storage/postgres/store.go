package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"spreadScope/internal/model"
)

const schema = `
CREATE TABLE IF NOT EXISTS execution_outcomes (
	attempt_id TEXT PRIMARY KEY,
	opportunity_id TEXT NOT NULL,
	pair TEXT NOT NULL,
	quote_asset TEXT NOT NULL,
	buy_pool TEXT NOT NULL,
	buy_family TEXT NOT NULL,
	sell_pool TEXT NOT NULL,
	sell_family TEXT NOT NULL,
	amount_in NUMERIC NOT NULL,
	expected_out NUMERIC NOT NULL,
	expected_profit NUMERIC NOT NULL,
	realized_profit NUMERIC NOT NULL,
	profit_pct NUMERIC NOT NULL,
	status TEXT NOT NULL,
	attempts INTEGER NOT NULL,
	tx_hash TEXT,
	channel TEXT NOT NULL,
	error TEXT,
	discovered_at TIMESTAMPTZ NOT NULL,
	finished_at TIMESTAMPTZ NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE TABLE IF NOT EXISTS indexer_state (
	name TEXT PRIMARY KEY,
	last_processed_block BIGINT NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);`

// Store provides Postgres persistence for execution outcomes and the
// discovery cursor.
type Store struct {
	pool *pgxpool.Pool
}

func NewStore(ctx context.Context, dsn string) (*Store, error) {
	if dsn == "" {
		return nil, fmt.Errorf("pg dsn is required")
	}
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, err
	}
	return &Store{pool: pool}, nil
}

func (s *Store) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// EnsureSchema creates the tables used by the store.
func (s *Store) EnsureSchema(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, schema)
	return err
}

// UpsertOutcomes inserts or updates execution outcomes by attempt ID.
func (s *Store) UpsertOutcomes(ctx context.Context, outcomes []model.Outcome) error {
	if len(outcomes) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, o := range outcomes {
		batch.Queue(`
			INSERT INTO execution_outcomes (
				attempt_id, opportunity_id, pair, quote_asset, buy_pool, buy_family, sell_pool, sell_family,
				amount_in, expected_out, expected_profit, realized_profit, profit_pct,
				status, attempts, tx_hash, channel, error, discovered_at, finished_at, created_at, updated_at
			) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,now(),now())
			ON CONFLICT (attempt_id)
			DO UPDATE SET
				realized_profit = EXCLUDED.realized_profit,
				status = EXCLUDED.status,
				attempts = EXCLUDED.attempts,
				tx_hash = EXCLUDED.tx_hash,
				error = EXCLUDED.error,
				finished_at = EXCLUDED.finished_at,
				updated_at = now()
		`,
			o.AttemptID,
			o.OpportunityID,
			o.Pair,
			o.QuoteAsset,
			o.BuyPool,
			o.BuyFamily,
			o.SellPool,
			o.SellFamily,
			o.AmountIn,
			o.ExpectedOut,
			o.ExpectedProfit,
			o.RealizedProfit,
			o.ProfitPct,
			string(o.Status),
			o.Attempts,
			nullable(o.TxHash),
			o.Channel,
			nullable(o.Error),
			o.DiscoveredAt,
			o.FinishedAt,
		)
	}

	br := s.pool.SendBatch(ctx, batch)
	defer br.Close()

	for range outcomes {
		if _, err := br.Exec(); err != nil {
			return err
		}
	}
	return nil
}

// LoadState returns last_processed_block for a name.
func (s *Store) LoadState(ctx context.Context, name string) (uint64, bool, error) {
	if name == "" {
		return 0, false, fmt.Errorf("state name required")
	}
	var block int64
	row := s.pool.QueryRow(ctx, `SELECT last_processed_block FROM indexer_state WHERE name=$1`, name)
	if err := row.Scan(&block); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, false, nil
		}
		return 0, false, err
	}
	return uint64(block), true, nil
}

// SaveState upserts last_processed_block for a name.
func (s *Store) SaveState(ctx context.Context, name string, block uint64) error {
	if name == "" {
		return fmt.Errorf("state name required")
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO indexer_state (name, last_processed_block, updated_at)
		VALUES ($1, $2, now())
		ON CONFLICT (name) DO UPDATE
		SET last_processed_block = EXCLUDED.last_processed_block, updated_at = now()
	`, name, int64(block))
	return err
}

// CursorStore adapts the indexer_state table to storage.CursorStore.
type CursorStore struct {
	Store *Store
	Name  string
}

func (c *CursorStore) Load(ctx context.Context) (uint64, bool, error) {
	if c == nil || c.Store == nil {
		return 0, false, nil
	}
	return c.Store.LoadState(ctx, c.Name)
}

func (c *CursorStore) Save(ctx context.Context, block uint64) error {
	if c == nil || c.Store == nil {
		return nil
	}
	return c.Store.SaveState(ctx, c.Name, block)
}

func nullable(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
