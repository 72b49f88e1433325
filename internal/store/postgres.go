package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	pgxdecimal "github.com/jackc/pgx-shopspring-decimal"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/papertrade/ledger-engine/internal/model"
)

// schema is applied by Migrate. Money is NUMERIC for exact decimal
// precision; seq is the insertion order used to break timestamp ties.
const schema = `
CREATE TABLE IF NOT EXISTS trades (
	seq         BIGSERIAL PRIMARY KEY,
	id          TEXT        NOT NULL UNIQUE,
	owner       TEXT        NOT NULL,
	symbol      TEXT        NOT NULL,
	side        TEXT        NOT NULL CHECK (side IN ('BUY', 'SELL')),
	quantity    BIGINT      NOT NULL CHECK (quantity > 0),
	price       NUMERIC     NOT NULL CHECK (price > 0),
	executed_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS trades_owner_replay_idx ON trades (owner, executed_at, seq);

CREATE TABLE IF NOT EXISTS watchlist (
	owner    TEXT        NOT NULL,
	symbol   TEXT        NOT NULL,
	added_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (owner, symbol)
);`

// NewPool connects to PostgreSQL with shopspring decimals registered for
// NUMERIC columns, and verifies connectivity.
func NewPool(ctx context.Context, dbURL string) (*pgxpool.Pool, error) {
	config, err := pgxpool.ParseConfig(dbURL)
	if err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	config.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		pgxdecimal.Register(conn.TypeMap())
		return nil
	}

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return pool, nil
}

// PostgresStore implements Store using PostgreSQL as the source of truth.
// The pool must come from NewPool so NUMERIC scans into decimal.Decimal.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL-backed store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Migrate creates the tables if they do not exist.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListTrades(ctx context.Context, owner string) ([]model.Trade, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, seq, owner, symbol, side, quantity, price, executed_at
		 FROM trades WHERE owner = $1
		 ORDER BY executed_at, seq, id`, owner)
	if err != nil {
		return nil, fmt.Errorf("list trades: %w", err)
	}
	defer rows.Close()

	return scanTrades(rows)
}

func (s *PostgresStore) GetTrade(ctx context.Context, owner, id string) (model.Trade, error) {
	var t model.Trade
	var side string
	err := s.pool.QueryRow(ctx,
		`SELECT id, seq, owner, symbol, side, quantity, price, executed_at
		 FROM trades WHERE owner = $1 AND id = $2`, owner, id).
		Scan(&t.ID, &t.Seq, &t.Owner, &t.Symbol, &side, &t.Quantity, &t.Price, &t.ExecutedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.Trade{}, fmt.Errorf("trade %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return model.Trade{}, fmt.Errorf("get trade %s: %w", id, err)
	}
	t.Side = model.Side(side)
	return t, nil
}

func (s *PostgresStore) InsertTrade(ctx context.Context, t *model.Trade) error {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	err := s.pool.QueryRow(ctx,
		`INSERT INTO trades (id, owner, symbol, side, quantity, price, executed_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 RETURNING seq`,
		t.ID, t.Owner, t.Symbol, string(t.Side), t.Quantity, t.Price, t.ExecutedAt,
	).Scan(&t.Seq)
	if err != nil {
		return fmt.Errorf("insert trade: %w", err)
	}
	return nil
}

func (s *PostgresStore) DeleteTrade(ctx context.Context, owner, id string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM trades WHERE owner = $1 AND id = $2`, owner, id)
	if err != nil {
		return fmt.Errorf("delete trade %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("trade %s: %w", id, ErrNotFound)
	}
	return nil
}

func (s *PostgresStore) ListWatchlist(ctx context.Context, owner string) ([]model.WatchItem, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT owner, symbol, added_at FROM watchlist
		 WHERE owner = $1 ORDER BY added_at, symbol`, owner)
	if err != nil {
		return nil, fmt.Errorf("list watchlist: %w", err)
	}
	defer rows.Close()

	items := []model.WatchItem{}
	for rows.Next() {
		var w model.WatchItem
		if err := rows.Scan(&w.Owner, &w.Symbol, &w.AddedAt); err != nil {
			return nil, err
		}
		items = append(items, w)
	}
	return items, rows.Err()
}

func (s *PostgresStore) AddWatch(ctx context.Context, item model.WatchItem) error {
	tag, err := s.pool.Exec(ctx,
		`INSERT INTO watchlist (owner, symbol, added_at) VALUES ($1, $2, $3)
		 ON CONFLICT (owner, symbol) DO NOTHING`,
		item.Owner, item.Symbol, item.AddedAt)
	if err != nil {
		return fmt.Errorf("add watch %s: %w", item.Symbol, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%s: %w", item.Symbol, ErrAlreadyWatched)
	}
	return nil
}

func (s *PostgresStore) RemoveWatch(ctx context.Context, owner, symbol string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM watchlist WHERE owner = $1 AND symbol = $2`, owner, symbol)
	if err != nil {
		return fmt.Errorf("remove watch %s: %w", symbol, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("watch %s: %w", symbol, ErrNotFound)
	}
	return nil
}

func (s *PostgresStore) WatchedSymbols(ctx context.Context) ([]string, error) {
	rows, err := s.pool.Query(ctx, `SELECT DISTINCT symbol FROM watchlist ORDER BY symbol`)
	if err != nil {
		return nil, fmt.Errorf("watched symbols: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var sym string
		if err := rows.Scan(&sym); err != nil {
			return nil, err
		}
		out = append(out, sym)
	}
	return out, rows.Err()
}

// pgxRows is the subset of pgx.Rows used by scanTrades.
type pgxRows interface {
	Next() bool
	Scan(dest ...interface{}) error
	Err() error
}

func scanTrades(rows pgxRows) ([]model.Trade, error) {
	var trades []model.Trade
	for rows.Next() {
		var t model.Trade
		var side string
		if err := rows.Scan(&t.ID, &t.Seq, &t.Owner, &t.Symbol, &side,
			&t.Quantity, &t.Price, &t.ExecutedAt); err != nil {
			return nil, err
		}
		t.Side = model.Side(side)
		trades = append(trades, t)
	}
	return trades, rows.Err()
}
