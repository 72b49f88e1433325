// Package store defines the persistence interface for the ledger engine.
// Implementations include PostgreSQL (source of truth), Redis (snapshot and
// watchlist cache), and in-memory (for testing).
package store

import (
	"context"
	"errors"

	"github.com/papertrade/ledger-engine/internal/model"
)

var (
	ErrNotFound       = errors.New("store: not found")
	ErrAlreadyWatched = errors.New("store: symbol already on watchlist")
)

// Store is the persistence interface. Trades are the only source of truth;
// every derived figure is recomputed from them.
type Store interface {
	// --- Trade ledger ---

	// ListTrades returns all of owner's trades in replay order.
	ListTrades(ctx context.Context, owner string) ([]model.Trade, error)

	// GetTrade returns one trade, or ErrNotFound if owner has no such trade.
	GetTrade(ctx context.Context, owner, id string) (model.Trade, error)

	// InsertTrade appends an immutable trade record. The store assigns
	// t.Seq, and t.ID when empty.
	InsertTrade(ctx context.Context, t *model.Trade) error

	// DeleteTrade removes a trade scoped to owner. ErrNotFound if absent.
	DeleteTrade(ctx context.Context, owner, id string) error

	// --- Watchlist ---

	// ListWatchlist returns owner's watched symbols, oldest first.
	ListWatchlist(ctx context.Context, owner string) ([]model.WatchItem, error)

	// AddWatch adds a symbol. ErrAlreadyWatched on duplicates.
	AddWatch(ctx context.Context, item model.WatchItem) error

	// RemoveWatch removes a symbol. ErrNotFound if it was not watched.
	RemoveWatch(ctx context.Context, owner, symbol string) error

	// WatchedSymbols returns the distinct symbols watched by anyone.
	WatchedSymbols(ctx context.Context) ([]string, error)
}

// SnapshotCache holds derived snapshots for fast reads. It is never
// authoritative: a miss or an error means "replay".
type SnapshotCache interface {
	GetSnapshot(ctx context.Context, owner string) (model.Snapshot, bool, error)
	PutSnapshot(ctx context.Context, snap model.Snapshot) error
	InvalidateSnapshot(ctx context.Context, owner string) error
}
