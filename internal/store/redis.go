package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/papertrade/ledger-engine/internal/metrics"
	"github.com/papertrade/ledger-engine/internal/model"
)

// CachedStore wraps a primary Store (PostgreSQL) with Redis. Trades always
// come from the primary. Redis holds derived snapshots (SnapshotCache) and
// a read-through copy of each watchlist; writes go to the primary and
// invalidate the affected keys.
type CachedStore struct {
	primary Store
	rdb     *redis.Client
	ttl     time.Duration
}

// NewCachedStore creates a cached wrapper around a primary store.
func NewCachedStore(primary Store, rdb *redis.Client, ttl time.Duration) *CachedStore {
	return &CachedStore{
		primary: primary,
		rdb:     rdb,
		ttl:     ttl,
	}
}

// --- Trades (never cached) ---

func (s *CachedStore) ListTrades(ctx context.Context, owner string) ([]model.Trade, error) {
	return s.primary.ListTrades(ctx, owner)
}

func (s *CachedStore) GetTrade(ctx context.Context, owner, id string) (model.Trade, error) {
	return s.primary.GetTrade(ctx, owner, id)
}

func (s *CachedStore) InsertTrade(ctx context.Context, t *model.Trade) error {
	// Drop the derived snapshot first so a failure after the write cannot
	// leave it in place.
	s.rdb.Del(ctx, snapshotKey(t.Owner))
	return s.primary.InsertTrade(ctx, t)
}

func (s *CachedStore) DeleteTrade(ctx context.Context, owner, id string) error {
	s.rdb.Del(ctx, snapshotKey(owner))
	return s.primary.DeleteTrade(ctx, owner, id)
}

// --- Watchlist (read-through) ---

func (s *CachedStore) ListWatchlist(ctx context.Context, owner string) ([]model.WatchItem, error) {
	data, err := s.rdb.Get(ctx, watchlistKey(owner)).Bytes()
	if err == nil {
		var items []model.WatchItem
		if json.Unmarshal(data, &items) == nil {
			return items, nil
		}
	}

	items, err := s.primary.ListWatchlist(ctx, owner)
	if err != nil {
		return nil, err
	}

	if data, err := json.Marshal(items); err == nil {
		s.rdb.Set(ctx, watchlistKey(owner), data, s.ttl)
	}
	return items, nil
}

func (s *CachedStore) AddWatch(ctx context.Context, item model.WatchItem) error {
	if err := s.primary.AddWatch(ctx, item); err != nil {
		return err
	}
	s.rdb.Del(ctx, watchlistKey(item.Owner))
	return nil
}

func (s *CachedStore) RemoveWatch(ctx context.Context, owner, symbol string) error {
	if err := s.primary.RemoveWatch(ctx, owner, symbol); err != nil {
		return err
	}
	s.rdb.Del(ctx, watchlistKey(owner))
	return nil
}

func (s *CachedStore) WatchedSymbols(ctx context.Context) ([]string, error) {
	return s.primary.WatchedSymbols(ctx)
}

// --- SnapshotCache ---

// GetSnapshot returns the cached snapshot. A missing key is (false, nil).
func (s *CachedStore) GetSnapshot(ctx context.Context, owner string) (model.Snapshot, bool, error) {
	data, err := s.rdb.Get(ctx, snapshotKey(owner)).Bytes()
	if errors.Is(err, redis.Nil) {
		metrics.SnapshotCache.WithLabelValues("miss").Inc()
		return model.Snapshot{}, false, nil
	}
	if err != nil {
		metrics.SnapshotCache.WithLabelValues("error").Inc()
		return model.Snapshot{}, false, fmt.Errorf("get snapshot: %w", err)
	}

	var snap model.Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		metrics.SnapshotCache.WithLabelValues("error").Inc()
		s.rdb.Del(ctx, snapshotKey(owner))
		return model.Snapshot{}, false, fmt.Errorf("decode snapshot: %w", err)
	}
	metrics.SnapshotCache.WithLabelValues("hit").Inc()
	return snap, true, nil
}

func (s *CachedStore) PutSnapshot(ctx context.Context, snap model.Snapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}
	if err := s.rdb.Set(ctx, snapshotKey(snap.Owner), data, s.ttl).Err(); err != nil {
		return fmt.Errorf("put snapshot: %w", err)
	}
	return nil
}

func (s *CachedStore) InvalidateSnapshot(ctx context.Context, owner string) error {
	if err := s.rdb.Del(ctx, snapshotKey(owner)).Err(); err != nil {
		return fmt.Errorf("invalidate snapshot: %w", err)
	}
	return nil
}

// --- Cache helpers ---

func snapshotKey(owner string) string  { return fmt.Sprintf("snapshot:%s", owner) }
func watchlistKey(owner string) string { return fmt.Sprintf("watchlist:%s", owner) }
