package store

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/papertrade/ledger-engine/internal/model"
)

// unreachableRedis points at a closed port so every command fails fast.
func unreachableRedis(t *testing.T) *redis.Client {
	t.Helper()
	rdb := redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 50 * time.Millisecond,
		MaxRetries:  -1,
	})
	t.Cleanup(func() { rdb.Close() })
	return rdb
}

func TestCachedStore_RedisDownFallsThrough(t *testing.T) {
	primary := NewMemoryStore()
	s := NewCachedStore(primary, unreachableRedis(t), time.Minute)
	ctx := context.Background()

	tr := newTrade("alice", "AAPL", model.SideBuy, 5, t0)
	require.NoError(t, s.InsertTrade(ctx, tr))

	trades, err := s.ListTrades(ctx, "alice")
	require.NoError(t, err)
	assert.Len(t, trades, 1)

	require.NoError(t, s.AddWatch(ctx, model.WatchItem{Owner: "alice", Symbol: "MSFT", AddedAt: t0}))
	items, err := s.ListWatchlist(ctx, "alice")
	require.NoError(t, err)
	assert.Len(t, items, 1)

	require.NoError(t, s.DeleteTrade(ctx, "alice", tr.ID))
}

func TestCachedStore_SnapshotErrorsAreReported(t *testing.T) {
	s := NewCachedStore(NewMemoryStore(), unreachableRedis(t), time.Minute)
	ctx := context.Background()

	_, ok, err := s.GetSnapshot(ctx, "alice")
	assert.False(t, ok)
	assert.Error(t, err)

	assert.Error(t, s.PutSnapshot(ctx, model.Snapshot{Owner: "alice"}))
	assert.Error(t, s.InvalidateSnapshot(ctx, "alice"))
}

func TestCacheKeys(t *testing.T) {
	assert.Equal(t, "snapshot:alice", snapshotKey("alice"))
	assert.Equal(t, "watchlist:alice", watchlistKey("alice"))
}
