package store

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/papertrade/ledger-engine/internal/ledger"
	"github.com/papertrade/ledger-engine/internal/model"
)

// MemoryStore implements Store with in-memory maps. Used for testing
// and development. Not suitable for production (no persistence).
type MemoryStore struct {
	mu        sync.RWMutex
	seq       int64
	trades    map[string][]model.Trade // by owner
	watchlist map[string][]model.WatchItem
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		trades:    make(map[string][]model.Trade),
		watchlist: make(map[string][]model.WatchItem),
	}
}

func (s *MemoryStore) ListTrades(_ context.Context, owner string) ([]model.Trade, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return ledger.Order(s.trades[owner]), nil
}

func (s *MemoryStore) GetTrade(_ context.Context, owner, id string) (model.Trade, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, t := range s.trades[owner] {
		if t.ID == id {
			return t, nil
		}
	}
	return model.Trade{}, fmt.Errorf("trade %s: %w", id, ErrNotFound)
}

func (s *MemoryStore) InsertTrade(_ context.Context, t *model.Trade) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	for _, owned := range s.trades {
		for _, existing := range owned {
			if existing.ID == t.ID {
				return fmt.Errorf("trade %s already exists", t.ID)
			}
		}
	}

	s.seq++
	t.Seq = s.seq
	s.trades[t.Owner] = append(s.trades[t.Owner], *t)
	return nil
}

func (s *MemoryStore) DeleteTrade(_ context.Context, owner, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	trades := s.trades[owner]
	for i, t := range trades {
		if t.ID == id {
			s.trades[owner] = append(trades[:i:i], trades[i+1:]...)
			return nil
		}
	}
	return fmt.Errorf("trade %s: %w", id, ErrNotFound)
}

func (s *MemoryStore) ListWatchlist(_ context.Context, owner string) ([]model.WatchItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]model.WatchItem, len(s.watchlist[owner]))
	copy(out, s.watchlist[owner])
	return out, nil
}

func (s *MemoryStore) AddWatch(_ context.Context, item model.WatchItem) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, w := range s.watchlist[item.Owner] {
		if w.Symbol == item.Symbol {
			return fmt.Errorf("%s: %w", item.Symbol, ErrAlreadyWatched)
		}
	}
	s.watchlist[item.Owner] = append(s.watchlist[item.Owner], item)
	return nil
}

func (s *MemoryStore) RemoveWatch(_ context.Context, owner, symbol string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	items := s.watchlist[owner]
	for i, w := range items {
		if w.Symbol == symbol {
			s.watchlist[owner] = append(items[:i:i], items[i+1:]...)
			return nil
		}
	}
	return fmt.Errorf("watch %s: %w", symbol, ErrNotFound)
}

func (s *MemoryStore) WatchedSymbols(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	seen := make(map[string]bool)
	var out []string
	for _, items := range s.watchlist {
		for _, w := range items {
			if !seen[w.Symbol] {
				seen[w.Symbol] = true
				out = append(out, w.Symbol)
			}
		}
	}
	sort.Strings(out)
	return out, nil
}
