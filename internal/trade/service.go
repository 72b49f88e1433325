// Package trade is the only writer of trade records. It validates orders
// against a freshly replayed snapshot, persists them, and re-derives the
// ledger by full replay after every mutation. It also serves the HTTP API
// and the WebSocket push channel.
//
// All monetary values use shopspring/decimal, never float64 for money.
package trade

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/papertrade/ledger-engine/internal/ledger"
	"github.com/papertrade/ledger-engine/internal/metrics"
	"github.com/papertrade/ledger-engine/internal/model"
	"github.com/papertrade/ledger-engine/internal/store"
	"github.com/papertrade/ledger-engine/internal/symbol"
	"github.com/papertrade/ledger-engine/internal/valuation"
)

// QuoteBook is the live price view the service reads. *quote.Book
// implements it.
type QuoteBook interface {
	model.PriceLookup
	Marks(symbols []string) model.QuoteMap
	Latest(ctx context.Context, symbol string) (model.Quote, error)
	Track(symbols ...string)
}

// Service handles ledger mutations and queries. Mutations for one owner are
// serialized by a per-owner mutex (single instance). Across instances the
// store insert is the serialization point and the next replay reconciles.
type Service struct {
	store      store.Store
	reconciler *ledger.Reconciler
	cache      store.SnapshotCache // optional
	quotes     QuoteBook           // optional
	symbols    *symbol.Directory   // optional
	wsHub      *WSHub              // optional WebSocket hub for pushes
	now        func() time.Time

	mu    sync.Mutex
	locks map[string]*sync.Mutex
	dirty map[string]bool // owners whose cache entry may be stale
}

// Option configures optional collaborators.
type Option func(*Service)

// WithCache enables the snapshot cache.
func WithCache(c store.SnapshotCache) Option {
	return func(s *Service) { s.cache = c }
}

// WithQuotes sets the live quote book used for valuation and unpriced orders.
func WithQuotes(q QuoteBook) Option {
	return func(s *Service) { s.quotes = q }
}

// WithDirectory enables symbol validation.
func WithDirectory(d *symbol.Directory) Option {
	return func(s *Service) { s.symbols = d }
}

// WithHub enables WebSocket notifications.
func WithHub(h *WSHub) Option {
	return func(s *Service) { s.wsHub = h }
}

// WithClock overrides the execution timestamp source.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// NewService creates a new trade service.
func NewService(st store.Store, reconciler *ledger.Reconciler, opts ...Option) *Service {
	s := &Service{
		store:      st,
		reconciler: reconciler,
		now:        time.Now,
		locks:      make(map[string]*sync.Mutex),
		dirty:      make(map[string]bool),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// --- Request/Response types ---

// TradeRequest is the JSON body for POST /trades. Price is optional; when
// absent the live quote is used.
type TradeRequest struct {
	Symbol   string           `json:"symbol"`
	Side     string           `json:"side"`     // "BUY" or "SELL"
	Quantity int64            `json:"quantity"` // whole shares
	Price    *decimal.Decimal `json:"price,omitempty"`
}

// Result is returned by Submit and Revoke. Snapshot is nil when the
// mutation was persisted but the follow-up replay failed; the next read
// replays again.
type Result struct {
	Trade    model.Trade     `json:"trade"`
	Snapshot *model.Snapshot `json:"snapshot,omitempty"`
}

// WatchEntry is a watched symbol with its current price.
type WatchEntry struct {
	model.WatchItem
	Price model.Price `json:"price"`
}

// --- Mutations ---

// Submit validates and records one fill for owner.
func (s *Service) Submit(ctx context.Context, owner string, req TradeRequest) (*Result, error) {
	start := time.Now()

	t, err := s.prepare(ctx, owner, req)
	if err != nil {
		s.reject(err)
		return nil, err
	}

	unlock := s.lockOwner(owner)
	defer unlock()

	// Validate against a fresh replay, never the cache.
	snap, err := s.replay(ctx, owner)
	if err != nil {
		return nil, err
	}
	if err := checkFunds(snap, t); err != nil {
		s.reject(err)
		return nil, err
	}
	t.ExecutedAt = s.stamp(snap)

	s.invalidate(ctx, owner)
	if err := s.store.InsertTrade(ctx, &t); err != nil {
		return nil, &StoreError{Op: "insert trade", Err: err}
	}

	side := string(t.Side)
	metrics.TradesTotal.WithLabelValues(side).Inc()
	metrics.TradeVolume.WithLabelValues(t.Symbol, side).Add(float64(t.Quantity))
	slog.Info("trade executed",
		"trade_id", t.ID,
		"owner", owner,
		"symbol", t.Symbol,
		"side", side,
		"quantity", t.Quantity,
		"price", t.Price.String(),
	)

	if s.quotes != nil {
		s.quotes.Track(t.Symbol)
	}

	res := &Result{Trade: t, Snapshot: s.settle(ctx, owner)}
	s.notify(owner, "submitted", t, res.Snapshot)
	metrics.TradeLatency.WithLabelValues(side).Observe(time.Since(start).Seconds())
	return res, nil
}

// Revoke deletes one of owner's trades and re-derives the ledger from the
// remaining history. A deletion that would leave a history the service
// itself would have refused (a later sell exceeding the holding, or a later
// buy exceeding the cash) is rejected.
func (s *Service) Revoke(ctx context.Context, owner, tradeID string) (*Result, error) {
	if owner == "" {
		return nil, &ValidationError{Field: "owner", Reason: "must not be empty"}
	}

	unlock := s.lockOwner(owner)
	defer unlock()

	target, err := s.store.GetTrade(ctx, owner, tradeID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("%w: trade %s", ErrNotFound, tradeID)
		}
		return nil, &StoreError{Op: "get trade", Err: err}
	}

	trades, err := s.store.ListTrades(ctx, owner)
	if err != nil {
		return nil, &StoreError{Op: "list trades", Err: err}
	}
	remaining := make([]model.Trade, 0, len(trades))
	for _, t := range trades {
		if t.ID != target.ID {
			remaining = append(remaining, t)
		}
	}

	// Histories that already fail the audit (imported logs) are not made
	// any stricter by a deletion.
	if s.reconciler.Audit(owner, trades) == nil {
		if err := s.reconciler.Audit(owner, remaining); err != nil {
			err = revokeConflict(err)
			s.reject(err)
			return nil, err
		}
	}

	s.invalidate(ctx, owner)
	if err := s.store.DeleteTrade(ctx, owner, tradeID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("%w: trade %s", ErrNotFound, tradeID)
		}
		return nil, &StoreError{Op: "delete trade", Err: err}
	}

	metrics.TradesRevoked.Inc()
	slog.Info("trade revoked", "trade_id", tradeID, "owner", owner, "symbol", target.Symbol)

	res := &Result{Trade: target, Snapshot: s.settle(ctx, owner)}
	s.notify(owner, "revoked", target, res.Snapshot)
	return res, nil
}

// --- Queries ---

// Snapshot returns owner's current derived state, from the cache when it
// holds a consistent entry.
func (s *Service) Snapshot(ctx context.Context, owner string) (model.Snapshot, error) {
	if owner == "" {
		return model.Snapshot{}, &ValidationError{Field: "owner", Reason: "must not be empty"}
	}

	unlock := s.lockOwner(owner)
	defer unlock()

	if snap, ok := s.cached(ctx, owner); ok {
		return snap, nil
	}
	snap, err := s.replay(ctx, owner)
	if err != nil {
		return model.Snapshot{}, err
	}
	s.fillCache(ctx, snap)
	return snap, nil
}

// Portfolio marks owner's snapshot to market.
func (s *Service) Portfolio(ctx context.Context, owner string) (model.Valuation, error) {
	snap, err := s.Snapshot(ctx, owner)
	if err != nil {
		return model.Valuation{}, err
	}

	marks := model.QuoteMap{}
	if s.quotes != nil {
		open := snap.OpenSymbols()
		s.quotes.Track(open...)
		marks = s.quotes.Marks(open)
	}
	return valuation.Value(snap, marks), nil
}

// Trades returns owner's trades, newest first.
func (s *Service) Trades(ctx context.Context, owner string) ([]model.Trade, error) {
	trades, err := s.store.ListTrades(ctx, owner)
	if err != nil {
		return nil, &StoreError{Op: "list trades", Err: err}
	}
	ordered := ledger.Order(trades)
	for i, j := 0, len(ordered)-1; i < j; i, j = i+1, j-1 {
		ordered[i], ordered[j] = ordered[j], ordered[i]
	}
	return ordered, nil
}

// History returns the ledger state after each of owner's trades, oldest
// first.
func (s *Service) History(ctx context.Context, owner string) ([]model.HistoryEntry, error) {
	trades, err := s.store.ListTrades(ctx, owner)
	if err != nil {
		return nil, &StoreError{Op: "list trades", Err: err}
	}
	entries, err := s.reconciler.History(owner, trades)
	if err != nil {
		metrics.IntegrityErrors.Inc()
		return nil, err
	}
	return entries, nil
}

// Quote returns the live quote for a symbol.
func (s *Service) Quote(ctx context.Context, raw string) (model.Quote, error) {
	sym, err := symbol.Normalize(raw)
	if err != nil {
		return model.Quote{}, &ValidationError{Field: "symbol", Reason: err.Error()}
	}
	if s.quotes == nil {
		return model.Quote{}, &QuoteUnavailableError{Symbol: sym}
	}
	q, err := s.quotes.Latest(ctx, sym)
	if err != nil || !q.Price.IsKnown() {
		metrics.QuotesUnavailable.Inc()
		return model.Quote{}, &QuoteUnavailableError{Symbol: sym, Err: err}
	}
	return q, nil
}

// --- Watchlist ---

// Watch adds a symbol to owner's watchlist and starts refreshing it.
func (s *Service) Watch(ctx context.Context, owner, raw string) (model.WatchItem, error) {
	sym, err := s.validSymbol(raw)
	if err != nil {
		return model.WatchItem{}, err
	}
	item := model.WatchItem{Owner: owner, Symbol: sym, AddedAt: s.now().UTC().Truncate(time.Microsecond)}
	if err := s.store.AddWatch(ctx, item); err != nil {
		if errors.Is(err, store.ErrAlreadyWatched) {
			return model.WatchItem{}, fmt.Errorf("%w: %s", ErrAlreadyWatched, sym)
		}
		return model.WatchItem{}, &StoreError{Op: "add watch", Err: err}
	}
	if s.quotes != nil {
		s.quotes.Track(sym)
	}
	return item, nil
}

// Unwatch removes a symbol from owner's watchlist.
func (s *Service) Unwatch(ctx context.Context, owner, raw string) error {
	sym, err := symbol.Normalize(raw)
	if err != nil {
		return &ValidationError{Field: "symbol", Reason: err.Error()}
	}
	if err := s.store.RemoveWatch(ctx, owner, sym); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("%w: %s is not watched", ErrNotFound, sym)
		}
		return &StoreError{Op: "remove watch", Err: err}
	}
	return nil
}

// Watchlist returns owner's watched symbols with current prices.
func (s *Service) Watchlist(ctx context.Context, owner string) ([]WatchEntry, error) {
	items, err := s.store.ListWatchlist(ctx, owner)
	if err != nil {
		return nil, &StoreError{Op: "list watchlist", Err: err}
	}
	out := make([]WatchEntry, 0, len(items))
	for _, it := range items {
		e := WatchEntry{WatchItem: it}
		if s.quotes != nil {
			e.Price = s.quotes.Price(it.Symbol)
		}
		out = append(out, e)
	}
	return out, nil
}

// --- internals ---

// prepare turns a request into an unsaved trade. Stateless checks only.
func (s *Service) prepare(ctx context.Context, owner string, req TradeRequest) (model.Trade, error) {
	if owner == "" {
		return model.Trade{}, &ValidationError{Field: "owner", Reason: "must not be empty"}
	}
	sym, err := s.validSymbol(req.Symbol)
	if err != nil {
		return model.Trade{}, err
	}
	side, err := model.ParseSide(req.Side)
	if err != nil {
		return model.Trade{}, &ValidationError{Field: "side", Reason: err.Error()}
	}
	if req.Quantity <= 0 {
		return model.Trade{}, &ValidationError{Field: "quantity", Reason: "must be a positive whole number"}
	}

	var price decimal.Decimal
	if req.Price != nil {
		if !req.Price.IsPositive() {
			return model.Trade{}, &ValidationError{Field: "price", Reason: "must be positive"}
		}
		price = *req.Price
	} else {
		q, err := s.Quote(ctx, sym)
		if err != nil {
			return model.Trade{}, err
		}
		price, _ = q.Price.Value()
	}

	return model.Trade{
		Owner:    owner,
		Symbol:   sym,
		Side:     side,
		Quantity: req.Quantity,
		Price:    price,
	}, nil
}

func (s *Service) validSymbol(raw string) (string, error) {
	sym, err := symbol.Normalize(raw)
	if err != nil {
		return "", &ValidationError{Field: "symbol", Reason: err.Error()}
	}
	if s.symbols != nil && !s.symbols.IsValid(sym) {
		return "", &ValidationError{Field: "symbol", Reason: sym + " is not a tradable symbol"}
	}
	return sym, nil
}

// stamp returns the execution time for a trade validated against snap. It
// never precedes the last replayed trade, so a clock stepping back cannot
// sort the new trade ahead of the history it was checked against; equal
// times are ordered by seq. TIMESTAMPTZ keeps microseconds, hence the
// truncation.
func (s *Service) stamp(snap model.Snapshot) time.Time {
	now := s.now().UTC().Truncate(time.Microsecond)
	if last := snap.LastExecutedAt.UTC(); last.After(now) {
		slog.Warn("clock behind ledger history, stamping at last trade time",
			"owner", snap.Owner, "now", now, "last_executed_at", last)
		return last
	}
	return now
}

// checkFunds applies the business rules against the latest snapshot.
func checkFunds(snap model.Snapshot, t model.Trade) error {
	switch t.Side {
	case model.SideBuy:
		if cost := t.Notional(); cost.GreaterThan(snap.Cash) {
			return &InsufficientCapitalError{Required: cost, Available: snap.Cash}
		}
	case model.SideSell:
		if held := snap.Held(t.Symbol); t.Quantity > held {
			return &InsufficientSharesError{Symbol: t.Symbol, Requested: t.Quantity, Held: held}
		}
	}
	return nil
}

// revokeConflict maps an audit violation to the business-rule error the
// offending trade would have met.
func revokeConflict(err error) error {
	var v *ledger.Violation
	if !errors.As(err, &v) {
		return err
	}
	switch v.Kind {
	case ledger.Oversell:
		return fmt.Errorf("revoke would invalidate trade %s: %w", v.Trade.ID,
			&InsufficientSharesError{Symbol: v.Trade.Symbol, Requested: v.Trade.Quantity, Held: v.Held})
	default:
		return fmt.Errorf("revoke would invalidate trade %s: %w", v.Trade.ID,
			&InsufficientCapitalError{Required: v.Trade.Notional(), Available: v.Cash})
	}
}

// replay rebuilds owner's snapshot from the store.
func (s *Service) replay(ctx context.Context, owner string) (model.Snapshot, error) {
	trades, err := s.store.ListTrades(ctx, owner)
	if err != nil {
		return model.Snapshot{}, &StoreError{Op: "list trades", Err: err}
	}

	start := time.Now()
	snap, err := s.reconciler.Reconcile(owner, trades)
	metrics.ReplayDuration.Observe(time.Since(start).Seconds())
	metrics.ReplayTrades.Observe(float64(len(trades)))
	if err != nil {
		metrics.IntegrityErrors.Inc()
		slog.Error("ledger replay failed", "owner", owner, "err", err)
		return model.Snapshot{}, err
	}
	if snap.ClampedSells > 0 {
		slog.Warn("ledger history oversells", "owner", owner, "clamped_sells", snap.ClampedSells)
	}
	return snap, nil
}

// settle replays after a committed mutation and refreshes the cache. A
// failure leaves the owner marked dirty so the next read replays.
func (s *Service) settle(ctx context.Context, owner string) *model.Snapshot {
	snap, err := s.replay(ctx, owner)
	if err != nil {
		slog.Warn("post-mutation replay failed", "owner", owner, "err", err)
		return nil
	}
	s.fillCache(ctx, snap)
	return &snap
}

func (s *Service) cached(ctx context.Context, owner string) (model.Snapshot, bool) {
	if s.cache == nil {
		return model.Snapshot{}, false
	}
	s.mu.Lock()
	dirty := s.dirty[owner]
	s.mu.Unlock()
	if dirty {
		return model.Snapshot{}, false
	}

	snap, ok, err := s.cache.GetSnapshot(ctx, owner)
	if err != nil {
		slog.Warn("snapshot cache read failed", "owner", owner, "err", err)
		return model.Snapshot{}, false
	}
	return snap, ok
}

// invalidate marks owner dirty, then drops the cached snapshot. The mark
// covers a failed Redis delete.
func (s *Service) invalidate(ctx context.Context, owner string) {
	if s.cache == nil {
		return
	}
	s.mu.Lock()
	s.dirty[owner] = true
	s.mu.Unlock()

	if err := s.cache.InvalidateSnapshot(ctx, owner); err != nil {
		slog.Warn("snapshot cache invalidation failed", "owner", owner, "err", err)
	}
}

func (s *Service) fillCache(ctx context.Context, snap model.Snapshot) {
	if s.cache == nil {
		return
	}
	if err := s.cache.PutSnapshot(ctx, snap); err != nil {
		slog.Warn("snapshot cache write failed", "owner", snap.Owner, "err", err)
		return
	}
	s.mu.Lock()
	delete(s.dirty, snap.Owner)
	s.mu.Unlock()
}

func (s *Service) lockOwner(owner string) func() {
	s.mu.Lock()
	l, ok := s.locks[owner]
	if !ok {
		l = &sync.Mutex{}
		s.locks[owner] = l
	}
	s.mu.Unlock()

	l.Lock()
	return l.Unlock
}

func (s *Service) reject(err error) {
	reason := "other"
	switch {
	case errors.Is(err, ErrValidation):
		reason = "validation"
	case errors.Is(err, ErrInsufficientCapital):
		reason = "insufficient_capital"
	case errors.Is(err, ErrInsufficientShares):
		reason = "insufficient_shares"
	case errors.Is(err, ErrQuoteUnavailable):
		reason = "quote_unavailable"
	case errors.Is(err, ErrStoreUnavailable):
		reason = "store_unavailable"
	}
	metrics.TradeRejections.WithLabelValues(reason).Inc()
}

func (s *Service) notify(owner, action string, t model.Trade, snap *model.Snapshot) {
	if s.wsHub == nil {
		return
	}
	msg := WSMessage{
		Type:    MsgLedgerUpdated,
		Owner:   owner,
		Action:  action,
		TradeID: t.ID,
		Symbol:  t.Symbol,
	}
	if snap != nil {
		msg.Cash = snap.Cash.StringFixed(2)
	}
	s.wsHub.SendTo(owner, msg)
}
