package quote

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/papertrade/ledger-engine/internal/metrics"
	"github.com/papertrade/ledger-engine/internal/model"
)

// Book is the shared map of latest quotes. Writers replace whole entries;
// readers get copies, so concurrent valuations never see a partial quote.
//
// A quote older than maxAge is served as Unavailable. maxAge <= 0 disables
// the staleness check.
type Book struct {
	src    Source
	maxAge time.Duration
	now    func() time.Time

	mu      sync.RWMutex
	quotes  map[string]model.Quote
	tracked map[string]bool
}

// NewBook creates an empty book. src may be nil; Latest and Refresh then
// only serve what was Put.
func NewBook(src Source, maxAge time.Duration) *Book {
	return &Book{
		src:     src,
		maxAge:  maxAge,
		now:     time.Now,
		quotes:  make(map[string]model.Quote),
		tracked: make(map[string]bool),
	}
}

// Put replaces the entry for q.Symbol.
func (b *Book) Put(q model.Quote) {
	b.mu.Lock()
	b.quotes[q.Symbol] = q
	b.mu.Unlock()
}

// Get returns the stored quote regardless of age.
func (b *Book) Get(sym string) (model.Quote, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	q, ok := b.quotes[sym]
	return q, ok
}

// Price implements model.PriceLookup.
func (b *Book) Price(sym string) model.Price {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.priceLocked(sym)
}

// Marks returns a consistent copy of the given symbols' quotes. Stale
// quotes come back with an Unavailable price and no previous close;
// symbols never quoted are left out.
func (b *Book) Marks(symbols []string) model.QuoteMap {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make(model.QuoteMap, len(symbols))
	for _, sym := range symbols {
		q, ok := b.quotes[sym]
		if !ok {
			continue
		}
		if b.stale(q) {
			q = model.Quote{Symbol: sym, Price: model.Unavailable, FetchedAt: q.FetchedAt}
		}
		out[sym] = q
	}
	return out
}

func (b *Book) priceLocked(sym string) model.Price {
	q, ok := b.quotes[sym]
	if !ok || b.stale(q) {
		return model.Unavailable
	}
	return q.Price
}

func (b *Book) stale(q model.Quote) bool {
	return b.maxAge > 0 && b.now().Sub(q.FetchedAt) > b.maxAge
}

// Track adds symbols to the periodic refresh set.
func (b *Book) Track(symbols ...string) {
	b.mu.Lock()
	for _, s := range symbols {
		b.tracked[s] = true
	}
	b.mu.Unlock()
}

// Tracked returns the refresh set, sorted.
func (b *Book) Tracked() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]string, 0, len(b.tracked))
	for s := range b.tracked {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

// Latest returns a fresh known quote from the book, or fetches one from the
// source. The symbol is tracked from then on. The returned quote may still
// carry an Unavailable price.
func (b *Book) Latest(ctx context.Context, sym string) (model.Quote, error) {
	b.Track(sym)

	b.mu.RLock()
	q, ok := b.quotes[sym]
	fresh := ok && q.Price.IsKnown() && !b.stale(q)
	b.mu.RUnlock()
	if fresh || b.src == nil {
		if !fresh {
			q = model.Quote{Symbol: sym, Price: model.Unavailable}
		}
		return q, nil
	}

	q, err := b.src.Quote(ctx, sym)
	if err != nil {
		return model.Quote{Symbol: sym, Price: model.Unavailable}, err
	}
	if q.Price.IsKnown() {
		b.Put(q)
	}
	return q, nil
}

// Refresh fetches every tracked symbol and stores the known prices. A
// symbol the provider could not price keeps its previous entry until it
// ages out. Returns the symbols whose entry was replaced.
func (b *Book) Refresh(ctx context.Context) ([]string, error) {
	symbols := b.Tracked()
	if b.src == nil || len(symbols) == 0 {
		return nil, nil
	}

	start := time.Now()
	quotes, err := b.src.Quotes(ctx, symbols)
	if err != nil {
		metrics.QuoteRefreshes.WithLabelValues("error").Inc()
		return nil, err
	}
	metrics.QuoteRefreshLatency.Observe(time.Since(start).Seconds())

	var updated []string
	for _, sym := range symbols {
		q, ok := quotes[sym]
		if !ok || !q.Price.IsKnown() {
			metrics.QuotesUnavailable.Inc()
			continue
		}
		b.Put(q)
		updated = append(updated, sym)
	}
	metrics.QuoteRefreshes.WithLabelValues("ok").Inc()
	return updated, nil
}

// DefaultRefreshInterval is used by Run for a non-positive interval.
const DefaultRefreshInterval = 30 * time.Second

// Run refreshes every interval until ctx is done. onUpdate, if non-nil, is
// called with the replaced symbols after each successful refresh.
func (b *Book) Run(ctx context.Context, interval time.Duration, onUpdate func([]string)) {
	if interval <= 0 {
		interval = DefaultRefreshInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		updated, err := b.Refresh(ctx)
		if err != nil && ctx.Err() == nil {
			slog.Warn("quote refresh failed", "err", err)
		}
		if len(updated) > 0 && onUpdate != nil {
			onUpdate(updated)
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
