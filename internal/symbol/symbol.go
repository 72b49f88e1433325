// Package symbol normalizes ticker input and validates it against the set
// of tradable US listings.
package symbol

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"sync"
	"time"
)

// tickerRegex matches normalized US tickers, including share classes.
// Examples: AAPL, BRK.B, BF-B
var tickerRegex = regexp.MustCompile(`^[A-Z0-9][A-Z0-9.\-]{0,14}$`)

var (
	ErrInvalidSymbol = errors.New("symbol: invalid ticker format")
	ErrUnknownSymbol = errors.New("symbol: not a tradable symbol")
)

// Normalize trims and upper-cases s and checks the ticker format.
func Normalize(s string) (string, error) {
	sym := strings.ToUpper(strings.TrimSpace(s))
	if !tickerRegex.MatchString(sym) {
		return "", fmt.Errorf("%w: %q", ErrInvalidSymbol, s)
	}
	return sym, nil
}

// Listing is one entry of the provider's symbol list.
type Listing struct {
	Symbol      string `json:"symbol"`
	Description string `json:"description"`
	Type        string `json:"type"`
}

// TradableTypes are the security types kept from the provider listing.
var TradableTypes = map[string]bool{
	"Common Stock": true,
	"ADR":          true,
	"REIT":         true,
	"ETP":          true,
	"ETF":          true,
}

// Lister fetches the provider's full symbol list.
type Lister interface {
	ListSymbols(ctx context.Context) ([]Listing, error)
}

// Directory is the set of tradable symbols.
//
// While the set is empty (never loaded, or the provider failed on first
// load) every well-formed symbol is accepted so trading is not blocked.
// The fallback is logged once.
type Directory struct {
	src Lister

	mu       sync.RWMutex
	symbols  map[string]bool
	loadedAt time.Time

	fallbackOnce sync.Once
}

// NewDirectory creates an empty directory backed by src. src may be nil for
// a static directory filled with Replace.
func NewDirectory(src Lister) *Directory {
	return &Directory{src: src, symbols: make(map[string]bool)}
}

// Load refreshes the set from the provider. On failure the previous set is
// kept.
func (d *Directory) Load(ctx context.Context) error {
	if d.src == nil {
		return nil
	}
	listings, err := d.src.ListSymbols(ctx)
	if err != nil {
		return fmt.Errorf("load symbol directory: %w", err)
	}

	set := make(map[string]bool, len(listings))
	for _, l := range listings {
		if !TradableTypes[l.Type] {
			continue
		}
		if sym, err := Normalize(l.Symbol); err == nil {
			set[sym] = true
		}
	}

	d.mu.Lock()
	d.symbols = set
	d.loadedAt = time.Now().UTC()
	d.mu.Unlock()

	slog.Info("symbol directory loaded", "symbols", len(set), "listings", len(listings))
	return nil
}

// Replace sets the directory contents directly.
func (d *Directory) Replace(symbols []string) {
	set := make(map[string]bool, len(symbols))
	for _, s := range symbols {
		if sym, err := Normalize(s); err == nil {
			set[sym] = true
		}
	}
	d.mu.Lock()
	d.symbols = set
	d.loadedAt = time.Now().UTC()
	d.mu.Unlock()
}

// Available reports whether the directory holds any symbols.
func (d *Directory) Available() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.symbols) > 0
}

// LoadedAt returns when the set was last replaced; zero if never.
func (d *Directory) LoadedAt() time.Time {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.loadedAt
}

// Size returns the number of tradable symbols.
func (d *Directory) Size() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.symbols)
}

// IsValid reports whether sym (already normalized) may be traded.
func (d *Directory) IsValid(sym string) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if len(d.symbols) == 0 {
		d.fallbackOnce.Do(func() {
			slog.Warn("symbol directory unavailable, accepting all well-formed symbols")
		})
		return true
	}
	return d.symbols[sym]
}
