package trade_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/papertrade/ledger-engine/internal/auth"
	"github.com/papertrade/ledger-engine/internal/ledger"
	"github.com/papertrade/ledger-engine/internal/model"
	"github.com/papertrade/ledger-engine/internal/quote"
	"github.com/papertrade/ledger-engine/internal/store"
	"github.com/papertrade/ledger-engine/internal/symbol"
	"github.com/papertrade/ledger-engine/internal/trade"
)

var jwtSecret = []byte("test-secret")

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func ptr(v decimal.Decimal) *decimal.Decimal { return &v }

// tickingClock returns strictly increasing timestamps so replay order
// follows submission order.
func tickingClock() func() time.Time {
	var mu sync.Mutex
	t := time.Date(2024, 3, 1, 14, 30, 0, 0, time.UTC)
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		t = t.Add(time.Second)
		return t
	}
}

type testEnv struct {
	svc    *trade.Service
	store  *store.MemoryStore
	book   *quote.Book
	dir    *symbol.Directory
	router chi.Router
}

// newTestEnv creates a test Service with in-memory store and chi router.
func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	ms := store.NewMemoryStore()
	book := quote.NewBook(nil, 0)
	dir := symbol.NewDirectory(nil)
	svc := trade.NewService(ms, ledger.NewReconciler(decimal.NewFromInt(10000)),
		trade.WithQuotes(book),
		trade.WithDirectory(dir),
		trade.WithClock(tickingClock()),
	)

	r := chi.NewRouter()
	r.Route("/api/v1", func(r chi.Router) {
		r.Use(auth.Middleware(jwtSecret))
		svc.Routes(r)
	})

	return &testEnv{svc: svc, store: ms, book: book, dir: dir, router: r}
}

func (e *testEnv) do(t *testing.T, owner, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if owner != "" {
		tok, err := auth.SignToken(owner, jwtSecret, time.Hour)
		require.NoError(t, err)
		req.Header.Set("Authorization", "Bearer "+tok)
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func (e *testEnv) submit(t *testing.T, owner, sym, side string, qty int64, price string) *httptest.ResponseRecorder {
	t.Helper()
	req := trade.TradeRequest{Symbol: sym, Side: side, Quantity: qty}
	if price != "" {
		req.Price = ptr(d(price))
	}
	return e.do(t, owner, http.MethodPost, "/api/v1/trades", req)
}

func decodeResult(t *testing.T, w *httptest.ResponseRecorder) trade.Result {
	t.Helper()
	var res trade.Result
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &res))
	return res
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return body
}

// --- Submit ---

func TestSubmitTrade_Buy(t *testing.T) {
	env := newTestEnv(t)

	w := env.submit(t, "alice", "aapl", "buy", 10, "150")
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	res := decodeResult(t, w)
	assert.NotEmpty(t, res.Trade.ID)
	assert.Equal(t, "AAPL", res.Trade.Symbol)
	assert.Equal(t, model.SideBuy, res.Trade.Side)
	require.NotNil(t, res.Snapshot)
	assert.True(t, res.Snapshot.Cash.Equal(d("8500")), "cash %s", res.Snapshot.Cash)
	assert.EqualValues(t, 10, res.Snapshot.Held("AAPL"))
	assert.True(t, res.Snapshot.Positions["AAPL"].AverageCost.Equal(d("150")))
}

func TestSubmitTrade_UsesLiveQuoteWhenUnpriced(t *testing.T) {
	env := newTestEnv(t)
	env.book.Put(model.Quote{Symbol: "MSFT", Price: model.Known(d("410.25")), FetchedAt: time.Now()})

	w := env.submit(t, "alice", "MSFT", "BUY", 2, "")
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	res := decodeResult(t, w)
	assert.True(t, res.Trade.Price.Equal(d("410.25")))
	assert.True(t, res.Snapshot.Cash.Equal(d("9179.5")))
}

func TestSubmitTrade_NoQuoteNoPrice(t *testing.T) {
	env := newTestEnv(t)

	w := env.submit(t, "alice", "TSLA", "BUY", 1, "")
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	assert.Contains(t, decodeBody(t, w)["error"], "TSLA")
}

func TestSubmitTrade_ValidationErrors(t *testing.T) {
	env := newTestEnv(t)

	tests := []struct {
		name  string
		req   trade.TradeRequest
		field string
	}{
		{"zero quantity", trade.TradeRequest{Symbol: "AAPL", Side: "BUY", Quantity: 0, Price: ptr(d("1"))}, "quantity"},
		{"negative quantity", trade.TradeRequest{Symbol: "AAPL", Side: "BUY", Quantity: -3, Price: ptr(d("1"))}, "quantity"},
		{"zero price", trade.TradeRequest{Symbol: "AAPL", Side: "BUY", Quantity: 1, Price: ptr(decimal.Zero)}, "price"},
		{"negative price", trade.TradeRequest{Symbol: "AAPL", Side: "SELL", Quantity: 1, Price: ptr(d("-5"))}, "price"},
		{"bad side", trade.TradeRequest{Symbol: "AAPL", Side: "SHORT", Quantity: 1, Price: ptr(d("1"))}, "side"},
		{"bad symbol", trade.TradeRequest{Symbol: "not a ticker", Side: "BUY", Quantity: 1, Price: ptr(d("1"))}, "symbol"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := env.do(t, "alice", http.MethodPost, "/api/v1/trades", tt.req)
			assert.Equal(t, http.StatusBadRequest, w.Code)
			assert.Equal(t, tt.field, decodeBody(t, w)["field"])
		})
	}

	trades, err := env.store.ListTrades(context.Background(), "alice")
	require.NoError(t, err)
	assert.Empty(t, trades, "rejected orders are never persisted")
}

func TestSubmitTrade_UnknownSymbolWhenDirectoryLoaded(t *testing.T) {
	env := newTestEnv(t)
	env.dir.Replace([]string{"AAPL"})

	w := env.submit(t, "alice", "ZZZZ", "BUY", 1, "10")
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "symbol", decodeBody(t, w)["field"])

	w = env.submit(t, "alice", "AAPL", "BUY", 1, "10")
	assert.Equal(t, http.StatusCreated, w.Code)
}

func TestSubmitTrade_InvalidBody(t *testing.T) {
	env := newTestEnv(t)
	w := env.do(t, "alice", http.MethodPost, "/api/v1/trades", map[string]any{"quantity": 1.5})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

// --- Rejection boundaries ---

func TestSubmitTrade_InsufficientCapital(t *testing.T) {
	env := newTestEnv(t)

	// Exactly all the cash is allowed.
	w := env.submit(t, "alice", "AAPL", "BUY", 100, "100")
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	w = env.submit(t, "alice", "MSFT", "BUY", 1, "0.01")
	require.Equal(t, http.StatusConflict, w.Code)
	body := decodeBody(t, w)
	assert.Equal(t, "0.01", body["required"])
	assert.Equal(t, "0.00", body["available"])

	trades, err := env.store.ListTrades(context.Background(), "alice")
	require.NoError(t, err)
	assert.Len(t, trades, 1)
}

func TestSubmitTrade_InsufficientShares(t *testing.T) {
	env := newTestEnv(t)
	require.Equal(t, http.StatusCreated, env.submit(t, "alice", "AAPL", "BUY", 5, "10").Code)

	before, err := env.svc.Snapshot(context.Background(), "alice")
	require.NoError(t, err)

	w := env.submit(t, "alice", "AAPL", "SELL", 6, "12")
	require.Equal(t, http.StatusConflict, w.Code)
	body := decodeBody(t, w)
	assert.Equal(t, "AAPL", body["symbol"])
	assert.EqualValues(t, 6, body["requested"])
	assert.EqualValues(t, 5, body["held"])

	after, err := env.svc.Snapshot(context.Background(), "alice")
	require.NoError(t, err)
	assert.True(t, before.Cash.Equal(after.Cash))
	assert.Equal(t, before.Held("AAPL"), after.Held("AAPL"))
	assert.Equal(t, before.TradeCount, after.TradeCount)

	// Selling exactly the holding closes the position.
	w = env.submit(t, "alice", "AAPL", "SELL", 5, "12")
	require.Equal(t, http.StatusCreated, w.Code)
	res := decodeResult(t, w)
	pos := res.Snapshot.Positions["AAPL"]
	assert.EqualValues(t, 0, pos.NetQuantity)
	assert.True(t, pos.AverageCost.IsZero())
	assert.True(t, pos.RealizedPnL.Equal(d("10")))
}

func TestSubmitTrade_OwnersAreIsolated(t *testing.T) {
	env := newTestEnv(t)
	require.Equal(t, http.StatusCreated, env.submit(t, "alice", "AAPL", "BUY", 5, "10").Code)

	w := env.submit(t, "bob", "AAPL", "SELL", 1, "10")
	assert.Equal(t, http.StatusConflict, w.Code)
}

// --- Revoke ---

func TestRevokeTrade_ReplaysFromScratch(t *testing.T) {
	env := newTestEnv(t)

	require.Equal(t, http.StatusCreated, env.submit(t, "alice", "AAPL", "BUY", 10, "10").Code)
	sell := decodeResult(t, env.submit(t, "alice", "AAPL", "SELL", 5, "20"))
	require.Equal(t, http.StatusCreated, env.submit(t, "alice", "AAPL", "BUY", 5, "30").Code)

	w := env.do(t, "alice", http.MethodDelete, "/api/v1/trades/"+sell.Trade.ID, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	res := decodeResult(t, w)
	assert.Equal(t, sell.Trade.ID, res.Trade.ID)
	pos := res.Snapshot.Positions["AAPL"]
	assert.EqualValues(t, 15, pos.NetQuantity)
	assert.Equal(t, "16.67", pos.AverageCost.StringFixed(2))
	assert.True(t, pos.RealizedPnL.IsZero())
	assert.True(t, res.Snapshot.Cash.Equal(d("9750")))
}

// steppedClock returns the given instants in order, then repeats the last.
func steppedClock(ts ...time.Time) func() time.Time {
	var mu sync.Mutex
	i := 0
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		t := ts[i]
		if i < len(ts)-1 {
			i++
		}
		return t
	}
}

func TestSubmit_ClockSteppingBackKeepsValidationOrder(t *testing.T) {
	noon := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	ms := store.NewMemoryStore()
	svc := trade.NewService(ms, ledger.NewReconciler(decimal.NewFromInt(10000)),
		trade.WithClock(steppedClock(noon, noon.Add(-time.Minute), noon.Add(-30*time.Second))),
	)
	ctx := context.Background()
	order := func(side string) trade.TradeRequest {
		return trade.TradeRequest{Symbol: "AAPL", Side: side, Quantity: 10, Price: ptr(d("100"))}
	}

	_, err := svc.Submit(ctx, "alice", order("BUY"))
	require.NoError(t, err)

	res, err := svc.Submit(ctx, "alice", order("SELL"))
	require.NoError(t, err)
	assert.True(t, res.Trade.ExecutedAt.Equal(noon), "stamped at the last trade, not the earlier clock")
	require.NotNil(t, res.Snapshot)
	assert.Zero(t, res.Snapshot.Held("AAPL"))
	assert.True(t, res.Snapshot.Cash.Equal(d("10000")))
	assert.Zero(t, res.Snapshot.ClampedSells)

	// The shares are gone; selling them again must fail.
	_, err = svc.Submit(ctx, "alice", order("SELL"))
	var sharesErr *trade.InsufficientSharesError
	require.ErrorAs(t, err, &sharesErr)
	assert.Zero(t, sharesErr.Held)

	snap, err := svc.Snapshot(ctx, "alice")
	require.NoError(t, err)
	assert.True(t, snap.Cash.Equal(d("10000")))
	assert.Equal(t, 2, snap.TradeCount)

	trades, err := ms.ListTrades(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, model.SideBuy, trades[0].Side, "replay order matches submission order")
	assert.Equal(t, model.SideSell, trades[1].Side)
}

func TestRevokeTrade_NotFound(t *testing.T) {
	env := newTestEnv(t)
	buy := decodeResult(t, env.submit(t, "alice", "AAPL", "BUY", 1, "10"))

	w := env.do(t, "alice", http.MethodDelete, "/api/v1/trades/does-not-exist", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = env.do(t, "bob", http.MethodDelete, "/api/v1/trades/"+buy.Trade.ID, nil)
	assert.Equal(t, http.StatusNotFound, w.Code, "another owner's trade is invisible")
}

func TestRevokeTrade_RefusesOrphaningLaterSell(t *testing.T) {
	env := newTestEnv(t)
	buy := decodeResult(t, env.submit(t, "alice", "AAPL", "BUY", 10, "10"))
	require.Equal(t, http.StatusCreated, env.submit(t, "alice", "AAPL", "SELL", 8, "11").Code)

	w := env.do(t, "alice", http.MethodDelete, "/api/v1/trades/"+buy.Trade.ID, nil)
	require.Equal(t, http.StatusConflict, w.Code)
	body := decodeBody(t, w)
	assert.EqualValues(t, 8, body["requested"])
	assert.EqualValues(t, 0, body["held"])

	trades, err := env.store.ListTrades(context.Background(), "alice")
	require.NoError(t, err)
	assert.Len(t, trades, 2)
}

// --- Queries ---

func TestListTrades_NewestFirst(t *testing.T) {
	env := newTestEnv(t)
	first := decodeResult(t, env.submit(t, "alice", "AAPL", "BUY", 1, "10"))
	second := decodeResult(t, env.submit(t, "alice", "MSFT", "BUY", 1, "10"))

	w := env.do(t, "alice", http.MethodGet, "/api/v1/trades", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var trades []model.Trade
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &trades))
	require.Len(t, trades, 2)
	assert.Equal(t, second.Trade.ID, trades[0].ID)
	assert.Equal(t, first.Trade.ID, trades[1].ID)
}

func TestGetHistory(t *testing.T) {
	env := newTestEnv(t)
	env.submit(t, "alice", "AAPL", "BUY", 10, "10")
	env.submit(t, "alice", "AAPL", "SELL", 4, "15")

	w := env.do(t, "alice", http.MethodGet, "/api/v1/trades/history", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var entries []model.HistoryEntry
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &entries))
	require.Len(t, entries, 2)
	assert.True(t, entries[0].Cash.Equal(d("9900")))
	assert.True(t, entries[1].Cash.Equal(d("9960")))
	assert.True(t, entries[1].Position.RealizedPnL.Equal(d("20")))
}

func TestGetPortfolio_FlagsUnpricedSymbols(t *testing.T) {
	env := newTestEnv(t)
	env.submit(t, "alice", "AAPL", "BUY", 10, "10")
	env.submit(t, "alice", "MSFT", "BUY", 5, "20")
	env.book.Put(model.Quote{Symbol: "AAPL", Price: model.Known(d("12")), FetchedAt: time.Now()})

	w := env.do(t, "alice", http.MethodGet, "/api/v1/portfolio", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var v model.Valuation
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v))
	assert.Equal(t, []string{"MSFT"}, v.Unpriced)
	assert.True(t, v.TotalUnrealizedPnL.Equal(d("20")))
	assert.True(t, v.Cash.Equal(d("9800")))
	assert.True(t, v.TotalValue.Equal(d("9920")), "MSFT contributes nothing without a quote")
}

func TestGetPortfolio_DayChange(t *testing.T) {
	env := newTestEnv(t)
	env.submit(t, "alice", "AAPL", "BUY", 10, "10")
	env.book.Put(model.Quote{Symbol: "AAPL", Price: model.Known(d("12")), PreviousClose: d("11.5"), FetchedAt: time.Now()})

	w := env.do(t, "alice", http.MethodGet, "/api/v1/portfolio", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var v model.Valuation
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v))
	require.Len(t, v.Positions, 1)
	require.NotNil(t, v.Positions[0].DayChange)
	assert.True(t, v.Positions[0].DayChange.Equal(d("5")), "(12-11.5)*10")
	assert.Equal(t, "4.35", v.Positions[0].DayChangePercent.StringFixed(2))
	assert.True(t, v.TotalDayChange.Equal(d("5")))
}

func TestGetPortfolio_Empty(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, "carol", http.MethodGet, "/api/v1/portfolio", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var v model.Valuation
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v))
	assert.True(t, v.Cash.Equal(d("10000")))
	assert.True(t, v.TotalValue.Equal(d("10000")))
	assert.Empty(t, v.Positions)
}

func TestGetQuote(t *testing.T) {
	env := newTestEnv(t)
	env.book.Put(model.Quote{Symbol: "AAPL", Price: model.Known(d("187.25")), FetchedAt: time.Now()})

	w := env.do(t, "alice", http.MethodGet, "/api/v1/quotes/aapl", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "187.25", decodeBody(t, w)["price"])

	w = env.do(t, "alice", http.MethodGet, "/api/v1/quotes/NOPE", nil)
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
}

// --- Watchlist ---

func TestWatchlist(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, "alice", http.MethodPost, "/api/v1/watchlist", trade.WatchRequest{Symbol: "nvda"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	w = env.do(t, "alice", http.MethodPost, "/api/v1/watchlist", trade.WatchRequest{Symbol: "NVDA"})
	assert.Equal(t, http.StatusConflict, w.Code)

	assert.Contains(t, env.book.Tracked(), "NVDA")

	w = env.do(t, "alice", http.MethodGet, "/api/v1/watchlist", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var entries []trade.WatchEntry
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &entries))
	require.Len(t, entries, 1)
	assert.Equal(t, "NVDA", entries[0].Symbol)
	assert.False(t, entries[0].Price.IsKnown())

	w = env.do(t, "alice", http.MethodDelete, "/api/v1/watchlist/NVDA", nil)
	assert.Equal(t, http.StatusNoContent, w.Code)
	w = env.do(t, "alice", http.MethodDelete, "/api/v1/watchlist/NVDA", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

// --- Auth ---

func TestRoutes_RequireToken(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, "", http.MethodGet, "/api/v1/portfolio", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = env.do(t, "", http.MethodPost, "/api/v1/trades", trade.TradeRequest{Symbol: "AAPL", Side: "BUY", Quantity: 1})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

// --- Concurrency ---

func TestSubmit_ConcurrentSellsNeverOversell(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	_, err := env.svc.Submit(ctx, "alice", trade.TradeRequest{Symbol: "AAPL", Side: "BUY", Quantity: 10, Price: ptr(d("10"))})
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			env.svc.Submit(ctx, "alice", trade.TradeRequest{Symbol: "AAPL", Side: "SELL", Quantity: 1, Price: ptr(d("11"))})
		}()
	}
	wg.Wait()

	snap, err := env.svc.Snapshot(ctx, "alice")
	require.NoError(t, err)
	assert.EqualValues(t, 0, snap.Held("AAPL"))
	assert.Zero(t, snap.ClampedSells)
	assert.Equal(t, 11, snap.TradeCount)
}
