// Package quote provides live prices: a Finnhub API client, a shared quote
// book that valuations read from, and the periodic refresh loop.
package quote

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/papertrade/ledger-engine/internal/model"
	"github.com/papertrade/ledger-engine/internal/symbol"
)

const (
	DefaultBaseURL     = "https://finnhub.io/api/v1"
	DefaultTimeout     = 10 * time.Second
	DefaultRateLimit   = 5 // requests per second
	DefaultConcurrency = 4
)

// Source supplies current quotes.
type Source interface {
	Quote(ctx context.Context, symbol string) (model.Quote, error)
	Quotes(ctx context.Context, symbols []string) (map[string]model.Quote, error)
}

// Client talks to the Finnhub REST API.
type Client struct {
	baseURL     string
	apiKey      string
	httpClient  *http.Client
	limiter     *rate.Limiter
	concurrency int
	now         func() time.Time
}

// ClientOption configures the client
type ClientOption func(*Client)

// WithBaseURL sets the base URL
func WithBaseURL(baseURL string) ClientOption {
	return func(c *Client) {
		c.baseURL = baseURL
	}
}

// WithRateLimit sets the rate limit
func WithRateLimit(requestsPerSecond int) ClientOption {
	return func(c *Client) {
		if requestsPerSecond > 0 {
			c.limiter = rate.NewLimiter(rate.Limit(requestsPerSecond), requestsPerSecond)
		}
	}
}

// WithTimeout sets the HTTP timeout
func WithTimeout(timeout time.Duration) ClientOption {
	return func(c *Client) {
		c.httpClient.Timeout = timeout
	}
}

// WithConcurrency bounds parallel requests in Quotes.
func WithConcurrency(n int) ClientOption {
	return func(c *Client) {
		if n > 0 {
			c.concurrency = n
		}
	}
}

// NewClient creates a new Finnhub client
func NewClient(apiKey string, opts ...ClientOption) *Client {
	c := &Client{
		baseURL: DefaultBaseURL,
		apiKey:  apiKey,
		httpClient: &http.Client{
			Timeout: DefaultTimeout,
		},
		limiter:     rate.NewLimiter(rate.Limit(DefaultRateLimit), DefaultRateLimit),
		concurrency: DefaultConcurrency,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// APIError is a non-2xx response from the provider.
type APIError struct {
	StatusCode int
	Message    string
	Endpoint   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("finnhub API error: %s (status: %d, endpoint: %s)", e.Message, e.StatusCode, e.Endpoint)
}

// finnhubQuote is the /quote payload. c is 0 for unknown symbols.
type finnhubQuote struct {
	Current       decimal.Decimal `json:"c"`
	High          decimal.Decimal `json:"h"`
	Low           decimal.Decimal `json:"l"`
	Open          decimal.Decimal `json:"o"`
	PreviousClose decimal.Decimal `json:"pc"`
	Timestamp     int64           `json:"t"`
}

// Quote fetches the current quote. A zero or negative price is returned as
// an Unavailable price, not an error.
func (c *Client) Quote(ctx context.Context, sym string) (model.Quote, error) {
	var fq finnhubQuote
	if err := c.get(ctx, "/quote", url.Values{"symbol": {sym}}, &fq); err != nil {
		return model.Quote{}, err
	}
	return model.Quote{
		Symbol:        sym,
		Price:         model.Known(fq.Current),
		Open:          fq.Open,
		High:          fq.High,
		Low:           fq.Low,
		PreviousClose: fq.PreviousClose,
		FetchedAt:     c.now().UTC(),
	}, nil
}

// Quotes fetches many symbols with bounded concurrency. A symbol whose
// request fails gets an Unavailable quote; the only error returned is the
// context's.
func (c *Client) Quotes(ctx context.Context, symbols []string) (map[string]model.Quote, error) {
	out := make(map[string]model.Quote, len(symbols))
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.concurrency)
	for _, sym := range symbols {
		sym := sym
		g.Go(func() error {
			q, err := c.Quote(gctx, sym)
			if err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				slog.Warn("quote fetch failed", "symbol", sym, "err", err)
				q = model.Quote{Symbol: sym, Price: model.Unavailable, FetchedAt: c.now().UTC()}
			}
			mu.Lock()
			out[sym] = q
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// ListSymbols returns every US listing known to the provider.
func (c *Client) ListSymbols(ctx context.Context) ([]symbol.Listing, error) {
	var listings []symbol.Listing
	if err := c.get(ctx, "/stock/symbol", url.Values{"exchange": {"US"}}, &listings); err != nil {
		return nil, err
	}
	return listings, nil
}

// get performs a rate-limited GET request
func (c *Client) get(ctx context.Context, path string, params url.Values, result interface{}) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait: %w", err)
	}

	if params == nil {
		params = url.Values{}
	}
	params.Set("token", c.apiKey)
	reqURL := fmt.Sprintf("%s%s?%s", c.baseURL, path, params.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &APIError{StatusCode: resp.StatusCode, Message: string(body), Endpoint: path}
	}

	if err := json.NewDecoder(resp.Body).Decode(result); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}
