package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/papertrade/ledger-engine/internal/auth"
	"github.com/papertrade/ledger-engine/internal/config"
	"github.com/papertrade/ledger-engine/internal/ledger"
	"github.com/papertrade/ledger-engine/internal/metrics"
	"github.com/papertrade/ledger-engine/internal/quote"
	"github.com/papertrade/ledger-engine/internal/store"
	"github.com/papertrade/ledger-engine/internal/symbol"
	"github.com/papertrade/ledger-engine/internal/trade"
)

func main() {
	configPath := flag.String("config", "config.toml", "path to the TOML configuration file")
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		slog.Error("config load failed", "err", err)
		os.Exit(1)
	}
	slog.SetDefault(config.NewLogger(cfg.Logging, os.Stdout))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// --- Initialize store ---
	var st store.Store
	var cache store.SnapshotCache
	var cleanup []func()

	if cfg.Storage.DatabaseURL != "" {
		pool, err := store.NewPool(ctx, cfg.Storage.DatabaseURL)
		if err != nil {
			slog.Error("database connection failed", "err", err)
			os.Exit(1)
		}
		cleanup = append(cleanup, pool.Close)
		pg := store.NewPostgresStore(pool)
		if err := pg.Migrate(ctx); err != nil {
			slog.Error("database migration failed", "err", err)
			os.Exit(1)
		}
		st = pg
		slog.Info("connected to PostgreSQL")

		// Snapshot cache and watchlist read-through, if configured.
		if cfg.Storage.RedisURL != "" {
			opt, err := redis.ParseURL(cfg.Storage.RedisURL)
			if err != nil {
				slog.Error("invalid redis url", "err", err)
				os.Exit(1)
			}
			rdb := redis.NewClient(opt)
			cleanup = append(cleanup, func() { rdb.Close() })
			cached := store.NewCachedStore(pg, rdb, cfg.Storage.GetSnapshotTTL())
			st, cache = cached, cached
			slog.Info("Redis cache enabled", "snapshot_ttl", cfg.Storage.GetSnapshotTTL())
		}
	} else {
		slog.Warn("database url not set, using in-memory store (data will not persist)")
		st = store.NewMemoryStore()
	}

	defer func() {
		for _, fn := range cleanup {
			fn()
		}
	}()

	// --- Quotes and symbol directory ---
	var (
		book      *quote.Book
		directory *symbol.Directory
	)
	if cfg.Quotes.APIKey != "" {
		client := quote.NewClient(cfg.Quotes.APIKey, quoteOptions(cfg.Quotes)...)
		book = quote.NewBook(client, cfg.Quotes.GetMaxAge())
		directory = symbol.NewDirectory(client)
		if err := directory.Load(ctx); err != nil {
			slog.Warn("symbol directory unavailable, accepting any well-formed symbol", "err", err)
		}
	} else {
		slog.Warn("quote api key not set, orders must carry a price")
		book = quote.NewBook(nil, cfg.Quotes.GetMaxAge())
	}

	if watched, err := st.WatchedSymbols(ctx); err != nil {
		slog.Warn("could not load watched symbols", "err", err)
	} else {
		book.Track(watched...)
	}

	// --- WebSocket hub ---
	wsHub := trade.NewWSHub()

	// --- Trade service ---
	opts := []trade.Option{
		trade.WithQuotes(book),
		trade.WithHub(wsHub),
	}
	if cache != nil {
		opts = append(opts, trade.WithCache(cache))
	}
	if directory != nil {
		opts = append(opts, trade.WithDirectory(directory))
	}
	reconciler := ledger.NewReconciler(cfg.Ledger.GetInitialCapital())
	tradeSvc := trade.NewService(st, reconciler, opts...)

	// --- HTTP router ---
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(metrics.Middleware)
	r.Use(cors(cfg.Server.AllowedOrigins))

	r.Get("/health", health(directory))

	// Prometheus metrics endpoint.
	r.Handle("/metrics", metrics.Handler())

	secret := []byte(cfg.Auth.JWTSecret)
	r.Route("/api/v1", func(r chi.Router) {
		r.Use(auth.Middleware(secret))

		// WebSocket endpoint for ledger and quote pushes. No timeout:
		// the connection is long-lived.
		r.Get("/ws", wsHub.HandleWS)

		r.Group(func(r chi.Router) {
			r.Use(middleware.Logger)
			r.Use(middleware.Timeout(30 * time.Second))
			tradeSvc.Routes(r)
		})
	})

	// --- Server ---
	srv := &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      r,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 35 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		wsHub.Run(gctx)
		return nil
	})
	if cfg.Quotes.APIKey != "" {
		g.Go(func() error {
			book.Run(gctx, cfg.Quotes.GetRefreshInterval(), func(updated []string) {
				wsHub.Broadcast(trade.WSMessage{Type: trade.MsgQuotesUpdated, Symbols: updated})
			})
			return nil
		})
	}
	g.Go(func() error {
		slog.Info("ledger-engine listening", "addr", srv.Addr, "env", cfg.Environment)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		slog.Info("shutting down ledger-engine...")
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		slog.Error("server error", "err", err)
		os.Exit(1)
	}
	fmt.Println("ledger-engine stopped")
}

// health reports liveness plus the symbol directory state. A nil
// directory means symbols are not validated.
func health(dir *symbol.Directory) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		body := map[string]any{"status": "ok", "service": "ledger-engine"}
		if dir != nil {
			sym := map[string]any{"size": dir.Size()}
			if at := dir.LoadedAt(); !at.IsZero() {
				sym["loaded_at"] = at
			}
			body["symbols"] = sym
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(body)
	}
}

func quoteOptions(c config.QuotesConfig) []quote.ClientOption {
	opts := []quote.ClientOption{quote.WithTimeout(c.GetTimeout())}
	if c.BaseURL != "" {
		opts = append(opts, quote.WithBaseURL(c.BaseURL))
	}
	if c.RateLimit > 0 {
		opts = append(opts, quote.WithRateLimit(c.RateLimit))
	}
	if c.Concurrency > 0 {
		opts = append(opts, quote.WithConcurrency(c.Concurrency))
	}
	return opts
}

// cors allows the configured origins; "*" or an empty list allows any.
func cors(origins []string) func(http.Handler) http.Handler {
	allowAll := len(origins) == 0
	allowed := make(map[string]bool, len(origins))
	for _, o := range origins {
		if o == "*" {
			allowAll = true
		}
		allowed[strings.TrimRight(o, "/")] = true
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			switch {
			case allowAll:
				w.Header().Set("Access-Control-Allow-Origin", "*")
			case allowed[origin]:
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Add("Vary", "Origin")
			}
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
