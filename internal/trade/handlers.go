package trade

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/papertrade/ledger-engine/internal/auth"
	"github.com/papertrade/ledger-engine/internal/ledger"
)

// Routes registers the ledger API on r. r must be behind auth.Middleware.
func (s *Service) Routes(r chi.Router) {
	r.Get("/portfolio", s.GetPortfolio)
	r.Get("/snapshot", s.GetSnapshot)

	r.Get("/trades", s.ListTrades)
	r.Post("/trades", s.SubmitTrade)
	r.Get("/trades/history", s.GetHistory)
	r.Delete("/trades/{tradeID}", s.RevokeTrade)

	r.Get("/quotes/{symbol}", s.GetQuote)

	r.Get("/watchlist", s.GetWatchlist)
	r.Post("/watchlist", s.AddWatch)
	r.Delete("/watchlist/{symbol}", s.RemoveWatch)
}

// WatchRequest is the JSON body for POST /watchlist.
type WatchRequest struct {
	Symbol string `json:"symbol"`
}

// SubmitTrade handles POST /api/v1/trades
func (s *Service) SubmitTrade(w http.ResponseWriter, r *http.Request) {
	var req TradeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	res, err := s.Submit(r.Context(), auth.OwnerFrom(r.Context()), req)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

// RevokeTrade handles DELETE /api/v1/trades/{tradeID}
func (s *Service) RevokeTrade(w http.ResponseWriter, r *http.Request) {
	res, err := s.Revoke(r.Context(), auth.OwnerFrom(r.Context()), chi.URLParam(r, "tradeID"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// ListTrades handles GET /api/v1/trades
func (s *Service) ListTrades(w http.ResponseWriter, r *http.Request) {
	trades, err := s.Trades(r.Context(), auth.OwnerFrom(r.Context()))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, trades)
}

// GetHistory handles GET /api/v1/trades/history
func (s *Service) GetHistory(w http.ResponseWriter, r *http.Request) {
	entries, err := s.History(r.Context(), auth.OwnerFrom(r.Context()))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

// GetSnapshot handles GET /api/v1/snapshot
func (s *Service) GetSnapshot(w http.ResponseWriter, r *http.Request) {
	snap, err := s.Snapshot(r.Context(), auth.OwnerFrom(r.Context()))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

// GetPortfolio handles GET /api/v1/portfolio
func (s *Service) GetPortfolio(w http.ResponseWriter, r *http.Request) {
	v, err := s.Portfolio(r.Context(), auth.OwnerFrom(r.Context()))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

// GetQuote handles GET /api/v1/quotes/{symbol}
func (s *Service) GetQuote(w http.ResponseWriter, r *http.Request) {
	q, err := s.Quote(r.Context(), chi.URLParam(r, "symbol"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, q)
}

// GetWatchlist handles GET /api/v1/watchlist
func (s *Service) GetWatchlist(w http.ResponseWriter, r *http.Request) {
	entries, err := s.Watchlist(r.Context(), auth.OwnerFrom(r.Context()))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

// AddWatch handles POST /api/v1/watchlist
func (s *Service) AddWatch(w http.ResponseWriter, r *http.Request) {
	var req WatchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	item, err := s.Watch(r.Context(), auth.OwnerFrom(r.Context()), req.Symbol)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, item)
}

// RemoveWatch handles DELETE /api/v1/watchlist/{symbol}
func (s *Service) RemoveWatch(w http.ResponseWriter, r *http.Request) {
	if err := s.Unwatch(r.Context(), auth.OwnerFrom(r.Context()), chi.URLParam(r, "symbol")); err != nil {
		writeServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// --- Helpers ---

// writeServiceError maps service errors to status codes. Business-rule
// rejections carry the numbers the caller needs to adjust the order.
func writeServiceError(w http.ResponseWriter, err error) {
	var (
		verr      *ValidationError
		capErr    *InsufficientCapitalError
		sharesErr *InsufficientSharesError
		integrity *ledger.IntegrityError
	)

	switch {
	case errors.As(err, &verr):
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": err.Error(),
			"field": verr.Field,
		})
	case errors.As(err, &capErr):
		writeJSON(w, http.StatusConflict, map[string]string{
			"error":     err.Error(),
			"required":  capErr.Required.StringFixed(2),
			"available": capErr.Available.StringFixed(2),
		})
	case errors.As(err, &sharesErr):
		writeJSON(w, http.StatusConflict, map[string]any{
			"error":     err.Error(),
			"symbol":    sharesErr.Symbol,
			"requested": sharesErr.Requested,
			"held":      sharesErr.Held,
		})
	case errors.Is(err, ErrAlreadyWatched):
		writeError(w, err.Error(), http.StatusConflict)
	case errors.Is(err, ErrQuoteUnavailable):
		writeError(w, err.Error(), http.StatusUnprocessableEntity)
	case errors.Is(err, ErrNotFound):
		writeError(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, ErrStoreUnavailable):
		slog.Error("store unavailable", "err", err)
		writeError(w, "store unavailable, retry the request", http.StatusServiceUnavailable)
	case errors.As(err, &integrity):
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error":    "ledger data integrity violation",
			"trade_id": integrity.TradeID,
			"reason":   integrity.Reason,
		})
	default:
		slog.Error("unhandled service error", "err", err)
		writeError(w, "internal error", http.StatusInternalServerError)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
