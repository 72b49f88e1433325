package trade

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// Sentinels matched with errors.Is. Detail types below carry the numbers a
// caller needs to adjust the request.
var (
	ErrValidation          = errors.New("trade: invalid request")
	ErrInsufficientCapital = errors.New("trade: insufficient capital")
	ErrInsufficientShares  = errors.New("trade: insufficient shares")
	ErrQuoteUnavailable    = errors.New("trade: quote unavailable")
	ErrStoreUnavailable    = errors.New("trade: store unavailable")
	ErrNotFound            = errors.New("trade: not found")
	ErrAlreadyWatched      = errors.New("trade: symbol already on watchlist")
)

// ValidationError names the violated input constraint.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

// InsufficientCapitalError rejects a buy costing more than the cash held.
type InsufficientCapitalError struct {
	Required  decimal.Decimal
	Available decimal.Decimal
}

func (e *InsufficientCapitalError) Error() string {
	return fmt.Sprintf("insufficient capital: need %s, have %s",
		e.Required.StringFixed(2), e.Available.StringFixed(2))
}

func (e *InsufficientCapitalError) Is(target error) bool { return target == ErrInsufficientCapital }

// InsufficientSharesError rejects a sell larger than the holding.
type InsufficientSharesError struct {
	Symbol    string
	Requested int64
	Held      int64
}

func (e *InsufficientSharesError) Error() string {
	return fmt.Sprintf("insufficient shares of %s: requested %d, held %d", e.Symbol, e.Requested, e.Held)
}

func (e *InsufficientSharesError) Is(target error) bool { return target == ErrInsufficientShares }

// QuoteUnavailableError means no usable price exists for Symbol.
type QuoteUnavailableError struct {
	Symbol string
	Err    error // provider failure, if any
}

func (e *QuoteUnavailableError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("price unavailable for %s: %v", e.Symbol, e.Err)
	}
	return fmt.Sprintf("price unavailable for %s", e.Symbol)
}

func (e *QuoteUnavailableError) Is(target error) bool { return target == ErrQuoteUnavailable }

func (e *QuoteUnavailableError) Unwrap() error { return e.Err }

// StoreError is a failed store call. The operation had no effect and may
// be retried as a whole.
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("store unavailable: %s: %v", e.Op, e.Err)
}

func (e *StoreError) Is(target error) bool { return target == ErrStoreUnavailable }

func (e *StoreError) Unwrap() error { return e.Err }
