package domain

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

var (
	ErrNotFound      = errors.New("not found")
	ErrAlreadyExists = errors.New("already exists")
	ErrRateLimited   = errors.New("rate limited")
	ErrUnauthorized  = errors.New("unauthorized")
	ErrForbidden     = errors.New("forbidden")
	ErrLockHeld      = errors.New("lock already held")

	ErrAuctionNotActive      = errors.New("auction not active")
	ErrAuctionEnded          = errors.New("auction ended")
	ErrBidTooLow             = errors.New("bid too low")
	ErrSelfBidNotAllowed     = errors.New("seller cannot bid on own auction")
	ErrDepositRequired       = errors.New("verified deposit required")
	ErrAuctionBusy           = errors.New("auction busy")
	ErrAuctionNotCancellable = errors.New("auction not cancellable")
	ErrBuyItNowUnavailable   = errors.New("buy it now unavailable")
	ErrConcurrencyConflict   = errors.New("concurrency conflict")
	ErrBidNotRetractable     = errors.New("bid not retractable")
	ErrInvalidAuction        = errors.New("invalid auction parameters")
	ErrInvalidBid            = errors.New("invalid bid parameters")
	ErrDependencyUnavailable = errors.New("dependency unavailable")
)

// IsRetryable reports whether a caller may automatically retry the request
// that produced err.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrAuctionBusy) || errors.Is(err, ErrConcurrencyConflict)
}

// BidRejection carries the minimum acceptable amount alongside ErrBidTooLow.
type BidRejection struct {
	MinimumBid decimal.Decimal
	Reason     string
}

func (e *BidRejection) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("%s: %s (minimum %s)", ErrBidTooLow, e.Reason, e.MinimumBid)
	}
	return fmt.Sprintf("%s (minimum %s)", ErrBidTooLow, e.MinimumBid)
}

func (e *BidRejection) Unwrap() error { return ErrBidTooLow }
