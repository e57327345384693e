package domain

import (
	"errors"
	"fmt"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestIsRetryable(t *testing.T) {
	assert.True(t, IsRetryable(fmt.Errorf("auction: place bid: %w", ErrAuctionBusy)))
	assert.True(t, IsRetryable(fmt.Errorf("postgres: commit: %w", ErrConcurrencyConflict)))
	assert.False(t, IsRetryable(ErrBidTooLow))
	assert.False(t, IsRetryable(ErrDependencyUnavailable))
	assert.False(t, IsRetryable(nil))
}

func TestBidRejection(t *testing.T) {
	err := fmt.Errorf("auction: place bid: %w", &BidRejection{MinimumBid: decimal.RequireFromString("110")})
	assert.ErrorIs(t, err, ErrBidTooLow)
	assert.EqualError(t, err, "auction: place bid: bid too low (minimum 110)")

	var rej *BidRejection
	if assert.True(t, errors.As(err, &rej)) {
		assert.Equal(t, "110", rej.MinimumBid.String())
	}

	withReason := &BidRejection{MinimumBid: decimal.RequireFromString("210"), Reason: "below current bid"}
	assert.Equal(t, "bid too low: below current bid (minimum 210)", withReason.Error())
}
