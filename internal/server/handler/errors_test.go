package handler

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/bidengine/internal/domain"
)

func TestStatusFor(t *testing.T) {
	cases := []struct {
		err    error
		status int
		code   string
	}{
		{domain.ErrNotFound, http.StatusNotFound, "not_found"},
		{domain.ErrAuctionNotActive, http.StatusConflict, "auction_not_active"},
		{domain.ErrAuctionEnded, http.StatusConflict, "auction_ended"},
		{domain.ErrAuctionNotCancellable, http.StatusConflict, "auction_not_cancellable"},
		{domain.ErrBuyItNowUnavailable, http.StatusConflict, "buy_it_now_unavailable"},
		{domain.ErrBidNotRetractable, http.StatusConflict, "bid_not_retractable"},
		{&domain.BidRejection{MinimumBid: decimal.NewFromInt(110)}, http.StatusUnprocessableEntity, "bid_too_low"},
		{domain.ErrSelfBidNotAllowed, http.StatusUnprocessableEntity, "self_bid_not_allowed"},
		{domain.ErrInvalidAuction, http.StatusUnprocessableEntity, "invalid_auction"},
		{domain.ErrDepositRequired, http.StatusPaymentRequired, "deposit_required"},
		{domain.ErrAuctionBusy, http.StatusServiceUnavailable, "auction_busy"},
		{domain.ErrConcurrencyConflict, http.StatusServiceUnavailable, "concurrency_conflict"},
		{domain.ErrForbidden, http.StatusForbidden, "forbidden"},
		{domain.ErrUnauthorized, http.StatusUnauthorized, "unauthorized"},
		{domain.ErrDependencyUnavailable, http.StatusBadGateway, "dependency_unavailable"},
		{fmt.Errorf("boom"), http.StatusInternalServerError, "internal"},
	}
	for _, tc := range cases {
		t.Run(tc.code, func(t *testing.T) {
			status, code := statusFor(fmt.Errorf("wrapped: %w", tc.err))
			assert.Equal(t, tc.status, status)
			assert.Equal(t, tc.code, code)
		})
	}
}

func TestWriteErrorBusyIsRetryable(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/auctions/a1/bid", nil)

	writeError(rec, req, logger, fmt.Errorf("auction: a1: %w", domain.ErrAuctionBusy))

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "1", rec.Header().Get("Retry-After"))
	var body errorBody
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "auction_busy", body.Code)
	assert.True(t, body.Retryable)
}

func TestWriteErrorHidesInternalDetail(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/auctions/a1", nil)

	writeError(rec, req, logger, fmt.Errorf("postgres: password=hunter2"))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.NotContains(t, rec.Body.String(), "hunter2")
}
