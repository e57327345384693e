package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/bidengine/internal/domain"
)

// errBadRequest marks malformed requests that never reached the service.
var errBadRequest = errors.New("bad request")

// errorBody is the JSON shape of every error response.
type errorBody struct {
	Error      string           `json:"error"`
	Code       string           `json:"code"`
	Retryable  bool             `json:"retryable"`
	MinimumBid *decimal.Decimal `json:"minimumBid,omitempty"`
}

var errorStatus = []struct {
	err    error
	status int
	code   string
}{
	{errBadRequest, http.StatusBadRequest, "bad_request"},
	{domain.ErrNotFound, http.StatusNotFound, "not_found"},
	{domain.ErrAuctionNotActive, http.StatusConflict, "auction_not_active"},
	{domain.ErrAuctionEnded, http.StatusConflict, "auction_ended"},
	{domain.ErrAuctionNotCancellable, http.StatusConflict, "auction_not_cancellable"},
	{domain.ErrBuyItNowUnavailable, http.StatusConflict, "buy_it_now_unavailable"},
	{domain.ErrBidNotRetractable, http.StatusConflict, "bid_not_retractable"},
	{domain.ErrBidTooLow, http.StatusUnprocessableEntity, "bid_too_low"},
	{domain.ErrSelfBidNotAllowed, http.StatusUnprocessableEntity, "self_bid_not_allowed"},
	{domain.ErrInvalidAuction, http.StatusUnprocessableEntity, "invalid_auction"},
	{domain.ErrInvalidBid, http.StatusUnprocessableEntity, "invalid_bid"},
	{domain.ErrDepositRequired, http.StatusPaymentRequired, "deposit_required"},
	{domain.ErrAuctionBusy, http.StatusServiceUnavailable, "auction_busy"},
	{domain.ErrConcurrencyConflict, http.StatusServiceUnavailable, "concurrency_conflict"},
	{domain.ErrForbidden, http.StatusForbidden, "forbidden"},
	{domain.ErrUnauthorized, http.StatusUnauthorized, "unauthorized"},
	{domain.ErrRateLimited, http.StatusTooManyRequests, "rate_limited"},
	{domain.ErrDependencyUnavailable, http.StatusBadGateway, "dependency_unavailable"},
}

// statusFor maps an error to its HTTP status and error code.
func statusFor(err error) (int, string) {
	for _, e := range errorStatus {
		if errors.Is(err, e.err) {
			return e.status, e.code
		}
	}
	return http.StatusInternalServerError, "internal"
}

// writeError maps err onto the API error response. Unexpected errors are
// logged and their text is not exposed.
func writeError(w http.ResponseWriter, r *http.Request, logger *slog.Logger, err error) {
	status, code := statusFor(err)
	body := errorBody{
		Error:     err.Error(),
		Code:      code,
		Retryable: domain.IsRetryable(err),
	}
	var rejection *domain.BidRejection
	if errors.As(err, &rejection) {
		body.MinimumBid = &rejection.MinimumBid
	}
	switch {
	case status == http.StatusServiceUnavailable || status == http.StatusTooManyRequests:
		w.Header().Set("Retry-After", "1")
	case status >= http.StatusInternalServerError:
		logger.ErrorContext(r.Context(), "request failed",
			slog.String("path", r.URL.Path),
			slog.String("error", err.Error()),
		)
		if status == http.StatusInternalServerError {
			body.Error = "internal server error"
		}
	}
	writeJSON(w, status, body)
}
