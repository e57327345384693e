package handler

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/alanyoungcy/bidengine/internal/auction"
	"github.com/alanyoungcy/bidengine/internal/domain"
	"github.com/alanyoungcy/bidengine/internal/service"
)

// AuctionService is what the auction handler needs from the service layer.
type AuctionService interface {
	Create(ctx context.Context, c service.Caller, p auction.CreateParams) (domain.Auction, error)
	Get(ctx context.Context, id string) (domain.Auction, error)
	List(ctx context.Context, f domain.AuctionFilter) ([]domain.Auction, error)
	PlaceBid(ctx context.Context, c service.Caller, auctionID string, cmd auction.PlaceBidCommand) (auction.BidResult, error)
	BuyItNow(ctx context.Context, c service.Caller, auctionID string) (auction.OrderReference, error)
	Cancel(ctx context.Context, c service.Caller, auctionID, reason string) (domain.Auction, error)
	RetractBid(ctx context.Context, c service.Caller, auctionID, bidID string) (domain.Bid, error)
	Advance(ctx context.Context, c service.Caller, auctionID string) (domain.Auction, error)
	ListBids(ctx context.Context, auctionID string, opts domain.ListOpts) ([]domain.Bid, error)
	AuctionHistory(ctx context.Context, c service.Caller, auctionID string, opts domain.ListOpts) ([]domain.AuditEntry, error)
}

// AuctionHandler serves the auction and bid endpoints.
type AuctionHandler struct {
	auctions AuctionService
	now      func() time.Time
	logger   *slog.Logger
}

// NewAuctionHandler creates an AuctionHandler.
func NewAuctionHandler(auctions AuctionService, logger *slog.Logger) *AuctionHandler {
	return &AuctionHandler{
		auctions: auctions,
		now:      func() time.Time { return time.Now().UTC() },
		logger:   logger.With(slog.String("handler", "auction")),
	}
}

// Create opens an auction sold by the caller.
// POST /auctions
func (h *AuctionHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req createAuctionRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	caller := service.CallerFrom(r.Context())
	a, err := h.auctions.Create(r.Context(), caller, req.params())
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	w.Header().Set("Location", "/api/auctions/"+a.ID)
	writeJSON(w, http.StatusCreated, toAuctionDTO(a, caller))
}

// Get returns one auction.
// GET /auctions/{id}
func (h *AuctionHandler) Get(w http.ResponseWriter, r *http.Request) {
	a, err := h.auctions.Get(r.Context(), pathParam(r, "id"))
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, toAuctionDTO(a, service.CallerFrom(r.Context())))
}

// List returns auctions filtered by status, seller or how soon they end.
// GET /auctions?status=active&sellerId=s1&endingWithin=30m&limit=50&offset=0
func (h *AuctionHandler) List(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := domain.AuctionFilter{
		Status:   domain.AuctionStatus(strings.ToLower(q.Get("status"))),
		SellerID: q.Get("sellerId"),
		ListOpts: parseListOpts(r),
	}
	if f.Status != "" && !f.Status.Valid() {
		writeError(w, r, h.logger, fmt.Errorf("%w: unknown status %q", errBadRequest, q.Get("status")))
		return
	}
	if v := q.Get("endingWithin"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			writeError(w, r, h.logger, fmt.Errorf("%w: endingWithin must be a positive duration", errBadRequest))
			return
		}
		until := h.now().Add(d)
		f.EndingBefore = &until
		if f.Status == "" {
			f.Status = domain.AuctionStatusActive
		}
	}

	list, err := h.auctions.List(r.Context(), f)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	caller := service.CallerFrom(r.Context())
	out := make([]auctionDTO, 0, len(list))
	for _, a := range list {
		out = append(out, toAuctionDTO(a, caller))
	}
	writeJSON(w, http.StatusOK, map[string]any{"auctions": out})
}

// PlaceBid bids for the caller. A repeated submission token answers 200
// with the original bid.
// POST /auctions/{id}/bid
func (h *AuctionHandler) PlaceBid(w http.ResponseWriter, r *http.Request) {
	var req placeBidRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	token := req.SubmissionToken
	if token == "" {
		token = strings.TrimSpace(r.Header.Get("Idempotency-Key"))
	}
	if !req.Amount.IsPositive() {
		writeError(w, r, h.logger, fmt.Errorf("%w: amount must be positive", domain.ErrInvalidBid))
		return
	}
	if req.MaxBid.Valid && req.MaxBid.Decimal.LessThan(req.Amount) {
		writeError(w, r, h.logger, fmt.Errorf("%w: maxBid must not be below amount", domain.ErrInvalidBid))
		return
	}

	caller := service.CallerFrom(r.Context())
	res, err := h.auctions.PlaceBid(r.Context(), caller, pathParam(r, "id"), auction.PlaceBidCommand{
		Amount:          req.Amount,
		MaxBid:          req.MaxBid,
		SubmissionToken: token,
	})
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	status := http.StatusCreated
	if res.Duplicate {
		status = http.StatusOK
	}
	writeJSON(w, status, toBidDTO(res.Bid, caller))
}

// BuyItNow buys the auction outright.
// POST /auctions/{id}/buy-it-now
func (h *AuctionHandler) BuyItNow(w http.ResponseWriter, r *http.Request) {
	ref, err := h.auctions.BuyItNow(r.Context(), service.CallerFrom(r.Context()), pathParam(r, "id"))
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, orderReferenceDTO{
		AuctionID: ref.AuctionID,
		BidID:     ref.BidID,
		OrderID:   ref.OrderID,
		Pending:   ref.Pending,
	})
}

// Cancel cancels an auction. The body is optional.
// POST /auctions/{id}/cancel
func (h *AuctionHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	var req cancelRequest
	if r.ContentLength != 0 {
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, r, h.logger, err)
			return
		}
	}
	if _, err := h.auctions.Cancel(r.Context(), service.CallerFrom(r.Context()), pathParam(r, "id"), req.Reason); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ListBids returns an auction's bids in sequence order.
// GET /auctions/{id}/bids?limit=50&offset=0
func (h *AuctionHandler) ListBids(w http.ResponseWriter, r *http.Request) {
	bids, err := h.auctions.ListBids(r.Context(), pathParam(r, "id"), parseListOpts(r))
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	caller := service.CallerFrom(r.Context())
	out := make([]bidDTO, 0, len(bids))
	for _, b := range bids {
		out = append(out, toBidDTO(b, caller))
	}
	writeJSON(w, http.StatusOK, map[string]any{"bids": out})
}

// History lists the audited commands of one auction.
// GET /auctions/{id}/history?limit=50&offset=0
func (h *AuctionHandler) History(w http.ResponseWriter, r *http.Request) {
	entries, err := h.auctions.AuctionHistory(r.Context(), service.CallerFrom(r.Context()), pathParam(r, "id"), parseListOpts(r))
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": toAuditDTOs(entries)})
}

// RetractBid withdraws one of the caller's outbid bids.
// POST /auctions/{id}/bids/{bidId}/retract
func (h *AuctionHandler) RetractBid(w http.ResponseWriter, r *http.Request) {
	caller := service.CallerFrom(r.Context())
	b, err := h.auctions.RetractBid(r.Context(), caller, pathParam(r, "id"), pathParam(r, "bidId"))
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, toBidDTO(b, caller))
}

// Advance applies due clock transitions now. Admin only.
// POST /auctions/{id}/advance
func (h *AuctionHandler) Advance(w http.ResponseWriter, r *http.Request) {
	caller := service.CallerFrom(r.Context())
	a, err := h.auctions.Advance(r.Context(), caller, pathParam(r, "id"))
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, toAuctionDTO(a, caller))
}
