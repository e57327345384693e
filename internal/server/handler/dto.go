package handler

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/bidengine/internal/auction"
	"github.com/alanyoungcy/bidengine/internal/domain"
	"github.com/alanyoungcy/bidengine/internal/service"
)

// createAuctionRequest is the body of POST /auctions.
type createAuctionRequest struct {
	ProductID           string              `json:"productId"`
	StartingPrice       decimal.Decimal     `json:"startingPrice"`
	ReservePrice        decimal.NullDecimal `json:"reservePrice"`
	BuyItNowPrice       decimal.NullDecimal `json:"buyItNowPrice"`
	BidIncrement        decimal.Decimal     `json:"bidIncrement"`
	Currency            string              `json:"currency"`
	StartTime           time.Time           `json:"startTime"`
	EndTime             time.Time           `json:"endTime"`
	AutoExtend          bool                `json:"autoExtend"`
	ExtendWindowMinutes int                 `json:"extendWindowMinutes"`
	RequiresDeposit     bool                `json:"requiresDeposit"`
	DepositAmount       decimal.NullDecimal `json:"depositAmount"`
}

func (req createAuctionRequest) params() auction.CreateParams {
	return auction.CreateParams{
		ProductID:       req.ProductID,
		Currency:        req.Currency,
		StartingPrice:   req.StartingPrice,
		ReservePrice:    req.ReservePrice,
		BuyItNowPrice:   req.BuyItNowPrice,
		BidIncrement:    req.BidIncrement,
		StartTime:       req.StartTime,
		EndTime:         req.EndTime,
		AutoExtend:      req.AutoExtend,
		ExtendWindow:    time.Duration(req.ExtendWindowMinutes) * time.Minute,
		RequiresDeposit: req.RequiresDeposit,
		DepositAmount:   req.DepositAmount,
	}
}

// placeBidRequest is the body of POST /auctions/{id}/bid.
type placeBidRequest struct {
	Amount          decimal.Decimal     `json:"amount"`
	MaxBid          decimal.NullDecimal `json:"maxBid"`
	SubmissionToken string              `json:"submissionToken"`
}

type cancelRequest struct {
	Reason string `json:"reason"`
}

// auctionDTO is the public view of an auction. The reserve amount is never
// included, only whether one exists and has been met.
type auctionDTO struct {
	ID                  string               `json:"id"`
	AuctionNumber       string               `json:"auctionNumber"`
	ProductID           string               `json:"productId"`
	SellerID            string               `json:"sellerId"`
	Currency            string               `json:"currency"`
	StartingPrice       decimal.Decimal      `json:"startingPrice"`
	CurrentBid          decimal.Decimal      `json:"currentBid"`
	BidIncrement        decimal.Decimal      `json:"bidIncrement"`
	MinimumNextBid      decimal.Decimal      `json:"minimumNextBid"`
	BuyItNowPrice       *decimal.Decimal     `json:"buyItNowPrice,omitempty"`
	HasReserve          bool                 `json:"hasReserve"`
	ReserveMet          bool                 `json:"reserveMet"`
	StartTime           time.Time            `json:"startTime"`
	EndTime             time.Time            `json:"endTime"`
	AutoExtend          bool                 `json:"autoExtend"`
	ExtendWindowMinutes int                  `json:"extendWindowMinutes"`
	IsExtended          bool                 `json:"isExtended"`
	Status              domain.AuctionStatus `json:"status"`
	BidCount            int                  `json:"bidCount"`
	HighestBidderID     string               `json:"highestBidderId,omitempty"`
	WinningBidID        string               `json:"winningBidId,omitempty"`
	OrderID             string               `json:"orderId,omitempty"`
	RequiresDeposit     bool                 `json:"requiresDeposit"`
	DepositAmount       *decimal.Decimal     `json:"depositAmount,omitempty"`
	CancelReason        string               `json:"cancelReason,omitempty"`
	EndedAt             *time.Time           `json:"endedAt,omitempty"`
	Version             int64                `json:"version"`
	CreatedAt           time.Time            `json:"createdAt"`
}

func toAuctionDTO(a domain.Auction, viewer service.Caller) auctionDTO {
	dto := auctionDTO{
		ID:                  a.ID,
		AuctionNumber:       a.AuctionNumber,
		ProductID:           a.ProductID,
		SellerID:            a.SellerID,
		Currency:            a.Currency,
		StartingPrice:       a.StartingPrice,
		CurrentBid:          a.CurrentBid,
		BidIncrement:        a.BidIncrement,
		MinimumNextBid:      a.MinimumNextBid(),
		BuyItNowPrice:       nullable(a.BuyItNowPrice),
		HasReserve:          a.HasReserve(),
		ReserveMet:          a.ReserveMet,
		StartTime:           a.StartTime,
		EndTime:             a.EndTime,
		AutoExtend:          a.AutoExtend,
		ExtendWindowMinutes: int(a.ExtendWindow / time.Minute),
		IsExtended:          a.IsExtended(),
		Status:              a.Status,
		BidCount:            a.BidCount,
		HighestBidderID:     a.HighestBidderID,
		WinningBidID:        a.WinningBidID,
		RequiresDeposit:     a.RequiresDeposit,
		DepositAmount:       nullable(a.DepositAmount),
		CancelReason:        a.CancelReason,
		EndedAt:             a.EndedAt,
		Version:             a.Version,
		CreatedAt:           a.CreatedAt,
	}
	if viewer.IsAdmin() || (!viewer.Anonymous() && (viewer.UserID == a.SellerID || viewer.UserID == a.HighestBidderID)) {
		dto.OrderID = a.OrderID
	}
	return dto
}

// bidDTO is a bid as shown to viewer. The proxy ceiling is shown only to
// the bidder who set it.
type bidDTO struct {
	ID             string           `json:"id"`
	AuctionID      string           `json:"auctionId"`
	BidderID       string           `json:"bidderId"`
	Amount         decimal.Decimal  `json:"amount"`
	MaxBid         *decimal.Decimal `json:"maxBid,omitempty"`
	Status         domain.BidStatus `json:"status"`
	SequenceNumber int64            `json:"sequenceNumber"`
	BuyItNow       bool             `json:"buyItNow,omitempty"`
	ReceivedAt     time.Time        `json:"receivedAt"`
}

func toBidDTO(b domain.Bid, viewer service.Caller) bidDTO {
	dto := bidDTO{
		ID:             b.ID,
		AuctionID:      b.AuctionID,
		BidderID:       b.BidderID,
		Amount:         b.Amount,
		Status:         b.Status,
		SequenceNumber: b.SequenceNumber,
		BuyItNow:       b.BuyItNow,
		ReceivedAt:     b.ReceivedAt,
	}
	if !viewer.Anonymous() && viewer.UserID == b.BidderID {
		dto.MaxBid = nullable(b.MaxBid)
	}
	return dto
}

type orderReferenceDTO struct {
	AuctionID string `json:"auctionId"`
	BidID     string `json:"bidId"`
	OrderID   string `json:"orderId,omitempty"`
	Pending   bool   `json:"pending"`
}

type auditEntryDTO struct {
	ID        int64          `json:"id"`
	AuctionID string         `json:"auctionId,omitempty"`
	Event     string         `json:"event"`
	Detail    map[string]any `json:"detail"`
	CreatedAt time.Time      `json:"createdAt"`
}

func toAuditDTOs(entries []domain.AuditEntry) []auditEntryDTO {
	out := make([]auditEntryDTO, 0, len(entries))
	for _, e := range entries {
		out = append(out, auditEntryDTO(e))
	}
	return out
}

type archiveDTO struct {
	Path         string    `json:"path"`
	Size         int64     `json:"size"`
	LastModified time.Time `json:"lastModified"`
}

func nullable(d decimal.NullDecimal) *decimal.Decimal {
	if !d.Valid {
		return nil
	}
	v := d.Decimal
	return &v
}
