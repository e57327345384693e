package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// AuctionStatus tracks the auction lifecycle.
type AuctionStatus string

const (
	AuctionStatusScheduled AuctionStatus = "scheduled"
	AuctionStatusActive    AuctionStatus = "active"
	AuctionStatusEnded     AuctionStatus = "ended"
	AuctionStatusSold      AuctionStatus = "sold"
	AuctionStatusUnsold    AuctionStatus = "unsold"
	AuctionStatusCancelled AuctionStatus = "cancelled"
)

// Terminal reports whether s accepts no further bids or cancellation.
func (s AuctionStatus) Terminal() bool {
	switch s {
	case AuctionStatusEnded, AuctionStatusSold, AuctionStatusUnsold, AuctionStatusCancelled:
		return true
	}
	return false
}

// Valid reports whether s is a known status.
func (s AuctionStatus) Valid() bool {
	switch s {
	case AuctionStatusScheduled, AuctionStatusActive, AuctionStatusEnded,
		AuctionStatusSold, AuctionStatusUnsold, AuctionStatusCancelled:
		return true
	}
	return false
}

// Auction is a time-bounded ascending auction for a single product.
type Auction struct {
	ID            string
	AuctionNumber string
	ProductID     string
	SellerID      string

	Currency      string
	StartingPrice decimal.Decimal
	ReservePrice  decimal.NullDecimal
	BuyItNowPrice decimal.NullDecimal
	BidIncrement  decimal.Decimal
	CurrentBid    decimal.Decimal

	StartTime     time.Time
	EndTime       time.Time
	AutoExtend    bool
	ExtendWindow  time.Duration
	ExtendedUntil *time.Time

	Status          AuctionStatus
	BidCount        int
	ReserveMet      bool
	WinningBidID    string
	LeadingBidID    string
	HighestBidderID string
	LastSequence    int64

	RequiresDeposit bool
	DepositAmount   decimal.NullDecimal

	OrderID      string
	CancelReason string
	EndedAt      *time.Time

	Version    int64
	CreatedAt  time.Time
	UpdatedAt  time.Time
	ArchivedAt *time.Time
}

// HasReserve reports whether the seller set a reserve price.
func (a Auction) HasReserve() bool { return a.ReservePrice.Valid }

// IsExtended reports whether auto-extension has moved the end time.
func (a Auction) IsExtended() bool { return a.ExtendedUntil != nil }

// MinimumNextBid is the smallest amount a new bid must reach.
func (a Auction) MinimumNextBid() decimal.Decimal {
	return a.CurrentBid.Add(a.BidIncrement)
}

// ComputeReserveMet evaluates the reserve against the current price.
func (a Auction) ComputeReserveMet() bool {
	if !a.ReservePrice.Valid {
		return true
	}
	return a.CurrentBid.GreaterThanOrEqual(a.ReservePrice.Decimal)
}

// NextDeadline returns the next time the clock must advance this auction,
// or false when the auction has no pending time-based transition.
func (a Auction) NextDeadline() (time.Time, bool) {
	switch a.Status {
	case AuctionStatusScheduled:
		return a.StartTime, true
	case AuctionStatusActive:
		return a.EndTime, true
	}
	return time.Time{}, false
}

// AuctionFilter narrows auction list queries.
type AuctionFilter struct {
	Status       AuctionStatus
	SellerID     string
	EndingBefore *time.Time
	ListOpts
}
