package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// BidStatus tracks a bid's standing within its auction.
type BidStatus string

const (
	BidStatusActive    BidStatus = "active"
	BidStatusOutbid    BidStatus = "outbid"
	BidStatusWon       BidStatus = "won"
	BidStatusLost      BidStatus = "lost"
	BidStatusRetracted BidStatus = "retracted"
)

// Bid is an append-only record of one admitted bid. Only Status and Amount
// change after insert.
type Bid struct {
	ID              string
	AuctionID       string
	BidderID        string
	Amount          decimal.Decimal
	MaxBid          decimal.NullDecimal // proxy ceiling, private to the bidder
	Status          BidStatus
	SequenceNumber  int64
	SubmissionToken string
	BuyItNow        bool
	ReceivedAt      time.Time
	UpdatedAt       time.Time
}

// Ceiling is the most the bidder has authorised.
func (b Bid) Ceiling() decimal.Decimal {
	if b.MaxBid.Valid {
		return b.MaxBid.Decimal
	}
	return b.Amount
}

// Counted reports whether b participates in the auction's bid count.
func (b Bid) Counted() bool {
	return b.Status != BidStatusRetracted
}
