package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// EventType names a domain event emitted by the auction engine.
type EventType string

const (
	EventAuctionCreated   EventType = "auction_created"
	EventAuctionStarted   EventType = "auction_started"
	EventBidAccepted      EventType = "bid_accepted"
	EventOutbid           EventType = "outbid"
	EventAuctionExtended  EventType = "auction_extended"
	EventAuctionEnded     EventType = "auction_ended"
	EventAuctionSold      EventType = "auction_sold"
	EventAuctionUnsold    EventType = "auction_unsold"
	EventAuctionCancelled EventType = "auction_cancelled"
	EventBidRetracted     EventType = "bid_retracted"
	EventOrderCreated     EventType = "order_created"
)

// AuctionEvent is emitted after a mutation has been committed. Events carry
// only information safe to show to every participant; proxy ceilings are
// never included.
type AuctionEvent struct {
	ID         string          `json:"id"`
	Type       EventType       `json:"type"`
	AuctionID  string          `json:"auctionId"`
	BidID      string          `json:"bidId,omitempty"`
	BidderID   string          `json:"bidderId,omitempty"`
	Amount     decimal.Decimal `json:"amount"`
	Currency   string          `json:"currency,omitempty"`
	Status     AuctionStatus   `json:"status"`
	EndTime    time.Time       `json:"endTime"`
	Version    int64           `json:"version"`
	Detail     string          `json:"detail,omitempty"`
	OccurredAt time.Time       `json:"occurredAt"`
}

// EventChannel returns the pub/sub channel an auction's events are published on.
func EventChannel(auctionID string) string {
	return "ch:auction:" + auctionID
}

// Pub/sub and stream names shared by publishers and subscribers.
const (
	ChannelAuctionEvents = "ch:auction:events"
	StreamAuctionEvents  = "stream:auction:events"
)
