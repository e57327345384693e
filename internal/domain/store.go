package domain

import (
	"context"
	"time"
)

// ListOpts provides pagination and filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

// AuctionMutation is the unit of persistence for one serialized command.
// Commit must apply it atomically and only if the stored auction version
// still equals ExpectedVersion; otherwise it returns ErrConcurrencyConflict.
type AuctionMutation struct {
	Auction         Auction
	ExpectedVersion int64
	NewBids         []Bid
	UpdatedBids     []Bid
}

// AuctionStore persists auctions.
type AuctionStore interface {
	Create(ctx context.Context, auction Auction) error
	GetByID(ctx context.Context, id string) (Auction, error)
	List(ctx context.Context, filter AuctionFilter) ([]Auction, error)
	// ListDue returns auctions with a time-based transition due at or before
	// now, plus sold auctions still waiting for an order.
	ListDue(ctx context.Context, now time.Time, limit int) ([]Auction, error)
	// ListPending returns non-terminal auctions ordered by next deadline.
	ListPending(ctx context.Context, limit int) ([]Auction, error)
	// Commit applies m and bumps the auction version by one.
	Commit(ctx context.Context, m AuctionMutation) (Auction, error)
	ListClosedBefore(ctx context.Context, before time.Time, limit int) ([]Auction, error)
	MarkArchived(ctx context.Context, ids []string, at time.Time) error
}

// BidStore reads bids. Bids are written only through AuctionStore.Commit.
type BidStore interface {
	GetByID(ctx context.Context, id string) (Bid, error)
	GetBySubmission(ctx context.Context, auctionID, bidderID, token string) (Bid, error)
	ListByAuction(ctx context.Context, auctionID string, opts ListOpts) ([]Bid, error)
}

// AuditEntry is a single audit log row. AuctionID is empty for entries that
// are not about one auction, such as archive sweeps.
type AuditEntry struct {
	ID        int64
	AuctionID string
	Event     string
	Detail    map[string]any
	CreatedAt time.Time
}

// AuditFilter narrows an audit listing. Empty fields match everything.
type AuditFilter struct {
	AuctionID string
	Event     string
	ListOpts
}

// Matches reports whether e passes the filter's field checks. Paging and
// time bounds are applied by the store.
func (f AuditFilter) Matches(e AuditEntry) bool {
	if f.AuctionID != "" && e.AuctionID != f.AuctionID {
		return false
	}
	if f.Event != "" && e.Event != f.Event {
		return false
	}
	if f.Since != nil && e.CreatedAt.Before(*f.Since) {
		return false
	}
	if f.Until != nil && e.CreatedAt.After(*f.Until) {
		return false
	}
	return true
}

// AuditAuctionID returns the auction an audit detail refers to, taken from
// its "auction_id" key.
func AuditAuctionID(detail map[string]any) string {
	id, _ := detail["auction_id"].(string)
	return id
}

// AuditStore persists an append-only audit log. Log indexes each entry by
// AuditAuctionID(detail) so that one auction's history can be listed.
type AuditStore interface {
	Log(ctx context.Context, event string, detail map[string]any) error
	List(ctx context.Context, filter AuditFilter) ([]AuditEntry, error)
}
