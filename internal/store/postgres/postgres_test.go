package postgres

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/bidengine/internal/domain"
)

// newTestClient connects to BIDENGINE_TEST_POSTGRES_DSN and skips the test
// when it is unset.
func newTestClient(t *testing.T) *Client {
	t.Helper()
	dsn := os.Getenv("BIDENGINE_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("BIDENGINE_TEST_POSTGRES_DSN not set")
	}
	ctx := context.Background()
	c, err := New(ctx, ClientConfig{DSN: dsn})
	require.NoError(t, err)
	require.NoError(t, c.RunMigrations(ctx))
	t.Cleanup(c.Close)
	return c
}

func TestDSN(t *testing.T) {
	assert.Equal(t, "postgres://u:p@db:5432/bids?sslmode=disable",
		DSN(ClientConfig{Host: "db", Database: "bids", User: "u", Password: "p"}))
	assert.Equal(t, "postgres://explicit", DSN(ClientConfig{DSN: "postgres://explicit", Host: "ignored"}))
}

func testAuction(now time.Time) domain.Auction {
	id := uuid.NewString()
	return domain.Auction{
		ID:            id,
		AuctionNumber: "AUC-TEST-" + id[:8],
		ProductID:     "prod",
		SellerID:      "seller",
		Currency:      "USD",
		StartingPrice: decimal.NewFromInt(100),
		ReservePrice:  decimal.NewNullDecimal(decimal.NewFromInt(150)),
		BidIncrement:  decimal.NewFromInt(10),
		CurrentBid:    decimal.NewFromInt(100),
		StartTime:     now,
		EndTime:       now.Add(time.Hour),
		AutoExtend:    true,
		ExtendWindow:  5 * time.Minute,
		Status:        domain.AuctionStatusActive,
		Version:       1,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

func TestAuctionStoreCommit(t *testing.T) {
	c := newTestClient(t)
	auctions := NewAuctionStore(c.Pool())
	bids := NewBidStore(c.Pool())
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Millisecond)

	a := testAuction(now)
	require.NoError(t, auctions.Create(ctx, a))

	got, err := auctions.GetByID(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, 5*time.Minute, got.ExtendWindow)
	assert.True(t, got.ReservePrice.Decimal.Equal(decimal.NewFromInt(150)))

	bid := domain.Bid{
		ID: uuid.NewString(), AuctionID: a.ID, BidderID: "alice",
		Amount: decimal.NewFromInt(110), Status: domain.BidStatusActive,
		SequenceNumber: 1, SubmissionToken: "tok", ReceivedAt: now, UpdatedAt: now,
	}
	next := got
	next.CurrentBid = bid.Amount
	next.BidCount = 1
	next.LastSequence = 1
	next.LeadingBidID = bid.ID
	committed, err := auctions.Commit(ctx, domain.AuctionMutation{Auction: next, ExpectedVersion: 1, NewBids: []domain.Bid{bid}})
	require.NoError(t, err)
	assert.Equal(t, int64(2), committed.Version)
	assert.Equal(t, bid.ID, committed.LeadingBidID)

	_, err = auctions.Commit(ctx, domain.AuctionMutation{Auction: next, ExpectedVersion: 1})
	assert.ErrorIs(t, err, domain.ErrConcurrencyConflict)

	dup := bid
	dup.ID = uuid.NewString()
	dup.SequenceNumber = 2
	_, err = auctions.Commit(ctx, domain.AuctionMutation{Auction: committed, ExpectedVersion: 2, NewBids: []domain.Bid{dup}})
	assert.ErrorIs(t, err, domain.ErrAlreadyExists)

	found, err := bids.GetBySubmission(ctx, a.ID, "alice", "tok")
	require.NoError(t, err)
	assert.Equal(t, bid.ID, found.ID)

	_, err = auctions.GetByID(ctx, "missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestAuditListQuery(t *testing.T) {
	q, args := auditListQuery(domain.AuditFilter{})
	assert.Equal(t, "SELECT id, COALESCE(auction_id, ''), event, detail, created_at FROM audit_log ORDER BY created_at DESC, id DESC", q)
	assert.Empty(t, args)

	since := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	q, args = auditListQuery(domain.AuditFilter{
		AuctionID: "auc-1",
		Event:     "bid.place",
		ListOpts:  domain.ListOpts{Since: &since, Limit: 10, Offset: 20},
	})
	assert.Contains(t, q, "WHERE auction_id = $1 AND event = $2 AND created_at >= $3")
	assert.Contains(t, q, "LIMIT $4 OFFSET $5")
	assert.Equal(t, []any{"auc-1", "bid.place", since, 10, 20}, args)
}

func TestAuditStoreByAuction(t *testing.T) {
	c := newTestClient(t)
	audit := NewAuditStore(c.Pool())
	ctx := context.Background()
	id := uuid.NewString()

	require.NoError(t, audit.Log(ctx, "auction.create", map[string]any{"auction_id": id}))
	require.NoError(t, audit.Log(ctx, "bid.place", map[string]any{"auction_id": id, "amount": "110"}))
	require.NoError(t, audit.Log(ctx, "archive.auctions", map[string]any{"count": 1}))

	history, err := audit.List(ctx, domain.AuditFilter{AuctionID: id})
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, "bid.place", history[0].Event)
	assert.Equal(t, id, history[0].AuctionID)
	assert.Equal(t, "110", history[0].Detail["amount"])
}
