package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/bidengine/internal/domain"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func seed(t *testing.T, st *Store, a domain.Auction) {
	t.Helper()
	require.NoError(t, st.Auctions().Create(context.Background(), a))
}

func TestCommitChecksVersion(t *testing.T) {
	st := New()
	ctx := context.Background()
	seed(t, st, domain.Auction{ID: "a1", Status: domain.AuctionStatusActive})

	bid := domain.Bid{ID: "b1", AuctionID: "a1", BidderID: "alice", SequenceNumber: 1, SubmissionToken: "tok"}
	got, err := st.Auctions().Commit(ctx, domain.AuctionMutation{
		Auction:         domain.Auction{ID: "a1", Status: domain.AuctionStatusActive, BidCount: 1},
		ExpectedVersion: 1,
		NewBids:         []domain.Bid{bid},
	})
	require.NoError(t, err)
	assert.Equal(t, int64(2), got.Version)

	_, err = st.Auctions().Commit(ctx, domain.AuctionMutation{
		Auction:         domain.Auction{ID: "a1"},
		ExpectedVersion: 1,
	})
	assert.ErrorIs(t, err, domain.ErrConcurrencyConflict)

	found, err := st.Bids().GetBySubmission(ctx, "a1", "alice", "tok")
	require.NoError(t, err)
	assert.Equal(t, "b1", found.ID)

	_, err = st.Auctions().Commit(ctx, domain.AuctionMutation{
		Auction:         domain.Auction{ID: "a1"},
		ExpectedVersion: 2,
		NewBids:         []domain.Bid{{ID: "b2", AuctionID: "a1", BidderID: "alice", SubmissionToken: "tok"}},
	})
	assert.ErrorIs(t, err, domain.ErrAlreadyExists, "a submission token is stored once")

	_, err = st.Auctions().Commit(ctx, domain.AuctionMutation{Auction: domain.Auction{ID: "nope"}})
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestCreateDuplicate(t *testing.T) {
	st := New()
	seed(t, st, domain.Auction{ID: "a1"})
	err := st.Auctions().Create(context.Background(), domain.Auction{ID: "a1"})
	assert.ErrorIs(t, err, domain.ErrAlreadyExists)
}

func TestListFilters(t *testing.T) {
	st := New()
	seed(t, st, domain.Auction{ID: "a1", SellerID: "s1", Status: domain.AuctionStatusActive, EndTime: t0.Add(3 * time.Hour), CreatedAt: t0})
	seed(t, st, domain.Auction{ID: "a2", SellerID: "s1", Status: domain.AuctionStatusActive, EndTime: t0.Add(time.Hour), CreatedAt: t0.Add(time.Minute)})
	seed(t, st, domain.Auction{ID: "a3", SellerID: "s2", Status: domain.AuctionStatusScheduled, EndTime: t0.Add(2 * time.Hour), CreatedAt: t0.Add(2 * time.Minute)})
	ctx := context.Background()

	all, err := st.Auctions().List(ctx, domain.AuctionFilter{})
	require.NoError(t, err)
	assert.Equal(t, []string{"a3", "a2", "a1"}, ids(all), "newest first")

	bySeller, err := st.Auctions().List(ctx, domain.AuctionFilter{SellerID: "s1", Status: domain.AuctionStatusActive})
	require.NoError(t, err)
	assert.Equal(t, []string{"a2", "a1"}, ids(bySeller))

	cutoff := t0.Add(2 * time.Hour)
	ending, err := st.Auctions().List(ctx, domain.AuctionFilter{EndingBefore: &cutoff})
	require.NoError(t, err)
	assert.Equal(t, []string{"a2", "a3"}, ids(ending), "soonest end first")

	paged, err := st.Auctions().List(ctx, domain.AuctionFilter{ListOpts: domain.ListOpts{Limit: 1, Offset: 1}})
	require.NoError(t, err)
	assert.Equal(t, []string{"a2"}, ids(paged))
}

func TestClosedBeforeAndArchive(t *testing.T) {
	st := New()
	ctx := context.Background()
	old, recent := t0.Add(-48*time.Hour), t0.Add(-time.Hour)
	seed(t, st, domain.Auction{ID: "sold", Status: domain.AuctionStatusSold, EndedAt: &old})
	seed(t, st, domain.Auction{ID: "recent", Status: domain.AuctionStatusUnsold, EndedAt: &recent})
	seed(t, st, domain.Auction{ID: "live", Status: domain.AuctionStatusActive})

	closed, err := st.Auctions().ListClosedBefore(ctx, t0.Add(-24*time.Hour), 10)
	require.NoError(t, err)
	assert.Equal(t, []string{"sold"}, ids(closed))

	require.NoError(t, st.Auctions().MarkArchived(ctx, []string{"sold"}, t0))
	closed, err = st.Auctions().ListClosedBefore(ctx, t0, 10)
	require.NoError(t, err)
	assert.Equal(t, []string{"recent"}, ids(closed), "archived auctions are skipped")
}

func TestAuditNewestFirst(t *testing.T) {
	st := New()
	ctx := context.Background()
	require.NoError(t, st.Audit().Log(ctx, "first", nil))
	require.NoError(t, st.Audit().Log(ctx, "second", map[string]any{"k": "v"}))

	entries, err := st.Audit().List(ctx, domain.AuditFilter{})
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "second", entries[0].Event)
	assert.Equal(t, int64(2), entries[0].ID)
}

func TestAuditFilterByAuction(t *testing.T) {
	st := New()
	ctx := context.Background()
	require.NoError(t, st.Audit().Log(ctx, "auction.create", map[string]any{"auction_id": "a1"}))
	require.NoError(t, st.Audit().Log(ctx, "bid.place", map[string]any{"auction_id": "a2"}))
	require.NoError(t, st.Audit().Log(ctx, "bid.place", map[string]any{"auction_id": "a1"}))
	require.NoError(t, st.Audit().Log(ctx, "archive.auctions", map[string]any{"count": 3}))

	history, err := st.Audit().List(ctx, domain.AuditFilter{AuctionID: "a1"})
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, "bid.place", history[0].Event)
	assert.Equal(t, "auction.create", history[1].Event)
	for _, e := range history {
		assert.Equal(t, "a1", e.AuctionID)
	}

	bids, err := st.Audit().List(ctx, domain.AuditFilter{Event: "bid.place", ListOpts: domain.ListOpts{Limit: 1}})
	require.NoError(t, err)
	require.Len(t, bids, 1)
	assert.Equal(t, "a1", bids[0].AuctionID)

	all, err := st.Audit().List(ctx, domain.AuditFilter{})
	require.NoError(t, err)
	assert.Empty(t, all[0].AuctionID, "sweeps are not tied to an auction")
}

func ids(as []domain.Auction) []string {
	out := make([]string, len(as))
	for i, a := range as {
		out[i] = a.ID
	}
	return out
}
