package auction

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/bidengine/internal/domain"
	"github.com/alanyoungcy/bidengine/internal/store/memory"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func dec(v string) decimal.Decimal { return decimal.RequireFromString(v) }

func ndec(v string) decimal.NullDecimal { return decimal.NewNullDecimal(dec(v)) }

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// activeAuction returns an auction that started an hour before t0 and ends
// an hour after it, starting at 100 with an increment of 10.
func activeAuction() domain.Auction {
	return domain.Auction{
		ID:            "auc-1",
		SellerID:      "seller",
		Currency:      "USD",
		StartingPrice: dec("100"),
		BidIncrement:  dec("10"),
		CurrentBid:    dec("100"),
		StartTime:     t0.Add(-time.Hour),
		EndTime:       t0.Add(time.Hour),
		Status:        domain.AuctionStatusActive,
		ReserveMet:    true,
		Version:       1,
	}
}

type depositStub struct {
	mu    sync.Mutex
	ok    bool
	err   error
	calls int
}

func (d *depositStub) HasVerifiedDeposit(_ context.Context, _ string, _ decimal.Decimal) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls++
	return d.ok, d.err
}

type orderStub struct {
	mu    sync.Mutex
	err   error
	calls int
}

func (o *orderStub) CreateOrderFromAuction(_ context.Context, auctionID, _ string) (string, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.calls++
	if o.err != nil {
		return "", o.err
	}
	return "order-" + auctionID, nil
}

func (o *orderStub) fail(err error) {
	o.mu.Lock()
	o.err = err
	o.mu.Unlock()
}

type eventRecorder struct {
	mu     sync.Mutex
	events []domain.AuctionEvent
}

func (r *eventRecorder) Publish(_ context.Context, events []domain.AuctionEvent) {
	r.mu.Lock()
	r.events = append(r.events, events...)
	r.mu.Unlock()
}

func (r *eventRecorder) count(t domain.EventType) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, ev := range r.events {
		if ev.Type == t {
			n++
		}
	}
	return n
}

type harness struct {
	store  *memory.Store
	clock  *ManualClock
	engine *Engine
	orders *orderStub
	events *eventRecorder
}

func newHarness(t *testing.T, cfg EngineConfig) *harness {
	t.Helper()
	return newHarnessWithStore(t, cfg, nil)
}

// newHarnessWithStore builds an engine over a memory store. wrap, when set,
// may decorate the auction store.
func newHarnessWithStore(t *testing.T, cfg EngineConfig, wrap func(domain.AuctionStore) domain.AuctionStore) *harness {
	t.Helper()
	st := memory.New()
	auctions := st.Auctions()
	if wrap != nil {
		auctions = wrap(auctions)
	}
	clock := NewManualClock(t0)
	h := &harness{
		store:  st,
		clock:  clock,
		orders: &orderStub{},
		events: &eventRecorder{},
	}
	h.engine = NewEngine(auctions, st.Bids(), NewProcessor(nil), clock, cfg, discardLogger())
	h.engine.SetOrderCreator(h.orders)
	h.engine.SetEventSink(h.events)
	t.Cleanup(h.engine.Stop)
	return h
}

func defaultParams() CreateParams {
	return CreateParams{
		ProductID:     "prod-1",
		SellerID:      "seller",
		Currency:      "USD",
		StartingPrice: dec("100"),
		BidIncrement:  dec("10"),
		StartTime:     t0,
		EndTime:       t0.Add(time.Hour),
	}
}

func (h *harness) create(t *testing.T, edit func(*CreateParams)) domain.Auction {
	t.Helper()
	p := defaultParams()
	if edit != nil {
		edit(&p)
	}
	a, err := h.engine.Create(context.Background(), p)
	require.NoError(t, err)
	return a
}

func (h *harness) auction(t *testing.T, id string) domain.Auction {
	t.Helper()
	a, err := h.store.Auctions().GetByID(context.Background(), id)
	require.NoError(t, err)
	return a
}

func (h *harness) bids(t *testing.T, id string) []domain.Bid {
	t.Helper()
	bids, err := h.store.Bids().ListByAuction(context.Background(), id, domain.ListOpts{})
	require.NoError(t, err)
	return bids
}

func bidCmd(bidder, amount string) PlaceBidCommand {
	return PlaceBidCommand{BidderID: bidder, Amount: dec(amount)}
}

func proxyCmd(bidder, amount, max string) PlaceBidCommand {
	return PlaceBidCommand{BidderID: bidder, Amount: dec(amount), MaxBid: ndec(max)}
}
