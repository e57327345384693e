package service

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/alanyoungcy/bidengine/internal/auction"
	"github.com/alanyoungcy/bidengine/internal/domain"
)

// archivePrefix is where the archiver writes closed auctions.
const archivePrefix = "archive/auctions/"

// AuctionService is the application layer in front of the auction engine.
// It authorizes callers, serves reads through the snapshot cache and records
// every accepted command in the audit log.
type AuctionService struct {
	engine   *auction.Engine
	auctions domain.AuctionStore
	bids     domain.BidStore
	cache    domain.AuctionCache
	audit    domain.AuditStore
	archives domain.BlobReader
	logger   *slog.Logger
}

// NewAuctionService creates an AuctionService with all required dependencies.
func NewAuctionService(
	engine *auction.Engine,
	auctions domain.AuctionStore,
	bids domain.BidStore,
	cache domain.AuctionCache,
	audit domain.AuditStore,
	logger *slog.Logger,
) *AuctionService {
	return &AuctionService{
		engine:   engine,
		auctions: auctions,
		bids:     bids,
		cache:    cache,
		audit:    audit,
		logger:   logger.With(slog.String("component", "auction_service")),
	}
}

// SetArchiveReader enables listing archived auction batches.
func (s *AuctionService) SetArchiveReader(r domain.BlobReader) { s.archives = r }

// Create opens a new auction sold by the caller.
func (s *AuctionService) Create(ctx context.Context, c Caller, p auction.CreateParams) (domain.Auction, error) {
	if err := requireUser(c); err != nil {
		return domain.Auction{}, err
	}
	p.SellerID = c.UserID
	a, err := s.engine.Create(ctx, p)
	if err != nil {
		return domain.Auction{}, err
	}
	s.remember(ctx, a)
	s.record(ctx, "auction.create", map[string]any{
		"auction_id":     a.ID,
		"auction_number": a.AuctionNumber,
		"seller_id":      a.SellerID,
		"product_id":     a.ProductID,
	})
	return a, nil
}

// Get returns an auction, from the cache when possible.
func (s *AuctionService) Get(ctx context.Context, id string) (domain.Auction, error) {
	if a, err := s.cache.Get(ctx, id); err == nil {
		return a, nil
	}
	a, err := s.auctions.GetByID(ctx, id)
	if err != nil {
		return domain.Auction{}, fmt.Errorf("auction_service: get %s: %w", id, err)
	}
	s.remember(ctx, a)
	return a, nil
}

// List returns auctions matching f straight from the store.
func (s *AuctionService) List(ctx context.Context, f domain.AuctionFilter) ([]domain.Auction, error) {
	out, err := s.auctions.List(ctx, f)
	if err != nil {
		return nil, fmt.Errorf("auction_service: list: %w", err)
	}
	return out, nil
}

// PlaceBid bids on behalf of the caller.
func (s *AuctionService) PlaceBid(ctx context.Context, c Caller, auctionID string, cmd auction.PlaceBidCommand) (auction.BidResult, error) {
	if err := requireUser(c); err != nil {
		return auction.BidResult{}, err
	}
	cmd.BidderID = c.UserID
	res, err := s.engine.PlaceBid(ctx, auctionID, cmd)
	if err != nil {
		return auction.BidResult{}, err
	}
	s.remember(ctx, res.Auction)
	if !res.Duplicate {
		s.record(ctx, "bid.place", map[string]any{
			"auction_id": auctionID,
			"bid_id":     res.Bid.ID,
			"bidder_id":  c.UserID,
			"amount":     res.Bid.Amount.String(),
			"status":     string(res.Bid.Status),
			"sequence":   res.Bid.SequenceNumber,
		})
	}
	return res, nil
}

// BuyItNow buys the auction outright for the caller.
func (s *AuctionService) BuyItNow(ctx context.Context, c Caller, auctionID string) (auction.OrderReference, error) {
	if err := requireUser(c); err != nil {
		return auction.OrderReference{}, err
	}
	ref, err := s.engine.BuyItNow(ctx, auctionID, c.UserID)
	if err != nil {
		return auction.OrderReference{}, err
	}
	s.forget(ctx, auctionID)
	s.record(ctx, "auction.buy_it_now", map[string]any{
		"auction_id": auctionID,
		"bid_id":     ref.BidID,
		"buyer_id":   c.UserID,
		"order_id":   ref.OrderID,
	})
	return ref, nil
}

// Cancel cancels an auction. Only its seller or an admin may do so.
func (s *AuctionService) Cancel(ctx context.Context, c Caller, auctionID, reason string) (domain.Auction, error) {
	if err := requireUser(c); err != nil {
		return domain.Auction{}, err
	}
	current, err := s.auctions.GetByID(ctx, auctionID)
	if err != nil {
		return domain.Auction{}, fmt.Errorf("auction_service: cancel %s: %w", auctionID, err)
	}
	if current.SellerID != c.UserID && !c.IsAdmin() {
		return domain.Auction{}, fmt.Errorf("auction_service: cancel %s by %s: %w", auctionID, c.UserID, domain.ErrForbidden)
	}
	a, err := s.engine.Cancel(ctx, auctionID, reason)
	if err != nil {
		return domain.Auction{}, err
	}
	s.remember(ctx, a)
	s.record(ctx, "auction.cancel", map[string]any{
		"auction_id": auctionID,
		"by":         c.UserID,
		"reason":     reason,
	})
	return a, nil
}

// RetractBid withdraws one of the caller's outbid bids.
func (s *AuctionService) RetractBid(ctx context.Context, c Caller, auctionID, bidID string) (domain.Bid, error) {
	if err := requireUser(c); err != nil {
		return domain.Bid{}, err
	}
	b, err := s.engine.RetractBid(ctx, auctionID, bidID, c.UserID)
	if err != nil {
		return domain.Bid{}, err
	}
	s.forget(ctx, auctionID)
	s.record(ctx, "bid.retract", map[string]any{
		"auction_id": auctionID,
		"bid_id":     bidID,
		"bidder_id":  c.UserID,
	})
	return b, nil
}

// Advance forces the clock transitions of one auction. Admin only.
func (s *AuctionService) Advance(ctx context.Context, c Caller, auctionID string) (domain.Auction, error) {
	if err := requireAdmin(c); err != nil {
		return domain.Auction{}, err
	}
	a, err := s.engine.AdvanceClock(ctx, auctionID)
	if err != nil {
		return domain.Auction{}, err
	}
	s.remember(ctx, a)
	s.record(ctx, "auction.advance", map[string]any{"auction_id": auctionID, "by": c.UserID, "status": string(a.Status)})
	return a, nil
}

// ListBids returns an auction's bids in sequence order.
func (s *AuctionService) ListBids(ctx context.Context, auctionID string, opts domain.ListOpts) ([]domain.Bid, error) {
	if _, err := s.Get(ctx, auctionID); err != nil {
		return nil, err
	}
	out, err := s.bids.ListByAuction(ctx, auctionID, opts)
	if err != nil {
		return nil, fmt.Errorf("auction_service: list bids of %s: %w", auctionID, err)
	}
	return out, nil
}

// ListAudit returns the newest audit entries matching f. Admin only.
func (s *AuctionService) ListAudit(ctx context.Context, c Caller, f domain.AuditFilter) ([]domain.AuditEntry, error) {
	if err := requireAdmin(c); err != nil {
		return nil, err
	}
	out, err := s.audit.List(ctx, f)
	if err != nil {
		return nil, fmt.Errorf("auction_service: list audit: %w", err)
	}
	return out, nil
}

// AuctionHistory returns the audited commands of one auction, newest first.
// Its seller and admins may read it.
func (s *AuctionService) AuctionHistory(ctx context.Context, c Caller, auctionID string, opts domain.ListOpts) ([]domain.AuditEntry, error) {
	if err := requireUser(c); err != nil {
		return nil, err
	}
	a, err := s.Get(ctx, auctionID)
	if err != nil {
		return nil, err
	}
	if a.SellerID != c.UserID && !c.IsAdmin() {
		return nil, fmt.Errorf("auction_service: history of %s for %s: %w", auctionID, c.UserID, domain.ErrForbidden)
	}
	out, err := s.audit.List(ctx, domain.AuditFilter{AuctionID: auctionID, ListOpts: opts})
	if err != nil {
		return nil, fmt.Errorf("auction_service: history of %s: %w", auctionID, err)
	}
	return out, nil
}

// ListArchives returns the archived auction batches. Admin only.
func (s *AuctionService) ListArchives(ctx context.Context, c Caller) ([]domain.BlobInfo, error) {
	if err := requireAdmin(c); err != nil {
		return nil, err
	}
	if s.archives == nil {
		return nil, fmt.Errorf("auction_service: archive storage disabled: %w", domain.ErrNotFound)
	}
	out, err := s.archives.List(ctx, archivePrefix)
	if err != nil {
		return nil, fmt.Errorf("auction_service: list archives: %w", err)
	}
	return out, nil
}

func (s *AuctionService) remember(ctx context.Context, a domain.Auction) {
	if err := s.cache.Set(ctx, a); err != nil {
		s.logger.WarnContext(ctx, "cache set failed",
			slog.String("auction_id", a.ID),
			slog.String("error", err.Error()),
		)
	}
}

func (s *AuctionService) forget(ctx context.Context, id string) {
	if err := s.cache.Invalidate(ctx, id); err != nil {
		s.logger.WarnContext(ctx, "cache invalidate failed",
			slog.String("auction_id", id),
			slog.String("error", err.Error()),
		)
	}
}

// record writes an audit entry. A failed write is logged, not returned:
// the command has already committed.
func (s *AuctionService) record(ctx context.Context, event string, detail map[string]any) {
	if err := s.audit.Log(ctx, event, detail); err != nil {
		s.logger.ErrorContext(ctx, "audit log failed",
			slog.String("event", event),
			slog.String("error", err.Error()),
		)
	}
}
