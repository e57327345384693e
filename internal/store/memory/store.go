// Package memory provides in-process implementations of the auction stores
// for single-instance deployments and tests.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/alanyoungcy/bidengine/internal/domain"
)

// Store keeps auctions, bids and the audit log in memory. Commit applies a
// mutation atomically under a single lock.
type Store struct {
	mu       sync.RWMutex
	auctions map[string]domain.Auction
	bids     map[string]domain.Bid
	byAuc    map[string][]string // auction id -> bid ids in sequence order
	tokens   map[string]string   // submission key -> bid id
	audit    []domain.AuditEntry
}

// New creates an empty Store.
func New() *Store {
	return &Store{
		auctions: map[string]domain.Auction{},
		bids:     map[string]domain.Bid{},
		byAuc:    map[string][]string{},
		tokens:   map[string]string{},
	}
}

// Auctions returns the store as a domain.AuctionStore.
func (s *Store) Auctions() domain.AuctionStore { return auctionStore{s} }

// Bids returns the store as a domain.BidStore.
func (s *Store) Bids() domain.BidStore { return bidStore{s} }

// Audit returns the store as a domain.AuditStore.
func (s *Store) Audit() domain.AuditStore { return auditStore{s} }

type auctionStore struct{ s *Store }

var _ domain.AuctionStore = auctionStore{}

func (st auctionStore) Create(_ context.Context, a domain.Auction) error {
	s := st.s
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.auctions[a.ID]; ok {
		return fmt.Errorf("memory: auction %s: %w", a.ID, domain.ErrAlreadyExists)
	}
	if a.Version == 0 {
		a.Version = 1
	}
	s.auctions[a.ID] = a
	return nil
}

func (st auctionStore) GetByID(_ context.Context, id string) (domain.Auction, error) {
	s := st.s
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.auctions[id]
	if !ok {
		return domain.Auction{}, fmt.Errorf("memory: auction %s: %w", id, domain.ErrNotFound)
	}
	return a, nil
}

func (st auctionStore) List(_ context.Context, f domain.AuctionFilter) ([]domain.Auction, error) {
	s := st.s
	s.mu.RLock()
	var out []domain.Auction
	for _, a := range s.auctions {
		if f.Status != "" && a.Status != f.Status {
			continue
		}
		if f.SellerID != "" && a.SellerID != f.SellerID {
			continue
		}
		if f.EndingBefore != nil && a.EndTime.After(*f.EndingBefore) {
			continue
		}
		if f.Since != nil && a.CreatedAt.Before(*f.Since) {
			continue
		}
		if f.Until != nil && a.CreatedAt.After(*f.Until) {
			continue
		}
		out = append(out, a)
	}
	s.mu.RUnlock()

	if f.EndingBefore != nil {
		sort.Slice(out, func(i, j int) bool { return out[i].EndTime.Before(out[j].EndTime) })
	} else {
		sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	}
	return page(out, f.ListOpts), nil
}

func (st auctionStore) ListDue(_ context.Context, now time.Time, limit int) ([]domain.Auction, error) {
	s := st.s
	s.mu.RLock()
	var out []domain.Auction
	for _, a := range s.auctions {
		if at, ok := a.NextDeadline(); ok && !at.After(now) {
			out = append(out, a)
			continue
		}
		if a.Status == domain.AuctionStatusSold && a.OrderID == "" {
			out = append(out, a)
		}
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return deadlineOf(out[i]).Before(deadlineOf(out[j])) })
	return page(out, domain.ListOpts{Limit: limit}), nil
}

func (st auctionStore) ListPending(_ context.Context, limit int) ([]domain.Auction, error) {
	s := st.s
	s.mu.RLock()
	var out []domain.Auction
	for _, a := range s.auctions {
		if _, ok := a.NextDeadline(); ok {
			out = append(out, a)
		}
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return deadlineOf(out[i]).Before(deadlineOf(out[j])) })
	return page(out, domain.ListOpts{Limit: limit}), nil
}

func (st auctionStore) Commit(_ context.Context, m domain.AuctionMutation) (domain.Auction, error) {
	s := st.s
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.auctions[m.Auction.ID]
	if !ok {
		return domain.Auction{}, fmt.Errorf("memory: auction %s: %w", m.Auction.ID, domain.ErrNotFound)
	}
	if cur.Version != m.ExpectedVersion {
		return domain.Auction{}, fmt.Errorf("memory: auction %s at version %d, expected %d: %w",
			m.Auction.ID, cur.Version, m.ExpectedVersion, domain.ErrConcurrencyConflict)
	}
	for _, b := range m.NewBids {
		if _, dup := s.bids[b.ID]; dup {
			return domain.Auction{}, fmt.Errorf("memory: bid %s: %w", b.ID, domain.ErrAlreadyExists)
		}
		if b.SubmissionToken != "" {
			if _, dup := s.tokens[tokenKey(b)]; dup {
				return domain.Auction{}, fmt.Errorf("memory: submission %s: %w", b.SubmissionToken, domain.ErrAlreadyExists)
			}
		}
	}
	for _, b := range m.UpdatedBids {
		if _, ok := s.bids[b.ID]; !ok {
			return domain.Auction{}, fmt.Errorf("memory: bid %s: %w", b.ID, domain.ErrNotFound)
		}
	}

	for _, b := range m.NewBids {
		s.bids[b.ID] = b
		s.byAuc[b.AuctionID] = append(s.byAuc[b.AuctionID], b.ID)
		if b.SubmissionToken != "" {
			s.tokens[tokenKey(b)] = b.ID
		}
	}
	for _, b := range m.UpdatedBids {
		s.bids[b.ID] = b
	}
	next := m.Auction
	next.Version = cur.Version + 1
	s.auctions[next.ID] = next
	return next, nil
}

func (st auctionStore) ListClosedBefore(_ context.Context, before time.Time, limit int) ([]domain.Auction, error) {
	s := st.s
	s.mu.RLock()
	var out []domain.Auction
	for _, a := range s.auctions {
		if a.ArchivedAt != nil || a.EndedAt == nil || !a.Status.Terminal() {
			continue
		}
		if a.EndedAt.Before(before) {
			out = append(out, a)
		}
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].EndedAt.Before(*out[j].EndedAt) })
	return page(out, domain.ListOpts{Limit: limit}), nil
}

func (st auctionStore) MarkArchived(_ context.Context, ids []string, at time.Time) error {
	s := st.s
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range ids {
		a, ok := s.auctions[id]
		if !ok {
			continue
		}
		t := at
		a.ArchivedAt = &t
		s.auctions[id] = a
	}
	return nil
}

type bidStore struct{ s *Store }

var _ domain.BidStore = bidStore{}

func (st bidStore) GetByID(_ context.Context, id string) (domain.Bid, error) {
	s := st.s
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.bids[id]
	if !ok {
		return domain.Bid{}, fmt.Errorf("memory: bid %s: %w", id, domain.ErrNotFound)
	}
	return b, nil
}

func (st bidStore) GetBySubmission(_ context.Context, auctionID, bidderID, token string) (domain.Bid, error) {
	s := st.s
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.tokens[auctionID+":"+bidderID+":"+token]
	if !ok {
		return domain.Bid{}, fmt.Errorf("memory: submission %s: %w", token, domain.ErrNotFound)
	}
	return s.bids[id], nil
}

func (st bidStore) ListByAuction(_ context.Context, auctionID string, opts domain.ListOpts) ([]domain.Bid, error) {
	s := st.s
	s.mu.RLock()
	ids := s.byAuc[auctionID]
	out := make([]domain.Bid, 0, len(ids))
	for _, id := range ids {
		out = append(out, s.bids[id])
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].SequenceNumber < out[j].SequenceNumber })
	return page(out, opts), nil
}

type auditStore struct{ s *Store }

var _ domain.AuditStore = auditStore{}

func (st auditStore) Log(_ context.Context, event string, detail map[string]any) error {
	s := st.s
	s.mu.Lock()
	defer s.mu.Unlock()
	s.audit = append(s.audit, domain.AuditEntry{
		ID:        int64(len(s.audit) + 1),
		AuctionID: domain.AuditAuctionID(detail),
		Event:     event,
		Detail:    detail,
		CreatedAt: time.Now().UTC(),
	})
	return nil
}

func (st auditStore) List(_ context.Context, f domain.AuditFilter) ([]domain.AuditEntry, error) {
	s := st.s
	s.mu.RLock()
	out := make([]domain.AuditEntry, 0, len(s.audit))
	for i := len(s.audit) - 1; i >= 0; i-- {
		if f.Matches(s.audit[i]) {
			out = append(out, s.audit[i])
		}
	}
	s.mu.RUnlock()
	return page(out, f.ListOpts), nil
}

func tokenKey(b domain.Bid) string {
	return b.AuctionID + ":" + b.BidderID + ":" + b.SubmissionToken
}

func deadlineOf(a domain.Auction) time.Time {
	if at, ok := a.NextDeadline(); ok {
		return at
	}
	if a.EndedAt != nil {
		return *a.EndedAt
	}
	return a.EndTime
}

func page[T any](items []T, opts domain.ListOpts) []T {
	if opts.Offset > 0 {
		if opts.Offset >= len(items) {
			return nil
		}
		items = items[opts.Offset:]
	}
	if opts.Limit > 0 && len(items) > opts.Limit {
		items = items[:opts.Limit]
	}
	return items
}
