package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/bidengine/internal/domain"
)

// BidStore implements domain.BidStore. Bids are written by
// AuctionStore.Commit.
type BidStore struct {
	pool *pgxpool.Pool
}

// NewBidStore creates a BidStore backed by pool.
func NewBidStore(pool *pgxpool.Pool) *BidStore {
	return &BidStore{pool: pool}
}

const bidCols = `id, auction_id, bidder_id, amount, max_bid, status,
	sequence_number, submission_token, buy_it_now, received_at, updated_at`

func scanBid(row pgx.Row) (domain.Bid, error) {
	var (
		b      domain.Bid
		status string
		token  *string
	)
	err := row.Scan(
		&b.ID, &b.AuctionID, &b.BidderID, &b.Amount, &b.MaxBid, &status,
		&b.SequenceNumber, &token, &b.BuyItNow, &b.ReceivedAt, &b.UpdatedAt,
	)
	if err != nil {
		return domain.Bid{}, err
	}
	b.Status = domain.BidStatus(status)
	b.SubmissionToken = deref(token)
	return b, nil
}

// GetByID returns the bid or domain.ErrNotFound.
func (s *BidStore) GetByID(ctx context.Context, id string) (domain.Bid, error) {
	b, err := scanBid(s.pool.QueryRow(ctx, `SELECT `+bidCols+` FROM bids WHERE id = $1`, id))
	if err != nil {
		return domain.Bid{}, fmt.Errorf("postgres: get bid %s: %w", id, translate(err))
	}
	return b, nil
}

// GetBySubmission returns the bid a bidder's submission token produced.
func (s *BidStore) GetBySubmission(ctx context.Context, auctionID, bidderID, token string) (domain.Bid, error) {
	const query = `SELECT ` + bidCols + ` FROM bids
		WHERE auction_id = $1 AND bidder_id = $2 AND submission_token = $3`
	b, err := scanBid(s.pool.QueryRow(ctx, query, auctionID, bidderID, token))
	if err != nil {
		return domain.Bid{}, fmt.Errorf("postgres: get bid by submission %s: %w", token, translate(err))
	}
	return b, nil
}

// ListByAuction returns an auction's bids in sequence order.
func (s *BidStore) ListByAuction(ctx context.Context, auctionID string, opts domain.ListOpts) ([]domain.Bid, error) {
	query := `SELECT ` + bidCols + ` FROM bids WHERE auction_id = $1 ORDER BY sequence_number`
	args := []any{auctionID}
	argIdx := 2
	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, opts.Limit)
		argIdx++
	}
	if opts.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argIdx)
		args = append(args, opts.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list bids for %s: %w", auctionID, err)
	}
	defer rows.Close()

	var out []domain.Bid
	for rows.Next() {
		b, err := scanBid(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan bid: %w", err)
		}
		out = append(out, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list bids rows: %w", err)
	}
	return out, nil
}

var _ domain.BidStore = (*BidStore)(nil)
