package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/alanyoungcy/bidengine/internal/domain"
)

// AuctionStore implements domain.AuctionStore. Commit writes the auction row
// and its bids in one transaction guarded by the version column.
type AuctionStore struct {
	pool   *pgxpool.Pool
	tracer trace.Tracer
}

// NewAuctionStore creates an AuctionStore backed by pool.
func NewAuctionStore(pool *pgxpool.Pool) *AuctionStore {
	return &AuctionStore{
		pool:   pool,
		tracer: otel.Tracer("github.com/alanyoungcy/bidengine/internal/store/postgres"),
	}
}

const auctionCols = `id, auction_number, product_id, seller_id, currency,
	starting_price, reserve_price, buy_it_now_price, bid_increment, current_bid,
	start_time, end_time, auto_extend, extend_window_ms, extended_until,
	status, bid_count, reserve_met, winning_bid_id, leading_bid_id, highest_bidder_id,
	last_sequence, requires_deposit, deposit_amount, order_id, cancel_reason,
	ended_at, version, created_at, updated_at, archived_at`

func scanAuction(row pgx.Row) (domain.Auction, error) {
	var (
		a                                  domain.Auction
		status                             string
		extendMS                           int64
		winning, leading, highest, orderID *string
		cancelReason                       *string
	)
	err := row.Scan(
		&a.ID, &a.AuctionNumber, &a.ProductID, &a.SellerID, &a.Currency,
		&a.StartingPrice, &a.ReservePrice, &a.BuyItNowPrice, &a.BidIncrement, &a.CurrentBid,
		&a.StartTime, &a.EndTime, &a.AutoExtend, &extendMS, &a.ExtendedUntil,
		&status, &a.BidCount, &a.ReserveMet, &winning, &leading, &highest,
		&a.LastSequence, &a.RequiresDeposit, &a.DepositAmount, &orderID, &cancelReason,
		&a.EndedAt, &a.Version, &a.CreatedAt, &a.UpdatedAt, &a.ArchivedAt,
	)
	if err != nil {
		return domain.Auction{}, err
	}
	a.Status = domain.AuctionStatus(status)
	a.ExtendWindow = time.Duration(extendMS) * time.Millisecond
	a.WinningBidID = deref(winning)
	a.LeadingBidID = deref(leading)
	a.HighestBidderID = deref(highest)
	a.OrderID = deref(orderID)
	a.CancelReason = deref(cancelReason)
	return a, nil
}

func collectAuctions(rows pgx.Rows) ([]domain.Auction, error) {
	defer rows.Close()
	var out []domain.Auction
	for rows.Next() {
		a, err := scanAuction(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// Create inserts a new auction.
func (s *AuctionStore) Create(ctx context.Context, a domain.Auction) error {
	if a.Version == 0 {
		a.Version = 1
	}
	const query = `INSERT INTO auctions (` + auctionCols + `) VALUES (
		$1, $2, $3, $4, $5, $6, $7, $8, $9, $10,
		$11, $12, $13, $14, $15, $16, $17, $18, $19, $20,
		$21, $22, $23, $24, $25, $26, $27, $28, $29, $30, $31)`
	_, err := s.pool.Exec(ctx, query,
		a.ID, a.AuctionNumber, a.ProductID, a.SellerID, a.Currency,
		a.StartingPrice, a.ReservePrice, a.BuyItNowPrice, a.BidIncrement, a.CurrentBid,
		a.StartTime, a.EndTime, a.AutoExtend, a.ExtendWindow.Milliseconds(), a.ExtendedUntil,
		string(a.Status), a.BidCount, a.ReserveMet, nullable(a.WinningBidID), nullable(a.LeadingBidID), nullable(a.HighestBidderID),
		a.LastSequence, a.RequiresDeposit, a.DepositAmount, nullable(a.OrderID), nullable(a.CancelReason),
		a.EndedAt, a.Version, a.CreatedAt, a.UpdatedAt, a.ArchivedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: create auction %s: %w", a.ID, translate(err))
	}
	return nil
}

// GetByID returns the auction or domain.ErrNotFound.
func (s *AuctionStore) GetByID(ctx context.Context, id string) (domain.Auction, error) {
	a, err := scanAuction(s.pool.QueryRow(ctx, `SELECT `+auctionCols+` FROM auctions WHERE id = $1`, id))
	if err != nil {
		return domain.Auction{}, fmt.Errorf("postgres: get auction %s: %w", id, translate(err))
	}
	return a, nil
}

// List returns auctions matching f, newest first, or soonest ending first
// when EndingBefore is set.
func (s *AuctionStore) List(ctx context.Context, f domain.AuctionFilter) ([]domain.Auction, error) {
	query := `SELECT ` + auctionCols + ` FROM auctions WHERE 1=1`
	args := []any{}
	argIdx := 1

	if f.Status != "" {
		query += fmt.Sprintf(" AND status = $%d", argIdx)
		args = append(args, string(f.Status))
		argIdx++
	}
	if f.SellerID != "" {
		query += fmt.Sprintf(" AND seller_id = $%d", argIdx)
		args = append(args, f.SellerID)
		argIdx++
	}
	if f.EndingBefore != nil {
		query += fmt.Sprintf(" AND end_time <= $%d", argIdx)
		args = append(args, *f.EndingBefore)
		argIdx++
	}
	if f.Since != nil {
		query += fmt.Sprintf(" AND created_at >= $%d", argIdx)
		args = append(args, *f.Since)
		argIdx++
	}
	if f.Until != nil {
		query += fmt.Sprintf(" AND created_at <= $%d", argIdx)
		args = append(args, *f.Until)
		argIdx++
	}

	if f.EndingBefore != nil {
		query += " ORDER BY end_time ASC"
	} else {
		query += " ORDER BY created_at DESC"
	}
	if f.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, f.Limit)
		argIdx++
	}
	if f.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argIdx)
		args = append(args, f.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list auctions: %w", err)
	}
	out, err := collectAuctions(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan auctions: %w", err)
	}
	return out, nil
}

// ListDue returns auctions whose start or end has passed, plus sold auctions
// without an order.
func (s *AuctionStore) ListDue(ctx context.Context, now time.Time, limit int) ([]domain.Auction, error) {
	const query = `SELECT ` + auctionCols + ` FROM auctions
		WHERE (status = 'scheduled' AND start_time <= $1)
		   OR (status = 'active' AND end_time <= $1)
		   OR (status = 'sold' AND order_id IS NULL)
		ORDER BY CASE status WHEN 'scheduled' THEN start_time WHEN 'active' THEN end_time ELSE ended_at END
		LIMIT $2`
	rows, err := s.pool.Query(ctx, query, now, limitOrAll(limit))
	if err != nil {
		return nil, fmt.Errorf("postgres: list due auctions: %w", err)
	}
	out, err := collectAuctions(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan due auctions: %w", err)
	}
	return out, nil
}

// ListPending returns scheduled and active auctions by next deadline.
func (s *AuctionStore) ListPending(ctx context.Context, limit int) ([]domain.Auction, error) {
	const query = `SELECT ` + auctionCols + ` FROM auctions
		WHERE status IN ('scheduled', 'active')
		ORDER BY CASE status WHEN 'scheduled' THEN start_time ELSE end_time END
		LIMIT $1`
	rows, err := s.pool.Query(ctx, query, limitOrAll(limit))
	if err != nil {
		return nil, fmt.Errorf("postgres: list pending auctions: %w", err)
	}
	out, err := collectAuctions(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan pending auctions: %w", err)
	}
	return out, nil
}

// Commit applies m in one transaction. The auction row is updated only if
// its version still equals m.ExpectedVersion.
func (s *AuctionStore) Commit(ctx context.Context, m domain.AuctionMutation) (domain.Auction, error) {
	a := m.Auction
	ctx, span := s.tracer.Start(ctx, "postgres.CommitAuction", trace.WithAttributes(
		attribute.String("auction.id", a.ID),
		attribute.Int64("auction.expected_version", m.ExpectedVersion),
		attribute.Int("bids.new", len(m.NewBids)),
		attribute.Int("bids.updated", len(m.UpdatedBids)),
	))
	defer span.End()

	var committed domain.Auction

	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		const update = `UPDATE auctions SET
			current_bid = $3, end_time = $4, extended_until = $5, status = $6,
			bid_count = $7, reserve_met = $8, winning_bid_id = $9, leading_bid_id = $10,
			highest_bidder_id = $11, last_sequence = $12, order_id = $13, cancel_reason = $14,
			ended_at = $15, updated_at = $16, version = version + 1
			WHERE id = $1 AND version = $2
			RETURNING ` + auctionCols
		row := tx.QueryRow(ctx, update,
			a.ID, m.ExpectedVersion,
			a.CurrentBid, a.EndTime, a.ExtendedUntil, string(a.Status),
			a.BidCount, a.ReserveMet, nullable(a.WinningBidID), nullable(a.LeadingBidID),
			nullable(a.HighestBidderID), a.LastSequence, nullable(a.OrderID), nullable(a.CancelReason),
			a.EndedAt, a.UpdatedAt,
		)
		var err error
		committed, err = scanAuction(row)
		if errors.Is(err, pgx.ErrNoRows) {
			var exists bool
			if err := tx.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM auctions WHERE id = $1)`, a.ID).Scan(&exists); err != nil {
				return err
			}
			if !exists {
				return domain.ErrNotFound
			}
			return fmt.Errorf("%w: expected version %d", domain.ErrConcurrencyConflict, m.ExpectedVersion)
		}
		if err != nil {
			return err
		}

		if len(m.NewBids) > 0 {
			batch := &pgx.Batch{}
			for _, b := range m.NewBids {
				batch.Queue(`INSERT INTO bids (`+bidCols+`) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
					b.ID, b.AuctionID, b.BidderID, b.Amount, b.MaxBid, string(b.Status),
					b.SequenceNumber, nullable(b.SubmissionToken), b.BuyItNow, b.ReceivedAt, b.UpdatedAt,
				)
			}
			if err := tx.SendBatch(ctx, batch).Close(); err != nil {
				return err
			}
		}

		for _, b := range m.UpdatedBids {
			tag, err := tx.Exec(ctx,
				`UPDATE bids SET amount = $3, status = $4, updated_at = $5 WHERE id = $1 AND auction_id = $2`,
				b.ID, b.AuctionID, b.Amount, string(b.Status), b.UpdatedAt,
			)
			if err != nil {
				return err
			}
			if tag.RowsAffected() == 0 {
				return fmt.Errorf("bid %s: %w", b.ID, domain.ErrNotFound)
			}
		}
		return nil
	})
	if err != nil {
		err = fmt.Errorf("postgres: commit auction %s: %w", a.ID, translate(err))
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return domain.Auction{}, err
	}
	return committed, nil
}

// ListClosedBefore returns closed, unarchived auctions that ended before
// the cutoff, oldest first.
func (s *AuctionStore) ListClosedBefore(ctx context.Context, before time.Time, limit int) ([]domain.Auction, error) {
	const query = `SELECT ` + auctionCols + ` FROM auctions
		WHERE status IN ('sold', 'unsold', 'cancelled')
		  AND archived_at IS NULL AND ended_at < $1
		ORDER BY ended_at
		LIMIT $2`
	rows, err := s.pool.Query(ctx, query, before, limitOrAll(limit))
	if err != nil {
		return nil, fmt.Errorf("postgres: list closed auctions: %w", err)
	}
	out, err := collectAuctions(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan closed auctions: %w", err)
	}
	return out, nil
}

// MarkArchived stamps archived_at on the given auctions.
func (s *AuctionStore) MarkArchived(ctx context.Context, ids []string, at time.Time) error {
	if len(ids) == 0 {
		return nil
	}
	if _, err := s.pool.Exec(ctx, `UPDATE auctions SET archived_at = $2 WHERE id = ANY($1)`, ids, at); err != nil {
		return fmt.Errorf("postgres: mark %d auctions archived: %w", len(ids), err)
	}
	return nil
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func deref(p *string) string {
	if p == nil {
		return ""
	}
	return *p
}

// limitOrAll turns a non-positive limit into NULL, which LIMIT treats as
// no limit.
func limitOrAll(limit int) *int {
	if limit <= 0 {
		return nil
	}
	return &limit
}

var _ domain.AuctionStore = (*AuctionStore)(nil)
