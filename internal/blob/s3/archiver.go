package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/bidengine/internal/domain"
)

const defaultArchiveBatch = 200

// Archiver implements domain.Archiver. Closed auctions are written to object
// storage together with their bid history as JSONL, then stamped archived in
// the primary store. Rows are not deleted here.
type Archiver struct {
	writer    domain.BlobWriter
	auctions  domain.AuctionStore
	bids      domain.BidStore
	audit     domain.AuditStore
	batchSize int
	logger    *slog.Logger
	now       func() time.Time
}

// NewArchiver creates an Archiver. A batchSize of zero uses the default.
func NewArchiver(
	writer domain.BlobWriter,
	auctions domain.AuctionStore,
	bids domain.BidStore,
	audit domain.AuditStore,
	batchSize int,
	logger *slog.Logger,
) *Archiver {
	if batchSize <= 0 {
		batchSize = defaultArchiveBatch
	}
	return &Archiver{
		writer:    writer,
		auctions:  auctions,
		bids:      bids,
		audit:     audit,
		batchSize: batchSize,
		logger:    logger.With(slog.String("component", "archiver")),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// ArchiveClosedAuctions uploads every closed auction that ended before the
// cutoff, one object per batch, and returns how many auctions were archived.
// A failed batch stops the run; batches already uploaded stay archived.
func (a *Archiver) ArchiveClosedAuctions(ctx context.Context, before time.Time) (int64, error) {
	runAt := a.now()
	var total int64

	for part := 0; ; part++ {
		batch, err := a.auctions.ListClosedBefore(ctx, before, a.batchSize)
		if err != nil {
			return total, fmt.Errorf("s3: archive query: %w", err)
		}
		if len(batch) == 0 {
			break
		}

		records := make([]archiveRecord, 0, len(batch))
		ids := make([]string, 0, len(batch))
		for _, auc := range batch {
			bids, err := a.bids.ListByAuction(ctx, auc.ID, domain.ListOpts{})
			if err != nil {
				return total, fmt.Errorf("s3: archive bids of %s: %w", auc.ID, err)
			}
			records = append(records, newArchiveRecord(auc, bids))
			ids = append(ids, auc.ID)
		}

		buf, err := marshalJSONL(records)
		if err != nil {
			return total, fmt.Errorf("s3: archive marshal: %w", err)
		}
		path := archivePath(runAt, part)
		if err := a.upload(ctx, path, buf); err != nil {
			return total, err
		}
		if err := a.auctions.MarkArchived(ctx, ids, runAt); err != nil {
			return total, fmt.Errorf("s3: archive mark %s: %w", path, err)
		}
		total += int64(len(batch))
		a.logger.Info("archived auction batch",
			slog.String("path", path),
			slog.Int("count", len(batch)),
		)

		if len(batch) < a.batchSize {
			break
		}
	}

	if total == 0 {
		return 0, nil
	}
	if err := a.audit.Log(ctx, "archive.auctions", map[string]any{
		"count":  total,
		"before": before.Format(time.RFC3339),
	}); err != nil {
		return total, fmt.Errorf("s3: archive audit log: %w", err)
	}
	return total, nil
}

var _ domain.Archiver = (*Archiver)(nil)

func (a *Archiver) upload(ctx context.Context, path string, buf []byte) error {
	var err error
	if int64(len(buf)) > minPartSize {
		err = a.writer.PutMultipart(ctx, path, bytes.NewReader(buf), minPartSize)
	} else {
		err = a.writer.Put(ctx, path, bytes.NewReader(buf), "application/x-ndjson")
	}
	if err != nil {
		return fmt.Errorf("s3: archive upload: %w", err)
	}
	return nil
}

// archiveRecord is one JSONL line: an auction and its full bid history.
type archiveRecord struct {
	Auction archivedAuction `json:"auction"`
	Bids    []archivedBid   `json:"bids"`
}

type archivedAuction struct {
	ID            string               `json:"id"`
	AuctionNumber string               `json:"auctionNumber"`
	ProductID     string               `json:"productId"`
	SellerID      string               `json:"sellerId"`
	Currency      string               `json:"currency"`
	StartingPrice decimal.Decimal      `json:"startingPrice"`
	ReservePrice  decimal.NullDecimal  `json:"reservePrice"`
	BuyItNowPrice decimal.NullDecimal  `json:"buyItNowPrice"`
	BidIncrement  decimal.Decimal      `json:"bidIncrement"`
	FinalPrice    decimal.Decimal      `json:"finalPrice"`
	StartTime     time.Time            `json:"startTime"`
	EndTime       time.Time            `json:"endTime"`
	EndedAt       *time.Time           `json:"endedAt,omitempty"`
	Status        domain.AuctionStatus `json:"status"`
	BidCount      int                  `json:"bidCount"`
	WinningBidID  string               `json:"winningBidId,omitempty"`
	OrderID       string               `json:"orderId,omitempty"`
	CancelReason  string               `json:"cancelReason,omitempty"`
	Version       int64                `json:"version"`
}

type archivedBid struct {
	ID             string              `json:"id"`
	BidderID       string              `json:"bidderId"`
	Amount         decimal.Decimal     `json:"amount"`
	MaxBid         decimal.NullDecimal `json:"maxBid"`
	Status         domain.BidStatus    `json:"status"`
	SequenceNumber int64               `json:"sequenceNumber"`
	BuyItNow       bool                `json:"buyItNow,omitempty"`
	ReceivedAt     time.Time           `json:"receivedAt"`
}

func newArchiveRecord(a domain.Auction, bids []domain.Bid) archiveRecord {
	rec := archiveRecord{
		Auction: archivedAuction{
			ID:            a.ID,
			AuctionNumber: a.AuctionNumber,
			ProductID:     a.ProductID,
			SellerID:      a.SellerID,
			Currency:      a.Currency,
			StartingPrice: a.StartingPrice,
			ReservePrice:  a.ReservePrice,
			BuyItNowPrice: a.BuyItNowPrice,
			BidIncrement:  a.BidIncrement,
			FinalPrice:    a.CurrentBid,
			StartTime:     a.StartTime,
			EndTime:       a.EndTime,
			EndedAt:       a.EndedAt,
			Status:        a.Status,
			BidCount:      a.BidCount,
			WinningBidID:  a.WinningBidID,
			OrderID:       a.OrderID,
			CancelReason:  a.CancelReason,
			Version:       a.Version,
		},
		Bids: make([]archivedBid, 0, len(bids)),
	}
	for _, b := range bids {
		rec.Bids = append(rec.Bids, archivedBid{
			ID:             b.ID,
			BidderID:       b.BidderID,
			Amount:         b.Amount,
			MaxBid:         b.MaxBid,
			Status:         b.Status,
			SequenceNumber: b.SequenceNumber,
			BuyItNow:       b.BuyItNow,
			ReceivedAt:     b.ReceivedAt,
		})
	}
	return rec
}

// archivePath builds the object key for one batch of a run, partitioned by
// the run's month:
//
//	archive/auctions/2026-03/20260301T030000Z-000.jsonl
func archivePath(runAt time.Time, part int) string {
	return fmt.Sprintf("archive/auctions/%s/%s-%03d.jsonl",
		runAt.Format("2006-01"), runAt.Format("20060102T150405Z"), part)
}

// marshalJSONL serialises records as newline-delimited JSON.
func marshalJSONL[T any](records []T) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)

	for i, rec := range records {
		if err := enc.Encode(rec); err != nil {
			return nil, fmt.Errorf("jsonl encode record %d: %w", i, err)
		}
	}
	return buf.Bytes(), nil
}
