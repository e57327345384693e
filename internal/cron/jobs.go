package cronrunner

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/bidengine/internal/domain"
)

// ArchiveJob moves auctions closed more than retainDays ago to cold storage.
func ArchiveJob(archiver domain.Archiver, retainDays int, now func() time.Time, logger *slog.Logger) Job {
	logger = logger.With(slog.String("component", "archiver"))
	return func(ctx context.Context) error {
		cutoff := now().UTC().Add(-time.Duration(retainDays) * 24 * time.Hour)
		logger.Info("starting archive run",
			slog.Time("cutoff", cutoff),
			slog.Int("retain_days", retainDays),
		)
		n, err := archiver.ArchiveClosedAuctions(ctx, cutoff)
		if err != nil {
			return fmt.Errorf("archiving auctions closed before %v: %w", cutoff, err)
		}
		logger.Info("archive run complete", slog.Int64("auctions_archived", n))
		return nil
	}
}

// Cleaner drops expired in-process entries and reports how many it removed.
type Cleaner interface {
	Cleanup() int
}

// CleanupJob sweeps every cleaner.
func CleanupJob(logger *slog.Logger, cleaners ...Cleaner) Job {
	return func(context.Context) error {
		removed := 0
		for _, c := range cleaners {
			removed += c.Cleanup()
		}
		if removed > 0 {
			logger.Debug("expired entries removed", slog.Int("count", removed))
		}
		return nil
	}
}
