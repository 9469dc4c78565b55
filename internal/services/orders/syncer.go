package orders

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/hemlockoak/parcelscan/internal/models"
)

// syncOverlap is subtracted from the cursor so orders updated while the
// previous sync was paging are not missed.
const syncOverlap = 5 * time.Minute

// Syncer pulls updated orders from the platform into local storage. The
// cursor survives restarts; a fresh install backfills the full lookback.
type Syncer struct {
	repo     Repository
	source   Source
	lookback time.Duration

	mu sync.Mutex
}

func NewSyncer(repo Repository, source Source, lookback time.Duration) *Syncer {
	if lookback <= 0 {
		lookback = 365 * 24 * time.Hour
	}
	return &Syncer{repo: repo, source: source, lookback: lookback}
}

// SyncOnce is safe to call concurrently; overlapping calls serialize.
func (s *Syncer) SyncOnce(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	started := time.Now().UTC()

	since, err := s.repo.LastOrderSyncAt(ctx)
	if err != nil {
		return err
	}
	if since.IsZero() {
		since = started.Add(-s.lookback)
	} else {
		since = since.Add(-syncOverlap)
	}

	list, err := s.source.ListUpdatedSince(ctx, since)
	if err != nil {
		return errors.Wrap(err, "list updated orders")
	}

	for _, o := range list {
		if _, err := s.repo.UpsertOrder(ctx, o); err != nil {
			return err
		}
		if o.CancelledAt != nil {
			co := &models.CancelledOrder{
				OrderNumber:   o.OrderNumber,
				CustomerName:  o.CustomerName,
				CustomerEmail: o.CustomerEmail,
				Reason:        o.CancelReason,
				Refunded:      o.FinancialStatus == "refunded" || o.FinancialStatus == "partially_refunded",
				CancelledAt:   *o.CancelledAt,
			}
			if err := s.repo.UpsertCancelledOrder(ctx, co); err != nil {
				return err
			}
		}
	}

	if err := s.repo.SetLastOrderSyncAt(ctx, started); err != nil {
		return err
	}

	slog.Info("order sync complete", "orders", len(list), "since", since.Format(time.RFC3339))
	return nil
}
