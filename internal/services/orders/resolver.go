package orders

import (
	"context"
	"log/slog"
	"time"

	"github.com/hemlockoak/parcelscan/internal/models"
)

type Repository interface {
	UpsertOrder(ctx context.Context, o *models.Order) (*models.Order, error)
	GetOrderByNumber(ctx context.Context, orderNumber string) (*models.Order, error)
	FindOrderByTracking(ctx context.Context, trackingNumber string) (*models.Order, error)
	FindOrderByTrackingFuzzy(ctx context.Context, trackingNumber string) (*models.Order, error)
	UpsertCancelledOrder(ctx context.Context, co *models.CancelledOrder) error
	GetCancelledOrder(ctx context.Context, orderNumber string) (*models.CancelledOrder, error)
	LastOrderSyncAt(ctx context.Context) (time.Time, error)
	SetLastOrderSyncAt(ctx context.Context, t time.Time) error
}

type Source interface {
	OrderByTracking(ctx context.Context, trackingNumber string, lookback time.Duration) (*models.Order, error)
	OrderByNumber(ctx context.Context, orderNumber string) (*models.Order, error)
	ListUpdatedSince(ctx context.Context, since time.Time) ([]*models.Order, error)
}

// Resolver maps a scanned key, usually a tracking number but sometimes an
// order number typed in by hand, to its order. Local matches are tried
// first, then the platform, then a fuzzy local match as the last resort.
type Resolver struct {
	repo     Repository
	source   Source
	lookback time.Duration
}

func NewResolver(repo Repository, source Source, lookback time.Duration) *Resolver {
	if lookback <= 0 {
		lookback = 365 * 24 * time.Hour
	}
	return &Resolver{repo: repo, source: source, lookback: lookback}
}

// Resolve returns nil without error when no order matches anywhere. A remote
// hit is upserted locally before it is returned; a remote failure degrades
// to the fuzzy local match rather than erroring the lookup.
func (r *Resolver) Resolve(ctx context.Context, key string) (*models.Order, error) {
	o, err := r.repo.FindOrderByTracking(ctx, key)
	if err != nil || o != nil {
		return o, err
	}
	o, err = r.repo.GetOrderByNumber(ctx, key)
	if err != nil || o != nil {
		return o, err
	}

	if r.source != nil {
		o = r.fetchRemote(ctx, key)
		if o != nil {
			return r.repo.UpsertOrder(ctx, o)
		}
	}

	return r.repo.FindOrderByTrackingFuzzy(ctx, key)
}

// ResolveLocal consults only the synced orders table. The scan intake path
// uses it to stay fast; the remote fallback runs on the async backfill.
func (r *Resolver) ResolveLocal(ctx context.Context, key string) (*models.Order, error) {
	o, err := r.repo.FindOrderByTracking(ctx, key)
	if err != nil || o != nil {
		return o, err
	}
	o, err = r.repo.GetOrderByNumber(ctx, key)
	if err != nil || o != nil {
		return o, err
	}
	return r.repo.FindOrderByTrackingFuzzy(ctx, key)
}

func (r *Resolver) fetchRemote(ctx context.Context, key string) *models.Order {
	o, err := r.source.OrderByTracking(ctx, key, r.lookback)
	if err != nil {
		slog.Warn("remote order lookup by tracking failed", "key", key, "error", err.Error())
		return nil
	}
	if o != nil {
		return o
	}

	o, err = r.source.OrderByNumber(ctx, key)
	if err != nil {
		slog.Warn("remote order lookup by number failed", "key", key, "error", err.Error())
		return nil
	}
	return o
}

// IsCancelled checks the cancellation ledger and the synced order row.
func (r *Resolver) IsCancelled(ctx context.Context, orderNumber string) (bool, string, error) {
	if orderNumber == "" {
		return false, "", nil
	}

	co, err := r.repo.GetCancelledOrder(ctx, orderNumber)
	if err != nil {
		return false, "", err
	}
	if co != nil {
		return true, co.Reason, nil
	}

	o, err := r.repo.GetOrderByNumber(ctx, orderNumber)
	if err != nil {
		return false, "", err
	}
	if o != nil && o.CancelledAt != nil {
		return true, o.CancelReason, nil
	}
	return false, "", nil
}
