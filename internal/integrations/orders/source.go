package orders

import (
	"context"
	"time"

	"github.com/hemlockoak/parcelscan/internal/models"
)

// Source is the remote order platform. A nil result with a nil error means
// the platform has no matching order.
type Source interface {
	// OrderByTracking finds the order whose fulfillment carries the tracking
	// number. The platform cannot index by tracking, so implementations scan
	// orders created within the lookback window.
	OrderByTracking(ctx context.Context, trackingNumber string, lookback time.Duration) (*models.Order, error)

	// OrderByNumber finds an order by its display number, e.g. "#1001".
	OrderByNumber(ctx context.Context, orderNumber string) (*models.Order, error)

	// ListUpdatedSince pages through every order updated since the cursor;
	// the caller persists what comes back.
	ListUpdatedSince(ctx context.Context, since time.Time) ([]*models.Order, error)
}
