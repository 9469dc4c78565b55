package pgstore

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pkg/errors"

	"github.com/hemlockoak/parcelscan/internal/models"
)

func (s *Storage) UpsertOrder(ctx context.Context, o *models.Order) (*models.Order, error) {
	now := time.Now().UTC()

	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, errors.Wrap(err, "begin tx")
	}
	defer func() { _ = tx.Rollback(ctx) }()

	err = tx.QueryRow(ctx, `
INSERT INTO orders (
  platform_order_id, order_number,
  customer_name, customer_email, customer_phone, shipping_address,
  tracking_number, financial_status, fulfillment_status,
  cancelled_at, cancel_reason,
  source_updated_at, synced_at
)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
ON CONFLICT (platform_order_id)
DO UPDATE SET
  order_number = EXCLUDED.order_number,
  customer_name = EXCLUDED.customer_name,
  customer_email = EXCLUDED.customer_email,
  customer_phone = EXCLUDED.customer_phone,
  shipping_address = EXCLUDED.shipping_address,
  tracking_number = EXCLUDED.tracking_number,
  financial_status = EXCLUDED.financial_status,
  fulfillment_status = EXCLUDED.fulfillment_status,
  cancelled_at = EXCLUDED.cancelled_at,
  cancel_reason = EXCLUDED.cancel_reason,
  source_updated_at = EXCLUDED.source_updated_at,
  synced_at = EXCLUDED.synced_at
RETURNING id
`, o.PlatformOrderID, o.OrderNumber,
		o.CustomerName, o.CustomerEmail, o.CustomerPhone, o.ShippingAddress,
		o.TrackingNumber, o.FinancialStatus, o.FulfillmentStatus,
		o.CancelledAt, o.CancelReason,
		o.SourceUpdatedAt.UTC(), now).Scan(&o.ID)
	if err != nil {
		return nil, errors.Wrap(err, "upsert order")
	}
	o.SyncedAt = now

	// Line items are replaced wholesale on each sync.
	if _, err := tx.Exec(ctx, `DELETE FROM order_line_items WHERE order_id = $1`, o.ID); err != nil {
		return nil, errors.Wrap(err, "delete line items")
	}
	for i := range o.LineItems {
		li := &o.LineItems[i]
		li.OrderID = o.ID
		err := tx.QueryRow(ctx, `
INSERT INTO order_line_items (order_id, sku, title, quantity, price)
VALUES ($1,$2,$3,$4,$5)
RETURNING id
`, li.OrderID, li.SKU, li.Title, li.Quantity, li.Price).Scan(&li.ID)
		if err != nil {
			return nil, errors.Wrap(err, "insert line item")
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, errors.Wrap(err, "commit tx")
	}
	return o, nil
}

func (s *Storage) GetOrderByNumber(ctx context.Context, orderNumber string) (*models.Order, error) {
	return s.getOrderWhere(ctx, `WHERE order_number = $1 ORDER BY source_updated_at DESC LIMIT 1`, orderNumber)
}

// FindOrderByTracking matches a scanned number against stored fulfillment
// tracking numbers, exact first.
func (s *Storage) FindOrderByTracking(ctx context.Context, trackingNumber string) (*models.Order, error) {
	return s.getOrderWhere(ctx, `WHERE tracking_number = $1 ORDER BY source_updated_at DESC LIMIT 1`, trackingNumber)
}

// FindOrderByTrackingFuzzy falls back to envelope-style containment: the
// scanned number may be a stored one with carrier framing around it, or the
// reverse. The most recently updated candidate wins.
func (s *Storage) FindOrderByTrackingFuzzy(ctx context.Context, trackingNumber string) (*models.Order, error) {
	return s.getOrderWhere(ctx, `
WHERE tracking_number <> ''
  AND (position(tracking_number IN $1) > 0 OR position($1 IN tracking_number) > 0)
ORDER BY source_updated_at DESC
LIMIT 1`, trackingNumber)
}

func (s *Storage) getOrderWhere(ctx context.Context, tail string, args ...any) (*models.Order, error) {
	row := s.db.QueryRow(ctx, `
SELECT
  id, platform_order_id, order_number,
  customer_name, customer_email, customer_phone, shipping_address,
  tracking_number, financial_status, fulfillment_status,
  cancelled_at, cancel_reason,
  source_updated_at, synced_at
FROM orders
`+tail, args...)

	var o models.Order
	var cancelledAt *time.Time
	err := row.Scan(
		&o.ID, &o.PlatformOrderID, &o.OrderNumber,
		&o.CustomerName, &o.CustomerEmail, &o.CustomerPhone, &o.ShippingAddress,
		&o.TrackingNumber, &o.FinancialStatus, &o.FulfillmentStatus,
		&cancelledAt, &o.CancelReason,
		&o.SourceUpdatedAt, &o.SyncedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, errors.Wrap(err, "select order")
	}
	o.CancelledAt = cancelledAt

	items, err := s.listLineItems(ctx, o.ID)
	if err != nil {
		return nil, err
	}
	o.LineItems = items
	return &o, nil
}

func (s *Storage) listLineItems(ctx context.Context, orderID uint64) ([]models.OrderLineItem, error) {
	rows, err := s.db.Query(ctx, `
SELECT id, order_id, sku, title, quantity, price
FROM order_line_items
WHERE order_id = $1
ORDER BY id ASC
`, orderID)
	if err != nil {
		return nil, errors.Wrap(err, "select line items")
	}
	defer rows.Close()

	var out []models.OrderLineItem
	for rows.Next() {
		var li models.OrderLineItem
		if err := rows.Scan(&li.ID, &li.OrderID, &li.SKU, &li.Title, &li.Quantity, &li.Price); err != nil {
			return nil, errors.Wrap(err, "scan line item")
		}
		out = append(out, li)
	}
	if rows.Err() != nil {
		return nil, errors.Wrap(rows.Err(), "rows")
	}
	return out, nil
}

func (s *Storage) UpsertCancelledOrder(ctx context.Context, co *models.CancelledOrder) error {
	err := s.db.QueryRow(ctx, `
INSERT INTO cancelled_orders (order_number, customer_name, customer_email, reason, refunded, cancelled_at)
VALUES ($1,$2,$3,$4,$5,$6)
ON CONFLICT (order_number)
DO UPDATE SET
  customer_name = EXCLUDED.customer_name,
  customer_email = EXCLUDED.customer_email,
  reason = EXCLUDED.reason,
  refunded = EXCLUDED.refunded,
  cancelled_at = EXCLUDED.cancelled_at
RETURNING id
`, co.OrderNumber, co.CustomerName, co.CustomerEmail, co.Reason, co.Refunded, co.CancelledAt.UTC()).Scan(&co.ID)
	return errors.Wrap(err, "upsert cancelled order")
}

func (s *Storage) GetCancelledOrder(ctx context.Context, orderNumber string) (*models.CancelledOrder, error) {
	var co models.CancelledOrder
	err := s.db.QueryRow(ctx, `
SELECT id, order_number, customer_name, customer_email, reason, refunded, cancelled_at
FROM cancelled_orders
WHERE order_number = $1
`, orderNumber).Scan(&co.ID, &co.OrderNumber, &co.CustomerName, &co.CustomerEmail, &co.Reason, &co.Refunded, &co.CancelledAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, errors.Wrap(err, "select cancelled order")
	}
	return &co, nil
}
