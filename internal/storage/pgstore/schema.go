package pgstore

import (
	"context"

	"github.com/pkg/errors"
)

func (s *Storage) initSchema(ctx context.Context) error {
	stmts := []string{
		`
CREATE TABLE IF NOT EXISTS batches (
  id BIGSERIAL PRIMARY KEY,
  name TEXT NOT NULL,
  carrier TEXT NOT NULL,
  status TEXT NOT NULL,
  notes TEXT NOT NULL DEFAULT '',
  created_at TIMESTAMPTZ NOT NULL,
  finished_at TIMESTAMPTZ NULL,
  notified_at TIMESTAMPTZ NULL
)`,
		`CREATE INDEX IF NOT EXISTS idx_batches_status ON batches(status)`,
		`
CREATE TABLE IF NOT EXISTS scans (
  id BIGSERIAL PRIMARY KEY,
  batch_id BIGINT NOT NULL REFERENCES batches(id) ON DELETE CASCADE,
  tracking_number TEXT NOT NULL,
  raw_input TEXT NOT NULL,
  carrier TEXT NOT NULL,
  order_number TEXT NOT NULL DEFAULT '',
  order_id TEXT NOT NULL DEFAULT '',
  customer_name TEXT NOT NULL DEFAULT '',
  customer_email TEXT NOT NULL DEFAULT '',
  status TEXT NOT NULL,
  scanned_at TIMESTAMPTZ NOT NULL
)`,
		`CREATE INDEX IF NOT EXISTS idx_scans_batch_id ON scans(batch_id)`,
		`CREATE INDEX IF NOT EXISTS idx_scans_tracking_number ON scans(tracking_number)`,
		`CREATE INDEX IF NOT EXISTS idx_scans_scanned_at ON scans(scanned_at)`,
		`
CREATE TABLE IF NOT EXISTS orders (
  id BIGSERIAL PRIMARY KEY,
  platform_order_id TEXT NOT NULL,
  order_number TEXT NOT NULL,
  customer_name TEXT NOT NULL DEFAULT '',
  customer_email TEXT NOT NULL DEFAULT '',
  customer_phone TEXT NOT NULL DEFAULT '',
  shipping_address TEXT NOT NULL DEFAULT '',
  tracking_number TEXT NOT NULL DEFAULT '',
  financial_status TEXT NOT NULL DEFAULT '',
  fulfillment_status TEXT NOT NULL DEFAULT '',
  cancelled_at TIMESTAMPTZ NULL,
  cancel_reason TEXT NOT NULL DEFAULT '',
  source_updated_at TIMESTAMPTZ NOT NULL,
  synced_at TIMESTAMPTZ NOT NULL,
  UNIQUE (platform_order_id)
)`,
		`CREATE INDEX IF NOT EXISTS idx_orders_order_number ON orders(order_number)`,
		`CREATE INDEX IF NOT EXISTS idx_orders_tracking_number ON orders(tracking_number)`,
		`
CREATE TABLE IF NOT EXISTS order_line_items (
  id BIGSERIAL PRIMARY KEY,
  order_id BIGINT NOT NULL REFERENCES orders(id) ON DELETE CASCADE,
  sku TEXT NOT NULL DEFAULT '',
  title TEXT NOT NULL DEFAULT '',
  quantity INT NOT NULL DEFAULT 0,
  price TEXT NOT NULL DEFAULT ''
)`,
		`CREATE INDEX IF NOT EXISTS idx_order_line_items_order_id ON order_line_items(order_id)`,
		`
CREATE TABLE IF NOT EXISTS tracking_status_cache (
  tracking_number TEXT PRIMARY KEY,
  carrier TEXT NOT NULL,
  status TEXT NOT NULL,
  status_text TEXT NOT NULL DEFAULT '',
  estimated_delivery TIMESTAMPTZ NULL,
  last_location TEXT NOT NULL DEFAULT '',
  delivered BOOLEAN NOT NULL DEFAULT FALSE,
  raw_status_code TEXT NOT NULL DEFAULT '',
  fetched_at TIMESTAMPTZ NOT NULL
)`,
		`CREATE INDEX IF NOT EXISTS idx_tracking_status_cache_fetched_at ON tracking_status_cache(fetched_at)`,
		`
CREATE TABLE IF NOT EXISTS notifications (
  id BIGSERIAL PRIMARY KEY,
  batch_id BIGINT NOT NULL REFERENCES batches(id) ON DELETE CASCADE,
  order_number TEXT NOT NULL,
  customer_email TEXT NOT NULL DEFAULT '',
  tracking_number TEXT NOT NULL DEFAULT '',
  notified_at TIMESTAMPTZ NOT NULL,
  success BOOLEAN NOT NULL DEFAULT FALSE,
  error_detail TEXT NOT NULL DEFAULT '',
  UNIQUE (order_number, batch_id)
)`,
		`
CREATE TABLE IF NOT EXISTS cancelled_orders (
  id BIGSERIAL PRIMARY KEY,
  order_number TEXT NOT NULL,
  customer_name TEXT NOT NULL DEFAULT '',
  customer_email TEXT NOT NULL DEFAULT '',
  reason TEXT NOT NULL DEFAULT '',
  refunded BOOLEAN NOT NULL DEFAULT FALSE,
  cancelled_at TIMESTAMPTZ NOT NULL,
  UNIQUE (order_number)
)`,
		`
CREATE TABLE IF NOT EXISTS order_sync_status (
  id INT PRIMARY KEY CHECK (id = 1),
  last_synced_at TIMESTAMPTZ NOT NULL
)`,
	}

	for _, q := range stmts {
		if _, err := s.db.Exec(ctx, q); err != nil {
			return errors.Wrap(err, "init schema")
		}
	}
	return nil
}
