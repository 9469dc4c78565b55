package pgstore

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pkg/errors"

	"github.com/hemlockoak/parcelscan/internal/models"
)

func (s *Storage) InsertScan(ctx context.Context, sc *models.Scan) (*models.Scan, error) {
	if sc.ScannedAt.IsZero() {
		sc.ScannedAt = time.Now().UTC()
	}

	err := s.db.QueryRow(ctx, `
INSERT INTO scans (
  batch_id, tracking_number, raw_input, carrier,
  order_number, order_id, customer_name, customer_email,
  status, scanned_at
)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
RETURNING id
`, sc.BatchID, sc.TrackingNumber, sc.RawInput, sc.Carrier,
		sc.OrderNumber, sc.OrderID, sc.CustomerName, sc.CustomerEmail,
		sc.Status, sc.ScannedAt.UTC()).Scan(&sc.ID)
	if err != nil {
		return nil, errors.Wrap(err, "insert scan")
	}
	return sc, nil
}

// FindScanInOpenBatch returns the earliest scan of the tracking number in
// any batch that is still in progress, or nil when there is none. The
// duplicate guard surfaces the row so the operator sees where the number
// went first.
func (s *Storage) FindScanInOpenBatch(ctx context.Context, trackingNumber string) (*models.Scan, error) {
	row := s.db.QueryRow(ctx, `
SELECT
  sc.id, sc.batch_id, sc.tracking_number, sc.raw_input, sc.carrier,
  sc.order_number, sc.order_id, sc.customer_name, sc.customer_email,
  sc.status, sc.scanned_at
FROM scans sc
JOIN batches b ON b.id = sc.batch_id
WHERE sc.tracking_number = $1
  AND b.status = $2
ORDER BY sc.scanned_at ASC, sc.id ASC
LIMIT 1
`, trackingNumber, models.BatchInProgress)

	sc, err := scanScan(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, errors.Wrap(err, "select scan in open batch")
	}
	return sc, nil
}

func (s *Storage) ListScansByBatch(ctx context.Context, batchID uint64) ([]*models.Scan, error) {
	rows, err := s.db.Query(ctx, `
SELECT
  id, batch_id, tracking_number, raw_input, carrier,
  order_number, order_id, customer_name, customer_email,
  status, scanned_at
FROM scans
WHERE batch_id = $1
ORDER BY scanned_at ASC, id ASC
`, batchID)
	if err != nil {
		return nil, errors.Wrap(err, "select scans")
	}
	defer rows.Close()

	var out []*models.Scan
	for rows.Next() {
		sc, err := scanScan(rows)
		if err != nil {
			return nil, errors.Wrap(err, "scan scan row")
		}
		out = append(out, sc)
	}
	if rows.Err() != nil {
		return nil, errors.Wrap(rows.Err(), "rows")
	}
	return out, nil
}

func (s *Storage) GetScan(ctx context.Context, id uint64) (*models.Scan, error) {
	row := s.db.QueryRow(ctx, `
SELECT
  id, batch_id, tracking_number, raw_input, carrier,
  order_number, order_id, customer_name, customer_email,
  status, scanned_at
FROM scans
WHERE id = $1
`, id)

	sc, err := scanScan(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, errors.Wrap(err, "select scan")
	}
	return sc, nil
}

// FillScanOrder backfills resolved order details onto a Processing scan and
// finalizes it. Called from the async resolver, including on lookup failure
// with empty order fields.
func (s *Storage) FillScanOrder(ctx context.Context, scanID uint64, orderNumber, orderID, customerName, customerEmail string) error {
	_, err := s.db.Exec(ctx, `
UPDATE scans
SET
  order_number = $2,
  order_id = $3,
  customer_name = $4,
  customer_email = $5,
  status = $6
WHERE id = $1
`, scanID, orderNumber, orderID, customerName, customerEmail, models.ScanComplete)
	return errors.Wrap(err, "fill scan order")
}

// FinalizeScan flips a scan to Complete leaving its order fields alone.
func (s *Storage) FinalizeScan(ctx context.Context, scanID uint64) error {
	_, err := s.db.Exec(ctx, `UPDATE scans SET status = $2 WHERE id = $1`, scanID, models.ScanComplete)
	return errors.Wrap(err, "finalize scan")
}

// ListActiveTrackingNumbers returns distinct numbers for one carrier scanned
// within the activity window, joined with their cache age. Numbers never
// fetched sort first, then oldest fetch first.
func (s *Storage) ListActiveTrackingNumbers(ctx context.Context, carrier string, since time.Time, limit int) ([]string, error) {
	rows, err := s.db.Query(ctx, `
SELECT sc.tracking_number
FROM scans sc
LEFT JOIN tracking_status_cache c ON c.tracking_number = sc.tracking_number
WHERE sc.carrier = $1
  AND sc.scanned_at >= $2
  AND COALESCE(c.delivered, FALSE) = FALSE
GROUP BY sc.tracking_number, c.fetched_at
ORDER BY c.fetched_at ASC NULLS FIRST
LIMIT $3
`, carrier, since.UTC(), limit)
	if err != nil {
		return nil, errors.Wrap(err, "select active tracking numbers")
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var tn string
		if err := rows.Scan(&tn); err != nil {
			return nil, errors.Wrap(err, "scan tracking number")
		}
		out = append(out, tn)
	}
	if rows.Err() != nil {
		return nil, errors.Wrap(rows.Err(), "rows")
	}
	return out, nil
}

func scanScan(row pgx.Row) (*models.Scan, error) {
	var sc models.Scan
	if err := row.Scan(
		&sc.ID, &sc.BatchID, &sc.TrackingNumber, &sc.RawInput, &sc.Carrier,
		&sc.OrderNumber, &sc.OrderID, &sc.CustomerName, &sc.CustomerEmail,
		&sc.Status, &sc.ScannedAt,
	); err != nil {
		return nil, err
	}
	return &sc, nil
}
