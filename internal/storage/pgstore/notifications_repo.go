package pgstore

import (
	"context"
	"time"

	"github.com/pkg/errors"

	"github.com/hemlockoak/parcelscan/internal/models"
)

// RecordNotification appends to the at-most-once ledger. Returns false when an
// entry for the same (order, batch) pair already exists; the caller must then
// skip sending.
func (s *Storage) RecordNotification(ctx context.Context, n *models.NotificationEntry) (bool, error) {
	if n.NotifiedAt.IsZero() {
		n.NotifiedAt = time.Now().UTC()
	}

	tag, err := s.db.Exec(ctx, `
INSERT INTO notifications (
  batch_id, order_number, customer_email, tracking_number,
  notified_at, success, error_detail
)
VALUES ($1,$2,$3,$4,$5,$6,$7)
ON CONFLICT (order_number, batch_id) DO NOTHING
`, n.BatchID, n.OrderNumber, n.CustomerEmail, n.TrackingNumber,
		n.NotifiedAt.UTC(), n.Success, n.ErrorDetail)
	if err != nil {
		return false, errors.Wrap(err, "insert notification")
	}
	return tag.RowsAffected() > 0, nil
}

// MarkNotificationResult updates the outcome of a ledger entry after the send
// attempt finishes. The row itself stays either way.
func (s *Storage) MarkNotificationResult(ctx context.Context, batchID uint64, orderNumber string, success bool, errorDetail string) error {
	_, err := s.db.Exec(ctx, `
UPDATE notifications
SET success = $3, error_detail = $4
WHERE batch_id = $1 AND order_number = $2
`, batchID, orderNumber, success, errorDetail)
	return errors.Wrap(err, "mark notification result")
}

func (s *Storage) ListNotificationsByBatch(ctx context.Context, batchID uint64) ([]*models.NotificationEntry, error) {
	rows, err := s.db.Query(ctx, `
SELECT id, batch_id, order_number, customer_email, tracking_number, notified_at, success, error_detail
FROM notifications
WHERE batch_id = $1
ORDER BY notified_at ASC, id ASC
`, batchID)
	if err != nil {
		return nil, errors.Wrap(err, "select notifications")
	}
	defer rows.Close()

	var out []*models.NotificationEntry
	for rows.Next() {
		var n models.NotificationEntry
		if err := rows.Scan(
			&n.ID, &n.BatchID, &n.OrderNumber, &n.CustomerEmail, &n.TrackingNumber,
			&n.NotifiedAt, &n.Success, &n.ErrorDetail,
		); err != nil {
			return nil, errors.Wrap(err, "scan notification")
		}
		out = append(out, &n)
	}
	if rows.Err() != nil {
		return nil, errors.Wrap(rows.Err(), "rows")
	}
	return out, nil
}
