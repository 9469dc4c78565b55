package pgstore

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pkg/errors"

	"github.com/hemlockoak/parcelscan/internal/models"
)

func (s *Storage) UpsertTrackingStatus(ctx context.Context, ts *models.TrackingStatus) error {
	if ts.FetchedAt.IsZero() {
		ts.FetchedAt = time.Now().UTC()
	}

	_, err := s.db.Exec(ctx, `
INSERT INTO tracking_status_cache (
  tracking_number, carrier, status, status_text,
  estimated_delivery, last_location, delivered, raw_status_code, fetched_at
)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
ON CONFLICT (tracking_number)
DO UPDATE SET
  carrier = EXCLUDED.carrier,
  status = EXCLUDED.status,
  status_text = EXCLUDED.status_text,
  estimated_delivery = EXCLUDED.estimated_delivery,
  last_location = EXCLUDED.last_location,
  delivered = EXCLUDED.delivered,
  raw_status_code = EXCLUDED.raw_status_code,
  fetched_at = EXCLUDED.fetched_at
`, ts.TrackingNumber, ts.Carrier, ts.Status, ts.StatusText,
		ts.EstimatedDelivery, ts.LastLocation, ts.Delivered, ts.RawStatusCode, ts.FetchedAt.UTC())
	return errors.Wrap(err, "upsert tracking status")
}

func (s *Storage) GetTrackingStatus(ctx context.Context, trackingNumber string) (*models.TrackingStatus, error) {
	var ts models.TrackingStatus
	var estimated *time.Time
	err := s.db.QueryRow(ctx, `
SELECT
  tracking_number, carrier, status, status_text,
  estimated_delivery, last_location, delivered, raw_status_code, fetched_at
FROM tracking_status_cache
WHERE tracking_number = $1
`, trackingNumber).Scan(
		&ts.TrackingNumber, &ts.Carrier, &ts.Status, &ts.StatusText,
		&estimated, &ts.LastLocation, &ts.Delivered, &ts.RawStatusCode, &ts.FetchedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, errors.Wrap(err, "select tracking status")
	}
	ts.EstimatedDelivery = estimated
	return &ts, nil
}
