package pgstore

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pkg/errors"
)

// LastOrderSyncAt returns the zero time when no sync has completed yet.
func (s *Storage) LastOrderSyncAt(ctx context.Context) (time.Time, error) {
	var t time.Time
	err := s.db.QueryRow(ctx, `SELECT last_synced_at FROM order_sync_status WHERE id = 1`).Scan(&t)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return time.Time{}, nil
		}
		return time.Time{}, errors.Wrap(err, "select sync status")
	}
	return t, nil
}

func (s *Storage) SetLastOrderSyncAt(ctx context.Context, t time.Time) error {
	_, err := s.db.Exec(ctx, `
INSERT INTO order_sync_status (id, last_synced_at)
VALUES (1, $1)
ON CONFLICT (id) DO UPDATE SET last_synced_at = EXCLUDED.last_synced_at
`, t.UTC())
	return errors.Wrap(err, "set sync status")
}
