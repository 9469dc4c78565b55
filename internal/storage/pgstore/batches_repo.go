package pgstore

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pkg/errors"

	"github.com/hemlockoak/parcelscan/internal/models"
)

// rank orders batch statuses so transitions only ever move forward.
var batchStatusRank = map[string]int{
	models.BatchInProgress: 0,
	models.BatchRecorded:   1,
	models.BatchNotified:   2,
}

func (s *Storage) CreateBatch(ctx context.Context, name, carrier, notes string) (*models.Batch, error) {
	now := time.Now().UTC()

	var id uint64
	err := s.db.QueryRow(ctx, `
INSERT INTO batches (name, carrier, status, notes, created_at)
VALUES ($1,$2,$3,$4,$5)
RETURNING id
`, name, carrier, models.BatchInProgress, notes, now).Scan(&id)
	if err != nil {
		return nil, errors.Wrap(err, "insert batch")
	}

	return &models.Batch{
		ID:        id,
		Name:      name,
		Carrier:   carrier,
		Status:    models.BatchInProgress,
		Notes:     notes,
		CreatedAt: now,
	}, nil
}

func (s *Storage) GetBatch(ctx context.Context, id uint64) (*models.Batch, error) {
	row := s.db.QueryRow(ctx, `
SELECT id, name, carrier, status, notes, created_at, finished_at, notified_at
FROM batches
WHERE id = $1
`, id)

	b, err := scanBatch(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, errors.Wrap(err, "select batch")
	}
	return b, nil
}

// ListOpenBatches returns every batch still accepting scans. The duplicate
// guard treats a number seen in any of these as already handled.
func (s *Storage) ListOpenBatches(ctx context.Context) ([]*models.Batch, error) {
	return s.listBatchesWhere(ctx, `WHERE status = $1`, models.BatchInProgress)
}

func (s *Storage) ListBatches(ctx context.Context, limit, offset int) ([]*models.Batch, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}
	return s.listBatchesWhere(ctx, `ORDER BY created_at DESC LIMIT $1 OFFSET $2`, limit, offset)
}

func (s *Storage) listBatchesWhere(ctx context.Context, tail string, args ...any) ([]*models.Batch, error) {
	rows, err := s.db.Query(ctx, `
SELECT id, name, carrier, status, notes, created_at, finished_at, notified_at
FROM batches
`+tail, args...)
	if err != nil {
		return nil, errors.Wrap(err, "select batches")
	}
	defer rows.Close()

	var out []*models.Batch
	for rows.Next() {
		b, err := scanBatch(rows)
		if err != nil {
			return nil, errors.Wrap(err, "scan batch")
		}
		out = append(out, b)
	}
	if rows.Err() != nil {
		return nil, errors.Wrap(rows.Err(), "rows")
	}
	return out, nil
}

// AdvanceBatchStatus moves a batch forward in its lifecycle. Backward
// transitions are rejected rather than silently applied.
func (s *Storage) AdvanceBatchStatus(ctx context.Context, id uint64, status string) error {
	toRank, ok := batchStatusRank[status]
	if !ok {
		return errors.Errorf("unknown batch status %q", status)
	}

	b, err := s.GetBatch(ctx, id)
	if err != nil {
		return err
	}
	if b == nil {
		return errors.Errorf("batch %d not found", id)
	}
	if batchStatusRank[b.Status] > toRank {
		return errors.Errorf("batch %d: cannot move from %s to %s", id, b.Status, status)
	}

	now := time.Now().UTC()
	switch status {
	case models.BatchRecorded:
		_, err = s.db.Exec(ctx, `UPDATE batches SET status = $2, finished_at = $3 WHERE id = $1`, id, status, now)
	case models.BatchNotified:
		_, err = s.db.Exec(ctx, `UPDATE batches SET status = $2, notified_at = $3 WHERE id = $1`, id, status, now)
	default:
		_, err = s.db.Exec(ctx, `UPDATE batches SET status = $2 WHERE id = $1`, id, status)
	}
	return errors.Wrap(err, "update batch status")
}

func (s *Storage) UpdateBatchNotes(ctx context.Context, id uint64, notes string) error {
	_, err := s.db.Exec(ctx, `UPDATE batches SET notes = $2 WHERE id = $1`, id, notes)
	return errors.Wrap(err, "update batch notes")
}

func scanBatch(row pgx.Row) (*models.Batch, error) {
	var b models.Batch
	var finishedAt, notifiedAt *time.Time
	if err := row.Scan(
		&b.ID, &b.Name, &b.Carrier, &b.Status, &b.Notes,
		&b.CreatedAt, &finishedAt, &notifiedAt,
	); err != nil {
		return nil, err
	}
	b.FinishedAt = finishedAt
	b.NotifiedAt = notifiedAt
	return &b, nil
}
