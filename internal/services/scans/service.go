package scans

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/hemlockoak/parcelscan/internal/models"
	"github.com/hemlockoak/parcelscan/internal/tracking"
)

type Repository interface {
	CreateBatch(ctx context.Context, name, carrier, notes string) (*models.Batch, error)
	GetBatch(ctx context.Context, id uint64) (*models.Batch, error)
	ListBatches(ctx context.Context, limit, offset int) ([]*models.Batch, error)
	ListOpenBatches(ctx context.Context) ([]*models.Batch, error)
	AdvanceBatchStatus(ctx context.Context, id uint64, status string) error
	UpdateBatchNotes(ctx context.Context, id uint64, notes string) error

	InsertScan(ctx context.Context, sc *models.Scan) (*models.Scan, error)
	GetScan(ctx context.Context, id uint64) (*models.Scan, error)
	FindScanInOpenBatch(ctx context.Context, trackingNumber string) (*models.Scan, error)
	ListScansByBatch(ctx context.Context, batchID uint64) ([]*models.Scan, error)
	FillScanOrder(ctx context.Context, scanID uint64, orderNumber, orderID, customerName, customerEmail string) error
	FinalizeScan(ctx context.Context, scanID uint64) error
}

type OrderResolver interface {
	Resolve(ctx context.Context, trackingNumber string) (*models.Order, error)
	ResolveLocal(ctx context.Context, trackingNumber string) (*models.Order, error)
	IsCancelled(ctx context.Context, orderNumber string) (bool, string, error)
}

// Result is the outcome for one tracking number extracted from a raw scan.
// A single swipe can produce several when labels went through concatenated.
type Result struct {
	TrackingNumber string       `json:"trackingNumber"`
	Carrier        string       `json:"carrier"`
	Accepted       bool         `json:"accepted"`
	Reason         string       `json:"reason,omitempty"`
	Scan           *models.Scan `json:"scan,omitempty"`

	// On a duplicate, Existing is the scan that got there first so the
	// operator can see which batch and when.
	Duplicate bool         `json:"duplicate,omitempty"`
	Existing  *models.Scan `json:"existingScan,omitempty"`
}

// Service owns scan intake. Scans for the same batch are serialized so the
// duplicate guard cannot race against itself.
type Service struct {
	repo   Repository
	orders OrderResolver

	backfillTimeout time.Duration

	mu         sync.Mutex
	batchLocks map[uint64]*sync.Mutex

	backfill sync.WaitGroup
}

func New(repo Repository, orders OrderResolver) *Service {
	return &Service{
		repo:            repo,
		orders:          orders,
		backfillTimeout: 30 * time.Second,
		batchLocks:      map[uint64]*sync.Mutex{},
	}
}

func (s *Service) CreateBatch(ctx context.Context, name, carrier, notes string) (*models.Batch, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, errors.New("name is required")
	}
	switch carrier {
	case models.CarrierUPS, models.CarrierCanadaPost, models.CarrierFedEx,
		models.CarrierPurolator, models.CarrierDHL, models.CarrierUSPS, "":
	default:
		return nil, errors.Errorf("unknown carrier %q", carrier)
	}
	return s.repo.CreateBatch(ctx, name, carrier, notes)
}

func (s *Service) GetBatch(ctx context.Context, id uint64) (*models.Batch, error) {
	return s.repo.GetBatch(ctx, id)
}

func (s *Service) ListBatches(ctx context.Context, limit, offset int) ([]*models.Batch, error) {
	return s.repo.ListBatches(ctx, limit, offset)
}

// ListOpenBatches backs the batch picker on the scan floor.
func (s *Service) ListOpenBatches(ctx context.Context) ([]*models.Batch, error) {
	return s.repo.ListOpenBatches(ctx)
}

func (s *Service) ListScans(ctx context.Context, batchID uint64) ([]*models.Scan, error) {
	return s.repo.ListScansByBatch(ctx, batchID)
}

// ResolveScan re-runs the order lookup for a stored scan, including the
// remote fallback. Fixes scans whose async backfill came up empty before
// the order had synced.
func (s *Service) ResolveScan(ctx context.Context, scanID uint64) (*models.Scan, error) {
	sc, err := s.repo.GetScan(ctx, scanID)
	if err != nil {
		return nil, err
	}
	if sc == nil {
		return nil, errors.Errorf("scan %d not found", scanID)
	}

	o, err := s.orders.Resolve(ctx, sc.TrackingNumber)
	if err != nil {
		return nil, err
	}
	if o == nil {
		return sc, nil
	}

	if err := s.repo.FillScanOrder(ctx, sc.ID, o.OrderNumber, o.PlatformOrderID, o.CustomerName, o.CustomerEmail); err != nil {
		return nil, err
	}
	sc.OrderNumber = o.OrderNumber
	sc.OrderID = o.PlatformOrderID
	sc.CustomerName = o.CustomerName
	sc.CustomerEmail = o.CustomerEmail
	sc.Status = models.ScanComplete
	return sc, nil
}

// CloseBatch stops intake for the batch; its numbers no longer count as
// duplicates for new scans.
func (s *Service) CloseBatch(ctx context.Context, id uint64) error {
	return s.repo.AdvanceBatchStatus(ctx, id, models.BatchRecorded)
}

func (s *Service) UpdateBatchNotes(ctx context.Context, id uint64, notes string) error {
	return s.repo.UpdateBatchNotes(ctx, id, notes)
}

// RecordScan runs the intake pipeline on one raw barcode read: split
// concatenated labels, check each segment against the batch carrier, then the
// cancellation and duplicate guards, and persist what survives. Order details
// are filled in asynchronously so the scanner gun never waits on the
// platform.
func (s *Service) RecordScan(ctx context.Context, batchID uint64, raw string) ([]Result, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, errors.New("scan input is empty")
	}

	batch, err := s.repo.GetBatch(ctx, batchID)
	if err != nil {
		return nil, err
	}
	if batch == nil {
		return nil, errors.Errorf("batch %d not found", batchID)
	}
	if batch.Status != models.BatchInProgress {
		return nil, errors.Errorf("batch %d is %s, not accepting scans", batchID, batch.Status)
	}

	lock := s.batchLock(batchID)
	lock.Lock()
	defer lock.Unlock()

	segments := tracking.Split(raw)
	out := make([]Result, 0, len(segments))
	for _, seg := range segments {
		out = append(out, s.recordOne(ctx, batch, seg))
	}
	return out, nil
}

func (s *Service) recordOne(ctx context.Context, batch *models.Batch, segment string) Result {
	if err := tracking.ValidateForBatch(segment, batch.Carrier); err != nil {
		return Result{TrackingNumber: segment, Accepted: false, Reason: err.Error()}
	}

	toks := tracking.Classify(segment)
	tok := toks[0]
	res := Result{TrackingNumber: tok.Number, Carrier: tok.Carrier}

	// cancellation beats the duplicate guard: a rescan of a cancelled order's
	// label must keep reporting the cancellation
	local, err := s.orders.ResolveLocal(ctx, tok.Number)
	if err != nil {
		res.Reason = err.Error()
		return res
	}
	if local != nil {
		cancelled, reason, err := s.orders.IsCancelled(ctx, local.OrderNumber)
		if err != nil {
			res.Reason = err.Error()
			return res
		}
		if cancelled {
			res.Reason = "order " + local.OrderNumber + " is cancelled"
			if reason != "" {
				res.Reason += " (" + reason + ")"
			}
			return res
		}
	}

	existing, err := s.repo.FindScanInOpenBatch(ctx, tok.Number)
	if err != nil {
		res.Reason = err.Error()
		return res
	}
	if existing != nil {
		res.Duplicate = true
		res.Existing = existing
		res.Reason = "duplicate scan"
		return res
	}

	sc := &models.Scan{
		BatchID:        batch.ID,
		TrackingNumber: tok.Number,
		RawInput:       segment,
		Carrier:        tok.Carrier,
		Status:         models.ScanProcessing,
		ScannedAt:      time.Now().UTC(),
	}
	if local != nil {
		sc.OrderNumber = local.OrderNumber
		sc.OrderID = local.PlatformOrderID
		sc.CustomerName = local.CustomerName
		sc.CustomerEmail = local.CustomerEmail
	}

	sc, err = s.repo.InsertScan(ctx, sc)
	if err != nil {
		res.Reason = err.Error()
		return res
	}

	s.backfill.Add(1)
	go s.backfillOrder(sc.ID, tok.Number, local != nil)

	res.Accepted = true
	res.Scan = sc
	return res
}

// backfillOrder finishes a Processing scan off the request path. The scan is
// finalized even when every lookup fails so it never sticks in Processing.
func (s *Service) backfillOrder(scanID uint64, trackingNumber string, haveLocal bool) {
	defer s.backfill.Done()

	ctx, cancel := context.WithTimeout(context.Background(), s.backfillTimeout)
	defer cancel()

	if haveLocal {
		// order details were written at intake; just flip the status
		if err := s.repo.FinalizeScan(ctx, scanID); err != nil {
			slog.Error("finalize scan", "scan_id", scanID, "error", err.Error())
		}
		return
	}

	o, err := s.orders.Resolve(ctx, trackingNumber)
	if err != nil {
		slog.Warn("order backfill lookup failed", "scan_id", scanID, "tracking_number", trackingNumber, "error", err.Error())
	}

	var orderNumber, orderID, name, email string
	if o != nil {
		orderNumber, orderID, name, email = o.OrderNumber, o.PlatformOrderID, o.CustomerName, o.CustomerEmail
	}
	if err := s.repo.FillScanOrder(ctx, scanID, orderNumber, orderID, name, email); err != nil {
		slog.Error("fill scan order", "scan_id", scanID, "error", err.Error())
	}
}

// Wait blocks until in-flight order backfills finish. Shutdown calls it so
// scans do not stay Processing across a restart.
func (s *Service) Wait() {
	s.backfill.Wait()
}

func (s *Service) batchLock(batchID uint64) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	mu, ok := s.batchLocks[batchID]
	if !ok {
		mu = &sync.Mutex{}
		s.batchLocks[batchID] = mu
	}
	return mu
}
