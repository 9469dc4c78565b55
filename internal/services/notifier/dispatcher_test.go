package notifier

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"

	"github.com/hemlockoak/parcelscan/internal/integrations/notify"
	"github.com/hemlockoak/parcelscan/internal/models"
)

type fakeRepo struct {
	mu      sync.Mutex
	batch   *models.Batch
	scans   []*models.Scan
	ledger  map[string]*models.NotificationEntry // order number -> entry
	statusT []string
}

func newFakeRepo(batch *models.Batch, scans []*models.Scan) *fakeRepo {
	return &fakeRepo{batch: batch, scans: scans, ledger: map[string]*models.NotificationEntry{}}
}

func (r *fakeRepo) GetBatch(ctx context.Context, id uint64) (*models.Batch, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.batch != nil && r.batch.ID == id {
		cp := *r.batch
		return &cp, nil
	}
	return nil, nil
}

func (r *fakeRepo) ListScansByBatch(ctx context.Context, batchID uint64) ([]*models.Scan, error) {
	return r.scans, nil
}

func (r *fakeRepo) AdvanceBatchStatus(ctx context.Context, id uint64, status string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.batch.Status = status
	r.statusT = append(r.statusT, status)
	return nil
}

func (r *fakeRepo) RecordNotification(ctx context.Context, n *models.NotificationEntry) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.ledger[n.OrderNumber]; ok {
		return false, nil
	}
	cp := *n
	r.ledger[n.OrderNumber] = &cp
	return true, nil
}

func (r *fakeRepo) MarkNotificationResult(ctx context.Context, batchID uint64, orderNumber string, success bool, errorDetail string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	e := r.ledger[orderNumber]
	e.Success = success
	e.ErrorDetail = errorDetail
	return nil
}

type fakeSender struct {
	mu   sync.Mutex
	sent []notify.Shipment
	fail map[string]error // by order number
}

func (s *fakeSender) SendShipped(ctx context.Context, sh notify.Shipment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail[sh.OrderNumber]; err != nil {
		return err
	}
	s.sent = append(s.sent, sh)
	return nil
}

type fakeResolver struct {
	mu         sync.Mutex
	byTracking map[string]*models.Order
}

func newFakeResolver() *fakeResolver {
	return &fakeResolver{byTracking: map[string]*models.Order{}}
}

func (f *fakeResolver) add(o *models.Order) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.byTracking[o.TrackingNumber] = o
}

func (f *fakeResolver) Resolve(ctx context.Context, trackingNumber string) (*models.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.byTracking[trackingNumber], nil
}

func waitDone(t *testing.T, d *Dispatcher, taskID string) Task {
	t.Helper()
	var task Task
	require.Eventually(t, func() bool {
		var ok bool
		task, ok = d.TaskStatus(taskID)
		return ok && task.Status != TaskRunning
	}, time.Second, 5*time.Millisecond)
	return task
}

func recordedBatch() *models.Batch {
	return &models.Batch{ID: 1, Name: "Morning UPS", Carrier: models.CarrierUPS, Status: models.BatchRecorded}
}

func TestDispatch_SendsOncePerOrder(t *testing.T) {
	repo := newFakeRepo(recordedBatch(), []*models.Scan{
		{BatchID: 1, TrackingNumber: "1Z1", OrderNumber: "#1001", CustomerEmail: "a@example.com", Carrier: models.CarrierUPS, Status: models.ScanComplete},
		{BatchID: 1, TrackingNumber: "1Z2", OrderNumber: "#1001", CustomerEmail: "a@example.com", Carrier: models.CarrierUPS, Status: models.ScanComplete},
		{BatchID: 1, TrackingNumber: "1Z3", OrderNumber: "#1002", CustomerEmail: "b@example.com", Carrier: models.CarrierUPS, Status: models.ScanComplete},
		{BatchID: 1, TrackingNumber: "1Z4", OrderNumber: "", Status: models.ScanComplete}, // unresolved scan
	})
	sender := &fakeSender{}
	d := New(repo, sender, nil)

	taskID, err := d.Dispatch(context.Background(), 1)
	require.NoError(t, err)

	task := waitDone(t, d, taskID)
	require.Equal(t, TaskDone, task.Status)
	require.Equal(t, 2, task.Total)
	require.Equal(t, 2, task.Sent)
	require.Zero(t, task.Skipped)
	require.Zero(t, task.Failed)

	require.Len(t, sender.sent, 2)
	require.Equal(t, "Morning UPS", sender.sent[0].BatchName)
	require.True(t, repo.ledger["#1001"].Success)
	require.Equal(t, models.BatchNotified, repo.batch.Status)
}

func TestDispatch_SecondRunSkipsLedgeredOrders(t *testing.T) {
	repo := newFakeRepo(recordedBatch(), []*models.Scan{
		{BatchID: 1, TrackingNumber: "1Z1", OrderNumber: "#1001", CustomerEmail: "a@example.com", Status: models.ScanComplete},
	})
	sender := &fakeSender{}
	d := New(repo, sender, nil)

	taskID, err := d.Dispatch(context.Background(), 1)
	require.NoError(t, err)
	waitDone(t, d, taskID)

	taskID, err = d.Dispatch(context.Background(), 1)
	require.NoError(t, err)
	task := waitDone(t, d, taskID)

	require.Equal(t, 1, task.Skipped)
	require.Zero(t, task.Sent)
	require.Len(t, sender.sent, 1)
}

func TestDispatch_SendFailureRecorded(t *testing.T) {
	repo := newFakeRepo(recordedBatch(), []*models.Scan{
		{BatchID: 1, TrackingNumber: "1Z1", OrderNumber: "#1001", CustomerEmail: "a@example.com", Status: models.ScanComplete},
		{BatchID: 1, TrackingNumber: "1Z2", OrderNumber: "#1002", CustomerEmail: "b@example.com", Status: models.ScanComplete},
	})
	sender := &fakeSender{fail: map[string]error{"#1001": errors.New("smtp down")}}
	d := New(repo, sender, nil)

	taskID, err := d.Dispatch(context.Background(), 1)
	require.NoError(t, err)
	task := waitDone(t, d, taskID)

	require.Equal(t, 1, task.Sent)
	require.Equal(t, 1, task.Failed)
	require.False(t, repo.ledger["#1001"].Success)
	require.Equal(t, "smtp down", repo.ledger["#1001"].ErrorDetail)
	require.True(t, repo.ledger["#1002"].Success)
}

func TestDispatch_InProgressBatchRejected(t *testing.T) {
	b := recordedBatch()
	b.Status = models.BatchInProgress
	d := New(newFakeRepo(b, nil), &fakeSender{}, nil)

	_, err := d.Dispatch(context.Background(), 1)
	require.Error(t, err)
	require.Contains(t, err.Error(), "still in progress")
}

func TestDispatch_UnknownBatch(t *testing.T) {
	d := New(newFakeRepo(nil, nil), &fakeSender{}, nil)
	_, err := d.Dispatch(context.Background(), 7)
	require.Error(t, err)
}

func TestTaskStatus_UnknownID(t *testing.T) {
	d := New(newFakeRepo(recordedBatch(), nil), &fakeSender{}, nil)
	_, ok := d.TaskStatus("nope")
	require.False(t, ok)
}

func TestDispatch_BackfillsEmailAndLineItems(t *testing.T) {
	repo := newFakeRepo(recordedBatch(), []*models.Scan{
		{BatchID: 1, TrackingNumber: "1Z1", OrderNumber: "#1001", Carrier: models.CarrierUPS, Status: models.ScanComplete},
	})
	res := newFakeResolver()
	res.add(&models.Order{
		OrderNumber: "#1001", TrackingNumber: "1Z1",
		CustomerName: "Dana Reyes", CustomerEmail: "dana@example.com",
		LineItems: []models.OrderLineItem{
			{SKU: "SKU-1", Title: "Widget", Quantity: 2, Price: "19.99"},
		},
	})
	sender := &fakeSender{}
	d := New(repo, sender, res)

	taskID, err := d.Dispatch(context.Background(), 1)
	require.NoError(t, err)
	task := waitDone(t, d, taskID)

	require.Equal(t, 1, task.Sent)
	require.Zero(t, task.Failed)
	require.Len(t, sender.sent, 1)
	require.Equal(t, "dana@example.com", sender.sent[0].CustomerEmail)
	require.Equal(t, "Dana Reyes", sender.sent[0].CustomerName)
	require.Len(t, sender.sent[0].LineItems, 1)
	require.Equal(t, "Widget", sender.sent[0].LineItems[0].Title)
	require.Equal(t, "dana@example.com", repo.ledger["#1001"].CustomerEmail)
}

func TestDispatch_MissingEmailLeavesLedgerUnclaimed(t *testing.T) {
	repo := newFakeRepo(recordedBatch(), []*models.Scan{
		{BatchID: 1, TrackingNumber: "1Z1", OrderNumber: "#1001", Carrier: models.CarrierUPS, Status: models.ScanComplete},
	})
	res := newFakeResolver()
	sender := &fakeSender{}
	d := New(repo, sender, res)

	taskID, err := d.Dispatch(context.Background(), 1)
	require.NoError(t, err)
	task := waitDone(t, d, taskID)

	require.Equal(t, 1, task.Failed)
	require.Zero(t, task.Sent)
	require.Empty(t, sender.sent)
	require.NotContains(t, repo.ledger, "#1001")

	// once the order syncs with an address, a second dispatch must still send
	res.add(&models.Order{OrderNumber: "#1001", TrackingNumber: "1Z1", CustomerEmail: "dana@example.com"})
	taskID, err = d.Dispatch(context.Background(), 1)
	require.NoError(t, err)
	task = waitDone(t, d, taskID)

	require.Equal(t, 1, task.Sent)
	require.Zero(t, task.Skipped)
	require.Len(t, sender.sent, 1)
	require.Equal(t, "dana@example.com", sender.sent[0].CustomerEmail)
	require.True(t, repo.ledger["#1001"].Success)
}
