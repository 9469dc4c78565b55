package notifier

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/hemlockoak/parcelscan/internal/integrations/notify"
	"github.com/hemlockoak/parcelscan/internal/models"
)

type Repository interface {
	GetBatch(ctx context.Context, id uint64) (*models.Batch, error)
	ListScansByBatch(ctx context.Context, batchID uint64) ([]*models.Scan, error)
	AdvanceBatchStatus(ctx context.Context, id uint64, status string) error
	RecordNotification(ctx context.Context, n *models.NotificationEntry) (bool, error)
	MarkNotificationResult(ctx context.Context, batchID uint64, orderNumber string, success bool, errorDetail string) error
}

// OrderResolver fills in customer and line item details the scan row does
// not carry. Scans are inserted before the order sync may have seen the
// order, so the email on the row can lag reality.
type OrderResolver interface {
	Resolve(ctx context.Context, trackingNumber string) (*models.Order, error)
}

const (
	TaskRunning = "running"
	TaskDone    = "done"
	TaskFailed  = "failed"
)

// Task tracks one dispatch run. Held in memory only; a restart forgets tasks
// but the ledger still prevents double sends.
type Task struct {
	ID      string `json:"id"`
	BatchID uint64 `json:"batchId"`
	Status  string `json:"status"`

	Total   int `json:"total"`
	Sent    int `json:"sent"`
	Skipped int `json:"skipped"`
	Failed  int `json:"failed"`

	Error      string     `json:"error,omitempty"`
	StartedAt  time.Time  `json:"startedAt"`
	FinishedAt *time.Time `json:"finishedAt,omitempty"`
}

// Dispatcher sends shipment notifications for a recorded batch. One customer
// order gets at most one notification per batch regardless of how many of its
// parcels were scanned or how many times dispatch is invoked; the storage
// ledger enforces this across process restarts.
type Dispatcher struct {
	repo    Repository
	sender  notify.Sender
	orders  OrderResolver
	timeout time.Duration

	mu    sync.Mutex
	tasks map[string]*Task

	wg sync.WaitGroup
}

func New(repo Repository, sender notify.Sender, orders OrderResolver) *Dispatcher {
	return &Dispatcher{
		repo:    repo,
		sender:  sender,
		orders:  orders,
		timeout: 5 * time.Minute,
		tasks:   map[string]*Task{},
	}
}

// Dispatch validates the batch and starts the send in the background,
// returning a task id the caller can poll.
func (d *Dispatcher) Dispatch(ctx context.Context, batchID uint64) (string, error) {
	batch, err := d.repo.GetBatch(ctx, batchID)
	if err != nil {
		return "", err
	}
	if batch == nil {
		return "", errors.Errorf("batch %d not found", batchID)
	}
	if batch.Status == models.BatchInProgress {
		return "", errors.Errorf("batch %d is still in progress, close it first", batchID)
	}

	task := &Task{
		ID:        uuid.NewString(),
		BatchID:   batchID,
		Status:    TaskRunning,
		StartedAt: time.Now().UTC(),
	}
	d.mu.Lock()
	d.tasks[task.ID] = task
	d.mu.Unlock()

	d.wg.Add(1)
	go d.run(task)

	return task.ID, nil
}

func (d *Dispatcher) TaskStatus(id string) (Task, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	t, ok := d.tasks[id]
	if !ok {
		return Task{}, false
	}
	return *t, true
}

// Wait blocks until running dispatches finish. For shutdown.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

func (d *Dispatcher) run(task *Task) {
	defer d.wg.Done()

	ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
	defer cancel()

	batch, err := d.repo.GetBatch(ctx, task.BatchID)
	if err != nil || batch == nil {
		d.finish(task, TaskFailed, "batch lookup failed")
		return
	}

	scans, err := d.repo.ListScansByBatch(ctx, task.BatchID)
	if err != nil {
		d.finish(task, TaskFailed, err.Error())
		return
	}

	// one notification per order, first scan of the order carries the details
	byOrder := map[string]*models.Scan{}
	var orderSeq []string
	for _, sc := range scans {
		if sc.OrderNumber == "" {
			continue
		}
		if _, ok := byOrder[sc.OrderNumber]; !ok {
			byOrder[sc.OrderNumber] = sc
			orderSeq = append(orderSeq, sc.OrderNumber)
		}
	}

	d.mu.Lock()
	task.Total = len(orderSeq)
	d.mu.Unlock()

	for _, orderNumber := range orderSeq {
		sc := byOrder[orderNumber]

		name, email, items := d.customerDetails(ctx, sc)
		if email == "" {
			// no address to send to; leave the ledger key unclaimed so a
			// later dispatch can still notify once the order has synced
			d.count(task, func(t *Task) { t.Failed++ })
			slog.Error("no customer email for order", "batch_id", task.BatchID, "order", orderNumber, "tracking_number", sc.TrackingNumber)
			continue
		}

		inserted, err := d.repo.RecordNotification(ctx, &models.NotificationEntry{
			BatchID:        task.BatchID,
			OrderNumber:    orderNumber,
			CustomerEmail:  email,
			TrackingNumber: sc.TrackingNumber,
		})
		if err != nil {
			d.count(task, func(t *Task) { t.Failed++ })
			slog.Error("record notification", "batch_id", task.BatchID, "order", orderNumber, "error", err.Error())
			continue
		}
		if !inserted {
			// this order was already notified for this batch
			d.count(task, func(t *Task) { t.Skipped++ })
			continue
		}

		sendErr := d.sender.SendShipped(ctx, notify.Shipment{
			OrderNumber:    orderNumber,
			CustomerName:   name,
			CustomerEmail:  email,
			TrackingNumber: sc.TrackingNumber,
			Carrier:        sc.Carrier,
			BatchName:      batch.Name,
			LineItems:      items,
		})
		if sendErr != nil {
			d.count(task, func(t *Task) { t.Failed++ })
			slog.Error("send notification", "batch_id", task.BatchID, "order", orderNumber, "error", sendErr.Error())
			if err := d.repo.MarkNotificationResult(ctx, task.BatchID, orderNumber, false, sendErr.Error()); err != nil {
				slog.Error("mark notification result", "order", orderNumber, "error", err.Error())
			}
			continue
		}

		d.count(task, func(t *Task) { t.Sent++ })
		if err := d.repo.MarkNotificationResult(ctx, task.BatchID, orderNumber, true, ""); err != nil {
			slog.Error("mark notification result", "order", orderNumber, "error", err.Error())
		}
	}

	if batch.Status != models.BatchNotified {
		if err := d.repo.AdvanceBatchStatus(ctx, task.BatchID, models.BatchNotified); err != nil {
			slog.Error("advance batch status", "batch_id", task.BatchID, "error", err.Error())
		}
	}

	d.finish(task, TaskDone, "")
}

// customerDetails consults the order resolver for the authoritative email
// and the line items. The scan row is the fallback when the order cannot be
// resolved.
func (d *Dispatcher) customerDetails(ctx context.Context, sc *models.Scan) (name, email string, items []notify.LineItem) {
	name, email = sc.CustomerName, sc.CustomerEmail

	if d.orders == nil {
		return name, email, nil
	}
	o, err := d.orders.Resolve(ctx, sc.TrackingNumber)
	if err != nil {
		slog.Warn("order lookup for notification failed", "order", sc.OrderNumber, "tracking_number", sc.TrackingNumber, "error", err.Error())
		return name, email, nil
	}
	if o == nil {
		return name, email, nil
	}

	if o.CustomerEmail != "" {
		email = o.CustomerEmail
	}
	if o.CustomerName != "" {
		name = o.CustomerName
	}
	for _, li := range o.LineItems {
		items = append(items, notify.LineItem{
			SKU:      li.SKU,
			Title:    li.Title,
			Quantity: li.Quantity,
			Price:    li.Price,
		})
	}
	return name, email, items
}

func (d *Dispatcher) count(task *Task, f func(*Task)) {
	d.mu.Lock()
	f(task)
	d.mu.Unlock()
}

func (d *Dispatcher) finish(task *Task, status, errMsg string) {
	now := time.Now().UTC()
	d.mu.Lock()
	task.Status = status
	task.Error = errMsg
	task.FinishedAt = &now
	d.mu.Unlock()
}
