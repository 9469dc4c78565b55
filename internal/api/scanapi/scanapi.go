package scanapi

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hemlockoak/parcelscan/internal/address"
	"github.com/hemlockoak/parcelscan/internal/models"
	"github.com/hemlockoak/parcelscan/internal/services/notifier"
	"github.com/hemlockoak/parcelscan/internal/services/scans"
	"github.com/hemlockoak/parcelscan/internal/tracking"
)

type ScanService interface {
	CreateBatch(ctx context.Context, name, carrier, notes string) (*models.Batch, error)
	GetBatch(ctx context.Context, id uint64) (*models.Batch, error)
	ListBatches(ctx context.Context, limit, offset int) ([]*models.Batch, error)
	ListOpenBatches(ctx context.Context) ([]*models.Batch, error)
	ListScans(ctx context.Context, batchID uint64) ([]*models.Scan, error)
	CloseBatch(ctx context.Context, id uint64) error
	UpdateBatchNotes(ctx context.Context, id uint64, notes string) error
	RecordScan(ctx context.Context, batchID uint64, raw string) ([]scans.Result, error)
	ResolveScan(ctx context.Context, scanID uint64) (*models.Scan, error)
}

type StatusService interface {
	GetStatus(ctx context.Context, trackingNumber, carrierName string) (*models.TrackingStatus, error)
	Refresh(ctx context.Context, trackingNumber, carrierName string) (*models.TrackingStatus, error)
}

type NotifyService interface {
	Dispatch(ctx context.Context, batchID uint64) (string, error)
	TaskStatus(id string) (notifier.Task, bool)
}

type OrderService interface {
	Resolve(ctx context.Context, key string) (*models.Order, error)
}

type API struct {
	scans  ScanService
	status StatusService
	notify NotifyService
	orders OrderService
}

func New(scans ScanService, status StatusService, notify NotifyService, orders OrderService) *API {
	return &API{scans: scans, status: status, notify: notify, orders: orders}
}

func (a *API) Routes(r chi.Router) {
	r.Route("/v1", func(r chi.Router) {
		r.Post("/batches", a.createBatch)
		r.Get("/batches", a.listBatches)
		r.Get("/batches/{id}", a.getBatch)
		r.Post("/batches/{id}/close", a.closeBatch)
		r.Put("/batches/{id}/notes", a.updateNotes)
		r.Get("/batches/{id}/scans", a.listScans)
		r.Post("/batches/{id}/scans", a.recordScan)
		r.Post("/batches/{id}/notify", a.dispatchNotify)
		r.Get("/notify/tasks/{taskId}", a.notifyTask)

		r.Post("/scans/{id}/resolve", a.resolveScan)
		r.Get("/orders/{key}", a.getOrder)

		r.Get("/tracking/{number}/status", a.trackingStatus)
		r.Post("/tracking/{number}/refresh", a.trackingRefresh)
		r.Post("/tracking/classify", a.classify)

		r.Post("/address/check", a.addressCheck)
	})
}

type createBatchRequest struct {
	Name    string `json:"name"`
	Carrier string `json:"carrier"`
	Notes   string `json:"notes"`
}

func (a *API) createBatch(w http.ResponseWriter, r *http.Request) {
	var req createBatchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	b, err := a.scans.CreateBatch(r.Context(), req.Name, req.Carrier, req.Notes)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, toBatchResponse(b))
}

func (a *API) listBatches(w http.ResponseWriter, r *http.Request) {
	var bs []*models.Batch
	var err error
	if r.URL.Query().Get("open") == "true" {
		bs, err = a.scans.ListOpenBatches(r.Context())
	} else {
		limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
		offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))
		bs, err = a.scans.ListBatches(r.Context(), limit, offset)
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	out := make([]batchResponse, 0, len(bs))
	for _, b := range bs {
		out = append(out, toBatchResponse(b))
	}
	writeJSON(w, http.StatusOK, map[string]any{"batches": out})
}

func (a *API) getBatch(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	b, err := a.scans.GetBatch(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if b == nil {
		writeError(w, http.StatusNotFound, "batch not found")
		return
	}
	writeJSON(w, http.StatusOK, toBatchResponse(b))
}

func (a *API) closeBatch(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	if err := a.scans.CloseBatch(r.Context(), id); err != nil {
		writeError(w, http.StatusConflict, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"closed": true})
}

type notesRequest struct {
	Notes string `json:"notes"`
}

func (a *API) updateNotes(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	var req notesRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if err := a.scans.UpdateBatchNotes(r.Context(), id, req.Notes); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"updated": true})
}

func (a *API) listScans(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	list, err := a.scans.ListScans(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"scans": list})
}

type recordScanRequest struct {
	Code string `json:"code"`
}

func (a *API) recordScan(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	var req recordScanRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	results, err := a.scans.RecordScan(r.Context(), id, req.Code)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"results": results})
}

func (a *API) dispatchNotify(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	taskID, err := a.notify.Dispatch(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusConflict, err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"taskId": taskID})
}

func (a *API) notifyTask(w http.ResponseWriter, r *http.Request) {
	task, ok := a.notify.TaskStatus(chi.URLParam(r, "taskId"))
	if !ok {
		writeError(w, http.StatusNotFound, "task not found")
		return
	}
	writeJSON(w, http.StatusOK, task)
}

func (a *API) resolveScan(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	sc, err := a.scans.ResolveScan(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"scan": sc, "resolved": sc.OrderNumber != ""})
}

func (a *API) getOrder(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")
	o, err := a.orders.Resolve(r.Context(), key)
	if err != nil {
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	if o == nil {
		writeError(w, http.StatusNotFound, "order not found")
		return
	}
	writeJSON(w, http.StatusOK, toOrderResponse(o))
}

func (a *API) trackingStatus(w http.ResponseWriter, r *http.Request) {
	number := chi.URLParam(r, "number")
	carrierName := r.URL.Query().Get("carrier")
	if carrierName == "" {
		carrierName = tracking.Detect(number)
	}
	ts, err := a.status.GetStatus(r.Context(), number, carrierName)
	if err != nil {
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, ts)
}

func (a *API) trackingRefresh(w http.ResponseWriter, r *http.Request) {
	number := chi.URLParam(r, "number")
	carrierName := r.URL.Query().Get("carrier")
	if carrierName == "" {
		carrierName = tracking.Detect(number)
	}
	ts, err := a.status.Refresh(r.Context(), number, carrierName)
	if err != nil {
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, ts)
}

type classifyRequest struct {
	Code string `json:"code"`
}

func (a *API) classify(w http.ResponseWriter, r *http.Request) {
	var req classifyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Code == "" {
		writeError(w, http.StatusBadRequest, "code is required")
		return
	}
	toks := tracking.Classify(req.Code)
	out := make([]map[string]string, 0, len(toks))
	for _, tk := range toks {
		out = append(out, map[string]string{"trackingNumber": tk.Number, "carrier": tk.Carrier})
	}
	writeJSON(w, http.StatusOK, map[string]any{"tokens": out})
}

type addressCheckRequest struct {
	Address string `json:"address"`
	Carrier string `json:"carrier"`
}

func (a *API) addressCheck(w http.ResponseWriter, r *http.Request) {
	var req addressCheckRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Address == "" {
		writeError(w, http.StatusBadRequest, "address is required")
		return
	}
	deliverable, reason := address.CheckCompatibility(req.Address, req.Carrier)
	writeJSON(w, http.StatusOK, map[string]any{
		"deliverable": deliverable,
		"poBox":       address.IsPOBox(req.Address),
		"reason":      reason,
	})
}

type batchResponse struct {
	ID         uint64  `json:"id"`
	Name       string  `json:"name"`
	Carrier    string  `json:"carrier"`
	Status     string  `json:"status"`
	Notes      string  `json:"notes,omitempty"`
	CreatedAt  string  `json:"createdAt"`
	FinishedAt *string `json:"finishedAt,omitempty"`
	NotifiedAt *string `json:"notifiedAt,omitempty"`
}

func toBatchResponse(b *models.Batch) batchResponse {
	out := batchResponse{
		ID:        b.ID,
		Name:      b.Name,
		Carrier:   b.Carrier,
		Status:    b.Status,
		Notes:     b.Notes,
		CreatedAt: b.CreatedAt.UTC().Format(time.RFC3339),
	}
	if b.FinishedAt != nil {
		s := b.FinishedAt.UTC().Format(time.RFC3339)
		out.FinishedAt = &s
	}
	if b.NotifiedAt != nil {
		s := b.NotifiedAt.UTC().Format(time.RFC3339)
		out.NotifiedAt = &s
	}
	return out
}

type orderLineItemResponse struct {
	SKU      string `json:"sku"`
	Title    string `json:"title"`
	Quantity int    `json:"quantity"`
	Price    string `json:"price"`
}

type orderResponse struct {
	OrderNumber       string                  `json:"orderNumber"`
	PlatformOrderID   string                  `json:"platformOrderId"`
	CustomerName      string                  `json:"customerName"`
	CustomerEmail     string                  `json:"customerEmail"`
	TrackingNumber    string                  `json:"trackingNumber,omitempty"`
	FinancialStatus   string                  `json:"financialStatus,omitempty"`
	FulfillmentStatus string                  `json:"fulfillmentStatus,omitempty"`
	CancelledAt       *string                 `json:"cancelledAt,omitempty"`
	CancelReason      string                  `json:"cancelReason,omitempty"`
	LineItems         []orderLineItemResponse `json:"lineItems,omitempty"`
}

func toOrderResponse(o *models.Order) orderResponse {
	out := orderResponse{
		OrderNumber:       o.OrderNumber,
		PlatformOrderID:   o.PlatformOrderID,
		CustomerName:      o.CustomerName,
		CustomerEmail:     o.CustomerEmail,
		TrackingNumber:    o.TrackingNumber,
		FinancialStatus:   o.FinancialStatus,
		FulfillmentStatus: o.FulfillmentStatus,
		CancelReason:      o.CancelReason,
	}
	if o.CancelledAt != nil {
		s := o.CancelledAt.UTC().Format(time.RFC3339)
		out.CancelledAt = &s
	}
	for _, li := range o.LineItems {
		out.LineItems = append(out.LineItems, orderLineItemResponse{
			SKU: li.SKU, Title: li.Title, Quantity: li.Quantity, Price: li.Price,
		})
	}
	return out
}

func pathID(w http.ResponseWriter, r *http.Request, name string) (uint64, bool) {
	id, err := strconv.ParseUint(chi.URLParam(r, name), 10, 64)
	if err != nil || id == 0 {
		writeError(w, http.StatusBadRequest, "invalid "+name)
		return 0, false
	}
	return id, true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
