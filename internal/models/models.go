package models

import "time"

// Carrier names as they appear on labels and in the order source.
const (
	CarrierUPS        = "UPS"
	CarrierCanadaPost = "Canada Post"
	CarrierFedEx      = "FedEx"
	CarrierPurolator  = "Purolator"
	CarrierDHL        = "DHL"
	CarrierUSPS       = "USPS"
	CarrierUnknown    = "Unknown"
)

// Batch lifecycle. Transitions are monotonic: in_progress -> recorded -> notified.
const (
	BatchInProgress = "in_progress"
	BatchRecorded   = "recorded"
	BatchNotified   = "notified"
)

// Scan statuses. A scan is inserted as Processing and finalized to Complete
// by the background order backfill, even when every lookup fails.
const (
	ScanProcessing = "Processing"
	ScanComplete   = "Complete"
)

// Normalized tracking statuses from the carrier sources.
const (
	TrackingStatusUnknown      = "unknown"
	TrackingStatusLabelCreated = "label_created"
	TrackingStatusInTransit    = "in_transit"
	TrackingStatusDelivered    = "delivered"
	TrackingStatusException    = "exception"
)

type Batch struct {
	ID         uint64
	Name       string
	Carrier    string
	Status     string
	Notes      string
	CreatedAt  time.Time
	FinishedAt *time.Time
	NotifiedAt *time.Time
}

type Scan struct {
	ID             uint64
	BatchID        uint64
	TrackingNumber string
	RawInput       string
	Carrier        string
	OrderNumber    string
	OrderID        string
	CustomerName   string
	CustomerEmail  string
	Status         string
	ScannedAt      time.Time
}

// TrackingStatus is one memoized carrier lookup. Rows are upserted in place
// on every refresh and never deleted; staleness is judged by FetchedAt.
type TrackingStatus struct {
	TrackingNumber    string
	Carrier           string
	Status            string
	StatusText        string
	EstimatedDelivery *time.Time
	LastLocation      string
	Delivered         bool
	RawStatusCode     string
	FetchedAt         time.Time

	// Stale is set on read when the entry is older than the TTL and the
	// carrier could not be reached for a fresh one.
	Stale bool
}

type Order struct {
	ID                uint64
	PlatformOrderID   string
	OrderNumber       string
	CustomerName      string
	CustomerEmail     string
	CustomerPhone     string
	ShippingAddress   string
	TrackingNumber    string
	FinancialStatus   string
	FulfillmentStatus string
	CancelledAt       *time.Time
	CancelReason      string
	LineItems         []OrderLineItem
	SourceUpdatedAt   time.Time
	SyncedAt          time.Time
}

type OrderLineItem struct {
	ID       uint64
	OrderID  uint64
	SKU      string
	Title    string
	Quantity int
	Price    string
}

// NotificationEntry is the at-most-once ledger row. The storage layer holds a
// uniqueness constraint on (order_number, batch_id); a second successful send
// for the same pair is impossible by construction.
type NotificationEntry struct {
	ID             uint64
	BatchID        uint64
	OrderNumber    string
	CustomerEmail  string
	TrackingNumber string
	NotifiedAt     time.Time
	Success        bool
	ErrorDetail    string
}

// CancelledOrder is a snapshot taken at cancellation time. Kept separate from
// Order so it survives even if the source order is purged later.
type CancelledOrder struct {
	ID            uint64
	OrderNumber   string
	CustomerName  string
	CustomerEmail string
	Reason        string
	Refunded      bool
	CancelledAt   time.Time
}
