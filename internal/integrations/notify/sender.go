package notify

import (
	"context"
)

// LineItem is one purchased item echoed back in the shipped event so the
// template can list what is in the box.
type LineItem struct {
	SKU      string
	Title    string
	Quantity int
	Price    string
}

// Shipment is what the customer gets told about.
type Shipment struct {
	OrderNumber    string
	CustomerName   string
	CustomerEmail  string
	TrackingNumber string
	Carrier        string
	BatchName      string
	LineItems      []LineItem
}

type Sender interface {
	SendShipped(ctx context.Context, sh Shipment) error
}
