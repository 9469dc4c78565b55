package carrier

import (
	"context"
	"time"

	"github.com/pkg/errors"
)

// ErrNotFound means the carrier has no record of the tracking number yet.
// Freshly printed labels commonly hit this for a few hours.
var ErrNotFound = errors.New("tracking number not found")

type Result struct {
	Status        string
	StatusText    string
	RawStatusCode string

	Delivered         bool
	EstimatedDelivery *time.Time
	LastLocation      string
}

type Client interface {
	Track(ctx context.Context, trackingNumber string) (Result, error)
}

// Shipment describes a parcel for rate quotes and label purchase.
type Shipment struct {
	FromPostalCode string
	ToPostalCode   string
	WeightGrams    int
	LengthCM       float64
	WidthCM        float64
	HeightCM       float64
}

// RateQuote is one service level offered for a shipment.
type RateQuote struct {
	Service       string
	Amount        string
	Currency      string
	EstimatedDays int
}

// Label is a purchased shipping label.
type Label struct {
	TrackingNumber string
	LabelURL       string
}

// Rater is the rate-shopping side of a carrier integration. No client
// implements it yet; callers type-assert and fall back when it is absent.
type Rater interface {
	Rate(ctx context.Context, sh Shipment) ([]RateQuote, error)
}

// LabelCreator purchases labels. Unimplemented for the same reason as Rater.
type LabelCreator interface {
	CreateLabel(ctx context.Context, sh Shipment) (Label, error)
}

// Registry routes a lookup to the client for the label's carrier.
type Registry map[string]Client

func (r Registry) Track(ctx context.Context, carrierName, trackingNumber string) (Result, error) {
	c, ok := r[carrierName]
	if !ok {
		return Result{}, errors.Errorf("no tracking client for carrier %q", carrierName)
	}
	return c.Track(ctx, trackingNumber)
}
