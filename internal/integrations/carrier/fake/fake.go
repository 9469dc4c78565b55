package fake

import (
	"context"
	"hash/fnv"
	"time"

	"github.com/hemlockoak/parcelscan/internal/integrations/carrier"
	"github.com/hemlockoak/parcelscan/internal/models"
)

// Client is a stand-in tracking source for environments without carrier
// credentials. Status is deterministic per tracking number so repeated
// lookups agree: roughly a fifth of numbers come back delivered.
type Client struct {
	name string
}

func New(carrierName string) *Client { return &Client{name: carrierName} }

func (f *Client) Track(ctx context.Context, trackingNumber string) (carrier.Result, error) {
	h := fnv.New32a()
	_, _ = h.Write([]byte(f.name))
	_, _ = h.Write([]byte("|"))
	_, _ = h.Write([]byte(trackingNumber))
	v := h.Sum32()

	status := models.TrackingStatusInTransit
	delivered := false
	if v%5 == 0 {
		status = models.TrackingStatusDelivered
		delivered = true
	}

	est := time.Now().UTC().Add(72 * time.Hour).Truncate(24 * time.Hour)
	return carrier.Result{
		Status:            status,
		StatusText:        "simulated carrier update",
		RawStatusCode:     "SIM",
		Delivered:         delivered,
		EstimatedDelivery: &est,
		LastLocation:      "Toronto, ON, CA",
	}, nil
}
