package messages

import (
	"time"
)

// StatusUpdated is published after a carrier lookup changes the cached
// state of a tracking number.
type StatusUpdated struct {
	TrackingNumber string    `json:"tracking_number"`
	Carrier        string    `json:"carrier"`
	CheckedAt      time.Time `json:"checked_at"`

	Status        string `json:"status"`
	StatusText    string `json:"status_text,omitempty"`
	RawStatusCode string `json:"raw_status_code,omitempty"`

	Delivered         bool       `json:"delivered"`
	EstimatedDelivery *time.Time `json:"estimated_delivery,omitempty"`
	LastLocation      string     `json:"last_location,omitempty"`
}
