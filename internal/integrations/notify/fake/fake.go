package fake

import (
	"context"
	"log/slog"
	"sync"

	"github.com/hemlockoak/parcelscan/internal/integrations/notify"
)

// Sender logs shipped notifications instead of delivering them. Used in
// environments without a notification API key; keeps the sent list so tests
// can assert on it.
type Sender struct {
	mu   sync.Mutex
	sent []notify.Shipment
}

func New() *Sender { return &Sender{} }

func (s *Sender) SendShipped(ctx context.Context, sh notify.Shipment) error {
	s.mu.Lock()
	s.sent = append(s.sent, sh)
	s.mu.Unlock()

	slog.Info("simulated shipped notification",
		"order_number", sh.OrderNumber,
		"customer_email", sh.CustomerEmail,
		"tracking_number", sh.TrackingNumber,
		"carrier", sh.Carrier,
	)
	return nil
}

// Sent returns a copy of everything delivered so far.
func (s *Sender) Sent() []notify.Shipment {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]notify.Shipment, len(s.sent))
	copy(out, s.sent)
	return out
}
