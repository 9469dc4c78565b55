package canadaposthttp

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/hemlockoak/parcelscan/internal/integrations/carrier"
	"github.com/hemlockoak/parcelscan/internal/models"
)

func TestClient_Track_OK(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/vis/track/pin/7023210039414604/summary", r.URL.Path)
		user, pass, ok := r.BasicAuth()
		require.True(t, ok)
		require.Equal(t, "u", user)
		require.Equal(t, "p", pass)
		require.Equal(t, "application/vnd.cpc.track-v2+xml", r.Header.Get("Accept"))

		w.Header().Set("Content-Type", "application/vnd.cpc.track-v2+xml")
		_, _ = w.Write([]byte(`<tracking-summary>
  <pin-summary>
    <pin>7023210039414604</pin>
    <event-description>Item in transit</event-description>
    <event-type>INFO</event-type>
    <event-date-time>20260110:120000</event-date-time>
    <event-location>MISSISSAUGA, ON</event-location>
    <expected-delivery-date>2026-01-14</expected-delivery-date>
    <actual-delivery-date></actual-delivery-date>
  </pin-summary>
</tracking-summary>`))
	}))
	defer srv.Close()

	c := New(srv.URL, "u", "p", 5*time.Second)
	res, err := c.Track(context.Background(), "7023210039414604")
	require.NoError(t, err)
	require.Equal(t, models.TrackingStatusInTransit, res.Status)
	require.False(t, res.Delivered)
	require.Equal(t, "MISSISSAUGA, ON", res.LastLocation)
	require.NotNil(t, res.EstimatedDelivery)
	require.Equal(t, time.Date(2026, 1, 14, 0, 0, 0, 0, time.UTC), *res.EstimatedDelivery)
}

func TestClient_Track_Delivered(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`<tracking-summary>
  <pin-summary>
    <pin>7023210039414604</pin>
    <event-description>Delivered to your community mailbox</event-description>
    <event-type>DELIVERED_CMB</event-type>
    <actual-delivery-date>2026-01-12</actual-delivery-date>
  </pin-summary>
</tracking-summary>`))
	}))
	defer srv.Close()

	c := New(srv.URL, "u", "p", 5*time.Second)
	res, err := c.Track(context.Background(), "7023210039414604")
	require.NoError(t, err)
	require.Equal(t, models.TrackingStatusDelivered, res.Status)
	require.True(t, res.Delivered)
}

func TestClient_Track_NotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	c := New(srv.URL, "u", "p", 5*time.Second)
	_, err := c.Track(context.Background(), "0000000000000000")
	require.ErrorIs(t, err, carrier.ErrNotFound)
}

func TestNormalizeStatus(t *testing.T) {
	status, delivered := normalizeStatus("DELIVERED", "")
	require.Equal(t, models.TrackingStatusDelivered, status)
	require.True(t, delivered)

	status, delivered = normalizeStatus("INDUCTION", "")
	require.Equal(t, models.TrackingStatusLabelCreated, status)
	require.False(t, delivered)

	status, _ = normalizeStatus("ATTEMPTED_DELIVERY", "")
	require.Equal(t, models.TrackingStatusException, status)

	status, delivered = normalizeStatus("INFO", "2026-01-12")
	require.Equal(t, models.TrackingStatusDelivered, status)
	require.True(t, delivered)
}
