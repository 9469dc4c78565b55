package shopifyhttp

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestClient_ListUpdatedSince_Pagination(t *testing.T) {
	var calls int
	var srv *httptest.Server
	srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		require.Equal(t, "tok", r.Header.Get("X-Shopify-Access-Token"))

		w.Header().Set("Content-Type", "application/json")
		if r.URL.Query().Get("page_info") == "" {
			require.Equal(t, "any", r.URL.Query().Get("status"))
			require.NotEmpty(t, r.URL.Query().Get("updated_at_min"))
			w.Header().Set("Link", "<"+srv.URL+"/admin/api/2024-01/orders.json?page_info=p2>; rel=\"next\"")
			_, _ = w.Write([]byte(`{"orders":[{
  "id": 1001,
  "name": "#1001",
  "email": "dana@example.com",
  "updated_at": "2026-01-10T10:00:00Z",
  "customer": {"first_name":"Dana","last_name":"Reyes"},
  "shipping_address": {"address1":"12 King St","city":"Toronto","province":"ON","zip":"M5H 1A1","country":"Canada"},
  "fulfillments": [{"tracking_number":"1Z5R89390304935982"}],
  "line_items": [{"sku":"SKU-1","title":"Widget","quantity":2,"price":"19.99"}]
}]}`))
			return
		}

		_, _ = w.Write([]byte(`{"orders":[{
  "id": 1002,
  "name": "#1002",
  "updated_at": "2026-01-11T10:00:00Z",
  "cancelled_at": "2026-01-11T09:00:00Z",
  "cancel_reason": "customer"
}]}`))
	}))
	defer srv.Close()

	c := New(srv.URL, "tok", 5*time.Second)
	got, err := c.ListUpdatedSince(context.Background(), time.Now().Add(-time.Hour))
	require.NoError(t, err)
	require.Equal(t, 2, calls)
	require.Len(t, got, 2)

	require.Equal(t, "1001", got[0].PlatformOrderID)
	require.Equal(t, "#1001", got[0].OrderNumber)
	require.Equal(t, "Dana Reyes", got[0].CustomerName)
	require.Equal(t, "1Z5R89390304935982", got[0].TrackingNumber)
	require.Equal(t, "12 King St, Toronto, ON, M5H 1A1, Canada", got[0].ShippingAddress)
	require.Len(t, got[0].LineItems, 1)

	require.NotNil(t, got[1].CancelledAt)
	require.Equal(t, "customer", got[1].CancelReason)
}

func TestClient_ListUpdatedSince_RetryAfter429(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls == 1 {
			w.Header().Set("Retry-After", "0.01")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		_, _ = w.Write([]byte(`{"orders":[]}`))
	}))
	defer srv.Close()

	c := New(srv.URL, "tok", 5*time.Second)
	var slept []time.Duration
	c.sleep = func(d time.Duration) { slept = append(slept, d) }

	got, err := c.ListUpdatedSince(context.Background(), time.Time{})
	require.NoError(t, err)
	require.Empty(t, got)
	require.Equal(t, 2, calls)
	require.Equal(t, []time.Duration{10 * time.Millisecond}, slept)
}

func TestClient_ListUpdatedSince_5xxBackoffExhausted(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	c := New(srv.URL, "tok", 5*time.Second)
	var slept []time.Duration
	c.sleep = func(d time.Duration) { slept = append(slept, d) }

	_, err := c.ListUpdatedSince(context.Background(), time.Time{})
	require.Error(t, err)
	require.Contains(t, err.Error(), "retries exhausted")
	require.Equal(t, maxAttempts, calls)
	// 1s, 2s, 4s then give up; the cap keeps any single wait at 8s
	require.Equal(t, []time.Duration{time.Second, 2 * time.Second, 4 * time.Second, 8 * time.Second}, slept)
}

func TestClient_ListUpdatedSince_4xxFailsFast(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	c := New(srv.URL, "tok", 5*time.Second)
	_, err := c.ListUpdatedSince(context.Background(), time.Time{})
	require.Error(t, err)
	require.Equal(t, 1, calls)
}

func TestNextLink(t *testing.T) {
	h := `<https://shop.example.com/admin/api/2024-01/orders.json?page_info=abc>; rel="next"`
	require.Equal(t, "https://shop.example.com/admin/api/2024-01/orders.json?page_info=abc", nextLink(h))

	h = `<https://x/prev>; rel="previous", <https://x/next>; rel="next"`
	require.Equal(t, "https://x/next", nextLink(h))

	require.Equal(t, "", nextLink(`<https://x/prev>; rel="previous"`))
	require.Equal(t, "", nextLink(""))
}

func TestBackoffCap(t *testing.T) {
	require.Equal(t, time.Second, backoff(0))
	require.Equal(t, 4*time.Second, backoff(2))
	require.Equal(t, 8*time.Second, backoff(3))
	require.Equal(t, 8*time.Second, backoff(6))
}

func TestClient_OrderByTracking(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "any", r.URL.Query().Get("status"))
		require.NotEmpty(t, r.URL.Query().Get("created_at_min"))

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"orders":[
  {"id": 1001, "name": "#1001", "fulfillments": [{"tracking_number":"1Z5R89390304935982"}]},
  {"id": 1002, "name": "#1002", "fulfillments": [{"tracking_number":"1Z5R89390304935983"}]}
]}`))
	}))
	defer srv.Close()

	c := New(srv.URL, "tok", 5*time.Second)
	o, err := c.OrderByTracking(context.Background(), "1Z5R89390304935983", 30*24*time.Hour)
	require.NoError(t, err)
	require.NotNil(t, o)
	require.Equal(t, "#1002", o.OrderNumber)

	o, err = c.OrderByTracking(context.Background(), "1Z0000000000000000", 30*24*time.Hour)
	require.NoError(t, err)
	require.Nil(t, o)
}

func TestClient_OrderByNumber(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if r.URL.Query().Get("name") != "#1001" {
			_, _ = w.Write([]byte(`{"orders":[]}`))
			return
		}
		// the name filter is loose; a partial match rides along
		_, _ = w.Write([]byte(`{"orders":[
  {"id": 10011, "name": "#10011"},
  {"id": 1001, "name": "#1001", "email": "dana@example.com"}
]}`))
	}))
	defer srv.Close()

	c := New(srv.URL, "tok", 5*time.Second)
	o, err := c.OrderByNumber(context.Background(), "#1001")
	require.NoError(t, err)
	require.NotNil(t, o)
	require.Equal(t, "1001", o.PlatformOrderID)
	require.Equal(t, "dana@example.com", o.CustomerEmail)

	o, err = c.OrderByNumber(context.Background(), "#9999")
	require.NoError(t, err)
	require.Nil(t, o)
}
