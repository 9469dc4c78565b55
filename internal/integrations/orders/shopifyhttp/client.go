package shopifyhttp

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/hemlockoak/parcelscan/internal/integrations/orders"
	"github.com/hemlockoak/parcelscan/internal/models"
)

const (
	apiVersion = "2024-01"
	pageLimit  = 250

	maxAttempts = 4
	baseBackoff = time.Second
	maxBackoff  = 8 * time.Second
)

type Client struct {
	baseURL string
	token   string
	httpc   *http.Client

	sleep func(time.Duration)
}

var _ orders.Source = (*Client)(nil)

func New(shopURL, accessToken string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Client{
		baseURL: strings.TrimRight(shopURL, "/"),
		token:   accessToken,
		httpc: &http.Client{
			Timeout: timeout,
		},
		sleep: time.Sleep,
	}
}

type orderJSON struct {
	ID           int64  `json:"id"`
	Name         string `json:"name"`
	Email        string `json:"email"`
	Phone        string `json:"phone"`
	UpdatedAt    string `json:"updated_at"`
	CancelledAt  string `json:"cancelled_at"`
	CancelReason string `json:"cancel_reason"`

	FinancialStatus   string `json:"financial_status"`
	FulfillmentStatus string `json:"fulfillment_status"`

	Customer struct {
		FirstName string `json:"first_name"`
		LastName  string `json:"last_name"`
	} `json:"customer"`

	ShippingAddress struct {
		Address1 string `json:"address1"`
		Address2 string `json:"address2"`
		City     string `json:"city"`
		Province string `json:"province"`
		Zip      string `json:"zip"`
		Country  string `json:"country"`
	} `json:"shipping_address"`

	Fulfillments []struct {
		TrackingNumber string `json:"tracking_number"`
	} `json:"fulfillments"`

	LineItems []struct {
		SKU      string `json:"sku"`
		Title    string `json:"title"`
		Quantity int    `json:"quantity"`
		Price    string `json:"price"`
	} `json:"line_items"`
}

type ordersPage struct {
	Orders []orderJSON `json:"orders"`
}

func (c *Client) ListUpdatedSince(ctx context.Context, since time.Time) ([]*models.Order, error) {
	q := url.Values{}
	q.Set("status", "any")
	q.Set("limit", strconv.Itoa(pageLimit))
	if !since.IsZero() {
		q.Set("updated_at_min", since.UTC().Format(time.RFC3339))
	}
	next := c.baseURL + "/admin/api/" + apiVersion + "/orders.json?" + q.Encode()

	var out []*models.Order
	for next != "" {
		page, nextURL, err := c.fetchPage(ctx, next)
		if err != nil {
			return nil, err
		}
		for i := range page.Orders {
			out = append(out, toModel(&page.Orders[i]))
		}
		next = nextURL
	}
	return out, nil
}

// OrderByTracking walks orders created within the lookback window and
// matches their fulfillment tracking numbers. The platform has no tracking
// index, so this is a bounded scan, newest first.
func (c *Client) OrderByTracking(ctx context.Context, trackingNumber string, lookback time.Duration) (*models.Order, error) {
	q := url.Values{}
	q.Set("status", "any")
	q.Set("order", "created_at desc")
	q.Set("limit", strconv.Itoa(pageLimit))
	if lookback > 0 {
		q.Set("created_at_min", time.Now().UTC().Add(-lookback).Format(time.RFC3339))
	}
	next := c.baseURL + "/admin/api/" + apiVersion + "/orders.json?" + q.Encode()

	for next != "" {
		page, nextURL, err := c.fetchPage(ctx, next)
		if err != nil {
			return nil, err
		}
		for i := range page.Orders {
			for _, f := range page.Orders[i].Fulfillments {
				if f.TrackingNumber == trackingNumber {
					return toModel(&page.Orders[i]), nil
				}
			}
		}
		next = nextURL
	}
	return nil, nil
}

// OrderByNumber fetches a single order by its display name.
func (c *Client) OrderByNumber(ctx context.Context, orderNumber string) (*models.Order, error) {
	q := url.Values{}
	q.Set("status", "any")
	q.Set("name", orderNumber)
	q.Set("limit", strconv.Itoa(pageLimit))
	pageURL := c.baseURL + "/admin/api/" + apiVersion + "/orders.json?" + q.Encode()

	page, _, err := c.fetchPage(ctx, pageURL)
	if err != nil {
		return nil, err
	}
	for i := range page.Orders {
		// the name filter matches loosely; insist on an exact hit
		if page.Orders[i].Name == orderNumber {
			return toModel(&page.Orders[i]), nil
		}
	}
	return nil, nil
}

func (c *Client) fetchPage(ctx context.Context, pageURL string) (*ordersPage, string, error) {
	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
		if err != nil {
			return nil, "", errors.Wrap(err, "new request")
		}
		req.Header.Set("X-Shopify-Access-Token", c.token)
		req.Header.Set("Accept", "application/json")

		resp, err := c.httpc.Do(req)
		if err != nil {
			lastErr = errors.Wrap(err, "do request")
			c.sleep(backoff(attempt))
			continue
		}

		switch {
		case resp.StatusCode == http.StatusTooManyRequests:
			// the platform tells us how long to wait
			wait := backoff(attempt)
			if ra := resp.Header.Get("Retry-After"); ra != "" {
				if secs, err := strconv.ParseFloat(ra, 64); err == nil {
					wait = time.Duration(secs * float64(time.Second))
				}
			}
			_ = resp.Body.Close()
			lastErr = fmt.Errorf("order source http 429")
			c.sleep(wait)
			continue

		case resp.StatusCode/100 == 5:
			_ = resp.Body.Close()
			lastErr = fmt.Errorf("order source http %d", resp.StatusCode)
			c.sleep(backoff(attempt))
			continue

		case resp.StatusCode/100 != 2:
			_ = resp.Body.Close()
			return nil, "", fmt.Errorf("order source http %d", resp.StatusCode)
		}

		var page ordersPage
		err = json.NewDecoder(resp.Body).Decode(&page)
		next := nextLink(resp.Header.Get("Link"))
		_ = resp.Body.Close()
		if err != nil {
			return nil, "", errors.Wrap(err, "decode orders page")
		}
		return &page, next, nil
	}
	return nil, "", errors.Wrap(lastErr, "order source retries exhausted")
}

func backoff(attempt int) time.Duration {
	d := baseBackoff << uint(attempt)
	if d > maxBackoff {
		d = maxBackoff
	}
	return d
}

// nextLink extracts the rel="next" URL from a Link header.
func nextLink(header string) string {
	for _, part := range strings.Split(header, ",") {
		seg := strings.Split(part, ";")
		if len(seg) < 2 {
			continue
		}
		if !strings.Contains(seg[1], `rel="next"`) {
			continue
		}
		u := strings.TrimSpace(seg[0])
		return strings.Trim(u, "<>")
	}
	return ""
}

func toModel(o *orderJSON) *models.Order {
	out := &models.Order{
		PlatformOrderID:   strconv.FormatInt(o.ID, 10),
		OrderNumber:       o.Name,
		CustomerName:      strings.TrimSpace(o.Customer.FirstName + " " + o.Customer.LastName),
		CustomerEmail:     o.Email,
		CustomerPhone:     o.Phone,
		FinancialStatus:   o.FinancialStatus,
		FulfillmentStatus: o.FulfillmentStatus,
		CancelReason:      o.CancelReason,
	}

	if t, err := time.Parse(time.RFC3339, o.UpdatedAt); err == nil {
		out.SourceUpdatedAt = t.UTC()
	}
	if o.CancelledAt != "" {
		if t, err := time.Parse(time.RFC3339, o.CancelledAt); err == nil {
			at := t.UTC()
			out.CancelledAt = &at
		}
	}

	addr := o.ShippingAddress
	parts := make([]string, 0, 6)
	for _, p := range []string{addr.Address1, addr.Address2, addr.City, addr.Province, addr.Zip, addr.Country} {
		if p != "" {
			parts = append(parts, p)
		}
	}
	out.ShippingAddress = strings.Join(parts, ", ")

	for _, f := range o.Fulfillments {
		if f.TrackingNumber != "" {
			out.TrackingNumber = f.TrackingNumber
			break
		}
	}

	for _, li := range o.LineItems {
		out.LineItems = append(out.LineItems, models.OrderLineItem{
			SKU:      li.SKU,
			Title:    li.Title,
			Quantity: li.Quantity,
			Price:    li.Price,
		})
	}
	return out
}
