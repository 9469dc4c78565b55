package klaviyohttp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/pkg/errors"

	"github.com/hemlockoak/parcelscan/internal/integrations/notify"
)

const (
	apiRevision = "2024-02-15"

	maxAttempts = 4
	baseBackoff = time.Second
	maxBackoff  = 8 * time.Second
)

type Client struct {
	baseURL string
	apiKey  string
	metric  string
	httpc   *http.Client

	sleep func(time.Duration)
}

func New(baseURL, apiKey, metricName string, timeout time.Duration) *Client {
	if baseURL == "" {
		baseURL = "https://a.klaviyo.com"
	}
	if metricName == "" {
		metricName = "Order Shipped"
	}
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Client{
		baseURL: baseURL,
		apiKey:  apiKey,
		metric:  metricName,
		httpc: &http.Client{
			Timeout: timeout,
		},
		sleep: time.Sleep,
	}
}

func (c *Client) SendShipped(ctx context.Context, sh notify.Shipment) error {
	items := make([]map[string]any, 0, len(sh.LineItems))
	for _, li := range sh.LineItems {
		items = append(items, map[string]any{
			"sku":      li.SKU,
			"title":    li.Title,
			"quantity": li.Quantity,
			"price":    li.Price,
		})
	}

	payload := map[string]any{
		"data": map[string]any{
			"type": "event",
			"attributes": map[string]any{
				"properties": map[string]any{
					"order_number":    sh.OrderNumber,
					"tracking_number": sh.TrackingNumber,
					"carrier":         sh.Carrier,
					"batch_name":      sh.BatchName,
					"items":           items,
				},
				"metric": map[string]any{
					"data": map[string]any{
						"type": "metric",
						"attributes": map[string]any{
							"name": c.metric,
						},
					},
				},
				"profile": map[string]any{
					"data": map[string]any{
						"type": "profile",
						"attributes": map[string]any{
							"email":      sh.CustomerEmail,
							"first_name": sh.CustomerName,
						},
					},
				},
			},
		},
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return errors.Wrap(err, "marshal event")
	}
	return c.post(ctx, c.baseURL+"/api/events/", body)
}

func (c *Client) post(ctx context.Context, url string, body []byte) error {
	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
		if err != nil {
			return errors.Wrap(err, "new request")
		}
		req.Header.Set("Authorization", "Klaviyo-API-Key "+c.apiKey)
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("revision", apiRevision)

		resp, err := c.httpc.Do(req)
		if err != nil {
			lastErr = errors.Wrap(err, "do request")
			c.sleep(backoff(attempt))
			continue
		}
		_ = resp.Body.Close()

		switch {
		case resp.StatusCode == http.StatusTooManyRequests:
			// the platform tells us how long to wait
			wait := backoff(attempt)
			if ra := resp.Header.Get("Retry-After"); ra != "" {
				if secs, err := strconv.ParseFloat(ra, 64); err == nil {
					wait = time.Duration(secs * float64(time.Second))
				}
			}
			lastErr = fmt.Errorf("klaviyo http 429")
			c.sleep(wait)

		case resp.StatusCode/100 == 5:
			lastErr = fmt.Errorf("klaviyo http %d", resp.StatusCode)
			c.sleep(backoff(attempt))

		case resp.StatusCode/100 != 2:
			return fmt.Errorf("klaviyo http %d", resp.StatusCode)

		default:
			return nil
		}
	}
	return errors.Wrap(lastErr, "klaviyo retries exhausted")
}

func backoff(attempt int) time.Duration {
	d := baseBackoff << uint(attempt)
	if d > maxBackoff {
		d = maxBackoff
	}
	return d
}
