package canadaposthttp

import (
	"context"
	"encoding/xml"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/hemlockoak/parcelscan/internal/integrations/carrier"
	"github.com/hemlockoak/parcelscan/internal/models"
)

type Client struct {
	baseURL  string
	username string
	password string
	httpc    *http.Client
}

func New(baseURL, username, password string, timeout time.Duration) *Client {
	if baseURL == "" {
		baseURL = "https://soa-gw.canadapost.ca"
	}
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Client{
		baseURL:  baseURL,
		username: username,
		password: password,
		httpc: &http.Client{
			Timeout: timeout,
		},
	}
}

type trackSummary struct {
	XMLName    xml.Name `xml:"tracking-summary"`
	PinSummary struct {
		Pin                  string `xml:"pin"`
		EventDescription     string `xml:"event-description"`
		EventType            string `xml:"event-type"`
		EventDateTime        string `xml:"event-date-time"`
		EventLocation        string `xml:"event-location"`
		ExpectedDeliveryDate string `xml:"expected-delivery-date"`
		ActualDeliveryDate   string `xml:"actual-delivery-date"`
	} `xml:"pin-summary"`
}

// Event type prefixes from the Canada Post tracking summary.
func normalizeStatus(eventType, actualDelivery string) (string, bool) {
	if actualDelivery != "" {
		return models.TrackingStatusDelivered, true
	}
	switch {
	case strings.HasPrefix(eventType, "DELIVERED"):
		return models.TrackingStatusDelivered, true
	case strings.HasPrefix(eventType, "INDUCTION"):
		return models.TrackingStatusLabelCreated, false
	case strings.HasPrefix(eventType, "ATTEMPTED"), strings.HasPrefix(eventType, "RETURN"):
		return models.TrackingStatusException, false
	case eventType == "":
		return models.TrackingStatusUnknown, false
	default:
		return models.TrackingStatusInTransit, false
	}
}

func (c *Client) Track(ctx context.Context, trackingNumber string) (carrier.Result, error) {
	u := c.baseURL + "/vis/track/pin/" + url.PathEscape(trackingNumber) + "/summary"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return carrier.Result{}, errors.Wrap(err, "new request")
	}
	req.SetBasicAuth(c.username, c.password)
	req.Header.Set("Accept", "application/vnd.cpc.track-v2+xml")

	resp, err := c.httpc.Do(req)
	if err != nil {
		return carrier.Result{}, errors.Wrap(err, "do request")
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return carrier.Result{}, carrier.ErrNotFound
	}
	if resp.StatusCode/100 != 2 {
		return carrier.Result{}, fmt.Errorf("canada post track http %d", resp.StatusCode)
	}

	var ts trackSummary
	if err := xml.NewDecoder(resp.Body).Decode(&ts); err != nil {
		return carrier.Result{}, errors.Wrap(err, "decode")
	}
	if ts.PinSummary.Pin == "" {
		return carrier.Result{}, carrier.ErrNotFound
	}

	status, delivered := normalizeStatus(ts.PinSummary.EventType, ts.PinSummary.ActualDeliveryDate)
	out := carrier.Result{
		Status:        status,
		StatusText:    ts.PinSummary.EventDescription,
		RawStatusCode: ts.PinSummary.EventType,
		Delivered:     delivered,
		LastLocation:  ts.PinSummary.EventLocation,
	}

	if d := ts.PinSummary.ExpectedDeliveryDate; d != "" {
		if t, err := time.Parse("2006-01-02", d); err == nil {
			est := t.UTC()
			out.EstimatedDelivery = &est
		}
	}

	return out, nil
}
