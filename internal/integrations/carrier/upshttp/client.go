package upshttp

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/hemlockoak/parcelscan/internal/integrations/carrier"
	"github.com/hemlockoak/parcelscan/internal/models"
)

// Activity status type codes from the UPS Track API.
var statusByType = map[string]string{
	"D": models.TrackingStatusDelivered,
	"I": models.TrackingStatusInTransit,
	"P": models.TrackingStatusInTransit,
	"M": models.TrackingStatusLabelCreated,
	"X": models.TrackingStatusException,
}

// Status codes UPS uses for a completed delivery. Some delivered activities
// arrive typed "I", so the code list is checked as well.
var deliveredCodes = map[string]bool{
	"011": true,
	"KB":  true,
	"KM":  true,
}

type Client struct {
	baseURL      string
	clientID     string
	clientSecret string
	httpc        *http.Client

	mu          sync.Mutex
	accessToken string
	tokenExp    time.Time
}

func New(baseURL, clientID, clientSecret string, timeout time.Duration) *Client {
	if baseURL == "" {
		baseURL = "https://onlinetools.ups.com"
	}
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Client{
		baseURL:      baseURL,
		clientID:     clientID,
		clientSecret: clientSecret,
		httpc: &http.Client{
			Timeout: timeout,
		},
	}
}

type tokenResp struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   string `json:"expires_in"`
}

func (c *Client) token(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.accessToken != "" && time.Now().Before(c.tokenExp) {
		return c.accessToken, nil
	}

	form := url.Values{}
	form.Set("grant_type", "client_credentials")

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/security/v1/oauth/token", strings.NewReader(form.Encode()))
	if err != nil {
		return "", errors.Wrap(err, "new token request")
	}
	req.SetBasicAuth(c.clientID, c.clientSecret)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpc.Do(req)
	if err != nil {
		return "", errors.Wrap(err, "do token request")
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		return "", fmt.Errorf("ups oauth http %d", resp.StatusCode)
	}

	var tr tokenResp
	if err := json.NewDecoder(resp.Body).Decode(&tr); err != nil {
		return "", errors.Wrap(err, "decode token")
	}
	if tr.AccessToken == "" {
		return "", errors.New("ups oauth: empty access token")
	}

	ttl := 3500 * time.Second
	if secs, err := time.ParseDuration(tr.ExpiresIn + "s"); err == nil && secs > time.Minute {
		ttl = secs - 30*time.Second
	}
	c.accessToken = tr.AccessToken
	c.tokenExp = time.Now().Add(ttl)
	return c.accessToken, nil
}

type trackResp struct {
	TrackResponse struct {
		Shipment []struct {
			Package []struct {
				Activity []struct {
					Status struct {
						Type        string `json:"type"`
						Description string `json:"description"`
						Code        string `json:"code"`
					} `json:"status"`
					Location struct {
						Address struct {
							City          string `json:"city"`
							StateProvince string `json:"stateProvince"`
							CountryCode   string `json:"countryCode"`
						} `json:"address"`
					} `json:"location"`
				} `json:"activity"`
				DeliveryDate []struct {
					Type string `json:"type"`
					Date string `json:"date"`
				} `json:"deliveryDate"`
			} `json:"package"`
		} `json:"shipment"`
	} `json:"trackResponse"`
}

func (c *Client) Track(ctx context.Context, trackingNumber string) (carrier.Result, error) {
	tok, err := c.token(ctx)
	if err != nil {
		return carrier.Result{}, err
	}

	u := c.baseURL + "/api/track/v1/details/" + url.PathEscape(trackingNumber)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return carrier.Result{}, errors.Wrap(err, "new request")
	}
	req.Header.Set("Authorization", "Bearer "+tok)
	req.Header.Set("transId", trackingNumber)
	req.Header.Set("transactionSrc", "parcelscan")

	resp, err := c.httpc.Do(req)
	if err != nil {
		return carrier.Result{}, errors.Wrap(err, "do request")
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return carrier.Result{}, carrier.ErrNotFound
	}
	if resp.StatusCode/100 != 2 {
		return carrier.Result{}, fmt.Errorf("ups track http %d", resp.StatusCode)
	}

	var tr trackResp
	if err := json.NewDecoder(resp.Body).Decode(&tr); err != nil {
		return carrier.Result{}, errors.Wrap(err, "decode")
	}

	if len(tr.TrackResponse.Shipment) == 0 || len(tr.TrackResponse.Shipment[0].Package) == 0 {
		return carrier.Result{}, carrier.ErrNotFound
	}
	pkg := tr.TrackResponse.Shipment[0].Package[0]
	if len(pkg.Activity) == 0 {
		return carrier.Result{
			Status: models.TrackingStatusLabelCreated,
		}, nil
	}

	// Latest activity first in the UPS response.
	act := pkg.Activity[0]
	out := carrier.Result{
		Status:        models.TrackingStatusUnknown,
		StatusText:    act.Status.Description,
		RawStatusCode: act.Status.Code,
	}
	if st, ok := statusByType[act.Status.Type]; ok {
		out.Status = st
	}
	if deliveredCodes[act.Status.Code] || out.Status == models.TrackingStatusDelivered {
		out.Status = models.TrackingStatusDelivered
		out.Delivered = true
	}

	if addr := act.Location.Address; addr.City != "" {
		loc := addr.City
		if addr.StateProvince != "" {
			loc += ", " + addr.StateProvince
		}
		if addr.CountryCode != "" {
			loc += ", " + addr.CountryCode
		}
		out.LastLocation = loc
	}

	for _, dd := range pkg.DeliveryDate {
		if dd.Type != "SDD" && dd.Type != "RDD" && dd.Type != "DEL" {
			continue
		}
		if t, err := time.Parse("20060102", dd.Date); err == nil {
			est := t.UTC()
			out.EstimatedDelivery = &est
			break
		}
	}

	return out, nil
}
