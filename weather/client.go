// Package weather fetches cloud-cover forecasts from the MET Norway
// Location Forecast API. Synthesized clear-sky generation profiles are
// optimistic; derating them by the forecast cloud cover gives the sizing
// problem a more honest picture of near-term photovoltaic output.
package weather

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

// DefaultBaseURL is the MET Norway Location Forecast endpoint. The API
// requires an identifying User-Agent.
const DefaultBaseURL = "https://api.met.no/weatherapi/locationforecast/2.0"

// CloudSample is the forecast total cloud cover at one instant, as a
// fraction in [0, 1].
type CloudSample struct {
	Time     time.Time
	Fraction float64
}

// APIError is a non-200 response from the forecast API.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("forecast API error %d: %s", e.StatusCode, e.Message)
}

// Client queries the Location Forecast API.
type Client struct {
	httpClient *http.Client
	baseURL    string
	userAgent  string
}

// NewClient creates a forecast client. The userAgent must identify the
// application per the MET terms of service.
func NewClient(userAgent string) *Client {
	return &Client{
		httpClient: &http.Client{Timeout: 30 * time.Second},
		baseURL:    DefaultBaseURL,
		userAgent:  userAgent,
	}
}

// SetBaseURL overrides the API endpoint, mainly for tests.
func (c *Client) SetBaseURL(baseURL string) {
	c.baseURL = baseURL
}

// compact is the subset of the MET JSON forecast the derating needs.
type compact struct {
	Properties struct {
		Timeseries []struct {
			Time time.Time `json:"time"`
			Data struct {
				Instant struct {
					Details struct {
						// Total cloud cover in percent.
						CloudAreaFraction *float64 `json:"cloud_area_fraction"`
					} `json:"details"`
				} `json:"instant"`
			} `json:"data"`
		} `json:"timeseries"`
	} `json:"properties"`
}

// CloudCover fetches the cloud-cover forecast for a location. Timesteps
// without a published cloud fraction are skipped.
func (c *Client) CloudCover(ctx context.Context, lat, lon float64) ([]CloudSample, error) {
	if lat < -90 || lat > 90 {
		return nil, fmt.Errorf("latitude must be between -90 and 90, got %f", lat)
	}
	if lon < -180 || lon > 180 {
		return nil, fmt.Errorf("longitude must be between -180 and 180, got %f", lon)
	}

	reqURL, err := url.Parse(c.baseURL + "/compact")
	if err != nil {
		return nil, fmt.Errorf("building forecast URL: %w", err)
	}
	q := reqURL.Query()
	q.Set("lat", strconv.FormatFloat(lat, 'f', 4, 64))
	q.Set("lon", strconv.FormatFloat(lon, 'f', 4, 64))
	reqURL.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("creating forecast request: %w", err)
	}
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching forecast: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, &APIError{StatusCode: resp.StatusCode, Message: string(body)}
	}

	var doc compact
	if err := json.NewDecoder(resp.Body).Decode(&doc); err != nil {
		return nil, fmt.Errorf("decoding forecast: %w", err)
	}

	var samples []CloudSample
	for _, step := range doc.Properties.Timeseries {
		cc := step.Data.Instant.Details.CloudAreaFraction
		if cc == nil {
			continue
		}
		samples = append(samples, CloudSample{Time: step.Time, Fraction: *cc / 100})
	}
	return samples, nil
}
