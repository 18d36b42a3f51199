package dayahead

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"
)

// DefaultBaseURL is the ENTSO-E transparency platform REST endpoint.
const DefaultBaseURL = "https://web-api.tp.entsoe.eu/api"

// Client downloads day-ahead price publications for one bidding zone.
type Client struct {
	// Token is the transparency platform security token.
	Token string
	// Area is the EIC code of the bidding zone, e.g. 10YLV-1001A00074.
	Area string
	// BaseURL overrides DefaultBaseURL, mainly for tests.
	BaseURL string
	// HTTPClient overrides the default client with its 30 s timeout.
	HTTPClient *http.Client

	userAgent string
}

// NewClient creates a client for the given token and bidding zone.
func NewClient(token, area string) *Client {
	return &Client{
		Token:     token,
		Area:      area,
		userAgent: "rec-sizing/1.0",
	}
}

// Prices downloads the day-ahead publication covering [start, end) in
// market time.
func (c *Client) Prices(ctx context.Context, start, end time.Time) (*MarketDocument, error) {
	httpClient := c.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.buildURL(start, end), nil)
	if err != nil {
		return nil, fmt.Errorf("creating price request: %w", err)
	}
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Accept", "application/xml, text/xml")

	resp, err := httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("downloading day-ahead prices: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("day-ahead price request failed: %s", resp.Status)
	}
	return DecodeMarketDocument(resp.Body)
}

// HorizonPrices downloads and flattens hourly prices for nrDays consecutive
// days starting at midnight of the given day, in EUR/MWh.
func (c *Client) HorizonPrices(ctx context.Context, day time.Time, nrDays int) ([]float64, error) {
	if nrDays < 1 {
		return nil, fmt.Errorf("nr_days must be at least 1, got %d", nrDays)
	}
	start := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, time.UTC)
	end := start.AddDate(0, 0, nrDays)

	doc, err := c.Prices(ctx, start, end)
	if err != nil {
		return nil, err
	}
	return doc.HourlyPrices(start, nrDays*24)
}

func (c *Client) buildURL(start, end time.Time) string {
	base := c.BaseURL
	if base == "" {
		base = DefaultBaseURL
	}
	// documentType A44 is the day-ahead price publication.
	q := url.Values{}
	q.Set("securityToken", c.Token)
	q.Set("documentType", "A44")
	q.Set("in_Domain", c.Area)
	q.Set("out_Domain", c.Area)
	q.Set("periodStart", marketTimestamp(start))
	q.Set("periodEnd", marketTimestamp(end))
	return base + "?" + q.Encode()
}

// marketTimestamp formats a time for the API's period parameters,
// YYYYMMDDHHmm in UTC.
func marketTimestamp(t time.Time) string {
	return t.UTC().Format("200601021504")
}
