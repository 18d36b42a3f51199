package dayahead

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClientPrices(t *testing.T) {
	var gotQuery map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = map[string]string{
			"securityToken": r.URL.Query().Get("securityToken"),
			"documentType":  r.URL.Query().Get("documentType"),
			"in_Domain":     r.URL.Query().Get("in_Domain"),
			"periodStart":   r.URL.Query().Get("periodStart"),
			"periodEnd":     r.URL.Query().Get("periodEnd"),
		}
		w.Header().Set("Content-Type", "application/xml")
		_, _ = w.Write([]byte(sampleDocument))
	}))
	defer srv.Close()

	c := NewClient("secret", "10YLV-1001A00074")
	c.BaseURL = srv.URL

	doc, err := c.Prices(context.Background(),
		utc(2025, time.June, 20, 22, 0), utc(2025, time.June, 21, 22, 0))
	require.NoError(t, err)
	assert.Equal(t, "doc-1", doc.MRID)

	assert.Equal(t, "secret", gotQuery["securityToken"])
	assert.Equal(t, "A44", gotQuery["documentType"])
	assert.Equal(t, "10YLV-1001A00074", gotQuery["in_Domain"])
	assert.Equal(t, "202506202200", gotQuery["periodStart"])
	assert.Equal(t, "202506212200", gotQuery["periodEnd"])
}

func TestClientPricesHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
	}))
	defer srv.Close()

	c := NewClient("bad", "10YLV-1001A00074")
	c.BaseURL = srv.URL

	_, err := c.Prices(context.Background(), utc(2025, time.June, 20, 22, 0), utc(2025, time.June, 21, 22, 0))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "401")
}

func TestClientHorizonPrices(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/xml")
		_, _ = w.Write([]byte(fullDayDocument))
	}))
	defer srv.Close()

	c := NewClient("secret", "10YLV-1001A00074")
	c.BaseURL = srv.URL

	prices, err := c.HorizonPrices(context.Background(), utc(2025, time.June, 21, 10, 30), 1)
	require.NoError(t, err)
	require.Len(t, prices, 24)
	assert.Equal(t, 50.0, prices[0])
	assert.Equal(t, 50.0, prices[23])

	_, err = c.HorizonPrices(context.Background(), utc(2025, time.June, 21, 0, 0), 0)
	assert.Error(t, err)
}

// fullDayDocument publishes a flat 50 EUR/MWh price for the whole of
// 2025-06-21 UTC.
const fullDayDocument = `<?xml version="1.0" encoding="UTF-8"?>
<Publication_MarketDocument xmlns="urn:iec62325.351:tc57wg16:451-3:publicationdocument:7:3">
  <mRID>doc-flat</mRID>
  <period.timeInterval>
    <start>2025-06-21T00:00Z</start>
    <end>2025-06-22T00:00Z</end>
  </period.timeInterval>
  <TimeSeries>
    <mRID>1</mRID>
    <currency_Unit.name>EUR</currency_Unit.name>
    <price_Measure_Unit.name>MWH</price_Measure_Unit.name>
    <Period>
      <timeInterval>
        <start>2025-06-21T00:00Z</start>
        <end>2025-06-22T00:00Z</end>
      </timeInterval>
      <resolution>PT60M</resolution>
      <Point>
        <position>1</position>
        <price.amount>50</price.amount>
      </Point>
    </Period>
  </TimeSeries>
</Publication_MarketDocument>`
