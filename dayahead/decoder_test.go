package dayahead

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// A trimmed A44 publication: three hourly points with position 2 omitted
// (curve type A03 leaves out points that repeat the previous price).
const sampleDocument = `<?xml version="1.0" encoding="UTF-8"?>
<Publication_MarketDocument xmlns="urn:iec62325.351:tc57wg16:451-3:publicationdocument:7:3">
  <mRID>doc-1</mRID>
  <createdDateTime>2025-06-20T12:41:33Z</createdDateTime>
  <period.timeInterval>
    <start>2025-06-20T22:00Z</start>
    <end>2025-06-21T22:00Z</end>
  </period.timeInterval>
  <TimeSeries>
    <mRID>1</mRID>
    <currency_Unit.name>EUR</currency_Unit.name>
    <price_Measure_Unit.name>MWH</price_Measure_Unit.name>
    <Period>
      <timeInterval>
        <start>2025-06-20T22:00Z</start>
        <end>2025-06-21T02:00Z</end>
      </timeInterval>
      <resolution>PT60M</resolution>
      <Point>
        <position>1</position>
        <price.amount>90.5</price.amount>
      </Point>
      <Point>
        <position>3</position>
        <price.amount>82.1</price.amount>
      </Point>
      <Point>
        <position>4</position>
        <price.amount>75</price.amount>
      </Point>
    </Period>
  </TimeSeries>
</Publication_MarketDocument>`

func utc(y int, m time.Month, d, hh, mm int) time.Time {
	return time.Date(y, m, d, hh, mm, 0, 0, time.UTC)
}

func TestDecodeMarketDocument(t *testing.T) {
	doc, err := DecodeMarketDocument(strings.NewReader(sampleDocument))
	require.NoError(t, err)

	assert.Equal(t, "doc-1", doc.MRID)
	assert.Equal(t, utc(2025, time.June, 20, 22, 0), doc.Interval.Start)
	require.Len(t, doc.TimeSeries, 1)

	period := doc.TimeSeries[0].Period
	assert.Equal(t, time.Hour, period.Resolution)
	require.Len(t, period.Points, 3)
	assert.Equal(t, 90.5, period.Points[0].Price)
}

func TestDecodeMarketDocumentInvalid(t *testing.T) {
	_, err := DecodeMarketDocument(strings.NewReader("<not-xml"))
	assert.Error(t, err)
}

func TestPriceAt(t *testing.T) {
	doc, err := DecodeMarketDocument(strings.NewReader(sampleDocument))
	require.NoError(t, err)

	cases := []struct {
		name  string
		at    time.Time
		price float64
		found bool
	}{
		{"first hour", utc(2025, time.June, 20, 22, 0), 90.5, true},
		{"inside first hour", utc(2025, time.June, 20, 22, 45), 90.5, true},
		{"omitted position repeats previous", utc(2025, time.June, 20, 23, 30), 90.5, true},
		{"third hour", utc(2025, time.June, 21, 0, 0), 82.1, true},
		{"fourth hour", utc(2025, time.June, 21, 1, 59), 75, true},
		{"before the period", utc(2025, time.June, 20, 21, 59), 0, false},
		{"at the period end", utc(2025, time.June, 21, 2, 0), 0, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			price, found := doc.PriceAt(tc.at)
			assert.Equal(t, tc.found, found)
			assert.Equal(t, tc.price, price)
		})
	}
}

func TestHourlyPrices(t *testing.T) {
	doc, err := DecodeMarketDocument(strings.NewReader(sampleDocument))
	require.NoError(t, err)

	prices, err := doc.HourlyPrices(utc(2025, time.June, 20, 22, 0), 4)
	require.NoError(t, err)
	assert.Equal(t, []float64{90.5, 90.5, 82.1, 75}, prices)

	_, err = doc.HourlyPrices(utc(2025, time.June, 20, 22, 0), 5)
	assert.Error(t, err)
}

func TestParseResolution(t *testing.T) {
	cases := []struct {
		in   string
		want time.Duration
		ok   bool
	}{
		{"PT15M", 15 * time.Minute, true},
		{"PT30M", 30 * time.Minute, true},
		{"PT60M", time.Hour, true},
		{"PT1H", time.Hour, true},
		{"P1D", 24 * time.Hour, true},
		{"P1DT1H", 25 * time.Hour, true},
		{"60M", 0, false},
		{"P", 0, false},
		{"PT", 0, false},
		{"PTM", 0, false},
		{"PT15", 0, false},
	}
	for _, tc := range cases {
		t.Run(tc.in, func(t *testing.T) {
			got, err := parseResolution(tc.in)
			if !tc.ok {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestTariffSeries(t *testing.T) {
	tf := Tariff{BuyMarkup: 0.12, SellMargin: 0.01}
	hourly := []float64{90, 100, 110, -5}

	buy, err := tf.BuySeries(hourly, 1)
	require.NoError(t, err)
	require.Len(t, buy, 4)
	assert.InDelta(t, 0.21, buy[0], 1e-12)
	assert.InDelta(t, 0.22, buy[1], 1e-12)
	assert.InDelta(t, 0.115, buy[3], 1e-12)

	sell, err := tf.SellSeries(hourly, 1)
	require.NoError(t, err)
	assert.InDelta(t, 0.08, sell[0], 1e-12)
	// Negative wholesale prices clip the sell tariff at zero.
	assert.Equal(t, 0.0, sell[3])
}

func TestTariffResampling(t *testing.T) {
	tf := Tariff{}
	hourly := []float64{10, 20, 30, 40}

	halfHourly, err := tf.BuySeries(hourly, 0.5)
	require.NoError(t, err)
	require.Len(t, halfHourly, 8)
	assert.InDelta(t, 0.01, halfHourly[0], 1e-12)
	assert.InDelta(t, 0.01, halfHourly[1], 1e-12)
	assert.InDelta(t, 0.02, halfHourly[2], 1e-12)

	twoHourly, err := tf.BuySeries(hourly, 2)
	require.NoError(t, err)
	assert.InDelta(t, 0.015, twoHourly[0], 1e-12)
	assert.InDelta(t, 0.035, twoHourly[1], 1e-12)

	_, err = tf.BuySeries(hourly, 0)
	assert.Error(t, err)
	_, err = tf.BuySeries(hourly, 3)
	assert.Error(t, err)
}
