// Package dayahead retrieves day-ahead electricity market prices from the
// ENTSO-E transparency platform and turns them into the retail tariff series
// the sizing problem consumes. Scenarios that omit buy/sell tariffs get them
// synthesized from the published wholesale prices plus a configurable markup.
package dayahead

import (
	"encoding/xml"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"
)

// MarketDocument is the subset of an ENTSO-E Publication_MarketDocument the
// tariff synthesis needs: the price curves and their time axes.
type MarketDocument struct {
	XMLName    xml.Name     `xml:"Publication_MarketDocument"`
	MRID       string       `xml:"mRID"`
	Created    string       `xml:"createdDateTime"`
	Interval   TimeInterval `xml:"period.timeInterval"`
	TimeSeries []TimeSeries `xml:"TimeSeries"`
}

// TimeSeries is one price curve, typically one bidding-zone day.
type TimeSeries struct {
	MRID     string `xml:"mRID"`
	Currency string `xml:"currency_Unit.name"`
	Unit     string `xml:"price_Measure_Unit.name"`
	Period   Period `xml:"Period"`
}

// Period carries the points of a curve at a fixed resolution.
type Period struct {
	Interval   TimeInterval
	Resolution time.Duration
	Points     []Point
}

// Point is one published price. Positions are 1-based; with curve type A03
// the platform omits points whose price equals the previous position's.
type Point struct {
	Position int     `xml:"position"`
	Price    float64 `xml:"price.amount"`
}

// TimeInterval is a half-open [Start, End) market time range.
type TimeInterval struct {
	Start time.Time
	End   time.Time
}

func (ti *TimeInterval) UnmarshalXML(d *xml.Decoder, start xml.StartElement) error {
	var aux struct {
		Start string `xml:"start"`
		End   string `xml:"end"`
	}
	if err := d.DecodeElement(&aux, &start); err != nil {
		return err
	}
	var err error
	if ti.Start, err = parseMarketTime(aux.Start); err != nil {
		return fmt.Errorf("interval start: %w", err)
	}
	if ti.End, err = parseMarketTime(aux.End); err != nil {
		return fmt.Errorf("interval end: %w", err)
	}
	return nil
}

func (p *Period) UnmarshalXML(d *xml.Decoder, start xml.StartElement) error {
	var aux struct {
		Interval   TimeInterval `xml:"timeInterval"`
		Resolution string       `xml:"resolution"`
		Points     []Point      `xml:"Point"`
	}
	if err := d.DecodeElement(&aux, &start); err != nil {
		return err
	}
	p.Interval = aux.Interval
	p.Points = aux.Points
	var err error
	if p.Resolution, err = parseResolution(aux.Resolution); err != nil {
		return fmt.Errorf("period resolution: %w", err)
	}
	return nil
}

// parseMarketTime accepts the timestamp shapes ENTSO-E emits: RFC 3339 and
// the minute-precision variants with and without a zone offset.
func parseMarketTime(s string) (time.Time, error) {
	for _, layout := range []string{
		time.RFC3339,
		"2006-01-02T15:04Z",
		"2006-01-02T15:04Z07:00",
	} {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized market time %q", s)
}

// parseResolution parses the ISO 8601 durations the platform uses for curve
// resolutions (PT15M, PT30M, PT60M, P1D).
func parseResolution(s string) (time.Duration, error) {
	orig := s
	if !strings.HasPrefix(s, "P") {
		return 0, fmt.Errorf("invalid resolution %q", orig)
	}
	s = s[1:]
	var total time.Duration
	inTime := false
	parsed := false
	num := ""
	for _, r := range s {
		switch {
		case r >= '0' && r <= '9':
			num += string(r)
		case r == 'T':
			inTime = true
		default:
			if num == "" {
				return 0, fmt.Errorf("invalid resolution %q", orig)
			}
			n, err := strconv.Atoi(num)
			if err != nil {
				return 0, fmt.Errorf("invalid resolution %q: %w", orig, err)
			}
			num = ""
			switch {
			case r == 'D' && !inTime:
				total += time.Duration(n) * 24 * time.Hour
			case r == 'H' && inTime:
				total += time.Duration(n) * time.Hour
			case r == 'M' && inTime:
				total += time.Duration(n) * time.Minute
			case r == 'S' && inTime:
				total += time.Duration(n) * time.Second
			default:
				return 0, fmt.Errorf("unsupported unit %q in resolution %q", r, orig)
			}
			parsed = true
		}
	}
	// A trailing number or a duration with no components at all ("P", "PT")
	// is malformed.
	if num != "" || !parsed {
		return 0, fmt.Errorf("invalid resolution %q", orig)
	}
	return total, nil
}

// DecodeMarketDocument parses a publication document from its XML form.
func DecodeMarketDocument(r io.Reader) (*MarketDocument, error) {
	var doc MarketDocument
	if err := xml.NewDecoder(r).Decode(&doc); err != nil {
		return nil, fmt.Errorf("decoding market document: %w", err)
	}
	return &doc, nil
}

// PriceAt returns the published price covering the given instant, in
// EUR/MWh. Omitted positions repeat the price of the last published point
// before them.
func (doc *MarketDocument) PriceAt(t time.Time) (float64, bool) {
	for _, ts := range doc.TimeSeries {
		if price, ok := ts.Period.priceAt(t); ok {
			return price, true
		}
	}
	return 0, false
}

func (p *Period) priceAt(t time.Time) (float64, bool) {
	if p.Resolution <= 0 || t.Before(p.Interval.Start) || !t.Before(p.Interval.End) {
		return 0, false
	}
	position := int(t.Sub(p.Interval.Start)/p.Resolution) + 1

	var last *Point
	for i := range p.Points {
		point := &p.Points[i]
		if point.Position == position {
			return point.Price, true
		}
		if point.Position > position {
			break
		}
		last = point
	}
	if last != nil {
		return last.Price, true
	}
	return 0, false
}

// HourlyPrices flattens the document into one price per hour over
// [start, start+hours), in EUR/MWh. Sub-hourly curves are averaged per hour.
func (doc *MarketDocument) HourlyPrices(start time.Time, hours int) ([]float64, error) {
	prices := make([]float64, hours)
	for h := 0; h < hours; h++ {
		hourStart := start.Add(time.Duration(h) * time.Hour)
		var sum float64
		var count int
		for quarter := 0; quarter < 4; quarter++ {
			if price, ok := doc.PriceAt(hourStart.Add(time.Duration(quarter) * 15 * time.Minute)); ok {
				sum += price
				count++
			}
		}
		if count == 0 {
			return nil, fmt.Errorf("no published price for hour starting %s", hourStart.Format(time.RFC3339))
		}
		prices[h] = sum / float64(count)
	}
	return prices, nil
}
