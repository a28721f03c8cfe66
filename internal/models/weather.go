package models

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Snapshot is one parsed weather service response. It is immutable once
// parsed; a refresh replaces it rather than mutating it.
//
// Nested accessors never return nil: a missing ancestor anywhere on the path
// yields an empty value. Scalar accessors return nil when the raw field is
// absent and an error when it is present but unparsable.
type Snapshot struct {
	Query *Query `json:"query"`

	zones *ZoneRegistry
}

// Query is the response envelope.
type Query struct {
	Count       *int     `json:"count"`
	RawCreated  *string  `json:"created"`
	RawLanguage *string  `json:"lang"`
	Results     *Results `json:"results"`
}

// Results is null when the service found nothing for the query.
type Results struct {
	Channel *Channel `json:"channel"`
}

// Channel groups the per-location payload.
type Channel struct {
	Units      *Units      `json:"units"`
	Location   *Location   `json:"location"`
	Astronomy  *Astronomy  `json:"astronomy"`
	Atmosphere *Atmosphere `json:"atmosphere"`
	Wind       *Wind       `json:"wind"`
	Item       *Item       `json:"item"`
}

// Item holds coordinates, the current condition and the forecast days.
type Item struct {
	RawLatitude        *string    `json:"lat"`
	RawLongitude       *string    `json:"long"`
	RawPublicationDate *string    `json:"pubDate"`
	Condition          *Condition `json:"condition"`
	Forecasts          []Forecast `json:"forecast"`
}

// Atmosphere readings.
type Atmosphere struct {
	RawHumidity   *string `json:"humidity"`
	RawPressure   *string `json:"pressure"`
	RawRising     *string `json:"rising"`
	RawVisibility *string `json:"visibility"`
}

func (a Atmosphere) Humidity() (*decimal.Decimal, error)   { return parseDecimal(a.RawHumidity) }
func (a Atmosphere) Pressure() (*decimal.Decimal, error)   { return parseDecimal(a.RawPressure) }
func (a Atmosphere) Rising() (*decimal.Decimal, error)     { return parseDecimal(a.RawRising) }
func (a Atmosphere) Visibility() (*decimal.Decimal, error) { return parseDecimal(a.RawVisibility) }

// PressureInHPa is the pressure normalized by PressureInHPa.
func (a Atmosphere) PressureInHPa() (*decimal.Decimal, error) {
	p, err := a.Pressure()
	if p == nil || err != nil {
		return nil, err
	}
	hpa := PressureInHPa(*p)
	return &hpa, nil
}

// Wind readings.
type Wind struct {
	RawChill     *string `json:"chill"`
	RawSpeed     *string `json:"speed"`
	RawDirection *string `json:"direction"`
}

func (w Wind) Chill() (*decimal.Decimal, error)     { return parseDecimal(w.RawChill) }
func (w Wind) Speed() (*decimal.Decimal, error)     { return parseDecimal(w.RawSpeed) }
func (w Wind) Direction() (*decimal.Decimal, error) { return parseDecimal(w.RawDirection) }

// ChillInCelsius is the wind chill converted by ChillInCelsius.
func (w Wind) ChillInCelsius() (*decimal.Decimal, error) {
	c, err := w.Chill()
	if c == nil || err != nil {
		return nil, err
	}
	celsius := ChillInCelsius(*c)
	return &celsius, nil
}

// Astronomy holds sunrise and sunset as "h:mm am/pm" text.
type Astronomy struct {
	RawSunrise *string `json:"sunrise"`
	RawSunset  *string `json:"sunset"`
}

func (a Astronomy) Sunrise() (*TimeOfDay, error) { return parseTimeOfDay(a.RawSunrise) }
func (a Astronomy) Sunset() (*TimeOfDay, error)  { return parseTimeOfDay(a.RawSunset) }

// Location names. The upstream pads region with a leading space.
type Location struct {
	RawCity    *string `json:"city"`
	RawCountry *string `json:"country"`
	RawRegion  *string `json:"region"`
}

func (l Location) City() *string    { return l.RawCity }
func (l Location) Country() *string { return l.RawCountry }

// Region is the raw region with surrounding whitespace removed.
func (l Location) Region() *string {
	if l.RawRegion == nil {
		return nil
	}
	r := strings.TrimSpace(*l.RawRegion)
	return &r
}

// Units in which the service claims to report.
type Units struct {
	RawDistance    *string `json:"distance"`
	RawPressure    *string `json:"pressure"`
	RawSpeed       *string `json:"speed"`
	RawTemperature *string `json:"temperature"`
}

func (u Units) Distance() *string    { return u.RawDistance }
func (u Units) Pressure() *string    { return u.RawPressure }
func (u Units) Speed() *string       { return u.RawSpeed }
func (u Units) Temperature() *string { return u.RawTemperature }

// Condition is the current weather condition.
type Condition struct {
	RawCode        *string `json:"code"`
	RawDate        *string `json:"date"`
	RawTemperature *string `json:"temp"`
	RawText        *string `json:"text"`

	zones *ZoneRegistry
}

func (c Condition) Code() (*decimal.Decimal, error)        { return parseDecimal(c.RawCode) }
func (c Condition) Temperature() (*decimal.Decimal, error) { return parseDecimal(c.RawTemperature) }
func (c Condition) Text() *string                          { return c.RawText }

// Date parses the zone-qualified observation date.
func (c Condition) Date() (*time.Time, error) { return parseZonedDate(c.RawDate, c.zones) }

// Forecast is one forecast day.
type Forecast struct {
	RawCode            *string `json:"code"`
	RawDate            *string `json:"date"`
	RawDay             *string `json:"day"`
	RawLowTemperature  *string `json:"low"`
	RawHighTemperature *string `json:"high"`
	RawText            *string `json:"text"`
}

func (f Forecast) Code() (*decimal.Decimal, error)            { return parseDecimal(f.RawCode) }
func (f Forecast) Date() (*time.Time, error)                  { return parseForecastDate(f.RawDate) }
func (f Forecast) Day() *string                               { return f.RawDay }
func (f Forecast) LowTemperature() (*decimal.Decimal, error)  { return parseDecimal(f.RawLowTemperature) }
func (f Forecast) HighTemperature() (*decimal.Decimal, error) { return parseDecimal(f.RawHighTemperature) }
func (f Forecast) Text() *string                              { return f.RawText }

// HasResults reports whether the service returned a result set. A nil
// snapshot has none.
func (s *Snapshot) HasResults() bool {
	return s != nil && s.Query != nil && s.Query.Results != nil
}

func (s *Snapshot) channel() *Channel {
	if !s.HasResults() {
		return nil
	}
	return s.Query.Results.Channel
}

func (s *Snapshot) item() *Item {
	if c := s.channel(); c != nil {
		return c.Item
	}
	return nil
}

func (s *Snapshot) Created() (*time.Time, error) {
	if s == nil || s.Query == nil {
		return nil, nil
	}
	return parseISODateTime(s.Query.RawCreated)
}

func (s *Snapshot) Language() *string {
	if s == nil || s.Query == nil {
		return nil
	}
	return s.Query.RawLanguage
}

func (s *Snapshot) Atmosphere() Atmosphere {
	if c := s.channel(); c != nil && c.Atmosphere != nil {
		return *c.Atmosphere
	}
	return Atmosphere{}
}

func (s *Snapshot) Wind() Wind {
	if c := s.channel(); c != nil && c.Wind != nil {
		return *c.Wind
	}
	return Wind{}
}

func (s *Snapshot) Astronomy() Astronomy {
	if c := s.channel(); c != nil && c.Astronomy != nil {
		return *c.Astronomy
	}
	return Astronomy{}
}

func (s *Snapshot) Location() Location {
	if c := s.channel(); c != nil && c.Location != nil {
		return *c.Location
	}
	return Location{}
}

func (s *Snapshot) Units() Units {
	if c := s.channel(); c != nil && c.Units != nil {
		return *c.Units
	}
	return Units{}
}

func (s *Snapshot) Latitude() (*decimal.Decimal, error) {
	if it := s.item(); it != nil {
		return parseDecimal(it.RawLatitude)
	}
	return nil, nil
}

func (s *Snapshot) Longitude() (*decimal.Decimal, error) {
	if it := s.item(); it != nil {
		return parseDecimal(it.RawLongitude)
	}
	return nil, nil
}

func (s *Snapshot) PublicationDate() (*time.Time, error) {
	if it := s.item(); it != nil {
		return parseZonedDate(it.RawPublicationDate, s.zones)
	}
	return nil, nil
}

func (s *Snapshot) Condition() Condition {
	var c Condition
	if it := s.item(); it != nil && it.Condition != nil {
		c = *it.Condition
	}
	if s != nil {
		c.zones = s.zones
	}
	return c
}

// Forecasts returns the forecast days in upstream order. The result is empty,
// never nil, when the response carries none.
func (s *Snapshot) Forecasts() []Forecast {
	it := s.item()
	if it == nil {
		return []Forecast{}
	}
	out := make([]Forecast, len(it.Forecasts))
	copy(out, it.Forecasts)
	return out
}

// Forecast returns the forecast for day (1-based), or false when out of range.
func (s *Snapshot) Forecast(day int) (Forecast, bool) {
	it := s.item()
	if it == nil || day < 1 || day > len(it.Forecasts) {
		return Forecast{}, false
	}
	return it.Forecasts[day-1], true
}
