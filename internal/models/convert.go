package models

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

var (
	// ErrNotANumber is returned when a numeric field is present but unparsable.
	ErrNotANumber = errors.New("not a number")
	// ErrNotADate is returned when a date or time field is present but unparsable.
	ErrNotADate = errors.New("not a date")
)

const (
	timeOfDayLayout    = "3:4 PM"
	zonedDateLayout    = "Mon, 2 Jan 2006 3:4 PM"
	forecastDateLayout = "2 Jan 2006"
)

var (
	// The upstream reports inches of mercury (times 1000) while labelling the
	// value as millibars. Plausible hPa readings stay well below this bound.
	misreportedPressureBound = decimal.NewFromInt(10000)
	inHgToHPaDivisor         = decimal.RequireFromString("0.3386388158")

	fahrenheitOffset = decimal.NewFromInt(32)
	five             = decimal.NewFromInt(5)
	nine             = decimal.NewFromInt(9)
)

// PressureInHPa normalizes a raw pressure reading. Values above 10000 are
// converted from the misreported unit and truncated to two decimals; anything
// else passes through unchanged.
func PressureInHPa(raw decimal.Decimal) decimal.Decimal {
	if !raw.GreaterThan(misreportedPressureBound) {
		return raw
	}
	return raw.Div(inHgToHPaDivisor).Truncate(0).Shift(-2)
}

// ChillInCelsius converts a wind chill that the upstream labels Celsius but
// actually reports in Fahrenheit. The result is truncated to two decimals.
func ChillInCelsius(raw decimal.Decimal) decimal.Decimal {
	return raw.Sub(fahrenheitOffset).Mul(five).Div(nine).Shift(2).Truncate(0).Shift(-2)
}

// TimeOfDay is a wall-clock time without date or zone.
type TimeOfDay struct {
	Hour   int
	Minute int
}

// On places t on the calendar day of day, in loc.
func (t TimeOfDay) On(day time.Time, loc *time.Location) time.Time {
	day = day.In(loc)
	return time.Date(day.Year(), day.Month(), day.Day(), t.Hour, t.Minute, 0, 0, loc)
}

func (t TimeOfDay) String() string {
	return fmt.Sprintf("%02d:%02d", t.Hour, t.Minute)
}

// parseDecimal converts an optional raw number. nil in, nil out.
func parseDecimal(raw *string) (*decimal.Decimal, error) {
	if raw == nil {
		return nil, nil
	}
	d, err := decimal.NewFromString(*raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %q", ErrNotANumber, *raw)
	}
	return &d, nil
}

// ParseTimeOfDay parses 12-hour clock values such as "7:36 am" or "6:6 pm".
func ParseTimeOfDay(s string) (TimeOfDay, error) {
	t, err := time.Parse(timeOfDayLayout, strings.ToUpper(strings.TrimSpace(s)))
	if err != nil {
		return TimeOfDay{}, fmt.Errorf("%w: %q", ErrNotADate, s)
	}
	return TimeOfDay{Hour: t.Hour(), Minute: t.Minute()}, nil
}

// ParseZonedDate parses "Tue, 17 Oct 2017 11:00 AM CEST". The trailing
// abbreviation must be known to zones.
func ParseZonedDate(s string, zones *ZoneRegistry) (time.Time, error) {
	s = strings.TrimSpace(s)
	i := strings.LastIndexByte(s, ' ')
	if i < 0 {
		return time.Time{}, fmt.Errorf("%w: %q", ErrNotADate, s)
	}
	loc, ok := zones.Lookup(s[i+1:])
	if !ok {
		return time.Time{}, fmt.Errorf("%w: unknown zone in %q", ErrNotADate, s)
	}
	t, err := time.ParseInLocation(zonedDateLayout, strings.ToUpper(s[:i]), loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %q", ErrNotADate, s)
	}
	return t, nil
}

// ParseForecastDate parses a calendar date such as "17 Oct 2017". The result
// is midnight UTC and carries no zone meaning.
func ParseForecastDate(s string) (time.Time, error) {
	t, err := time.Parse(forecastDateLayout, strings.ToUpper(strings.TrimSpace(s)))
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %q", ErrNotADate, s)
	}
	return t, nil
}

func parseTimeOfDay(raw *string) (*TimeOfDay, error) {
	if raw == nil {
		return nil, nil
	}
	t, err := ParseTimeOfDay(*raw)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func parseZonedDate(raw *string, zones *ZoneRegistry) (*time.Time, error) {
	if raw == nil {
		return nil, nil
	}
	if zones == nil {
		zones = DefaultZones
	}
	t, err := ParseZonedDate(*raw, zones)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func parseForecastDate(raw *string) (*time.Time, error) {
	if raw == nil {
		return nil, nil
	}
	t, err := ParseForecastDate(*raw)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func parseISODateTime(raw *string) (*time.Time, error) {
	if raw == nil {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, *raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %q", ErrNotADate, *raw)
	}
	return &t, nil
}
