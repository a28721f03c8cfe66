// Package channel names the values a weather thing exposes and the state
// type they carry.
package channel

import (
	"strconv"
	"strings"
)

// ID identifies a channel as "group#field".
type ID string

const separator = "#"

// Join builds an ID from a group and field.
func Join(group, field string) ID {
	return ID(group + separator + field)
}

// Group is the part before the separator, or the whole ID if there is none.
func (id ID) Group() string {
	g, _, _ := strings.Cut(string(id), separator)
	return g
}

// Field is the part after the separator, or "" if there is none.
func (id ID) Field() string {
	_, f, _ := strings.Cut(string(id), separator)
	return f
}

func (id ID) String() string { return string(id) }

const (
	UnitsDistance    ID = "units#distance"
	UnitsPressure    ID = "units#pressure"
	UnitsSpeed       ID = "units#speed"
	UnitsTemperature ID = "units#temperature"

	WindChill     ID = "wind#chill"
	WindDirection ID = "wind#direction"
	WindSpeed     ID = "wind#speed"

	AstronomySunrise ID = "astronomy#sunrise"
	AstronomySunset  ID = "astronomy#sunset"

	AtmosphereHumidity   ID = "atmosphere#humidity"
	AtmospherePressure   ID = "atmosphere#pressure"
	AtmosphereRising     ID = "atmosphere#rising"
	AtmosphereVisibility ID = "atmosphere#visibility"

	LocationCity      ID = "location#city"
	LocationCountry   ID = "location#country"
	LocationRegion    ID = "location#region"
	LocationLatitude  ID = "location#latitude"
	LocationLongitude ID = "location#longitude"

	MiscPublicationDate ID = "misc#publicationDate"
	MiscLanguageCode    ID = "misc#languageCode"

	ConditionCode        ID = "condition#code"
	ConditionDate        ID = "condition#date"
	ConditionTemperature ID = "condition#temperature"
	ConditionText        ID = "condition#text"
)

// ForecastField is one of the per-day forecast values.
type ForecastField string

const (
	ForecastCode    ForecastField = "code"
	ForecastDate    ForecastField = "date"
	ForecastWeekday ForecastField = "weekday"
	ForecastMin     ForecastField = "min"
	ForecastMax     ForecastField = "max"
	ForecastText    ForecastField = "text"
)

// ForecastFields in publication order.
var ForecastFields = []ForecastField{
	ForecastCode, ForecastDate, ForecastWeekday, ForecastMin, ForecastMax, ForecastText,
}

// MaxForecasts is the number of forecast day groups exposed.
const MaxForecasts = 10

const forecastGroupPrefix = "forecast"

// ForecastRef is the decoded form of a forecast channel ID.
type ForecastRef struct {
	Day   int
	Field ForecastField
}

var (
	forecastIDs  [MaxForecasts + 1]map[ForecastField]ID
	forecastRefs = make(map[ID]ForecastRef, MaxForecasts*6)
	all          []ID
	known        = make(map[ID]bool)
)

func init() {
	all = []ID{
		UnitsDistance, UnitsPressure, UnitsSpeed, UnitsTemperature,
		WindChill, WindDirection, WindSpeed,
		AstronomySunrise, AstronomySunset,
		AtmosphereHumidity, AtmospherePressure, AtmosphereRising, AtmosphereVisibility,
		LocationCity, LocationCountry, LocationRegion, LocationLatitude, LocationLongitude,
		MiscPublicationDate, MiscLanguageCode,
		ConditionCode, ConditionDate, ConditionTemperature, ConditionText,
	}
	for day := 1; day <= MaxForecasts; day++ {
		forecastIDs[day] = make(map[ForecastField]ID, len(ForecastFields))
		group := forecastGroupPrefix + strconv.Itoa(day)
		for _, f := range ForecastFields {
			id := Join(group, string(f))
			forecastIDs[day][f] = id
			forecastRefs[id] = ForecastRef{Day: day, Field: f}
			all = append(all, id)
		}
	}
	for _, id := range all {
		known[id] = true
	}
}

// Forecast returns the ID of field for forecast day (1-based).
func Forecast(day int, field ForecastField) (ID, bool) {
	if day < 1 || day > MaxForecasts {
		return "", false
	}
	id, ok := forecastIDs[day][field]
	return id, ok
}

// ParseForecast decodes a forecast channel ID.
func ParseForecast(id ID) (ForecastRef, bool) {
	ref, ok := forecastRefs[id]
	return ref, ok
}

// All returns every exposed channel in publication order.
func All() []ID {
	out := make([]ID, len(all))
	copy(out, all)
	return out
}

// Known reports whether id is an exposed channel.
func Known(id ID) bool {
	return known[id]
}
