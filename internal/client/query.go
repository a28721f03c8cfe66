package client

import "fmt"

// ForecastQuery selects the full forecast for location with metric units.
func ForecastQuery(location string) string {
	return fmt.Sprintf("SELECT * FROM weather.forecast WHERE u = 'c' AND woeid = %s", location)
}

// LocationQuery selects only the location block, used to validate that a
// location identifier resolves.
func LocationQuery(location string) string {
	return fmt.Sprintf("SELECT location FROM weather.forecast WHERE woeid = %s", location)
}
