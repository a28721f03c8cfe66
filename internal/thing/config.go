package thing

import "time"

// DefaultRefresh is used when a thing has no refresh interval configured.
const DefaultRefresh = 60 * time.Second

// Configuration of a weather thing.
type Configuration struct {
	// Location is the upstream location identifier (a WOEID).
	Location string
	// Refresh is the delay between the end of one refresh and the start of
	// the next. Zero means DefaultRefresh.
	Refresh time.Duration
}

// RefreshInterval returns Refresh, or DefaultRefresh when unset.
func (c Configuration) RefreshInterval() time.Duration {
	if c.Refresh <= 0 {
		return DefaultRefresh
	}
	return c.Refresh
}
