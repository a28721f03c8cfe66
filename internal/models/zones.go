package models

import (
	"fmt"
	"strings"
	"time"
	_ "time/tzdata" // zone lookups must not depend on the host's zoneinfo
)

// DefaultZoneNames are the IANA locations whose abbreviations are recognized
// when no explicit registry is configured.
var DefaultZoneNames = []string{"Europe/Berlin"}

// DefaultZones is the registry used by snapshots parsed without one.
var DefaultZones = MustZoneRegistry(DefaultZoneNames...)

// ZoneRegistry resolves three- or four-letter zone abbreviations ("CEST") to
// locations. Only abbreviations of registered locations resolve; Go's own
// parser would otherwise invent a zero-offset zone for unknown abbreviations.
type ZoneRegistry struct {
	byAbbrev map[string]*time.Location
}

// NewZoneRegistry loads each named location and registers every abbreviation
// it used in the current and neighbouring years.
func NewZoneRegistry(names ...string) (*ZoneRegistry, error) {
	r := &ZoneRegistry{byAbbrev: make(map[string]*time.Location)}
	for _, name := range names {
		loc, err := time.LoadLocation(strings.TrimSpace(name))
		if err != nil {
			return nil, fmt.Errorf("load zone %q: %w", name, err)
		}
		r.Register(loc)
	}
	return r, nil
}

// MustZoneRegistry is NewZoneRegistry that panics on an unknown location.
func MustZoneRegistry(names ...string) *ZoneRegistry {
	r, err := NewZoneRegistry(names...)
	if err != nil {
		panic(err)
	}
	return r
}

// Register adds the abbreviations observed for loc. The first location to
// claim an abbreviation keeps it.
func (r *ZoneRegistry) Register(loc *time.Location) {
	year := time.Now().Year()
	for y := year - 1; y <= year+1; y++ {
		for m := time.January; m <= time.December; m++ {
			abbrev, _ := time.Date(y, m, 1, 12, 0, 0, 0, loc).Zone()
			abbrev = strings.ToUpper(abbrev)
			if _, taken := r.byAbbrev[abbrev]; !taken {
				r.byAbbrev[abbrev] = loc
			}
		}
	}
}

// Lookup returns the location registered for abbrev.
func (r *ZoneRegistry) Lookup(abbrev string) (*time.Location, bool) {
	if r == nil {
		return nil, false
	}
	loc, ok := r.byAbbrev[strings.ToUpper(strings.TrimSpace(abbrev))]
	return loc, ok
}

// Abbreviations lists the registered abbreviations (unordered).
func (r *ZoneRegistry) Abbreviations() []string {
	out := make([]string, 0, len(r.byAbbrev))
	for a := range r.byAbbrev {
		out = append(out, a)
	}
	return out
}
