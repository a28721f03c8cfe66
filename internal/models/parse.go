package models

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// ErrParse is returned when a response body is not valid JSON for a snapshot.
var ErrParse = errors.New("parse weather response")

// Parser turns raw weather service responses into snapshots. Zone-qualified
// dates in the produced snapshots resolve against Zones.
type Parser struct {
	Zones *ZoneRegistry
}

// NewParser returns a Parser using zones, or DefaultZones when zones is nil.
func NewParser(zones *ZoneRegistry) *Parser {
	if zones == nil {
		zones = DefaultZones
	}
	return &Parser{Zones: zones}
}

// Parse decodes raw. Blank input yields a nil snapshot and no error. Missing
// nested objects are tolerated; only malformed JSON fails.
func (p *Parser) Parse(raw string) (*Snapshot, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, nil
	}

	var s Snapshot
	if err := json.Unmarshal([]byte(raw), &s); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrParse, err)
	}
	s.zones = p.Zones
	if s.zones == nil {
		s.zones = DefaultZones
	}
	return &s, nil
}

var defaultParser = NewParser(nil)

// Parse decodes raw with the default zone registry.
func Parse(raw string) (*Snapshot, error) {
	return defaultParser.Parse(raw)
}
