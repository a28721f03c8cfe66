package refresh

import (
	"context"

	"go.uber.org/zap"
)

// ConfigStatusType is the severity of a configuration message.
type ConfigStatusType string

const (
	ConfigStatusError ConfigStatusType = "ERROR"
)

// LocationNotFound is the message key reported when the configured location
// does not resolve to a city.
const LocationNotFound = "location-not-found"

// ConfigStatusMessage describes one problem with a thing's configuration.
type ConfigStatusMessage struct {
	Parameter string           `json:"parameter"`
	Type      ConfigStatusType `json:"type"`
	Message   string           `json:"message"`
	Arguments []string         `json:"arguments,omitempty"`
}

// ConfigStatus validates the configured location against the weather
// service. It returns no messages when the location resolves to a city, and
// also when the service cannot be reached, since that says nothing about the
// configuration.
func (s *Scheduler) ConfigStatus(ctx context.Context) ([]ConfigStatusMessage, error) {
	messages := []ConfigStatusMessage{}

	raw, err := s.cache.Get(ctx, s.configKey)
	if err != nil {
		s.logger.Debug("location lookup failed", zap.Error(err))
		return messages, nil
	}
	snapshot, err := s.parser.Parse(raw)
	if err != nil {
		return messages, err
	}
	if snapshot == nil {
		return messages, nil
	}

	if snapshot.Location().City() == nil {
		messages = append(messages, ConfigStatusMessage{
			Parameter: "location",
			Type:      ConfigStatusError,
			Message:   LocationNotFound,
			Arguments: []string{s.config.Location},
		})
	}
	return messages, nil
}
