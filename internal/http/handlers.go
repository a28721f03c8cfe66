package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/kjstillabower/yahooweather-binding/internal/channel"
	"github.com/kjstillabower/yahooweather-binding/internal/lifecycle"
	"github.com/kjstillabower/yahooweather-binding/internal/observability"
	"github.com/kjstillabower/yahooweather-binding/internal/refresh"
	"github.com/kjstillabower/yahooweather-binding/internal/thing"
	"github.com/kjstillabower/yahooweather-binding/internal/validation"
)

// Refresher is what the HTTP surface drives on a thing's scheduler.
type Refresher interface {
	Refresh(ctx context.Context, id channel.ID) (bool, error)
	ConfigStatus(ctx context.Context) ([]refresh.ConfigStatusMessage, error)
}

// Handler holds dependencies for HTTP handlers.
type Handler struct {
	things     *thing.Registry
	refreshers map[string]Refresher
	logger     *zap.Logger
	// cachePing, when set, is called to check cache reachability.
	cachePing func(ctx context.Context) error

	healthStatusMu   sync.Mutex
	healthStatusPrev string
}

// NewHandler returns a new Handler. refreshers is keyed by thing id.
func NewHandler(
	things *thing.Registry,
	refreshers map[string]Refresher,
	logger *zap.Logger,
	cachePing func(ctx context.Context) error,
) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		things:     things,
		refreshers: refreshers,
		logger:     logger,
		cachePing:  cachePing,
	}
}

type thingView struct {
	ID       string                       `json:"id"`
	Location string                       `json:"location"`
	Status   thing.StatusInfo             `json:"status"`
	Channels map[channel.ID]channel.State `json:"channels"`
}

func viewOf(t *thing.Thing) thingView {
	return thingView{
		ID:       t.ID(),
		Location: t.Configuration().Location,
		Status:   t.Status(),
		Channels: t.States(),
	}
}

type channelView struct {
	Thing   string        `json:"thing"`
	Channel channel.ID    `json:"channel"`
	State   channel.State `json:"state"`
}

// ListThings handles GET /things.
func (h *Handler) ListThings(w http.ResponseWriter, r *http.Request) {
	things := h.things.List()
	out := make([]thingView, 0, len(things))
	for _, t := range things {
		out = append(out, viewOf(t))
	}
	writeJSON(w, http.StatusOK, out)
}

// GetThing handles GET /things/{thing}.
func (h *Handler) GetThing(w http.ResponseWriter, r *http.Request) {
	t, ok := h.lookupThing(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, viewOf(t))
}

// GetChannel handles GET /things/{thing}/channels/{group}/{field}. A known
// channel that has not been published yet reads as UNDEF.
func (h *Handler) GetChannel(w http.ResponseWriter, r *http.Request) {
	t, ok := h.lookupThing(w, r)
	if !ok {
		return
	}
	id, ok := lookupChannel(w, r)
	if !ok {
		return
	}
	state, _ := t.State(id)
	writeJSON(w, http.StatusOK, channelView{Thing: t.ID(), Channel: id, State: state})
}

// PostRefresh handles POST /things/{thing}/channels/{group}/{field}/refresh.
// It runs one refresh and reports whether it produced fresh data.
func (h *Handler) PostRefresh(w http.ResponseWriter, r *http.Request) {
	t, ok := h.lookupThing(w, r)
	if !ok {
		return
	}
	id, ok := lookupChannel(w, r)
	if !ok {
		return
	}
	refresher, ok := h.refreshers[t.ID()]
	if !ok {
		writeError(w, r, http.StatusNotFound, "THING_NOT_FOUND", "thing has no scheduler")
		return
	}

	updated, err := refresher.Refresh(r.Context(), id)
	if err != nil {
		if errors.Is(err, refresh.ErrUnknownChannel) {
			writeError(w, r, http.StatusNotFound, "UNKNOWN_CHANNEL", "unknown channel: "+id.String())
			return
		}
		writeServiceError(w, r, err)
		return
	}

	state, _ := t.State(id)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"thing":   t.ID(),
		"channel": id,
		"updated": updated,
		"state":   state,
		"status":  t.Status(),
	})
}

// GetConfigStatus handles GET /things/{thing}/config-status.
func (h *Handler) GetConfigStatus(w http.ResponseWriter, r *http.Request) {
	t, ok := h.lookupThing(w, r)
	if !ok {
		return
	}
	refresher, ok := h.refreshers[t.ID()]
	if !ok {
		writeError(w, r, http.StatusNotFound, "THING_NOT_FOUND", "thing has no scheduler")
		return
	}
	messages, err := refresher.ConfigStatus(r.Context())
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"thing":    t.ID(),
		"messages": messages,
	})
}

func (h *Handler) lookupThing(w http.ResponseWriter, r *http.Request) (*thing.Thing, bool) {
	id, err := validation.ValidateThingID(mux.Vars(r)["thing"])
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "INVALID_THING", err.Error())
		return nil, false
	}
	t, ok := h.things.Get(id)
	if !ok {
		writeError(w, r, http.StatusNotFound, "THING_NOT_FOUND", "no thing "+id)
		return nil, false
	}
	return t, true
}

func lookupChannel(w http.ResponseWriter, r *http.Request) (channel.ID, bool) {
	vars := mux.Vars(r)
	id := channel.Join(vars["group"], vars["field"])
	if !channel.Known(id) {
		writeError(w, r, http.StatusNotFound, "UNKNOWN_CHANNEL", "unknown channel: "+id.String())
		return "", false
	}
	return id, true
}

// healthResult holds the computed health status and metadata for logging.
type healthResult struct {
	status     string
	statusCode int
	reason     string
}

// GetHealth handles GET /health.
func (h *Handler) GetHealth(w http.ResponseWriter, r *http.Request) {
	result := h.computeHealthStatus()

	h.healthStatusMu.Lock()
	prev := h.healthStatusPrev
	if prev != "" && prev != result.status {
		h.logger.Info("health status transition",
			zap.String("previous_status", prev),
			zap.String("current_status", result.status),
			zap.String("reason", result.reason))
	}
	h.healthStatusPrev = result.status
	h.healthStatusMu.Unlock()

	checks := make(map[string]string)
	for _, t := range h.things.List() {
		checks["thing:"+t.ID()] = string(t.Status().Status)
	}
	if h.cachePing != nil {
		if h.cachePing(r.Context()) == nil {
			checks["cache"] = "healthy"
		} else {
			checks["cache"] = "unhealthy"
		}
	}
	now := time.Now()
	resp := map[string]interface{}{
		"status":        result.status,
		"service":       "yahooweather-binding",
		"version":       "dev",
		"checks":        checks,
		"uptimeSeconds": int64(lifecycle.Uptime(now).Seconds()),
		"timestamp":     now.UTC().Format(time.RFC3339),
	}
	writeJSON(w, result.statusCode, resp)
}

// computeHealthStatus evaluates conditions in priority order:
// shutting-down > no thing online > some thing offline > healthy.
// Things still waiting for their first refresh do not count against health.
func (h *Handler) computeHealthStatus() healthResult {
	if lifecycle.IsShuttingDown() {
		return healthResult{"shutting-down", http.StatusServiceUnavailable, "signal"}
	}
	var online, offline int
	for _, t := range h.things.List() {
		switch t.Status().Status {
		case thing.StatusOnline:
			online++
		case thing.StatusOffline:
			offline++
		}
	}
	if offline > 0 && online == 0 {
		return healthResult{"unavailable", http.StatusServiceUnavailable, "all_things_offline"}
	}
	if offline > 0 {
		return healthResult{"degraded", http.StatusOK, "thing_offline"}
	}
	return healthResult{"healthy", http.StatusOK, ""}
}

// writeJSON writes a JSON response with the specified HTTP status code.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError writes an error response in the standard error format with code, message,
// and requestId (correlation ID) if available in request context.
func writeError(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	writeJSON(w, status, map[string]interface{}{
		"error": map[string]string{
			"code":      code,
			"message":   message,
			"requestId": observability.CorrelationID(r.Context()),
		},
	})
}

// writeServiceError writes a 503 for upstream failures and logs the cause at debug.
func writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	writeError(w, r, http.StatusServiceUnavailable, "UPSTREAM_UNAVAILABLE", "Unable to fetch weather data")
	if logger := loggerFrom(r.Context()); logger != nil {
		logger.Debug("upstream error", zap.Error(err))
	}
}
