package http

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/kjstillabower/yahooweather-binding/internal/observability"
)

// RouterOptions configures NewRouter.
type RouterOptions struct {
	// RequestTimeout bounds thing routes. Zero disables the deadline.
	RequestTimeout time.Duration
	// RefreshLimiter throttles manual refreshes. Nil disables it.
	RefreshLimiter *rate.Limiter
}

// NewRouter wires h and the metrics endpoint behind the shared middleware.
func NewRouter(h *Handler, logger *zap.Logger, opts RouterOptions) *mux.Router {
	router := mux.NewRouter()
	router.Use(CorrelationIDMiddleware(logger))
	router.Use(MetricsMiddleware)

	router.HandleFunc("/health", h.GetHealth).Methods(http.MethodGet)
	router.Handle("/metrics", observability.MetricsHandler()).Methods(http.MethodGet)

	things := router.PathPrefix("/things").Subrouter()
	if opts.RequestTimeout > 0 {
		things.Use(TimeoutMiddleware(opts.RequestTimeout))
	}
	things.HandleFunc("", h.ListThings).Methods(http.MethodGet)
	things.HandleFunc("/{thing}", h.GetThing).Methods(http.MethodGet)
	things.HandleFunc("/{thing}/config-status", h.GetConfigStatus).Methods(http.MethodGet)
	things.HandleFunc("/{thing}/channels/{group}/{field}", h.GetChannel).Methods(http.MethodGet)

	limited := RateLimitMiddleware(opts.RefreshLimiter)
	things.Handle("/{thing}/channels/{group}/{field}/refresh", limited(http.HandlerFunc(h.PostRefresh))).Methods(http.MethodPost)

	return router
}
