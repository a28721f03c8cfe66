// Package refresh keeps a thing's channels current: it polls the weather
// service on a fixed delay, classifies each result, and pushes status and
// channel states to the thing.
package refresh

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/kjstillabower/yahooweather-binding/internal/cache"
	"github.com/kjstillabower/yahooweather-binding/internal/channel"
	"github.com/kjstillabower/yahooweather-binding/internal/client"
	"github.com/kjstillabower/yahooweather-binding/internal/models"
	"github.com/kjstillabower/yahooweather-binding/internal/observability"
	"github.com/kjstillabower/yahooweather-binding/internal/thing"
)

// DefaultMaxDataAge is how long a snapshot is kept while the service keeps
// answering without results.
const DefaultMaxDataAge = 3 * time.Hour

// NoDataDescription is the status description used when the held snapshot is
// dropped for age.
const NoDataDescription = "no data"

// ErrUnknownChannel is returned by Refresh for an ID that is not exposed.
var ErrUnknownChannel = errors.New("unknown channel")

// Phase is the scheduler's view of its thing.
type Phase string

const (
	PhaseUninitialized Phase = "UNINITIALIZED"
	PhasePolling       Phase = "POLLING"
	PhaseOnline        Phase = "ONLINE"
	PhaseOffline       Phase = "OFFLINE"
)

// Tick outcomes, used as metric labels.
const (
	outcomeOnline           = "online"
	outcomeFetchError       = "fetch_error"
	outcomeParseError       = "parse_error"
	outcomeNoResultsKept    = "no_results_kept"
	outcomeNoResultsExpired = "no_results_expired"
	outcomePanic            = "panic"
)

// Options configures a Scheduler. Zero values select defaults.
type Options struct {
	// ThingID labels logs and metrics.
	ThingID string
	Config  thing.Configuration
	// MaxDataAge defaults to DefaultMaxDataAge.
	MaxDataAge time.Duration
	// Parser defaults to models.NewParser(nil).
	Parser *models.Parser
	// Location anchors time-of-day and date-only channel values. Defaults to
	// time.Local.
	Location *time.Location
	// Now defaults to time.Now.
	Now func() time.Time
}

// Scheduler drives one thing. All fetch, classification, and status updates
// are serialized; the periodic loop and Refresh never overlap.
type Scheduler struct {
	thingID    string
	config     thing.Configuration
	maxDataAge time.Duration
	parser     *models.Parser
	loc        *time.Location
	now        func() time.Time
	weatherKey string
	configKey  string

	cache    *cache.ExpiringCache
	callback thing.Callback
	logger   *zap.Logger

	mu         sync.Mutex
	phase      Phase
	snapshot   *models.Snapshot
	lastUpdate time.Time

	loopMu sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// New creates a scheduler and registers its weather and location lookups in
// c. Nothing is fetched until Start or Refresh.
func New(c *cache.ExpiringCache, fetcher client.Fetcher, callback thing.Callback, logger *zap.Logger, opts Options) *Scheduler {
	if opts.MaxDataAge <= 0 {
		opts.MaxDataAge = DefaultMaxDataAge
	}
	if opts.Parser == nil {
		opts.Parser = models.NewParser(nil)
	}
	if opts.Location == nil {
		opts.Location = time.Local
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	location := opts.Config.Location

	s := &Scheduler{
		thingID:    opts.ThingID,
		config:     opts.Config,
		maxDataAge: opts.MaxDataAge,
		parser:     opts.Parser,
		loc:        opts.Location,
		now:        opts.Now,
		weatherKey: WeatherKey(location),
		configKey:  ConfigKey(location),
		cache:      c,
		callback:   callback,
		logger:     logger.With(zap.String("thing", opts.ThingID), zap.String("location", location)),
		phase:      PhaseUninitialized,
	}

	c.Put(s.weatherKey, func(ctx context.Context) (string, error) {
		return fetcher.Fetch(ctx, client.ForecastQuery(location))
	})
	c.Put(s.configKey, func(ctx context.Context) (string, error) {
		return fetcher.Fetch(ctx, client.LocationQuery(location))
	})
	return s
}

// WeatherKey is the cache key of the forecast response for location.
func WeatherKey(location string) string { return "weather:" + location }

// ConfigKey is the cache key of the location-only response for location.
func ConfigKey(location string) string { return "config:" + location }

// CacheKeys lists the keys this scheduler registered.
func (s *Scheduler) CacheKeys() []string {
	return []string{s.weatherKey, s.configKey}
}

func (s *Scheduler) ThingID() string { return s.thingID }

// Phase returns the current phase.
func (s *Scheduler) Phase() Phase {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.phase
}

// Snapshot returns the held snapshot and when it was fetched. The snapshot is
// nil before the first successful refresh and after it aged out.
func (s *Scheduler) Snapshot() (*models.Snapshot, time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshot, s.lastUpdate
}

// Start launches the refresh loop. The first tick runs immediately; each
// following tick starts one refresh interval after the previous one ended.
// Calling Start on a running scheduler does nothing.
func (s *Scheduler) Start(ctx context.Context) {
	s.loopMu.Lock()
	defer s.loopMu.Unlock()
	if s.cancel != nil {
		return
	}
	loopCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	interval := s.config.RefreshInterval()

	s.logger.Info("starting refresh", zap.Duration("interval", interval))
	go s.loop(loopCtx, interval, s.done)
}

func (s *Scheduler) loop(ctx context.Context, interval time.Duration, done chan struct{}) {
	defer close(done)
	timer := time.NewTimer(0)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
			s.tick(ctx)
			timer.Reset(interval)
		}
	}
}

// Dispose stops the loop and waits for an in-flight tick to return. A fetch
// in progress is cancelled through its context.
func (s *Scheduler) Dispose() {
	s.loopMu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel, s.done = nil, nil
	s.loopMu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
	s.logger.Info("refresh stopped")
}

// tick runs one periodic refresh. It never panics.
func (s *Scheduler) tick(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			s.recoverTick(r)
		}
	}()

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.updateWeatherData(ctx) {
		s.publish(channel.All())
	}
}

func (s *Scheduler) recoverTick(r any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	msg := fmt.Sprint(r)
	s.logger.Error("refresh panicked", zap.String("panic", msg))
	observability.RefreshTicksTotal.WithLabelValues(s.thingID, outcomePanic).Inc()
	s.goOffline(thing.DetailCommunicationError, msg)
}

// Refresh runs one refresh synchronously and, if it produced fresh data,
// pushes only id.
func (s *Scheduler) Refresh(ctx context.Context, id channel.ID) (bool, error) {
	if !channel.Known(id) {
		s.logger.Debug("refresh requested for unknown channel", zap.String("channel", id.String()))
		return false, fmt.Errorf("%w: %s", ErrUnknownChannel, id)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.updateWeatherData(ctx) {
		return false, nil
	}
	s.publish([]channel.ID{id})
	return true, nil
}

// updateWeatherData fetches and classifies one response. It reports whether a
// fresh snapshot is now held. Callers hold mu.
func (s *Scheduler) updateWeatherData(ctx context.Context) bool {
	previous := s.phase
	s.phase = PhasePolling

	raw, err := s.cache.Get(ctx, s.weatherKey)
	if err != nil && ctx.Err() != nil {
		// Shutting down; the thing's status is not ours to change any more.
		s.phase = previous
		return false
	}
	if err != nil {
		s.logger.Warn("weather fetch failed", zap.Error(err))
		s.recordTick(outcomeFetchError)
		s.goOffline(thing.DetailCommunicationError, err.Error())
		return false
	}

	snapshot, err := s.parser.Parse(raw)
	if err == nil && snapshot == nil {
		err = fmt.Errorf("%w: empty response", models.ErrParse)
	}
	if err != nil {
		s.logger.Warn("weather response unreadable", zap.Error(err))
		s.recordTick(outcomeParseError)
		s.goOffline(thing.DetailCommunicationError, err.Error())
		return false
	}

	if !snapshot.HasResults() {
		if s.dataExpired() {
			s.logger.Warn("weather service returned no results; dropping stale data",
				zap.Time("last_update", s.lastUpdate))
			s.snapshot = nil
			s.recordTick(outcomeNoResultsExpired)
			s.goOffline(thing.DetailCommunicationError, NoDataDescription)
			return false
		}
		s.logger.Debug("weather service returned no results; keeping previous data",
			zap.Time("last_update", s.lastUpdate))
		s.phase = previous
		s.recordTick(outcomeNoResultsKept)
		return false
	}

	s.snapshot = snapshot
	s.lastUpdate = s.now()
	s.phase = PhaseOnline
	s.recordTick(outcomeOnline)
	observability.SetThingStatus(s.thingID, string(thing.StatusOnline))
	s.callback.UpdateStatus(thing.StatusOnline, thing.DetailNone, "")
	return true
}

// dataExpired reports whether the held snapshot is older than the max data
// age. Having never fetched counts as expired.
func (s *Scheduler) dataExpired() bool {
	if s.lastUpdate.IsZero() {
		return true
	}
	return s.now().Sub(s.lastUpdate) > s.maxDataAge
}

func (s *Scheduler) goOffline(detail thing.StatusDetail, description string) {
	s.phase = PhaseOffline
	observability.SetThingStatus(s.thingID, string(thing.StatusOffline))
	s.callback.UpdateStatus(thing.StatusOffline, detail, description)
}

func (s *Scheduler) recordTick(outcome string) {
	observability.RefreshTicksTotal.WithLabelValues(s.thingID, outcome).Inc()
	if !s.lastUpdate.IsZero() {
		observability.SnapshotAgeSeconds.WithLabelValues(s.thingID).Set(s.now().Sub(s.lastUpdate).Seconds())
	}
}

// publish pushes one state per id from the held snapshot. A value that cannot
// be converted is pushed as Undef. Callers hold mu.
func (s *Scheduler) publish(ids []channel.ID) {
	env := stateEnv{now: s.now(), loc: s.loc}
	for _, id := range ids {
		s.callback.UpdateState(id, s.stateOf(id, env))
	}
	observability.ChannelUpdatesTotal.WithLabelValues(s.thingID).Add(float64(len(ids)))
}

func (s *Scheduler) stateOf(id channel.ID, env stateEnv) channel.State {
	fn, ok := stateFuncs[id]
	if !ok || s.snapshot == nil {
		return channel.Undef
	}
	state, err := fn(s.snapshot, env)
	if err != nil {
		s.logger.Debug("channel value not convertible",
			zap.String("channel", id.String()),
			zap.Error(err),
		)
		return channel.Undef
	}
	return state
}
