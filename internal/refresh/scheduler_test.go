package refresh

import (
	"context"
	"errors"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/kjstillabower/yahooweather-binding/internal/cache"
	"github.com/kjstillabower/yahooweather-binding/internal/channel"
	"github.com/kjstillabower/yahooweather-binding/internal/client"
	"github.com/kjstillabower/yahooweather-binding/internal/observability"
	"github.com/kjstillabower/yahooweather-binding/internal/thing"
)

const berlinWOEID = "638242"

const noResults = `{"query":{"count":0,"created":"2017-10-17T10:21:16Z","lang":"en-US","results":null}}`

type fakeFetcher struct {
	mu      sync.Mutex
	respond func(query string) (string, error)
	calls   int32
}

func (f *fakeFetcher) Fetch(ctx context.Context, query string) (string, error) {
	atomic.AddInt32(&f.calls, 1)
	f.mu.Lock()
	respond := f.respond
	f.mu.Unlock()
	return respond(query)
}

func (f *fakeFetcher) set(respond func(query string) (string, error)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.respond = respond
}

func (f *fakeFetcher) Calls() int { return int(atomic.LoadInt32(&f.calls)) }

func body(s string) func(string) (string, error) {
	return func(string) (string, error) { return s, nil }
}

type stateUpdate struct {
	id    channel.ID
	state channel.State
}

type statusUpdate struct {
	status      thing.Status
	detail      thing.StatusDetail
	description string
}

type recorder struct {
	mu       sync.Mutex
	states   []stateUpdate
	statuses []statusUpdate
}

func (r *recorder) UpdateState(id channel.ID, state channel.State) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.states = append(r.states, stateUpdate{id, state})
}

func (r *recorder) UpdateStatus(status thing.Status, detail thing.StatusDetail, description string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.statuses = append(r.statuses, statusUpdate{status, detail, description})
}

func (r *recorder) lastStatus(t *testing.T) statusUpdate {
	t.Helper()
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.statuses) == 0 {
		t.Fatal("no status reported")
	}
	return r.statuses[len(r.statuses)-1]
}

func (r *recorder) state(id channel.ID) (channel.State, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := len(r.states) - 1; i >= 0; i-- {
		if r.states[i].id == id {
			return r.states[i].state, true
		}
	}
	return channel.Undef, false
}

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func berlinFixture(t *testing.T) string {
	t.Helper()
	b, err := os.ReadFile("../models/testdata/berlin.json")
	if err != nil {
		t.Fatalf("read fixture: %v", err)
	}
	return string(b)
}

func berlin(t *testing.T) *time.Location {
	t.Helper()
	loc, err := time.LoadLocation("Europe/Berlin")
	if err != nil {
		t.Fatalf("load zone: %v", err)
	}
	return loc
}

type fixture struct {
	scheduler *Scheduler
	fetcher   *fakeFetcher
	recorder  *recorder
	clock     *clock
}

// newFixture builds a scheduler whose cache never holds values, so every
// refresh reaches the fetcher.
func newFixture(t *testing.T, thingID string, respond func(string) (string, error)) *fixture {
	t.Helper()
	f := &fixture{
		fetcher:  &fakeFetcher{respond: respond},
		recorder: &recorder{},
		clock:    &clock{now: time.Date(2017, 10, 17, 10, 30, 0, 0, time.UTC)},
	}
	c := cache.NewExpiringCache(nil, 0, nil)
	f.scheduler = New(c, f.fetcher, f.recorder, zap.NewNop(), Options{
		ThingID:  thingID,
		Config:   thing.Configuration{Location: berlinWOEID, Refresh: time.Minute},
		Location: berlin(t),
		Now:      f.clock.Now,
	})
	return f
}

func requireDecimalState(t *testing.T, r *recorder, id channel.ID, want string) {
	t.Helper()
	s, ok := r.state(id)
	if !ok {
		t.Fatalf("%s: never published", id)
	}
	got, ok := s.Decimal()
	if !ok {
		t.Fatalf("%s: state = %v, want decimal %s", id, s, want)
	}
	if !got.Equal(decimal.RequireFromString(want)) {
		t.Errorf("%s = %s, want %s", id, got, want)
	}
}

func requireTextState(t *testing.T, r *recorder, id channel.ID, want string) {
	t.Helper()
	s, _ := r.state(id)
	got, ok := s.Text()
	if !ok || got != want {
		t.Errorf("%s = %v, want %q", id, s, want)
	}
}

func requireTimeState(t *testing.T, r *recorder, id channel.ID, want time.Time) {
	t.Helper()
	s, _ := r.state(id)
	got, ok := s.DateTime()
	if !ok || !got.Equal(want) {
		t.Errorf("%s = %v, want %v", id, s, want)
	}
}

func TestNew_RegistersCacheKeys(t *testing.T) {
	c := cache.NewExpiringCache(nil, time.Second, nil)
	f := &fakeFetcher{respond: body("")}
	s := New(c, f, &recorder{}, nil, Options{Config: thing.Configuration{Location: berlinWOEID}})

	want := []string{ConfigKey(berlinWOEID), WeatherKey(berlinWOEID)}
	got := c.Keys()
	if len(got) != 2 || got[0] != want[0] || got[1] != want[1] {
		t.Errorf("cache keys = %v, want %v", got, want)
	}
	if len(s.CacheKeys()) != 2 {
		t.Errorf("CacheKeys() = %v", s.CacheKeys())
	}
	if s.Phase() != PhaseUninitialized {
		t.Errorf("Phase() = %s, want %s", s.Phase(), PhaseUninitialized)
	}
	if f.Calls() != 0 {
		t.Errorf("fetcher called %d times before any refresh", f.Calls())
	}
}

func TestNew_SuppliersIssueQueries(t *testing.T) {
	var queries []string
	var mu sync.Mutex
	c := cache.NewExpiringCache(nil, time.Minute, nil)
	f := &fakeFetcher{respond: func(q string) (string, error) {
		mu.Lock()
		defer mu.Unlock()
		queries = append(queries, q)
		return "{}", nil
	}}
	New(c, f, &recorder{}, nil, Options{Config: thing.Configuration{Location: berlinWOEID}})

	ctx := context.Background()
	if _, err := c.Get(ctx, WeatherKey(berlinWOEID)); err != nil {
		t.Fatal(err)
	}
	if _, err := c.Get(ctx, ConfigKey(berlinWOEID)); err != nil {
		t.Fatal(err)
	}
	if queries[0] != client.ForecastQuery(berlinWOEID) {
		t.Errorf("weather query = %q", queries[0])
	}
	if queries[1] != client.LocationQuery(berlinWOEID) {
		t.Errorf("config query = %q", queries[1])
	}
}

func TestScheduler_Tick_PublishesBerlin(t *testing.T) {
	f := newFixture(t, "tick-berlin", body(berlinFixture(t)))
	loc := berlin(t)

	f.scheduler.tick(context.Background())

	if got := f.recorder.lastStatus(t); got.status != thing.StatusOnline || got.detail != thing.DetailNone {
		t.Errorf("status = %+v, want ONLINE", got)
	}
	if f.scheduler.Phase() != PhaseOnline {
		t.Errorf("Phase() = %s, want ONLINE", f.scheduler.Phase())
	}

	all := channel.All()
	if len(f.recorder.states) != len(all) {
		t.Fatalf("published %d states, want %d", len(f.recorder.states), len(all))
	}
	for i, u := range f.recorder.states {
		if u.id != all[i] {
			t.Fatalf("publication %d = %s, want %s", i, u.id, all[i])
		}
	}

	requireDecimalState(t, f.recorder, channel.AtmosphereHumidity, "62")
	requireDecimalState(t, f.recorder, channel.AtmospherePressure, "1016.00")
	requireDecimalState(t, f.recorder, channel.WindChill, "18.88")
	requireDecimalState(t, f.recorder, channel.WindSpeed, "11.27")
	requireDecimalState(t, f.recorder, channel.LocationLatitude, "52.516071")
	requireDecimalState(t, f.recorder, channel.ConditionTemperature, "18")
	requireTextState(t, f.recorder, channel.LocationCity, "Berlin")
	requireTextState(t, f.recorder, channel.LocationRegion, "BE")
	requireTextState(t, f.recorder, channel.UnitsPressure, "mb")
	requireTextState(t, f.recorder, channel.MiscLanguageCode, "en-us")
	requireTextState(t, f.recorder, channel.ConditionText, "Sunny")

	requireTimeState(t, f.recorder, channel.AstronomySunrise, time.Date(2017, 10, 17, 7, 36, 0, 0, loc))
	requireTimeState(t, f.recorder, channel.AstronomySunset, time.Date(2017, 10, 17, 18, 6, 0, 0, loc))
	requireTimeState(t, f.recorder, channel.ConditionDate, time.Date(2017, 10, 17, 9, 0, 0, 0, time.UTC))
	requireTimeState(t, f.recorder, channel.MiscPublicationDate, time.Date(2017, 10, 17, 9, 0, 0, 0, time.UTC))

	day1Date, _ := channel.Forecast(1, channel.ForecastDate)
	requireTimeState(t, f.recorder, day1Date, time.Date(2017, 10, 17, 0, 0, 0, 0, loc))
	day2Weekday, _ := channel.Forecast(2, channel.ForecastWeekday)
	requireTextState(t, f.recorder, day2Weekday, "Wed")
	day1Max, _ := channel.Forecast(1, channel.ForecastMax)
	requireDecimalState(t, f.recorder, day1Max, "21")

	if got := testutil.ToFloat64(observability.RefreshTicksTotal.WithLabelValues("tick-berlin", outcomeOnline)); got != 1 {
		t.Errorf("online ticks = %v, want 1", got)
	}
	if got := testutil.ToFloat64(observability.ChannelUpdatesTotal.WithLabelValues("tick-berlin")); got != float64(len(all)) {
		t.Errorf("channel updates = %v, want %d", got, len(all))
	}
}

func TestScheduler_Tick_MissingForecastDaysAreUndef(t *testing.T) {
	payload := `{"query":{"results":{"channel":{"item":{"forecast":[{"code":"34","date":"17 Oct 2017","day":"Tue","high":"21","low":"13","text":"Sunny"}]}}}}}`
	f := newFixture(t, "tick-short", body(payload))

	f.scheduler.tick(context.Background())

	day1, _ := channel.Forecast(1, channel.ForecastCode)
	requireDecimalState(t, f.recorder, day1, "34")
	day2, _ := channel.Forecast(2, channel.ForecastCode)
	if s, ok := f.recorder.state(day2); !ok || !s.IsUndef() {
		t.Errorf("%s = %v, want UNDEF", day2, s)
	}
	if s, _ := f.recorder.state(channel.AtmosphereHumidity); !s.IsUndef() {
		t.Errorf("humidity = %v, want UNDEF", s)
	}
}

func TestScheduler_Tick_UnparsableFieldIsUndef(t *testing.T) {
	payload := `{"query":{"results":{"channel":{"atmosphere":{"humidity":"n/a","pressure":"1012"}}}}}`
	f := newFixture(t, "tick-bad-field", body(payload))

	f.scheduler.tick(context.Background())

	if s, _ := f.recorder.state(channel.AtmosphereHumidity); !s.IsUndef() {
		t.Errorf("humidity = %v, want UNDEF", s)
	}
	requireDecimalState(t, f.recorder, channel.AtmospherePressure, "1012")
	if got := f.recorder.lastStatus(t); got.status != thing.StatusOnline {
		t.Errorf("status = %+v, want ONLINE", got)
	}
}

func TestScheduler_Tick_NoResultsBeforeAnyData(t *testing.T) {
	f := newFixture(t, "tick-no-data", body(noResults))

	f.scheduler.tick(context.Background())

	got := f.recorder.lastStatus(t)
	want := statusUpdate{thing.StatusOffline, thing.DetailCommunicationError, NoDataDescription}
	if got != want {
		t.Errorf("status = %+v, want %+v", got, want)
	}
	if len(f.recorder.states) != 0 {
		t.Errorf("published %d states, want none", len(f.recorder.states))
	}
}

func TestScheduler_Tick_NoResultsStaleness(t *testing.T) {
	tests := []struct {
		name       string
		after      time.Duration
		wantPhase  Phase
		wantKept   bool
		wantStatus thing.Status
	}{
		{name: "recent data retained", after: time.Hour, wantPhase: PhaseOnline, wantKept: true, wantStatus: thing.StatusOnline},
		{name: "at max age retained", after: DefaultMaxDataAge, wantPhase: PhaseOnline, wantKept: true, wantStatus: thing.StatusOnline},
		{name: "old data dropped", after: 4 * time.Hour, wantPhase: PhaseOffline, wantKept: false, wantStatus: thing.StatusOffline},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, "staleness", body(berlinFixture(t)))
			ctx := context.Background()
			f.scheduler.tick(ctx)

			f.fetcher.set(body(noResults))
			f.clock.Advance(tt.after)
			statuses := len(f.recorder.statuses)
			states := len(f.recorder.states)
			f.scheduler.tick(ctx)

			if got := f.scheduler.Phase(); got != tt.wantPhase {
				t.Errorf("Phase() = %s, want %s", got, tt.wantPhase)
			}
			snap, _ := f.scheduler.Snapshot()
			if (snap != nil) != tt.wantKept {
				t.Errorf("snapshot kept = %v, want %v", snap != nil, tt.wantKept)
			}
			if got := f.recorder.lastStatus(t).status; got != tt.wantStatus {
				t.Errorf("status = %s, want %s", got, tt.wantStatus)
			}
			if tt.wantKept && len(f.recorder.statuses) != statuses {
				t.Errorf("status reported %d more times, want none", len(f.recorder.statuses)-statuses)
			}
			if len(f.recorder.states) != states {
				t.Errorf("published %d more states, want none", len(f.recorder.states)-states)
			}
		})
	}
}

func TestScheduler_Tick_FetchErrorKeepsSnapshot(t *testing.T) {
	f := newFixture(t, "tick-fetch-error", body(berlinFixture(t)))
	ctx := context.Background()
	f.scheduler.tick(ctx)

	f.fetcher.set(func(string) (string, error) { return "", client.ErrUpstreamFailure })
	f.scheduler.tick(ctx)

	got := f.recorder.lastStatus(t)
	if got.status != thing.StatusOffline || got.detail != thing.DetailCommunicationError {
		t.Errorf("status = %+v, want OFFLINE/COMMUNICATION_ERROR", got)
	}
	if got.description == "" {
		t.Error("description is empty, want the fetch error")
	}
	if snap, _ := f.scheduler.Snapshot(); snap == nil {
		t.Error("snapshot dropped after fetch error")
	}

	f.fetcher.set(body(berlinFixture(t)))
	f.scheduler.tick(ctx)
	if got := f.recorder.lastStatus(t).status; got != thing.StatusOnline {
		t.Errorf("status after recovery = %s, want ONLINE", got)
	}
}

func TestScheduler_Tick_MalformedResponse(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{name: "invalid json", body: `{"query":`},
		{name: "empty", body: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, "tick-malformed", body(tt.body))
			f.scheduler.tick(context.Background())

			got := f.recorder.lastStatus(t)
			if got.status != thing.StatusOffline || got.detail != thing.DetailCommunicationError {
				t.Errorf("status = %+v, want OFFLINE/COMMUNICATION_ERROR", got)
			}
			if f.scheduler.Phase() != PhaseOffline {
				t.Errorf("Phase() = %s, want OFFLINE", f.scheduler.Phase())
			}
		})
	}
}

type panickingCallback struct {
	recorder
}

func (p *panickingCallback) UpdateState(channel.ID, channel.State) { panic("sink closed") }

func TestScheduler_Tick_RecoversPanic(t *testing.T) {
	p := &panickingCallback{}
	c := cache.NewExpiringCache(nil, 0, nil)
	s := New(c, &fakeFetcher{respond: body(berlinFixture(t))}, p, nil, Options{
		ThingID: "tick-panic",
		Config:  thing.Configuration{Location: berlinWOEID},
	})

	s.tick(context.Background())

	got := p.lastStatus(t)
	want := statusUpdate{thing.StatusOffline, thing.DetailCommunicationError, "sink closed"}
	if got != want {
		t.Errorf("status = %+v, want %+v", got, want)
	}
	if s.Phase() != PhaseOffline {
		t.Errorf("Phase() = %s, want OFFLINE", s.Phase())
	}
}

func TestScheduler_Tick_CancelledLeavesStatus(t *testing.T) {
	f := newFixture(t, "tick-cancelled", func(string) (string, error) {
		return "", context.Canceled
	})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	f.scheduler.tick(ctx)

	if len(f.recorder.statuses) != 0 {
		t.Errorf("statuses = %+v, want none", f.recorder.statuses)
	}
	if f.scheduler.Phase() != PhaseUninitialized {
		t.Errorf("Phase() = %s, want UNINITIALIZED", f.scheduler.Phase())
	}
}

func TestScheduler_Refresh_SingleChannel(t *testing.T) {
	f := newFixture(t, "refresh-single", body(berlinFixture(t)))

	updated, err := f.scheduler.Refresh(context.Background(), channel.AtmosphereHumidity)
	if err != nil {
		t.Fatalf("Refresh() error = %v", err)
	}
	if !updated {
		t.Error("Refresh() updated = false, want true")
	}
	if len(f.recorder.states) != 1 || f.recorder.states[0].id != channel.AtmosphereHumidity {
		t.Errorf("published %+v, want only humidity", f.recorder.states)
	}
	requireDecimalState(t, f.recorder, channel.AtmosphereHumidity, "62")
	if f.fetcher.Calls() != 1 {
		t.Errorf("fetcher calls = %d, want 1", f.fetcher.Calls())
	}
}

func TestScheduler_Refresh_NoResultsPublishesNothing(t *testing.T) {
	f := newFixture(t, "refresh-no-results", body(noResults))

	updated, err := f.scheduler.Refresh(context.Background(), channel.WindSpeed)
	if err != nil {
		t.Fatalf("Refresh() error = %v", err)
	}
	if updated {
		t.Error("Refresh() updated = true, want false")
	}
	if len(f.recorder.states) != 0 {
		t.Errorf("published %d states, want none", len(f.recorder.states))
	}
}

func TestScheduler_Refresh_UnknownChannel(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	f := &fakeFetcher{respond: body(berlinFixture(t))}
	s := New(cache.NewExpiringCache(nil, 0, nil), f, &recorder{}, zap.New(core), Options{
		Config: thing.Configuration{Location: berlinWOEID},
	})

	_, err := s.Refresh(context.Background(), channel.ID("forecast11#code"))
	if !errors.Is(err, ErrUnknownChannel) {
		t.Fatalf("Refresh() error = %v, want ErrUnknownChannel", err)
	}
	if f.Calls() != 0 {
		t.Errorf("fetcher calls = %d, want 0", f.Calls())
	}
	if logs.FilterMessage("refresh requested for unknown channel").Len() != 1 {
		t.Error("expected a debug log for the unknown channel")
	}
}

func TestScheduler_StartDispose(t *testing.T) {
	f := &fakeFetcher{respond: body(berlinFixture(t))}
	th := thing.New("loop", thing.Configuration{Location: berlinWOEID, Refresh: 10 * time.Millisecond})
	s := New(cache.NewExpiringCache(nil, 0, nil), f, th, nil, Options{
		ThingID: "loop",
		Config:  th.Configuration(),
	})

	s.Start(context.Background())
	s.Start(context.Background())

	deadline := time.Now().Add(2 * time.Second)
	for f.Calls() < 3 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if f.Calls() < 3 {
		t.Fatalf("fetcher calls = %d after 2s, want at least 3", f.Calls())
	}

	s.Dispose()
	stopped := f.Calls()
	time.Sleep(50 * time.Millisecond)
	if f.Calls() != stopped {
		t.Errorf("fetcher called %d times after Dispose", f.Calls()-stopped)
	}
	s.Dispose()

	if th.Status().Status != thing.StatusOnline {
		t.Errorf("thing status = %s, want ONLINE", th.Status().Status)
	}
	if got := th.UpdateCount(channel.AtmosphereHumidity); got < 3 {
		t.Errorf("humidity updates = %d, want at least 3", got)
	}
}

func TestScheduler_Start_FirstTickImmediate(t *testing.T) {
	f := &fakeFetcher{respond: body(noResults)}
	s := New(cache.NewExpiringCache(nil, 0, nil), f, &recorder{}, nil, Options{
		Config: thing.Configuration{Location: berlinWOEID, Refresh: time.Hour},
	})
	s.Start(context.Background())
	defer s.Dispose()

	deadline := time.Now().Add(time.Second)
	for f.Calls() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if f.Calls() != 1 {
		t.Errorf("fetcher calls = %d, want 1", f.Calls())
	}
}
