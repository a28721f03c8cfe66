// Package thing is the in-process host for weather things: it records the
// channel states and statuses a refresh scheduler pushes, and serves them
// back to readers.
package thing

import (
	"sort"
	"sync"
	"time"

	"github.com/kjstillabower/yahooweather-binding/internal/channel"
)

// Status of a thing as seen by the host.
type Status string

const (
	StatusUnknown Status = "UNKNOWN"
	StatusOnline  Status = "ONLINE"
	StatusOffline Status = "OFFLINE"
)

// StatusDetail refines Status.
type StatusDetail string

const (
	DetailNone               StatusDetail = "NONE"
	DetailCommunicationError StatusDetail = "COMMUNICATION_ERROR"
	DetailConfigurationError StatusDetail = "CONFIGURATION_ERROR"
)

// Callback receives state and status updates from a scheduler.
type Callback interface {
	UpdateState(id channel.ID, state channel.State)
	UpdateStatus(status Status, detail StatusDetail, description string)
}

// StatusInfo is the last status reported for a thing.
type StatusInfo struct {
	Status      Status       `json:"status"`
	Detail      StatusDetail `json:"detail"`
	Description string       `json:"description,omitempty"`
	Since       time.Time    `json:"since"`
}

// Thing records what its scheduler reports. It is safe for concurrent use.
type Thing struct {
	id     string
	config Configuration
	now    func() time.Time

	mu      sync.RWMutex
	status  StatusInfo
	states  map[channel.ID]channel.State
	updates map[channel.ID]int
}

// New creates a thing in UNKNOWN status with no channel states.
func New(id string, config Configuration) *Thing {
	t := &Thing{
		id:      id,
		config:  config,
		now:     time.Now,
		states:  make(map[channel.ID]channel.State),
		updates: make(map[channel.ID]int),
	}
	t.status = StatusInfo{Status: StatusUnknown, Detail: DetailNone, Since: t.now()}
	return t
}

func (t *Thing) ID() string                   { return t.id }
func (t *Thing) Configuration() Configuration { return t.config }

// UpdateState records state for id.
func (t *Thing) UpdateState(id channel.ID, state channel.State) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.states[id] = state
	t.updates[id]++
}

// UpdateStatus records a status. Since only moves when the status or detail
// changes.
func (t *Thing) UpdateStatus(status Status, detail StatusDetail, description string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	since := t.status.Since
	if t.status.Status != status || t.status.Detail != detail {
		since = t.now()
	}
	t.status = StatusInfo{Status: status, Detail: detail, Description: description, Since: since}
}

// Status returns the last reported status.
func (t *Thing) Status() StatusInfo {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.status
}

// State returns the last state pushed for id.
func (t *Thing) State(id channel.ID) (channel.State, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	s, ok := t.states[id]
	return s, ok
}

// States returns a copy of every recorded channel state.
func (t *Thing) States() map[channel.ID]channel.State {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make(map[channel.ID]channel.State, len(t.states))
	for id, s := range t.states {
		out[id] = s
	}
	return out
}

// UpdateCount is how many times id has been pushed.
func (t *Thing) UpdateCount(id channel.ID) int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.updates[id]
}

// Registry holds things by id.
type Registry struct {
	mu     sync.RWMutex
	things map[string]*Thing
}

func NewRegistry() *Registry {
	return &Registry{things: make(map[string]*Thing)}
}

// Add registers t, replacing any thing with the same id.
func (r *Registry) Add(t *Thing) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.things[t.ID()] = t
}

func (r *Registry) Get(id string) (*Thing, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.things[id]
	return t, ok
}

// List returns all things ordered by id.
func (r *Registry) List() []*Thing {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Thing, 0, len(r.things))
	for _, t := range r.things {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].id < out[j].id })
	return out
}
