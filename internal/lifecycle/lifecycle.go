package lifecycle

import (
	"sync/atomic"
	"time"
)

var (
	shuttingDown atomic.Bool
	startedAt    atomic.Int64
)

// SetShuttingDown sets the shutdown flag. Call when SIGTERM/SIGINT received.
// Health handler returns 503 with status shutting-down while true.
func SetShuttingDown(v bool) {
	shuttingDown.Store(v)
}

// IsShuttingDown returns true if the process is draining and should not receive new traffic.
func IsShuttingDown() bool {
	return shuttingDown.Load()
}

// MarkStarted records when the service began serving.
func MarkStarted(t time.Time) {
	startedAt.Store(t.UnixNano())
}

// StartedAt returns the time passed to MarkStarted, or the zero time.
func StartedAt() time.Time {
	ns := startedAt.Load()
	if ns == 0 {
		return time.Time{}
	}
	return time.Unix(0, ns)
}

// Uptime is the time elapsed between MarkStarted and now, or zero before
// MarkStarted.
func Uptime(now time.Time) time.Duration {
	s := StartedAt()
	if s.IsZero() {
		return 0
	}
	return now.Sub(s)
}
