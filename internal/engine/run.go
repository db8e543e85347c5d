package engine

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
)

// drainGrace delays the hourly drain slightly past the boundary so that
// reports stamped exactly on the hour land in their own window first.
const drainGrace = 5 * time.Second

// Status is a point-in-time snapshot for the diagnostics endpoint.
type Status struct {
	Running          bool      `json:"running"`
	PendingWindows   int       `json:"pending_windows"`
	PendingEvents    int       `json:"pending_events"`
	ActiveStreaks    int       `json:"active_streaks"`
	EventsQueued     uint64    `json:"events_queued"`
	BatchesSent      uint64    `json:"batches_sent"`
	AlertsSuppressed uint64    `json:"alerts_suppressed"`
	SendFailures     uint64    `json:"send_failures"`
	LastError        string    `json:"last_error,omitempty"`
	LastErrorAt      time.Time `json:"last_error_at,omitempty"`
	LastSuccess      time.Time `json:"last_success,omitempty"`
}

// Status reports the engine's counters and queue depth.
func (e *Engine) Status() Status {
	windows, events := e.buckets.Sizes()
	lastErr, lastErrAt, lastOK := e.recorder.Snapshot()

	e.mu.Lock()
	defer e.mu.Unlock()
	return Status{
		Running:          e.running,
		PendingWindows:   windows,
		PendingEvents:    events,
		ActiveStreaks:    e.tracker.Active(),
		EventsQueued:     e.queued,
		BatchesSent:      e.dispatched,
		AlertsSuppressed: e.suppressed,
		SendFailures:     e.failures,
		LastError:        lastErr,
		LastErrorAt:      lastErrAt,
		LastSuccess:      lastOK,
	}
}

func (e *Engine) setRunning(v bool) {
	e.mu.Lock()
	e.running = v
	e.mu.Unlock()
}

// Run drives the hourly drain and periodic maintenance until ctx is
// cancelled. It blocks; the caller usually runs it in its own goroutine.
func (e *Engine) Run(ctx context.Context) {
	e.setRunning(true)
	defer e.setRunning(false)

	logrus.Info("alert engine started")

	cleanup := time.NewTicker(time.Hour)
	defer cleanup.Stop()

	for {
		now := e.nowFn()
		next := now.Truncate(time.Hour).Add(time.Hour).Add(drainGrace)
		timer := time.NewTimer(next.Sub(now))

		select {
		case <-ctx.Done():
			timer.Stop()
			logrus.Info("alert engine stopped")
			return
		case <-timer.C:
			e.ProcessPending(ctx, e.nowFn())
		case <-cleanup.C:
			timer.Stop()
			e.runCleanup()
		}
	}
}

func (e *Engine) runCleanup() {
	now := e.nowFn()

	if pruned := e.tracker.Prune(now.Add(-e.streakMaxIdle)); pruned > 0 {
		logrus.WithField("streaks", pruned).Debug("pruned idle threshold streaks")
	}

	if e.history != nil {
		deleted, err := e.history.Cleanup(e.historyRetention)
		if err != nil {
			e.recorder.RecordError(err)
			logrus.WithError(err).Warn("dispatch history cleanup failed")
		} else if deleted > 0 {
			logrus.WithField("rows", deleted).Debug("pruned dispatch history")
		}
	}
}
