package engine

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"fleetalert/internal/alert"
	"fleetalert/internal/bucket"
	"fleetalert/internal/catalog"
	"fleetalert/internal/metrics"
	"fleetalert/internal/notify"
	"fleetalert/internal/schedule"
	"fleetalert/internal/state"
	"fleetalert/internal/threshold"
)

// Options wires the engine's collaborators. All of them are required
// except Recorder and History maintenance settings.
type Options struct {
	Catalog    *catalog.Store
	States     *state.Store
	Tracker    *threshold.Tracker
	Buckets    *bucket.Store
	Dispatcher *notify.Dispatcher
	Gate       *schedule.Schedule
	Recorder   *metrics.Recorder
	History    *notify.History

	HistoryRetention time.Duration
	StreakMaxIdle    time.Duration
}

// Engine owns all alerting state: it turns raw collector reports into
// bucketed alert events and drains them on hour boundaries through the
// dispatcher. Constructed once at startup and injected into collaborators;
// there are no ambient globals.
type Engine struct {
	catalog    *catalog.Store
	states     *state.Store
	tracker    *threshold.Tracker
	buckets    *bucket.Store
	dispatcher *notify.Dispatcher
	gate       *schedule.Schedule
	recorder   *metrics.Recorder
	history    *notify.History

	historyRetention time.Duration
	streakMaxIdle    time.Duration

	// mu serializes per-channel state transitions and the dedup
	// bookkeeping of a drain. It is never held across a network call:
	// buckets are drained into immutable snapshots first.
	mu      sync.Mutex
	running bool

	queued     uint64
	dispatched uint64
	suppressed uint64
	failures   uint64

	// nowFn is swapped out in tests to drive the clock.
	nowFn func() time.Time
}

// New builds the engine.
func New(opts Options) *Engine {
	if opts.Recorder == nil {
		opts.Recorder = metrics.NewRecorder()
	}
	if opts.HistoryRetention <= 0 {
		opts.HistoryRetention = 90 * 24 * time.Hour
	}
	if opts.StreakMaxIdle <= 0 {
		opts.StreakMaxIdle = 24 * time.Hour
	}
	return &Engine{
		catalog:          opts.Catalog,
		states:           opts.States,
		tracker:          opts.Tracker,
		buckets:          opts.Buckets,
		dispatcher:       opts.Dispatcher,
		gate:             opts.Gate,
		recorder:         opts.Recorder,
		history:          opts.History,
		historyRetention: opts.HistoryRetention,
		streakMaxIdle:    opts.StreakMaxIdle,
		nowFn:            time.Now,
	}
}

// RecordReading ingests one temperature reading from a collector.
// Thresholds and the operational flag travel with the reading; the
// catalog only supplies the display name.
func (e *Engine) RecordReading(channelID string, value float64, ts time.Time, min, max *float64, operational bool) {
	if err := e.catalog.EnsureExists(channelID, channelID); err != nil {
		logrus.WithError(err).WithField("channel", channelID).Warn("catalog registration failed")
	}

	meta := catalog.Channel{
		ChannelID:     channelID,
		IsOperational: operational,
		MinThreshold:  min,
		MaxThreshold:  max,
	}
	if known, err := e.catalog.Get(channelID); err == nil && known != nil {
		meta.Name = known.Name
	}

	ev := e.tracker.Record(meta, value, ts)
	if ev == nil {
		return
	}
	e.enqueue(*ev)
}

// OnConnectionReport ingests one connectivity report from a collector.
func (e *Engine) OnConnectionReport(channelID string, online, operational bool) {
	now := e.nowFn()

	if err := e.catalog.EnsureExists(channelID, channelID); err != nil {
		logrus.WithError(err).WithField("channel", channelID).Warn("catalog registration failed")
	}

	e.mu.Lock()
	ev, err := e.states.Apply(channelID, online, operational, now)
	e.mu.Unlock()
	if err != nil {
		e.recorder.RecordError(err)
		logrus.WithError(err).WithField("channel", channelID).Error("connection state update failed")
		return
	}
	if ev == nil {
		return
	}

	if known, kerr := e.catalog.Get(channelID); kerr == nil && known != nil {
		ev.ChannelName = known.Name
	}
	e.enqueue(*ev)
}

func (e *Engine) enqueue(ev alert.Event) {
	e.buckets.Append(ev)
	metrics.EventsQueued.WithLabelValues(string(ev.Kind)).Inc()

	e.mu.Lock()
	e.queued++
	e.mu.Unlock()

	windows, _ := e.buckets.Sizes()
	metrics.PendingWindows.Set(float64(windows))

	logrus.WithFields(logrus.Fields{
		"channel": ev.ChannelID,
		"kind":    ev.Kind,
		"window":  e.buckets.Window(ev.Timestamp).Format(time.RFC3339),
	}).Debug("alert event queued")
}

// ProcessPending drains every hour window strictly before now and
// dispatches the eligible batches. Temperature batches whose window falls
// inside working hours are carried into the next window by the bucket
// store instead of being returned here.
func (e *Engine) ProcessPending(ctx context.Context, now time.Time) {
	start := time.Now()
	entries := e.buckets.Drain(now, e.gate.Contains)

	for _, entry := range entries {
		e.processEntry(ctx, entry, now)
	}

	windows, _ := e.buckets.Sizes()
	metrics.PendingWindows.Set(float64(windows))
	metrics.DrainDuration.Observe(time.Since(start).Seconds())

	if len(entries) > 0 {
		logrus.WithField("entries", len(entries)).Info("hourly drain complete")
	}
}

func (e *Engine) processEntry(ctx context.Context, entry bucket.Entry, now time.Time) {
	name := entry.ChannelID
	if known, err := e.catalog.Get(entry.ChannelID); err == nil && known != nil && known.Name != "" {
		name = known.Name
	}

	if len(entry.Temperature) > 0 {
		e.dispatchBatch(ctx, alert.Batch{
			Window:      entry.Window,
			ChannelID:   entry.ChannelID,
			ChannelName: name,
			Events:      entry.Temperature,
		}, now)
	}

	if len(entry.Connection) > 0 {
		e.processConnection(ctx, entry, name, now)
	}
}

// processConnection applies the incident dedup rule and dispatches the
// connection batch. Connection alerts are safety-critical and bypass the
// working-hours gate entirely.
func (e *Engine) processConnection(ctx context.Context, entry bucket.Entry, name string, now time.Time) {
	batch := alert.Batch{
		Window:      entry.Window,
		ChannelID:   entry.ChannelID,
		ChannelName: name,
		Events:      entry.Connection,
		FinalStatus: alert.StatusDisconnected,
	}
	if final := batch.Final(); final != nil && final.Kind == alert.KindConnected {
		batch.FinalStatus = alert.StatusConnected
	}

	if batch.FinalStatus == alert.StatusDisconnected {
		e.mu.Lock()
		dup, err := e.states.AlreadyAlerted(entry.ChannelID)
		e.mu.Unlock()
		if err != nil {
			e.recorder.RecordError(err)
			logrus.WithError(err).WithField("channel", entry.ChannelID).Error("dedup check failed")
			return
		}
		if dup {
			// An alert for this incident was already delivered; the
			// bucket entry is drained, not forwarded, because the
			// persisted state already carries the incident.
			metrics.AlertsSuppressed.Inc()
			e.mu.Lock()
			e.suppressed++
			e.mu.Unlock()
			logrus.WithField("channel", entry.ChannelID).Debug("disconnection alert suppressed by dedup")
			return
		}

		if e.dispatchBatch(ctx, batch, now) {
			e.mu.Lock()
			if err := e.states.MarkAlertSent(entry.ChannelID, now); err != nil {
				e.recorder.RecordError(err)
			}
			e.mu.Unlock()
		}
		return
	}

	// Reconnection closes the incident: always report it, then open a
	// fresh dedup window.
	if e.dispatchBatch(ctx, batch, now) {
		e.mu.Lock()
		if err := e.states.ClearAlertSent(entry.ChannelID); err != nil {
			e.recorder.RecordError(err)
		}
		e.mu.Unlock()
	}
}

// dispatchBatch fans the batch out and reports whether any transport
// reached a recipient.
func (e *Engine) dispatchBatch(ctx context.Context, b alert.Batch, now time.Time) bool {
	results := e.dispatcher.Dispatch(ctx, b)

	delivered := notify.Delivered(results)
	e.mu.Lock()
	if delivered {
		e.dispatched++
	}
	for _, r := range results {
		if r.FailedCount > 0 || (r.Reason == "" && r.SentCount == 0) {
			e.failures++
		}
	}
	e.mu.Unlock()

	if delivered {
		e.recorder.RecordSuccess(now)
	} else {
		for _, r := range results {
			if r.Reason != "" {
				e.recorder.RecordError(&dispatchError{transport: r.Transport, reason: r.Reason})
			}
		}
	}
	return delivered
}

// ForceProcess drains pending windows outside the normal hourly tick.
func (e *Engine) ForceProcess() {
	e.ProcessPending(context.Background(), e.nowFn())
}

type dispatchError struct {
	transport string
	reason    alert.Reason
}

func (d *dispatchError) Error() string {
	return "dispatch skipped on " + d.transport + ": " + string(d.reason)
}
