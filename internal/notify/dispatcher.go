package notify

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"fleetalert/internal/alert"
	"fleetalert/internal/metrics"
)

// Dispatcher fans one batch out to every configured transport. Transports
// are fully independent: each one gets its own rendered message, its own
// recipient list, and its own result, and a failure on one never blocks
// another.
type Dispatcher struct {
	transports []Transport
	history    *History
	maxEntries int
	loc        *time.Location
}

// NewDispatcher wires the transports and the dispatch history store.
func NewDispatcher(transports []Transport, history *History, maxEntries int, loc *time.Location) *Dispatcher {
	if maxEntries <= 0 {
		maxEntries = 3
	}
	return &Dispatcher{
		transports: transports,
		history:    history,
		maxEntries: maxEntries,
		loc:        loc,
	}
}

// Dispatch renders and sends a batch on every transport, returning one
// result per transport.
func (d *Dispatcher) Dispatch(ctx context.Context, b alert.Batch) []alert.DispatchResult {
	class := Class(b)
	message := Render(b, d.maxEntries, d.loc)

	results := make([]alert.DispatchResult, 0, len(d.transports))
	for _, t := range d.transports {
		msg := Clip(message, t.CharBudget)
		res := t.Channel.Send(ctx, t.Recipients.For(class), msg)

		status := "sent"
		switch {
		case res.Reason != "":
			status = "skipped"
		case res.SentCount == 0:
			status = "failed"
		case res.FailedCount > 0:
			status = "partial"
		}
		metrics.BatchesDispatched.WithLabelValues(res.Transport, status).Inc()
		metrics.RecipientsSent.WithLabelValues(res.Transport, "sent").Add(float64(res.SentCount))
		metrics.RecipientsSent.WithLabelValues(res.Transport, "failed").Add(float64(res.FailedCount))

		if _, err := d.history.Record(b, res, msg); err != nil {
			logrus.WithError(err).Warn("failed to record dispatch history")
		}

		logrus.WithFields(logrus.Fields{
			"channel":   b.ChannelID,
			"window":    b.Window.Format(time.RFC3339),
			"transport": res.Transport,
			"status":    status,
			"sent":      res.SentCount,
			"failed":    res.FailedCount,
			"reason":    res.Reason,
		}).Info("batch dispatched")

		results = append(results, res)
	}
	return results
}

// Delivered reports whether any transport reached at least one recipient.
func Delivered(results []alert.DispatchResult) bool {
	for _, r := range results {
		if r.Delivered() {
			return true
		}
	}
	return false
}
