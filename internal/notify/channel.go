package notify

import (
	"context"

	"fleetalert/internal/alert"
)

// Channel is one independent delivery transport. Implementations own their
// retry, pacing, and partial-failure semantics; a failure is reported in
// the result, never by panicking or aborting the caller's batch.
type Channel interface {
	Name() string
	Send(ctx context.Context, recipients []string, message string) alert.DispatchResult
}

// Recipients maps a batch class to its recipient list, with a default
// fallback resolved at startup.
type Recipients struct {
	Connection  []string
	Temperature []string
}

// For returns the recipient list for the given batch class.
func (r Recipients) For(class alert.Kind) []string {
	if class == alert.KindTemperature {
		return r.Temperature
	}
	return r.Connection
}

// Transport pairs a channel with its recipients and rendering limits.
type Transport struct {
	Channel    Channel
	Recipients Recipients

	// CharBudget caps the rendered message length; 0 means unlimited.
	CharBudget int
}
