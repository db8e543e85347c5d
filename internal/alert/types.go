package alert

import "time"

// Kind identifies what an event reports about a channel.
type Kind string

const (
	KindConnected    Kind = "connected"
	KindDisconnected Kind = "disconnected"
	KindTemperature  Kind = "temperature"
)

// Status is the connection status a batch reports for its window.
type Status int

const (
	StatusDisconnected Status = iota
	StatusConnected
)

// String returns the operator-facing label used in rendered messages.
func (s Status) String() string {
	if s == StatusConnected {
		return "CONECTADO"
	}
	return "DESCONECTADO"
}

// Event is an immutable record of a single state transition or threshold
// escalation. It is appended to exactly one hourly bucket and never mutated.
type Event struct {
	ChannelID   string    `json:"channel_id"`
	ChannelName string    `json:"channel_name,omitempty"`
	Kind        Kind      `json:"kind"`
	Timestamp   time.Time `json:"timestamp"`

	// Temperature events carry the reading that tripped the escalation,
	// the full streak of out-of-range values behind it, and the limits
	// that were violated.
	Temperature  float64   `json:"temperature,omitempty"`
	Values       []float64 `json:"values,omitempty"`
	MinThreshold *float64  `json:"min_threshold,omitempty"`
	MaxThreshold *float64  `json:"max_threshold,omitempty"`

	// Connection events anchor reporting on the start of the incident.
	OfflineSince *time.Time `json:"offline_since,omitempty"`
}

// Batch is one channel's drained events for one hour window, carrying the
// final connection state so operators can see flapping history in a single
// message.
type Batch struct {
	Window      time.Time
	ChannelID   string
	ChannelName string
	Events      []Event
	FinalStatus Status
}

// Final returns the last event in the batch, or nil when empty.
func (b Batch) Final() *Event {
	if len(b.Events) == 0 {
		return nil
	}
	return &b.Events[len(b.Events)-1]
}

// Reason explains why a dispatch attempt sent nothing.
type Reason string

const (
	ReasonNoRecipients  Reason = "no_recipients"
	ReasonInvalidMsg    Reason = "invalid_message"
	ReasonNotConfigured Reason = "not_configured"
)

// DispatchResult reports the outcome of one send attempt on one transport.
type DispatchResult struct {
	Transport      string `json:"transport"`
	RecipientCount int    `json:"recipient_count"`
	SentCount      int    `json:"sent_count"`
	FailedCount    int    `json:"failed_count"`
	Reason         Reason `json:"reason,omitempty"`
}

// Delivered reports whether at least one recipient received the message.
func (r DispatchResult) Delivered() bool {
	return r.Reason == "" && r.SentCount > 0
}
