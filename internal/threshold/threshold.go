package threshold

import (
	"math"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"fleetalert/internal/alert"
	"fleetalert/internal/catalog"
)

// streak is one channel's run of consecutive out-of-range readings.
// Transient, in-memory only.
type streak struct {
	count    int
	values   []float64
	lastSeen time.Time
}

// Tracker debounces temperature excursions: a single transient reading
// never alerts, only a full streak of consecutive out-of-range readings
// does. A streak is consumed exactly once when it escalates.
type Tracker struct {
	mu        sync.Mutex
	streakLen int
	streaks   map[string]*streak
}

// NewTracker creates a tracker that escalates after streakLen consecutive
// out-of-range readings.
func NewTracker(streakLen int) *Tracker {
	if streakLen <= 0 {
		streakLen = 3
	}
	return &Tracker{
		streakLen: streakLen,
		streaks:   make(map[string]*streak),
	}
}

// Record processes one reading and returns a temperature event when the
// escalation streak is reached, nil otherwise.
//
// Non-operational channels and channels without both thresholds are
// ignored entirely. Non-numeric readings (NaN, ±Inf) neither increment
// nor reset the streak.
func (t *Tracker) Record(ch catalog.Channel, value float64, ts time.Time) *alert.Event {
	if !ch.IsOperational || !ch.HasThresholds() {
		return nil
	}
	if math.IsNaN(value) || math.IsInf(value, 0) {
		logrus.WithFields(logrus.Fields{
			"channel": ch.ChannelID,
			"value":   value,
		}).Warn("discarding non-numeric reading")
		return nil
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	s := t.streaks[ch.ChannelID]

	inRange := value >= *ch.MinThreshold && value <= *ch.MaxThreshold
	if inRange {
		// A single normal reading clears the streak outright.
		if s != nil && s.count > 0 {
			delete(t.streaks, ch.ChannelID)
		}
		return nil
	}

	if s == nil {
		s = &streak{}
		t.streaks[ch.ChannelID] = s
	}
	s.count++
	s.values = append(s.values, value)
	s.lastSeen = ts

	if s.count < t.streakLen {
		return nil
	}

	// Escalate, carrying the full streak history, and consume the streak.
	values := make([]float64, len(s.values))
	copy(values, s.values)
	delete(t.streaks, ch.ChannelID)

	logrus.WithFields(logrus.Fields{
		"channel": ch.ChannelID,
		"value":   value,
		"streak":  len(values),
	}).Info("temperature escalation")

	return &alert.Event{
		ChannelID:    ch.ChannelID,
		ChannelName:  ch.Name,
		Kind:         alert.KindTemperature,
		Timestamp:    ts,
		Temperature:  value,
		Values:       values,
		MinThreshold: ch.MinThreshold,
		MaxThreshold: ch.MaxThreshold,
	}
}

// Count returns the current streak length for a channel.
func (t *Tracker) Count(channelID string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	if s := t.streaks[channelID]; s != nil {
		return s.count
	}
	return 0
}

// Active returns the number of channels with a streak in progress.
func (t *Tracker) Active() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.streaks)
}

// Prune drops streaks with no reading since the cutoff, so channels that
// stop reporting mid-excursion do not pin memory forever.
func (t *Tracker) Prune(cutoff time.Time) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	pruned := 0
	for id, s := range t.streaks {
		if s.lastSeen.Before(cutoff) {
			delete(t.streaks, id)
			pruned++
		}
	}
	return pruned
}
