package bucket

import (
	"sort"
	"sync"
	"time"

	"fleetalert/internal/alert"
)

// Entry is one channel's drained share of one hour window, split by
// concern: connection events are always dispatch-eligible, temperature
// events may have been held and carried forward instead.
type Entry struct {
	Window      time.Time
	ChannelID   string
	Connection  []alert.Event
	Temperature []alert.Event
}

// Store buckets alert events into hour windows keyed by the local clock
// hour of their timestamp. Windows are created lazily on first event and
// removed when drained.
type Store struct {
	mu      sync.Mutex
	loc     *time.Location
	windows map[time.Time]map[string][]alert.Event
}

// NewStore creates an empty bucket store keying windows in loc. A nil
// location keys them in UTC.
func NewStore(loc *time.Location) *Store {
	if loc == nil {
		loc = time.UTC
	}
	return &Store{
		loc:     loc,
		windows: make(map[time.Time]map[string][]alert.Event),
	}
}

// WindowFor returns the hour window an event timestamp belongs to,
// truncated on the local clock hour of loc so half-hour-offset zones
// still align with wall-clock hours.
func WindowFor(ts time.Time, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.UTC
	}
	t := ts.In(loc)
	return time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), 0, 0, 0, loc)
}

// Window returns the store's hour window for a timestamp.
func (s *Store) Window(ts time.Time) time.Time {
	return WindowFor(ts, s.loc)
}

// Append queues an event into its hour window.
func (s *Store) Append(ev alert.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.appendLocked(WindowFor(ev.Timestamp, s.loc), ev)
}

func (s *Store) appendLocked(window time.Time, ev alert.Event) {
	byChannel, ok := s.windows[window]
	if !ok {
		byChannel = make(map[string][]alert.Event)
		s.windows[window] = byChannel
	}
	byChannel[ev.ChannelID] = append(byChannel[ev.ChannelID], ev)
}

// Drain removes every window strictly before the hour containing cutoff
// and returns immutable snapshots for dispatch. The current, still-filling
// hour is never touched.
//
// When holdTemp reports the window is inside working hours, that window's
// temperature events are migrated into the next hour's bucket instead of
// being returned; the destination bucket is populated before the source
// window is deleted, all under one lock, so a batch is either fully
// migrated or fully drained, never both or neither.
func (s *Store) Drain(cutoff time.Time, holdTemp func(window time.Time) bool) []Entry {
	currentWindow := WindowFor(cutoff, s.loc)

	s.mu.Lock()
	defer s.mu.Unlock()

	var due []time.Time
	for w := range s.windows {
		if w.Before(currentWindow) {
			due = append(due, w)
		}
	}
	sort.Slice(due, func(i, j int) bool { return due[i].Before(due[j]) })

	var entries []Entry
	for _, w := range due {
		byChannel := s.windows[w]

		var channels []string
		for id := range byChannel {
			channels = append(channels, id)
		}
		sort.Strings(channels)

		hold := holdTemp != nil && holdTemp(w)

		for _, id := range channels {
			entry := Entry{Window: w, ChannelID: id}
			for _, ev := range byChannel[id] {
				if ev.Kind == alert.KindTemperature {
					entry.Temperature = append(entry.Temperature, ev)
				} else {
					entry.Connection = append(entry.Connection, ev)
				}
			}

			if hold && len(entry.Temperature) > 0 {
				// Ride forward hour by hour until a non-working hour
				// drains them.
				next := w.Add(time.Hour)
				for _, ev := range entry.Temperature {
					s.appendLocked(next, ev)
				}
				entry.Temperature = nil
			}

			if len(entry.Connection) > 0 || len(entry.Temperature) > 0 {
				entries = append(entries, entry)
			}
		}

		delete(s.windows, w)
	}
	return entries
}

// Sizes returns the number of pending windows and queued events.
func (s *Store) Sizes() (windows, events int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, byChannel := range s.windows {
		for _, evs := range byChannel {
			events += len(evs)
		}
	}
	return len(s.windows), events
}
