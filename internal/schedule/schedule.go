package schedule

import (
	"fmt"
	"time"
)

// Window is a same-day span expressed as decimal hours (8.5 == 08:30).
// Both ends are inclusive.
type Window struct {
	Start float64
	End   float64
}

// Valid reports whether the window is well-formed.
func (w Window) Valid() bool {
	return w.Start >= 0 && w.End <= 24 && w.Start <= w.End
}

// Schedule is the single source of truth for the business-hours policy.
// Sunday is always outside working hours; Saturday uses its own, narrower
// window; Monday through Friday share the weekday window. All checks are
// evaluated in the configured location.
type Schedule struct {
	loc      *time.Location
	weekday  Window
	saturday Window
}

// New builds a schedule for the given IANA timezone name.
func New(timezone string, weekday, saturday Window) (*Schedule, error) {
	loc, err := time.LoadLocation(timezone)
	if err != nil {
		return nil, fmt.Errorf("load timezone %q: %w", timezone, err)
	}
	if !weekday.Valid() {
		return nil, fmt.Errorf("invalid weekday window %.2f-%.2f", weekday.Start, weekday.End)
	}
	if !saturday.Valid() {
		return nil, fmt.Errorf("invalid saturday window %.2f-%.2f", saturday.Start, saturday.End)
	}
	return &Schedule{loc: loc, weekday: weekday, saturday: saturday}, nil
}

// Location returns the schedule's timezone.
func (s *Schedule) Location() *time.Location {
	return s.loc
}

// Contains reports whether t falls inside working hours.
func (s *Schedule) Contains(t time.Time) bool {
	local := t.In(s.loc)

	var w Window
	switch local.Weekday() {
	case time.Sunday:
		return false
	case time.Saturday:
		w = s.saturday
	default:
		w = s.weekday
	}

	decimal := float64(local.Hour()) + float64(local.Minute())/60.0
	return decimal >= w.Start && decimal <= w.End
}
