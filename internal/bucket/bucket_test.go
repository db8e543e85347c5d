package bucket

import (
	"testing"
	"time"

	"fleetalert/internal/alert"
)

func tempEvent(channel string, ts time.Time) alert.Event {
	return alert.Event{ChannelID: channel, Kind: alert.KindTemperature, Timestamp: ts, Temperature: -25}
}

func connEvent(channel string, kind alert.Kind, ts time.Time) alert.Event {
	return alert.Event{ChannelID: channel, Kind: kind, Timestamp: ts}
}

func never(time.Time) bool  { return false }
func always(time.Time) bool { return true }

func TestDrainSkipsCurrentWindow(t *testing.T) {
	s := NewStore(time.UTC)
	now := time.Date(2024, 1, 8, 20, 30, 0, 0, time.UTC)

	s.Append(tempEvent("C1", now.Add(-90*time.Minute))) // 19:00 window
	s.Append(tempEvent("C1", now.Add(-5*time.Minute)))  // 20:00 window, still filling

	entries := s.Drain(now, never)
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(entries))
	}
	if got := entries[0].Window; !got.Equal(time.Date(2024, 1, 8, 19, 0, 0, 0, time.UTC)) {
		t.Errorf("window = %v", got)
	}

	windows, events := s.Sizes()
	if windows != 1 || events != 1 {
		t.Errorf("sizes after drain = (%d, %d), want (1, 1)", windows, events)
	}
}

func TestDrainSplitsKinds(t *testing.T) {
	s := NewStore(time.UTC)
	base := time.Date(2024, 1, 8, 14, 0, 0, 0, time.UTC)

	s.Append(connEvent("C1", alert.KindDisconnected, base.Add(15*time.Minute)))
	s.Append(tempEvent("C1", base.Add(20*time.Minute)))
	s.Append(connEvent("C1", alert.KindConnected, base.Add(45*time.Minute)))

	entries := s.Drain(base.Add(time.Hour), never)
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(entries))
	}
	e := entries[0]
	if len(e.Connection) != 2 || len(e.Temperature) != 1 {
		t.Errorf("split = %d connection, %d temperature", len(e.Connection), len(e.Temperature))
	}
	if e.Connection[0].Kind != alert.KindDisconnected || e.Connection[1].Kind != alert.KindConnected {
		t.Error("connection events out of order")
	}
}

func TestHeldTemperatureMigratesForward(t *testing.T) {
	s := NewStore(time.UTC)
	base := time.Date(2024, 1, 8, 10, 0, 0, 0, time.UTC)

	s.Append(tempEvent("C1", base.Add(5*time.Minute)))
	s.Append(tempEvent("C1", base.Add(6*time.Minute)))
	s.Append(connEvent("C1", alert.KindDisconnected, base.Add(7*time.Minute)))

	entries := s.Drain(base.Add(time.Hour), always)

	// Connection events drain regardless; temperature rides forward.
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(entries))
	}
	if len(entries[0].Temperature) != 0 {
		t.Error("held temperature events must not be returned")
	}
	if len(entries[0].Connection) != 1 {
		t.Error("connection events must drain even when temperature is held")
	}

	// Nothing lost: the migrated events drain from the 11:00 window.
	entries = s.Drain(base.Add(2*time.Hour), never)
	if len(entries) != 1 {
		t.Fatalf("expected migrated entry, got %d", len(entries))
	}
	if len(entries[0].Temperature) != 2 {
		t.Errorf("migrated temperature events = %d, want 2", len(entries[0].Temperature))
	}
	if !entries[0].Window.Equal(base.Add(time.Hour)) {
		t.Errorf("migrated window = %v, want %v", entries[0].Window, base.Add(time.Hour))
	}
}

func TestForwardingAcrossManyWindowsLosesNothing(t *testing.T) {
	s := NewStore(time.UTC)
	base := time.Date(2024, 1, 8, 9, 0, 0, 0, time.UTC)

	for i := 0; i < 3; i++ {
		s.Append(tempEvent("C1", base.Add(time.Duration(i)*time.Minute)))
	}

	// Several drains during working hours: events keep riding forward.
	for hour := 1; hour <= 4; hour++ {
		if entries := s.Drain(base.Add(time.Duration(hour)*time.Hour), always); len(entries) != 0 {
			t.Fatalf("drain %d returned entries while held", hour)
		}
	}

	// First non-working drain delivers the complete batch.
	entries := s.Drain(base.Add(5*time.Hour), never)
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(entries))
	}
	if len(entries[0].Temperature) != 3 {
		t.Errorf("delivered %d events, want all 3", len(entries[0].Temperature))
	}

	if windows, events := s.Sizes(); windows != 0 || events != 0 {
		t.Errorf("store not empty after delivery: (%d, %d)", windows, events)
	}
}

func TestDrainOrdersWindowsAndChannels(t *testing.T) {
	s := NewStore(time.UTC)
	base := time.Date(2024, 1, 8, 6, 0, 0, 0, time.UTC)

	s.Append(tempEvent("B", base.Add(2*time.Hour)))
	s.Append(tempEvent("A", base.Add(2*time.Hour)))
	s.Append(tempEvent("C", base))

	entries := s.Drain(base.Add(4*time.Hour), never)
	if len(entries) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(entries))
	}
	if entries[0].ChannelID != "C" {
		t.Errorf("oldest window must drain first, got %s", entries[0].ChannelID)
	}
	if entries[1].ChannelID != "A" || entries[2].ChannelID != "B" {
		t.Errorf("channels within a window must be ordered: %s, %s", entries[1].ChannelID, entries[2].ChannelID)
	}
}

func TestWindowFor(t *testing.T) {
	ts := time.Date(2024, 1, 8, 14, 45, 30, 0, time.UTC)
	if got := WindowFor(ts, time.UTC); !got.Equal(time.Date(2024, 1, 8, 14, 0, 0, 0, time.UTC)) {
		t.Errorf("WindowFor = %v", got)
	}
}

// Windows must align with the local clock hour, not the UTC hour, so
// half-hour-offset zones bucket correctly.
func TestWindowForHalfHourOffsetZone(t *testing.T) {
	loc := time.FixedZone("UTC+0930", 9*3600+1800)
	ts := time.Date(2024, 1, 8, 10, 45, 0, 0, loc)

	got := WindowFor(ts, loc)
	want := time.Date(2024, 1, 8, 10, 0, 0, 0, loc)
	if !got.Equal(want) {
		t.Fatalf("WindowFor = %v, want %v", got, want)
	}
	if got.In(loc).Minute() != 0 {
		t.Errorf("window not on a local clock hour: %v", got.In(loc))
	}
}

func TestDrainAlignsWithLocalClockHours(t *testing.T) {
	loc := time.FixedZone("UTC+0930", 9*3600+1800)
	s := NewStore(loc)

	s.Append(tempEvent("C1", time.Date(2024, 1, 8, 10, 45, 0, 0, loc)))

	// 11:00 local is the earliest drain that releases the 10:00 window.
	if entries := s.Drain(time.Date(2024, 1, 8, 10, 59, 0, 0, loc), never); len(entries) != 0 {
		t.Fatalf("drained a still-filling local window: %v", entries)
	}
	entries := s.Drain(time.Date(2024, 1, 8, 11, 0, 5, 0, loc), never)
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(entries))
	}
	if !entries[0].Window.Equal(time.Date(2024, 1, 8, 10, 0, 0, 0, loc)) {
		t.Errorf("window = %v", entries[0].Window)
	}
}
