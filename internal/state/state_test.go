package state

import (
	"database/sql"
	"testing"
	"time"

	"fleetalert/internal/alert"
	"fleetalert/internal/storage"

	_ "modernc.org/sqlite"
)

func setupTestStore(t *testing.T) *Store {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatal(err)
	}
	if err := storage.CreateSchema(db); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })
	return NewStore(db)
}

func TestOfflineTransitionEmitsDisconnected(t *testing.T) {
	s := setupTestStore(t)
	now := time.Date(2024, 1, 8, 9, 30, 0, 0, time.UTC)

	ev, err := s.Apply("C1", false, true, now)
	if err != nil {
		t.Fatal(err)
	}
	if ev == nil || ev.Kind != alert.KindDisconnected {
		t.Fatalf("expected disconnected event, got %+v", ev)
	}

	st, _ := s.Get("C1")
	if !st.IsCurrentlyOutOfRange {
		t.Error("expected out-of-range flag set")
	}
	if st.OutOfRangeSince == nil || !st.OutOfRangeSince.Equal(now) {
		t.Errorf("out_of_range_since = %v, want %v", st.OutOfRangeSince, now)
	}
}

func TestOnlineTransitionEmitsConnectedWithAnchor(t *testing.T) {
	s := setupTestStore(t)
	down := time.Date(2024, 1, 8, 9, 30, 0, 0, time.UTC)
	up := down.Add(35 * time.Minute)

	s.Apply("C1", false, true, down)
	ev, err := s.Apply("C1", true, true, up)
	if err != nil {
		t.Fatal(err)
	}
	if ev == nil || ev.Kind != alert.KindConnected {
		t.Fatalf("expected connected event, got %+v", ev)
	}
	if ev.OfflineSince == nil || !ev.OfflineSince.Equal(down) {
		t.Errorf("event anchor = %v, want %v", ev.OfflineSince, down)
	}

	st, _ := s.Get("C1")
	if st.IsCurrentlyOutOfRange {
		t.Error("expected out-of-range flag cleared")
	}
	if st.OutOfRangeSince != nil {
		t.Errorf("out_of_range_since = %v, want nil", st.OutOfRangeSince)
	}
}

func TestNoTransitionEmitsNothing(t *testing.T) {
	s := setupTestStore(t)
	now := time.Now().UTC()

	// First report online: no transition (initial state is online).
	if ev, _ := s.Apply("C1", true, true, now); ev != nil {
		t.Errorf("expected no event on first online report, got %+v", ev)
	}

	s.Apply("C1", false, true, now)
	// Channel remains offline across repeated reports.
	if ev, _ := s.Apply("C1", false, true, now.Add(time.Hour)); ev != nil {
		t.Errorf("expected no event while still offline, got %+v", ev)
	}

	// The incident anchor must not move on repeated offline reports.
	st, _ := s.Get("C1")
	if st.OutOfRangeSince == nil || !st.OutOfRangeSince.Equal(now) {
		t.Errorf("incident anchor moved: %v", st.OutOfRangeSince)
	}
}

func TestNonOperationalUpdatesSilently(t *testing.T) {
	s := setupTestStore(t)
	now := time.Now().UTC()

	ev, err := s.Apply("C1", false, false, now)
	if err != nil {
		t.Fatal(err)
	}
	if ev != nil {
		t.Errorf("expected no event for non-operational channel, got %+v", ev)
	}

	// Physical state stays accurate.
	st, _ := s.Get("C1")
	if !st.IsCurrentlyOutOfRange {
		t.Error("expected physical state tracked while non-operational")
	}
	if st.LastAlertSent != nil {
		t.Error("last_alert_sent must stay untouched for non-operational channels")
	}

	if ev, _ := s.Apply("C1", true, false, now.Add(time.Minute)); ev != nil {
		t.Errorf("expected no reconnect event for non-operational channel, got %+v", ev)
	}
}

func TestAlreadyAlerted(t *testing.T) {
	s := setupTestStore(t)
	down := time.Date(2024, 1, 8, 9, 30, 0, 0, time.UTC)

	s.Apply("C2", false, true, down)

	// No alert sent yet.
	dup, err := s.AlreadyAlerted("C2")
	if err != nil {
		t.Fatal(err)
	}
	if dup {
		t.Error("expected not alerted before any send")
	}

	// Alert delivered after the incident began: suppressed.
	s.MarkAlertSent("C2", down.Add(35*time.Minute))
	if dup, _ = s.AlreadyAlerted("C2"); !dup {
		t.Error("expected dedup to suppress repeat alert for same incident")
	}

	// A marker older than the current incident does not suppress.
	s.Apply("C2", true, true, down.Add(time.Hour))
	s.Apply("C2", false, true, down.Add(2*time.Hour))
	if dup, _ = s.AlreadyAlerted("C2"); dup {
		t.Error("expected stale marker not to suppress a new incident")
	}
}

func TestClearAlertSent(t *testing.T) {
	s := setupTestStore(t)
	now := time.Now().UTC()

	s.Apply("C3", false, true, now)
	s.MarkAlertSent("C3", now.Add(time.Minute))
	if err := s.ClearAlertSent("C3"); err != nil {
		t.Fatal(err)
	}

	st, _ := s.Get("C3")
	if st.LastAlertSent != nil {
		t.Errorf("last_alert_sent = %v, want nil", st.LastAlertSent)
	}
}

func TestMarkerSurvivesReconnect(t *testing.T) {
	s := setupTestStore(t)
	now := time.Now().UTC()

	s.Apply("C4", false, true, now)
	s.MarkAlertSent("C4", now.Add(time.Minute))

	// Reconnecting clears the incident but not the marker; the processor
	// clears it only after the reconnection is reported to operators.
	s.Apply("C4", true, true, now.Add(2*time.Minute))
	st, _ := s.Get("C4")
	if st.LastAlertSent == nil {
		t.Error("expected marker kept until reconnection is reported")
	}
}
