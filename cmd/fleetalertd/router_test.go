package main

import (
	"database/sql"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"fleetalert/internal/bucket"
	"fleetalert/internal/catalog"
	"fleetalert/internal/engine"
	"fleetalert/internal/metrics"
	"fleetalert/internal/notify"
	"fleetalert/internal/schedule"
	"fleetalert/internal/state"
	"fleetalert/internal/storage"
	"fleetalert/internal/threshold"

	_ "modernc.org/sqlite"
)

func newTestRouter(t *testing.T) http.Handler {
	t.Helper()

	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })
	if err := storage.CreateSchema(db); err != nil {
		t.Fatal(err)
	}

	gate, err := schedule.New("UTC",
		schedule.Window{Start: 8.5, End: 18.5},
		schedule.Window{Start: 8.5, End: 14.5})
	if err != nil {
		t.Fatal(err)
	}

	history := notify.NewHistory(db)
	eng := engine.New(engine.Options{
		Catalog:    catalog.NewStore(db),
		States:     state.NewStore(db),
		Tracker:    threshold.NewTracker(3),
		Buckets:    bucket.NewStore(time.UTC),
		Dispatcher: notify.NewDispatcher(nil, history, 3, time.UTC),
		Gate:       gate,
		Recorder:   metrics.NewRecorder(),
	})
	return newRouter(eng, history)
}

func TestHealthz(t *testing.T) {
	r := newTestRouter(t)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), `"status":"ok"`) {
		t.Errorf("unexpected body: %s", w.Body.String())
	}
}

func TestReportAndStatus(t *testing.T) {
	r := newTestRouter(t)

	body := `{"channel_id":"CH1","online":false}`
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/report", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	r.ServeHTTP(w, req)
	if w.Code != http.StatusAccepted {
		t.Fatalf("report status = %d: %s", w.Code, w.Body.String())
	}

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/status", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var st engine.Status
	if err := json.Unmarshal(w.Body.Bytes(), &st); err != nil {
		t.Fatal(err)
	}
	if st.EventsQueued != 1 || st.PendingWindows != 1 {
		t.Errorf("unexpected counters: %+v", st)
	}
}

func TestReportRejectsEmptyPayload(t *testing.T) {
	r := newTestRouter(t)

	for _, body := range []string{`{}`, `{"channel_id":"CH1"}`} {
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/api/report", strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		r.ServeHTTP(w, req)
		if w.Code != http.StatusBadRequest {
			t.Errorf("body %s: status = %d, want 400", body, w.Code)
		}
	}
}

func TestForceProcessEndpoint(t *testing.T) {
	r := newTestRouter(t)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/process", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
}

func TestHistoryEndpoint(t *testing.T) {
	r := newTestRouter(t)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/history?limit=10", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var records []notify.Record
	if err := json.Unmarshal(w.Body.Bytes(), &records); err != nil {
		t.Fatal(err)
	}
	if len(records) != 0 {
		t.Errorf("expected empty history, got %d", len(records))
	}
}
