package httpapi

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/goccy/go-json"

	"github.com/Investing-Academy/whatsapp-automation-mk-II/internal/bus"
	"github.com/Investing-Academy/whatsapp-automation-mk-II/internal/scheduler"
	"github.com/Investing-Academy/whatsapp-automation-mk-II/internal/status"
)

func testServer(t *testing.T) (*Server, *bus.Bus) {
	t.Helper()
	b := bus.New()
	sched := scheduler.New(scheduler.Options{Bus: b, Machine: status.NewMachine(b)})
	srv := New("", sched, status.NewMachine(b), b, nil)
	t.Cleanup(func() { srv.Stop(context.Background()) })
	return srv, b
}

func TestHealthz(t *testing.T) {
	srv, _ := testServer(t)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", rec.Code)
	}
}

func TestStats(t *testing.T) {
	srv, _ := testServer(t)

	req := httptest.NewRequest(http.MethodGet, "/stats", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	var body struct {
		Stage string `json:"stage"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatal(err)
	}
	if body.Stage != string(status.Idle) {
		t.Errorf("stage = %q, want IDLE", body.Stage)
	}
}

func fetchEvents(t *testing.T, srv *Server) []struct {
	Kind string `json:"kind"`
} {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, "/events", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var events []struct {
		Kind string `json:"kind"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&events); err != nil {
		t.Fatal(err)
	}
	return events
}

func TestEventsExposeBusActivity(t *testing.T) {
	srv, b := testServer(t)

	b.Publish(bus.Event{Kind: bus.KindCycleStarted, Timestamp: time.Now(), Payload: "c1"})
	b.Publish(bus.Event{Kind: bus.KindCycleCompleted, Timestamp: time.Now(), Payload: "c1"})

	// The collector runs on its own goroutine; poll until it catches up.
	deadline := time.Now().Add(2 * time.Second)
	for {
		events := fetchEvents(t, srv)
		if len(events) == 2 {
			if events[0].Kind != bus.KindCycleStarted || events[1].Kind != bus.KindCycleCompleted {
				t.Fatalf("events = %+v, want cycle start then completion", events)
			}
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("events = %+v, want 2 entries", events)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestEventLogBounded(t *testing.T) {
	l := &eventLog{}
	for i := 0; i < eventLogSize*2; i++ {
		l.add(bus.Event{Kind: bus.KindStageChanged})
	}
	if got := len(l.snapshot()); got != eventLogSize {
		t.Errorf("log length = %d, want %d", got, eventLogSize)
	}
}
