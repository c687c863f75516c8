// Package httpapi exposes read-only health, run statistics and recent
// pipeline events for operators.
package httpapi

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/goccy/go-json"
	"go.uber.org/zap"

	"github.com/Investing-Academy/whatsapp-automation-mk-II/internal/bus"
	"github.com/Investing-Academy/whatsapp-automation-mk-II/internal/scheduler"
	"github.com/Investing-Academy/whatsapp-automation-mk-II/internal/status"
)

// eventLogSize bounds how many recent bus events /events returns.
const eventLogSize = 64

// Server serves /healthz, /stats and /events on a local address.
type Server struct {
	srv     *http.Server
	sched   *scheduler.Scheduler
	machine *status.Machine
	logger  *zap.Logger

	events *eventLog
	unsub  func()
	done   chan struct{}
}

// New creates the HTTP server and starts collecting bus events into the
// recent-events log. addr may be empty; Start is then a no-op but /events
// still fills for tests driving Handler directly.
func New(addr string, sched *scheduler.Scheduler, machine *status.Machine, b *bus.Bus, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		sched:   sched,
		machine: machine,
		logger:  logger,
		events:  &eventLog{},
		done:    make(chan struct{}),
	}

	ch, unsub := b.Subscribe("", eventLogSize)
	s.unsub = unsub
	go s.collect(ch)

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Get("/healthz", s.handleHealth)
	r.Get("/stats", s.handleStats)
	r.Get("/events", s.handleEvents)

	if addr != "" {
		s.srv = &http.Server{
			Addr:              addr,
			Handler:           r,
			ReadHeaderTimeout: 5 * time.Second,
		}
	}
	return s
}

func (s *Server) collect(ch <-chan bus.Event) {
	for {
		select {
		case evt := <-ch:
			s.events.add(evt)
		case <-s.done:
			return
		}
	}
}

// Handler returns the router, for tests.
func (s *Server) Handler() http.Handler {
	if s.srv != nil {
		return s.srv.Handler
	}
	r := chi.NewRouter()
	r.Get("/healthz", s.handleHealth)
	r.Get("/stats", s.handleStats)
	r.Get("/events", s.handleEvents)
	return r
}

// Start begins serving. Blocks until Stop or a listener error.
func (s *Server) Start() error {
	if s.srv == nil {
		return nil
	}
	s.logger.Info("http api listening", zap.String("addr", s.srv.Addr))
	err := s.srv.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Stop shuts the server down gracefully and stops the event collector.
func (s *Server) Stop(ctx context.Context) {
	s.unsub()
	close(s.done)

	if s.srv == nil {
		return
	}
	if err := s.srv.Shutdown(ctx); err != nil {
		s.logger.Warn("http shutdown", zap.Error(err))
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, map[string]string{"status": "ok"})
}

type statsResponse struct {
	Stage string          `json:"stage"`
	Runs  scheduler.Stats `json:"runs"`
}

func (s *Server) handleStats(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, statsResponse{
		Stage: string(s.machine.Current()),
		Runs:  s.sched.Stats(),
	})
}

type eventEntry struct {
	Kind      string    `json:"kind"`
	Timestamp time.Time `json:"timestamp"`
	Payload   any       `json:"payload,omitempty"`
}

// eventLog keeps the most recent bus events, oldest first.
type eventLog struct {
	mu      sync.Mutex
	entries []eventEntry
}

func (l *eventLog) add(evt bus.Event) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, eventEntry{
		Kind:      evt.Kind,
		Timestamp: evt.Timestamp,
		Payload:   evt.Payload,
	})
	if len(l.entries) > eventLogSize {
		l.entries = l.entries[len(l.entries)-eventLogSize:]
	}
}

func (l *eventLog) snapshot() []eventEntry {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]eventEntry, len(l.entries))
	copy(out, l.entries)
	return out
}

func (s *Server) handleEvents(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, s.events.snapshot())
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}
