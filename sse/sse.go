package sse

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/subfusc/fawatch/config"
	"github.com/subfusc/fawatch/event_format"
	"github.com/subfusc/fawatch/metrics"
)

// Buffered events per listener before new ones are dropped for it.
const listenerBuffer = 64

type Event struct {
	Type string
	When time.Time
	Data any
}

func (e Event) ToMessage() string {
	var data map[string]any

	// The same Event goes to every listener, so never write into e.Data.
	switch ie := e.Data.(type) {
	case map[string]any:
		data = make(map[string]any, len(ie)+1)
		for k, v := range ie {
			data[k] = v
		}
		data["when"] = e.When
	default:
		data = map[string]any{
			"when":    e.When,
			"message": ie,
		}
	}

	buf := bytes.NewBuffer(nil)
	enc := json.NewEncoder(buf)
	enc.Encode(data)
	return fmt.Sprintf("event: %s\ndata: %s\n\n", e.Type, bytes.TrimRight(buf.Bytes(), "\n"))
}

func accessEvent(ev event_format.ResolvedEvent) Event {
	return Event{
		Type: "access",
		When: ev.When,
		Data: map[string]any{
			"name":  ev.Name,
			"pid":   ev.Pid,
			"codes": event_format.CodeString(ev.Codes),
			"path":  event_format.Escape(ev.Path),
		},
	}
}

// Server streams every emitted event to the connected /listen clients and
// serves the Prometheus metrics on /metrics.
type Server struct {
	srv    *http.Server
	logger *slog.Logger

	mu        sync.Mutex
	listeners map[chan Event]struct{}
	closed    bool
}

func sseHeaders(h http.Header) {
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("Access-Control-Allow-Origin", "*")
	h.Set("X-Accel-Buffering", "no")
}

func NewServer(c *config.Config, logger *slog.Logger) *Server {
	mux := &http.ServeMux{}
	s := &Server{
		srv: &http.Server{
			Addr:              fmt.Sprintf(":%d", c.HTTP.Port),
			Handler:           mux,
			ReadHeaderTimeout: 10 * time.Second,
		},
		logger:    logger,
		listeners: make(map[chan Event]struct{}),
	}

	mux.HandleFunc("GET /listen", s.SSETrapper())
	mux.Handle("GET /metrics", promhttp.Handler())
	mux.HandleFunc("GET /ping", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("OK"))
	})
	return s
}

func (s *Server) Handler() http.Handler {
	return s.srv.Handler
}

func (s *Server) subscribe() (chan Event, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, false
	}
	ch := make(chan Event, listenerBuffer)
	s.listeners[ch] = struct{}{}
	metrics.SSEListeners.Inc()
	return ch, true
}

func (s *Server) unsubscribe(ch chan Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.listeners[ch]; ok {
		delete(s.listeners, ch)
		close(ch)
		metrics.SSEListeners.Dec()
	}
}

func (s *Server) Listeners() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.listeners)
}

func (s *Server) SSETrapper() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		flusher, ok := w.(http.Flusher)
		if !ok {
			http.Error(w, "streaming unsupported", http.StatusInternalServerError)
			return
		}

		ch, ok := s.subscribe()
		if !ok {
			http.Error(w, "shutting down", http.StatusServiceUnavailable)
			return
		}
		defer s.unsubscribe(ch)

		s.logger.Info("SSE opening socket", "remote", r.RemoteAddr)
		defer func() { s.logger.Info("Closing SSE socket", "remote", r.RemoteAddr) }()

		sseHeaders(w.Header())
		w.WriteHeader(http.StatusOK)
		flusher.Flush()

		for {
			select {
			case message, open := <-ch:
				if !open {
					return
				}
				if _, err := fmt.Fprint(w, message.ToMessage()); err != nil {
					return
				}
				flusher.Flush()
			case <-r.Context().Done():
				return
			}
		}
	}
}

// Emit hands ev to every listener without blocking. A listener that is
// behind loses the event.
func (s *Server) Emit(ev event_format.ResolvedEvent) error {
	msg := accessEvent(ev)

	s.mu.Lock()
	defer s.mu.Unlock()
	for ch := range s.listeners {
		select {
		case ch <- msg:
		default:
			metrics.SSEDroppedTotal.Inc()
		}
	}
	return nil
}

// Start serves until Close. It returns nil when stopped by Close.
func (s *Server) Start() error {
	s.logger.Info("Starting HTTP server", "Addr", s.srv.Addr)
	if err := s.srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Close() error {
	s.mu.Lock()
	s.closed = true
	for ch := range s.listeners {
		delete(s.listeners, ch)
		close(ch)
		metrics.SSEListeners.Dec()
	}
	s.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.srv.Shutdown(ctx)
}
