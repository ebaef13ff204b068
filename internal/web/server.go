// Package web serves a read-only view of a running campaign: fleet status,
// harness and worker logs, a server-sent event stream and Prometheus
// metrics.
package web

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/ilocn/creterun/internal/logbuf"
	"github.com/ilocn/creterun/internal/supervisor"
)

// pollInterval is a variable so tests can shorten it.
var pollInterval = 2 * time.Second

// StatusSource is what the server reports on. *supervisor.Supervisor
// implements it.
type StatusSource interface {
	Snapshot() supervisor.Status
	WorkerLog(name string) ([]string, bool)
}

type statusJSON struct {
	supervisor.Status
	UpdatedAt int64 `json:"updated_at"`
}

type sseClient struct {
	ch chan string
}

// Server holds the HTTP server state.
type Server struct {
	src     StatusSource
	lb      *logbuf.LogBuf
	metrics http.Handler

	mu      sync.Mutex
	clients map[*sseClient]struct{}
}

// New builds a Server. lb and metrics may be nil.
func New(src StatusSource, lb *logbuf.LogBuf, metrics http.Handler) *Server {
	return &Server{
		src:     src,
		lb:      lb,
		metrics: metrics,
		clients: make(map[*sseClient]struct{}),
	}
}

// Handler returns the route table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/fleet", s.handleFleet)
	mux.HandleFunc("/api/logs", s.handleLogs)
	mux.HandleFunc("/events", s.handleEvents)
	if s.metrics != nil {
		mux.Handle("/metrics", s.metrics)
	}
	return mux
}

// Serve listens on addr until ctx is cancelled.
func Serve(ctx context.Context, addr string, src StatusSource, lb *logbuf.LogBuf, metrics http.Handler) error {
	srv := New(src, lb, metrics)
	httpSrv := &http.Server{Addr: addr, Handler: srv.Handler(), ReadHeaderTimeout: 10 * time.Second}

	go srv.pollLoop(ctx)
	if lb != nil {
		go srv.forwardLogs(ctx, lb)
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := httpSrv.Shutdown(shutdownCtx); err != nil {
			slog.Error("monitor shutdown failed", slog.Any("error", err))
		}
	}()

	slog.Info("monitor listening", slog.String("addr", addr))
	if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) status() statusJSON {
	return statusJSON{Status: s.src.Snapshot(), UpdatedAt: time.Now().Unix()}
}

// handleFleet returns the supervisor snapshot as JSON.
func (s *Server) handleFleet(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.status())
}

// handleLogs returns the harness log, or with ?worker=<name> that worker's
// output.
func (s *Server) handleLogs(w http.ResponseWriter, r *http.Request) {
	var lines []string
	if name := r.URL.Query().Get("worker"); name != "" {
		var ok bool
		lines, ok = s.src.WorkerLog(name)
		if !ok {
			http.Error(w, "unknown worker "+name, http.StatusNotFound)
			return
		}
	} else if s.lb != nil {
		lines = s.lb.Lines()
	}
	if lines == nil {
		lines = []string{}
	}
	writeJSON(w, lines)
}

func writeJSON(w http.ResponseWriter, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-cache")
	w.Write(data)
}

// handleEvents streams "status" and "log" server-sent events.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	flusher.Flush()

	client := &sseClient{ch: make(chan string, 16)}
	s.mu.Lock()
	s.clients[client] = struct{}{}
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		delete(s.clients, client)
		s.mu.Unlock()
	}()

	if data, err := json.Marshal(s.status()); err == nil {
		fmt.Fprintf(w, "event: status\ndata: %s\n\n", data)
	}
	if s.lb != nil {
		for _, line := range s.lb.Lines() {
			fmt.Fprintf(w, "event: log\ndata: %s\n\n", line)
		}
	}
	flusher.Flush()

	for {
		select {
		case msg := <-client.ch:
			fmt.Fprint(w, msg)
			flusher.Flush()
		case <-r.Context().Done():
			return
		}
	}
}

// broadcastRaw sends a pre-formatted SSE message to every client, dropping
// it for clients whose buffer is full.
func (s *Server) broadcastRaw(msg string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for c := range s.clients {
		select {
		case c.ch <- msg:
		default:
		}
	}
}

func (s *Server) pollLoop(ctx context.Context) {
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			data, err := json.Marshal(s.status())
			if err != nil {
				slog.Error("encode fleet status", slog.Any("error", err))
				continue
			}
			s.broadcastRaw(fmt.Sprintf("event: status\ndata: %s\n\n", data))
		}
	}
}

func (s *Server) forwardLogs(ctx context.Context, lb *logbuf.LogBuf) {
	ch := lb.Subscribe()
	defer lb.Unsubscribe(ch)
	for {
		select {
		case <-ctx.Done():
			return
		case line := <-ch:
			s.broadcastRaw(fmt.Sprintf("event: log\ndata: %s\n\n", line))
		}
	}
}
