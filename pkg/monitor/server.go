package monitor

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/mux"
)

// SnapshotFunc returns a JSON-serialisable view of the current progress
type SnapshotFunc func() any

// Server serves /health and /metrics
type Server struct {
	started  time.Time
	snapshot SnapshotFunc
	router   *mux.Router
	srv      *http.Server
}

// New creates a monitoring server reporting whatever snapshot returns
func New(addr string, snapshot SnapshotFunc) *Server {
	s := &Server{
		started:  time.Now(),
		snapshot: snapshot,
		router:   mux.NewRouter(),
	}
	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")
	s.router.HandleFunc("/metrics", s.handleMetrics).Methods("GET")

	s.srv = &http.Server{
		Handler:      s.router,
		Addr:         addr,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return s
}

// Handler returns the router, mainly for tests
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start listens on the configured address and serves in the background.
// The returned address is the one actually bound.
func (s *Server) Start() (string, error) {
	ln, err := net.Listen("tcp", s.srv.Addr)
	if err != nil {
		return "", err
	}
	log.Printf("Monitor listening on %s (/health, /metrics)", ln.Addr())
	go func() {
		if err := s.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Printf("Monitor server failed: %v", err)
		}
	}()
	return ln.Addr().String(), nil
}

// Shutdown stops the server
func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, map[string]interface{}{
		"status": "ok",
		"uptime": time.Since(s.started).Round(time.Second).String(),
	})
}

func (s *Server) handleMetrics(w http.ResponseWriter, _ *http.Request) {
	if s.snapshot == nil {
		writeJSON(w, map[string]interface{}{})
		return
	}
	writeJSON(w, s.snapshot())
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("Failed to encode response: %v", err)
	}
}
