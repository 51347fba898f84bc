// Package admin serves the operational HTTP endpoints of the tailer.
package admin

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog/log"

	"github.com/SteelMorgan/oplog-tailer/internal/tailer"
)

// StatusProvider reports the tailer's progress
type StatusProvider interface {
	Status() tailer.Status
}

// Server exposes /metrics, /healthz and /status
type Server struct {
	addr     string
	handler  http.Handler
	server   *http.Server
	listener net.Listener
}

// NewServer builds the admin router. metrics may be nil.
func NewServer(addr string, status StatusProvider, metrics http.Handler) *Server {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	if metrics != nil {
		r.Handle("/metrics", metrics)
	}
	r.Get("/healthz", healthHandler(status))
	r.Get("/status", statusHandler(status))

	return &Server{addr: addr, handler: r}
}

// Handler returns the admin router
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Start listens on the configured address and serves in the background
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.addr, err)
	}
	s.listener = ln
	s.server = &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("Admin server failed")
		}
	}()

	log.Info().Str("addr", ln.Addr().String()).Msg("Admin server started")
	return nil
}

// Addr returns the listening address, or the configured one before Start
func (s *Server) Addr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.addr
}

// Shutdown stops accepting requests and waits for active ones
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

func healthHandler(status StatusProvider) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		if !status.Status().Running {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte("stopped\n"))
			return
		}
		_, _ = w.Write([]byte("ok\n"))
	}
}

func statusHandler(status StatusProvider) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(status.Status()); err != nil {
			log.Error().Err(err).Msg("Failed to encode status")
		}
	}
}
