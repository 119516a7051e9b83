// Package api provides the HTTP surface of OutlineBot.
//
// It serves the pairing page (/qr), a liveness text on every other path, a JSON
// health probe and prometheus metrics. The pairing code shown on /qr is pushed into
// a PairingSlot by the connection lifecycle.
package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Default server settings.
const (
	DefaultPort            = 5000
	DefaultReadTimeout     = 10 * time.Second
	DefaultWriteTimeout    = 15 * time.Second
	DefaultShutdownTimeout = 5 * time.Second
)

// Opts holds configuration options for the HTTP server.
type Opts struct {
	Port      int
	Connected func() bool // reports whether the transport session is open
}

// Option defines a function that modifies server options.
type Option func(*Opts)

// WithPort sets the listening port.
func WithPort(port int) Option {
	return func(o *Opts) {
		o.Port = port
	}
}

// WithConnectedFunc sets the connection probe used by /healthz.
func WithConnectedFunc(fn func() bool) Option {
	return func(o *Opts) {
		o.Connected = fn
	}
}

// Server serves the pairing page and status endpoints.
type Server struct {
	pairing   *PairingSlot
	connected func() bool
	port      int
	mux       *http.ServeMux
	srv       *http.Server
}

// NewServer creates a Server reading pairing codes from slot.
func NewServer(slot *PairingSlot, opts ...Option) *Server {
	cfg := Opts{Port: DefaultPort}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.Port <= 0 {
		cfg.Port = DefaultPort
	}
	if slot == nil {
		slot = NewPairingSlot()
	}
	s := &Server{
		pairing:   slot,
		connected: cfg.Connected,
		port:      cfg.Port,
		mux:       http.NewServeMux(),
	}
	s.registerRoutes()
	return s
}

func (s *Server) registerRoutes() {
	s.mux.HandleFunc("/qr", s.qrHandler)
	s.mux.HandleFunc("/healthz", s.healthHandler)
	s.mux.Handle("/metrics", promhttp.Handler())
	s.mux.HandleFunc("/", s.rootHandler)
}

// Handler returns the request router.
func (s *Server) Handler() http.Handler {
	return s.mux
}

// Addr returns the listen address.
func (s *Server) Addr() string {
	return fmt.Sprintf(":%d", s.port)
}

// Start listens and serves in the background. It returns once the port is bound,
// so a busy port is reported synchronously.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.Addr())
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.Addr(), err)
	}
	s.srv = &http.Server{
		Handler:      s.mux,
		ReadTimeout:  DefaultReadTimeout,
		WriteTimeout: DefaultWriteTimeout,
	}
	slog.Info("Server.Start: HTTP server listening", "addr", ln.Addr().String(), "pairing_url", fmt.Sprintf("http://localhost:%d/qr", s.port))
	go func() {
		if err := s.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Server.Start: HTTP server stopped", "error", err)
		}
	}()
	return nil
}

// Shutdown stops accepting requests and waits for in-flight ones.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.srv == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, DefaultShutdownTimeout)
	defer cancel()
	if err := s.srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("HTTP server shutdown: %w", err)
	}
	slog.Info("Server.Shutdown: HTTP server stopped")
	return nil
}
