// Package status serves hasslink's health and metrics over HTTP.
//
// Routes:
//
//	GET /health          gateway state, relay counters and dependency checks
//	GET /metrics         Prometheus exposition
//	GET /journal         recent journaled events (when the journal is enabled)
//	GET /journal/calls   recent relayed service calls
//	GET /events          WebSocket stream of relayed events (see Hub)
//
// The server follows the same lifecycle as the other components:
//
//	server, err := status.New(deps)
//	server.Start(ctx)
//	defer server.Close()
package status

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/nerrad567/hasslink/internal/infrastructure/logging"
	"github.com/nerrad567/hasslink/internal/journal"
	"github.com/nerrad567/hasslink/internal/relay"
	"github.com/nerrad567/hasslink/pkg/hass"
)

// Server timeouts.
const (
	gracefulShutdownTimeout = 10 * time.Second
	readHeaderTimeout       = 5 * time.Second
	checkTimeout            = 3 * time.Second
)

// GatewayStatus is the part of *hass.Client reported on /health.
type GatewayStatus interface {
	State() hass.State
	GatewayVersion() string
	PendingCount() int
	SubscriptionCount() int
}

// StatsSource reports relay counters.
type StatsSource interface {
	Stats() relay.Stats
}

// HealthChecker is implemented by the database, MQTT and InfluxDB clients.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// Deps holds the dependencies of the status server. Only Logger is required.
type Deps struct {
	Addr     string
	Logger   *logging.Logger
	Gateway  GatewayStatus
	Relay    StatsSource
	Journal  journal.Repository
	Checks   map[string]HealthChecker
	Hub      *Hub
	Gatherer prometheus.Gatherer
	Version  string
}

// Server is the status HTTP server.
type Server struct {
	deps    Deps
	logger  *logging.Logger
	handler http.Handler

	mu       sync.Mutex
	server   *http.Server
	listener net.Listener
}

// New creates a status server. It does not listen until Start.
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if deps.Gatherer == nil {
		deps.Gatherer = prometheus.DefaultGatherer
	}

	s := &Server{deps: deps, logger: deps.Logger.Component("status")}
	s.handler = s.buildRouter()
	return s, nil
}

// Handler returns the router, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Start binds the listen address and serves in the background. Binding
// errors are returned; later serve errors are logged.
func (s *Server) Start(_ context.Context) error {
	ln, err := net.Listen("tcp", s.deps.Addr)
	if err != nil {
		return fmt.Errorf("status server listen on %s: %w", s.deps.Addr, err)
	}

	srv := &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: readHeaderTimeout,
	}

	s.mu.Lock()
	s.server, s.listener = srv, ln
	s.mu.Unlock()

	s.logger.Info("status server listening", "address", ln.Addr().String())
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("status server error", "error", err)
		}
	}()
	return nil
}

// Addr returns the bound address, or "" before Start.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Close waits up to 10 seconds for in-flight requests, then stops.
func (s *Server) Close() error {
	s.mu.Lock()
	srv := s.server
	s.mu.Unlock()
	if srv == nil {
		return nil
	}

	// Shutdown does not wait for hijacked connections.
	if s.deps.Hub != nil {
		s.deps.Hub.Close()
	}

	ctx, cancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down status server: %w", err)
	}
	return nil
}
