package status

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/nerrad567/hasslink/internal/journal"
	"github.com/nerrad567/hasslink/pkg/hass"
)

// Health status values.
const (
	statusOK       = "ok"
	statusDegraded = "degraded"
)

// buildRouter creates the router with all routes and middleware.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)

	r.Get("/health", s.handleHealth)
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(s.deps.Gatherer, promhttp.HandlerOpts{}))

	r.Get("/events", s.handleEvents)

	r.Route("/journal", func(r chi.Router) {
		r.Get("/", s.handleListJournal)
		r.Get("/calls", s.handleListCalls)
	})

	return r
}

type gatewayHealth struct {
	State         string `json:"state"`
	Version       string `json:"version,omitempty"`
	Pending       int    `json:"pending_requests"`
	Subscriptions int    `json:"subscriptions"`
}

type healthResponse struct {
	Status  string            `json:"status"`
	Version string            `json:"version"`
	Gateway *gatewayHealth    `json:"gateway,omitempty"`
	Relay   any               `json:"relay,omitempty"`
	Stream  *int              `json:"stream_clients,omitempty"`
	Checks  map[string]string `json:"checks,omitempty"`
}

// handleHealth reports ok while the gateway is authenticated and every
// dependency check passes; otherwise degraded with 503.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{Status: statusOK, Version: s.deps.Version}

	if gw := s.deps.Gateway; gw != nil {
		state := gw.State()
		resp.Gateway = &gatewayHealth{
			State:         state.String(),
			Version:       gw.GatewayVersion(),
			Pending:       gw.PendingCount(),
			Subscriptions: gw.SubscriptionCount(),
		}
		if state != hass.StateAuthenticated {
			resp.Status = statusDegraded
		}
	}

	if s.deps.Relay != nil {
		resp.Relay = s.deps.Relay.Stats()
	}
	if s.deps.Hub != nil {
		n := s.deps.Hub.ClientCount()
		resp.Stream = &n
	}

	if len(s.deps.Checks) > 0 {
		ctx, cancel := context.WithTimeout(r.Context(), checkTimeout)
		defer cancel()

		resp.Checks = make(map[string]string, len(s.deps.Checks))
		for name, check := range s.deps.Checks {
			if err := check.HealthCheck(ctx); err != nil {
				resp.Checks[name] = err.Error()
				resp.Status = statusDegraded
				continue
			}
			resp.Checks[name] = statusOK
		}
	}

	code := http.StatusOK
	if resp.Status != statusOK {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, resp)
}

// handleEvents upgrades to the WebSocket event stream.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if s.deps.Hub == nil {
		writeNotFound(w, "event stream is disabled")
		return
	}
	s.deps.Hub.ServeHTTP(w, r)
}

// handleListJournal returns journaled events, newest first.
//
// Query parameters: event_type, entity_id, since (RFC 3339), limit, offset.
func (s *Server) handleListJournal(w http.ResponseWriter, r *http.Request) {
	if s.deps.Journal == nil {
		writeNotFound(w, "journal is disabled")
		return
	}

	q := r.URL.Query()
	filter := journal.Filter{
		EventType: q.Get("event_type"),
		EntityID:  q.Get("entity_id"),
	}

	var err error
	if filter.Limit, err = intParam(q.Get("limit")); err != nil {
		writeBadRequest(w, "limit must be an integer")
		return
	}
	if filter.Offset, err = intParam(q.Get("offset")); err != nil {
		writeBadRequest(w, "offset must be an integer")
		return
	}
	if since := q.Get("since"); since != "" {
		if filter.Since, err = time.Parse(time.RFC3339, since); err != nil {
			writeBadRequest(w, "since must be an RFC 3339 timestamp")
			return
		}
	}

	result, err := s.deps.Journal.List(r.Context(), filter)
	if err != nil {
		s.logger.Error("listing journal", "error", err)
		writeInternalError(w, "failed to read journal")
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// handleListCalls returns recent relayed service calls.
func (s *Server) handleListCalls(w http.ResponseWriter, r *http.Request) {
	if s.deps.Journal == nil {
		writeNotFound(w, "journal is disabled")
		return
	}

	limit, err := intParam(r.URL.Query().Get("limit"))
	if err != nil {
		writeBadRequest(w, "limit must be an integer")
		return
	}

	calls, err := s.deps.Journal.RecentCalls(r.Context(), limit)
	if err != nil {
		s.logger.Error("listing service calls", "error", err)
		writeInternalError(w, "failed to read service calls")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"calls": calls})
}

// intParam parses an optional integer query parameter; empty means 0.
func intParam(v string) (int, error) {
	if v == "" {
		return 0, nil
	}
	return strconv.Atoi(v)
}
