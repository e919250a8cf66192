package status

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/nerrad567/hasslink/internal/infrastructure/logging"
	"github.com/nerrad567/hasslink/internal/journal"
	"github.com/nerrad567/hasslink/internal/relay"
	"github.com/nerrad567/hasslink/pkg/hass"
)

var _ GatewayStatus = (*hass.Client)(nil)

type fakeGateway struct {
	state hass.State
}

func (g fakeGateway) State() hass.State      { return g.state }
func (g fakeGateway) GatewayVersion() string { return "2026.3.0" }
func (g fakeGateway) PendingCount() int      { return 2 }
func (g fakeGateway) SubscriptionCount() int { return 1 }
func (g fakeGateway) Stats() relay.Stats     { return relay.Stats{EventsRelayed: 7} }

func (g fakeGateway) HealthCheck(context.Context) error {
	if g.state != hass.StateAuthenticated {
		return errors.New("down")
	}
	return nil
}

type fakeJournal struct {
	filter journal.Filter
	limit  int
	err    error
}

func (j *fakeJournal) Append(context.Context, *journal.Entry) error { return nil }
func (j *fakeJournal) Prune(context.Context, time.Time) (int64, error) {
	return 0, nil
}
func (j *fakeJournal) RecordCall(context.Context, *journal.ServiceCall) error { return nil }

func (j *fakeJournal) List(_ context.Context, f journal.Filter) (*journal.ListResult, error) {
	j.filter = f
	if j.err != nil {
		return nil, j.err
	}
	return &journal.ListResult{
		Entries: []journal.Entry{{ID: "evt-1", EventType: "state_changed", Payload: json.RawMessage(`{}`)}},
		Total:   1,
		Limit:   f.Limit,
	}, nil
}

func (j *fakeJournal) RecentCalls(_ context.Context, limit int) ([]journal.ServiceCall, error) {
	j.limit = limit
	return []journal.ServiceCall{{ID: "call-1", Domain: "light", Service: "turn_on", Success: true}}, nil
}

func testServer(t *testing.T, deps Deps) *Server {
	t.Helper()
	if deps.Logger == nil {
		deps.Logger = logging.Discard()
	}
	deps.Version = "test"
	srv, err := New(deps)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return srv
}

func get(t *testing.T, srv *Server, path string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))

	var body map[string]any
	if strings.HasPrefix(w.Header().Get("Content-Type"), "application/json") {
		if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
			t.Fatalf("unmarshal %s: %v", path, err)
		}
	}
	return w, body
}

// =============================================================================
// Health Tests
// =============================================================================

func TestNewRequiresLogger(t *testing.T) {
	if _, err := New(Deps{}); err == nil {
		t.Error("New() without logger error = nil")
	}
}

func TestHealth(t *testing.T) {
	tests := []struct {
		name       string
		deps       Deps
		wantCode   int
		wantStatus string
	}{
		{
			name:       "no dependencies",
			deps:       Deps{},
			wantCode:   http.StatusOK,
			wantStatus: "ok",
		},
		{
			name: "authenticated",
			deps: Deps{
				Gateway: fakeGateway{state: hass.StateAuthenticated},
				Relay:   fakeGateway{},
				Checks:  map[string]HealthChecker{"mqtt": fakeGateway{state: hass.StateAuthenticated}},
			},
			wantCode:   http.StatusOK,
			wantStatus: "ok",
		},
		{
			name:       "gateway closed",
			deps:       Deps{Gateway: fakeGateway{state: hass.StateClosed}},
			wantCode:   http.StatusServiceUnavailable,
			wantStatus: "degraded",
		},
		{
			name: "failing check",
			deps: Deps{
				Gateway: fakeGateway{state: hass.StateAuthenticated},
				Checks:  map[string]HealthChecker{"database": fakeGateway{state: hass.StateFailed}},
			},
			wantCode:   http.StatusServiceUnavailable,
			wantStatus: "degraded",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w, body := get(t, testServer(t, tt.deps), "/health")

			if w.Code != tt.wantCode {
				t.Errorf("status code = %d, want %d", w.Code, tt.wantCode)
			}
			if body["status"] != tt.wantStatus {
				t.Errorf("status = %v, want %s", body["status"], tt.wantStatus)
			}
			if body["version"] != "test" {
				t.Errorf("version = %v, want test", body["version"])
			}
		})
	}
}

func TestHealthBody(t *testing.T) {
	srv := testServer(t, Deps{
		Gateway: fakeGateway{state: hass.StateAuthenticated},
		Relay:   fakeGateway{},
		Checks:  map[string]HealthChecker{"db": fakeGateway{state: hass.StateFailed}},
	})

	_, body := get(t, srv, "/health")

	gw, ok := body["gateway"].(map[string]any)
	if !ok {
		t.Fatalf("gateway = %v", body["gateway"])
	}
	if gw["state"] != "authenticated" || gw["version"] != "2026.3.0" || gw["pending_requests"] != float64(2) {
		t.Errorf("gateway = %v", gw)
	}
	if rel, _ := body["relay"].(map[string]any); rel["events_relayed"] != float64(7) {
		t.Errorf("relay = %v", body["relay"])
	}
	if checks, _ := body["checks"].(map[string]any); checks["db"] != "down" {
		t.Errorf("checks = %v", body["checks"])
	}
}

func TestRequestID(t *testing.T) {
	srv := testServer(t, Deps{})

	w, _ := get(t, srv, "/health")
	if w.Header().Get("X-Request-ID") == "" {
		t.Error("X-Request-ID not generated")
	}

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("X-Request-ID", "abc")
	w = httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)
	if got := w.Header().Get("X-Request-ID"); got != "abc" {
		t.Errorf("X-Request-ID = %q, want abc", got)
	}
}

// =============================================================================
// Metrics Tests
// =============================================================================

func TestMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	if _, err := hass.NewMetrics(reg); err != nil {
		t.Fatalf("NewMetrics() error = %v", err)
	}

	srv := testServer(t, Deps{Gatherer: reg})
	w, _ := get(t, srv, "/metrics")

	if w.Code != http.StatusOK {
		t.Fatalf("status code = %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "hasslink_gateway_connected") {
		t.Errorf("metrics output missing hasslink_gateway_connected:\n%s", w.Body.String())
	}
}

// =============================================================================
// Journal Tests
// =============================================================================

func TestJournalDisabled(t *testing.T) {
	srv := testServer(t, Deps{})

	for _, path := range []string{"/journal", "/journal/calls"} {
		if w, _ := get(t, srv, path); w.Code != http.StatusNotFound {
			t.Errorf("%s status = %d, want 404", path, w.Code)
		}
	}
}

func TestListJournal(t *testing.T) {
	j := &fakeJournal{}
	srv := testServer(t, Deps{Journal: j})

	w, body := get(t, srv, "/journal?event_type=state_changed&entity_id=light.kitchen&limit=5&offset=10&since=2026-03-01T00:00:00Z")
	if w.Code != http.StatusOK {
		t.Fatalf("status code = %d, body %v", w.Code, body)
	}
	want := journal.Filter{
		EventType: "state_changed",
		EntityID:  "light.kitchen",
		Since:     time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC),
		Limit:     5,
		Offset:    10,
	}
	if !j.filter.Since.Equal(want.Since) || j.filter.EventType != want.EventType ||
		j.filter.EntityID != want.EntityID || j.filter.Limit != want.Limit || j.filter.Offset != want.Offset {
		t.Errorf("filter = %+v, want %+v", j.filter, want)
	}
	if body["total"] != float64(1) {
		t.Errorf("total = %v", body["total"])
	}
}

func TestListJournalBadParams(t *testing.T) {
	srv := testServer(t, Deps{Journal: &fakeJournal{}})

	for _, path := range []string{"/journal?limit=x", "/journal?offset=1.5", "/journal?since=yesterday", "/journal/calls?limit=-"} {
		w, body := get(t, srv, path)
		if w.Code != http.StatusBadRequest || body["code"] != ErrCodeBadRequest {
			t.Errorf("%s = %d %v, want 400 bad_request", path, w.Code, body)
		}
	}
}

func TestListJournalError(t *testing.T) {
	srv := testServer(t, Deps{Journal: &fakeJournal{err: errors.New("locked")}})

	if w, _ := get(t, srv, "/journal"); w.Code != http.StatusInternalServerError {
		t.Errorf("status code = %d, want 500", w.Code)
	}
}

func TestListCalls(t *testing.T) {
	j := &fakeJournal{}
	srv := testServer(t, Deps{Journal: j})

	w, body := get(t, srv, "/journal/calls?limit=3")
	if w.Code != http.StatusOK || j.limit != 3 {
		t.Fatalf("status = %d, limit = %d", w.Code, j.limit)
	}
	calls, _ := body["calls"].([]any)
	if len(calls) != 1 {
		t.Errorf("calls = %v", body["calls"])
	}
}

// =============================================================================
// Lifecycle Tests
// =============================================================================

func TestStartClose(t *testing.T) {
	srv := testServer(t, Deps{Addr: "127.0.0.1:0"})

	if srv.Addr() != "" {
		t.Errorf("Addr() before Start = %q", srv.Addr())
	}
	if err := srv.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	resp, err := http.Get("http://" + srv.Addr() + "/health")
	if err != nil {
		t.Fatalf("GET /health error = %v", err)
	}
	body, _ := io.ReadAll(resp.Body) //nolint:errcheck // test read
	resp.Body.Close()                //nolint:errcheck // test cleanup
	if resp.StatusCode != http.StatusOK || !strings.Contains(string(body), `"status":"ok"`) {
		t.Errorf("GET /health = %d %s", resp.StatusCode, body)
	}

	if err := srv.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
}

func TestStartBadAddr(t *testing.T) {
	srv := testServer(t, Deps{Addr: "256.0.0.1:bad"})
	if err := srv.Start(context.Background()); err == nil {
		srv.Close() //nolint:errcheck // unexpected success
		t.Error("Start() with bad address error = nil")
	}
	if err := srv.Close(); err != nil {
		t.Errorf("Close() before Start error = %v", err)
	}
}
