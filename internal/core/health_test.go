package core

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"fairbill/internal/config"
)

// --- Mock Health Probe ---

// mockHealthProbe implements HealthProbe for testing.
type mockHealthProbe struct {
	name     string
	checkErr error
	// delay simulates slow subsystems; Check blocks for this duration.
	delay time.Duration
	// called tracks whether Check was invoked.
	called atomic.Bool
}

func (m *mockHealthProbe) Name() string { return m.name }

func (m *mockHealthProbe) Check(ctx context.Context) error {
	m.called.Store(true)
	if m.delay > 0 {
		select {
		case <-time.After(m.delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return m.checkErr
}

// panicProbe simulates a probe whose Check panics.
type panicProbe struct {
	name string
}

func (p *panicProbe) Name() string                  { return p.name }
func (p *panicProbe) Check(_ context.Context) error { panic("probe exploded") }

// --- Helper ---

func newTestServerForHealth(t *testing.T, probes []HealthProbe) *Server {
	t.Helper()
	srv, err := NewServer(&config.Config{Environment: "local"}, slog.Default())
	if err != nil {
		t.Fatalf("NewServer returned unexpected error: %v", err)
	}
	srv.HealthProbes = probes
	return srv
}

// --- Tests ---

func TestHandleHealth_AllHealthy(t *testing.T) {
	probes := []HealthProbe{
		&mockHealthProbe{name: "database"},
		&mockHealthProbe{name: "queue"},
	}

	srv := newTestServerForHealth(t, probes)
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()

	srv.HandleHealth(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("expected status 200, got %d", rec.Code)
	}

	var resp healthResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}

	if resp.Status != "healthy" {
		t.Errorf("expected status 'healthy', got %q", resp.Status)
	}

	for _, name := range []string{"database", "queue"} {
		comp, ok := resp.Components[name]
		if !ok {
			t.Errorf("expected component %q in response", name)
			continue
		}
		if comp.Status != "healthy" {
			t.Errorf("component %q: expected 'healthy', got %q", name, comp.Status)
		}
		if comp.Message != "" {
			t.Errorf("component %q: expected empty message, got %q", name, comp.Message)
		}
	}
}

func TestHandleHealth_OneUnhealthy(t *testing.T) {
	probes := []HealthProbe{
		&mockHealthProbe{name: "database"},
		&mockHealthProbe{name: "queue", checkErr: errors.New("queue does not exist")},
	}

	srv := newTestServerForHealth(t, probes)
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()

	srv.HandleHealth(rec, req)

	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("expected status 503, got %d", rec.Code)
	}

	var resp healthResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}

	if resp.Status != "unhealthy" {
		t.Errorf("expected status 'unhealthy', got %q", resp.Status)
	}

	dbComp, ok := resp.Components["database"]
	if !ok {
		t.Fatal("expected 'database' component in response")
	}
	if dbComp.Status != "healthy" {
		t.Errorf("database component: expected 'healthy', got %q", dbComp.Status)
	}

	queueComp, ok := resp.Components["queue"]
	if !ok {
		t.Fatal("expected 'queue' component in response")
	}
	if queueComp.Status != "unhealthy" {
		t.Errorf("queue component: expected 'unhealthy', got %q", queueComp.Status)
	}
	if queueComp.Message != "queue does not exist" {
		t.Errorf("queue component: expected message 'queue does not exist', got %q", queueComp.Message)
	}
}

func TestHandleHealth_NoProbes(t *testing.T) {
	srv := newTestServerForHealth(t, nil)
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()

	srv.HandleHealth(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("expected status 200 with no probes, got %d", rec.Code)
	}

	var resp healthResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.Status != "healthy" {
		t.Errorf("expected status 'healthy', got %q", resp.Status)
	}
	if len(resp.Components) != 0 {
		t.Errorf("expected no components, got %v", resp.Components)
	}
}

func TestHandleHealth_SlowProbeTimesOut(t *testing.T) {
	probes := []HealthProbe{
		&mockHealthProbe{name: "database"},
		// Longer than healthCheckTimeout; the probe respects ctx so the
		// handler still returns promptly.
		&mockHealthProbe{name: "queue", delay: healthCheckTimeout + time.Second},
	}

	srv := newTestServerForHealth(t, probes)
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()

	start := time.Now()
	srv.HandleHealth(rec, req)
	elapsed := time.Since(start)

	if elapsed > healthCheckTimeout+500*time.Millisecond {
		t.Errorf("handler took %v, should return near the %v timeout", elapsed, healthCheckTimeout)
	}
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("expected status 503, got %d", rec.Code)
	}

	var resp healthResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}

	queueComp := resp.Components["queue"]
	if queueComp.Status != "unhealthy" {
		t.Errorf("slow probe: expected 'unhealthy', got %q", queueComp.Status)
	}
}

func TestHandleHealth_ProbePanicIsContained(t *testing.T) {
	probes := []HealthProbe{
		&mockHealthProbe{name: "database"},
		&panicProbe{name: "queue"},
	}

	srv := newTestServerForHealth(t, probes)
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()

	srv.HandleHealth(rec, req)

	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("expected status 503, got %d", rec.Code)
	}

	var resp healthResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}

	queueComp := resp.Components["queue"]
	if queueComp.Status != "unhealthy" {
		t.Errorf("panicking probe: expected 'unhealthy', got %q", queueComp.Status)
	}
}

func TestHandleHealth_AllProbesRun(t *testing.T) {
	db := &mockHealthProbe{name: "database"}
	queue := &mockHealthProbe{name: "queue"}

	srv := newTestServerForHealth(t, []HealthProbe{db, queue})
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()

	srv.HandleHealth(rec, req)

	if !db.called.Load() {
		t.Error("database probe was not invoked")
	}
	if !queue.called.Load() {
		t.Error("queue probe was not invoked")
	}
}
