package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestHealthLiveChecksNothing(t *testing.T) {
	// Live must succeed even when every dependency probe would fail,
	// otherwise a database outage gets the whole process restarted.
	handler := NewHealthHandler(Probe{
		Name:  "postgres",
		Check: func(ctx context.Context) error { return errors.New("down") },
	})

	rec := httptest.NewRecorder()
	handler.Live(rec, httptest.NewRequest(http.MethodGet, "/health/live", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d", http.StatusOK, rec.Code)
	}

	var response HealthStatus
	if err := json.NewDecoder(rec.Body).Decode(&response); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if response.Status != "ok" {
		t.Errorf("expected status 'ok', got %q", response.Status)
	}
	if response.Timestamp.IsZero() {
		t.Error("expected non-zero timestamp")
	}
	if len(response.Probes) != 0 {
		t.Errorf("liveness must not run probes, got %v", response.Probes)
	}
}

func TestHealthReadyAllProbesHealthy(t *testing.T) {
	handler := NewHealthHandler(
		Probe{Name: "postgres", Check: func(ctx context.Context) error { return nil }},
		Probe{Name: "redis", Check: func(ctx context.Context) error { return nil }},
	)

	rec := httptest.NewRecorder()
	handler.Ready(rec, httptest.NewRequest(http.MethodGet, "/health/ready", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d", http.StatusOK, rec.Code)
	}

	var response HealthStatus
	if err := json.NewDecoder(rec.Body).Decode(&response); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if response.Status != "ok" {
		t.Errorf("expected status 'ok', got %q", response.Status)
	}
	if response.Probes["postgres"] != "healthy" || response.Probes["redis"] != "healthy" {
		t.Errorf("expected both probes healthy, got %v", response.Probes)
	}
}

func TestHealthReadyReportsDegradedWithFailingProbe(t *testing.T) {
	handler := NewHealthHandler(
		Probe{Name: "postgres", Check: func(ctx context.Context) error { return nil }},
		Probe{Name: "redis", Check: func(ctx context.Context) error { return errors.New("connection refused") }},
	)

	rec := httptest.NewRecorder()
	handler.Ready(rec, httptest.NewRequest(http.MethodGet, "/health/ready", nil))

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected status %d, got %d", http.StatusServiceUnavailable, rec.Code)
	}

	var response HealthStatus
	if err := json.NewDecoder(rec.Body).Decode(&response); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if response.Status != "degraded" {
		t.Errorf("expected status 'degraded', got %q", response.Status)
	}
	// The healthy probe still reports, so an operator sees which
	// dependency is actually down.
	if response.Probes["postgres"] != "healthy" {
		t.Errorf("expected postgres probe to stay healthy, got %q", response.Probes["postgres"])
	}
	if response.Probes["redis"] == "healthy" || response.Probes["redis"] == "" {
		t.Errorf("expected redis probe to report its failure, got %q", response.Probes["redis"])
	}
}

func TestHealthReadyWithNoProbes(t *testing.T) {
	handler := NewHealthHandler()

	rec := httptest.NewRecorder()
	handler.Ready(rec, httptest.NewRequest(http.MethodGet, "/health/ready", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d", http.StatusOK, rec.Code)
	}
}
