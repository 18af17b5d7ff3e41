package health_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/aurelia-labs/voicecore/internal/health"
)

func get(t *testing.T, h http.Handler, path string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode %s response: %v", path, err)
	}
	return rec, body
}

func TestHealthz_AlwaysOK(t *testing.T) {
	t.Parallel()
	mux := http.NewServeMux()
	health.New(func() int { return 3 }).Register(mux)

	rec, body := get(t, mux, "/healthz")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if body["status"] != "ok" || body["sessions"] != float64(3) {
		t.Fatalf("body = %v", body)
	}
}

func TestReadyz_AllProbesPass(t *testing.T) {
	t.Parallel()
	mux := http.NewServeMux()
	health.New(nil,
		health.Probe{Name: "provider", Check: func(context.Context) error { return nil }},
	).Register(mux)

	rec, body := get(t, mux, "/readyz")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	probes := body["probes"].(map[string]any)
	if probes["provider"] != "ok" {
		t.Fatalf("probes = %v", probes)
	}
}

func TestReadyz_FailingProbe(t *testing.T) {
	t.Parallel()
	mux := http.NewServeMux()
	health.New(nil,
		health.Probe{Name: "provider", Check: func(context.Context) error { return nil }},
		health.Probe{Name: "capacity", Check: func(context.Context) error { return errors.New("sessions exhausted") }},
	).Register(mux)

	rec, body := get(t, mux, "/readyz")
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", rec.Code)
	}
	if body["status"] != "fail" {
		t.Fatalf("body = %v", body)
	}
	probes := body["probes"].(map[string]any)
	if probes["provider"] != "ok" || probes["capacity"] != "fail: sessions exhausted" {
		t.Fatalf("probes = %v", probes)
	}
}
