// Package health serves the liveness and readiness probes of the voicecore
// server.
//
//   - /healthz — liveness; a process that can answer HTTP is alive.
//   - /readyz  — readiness; 200 only while every registered probe passes.
//
// Responses are JSON with a top-level "status" ("ok" or "fail"), the number
// of live voice sessions, and a per-probe result map.
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"time"
)

// probeTimeout bounds a single readiness probe.
const probeTimeout = 3 * time.Second

// Probe is a named readiness check. Check returns nil while the dependency is
// usable and must respect context cancellation.
type Probe struct {
	Name  string
	Check func(ctx context.Context) error
}

// response is the JSON body of both endpoints.
type response struct {
	Status   string            `json:"status"`
	Sessions int               `json:"sessions"`
	Probes   map[string]string `json:"probes,omitempty"`
}

// Handler evaluates probes on demand. Safe for concurrent use; the probe list
// is fixed at construction.
type Handler struct {
	sessions func() int
	probes   []Probe
}

// New creates a Handler. sessions reports the current live session count and
// may be nil; probes run sequentially on every /readyz request.
func New(sessions func() int, probes ...Probe) *Handler {
	return &Handler{
		sessions: sessions,
		probes:   append([]Probe(nil), probes...),
	}
}

// Healthz always answers 200 OK.
func (h *Handler) Healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, response{Status: "ok", Sessions: h.sessionCount()})
}

// Readyz answers 200 only when every probe passes, 503 otherwise.
func (h *Handler) Readyz(w http.ResponseWriter, r *http.Request) {
	res := response{
		Status:   "ok",
		Sessions: h.sessionCount(),
		Probes:   make(map[string]string, len(h.probes)),
	}
	status := http.StatusOK

	for _, p := range h.probes {
		ctx, cancel := context.WithTimeout(r.Context(), probeTimeout)
		err := p.Check(ctx)
		cancel()
		if err != nil {
			res.Probes[p.Name] = "fail: " + err.Error()
			res.Status = "fail"
			status = http.StatusServiceUnavailable
		} else {
			res.Probes[p.Name] = "ok"
		}
	}
	writeJSON(w, status, res)
}

// Register adds the probe routes to mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", h.Healthz)
	mux.HandleFunc("GET /readyz", h.Readyz)
}

func (h *Handler) sessionCount() int {
	if h.sessions == nil {
		return 0
	}
	return h.sessions()
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"status":"error"}`, http.StatusInternalServerError)
	}
}
