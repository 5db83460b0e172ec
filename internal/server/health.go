package server

import (
	"context"
	"encoding/json"
	"net/http"
	"time"
)

// probeTimeout bounds how long a single readiness probe may take.
const probeTimeout = 5 * time.Second

// Pinger is a named dependency probe checked by GET /api/ready. The index
// store and the conversation store both satisfy it via small adapters in the
// serve command.
type Pinger interface {
	// Name identifies the dependency in the readiness response.
	Name() string
	// Ping returns nil when the dependency is reachable and usable.
	Ping(ctx context.Context) error
}

// PingerFunc adapts a name and a function to the Pinger interface.
type PingerFunc struct {
	// PingerName identifies the dependency in the readiness response.
	PingerName string
	// Fn is the probe to run.
	Fn func(ctx context.Context) error
}

// Name returns the dependency name.
func (p PingerFunc) Name() string { return p.PingerName }

// Ping runs the probe.
func (p PingerFunc) Ping(ctx context.Context) error { return p.Fn(ctx) }

// readyCheck describes the outcome of one dependency probe.
type readyCheck struct {
	// Name is the dependency name.
	Name string `json:"name"`
	// Status is "ok" or "error".
	Status string `json:"status"`
	// Error holds the failure message, if any.
	Error string `json:"error,omitempty"`
}

// readyResponse is the JSON body returned by GET /api/ready.
type readyResponse struct {
	// Status is "ready" when every check passed, "unavailable" otherwise.
	Status string `json:"status"`
	// Checks lists all probes in configuration order.
	Checks []readyCheck `json:"checks"`
}

// handleReady handles GET /api/ready: probes every configured dependency and
// returns 503 when any of them fails.
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	resp := readyResponse{Status: "ready", Checks: make([]readyCheck, 0, len(s.pingers))}

	for _, p := range s.pingers {
		check := readyCheck{Name: p.Name(), Status: "ok"}

		ctx, cancel := context.WithTimeout(r.Context(), probeTimeout)
		if err := p.Ping(ctx); err != nil {
			check.Status = "error"
			check.Error = err.Error()
			resp.Status = "unavailable"
		}
		cancel()

		resp.Checks = append(resp.Checks, check)
	}

	w.Header().Set("Content-Type", "application/json")
	if resp.Status != "ready" {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	_ = json.NewEncoder(w).Encode(resp)
}
