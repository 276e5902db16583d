package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"time"
)

// ReadinessPinger reports whether the primary datastore is reachable.
type ReadinessPinger interface {
	Ping(ctx context.Context) error
}

// HealthHandlers serves liveness and readiness probes.
type HealthHandlers struct {
	pinger    ReadinessPinger
	clock     func() time.Time
	startedAt time.Time
}

// HealthOption customises the health handlers.
type HealthOption func(*HealthHandlers)

// WithHealthPinger wires the datastore readiness check.
func WithHealthPinger(pinger ReadinessPinger) HealthOption {
	return func(h *HealthHandlers) {
		h.pinger = pinger
	}
}

// WithHealthClock overrides the time source.
func WithHealthClock(clock func() time.Time) HealthOption {
	return func(h *HealthHandlers) {
		if clock != nil {
			h.clock = clock
		}
	}
}

// NewHealthHandlers constructs health handlers with the given options.
func NewHealthHandlers(opts ...HealthOption) *HealthHandlers {
	h := &HealthHandlers{
		clock: time.Now,
	}
	for _, opt := range opts {
		opt(h)
	}
	h.startedAt = h.clock().UTC()
	return h
}

// Healthz reports process liveness.
func (h *HealthHandlers) Healthz(w http.ResponseWriter, r *http.Request) {
	now := h.clock().UTC()
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"uptime":    now.Sub(h.startedAt).String(),
		"timestamp": now.Format(time.RFC3339),
	})
}

// Readyz reports whether downstream dependencies can serve traffic.
func (h *HealthHandlers) Readyz(w http.ResponseWriter, r *http.Request) {
	checks := map[string]string{}
	status := http.StatusOK
	overall := "ok"

	if h.pinger != nil {
		if err := h.pinger.Ping(r.Context()); err != nil {
			checks["firestore"] = err.Error()
			status = http.StatusServiceUnavailable
			overall = "unavailable"
		} else {
			checks["firestore"] = "ok"
		}
	}

	writeJSON(w, status, map[string]any{
		"status": overall,
		"checks": checks,
	})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
