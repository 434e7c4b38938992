package health

import (
	"context"
	"encoding/json"
	"net/http"
)

// Handler serves the full report. Degraded answers 200.
func (c *Checker) Handler() http.HandlerFunc {
	return c.handler(c.Full, false)
}

// ReadinessHandler serves readiness; anything but healthy answers 503
func (c *Checker) ReadinessHandler() http.HandlerFunc {
	return c.handler(c.Readiness, true)
}

// LivenessHandler serves liveness; anything but healthy answers 503
func (c *Checker) LivenessHandler() http.HandlerFunc {
	return c.handler(c.Liveness, true)
}

func (c *Checker) handler(report func(context.Context) Response, strict bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		resp := report(r.Context())

		code := http.StatusOK
		if resp.Status == StatusUnhealthy || (strict && resp.Status != StatusHealthy) {
			code = http.StatusServiceUnavailable
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		_ = json.NewEncoder(w).Encode(resp)
	}
}

// Mount registers /health, /health/ready and /health/live on mux
func (c *Checker) Mount(mux *http.ServeMux) {
	mux.HandleFunc("/health", c.Handler())
	mux.HandleFunc("/health/ready", c.ReadinessHandler())
	mux.HandleFunc("/health/live", c.LivenessHandler())
}
