package api

import (
	"context"
	"net/http"
	"time"
)

// healthCheckTimeout bounds each component's health probe.
const healthCheckTimeout = 2 * time.Second

// handleHealth returns the server health status plus per-component
// checks for the registered infrastructure dependencies.
//
// The endpoint always answers 200; a failing component degrades the
// overall status rather than the HTTP response, so monitoring can read
// the detail instead of guessing from a 5xx.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := "ok"
	components := make(map[string]string, len(s.health))

	for name, checker := range s.health {
		ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
		err := checker.HealthCheck(ctx)
		cancel()

		if err != nil {
			status = "degraded"
			components[name] = err.Error()
		} else {
			components[name] = "ok"
		}
	}

	resp := map[string]any{
		"status":  status,
		"version": s.version,
	}
	if len(components) > 0 {
		resp["components"] = components
	}
	if s.hub != nil {
		resp["websocket_clients"] = s.hub.ClientCount()
	}

	writeJSON(w, http.StatusOK, resp)
}
