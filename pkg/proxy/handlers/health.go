package handlers

import (
	"log/slog"
	"net/http"

	"mercator-hq/hermes/pkg/proxy"
)

// healthResponse is the body of a health check reply.
type healthResponse struct {
	Status string `json:"status"`
}

// HealthHandler answers liveness probes. Once startup completed the
// router is healthy unconditionally; it holds no state that can degrade.
type HealthHandler struct{}

// NewHealthHandler creates the /health handler.
func NewHealthHandler() *HealthHandler {
	return &HealthHandler{}
}

// ServeHTTP implements http.Handler.
func (h *HealthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if err := proxy.WriteJSON(w, http.StatusOK, healthResponse{Status: "OK"}); err != nil {
		slog.Error("failed to write health response", "error", err)
	}
}
