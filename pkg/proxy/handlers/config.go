package handlers

import (
	"log/slog"
	"net/http"

	"mercator-hq/hermes/pkg/config"
	"mercator-hq/hermes/pkg/proxy"
)

// ConfigHandler serves the loaded configuration with credentials
// redacted. Every api_key is blanked; the policy and LLM layout is
// visible so operators can confirm what the router is running with.
type ConfigHandler struct {
	cfg *config.RouterConfig
}

// NewConfigHandler creates the /config handler.
func NewConfigHandler(cfg *config.RouterConfig) *ConfigHandler {
	return &ConfigHandler{cfg: cfg}
}

// ServeHTTP implements http.Handler.
func (h *ConfigHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if err := proxy.WriteJSON(w, http.StatusOK, h.cfg.Sanitized()); err != nil {
		slog.Error("failed to write config response", "error", err)
	}
}
