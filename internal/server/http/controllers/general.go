package controllers

import (
	"net/http"

	"github.com/rzbill/pollbus/internal/runtime"
)

// GeneralController serves health and metrics.
type GeneralController struct {
	rt *runtime.Runtime
}

func NewGeneralController(rt *runtime.Runtime) *GeneralController {
	return &GeneralController{rt: rt}
}

// RegisterRoutes registers /v1/healthz and /metrics.
func (c *GeneralController) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/v1/healthz", c.handleHealth)
	mux.Handle("/metrics", c.rt.Metrics().Handler())
}

// handleHealth returns 200 {"status":"ok"} when the message log answers,
// 503 otherwise. The listener state is reported alongside.
func (c *GeneralController) handleHealth(w http.ResponseWriter, r *http.Request) {
	listener := c.rt.Bus().ListenerState().String()
	if err := c.rt.CheckHealth(r.Context()); err != nil {
		writeError(w, http.StatusServiceUnavailable, "not_serving")
		return
	}
	writeJSON(w, map[string]string{"status": "ok", "listener": listener, "namespace": c.rt.Namespace().Name})
}
