package controllers

import (
	"net/http"

	"github.com/rzbill/pollbus/internal/runtime"
	logpkg "github.com/rzbill/pollbus/pkg/log"
)

// ControllerRegistry holds every HTTP controller of the gateway.
type ControllerRegistry struct {
	general *GeneralController
	bus     *BusController
}

// NewControllerRegistry builds the controllers for rt.
func NewControllerRegistry(rt *runtime.Runtime, logger logpkg.Logger) *ControllerRegistry {
	return &ControllerRegistry{
		general: NewGeneralController(rt),
		bus:     NewBusController(rt, logger),
	}
}

// RegisterAllRoutes registers all controller routes with the given mux.
func (r *ControllerRegistry) RegisterAllRoutes(mux *http.ServeMux) {
	r.general.RegisterRoutes(mux)
	r.bus.RegisterRoutes(mux)
}
