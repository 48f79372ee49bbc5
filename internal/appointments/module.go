// Package appointments module wiring and route registration.
package appointments

import (
	apphttp "leadflow_backend/internal/http"
	"leadflow_backend/platform/validator"
)

// Module is the appointments bounded context implementing http.Module.
type Module struct {
	handler *Handler
}

// NewModule wires the appointment booking handler.
func NewModule(store Store, leads LeadStore, val *validator.Validator) *Module {
	return &Module{handler: NewHandler(store, leads, val)}
}

// Name returns the module identifier.
func (m *Module) Name() string {
	return "appointments"
}

// RegisterRoutes mounts appointment routes on the provided router context.
func (m *Module) RegisterRoutes(ctx *apphttp.RouterContext) {
	ctx.V1.POST("/appointments", m.handler.HandleCreate)
}
