// Package intake module wiring and route registration.
package intake

import (
	"leadflow_backend/internal/events"
	apphttp "leadflow_backend/internal/http"
	"leadflow_backend/platform/logger"
	"leadflow_backend/platform/validator"
)

// Module is the inbound intake bounded context implementing http.Module.
type Module struct {
	service *Service
	handler *Handler
}

// NewModule wires the intake state machine and its webhook handler.
func NewModule(store LeadStore, resp Responder, queue Enqueuer, bus events.Bus, val *validator.Validator, log *logger.Logger) *Module {
	service := NewService(store, resp, queue, bus, log)
	handler := NewHandler(service, val, log)

	return &Module{
		service: service,
		handler: handler,
	}
}

// Name returns the module identifier.
func (m *Module) Name() string {
	return "intake"
}

// RegisterRoutes mounts the webhook route on the provided router context.
func (m *Module) RegisterRoutes(ctx *apphttp.RouterContext) {
	ctx.V1.POST("/webhooks/whatsapp", m.handler.HandleInbound)
}
