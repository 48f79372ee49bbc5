// Package dispatch module wiring and route registration.
package dispatch

import (
	"github.com/redis/go-redis/v9"

	"leadflow_backend/internal/events"
	apphttp "leadflow_backend/internal/http"
	"leadflow_backend/internal/leads/repository"
	"leadflow_backend/platform/config"
	"leadflow_backend/platform/logger"
	"leadflow_backend/platform/validator"
)

// Module is the outbound dispatch bounded context implementing http.Module.
type Module struct {
	queue   *Queue
	bulk    *Bulk
	handler *Handler
}

// NewModule wires the dispatch queue and bulk campaign dispatcher.
func NewModule(cfg config.DispatchConfig, repo *repository.Repository, sender ChannelSender, rdb *redis.Client, bus events.Bus, val *validator.Validator, log *logger.Logger) *Module {
	queue := NewQueue(cfg, sender, rdb, log)
	bulk := NewBulk(repo, sender, bus, log)
	handler := NewHandler(bulk, val)

	return &Module{
		queue:   queue,
		bulk:    bulk,
		handler: handler,
	}
}

// Name returns the module identifier.
func (m *Module) Name() string {
	return "dispatch"
}

// Queue returns the shared outbound queue for other modules to enqueue on.
func (m *Module) Queue() *Queue {
	return m.queue
}

// RegisterRoutes mounts dispatch routes on the provided router context.
func (m *Module) RegisterRoutes(ctx *apphttp.RouterContext) {
	group := ctx.V1.Group("/bulk")
	group.POST("/start", m.handler.HandleStart)
	group.POST("/stop", m.handler.HandleStop)
	group.GET("/status", m.handler.HandleStatus)
}
