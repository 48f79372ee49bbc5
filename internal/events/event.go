// Package events provides domain event definitions for decoupled,
// event-driven communication between modules.
// Infrastructure (Bus, Handler) is in platform/events.
package events

import (
	"leadflow_backend/platform/events"
	"leadflow_backend/platform/logger"

	"github.com/google/uuid"
)

// Re-export platform types for convenience
type (
	Event       = events.Event
	Bus         = events.Bus
	Handler     = events.Handler
	HandlerFunc = events.HandlerFunc
	BaseEvent   = events.BaseEvent
	InMemoryBus = events.InMemoryBus
)

// Re-export platform functions
var NewBaseEvent = events.NewBaseEvent

// NewInMemoryBus creates a new in-memory event bus.
func NewInMemoryBus(log *logger.Logger) *InMemoryBus {
	return events.NewInMemoryBus(log)
}

// HumanTakeover is published when a human operator takes over a conversation,
// either by typing on the channel device or via a bulk campaign hand-off.
type HumanTakeover struct {
	BaseEvent
	LeadID   uuid.UUID `json:"leadId"`
	LeadName string    `json:"leadName"`
	Address  string    `json:"address"`
	Reason   string    `json:"reason"`
}

func (e HumanTakeover) EventName() string { return "leads.human_takeover" }

// LeadQualified is published when a lead furnishes enough qualification data
// to leave the intake stage.
type LeadQualified struct {
	BaseEvent
	LeadID      uuid.UUID `json:"leadId"`
	LeadName    string    `json:"leadName"`
	PipelineID  uuid.UUID `json:"pipelineId"`
	MonthlyBill *float64  `json:"monthlyBill,omitempty"`
	City        *string   `json:"city,omitempty"`
}

func (e LeadQualified) EventName() string { return "leads.qualified" }

// LeadStale is published when a lead sits idle beyond its pipeline's SLA
// threshold.
type LeadStale struct {
	BaseEvent
	LeadID    uuid.UUID `json:"leadId"`
	LeadName  string    `json:"leadName"`
	Pipeline  string    `json:"pipeline"`
	IdleSince string    `json:"idleSince"`
}

func (e LeadStale) EventName() string { return "leads.stale" }
