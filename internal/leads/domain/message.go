package domain

import (
	"time"

	"github.com/google/uuid"
)

// SenderRole identifies who produced a conversation turn.
type SenderRole string

const (
	SenderCustomer   SenderRole = "customer"
	SenderAI         SenderRole = "ai"
	SenderHumanAgent SenderRole = "human_agent"
	SenderSystem     SenderRole = "system"
)

// Message is one immutable conversation turn. Ordering key is CreatedAt with
// ties broken by insertion order.
type Message struct {
	ID        uuid.UUID
	LeadID    uuid.UUID
	Sender    SenderRole
	Content   string
	CreatedAt time.Time
}

// FollowUpRule is one ordered step of a per-pipeline nudge sequence.
// Step numbers are unique per pipeline but need not be contiguous.
type FollowUpRule struct {
	ID         uuid.UUID
	PipelineID uuid.UUID
	Step       int
	DelayHours float64
	Template   string
	Active     bool
}

// Delay converts the rule's fractional delay-hours into a duration.
func (r FollowUpRule) Delay() time.Duration {
	return time.Duration(r.DelayHours * float64(time.Hour))
}

// Pipeline is a named sales-funnel stage with an SLA threshold.
type Pipeline struct {
	ID       uuid.UUID
	Name     string
	Position int
	SLADays  int
	IsIntake bool
}
