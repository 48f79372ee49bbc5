// Package domain holds the core lead engagement entities and the pure rules
// that operate on them. No persistence or transport concerns live here.
package domain

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// AIStatus controls whether automated replies are generated for a lead.
type AIStatus string

const (
	AIActive            AIStatus = "active"
	AIPaused            AIStatus = "paused"
	AIHumanIntervention AIStatus = "human_intervention"
)

// LeadStatus is the lifecycle status of a lead record.
type LeadStatus string

const (
	LeadActive  LeadStatus = "active"
	LeadDeleted LeadStatus = "deleted"
	LeadBlocked LeadStatus = "blocked"
)

// Lead is a contact progressing through a sales pipeline.
type Lead struct {
	ID                    uuid.UUID
	Name                  string
	Phone                 *string
	ChannelJID            *string
	PipelineID            uuid.UUID
	MonthlyBill           *float64
	City                  *string
	RoofType              *string
	Segment               *string
	ConsumptionIncrease   *bool
	QualificationComplete bool
	AIStatus              AIStatus
	AIPausedAt            *time.Time
	FollowupCount         int
	LastFollowupRuleStep  *int
	LastFollowupAt        *time.Time
	LastInteractionAt     time.Time
	LastSLAAlertAt        *time.Time
	Status                LeadStatus
	CreatedAt             time.Time
	UpdatedAt             time.Time
}

// FirstName returns the first word of the lead's name, or a neutral fallback.
func (l *Lead) FirstName() string {
	fields := strings.Fields(strings.TrimSpace(l.Name))
	if len(fields) == 0 {
		return "tudo bem"
	}
	return fields[0]
}

// OutboundAddress resolves the address used for outbound dispatch: the phone
// number when known, otherwise the channel-linked identifier. A lead with
// neither is not contactable.
func (l *Lead) OutboundAddress() (string, bool) {
	if l.Phone != nil && strings.TrimSpace(*l.Phone) != "" {
		return *l.Phone, true
	}
	if l.ChannelJID != nil && strings.TrimSpace(*l.ChannelJID) != "" {
		return *l.ChannelJID, true
	}
	return "", false
}

// QualificationReady reports whether the lead has furnished enough data to
// leave the intake stage: at least one of monthly bill or city.
func (l *Lead) QualificationReady() bool {
	return l.MonthlyBill != nil || (l.City != nil && strings.TrimSpace(*l.City) != "")
}

// FullyQualified reports whether both required qualification fields are known.
func (l *Lead) FullyQualified() bool {
	return l.MonthlyBill != nil && l.City != nil && strings.TrimSpace(*l.City) != ""
}

// QualificationField identifies one of the qualification data points collected
// during intake, ordered by importance.
type QualificationField string

const (
	FieldMonthlyBill         QualificationField = "monthly_bill"
	FieldConsumptionIncrease QualificationField = "consumption_increase"
	FieldSegment             QualificationField = "segment"
	FieldRoofType            QualificationField = "roof_type"
	FieldCity                QualificationField = "city"
)

// MissingQualificationFields returns the unfilled qualification fields in
// descending order of importance.
func (l *Lead) MissingQualificationFields() []QualificationField {
	var missing []QualificationField
	if l.MonthlyBill == nil {
		missing = append(missing, FieldMonthlyBill)
	}
	if l.ConsumptionIncrease == nil {
		missing = append(missing, FieldConsumptionIncrease)
	}
	if l.Segment == nil || strings.TrimSpace(stringValue(l.Segment)) == "" {
		missing = append(missing, FieldSegment)
	}
	if l.RoofType == nil || strings.TrimSpace(stringValue(l.RoofType)) == "" {
		missing = append(missing, FieldRoofType)
	}
	if l.City == nil || strings.TrimSpace(stringValue(l.City)) == "" {
		missing = append(missing, FieldCity)
	}
	return missing
}

func stringValue(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
