// Package repository persists leads, messages, follow-up rules and pipelines.
package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"leadflow_backend/internal/leads/domain"
	"leadflow_backend/platform/apperr"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const (
	opGetLead            = "leads.repository.get"
	opResolveLead        = "leads.repository.resolve"
	opCreateLead         = "leads.repository.create"
	opUpdateLead         = "leads.repository.update"
	opCreateMessage      = "leads.repository.create_message"
	opListMessages       = "leads.repository.list_messages"
	opListLeads          = "leads.repository.list_leads"
	opListRules          = "leads.repository.list_rules"
	opGetPipeline        = "leads.repository.get_pipeline"
	errRepoNotConfigured = "leads repository not configured"
)

var leadFields = []string{
	"id", "name", "phone", "channel_jid", "pipeline_id", "monthly_bill", "city",
	"roof_type", "segment", "consumption_increase", "qualification_complete",
	"ai_status", "ai_paused_at", "followup_count", "last_followup_rule_step",
	"last_followup_at", "last_interaction_at", "last_sla_alert_at", "status",
	"created_at", "updated_at",
}

func leadColumns(prefix string) string {
	if prefix == "" {
		return strings.Join(leadFields, ", ")
	}
	prefixed := make([]string, len(leadFields))
	for i, f := range leadFields {
		prefixed[i] = prefix + f
	}
	return strings.Join(prefixed, ", ")
}

// Repository provides Postgres-backed access to the lead engagement entities.
type Repository struct {
	pool *pgxpool.Pool
}

// New creates a new leads repository.
func New(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

func scanLead(row pgx.Row) (domain.Lead, error) {
	var l domain.Lead
	err := row.Scan(
		&l.ID, &l.Name, &l.Phone, &l.ChannelJID, &l.PipelineID, &l.MonthlyBill, &l.City,
		&l.RoofType, &l.Segment, &l.ConsumptionIncrease, &l.QualificationComplete,
		&l.AIStatus, &l.AIPausedAt, &l.FollowupCount, &l.LastFollowupRuleStep,
		&l.LastFollowupAt, &l.LastInteractionAt, &l.LastSLAAlertAt, &l.Status,
		&l.CreatedAt, &l.UpdatedAt,
	)
	return l, err
}

func (r *Repository) collectLeads(rows pgx.Rows) ([]domain.Lead, error) {
	defer rows.Close()

	var leads []domain.Lead
	for rows.Next() {
		lead, err := scanLead(rows)
		if err != nil {
			return nil, err
		}
		leads = append(leads, lead)
	}
	return leads, rows.Err()
}

// GetLead fetches a lead by ID.
func (r *Repository) GetLead(ctx context.Context, id uuid.UUID) (domain.Lead, error) {
	if r == nil || r.pool == nil {
		return domain.Lead{}, apperr.Internal(errRepoNotConfigured).WithOp(opGetLead)
	}

	lead, err := scanLead(r.pool.QueryRow(ctx,
		`SELECT `+leadColumns("")+` FROM leads WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Lead{}, apperr.NotFound("lead not found").WithOp(opGetLead)
	}
	if err != nil {
		return domain.Lead{}, apperr.Wrap(apperr.KindInternal, "get lead failed", err).WithOp(opGetLead)
	}
	return lead, nil
}

// ResolveByAddress finds the lead matching a normalized phone suffix or, when
// only the alternate identifier is known, an exact channel JID. Blocked leads
// are never resolved.
func (r *Repository) ResolveByAddress(ctx context.Context, phoneSuffix, channelJID string) (*domain.Lead, error) {
	if r == nil || r.pool == nil {
		return nil, apperr.Internal(errRepoNotConfigured).WithOp(opResolveLead)
	}
	if phoneSuffix == "" && channelJID == "" {
		return nil, nil
	}

	lead, err := scanLead(r.pool.QueryRow(ctx, `
		SELECT `+leadColumns("")+`
		FROM leads
		WHERE status <> 'blocked'
		  AND (
		        ($1 <> '' AND phone IS NOT NULL
		         AND right(regexp_replace(phone, '\D', '', 'g'), 8) = $1)
		     OR ($2 <> '' AND channel_jid = $2)
		  )
		ORDER BY created_at DESC
		LIMIT 1
	`, phoneSuffix, channelJID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, apperr.Wrap(apperr.KindInternal, "resolve lead failed", err).WithOp(opResolveLead)
	}
	return &lead, nil
}

// AddressBlocked reports whether the addressing data belongs to a blocked
// lead. Resolution hides blocked leads, so intake checks this before treating
// an unresolved address as a first contact.
func (r *Repository) AddressBlocked(ctx context.Context, phoneSuffix, channelJID string) (bool, error) {
	if r == nil || r.pool == nil {
		return false, apperr.Internal(errRepoNotConfigured).WithOp(opResolveLead)
	}
	if phoneSuffix == "" && channelJID == "" {
		return false, nil
	}

	var blocked bool
	err := r.pool.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1
			FROM leads
			WHERE status = 'blocked'
			  AND (
			        ($1 <> '' AND phone IS NOT NULL
			         AND right(regexp_replace(phone, '\D', '', 'g'), 8) = $1)
			     OR ($2 <> '' AND channel_jid = $2)
			  )
		)`, phoneSuffix, channelJID).Scan(&blocked)
	if err != nil {
		return false, apperr.Wrap(apperr.KindInternal, "blocked address lookup failed", err).WithOp(opResolveLead)
	}
	return blocked, nil
}

// CreateLeadParams are the fields needed to create a lead on first contact.
type CreateLeadParams struct {
	Name       string
	Phone      *string
	ChannelJID *string
	PipelineID uuid.UUID
}

// CreateLead inserts a new active lead in the given pipeline stage.
func (r *Repository) CreateLead(ctx context.Context, p CreateLeadParams) (domain.Lead, error) {
	if r == nil || r.pool == nil {
		return domain.Lead{}, apperr.Internal(errRepoNotConfigured).WithOp(opCreateLead)
	}
	if p.PipelineID == uuid.Nil {
		return domain.Lead{}, apperr.Validation("pipelineId is required").WithOp(opCreateLead)
	}

	lead, err := scanLead(r.pool.QueryRow(ctx, `
		INSERT INTO leads (name, phone, channel_jid, pipeline_id)
		VALUES ($1, $2, $3, $4)
		RETURNING `+leadColumns(""),
		p.Name, p.Phone, p.ChannelJID, p.PipelineID))
	if err != nil {
		return domain.Lead{}, apperr.Wrap(apperr.KindInternal, "create lead failed", err).WithOp(opCreateLead)
	}
	return lead, nil
}

// TouchInteraction updates last_interaction_at.
func (r *Repository) TouchInteraction(ctx context.Context, id uuid.UUID, at time.Time) error {
	return r.exec(ctx, opUpdateLead,
		`UPDATE leads SET last_interaction_at = $2, updated_at = now() WHERE id = $1`, id, at)
}

// RegisterCustomerTurn records an inbound customer interaction: the follow-up
// sequence restarts and the silence clock resets.
func (r *Repository) RegisterCustomerTurn(ctx context.Context, id uuid.UUID, at time.Time) error {
	return r.exec(ctx, opUpdateLead, `
		UPDATE leads
		SET followup_count = 0, last_followup_rule_step = NULL,
		    last_interaction_at = $2, updated_at = now()
		WHERE id = $1`, id, at)
}

// SetAIStatus transitions the AI status. A non-active status always carries a
// paused-at timestamp.
func (r *Repository) SetAIStatus(ctx context.Context, id uuid.UUID, status domain.AIStatus, at time.Time) error {
	if status == domain.AIActive {
		return r.exec(ctx, opUpdateLead, `
			UPDATE leads SET ai_status = 'active', ai_paused_at = NULL, updated_at = now()
			WHERE id = $1`, id)
	}
	return r.exec(ctx, opUpdateLead, `
		UPDATE leads SET ai_status = $2, ai_paused_at = $3, updated_at = now()
		WHERE id = $1`, id, status, at)
}

// MarkHumanIntervention hands the lead to a human unless it already is.
// Returns whether the transition happened.
func (r *Repository) MarkHumanIntervention(ctx context.Context, id uuid.UUID, at time.Time) (bool, error) {
	if r == nil || r.pool == nil {
		return false, apperr.Internal(errRepoNotConfigured).WithOp(opUpdateLead)
	}

	tag, err := r.pool.Exec(ctx, `
		UPDATE leads
		SET ai_status = 'human_intervention', ai_paused_at = $2, updated_at = now()
		WHERE id = $1 AND ai_status <> 'human_intervention'`, id, at)
	if err != nil {
		return false, apperr.Wrap(apperr.KindInternal, "mark human intervention failed", err).WithOp(opUpdateLead)
	}
	return tag.RowsAffected() == 1, nil
}

// PromoteFromPipeline advances the lead to a new stage, but only while it is
// still in the expected one. The follow-up step counter resets on every
// pipeline transition. Returns whether the promotion happened.
func (r *Repository) PromoteFromPipeline(ctx context.Context, id, fromPipeline, toPipeline uuid.UUID) (bool, error) {
	if r == nil || r.pool == nil {
		return false, apperr.Internal(errRepoNotConfigured).WithOp(opUpdateLead)
	}

	tag, err := r.pool.Exec(ctx, `
		UPDATE leads
		SET pipeline_id = $3, followup_count = 0, last_followup_rule_step = NULL, updated_at = now()
		WHERE id = $1 AND pipeline_id = $2`, id, fromPipeline, toPipeline)
	if err != nil {
		return false, apperr.Wrap(apperr.KindInternal, "promote lead failed", err).WithOp(opUpdateLead)
	}
	return tag.RowsAffected() == 1, nil
}

// QualificationUpdate carries opportunistically extracted qualification data.
// Nil fields leave the stored value untouched.
type QualificationUpdate struct {
	MonthlyBill         *float64
	City                *string
	RoofType            *string
	Segment             *string
	ConsumptionIncrease *bool
}

// IsEmpty reports whether the update carries no data.
func (u QualificationUpdate) IsEmpty() bool {
	return u.MonthlyBill == nil && u.City == nil && u.RoofType == nil &&
		u.Segment == nil && u.ConsumptionIncrease == nil
}

// UpdateQualification fills qualification fields without overwriting known
// values with absent ones.
func (r *Repository) UpdateQualification(ctx context.Context, id uuid.UUID, u QualificationUpdate) error {
	return r.exec(ctx, opUpdateLead, `
		UPDATE leads
		SET monthly_bill = COALESCE($2, monthly_bill),
		    city = COALESCE($3, city),
		    roof_type = COALESCE($4, roof_type),
		    segment = COALESCE($5, segment),
		    consumption_increase = COALESCE($6, consumption_increase),
		    updated_at = now()
		WHERE id = $1`,
		id, u.MonthlyBill, u.City, u.RoofType, u.Segment, u.ConsumptionIncrease)
}

// SetQualificationComplete flags the lead as fully qualified.
func (r *Repository) SetQualificationComplete(ctx context.Context, id uuid.UUID) error {
	return r.exec(ctx, opUpdateLead,
		`UPDATE leads SET qualification_complete = TRUE, updated_at = now() WHERE id = $1`, id)
}

// RecordFollowUp advances the follow-up step pointer after a confirmed send.
// The update is conditional on the step counter still matching what the
// engine read, so a concurrent scheduler acting on the same lead cannot make
// the counter skip a step. Returns whether the update applied.
func (r *Repository) RecordFollowUp(ctx context.Context, id uuid.UUID, expectedCount, ruleStep int, at time.Time) (bool, error) {
	if r == nil || r.pool == nil {
		return false, apperr.Internal(errRepoNotConfigured).WithOp(opUpdateLead)
	}

	tag, err := r.pool.Exec(ctx, `
		UPDATE leads
		SET followup_count = followup_count + 1,
		    last_followup_rule_step = $3,
		    last_followup_at = $4,
		    last_interaction_at = $4,
		    updated_at = now()
		WHERE id = $1 AND followup_count = $2`, id, expectedCount, ruleStep, at)
	if err != nil {
		return false, apperr.Wrap(apperr.KindInternal, "record follow-up failed", err).WithOp(opUpdateLead)
	}
	return tag.RowsAffected() == 1, nil
}

// SetLastSLAAlert records when a staleness alert was last raised for the lead.
func (r *Repository) SetLastSLAAlert(ctx context.Context, id uuid.UUID, at time.Time) error {
	return r.exec(ctx, opUpdateLead,
		`UPDATE leads SET last_sla_alert_at = $2, updated_at = now() WHERE id = $1`, id, at)
}

// CreateMessage appends one conversation turn.
func (r *Repository) CreateMessage(ctx context.Context, leadID uuid.UUID, sender domain.SenderRole, content string) (domain.Message, error) {
	if r == nil || r.pool == nil {
		return domain.Message{}, apperr.Internal(errRepoNotConfigured).WithOp(opCreateMessage)
	}

	var m domain.Message
	err := r.pool.QueryRow(ctx, `
		INSERT INTO messages (lead_id, sender, content)
		VALUES ($1, $2, $3)
		RETURNING id, lead_id, sender, content, created_at`,
		leadID, sender, content).Scan(&m.ID, &m.LeadID, &m.Sender, &m.Content, &m.CreatedAt)
	if err != nil {
		return domain.Message{}, apperr.Wrap(apperr.KindInternal, "create message failed", err).WithOp(opCreateMessage)
	}
	return m, nil
}

// LastMessage returns the most recent conversation turn, or nil when the lead
// has none.
func (r *Repository) LastMessage(ctx context.Context, leadID uuid.UUID) (*domain.Message, error) {
	if r == nil || r.pool == nil {
		return nil, apperr.Internal(errRepoNotConfigured).WithOp(opListMessages)
	}

	var m domain.Message
	err := r.pool.QueryRow(ctx, `
		SELECT id, lead_id, sender, content, created_at
		FROM messages
		WHERE lead_id = $1
		ORDER BY created_at DESC, seq DESC
		LIMIT 1`, leadID).Scan(&m.ID, &m.LeadID, &m.Sender, &m.Content, &m.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, apperr.Wrap(apperr.KindInternal, "last message failed", err).WithOp(opListMessages)
	}
	return &m, nil
}

// RecentMessages returns the last `limit` turns in chronological order.
func (r *Repository) RecentMessages(ctx context.Context, leadID uuid.UUID, limit int) ([]domain.Message, error) {
	if r == nil || r.pool == nil {
		return nil, apperr.Internal(errRepoNotConfigured).WithOp(opListMessages)
	}

	rows, err := r.pool.Query(ctx, `
		SELECT id, lead_id, sender, content, created_at FROM (
			SELECT id, lead_id, sender, content, created_at, seq
			FROM messages
			WHERE lead_id = $1
			ORDER BY created_at DESC, seq DESC
			LIMIT $2
		) recent
		ORDER BY created_at ASC, seq ASC`, leadID, limit)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindInternal, "recent messages failed", err).WithOp(opListMessages)
	}
	defer rows.Close()

	var msgs []domain.Message
	for rows.Next() {
		var m domain.Message
		if err := rows.Scan(&m.ID, &m.LeadID, &m.Sender, &m.Content, &m.CreatedAt); err != nil {
			return nil, apperr.Wrap(apperr.KindInternal, "scan message failed", err).WithOp(opListMessages)
		}
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

// ListFollowupCandidates returns contactable, active, AI-active leads ordered
// oldest interaction first.
func (r *Repository) ListFollowupCandidates(ctx context.Context) ([]domain.Lead, error) {
	if r == nil || r.pool == nil {
		return nil, apperr.Internal(errRepoNotConfigured).WithOp(opListLeads)
	}

	rows, err := r.pool.Query(ctx, `
		SELECT `+leadColumns("")+`
		FROM leads
		WHERE status = 'active' AND ai_status = 'active'
		  AND (phone IS NOT NULL OR channel_jid IS NOT NULL)
		ORDER BY last_interaction_at ASC`)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindInternal, "list follow-up candidates failed", err).WithOp(opListLeads)
	}
	return r.collectLeads(rows)
}

// ListIntakeSilent returns active, AI-active intake-stage leads whose last
// interaction is at or before the given cutoff, oldest first. A limit of 0
// means no limit.
func (r *Repository) ListIntakeSilent(ctx context.Context, cutoff time.Time, limit int) ([]domain.Lead, error) {
	if r == nil || r.pool == nil {
		return nil, apperr.Internal(errRepoNotConfigured).WithOp(opListLeads)
	}

	rows, err := r.pool.Query(ctx, `
		SELECT `+leadColumns("l.")+`
		FROM leads l
		JOIN pipelines p ON p.id = l.pipeline_id
		WHERE p.is_intake
		  AND l.status = 'active' AND l.ai_status = 'active'
		  AND (l.phone IS NOT NULL OR l.channel_jid IS NOT NULL)
		  AND l.last_interaction_at <= $1
		ORDER BY l.last_interaction_at ASC
		LIMIT NULLIF($2, 0)`, cutoff, limit)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindInternal, "list silent intake leads failed", err).WithOp(opListLeads)
	}
	return r.collectLeads(rows)
}

// ListStale returns active leads idle beyond their pipeline's SLA threshold
// that have not been alerted on in the last day.
func (r *Repository) ListStale(ctx context.Context, now time.Time) ([]domain.Lead, error) {
	if r == nil || r.pool == nil {
		return nil, apperr.Internal(errRepoNotConfigured).WithOp(opListLeads)
	}

	rows, err := r.pool.Query(ctx, `
		SELECT `+leadColumns("l.")+`
		FROM leads l
		JOIN pipelines p ON p.id = l.pipeline_id
		WHERE l.status = 'active'
		  AND l.last_interaction_at < $1::timestamptz - make_interval(days => p.sla_days)
		  AND (l.last_sla_alert_at IS NULL OR l.last_sla_alert_at < $1::timestamptz - interval '24 hours')
		ORDER BY l.last_interaction_at ASC`, now)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindInternal, "list stale leads failed", err).WithOp(opListLeads)
	}
	return r.collectLeads(rows)
}

// ListActiveRules returns every active follow-up rule ordered by pipeline and
// ascending step.
func (r *Repository) ListActiveRules(ctx context.Context) ([]domain.FollowUpRule, error) {
	if r == nil || r.pool == nil {
		return nil, apperr.Internal(errRepoNotConfigured).WithOp(opListRules)
	}

	rows, err := r.pool.Query(ctx, `
		SELECT id, pipeline_id, step, delay_hours, template, active
		FROM followup_rules
		WHERE active
		ORDER BY pipeline_id, step ASC`)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindInternal, "list rules failed", err).WithOp(opListRules)
	}
	defer rows.Close()

	var rules []domain.FollowUpRule
	for rows.Next() {
		var rule domain.FollowUpRule
		if err := rows.Scan(&rule.ID, &rule.PipelineID, &rule.Step, &rule.DelayHours, &rule.Template, &rule.Active); err != nil {
			return nil, apperr.Wrap(apperr.KindInternal, "scan rule failed", err).WithOp(opListRules)
		}
		rules = append(rules, rule)
	}
	return rules, rows.Err()
}

// IntakePipeline returns the default stage assigned on first contact.
func (r *Repository) IntakePipeline(ctx context.Context) (domain.Pipeline, error) {
	return r.getPipeline(ctx,
		`SELECT id, name, position, sla_days, is_intake FROM pipelines WHERE is_intake ORDER BY position ASC LIMIT 1`)
}

// GetPipeline fetches a pipeline stage by ID.
func (r *Repository) GetPipeline(ctx context.Context, id uuid.UUID) (domain.Pipeline, error) {
	return r.getPipeline(ctx,
		`SELECT id, name, position, sla_days, is_intake FROM pipelines WHERE id = $1`, id)
}

// NextPipeline returns the stage ordered immediately after the given one, or
// nil when the lead is already in the final stage.
func (r *Repository) NextPipeline(ctx context.Context, currentID uuid.UUID) (*domain.Pipeline, error) {
	if r == nil || r.pool == nil {
		return nil, apperr.Internal(errRepoNotConfigured).WithOp(opGetPipeline)
	}

	var p domain.Pipeline
	err := r.pool.QueryRow(ctx, `
		SELECT id, name, position, sla_days, is_intake
		FROM pipelines
		WHERE position > (SELECT position FROM pipelines WHERE id = $1)
		ORDER BY position ASC
		LIMIT 1`, currentID).Scan(&p.ID, &p.Name, &p.Position, &p.SLADays, &p.IsIntake)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, apperr.Wrap(apperr.KindInternal, "next pipeline failed", err).WithOp(opGetPipeline)
	}
	return &p, nil
}

func (r *Repository) getPipeline(ctx context.Context, query string, args ...any) (domain.Pipeline, error) {
	if r == nil || r.pool == nil {
		return domain.Pipeline{}, apperr.Internal(errRepoNotConfigured).WithOp(opGetPipeline)
	}

	var p domain.Pipeline
	err := r.pool.QueryRow(ctx, query, args...).Scan(&p.ID, &p.Name, &p.Position, &p.SLADays, &p.IsIntake)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Pipeline{}, apperr.NotFound("pipeline not found").WithOp(opGetPipeline)
	}
	if err != nil {
		return domain.Pipeline{}, apperr.Wrap(apperr.KindInternal, "get pipeline failed", err).WithOp(opGetPipeline)
	}
	return p, nil
}

func (r *Repository) exec(ctx context.Context, op, query string, args ...any) error {
	if r == nil || r.pool == nil {
		return apperr.Internal(errRepoNotConfigured).WithOp(op)
	}
	if _, err := r.pool.Exec(ctx, query, args...); err != nil {
		return apperr.Wrap(apperr.KindInternal, fmt.Sprintf("%s failed", op), err).WithOp(op)
	}
	return nil
}
