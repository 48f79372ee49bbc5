// Package followup implements the staged nudge engine. Each pipeline carries
// an ordered rule sequence; leads that went quiet after an assistant turn are
// advanced through it one step per run.
package followup

import (
	"context"
	"time"

	"github.com/google/uuid"

	"leadflow_backend/internal/dispatch"
	"leadflow_backend/internal/leads/domain"
	"leadflow_backend/platform/config"
	"leadflow_backend/platform/logger"
)

// LeadStore is the persistence surface the engine needs.
type LeadStore interface {
	ListFollowupCandidates(ctx context.Context) ([]domain.Lead, error)
	ListActiveRules(ctx context.Context) ([]domain.FollowUpRule, error)
	LastMessage(ctx context.Context, leadID uuid.UUID) (*domain.Message, error)
	CreateMessage(ctx context.Context, leadID uuid.UUID, sender domain.SenderRole, content string) (domain.Message, error)
	RecordFollowUp(ctx context.Context, id uuid.UUID, expectedCount, ruleStep int, at time.Time) (bool, error)
}

// Enqueuer admits outbound tasks to the shared dispatch queue.
type Enqueuer interface {
	Enqueue(ctx context.Context, task dispatch.Task) error
}

// Report summarizes one engine run.
type Report struct {
	Total int
	Sent  int
}

// Service is the follow-up rule engine, invoked by the scheduler coordinator.
type Service struct {
	store LeadStore
	queue Enqueuer
	log   *logger.Logger

	defaultDelay    time.Duration
	defaultTemplate string
	maxCount        int

	// interSendDelay spaces consecutive nudges within one run.
	interSendDelay time.Duration
}

func NewService(store LeadStore, queue Enqueuer, cfg config.EngagementConfig, log *logger.Logger) *Service {
	return &Service{
		store:           store,
		queue:           queue,
		log:             log.WithJob("followup"),
		defaultDelay:    cfg.GetFollowupDefaultDelay(),
		defaultTemplate: cfg.GetFollowupDefaultTemplate(),
		maxCount:        cfg.GetFollowupMaxCount(),
		interSendDelay:  time.Second,
	}
}

// Run executes one engine pass. Candidates are processed oldest first and a
// failure on one lead never halts the rest of the batch.
func (s *Service) Run(ctx context.Context) (Report, error) {
	var report Report

	leads, err := s.store.ListFollowupCandidates(ctx)
	if err != nil {
		return report, err
	}
	rules, err := s.store.ListActiveRules(ctx)
	if err != nil {
		return report, err
	}
	rulesByPipeline := groupRules(rules)

	report.Total = len(leads)
	now := time.Now()

	for _, lead := range leads {
		if ctx.Err() != nil {
			return report, ctx.Err()
		}

		sent, err := s.processLead(ctx, &lead, rulesByPipeline[lead.PipelineID], now)
		if err != nil {
			s.log.WithLead(lead.ID.String()).Warn("follow-up failed", "error", err.Error())
			continue
		}
		if sent {
			report.Sent++
			s.pause(ctx)
		}
	}

	if report.Sent > 0 {
		s.log.Info("follow-up run finished", "candidates", report.Total, "sent", report.Sent)
	}
	return report, nil
}

// processLead evaluates one candidate and sends at most one nudge.
func (s *Service) processLead(ctx context.Context, lead *domain.Lead, rules []domain.FollowUpRule, now time.Time) (bool, error) {
	address, ok := lead.OutboundAddress()
	if !ok {
		return false, nil
	}

	// Only nudge conversations where the assistant spoke last. A customer
	// turn resets the sequence; a human agent turn means the conversation is
	// out of automation's hands.
	last, err := s.store.LastMessage(ctx, lead.ID)
	if err != nil {
		return false, err
	}
	if last == nil || last.Sender != domain.SenderAI {
		return false, nil
	}

	step := lead.FollowupCount + 1
	delay, template, ruleStep, ok := s.selectStep(lead, rules, step)
	if !ok {
		return false, nil
	}
	if now.Sub(lead.LastInteractionAt) < delay {
		return false, nil
	}

	text := renderTemplate(template, lead)

	if err := s.queue.Enqueue(ctx, dispatch.Task{
		Kind:    dispatch.KindAutomatedNudge,
		LeadID:  lead.ID,
		Address: address,
		Text:    text,
	}); err != nil {
		return false, err
	}

	// Enqueue succeeded: record the turn, then advance the step pointer. The
	// conditional update loses quietly when another writer touched the lead
	// in the meantime.
	if _, err := s.store.CreateMessage(ctx, lead.ID, domain.SenderAI, text); err != nil {
		s.log.WithLead(lead.ID.String()).Warn("nudge sent but not persisted", "error", err.Error())
	}
	applied, err := s.store.RecordFollowUp(ctx, lead.ID, lead.FollowupCount, ruleStep, now)
	if err != nil {
		return true, err
	}
	if !applied {
		s.log.WithLead(lead.ID.String()).Debug("follow-up counter moved concurrently, step not recorded")
	}
	return true, nil
}

// selectStep resolves the delay and template for the lead's next step. A
// pipeline with its own rules is authoritative: when the sequence is
// exhausted or has no matching step, the lead is skipped rather than handed
// to the global default.
func (s *Service) selectStep(lead *domain.Lead, rules []domain.FollowUpRule, step int) (time.Duration, string, int, bool) {
	if len(rules) > 0 {
		for _, rule := range rules {
			if rule.Step == step {
				return rule.Delay(), rule.Template, rule.Step, true
			}
		}
		return 0, "", 0, false
	}

	if lead.FollowupCount >= s.maxCount {
		return 0, "", 0, false
	}
	return s.defaultDelay, s.defaultTemplate, 0, true
}

func (s *Service) pause(ctx context.Context) {
	timer := time.NewTimer(s.interSendDelay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}

func groupRules(rules []domain.FollowUpRule) map[uuid.UUID][]domain.FollowUpRule {
	grouped := make(map[uuid.UUID][]domain.FollowUpRule)
	for _, rule := range rules {
		grouped[rule.PipelineID] = append(grouped[rule.PipelineID], rule)
	}
	return grouped
}

func renderTemplate(template string, lead *domain.Lead) string {
	return dispatch.Personalize(template, lead)
}
