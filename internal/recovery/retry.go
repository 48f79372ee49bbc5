package recovery

import (
	"context"
	"time"

	"leadflow_backend/internal/dispatch"
	"leadflow_backend/internal/leads/domain"
)

// retryNudgeTemplate is the single-shot re-engagement message. The last
// persisted message doubles as the idempotence guard, so the rendered text
// must be stable per lead.
const retryNudgeTemplate = "Oi {{name}}, você ainda está por aí? Fiquei com sua proposta em aberto aqui. 😊"

// CheckRetries nudges intake leads that received an assistant reply and then
// went silent. Each lead is nudged at most once: once the nudge itself is the
// last message, the lead no longer matches.
func (s *Service) CheckRetries(ctx context.Context) error {
	log := s.log.WithJob("retry")

	cutoff := time.Now().Add(-s.retrySilence)
	leads, err := s.store.ListIntakeSilent(ctx, cutoff, 0)
	if err != nil {
		return err
	}

	sent := 0
	for _, lead := range leads {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		address, ok := lead.OutboundAddress()
		if !ok {
			continue
		}

		last, err := s.store.LastMessage(ctx, lead.ID)
		if err != nil {
			log.WithLead(lead.ID.String()).Warn("last message lookup failed", "error", err.Error())
			continue
		}
		nudge := dispatch.Personalize(retryNudgeTemplate, &lead)
		if last == nil || last.Sender != domain.SenderAI || last.Content == nudge {
			continue
		}

		if err := s.queue.Enqueue(ctx, dispatch.Task{
			Kind:    dispatch.KindAutomatedNudge,
			LeadID:  lead.ID,
			Address: address,
			Text:    nudge,
		}); err != nil {
			log.WithLead(lead.ID.String()).Warn("retry nudge rejected", "error", err.Error())
			continue
		}

		if _, err := s.store.CreateMessage(ctx, lead.ID, domain.SenderAI, nudge); err != nil {
			log.WithLead(lead.ID.String()).Warn("retry nudge sent but not persisted", "error", err.Error())
		}
		if err := s.store.TouchInteraction(ctx, lead.ID, time.Now()); err != nil {
			log.WithLead(lead.ID.String()).Warn("silence clock not reset", "error", err.Error())
		}
		sent++
	}

	if sent > 0 {
		log.Info("retry run finished", "candidates", len(leads), "nudged", sent)
	}
	return nil
}
