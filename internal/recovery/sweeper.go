package recovery

import (
	"context"
	"fmt"
	"strings"
	"time"

	"leadflow_backend/internal/dispatch"
	"leadflow_backend/internal/events"
	"leadflow_backend/internal/leads/domain"
	"leadflow_backend/platform/logger"
)

// SweepReport summarizes one sweeper pass.
type SweepReport struct {
	Processed int
	Moved     int
	Reminded  int
}

// RunSweep unsticks intake leads whose conversation stalled without the
// customer leaving them. Fully qualified leads are promoted and handed to a
// human; the rest get asked for whatever is still missing.
func (s *Service) RunSweep(ctx context.Context) (SweepReport, error) {
	log := s.log.WithJob("sweep")
	var report SweepReport

	cutoff := time.Now().Add(-s.sweepSilence)
	leads, err := s.store.ListIntakeSilent(ctx, cutoff, s.sweepBatch)
	if err != nil {
		return report, err
	}

	for _, lead := range leads {
		if ctx.Err() != nil {
			return report, ctx.Err()
		}

		// A pending customer turn belongs to the intake flow, not the sweeper.
		last, err := s.store.LastMessage(ctx, lead.ID)
		if err != nil {
			log.WithLead(lead.ID.String()).Warn("last message lookup failed", "error", err.Error())
			continue
		}
		if last != nil && last.Sender == domain.SenderCustomer {
			continue
		}

		report.Processed++

		if lead.FullyQualified() {
			if err := s.promote(ctx, &lead); err != nil {
				log.WithLead(lead.ID.String()).Warn("promotion failed", "error", err.Error())
				continue
			}
			report.Moved++
			continue
		}

		if sent := s.remind(ctx, &lead, log); sent {
			report.Reminded++
			s.pause(ctx, s.interLeadDelay)
		}
	}

	if report.Processed > 0 {
		log.Info("sweep finished",
			"processed", report.Processed,
			"moved", report.Moved,
			"reminded", report.Reminded)
	}
	return report, nil
}

// promote moves a fully qualified lead out of intake and silences the
// auto-responder for it. This state is terminal for automation.
func (s *Service) promote(ctx context.Context, lead *domain.Lead) error {
	next, err := s.store.NextPipeline(ctx, lead.PipelineID)
	if err != nil {
		return err
	}
	if next == nil {
		return fmt.Errorf("no stage after current pipeline")
	}

	moved, err := s.store.PromoteFromPipeline(ctx, lead.ID, lead.PipelineID, next.ID)
	if err != nil {
		return err
	}
	if !moved {
		// Another writer already advanced the lead.
		return nil
	}

	if _, err := s.store.MarkHumanIntervention(ctx, lead.ID, time.Now()); err != nil {
		return err
	}
	if err := s.store.SetQualificationComplete(ctx, lead.ID); err != nil {
		return err
	}

	if s.bus != nil {
		s.bus.Publish(ctx, events.LeadQualified{
			BaseEvent:   events.NewBaseEvent(),
			LeadID:      lead.ID,
			LeadName:    lead.Name,
			PipelineID:  next.ID,
			MonthlyBill: lead.MonthlyBill,
			City:        lead.City,
		})
	}
	return nil
}

// remind asks the lead for the qualification data still missing, phrased by
// how much is outstanding.
func (s *Service) remind(ctx context.Context, lead *domain.Lead, log *logger.Logger) bool {
	address, ok := lead.OutboundAddress()
	if !ok {
		return false
	}

	text := missingFieldsMessage(lead)
	if text == "" {
		return false
	}

	if err := s.queue.Enqueue(ctx, dispatch.Task{
		Kind:    dispatch.KindAutomatedNudge,
		LeadID:  lead.ID,
		Address: address,
		Text:    text,
	}); err != nil {
		log.WithLead(lead.ID.String()).Warn("sweep reminder rejected", "error", err.Error())
		return false
	}

	if _, err := s.store.CreateMessage(ctx, lead.ID, domain.SenderAI, text); err != nil {
		log.WithLead(lead.ID.String()).Warn("reminder sent but not persisted", "error", err.Error())
	}
	if err := s.store.TouchInteraction(ctx, lead.ID, time.Now()); err != nil {
		log.WithLead(lead.ID.String()).Warn("silence clock not reset", "error", err.Error())
	}
	return true
}

// missingFieldsMessage renders the ask for the outstanding qualification
// fields. Phrasing shifts with how many are missing so repeated asks do not
// read like a form.
func missingFieldsMessage(lead *domain.Lead) string {
	missing := lead.MissingQualificationFields()
	if len(missing) == 0 {
		return ""
	}

	labels := make([]string, 0, len(missing))
	for _, field := range missing {
		labels = append(labels, fieldLabel(field))
	}

	name := lead.FirstName()
	switch len(labels) {
	case 1:
		return fmt.Sprintf("Oi %s! Para eu montar sua simulação, só falta me dizer %s. Pode me passar?", name, labels[0])
	case 2:
		return fmt.Sprintf("Oi %s! Faltam só dois detalhes: %s e %s. Assim já consigo avançar com sua proposta.", name, labels[0], labels[1])
	default:
		return fmt.Sprintf("Oi %s! Para preparar sua proposta ainda preciso de algumas informações: %s. Me conta quando puder!", name, joinLabels(labels))
	}
}

func joinLabels(labels []string) string {
	if len(labels) < 2 {
		return strings.Join(labels, "")
	}
	return strings.Join(labels[:len(labels)-1], ", ") + " e " + labels[len(labels)-1]
}

func fieldLabel(field domain.QualificationField) string {
	switch field {
	case domain.FieldMonthlyBill:
		return "o valor da sua conta de energia"
	case domain.FieldConsumptionIncrease:
		return "se pretende aumentar o consumo"
	case domain.FieldSegment:
		return "se o imóvel é residencial ou comercial"
	case domain.FieldRoofType:
		return "o tipo do seu telhado"
	case domain.FieldCity:
		return "a sua cidade"
	default:
		return string(field)
	}
}
