// Package notification turns domain events into admin alerts. Delivery
// failures are logged and swallowed: alerting must never break the flow that
// raised the event.
package notification

import (
	"context"
	"fmt"

	"leadflow_backend/internal/dispatch"
	"leadflow_backend/internal/events"
	"leadflow_backend/platform/config"
	"leadflow_backend/platform/logger"
)

// Enqueuer admits outbound tasks to the shared dispatch queue.
type Enqueuer interface {
	Enqueue(ctx context.Context, task dispatch.Task) error
}

// Service subscribes to domain events and notifies the admin over WhatsApp
// and email.
type Service struct {
	queue      Enqueuer
	mailer     *Mailer
	adminPhone string
	log        *logger.Logger
}

func NewService(queue Enqueuer, mailer *Mailer, cfg config.NotificationConfig, log *logger.Logger) *Service {
	return &Service{
		queue:      queue,
		mailer:     mailer,
		adminPhone: cfg.GetAdminPhone(),
		log:        log,
	}
}

// Subscribe registers the event handlers on the bus.
func (s *Service) Subscribe(bus events.Bus) {
	bus.Subscribe(events.HumanTakeover{}.EventName(), events.HandlerFunc(s.onHumanTakeover))
	bus.Subscribe(events.LeadQualified{}.EventName(), events.HandlerFunc(s.onLeadQualified))
	bus.Subscribe(events.LeadStale{}.EventName(), events.HandlerFunc(s.onLeadStale))
}

func (s *Service) onHumanTakeover(ctx context.Context, event events.Event) error {
	e, ok := event.(events.HumanTakeover)
	if !ok {
		return nil
	}

	text := fmt.Sprintf("🙋 Atendimento humano assumiu o lead %s (%s). Motivo: %s.",
		e.LeadName, e.Address, e.Reason)
	s.notify(ctx, "Lead em atendimento humano", text)
	return nil
}

func (s *Service) onLeadQualified(ctx context.Context, event events.Event) error {
	e, ok := event.(events.LeadQualified)
	if !ok {
		return nil
	}

	detail := ""
	if e.MonthlyBill != nil {
		detail += fmt.Sprintf(" Conta: R$ %.2f.", *e.MonthlyBill)
	}
	if e.City != nil {
		detail += fmt.Sprintf(" Cidade: %s.", *e.City)
	}
	text := fmt.Sprintf("✅ Lead qualificado: %s.%s", e.LeadName, detail)
	s.notify(ctx, "Novo lead qualificado", text)
	return nil
}

func (s *Service) onLeadStale(ctx context.Context, event events.Event) error {
	e, ok := event.(events.LeadStale)
	if !ok {
		return nil
	}

	text := fmt.Sprintf("⏰ Lead parado: %s está sem movimento na etapa %s desde %s.",
		e.LeadName, e.Pipeline, e.IdleSince)
	s.notify(ctx, "Lead parado além do SLA", text)
	return nil
}

// notify fans the alert out to every configured channel.
func (s *Service) notify(ctx context.Context, subject, text string) {
	if s.adminPhone != "" && s.queue != nil {
		err := s.queue.Enqueue(ctx, dispatch.Task{
			Kind:    dispatch.KindSingle,
			Address: s.adminPhone,
			Text:    text,
		})
		if err != nil {
			s.log.Warn("admin whatsapp alert not sent", "error", err.Error())
		}
	}

	if err := s.mailer.Send(ctx, subject, text); err != nil {
		s.log.Warn("admin email alert not sent", "error", err.Error())
	}
}
