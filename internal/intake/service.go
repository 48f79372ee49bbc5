// Package intake is the inbound webhook state machine. Every message arriving
// from the channel passes through here: classification, lead resolution,
// conversation persistence, the automated reply and opportunistic
// qualification extraction.
package intake

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"

	"leadflow_backend/internal/dispatch"
	"leadflow_backend/internal/events"
	"leadflow_backend/internal/leads/domain"
	"leadflow_backend/internal/leads/repository"
	"leadflow_backend/internal/responder"
	"leadflow_backend/platform/logger"
	"leadflow_backend/platform/phone"
)

// historyWindow bounds how much conversation context travels to the responder.
const historyWindow = 20

// fallbackReply is sent when the responder fails, so the customer never waits
// on a dead conversation.
const fallbackReply = "Recebi sua mensagem! Um dos nossos consultores já vai te responder, só um instante. 😊"

// LeadStore is the persistence surface the intake flow needs.
type LeadStore interface {
	ResolveByAddress(ctx context.Context, phoneSuffix, channelJID string) (*domain.Lead, error)
	AddressBlocked(ctx context.Context, phoneSuffix, channelJID string) (bool, error)
	CreateLead(ctx context.Context, p repository.CreateLeadParams) (domain.Lead, error)
	CreateMessage(ctx context.Context, leadID uuid.UUID, sender domain.SenderRole, content string) (domain.Message, error)
	RegisterCustomerTurn(ctx context.Context, id uuid.UUID, at time.Time) error
	MarkHumanIntervention(ctx context.Context, id uuid.UUID, at time.Time) (bool, error)
	RecentMessages(ctx context.Context, leadID uuid.UUID, limit int) ([]domain.Message, error)
	UpdateQualification(ctx context.Context, id uuid.UUID, u repository.QualificationUpdate) error
	PromoteFromPipeline(ctx context.Context, id, fromPipeline, toPipeline uuid.UUID) (bool, error)
	IntakePipeline(ctx context.Context) (domain.Pipeline, error)
	NextPipeline(ctx context.Context, currentID uuid.UUID) (*domain.Pipeline, error)
}

// Responder generates the next assistant turn.
type Responder interface {
	Reply(ctx context.Context, lead *domain.Lead, history []domain.Message) (*responder.Reply, error)
}

// Enqueuer admits outbound tasks to the shared dispatch queue.
type Enqueuer interface {
	Enqueue(ctx context.Context, task dispatch.Task) error
}

// InboundEvent is one normalized channel webhook delivery.
type InboundEvent struct {
	// Address is the counterparty identifier: a phone number or channel JID.
	Address string
	// AltIdentifier carries the channel JID when Address is a phone number.
	AltIdentifier string
	// SenderName is the contact's display name, used only on first contact.
	SenderName string
	Text       string
	// SenderIsSelf marks messages sent from the business's own device.
	SenderIsSelf bool
	// SenderIsAutomated marks echoes of messages this platform itself sent.
	SenderIsAutomated bool
}

// Service is the intake state machine.
type Service struct {
	store     LeadStore
	responder Responder
	queue     Enqueuer
	bus       events.Bus
	log       *logger.Logger
}

func NewService(store LeadStore, resp Responder, queue Enqueuer, bus events.Bus, log *logger.Logger) *Service {
	return &Service{
		store:     store,
		responder: resp,
		queue:     queue,
		bus:       bus,
		log:       log,
	}
}

// ProcessInbound runs one webhook delivery through the state machine.
func (s *Service) ProcessInbound(ctx context.Context, event InboundEvent) error {
	// The platform's own sends echo back through the webhook. Discard them
	// before they pollute the conversation log.
	if event.SenderIsSelf && event.SenderIsAutomated {
		return nil
	}

	if event.SenderIsSelf {
		return s.handleHumanTakeover(ctx, event)
	}

	return s.handleCustomerTurn(ctx, event)
}

// handleHumanTakeover reacts to a human typing on the business device: the
// auto-responder steps aside for that conversation.
func (s *Service) handleHumanTakeover(ctx context.Context, event InboundEvent) error {
	lead, err := s.resolve(ctx, event)
	if err != nil {
		return err
	}
	if lead == nil {
		// A manual message to an unknown contact is not our conversation.
		return nil
	}

	now := time.Now()
	if strings.TrimSpace(event.Text) != "" {
		if _, err := s.store.CreateMessage(ctx, lead.ID, domain.SenderHumanAgent, event.Text); err != nil {
			s.log.WithLead(lead.ID.String()).Warn("agent turn not persisted", "error", err.Error())
		}
	}

	changed, err := s.store.MarkHumanIntervention(ctx, lead.ID, now)
	if err != nil {
		return err
	}
	if changed && s.bus != nil {
		address, _ := lead.OutboundAddress()
		s.bus.Publish(ctx, events.HumanTakeover{
			BaseEvent: events.NewBaseEvent(),
			LeadID:    lead.ID,
			LeadName:  lead.Name,
			Address:   address,
			Reason:    "operator replied from the channel device",
		})
	}
	return nil
}

// handleCustomerTurn is the main path: persist the turn, answer it, extract
// qualification data and promote the lead when it qualifies.
func (s *Service) handleCustomerTurn(ctx context.Context, event InboundEvent) error {
	lead, err := s.resolveOrCreate(ctx, event)
	if err != nil {
		return err
	}
	if lead == nil {
		// Blocked contact. The conversation stays closed on our side.
		return nil
	}
	log := s.log.WithLead(lead.ID.String())

	now := time.Now()
	if _, err := s.store.CreateMessage(ctx, lead.ID, domain.SenderCustomer, event.Text); err != nil {
		return err
	}
	if err := s.store.RegisterCustomerTurn(ctx, lead.ID, now); err != nil {
		log.Warn("customer turn not registered", "error", err.Error())
	}
	lead.FollowupCount = 0
	lead.LastInteractionAt = now

	// Paused and taken-over conversations stop at persistence: a human owns
	// the thread, so no extraction, promotion or reply runs on it.
	if lead.Status != domain.LeadActive || lead.AIStatus != domain.AIActive {
		return nil
	}

	s.extractAndQualify(ctx, lead, event.Text, log)
	s.respond(ctx, lead, log)
	return nil
}

// respond generates and dispatches the assistant reply, falling back to a
// static acknowledgment when the responder fails.
func (s *Service) respond(ctx context.Context, lead *domain.Lead, log *logger.Logger) {
	address, ok := lead.OutboundAddress()
	if !ok {
		return
	}

	history, err := s.store.RecentMessages(ctx, lead.ID, historyWindow)
	if err != nil {
		log.Warn("history lookup failed", "error", err.Error())
	}

	reply, err := s.responder.Reply(ctx, lead, history)
	if err != nil {
		log.Warn("responder failed, using fallback", "error", err.Error())
		reply = &responder.Reply{Text: fallbackReply}
	}

	if _, err := s.store.CreateMessage(ctx, lead.ID, domain.SenderAI, reply.Text); err != nil {
		log.Warn("assistant turn not persisted", "error", err.Error())
	}

	if err := s.queue.Enqueue(ctx, dispatch.Task{
		Kind:        dispatch.KindSingle,
		LeadID:      lead.ID,
		Address:     address,
		Text:        reply.Text,
		Attachments: reply.Attachments,
	}); err != nil {
		log.Warn("reply rejected by dispatch queue", "error", err.Error())
	}
}

// extractAndQualify applies extracted fields and promotes the lead out of
// intake once the completion predicate holds. The conditional promotion makes
// the stage transition happen at most once even under concurrent webhooks.
func (s *Service) extractAndQualify(ctx context.Context, lead *domain.Lead, text string, log *logger.Logger) {
	update := extractQualification(text)
	if !update.IsEmpty() {
		if err := s.store.UpdateQualification(ctx, lead.ID, update); err != nil {
			log.Warn("qualification update failed", "error", err.Error())
			return
		}
		applyUpdate(lead, update)
	}

	if !lead.QualificationReady() {
		return
	}

	intake, err := s.store.IntakePipeline(ctx)
	if err != nil {
		log.Warn("intake pipeline lookup failed", "error", err.Error())
		return
	}
	if lead.PipelineID != intake.ID {
		return
	}

	next, err := s.store.NextPipeline(ctx, intake.ID)
	if err != nil || next == nil {
		if err != nil {
			log.Warn("next pipeline lookup failed", "error", err.Error())
		}
		return
	}

	moved, err := s.store.PromoteFromPipeline(ctx, lead.ID, intake.ID, next.ID)
	if err != nil {
		log.Warn("promotion failed", "error", err.Error())
		return
	}
	if !moved {
		return
	}

	lead.PipelineID = next.ID
	log.Info("lead qualified", "pipeline", next.Name)
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
}

// resolve finds the existing lead for the event's addressing data.
func (s *Service) resolve(ctx context.Context, event InboundEvent) (*domain.Lead, error) {
	suffix, jid := addressKeys(event)
	return s.store.ResolveByAddress(ctx, suffix, jid)
}

// resolveOrCreate resolves the lead or registers a new one in the intake
// stage on first contact. A nil lead with a nil error means the contact is
// blocked and the event must be discarded.
func (s *Service) resolveOrCreate(ctx context.Context, event InboundEvent) (*domain.Lead, error) {
	suffix, jid := addressKeys(event)
	lead, err := s.store.ResolveByAddress(ctx, suffix, jid)
	if err != nil {
		return nil, err
	}
	if lead != nil {
		return lead, nil
	}

	// Resolution never surfaces blocked leads, so an unresolved address may
	// still belong to one. Registering it again would reopen the conversation.
	blocked, err := s.store.AddressBlocked(ctx, suffix, jid)
	if err != nil {
		return nil, err
	}
	if blocked {
		return nil, nil
	}

	intake, err := s.store.IntakePipeline(ctx)
	if err != nil {
		return nil, err
	}

	params := repository.CreateLeadParams{
		Name:       strings.TrimSpace(event.SenderName),
		PipelineID: intake.ID,
	}
	if strings.Contains(event.Address, "@") {
		jid := event.Address
		params.ChannelJID = &jid
	} else {
		normalized := phone.NormalizeE164(event.Address)
		params.Phone = &normalized
	}
	if params.ChannelJID == nil && event.AltIdentifier != "" {
		alt := event.AltIdentifier
		params.ChannelJID = &alt
	}

	created, err := s.store.CreateLead(ctx, params)
	if err != nil {
		return nil, err
	}
	s.log.WithLead(created.ID.String()).Info("lead created from first contact")
	return &created, nil
}

// addressKeys derives the resolution keys: the last digits of the phone
// number plus the channel JID when one is known.
func addressKeys(event InboundEvent) (suffix, jid string) {
	if strings.Contains(event.Address, "@") {
		jid = event.Address
	} else {
		suffix = phone.ResolutionSuffix(event.Address)
	}
	if jid == "" && event.AltIdentifier != "" {
		jid = event.AltIdentifier
	}
	return suffix, jid
}

func applyUpdate(lead *domain.Lead, update repository.QualificationUpdate) {
	if update.MonthlyBill != nil {
		lead.MonthlyBill = update.MonthlyBill
	}
	if update.City != nil {
		lead.City = update.City
	}
	if update.RoofType != nil {
		lead.RoofType = update.RoofType
	}
	if update.Segment != nil {
		lead.Segment = update.Segment
	}
	if update.ConsumptionIncrease != nil {
		lead.ConsumptionIncrease = update.ConsumptionIncrease
	}
}
