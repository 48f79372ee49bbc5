package intake

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"

	"leadflow_backend/internal/dispatch"
	"leadflow_backend/internal/events"
	"leadflow_backend/internal/leads/domain"
	"leadflow_backend/internal/leads/repository"
	"leadflow_backend/internal/responder"
	"leadflow_backend/platform/logger"
)

type fakeStore struct {
	leads  map[uuid.UUID]*domain.Lead
	intake domain.Pipeline
	next   *domain.Pipeline

	messages  []domain.Message
	created   []repository.CreateLeadParams
	updates   []repository.QualificationUpdate
	promoted  int
	marked    []uuid.UUID
	turnReset []uuid.UUID
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		leads:  make(map[uuid.UUID]*domain.Lead),
		intake: domain.Pipeline{ID: uuid.New(), Name: "Novo Contato", Position: 1, IsIntake: true},
		next:   &domain.Pipeline{ID: uuid.New(), Name: "Qualificado", Position: 2},
	}
}

func (f *fakeStore) add(lead *domain.Lead) {
	f.leads[lead.ID] = lead
}

func (f *fakeStore) ResolveByAddress(ctx context.Context, phoneSuffix, channelJID string) (*domain.Lead, error) {
	for _, lead := range f.leads {
		if lead.Status == domain.LeadBlocked {
			continue
		}
		if phoneSuffix != "" && lead.Phone != nil && len(*lead.Phone) >= 8 &&
			(*lead.Phone)[len(*lead.Phone)-8:] == phoneSuffix {
			copied := *lead
			return &copied, nil
		}
		if channelJID != "" && lead.ChannelJID != nil && *lead.ChannelJID == channelJID {
			copied := *lead
			return &copied, nil
		}
	}
	return nil, nil
}

func (f *fakeStore) AddressBlocked(ctx context.Context, phoneSuffix, channelJID string) (bool, error) {
	for _, lead := range f.leads {
		if lead.Status != domain.LeadBlocked {
			continue
		}
		if phoneSuffix != "" && lead.Phone != nil && len(*lead.Phone) >= 8 &&
			(*lead.Phone)[len(*lead.Phone)-8:] == phoneSuffix {
			return true, nil
		}
		if channelJID != "" && lead.ChannelJID != nil && *lead.ChannelJID == channelJID {
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeStore) CreateLead(ctx context.Context, p repository.CreateLeadParams) (domain.Lead, error) {
	f.created = append(f.created, p)
	lead := domain.Lead{
		ID:         uuid.New(),
		Name:       p.Name,
		Phone:      p.Phone,
		ChannelJID: p.ChannelJID,
		PipelineID: p.PipelineID,
		AIStatus:   domain.AIActive,
		Status:     domain.LeadActive,
	}
	f.leads[lead.ID] = &lead
	return lead, nil
}

func (f *fakeStore) CreateMessage(ctx context.Context, leadID uuid.UUID, sender domain.SenderRole, content string) (domain.Message, error) {
	msg := domain.Message{ID: uuid.New(), LeadID: leadID, Sender: sender, Content: content, CreatedAt: time.Now()}
	f.messages = append(f.messages, msg)
	return msg, nil
}

func (f *fakeStore) RegisterCustomerTurn(ctx context.Context, id uuid.UUID, at time.Time) error {
	f.turnReset = append(f.turnReset, id)
	if lead, ok := f.leads[id]; ok {
		lead.FollowupCount = 0
		lead.LastInteractionAt = at
	}
	return nil
}

func (f *fakeStore) MarkHumanIntervention(ctx context.Context, id uuid.UUID, at time.Time) (bool, error) {
	lead, ok := f.leads[id]
	if !ok || lead.AIStatus == domain.AIHumanIntervention {
		return false, nil
	}
	lead.AIStatus = domain.AIHumanIntervention
	f.marked = append(f.marked, id)
	return true, nil
}

func (f *fakeStore) RecentMessages(ctx context.Context, leadID uuid.UUID, limit int) ([]domain.Message, error) {
	var out []domain.Message
	for _, msg := range f.messages {
		if msg.LeadID == leadID {
			out = append(out, msg)
		}
	}
	return out, nil
}

func (f *fakeStore) UpdateQualification(ctx context.Context, id uuid.UUID, u repository.QualificationUpdate) error {
	f.updates = append(f.updates, u)
	return nil
}

func (f *fakeStore) PromoteFromPipeline(ctx context.Context, id, fromPipeline, toPipeline uuid.UUID) (bool, error) {
	lead, ok := f.leads[id]
	if !ok || lead.PipelineID != fromPipeline {
		return false, nil
	}
	lead.PipelineID = toPipeline
	lead.FollowupCount = 0
	f.promoted++
	return true, nil
}

func (f *fakeStore) IntakePipeline(ctx context.Context) (domain.Pipeline, error) {
	return f.intake, nil
}

func (f *fakeStore) NextPipeline(ctx context.Context, currentID uuid.UUID) (*domain.Pipeline, error) {
	return f.next, nil
}

type fakeResponder struct {
	reply *responder.Reply
	err   error
	calls int
}

func (f *fakeResponder) Reply(ctx context.Context, lead *domain.Lead, history []domain.Message) (*responder.Reply, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.reply, nil
}

type fakeQueue struct {
	tasks []dispatch.Task
}

func (f *fakeQueue) Enqueue(ctx context.Context, task dispatch.Task) error {
	f.tasks = append(f.tasks, task)
	return nil
}

func newTestService(store *fakeStore, resp Responder, queue Enqueuer, bus events.Bus) *Service {
	return NewService(store, resp, queue, bus, logger.New("development"))
}

func knownLead(store *fakeStore, name string) *domain.Lead {
	phone := "+5571988887777"
	lead := &domain.Lead{
		ID:         uuid.New(),
		Name:       name,
		Phone:      &phone,
		PipelineID: store.intake.ID,
		AIStatus:   domain.AIActive,
		Status:     domain.LeadActive,
	}
	store.add(lead)
	return lead
}

func TestProcessInboundDiscardsOwnEcho(t *testing.T) {
	store := newFakeStore()
	knownLead(store, "Ana")
	resp := &fakeResponder{reply: &responder.Reply{Text: "oi"}}
	queue := &fakeQueue{}

	err := newTestService(store, resp, queue, nil).ProcessInbound(context.Background(), InboundEvent{
		Address:           "5571988887777",
		Text:              "mensagem automática",
		SenderIsSelf:      true,
		SenderIsAutomated: true,
	})
	if err != nil {
		t.Fatalf("process failed: %v", err)
	}
	if len(store.messages) != 0 || resp.calls != 0 || len(queue.tasks) != 0 {
		t.Fatal("own automated echo was not discarded")
	}
}

func TestProcessInboundManualSelfMessagePausesAI(t *testing.T) {
	store := newFakeStore()
	lead := knownLead(store, "Ana")
	resp := &fakeResponder{reply: &responder.Reply{Text: "oi"}}
	queue := &fakeQueue{}
	bus := events.NewInMemoryBus(logger.New("development"))

	var takeovers int
	bus.Subscribe(events.HumanTakeover{}.EventName(), events.HandlerFunc(func(ctx context.Context, e events.Event) error {
		takeovers++
		return nil
	}))

	err := newTestService(store, resp, queue, bus).ProcessInbound(context.Background(), InboundEvent{
		Address:      "5571988887777",
		Text:         "deixa que eu assumo daqui",
		SenderIsSelf: true,
	})
	if err != nil {
		t.Fatalf("process failed: %v", err)
	}

	if store.leads[lead.ID].AIStatus != domain.AIHumanIntervention {
		t.Fatal("AI not paused after human takeover")
	}
	if len(store.messages) != 1 || store.messages[0].Sender != domain.SenderHumanAgent {
		t.Fatal("agent turn not persisted")
	}
	if resp.calls != 0 || len(queue.tasks) != 0 {
		t.Fatal("auto-responder ran for a human turn")
	}

	deadline := time.Now().Add(time.Second)
	for takeovers == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if takeovers != 1 {
		t.Error("HumanTakeover event not published")
	}
}

func TestProcessInboundCreatesLeadOnFirstContact(t *testing.T) {
	store := newFakeStore()
	resp := &fakeResponder{reply: &responder.Reply{Text: "Olá! Qual o valor da sua conta?"}}
	queue := &fakeQueue{}

	err := newTestService(store, resp, queue, nil).ProcessInbound(context.Background(), InboundEvent{
		Address:    "5571988885555",
		SenderName: "Carlos Pereira",
		Text:       "Oi, quero saber sobre energia solar",
	})
	if err != nil {
		t.Fatalf("process failed: %v", err)
	}

	if len(store.created) != 1 {
		t.Fatalf("expected 1 lead created, got %d", len(store.created))
	}
	if store.created[0].PipelineID != store.intake.ID {
		t.Error("new lead not placed in the intake stage")
	}
	if len(queue.tasks) != 1 || queue.tasks[0].Text != "Olá! Qual o valor da sua conta?" {
		t.Fatalf("reply not dispatched: %+v", queue.tasks)
	}
	if len(store.messages) != 2 {
		t.Fatalf("expected customer + assistant turns persisted, got %d", len(store.messages))
	}
}

func TestProcessInboundPausedLeadGetsNoReply(t *testing.T) {
	store := newFakeStore()
	lead := knownLead(store, "Ana")
	now := time.Now()
	lead.AIStatus = domain.AIPaused
	lead.AIPausedAt = &now
	resp := &fakeResponder{reply: &responder.Reply{Text: "oi"}}
	queue := &fakeQueue{}

	err := newTestService(store, resp, queue, nil).ProcessInbound(context.Background(), InboundEvent{
		Address: "5571988887777",
		Text:    "alguém aí?",
	})
	if err != nil {
		t.Fatalf("process failed: %v", err)
	}

	if len(store.messages) != 1 || store.messages[0].Sender != domain.SenderCustomer {
		t.Fatal("customer turn must still be persisted")
	}
	if resp.calls != 0 || len(queue.tasks) != 0 {
		t.Fatal("paused lead received an automated reply")
	}
	if len(store.turnReset) != 1 {
		t.Fatal("follow-up counter not reset on customer turn")
	}
}

func TestProcessInboundBlockedContactIsNotRecreated(t *testing.T) {
	store := newFakeStore()
	lead := knownLead(store, "Ana")
	lead.Status = domain.LeadBlocked
	resp := &fakeResponder{reply: &responder.Reply{Text: "oi"}}
	queue := &fakeQueue{}

	err := newTestService(store, resp, queue, nil).ProcessInbound(context.Background(), InboundEvent{
		Address:    "5571988887777",
		SenderName: "Ana",
		Text:       "oi, ainda tem aquela promoção?",
	})
	if err != nil {
		t.Fatalf("process failed: %v", err)
	}

	if len(store.created) != 0 {
		t.Fatalf("blocked contact registered as a new lead: %+v", store.created)
	}
	if len(store.messages) != 0 || resp.calls != 0 || len(queue.tasks) != 0 {
		t.Fatal("blocked contact's message was processed")
	}
}

func TestProcessInboundHumanInterventionSkipsQualification(t *testing.T) {
	store := newFakeStore()
	lead := knownLead(store, "Ana")
	now := time.Now()
	lead.AIStatus = domain.AIHumanIntervention
	lead.AIPausedAt = &now
	resp := &fakeResponder{reply: &responder.Reply{Text: "oi"}}
	queue := &fakeQueue{}

	err := newTestService(store, resp, queue, nil).ProcessInbound(context.Background(), InboundEvent{
		Address: "5571988887777",
		Text:    "Minha conta é 450, moro em Salvador",
	})
	if err != nil {
		t.Fatalf("process failed: %v", err)
	}

	if len(store.updates) != 0 {
		t.Fatalf("qualification extracted while a human owns the conversation: %+v", store.updates)
	}
	if store.promoted != 0 {
		t.Fatalf("lead promoted while a human owns the conversation: %d", store.promoted)
	}
	if store.leads[lead.ID].PipelineID != store.intake.ID {
		t.Fatal("lead left the intake stage")
	}
	if len(store.messages) != 1 || store.messages[0].Sender != domain.SenderCustomer {
		t.Fatal("customer turn must still be persisted")
	}
	if resp.calls != 0 || len(queue.tasks) != 0 {
		t.Fatal("taken-over lead received an automated reply")
	}
}

func TestProcessInboundResponderFailureUsesFallback(t *testing.T) {
	store := newFakeStore()
	knownLead(store, "Ana")
	resp := &fakeResponder{err: context.DeadlineExceeded}
	queue := &fakeQueue{}

	err := newTestService(store, resp, queue, nil).ProcessInbound(context.Background(), InboundEvent{
		Address: "5571988887777",
		Text:    "oi",
	})
	if err != nil {
		t.Fatalf("process failed: %v", err)
	}

	if len(queue.tasks) != 1 || queue.tasks[0].Text != fallbackReply {
		t.Fatalf("fallback not dispatched: %+v", queue.tasks)
	}
}

func TestProcessInboundPromotesQualifiedLeadOnce(t *testing.T) {
	store := newFakeStore()
	lead := knownLead(store, "Ana")
	resp := &fakeResponder{reply: &responder.Reply{Text: "perfeito!"}}
	queue := &fakeQueue{}
	bus := events.NewInMemoryBus(logger.New("development"))

	var qualified int
	bus.Subscribe(events.LeadQualified{}.EventName(), events.HandlerFunc(func(ctx context.Context, e events.Event) error {
		qualified++
		return nil
	}))

	svc := newTestService(store, resp, queue, bus)
	err := svc.ProcessInbound(context.Background(), InboundEvent{
		Address: "5571988887777",
		Text:    "Minha conta é 450, moro em Salvador",
	})
	if err != nil {
		t.Fatalf("process failed: %v", err)
	}

	if store.leads[lead.ID].PipelineID != store.next.ID {
		t.Fatal("qualified lead not promoted")
	}
	if store.promoted != 1 {
		t.Fatalf("expected exactly one promotion, got %d", store.promoted)
	}

	// A second qualifying message must not promote again.
	err = svc.ProcessInbound(context.Background(), InboundEvent{
		Address: "5571988887777",
		Text:    "minha conta é 500",
	})
	if err != nil {
		t.Fatalf("second process failed: %v", err)
	}
	if store.promoted != 1 {
		t.Fatalf("lead promoted twice: %d", store.promoted)
	}

	deadline := time.Now().Add(time.Second)
	for qualified == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if qualified != 1 {
		t.Errorf("expected one LeadQualified event, got %d", qualified)
	}
}

func TestProcessInboundAttachmentsTravelWithReply(t *testing.T) {
	store := newFakeStore()
	knownLead(store, "Ana")
	resp := &fakeResponder{reply: &responder.Reply{
		Text:        "Veja esse depoimento!",
		Attachments: []responder.Attachment{{URL: "https://cdn.example.com/proof.mp4"}},
	}}
	queue := &fakeQueue{}

	err := newTestService(store, resp, queue, nil).ProcessInbound(context.Background(), InboundEvent{
		Address: "5571988887777",
		Text:    "isso funciona mesmo?",
	})
	if err != nil {
		t.Fatalf("process failed: %v", err)
	}

	if len(queue.tasks) != 1 || len(queue.tasks[0].Attachments) != 1 {
		t.Fatalf("attachment dropped: %+v", queue.tasks)
	}
}
