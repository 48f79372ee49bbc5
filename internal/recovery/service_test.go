package recovery

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"leadflow_backend/internal/dispatch"
	"leadflow_backend/internal/events"
	"leadflow_backend/internal/leads/domain"
	"leadflow_backend/platform/logger"
)

type fakeStore struct {
	silent   []domain.Lead
	lastMsgs map[uuid.UUID]*domain.Message
	next     *domain.Pipeline

	created   []domain.Message
	touched   []uuid.UUID
	promoted  []uuid.UUID
	marked    []uuid.UUID
	completed []uuid.UUID
	promoteOK bool
}

func (f *fakeStore) ListIntakeSilent(ctx context.Context, cutoff time.Time, limit int) ([]domain.Lead, error) {
	if limit > 0 && len(f.silent) > limit {
		return f.silent[:limit], nil
	}
	return f.silent, nil
}

func (f *fakeStore) LastMessage(ctx context.Context, leadID uuid.UUID) (*domain.Message, error) {
	return f.lastMsgs[leadID], nil
}

func (f *fakeStore) CreateMessage(ctx context.Context, leadID uuid.UUID, sender domain.SenderRole, content string) (domain.Message, error) {
	msg := domain.Message{ID: uuid.New(), LeadID: leadID, Sender: sender, Content: content}
	f.created = append(f.created, msg)
	return msg, nil
}

func (f *fakeStore) TouchInteraction(ctx context.Context, id uuid.UUID, at time.Time) error {
	f.touched = append(f.touched, id)
	return nil
}

func (f *fakeStore) PromoteFromPipeline(ctx context.Context, id, fromPipeline, toPipeline uuid.UUID) (bool, error) {
	f.promoted = append(f.promoted, id)
	return f.promoteOK, nil
}

func (f *fakeStore) MarkHumanIntervention(ctx context.Context, id uuid.UUID, at time.Time) (bool, error) {
	f.marked = append(f.marked, id)
	return true, nil
}

func (f *fakeStore) SetQualificationComplete(ctx context.Context, id uuid.UUID) error {
	f.completed = append(f.completed, id)
	return nil
}

func (f *fakeStore) NextPipeline(ctx context.Context, currentID uuid.UUID) (*domain.Pipeline, error) {
	return f.next, nil
}

type fakeQueue struct {
	tasks []dispatch.Task
}

func (f *fakeQueue) Enqueue(ctx context.Context, task dispatch.Task) error {
	f.tasks = append(f.tasks, task)
	return nil
}

type engagementConfig struct{}

func (engagementConfig) GetFollowupDefaultDelay() time.Duration  { return 24 * time.Hour }
func (engagementConfig) GetFollowupDefaultTemplate() string      { return "oi {{name}}" }
func (engagementConfig) GetFollowupMaxCount() int                { return 3 }
func (engagementConfig) GetRetrySilenceThreshold() time.Duration { return 30 * time.Minute }
func (engagementConfig) GetSweepSilenceThreshold() time.Duration { return 30 * time.Minute }
func (engagementConfig) GetSweepBatchSize() int                  { return 10 }

func newTestService(store *fakeStore, queue *fakeQueue, bus events.Bus) *Service {
	svc := NewService(store, queue, bus, engagementConfig{}, logger.New("development"))
	svc.interLeadDelay = 0
	return svc
}

func intakeLead(name string) domain.Lead {
	phone := "+5571988887777"
	return domain.Lead{
		ID:                uuid.New(),
		Name:              name,
		Phone:             &phone,
		PipelineID:        uuid.New(),
		AIStatus:          domain.AIActive,
		Status:            domain.LeadActive,
		LastInteractionAt: time.Now().Add(-time.Hour),
	}
}

func aiMessage(leadID uuid.UUID, content string) *domain.Message {
	return &domain.Message{ID: uuid.New(), LeadID: leadID, Sender: domain.SenderAI, Content: content}
}

func TestCheckRetriesNudgesSilentLead(t *testing.T) {
	lead := intakeLead("Ana Souza")
	store := &fakeStore{
		silent:   []domain.Lead{lead},
		lastMsgs: map[uuid.UUID]*domain.Message{lead.ID: aiMessage(lead.ID, "qual o valor da sua conta?")},
	}
	queue := &fakeQueue{}

	if err := newTestService(store, queue, nil).CheckRetries(context.Background()); err != nil {
		t.Fatalf("check retries failed: %v", err)
	}

	if len(queue.tasks) != 1 {
		t.Fatalf("expected 1 nudge, got %d", len(queue.tasks))
	}
	if !strings.Contains(queue.tasks[0].Text, "Ana") {
		t.Errorf("nudge not personalized: %q", queue.tasks[0].Text)
	}
	if len(store.created) != 1 || store.created[0].Sender != domain.SenderAI {
		t.Error("nudge not persisted as an assistant turn")
	}
	if len(store.touched) != 1 {
		t.Error("silence clock not reset")
	}
}

func TestCheckRetriesIsSingleShot(t *testing.T) {
	lead := intakeLead("Ana Souza")
	nudge := dispatch.Personalize(retryNudgeTemplate, &lead)
	store := &fakeStore{
		silent:   []domain.Lead{lead},
		lastMsgs: map[uuid.UUID]*domain.Message{lead.ID: aiMessage(lead.ID, nudge)},
	}
	queue := &fakeQueue{}

	if err := newTestService(store, queue, nil).CheckRetries(context.Background()); err != nil {
		t.Fatalf("check retries failed: %v", err)
	}
	if len(queue.tasks) != 0 {
		t.Fatal("lead nudged twice")
	}
}

func TestCheckRetriesSkipsCustomerTurn(t *testing.T) {
	lead := intakeLead("Ana Souza")
	store := &fakeStore{
		silent: []domain.Lead{lead},
		lastMsgs: map[uuid.UUID]*domain.Message{
			lead.ID: {ID: uuid.New(), LeadID: lead.ID, Sender: domain.SenderCustomer, Content: "450"},
		},
	}
	queue := &fakeQueue{}

	if err := newTestService(store, queue, nil).CheckRetries(context.Background()); err != nil {
		t.Fatalf("check retries failed: %v", err)
	}
	if len(queue.tasks) != 0 {
		t.Fatal("nudged a lead the intake flow still owes a reply")
	}
}

func TestRunSweepPromotesFullyQualifiedLead(t *testing.T) {
	lead := intakeLead("Ana Souza")
	bill := 450.0
	city := "Salvador"
	lead.MonthlyBill = &bill
	lead.City = &city
	next := &domain.Pipeline{ID: uuid.New(), Name: "Qualificado", Position: 2}

	store := &fakeStore{
		silent:    []domain.Lead{lead},
		lastMsgs:  map[uuid.UUID]*domain.Message{lead.ID: aiMessage(lead.ID, "perfeito!")},
		next:      next,
		promoteOK: true,
	}
	queue := &fakeQueue{}
	bus := events.NewInMemoryBus(logger.New("development"))

	var published []events.Event
	bus.Subscribe(events.LeadQualified{}.EventName(), events.HandlerFunc(func(ctx context.Context, e events.Event) error {
		published = append(published, e)
		return nil
	}))

	report, err := newTestService(store, queue, bus).RunSweep(context.Background())
	if err != nil {
		t.Fatalf("sweep failed: %v", err)
	}

	if report.Moved != 1 || report.Reminded != 0 {
		t.Fatalf("unexpected report: %+v", report)
	}
	if len(store.promoted) != 1 || len(store.marked) != 1 || len(store.completed) != 1 {
		t.Fatal("promotion side effects incomplete")
	}
	if len(queue.tasks) != 0 {
		t.Fatal("promoted lead should not receive a reminder")
	}

	deadline := time.Now().Add(time.Second)
	for len(published) == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if len(published) != 1 {
		t.Error("LeadQualified event not published")
	}
}

func TestRunSweepRemindsMissingFields(t *testing.T) {
	lead := intakeLead("Ana Souza")
	bill := 450.0
	inc := true
	seg := "residencial"
	roof := "cerâmico"
	lead.MonthlyBill = &bill
	lead.ConsumptionIncrease = &inc
	lead.Segment = &seg
	lead.RoofType = &roof

	store := &fakeStore{
		silent:   []domain.Lead{lead},
		lastMsgs: map[uuid.UUID]*domain.Message{lead.ID: aiMessage(lead.ID, "qual sua cidade?")},
	}
	queue := &fakeQueue{}

	report, err := newTestService(store, queue, nil).RunSweep(context.Background())
	if err != nil {
		t.Fatalf("sweep failed: %v", err)
	}

	if report.Reminded != 1 {
		t.Fatalf("unexpected report: %+v", report)
	}
	text := queue.tasks[0].Text
	if !strings.Contains(text, "só falta") || !strings.Contains(text, "cidade") {
		t.Errorf("single-field phrasing not used: %q", text)
	}
	if len(store.touched) != 1 {
		t.Error("silence clock not reset after reminder")
	}
}

func TestRunSweepPhrasingForManyMissingFields(t *testing.T) {
	lead := intakeLead("Ana Souza")
	msg := missingFieldsMessage(&lead)
	if !strings.Contains(msg, "algumas informações") {
		t.Errorf("expected multi-field phrasing, got %q", msg)
	}
	if !strings.Contains(msg, "conta de energia") || !strings.Contains(msg, "cidade") {
		t.Errorf("missing fields not listed: %q", msg)
	}

	bill := 450.0
	inc := true
	seg := "residencial"
	lead.MonthlyBill = &bill
	lead.ConsumptionIncrease = &inc
	lead.Segment = &seg
	msg = missingFieldsMessage(&lead)
	if !strings.Contains(msg, "dois detalhes") {
		t.Errorf("expected two-field phrasing, got %q", msg)
	}
}

func TestRunSweepSkipsPendingCustomerTurn(t *testing.T) {
	lead := intakeLead("Ana Souza")
	store := &fakeStore{
		silent: []domain.Lead{lead},
		lastMsgs: map[uuid.UUID]*domain.Message{
			lead.ID: {ID: uuid.New(), LeadID: lead.ID, Sender: domain.SenderCustomer, Content: "oi"},
		},
	}
	queue := &fakeQueue{}

	report, err := newTestService(store, queue, nil).RunSweep(context.Background())
	if err != nil {
		t.Fatalf("sweep failed: %v", err)
	}
	if report.Processed != 0 || len(queue.tasks) != 0 {
		t.Fatal("sweeper acted on a lead with a pending customer turn")
	}
}
