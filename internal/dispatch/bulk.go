package dispatch

import (
	"context"
	"math/rand/v2"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"leadflow_backend/internal/events"
	"leadflow_backend/internal/leads/domain"
	"leadflow_backend/platform/apperr"
	"leadflow_backend/platform/logger"
)

// BulkState is the lifecycle state of a campaign run.
type BulkState string

const (
	BulkIdle      BulkState = "idle"
	BulkRunning   BulkState = "running"
	BulkCompleted BulkState = "completed"
	BulkStopped   BulkState = "stopped"
)

// Snapshot is a point-in-time view of campaign progress.
type Snapshot struct {
	State   BulkState `json:"state"`
	Current int       `json:"current"`
	Total   int       `json:"total"`
	Success int       `json:"success"`
	Failed  int       `json:"failed"`
}

// BulkLeadStore is the persistence surface the campaign dispatcher needs.
type BulkLeadStore interface {
	GetLead(ctx context.Context, id uuid.UUID) (domain.Lead, error)
	CreateMessage(ctx context.Context, leadID uuid.UUID, sender domain.SenderRole, content string) (domain.Message, error)
	MarkHumanIntervention(ctx context.Context, id uuid.UUID, at time.Time) (bool, error)
}

// Bulk runs one campaign at a time against a list of leads. A campaign is a
// human-initiated outreach, so every contacted lead is handed off to a human
// and the auto-responder is silenced for it.
type Bulk struct {
	store  BulkLeadStore
	sender ChannelSender
	bus    events.Bus
	log    *logger.Logger

	mu       sync.Mutex
	snapshot Snapshot
	stop     chan struct{}
}

func NewBulk(store BulkLeadStore, sender ChannelSender, bus events.Bus, log *logger.Logger) *Bulk {
	return &Bulk{
		store:  store,
		sender: sender,
		bus:    bus,
		log:    log,
		snapshot: Snapshot{
			State: BulkIdle,
		},
	}
}

// Start launches a campaign in the background. Only one campaign may run at a
// time; a second Start while running is a conflict.
func (b *Bulk) Start(ctx context.Context, leadIDs []uuid.UUID, template string, minDelay, maxDelay time.Duration) error {
	const op = "dispatch.Bulk.Start"

	if len(leadIDs) == 0 {
		return apperr.Validation("no leads selected for campaign").WithOp(op)
	}
	if strings.TrimSpace(template) == "" {
		return apperr.Validation("campaign template is empty").WithOp(op)
	}
	if minDelay <= 0 || maxDelay < minDelay {
		return apperr.Validation("campaign delay window is invalid").WithOp(op)
	}

	b.mu.Lock()
	if b.snapshot.State == BulkRunning {
		b.mu.Unlock()
		return apperr.Conflict("a campaign is already running").WithOp(op)
	}
	b.snapshot = Snapshot{State: BulkRunning, Total: len(leadIDs)}
	b.stop = make(chan struct{})
	stop := b.stop
	b.mu.Unlock()

	// The campaign outlives the HTTP request that started it.
	go b.run(context.WithoutCancel(ctx), leadIDs, template, minDelay, maxDelay, stop)
	return nil
}

// Stop requests cancellation of the running campaign. It reports whether a
// campaign was actually running.
func (b *Bulk) Stop() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.snapshot.State != BulkRunning {
		return false
	}
	select {
	case <-b.stop:
	default:
		close(b.stop)
	}
	return true
}

// Status returns the current campaign snapshot.
func (b *Bulk) Status() Snapshot {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.snapshot
}

func (b *Bulk) run(ctx context.Context, leadIDs []uuid.UUID, template string, minDelay, maxDelay time.Duration, stop chan struct{}) {
	log := b.log.WithJob("bulk_campaign")
	log.Info("campaign started", "total", len(leadIDs))

	finalState := BulkCompleted
	for i, leadID := range leadIDs {
		if stopped(ctx, stop) {
			finalState = BulkStopped
			break
		}

		b.advance(i + 1)
		if err := b.dispatchLead(ctx, leadID, template); err != nil {
			b.recordFailure()
			log.WithLead(leadID.String()).Warn("campaign send failed", "error", err.Error())
		} else {
			b.recordSuccess()
		}

		// Pace before the next lead, not after the last one.
		if i < len(leadIDs)-1 && !sleepOrStop(ctx, stop, randomDelay(minDelay, maxDelay)) {
			finalState = BulkStopped
			break
		}
	}

	b.mu.Lock()
	b.snapshot.State = finalState
	b.mu.Unlock()
	log.Info("campaign finished", "state", string(finalState))
}

func (b *Bulk) dispatchLead(ctx context.Context, leadID uuid.UUID, template string) error {
	lead, err := b.store.GetLead(ctx, leadID)
	if err != nil {
		return err
	}
	if lead.Status != domain.LeadActive {
		return apperr.Conflict("lead is not active")
	}
	address, ok := lead.OutboundAddress()
	if !ok {
		return apperr.Validation("lead has no outbound address")
	}

	text := Personalize(template, &lead)
	if err := b.sender.SendText(ctx, address, text, 0); err != nil {
		return err
	}

	// The send already happened. Bookkeeping failures are logged, not rolled
	// back.
	if _, err := b.store.CreateMessage(ctx, lead.ID, domain.SenderAI, text); err != nil {
		b.log.DatabaseError("bulk.CreateMessage", err)
	}
	if lead.AIStatus != domain.AIHumanIntervention {
		changed, err := b.store.MarkHumanIntervention(ctx, lead.ID, time.Now())
		if err != nil {
			b.log.DatabaseError("bulk.MarkHumanIntervention", err)
		} else if changed && b.bus != nil {
			b.bus.Publish(ctx, events.HumanTakeover{
				BaseEvent: events.NewBaseEvent(),
				LeadID:    lead.ID,
				LeadName:  lead.Name,
				Address:   address,
				Reason:    "bulk campaign hand-off",
			})
		}
	}
	return nil
}

// Personalize substitutes template placeholders with lead data.
func Personalize(template string, lead *domain.Lead) string {
	return strings.ReplaceAll(template, "{{name}}", lead.FirstName())
}

func (b *Bulk) advance(current int) {
	b.mu.Lock()
	b.snapshot.Current = current
	b.mu.Unlock()
}

func (b *Bulk) recordSuccess() {
	b.mu.Lock()
	b.snapshot.Success++
	b.mu.Unlock()
}

func (b *Bulk) recordFailure() {
	b.mu.Lock()
	b.snapshot.Failed++
	b.mu.Unlock()
}

func randomDelay(min, max time.Duration) time.Duration {
	if span := max - min; span > 0 {
		return min + time.Duration(rand.Int64N(int64(span)))
	}
	return min
}

func stopped(ctx context.Context, stop chan struct{}) bool {
	select {
	case <-ctx.Done():
		return true
	case <-stop:
		return true
	default:
		return false
	}
}

func sleepOrStop(ctx context.Context, stop chan struct{}, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-stop:
		return false
	case <-timer.C:
		return true
	}
}
