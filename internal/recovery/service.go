// Package recovery contains the anti-ghosting jobs: a single-shot retry nudge
// for fresh conversations that went quiet and a sweeper that unsticks intake
// leads the conversation flow left behind.
package recovery

import (
	"context"
	"time"

	"github.com/google/uuid"

	"leadflow_backend/internal/dispatch"
	"leadflow_backend/internal/events"
	"leadflow_backend/internal/leads/domain"
	"leadflow_backend/platform/config"
	"leadflow_backend/platform/logger"
)

// LeadStore is the persistence surface shared by the retry and sweep jobs.
type LeadStore interface {
	ListIntakeSilent(ctx context.Context, cutoff time.Time, limit int) ([]domain.Lead, error)
	LastMessage(ctx context.Context, leadID uuid.UUID) (*domain.Message, error)
	CreateMessage(ctx context.Context, leadID uuid.UUID, sender domain.SenderRole, content string) (domain.Message, error)
	TouchInteraction(ctx context.Context, id uuid.UUID, at time.Time) error
	PromoteFromPipeline(ctx context.Context, id, fromPipeline, toPipeline uuid.UUID) (bool, error)
	MarkHumanIntervention(ctx context.Context, id uuid.UUID, at time.Time) (bool, error)
	SetQualificationComplete(ctx context.Context, id uuid.UUID) error
	NextPipeline(ctx context.Context, currentID uuid.UUID) (*domain.Pipeline, error)
}

// Enqueuer admits outbound tasks to the shared dispatch queue.
type Enqueuer interface {
	Enqueue(ctx context.Context, task dispatch.Task) error
}

// Service runs the retry monitor and the stuck-lead sweeper.
type Service struct {
	store LeadStore
	queue Enqueuer
	bus   events.Bus
	log   *logger.Logger

	retrySilence time.Duration
	sweepSilence time.Duration
	sweepBatch   int

	// interLeadDelay spaces sweeper sends within one batch.
	interLeadDelay time.Duration
}

func NewService(store LeadStore, queue Enqueuer, bus events.Bus, cfg config.EngagementConfig, log *logger.Logger) *Service {
	return &Service{
		store:          store,
		queue:          queue,
		bus:            bus,
		log:            log,
		retrySilence:   cfg.GetRetrySilenceThreshold(),
		sweepSilence:   cfg.GetSweepSilenceThreshold(),
		sweepBatch:     cfg.GetSweepBatchSize(),
		interLeadDelay: 2 * time.Second,
	}
}

func (s *Service) pause(ctx context.Context, d time.Duration) {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}
