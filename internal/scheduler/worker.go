package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/jackc/pgx/v5/pgxpool"

	apptrepo "leadflow_backend/internal/appointments/repository"
	"leadflow_backend/internal/dispatch"
	"leadflow_backend/internal/leads/domain"
	leadsrepo "leadflow_backend/internal/leads/repository"
	"leadflow_backend/platform/config"
	"leadflow_backend/platform/logger"
)

// Enqueuer admits outbound tasks to the shared dispatch queue.
type Enqueuer interface {
	Enqueue(ctx context.Context, task dispatch.Task) error
}

// Worker consumes asynq tasks: precisely-timed appointment reminders.
type Worker struct {
	server *asynq.Server
	mux    *asynq.ServeMux
	appts  *apptrepo.Repository
	leads  *leadsrepo.Repository
	queue  Enqueuer
	log    *logger.Logger
}

func NewWorker(cfg config.SchedulerConfig, pool *pgxpool.Pool, queue Enqueuer, log *logger.Logger) (*Worker, error) {
	redisURL := cfg.GetRedisURL()
	if redisURL == "" {
		return nil, fmt.Errorf("redis url not configured")
	}

	opt, err := redisClientOpt(redisURL, cfg.GetRedisTLSInsecure())
	if err != nil {
		return nil, err
	}

	queueName := cfg.GetAsynqQueueName()
	if queueName == "" {
		queueName = "default"
	}

	concurrency := cfg.GetAsynqConcurrency()
	if concurrency < 1 {
		concurrency = 10
	}

	server := asynq.NewServer(opt, asynq.Config{
		Concurrency: concurrency,
		Queues: map[string]int{
			queueName: 1,
		},
	})

	mux := asynq.NewServeMux()
	w := &Worker{
		server: server,
		mux:    mux,
		appts:  apptrepo.New(pool),
		leads:  leadsrepo.New(pool),
		queue:  queue,
		log:    log,
	}

	mux.HandleFunc(TaskAppointmentReminder, w.handleAppointmentReminder)

	return w, nil
}

func (w *Worker) Run(ctx context.Context) {
	if w == nil || w.server == nil {
		return
	}

	go func() {
		<-ctx.Done()
		w.server.Shutdown()
	}()

	if err := w.server.Run(w.mux); err != nil {
		w.log.Error("scheduler worker stopped", "error", err)
	}
}

func (w *Worker) handleAppointmentReminder(ctx context.Context, task *asynq.Task) error {
	payload, err := ParseAppointmentReminderPayload(task)
	if err != nil {
		return err
	}

	apptID, err := uuid.Parse(payload.AppointmentID)
	if err != nil {
		return err
	}

	appt, err := w.appts.GetByID(ctx, apptID)
	if err != nil {
		return err
	}
	if appt.Status != "scheduled" || appt.ReminderSent {
		return nil
	}

	lead, err := w.leads.GetLead(ctx, appt.LeadID)
	if err != nil {
		return err
	}
	if lead.Status != domain.LeadActive {
		return nil
	}
	address, ok := lead.OutboundAddress()
	if !ok {
		return nil
	}

	// Win the mark before sending so a retried task cannot double-remind.
	won, err := w.appts.MarkReminderSent(ctx, appt.ID)
	if err != nil {
		return err
	}
	if !won {
		return nil
	}

	text := reminderText(&lead, appt.ScheduledAt)
	if err := w.queue.Enqueue(ctx, dispatch.Task{
		Kind:    dispatch.KindAutomatedNudge,
		LeadID:  lead.ID,
		Address: address,
		Text:    text,
	}); err != nil {
		w.log.WithLead(lead.ID.String()).Warn("appointment reminder rejected", "error", err.Error())
		return nil
	}
	if _, err := w.leads.CreateMessage(ctx, lead.ID, domain.SenderSystem, text); err != nil {
		w.log.WithLead(lead.ID.String()).Warn("reminder not persisted", "error", err.Error())
	}
	return nil
}

func reminderText(lead *domain.Lead, at time.Time) string {
	return fmt.Sprintf("Oi %s! Passando para lembrar do nosso compromisso às %s. Até já! 😊",
		lead.FirstName(), at.Local().Format("15:04"))
}
