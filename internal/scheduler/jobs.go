package scheduler

import (
	"context"
	"time"

	"github.com/google/uuid"

	apptrepo "leadflow_backend/internal/appointments/repository"
	"leadflow_backend/internal/events"
	"leadflow_backend/internal/leads/domain"
	"leadflow_backend/platform/logger"
)

// SLAStore is the persistence surface of the staleness alert job.
type SLAStore interface {
	ListStale(ctx context.Context, now time.Time) ([]domain.Lead, error)
	SetLastSLAAlert(ctx context.Context, id uuid.UUID, at time.Time) error
	GetPipeline(ctx context.Context, id uuid.UUID) (domain.Pipeline, error)
}

// SLAJob raises an alert for every lead sitting past its stage's SLA.
// Alerts dedupe through last_sla_alert_at, which ListStale honors.
type SLAJob struct {
	store SLAStore
	bus   events.Bus
	log   *logger.Logger
}

func NewSLAJob(store SLAStore, bus events.Bus, log *logger.Logger) *SLAJob {
	return &SLAJob{store: store, bus: bus, log: log.WithJob("sla")}
}

func (j *SLAJob) Run(ctx context.Context) error {
	now := time.Now()
	leads, err := j.store.ListStale(ctx, now)
	if err != nil {
		return err
	}

	for _, lead := range leads {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		pipelineName := "unknown"
		if pipeline, err := j.store.GetPipeline(ctx, lead.PipelineID); err == nil {
			pipelineName = pipeline.Name
		}

		if j.bus != nil {
			j.bus.Publish(ctx, events.LeadStale{
				BaseEvent: events.NewBaseEvent(),
				LeadID:    lead.ID,
				LeadName:  lead.Name,
				Pipeline:  pipelineName,
				IdleSince: lead.LastInteractionAt.Format(time.RFC3339),
			})
		}
		if err := j.store.SetLastSLAAlert(ctx, lead.ID, now); err != nil {
			j.log.WithLead(lead.ID.String()).Warn("alert timestamp not recorded", "error", err.Error())
		}
	}

	if len(leads) > 0 {
		j.log.Info("staleness alerts raised", "count", len(leads))
	}
	return nil
}

// reminderLeadTime is how far ahead of the appointment the reminder lands.
const reminderLeadTime = time.Hour

// reminderScanWindow bounds how far ahead one scan schedules reminders.
const reminderScanWindow = 24 * time.Hour

// ReminderScanJob hands upcoming appointments to asynq so their reminders
// fire at the right instant even if this process restarts.
type ReminderScanJob struct {
	appts     *apptrepo.Repository
	scheduler ReminderScheduler
	log       *logger.Logger
}

func NewReminderScanJob(appts *apptrepo.Repository, scheduler ReminderScheduler, log *logger.Logger) *ReminderScanJob {
	return &ReminderScanJob{appts: appts, scheduler: scheduler, log: log.WithJob("reminder_scan")}
}

func (j *ReminderScanJob) Run(ctx context.Context) error {
	if j.scheduler == nil {
		return nil
	}

	now := time.Now()
	due, err := j.appts.ListDueReminders(ctx, now.Add(reminderScanWindow))
	if err != nil {
		return err
	}

	scheduled := 0
	for _, appt := range due {
		runAt := appt.ScheduledAt.Add(-reminderLeadTime)
		if runAt.Before(now) {
			runAt = now
		}

		err := j.scheduler.ScheduleAppointmentReminder(ctx, AppointmentReminderPayload{
			AppointmentID: appt.ID.String(),
		}, runAt)
		if err != nil {
			j.log.Warn("reminder scheduling failed", "appointment_id", appt.ID.String(), "error", err.Error())
			continue
		}
		scheduled++
	}

	if scheduled > 0 {
		j.log.Info("reminders scheduled", "count", scheduled)
	}
	return nil
}
