// Package repository persists appointments. Only the slice needed by the
// reminder pipeline lives here.
package repository

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"leadflow_backend/platform/apperr"
)

const (
	opGetAppointment    = "appointments.Repository.GetByID"
	opListDueReminders  = "appointments.Repository.ListDueReminders"
	opMarkReminderSent  = "appointments.Repository.MarkReminderSent"
	opCreateAppointment = "appointments.Repository.Create"
)

// Appointment is a scheduled visit or call tied to a lead.
type Appointment struct {
	ID           uuid.UUID
	LeadID       uuid.UUID
	ScheduledAt  time.Time
	Status       string
	ReminderSent bool
	CreatedAt    time.Time
}

type Repository struct {
	pool *pgxpool.Pool
}

func New(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const appointmentColumns = `id, lead_id, scheduled_at, status, reminder_sent, created_at`

func scanAppointment(row pgx.Row) (Appointment, error) {
	var a Appointment
	err := row.Scan(&a.ID, &a.LeadID, &a.ScheduledAt, &a.Status, &a.ReminderSent, &a.CreatedAt)
	return a, err
}

// Create registers an appointment for a lead.
func (r *Repository) Create(ctx context.Context, leadID uuid.UUID, scheduledAt time.Time) (Appointment, error) {
	if r == nil || r.pool == nil {
		return Appointment{}, apperr.Internal("appointments repository is not configured").WithOp(opCreateAppointment)
	}

	appt, err := scanAppointment(r.pool.QueryRow(ctx, `
		INSERT INTO appointments (lead_id, scheduled_at)
		VALUES ($1, $2)
		RETURNING `+appointmentColumns, leadID, scheduledAt))
	if err != nil {
		return Appointment{}, apperr.Wrap(apperr.KindInternal, "create appointment failed", err).WithOp(opCreateAppointment)
	}
	return appt, nil
}

// GetByID returns one appointment.
func (r *Repository) GetByID(ctx context.Context, id uuid.UUID) (Appointment, error) {
	if r == nil || r.pool == nil {
		return Appointment{}, apperr.Internal("appointments repository is not configured").WithOp(opGetAppointment)
	}

	appt, err := scanAppointment(r.pool.QueryRow(ctx,
		`SELECT `+appointmentColumns+` FROM appointments WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return Appointment{}, apperr.NotFound("appointment not found").WithOp(opGetAppointment)
	}
	if err != nil {
		return Appointment{}, apperr.Wrap(apperr.KindInternal, "get appointment failed", err).WithOp(opGetAppointment)
	}
	return appt, nil
}

// ListDueReminders returns scheduled appointments inside the reminder window
// whose reminder has not gone out yet.
func (r *Repository) ListDueReminders(ctx context.Context, until time.Time) ([]Appointment, error) {
	if r == nil || r.pool == nil {
		return nil, apperr.Internal("appointments repository is not configured").WithOp(opListDueReminders)
	}

	rows, err := r.pool.Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE status = 'scheduled'
		  AND reminder_sent = FALSE
		  AND scheduled_at <= $1
		ORDER BY scheduled_at ASC`, until)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindInternal, "list due reminders failed", err).WithOp(opListDueReminders)
	}
	defer rows.Close()

	var out []Appointment
	for rows.Next() {
		appt, err := scanAppointment(rows)
		if err != nil {
			return nil, apperr.Wrap(apperr.KindInternal, "scan appointment failed", err).WithOp(opListDueReminders)
		}
		out = append(out, appt)
	}
	return out, rows.Err()
}

// MarkReminderSent is conditional so two scans never double-remind.
// Returns whether this caller won the mark.
func (r *Repository) MarkReminderSent(ctx context.Context, id uuid.UUID) (bool, error) {
	if r == nil || r.pool == nil {
		return false, apperr.Internal("appointments repository is not configured").WithOp(opMarkReminderSent)
	}

	tag, err := r.pool.Exec(ctx, `
		UPDATE appointments SET reminder_sent = TRUE
		WHERE id = $1 AND reminder_sent = FALSE`, id)
	if err != nil {
		return false, apperr.Wrap(apperr.KindInternal, "mark reminder sent failed", err).WithOp(opMarkReminderSent)
	}
	return tag.RowsAffected() == 1, nil
}
