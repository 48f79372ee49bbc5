// Package appointments exposes the operator surface for scheduling visits
// and calls. Reminders for the appointments created here are sent by the
// scheduler binary.
package appointments

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"leadflow_backend/internal/appointments/repository"
	"leadflow_backend/internal/leads/domain"
	"leadflow_backend/platform/apperr"
	"leadflow_backend/platform/httpkit"
	"leadflow_backend/platform/validator"
)

// Store persists appointments.
type Store interface {
	Create(ctx context.Context, leadID uuid.UUID, scheduledAt time.Time) (repository.Appointment, error)
}

// LeadStore verifies the lead an appointment is booked for.
type LeadStore interface {
	GetLead(ctx context.Context, id uuid.UUID) (domain.Lead, error)
}

// Handler exposes appointment booking endpoints.
type Handler struct {
	store Store
	leads LeadStore
	val   *validator.Validator
}

func NewHandler(store Store, leads LeadStore, val *validator.Validator) *Handler {
	return &Handler{store: store, leads: leads, val: val}
}

// CreateAppointmentRequest is the request body for booking an appointment.
type CreateAppointmentRequest struct {
	LeadID      uuid.UUID `json:"leadId" validate:"required"`
	ScheduledAt time.Time `json:"scheduledAt" validate:"required"`
}

// AppointmentResponse is the booked appointment as returned to the operator.
type AppointmentResponse struct {
	ID          uuid.UUID `json:"id"`
	LeadID      uuid.UUID `json:"leadId"`
	ScheduledAt time.Time `json:"scheduledAt"`
	Status      string    `json:"status"`
}

// HandleCreate books an appointment for a lead.
// POST /api/v1/appointments
func (h *Handler) HandleCreate(c *gin.Context) {
	var req CreateAppointmentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httpkit.Error(c, http.StatusBadRequest, "invalid request body", nil)
		return
	}
	if err := h.val.Struct(req); err != nil {
		httpkit.HandleError(c, err)
		return
	}
	if !req.ScheduledAt.After(time.Now()) {
		httpkit.HandleError(c, apperr.Validation("scheduledAt must be in the future"))
		return
	}

	ctx := c.Request.Context()

	lead, err := h.leads.GetLead(ctx, req.LeadID)
	if err != nil {
		httpkit.HandleError(c, err)
		return
	}
	if lead.Status != domain.LeadActive {
		httpkit.HandleError(c, apperr.Conflict("lead is not active"))
		return
	}

	appt, err := h.store.Create(ctx, req.LeadID, req.ScheduledAt)
	if err != nil {
		httpkit.HandleError(c, err)
		return
	}

	c.JSON(http.StatusCreated, AppointmentResponse{
		ID:          appt.ID,
		LeadID:      appt.LeadID,
		ScheduledAt: appt.ScheduledAt,
		Status:      appt.Status,
	})
}
