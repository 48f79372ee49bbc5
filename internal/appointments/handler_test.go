package appointments

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"leadflow_backend/internal/appointments/repository"
	"leadflow_backend/internal/leads/domain"
	"leadflow_backend/platform/apperr"
	"leadflow_backend/platform/validator"
)

type fakeApptStore struct {
	created []repository.Appointment
}

func (f *fakeApptStore) Create(ctx context.Context, leadID uuid.UUID, scheduledAt time.Time) (repository.Appointment, error) {
	appt := repository.Appointment{
		ID:          uuid.New(),
		LeadID:      leadID,
		ScheduledAt: scheduledAt,
		Status:      "scheduled",
	}
	f.created = append(f.created, appt)
	return appt, nil
}

type fakeLeadStore struct {
	leads map[uuid.UUID]domain.Lead
}

func (f *fakeLeadStore) GetLead(ctx context.Context, id uuid.UUID) (domain.Lead, error) {
	lead, ok := f.leads[id]
	if !ok {
		return domain.Lead{}, apperr.NotFound("lead not found")
	}
	return lead, nil
}

func newTestRouter(store Store, leads LeadStore) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.POST("/api/v1/appointments", NewHandler(store, leads, validator.New()).HandleCreate)
	return r
}

func postAppointment(t *testing.T, r *gin.Engine, body any) *httptest.ResponseRecorder {
	t.Helper()
	payload, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal request: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, "/api/v1/appointments", bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestHandleCreateBooksAppointment(t *testing.T) {
	lead := domain.Lead{ID: uuid.New(), Status: domain.LeadActive}
	store := &fakeApptStore{}
	r := newTestRouter(store, &fakeLeadStore{leads: map[uuid.UUID]domain.Lead{lead.ID: lead}})

	w := postAppointment(t, r, CreateAppointmentRequest{
		LeadID:      lead.ID,
		ScheduledAt: time.Now().Add(24 * time.Hour),
	})

	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}
	if len(store.created) != 1 || store.created[0].LeadID != lead.ID {
		t.Fatalf("appointment not persisted: %+v", store.created)
	}

	var resp AppointmentResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Status != "scheduled" || resp.LeadID != lead.ID {
		t.Errorf("unexpected response: %+v", resp)
	}
}

func TestHandleCreateUnknownLead(t *testing.T) {
	store := &fakeApptStore{}
	r := newTestRouter(store, &fakeLeadStore{leads: map[uuid.UUID]domain.Lead{}})

	w := postAppointment(t, r, CreateAppointmentRequest{
		LeadID:      uuid.New(),
		ScheduledAt: time.Now().Add(24 * time.Hour),
	})

	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", w.Code)
	}
	if len(store.created) != 0 {
		t.Fatal("appointment created for an unknown lead")
	}
}

func TestHandleCreateRejectsPastSchedule(t *testing.T) {
	lead := domain.Lead{ID: uuid.New(), Status: domain.LeadActive}
	store := &fakeApptStore{}
	r := newTestRouter(store, &fakeLeadStore{leads: map[uuid.UUID]domain.Lead{lead.ID: lead}})

	w := postAppointment(t, r, CreateAppointmentRequest{
		LeadID:      lead.ID,
		ScheduledAt: time.Now().Add(-time.Hour),
	})

	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
	if len(store.created) != 0 {
		t.Fatal("appointment created in the past")
	}
}

func TestHandleCreateRejectsInactiveLead(t *testing.T) {
	lead := domain.Lead{ID: uuid.New(), Status: domain.LeadBlocked}
	store := &fakeApptStore{}
	r := newTestRouter(store, &fakeLeadStore{leads: map[uuid.UUID]domain.Lead{lead.ID: lead}})

	w := postAppointment(t, r, CreateAppointmentRequest{
		LeadID:      lead.ID,
		ScheduledAt: time.Now().Add(24 * time.Hour),
	})

	if w.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", w.Code)
	}
	if len(store.created) != 0 {
		t.Fatal("appointment created for an inactive lead")
	}
}
