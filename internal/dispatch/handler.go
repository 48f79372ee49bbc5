package dispatch

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"leadflow_backend/platform/httpkit"
	"leadflow_backend/platform/validator"
)

// Handler exposes the bulk campaign operator surface.
type Handler struct {
	bulk *Bulk
	val  *validator.Validator
}

func NewHandler(bulk *Bulk, val *validator.Validator) *Handler {
	return &Handler{bulk: bulk, val: val}
}

// StartCampaignRequest is the request body for starting a campaign.
type StartCampaignRequest struct {
	LeadIDs         []uuid.UUID `json:"leadIds" validate:"required,min=1,max=1000"`
	Template        string      `json:"template" validate:"required,min=1,max=4000"`
	MinDelaySeconds int         `json:"minDelaySeconds" validate:"omitempty,min=1,max=600"`
	MaxDelaySeconds int         `json:"maxDelaySeconds" validate:"omitempty,min=1,max=600"`
}

// HandleStart launches a campaign.
// POST /api/v1/bulk/start
func (h *Handler) HandleStart(c *gin.Context) {
	var req StartCampaignRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httpkit.Error(c, http.StatusBadRequest, "invalid request body", nil)
		return
	}
	if err := h.val.Struct(req); err != nil {
		httpkit.HandleError(c, err)
		return
	}

	minDelay := time.Duration(req.MinDelaySeconds) * time.Second
	maxDelay := time.Duration(req.MaxDelaySeconds) * time.Second
	if minDelay == 0 {
		minDelay = 8 * time.Second
	}
	if maxDelay == 0 {
		maxDelay = 20 * time.Second
	}

	if err := h.bulk.Start(c.Request.Context(), req.LeadIDs, req.Template, minDelay, maxDelay); err != nil {
		httpkit.HandleError(c, err)
		return
	}

	c.JSON(http.StatusAccepted, gin.H{"status": "started", "total": len(req.LeadIDs)})
}

// HandleStop cancels the running campaign.
// POST /api/v1/bulk/stop
func (h *Handler) HandleStop(c *gin.Context) {
	stopped := h.bulk.Stop()
	httpkit.OK(c, gin.H{"stopped": stopped})
}

// HandleStatus reports campaign progress.
// GET /api/v1/bulk/status
func (h *Handler) HandleStatus(c *gin.Context) {
	httpkit.OK(c, h.bulk.Status())
}
