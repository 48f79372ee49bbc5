package intake

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"leadflow_backend/platform/logger"
	"leadflow_backend/platform/validator"
)

// Handler receives channel webhook deliveries.
type Handler struct {
	service *Service
	val     *validator.Validator
	log     *logger.Logger
}

func NewHandler(service *Service, val *validator.Validator, log *logger.Logger) *Handler {
	return &Handler{service: service, val: val, log: log}
}

// WebhookPayload is the normalized inbound message event.
type WebhookPayload struct {
	From      string `json:"from" validate:"required,max=100"`
	AltID     string `json:"altId" validate:"omitempty,max=100"`
	PushName  string `json:"pushName" validate:"omitempty,max=200"`
	Text      string `json:"text" validate:"omitempty,max=10000"`
	FromMe    bool   `json:"fromMe"`
	Automated bool   `json:"automated"`
}

// HandleInbound processes one webhook delivery.
// POST /api/v1/webhooks/whatsapp
//
// The gateway retries non-2xx responses aggressively, so a malformed payload
// is acknowledged and discarded rather than rejected.
func (h *Handler) HandleInbound(c *gin.Context) {
	var payload WebhookPayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		h.log.Warn("webhook payload discarded", "reason", "malformed body", "error", err.Error())
		c.JSON(http.StatusOK, gin.H{"status": "discarded"})
		return
	}
	if err := h.val.Struct(payload); err != nil {
		h.log.Warn("webhook payload discarded", "reason", "validation", "error", err.Error())
		c.JSON(http.StatusOK, gin.H{"status": "discarded"})
		return
	}
	if strings.TrimSpace(payload.Text) == "" && !payload.FromMe {
		h.log.Debug("webhook payload discarded", "reason", "empty text")
		c.JSON(http.StatusOK, gin.H{"status": "discarded"})
		return
	}

	err := h.service.ProcessInbound(c.Request.Context(), InboundEvent{
		Address:           payload.From,
		AltIdentifier:     payload.AltID,
		SenderName:        payload.PushName,
		Text:              payload.Text,
		SenderIsSelf:      payload.FromMe,
		SenderIsAutomated: payload.Automated,
	})
	if err != nil {
		// Acknowledge anyway: the conversation state machine is not
		// retry-safe against gateway redelivery storms.
		h.log.Error("inbound processing failed", "error", err.Error())
		c.JSON(http.StatusOK, gin.H{"status": "error"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "processed"})
}
