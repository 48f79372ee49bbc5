// Package whatsapp is the outbound channel adapter. It talks to a
// gowa-compatible WhatsApp gateway and has no concept of rate limiting:
// pacing is the dispatch queue's job.
package whatsapp

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"leadflow_backend/platform/config"
	"leadflow_backend/platform/logger"
	"leadflow_backend/platform/phone"
)

type Client struct {
	baseURL  string
	apiKey   string
	deviceID string
	http     *http.Client
	log      *logger.Logger
}

type messageRequest struct {
	Phone    string `json:"phone"`
	Message  string `json:"message"`
	Duration int    `json:"duration,omitempty"`
}

type mediaRequest struct {
	Phone    string `json:"phone"`
	ImageURL string `json:"image_url,omitempty"`
	VideoURL string `json:"video_url,omitempty"`
	Caption  string `json:"caption,omitempty"`
}

func NewClient(cfg config.WhatsAppConfig, log *logger.Logger) *Client {
	if cfg.GetWhatsAppURL() == "" {
		return nil
	}

	return &Client{
		baseURL:  strings.TrimRight(cfg.GetWhatsAppURL(), "/"),
		apiKey:   cfg.GetWhatsAppKey(),
		deviceID: cfg.GetWhatsAppDeviceID(),
		http:     &http.Client{Timeout: 15 * time.Second},
		log:      log,
	}
}

// SendText delivers a text message. typingDelaySeconds, when positive, asks
// the gateway to simulate typing before delivery.
func (c *Client) SendText(ctx context.Context, address, text string, typingDelaySeconds int) error {
	if c == nil {
		return nil
	}

	payload := messageRequest{
		Phone:    normalizeAddress(address),
		Message:  text,
		Duration: typingDelaySeconds,
	}

	if err := c.post(ctx, "/send/message", payload); err != nil {
		return err
	}

	c.log.Info("whatsapp text sent", "address", payload.Phone)
	return nil
}

// SendMedia delivers a media attachment with an optional caption. Video URLs
// are routed to the gateway's video endpoint, everything else as image.
func (c *Client) SendMedia(ctx context.Context, address, mediaURL, caption string) error {
	if c == nil {
		return nil
	}

	addr := normalizeAddress(address)
	endpoint := "/send/image"
	payload := mediaRequest{Phone: addr, ImageURL: mediaURL, Caption: caption}
	if isVideoURL(mediaURL) {
		endpoint = "/send/video"
		payload = mediaRequest{Phone: addr, VideoURL: mediaURL, Caption: caption}
	}

	if err := c.post(ctx, endpoint, payload); err != nil {
		return err
	}

	c.log.Info("whatsapp media sent", "address", addr)
	return nil
}

func (c *Client) post(ctx context.Context, path string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal whatsapp payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewBuffer(body))
	if err != nil {
		return err
	}

	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", formatAuthHeader(c.apiKey))
	}
	if c.deviceID != "" {
		req.Header.Set("X-Device-Id", c.deviceID)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("whatsapp request failed: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode >= http.StatusBadRequest {
		data, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("whatsapp service returned %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))
	}

	return nil
}

// normalizeAddress leaves channel JIDs untouched and formats phone numbers
// the way the gateway expects them.
func normalizeAddress(address string) string {
	if strings.Contains(address, "@") {
		return address
	}
	return strings.TrimPrefix(phone.NormalizeE164(address), "+")
}

func isVideoURL(mediaURL string) bool {
	lower := strings.ToLower(mediaURL)
	return strings.HasSuffix(lower, ".mp4") || strings.HasSuffix(lower, ".mov") ||
		strings.Contains(lower, "video")
}

func formatAuthHeader(apiKey string) string {
	if strings.HasPrefix(strings.ToLower(apiKey), "basic ") {
		return apiKey
	}

	encoded := base64.StdEncoding.EncodeToString([]byte(apiKey))
	return "Basic " + encoded
}
