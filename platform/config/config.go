// Package config provides application configuration loading.
// This is part of the platform layer and contains no business logic.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// =============================================================================
// Module-Specific Config Interfaces (Principle of Least Privilege)
// =============================================================================

// DatabaseConfig provides database connection settings.
type DatabaseConfig interface {
	GetDatabaseURL() string
}

// HTTPConfig provides settings for the HTTP server.
type HTTPConfig interface {
	GetHTTPAddr() string
	GetCORSAllowAll() bool
	GetCORSOrigins() []string
}

// WhatsAppConfig provides settings for the WhatsApp gateway client.
type WhatsAppConfig interface {
	GetWhatsAppURL() string
	GetWhatsAppKey() string
	GetWhatsAppDeviceID() string
}

// SchedulerConfig provides settings for asynq-backed scheduling.
type SchedulerConfig interface {
	GetRedisURL() string
	GetRedisTLSInsecure() bool
	GetAsynqQueueName() string
	GetAsynqConcurrency() int
}

// DispatchConfig provides pacing settings for the outbound dispatch queue.
type DispatchConfig interface {
	GetRedisURL() string
	GetDispatchMinDelay() time.Duration
	GetDispatchMaxDelay() time.Duration
	GetDispatchDailyCap() int
}

// ResponderConfig provides settings for the conversation responder.
type ResponderConfig interface {
	GetResponderAPIKey() string
	GetResponderBaseURL() string
	GetResponderModel() string
	GetSocialProofVideoURL() string
}

// EngagementConfig provides thresholds for follow-up, retry and sweep jobs.
type EngagementConfig interface {
	GetFollowupDefaultDelay() time.Duration
	GetFollowupDefaultTemplate() string
	GetFollowupMaxCount() int
	GetRetrySilenceThreshold() time.Duration
	GetSweepSilenceThreshold() time.Duration
	GetSweepBatchSize() int
}

// NotificationConfig provides settings for admin alerting.
type NotificationConfig interface {
	GetAdminPhone() string
	GetAdminEmail() string
	GetSMTPHost() string
	GetSMTPPort() int
	GetSMTPUsername() string
	GetSMTPPassword() string
	GetEmailFromAddress() string
}

// =============================================================================
// Main Config Struct
// =============================================================================

// Config holds all application configuration values.
type Config struct {
	Env                     string
	HTTPAddr                string
	DatabaseURL             string
	RedisURL                string
	RedisTLSInsecure        bool
	AsynqQueueName          string
	AsynqConcurrency        int
	CORSAllowAll            bool
	CORSOrigins             []string
	WhatsAppURL             string
	WhatsAppKey             string
	WhatsAppDeviceID        string
	ResponderAPIKey         string
	ResponderBaseURL        string
	ResponderModel          string
	SocialProofVideoURL     string
	DispatchMinDelay        time.Duration
	DispatchMaxDelay        time.Duration
	DispatchDailyCap        int
	FollowupDefaultDelay    time.Duration
	FollowupDefaultTemplate string
	FollowupMaxCount        int
	RetrySilenceThreshold   time.Duration
	SweepSilenceThreshold   time.Duration
	SweepBatchSize          int
	AdminPhone              string
	AdminEmail              string
	SMTPHost                string
	SMTPPort                int
	SMTPUsername            string
	SMTPPassword            string
	EmailFromAddress        string
}

// =============================================================================
// Interface Implementations
// =============================================================================

// DatabaseConfig implementation
func (c *Config) GetDatabaseURL() string { return c.DatabaseURL }

// HTTPConfig implementation
func (c *Config) GetHTTPAddr() string      { return c.HTTPAddr }
func (c *Config) GetCORSAllowAll() bool    { return c.CORSAllowAll }
func (c *Config) GetCORSOrigins() []string { return c.CORSOrigins }

// WhatsAppConfig implementation
func (c *Config) GetWhatsAppURL() string      { return c.WhatsAppURL }
func (c *Config) GetWhatsAppKey() string      { return c.WhatsAppKey }
func (c *Config) GetWhatsAppDeviceID() string { return c.WhatsAppDeviceID }

// SchedulerConfig implementation
func (c *Config) GetRedisURL() string       { return c.RedisURL }
func (c *Config) GetRedisTLSInsecure() bool { return c.RedisTLSInsecure }
func (c *Config) GetAsynqQueueName() string { return c.AsynqQueueName }
func (c *Config) GetAsynqConcurrency() int  { return c.AsynqConcurrency }

// DispatchConfig implementation
func (c *Config) GetDispatchMinDelay() time.Duration { return c.DispatchMinDelay }
func (c *Config) GetDispatchMaxDelay() time.Duration { return c.DispatchMaxDelay }
func (c *Config) GetDispatchDailyCap() int           { return c.DispatchDailyCap }

// ResponderConfig implementation
func (c *Config) GetResponderAPIKey() string     { return c.ResponderAPIKey }
func (c *Config) GetResponderBaseURL() string    { return c.ResponderBaseURL }
func (c *Config) GetResponderModel() string      { return c.ResponderModel }
func (c *Config) GetSocialProofVideoURL() string { return c.SocialProofVideoURL }

// EngagementConfig implementation
func (c *Config) GetFollowupDefaultDelay() time.Duration  { return c.FollowupDefaultDelay }
func (c *Config) GetFollowupDefaultTemplate() string      { return c.FollowupDefaultTemplate }
func (c *Config) GetFollowupMaxCount() int                { return c.FollowupMaxCount }
func (c *Config) GetRetrySilenceThreshold() time.Duration { return c.RetrySilenceThreshold }
func (c *Config) GetSweepSilenceThreshold() time.Duration { return c.SweepSilenceThreshold }
func (c *Config) GetSweepBatchSize() int                  { return c.SweepBatchSize }

// NotificationConfig implementation
func (c *Config) GetAdminPhone() string       { return c.AdminPhone }
func (c *Config) GetAdminEmail() string       { return c.AdminEmail }
func (c *Config) GetSMTPHost() string         { return c.SMTPHost }
func (c *Config) GetSMTPPort() int            { return c.SMTPPort }
func (c *Config) GetSMTPUsername() string     { return c.SMTPUsername }
func (c *Config) GetSMTPPassword() string     { return c.SMTPPassword }
func (c *Config) GetEmailFromAddress() string { return c.EmailFromAddress }

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Env:                     getEnv("APP_ENV", "development"),
		HTTPAddr:                getEnv("HTTP_ADDR", ":8080"),
		DatabaseURL:             getEnv("DATABASE_URL", ""),
		RedisURL:                getEnv("REDIS_URL", ""),
		RedisTLSInsecure:        strings.EqualFold(getEnv("REDIS_TLS_INSECURE", "false"), "true"),
		AsynqQueueName:          getEnv("ASYNQ_QUEUE", "default"),
		AsynqConcurrency:        mustInt(getEnv("ASYNQ_CONCURRENCY", "10")),
		CORSAllowAll:            strings.EqualFold(getEnv("CORS_ALLOW_ALL", "false"), "true"),
		CORSOrigins:             splitCSV(getEnv("CORS_ORIGINS", "http://localhost:4200")),
		WhatsAppURL:             getEnv("WHATSAPP_URL", ""),
		WhatsAppKey:             getEnv("WHATSAPP_KEY", ""),
		WhatsAppDeviceID:        getEnv("WHATSAPP_DEVICE_ID", ""),
		ResponderAPIKey:         getEnv("RESPONDER_API_KEY", ""),
		ResponderBaseURL:        getEnv("RESPONDER_BASE_URL", ""),
		ResponderModel:          getEnv("RESPONDER_MODEL", ""),
		SocialProofVideoURL:     getEnv("SOCIAL_PROOF_VIDEO_URL", ""),
		DispatchMinDelay:        mustDuration(getEnv("DISPATCH_MIN_DELAY", "8s")),
		DispatchMaxDelay:        mustDuration(getEnv("DISPATCH_MAX_DELAY", "20s")),
		DispatchDailyCap:        mustInt(getEnv("DISPATCH_DAILY_CAP", "400")),
		FollowupDefaultDelay:    mustDuration(getEnv("FOLLOWUP_DEFAULT_DELAY", "24h")),
		FollowupDefaultTemplate: getEnv("FOLLOWUP_DEFAULT_TEMPLATE", "Oi {{name}}, tudo bem? Ainda posso te ajudar com a sua conta de energia?"),
		FollowupMaxCount:        mustInt(getEnv("FOLLOWUP_MAX_COUNT", "3")),
		RetrySilenceThreshold:   mustDuration(getEnv("RETRY_SILENCE_THRESHOLD", "30m")),
		SweepSilenceThreshold:   mustDuration(getEnv("SWEEP_SILENCE_THRESHOLD", "30m")),
		SweepBatchSize:          mustInt(getEnv("SWEEP_BATCH_SIZE", "10")),
		AdminPhone:              getEnv("ADMIN_PHONE", ""),
		AdminEmail:              getEnv("ADMIN_EMAIL", ""),
		SMTPHost:                getEnv("SMTP_HOST", ""),
		SMTPPort:                mustInt(getEnv("SMTP_PORT", "587")),
		SMTPUsername:            getEnv("SMTP_USERNAME", ""),
		SMTPPassword:            getEnv("SMTP_PASSWORD", ""),
		EmailFromAddress:        getEnv("EMAIL_FROM_ADDRESS", ""),
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}
	if cfg.DispatchMinDelay <= 0 || cfg.DispatchMaxDelay < cfg.DispatchMinDelay {
		return nil, fmt.Errorf("DISPATCH_MIN_DELAY and DISPATCH_MAX_DELAY must form a valid window")
	}
	if cfg.DispatchDailyCap <= 0 {
		return nil, fmt.Errorf("DISPATCH_DAILY_CAP must be positive")
	}
	if cfg.FollowupMaxCount <= 0 {
		return nil, fmt.Errorf("FOLLOWUP_MAX_COUNT must be positive")
	}

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if val, ok := os.LookupEnv(key); ok {
		return val
	}
	return fallback
}

func mustDuration(value string) time.Duration {
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0
	}
	return d
}

func mustInt(value string) int {
	result, err := strconv.Atoi(value)
	if err != nil {
		return 0
	}
	return result
}

func splitCSV(value string) []string {
	parts := strings.Split(value, ",")
	results := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			results = append(results, trimmed)
		}
	}
	return results
}
