package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds application configuration
type Config struct {
	Port        string
	Env         string
	LogLevel    string
	DatabaseURL string

	CORSAllowedOrigins []string
	InquiryRateLimit   float64
	InquiryRateBurst   int

	RedisAddr       string
	RedisPassword   string
	RedisTLS        bool
	SessionTTL      time.Duration
	SessionLockTTL  time.Duration
	SessionLockWait time.Duration

	// WhatsApp Cloud API
	WhatsAppAPIBaseURL       string
	WhatsAppAPIVersion       string
	WhatsAppAccessToken      string
	WhatsAppPhoneNumberID    string
	WhatsAppVerifyToken      string
	WhatsAppAppSecret        string
	WhatsAppFallbackTemplate string
	WhatsAppTemplateLanguage string

	DispatchMaxAttempts    int
	DispatchRetryDelay     time.Duration
	DispatchAttemptTimeout time.Duration

	FollowupDelay        time.Duration
	CatalogSource        string
	CatalogPageSize      int
	CaptureDeclinedLeads bool

	UseMemoryQueue        bool
	WorkerCount           int
	AWSRegion             string
	AWSAccessKeyID        string
	AWSSecretAccessKey    string
	AWSEndpointOverride   string
	NotificationQueueURL  string
	AMQPURL               string
	AMQPQueue             string
	NotificationJobsTable string
	ArchiveBucket         string
	OutboxPollInterval    time.Duration

	// Sales notifications
	SalesNotifyEmail  string
	SendGridAPIKey    string
	SendGridFromEmail string
	SendGridFromName  string
	SESFromEmail      string
}

// Load reads configuration from environment variables. A .env file in the
// working directory is applied first when present; real env vars win.
func Load() *Config {
	_ = godotenv.Load()

	return &Config{
		Port:        getEnv("PORT", "8080"),
		Env:         getEnv("ENV", "development"),
		LogLevel:    getEnv("LOG_LEVEL", "info"),
		DatabaseURL: getEnv("DATABASE_URL", ""),

		CORSAllowedOrigins: getEnvAsList("CORS_ALLOWED_ORIGINS"),
		InquiryRateLimit:   getEnvAsFloat("INQUIRY_RATE_LIMIT", 0.2),
		InquiryRateBurst:   getEnvAsInt("INQUIRY_RATE_BURST", 5),

		RedisAddr:       getEnv("REDIS_ADDR", ""),
		RedisPassword:   getEnv("REDIS_PASSWORD", ""),
		RedisTLS:        getEnvAsBool("REDIS_TLS", false),
		SessionTTL:      getEnvAsDuration("SESSION_TTL", 30*24*time.Hour),
		SessionLockTTL:  getEnvAsDuration("SESSION_LOCK_TTL", 2*time.Minute),
		SessionLockWait: getEnvAsDuration("SESSION_LOCK_WAIT", 0),

		WhatsAppAPIBaseURL:       strings.TrimRight(getEnv("WHATSAPP_API_BASE_URL", "https://graph.facebook.com"), "/"),
		WhatsAppAPIVersion:       getEnv("WHATSAPP_API_VERSION", "v21.0"),
		WhatsAppAccessToken:      getEnv("WHATSAPP_ACCESS_TOKEN", ""),
		WhatsAppPhoneNumberID:    getEnv("WHATSAPP_PHONE_NUMBER_ID", ""),
		WhatsAppVerifyToken:      getEnv("WHATSAPP_VERIFY_TOKEN", ""),
		WhatsAppAppSecret:        getEnv("WHATSAPP_APP_SECRET", ""),
		WhatsAppFallbackTemplate: getEnv("WHATSAPP_FALLBACK_TEMPLATE", "hello_world"),
		WhatsAppTemplateLanguage: getEnv("WHATSAPP_TEMPLATE_LANGUAGE", "en_US"),

		DispatchMaxAttempts:    getEnvAsInt("DISPATCH_MAX_ATTEMPTS", 3),
		DispatchRetryDelay:     getEnvAsDuration("DISPATCH_RETRY_DELAY", 2*time.Second),
		DispatchAttemptTimeout: getEnvAsDuration("DISPATCH_ATTEMPT_TIMEOUT", 20*time.Second),

		FollowupDelay:        getEnvAsDuration("FOLLOWUP_DELAY", 4*time.Hour),
		CatalogSource:        strings.ToLower(strings.TrimSpace(getEnv("CATALOG_SOURCE", "static"))),
		CatalogPageSize:      getEnvAsInt("CATALOG_PAGE_SIZE", 10),
		CaptureDeclinedLeads: getEnvAsBool("CAPTURE_DECLINED_LEADS", false),

		UseMemoryQueue:        getEnvAsBool("USE_MEMORY_QUEUE", false),
		WorkerCount:           getEnvAsInt("WORKER_COUNT", 2),
		AWSRegion:             getEnv("AWS_REGION", "us-east-1"),
		AWSAccessKeyID:        getEnv("AWS_ACCESS_KEY_ID", ""),
		AWSSecretAccessKey:    getEnv("AWS_SECRET_ACCESS_KEY", ""),
		AWSEndpointOverride:   getEnv("AWS_ENDPOINT_OVERRIDE", ""),
		NotificationQueueURL:  getEnv("NOTIFICATION_QUEUE_URL", ""),
		AMQPURL:               getEnv("AMQP_URL", ""),
		AMQPQueue:             getEnv("AMQP_QUEUE", "leadbot.start_jobs"),
		NotificationJobsTable: getEnv("NOTIFICATION_JOBS_TABLE", "notification_jobs"),
		ArchiveBucket:         getEnv("ARCHIVE_BUCKET", ""),
		OutboxPollInterval:    getEnvAsDuration("OUTBOX_POLL_INTERVAL", 2*time.Second),

		SalesNotifyEmail:  getEnv("SALES_NOTIFY_EMAIL", ""),
		SendGridAPIKey:    getEnv("SENDGRID_API_KEY", ""),
		SendGridFromEmail: getEnv("SENDGRID_FROM_EMAIL", ""),
		SendGridFromName:  getEnv("SENDGRID_FROM_NAME", "Machinery Sales Bot"),
		SESFromEmail:      getEnv("SES_FROM_EMAIL", ""),
	}
}

// SessionLockBudget is the longest one inbound event may hold a recipient
// lock: two payloads, each sent with its retries and then once more as the
// template fallback.
func (c *Config) SessionLockBudget() time.Duration {
	attempts := c.DispatchMaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	send := time.Duration(attempts)*c.DispatchAttemptTimeout + time.Duration(attempts-1)*c.DispatchRetryDelay
	return 2 * 2 * send
}

// EffectiveSessionLockWait is SESSION_LOCK_WAIT raised to at least
// SessionLockBudget.
func (c *Config) EffectiveSessionLockWait() time.Duration {
	if budget := c.SessionLockBudget(); c.SessionLockWait < budget {
		return budget
	}
	return c.SessionLockWait
}

// WhatsAppConfigured reports whether outbound WhatsApp credentials are present.
func (c *Config) WhatsAppConfigured() bool {
	return c != nil && strings.TrimSpace(c.WhatsAppAccessToken) != "" && strings.TrimSpace(c.WhatsAppPhoneNumberID) != ""
}

// getEnv retrieves an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsInt retrieves an environment variable as an integer or returns a default value
func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

// getEnvAsBool retrieves an environment variable as a boolean or returns a default value
func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseBool(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}
	if value, err := time.ParseDuration(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	if value, err := strconv.ParseFloat(getEnv(key, ""), 64); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsList(key string) []string {
	var out []string
	for _, part := range strings.Split(getEnv(key, ""), ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
