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
	Port               string
	Env                string
	LogLevel           string
	DatabaseURL        string
	CORSAllowedOrigins []string
	ReviewerJWTSecret  string

	RedisAddr     string
	RedisPassword string
	RedisTLS      bool

	// Conversation context lifecycle
	ContextMaxAge        time.Duration
	ContextSweepInterval time.Duration

	// Handoff engine and audit
	HandoffCatalogPath   string
	HandoffAuditCapacity int
	HandoffMetricsTable  string

	// Draft generation: "stub" or "bedrock"
	DraftProvider  string
	BedrockModelID string

	// Messaging transport: "chatwoot" or "log"
	MessagingProvider string
	ChatwootBaseURL   string
	ChatwootAccountID string
	ChatwootAPIToken  string
	ChatwootTimeout   time.Duration

	// Retries apply to private notes; public replies only retry on 429
	ChatwootMaxRetries   int
	ChatwootRetryBackoff time.Duration

	// Learning signal archive (S3 bucket, empty disables)
	LearningArchiveBucket string

	// Outbox delivery: "kafka", "sqs" or "none"
	OutboxTransport    string
	OutboxPollInterval time.Duration
	KafkaBrokers       []string
	KafkaTopic         string
	OutboxQueueURL     string

	// Reviewer notifications: "ses", "sendgrid" or "stub"
	EmailProvider  string
	SendGridAPIKey string
	EmailFrom      string
	EmailFromName  string
	ReviewerEmails []string
	ReviewBaseURL  string

	AWSRegion           string
	AWSAccessKeyID      string
	AWSSecretAccessKey  string
	AWSEndpointOverride string
}

// Load reads configuration from environment variables. A .env file in the
// working directory is applied first when present; real env vars win.
func Load() *Config {
	_ = godotenv.Load()

	return &Config{
		Port:               getEnv("PORT", "8080"),
		Env:                getEnv("ENV", "development"),
		LogLevel:           getEnv("LOG_LEVEL", "info"),
		DatabaseURL:        getEnv("DATABASE_URL", ""),
		CORSAllowedOrigins: getEnvAsList("CORS_ALLOWED_ORIGINS"),
		ReviewerJWTSecret:  getEnv("REVIEWER_JWT_SECRET", ""),

		RedisAddr:     getEnv("REDIS_ADDR", ""),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisTLS:      getEnvAsBool("REDIS_TLS", false),

		ContextMaxAge:        getEnvAsDuration("CONTEXT_MAX_AGE", 24*time.Hour),
		ContextSweepInterval: getEnvAsDuration("CONTEXT_SWEEP_INTERVAL", 10*time.Minute),

		HandoffCatalogPath:   getEnv("HANDOFF_CATALOG_PATH", ""),
		HandoffAuditCapacity: getEnvAsInt("HANDOFF_AUDIT_CAPACITY", 10000),
		HandoffMetricsTable:  getEnv("HANDOFF_METRICS_TABLE", ""),

		DraftProvider:  strings.ToLower(strings.TrimSpace(getEnv("DRAFT_PROVIDER", "stub"))),
		BedrockModelID: getEnv("BEDROCK_MODEL_ID", ""),

		MessagingProvider: strings.ToLower(strings.TrimSpace(getEnv("MESSAGING_PROVIDER", "log"))),
		ChatwootBaseURL:   getEnv("CHATWOOT_BASE_URL", ""),
		ChatwootAccountID: getEnv("CHATWOOT_ACCOUNT_ID", ""),
		ChatwootAPIToken:  getEnv("CHATWOOT_API_TOKEN", ""),
		ChatwootTimeout:   getEnvAsDuration("CHATWOOT_TIMEOUT", 10*time.Second),

		ChatwootMaxRetries:   getEnvAsInt("CHATWOOT_MAX_RETRIES", 2),
		ChatwootRetryBackoff: getEnvAsDuration("CHATWOOT_RETRY_BACKOFF", 500*time.Millisecond),

		LearningArchiveBucket: getEnv("LEARNING_ARCHIVE_BUCKET", ""),

		OutboxTransport:    strings.ToLower(strings.TrimSpace(getEnv("OUTBOX_TRANSPORT", "none"))),
		OutboxPollInterval: getEnvAsDuration("OUTBOX_POLL_INTERVAL", 2*time.Second),
		KafkaBrokers:       getEnvAsList("KAFKA_BROKERS"),
		KafkaTopic:         getEnv("KAFKA_TOPIC", "hitl-events"),
		OutboxQueueURL:     getEnv("OUTBOX_QUEUE_URL", ""),

		EmailProvider:  strings.ToLower(strings.TrimSpace(getEnv("EMAIL_PROVIDER", "stub"))),
		SendGridAPIKey: getEnv("SENDGRID_API_KEY", ""),
		EmailFrom:      getEnv("EMAIL_FROM", ""),
		EmailFromName:  getEnv("EMAIL_FROM_NAME", "Support Approvals"),
		ReviewerEmails: getEnvAsList("REVIEWER_EMAILS"),
		ReviewBaseURL:  getEnv("REVIEW_BASE_URL", ""),

		AWSRegion:           getEnv("AWS_REGION", "us-east-1"),
		AWSAccessKeyID:      getEnv("AWS_ACCESS_KEY_ID", ""),
		AWSSecretAccessKey:  getEnv("AWS_SECRET_ACCESS_KEY", ""),
		AWSEndpointOverride: getEnv("AWS_ENDPOINT_OVERRIDE", ""),
	}
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

// getEnvAsList splits a comma separated variable, dropping blanks.
func getEnvAsList(key string) []string {
	raw := strings.TrimSpace(getEnv(key, ""))
	if raw == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
