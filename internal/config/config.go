package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds application configuration
type Config struct {
	Port          string
	Env           string
	LogLevel      string
	DatabaseURL   string
	RedisAddr     string
	RedisPassword string
	RedisTLS      bool

	UseMemoryQueue      bool
	WorkerCount         int
	AWSRegion           string
	AWSAccessKeyID      string
	AWSSecretAccessKey  string
	AWSEndpointOverride string
	InboundQueueURL     string

	// Channel bridge sidecar
	BridgeBaseURL string
	BridgeAPIKey  string
	BridgeTimeout time.Duration

	// Channel session tuning
	ChannelName            string
	InitTimeout            time.Duration
	ReconnectBaseDelay     time.Duration
	ReconnectMaxDelay      time.Duration
	ReconnectMaxAttempts   int
	HealthCheckInterval    time.Duration
	HealthCheckTimeout     time.Duration
	HealthCheckMaxFailures int
	SessionLogLines        int
	BroadcastDebounce      time.Duration

	// Identity mapping cache
	IdentityFlushDebounce time.Duration

	// Outbound dispatch
	DefaultCountryCode string

	// Operator notification
	SendGridAPIKey     string
	SendGridFromEmail  string
	SendGridFromName   string
	OperatorAlertEmail string

	AdminJWTSecret     string
	CORSAllowedOrigins []string
}

// Load reads configuration from environment variables
func Load() *Config {
	return &Config{
		Port:          getEnv("PORT", "8080"),
		Env:           getEnv("ENV", "development"),
		LogLevel:      getEnv("LOG_LEVEL", "info"),
		DatabaseURL:   getEnv("DATABASE_URL", ""),
		RedisAddr:     getEnv("REDIS_ADDR", ""),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisTLS:      getEnvAsBool("REDIS_TLS", false),

		UseMemoryQueue:      getEnvAsBool("USE_MEMORY_QUEUE", false),
		WorkerCount:         getEnvAsInt("WORKER_COUNT", 2),
		AWSRegion:           getEnv("AWS_REGION", "us-east-1"),
		AWSAccessKeyID:      getEnv("AWS_ACCESS_KEY_ID", ""),
		AWSSecretAccessKey:  getEnv("AWS_SECRET_ACCESS_KEY", ""),
		AWSEndpointOverride: getEnv("AWS_ENDPOINT_OVERRIDE", ""),
		InboundQueueURL:     getEnv("INBOUND_QUEUE_URL", ""),

		BridgeBaseURL: getEnv("BRIDGE_BASE_URL", "http://localhost:3000"),
		BridgeAPIKey:  getEnv("BRIDGE_API_KEY", ""),
		BridgeTimeout: getEnvAsDuration("BRIDGE_TIMEOUT", 10*time.Second),

		ChannelName:            getEnv("CHANNEL_NAME", "whatsapp"),
		InitTimeout:            getEnvAsDuration("CHANNEL_INIT_TIMEOUT", 3*time.Minute),
		ReconnectBaseDelay:     getEnvAsDuration("CHANNEL_RECONNECT_BASE_DELAY", 5*time.Second),
		ReconnectMaxDelay:      getEnvAsDuration("CHANNEL_RECONNECT_MAX_DELAY", 5*time.Minute),
		ReconnectMaxAttempts:   getEnvAsInt("CHANNEL_RECONNECT_MAX_ATTEMPTS", 10),
		HealthCheckInterval:    getEnvAsDuration("CHANNEL_HEALTH_INTERVAL", 2*time.Minute),
		HealthCheckTimeout:     getEnvAsDuration("CHANNEL_HEALTH_TIMEOUT", 15*time.Second),
		HealthCheckMaxFailures: getEnvAsInt("CHANNEL_HEALTH_MAX_FAILURES", 3),
		SessionLogLines:        getEnvAsInt("CHANNEL_LOG_LINES", 200),
		BroadcastDebounce:      getEnvAsDuration("CHANNEL_BROADCAST_DEBOUNCE", 500*time.Millisecond),

		IdentityFlushDebounce: getEnvAsDuration("IDENTITY_FLUSH_DEBOUNCE", 3*time.Second),

		DefaultCountryCode: getEnv("DEFAULT_COUNTRY_CODE", "55"),

		SendGridAPIKey:     getEnv("SENDGRID_API_KEY", ""),
		SendGridFromEmail:  getEnv("SENDGRID_FROM_EMAIL", ""),
		SendGridFromName:   getEnv("SENDGRID_FROM_NAME", "AnonZap"),
		OperatorAlertEmail: getEnv("OPERATOR_ALERT_EMAIL", ""),

		AdminJWTSecret:     getEnv("ADMIN_JWT_SECRET", ""),
		CORSAllowedOrigins: getEnvAsSlice("CORS_ALLOWED_ORIGINS"),
	}
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	if value, ok := os.LookupEnv(key); ok {
		if parsed, err := strconv.Atoi(strings.TrimSpace(value)); err == nil {
			return parsed
		}
	}
	return fallback
}

func getEnvAsBool(key string, fallback bool) bool {
	if value, ok := os.LookupEnv(key); ok {
		if parsed, err := strconv.ParseBool(strings.TrimSpace(value)); err == nil {
			return parsed
		}
	}
	return fallback
}

func getEnvAsDuration(key string, fallback time.Duration) time.Duration {
	if value, ok := os.LookupEnv(key); ok {
		if parsed, err := time.ParseDuration(strings.TrimSpace(value)); err == nil {
			return parsed
		}
	}
	return fallback
}

func getEnvAsSlice(key string) []string {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return nil
	}
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
