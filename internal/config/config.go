// Package config provides environment configuration for the chat pipeline.
package config

import (
	"os"
	"strconv"
	"time"
)

// Config holds all configuration for the gateway and persister processes.
type Config struct {
	// Server settings
	ServerPort         string
	ServerReadTimeout  time.Duration
	ServerWriteTimeout time.Duration

	// NATS settings
	NATSURL      string
	NATSCAFile   string
	NATSCertFile string
	NATSKeyFile  string
	NATSToken    string

	// Queue settings
	QueueDriver   string // "jetstream" or "memory"
	ConsumerName  string
	FetchBatch    int
	FetchMaxWait  time.Duration
	AckWait       time.Duration
	LivenessEvery time.Duration

	// Redis settings
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// Postgres settings
	PostgresDSN string

	// Auth settings
	AuthEnabled bool
	JWTSecret   string

	// Gateway settings
	SendQueueSize   int
	WriteTimeout    time.Duration
	ReadIdleTimeout time.Duration
	PresenceTTL     time.Duration

	// Batch consumer settings
	FlushInterval  time.Duration
	HighWaterMark  int
	LowWaterMark   int
	BackoffCeiling time.Duration

	// Rate limiting
	RateLimitRequests int
	RateLimitWindow   time.Duration

	// Logging
	LogLevel string

	// Tracing
	TracingEndpoint string
	TracingEnabled  bool
}

// Load reads configuration from environment variables.
func Load() *Config {
	return &Config{
		// Server
		ServerPort:         getEnv("PORT", "8080"),
		ServerReadTimeout:  getDurationEnv("SERVER_READ_TIMEOUT", 30*time.Second),
		ServerWriteTimeout: getDurationEnv("SERVER_WRITE_TIMEOUT", 120*time.Second),

		// NATS
		NATSURL:      getEnv("NATS_URL", "nats://localhost:4222"),
		NATSCAFile:   getEnv("NATS_CA_FILE", ""),
		NATSCertFile: getEnv("NATS_CERT_FILE", ""),
		NATSKeyFile:  getEnv("NATS_KEY_FILE", ""),
		NATSToken:    getEnv("NATS_TOKEN", ""),

		// Queue
		QueueDriver:   getEnv("QUEUE_DRIVER", "jetstream"),
		ConsumerName:  getEnv("QUEUE_CONSUMER_NAME", "chat-persister"),
		FetchBatch:    getIntEnv("QUEUE_FETCH_BATCH", 500),
		FetchMaxWait:  getDurationEnv("QUEUE_FETCH_MAX_WAIT", 2*time.Second),
		AckWait:       getDurationEnv("QUEUE_ACK_WAIT", 30*time.Second),
		LivenessEvery: getDurationEnv("QUEUE_LIVENESS_INTERVAL", 10*time.Second),

		// Redis
		RedisAddr:     getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getIntEnv("REDIS_DB", 0),

		// Postgres
		PostgresDSN: getEnv("POSTGRES_DSN", "postgres://localhost:5432/chat?sslmode=disable"),

		// Auth
		AuthEnabled: getBoolEnv("AUTH_ENABLED", false),
		JWTSecret:   getEnv("JWT_SECRET", "development-secret-change-in-production"),

		// Gateway
		SendQueueSize:   getIntEnv("WS_SEND_QUEUE", 256),
		WriteTimeout:    getDurationEnv("WS_WRITE_TIMEOUT", 5*time.Second),
		ReadIdleTimeout: getDurationEnv("WS_READ_IDLE_TIMEOUT", 2*time.Minute),
		PresenceTTL:     getDurationEnv("PRESENCE_TTL", 300*time.Second),

		// Batch consumer
		FlushInterval:  getDurationEnv("FLUSH_INTERVAL", 3*time.Second),
		HighWaterMark:  getIntEnv("BUFFER_HIGH_WATER", 5000),
		LowWaterMark:   getIntEnv("BUFFER_LOW_WATER", 2000),
		BackoffCeiling: getDurationEnv("RETRY_BACKOFF_CEILING", 60*time.Second),

		// Rate limiting
		RateLimitRequests: getIntEnv("RATE_LIMIT_REQUESTS", 60),
		RateLimitWindow:   getDurationEnv("RATE_LIMIT_WINDOW", time.Minute),

		// Logging
		LogLevel: getEnv("LOG_LEVEL", "info"),

		// Tracing
		TracingEndpoint: getEnv("TRACING_ENDPOINT", "localhost:4318"),
		TracingEnabled:  getBoolEnv("TRACING_ENABLED", false),
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getBoolEnv(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
