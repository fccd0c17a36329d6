package config

import (
	"os"
	"strconv"
	"time"
)

type Config struct {
	// Server configuration
	Port        string
	Environment string

	// Store configuration
	StoreDriver string // redis, sqlite, memory
	SQLitePath  string

	// Redis configuration
	RedisURL      string
	RedisPassword string
	RedisDB       int

	// PubNub configuration (customer notifications; optional)
	PubNubPublishKey   string
	PubNubSubscribeKey string
	PubNubSecretKey    string

	// Reservation configuration
	ReservationTimeout time.Duration
	MaxTicketsPerOrder int
	CASMaxAttempts     int
	CASBackoffBase     time.Duration
	CASBackoffMax      time.Duration

	// Order confirmation configuration
	ConfirmGatewayURL     string
	ConfirmTimeout        time.Duration
	MaxConfirmRetries     int
	RetryBaseDelaySeconds int

	// Queue configuration
	QueueName            string
	ConsumerConcurrency  int
	PollWaitSeconds      int
	VisibilitySeconds    int
	QueueMaxReceiveCount int
	QueueDedupWindow     time.Duration

	// Sweep configuration
	SweepInterval time.Duration
	SweepTimeout  time.Duration

	// Rate limiting
	ReserveRateLimit int

	// Monitoring
	EnableMetrics bool
	MetricsPort   string
}

func LoadConfig() *Config {
	return &Config{
		// Server
		Port:        getEnv("PORT", "8090"),
		Environment: getEnv("ENVIRONMENT", "development"),

		// Store
		StoreDriver: getEnv("STORE_DRIVER", "redis"),
		SQLitePath:  getEnv("SQLITE_PATH", "data/inventory.db"),

		// Redis
		RedisURL:      getEnv("REDIS_URL", "localhost:6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getEnvAsInt("REDIS_DB", 0),

		// PubNub
		PubNubPublishKey:   getEnv("PUBNUB_PUBLISH_KEY", ""),
		PubNubSubscribeKey: getEnv("PUBNUB_SUBSCRIBE_KEY", ""),
		PubNubSecretKey:    getEnv("PUBNUB_SECRET_KEY", ""),

		// Reservation
		ReservationTimeout: getEnvAsDuration("RESERVATION_TIMEOUT", "10m"),
		MaxTicketsPerOrder: getEnvAsInt("MAX_TICKETS_PER_ORDER", 10),
		CASMaxAttempts:     getEnvAsInt("CAS_MAX_ATTEMPTS", 5),
		CASBackoffBase:     getEnvAsDuration("CAS_BACKOFF_BASE", "20ms"),
		CASBackoffMax:      getEnvAsDuration("CAS_BACKOFF_MAX", "500ms"),

		// Confirmation
		ConfirmGatewayURL:     getEnv("CONFIRM_GATEWAY_URL", ""),
		ConfirmTimeout:        getEnvAsDuration("CONFIRM_TIMEOUT", "10s"),
		MaxConfirmRetries:     getEnvAsInt("MAX_CONFIRM_RETRIES", 3),
		RetryBaseDelaySeconds: getEnvAsInt("RETRY_BASE_DELAY_SECONDS", 5),

		// Queue
		QueueName:            getEnv("QUEUE_NAME", "order-processing"),
		ConsumerConcurrency:  getEnvAsInt("CONSUMER_CONCURRENCY", 5),
		PollWaitSeconds:      getEnvAsInt("POLL_WAIT_SECONDS", 5),
		VisibilitySeconds:    getEnvAsInt("VISIBILITY_SECONDS", 30),
		QueueMaxReceiveCount: getEnvAsInt("QUEUE_MAX_RECEIVE_COUNT", 5),
		QueueDedupWindow:     getEnvAsDuration("QUEUE_DEDUP_WINDOW", "5m"),

		// Sweep
		SweepInterval: getEnvAsDuration("SWEEP_INTERVAL", "60s"),
		SweepTimeout:  getEnvAsDuration("SWEEP_TIMEOUT", "30s"),

		// Rate limiting
		ReserveRateLimit: getEnvAsInt("RESERVE_RATE_LIMIT", 30),

		// Monitoring
		EnableMetrics: getEnvAsBool("ENABLE_METRICS", true),
		MetricsPort:   getEnv("METRICS_PORT", "9090"),
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseBool(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue string) time.Duration {
	valueStr := getEnv(key, defaultValue)
	if duration, err := time.ParseDuration(valueStr); err == nil {
		return duration
	}
	// If parsing fails, fall back to the default value.
	duration, _ := time.ParseDuration(defaultValue)
	return duration
}
