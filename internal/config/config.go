package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"
)

// ErrInvalid marks configuration that fails validation
var ErrInvalid = errors.New("invalid configuration")

// Config holds all application configuration
type Config struct {
	ServiceName string
	ServicePort int
	Database    DatabaseConfig
	RabbitMQ    RabbitMQConfig
	Remote      RemoteConfig
	Poll        PollConfig
	Anomaly     AnomalyConfig
	EntriesPath string
	Entries     []Entry
}

// DatabaseConfig holds database connection settings
type DatabaseConfig struct {
	URL      string
	MaxConns int32
}

// RabbitMQConfig holds RabbitMQ connection and queue settings
type RabbitMQConfig struct {
	URL              string
	ActionExchange   string
	ActionQueue      string
	ActionRoutingKey string
	EventExchange    string
	DLQQueue         string
	PrefetchCount    int
	EventBufferSize  int
}

// RemoteConfig holds settings of the utility-billing API client
type RemoteConfig struct {
	BaseURL string
	Timeout time.Duration
}

// PollConfig holds scheduler settings
type PollConfig struct {
	Tick time.Duration
}

// AnomalyConfig holds advisory checks used by indication calculation
type AnomalyConfig struct {
	DefaultMaxDifference float64
}

// Load loads configuration from environment variables and the entries file
func Load() (*Config, error) {
	cfg := &Config{
		ServiceName: getEnv("SERVICE_NAME", "utility-sync-worker"),
		ServicePort: getEnvAsInt("SERVICE_PORT", 8081),
		Database: DatabaseConfig{
			URL:      getEnv("DATABASE_URL", ""),
			MaxConns: int32(getEnvAsInt("DATABASE_MAX_CONNS", 10)),
		},
		RabbitMQ: RabbitMQConfig{
			URL:              getEnv("RABBITMQ_URL", ""),
			ActionExchange:   getEnv("RABBITMQ_ACTION_EXCHANGE", "utility-sync.actions.exchange"),
			ActionQueue:      getEnv("RABBITMQ_ACTION_QUEUE", "utility-sync.actions.queue"),
			ActionRoutingKey: getEnv("RABBITMQ_ACTION_ROUTING_KEY", "action.requested"),
			EventExchange:    getEnv("RABBITMQ_EVENT_EXCHANGE", "utility-sync.events.exchange"),
			DLQQueue:         getEnv("RABBITMQ_DLQ_QUEUE", "utility-sync.actions.dlq"),
			PrefetchCount:    getEnvAsInt("RABBITMQ_PREFETCH", 10),
			EventBufferSize:  getEnvAsInt("RABBITMQ_EVENT_BUFFER", 256),
		},
		Remote: RemoteConfig{
			BaseURL: getEnv("REMOTE_BASE_URL", "https://lk-api.tns-e.ru"),
			Timeout: time.Duration(getEnvAsInt("REMOTE_TIMEOUT_SECONDS", 30)) * time.Second,
		},
		Poll: PollConfig{
			Tick: time.Duration(getEnvAsInt("POLL_TICK_SECONDS", 30)) * time.Second,
		},
		Anomaly: AnomalyConfig{
			DefaultMaxDifference: getEnvAsFloat("ANOMALY_DEFAULT_MAX_DIFFERENCE", 0),
		},
		EntriesPath: getEnv("ENTRIES_CONFIG_PATH", "entries.toml"),
	}

	// Validate required fields
	if cfg.Database.URL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required but not set in environment variables")
	}
	if cfg.RabbitMQ.URL == "" {
		return nil, fmt.Errorf("RABBITMQ_URL is required but not set in environment variables")
	}
	if cfg.Poll.Tick <= 0 {
		return nil, fmt.Errorf("%w: POLL_TICK_SECONDS must be positive", ErrInvalid)
	}

	entries, err := LoadEntries(cfg.EntriesPath)
	if err != nil {
		return nil, err
	}
	cfg.Entries = entries

	return cfg, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return defaultValue
	}
	return value
}
