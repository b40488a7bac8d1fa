package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration
type Config struct {
	ServiceName   string
	HTTPAddr      string
	PublicBaseURL string
	LogLevel      string
	Database      DatabaseConfig
	RabbitMQ      RabbitMQConfig
	MQTT          MQTTConfig
	Notifier      NotifierConfig
	Presence      PresenceConfig
	Route         RouteConfig
	ArmLimits     ArmLimitsConfig
	Ingest        IngestConfig
}

// DatabaseConfig holds database connection settings
type DatabaseConfig struct {
	URL         string
	StoreDriver string // postgres or memory
}

// RabbitMQConfig holds RabbitMQ connection, ingest queue and notify exchange settings
type RabbitMQConfig struct {
	URL              string
	DialRetries      int
	IngestEnabled    bool
	IngestExchange   string
	IngestQueue      string
	IngestRoutingKey string
	DLQQueue         string
	PrefetchCount    int
	NotifyExchange   string
	NotifyRoutingKey string
}

// MQTTConfig holds MQTT broker settings for the notification sink
type MQTTConfig struct {
	BrokerURL   string
	ClientID    string
	Username    string
	Password    string
	TopicPrefix string
	QoS         int
}

// NotifierConfig holds notification delivery settings
type NotifierConfig struct {
	Kind              string // amqp, mqtt or log
	Timeout           time.Duration
	QueueSize         int
	Workers           int
	DefaultThreadID   int64 // 0 leaves the thread unset
	ArmReportThreadID int64
}

// PresenceConfig holds offline thresholds and sweep settings
type PresenceConfig struct {
	InactiveMinutes  int
	ProlongedMinutes int
	SweepEnabled     bool
	SweepInterval    time.Duration
	SweepRetries     int
	SweepConcurrency int
	PowerOnMinVolt   float64
}

// RouteConfig holds reconstruction and status settings
type RouteConfig struct {
	MaxPoints      int
	LastN          int
	FallbackWindow time.Duration
	LostAfter      time.Duration
	FinishedAfter  time.Duration
}

// ArmLimitsConfig holds the per-flight ARM usage limits
type ArmLimitsConfig struct {
	Count    int
	ArmSec   float64
	QStabSec float64
}

// IngestConfig holds request limits for ingestion
type IngestConfig struct {
	MaxBodyBytes int
	// MaxDecodedBytes caps a body after decompression
	MaxDecodedBytes int64
	ClockSkew       time.Duration
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	cfg := &Config{
		ServiceName:   getEnv("SERVICE_NAME", "fleetwatch"),
		HTTPAddr:      getEnv("HTTP_ADDR", ":8080"),
		PublicBaseURL: getEnv("PUBLIC_BASE_URL", "http://127.0.0.1:8080"),
		LogLevel:      getEnv("LOG_LEVEL", "info"),
		Database: DatabaseConfig{
			URL:         getEnv("DATABASE_URL", ""),
			StoreDriver: strings.ToLower(getEnv("STORE_DRIVER", "postgres")),
		},
		RabbitMQ: RabbitMQConfig{
			URL:              getEnv("RABBITMQ_URL", ""),
			DialRetries:      getEnvAsInt("RABBITMQ_DIAL_RETRIES", 5),
			IngestEnabled:    getEnvAsBool("RABBITMQ_INGEST_ENABLED", false),
			IngestExchange:   getEnv("RABBITMQ_INGEST_EXCHANGE", "fleetwatch.telemetry.exchange"),
			IngestQueue:      getEnv("RABBITMQ_INGEST_QUEUE", "fleetwatch.telemetry.queue"),
			IngestRoutingKey: getEnv("RABBITMQ_INGEST_ROUTING_KEY", "telemetry.raw"),
			DLQQueue:         getEnv("RABBITMQ_DLQ_QUEUE", "fleetwatch.telemetry.dlq"),
			PrefetchCount:    getEnvAsInt("RABBITMQ_PREFETCH", 10),
			NotifyExchange:   getEnv("RABBITMQ_NOTIFY_EXCHANGE", "fleetwatch.notify.exchange"),
			NotifyRoutingKey: getEnv("RABBITMQ_NOTIFY_ROUTING_KEY", "notify.thread"),
		},
		MQTT: MQTTConfig{
			BrokerURL:   getEnv("MQTT_BROKER_URL", ""),
			ClientID:    getEnv("MQTT_CLIENT_ID", "fleetwatch"),
			Username:    getEnv("MQTT_USERNAME", ""),
			Password:    getEnv("MQTT_PASSWORD", ""),
			TopicPrefix: getEnv("MQTT_TOPIC_PREFIX", "fleetwatch/notify"),
			QoS:         getEnvAsInt("MQTT_QOS", 1),
		},
		Notifier: NotifierConfig{
			Kind:              strings.ToLower(getEnv("NOTIFIER_KIND", "log")),
			Timeout:           getEnvAsDuration("NOTIFIER_TIMEOUT", 10*time.Second),
			QueueSize:         getEnvAsInt("NOTIFIER_QUEUE_SIZE", 256),
			Workers:           getEnvAsInt("NOTIFIER_WORKERS", 2),
			DefaultThreadID:   getEnvAsInt64("NOTIFIER_DEFAULT_THREAD_ID", 0),
			ArmReportThreadID: getEnvAsInt64("ARM_REPORT_THREAD_ID", 405),
		},
		Presence: PresenceConfig{
			InactiveMinutes:  getEnvAsInt("OFFLINE_INACTIVE_MINUTES", 3),
			ProlongedMinutes: getEnvAsInt("OFFLINE_PROLONGED_MINUTES", 10),
			SweepEnabled:     getEnvAsBool("SWEEP_ENABLED", true),
			SweepInterval:    getEnvAsDuration("SWEEP_INTERVAL", time.Minute),
			SweepRetries:     getEnvAsInt("SWEEP_RETRIES", 3),
			SweepConcurrency: getEnvAsInt("SWEEP_CONCURRENCY", 8),
			PowerOnMinVolt:   getEnvAsFloat("POWER_ON_MIN_VOLT", 10.0),
		},
		Route: RouteConfig{
			MaxPoints:      getEnvAsInt("ROUTE_MAX_POINTS", 200),
			LastN:          getEnvAsInt("ROUTE_LAST_N", 200),
			FallbackWindow: getEnvAsDuration("ROUTE_FALLBACK_WINDOW", 30*time.Minute),
			LostAfter:      getEnvAsDuration("ROUTE_LOST_AFTER", 60*time.Second),
			FinishedAfter:  getEnvAsDuration("ROUTE_FINISHED_AFTER", 180*time.Second),
		},
		ArmLimits: ArmLimitsConfig{
			Count:    getEnvAsInt("ARM_LIMIT_COUNT", 10),
			ArmSec:   getEnvAsFloat("ARM_LIMIT_TIME_S", 350),
			QStabSec: getEnvAsFloat("QSTAB_LIMIT_TIME_S", 30),
		},
		Ingest: IngestConfig{
			MaxBodyBytes:    getEnvAsInt("INGEST_MAX_BODY_BYTES", 10<<20),
			MaxDecodedBytes: getEnvAsInt64("INGEST_MAX_DECODED_BYTES", 64<<20),
			ClockSkew:       getEnvAsDuration("INGEST_CLOCK_SKEW", 10*time.Minute),
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	switch c.Database.StoreDriver {
	case "postgres":
		if c.Database.URL == "" {
			return fmt.Errorf("DATABASE_URL is required but not set in environment variables")
		}
	case "memory":
	default:
		return fmt.Errorf("STORE_DRIVER must be postgres or memory, got %q", c.Database.StoreDriver)
	}

	switch c.Notifier.Kind {
	case "amqp":
		if c.RabbitMQ.URL == "" {
			return fmt.Errorf("RABBITMQ_URL is required when NOTIFIER_KIND=amqp")
		}
	case "mqtt":
		if c.MQTT.BrokerURL == "" {
			return fmt.Errorf("MQTT_BROKER_URL is required when NOTIFIER_KIND=mqtt")
		}
	case "log":
	default:
		return fmt.Errorf("NOTIFIER_KIND must be amqp, mqtt or log, got %q", c.Notifier.Kind)
	}

	if c.RabbitMQ.IngestEnabled && c.RabbitMQ.URL == "" {
		return fmt.Errorf("RABBITMQ_URL is required when RABBITMQ_INGEST_ENABLED=true")
	}
	if c.Presence.InactiveMinutes <= 0 || c.Presence.ProlongedMinutes <= 0 {
		return fmt.Errorf("OFFLINE_INACTIVE_MINUTES and OFFLINE_PROLONGED_MINUTES must be positive")
	}
	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		return fmt.Errorf("MQTT_QOS must be 0, 1 or 2, got %d", c.MQTT.QoS)
	}
	return nil
}

// UsesRabbitMQ reports whether any component needs a broker connection
func (c *Config) UsesRabbitMQ() bool {
	return c.Notifier.Kind == "amqp" || c.RabbitMQ.IngestEnabled
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

func getEnvAsInt64(key string, defaultValue int64) int64 {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseInt(valueStr, 10, 64)
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

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsDuration accepts Go durations ("90s") or bare seconds ("90")
func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	if secs, err := strconv.Atoi(valueStr); err == nil {
		return time.Duration(secs) * time.Second
	}
	value, err := time.ParseDuration(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}
