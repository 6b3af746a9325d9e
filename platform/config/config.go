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
	GetDatabaseDriver() string
	GetDatabaseURL() string
	GetMigrationsDir() string
}

// HTTPConfig provides settings for the HTTP server.
type HTTPConfig interface {
	GetHTTPAddr() string
	GetCORSAllowAll() bool
	GetCORSOrigins() []string
	GetCORSAllowCreds() bool
	GetWebhookRatePerMinute() int
}

// CatalogConfig provides the stage catalog definition source.
type CatalogConfig interface {
	GetStageCatalogPath() string
}

// SchedulerConfig provides settings for the reconciliation worker.
type SchedulerConfig interface {
	GetRedisURL() string
	GetRedisTLSInsecure() bool
	GetAsynqQueue() string
	GetAsynqConcurrency() int
	GetReconcileInterval() time.Duration
	GetReconcileBatchSize() int
}

// IngestConfig provides settings for the broker event consumer.
type IngestConfig interface {
	GetAMQPURL() string
	GetAMQPExchange() string
	GetAMQPQueue() string
	GetAMQPPrefetch() int
	GetRedisURL() string
	GetEventDedupeTTL() time.Duration
}

// TracingConfig provides OpenTelemetry exporter settings.
type TracingConfig interface {
	GetOTelEndpoint() string
	GetOTelServiceName() string
	GetEnv() string
}

// =============================================================================
// Main Config Struct
// =============================================================================

// Config holds all application configuration values.
type Config struct {
	Env                  string
	HTTPAddr             string
	DatabaseDriver       string
	DatabaseURL          string
	MigrationsDir        string
	CORSAllowAll         bool
	CORSOrigins          []string
	CORSAllowCreds       bool
	WebhookRatePerMinute int
	StageCatalogPath     string
	RedisURL             string
	RedisTLSInsecure     bool
	AsynqQueue           string
	AsynqConcurrency     int
	ReconcileInterval    time.Duration
	ReconcileBatchSize   int
	AMQPURL              string
	AMQPExchange         string
	AMQPQueue            string
	AMQPPrefetch         int
	EventDedupeTTL       time.Duration
	OTelEndpoint         string
	OTelServiceName      string
}

// =============================================================================
// Interface Implementations
// =============================================================================

// DatabaseConfig implementation
func (c *Config) GetDatabaseDriver() string { return c.DatabaseDriver }
func (c *Config) GetDatabaseURL() string    { return c.DatabaseURL }
func (c *Config) GetMigrationsDir() string  { return c.MigrationsDir }

// HTTPConfig implementation
func (c *Config) GetHTTPAddr() string          { return c.HTTPAddr }
func (c *Config) GetCORSAllowAll() bool        { return c.CORSAllowAll }
func (c *Config) GetCORSOrigins() []string     { return c.CORSOrigins }
func (c *Config) GetCORSAllowCreds() bool      { return c.CORSAllowCreds }
func (c *Config) GetWebhookRatePerMinute() int { return c.WebhookRatePerMinute }

// CatalogConfig implementation
func (c *Config) GetStageCatalogPath() string { return c.StageCatalogPath }

// SchedulerConfig implementation
func (c *Config) GetRedisURL() string                 { return c.RedisURL }
func (c *Config) GetRedisTLSInsecure() bool           { return c.RedisTLSInsecure }
func (c *Config) GetAsynqQueue() string               { return c.AsynqQueue }
func (c *Config) GetAsynqConcurrency() int            { return c.AsynqConcurrency }
func (c *Config) GetReconcileInterval() time.Duration { return c.ReconcileInterval }
func (c *Config) GetReconcileBatchSize() int          { return c.ReconcileBatchSize }

// IngestConfig implementation
func (c *Config) GetAMQPURL() string               { return c.AMQPURL }
func (c *Config) GetAMQPExchange() string          { return c.AMQPExchange }
func (c *Config) GetAMQPQueue() string             { return c.AMQPQueue }
func (c *Config) GetAMQPPrefetch() int             { return c.AMQPPrefetch }
func (c *Config) GetEventDedupeTTL() time.Duration { return c.EventDedupeTTL }

// TracingConfig implementation
func (c *Config) GetOTelEndpoint() string    { return c.OTelEndpoint }
func (c *Config) GetOTelServiceName() string { return c.OTelServiceName }
func (c *Config) GetEnv() string             { return c.Env }

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	_ = godotenv.Load()

	corsOrigins := splitCSV(getEnv("CORS_ORIGINS", "http://localhost:4200"))
	corsAllowAll := strings.EqualFold(getEnv("CORS_ALLOW_ALL", "false"), "true")
	if containsWildcard(corsOrigins) {
		corsAllowAll = true
	}

	cfg := &Config{
		Env:                  getEnv("APP_ENV", "development"),
		HTTPAddr:             getEnv("HTTP_ADDR", ":8080"),
		DatabaseDriver:       strings.ToLower(getEnv("DATABASE_DRIVER", DriverPostgres)),
		DatabaseURL:          getEnv("DATABASE_URL", ""),
		MigrationsDir:        getEnv("MIGRATIONS_DIR", "migrations"),
		CORSAllowAll:         corsAllowAll,
		CORSOrigins:          corsOrigins,
		CORSAllowCreds:       strings.EqualFold(getEnv("CORS_ALLOW_CREDENTIALS", "false"), "true"),
		WebhookRatePerMinute: mustInt(getEnv("WEBHOOK_RATE_PER_MINUTE", "120")),
		StageCatalogPath:     getEnv("STAGE_CATALOG_PATH", ""),
		RedisURL:             getEnv("REDIS_URL", ""),
		RedisTLSInsecure:     strings.EqualFold(getEnv("REDIS_TLS_INSECURE", "false"), "true"),
		AsynqQueue:           getEnv("ASYNQ_QUEUE", "stages"),
		AsynqConcurrency:     mustInt(getEnv("ASYNQ_CONCURRENCY", "5")),
		ReconcileInterval:    mustDuration(getEnv("RECONCILE_INTERVAL", "5m")),
		ReconcileBatchSize:   mustInt(getEnv("RECONCILE_BATCH_SIZE", "200")),
		AMQPURL:              getEnv("AMQP_URL", ""),
		AMQPExchange:         getEnv("AMQP_EXCHANGE", "permit.events"),
		AMQPQueue:            getEnv("AMQP_QUEUE", "stage-triggers"),
		AMQPPrefetch:         mustInt(getEnv("AMQP_PREFETCH", "10")),
		EventDedupeTTL:       mustDuration(getEnv("EVENT_DEDUPE_TTL", "24h")),
		OTelEndpoint:         getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
		OTelServiceName:      getEnv("OTEL_SERVICE_NAME", "permit-stages"),
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Database drivers understood by platform/db.
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

func (c *Config) validate() error {
	if c.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}
	if c.DatabaseDriver != DriverPostgres && c.DatabaseDriver != DriverSQLite {
		return fmt.Errorf("DATABASE_DRIVER must be %q or %q, got %q", DriverPostgres, DriverSQLite, c.DatabaseDriver)
	}
	if c.CORSAllowAll && c.CORSAllowCreds {
		return fmt.Errorf("CORS_ALLOW_CREDENTIALS cannot be true when CORS_ALLOW_ALL is true")
	}
	if c.ReconcileInterval <= 0 {
		return fmt.Errorf("RECONCILE_INTERVAL must be a positive duration")
	}
	return nil
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
	result, err := strconv.Atoi(strings.TrimSpace(value))
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

func containsWildcard(values []string) bool {
	for _, value := range values {
		if value == "*" {
			return true
		}
	}
	return false
}
