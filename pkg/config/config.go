package config

import (
	"os"
	"strconv"
	"time"
)

// Config holds process-wide configuration for the OMS core, loaded from
// environment variables. It carries no per-tenant or per-branch policy —
// those are supplied to components explicitly by the coordinator.
type Config struct {
	LogLevel string

	DocStoreDSN  string // document store (versions/branches/outbox/consumer state)
	LockRedisURL string // lock store + idempotency/ETag cache backend
	EventBusURL  string // NATS URL for outbox publication

	DefaultLockTTL     time.Duration
	DefaultWaitTimeout time.Duration
	OutboxMaxAttempts  int
	CompactionMinChain int

	LockRetryRPM   int // lock-acquire retry polls allowed per contested key per minute
	LockRetryBurst int

	OTLPEndpoint string
	Environment  string
}

// Load reads configuration from the environment, applying the same defaults
// the core uses in local/dev deployments.
func Load() *Config {
	return &Config{
		LogLevel:     getEnv("OMS_LOG_LEVEL", "INFO"),
		DocStoreDSN:  getEnv("OMS_DOCSTORE_DSN", "postgres://oms@localhost:5432/oms?sslmode=disable"),
		LockRedisURL: getEnv("OMS_LOCK_REDIS_URL", "redis://localhost:6379/0"),
		EventBusURL:  getEnv("OMS_EVENT_BUS_URL", "nats://localhost:4222"),

		DefaultLockTTL:     getEnvDuration("OMS_LOCK_TTL", 300*time.Second),
		DefaultWaitTimeout: getEnvDuration("OMS_LOCK_WAIT_TIMEOUT", 30*time.Second),
		OutboxMaxAttempts:  getEnvInt("OMS_OUTBOX_MAX_ATTEMPTS", 8),
		CompactionMinChain: getEnvInt("OMS_COMPACTION_MIN_CHAIN", 100),

		LockRetryRPM:   getEnvInt("OMS_LOCK_RETRY_RPM", 600),
		LockRetryBurst: getEnvInt("OMS_LOCK_RETRY_BURST", 20),

		OTLPEndpoint: getEnv("OMS_OTLP_ENDPOINT", "localhost:4317"),
		Environment:  getEnv("OMS_ENVIRONMENT", "development"),
	}
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}
