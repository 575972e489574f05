// Package config loads the control plane's runtime configuration from
// environment variables, optionally seeded from a .env file, using a
// getEnv/getIntEnv/getBoolEnv + godotenv idiom.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Environment is the deployment environment tag, used only for log/file defaults.
type Environment string

const (
	Development Environment = "development"
	Testing     Environment = "testing"
	Production  Environment = "production"
)

// Config holds every tunable the control plane reads at startup.
type Config struct {
	Env Environment

	// Storage
	StorageEngine  string // "sqlite" or "postgres"
	SQLitePath     string
	SQLiteReadConns int
	PostgresDSN    string

	// Scheduler
	SchedulerDockerHost   string
	SchedulerPruneInterval time.Duration

	// Event bus
	EventRetention     time.Duration
	EventPruneInterval time.Duration
	EventBroadcastCap  int

	// Run orchestrator
	GlobalParallelism   int64
	RunObjectExpiryDepth int64
	DependencyPollInterval time.Duration
	LogRetention        time.Duration
	SweepInterval       time.Duration

	// Secret store
	SecretMasterKey string

	// HTTP API
	ListenAddress   string
	RateLimitRPS    float64
	RateLimitBurst  int

	// Logging
	LogLevel  string
	LogFormat string
	LogOutput string

	// Auth
	BootstrapToken string

	// Extension host
	ExtensionTLSCert          string
	ExtensionTLSKey           string
	ExtensionLogLevel         string
	ExtensionNetworkingPort   int
	ExtensionHealthCheckTries int
	ExtensionHealthCheckWait  time.Duration
}

// Load reads GOFER_ENV (default "development"), optionally loads a matching
// .env file, then fills Config from the process environment.
func Load() (*Config, error) {
	envStr := getEnv("GOFER_ENV", string(Development))
	env := Environment(envStr)

	configFile := fmt.Sprintf("%s.env", envStr)
	if err := godotenv.Load(configFile); err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			fmt.Printf("warning: could not load %s: %v\n", configFile, err)
		}
	}

	cfg := &Config{Env: env}
	if err := cfg.loadFromEnv(); err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	return cfg, nil
}

func (c *Config) loadFromEnv() error {
	c.StorageEngine = strings.ToLower(getEnv("GOFER_STORAGE_ENGINE", "sqlite"))
	c.SQLitePath = getEnv("GOFER_SQLITE_PATH", "gofer.db")
	c.SQLiteReadConns = getIntEnv("GOFER_SQLITE_READ_CONNS", 8)
	c.PostgresDSN = getEnv("GOFER_POSTGRES_DSN", "")

	c.SchedulerDockerHost = getEnv("GOFER_DOCKER_HOST", "")
	pruneSecs := getIntEnv("GOFER_SCHEDULER_PRUNE_INTERVAL_SECONDS", 300)
	c.SchedulerPruneInterval = time.Duration(pruneSecs) * time.Second

	retentionSecs := getIntEnv("GOFER_EVENT_RETENTION_SECONDS", 7*24*3600)
	c.EventRetention = time.Duration(retentionSecs) * time.Second
	eventPruneSecs := getIntEnv("GOFER_EVENT_PRUNE_INTERVAL_SECONDS", 60)
	c.EventPruneInterval = time.Duration(eventPruneSecs) * time.Second
	c.EventBroadcastCap = getIntEnv("GOFER_EVENT_BROADCAST_CAPACITY", 100)

	c.GlobalParallelism = int64(getIntEnv("GOFER_RUN_PARALLELISM_LIMIT", 0))
	c.RunObjectExpiryDepth = int64(getIntEnv("GOFER_RUN_OBJECT_EXPIRY_DEPTH", 20))
	pollMs := getIntEnv("GOFER_DEPENDENCY_POLL_INTERVAL_MS", 500)
	c.DependencyPollInterval = time.Duration(pollMs) * time.Millisecond

	logRetentionSecs := getIntEnv("GOFER_LOG_RETENTION_SECONDS", 7*24*3600)
	c.LogRetention = time.Duration(logRetentionSecs) * time.Second
	sweepSecs := getIntEnv("GOFER_SWEEP_INTERVAL_SECONDS", 300)
	c.SweepInterval = time.Duration(sweepSecs) * time.Second

	c.SecretMasterKey = getEnv("GOFER_SECRET_MASTER_KEY", "")

	c.ListenAddress = getEnv("GOFER_LISTEN_ADDRESS", ":8080")
	rps, err := strconv.ParseFloat(getEnv("GOFER_RATE_LIMIT_RPS", "20"), 64)
	if err != nil {
		return fmt.Errorf("invalid GOFER_RATE_LIMIT_RPS: %w", err)
	}
	c.RateLimitRPS = rps
	c.RateLimitBurst = getIntEnv("GOFER_RATE_LIMIT_BURST", 40)

	c.LogLevel = getEnv("GOFER_LOG_LEVEL", "info")
	c.LogFormat = getEnv("GOFER_LOG_FORMAT", "text")
	c.LogOutput = getEnv("GOFER_LOG_OUTPUT", "stdout")

	c.BootstrapToken = getEnv("GOFER_BOOTSTRAP_TOKEN", "")

	c.ExtensionTLSCert = getEnv("GOFER_EXTENSION_TLS_CERT", "")
	c.ExtensionTLSKey = getEnv("GOFER_EXTENSION_TLS_KEY", "")
	c.ExtensionLogLevel = getEnv("GOFER_EXTENSION_LOG_LEVEL", "info")
	c.ExtensionNetworkingPort = getIntEnv("GOFER_EXTENSION_NETWORKING_PORT", 8811)
	c.ExtensionHealthCheckTries = getIntEnv("GOFER_EXTENSION_HEALTHCHECK_TRIES", 15)
	healthWaitMs := getIntEnv("GOFER_EXTENSION_HEALTHCHECK_WAIT_MS", 500)
	c.ExtensionHealthCheckWait = time.Duration(healthWaitMs) * time.Millisecond

	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getBoolEnv(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}
