// Package config loads a site's runtime configuration from the environment,
// with an optional .env file for local development rather than a dedicated
// config file format.
package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// LoadDotEnv loads a .env file at path if present; a missing file is not an
// error, matching local-development convenience without requiring it in
// production.
func LoadDotEnv(path string) {
	_ = godotenv.Load(path)
}

// EnvOrDefault returns the environment variable at key, or defaultValue if
// unset or empty.
func EnvOrDefault(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}

// EnvDurationOrDefault parses the environment variable at key as a
// time.Duration, or returns defaultValue if unset or unparseable.
func EnvDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	raw := os.Getenv(key)
	if raw == "" {
		return defaultValue
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return defaultValue
	}
	return d
}

// EnvIntOrDefault parses the environment variable at key as an int, or
// returns defaultValue if unset or unparseable.
func EnvIntOrDefault(key string, defaultValue int) int {
	raw := os.Getenv(key)
	if raw == "" {
		return defaultValue
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return defaultValue
	}
	return v
}

// SiteConfig holds everything one site process needs to start (§6, §5).
type SiteConfig struct {
	// ListenAddr is the HTTP listen address, e.g. ":8443".
	ListenAddr string
	// DSN is the Postgres connection string; empty selects the in-memory
	// store.
	DSN string
	// SiteID is this process's own site:<ns>:<name> identifier.
	SiteID string
	// MaxReplicationLag bounds how stale a Replica may advertise itself as
	// (§4.3's valid_until).
	MaxReplicationLag time.Duration
	// MaxPlans bounds WorkflowPlanner's Cartesian-product enumeration (§4.6).
	MaxPlans int
	// ScanInterval is the JobRun step-scheduling backoff (§4.7).
	ScanInterval time.Duration
	// PollInterval is the orchestrator's is_done polling interval (§4.7).
	PollInterval time.Duration
	// LogLevel and LogFormat configure internal/logging.
	LogLevel  string
	LogFormat string
}

// FromEnv builds a SiteConfig from environment variables, applying the
// defaults the core spec names explicitly (500ms scan, 5s poll) plus this
// module's own 1000-plan enumeration cap.
func FromEnv() SiteConfig {
	return SiteConfig{
		ListenAddr:        EnvOrDefault("LISTEN_ADDR", ":8443"),
		DSN:               os.Getenv("DATABASE_DSN"),
		SiteID:            EnvOrDefault("SITE_ID", ""),
		MaxReplicationLag: EnvDurationOrDefault("MAX_REPLICATION_LAG", 30*time.Second),
		MaxPlans:          EnvIntOrDefault("MAX_PLANS", 1000),
		ScanInterval:      EnvDurationOrDefault("SCAN_INTERVAL", 500*time.Millisecond),
		PollInterval:      EnvDurationOrDefault("POLL_INTERVAL", 5*time.Second),
		LogLevel:          EnvOrDefault("LOG_LEVEL", "info"),
		LogFormat:         EnvOrDefault("LOG_FORMAT", "json"),
	}
}
