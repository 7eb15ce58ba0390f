// Package config provides the configuration structure for the podcast-service.
package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/book-expert/configurator"
	"github.com/book-expert/logger"
	"github.com/pelletier/go-toml/v2"
)

// Storage backends.
const (
	StorageBackendNATS   = "nats"
	StorageBackendMinio  = "minio"
	StorageBackendMemory = "memory"
)

// Database drivers.
const (
	DatabaseDriverSQLite   = "sqlite"
	DatabaseDriverPostgres = "postgres"
)

// Defaults applied when a value is missing from the TOML document.
const (
	defaultDialogueMaxChars    = 5000
	defaultFallbackMaxChars    = 4000
	defaultPollIntervalSeconds = 2
	defaultPollMaxAttempts     = 30
	defaultTimeoutSeconds      = 120
	defaultModelID             = "eleven_v3"
	defaultFallbackModelID     = "eleven_multilingual_v2"
	defaultStreamExpectedBytes = 5 * 1024 * 1024
	defaultRetentionDays       = 30
	defaultStaleFailedDays     = 7
	defaultSweepConcurrency    = 4
	defaultCleanupSchedule     = "0 3 * * *"
	defaultGenerateSubject     = "podcast.generate"
	defaultBucket              = "PODCAST_AUDIO"
	defaultKeyPrefix           = "podcasts"
	defaultHTTPAddr            = ":8080"
	defaultSQLiteDSN           = "file:podcasts.db?_pragma=foreign_keys(1)"
)

var (
	// ErrMissingSynthesisURL indicates that the synthesis service base URL is empty.
	ErrMissingSynthesisURL = errors.New("synthesis.base_url cannot be empty")
	// ErrUnknownStorageBackend indicates an unsupported storage backend.
	ErrUnknownStorageBackend = errors.New("unknown storage backend")
	// ErrUnknownDatabaseDriver indicates an unsupported database driver.
	ErrUnknownDatabaseDriver = errors.New("unknown database driver")
)

// SynthesisConfig holds the configuration for the dialogue/TTS service.
type SynthesisConfig struct {
	BaseURL             string  `toml:"base_url"`
	APIKey              string  `toml:"api_key"`
	ModelID             string  `toml:"model_id"`
	FallbackModelID     string  `toml:"fallback_model_id"`
	FallbackVoiceID     string  `toml:"fallback_voice_id"`
	TimeoutSeconds      int     `toml:"timeout_seconds"`
	PollIntervalSeconds int     `toml:"poll_interval_seconds"`
	PollMaxAttempts     int     `toml:"poll_max_attempts"`
	DialogueMaxChars    int     `toml:"dialogue_max_chars"`
	FallbackMaxChars    int     `toml:"fallback_max_chars"`
	StreamExpectedBytes int64   `toml:"stream_expected_bytes"`
	RequestsPerSecond   float64 `toml:"requests_per_second"`
}

// StorageConfig holds the object store configuration.
type StorageConfig struct {
	Backend       string `toml:"backend"`
	Bucket        string `toml:"bucket"`
	KeyPrefix     string `toml:"key_prefix"`
	PublicBaseURL string `toml:"public_base_url"`
	RetentionDays int    `toml:"retention_days"`
	Endpoint      string `toml:"endpoint"`
	AccessKey     string `toml:"access_key"`
	SecretKey     string `toml:"secret_key"`
	Region        string `toml:"region"`
	UseSSL        bool   `toml:"use_ssl"`
}

// NATSConfig holds the configuration for NATS.
type NATSConfig struct {
	URL             string `toml:"url"`
	GenerateSubject string `toml:"generate_subject"`
}

// DatabaseConfig holds the relational store configuration.
type DatabaseConfig struct {
	Driver       string `toml:"driver"`
	DSN          string `toml:"dsn"`
	MaxOpenConns int    `toml:"max_open_conns"`
}

// CleanupConfig holds the lifecycle sweep configuration.
type CleanupConfig struct {
	Enabled          bool   `toml:"enabled"`
	Schedule         string `toml:"schedule"`
	StaleFailedDays  int    `toml:"stale_failed_days"`
	SweepConcurrency int    `toml:"sweep_concurrency"`
}

// HTTPConfig holds the admin HTTP server configuration.
type HTTPConfig struct {
	Addr string `toml:"addr"`
}

// PathsConfig holds the configuration for file paths.
type PathsConfig struct {
	BaseLogsDir string `toml:"base_logs_dir"`
}

// Config is the root configuration structure.
type Config struct {
	Synthesis SynthesisConfig `toml:"synthesis"`
	Storage   StorageConfig   `toml:"storage"`
	NATS      NATSConfig      `toml:"nats"`
	Database  DatabaseConfig  `toml:"database"`
	Cleanup   CleanupConfig   `toml:"cleanup"`
	HTTP      HTTPConfig      `toml:"http"`
	Paths     PathsConfig     `toml:"paths"`
}

// Load loads the configuration for the podcast-service.
func Load(log *logger.Logger) (*Config, error) {
	var cfg Config

	err := configurator.Load(&cfg, log)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration from configurator: %w", err)
	}

	cfg.ApplyDefaults()

	validateErr := cfg.Validate()
	if validateErr != nil {
		return nil, validateErr
	}

	return &cfg, nil
}

// Parse decodes a TOML document, applies defaults and validates the result.
func Parse(data []byte) (*Config, error) {
	var cfg Config

	err := toml.Unmarshal(data, &cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to parse configuration: %w", err)
	}

	cfg.ApplyDefaults()

	validateErr := cfg.Validate()
	if validateErr != nil {
		return nil, validateErr
	}

	return &cfg, nil
}

// ApplyDefaults fills zero values with the service defaults.
func (c *Config) ApplyDefaults() {
	setIntDefault(&c.Synthesis.TimeoutSeconds, defaultTimeoutSeconds)
	setIntDefault(&c.Synthesis.PollIntervalSeconds, defaultPollIntervalSeconds)
	setIntDefault(&c.Synthesis.PollMaxAttempts, defaultPollMaxAttempts)
	setIntDefault(&c.Synthesis.DialogueMaxChars, defaultDialogueMaxChars)
	setIntDefault(&c.Synthesis.FallbackMaxChars, defaultFallbackMaxChars)
	setStringDefault(&c.Synthesis.ModelID, defaultModelID)
	setStringDefault(&c.Synthesis.FallbackModelID, defaultFallbackModelID)

	if c.Synthesis.StreamExpectedBytes <= 0 {
		c.Synthesis.StreamExpectedBytes = defaultStreamExpectedBytes
	}

	setStringDefault(&c.Storage.Backend, StorageBackendNATS)
	setStringDefault(&c.Storage.Bucket, defaultBucket)
	setStringDefault(&c.Storage.KeyPrefix, defaultKeyPrefix)
	setIntDefault(&c.Storage.RetentionDays, defaultRetentionDays)

	setStringDefault(&c.NATS.GenerateSubject, defaultGenerateSubject)

	setStringDefault(&c.Database.Driver, DatabaseDriverSQLite)

	if c.Database.Driver == DatabaseDriverSQLite {
		setStringDefault(&c.Database.DSN, defaultSQLiteDSN)
	}

	setStringDefault(&c.Cleanup.Schedule, defaultCleanupSchedule)
	setIntDefault(&c.Cleanup.StaleFailedDays, defaultStaleFailedDays)
	setIntDefault(&c.Cleanup.SweepConcurrency, defaultSweepConcurrency)

	setStringDefault(&c.HTTP.Addr, defaultHTTPAddr)
}

// Validate checks the values that have no sensible default.
func (c *Config) Validate() error {
	if c.Synthesis.BaseURL == "" {
		return ErrMissingSynthesisURL
	}

	switch c.Storage.Backend {
	case StorageBackendNATS, StorageBackendMinio, StorageBackendMemory:
	default:
		return fmt.Errorf("%w: %q", ErrUnknownStorageBackend, c.Storage.Backend)
	}

	switch c.Database.Driver {
	case DatabaseDriverSQLite, DatabaseDriverPostgres:
	default:
		return fmt.Errorf("%w: %q", ErrUnknownDatabaseDriver, c.Database.Driver)
	}

	return nil
}

// PollInterval returns the dialogue poll interval as a duration.
func (s SynthesisConfig) PollInterval() time.Duration {
	return time.Duration(s.PollIntervalSeconds) * time.Second
}

// Timeout returns the per-request HTTP timeout as a duration.
func (s SynthesisConfig) Timeout() time.Duration {
	return time.Duration(s.TimeoutSeconds) * time.Second
}

// Retention returns how long a processed podcast is kept.
func (s StorageConfig) Retention() time.Duration {
	return time.Duration(s.RetentionDays) * 24 * time.Hour
}

// StaleFailedAfter returns the grace period for podcasts that never finished processing.
func (c CleanupConfig) StaleFailedAfter() time.Duration {
	return time.Duration(c.StaleFailedDays) * 24 * time.Hour
}

func setIntDefault(target *int, value int) {
	if *target <= 0 {
		*target = value
	}
}

func setStringDefault(target *string, value string) {
	if *target == "" {
		*target = value
	}
}
