// Package config provides configuration management for specsync runs.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"specsync/pkg/domain"
)

// Configuration validation errors.
var (
	ErrInvalidConcurrency       = errors.New("sync.concurrency must be at least 1")
	ErrInvalidExtractorTimeout  = errors.New("sync.extractor_timeout_sec must be at least 1")
	ErrInvalidMaxAttempts       = errors.New("sync.retry.max_attempts must be at least 1")
	ErrInvalidInitialDelay      = errors.New("sync.retry.initial_delay_ms must be non-negative")
	ErrInvalidBackoffMultiplier = errors.New("sync.retry.backoff_multiplier must be >= 1.0")
	ErrInvalidStorageDriver     = errors.New("storage.driver must be one of: fs, memory, s3, sqlite, postgres, redis")
	ErrMissingFSRoot            = errors.New("storage.fs.root is required for the fs driver")
	ErrMissingS3Bucket          = errors.New("storage.s3.bucket is required for the s3 driver")
	ErrMissingRedisURL          = errors.New("storage.redis.url is required for the redis driver")
	ErrInvalidRederive          = errors.New("merge.rederive names a field that is not curator-owned")
	ErrInvalidReportFormat      = errors.New("report.format must be 'markdown' or 'json'")
	ErrMissingKafkaTopic        = errors.New("report.kafka.topic is required when brokers are set")
	ErrInvalidMetrics           = errors.New("observability.metrics must be one of: none, expvar, prometheus")
	ErrInvalidTracing           = errors.New("observability.tracing must be one of: none, json, otel")
	ErrInvalidLogLevel          = errors.New("logging.level must be one of: debug, info, warn, error")
	ErrInvalidLogFormat         = errors.New("logging.format must be 'text' or 'json'")
)

// Storage drivers.
const (
	DriverFS       = "fs"
	DriverMemory   = "memory"
	DriverS3       = "s3"
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
	DriverRedis    = "redis"
)

// Config represents the complete specsync configuration.
type Config struct {
	Project       ProjectConfig       `yaml:"project"`
	Sync          SyncConfig          `yaml:"sync"`
	Storage       StorageConfig       `yaml:"storage"`
	Merge         MergeConfig         `yaml:"merge"`
	Report        ReportConfig        `yaml:"report"`
	Observability ObservabilityConfig `yaml:"observability"`
	Logging       LoggingConfig       `yaml:"logging"`
}

// ProjectConfig locates the scanned project and the extractor output.
type ProjectConfig struct {
	Root     string `yaml:"root"`
	FactsDir string `yaml:"facts_dir"`
	// IndexFiles enables soft file-reference checks against the project tree.
	IndexFiles bool `yaml:"index_files"`
}

// SyncConfig controls the run orchestrator.
type SyncConfig struct {
	Domains             []string          `yaml:"domains"`
	Concurrency         int               `yaml:"concurrency"`
	ExtractorTimeoutSec int               `yaml:"extractor_timeout_sec"`
	Retry               RetryPolicy       `yaml:"retry"`
	ExtractorOptions    map[string]string `yaml:"extractor_options"`
}

// RetryPolicy defines retry behavior for compare-and-swap conflicts.
type RetryPolicy struct {
	MaxAttempts       int     `yaml:"max_attempts"`
	InitialDelayMs    int     `yaml:"initial_delay_ms"`
	MaxDelayMs        int     `yaml:"max_delay_ms"`
	BackoffMultiplier float64 `yaml:"backoff_multiplier"`
}

// StorageConfig selects and configures the document store.
type StorageConfig struct {
	Driver   string         `yaml:"driver"`
	FS       FSConfig       `yaml:"fs"`
	SQLite   SQLiteConfig   `yaml:"sqlite"`
	Postgres PostgresConfig `yaml:"postgres"`
	Redis    RedisConfig    `yaml:"redis"`
	S3       S3Config       `yaml:"s3"`
}

// FSConfig configures the filesystem blob store.
type FSConfig struct {
	Root   string `yaml:"root"`
	Prefix string `yaml:"prefix"`
}

// SQLiteConfig configures the embedded SQLite store.
type SQLiteConfig struct {
	Path string `yaml:"path"`
}

// PostgresConfig configures the Postgres store.
type PostgresConfig struct {
	DSN string `yaml:"dsn"`
}

// RedisConfig configures the Redis store.
type RedisConfig struct {
	URL       string `yaml:"url"`
	KeyPrefix string `yaml:"key_prefix"`
}

// S3Config configures the S3 blob store.
type S3Config struct {
	Bucket    string `yaml:"bucket"`
	Region    string `yaml:"region"`
	Endpoint  string `yaml:"endpoint"`
	Prefix    string `yaml:"prefix"`
	PathStyle bool   `yaml:"path_style"`
}

// MergeConfig holds the curator re-derivation policy: domain -> fields the
// extractor is allowed to overwrite.
type MergeConfig struct {
	Rederive map[string][]string `yaml:"rederive"`
}

// ReportConfig controls run report rendering and publication.
type ReportConfig struct {
	Format string      `yaml:"format"`
	Output string      `yaml:"output"`
	Kafka  KafkaConfig `yaml:"kafka"`
}

// KafkaConfig configures the optional Kafka report sink.
type KafkaConfig struct {
	Brokers []string `yaml:"brokers"`
	Topic   string   `yaml:"topic"`
}

// ObservabilityConfig selects the metrics and tracing backends.
type ObservabilityConfig struct {
	Metrics     string `yaml:"metrics"`
	MetricsAddr string `yaml:"metrics_addr"`
	Tracing     string `yaml:"tracing"`
}

// LoggingConfig defines logging behavior.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Default returns a configuration that runs every domain against a local fs store.
func Default() Config {
	return Config{
		Project: ProjectConfig{Root: ".", FactsDir: "facts"},
		Sync: SyncConfig{
			Concurrency:         4,
			ExtractorTimeoutSec: 30,
			Retry: RetryPolicy{
				MaxAttempts:       3,
				InitialDelayMs:    50,
				MaxDelayMs:        2000,
				BackoffMultiplier: 2.0,
			},
		},
		Storage: StorageConfig{
			Driver: DriverFS,
			FS:     FSConfig{Root: ".specsync"},
			SQLite: SQLiteConfig{Path: "specsync.db"},
			S3:     S3Config{Region: "us-east-1"},
		},
		Report:        ReportConfig{Format: "markdown"},
		Observability: ObservabilityConfig{Metrics: "none", Tracing: "none"},
		Logging:       LoggingConfig{Level: "info", Format: "text"},
	}
}

// LoadConfig loads configuration from a YAML file layered over Default, then
// applies SPECSYNC_* environment overrides. An empty path skips the file.
func LoadConfig(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse YAML: %w", err)
		}
	}
	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return &cfg, nil
}

// ApplyEnv overrides storage and logging settings from the environment.
//
//	SPECSYNC_STORAGE_DRIVER: fs|memory|s3|sqlite|postgres|redis
//	SPECSYNC_FS_ROOT, SPECSYNC_SQLITE_PATH, SPECSYNC_POSTGRES_DSN, SPECSYNC_REDIS_URL
//	SPECSYNC_S3_BUCKET, SPECSYNC_S3_REGION, SPECSYNC_S3_ENDPOINT, SPECSYNC_S3_PATH_STYLE
//	SPECSYNC_LOG_LEVEL
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	str := map[string]*string{
		"SPECSYNC_STORAGE_DRIVER": &c.Storage.Driver,
		"SPECSYNC_FS_ROOT":        &c.Storage.FS.Root,
		"SPECSYNC_SQLITE_PATH":    &c.Storage.SQLite.Path,
		"SPECSYNC_POSTGRES_DSN":   &c.Storage.Postgres.DSN,
		"SPECSYNC_REDIS_URL":      &c.Storage.Redis.URL,
		"SPECSYNC_S3_BUCKET":      &c.Storage.S3.Bucket,
		"SPECSYNC_S3_REGION":      &c.Storage.S3.Region,
		"SPECSYNC_S3_ENDPOINT":    &c.Storage.S3.Endpoint,
		"SPECSYNC_LOG_LEVEL":      &c.Logging.Level,
	}
	for key, dst := range str {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	if v, ok := lookup("SPECSYNC_S3_PATH_STYLE"); ok && v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("SPECSYNC_S3_PATH_STYLE: %w", err)
		}
		c.Storage.S3.PathStyle = b
	}
	return nil
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if _, err := c.Domains(); err != nil {
		return fmt.Errorf("sync.domains: %w", err)
	}
	if c.Sync.Concurrency < 1 {
		return ErrInvalidConcurrency
	}
	if c.Sync.ExtractorTimeoutSec < 1 {
		return ErrInvalidExtractorTimeout
	}

	// Validate retry policy
	if c.Sync.Retry.MaxAttempts < 1 {
		return ErrInvalidMaxAttempts
	}
	if c.Sync.Retry.InitialDelayMs < 0 {
		return ErrInvalidInitialDelay
	}
	if c.Sync.Retry.BackoffMultiplier < 1.0 {
		return ErrInvalidBackoffMultiplier
	}

	switch c.Storage.Driver {
	case DriverFS:
		if c.Storage.FS.Root == "" {
			return ErrMissingFSRoot
		}
	case DriverS3:
		if c.Storage.S3.Bucket == "" {
			return ErrMissingS3Bucket
		}
	case DriverRedis:
		if c.Storage.Redis.URL == "" {
			return ErrMissingRedisURL
		}
	case DriverMemory, DriverSQLite, DriverPostgres:
	default:
		return ErrInvalidStorageDriver
	}

	for name, fields := range c.Merge.Rederive {
		d := domain.Domain(name)
		if !d.Valid() {
			return fmt.Errorf("merge.rederive: %w: %s", domain.ErrUnknownDomain, name)
		}
		owned := domain.CuratorFieldsOf(d)
		for _, f := range fields {
			if !contains(owned, f) {
				return fmt.Errorf("%w: %s.%s", ErrInvalidRederive, name, f)
			}
		}
	}

	if c.Report.Format != "markdown" && c.Report.Format != "json" {
		return ErrInvalidReportFormat
	}
	if len(c.Report.Kafka.Brokers) > 0 && c.Report.Kafka.Topic == "" {
		return ErrMissingKafkaTopic
	}

	validMetrics := map[string]bool{"none": true, "expvar": true, "prometheus": true}
	if !validMetrics[c.Observability.Metrics] {
		return ErrInvalidMetrics
	}
	validTracing := map[string]bool{"none": true, "json": true, "otel": true}
	if !validTracing[c.Observability.Tracing] {
		return ErrInvalidTracing
	}

	// Validate logging config
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.Logging.Level] {
		return ErrInvalidLogLevel
	}
	if c.Logging.Format != "text" && c.Logging.Format != "json" {
		return ErrInvalidLogFormat
	}
	return nil
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// Domains returns the configured domains, all of them when none are listed.
func (c *Config) Domains() ([]domain.Domain, error) {
	return domain.ParseDomains(strings.Join(c.Sync.Domains, ","))
}

// Rederive returns the re-derivable curator fields of d.
func (c *Config) Rederive(d domain.Domain) map[string]bool {
	fields := c.Merge.Rederive[string(d)]
	if len(fields) == 0 {
		return nil
	}
	out := make(map[string]bool, len(fields))
	for _, f := range fields {
		out[f] = true
	}
	return out
}

// ExtractorTimeout returns the per-extractor deadline.
func (c *Config) ExtractorTimeout() time.Duration {
	return time.Duration(c.Sync.ExtractorTimeoutSec) * time.Second
}

// GetRetryDelay calculates exponential backoff delay for attempt number.
func (rp *RetryPolicy) GetRetryDelay(attempt int) time.Duration {
	if attempt <= 1 {
		return 0
	}

	delayMs := float64(rp.InitialDelayMs)
	for i := 1; i < attempt; i++ {
		delayMs *= rp.BackoffMultiplier
	}

	// Cap at max delay
	if rp.MaxDelayMs > 0 && int(delayMs) > rp.MaxDelayMs {
		delayMs = float64(rp.MaxDelayMs)
	}

	return time.Duration(int(delayMs)) * time.Millisecond
}

// String returns a string representation of the config.
func (c *Config) String() string {
	return fmt.Sprintf(
		"Config{Domains: %d, Storage: %s, Concurrency: %d, MaxAttempts: %d}",
		len(c.Sync.Domains),
		c.Storage.Driver,
		c.Sync.Concurrency,
		c.Sync.Retry.MaxAttempts,
	)
}
