package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"specsync/pkg/domain"
)

// Helper to create a temp config file.
func createTempConfigFile(t *testing.T, content string) string {
	t.Helper()
	tmpDir := t.TempDir()

	configPath := filepath.Join(tmpDir, "specsync.yaml")
	if err := os.WriteFile(configPath, []byte(content), 0o644); err != nil {
		t.Fatalf("Failed to create temp config file: %v", err)
	}

	return configPath
}

const validConfigYAML = `
project:
  root: "./app"
  facts_dir: "./facts"
  index_files: true
sync:
  domains: [issues, features]
  concurrency: 2
  retry:
    max_attempts: 5
    initial_delay_ms: 100
    max_delay_ms: 1000
    backoff_multiplier: 2.0
storage:
  driver: sqlite
  sqlite:
    path: "./state/specsync.db"
merge:
  rederive:
    issues: [resolved]
report:
  format: json
logging:
  level: debug
`

func noEnv(string) (string, bool) { return "", false }

func TestLoadConfig_Valid(t *testing.T) {
	cfg, err := LoadConfig(createTempConfigFile(t, validConfigYAML))
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if cfg.Storage.Driver != DriverSQLite || cfg.Storage.SQLite.Path != "./state/specsync.db" {
		t.Errorf("unexpected storage %+v", cfg.Storage)
	}
	if cfg.Sync.Concurrency != 2 || cfg.Sync.Retry.MaxAttempts != 5 {
		t.Errorf("unexpected sync %+v", cfg.Sync)
	}
	// unspecified sections keep their defaults
	if cfg.Sync.ExtractorTimeoutSec != 30 || cfg.Logging.Format != "text" {
		t.Errorf("defaults lost: %+v %+v", cfg.Sync, cfg.Logging)
	}
	domains, err := cfg.Domains()
	if err != nil || len(domains) != 2 || domains[0] != domain.DomainIssues {
		t.Errorf("domains %v %v", domains, err)
	}
	if !cfg.Rederive(domain.DomainIssues)[domain.FieldResolved] {
		t.Errorf("expected resolved to be re-derivable")
	}
	if cfg.Rederive(domain.DomainLessons) != nil {
		t.Errorf("lessons has no rederive policy")
	}
}

func TestLoadConfig_EmptyPathUsesDefaults(t *testing.T) {
	t.Setenv("SPECSYNC_STORAGE_DRIVER", "memory")
	cfg, err := LoadConfig("")
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.Storage.Driver != DriverMemory {
		t.Fatalf("env override not applied: %s", cfg.Storage.Driver)
	}
	domains, _ := cfg.Domains()
	if len(domains) != len(domain.AllDomains()) {
		t.Fatalf("expected every domain, got %v", domains)
	}
}

func TestLoadConfig_Errors(t *testing.T) {
	if _, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatalf("expected read error")
	}
	if _, err := LoadConfig(createTempConfigFile(t, "sync: [unclosed")); err == nil {
		t.Fatalf("expected parse error")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   error
	}{
		{"concurrency", func(c *Config) { c.Sync.Concurrency = 0 }, ErrInvalidConcurrency},
		{"timeout", func(c *Config) { c.Sync.ExtractorTimeoutSec = 0 }, ErrInvalidExtractorTimeout},
		{"attempts", func(c *Config) { c.Sync.Retry.MaxAttempts = 0 }, ErrInvalidMaxAttempts},
		{"delay", func(c *Config) { c.Sync.Retry.InitialDelayMs = -1 }, ErrInvalidInitialDelay},
		{"multiplier", func(c *Config) { c.Sync.Retry.BackoffMultiplier = 0.5 }, ErrInvalidBackoffMultiplier},
		{"driver", func(c *Config) { c.Storage.Driver = "ftp" }, ErrInvalidStorageDriver},
		{"fs root", func(c *Config) { c.Storage.FS.Root = "" }, ErrMissingFSRoot},
		{"s3 bucket", func(c *Config) { c.Storage.Driver = DriverS3 }, ErrMissingS3Bucket},
		{"redis url", func(c *Config) { c.Storage.Driver = DriverRedis }, ErrMissingRedisURL},
		{"rederive field", func(c *Config) { c.Merge.Rederive = map[string][]string{"issues": {"title"}} }, ErrInvalidRederive},
		{"rederive domain", func(c *Config) { c.Merge.Rederive = map[string][]string{"nope": {"x"}} }, domain.ErrUnknownDomain},
		{"domains", func(c *Config) { c.Sync.Domains = []string{"issues", "nope"} }, domain.ErrUnknownDomain},
		{"report", func(c *Config) { c.Report.Format = "html" }, ErrInvalidReportFormat},
		{"kafka", func(c *Config) { c.Report.Kafka.Brokers = []string{"localhost:9092"} }, ErrMissingKafkaTopic},
		{"metrics", func(c *Config) { c.Observability.Metrics = "statsd" }, ErrInvalidMetrics},
		{"tracing", func(c *Config) { c.Observability.Tracing = "zipkin" }, ErrInvalidTracing},
		{"level", func(c *Config) { c.Logging.Level = "trace" }, ErrInvalidLogLevel},
		{"format", func(c *Config) { c.Logging.Format = "xml" }, ErrInvalidLogFormat},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			if err := cfg.Validate(); !errors.Is(err, tt.want) {
				t.Fatalf("expected %v, got %v", tt.want, err)
			}
		})
	}
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config must validate: %v", err)
	}
}

func TestApplyEnv(t *testing.T) {
	env := map[string]string{
		"SPECSYNC_STORAGE_DRIVER": "s3",
		"SPECSYNC_S3_BUCKET":      "specs",
		"SPECSYNC_S3_ENDPOINT":    "http://localhost:9000",
		"SPECSYNC_S3_PATH_STYLE":  "true",
		"SPECSYNC_LOG_LEVEL":      "warn",
	}
	cfg := Default()
	if err := cfg.ApplyEnv(func(k string) (string, bool) { v, ok := env[k]; return v, ok }); err != nil {
		t.Fatalf("ApplyEnv: %v", err)
	}
	if cfg.Storage.Driver != DriverS3 || cfg.Storage.S3.Bucket != "specs" || !cfg.Storage.S3.PathStyle || cfg.Logging.Level != "warn" {
		t.Fatalf("unexpected config %+v", cfg)
	}
	if err := cfg.ApplyEnv(noEnv); err != nil || cfg.Storage.Driver != DriverS3 {
		t.Fatalf("absent variables must not reset values")
	}
	env["SPECSYNC_S3_PATH_STYLE"] = "maybe"
	if err := cfg.ApplyEnv(func(k string) (string, bool) { v, ok := env[k]; return v, ok }); err == nil {
		t.Fatalf("expected bool parse error")
	}
}

func TestGetRetryDelay(t *testing.T) {
	rp := RetryPolicy{InitialDelayMs: 100, MaxDelayMs: 300, BackoffMultiplier: 2}
	cases := map[int]time.Duration{
		0: 0,
		1: 0,
		2: 200 * time.Millisecond,
		3: 300 * time.Millisecond,
		9: 300 * time.Millisecond,
	}
	for attempt, want := range cases {
		if got := rp.GetRetryDelay(attempt); got != want {
			t.Errorf("attempt %d: expected %v, got %v", attempt, want, got)
		}
	}
	cfg := Default()
	if cfg.ExtractorTimeout() != 30*time.Second {
		t.Errorf("extractor timeout %v", cfg.ExtractorTimeout())
	}
	if cfg.String() == "" {
		t.Errorf("empty String")
	}
}
