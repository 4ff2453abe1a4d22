package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/cloudscout/archscraper/internal/scraper"
)

func TestLoadWithFileOverrides(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	configYAML := `
server:
  port: 9090
auth:
  enabled: true
  api_key: secret
scraper:
  max_retries: 5
  backoff_initial_ms: 100
  backoff_max_ms: 500
  fetch_timeout_seconds: 45
  max_concurrent: 2
  run_deadline_seconds: 300
  user_agent: archscraper-ci
headless:
  enabled: true
  max_parallel: 2
  nav_timeout_seconds: 30
storage:
  driver: badger
  badger:
    path: /tmp/batches
archive:
  driver: local
  local_dir: /tmp/archive
  prefix: raw
logging:
  development: false
sources:
  - name: AWS Prescriptive Guidance
    url: https://aws.amazon.com/prescriptive-guidance/cloud-design-patterns/
    type: static
  - name: Azure Architecture Center
    url: https://learn.microsoft.com/en-us/azure/architecture/patterns/
    type: rendered
`
	if err := os.WriteFile(path, []byte(configYAML), 0o600); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.Port != 9090 {
		t.Fatalf("expected port 9090, got %d", cfg.Server.Port)
	}
	if !cfg.Auth.Enabled || cfg.Auth.APIKey != "secret" {
		t.Fatalf("expected auth enabled with secret key")
	}
	if cfg.Scraper.MaxRetries != 5 || cfg.Scraper.MaxConcurrent != 2 {
		t.Fatalf("expected scraper overrides to apply: %+v", cfg.Scraper)
	}
	if cfg.Storage.Driver != "badger" || cfg.Storage.Badger.Path != "/tmp/batches" {
		t.Fatalf("expected badger storage config: %+v", cfg.Storage)
	}
	if cfg.Archive.Driver != "local" || cfg.Archive.Prefix != "raw" {
		t.Fatalf("expected local archive config: %+v", cfg.Archive)
	}
	if len(cfg.Sources) != 2 {
		t.Fatalf("expected 2 sources, got %d", len(cfg.Sources))
	}
	if cfg.Sources[1].Type != scraper.SourceTypeRendered {
		t.Fatalf("expected second source rendered, got %q", cfg.Sources[1].Type)
	}
	if got := cfg.FetchTimeout(); got != 45*time.Second {
		t.Fatalf("expected fetch timeout 45s, got %v", got)
	}
	if got := cfg.RunDeadline(); got != 300*time.Second {
		t.Fatalf("expected run deadline 300s, got %v", got)
	}
}

func TestLoadDefaultsIncludeSources(t *testing.T) {
	t.Parallel()

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Server.Port != 8080 {
		t.Fatalf("expected default port 8080, got %d", cfg.Server.Port)
	}
	if cfg.Storage.Driver != "memory" {
		t.Fatalf("expected default storage driver memory, got %q", cfg.Storage.Driver)
	}
	if len(cfg.Sources) != 2 {
		t.Fatalf("expected default sources, got %+v", cfg.Sources)
	}
	if cfg.Sources[0].Name != "AWS Prescriptive Guidance" {
		t.Fatalf("unexpected first default source: %+v", cfg.Sources[0])
	}
}

func validConfig() Config {
	return Config{
		Server: ServerConfig{Port: 8080},
		Scraper: ScraperConfig{
			MaxRetries:          3,
			FetchTimeoutSeconds: 30,
			MaxConcurrent:       3,
		},
		Storage: StorageConfig{Driver: "memory"},
		Archive: ArchiveConfig{Driver: "none"},
		Sources: DefaultSources(),
	}
}

func TestConfigValidateErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{
			name:   "invalid port",
			mutate: func(c *Config) { c.Server.Port = 0 },
			want:   "server.port",
		},
		{
			name:   "invalid retries",
			mutate: func(c *Config) { c.Scraper.MaxRetries = 0 },
			want:   "scraper.max_retries",
		},
		{
			name:   "invalid concurrency",
			mutate: func(c *Config) { c.Scraper.MaxConcurrent = 0 },
			want:   "scraper.max_concurrent",
		},
		{
			name: "headless missing max parallel",
			mutate: func(c *Config) {
				c.Headless.Enabled = true
				c.Headless.MaxParallel = 0
			},
			want: "headless.max_parallel",
		},
		{
			name:   "auth missing api key",
			mutate: func(c *Config) { c.Auth.Enabled = true },
			want:   "auth.api_key",
		},
		{
			name:   "unknown storage driver",
			mutate: func(c *Config) { c.Storage.Driver = "redis" },
			want:   "storage.driver",
		},
		{
			name:   "badger missing path",
			mutate: func(c *Config) { c.Storage.Driver = "badger" },
			want:   "storage.badger.path",
		},
		{
			name:   "postgres missing dsn",
			mutate: func(c *Config) { c.Storage.Driver = "postgres" },
			want:   "storage.postgres.dsn",
		},
		{
			name:   "gcs archive missing bucket",
			mutate: func(c *Config) { c.Archive.Driver = "gcs" },
			want:   "archive.gcs_bucket",
		},
		{
			name:   "pubsub missing topic",
			mutate: func(c *Config) { c.PubSub.Enabled = true },
			want:   "pubsub",
		},
		{
			name:   "no sources",
			mutate: func(c *Config) { c.Sources = nil },
			want:   "at least one source",
		},
		{
			name: "duplicate source names",
			mutate: func(c *Config) {
				c.Sources = append(c.Sources, c.Sources[0])
			},
			want: "duplicate source name",
		},
		{
			name: "malformed source url",
			mutate: func(c *Config) {
				c.Sources[0].URL = "not a url"
			},
			want: "not a valid URL",
		},
		{
			name: "unknown source type",
			mutate: func(c *Config) {
				c.Sources[0].Type = "rss"
			},
			want: "static or rendered",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := validConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("expected error containing %q, got %v", tt.want, err)
			}
		})
	}
}
