// Package config loads and validates service configuration via Viper.
package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/cloudscout/archscraper/internal/scraper"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server   ServerConfig     `mapstructure:"server"`
	Auth     AuthConfig       `mapstructure:"auth"`
	Scraper  ScraperConfig    `mapstructure:"scraper"`
	Headless HeadlessConfig   `mapstructure:"headless"`
	Storage  StorageConfig    `mapstructure:"storage"`
	Archive  ArchiveConfig    `mapstructure:"archive"`
	PubSub   PubSubConfig     `mapstructure:"pubsub"`
	Logging  LoggingConfig    `mapstructure:"logging"`
	Sources  []scraper.Source `mapstructure:"sources"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port                  int `mapstructure:"port"`
	RequestTimeoutSeconds int `mapstructure:"request_timeout_seconds"`
}

// AuthConfig defines API authentication toggles.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// ScraperConfig governs per-source retry and run fan-out behavior.
type ScraperConfig struct {
	MaxRetries          int    `mapstructure:"max_retries"`
	BackoffInitialMs    int    `mapstructure:"backoff_initial_ms"`
	BackoffMaxMs        int    `mapstructure:"backoff_max_ms"`
	FetchTimeoutSeconds int    `mapstructure:"fetch_timeout_seconds"`
	MaxConcurrent       int    `mapstructure:"max_concurrent"`
	RunDeadlineSeconds  int    `mapstructure:"run_deadline_seconds"`
	UserAgent           string `mapstructure:"user_agent"`
	MinDelayMs          int    `mapstructure:"min_delay_ms"`
}

// HeadlessConfig configures the headless rendering subsystem.
type HeadlessConfig struct {
	Enabled       bool `mapstructure:"enabled"`
	MaxParallel   int  `mapstructure:"max_parallel"`
	NavTimeoutSec int  `mapstructure:"nav_timeout_seconds"`
	SettleMs      int  `mapstructure:"settle_ms"`
}

// StorageConfig selects and configures the batch store backend.
type StorageConfig struct {
	// Driver is one of "memory", "badger" or "postgres".
	Driver   string         `mapstructure:"driver"`
	Badger   BadgerConfig   `mapstructure:"badger"`
	Postgres PostgresConfig `mapstructure:"postgres"`
}

// BadgerConfig locates the embedded database.
type BadgerConfig struct {
	Path string `mapstructure:"path"`
}

// PostgresConfig controls the relational backend.
type PostgresConfig struct {
	DSN      string `mapstructure:"dsn"`
	Table    string `mapstructure:"table"`
	MaxConns int32  `mapstructure:"max_conns"`
}

// ArchiveConfig selects the raw-page archive backend.
type ArchiveConfig struct {
	// Driver is one of "none", "local" or "gcs".
	Driver    string `mapstructure:"driver"`
	Prefix    string `mapstructure:"prefix"`
	LocalDir  string `mapstructure:"local_dir"`
	GCSBucket string `mapstructure:"gcs_bucket"`
}

// PubSubConfig holds metadata for batch completion notifications.
type PubSubConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// DefaultSources are used when no sources are configured. Both are the
// canonical public architecture-pattern catalogs.
func DefaultSources() []scraper.Source {
	return []scraper.Source{
		{
			Name: "AWS Prescriptive Guidance",
			URL:  "https://aws.amazon.com/prescriptive-guidance/cloud-design-patterns/",
			Type: scraper.SourceTypeStatic,
		},
		{
			Name: "Azure Architecture Center",
			URL:  "https://learn.microsoft.com/en-us/azure/architecture/patterns/",
			Type: scraper.SourceTypeRendered,
		},
	}
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("ARCHSCRAPER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if len(cfg.Sources) == 0 {
		cfg.Sources = DefaultSources()
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.request_timeout_seconds", 60)
	v.SetDefault("scraper.max_retries", 3)
	v.SetDefault("scraper.backoff_initial_ms", 500)
	v.SetDefault("scraper.backoff_max_ms", 10000)
	v.SetDefault("scraper.fetch_timeout_seconds", 30)
	v.SetDefault("scraper.max_concurrent", 3)
	v.SetDefault("scraper.run_deadline_seconds", 600)
	v.SetDefault("scraper.user_agent", "archscraper/0.1")
	v.SetDefault("scraper.min_delay_ms", 500)
	v.SetDefault("headless.enabled", false)
	v.SetDefault("headless.max_parallel", 1)
	v.SetDefault("headless.nav_timeout_seconds", 45)
	v.SetDefault("headless.settle_ms", 2000)
	v.SetDefault("storage.driver", "memory")
	v.SetDefault("storage.badger.path", "data/batches")
	v.SetDefault("storage.postgres.table", "batches")
	v.SetDefault("archive.driver", "none")
	v.SetDefault("archive.prefix", "pages")
	v.SetDefault("archive.local_dir", "data/archive")
	v.SetDefault("logging.development", true)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Scraper.MaxRetries <= 0 {
		return fmt.Errorf("scraper.max_retries must be > 0")
	}
	if c.Scraper.MaxConcurrent <= 0 {
		return fmt.Errorf("scraper.max_concurrent must be > 0")
	}
	if c.Scraper.FetchTimeoutSeconds <= 0 {
		return fmt.Errorf("scraper.fetch_timeout_seconds must be > 0")
	}
	if c.Headless.Enabled && c.Headless.MaxParallel <= 0 {
		return fmt.Errorf("headless.max_parallel must be > 0 when headless is enabled")
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return fmt.Errorf("auth.api_key must be set when auth is enabled")
	}

	switch c.Storage.Driver {
	case "memory":
	case "badger":
		if c.Storage.Badger.Path == "" {
			return fmt.Errorf("storage.badger.path must be set for the badger driver")
		}
	case "postgres":
		if c.Storage.Postgres.DSN == "" {
			return fmt.Errorf("storage.postgres.dsn must be set for the postgres driver")
		}
	default:
		return fmt.Errorf("storage.driver must be one of memory, badger, postgres")
	}

	switch c.Archive.Driver {
	case "none":
	case "local":
		if c.Archive.LocalDir == "" {
			return fmt.Errorf("archive.local_dir must be set for the local driver")
		}
	case "gcs":
		if c.Archive.GCSBucket == "" {
			return fmt.Errorf("archive.gcs_bucket must be set for the gcs driver")
		}
	default:
		return fmt.Errorf("archive.driver must be one of none, local, gcs")
	}

	if c.PubSub.Enabled {
		if c.PubSub.ProjectID == "" || c.PubSub.TopicName == "" {
			return fmt.Errorf("pubsub.project_id and pubsub.topic_name must be set when pubsub is enabled")
		}
	}

	return c.validateSources()
}

func (c Config) validateSources() error {
	if len(c.Sources) == 0 {
		return fmt.Errorf("at least one source must be configured")
	}
	seen := make(map[string]bool, len(c.Sources))
	for i, src := range c.Sources {
		if src.Name == "" {
			return fmt.Errorf("sources[%d].name must be set", i)
		}
		if seen[src.Name] {
			return fmt.Errorf("duplicate source name %q", src.Name)
		}
		seen[src.Name] = true
		if _, err := url.ParseRequestURI(src.URL); err != nil {
			return fmt.Errorf("sources[%d].url is not a valid URL: %w", i, err)
		}
		if !src.Type.Valid() {
			return fmt.Errorf("sources[%d].type must be static or rendered, got %q", i, src.Type)
		}
	}
	return nil
}

// FetchTimeout converts the configured fetch timeout into a duration.
func (c Config) FetchTimeout() time.Duration {
	return time.Duration(c.Scraper.FetchTimeoutSeconds) * time.Second
}

// RunDeadline converts the configured run deadline into a duration.
func (c Config) RunDeadline() time.Duration {
	return time.Duration(c.Scraper.RunDeadlineSeconds) * time.Second
}
