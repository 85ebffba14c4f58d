// Package config loads and validates ingest-engine configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Logging   LoggingConfig   `mapstructure:"logging"`
	DB        DBConfig        `mapstructure:"db"`
	Scraper   ScraperConfig   `mapstructure:"scraper"`
	Renderer  RendererConfig  `mapstructure:"renderer"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Sweeper   SweeperConfig   `mapstructure:"sweeper"`
	Snapshots SnapshotsConfig `mapstructure:"snapshots"`
	PubSub    PubSubConfig    `mapstructure:"pubsub"`
	Ops       OpsConfig       `mapstructure:"ops"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// DBConfig controls access to the relational database.
type DBConfig struct {
	DSN      string `mapstructure:"dsn"`
	MaxConns int32  `mapstructure:"max_conns"`
	MinConns int32  `mapstructure:"min_conns"`
}

// ScraperConfig governs fetch and politeness behavior.
type ScraperConfig struct {
	// UserAgent is the browser-like header sent on HTTP requests.
	UserAgent string `mapstructure:"user_agent"`
	// RobotsIdentity is the crawler name matched against robots.txt groups.
	RobotsIdentity  string `mapstructure:"robots_identity"`
	TimeoutSeconds  int    `mapstructure:"timeout_seconds"`
	DefaultMaxPages int    `mapstructure:"default_max_pages"`
}

// RendererConfig configures the browser-rendering subsystem.
// Mode is one of "off", "service" (external HTTP render service), or
// "chromedp" (in-process headless Chrome).
type RendererConfig struct {
	Mode           string  `mapstructure:"mode"`
	ServiceURL     string  `mapstructure:"service_url"`
	MaxParallel    int     `mapstructure:"max_parallel"`
	NavTimeoutSecs int     `mapstructure:"nav_timeout_seconds"`
	DomainQPS      float64 `mapstructure:"domain_qps"`
}

// SchedulerConfig anchors the recurring triggers to a civil timezone.
type SchedulerConfig struct {
	Timezone string `mapstructure:"timezone"`
}

// SweeperConfig controls the staleness lifecycle windows.
type SweeperConfig struct {
	StaleAfterHours int `mapstructure:"stale_after_hours"`
	DeleteAfterDays int `mapstructure:"delete_after_days"`
}

// SnapshotsConfig controls raw listing-page archiving.
// Backend is one of "off", "local", or "gcs".
type SnapshotsConfig struct {
	Backend   string `mapstructure:"backend"`
	LocalDir  string `mapstructure:"local_dir"`
	GCSBucket string `mapstructure:"gcs_bucket"`
	Prefix    string `mapstructure:"prefix"`
}

// PubSubConfig holds metadata for run-summary events. Empty topic disables
// publishing.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// OpsConfig controls the operational HTTP listener (health/metrics).
type OpsConfig struct {
	Port int `mapstructure:"port"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("INGEST")
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

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("logging.development", false)
	v.SetDefault("db.max_conns", 8)
	v.SetDefault("db.min_conns", 1)
	v.SetDefault("scraper.user_agent",
		"Mozilla/5.0 (compatible; farreach-ingest/1.0; +https://jobs.farreach.example)")
	v.SetDefault("scraper.robots_identity", "farreach-ingest/1.0")
	v.SetDefault("scraper.timeout_seconds", 30)
	v.SetDefault("scraper.default_max_pages", 10)
	v.SetDefault("renderer.mode", "off")
	v.SetDefault("renderer.max_parallel", 1)
	v.SetDefault("renderer.nav_timeout_seconds", 45)
	v.SetDefault("renderer.domain_qps", 0)
	v.SetDefault("scheduler.timezone", "America/Anchorage")
	v.SetDefault("sweeper.stale_after_hours", 24)
	v.SetDefault("sweeper.delete_after_days", 7)
	v.SetDefault("snapshots.backend", "off")
	v.SetDefault("snapshots.prefix", "listings")
	v.SetDefault("ops.port", 9090)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Scraper.UserAgent == "" {
		return fmt.Errorf("scraper.user_agent must be set")
	}
	if c.Scraper.RobotsIdentity == "" {
		return fmt.Errorf("scraper.robots_identity must be set")
	}
	if c.Scraper.TimeoutSeconds <= 0 {
		return fmt.Errorf("scraper.timeout_seconds must be > 0")
	}
	if c.Scraper.DefaultMaxPages <= 0 {
		return fmt.Errorf("scraper.default_max_pages must be > 0")
	}
	switch c.Renderer.Mode {
	case "off", "chromedp":
	case "service":
		if c.Renderer.ServiceURL == "" {
			return fmt.Errorf("renderer.service_url must be set when renderer.mode is service")
		}
	default:
		return fmt.Errorf("renderer.mode must be off, service, or chromedp")
	}
	if c.Renderer.Mode != "off" && c.Renderer.MaxParallel <= 0 {
		return fmt.Errorf("renderer.max_parallel must be > 0 when rendering is enabled")
	}
	if _, err := time.LoadLocation(c.Scheduler.Timezone); err != nil {
		return fmt.Errorf("scheduler.timezone: %w", err)
	}
	if c.Sweeper.StaleAfterHours <= 0 {
		return fmt.Errorf("sweeper.stale_after_hours must be > 0")
	}
	if c.Sweeper.DeleteAfterDays <= 0 {
		return fmt.Errorf("sweeper.delete_after_days must be > 0")
	}
	switch c.Snapshots.Backend {
	case "off":
	case "local":
		if c.Snapshots.LocalDir == "" {
			return fmt.Errorf("snapshots.local_dir must be set when snapshots.backend is local")
		}
	case "gcs":
		if c.Snapshots.GCSBucket == "" {
			return fmt.Errorf("snapshots.gcs_bucket must be set when snapshots.backend is gcs")
		}
	default:
		return fmt.Errorf("snapshots.backend must be off, local, or gcs")
	}
	if c.Ops.Port <= 0 {
		return fmt.Errorf("ops.port must be > 0")
	}
	return nil
}

// FetchTimeout converts the scraper timeout into a duration.
func (c Config) FetchTimeout() time.Duration {
	return time.Duration(c.Scraper.TimeoutSeconds) * time.Second
}
