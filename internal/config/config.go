// Package config loads and validates service configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	DB        DBConfig        `mapstructure:"db"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Worker    WorkerConfig    `mapstructure:"worker"`
	Crawler   CrawlerConfig   `mapstructure:"crawler"`
	Discovery DiscoveryConfig `mapstructure:"discovery"`
	AI        AIConfig        `mapstructure:"ai"`
	Sweeps    SweepsConfig    `mapstructure:"sweeps"`
	Schedules ScheduleConfig  `mapstructure:"schedules"`
}

// ServerConfig controls the admin HTTP server.
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// DBConfig controls access to the relational database.
type DBConfig struct {
	DSN      string `mapstructure:"dsn"`
	MaxConns int32  `mapstructure:"max_conns"`
	MinConns int32  `mapstructure:"min_conns"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// WorkerConfig governs queue consumption. Concurrency is deliberately low to
// stay polite toward crawled third-party sites.
type WorkerConfig struct {
	Concurrency    int `mapstructure:"concurrency"`
	PollIntervalMs int `mapstructure:"poll_interval_ms"`
	MaxAttempts    int `mapstructure:"max_attempts"`
}

// CrawlerConfig governs the verification crawl.
type CrawlerConfig struct {
	UserAgent         string `mapstructure:"user_agent"`
	NavTimeoutSec     int    `mapstructure:"nav_timeout_seconds"`
	RobotsTimeoutSec  int    `mapstructure:"robots_timeout_seconds"`
	MaxPages          int    `mapstructure:"max_pages"`
	MaxBodyScanLength int    `mapstructure:"max_body_scan_length"`
}

// DiscoveryConfig governs the discovery fan-out and its hard caps.
type DiscoveryConfig struct {
	ActiveStateSlugs   []string `mapstructure:"active_state_slugs"`
	CategorySlugs      []string `mapstructure:"category_slugs"`
	CityBatchSize      int      `mapstructure:"city_batch_size"`
	MaxBatchesPerRun   int      `mapstructure:"max_batches_per_run"`
	MaxDomainsPerCity  int      `mapstructure:"max_domains_per_city"`
	MaxNewPerDay       int      `mapstructure:"max_new_per_day"`
	MaxResultsPerQuery int      `mapstructure:"max_results_per_query"`
	Provider           string   `mapstructure:"provider"` // "brave" or "none"
	BraveAPIKey        string   `mapstructure:"brave_api_key"`
}

// AIConfig governs policy evaluation and the auto-approval gate.
type AIConfig struct {
	Enabled             bool    `mapstructure:"enabled"`
	AutoApprovalEnabled bool    `mapstructure:"auto_approval_enabled"`
	APIKey              string  `mapstructure:"api_key"`
	Model               string  `mapstructure:"model"`
	MinAutoApprove      float64 `mapstructure:"min_auto_approve_confidence"`
	MaxInputChars       int     `mapstructure:"max_input_chars"`
}

// SweepsConfig holds the maintenance thresholds and per-run bounds.
type SweepsConfig struct {
	StaleVerificationDays int `mapstructure:"stale_verification_days"`
	RefreshIntervalDays   int `mapstructure:"refresh_interval_days"`
	ScrubAfterDays        int `mapstructure:"scrub_after_days"`
	QualityScanLimit      int `mapstructure:"quality_scan_limit"`
	QualityFlagLimit      int `mapstructure:"quality_flag_limit"`
	MaxRefreshPerRun      int `mapstructure:"max_refresh_per_run"`
	MaxSummaryPerRun      int `mapstructure:"max_summary_per_run"`
	ScrubScanLimit        int `mapstructure:"scrub_scan_limit"`
}

// ScheduleConfig holds the cron expressions for recurring jobs (UTC).
type ScheduleConfig struct {
	DiscoveryWave   string `mapstructure:"discovery_wave"`
	RefreshApproved string `mapstructure:"refresh_approved"`
	QualitySweep    string `mapstructure:"quality_sweep"`
	RefreshSummary  string `mapstructure:"refresh_summary"`
	ScrubRetention  string `mapstructure:"scrub_retention"`
}

// Load builds a Config from an optional file plus DIRWORKER_ environment
// overrides, applying defaults and validation.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("DIRWORKER")
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
	v.SetDefault("server.port", 8080)
	v.SetDefault("db.max_conns", 8)
	v.SetDefault("db.min_conns", 1)
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.level", "")
	v.SetDefault("worker.concurrency", 2)
	v.SetDefault("worker.poll_interval_ms", 500)
	v.SetDefault("worker.max_attempts", 3)
	v.SetDefault("crawler.user_agent", "localpages-bot/0.1 (+https://localpages.example/bot)")
	v.SetDefault("crawler.nav_timeout_seconds", 10)
	v.SetDefault("crawler.robots_timeout_seconds", 5)
	v.SetDefault("crawler.max_pages", 4)
	v.SetDefault("crawler.max_body_scan_length", 50000)
	v.SetDefault("discovery.city_batch_size", 15)
	v.SetDefault("discovery.max_batches_per_run", 25)
	v.SetDefault("discovery.max_domains_per_city", 20)
	v.SetDefault("discovery.max_new_per_day", 500)
	v.SetDefault("discovery.max_results_per_query", 10)
	v.SetDefault("discovery.provider", "none")
	v.SetDefault("ai.enabled", false)
	v.SetDefault("ai.auto_approval_enabled", false)
	v.SetDefault("ai.model", "claude-haiku-4-5")
	v.SetDefault("ai.min_auto_approve_confidence", 0.9)
	v.SetDefault("ai.max_input_chars", 20000)
	v.SetDefault("sweeps.stale_verification_days", 180)
	v.SetDefault("sweeps.refresh_interval_days", 30)
	v.SetDefault("sweeps.scrub_after_days", 7)
	v.SetDefault("sweeps.quality_scan_limit", 1000)
	v.SetDefault("sweeps.quality_flag_limit", 300)
	v.SetDefault("sweeps.max_refresh_per_run", 200)
	v.SetDefault("sweeps.max_summary_per_run", 200)
	v.SetDefault("sweeps.scrub_scan_limit", 1500)
	v.SetDefault("schedules.discovery_wave", "0 * * * *")
	v.SetDefault("schedules.refresh_approved", "10 3 * * *")
	v.SetDefault("schedules.quality_sweep", "30 4 * * *")
	v.SetDefault("schedules.refresh_summary", "50 5 * * *")
	v.SetDefault("schedules.scrub_retention", "15 6 * * *")
}

// Validate enforces required values and sane bounds.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Worker.Concurrency <= 0 {
		return fmt.Errorf("worker.concurrency must be > 0")
	}
	if c.Worker.MaxAttempts <= 0 {
		return fmt.Errorf("worker.max_attempts must be > 0")
	}
	if c.Crawler.NavTimeoutSec <= 0 {
		return fmt.Errorf("crawler.nav_timeout_seconds must be > 0")
	}
	if c.Crawler.MaxPages <= 0 {
		return fmt.Errorf("crawler.max_pages must be > 0")
	}
	switch c.Discovery.Provider {
	case "none", "brave":
	default:
		return fmt.Errorf("discovery.provider must be none or brave, got %q", c.Discovery.Provider)
	}
	if c.Discovery.Provider == "brave" && c.Discovery.BraveAPIKey == "" {
		return fmt.Errorf("discovery.brave_api_key must be set when provider is brave")
	}
	if c.AI.MinAutoApprove < 0 || c.AI.MinAutoApprove > 1 {
		return fmt.Errorf("ai.min_auto_approve_confidence must be in [0,1]")
	}
	if c.AI.Enabled && c.AI.APIKey == "" {
		return fmt.Errorf("ai.api_key must be set when ai.enabled is true")
	}
	if c.Sweeps.ScrubAfterDays <= 0 {
		return fmt.Errorf("sweeps.scrub_after_days must be > 0")
	}
	return nil
}

// NavTimeout converts the crawler navigation timeout into a duration.
func (c CrawlerConfig) NavTimeout() time.Duration {
	return time.Duration(c.NavTimeoutSec) * time.Second
}

// RobotsTimeout converts the robots fetch timeout into a duration.
func (c CrawlerConfig) RobotsTimeout() time.Duration {
	return time.Duration(c.RobotsTimeoutSec) * time.Second
}

// PollInterval converts the worker poll interval into a duration.
func (c WorkerConfig) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalMs) * time.Millisecond
}
