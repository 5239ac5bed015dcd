// Package config provides configuration management for beancrawl. It
// handles loading, defaulting, and validation of configuration from a
// YAML file with environment variable overrides.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/jonesrussell/beancrawl/internal/cascade"
	"github.com/jonesrussell/beancrawl/internal/database"
	"github.com/jonesrussell/beancrawl/internal/domain"
	"github.com/jonesrussell/beancrawl/internal/logger"
	"github.com/jonesrussell/beancrawl/internal/ratelimit"
	"github.com/jonesrussell/beancrawl/internal/retry"
)

// Storage backends.
const (
	StorageMemory   = "memory"
	StoragePostgres = "postgres"
)

// Config represents the application configuration.
type Config struct {
	// Storage selects "postgres" or "memory".
	Storage string `yaml:"storage" mapstructure:"storage"`
	// Logger holds logging configuration.
	Logger logger.Config `yaml:"logger" mapstructure:"logger"`
	// Database holds PostgreSQL configuration.
	Database database.Config `yaml:"database" mapstructure:"database"`
	// Redis holds Redis configuration for the shared rate limiter and
	// content cache. Empty Addr keeps both in memory.
	Redis RedisConfig `yaml:"redis" mapstructure:"redis"`
	// Scheduler holds cadence evaluation settings.
	Scheduler SchedulerConfig `yaml:"scheduler" mapstructure:"scheduler"`
	// Dispatcher holds worker pool settings.
	Dispatcher DispatcherConfig `yaml:"dispatcher" mapstructure:"dispatcher"`
	// Retry holds the retry policy settings.
	Retry retry.Config `yaml:"retry" mapstructure:"retry"`
	// RateLimit holds scrape-tier rate ceilings.
	RateLimit RateLimitConfig `yaml:"rate_limit" mapstructure:"rate_limit"`
	// Costs holds the budget debit weights.
	Costs cascade.Costs `yaml:"costs" mapstructure:"costs"`
	// FetchTimeout bounds one strategy attempt.
	FetchTimeout time.Duration `yaml:"fetch_timeout" mapstructure:"fetch_timeout"`
	// Ops holds the operational HTTP server settings.
	Ops OpsConfig `yaml:"ops" mapstructure:"ops"`
	// Roasters seeds the roaster table on startup.
	Roasters []RoasterConfig `yaml:"roasters" mapstructure:"roasters"`
}

// RedisConfig holds Redis connection settings.
type RedisConfig struct {
	Addr     string `yaml:"addr" mapstructure:"addr"`
	Password string `yaml:"password" mapstructure:"password"`
	DB       int    `yaml:"db" mapstructure:"db"`
}

// Enabled reports whether a Redis address is configured.
func (c RedisConfig) Enabled() bool {
	return c.Addr != ""
}

// SchedulerConfig holds scheduler settings.
type SchedulerConfig struct {
	TickInterval time.Duration `yaml:"tick_interval" mapstructure:"tick_interval"`
}

// DispatcherConfig holds worker pool settings.
type DispatcherConfig struct {
	Workers      int           `yaml:"workers" mapstructure:"workers"`
	PollInterval time.Duration `yaml:"poll_interval" mapstructure:"poll_interval"`
}

// RateLimitConfig holds the scrape-tier rate ceilings.
type RateLimitConfig struct {
	// Global caps scrape attempts across all roasters.
	Global ratelimit.Limits `yaml:"global" mapstructure:"global"`
	// PerRoaster caps each roaster's scrape attempts.
	PerRoaster ratelimit.Limits `yaml:"per_roaster" mapstructure:"per_roaster"`
}

// OpsConfig holds the operational HTTP server settings.
type OpsConfig struct {
	Enabled bool   `yaml:"enabled" mapstructure:"enabled"`
	Addr    string `yaml:"addr" mapstructure:"addr"`
}

// RoasterConfig is one configured roaster.
type RoasterConfig struct {
	ID               string `yaml:"id" mapstructure:"id"`
	Name             string `yaml:"name" mapstructure:"name"`
	BaseURL          string `yaml:"base_url" mapstructure:"base_url"`
	CadenceFull      string `yaml:"cadence_full" mapstructure:"cadence_full"`
	CadencePriceOnly string `yaml:"cadence_price_only" mapstructure:"cadence_price_only"`
	ConcurrencyLimit int    `yaml:"concurrency_limit" mapstructure:"concurrency_limit"`
	BudgetLimit      int    `yaml:"budget_limit" mapstructure:"budget_limit"`
}

// ToDomain converts a configured roaster into its domain form. New
// roasters start with a full budget and fallback enabled.
func (r RoasterConfig) ToDomain() *domain.Roaster {
	concurrency := r.ConcurrencyLimit
	if concurrency <= 0 {
		concurrency = domain.DefaultConcurrencyLimit
	}
	return &domain.Roaster{
		ID:               r.ID,
		Name:             r.Name,
		BaseURL:          strings.TrimRight(r.BaseURL, "/"),
		CadenceFull:      r.CadenceFull,
		CadencePriceOnly: r.CadencePriceOnly,
		ConcurrencyLimit: concurrency,
		FallbackEnabled:  true,
		BudgetLimit:      r.BudgetLimit,
		BudgetRemaining:  r.BudgetLimit,
	}
}

// Load reads configuration from the given file (optional) plus
// environment variables prefixed BEANCRAWL_.
func Load(cfgFile string) (*Config, error) {
	// .env before viper reads the environment.
	_ = godotenv.Load()

	v := viper.New()
	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
	}

	v.SetEnvPrefix("BEANCRAWL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		// The config file is optional; defaults and environment
		// variables carry a bare run.
		var notFound viper.ConfigFileNotFoundError
		if cfgFile != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// setDefaults applies default values.
func setDefaults(v *viper.Viper) {
	v.SetDefault("storage", StorageMemory)

	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.encoding", "json")

	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", "5432")
	v.SetDefault("database.user", "beancrawl")
	v.SetDefault("database.dbname", "beancrawl")
	v.SetDefault("database.sslmode", "disable")

	v.SetDefault("scheduler.tick_interval", "15s")

	v.SetDefault("dispatcher.workers", 4)
	v.SetDefault("dispatcher.poll_interval", "2s")

	v.SetDefault("retry.base_delay", "1s")
	v.SetDefault("retry.max_delay", "16s")
	v.SetDefault("retry.max_attempts", 5)
	v.SetDefault("retry.budget_backoff", "15m")

	v.SetDefault("rate_limit.global.per_minute", 30)
	v.SetDefault("rate_limit.global.per_hour", 600)
	v.SetDefault("rate_limit.per_roaster.per_minute", 6)
	v.SetDefault("rate_limit.per_roaster.per_hour", 60)
	v.SetDefault("rate_limit.per_roaster.per_day", 200)

	v.SetDefault("costs.full_refresh", cascade.DefaultFullRefreshCost)
	v.SetDefault("costs.price_only", cascade.DefaultPriceOnlyCost)

	v.SetDefault("fetch_timeout", "2m")

	v.SetDefault("ops.enabled", false)
	v.SetDefault("ops.addr", ":8080")
}

// Validate checks the configuration for fatal mistakes.
func (c *Config) Validate() error {
	if c.Storage != StorageMemory && c.Storage != StoragePostgres {
		return fmt.Errorf("storage must be %q or %q, got %q", StorageMemory, StoragePostgres, c.Storage)
	}

	if c.Retry.MaxAttempts <= 0 {
		return fmt.Errorf("retry.max_attempts must be positive, got %d", c.Retry.MaxAttempts)
	}

	seen := make(map[string]bool, len(c.Roasters))
	for i, r := range c.Roasters {
		if r.ID == "" {
			return fmt.Errorf("roasters[%d]: id is required", i)
		}
		if seen[r.ID] {
			return fmt.Errorf("roasters[%d]: duplicate id %q", i, r.ID)
		}
		seen[r.ID] = true

		if r.BaseURL == "" {
			return fmt.Errorf("roaster %s: base_url is required", r.ID)
		}
		u, err := url.Parse(r.BaseURL)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("roaster %s: base_url %q is not an absolute URL", r.ID, r.BaseURL)
		}
		if r.BudgetLimit < 0 {
			return fmt.Errorf("roaster %s: budget_limit cannot be negative", r.ID)
		}
	}

	return nil
}
