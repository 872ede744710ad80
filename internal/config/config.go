package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store      StoreConfig      `yaml:"store" mapstructure:"store"`
	Log        LogConfig        `yaml:"log" mapstructure:"log"`
	Server     ServerConfig     `yaml:"server" mapstructure:"server"`
	Registry   RegistryConfig   `yaml:"registry" mapstructure:"registry"`
	Cache      CacheConfig      `yaml:"cache" mapstructure:"cache"`
	Router     RouterConfig     `yaml:"router" mapstructure:"router"`
	Pipeline   PipelineConfig   `yaml:"pipeline" mapstructure:"pipeline"`
	Anthropic  AnthropicConfig  `yaml:"anthropic" mapstructure:"anthropic"`
	OpenAI     OpenAIConfig     `yaml:"openai" mapstructure:"openai"`
	Perplexity PerplexityConfig `yaml:"perplexity" mapstructure:"perplexity"`
	Monitoring MonitoringConfig `yaml:"monitoring" mapstructure:"monitoring"`
}

// StoreConfig configures the cache database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"` // "sqlite" or "postgres"
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns    int32  `yaml:"min_conns" mapstructure:"min_conns"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Port                int      `yaml:"port" mapstructure:"port"`
	AllowedOrigins      []string `yaml:"allowed_origins" mapstructure:"allowed_origins"`
	ShutdownTimeoutSecs int      `yaml:"shutdown_timeout_secs" mapstructure:"shutdown_timeout_secs"`
}

// RegistryConfig points at the provider registry file.
type RegistryConfig struct {
	File string `yaml:"file" mapstructure:"file"`
}

// CacheConfig configures lookups, hit tracking and the cleanup sweep.
type CacheConfig struct {
	MinConfidence   float64 `yaml:"min_confidence" mapstructure:"min_confidence"`
	MaxAgeHours     int     `yaml:"max_age_hours" mapstructure:"max_age_hours"`
	AcceptThreshold float64 `yaml:"accept_threshold" mapstructure:"accept_threshold"`
	RetentionDays   int     `yaml:"retention_days" mapstructure:"retention_days"`
	CleanupSchedule string  `yaml:"cleanup_schedule" mapstructure:"cleanup_schedule"`
	HitQueueSize    int     `yaml:"hit_queue_size" mapstructure:"hit_queue_size"`
}

// MaxAge returns the lookup age limit. Zero disables it.
func (c CacheConfig) MaxAge() time.Duration {
	return time.Duration(c.MaxAgeHours) * time.Hour
}

// Retention returns the nominal retention window.
func (c CacheConfig) Retention() time.Duration {
	return time.Duration(c.RetentionDays) * 24 * time.Hour
}

// RouterConfig configures provider attempts and circuit breakers.
type RouterConfig struct {
	AttemptTimeoutSecs  int `yaml:"attempt_timeout_secs" mapstructure:"attempt_timeout_secs"`
	TotalTimeoutSecs    int `yaml:"total_timeout_secs" mapstructure:"total_timeout_secs"`
	BreakerThreshold    int `yaml:"breaker_threshold" mapstructure:"breaker_threshold"`
	BreakerCooldownSecs int `yaml:"breaker_cooldown_secs" mapstructure:"breaker_cooldown_secs"`
}

// PipelineConfig configures acquisition behavior.
type PipelineConfig struct {
	MaxConcurrent     int     `yaml:"max_concurrent" mapstructure:"max_concurrent"`
	SingleFlight      bool    `yaml:"single_flight" mapstructure:"single_flight"`
	DefaultConfidence float64 `yaml:"default_confidence" mapstructure:"default_confidence"`
}

// AnthropicConfig holds Anthropic API credentials.
type AnthropicConfig struct {
	Key     string `yaml:"key" mapstructure:"key"`
	BaseURL string `yaml:"base_url" mapstructure:"base_url"`
}

// OpenAIConfig holds OpenAI API credentials.
type OpenAIConfig struct {
	Key     string `yaml:"key" mapstructure:"key"`
	BaseURL string `yaml:"base_url" mapstructure:"base_url"`
}

// PerplexityConfig holds Perplexity API credentials.
type PerplexityConfig struct {
	Key       string  `yaml:"key" mapstructure:"key"`
	BaseURL   string  `yaml:"base_url" mapstructure:"base_url"`
	RateLimit float64 `yaml:"rate_limit" mapstructure:"rate_limit"`
}

// MonitoringConfig configures periodic alert checks during serve. Checks
// are off when WebhookURL is empty.
type MonitoringConfig struct {
	WebhookURL        string  `yaml:"webhook_url" mapstructure:"webhook_url"`
	CheckIntervalSecs int     `yaml:"check_interval_secs" mapstructure:"check_interval_secs"`
	CostThresholdUSD  float64 `yaml:"cost_threshold_usd" mapstructure:"cost_threshold_usd"` // per check window, 0 disables
	MinHitRate        float64 `yaml:"min_hit_rate" mapstructure:"min_hit_rate"`             // 0 disables
	MinRequests       int     `yaml:"min_requests" mapstructure:"min_requests"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("INTEL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "intel-cache.db")
	v.SetDefault("store.max_conns", 10)
	v.SetDefault("store.min_conns", 2)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.allowed_origins", []string{"*"})
	v.SetDefault("server.shutdown_timeout_secs", 10)
	v.SetDefault("registry.file", "providers.yaml")
	v.SetDefault("cache.min_confidence", 0.7)
	v.SetDefault("cache.max_age_hours", 168)
	v.SetDefault("cache.accept_threshold", 0.7)
	v.SetDefault("cache.retention_days", 30)
	v.SetDefault("cache.cleanup_schedule", "@daily")
	v.SetDefault("cache.hit_queue_size", 256)
	v.SetDefault("router.attempt_timeout_secs", 30)
	v.SetDefault("router.total_timeout_secs", 90)
	v.SetDefault("router.breaker_threshold", 5)
	v.SetDefault("router.breaker_cooldown_secs", 30)
	v.SetDefault("pipeline.max_concurrent", 5)
	v.SetDefault("pipeline.single_flight", false)
	v.SetDefault("pipeline.default_confidence", 0.8)
	v.SetDefault("perplexity.rate_limit", 5.0)
	v.SetDefault("monitoring.check_interval_secs", 300)
	v.SetDefault("monitoring.min_requests", 20)

	// Keys without defaults still need binding for env-only configuration.
	for _, key := range []string{
		"anthropic.key", "anthropic.base_url",
		"openai.key", "openai.base_url",
		"perplexity.key", "perplexity.base_url",
		"monitoring.webhook_url",
	} {
		if err := v.BindEnv(key); err != nil {
			return nil, eris.Wrapf(err, "config: bind env %s", key)
		}
	}

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}
	return &cfg, nil
}

// Validate checks the settings a command mode depends on. Every problem
// is reported, not just the first.
func (c *Config) Validate(mode string) error {
	var errs []string

	switch c.Store.Driver {
	case "sqlite", "postgres":
	default:
		errs = append(errs, fmt.Sprintf("store.driver %q must be sqlite or postgres", c.Store.Driver))
	}
	if c.Store.DatabaseURL == "" {
		errs = append(errs, "store.database_url is required")
	}
	if !inUnit(c.Cache.MinConfidence) {
		errs = append(errs, "cache.min_confidence must be between 0 and 1")
	}
	if !inUnit(c.Cache.AcceptThreshold) {
		errs = append(errs, "cache.accept_threshold must be between 0 and 1")
	}

	switch mode {
	case "serve", "acquire":
		if mode == "serve" && c.Server.Port <= 0 {
			errs = append(errs, "server.port must be > 0")
		}
		if c.Registry.File == "" {
			errs = append(errs, "registry.file is required")
		}
		if c.Pipeline.MaxConcurrent < 1 || c.Pipeline.MaxConcurrent > 50 {
			errs = append(errs, "pipeline.max_concurrent must be between 1 and 50")
		}
		if !inUnit(c.Pipeline.DefaultConfidence) {
			errs = append(errs, "pipeline.default_confidence must be between 0 and 1")
		} else if c.Pipeline.DefaultConfidence < c.Cache.MinConfidence {
			errs = append(errs, "pipeline.default_confidence must be >= cache.min_confidence or results are never served")
		}
		if c.Router.AttemptTimeoutSecs <= 0 {
			errs = append(errs, "router.attempt_timeout_secs must be > 0")
		}
		if !inUnit(c.Monitoring.MinHitRate) {
			errs = append(errs, "monitoring.min_hit_rate must be between 0 and 1")
		}
	case "sweep", "migrate":
		if mode == "sweep" && c.Cache.RetentionDays <= 0 {
			errs = append(errs, "cache.retention_days must be > 0")
		}
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	if len(errs) > 0 {
		return eris.Errorf("config: %s", strings.Join(errs, "; "))
	}
	return nil
}

func inUnit(v float64) bool {
	return v >= 0 && v <= 1
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
