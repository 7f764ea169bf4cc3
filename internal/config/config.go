// Package config loads and validates runtime settings for the insights service.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// ContentMode controls how much of each message is retained.
type ContentMode string

const (
	ContentModeFull         ContentMode = "full"
	ContentModeMetadataOnly ContentMode = "metadata"
)

// Config contains all runtime settings for the chat insights service.
type Config struct {
	BindAddr         string        `mapstructure:"bind_addr"`
	ShutdownTimeout  time.Duration `mapstructure:"shutdown_timeout"`
	MetricsNamespace string        `mapstructure:"metrics_namespace"`
	AllowAnyOrigin   bool          `mapstructure:"allow_any_origin"`

	LogLevel  string `mapstructure:"log_level"`
	LogFormat string `mapstructure:"log_format"`

	// Storage backend selection: DatabaseURL wins, then BoltPath, then in-memory.
	DatabaseURL string `mapstructure:"database_url"`
	BoltPath    string `mapstructure:"bolt_path"`

	RetentionDays int         `mapstructure:"retention_days"` // 0 means unlimited
	ContentMode   ContentMode `mapstructure:"content_mode"`
	Anonymize     bool        `mapstructure:"anonymize"`

	TokenBudget       int           `mapstructure:"token_budget"`
	ContextBefore     int           `mapstructure:"context_before"`
	ContextAfter      int           `mapstructure:"context_after"`
	SearchLimit       int           `mapstructure:"search_limit"`
	CacheTTL          time.Duration `mapstructure:"cache_ttl"`
	SessionExpiry     time.Duration `mapstructure:"session_expiry"`
	SessionMaxTurns   int           `mapstructure:"session_max_turns"`
	FollowUpGap       time.Duration `mapstructure:"follow_up_gap"`
	SynthesisTimeout  time.Duration `mapstructure:"synthesis_timeout"`
	JanitorInterval   time.Duration `mapstructure:"janitor_interval"`
	PurgeBatchSize    int           `mapstructure:"purge_batch_size"`

	RedisAddr     string `mapstructure:"redis_addr"`
	RedisPassword string `mapstructure:"redis_password"`
	RedisDB       int    `mapstructure:"redis_db"`

	KafkaBrokers string `mapstructure:"kafka_brokers"`
	KafkaTopic   string `mapstructure:"kafka_topic"`
	KafkaGroupID string `mapstructure:"kafka_group_id"`

	SynthProvider   string `mapstructure:"synth_provider"` // openai|anthropic|mock|auto
	OpenAIAPIKey    string `mapstructure:"openai_api_key"`
	OpenAIModel     string `mapstructure:"openai_model"`
	AnthropicAPIKey string `mapstructure:"anthropic_api_key"`
	AnthropicModel  string `mapstructure:"anthropic_model"`
}

// Load reads the optional YAML config file and environment overrides,
// applies defaults, and validates the result.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("CHATSIGHT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("bind_addr", ":8080")
	v.SetDefault("shutdown_timeout", 15*time.Second)
	v.SetDefault("metrics_namespace", "chatsight")
	v.SetDefault("allow_any_origin", false)
	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "json")
	v.SetDefault("bolt_path", "data/chatsight.bolt")
	v.SetDefault("retention_days", 0)
	v.SetDefault("content_mode", string(ContentModeFull))
	v.SetDefault("anonymize", false)
	v.SetDefault("token_budget", 22000)
	v.SetDefault("context_before", 15)
	v.SetDefault("context_after", 15)
	v.SetDefault("search_limit", 50)
	v.SetDefault("cache_ttl", 5*time.Minute)
	v.SetDefault("session_expiry", 72*time.Hour)
	v.SetDefault("session_max_turns", 50)
	v.SetDefault("follow_up_gap", 10*time.Minute)
	v.SetDefault("synthesis_timeout", 8*time.Second)
	v.SetDefault("janitor_interval", time.Minute)
	v.SetDefault("purge_batch_size", 500)
	v.SetDefault("kafka_group_id", "chatsight-ingest")
	v.SetDefault("synth_provider", "auto")
	v.SetDefault("openai_model", "gpt-4o")
	v.SetDefault("anthropic_model", "claude-3-5-sonnet-20241022")

	if strings.TrimSpace(path) != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.TokenBudget <= 0 {
		return fmt.Errorf("token_budget must be positive")
	}
	if c.ContextBefore < 0 || c.ContextAfter < 0 {
		return fmt.Errorf("context window sizes must be >= 0")
	}
	if c.SearchLimit <= 0 {
		return fmt.Errorf("search_limit must be positive")
	}
	if c.CacheTTL <= 0 {
		return fmt.Errorf("cache_ttl must be positive")
	}
	if c.SessionExpiry < time.Minute {
		return fmt.Errorf("session_expiry must be at least 1m")
	}
	if c.SessionMaxTurns <= 0 {
		return fmt.Errorf("session_max_turns must be positive")
	}
	if c.FollowUpGap <= 0 {
		return fmt.Errorf("follow_up_gap must be positive")
	}
	if c.RetentionDays < 0 {
		return fmt.Errorf("retention_days must be >= 0 (0 means unlimited)")
	}
	if c.PurgeBatchSize <= 0 {
		return fmt.Errorf("purge_batch_size must be positive")
	}
	switch c.ContentMode {
	case ContentModeFull, ContentModeMetadataOnly:
	default:
		return fmt.Errorf("content_mode must be %q or %q", ContentModeFull, ContentModeMetadataOnly)
	}
	switch strings.ToLower(strings.TrimSpace(c.SynthProvider)) {
	case "openai", "anthropic", "mock", "auto":
	default:
		return fmt.Errorf("synth_provider must be openai, anthropic, mock, or auto")
	}
	return nil
}

// Retention returns the configured retention window, or zero if unlimited.
func (c *Config) Retention() time.Duration {
	if c.RetentionDays <= 0 {
		return 0
	}
	return time.Duration(c.RetentionDays) * 24 * time.Hour
}
