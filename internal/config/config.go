// Package config defines all configuration for the pick delivery bot.
// Config is loaded from a YAML file (default: configs/config.yaml) with
// sensitive fields overridable via RETADOR_* environment variables.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the top-level configuration. Maps directly to the YAML file
// structure.
type Config struct {
	Feed       FeedConfig       `mapstructure:"feed"`
	Bookmakers BookmakerConfig  `mapstructure:"bookmakers"`
	Validation ValidationConfig `mapstructure:"validation"`
	Redis      RedisConfig      `mapstructure:"redis"`
	Telegram   TelegramConfig   `mapstructure:"telegram"`
	Pipeline   PipelineConfig   `mapstructure:"pipeline"`
	Logging    LoggingConfig    `mapstructure:"logging"`
}

// FeedConfig holds the upstream surebet API connection and polling knobs.
//
//   - BaseInterval: polling delay when the feed is healthy.
//   - MaxInterval: ceiling the delay doubles toward under 429 pressure.
//   - Limit: records requested per page.
type FeedConfig struct {
	APIBase      string        `mapstructure:"api_base"`
	APIToken     string        `mapstructure:"api_token"`
	Sports       []string      `mapstructure:"sports"`
	Limit        int           `mapstructure:"limit"`
	BaseInterval time.Duration `mapstructure:"base_interval"`
	MaxInterval  time.Duration `mapstructure:"max_interval"`
}

// BookmakerConfig declares the bookmaker universe.
//
//   - API: every id sent in the feed's source filter; superset of the
//     other two lists.
//   - Sharp: odds-reference books (typically one entry).
//   - Targets: soft books whose picks get delivered.
//   - Channels: soft id → Telegram channel id. Every target needs one.
type BookmakerConfig struct {
	API      []string         `mapstructure:"api"`
	Sharp    []string         `mapstructure:"sharp"`
	Targets  []string         `mapstructure:"targets"`
	Channels map[string]int64 `mapstructure:"channels"`
}

// ValidationConfig sets the inclusive acceptance windows.
type ValidationConfig struct {
	MinOdds   float64 `mapstructure:"min_odds"`
	MaxOdds   float64 `mapstructure:"max_odds"`
	MinProfit float64 `mapstructure:"min_profit"`
	MaxProfit float64 `mapstructure:"max_profit"`
}

// RedisConfig holds the duplicate store connection.
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// TelegramConfig holds the outbound bot pool.
type TelegramConfig struct {
	APIBase string   `mapstructure:"api_base"`
	Tokens  []string `mapstructure:"tokens"`
}

// PipelineConfig tunes the processing stage.
//
//   - MaxConcurrent: bound on surebets processed in parallel per batch.
//   - QueueCapacity: dispatcher heap size.
//   - LocalCacheSize: entries in the process-local dedup cache.
//   - MessageCacheSize: entries in the static message-part cache.
type PipelineConfig struct {
	MaxConcurrent    int `mapstructure:"max_concurrent"`
	QueueCapacity    int `mapstructure:"queue_capacity"`
	LocalCacheSize   int `mapstructure:"local_cache_size"`
	MessageCacheSize int `mapstructure:"message_cache_size"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Load reads config from a YAML file with env var overrides. Sensitive
// fields use env vars: RETADOR_API_TOKEN, RETADOR_REDIS_PASSWORD,
// RETADOR_BOT_TOKENS (comma-separated).
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetEnvPrefix("RETADOR")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	// Override sensitive fields from env
	if token := os.Getenv("RETADOR_API_TOKEN"); token != "" {
		cfg.Feed.APIToken = token
	}
	if pass := os.Getenv("RETADOR_REDIS_PASSWORD"); pass != "" {
		cfg.Redis.Password = pass
	}
	if tokens := os.Getenv("RETADOR_BOT_TOKENS"); tokens != "" {
		cfg.Telegram.Tokens = strings.Split(tokens, ",")
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("feed.limit", 5000)
	v.SetDefault("feed.base_interval", 500*time.Millisecond)
	v.SetDefault("feed.max_interval", 5*time.Second)
	v.SetDefault("validation.min_odds", 1.10)
	v.SetDefault("validation.max_odds", 9.99)
	v.SetDefault("validation.min_profit", -1.0)
	v.SetDefault("validation.max_profit", 25.0)
	v.SetDefault("telegram.api_base", "https://api.telegram.org")
	v.SetDefault("pipeline.max_concurrent", 250)
	v.SetDefault("pipeline.queue_capacity", 1000)
	v.SetDefault("pipeline.local_cache_size", 2000)
	v.SetDefault("pipeline.message_cache_size", 1000)
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")
}

// Validate checks all required fields and cross-references the bookmaker
// lists. A target without a channel mapping is a startup error, not a
// runtime surprise.
func (c *Config) Validate() error {
	if c.Feed.APIBase == "" {
		return fmt.Errorf("feed.api_base is required")
	}
	if c.Feed.APIToken == "" {
		return fmt.Errorf("feed.api_token is required (set RETADOR_API_TOKEN)")
	}
	if c.Feed.BaseInterval <= 0 || c.Feed.MaxInterval < c.Feed.BaseInterval {
		return fmt.Errorf("feed intervals invalid: base=%s max=%s", c.Feed.BaseInterval, c.Feed.MaxInterval)
	}
	if len(c.Bookmakers.Sharp) == 0 {
		return fmt.Errorf("bookmakers.sharp must name at least one bookmaker")
	}
	if len(c.Bookmakers.Targets) == 0 {
		return fmt.Errorf("bookmakers.targets must name at least one bookmaker")
	}

	sharp := make(map[string]bool, len(c.Bookmakers.Sharp))
	for _, b := range c.Bookmakers.Sharp {
		sharp[b] = true
	}
	api := make(map[string]bool, len(c.Bookmakers.API))
	for _, b := range c.Bookmakers.API {
		api[b] = true
	}
	for _, target := range c.Bookmakers.Targets {
		if sharp[target] {
			return fmt.Errorf("bookmaker %q cannot be both sharp and target", target)
		}
		if _, ok := c.Bookmakers.Channels[target]; !ok {
			return fmt.Errorf("bookmakers.channels is missing a channel for target %q", target)
		}
		if len(api) > 0 && !api[target] {
			return fmt.Errorf("target %q is not in bookmakers.api", target)
		}
	}
	if len(api) > 0 {
		for _, s := range c.Bookmakers.Sharp {
			if !api[s] {
				return fmt.Errorf("sharp %q is not in bookmakers.api", s)
			}
		}
	}

	if c.Validation.MinOdds >= c.Validation.MaxOdds {
		return fmt.Errorf("validation.min_odds must be below validation.max_odds")
	}
	if c.Validation.MinProfit >= c.Validation.MaxProfit {
		return fmt.Errorf("validation.min_profit must be below validation.max_profit")
	}
	if c.Redis.Addr == "" {
		return fmt.Errorf("redis.addr is required")
	}
	if len(c.Telegram.Tokens) == 0 {
		return fmt.Errorf("telegram.tokens must hold at least one bot token (set RETADOR_BOT_TOKENS)")
	}
	return nil
}

// SharpSet returns the sharp bookmaker ids as a lookup set.
func (c *Config) SharpSet() map[string]bool {
	set := make(map[string]bool, len(c.Bookmakers.Sharp))
	for _, b := range c.Bookmakers.Sharp {
		set[b] = true
	}
	return set
}

// TargetSet returns the target bookmaker ids as a lookup set.
func (c *Config) TargetSet() map[string]bool {
	set := make(map[string]bool, len(c.Bookmakers.Targets))
	for _, b := range c.Bookmakers.Targets {
		set[b] = true
	}
	return set
}
