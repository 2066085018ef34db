// Package config loads the rate-limiting configuration surface from YAML:
// the rule table, exemptions, backoff tuning and the Redis connection.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/marketkit/api-ratelimit/pkg/limiter"
)

type Config struct {
	// APIPrefix scopes the middleware; paths outside it bypass the engine.
	APIPrefix string        `yaml:"api_prefix"`
	Rules     []RuleConfig  `yaml:"rules"`
	Exempt    ExemptConfig  `yaml:"exempt"`
	Backoff   BackoffConfig `yaml:"backoff"`
	Redis     RedisConfig   `yaml:"redis"`
	Sweep     SweepConfig   `yaml:"sweep"`
	Logging   LoggingConfig `yaml:"logging"`
}

type RuleConfig struct {
	Pattern        string `yaml:"pattern"`
	Requests       int    `yaml:"requests"`
	WindowSeconds  int    `yaml:"window_s"`
	SkipSuccessful bool   `yaml:"skip_successful"`
	SkipFailed     bool   `yaml:"skip_failed"`
}

type ExemptConfig struct {
	Roles     []string `yaml:"roles"`
	Addresses []string `yaml:"addresses"`
}

type BackoffConfig struct {
	Enabled       bool `yaml:"enabled"`
	MaxMultiplier int  `yaml:"max_multiplier"`
}

type RedisConfig struct {
	Addr      string `yaml:"addr"`
	Password  string `yaml:"password"`
	DB        int    `yaml:"db"`
	Prefix    string `yaml:"prefix"`
	TimeoutMs int    `yaml:"timeout_ms"`
}

type SweepConfig struct {
	IntervalS  int `yaml:"interval_s"`
	RetentionS int `yaml:"retention_s"`
}

type LoggingConfig struct {
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"`
}

// Default returns a config with sensible defaults: one permissive default
// rule, admin exemption, backoff capped at 8.
func Default() *Config {
	return &Config{
		APIPrefix: "/api/",
		Rules: []RuleConfig{
			{Pattern: "default", Requests: 100, WindowSeconds: 60},
		},
		Exempt: ExemptConfig{
			Roles: []string{limiter.DefaultExemptRole},
		},
		Backoff: BackoffConfig{
			Enabled:       true,
			MaxMultiplier: limiter.DefaultMaxBackoff,
		},
		Redis: RedisConfig{
			Addr:      "localhost:6379",
			Prefix:    "ratelimit:",
			TimeoutMs: 2000,
		},
		Sweep: SweepConfig{
			IntervalS:  300,
			RetentionS: 86400,
		},
		Logging: LoggingConfig{Level: "info", JSON: true},
	}
}

// Load reads a YAML file over the defaults. A missing path returns the
// defaults unchanged.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.APIPrefix == "" {
		return fmt.Errorf("api_prefix must not be empty")
	}
	for _, r := range c.Rules {
		if r.Pattern == "" {
			return fmt.Errorf("rule pattern must not be empty")
		}
		if r.Requests <= 0 || r.WindowSeconds <= 0 {
			return fmt.Errorf("rule %q: requests and window_s must be > 0", r.Pattern)
		}
	}
	if c.Backoff.Enabled && c.Backoff.MaxMultiplier < 1 {
		return fmt.Errorf("backoff max_multiplier must be >= 1")
	}
	return nil
}

// RuleTable converts the configured rules into the engine's table.
func (c *Config) RuleTable() (*limiter.RuleTable, error) {
	rules := make([]limiter.Rule, 0, len(c.Rules))
	for _, r := range c.Rules {
		rules = append(rules, limiter.Rule{
			Pattern:        r.Pattern,
			Requests:       r.Requests,
			Window:         time.Duration(r.WindowSeconds) * time.Second,
			SkipSuccessful: r.SkipSuccessful,
			SkipFailed:     r.SkipFailed,
		})
	}
	return limiter.NewRuleTable(rules)
}

// MaxBackoff returns the effective multiplier cap: 1 disables backoff.
func (c *Config) MaxBackoff() int {
	if !c.Backoff.Enabled {
		return 1
	}
	return c.Backoff.MaxMultiplier
}

// RedisTimeout returns the bounded round-trip budget for the shared store.
func (c *Config) RedisTimeout() time.Duration {
	return time.Duration(c.Redis.TimeoutMs) * time.Millisecond
}
