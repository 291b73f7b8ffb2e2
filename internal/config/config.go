package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config represents configuration data for the dashboard service.
type Config struct {
	ListenAddr      string         `yaml:"listen_addr"`
	DataDirectory   string         `yaml:"data_directory"`
	Upstream        Upstream       `yaml:"upstream"`
	Auth            Auth           `yaml:"auth"`
	Delivery        Delivery       `yaml:"delivery"`
	Invalidations   []Invalidation `yaml:"invalidations"`
	CacheTTLSeconds int            `yaml:"cache_ttl_seconds"`
	JournalCap      int            `yaml:"journal_cap"`
	HistoryLimit    int            `yaml:"history_limit"`
}

// Upstream configures the realtime feed connection.
type Upstream struct {
	URL                 string `yaml:"url"`
	HandshakeTimeoutSec int    `yaml:"handshake_timeout_seconds"`
	BackoffMinSec       int    `yaml:"backoff_min_seconds"`
	BackoffMaxSec       int    `yaml:"backoff_max_seconds"`
}

// Auth configures the bearer-token gate. An empty token list leaves the
// dashboard open.
type Auth struct {
	Tokens   []string `yaml:"tokens"`
	LoginURL string   `yaml:"login_url"`
}

// Delivery tunes outbound webhook delivery.
type Delivery struct {
	TimeoutSeconds    int `yaml:"timeout_seconds"`
	MaxAttempts       int `yaml:"max_attempts"`
	RetryDelaySeconds int `yaml:"retry_delay_seconds"`
}

// Invalidation maps an event topic prefix to the query keys it invalidates.
type Invalidation struct {
	Topic string   `yaml:"topic"`
	Keys  []string `yaml:"keys"`
}

// DefaultConfig returns sensible defaults applied under a loaded file.
func DefaultConfig() Config {
	return Config{
		ListenAddr:    ":8080",
		DataDirectory: filepath.Join(".dist", "data"),
		Upstream: Upstream{
			HandshakeTimeoutSec: 10,
			BackoffMinSec:       1,
			BackoffMaxSec:       30,
		},
		Auth: Auth{
			LoginURL: "/login",
		},
		Delivery: Delivery{
			TimeoutSeconds:    10,
			MaxAttempts:       3,
			RetryDelaySeconds: 2,
		},
		CacheTTLSeconds: 30,
		JournalCap:      2048,
		HistoryLimit:    200,
	}
}

// Load reads configuration from a yaml file.
func Load(path string) (Config, error) {
	if path == "" {
		return Config{}, errors.New("configuration path is required")
	}

	content, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(content, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}
	return cfg, cfg.validate()
}

func (c *Config) validate() error {
	if c.ListenAddr == "" {
		c.ListenAddr = DefaultConfig().ListenAddr
	}
	if c.DataDirectory == "" {
		c.DataDirectory = DefaultConfig().DataDirectory
	}
	if c.Upstream.URL == "" {
		return errors.New("upstream.url is required")
	}
	if !strings.HasPrefix(c.Upstream.URL, "ws://") && !strings.HasPrefix(c.Upstream.URL, "wss://") {
		return fmt.Errorf("upstream.url must be a ws:// or wss:// address, got %q", c.Upstream.URL)
	}
	if c.Upstream.HandshakeTimeoutSec <= 0 {
		c.Upstream.HandshakeTimeoutSec = 10
	}
	if c.Upstream.BackoffMinSec <= 0 {
		c.Upstream.BackoffMinSec = 1
	}
	if c.Upstream.BackoffMaxSec < c.Upstream.BackoffMinSec {
		c.Upstream.BackoffMaxSec = 30
	}
	if c.Auth.LoginURL == "" {
		c.Auth.LoginURL = "/login"
	}
	if c.Delivery.TimeoutSeconds <= 0 {
		c.Delivery.TimeoutSeconds = 10
	}
	if c.Delivery.MaxAttempts <= 0 {
		c.Delivery.MaxAttempts = 3
	}
	if c.Delivery.RetryDelaySeconds <= 0 {
		c.Delivery.RetryDelaySeconds = 2
	}
	if c.CacheTTLSeconds < 0 {
		c.CacheTTLSeconds = 0
	}
	if c.JournalCap <= 0 {
		c.JournalCap = 2048
	}
	if c.HistoryLimit <= 0 {
		c.HistoryLimit = 200
	}
	for i, rule := range c.Invalidations {
		if rule.Topic == "" {
			return fmt.Errorf("invalidation %d is missing a topic prefix", i)
		}
		if len(rule.Keys) == 0 {
			return fmt.Errorf("invalidation %q must list at least one query key", rule.Topic)
		}
	}
	return nil
}
