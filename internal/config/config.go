package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

const (
	TierAwardFirst = "first"
	TierAwardDelta = "delta"

	AttributionLastEvent       = "last_event"
	AttributionSoleContributor = "sole_contributor"
)

// Config models bingo.yml.
type Config struct {
	Engine        Engine        `yaml:"engine"`
	Notifications Notifications `yaml:"notifications"`
	Server        Server        `yaml:"server"`
}

type Engine struct {
	// MaxRetries bounds compare-and-swap retries per board tile.
	MaxRetries     int    `yaml:"max_retries"`
	DedupCacheSize int    `yaml:"dedup_cache_size"`
	TierAward      string `yaml:"tier_award"`
	Attribution    string `yaml:"attribution"`
}

type Notifications struct {
	QueueSize int     `yaml:"queue_size"`
	Discord   Discord `yaml:"discord"`
}

type Discord struct {
	WebhookURL     string `yaml:"webhook_url"`
	Username       string `yaml:"username"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
}

type Server struct {
	Addr     string `yaml:"addr"`
	BasePath string `yaml:"base_path"`
}

// Load reads and validates config from workspace. A missing file yields the
// defaults.
func Load(workspace string) (*Config, error) {
	data, err := os.ReadFile(Path(workspace))
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if c.Engine.MaxRetries < 0 {
		return fmt.Errorf("config.engine.max_retries must not be negative")
	}
	if c.Engine.DedupCacheSize <= 0 {
		return fmt.Errorf("config.engine.dedup_cache_size must be positive")
	}
	switch c.Engine.TierAward {
	case TierAwardFirst, TierAwardDelta:
	default:
		return fmt.Errorf("config.engine.tier_award must be %q or %q, got %q", TierAwardFirst, TierAwardDelta, c.Engine.TierAward)
	}
	switch c.Engine.Attribution {
	case AttributionLastEvent, AttributionSoleContributor:
	default:
		return fmt.Errorf("config.engine.attribution must be %q or %q, got %q", AttributionLastEvent, AttributionSoleContributor, c.Engine.Attribution)
	}
	if c.Notifications.QueueSize <= 0 {
		return fmt.Errorf("config.notifications.queue_size must be positive")
	}
	if u := c.Notifications.Discord.WebhookURL; u != "" && !strings.HasPrefix(u, "https://") && !strings.HasPrefix(u, "http://") {
		return fmt.Errorf("config.notifications.discord.webhook_url must be an http(s) url")
	}
	if c.Notifications.Discord.TimeoutSeconds <= 0 {
		return fmt.Errorf("config.notifications.discord.timeout_seconds must be positive")
	}
	if c.Server.BasePath != "" && !strings.HasPrefix(c.Server.BasePath, "/") {
		return fmt.Errorf("config.server.base_path must start with /")
	}
	return nil
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "bingo.yml")
}

// Default returns the default Config.
func Default() *Config {
	var cfg Config
	if err := yaml.Unmarshal([]byte(defaultTemplate), &cfg); err != nil {
		panic(fmt.Sprintf("default config: %v", err))
	}
	return &cfg
}

// GenerateDefault returns default config YAML.
func GenerateDefault() string { return defaultTemplate }

// FromYAML parses config from raw YAML bytes on top of the defaults, then
// validates it.
func FromYAML(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	cfg.Engine.TierAward = strings.ToLower(strings.TrimSpace(cfg.Engine.TierAward))
	cfg.Engine.Attribution = strings.ToLower(strings.TrimSpace(cfg.Engine.Attribution))
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// FromFile reads YAML config from the given path.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

const defaultTemplate = `engine:
  max_retries: 3
  dedup_cache_size: 4096
  # first: a tiered tile pays its first qualifying tier once
  # delta: later tiers pay the difference up to the best tier reached
  tier_award: first
  # last_event: the account whose event closed the tile
  # sole_contributor: that account only when nobody else contributed
  attribution: last_event

notifications:
  queue_size: 256
  discord:
    webhook_url: ""
    username: "Bingo"
    timeout_seconds: 5

server:
  addr: ":8080"
  base_path: ""
`
