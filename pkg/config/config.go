// Package config aggregates every tunable of the orchestration core. Values
// come from an optional YAML file, environment overrides, and fixed defaults,
// in that order of precedence (env wins).
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/tavernchat/tavern/pkg/genai"
	"github.com/tavernchat/tavern/pkg/scheduler"
)

// Defaults for the relay connection and the main loop.
const (
	DefaultRelayURI    = "ws://127.0.0.1:3000"
	DefaultRelayModule = "tavern"
	DefaultTickMs      = 50
	DefaultBotCount    = 3
)

// RelayConfig selects the remote store endpoint.
type RelayConfig struct {
	URI    string `yaml:"uri"`
	Module string `yaml:"module"`
}

// BotsConfig sizes the bot roster.
type BotsConfig struct {
	Count int `yaml:"count"`
}

// Config is the root configuration.
type Config struct {
	Relay     RelayConfig          `yaml:"relay"`
	Bots      BotsConfig           `yaml:"bots"`
	Inference genai.ClientConfig   `yaml:"inference"`
	Pipeline  genai.PipelineConfig `yaml:"pipeline"`
	Scheduler scheduler.Config     `yaml:"scheduler"`

	TickMs   int    `yaml:"tick_ms"`
	LogLevel string `yaml:"log_level"`
}

// TickEvery is the main-loop polling interval.
func (c Config) TickEvery() time.Duration {
	return time.Duration(c.TickMs) * time.Millisecond
}

// Load reads the YAML file at path (skipped when path is empty), applies
// environment overrides, and fills remaining zero values with defaults.
func Load(path string) (Config, error) {
	var cfg Config
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config: %w", err)
		}
	}
	return cfg.withEnv().WithDefaults(), nil
}

func (c Config) withEnv() Config {
	if v := strings.TrimSpace(os.Getenv("TAVERN_RELAY_URI")); v != "" {
		c.Relay.URI = v
	}
	if v := strings.TrimSpace(os.Getenv("TAVERN_RELAY_MODULE")); v != "" {
		c.Relay.Module = v
	}
	if v := strings.TrimSpace(os.Getenv("TAVERN_LOG_LEVEL")); v != "" {
		c.LogLevel = v
	}
	return c
}

// WithDefaults fills zero values. The inference, pipeline, and scheduler
// sections carry their own WithDefaults, applied by their consumers; they
// are normalized here too so Load returns a fully resolved view.
func (c Config) WithDefaults() Config {
	if c.Relay.URI == "" {
		c.Relay.URI = DefaultRelayURI
	}
	if c.Relay.Module == "" {
		c.Relay.Module = DefaultRelayModule
	}
	if c.Bots.Count == 0 {
		c.Bots.Count = DefaultBotCount
	}
	if c.TickMs <= 0 {
		c.TickMs = DefaultTickMs
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	c.Inference = c.Inference.WithDefaults()
	c.Pipeline = c.Pipeline.WithDefaults()
	c.Scheduler = c.Scheduler.WithDefaults()
	return c
}
