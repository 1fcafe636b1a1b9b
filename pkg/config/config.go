// Package config loads bot configuration from a YAML file with
// environment-variable overrides for secrets and deployment knobs.
//
// Lookup order for the config file:
//  1. explicit path passed to Load
//  2. ./cadence.yaml (relative to working directory)
//  3. ~/.cadence/cadence.yaml
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

// Config is the root configuration document.
type Config struct {
	// BotName scopes durable event records; two bots sharing one data
	// directory never see each other's tasks.
	BotName string `yaml:"bot_name" env:"CADENCE_BOT_NAME"`

	// CommandPrefix is the leading token that marks a message as a
	// command ("!" by default). Mentions of the bot also qualify.
	CommandPrefix string `yaml:"command_prefix" env:"CADENCE_COMMAND_PREFIX"`

	// Timezone for cron schedules, e.g. "America/New_York".
	Timezone string `yaml:"timezone" env:"CADENCE_TIMEZONE"`

	LogLevel string `yaml:"log_level" env:"CADENCE_LOG_LEVEL"`

	Storage    StorageConfig    `yaml:"storage"`
	Transports TransportsConfig `yaml:"transports"`
}

// StorageConfig selects and configures the durable event store.
type StorageConfig struct {
	// Driver is "file" (flat JSON documents) or "sqlite".
	Driver string `yaml:"driver" env:"CADENCE_STORAGE_DRIVER"`

	// DataDir holds events.json / schedule.json for the file driver.
	DataDir string `yaml:"data_dir" env:"CADENCE_DATA_DIR"`

	// DSN is the sqlite database path for the sqlite driver.
	DSN string `yaml:"dsn" env:"CADENCE_STORAGE_DSN"`
}

// TransportsConfig enables and configures chat transports. A transport
// with an empty token (or enabled=false for console/webhook) is not
// started.
type TransportsConfig struct {
	Console  ConsoleConfig  `yaml:"console"`
	Slack    SlackConfig    `yaml:"slack"`
	Telegram TelegramConfig `yaml:"telegram"`
	Discord  DiscordConfig  `yaml:"discord"`
	Webhook  WebhookConfig  `yaml:"webhook"`
}

type ConsoleConfig struct {
	Enabled bool `yaml:"enabled" env:"CADENCE_CONSOLE_ENABLED"`
}

type SlackConfig struct {
	BotToken string `yaml:"bot_token" env:"SLACK_BOT_TOKEN"`
	AppToken string `yaml:"app_token" env:"SLACK_APP_TOKEN"`
}

type TelegramConfig struct {
	Token string `yaml:"token" env:"TELEGRAM_BOT_TOKEN"`
}

type DiscordConfig struct {
	Token string `yaml:"token" env:"DISCORD_BOT_TOKEN"`
}

type WebhookConfig struct {
	Enabled bool   `yaml:"enabled" env:"CADENCE_WEBHOOK_ENABLED"`
	Listen  string `yaml:"listen" env:"CADENCE_WEBHOOK_LISTEN"`
}

// Default returns a config with workable local-development values.
func Default() *Config {
	return &Config{
		BotName:       "cadence",
		CommandPrefix: "!",
		Timezone:      "UTC",
		LogLevel:      "info",
		Storage: StorageConfig{
			Driver:  "file",
			DataDir: "data",
		},
		Transports: TransportsConfig{
			Console: ConsoleConfig{Enabled: true},
			Webhook: WebhookConfig{Listen: "127.0.0.1:7381"},
		},
	}
}

// Load reads the YAML file at path (or the first standard location when
// path is empty), then applies environment overrides on top.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path == "" {
		path = firstExisting(
			"cadence.yaml",
			filepath.Join(os.Getenv("HOME"), ".cadence", "cadence.yaml"),
		)
	}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("apply env overrides: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.BotName == "" {
		return fmt.Errorf("config: bot_name must not be empty")
	}
	switch c.Storage.Driver {
	case "file", "sqlite":
	default:
		return fmt.Errorf("config: unknown storage driver %q", c.Storage.Driver)
	}
	return nil
}

func firstExisting(paths ...string) string {
	for _, p := range paths {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}
