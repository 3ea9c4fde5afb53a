// Package config loads the ARA Radar client configuration from YAML with
// environment variable overrides.
package config

import (
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// ---------------------------------------------------------------------------
// Configuration structs
// ---------------------------------------------------------------------------

// Config is the top-level configuration for the ARA Radar client.
type Config struct {
	Backend  Backend  `yaml:"backend"`
	UI       UI       `yaml:"ui"`
	Telegram Telegram `yaml:"telegram"`
	Logging  Logging  `yaml:"logging"`
}

// Backend holds the scoring API endpoints. BaseURL may be empty, in which
// case requests are issued relative to the current host.
type Backend struct {
	BaseURL        string        `yaml:"base_url"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
}

// UI holds dashboard defaults applied at session start.
type UI struct {
	Threshold         float64       `yaml:"threshold"`
	DefaultK          int           `yaml:"default_k"`
	DefaultLiq        float64       `yaml:"default_liq"`
	ExcludePemantauan bool          `yaml:"exclude_pemantauan"`
	AutoRefresh       bool          `yaml:"auto_refresh"`
	RefreshInterval   time.Duration `yaml:"refresh_interval"`
}

// Telegram holds the optional notification sink credentials.
type Telegram struct {
	BotToken string `yaml:"bot_token"`
	ChatID   string `yaml:"chat_id"`
}

// Logging configures the application logger.
type Logging struct {
	Level string `yaml:"level"`
}

// ---------------------------------------------------------------------------
// Loading
// ---------------------------------------------------------------------------

// Default returns the configuration used when no config file is present.
// UI defaults match the backend screening defaults.
func Default() *Config {
	return &Config{
		Backend: Backend{
			RequestTimeout: 30 * time.Second,
		},
		UI: UI{
			Threshold:         0.75,
			DefaultK:          50,
			DefaultLiq:        0.5,
			ExcludePemantauan: true,
			AutoRefresh:       false,
			RefreshInterval:   30 * time.Second,
		},
		Logging: Logging{Level: "info"},
	}
}

// Load reads the YAML configuration file at the given path, parses it into a
// Config struct, and then applies environment variable overrides. A missing
// file is not an error; defaults plus env overrides are returned instead.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err == nil {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, err
		}
	} else if !os.IsNotExist(err) {
		return nil, err
	}

	applyEnvOverrides(cfg)

	return cfg, nil
}

// applyEnvOverrides checks well-known environment variables and overrides the
// corresponding configuration fields when they are set.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("ARA_BACKEND_URL"); v != "" {
		cfg.Backend.BaseURL = v
	}
	// Legacy name carried over from the original deployment.
	if v := os.Getenv("NEXT_PUBLIC_BACKEND_URL"); v != "" {
		cfg.Backend.BaseURL = v
	}

	if v := os.Getenv("ARA_THRESHOLD"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.UI.Threshold = f
		}
	}
	if v := os.Getenv("ARA_DEFAULT_K"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.UI.DefaultK = n
		}
	}

	if v := os.Getenv("ARA_TELEGRAM_BOT_TOKEN"); v != "" {
		cfg.Telegram.BotToken = v
	}
	if v := os.Getenv("ARA_TELEGRAM_CHAT_ID"); v != "" {
		cfg.Telegram.ChatID = v
	}

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
}
