// Package config loads application configuration from file, environment,
// and defaults.
package config

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for vigil.
type Config struct {
	BaseURL   string        `mapstructure:"base_url"`
	APIKey    string        `mapstructure:"api_key"`
	Model     string        `mapstructure:"model"`
	ModelsTTL time.Duration `mapstructure:"models_ttl"`
	Root      string        `mapstructure:"root"`
	LogLevel  string        `mapstructure:"log_level"`
	Review    ReviewConfig  `mapstructure:"review"`
	MCP       MCPConfig     `mapstructure:"mcp"`
}

// ReviewConfig holds shadow-review settings.
type ReviewConfig struct {
	Enabled      bool          `mapstructure:"enabled"`
	PollInterval time.Duration `mapstructure:"poll_interval"`
	Cooldown     time.Duration `mapstructure:"cooldown"`
}

// MCPConfig holds MCP inspector settings.
type MCPConfig struct {
	ConfigPath string `mapstructure:"config_path"`
}

// Load reads configuration from file, environment, and defaults. The
// LMSTUDIO_* variables are honored alongside the VIGIL_ prefix because the
// server's own tooling sets them.
func Load(cfgFile string) (*Config, error) {
	v := viper.New()

	// Defaults
	v.SetDefault("base_url", "http://127.0.0.1:1234/v1")
	v.SetDefault("api_key", "")
	v.SetDefault("model", "")
	v.SetDefault("models_ttl", "15s")
	v.SetDefault("root", ".")
	v.SetDefault("log_level", "info")
	v.SetDefault("review.enabled", true)
	v.SetDefault("review.poll_interval", "2s")
	v.SetDefault("review.cooldown", "45s")
	v.SetDefault("mcp.config_path", "")

	// Config file
	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.config/vigil")
	}

	// Environment variables
	v.SetEnvPrefix("VIGIL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	_ = v.BindEnv("base_url", "LMSTUDIO_BASE_URL", "VIGIL_BASE_URL")
	_ = v.BindEnv("api_key", "LMSTUDIO_API_KEY", "VIGIL_API_KEY")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	return &cfg, nil
}

// SlogLevel maps the configured log level onto slog's.
func (c *Config) SlogLevel() slog.Level {
	switch strings.ToLower(c.LogLevel) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
