package config

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Config holds all application configuration.
type Config struct {
	Server  ServerConfig
	Sandbox SandboxConfig
	Bridge  BridgeConfig
	Store   StoreConfig
	Logging LogConfig
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Port string `envconfig:"PORT" default:"8000"`
	Host string `envconfig:"HOST" default:"0.0.0.0"`
}

// SandboxConfig holds per-instance interpreter configuration.
type SandboxConfig struct {
	CallTimeout  time.Duration `envconfig:"CALL_TIMEOUT" default:"30s"`
	PumpInterval time.Duration `envconfig:"PUMP_INTERVAL" default:"10ms"`
	MaxCallStack int           `envconfig:"MAX_CALL_STACK" default:"2048"`
}

// BridgeConfig holds capability bridge configuration.
type BridgeConfig struct {
	FetchTimeout      time.Duration `envconfig:"FETCH_TIMEOUT" default:"30s"`
	RetryMax          int           `envconfig:"FETCH_RETRY_MAX" default:"2"`
	RequestsPerSecond float64       `envconfig:"FETCH_RPS" default:"0"` // 0 = unlimited
	UserAgent         string        `envconfig:"FETCH_USER_AGENT" default:"Yomuko/1.0"`
}

// StoreConfig holds installed-script store configuration.
type StoreConfig struct {
	ScriptsDir string `envconfig:"SCRIPTS_DIR" default:""`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level       string `envconfig:"LOG_LEVEL" default:"info"`
	Development bool   `envconfig:"LOG_DEV" default:"false"`
}

// Load loads configuration from environment variables.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return &cfg, nil
}

// LoadOrDefault loads configuration from environment or returns default.
func LoadOrDefault() *Config {
	cfg, err := Load()
	if err != nil {
		return Default()
	}
	return cfg
}

// Default returns default configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port: "8000",
			Host: "0.0.0.0",
		},
		Sandbox: SandboxConfig{
			CallTimeout:  30 * time.Second,
			PumpInterval: 10 * time.Millisecond,
			MaxCallStack: 2048,
		},
		Bridge: BridgeConfig{
			FetchTimeout: 30 * time.Second,
			RetryMax:     2,
			UserAgent:    "Yomuko/1.0",
		},
		Logging: LogConfig{
			Level:       "info",
			Development: false,
		},
	}
}
