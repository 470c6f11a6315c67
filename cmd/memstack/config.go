package main

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// =============================================================================
// Config Types
// =============================================================================

// Config holds all application configuration.
type Config struct {
	Docker    DockerConfig    `mapstructure:"docker"`
	Log       LogConfig       `mapstructure:"log"`
	Deploy    DeployConfig    `mapstructure:"deploy"`
	API       APIConfig       `mapstructure:"api"`
	Extension ExtensionConfig `mapstructure:"extension"`
}

// DockerConfig holds Docker client configuration.
type DockerConfig struct {
	Host string `mapstructure:"host"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// DeployConfig holds orchestration configuration.
type DeployConfig struct {
	// StackName names the deployment; containers, network, and volumes are
	// prefixed with it.
	StackName string `mapstructure:"stack_name"`

	// EnvFile is the secrets file materialized on first run.
	EnvFile string `mapstructure:"env_file"`

	// RunLog is the append-only deployment log file.
	RunLog string `mapstructure:"run_log"`

	// HistoryDSN is the SQLite journal of finished runs.
	HistoryDSN string `mapstructure:"history_dsn"`

	// ProbeInterval and ProbeTimeout are the plan-wide polling defaults.
	ProbeInterval time.Duration `mapstructure:"probe_interval"`
	ProbeTimeout  time.Duration `mapstructure:"probe_timeout"`

	// MaxConcurrentProbes bounds per-stage probe parallelism.
	MaxConcurrentProbes int `mapstructure:"max_concurrent_probes"`
}

// APIConfig holds the deployed platform's endpoints and identity.
type APIConfig struct {
	BaseURL       string `mapstructure:"base_url"`
	PrometheusURL string `mapstructure:"prometheus_url"`
	GrafanaURL    string `mapstructure:"grafana_url"`

	// CaseID is the forensic case identifier the deployed platform must
	// report. Validation fails the run on a mismatch.
	CaseID string `mapstructure:"case_id"`
}

// ExtensionConfig holds the optional memory plugin installer configuration.
type ExtensionConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Command string `mapstructure:"command"`
}

// InstallCommand returns the install command as argv, or nil when disabled.
func (c ExtensionConfig) InstallCommand() []string {
	if !c.Enabled {
		return nil
	}
	return strings.Fields(c.Command)
}

// =============================================================================
// Config Loading
// =============================================================================

// LoadConfig loads configuration from file and environment.
func LoadConfig(configPath string) (*Config, error) {
	v := viper.New()

	// Set defaults
	v.SetDefault("docker.host", "")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	v.SetDefault("deploy.stack_name", "memstack")
	v.SetDefault("deploy.env_file", ".env")
	v.SetDefault("deploy.run_log", "./data/deploy.log")
	v.SetDefault("deploy.history_dsn", "./data/history.db")
	v.SetDefault("deploy.probe_interval", "10s")
	v.SetDefault("deploy.probe_timeout", "300s")
	v.SetDefault("deploy.max_concurrent_probes", 5)

	v.SetDefault("api.base_url", "http://localhost:8000")
	v.SetDefault("api.prometheus_url", "http://localhost:9090")
	v.SetDefault("api.grafana_url", "http://localhost:3000")
	v.SetDefault("api.case_id", "1FDV-23-0001009")

	v.SetDefault("extension.enabled", false)
	v.SetDefault("extension.command", "npx -y memstack-memoryplugin install")

	// Load from file if provided
	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			// Only return error if file was explicitly specified and is invalid
			if _, ok := err.(viper.ConfigParseError); ok {
				return nil, fmt.Errorf("failed to parse config file: %w", err)
			}
			// File not found is OK, we'll use defaults
		}
	}

	// Enable environment variable overrides
	v.SetEnvPrefix("MEMSTACK")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Unmarshal config
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if cfg.Deploy.ProbeInterval <= 0 || cfg.Deploy.ProbeTimeout <= 0 {
		return nil, fmt.Errorf("deploy.probe_interval and deploy.probe_timeout must be positive")
	}

	return &cfg, nil
}

// =============================================================================
// Logger Setup
// =============================================================================

// SetupLogger creates a logger with the configured level and format.
func SetupLogger(cfg *Config) *slog.Logger {
	var level slog.Level
	switch strings.ToLower(cfg.Log.Level) {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn", "warning":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level: level,
	}

	var handler slog.Handler
	if strings.ToLower(cfg.Log.Format) == "text" {
		handler = slog.NewTextHandler(os.Stderr, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	}

	return slog.New(handler)
}
