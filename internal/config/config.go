// Package config loads watcher configuration from flags, environment
// variables, and an optional config file.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config represents the top-level watcher configuration.
type Config struct {
	// APIBaseURL is the scanning server's base URL.
	APIBaseURL string `mapstructure:"api_base_url"`

	// PollInterval is the snapshot poll cadence.
	PollInterval time.Duration `mapstructure:"poll_interval"`

	// PacingGap is the minimum spacing between rendered progress updates.
	PacingGap time.Duration `mapstructure:"pacing_gap"`

	// DismissDelay is how long a completed overlay stays up.
	DismissDelay time.Duration `mapstructure:"dismiss_delay"`

	// ReconcileOnStreamFailure enables one final authoritative snapshot
	// fetch when the event stream is lost mid-scan.
	ReconcileOnStreamFailure bool `mapstructure:"reconcile_on_stream_failure"`

	// OTelEndpoint is the OTLP gRPC collector endpoint; empty disables
	// telemetry export.
	OTelEndpoint string `mapstructure:"otel_endpoint"`

	// LogLevel is the minimum log level: debug, info, warn, error.
	LogLevel string `mapstructure:"log_level"`
}

// Load reads configuration with precedence flags > environment > file >
// defaults. Environment variables use the SCANWATCH prefix
// (SCANWATCH_API_BASE_URL, ...).
func Load() (*Config, error) {
	viper.SetDefault("api_base_url", "http://localhost:8080")
	viper.SetDefault("poll_interval", 2*time.Second)
	viper.SetDefault("pacing_gap", 400*time.Millisecond)
	viper.SetDefault("dismiss_delay", 2*time.Second)
	viper.SetDefault("reconcile_on_stream_failure", false)
	viper.SetDefault("log_level", "info")

	viper.SetEnvPrefix("SCANWATCH")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	viper.AutomaticEnv()

	viper.SetConfigName("scanwatch")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("$HOME/.scanwatch")
	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	return &cfg, nil
}
