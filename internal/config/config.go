package config

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Config struct for environment variables.
type Config struct {
	ServerURL string `envconfig:"ERDDAP_SERVER_URL" default:"https://gliders.ioos.us/erddap"`
	AuthToken string `envconfig:"ERDDAP_AUTH_TOKEN"`

	OutputDir   string        `envconfig:"OUTPUT_DIR" default:"erddap_data"`
	StatePath   string        `envconfig:"STATE_PATH" default:"sync_state.json"`
	FilePattern string        `envconfig:"FILE_PATTERN" default:"*.nc"`
	FetchDelay  time.Duration `envconfig:"FETCH_DELAY" default:"1s"`
	MaxParallel int           `envconfig:"MAX_PARALLEL" default:"3"`

	LogLevel          string `envconfig:"LOG_LEVEL" default:"INFO"`
	DiscordWebhookURL string `envconfig:"DISCORD_WEBHOOK_URL"`

	MCP struct {
		Transport   string `split_words:"true" default:"stdio"`
		DownloadDir string `split_words:"true" default:"erddap_downloads"`
		Issuer      string `split_words:"true"`
	}

	Telemetry TelemetryConfig

	Web struct {
		BindAddress     string        `split_words:"true" default:"0.0.0.0:8000"`
		ReadTimeout     time.Duration `split_words:"true" default:"30s"`
		WriteTimeout    time.Duration `split_words:"true" default:"30s"`
		IdleTimeout     time.Duration `split_words:"true" default:"5s"`
		ShutdownTimeout time.Duration `split_words:"true" default:"30s"`
	}
}

// TelemetryConfig controls the OpenTelemetry bootstrap.
type TelemetryConfig struct {
	Enabled      bool   `split_words:"true" default:"false"`
	OTLPEndpoint string `envconfig:"TELEMETRY_OTLP_ENDPOINT"`
}

// LoadConfig reads environment variables and populates the Config struct.
func LoadConfig() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("error processing env: %w", err)
	}

	return &cfg, nil
}

func (c *Config) SlogLevel() slog.Level {
	switch strings.ToUpper(c.LogLevel) {
	case "DEBUG":
		return slog.LevelDebug
	case "INFO":
		return slog.LevelInfo
	case "WARN":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
