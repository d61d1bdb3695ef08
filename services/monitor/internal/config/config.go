package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/sethvargo/go-envconfig"
	"gopkg.in/yaml.v3"

	"slotwatch/services/monitor"
	"slotwatch/services/sellerapi"
)

// Config holds runtime configuration for slotwatch. Values come from, in
// increasing priority: Defaults, an optional YAML file, the environment.
type Config struct {
	APIKey       string        `env:"SLOTWATCH_API_KEY,overwrite" yaml:"api_key"`
	ClientID     string        `env:"SLOTWATCH_CLIENT_ID,overwrite" yaml:"client_id"`
	BaseURL      string        `env:"SLOTWATCH_BASE_URL,overwrite" yaml:"base_url"`
	HTTPTimeout  time.Duration `env:"SLOTWATCH_HTTP_TIMEOUT,overwrite" yaml:"http_timeout"`
	DisableHTTP2 bool          `env:"SLOTWATCH_DISABLE_HTTP2,overwrite" yaml:"disable_http2"`

	Monitor Monitor `yaml:"monitor"`

	HistoryLimit int    `env:"SLOTWATCH_HISTORY_LIMIT,overwrite" yaml:"history_limit"`
	DiffLogPath  string `env:"SLOTWATCH_DIFF_LOG,overwrite" yaml:"diff_log"`
	ExportPath   string `env:"SLOTWATCH_EXPORT_PATH,overwrite" yaml:"export_path"`

	OpsAddr        string   `env:"SLOTWATCH_OPS_ADDR,overwrite" yaml:"ops_addr"`
	OpsRateLimit   int      `env:"SLOTWATCH_OPS_RATE_LIMIT,overwrite" yaml:"ops_rate_limit"`
	AllowedOrigins []string `env:"SLOTWATCH_ALLOWED_ORIGINS,overwrite" yaml:"allowed_origins"`

	NATSURL string `env:"NATS_URL,overwrite" yaml:"nats_url"`

	LogLevel  string `env:"SLOTWATCH_LOG_LEVEL,overwrite" yaml:"log_level"`
	LogFormat string `env:"SLOTWATCH_LOG_FORMAT,overwrite" yaml:"log_format"`
}

// Monitor configures the watch command.
type Monitor struct {
	OrderIDs         []int64       `env:"SLOTWATCH_ORDER_IDS,overwrite" yaml:"order_ids"`
	Pick             int           `env:"SLOTWATCH_PICK,overwrite" yaml:"pick"`
	RPS              float64       `env:"SLOTWATCH_RPS,overwrite" yaml:"rps"`
	From             string        `env:"SLOTWATCH_FROM,overwrite" yaml:"from"`
	To               string        `env:"SLOTWATCH_TO,overwrite" yaml:"to"`
	ComparisonKey    string        `env:"SLOTWATCH_COMPARISON_KEY,overwrite" yaml:"comparison_key"`
	MinCycleInterval time.Duration `env:"SLOTWATCH_MIN_CYCLE_INTERVAL,overwrite" yaml:"min_cycle_interval"`
	MaxFailures      int           `env:"SLOTWATCH_MAX_FAILURES,overwrite" yaml:"max_failures"`
	RestartEvery     time.Duration `env:"SLOTWATCH_RESTART_EVERY,overwrite" yaml:"restart_every"`
}

// Defaults returns the configuration used when nothing is set.
func Defaults() Config {
	return Config{
		BaseURL:      sellerapi.DefaultBaseURL,
		HTTPTimeout:  30 * time.Second,
		HistoryLimit: 100,
		OpsRateLimit: 100,
		LogLevel:     "info",
		LogFormat:    "json",
		Monitor: Monitor{
			RPS:              monitor.DefaultRPS,
			ComparisonKey:    monitor.DefaultComparisonKey,
			MinCycleInterval: monitor.DefaultMinCycleInterval,
			MaxFailures:      monitor.DefaultMaxFailures,
		},
	}
}

// Load builds the configuration from path (optional) and the process
// environment.
func Load(ctx context.Context, path string) (Config, error) {
	return LoadWith(ctx, path, envconfig.OsLookuper())
}

// LoadWith is Load with an explicit environment source.
func LoadWith(ctx context.Context, path string, lookuper envconfig.Lookuper) (Config, error) {
	cfg := Defaults()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config file %s: %w", path, err)
		}
	}

	if err := envconfig.ProcessWith(ctx, &envconfig.Config{
		Target:   &cfg,
		Lookuper: lookuper,
	}); err != nil {
		return Config{}, fmt.Errorf("process env: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks values independent of the command being run.
func (c Config) Validate() error {
	var errs []error
	if c.Monitor.RPS <= 0 {
		errs = append(errs, fmt.Errorf("SLOTWATCH_RPS must be positive, got %v", c.Monitor.RPS))
	}
	if c.Monitor.Pick < 0 {
		errs = append(errs, fmt.Errorf("SLOTWATCH_PICK must not be negative, got %d", c.Monitor.Pick))
	}
	if c.Monitor.MaxFailures < 0 {
		errs = append(errs, fmt.Errorf("SLOTWATCH_MAX_FAILURES must not be negative, got %d", c.Monitor.MaxFailures))
	}
	if c.Monitor.MinCycleInterval < 0 || c.Monitor.RestartEvery < 0 || c.HTTPTimeout < 0 {
		errs = append(errs, errors.New("durations must not be negative"))
	}
	for _, id := range c.Monitor.OrderIDs {
		if id <= 0 {
			errs = append(errs, fmt.Errorf("invalid supply order id %d", id))
		}
	}
	if c.OpsRateLimit < 0 {
		errs = append(errs, fmt.Errorf("SLOTWATCH_OPS_RATE_LIMIT must not be negative, got %d", c.OpsRateLimit))
	}
	if _, err := zerolog.ParseLevel(strings.ToLower(c.LogLevel)); err != nil {
		errs = append(errs, fmt.Errorf("invalid SLOTWATCH_LOG_LEVEL %q", c.LogLevel))
	}
	switch c.LogFormat {
	case "json", "console":
	default:
		errs = append(errs, fmt.Errorf("SLOTWATCH_LOG_FORMAT must be json or console, got %q", c.LogFormat))
	}
	return errors.Join(errs...)
}

// RequireCredentials reports missing seller API credentials.
func (c Config) RequireCredentials() error {
	var missing []string
	if c.APIKey == "" {
		missing = append(missing, "SLOTWATCH_API_KEY")
	}
	if c.ClientID == "" {
		missing = append(missing, "SLOTWATCH_CLIENT_ID")
	}
	if len(missing) > 0 {
		return fmt.Errorf("%s required", strings.Join(missing, " and "))
	}
	return nil
}

// Level returns the parsed log level.
func (c Config) Level() zerolog.Level {
	lvl, err := zerolog.ParseLevel(strings.ToLower(c.LogLevel))
	if err != nil {
		return zerolog.InfoLevel
	}
	return lvl
}

// MonitorConfig converts the watch settings for the given ids.
func (c Config) MonitorConfig(ids []int64) monitor.Config {
	return monitor.Config{
		IDs:              ids,
		RPS:              c.Monitor.RPS,
		From:             c.Monitor.From,
		To:               c.Monitor.To,
		ComparisonKey:    c.Monitor.ComparisonKey,
		MinCycleInterval: c.Monitor.MinCycleInterval,
		MaxFailures:      c.Monitor.MaxFailures,
	}
}
