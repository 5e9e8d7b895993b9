/*
Package config loads and validates application configuration.

PURPOSE:
  One typed Config for the whole process, loaded from an optional YAML file
  with environment variable overrides. Every knob has a sane default so the
  binary runs with no config file at all (useful for local development).

PRECEDENCE (highest wins):
  1. Environment variables (LEASECORE_ prefix, dots become underscores)
  2. Config file (config.yaml in the working directory or --config path)
  3. Built-in defaults
*/
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the root configuration.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Notify    NotifyConfig    `mapstructure:"notify"`
	Lease     LeaseConfig     `mapstructure:"lease"`
	Logger    LoggerConfig    `mapstructure:"logger"`
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	Addr            string        `mapstructure:"addr"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// DatabaseConfig configures SQLite storage.
type DatabaseConfig struct {
	Path string `mapstructure:"path"`
}

// SchedulerConfig configures the external daily-job trigger.
type SchedulerConfig struct {
	// Secret authenticates the scheduler's trigger requests. Empty disables
	// the trigger endpoint entirely.
	Secret string `mapstructure:"secret"`
}

// NotifyConfig configures notification dispatch.
type NotifyConfig struct {
	DedupWindowHours int `mapstructure:"dedup_window_hours"`
}

// LeaseConfig configures contract lifecycle rules.
type LeaseConfig struct {
	ExpiringHorizonDays int `mapstructure:"expiring_horizon_days"`
}

// LoggerConfig configures structured logging.
type LoggerConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Load reads configuration from the given file path (optional, "" skips the
// file) plus environment variables, applies defaults, and validates.
func Load(path string) (*Config, error) {
	v := viper.New()

	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.read_timeout", "10s")
	v.SetDefault("server.write_timeout", "30s")
	v.SetDefault("server.shutdown_timeout", "15s")
	v.SetDefault("database.path", "./data/leasecore.db")
	v.SetDefault("scheduler.secret", "")
	v.SetDefault("notify.dedup_window_hours", 24)
	v.SetDefault("lease.expiring_horizon_days", 30)
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "json")

	v.SetEnvPrefix("LEASECORE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading config file %s: %w", path, err)
		}
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("reading config: %w", err)
			}
			// No file is fine, defaults plus env apply.
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects configurations the process cannot run with.
func (c *Config) Validate() error {
	if c.Server.Addr == "" {
		return errors.New("config: server.addr is required")
	}
	if c.Database.Path == "" {
		return errors.New("config: database.path is required")
	}
	if c.Notify.DedupWindowHours <= 0 {
		return errors.New("config: notify.dedup_window_hours must be positive")
	}
	if c.Lease.ExpiringHorizonDays <= 0 {
		return errors.New("config: lease.expiring_horizon_days must be positive")
	}
	switch c.Logger.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("config: unknown logger.level %q", c.Logger.Level)
	}
	switch c.Logger.Format {
	case "json", "console":
	default:
		return fmt.Errorf("config: unknown logger.format %q", c.Logger.Format)
	}
	return nil
}

// DedupWindow returns the notification dedup window as a duration.
func (c *Config) DedupWindow() time.Duration {
	return time.Duration(c.Notify.DedupWindowHours) * time.Hour
}

// ExpiringHorizon returns the contract expiring horizon as a duration.
func (c *Config) ExpiringHorizon() time.Duration {
	return time.Duration(c.Lease.ExpiringHorizonDays) * 24 * time.Hour
}
