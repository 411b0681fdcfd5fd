package config

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// Env variable names.
const (
	EnvLogLevel      = "PULSE_LOG_LEVEL"
	EnvLogFormat     = "PULSE_LOG_FORMAT"
	EnvLogFile       = "PULSE_LOG_FILE"
	EnvSettingsFile  = "PULSE_SETTINGS_FILE"
	EnvRedisAddr     = "PULSE_REDIS_ADDR"
	EnvRedisPassword = "PULSE_REDIS_PASSWORD"
	EnvRedisDB       = "PULSE_REDIS_DB"
	EnvRedisKey      = "PULSE_REDIS_KEY"
	EnvMetricsAddr   = "PULSE_METRICS_ADDR"
	EnvLiveness      = "PULSE_LIVENESS_INTERVAL"
)

// Config holds process-level settings. User-facing display settings live in
// the settings store, not here.
type Config struct {
	LogLevel  string
	LogFormat string // "json" or "console"
	LogFile   string // empty = stderr

	SettingsFile string
	Redis        RedisConfig

	MetricsAddr      string
	LivenessInterval time.Duration
}

// RedisConfig selects the synced settings store when Addr is set.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	Key      string
}

// Default returns a Config with every field populated.
func Default() Config {
	return Config{
		LogLevel:         "info",
		LogFormat:        "console",
		SettingsFile:     DefaultSettingsPath(),
		Redis:            RedisConfig{Key: "pulse:settings"},
		LivenessInterval: LivenessInterval,
	}
}

// DefaultSettingsPath resolves $XDG_CONFIG_HOME/pulse/settings.yaml, falling
// back to ~/.config.
func DefaultSettingsPath() string {
	base := os.Getenv("XDG_CONFIG_HOME")
	if base == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "settings.yaml"
		}
		base = filepath.Join(home, ".config")
	}
	return filepath.Join(base, "pulse", "settings.yaml")
}

// LoadFromEnv overrides fields with any PULSE_* variables that are set.
// Unparseable numeric values are ignored.
func (c *Config) LoadFromEnv() {
	if v := os.Getenv(EnvLogLevel); v != "" {
		c.LogLevel = strings.ToLower(v)
	}
	if v := os.Getenv(EnvLogFormat); v != "" {
		c.LogFormat = strings.ToLower(v)
	}
	if v := os.Getenv(EnvLogFile); v != "" {
		c.LogFile = v
	}
	if v := os.Getenv(EnvSettingsFile); v != "" {
		c.SettingsFile = v
	}
	if v := os.Getenv(EnvRedisAddr); v != "" {
		c.Redis.Addr = v
	}
	if v := os.Getenv(EnvRedisPassword); v != "" {
		c.Redis.Password = v
	}
	if v := os.Getenv(EnvRedisDB); v != "" {
		if db, err := strconv.Atoi(v); err == nil {
			c.Redis.DB = db
		}
	}
	if v := os.Getenv(EnvRedisKey); v != "" {
		c.Redis.Key = v
	}
	if v := os.Getenv(EnvMetricsAddr); v != "" {
		c.MetricsAddr = v
	}
	if v := os.Getenv(EnvLiveness); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			c.LivenessInterval = d
		}
	}
}
