// Package config loads journalsync configuration from defaults, an optional
// config file, JOURNALSYNC_* environment variables and command-line flags.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"

	"github.com/kimhsiao/journalsync/internal/errors"
	"github.com/kimhsiao/journalsync/internal/logging"
)

// EnvPrefix is prepended to every environment override, e.g. JOURNALSYNC_SYNC_INTERVAL.
const EnvPrefix = "JOURNALSYNC"

// FileName is the config file base name searched for when no path is given.
const FileName = "journalsync"

// Probe modes.
const (
	ProbeHTTP   = "http"
	ProbeDial   = "dial"
	ProbeAlways = "always"
)

// Config is the full runtime configuration.
type Config struct {
	DataDir  string       `mapstructure:"data_dir"`
	InMemory bool         `mapstructure:"in_memory"`
	Log      LogConfig    `mapstructure:"log"`
	Sync     SyncConfig   `mapstructure:"sync"`
	Probe    ProbeConfig  `mapstructure:"probe"`
	Cache    CacheConfig  `mapstructure:"cache"`
	Remote   RemoteConfig `mapstructure:"remote"`
	Server   ServerConfig `mapstructure:"server"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	File       string `mapstructure:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
}

// SyncConfig configures the engine and scheduler.
type SyncConfig struct {
	Interval    time.Duration `mapstructure:"interval"`
	MaxRetries  int           `mapstructure:"max_retries"`
	Concurrency int           `mapstructure:"concurrency"`
}

// ProbeConfig configures connectivity detection.
type ProbeConfig struct {
	Mode     string        `mapstructure:"mode"`
	URL      string        `mapstructure:"url"`
	Address  string        `mapstructure:"address"`
	Timeout  time.Duration `mapstructure:"timeout"`
	Interval time.Duration `mapstructure:"interval"`
}

// CacheConfig configures the snapshot cache.
type CacheConfig struct {
	MaxEntries          int           `mapstructure:"max_entries"`
	Retention           time.Duration `mapstructure:"retention"`
	MaintenanceInterval time.Duration `mapstructure:"maintenance_interval"`
}

// RemoteConfig configures the remote API client.
type RemoteConfig struct {
	BaseURL string        `mapstructure:"base_url"`
	Token   string        `mapstructure:"token"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// ServerConfig configures the status API.
type ServerConfig struct {
	Addr string `mapstructure:"addr"`
}

// DefaultDataDir returns ~/.journalsync, or .journalsync when the home
// directory cannot be resolved.
func DefaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".journalsync"
	}
	return filepath.Join(home, ".journalsync")
}

// SetDefaults registers every key with its default so environment overrides
// are picked up by Unmarshal.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("data_dir", DefaultDataDir())
	v.SetDefault("in_memory", false)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("log.file", "")
	v.SetDefault("log.max_size_mb", 10)
	v.SetDefault("log.max_backups", 3)
	v.SetDefault("log.max_age_days", 28)

	v.SetDefault("sync.interval", 15*time.Minute)
	v.SetDefault("sync.max_retries", 3)
	v.SetDefault("sync.concurrency", 4)

	v.SetDefault("probe.mode", ProbeHTTP)
	v.SetDefault("probe.url", "")
	v.SetDefault("probe.address", "")
	v.SetDefault("probe.timeout", 3*time.Second)
	v.SetDefault("probe.interval", time.Minute)

	v.SetDefault("cache.max_entries", 100)
	v.SetDefault("cache.retention", 7*24*time.Hour)
	v.SetDefault("cache.maintenance_interval", time.Hour)

	v.SetDefault("remote.base_url", "")
	v.SetDefault("remote.token", "")
	v.SetDefault("remote.timeout", 15*time.Second)

	v.SetDefault("server.addr", "127.0.0.1:7420")
}

// NewViper returns a viper instance with defaults and environment binding.
func NewViper() *viper.Viper {
	v := viper.New()
	SetDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// Default returns the configuration built from defaults alone.
func Default() *Config {
	v := viper.New()
	SetDefaults(v)
	cfg, err := decode(v)
	if err != nil {
		// Defaults always decode.
		panic(err)
	}
	return cfg
}

// Load reads the config file into v and decodes the result. An explicit path
// must exist; without one, ./journalsync.{toml,yaml} and the data directory
// are searched and a missing file is not an error.
func Load(v *viper.Viper, path string) (*Config, error) {
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName(FileName)
		v.AddConfigPath(".")
		v.AddConfigPath(v.GetString("data_dir"))
	}

	if err := v.ReadInConfig(); err != nil {
		if _, missing := err.(viper.ConfigFileNotFoundError); path != "" || !missing {
			return nil, errors.Wrap(errors.ErrConfig, "failed to read config file", err)
		}
	}

	cfg, err := decode(v)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func decode(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, errors.Wrap(errors.ErrConfig, "failed to decode config", err)
	}
	return &cfg, nil
}

// Validate rejects values the runtime cannot work with.
func (c *Config) Validate() error {
	var problems []string
	positive := func(name string, d time.Duration) {
		if d <= 0 {
			problems = append(problems, fmt.Sprintf("%s must be positive", name))
		}
	}

	positive("sync.interval", c.Sync.Interval)
	positive("probe.timeout", c.Probe.Timeout)
	positive("probe.interval", c.Probe.Interval)
	positive("cache.retention", c.Cache.Retention)
	positive("cache.maintenance_interval", c.Cache.MaintenanceInterval)
	positive("remote.timeout", c.Remote.Timeout)

	if c.Sync.MaxRetries < 1 {
		problems = append(problems, "sync.max_retries must be at least 1")
	}
	if c.Sync.Concurrency < 1 {
		problems = append(problems, "sync.concurrency must be at least 1")
	}
	if c.Cache.MaxEntries < 1 {
		problems = append(problems, "cache.max_entries must be at least 1")
	}
	if !c.InMemory && c.DataDir == "" {
		problems = append(problems, "data_dir is required unless in_memory is set")
	}

	switch c.Probe.Mode {
	case ProbeHTTP, ProbeDial, ProbeAlways:
	default:
		problems = append(problems, fmt.Sprintf("unknown probe.mode %q", c.Probe.Mode))
	}

	if len(problems) > 0 {
		return errors.New(errors.ErrConfig, strings.Join(problems, "; "))
	}
	return nil
}

// ValidateRemote checks the settings needed to replay operations. Commands
// that only read or write the local queue skip it.
func (c *Config) ValidateRemote() error {
	var problems []string
	if c.Remote.BaseURL == "" {
		problems = append(problems, "remote.base_url is required")
	}
	switch c.Probe.Mode {
	case ProbeHTTP:
		if c.ProbeURL() == "" {
			problems = append(problems, "probe.url or remote.base_url is required for http probing")
		}
	case ProbeDial:
		if c.Probe.Address == "" {
			problems = append(problems, "probe.address is required for dial probing")
		}
	}

	if len(problems) > 0 {
		return errors.New(errors.ErrConfig, strings.Join(problems, "; "))
	}
	return nil
}

// ProbeURL returns the probe target, falling back to the remote base URL.
func (c *Config) ProbeURL() string {
	if c.Probe.URL != "" {
		return c.Probe.URL
	}
	return c.Remote.BaseURL
}

// LoggingOptions converts the log section for logging.Init.
func (c *Config) LoggingOptions() logging.Options {
	return logging.Options{
		Level:      logging.ParseLevel(c.Log.Level),
		Format:     c.Log.Format,
		File:       c.Log.File,
		MaxSizeMB:  c.Log.MaxSizeMB,
		MaxBackups: c.Log.MaxBackups,
		MaxAgeDays: c.Log.MaxAgeDays,
	}
}

// Watch reloads the config file on change. The log level is applied
// immediately; onChange, if set, receives every config that validates.
func Watch(v *viper.Viper, onChange func(*Config)) {
	v.OnConfigChange(func(e fsnotify.Event) {
		if !e.Has(fsnotify.Write) && !e.Has(fsnotify.Create) {
			return
		}
		cfg, err := decode(v)
		if err == nil {
			err = cfg.Validate()
		}
		if err != nil {
			logging.Warn("ignoring invalid config reload", map[string]interface{}{
				"file":  e.Name,
				"error": err.Error(),
			})
			return
		}

		logging.SetLevel(logging.ParseLevel(cfg.Log.Level))
		logging.Info("config reloaded", map[string]interface{}{
			"file":  e.Name,
			"level": cfg.Log.Level,
		})
		if onChange != nil {
			onChange(cfg)
		}
	})
	v.WatchConfig()
}
