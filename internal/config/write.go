package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"github.com/kimhsiao/journalsync/internal/errors"
)

// Supported file formats.
const (
	FormatTOML = "toml"
	FormatYAML = "yaml"
)

// document mirrors Config with durations rendered as strings, which both
// encoders write the same way and viper decodes back into time.Duration.
type document struct {
	DataDir  string    `toml:"data_dir" yaml:"data_dir"`
	InMemory bool      `toml:"in_memory" yaml:"in_memory"`
	Log      logDoc    `toml:"log" yaml:"log"`
	Sync     syncDoc   `toml:"sync" yaml:"sync"`
	Probe    probeDoc  `toml:"probe" yaml:"probe"`
	Cache    cacheDoc  `toml:"cache" yaml:"cache"`
	Remote   remoteDoc `toml:"remote" yaml:"remote"`
	Server   serverDoc `toml:"server" yaml:"server"`
}

type logDoc struct {
	Level      string `toml:"level" yaml:"level"`
	Format     string `toml:"format" yaml:"format"`
	File       string `toml:"file" yaml:"file"`
	MaxSizeMB  int    `toml:"max_size_mb" yaml:"max_size_mb"`
	MaxBackups int    `toml:"max_backups" yaml:"max_backups"`
	MaxAgeDays int    `toml:"max_age_days" yaml:"max_age_days"`
}

type syncDoc struct {
	Interval    string `toml:"interval" yaml:"interval"`
	MaxRetries  int    `toml:"max_retries" yaml:"max_retries"`
	Concurrency int    `toml:"concurrency" yaml:"concurrency"`
}

type probeDoc struct {
	Mode     string `toml:"mode" yaml:"mode"`
	URL      string `toml:"url" yaml:"url"`
	Address  string `toml:"address" yaml:"address"`
	Timeout  string `toml:"timeout" yaml:"timeout"`
	Interval string `toml:"interval" yaml:"interval"`
}

type cacheDoc struct {
	MaxEntries          int    `toml:"max_entries" yaml:"max_entries"`
	Retention           string `toml:"retention" yaml:"retention"`
	MaintenanceInterval string `toml:"maintenance_interval" yaml:"maintenance_interval"`
}

type remoteDoc struct {
	BaseURL string `toml:"base_url" yaml:"base_url"`
	Token   string `toml:"token" yaml:"token"`
	Timeout string `toml:"timeout" yaml:"timeout"`
}

type serverDoc struct {
	Addr string `toml:"addr" yaml:"addr"`
}

func toDocument(c *Config) document {
	return document{
		DataDir:  c.DataDir,
		InMemory: c.InMemory,
		Log: logDoc{
			Level:      c.Log.Level,
			Format:     c.Log.Format,
			File:       c.Log.File,
			MaxSizeMB:  c.Log.MaxSizeMB,
			MaxBackups: c.Log.MaxBackups,
			MaxAgeDays: c.Log.MaxAgeDays,
		},
		Sync: syncDoc{
			Interval:    c.Sync.Interval.String(),
			MaxRetries:  c.Sync.MaxRetries,
			Concurrency: c.Sync.Concurrency,
		},
		Probe: probeDoc{
			Mode:     c.Probe.Mode,
			URL:      c.Probe.URL,
			Address:  c.Probe.Address,
			Timeout:  c.Probe.Timeout.String(),
			Interval: c.Probe.Interval.String(),
		},
		Cache: cacheDoc{
			MaxEntries:          c.Cache.MaxEntries,
			Retention:           c.Cache.Retention.String(),
			MaintenanceInterval: c.Cache.MaintenanceInterval.String(),
		},
		Remote: remoteDoc{
			BaseURL: c.Remote.BaseURL,
			Token:   c.Remote.Token,
			Timeout: c.Remote.Timeout.String(),
		},
		Server: serverDoc{Addr: c.Server.Addr},
	}
}

// FormatOf infers the format from a file extension. Unknown extensions are TOML.
func FormatOf(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return FormatYAML
	default:
		return FormatTOML
	}
}

// Encode renders c in the given format.
func Encode(c *Config, format string) ([]byte, error) {
	doc := toDocument(c)
	var buf bytes.Buffer

	switch format {
	case FormatTOML:
		if err := toml.NewEncoder(&buf).Encode(doc); err != nil {
			return nil, errors.Wrap(errors.ErrConfig, "failed to encode toml", err)
		}
	case FormatYAML:
		enc := yaml.NewEncoder(&buf)
		enc.SetIndent(2)
		if err := enc.Encode(doc); err != nil {
			return nil, errors.Wrap(errors.ErrConfig, "failed to encode yaml", err)
		}
		if err := enc.Close(); err != nil {
			return nil, errors.Wrap(errors.ErrConfig, "failed to encode yaml", err)
		}
	default:
		return nil, errors.Newf(errors.ErrConfig, "unsupported config format %q", format)
	}
	return buf.Bytes(), nil
}

// WriteFile writes c to path. An existing file is only replaced when force is set.
func WriteFile(c *Config, path string, force bool) error {
	data, err := Encode(c, FormatOf(path))
	if err != nil {
		return err
	}

	if !force {
		if _, err := os.Stat(path); err == nil {
			return errors.Newf(errors.ErrConfig, "%s already exists", path)
		}
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return errors.Wrap(errors.ErrConfig, "failed to create config directory", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return errors.Wrap(errors.ErrConfig, fmt.Sprintf("failed to write %s", path), err)
	}
	return nil
}
