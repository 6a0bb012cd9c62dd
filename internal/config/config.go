// Package config loads the sub000 configuration and sets up logging.
//
// Configuration lives in <root>/config.yaml and can be overridden through
// SUB000_* environment variables and CLI flags bound by the root command.
package config

import (
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/natefinch/lumberjack.v2"
	"gopkg.in/yaml.v3"
)

// DefaultDirName is the cache directory under the user's home.
const DefaultDirName = ".sub000"

// Config is the resolved runtime configuration.
type Config struct {
	// Root is the cache root: index.json, product folders, logs.
	Root string `yaml:"root" mapstructure:"root"`

	// APIBaseURL is the remote product API.
	APIBaseURL string `yaml:"api_base_url" mapstructure:"api_base_url"`

	// UploadURL is the multipart upload endpoint.
	UploadURL string `yaml:"upload_url" mapstructure:"upload_url"`

	// EventsPort is the local WebSocket port for the UXP panel.
	EventsPort int `yaml:"events_port" mapstructure:"events_port"`

	// Transfer knobs.
	MaxConcurrency int           `yaml:"max_concurrency" mapstructure:"max_concurrency"`
	RetryCount     int           `yaml:"retry_count" mapstructure:"retry_count"`
	RetryDelay     time.Duration `yaml:"retry_delay" mapstructure:"retry_delay"`
	Freshness      time.Duration `yaml:"freshness" mapstructure:"freshness"`

	// Daemon intervals.
	SyncInterval   time.Duration `yaml:"sync_interval" mapstructure:"sync_interval"`
	RepairInterval time.Duration `yaml:"repair_interval" mapstructure:"repair_interval"`

	// Logging. An empty LogFile logs to stderr only.
	LogFile       string `yaml:"log_file" mapstructure:"log_file"`
	LogMaxSizeMB  int    `yaml:"log_max_size_mb" mapstructure:"log_max_size_mb"`
	LogMaxBackups int    `yaml:"log_max_backups" mapstructure:"log_max_backups"`
}

// Default returns the built-in configuration rooted under the user's home
// directory.
func Default() *Config {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	return &Config{
		Root:           filepath.Join(home, DefaultDirName),
		EventsPort:     8787,
		MaxConcurrency: 3,
		RetryCount:     3,
		RetryDelay:     time.Second,
		Freshness:      7 * 24 * time.Hour,
		SyncInterval:   5 * time.Minute,
		RepairInterval: time.Minute,
		LogMaxSizeMB:   10,
		LogMaxBackups:  3,
	}
}

// Load resolves the configuration from defaults, the config file (if
// present) and SUB000_* environment variables, in increasing precedence.
// An explicit path must exist; the default <root>/config.yaml may be absent.
func Load(path string) (*Config, error) {
	def := Default()

	v := viper.New()
	v.SetDefault("root", def.Root)
	v.SetDefault("events_port", def.EventsPort)
	v.SetDefault("max_concurrency", def.MaxConcurrency)
	v.SetDefault("retry_count", def.RetryCount)
	v.SetDefault("retry_delay", def.RetryDelay)
	v.SetDefault("freshness", def.Freshness)
	v.SetDefault("sync_interval", def.SyncInterval)
	v.SetDefault("repair_interval", def.RepairInterval)
	v.SetDefault("log_max_size_mb", def.LogMaxSizeMB)
	v.SetDefault("log_max_backups", def.LogMaxBackups)

	v.SetEnvPrefix("SUB000")
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		}
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(def.Root)
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return nil, fmt.Errorf("failed to read config: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return &cfg, nil
}

// WriteDefault writes a commented starter config file at path, refusing to
// overwrite an existing one.
func WriteDefault(path string) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config %s already exists", path)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(Default())
	if err != nil {
		return fmt.Errorf("failed to marshal default config: %w", err)
	}
	header := []byte("# sub000 configuration. Environment variables (SUB000_*) override.\n")
	if err := os.WriteFile(path, append(header, data...), 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// NewLogger builds a prefixed logger. With LogFile set, output goes to a
// size-rotated file and stderr; otherwise stderr only.
func (c *Config) NewLogger(prefix string) *log.Logger {
	var out io.Writer = os.Stderr
	if c.LogFile != "" {
		rotated := &lumberjack.Logger{
			Filename:   c.LogFile,
			MaxSize:    c.LogMaxSizeMB,
			MaxBackups: c.LogMaxBackups,
		}
		out = io.MultiWriter(os.Stderr, rotated)
	}
	return log.New(out, prefix, log.LstdFlags)
}
