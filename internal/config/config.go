// Package config handles loading and parsing of the objstore configuration.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/replit/object-storage-go/internal/sidecar"
)

// Backend types.
const (
	BackendGCS    = "gcs"
	BackendS3     = "s3"
	BackendAzure  = "azure"
	BackendMemory = "memory"
	BackendLocal  = "local"
	BackendSQLite = "sqlite"
)

// Config is the top-level configuration.
type Config struct {
	// Bucket selects the bucket explicitly. Empty means the sidecar's
	// default bucket.
	Bucket   string         `yaml:"bucket"`
	Sidecar  SidecarConfig  `yaml:"sidecar"`
	Backend  BackendConfig  `yaml:"backend"`
	Logging  LoggingConfig  `yaml:"logging"`
	Emulator EmulatorConfig `yaml:"emulator"`
	Metrics  MetricsConfig  `yaml:"metrics"`
}

// SidecarConfig holds settings for reaching the sidecar.
type SidecarConfig struct {
	URL string `yaml:"url"`
	// TimeoutSeconds bounds each sidecar request. 0 means no timeout.
	TimeoutSeconds int `yaml:"timeout_seconds"`
}

// Timeout returns TimeoutSeconds as a time.Duration.
func (s SidecarConfig) Timeout() time.Duration {
	return time.Duration(s.TimeoutSeconds) * time.Second
}

// BackendConfig selects and configures the storage backend.
type BackendConfig struct {
	// Type is one of "gcs", "s3", "azure", "memory", "local", "sqlite".
	Type   string       `yaml:"type"`
	GCS    GCSConfig    `yaml:"gcs"`
	S3     S3Config     `yaml:"s3"`
	Azure  AzureConfig  `yaml:"azure"`
	Local  LocalConfig  `yaml:"local"`
	SQLite SQLiteConfig `yaml:"sqlite"`
}

// GCSConfig holds Google Cloud Storage settings.
type GCSConfig struct {
	// Endpoint overrides the API endpoint, e.g. for an emulator.
	Endpoint string `yaml:"endpoint"`
	// Transport is "http" (default) or "grpc".
	Transport string `yaml:"transport"`
	// WithoutAuth disables credentials entirely. Only useful with emulators.
	WithoutAuth bool `yaml:"without_auth"`
}

// S3Config holds Amazon S3 settings.
type S3Config struct {
	Region          string `yaml:"region"`
	EndpointURL     string `yaml:"endpoint_url"`
	UsePathStyle    bool   `yaml:"use_path_style"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
}

// AzureConfig holds Azure Blob Storage settings.
type AzureConfig struct {
	// AccountURL is the full storage account URL
	// (e.g. https://account.blob.core.windows.net).
	AccountURL string `yaml:"account_url"`
	// ConnectionString takes precedence over AccountURL when set.
	ConnectionString   string `yaml:"connection_string"`
	UseManagedIdentity bool   `yaml:"use_managed_identity"`
}

// LocalConfig holds local filesystem backend settings.
type LocalConfig struct {
	// RootDir is the base directory holding one directory per bucket.
	RootDir string `yaml:"root_dir"`
}

// SQLiteConfig holds SQLite backend settings.
type SQLiteConfig struct {
	// Path is the filesystem path for the SQLite database file.
	Path string `yaml:"path"`
}

// LoggingConfig holds log settings.
type LoggingConfig struct {
	// Level is "debug", "info", "warn" or "error".
	Level string `yaml:"level"`
	// Format is "text" or "json".
	Format string `yaml:"format"`
}

// EmulatorConfig holds settings for the sidecar emulator.
type EmulatorConfig struct {
	Listen   string `yaml:"listen"`
	BucketID string `yaml:"bucket_id"`
	// AccessToken is the subject token the emulator serves. Generated when
	// empty.
	AccessToken          string `yaml:"access_token"`
	TokenLifetimeSeconds int    `yaml:"token_lifetime_seconds"`
}

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Listen  string `yaml:"listen"`
}

// Load reads a YAML configuration file from the given path and returns a
// parsed Config with defaults applied. An empty path, or a path that does not
// exist, yields the defaults.
func Load(path string) (*Config, error) {
	cfg := defaultConfig()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return cfg, nil
		}
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	// Apply defaults for empty fields that YAML didn't set
	applyDefaults(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate reports settings that cannot be used.
func (c *Config) Validate() error {
	switch c.Backend.Type {
	case BackendGCS, BackendS3, BackendAzure, BackendMemory, BackendLocal, BackendSQLite:
	default:
		return fmt.Errorf("unknown backend type %q", c.Backend.Type)
	}
	switch c.Backend.GCS.Transport {
	case "http", "grpc":
	default:
		return fmt.Errorf("unknown GCS transport %q", c.Backend.GCS.Transport)
	}
	if c.Sidecar.TimeoutSeconds < 0 {
		return fmt.Errorf("sidecar timeout must not be negative")
	}
	return nil
}

// defaultConfig returns a Config with sensible defaults.
func defaultConfig() *Config {
	return &Config{
		Sidecar: SidecarConfig{
			URL: sidecar.DefaultURL,
		},
		Backend: BackendConfig{
			Type: BackendGCS,
			GCS: GCSConfig{
				Transport: "http",
			},
			S3: S3Config{
				Region: "us-east-1",
			},
			Local: LocalConfig{
				RootDir: "./data/objects",
			},
			SQLite: SQLiteConfig{
				Path: "./data/objects.db",
			},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
		Emulator: EmulatorConfig{
			Listen:               "127.0.0.1:1106",
			TokenLifetimeSeconds: 3600,
		},
		Metrics: MetricsConfig{
			Listen: "127.0.0.1:9090",
		},
	}
}

// applyDefaults fills in any fields that are still at their zero value
// after YAML unmarshaling.
func applyDefaults(cfg *Config) {
	def := defaultConfig()
	if cfg.Sidecar.URL == "" {
		cfg.Sidecar.URL = def.Sidecar.URL
	}
	if cfg.Backend.Type == "" {
		cfg.Backend.Type = def.Backend.Type
	}
	if cfg.Backend.GCS.Transport == "" {
		cfg.Backend.GCS.Transport = def.Backend.GCS.Transport
	}
	if cfg.Backend.S3.Region == "" {
		cfg.Backend.S3.Region = def.Backend.S3.Region
	}
	if cfg.Backend.Local.RootDir == "" {
		cfg.Backend.Local.RootDir = def.Backend.Local.RootDir
	}
	if cfg.Backend.SQLite.Path == "" {
		cfg.Backend.SQLite.Path = def.Backend.SQLite.Path
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = def.Logging.Level
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = def.Logging.Format
	}
	if cfg.Emulator.Listen == "" {
		cfg.Emulator.Listen = def.Emulator.Listen
	}
	if cfg.Emulator.TokenLifetimeSeconds == 0 {
		cfg.Emulator.TokenLifetimeSeconds = def.Emulator.TokenLifetimeSeconds
	}
	if cfg.Metrics.Listen == "" {
		cfg.Metrics.Listen = def.Metrics.Listen
	}
}
