// Package config provides unified configuration for the jsonsqlite tools.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/jsonsqlite/jsonsqlite/internal/docio"
	"github.com/jsonsqlite/jsonsqlite/internal/errors"
	"github.com/jsonsqlite/jsonsqlite/internal/registry"
	"github.com/jsonsqlite/jsonsqlite/internal/storage"
	"github.com/jsonsqlite/jsonsqlite/pkg/types"
)

// EnvPrefix prefixes every environment variable read by LoadFromEnv.
const EnvPrefix = "JSONSQLITE_"

// Config holds the unified configuration.
type Config struct {
	// DataDir is the base directory for all data files
	DataDir string `json:"data_dir" yaml:"data_dir"`

	// Database file configuration
	Database DatabaseConfig `json:"database" yaml:"database"`

	// Export defaults
	Export ExportConfig `json:"export" yaml:"export"`

	// Import behaviour
	Import ImportConfig `json:"import" yaml:"import"`

	// HTTP configuration
	HTTP HTTPConfig `json:"http" yaml:"http"`

	// Storage configuration for saved documents
	Storage StorageConfig `json:"storage" yaml:"storage"`

	// Log configuration
	Log LogConfig `json:"log" yaml:"log"`
}

// DatabaseConfig locates and opens database files.
type DatabaseConfig struct {
	// Dir holds the <name>SQLite.db files
	Dir string `json:"dir" yaml:"dir"`

	// FileSuffix is appended to the database name
	FileSuffix string `json:"file_suffix" yaml:"file_suffix"`

	// BusyTimeout is how long SQLite waits on a locked database
	BusyTimeout time.Duration `json:"busy_timeout" yaml:"busy_timeout"`

	// ForeignKeys enables foreign key enforcement on open
	ForeignKeys bool `json:"foreign_keys" yaml:"foreign_keys"`
}

// ExportConfig holds export defaults.
type ExportConfig struct {
	// Mode is used when a request does not name one: full or partial
	Mode types.Mode `json:"mode" yaml:"mode"`
}

// ImportConfig holds import behaviour.
type ImportConfig struct {
	// LastModifiedTriggers installs a trigger that stamps last_modified on
	// update for every imported table that has that column
	LastModifiedTriggers bool `json:"last_modified_triggers" yaml:"last_modified_triggers"`
}

// HTTPConfig holds HTTP server configuration.
type HTTPConfig struct {
	// Addr is the HTTP listen address
	Addr string `json:"addr" yaml:"addr"`

	// ReadTimeout is the HTTP read timeout
	ReadTimeout time.Duration `json:"read_timeout" yaml:"read_timeout"`

	// WriteTimeout is the HTTP write timeout
	WriteTimeout time.Duration `json:"write_timeout" yaml:"write_timeout"`

	// IdleTimeout is the HTTP idle timeout
	IdleTimeout time.Duration `json:"idle_timeout" yaml:"idle_timeout"`

	// ShutdownTimeout bounds graceful shutdown
	ShutdownTimeout time.Duration `json:"shutdown_timeout" yaml:"shutdown_timeout"`

	// MaxBodyBytes limits the size of an uploaded document
	MaxBodyBytes int64 `json:"max_body_bytes" yaml:"max_body_bytes"`
}

// StorageConfig holds storage configuration.
type StorageConfig struct {
	// Type is the storage type: local, s3
	Type string `json:"type" yaml:"type"`

	// Path is the local storage path (for local type)
	Path string `json:"path" yaml:"path"`

	// S3 configuration (for s3 type)
	S3 S3Config `json:"s3" yaml:"s3"`

	// CacheDir keeps local copies of S3 documents (for s3 type)
	CacheDir string `json:"cache_dir" yaml:"cache_dir"`

	// CacheMaxBytes bounds CacheDir; 0 disables the cache
	CacheMaxBytes int64 `json:"cache_max_bytes" yaml:"cache_max_bytes"`
}

// S3Config holds S3 storage configuration.
type S3Config struct {
	// Bucket is the S3 bucket name
	Bucket string `json:"bucket" yaml:"bucket"`

	// Prefix is prepended to every object key
	Prefix string `json:"prefix" yaml:"prefix"`

	// Region is the AWS region
	Region string `json:"region" yaml:"region"`

	// Endpoint is the S3 endpoint (for S3-compatible storage)
	Endpoint string `json:"endpoint" yaml:"endpoint"`

	// UsePathStyle is required by MinIO
	UsePathStyle bool `json:"use_path_style" yaml:"use_path_style"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	// Level is debug, info, warn or error
	Level string `json:"level" yaml:"level"`

	// Format is text or json
	Format string `json:"format" yaml:"format"`

	// File, when set, also receives log output with rotation
	File string `json:"file" yaml:"file"`

	// MaxSizeMB is the size at which the log file is rotated
	MaxSizeMB int `json:"max_size_mb" yaml:"max_size_mb"`

	// MaxBackups is the number of rotated files kept
	MaxBackups int `json:"max_backups" yaml:"max_backups"`

	// MaxAgeDays is how long rotated files are kept
	MaxAgeDays int `json:"max_age_days" yaml:"max_age_days"`

	// Compress gzips rotated files
	Compress bool `json:"compress" yaml:"compress"`
}

// DefaultConfig returns the default configuration for local development.
func DefaultConfig() *Config {
	return &Config{
		DataDir: "./data/jsonsqlite",
		Database: DatabaseConfig{
			FileSuffix:  "SQLite.db",
			BusyTimeout: 5 * time.Second,
			ForeignKeys: true,
		},
		Export: ExportConfig{
			Mode: types.ModeFull,
		},
		HTTP: HTTPConfig{
			Addr:            ":8080",
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    60 * time.Second,
			IdleTimeout:     120 * time.Second,
			ShutdownTimeout: 30 * time.Second,
			MaxBodyBytes:    64 << 20,
		},
		Storage: StorageConfig{
			Type: storage.BackendLocal,
		},
		Log: LogConfig{
			Level:      "info",
			Format:     "text",
			MaxSizeMB:  100,
			MaxBackups: 3,
			MaxAgeDays: 28,
		},
	}
}

// Resolve resolves relative paths and sets defaults based on DataDir.
func (c *Config) Resolve() {
	if c.DataDir == "" {
		c.DataDir = "./data/jsonsqlite"
	}
	if c.Database.Dir == "" {
		c.Database.Dir = filepath.Join(c.DataDir, "databases")
	}
	if c.Storage.Path == "" {
		c.Storage.Path = filepath.Join(c.DataDir, "documents")
	}
	if c.Storage.CacheMaxBytes > 0 && c.Storage.CacheDir == "" {
		c.Storage.CacheDir = filepath.Join(c.DataDir, "cache")
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.DataDir == "" {
		return invalid("data_dir is required")
	}
	if c.Database.FileSuffix == "" {
		return invalid("database.file_suffix is required")
	}
	if c.Database.BusyTimeout < 0 {
		return invalid("database.busy_timeout must not be negative, got %s", c.Database.BusyTimeout)
	}
	if !c.Export.Mode.Valid() {
		return invalid("invalid export mode: %s (must be full or partial)", c.Export.Mode)
	}
	if c.Storage.Type != storage.BackendLocal && c.Storage.Type != storage.BackendS3 {
		return invalid("invalid storage type: %s (must be local or s3)", c.Storage.Type)
	}
	if c.Storage.Type == storage.BackendS3 && c.Storage.S3.Bucket == "" {
		return invalid("s3.bucket is required when storage type is s3")
	}
	if c.Storage.CacheMaxBytes < 0 {
		return invalid("storage.cache_max_bytes must not be negative, got %d", c.Storage.CacheMaxBytes)
	}
	if c.HTTP.MaxBodyBytes <= 0 {
		return invalid("http.max_body_bytes must be positive, got %d", c.HTTP.MaxBodyBytes)
	}
	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "warning", "error":
	default:
		return invalid("invalid log level: %s", c.Log.Level)
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		return invalid("invalid log format: %s (must be text or json)", c.Log.Format)
	}
	return nil
}

func invalid(format string, args ...interface{}) error {
	return errors.Newf(errors.ErrCategoryConfig, errors.CodeInvalidConfig, format, args...)
}

// RegistryConfig returns the database registry settings.
func (c *Config) RegistryConfig() registry.Config {
	return registry.Config{
		Directory:          c.Database.Dir,
		FileSuffix:         c.Database.FileSuffix,
		BusyTimeout:        c.Database.BusyTimeout,
		DisableForeignKeys: !c.Database.ForeignKeys,
	}
}

// StorageConfig returns the document storage settings.
func (c *Config) StorageConfig() storage.Config {
	s3cfg := storage.DefaultS3Config()
	s3cfg.Bucket = c.Storage.S3.Bucket
	s3cfg.Prefix = c.Storage.S3.Prefix
	if c.Storage.S3.Region != "" {
		s3cfg.Region = c.Storage.S3.Region
	}
	s3cfg.Endpoint = c.Storage.S3.Endpoint
	s3cfg.UsePathStyle = c.Storage.S3.UsePathStyle
	return storage.Config{
		Backend:       c.Storage.Type,
		LocalPath:     c.Storage.Path,
		S3:            s3cfg,
		CacheDir:      c.Storage.CacheDir,
		CacheMaxBytes: c.Storage.CacheMaxBytes,

		CacheSkipSuffixes: []string{docio.FingerprintExtension},
	}
}

// LoadFromFile loads configuration from a YAML or JSON file.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(errors.ErrCategoryConfig, errors.CodeInvalidConfig, "failed to read config file", err)
	}

	cfg := DefaultConfig()

	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, errors.Wrap(errors.ErrCategoryConfig, errors.CodeInvalidConfig, "failed to parse YAML config", err)
		}
	case ".json":
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, errors.Wrap(errors.ErrCategoryConfig, errors.CodeInvalidConfig, "failed to parse JSON config", err)
		}
	default:
		return nil, invalid("unsupported config file format: %s", ext)
	}

	return cfg, nil
}

// LoadFromEnv loads configuration from environment variables.
// Environment variables use the JSONSQLITE_ prefix.
func LoadFromEnv(cfg *Config) {
	setString(&cfg.DataDir, "DATA_DIR")

	// Database configuration
	setString(&cfg.Database.Dir, "DATABASE_DIR")
	setString(&cfg.Database.FileSuffix, "DATABASE_FILE_SUFFIX")
	setDuration(&cfg.Database.BusyTimeout, "DATABASE_BUSY_TIMEOUT")
	setBool(&cfg.Database.ForeignKeys, "DATABASE_FOREIGN_KEYS")

	if v := os.Getenv(EnvPrefix + "EXPORT_MODE"); v != "" {
		cfg.Export.Mode = types.Mode(v)
	}
	setBool(&cfg.Import.LastModifiedTriggers, "IMPORT_LAST_MODIFIED_TRIGGERS")

	// HTTP configuration
	setString(&cfg.HTTP.Addr, "HTTP_ADDR")
	setDuration(&cfg.HTTP.ShutdownTimeout, "HTTP_SHUTDOWN_TIMEOUT")
	if v := os.Getenv(EnvPrefix + "HTTP_MAX_BODY_BYTES"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.HTTP.MaxBodyBytes = n
		}
	}

	// Storage configuration
	setString(&cfg.Storage.Type, "STORAGE_TYPE")
	setString(&cfg.Storage.Path, "STORAGE_PATH")
	setString(&cfg.Storage.S3.Bucket, "S3_BUCKET")
	setString(&cfg.Storage.S3.Prefix, "S3_PREFIX")
	setString(&cfg.Storage.S3.Region, "S3_REGION")
	setString(&cfg.Storage.S3.Endpoint, "S3_ENDPOINT")
	setBool(&cfg.Storage.S3.UsePathStyle, "S3_USE_PATH_STYLE")
	setString(&cfg.Storage.CacheDir, "STORAGE_CACHE_DIR")
	if v := os.Getenv(EnvPrefix + "STORAGE_CACHE_MAX_BYTES"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.Storage.CacheMaxBytes = n
		}
	}

	// Log configuration
	setString(&cfg.Log.Level, "LOG_LEVEL")
	setString(&cfg.Log.Format, "LOG_FORMAT")
	setString(&cfg.Log.File, "LOG_FILE")
}

func setString(dst *string, name string) {
	if v := os.Getenv(EnvPrefix + name); v != "" {
		*dst = v
	}
}

func setBool(dst *bool, name string) {
	if v := os.Getenv(EnvPrefix + name); v != "" {
		*dst = v == "true" || v == "1"
	}
}

func setDuration(dst *time.Duration, name string) {
	if v := os.Getenv(EnvPrefix + name); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		}
	}
}

// EnsureDirectories creates all required directories.
func (c *Config) EnsureDirectories() error {
	dirs := []string{c.DataDir, c.Database.Dir}
	if c.Storage.Type == storage.BackendLocal {
		dirs = append(dirs, c.Storage.Path)
	}
	if c.Log.File != "" {
		dirs = append(dirs, filepath.Dir(c.Log.File))
	}

	for _, dir := range dirs {
		if dir == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0755); err != nil {
			return errors.Wrap(errors.ErrCategoryConfig, errors.CodeInvalidConfig, fmt.Sprintf("failed to create directory %s", dir), err)
		}
	}
	return nil
}
