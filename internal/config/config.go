// Package config loads fmeacore settings from an optional YAML file overlaid
// by FMEACORE_* environment variables.
package config

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"fmeacore/internal/blob"
	"fmeacore/internal/core"
	"fmeacore/internal/events"
	"fmeacore/internal/insight"
)

// Config is the complete process configuration.
type Config struct {
	Storage          StorageConfig   `yaml:"storage"`
	Blob             blob.Config     `yaml:"blob"`
	HTTP             HTTPConfig      `yaml:"http"`
	AI               AIConfig        `yaml:"ai"`
	Redis            RedisConfig     `yaml:"redis"`
	NATS             NATSConfig      `yaml:"nats"`
	Export           ExportConfig    `yaml:"export"`
	Directory        DirectoryConfig `yaml:"directory"`
	Log              LogConfig       `yaml:"log"`
	Trace            TraceConfig     `yaml:"trace"`
	HighRPNThreshold int             `yaml:"high_rpn_threshold"`
}

// StorageConfig selects the persistence backend.
type StorageConfig struct {
	Driver      core.StorageDriver `yaml:"driver"`
	SQLitePath  string             `yaml:"sqlite_path"`
	PostgresDSN string             `yaml:"postgres_dsn"`
}

// HTTPConfig configures the API listener.
type HTTPConfig struct {
	Addr            string        `yaml:"addr"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// AIConfig configures the insight backend. An empty APIKey disables insights.
type AIConfig struct {
	APIKey        string        `yaml:"api_key"`
	Model         string        `yaml:"model"`
	BaseURL       string        `yaml:"base_url"`
	MaxConcurrent int64         `yaml:"max_concurrent"`
	RatePerSecond float64       `yaml:"rate_per_second"`
	Burst         int           `yaml:"burst"`
	Timeout       time.Duration `yaml:"timeout"`
	CacheTTL      time.Duration `yaml:"cache_ttl"`
}

// Enabled reports whether an API key is configured.
func (c AIConfig) Enabled() bool { return c.APIKey != "" }

// RunnerOptions maps the limits onto insight.RunnerOptions.
func (c AIConfig) RunnerOptions(logger *slog.Logger) insight.RunnerOptions {
	return insight.RunnerOptions{
		MaxConcurrent: c.MaxConcurrent,
		RatePerSecond: c.RatePerSecond,
		Burst:         c.Burst,
		Timeout:       c.Timeout,
		Logger:        logger,
	}
}

// RedisConfig enables the insight response cache when URL is set.
type RedisConfig struct {
	URL    string `yaml:"url"`
	Prefix string `yaml:"prefix"`
}

// NATSConfig enables change events when URL is set.
type NATSConfig struct {
	URL    string `yaml:"url"`
	Prefix string `yaml:"prefix"`
}

// ExportConfig tunes the export worker.
type ExportConfig struct {
	QueueSize int           `yaml:"queue_size"`
	URLExpiry time.Duration `yaml:"url_expiry"`
}

// DirectoryConfig points at the team directory file.
type DirectoryConfig struct {
	File string `yaml:"file"`
}

// LogConfig selects the slog handler.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Span exporters. TraceExporterNone still records spans in-process and
// TraceExporterStdout writes them as JSON to stderr.
const (
	TraceExporterNone   = "none"
	TraceExporterStdout = "stdout"
)

// TraceConfig selects where operation spans are exported.
type TraceConfig struct {
	Exporter string `yaml:"exporter"`
}

// Default returns the configuration used when nothing is overridden.
func Default() Config {
	return Config{
		Storage: StorageConfig{Driver: core.StorageSQLite, SQLitePath: "./fmeacore.db"},
		Blob:    blob.DefaultConfig(),
		HTTP:    HTTPConfig{Addr: ":8080", ShutdownTimeout: 10 * time.Second},
		AI: AIConfig{
			Model:         insight.DefaultModel,
			MaxConcurrent: 2,
			Burst:         1,
			Timeout:       time.Minute,
			CacheTTL:      15 * time.Minute,
		},
		NATS:             NATSConfig{Prefix: events.DefaultPrefix},
		Export:           ExportConfig{QueueSize: 32, URLExpiry: blob.DefaultURLExpiry},
		Log:              LogConfig{Level: "info", Format: "text"},
		Trace:            TraceConfig{Exporter: TraceExporterNone},
		HighRPNThreshold: core.DefaultHighRPNThreshold,
	}
}

// Load builds the configuration: defaults, then the YAML file at path (if
// any), then the environment. The result is validated.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// ApplyEnv overlays FMEACORE_* variables read through lookup.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok {
			*dst = strings.TrimSpace(v)
		}
	}
	var driver, blobDriver string
	str("FMEACORE_STORAGE_DRIVER", &driver)
	if driver != "" {
		c.Storage.Driver = core.StorageDriver(driver)
	}
	str("FMEACORE_SQLITE_PATH", &c.Storage.SQLitePath)
	str("FMEACORE_POSTGRES_DSN", &c.Storage.PostgresDSN)

	str("FMEACORE_BLOB_DRIVER", &blobDriver)
	if blobDriver != "" {
		c.Blob.Driver = blob.Driver(blobDriver)
	}
	str("FMEACORE_BLOB_FS_ROOT", &c.Blob.FSRoot)
	str("FMEACORE_BLOB_FS_BASE_URL", &c.Blob.FSBaseURL)
	str("FMEACORE_S3_BUCKET", &c.Blob.S3.Bucket)
	str("FMEACORE_S3_REGION", &c.Blob.S3.Region)
	str("FMEACORE_S3_ENDPOINT", &c.Blob.S3.Endpoint)
	str("FMEACORE_S3_PREFIX", &c.Blob.S3.Prefix)
	str("FMEACORE_S3_ACCESS_KEY_ID", &c.Blob.S3.AccessKeyID)
	str("FMEACORE_S3_SECRET_ACCESS_KEY", &c.Blob.S3.SecretAccessKey)

	str("FMEACORE_HTTP_ADDR", &c.HTTP.Addr)

	if c.AI.APIKey == "" {
		str("OPENAI_API_KEY", &c.AI.APIKey)
	}
	str("FMEACORE_AI_API_KEY", &c.AI.APIKey)
	str("FMEACORE_AI_MODEL", &c.AI.Model)
	str("FMEACORE_AI_BASE_URL", &c.AI.BaseURL)

	str("FMEACORE_REDIS_URL", &c.Redis.URL)
	str("FMEACORE_NATS_URL", &c.NATS.URL)
	str("FMEACORE_NATS_PREFIX", &c.NATS.Prefix)
	str("FMEACORE_DIRECTORY_FILE", &c.Directory.File)
	str("FMEACORE_LOG_LEVEL", &c.Log.Level)
	str("FMEACORE_LOG_FORMAT", &c.Log.Format)
	str("FMEACORE_TRACE_EXPORTER", &c.Trace.Exporter)

	if v, ok := lookup("FMEACORE_S3_PATH_STYLE"); ok {
		b, err := strconv.ParseBool(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("FMEACORE_S3_PATH_STYLE: %w", err)
		}
		c.Blob.S3.PathStyle = b
	}
	if v, ok := lookup("FMEACORE_HIGH_RPN_THRESHOLD"); ok {
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("FMEACORE_HIGH_RPN_THRESHOLD: %w", err)
		}
		c.HighRPNThreshold = n
	}
	return nil
}

// Validate rejects settings no component could run with.
func (c Config) Validate() error {
	switch c.Storage.Driver {
	case core.StorageMemory, core.StorageSQLite:
	case core.StoragePostgres:
		if c.Storage.PostgresDSN == "" {
			return fmt.Errorf("storage: postgres_dsn is required for the postgres driver")
		}
	default:
		return fmt.Errorf("storage: unknown driver %q", c.Storage.Driver)
	}
	switch c.Blob.Driver {
	case blob.DriverFilesystem, blob.DriverMemory:
	case blob.DriverS3:
		if c.Blob.S3.Bucket == "" {
			return fmt.Errorf("blob: s3.bucket is required for the s3 driver")
		}
	default:
		return fmt.Errorf("blob: unknown driver %q", c.Blob.Driver)
	}
	if c.HTTP.Addr == "" {
		return fmt.Errorf("http: addr is required")
	}
	if c.HighRPNThreshold < 1 || c.HighRPNThreshold > 1000 {
		return fmt.Errorf("high_rpn_threshold must be within 1..1000, got %d", c.HighRPNThreshold)
	}
	if c.AI.MaxConcurrent < 0 || c.AI.Burst < 0 || c.AI.RatePerSecond < 0 {
		return fmt.Errorf("ai: limits must not be negative")
	}
	if c.Export.QueueSize < 0 {
		return fmt.Errorf("export: queue_size must not be negative")
	}
	if _, err := parseLevel(c.Log.Level); err != nil {
		return err
	}
	switch strings.ToLower(c.Log.Format) {
	case "", "text", "json":
	default:
		return fmt.Errorf("log: unknown format %q", c.Log.Format)
	}
	switch c.Trace.Exporter {
	case "", TraceExporterNone, TraceExporterStdout:
	default:
		return fmt.Errorf("trace: unknown exporter %q", c.Trace.Exporter)
	}
	return nil
}

// StorageOptions converts the storage section for core.OpenStorage.
func (c Config) StorageOptions() core.StorageOptions {
	return core.StorageOptions{
		Driver:      c.Storage.Driver,
		SQLitePath:  c.Storage.SQLitePath,
		PostgresDSN: c.Storage.PostgresDSN,
	}
}

func parseLevel(level string) (slog.Level, error) {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return 0, fmt.Errorf("log: unknown level %q", level)
}

// Logger builds a slog logger writing to w.
func (l LogConfig) Logger(w io.Writer) *slog.Logger {
	level, err := parseLevel(l.Level)
	if err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(l.Format, "json") {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}
