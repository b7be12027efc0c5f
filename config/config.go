// Package config loads sandbox engine configuration from YAML. The
// zero value of every section is usable; Load applies defaults after
// parsing so a minimal file only needs to name what it changes.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/dshills/warden/security"
)

// Duration wraps time.Duration so YAML files can use "30s" / "1m30s"
// notation.
type Duration time.Duration

// UnmarshalYAML accepts either a duration string or a bare integer of
// nanoseconds.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err == nil {
		parsed, err := time.ParseDuration(s)
		if err != nil {
			return fmt.Errorf("invalid duration %q: %w", s, err)
		}
		*d = Duration(parsed)
		return nil
	}

	var n int64
	if err := value.Decode(&n); err != nil {
		return fmt.Errorf("invalid duration %q", value.Value)
	}
	*d = Duration(n)
	return nil
}

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Config is the full engine configuration document.
type Config struct {
	Engine  EngineConfig  `yaml:"engine"`
	Limits  LimitsConfig  `yaml:"limits"`
	Storage StorageConfig `yaml:"storage"`
	Audit   AuditConfig   `yaml:"audit"`
	Logging LoggingConfig `yaml:"logging"`
	Watcher WatcherConfig `yaml:"watcher"`
}

// EngineConfig tunes the dispatcher and worker pool.
type EngineConfig struct {
	// PoolSize is the number of sandbox workers. Zero picks the engine
	// default.
	PoolSize int `yaml:"pool_size"`

	// InvocationTimeout bounds each plugin call.
	InvocationTimeout Duration `yaml:"invocation_timeout"`

	// InvocationsPerSecond caps per-plugin call rates. Zero disables
	// the cap.
	InvocationsPerSecond int `yaml:"invocations_per_second"`
}

// Limit presets selectable by name.
const (
	PresetDefault = "default"
	PresetStrict  = "strict"
	PresetRelaxed = "relaxed"
)

// LimitsConfig selects a resource-limit preset and optional overrides.
type LimitsConfig struct {
	// Preset is one of default, strict, or relaxed.
	Preset string `yaml:"preset"`

	// MemoryLimitMB overrides the preset's worker heap ceiling when
	// positive.
	MemoryLimitMB int64 `yaml:"memory_limit_mb"`

	// InstructionLimit overrides the preset's per-invocation Lua
	// instruction budget when positive.
	InstructionLimit int64 `yaml:"instruction_limit"`

	// MaxLogLines overrides the preset's per-invocation log cap when
	// positive.
	MaxLogLines int `yaml:"max_log_lines"`
}

// Resolve maps the section to concrete resource limits.
func (l LimitsConfig) Resolve() (security.ResourceLimits, error) {
	var limits security.ResourceLimits
	switch l.Preset {
	case "", PresetDefault:
		limits = security.DefaultResourceLimits()
	case PresetStrict:
		limits = security.StrictResourceLimits()
	case PresetRelaxed:
		limits = security.RelaxedResourceLimits()
	default:
		return limits, fmt.Errorf("unknown limits preset %q", l.Preset)
	}

	if l.MemoryLimitMB > 0 {
		limits.MemoryLimit = l.MemoryLimitMB * 1024 * 1024
	}
	if l.InstructionLimit > 0 {
		limits.InstructionLimit = l.InstructionLimit
	}
	if l.MaxLogLines > 0 {
		limits.MaxLogLines = l.MaxLogLines
	}
	return limits, nil
}

// Storage drivers selectable by name.
const (
	DriverMemory = "memory"
	DriverMySQL  = "mysql"
	DriverRedis  = "redis"
)

// StorageConfig names the backing stores.
type StorageConfig struct {
	Catalog CatalogConfig `yaml:"catalog"`
	KV      KVConfig      `yaml:"kv"`

	// ArtifactDir is the filesystem root for plugin artifacts.
	ArtifactDir string `yaml:"artifact_dir"`
}

// CatalogConfig selects the plugin catalog backend.
type CatalogConfig struct {
	// Driver is memory or mysql.
	Driver string `yaml:"driver"`
	DSN    string `yaml:"dsn"`
}

// KVConfig selects the per-plugin key-value backend.
type KVConfig struct {
	// Driver is memory or redis.
	Driver   string `yaml:"driver"`
	Address  string `yaml:"address"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Prefix   string `yaml:"prefix"`
}

// AuditConfig enables audit sinks beyond the always-on structured log.
type AuditConfig struct {
	File  FileSinkConfig  `yaml:"file"`
	Redis RedisSinkConfig `yaml:"redis"`
	AMQP  AMQPSinkConfig  `yaml:"amqp"`
}

// FileSinkConfig controls the rotating JSON audit file.
type FileSinkConfig struct {
	Enabled    bool   `yaml:"enabled"`
	Path       string `yaml:"path"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
}

// RedisSinkConfig controls the capped Redis audit list.
type RedisSinkConfig struct {
	Enabled    bool   `yaml:"enabled"`
	Address    string `yaml:"address"`
	Password   string `yaml:"password"`
	DB         int    `yaml:"db"`
	Key        string `yaml:"key"`
	MaxEntries int64  `yaml:"max_entries"`
}

// AMQPSinkConfig controls the RabbitMQ audit fan-out.
type AMQPSinkConfig struct {
	Enabled bool   `yaml:"enabled"`
	URL     string `yaml:"url"`
	Queue   string `yaml:"queue"`
	Durable bool   `yaml:"durable"`
}

// LoggingConfig controls the engine's own structured logging.
type LoggingConfig struct {
	// Level is debug, info, warn, or error.
	Level string `yaml:"level"`

	// Format is text or json.
	Format string `yaml:"format"`
}

// NewLogger builds a slog logger on stderr per the section. Call after
// Validate; unknown values fall back to info-level text.
func (l LoggingConfig) NewLogger() *slog.Logger {
	var level slog.Level
	switch strings.ToLower(l.Level) {
	case "debug":
		level = slog.LevelDebug
	case "", "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	opts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(l.Format, "json") {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}

// WatcherConfig controls the development-mode artifact watcher.
type WatcherConfig struct {
	Enabled  bool     `yaml:"enabled"`
	Debounce Duration `yaml:"debounce"`
}

// Default returns the configuration used when no file is given:
// in-memory stores, default limits, text logging.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

// Load parses a YAML configuration file, applies defaults, and
// validates the result. Unknown fields are rejected so a typo cannot
// silently disable an audit sink.
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path is required")
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	dec := yaml.NewDecoder(strings.NewReader(string(raw)))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Limits.Preset == "" {
		c.Limits.Preset = PresetDefault
	}
	if c.Storage.Catalog.Driver == "" {
		c.Storage.Catalog.Driver = DriverMemory
	}
	if c.Storage.KV.Driver == "" {
		c.Storage.KV.Driver = DriverMemory
	}
	if c.Storage.ArtifactDir == "" {
		c.Storage.ArtifactDir = "plugins"
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}
	if c.Watcher.Debounce == 0 {
		c.Watcher.Debounce = Duration(500 * time.Millisecond)
	}
}

// Validate checks the configuration for internal consistency.
func (c *Config) Validate() error {
	if c.Engine.PoolSize < 0 {
		return errors.New("engine.pool_size cannot be negative")
	}
	if c.Engine.InvocationTimeout < 0 {
		return errors.New("engine.invocation_timeout cannot be negative")
	}
	if _, err := c.Limits.Resolve(); err != nil {
		return err
	}

	switch c.Storage.Catalog.Driver {
	case DriverMemory:
	case DriverMySQL:
		if c.Storage.Catalog.DSN == "" {
			return errors.New("storage.catalog.dsn is required for the mysql driver")
		}
	default:
		return fmt.Errorf("unknown catalog driver %q", c.Storage.Catalog.Driver)
	}

	switch c.Storage.KV.Driver {
	case DriverMemory:
	case DriverRedis:
		if c.Storage.KV.Address == "" {
			return errors.New("storage.kv.address is required for the redis driver")
		}
	default:
		return fmt.Errorf("unknown kv driver %q", c.Storage.KV.Driver)
	}

	if c.Audit.File.Enabled && c.Audit.File.Path == "" {
		return errors.New("audit.file.path is required when the file sink is enabled")
	}
	if c.Audit.Redis.Enabled && c.Audit.Redis.Address == "" {
		return errors.New("audit.redis.address is required when the redis sink is enabled")
	}
	if c.Audit.AMQP.Enabled && c.Audit.AMQP.URL == "" {
		return errors.New("audit.amqp.url is required when the amqp sink is enabled")
	}

	switch strings.ToLower(c.Logging.Level) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("unknown log level %q", c.Logging.Level)
	}
	switch strings.ToLower(c.Logging.Format) {
	case "text", "json":
	default:
		return fmt.Errorf("unknown log format %q", c.Logging.Format)
	}

	return nil
}
