package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/cuemby/kvmigrate/pkg/log"
	"github.com/cuemby/kvmigrate/pkg/migrate"
	"github.com/cuemby/kvmigrate/pkg/storage"
	"github.com/cuemby/kvmigrate/pkg/types"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// EnvPrefix is prepended to every environment variable the config reads
const EnvPrefix = "KVMIGRATE_"

// ErrInvalidConfig is returned by Validate for out of range settings
var ErrInvalidConfig = errors.New("invalid configuration")

// Config holds everything a migration run needs
type Config struct {
	Source    string `yaml:"source"`
	Target    string `yaml:"target"`
	Databases string `yaml:"databases"`

	ScanBatchSize int64  `yaml:"scan_batch_size"`
	ChunkSize     int    `yaml:"chunk_size"`
	KeyPattern    string `yaml:"key_pattern"`
	Workers       int    `yaml:"workers"`
	MaxInFlight   int    `yaml:"max_inflight"`
	DryRun        bool   `yaml:"dry_run"`
	FailOnError   bool   `yaml:"fail_on_error"`

	SourcePassword string `yaml:"source_password,omitempty"`
	TargetPassword string `yaml:"target_password,omitempty"`

	PoolSize     int           `yaml:"pool_size"`
	DialTimeout  time.Duration `yaml:"dial_timeout"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`

	Log         LogConfig `yaml:"log"`
	MetricsAddr string    `yaml:"metrics_addr"`
	Progress    bool      `yaml:"progress"`
}

// LogConfig holds logging settings
type LogConfig struct {
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"`
}

// Default returns a config with the engine defaults filled in
func Default() *Config {
	return &Config{
		ScanBatchSize: migrate.DefaultScanBatchSize,
		ChunkSize:     migrate.DefaultChunkSize,
		KeyPattern:    migrate.DefaultKeyPattern,
		Workers:       migrate.DefaultWorkers(),
		DialTimeout:   5 * time.Second,
		ReadTimeout:   30 * time.Second,
		WriteTimeout:  30 * time.Second,
		Log:           LogConfig{Level: string(log.InfoLevel)},
	}
}

// Load reads a YAML file over the defaults. Keys missing from the file keep
// their default value.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	return cfg, nil
}

// LoadEnv loads envFile (when it exists) into the process environment and
// overlays every KVMIGRATE_* variable onto c. An empty envFile means ".env".
func (c *Config) LoadEnv(envFile string) error {
	if envFile == "" {
		envFile = ".env"
	}
	if err := godotenv.Load(envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to load %s: %w", envFile, err)
	}

	str := func(name string, dst *string) {
		if v, ok := os.LookupEnv(EnvPrefix + name); ok {
			*dst = v
		}
	}
	var errs []error
	num := func(name string, set func(int64)) {
		v, ok := os.LookupEnv(EnvPrefix + name)
		if !ok {
			return
		}
		n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s%s: %w", EnvPrefix, name, err))
			return
		}
		set(n)
	}
	flag := func(name string, dst *bool) {
		v, ok := os.LookupEnv(EnvPrefix + name)
		if !ok {
			return
		}
		b, err := strconv.ParseBool(strings.TrimSpace(v))
		if err != nil {
			errs = append(errs, fmt.Errorf("%s%s: %w", EnvPrefix, name, err))
			return
		}
		*dst = b
	}

	str("SOURCE", &c.Source)
	str("TARGET", &c.Target)
	str("DATABASES", &c.Databases)
	str("KEY_PATTERN", &c.KeyPattern)
	str("SOURCE_PASSWORD", &c.SourcePassword)
	str("TARGET_PASSWORD", &c.TargetPassword)
	str("LOG_LEVEL", &c.Log.Level)
	str("METRICS_ADDR", &c.MetricsAddr)
	num("SCAN_BATCH_SIZE", func(n int64) { c.ScanBatchSize = n })
	num("CHUNK_SIZE", func(n int64) { c.ChunkSize = int(n) })
	num("WORKERS", func(n int64) { c.Workers = int(n) })
	num("MAX_INFLIGHT", func(n int64) { c.MaxInFlight = int(n) })
	num("POOL_SIZE", func(n int64) { c.PoolSize = int(n) })
	flag("DRY_RUN", &c.DryRun)
	flag("FAIL_ON_ERROR", &c.FailOnError)
	flag("LOG_JSON", &c.Log.JSON)
	flag("PROGRESS", &c.Progress)

	return errors.Join(errs...)
}

// Plan is a validated config resolved into what the engine consumes
type Plan struct {
	Source    *storage.Endpoint
	Target    *storage.Endpoint
	Databases []types.LogicalDatabase
	Options   migrate.Options
}

// Validate checks c and resolves it into a Plan. Nothing is dialed.
func (c *Config) Validate() (*Plan, error) {
	dbs, err := migrate.ParseDatabases(c.Databases)
	if err != nil {
		return nil, err
	}

	switch {
	case c.ScanBatchSize <= 0:
		return nil, fmt.Errorf("%w: scan batch size must be positive, got %d", ErrInvalidConfig, c.ScanBatchSize)
	case c.ChunkSize <= 0:
		return nil, fmt.Errorf("%w: chunk size must be positive, got %d", ErrInvalidConfig, c.ChunkSize)
	case c.Workers < 0:
		return nil, fmt.Errorf("%w: workers must not be negative, got %d", ErrInvalidConfig, c.Workers)
	case c.MaxInFlight < 0:
		return nil, fmt.Errorf("%w: max in-flight must not be negative, got %d", ErrInvalidConfig, c.MaxInFlight)
	case strings.TrimSpace(c.KeyPattern) == "":
		return nil, fmt.Errorf("%w: key pattern is empty", ErrInvalidConfig)
	}

	base := storage.RedisOptions{
		PoolSize:     c.PoolSize,
		DialTimeout:  c.DialTimeout,
		ReadTimeout:  c.ReadTimeout,
		WriteTimeout: c.WriteTimeout,
	}

	srcOpts := base
	srcOpts.Password = c.SourcePassword
	source, err := storage.ParseEndpoint(c.Source, srcOpts)
	if err != nil {
		return nil, fmt.Errorf("export host: %w", err)
	}

	dstOpts := base
	dstOpts.Password = c.TargetPassword
	target, err := storage.ParseEndpoint(c.Target, dstOpts)
	if err != nil {
		return nil, fmt.Errorf("import host: %w", err)
	}

	return &Plan{
		Source:    source,
		Target:    target,
		Databases: dbs,
		Options: migrate.Options{
			ScanBatchSize: c.ScanBatchSize,
			ChunkSize:     c.ChunkSize,
			KeyPattern:    c.KeyPattern,
			Workers:       c.Workers,
			MaxInFlight:   c.MaxInFlight,
			DryRun:        c.DryRun,
		},
	}, nil
}
