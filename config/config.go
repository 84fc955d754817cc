package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/INLOpen/versionbench/core"
	"gopkg.in/yaml.v3"
)

const (
	ModeLoad            = "load"
	ModeReadModifyWrite = "rmw"
)

// BenchmarkConfig describes one benchmark run.
type BenchmarkConfig struct {
	Mode               string `yaml:"mode"`        // "load" or "rmw"
	PathPrefix         string `yaml:"path_prefix"` // Parent directory of derived database paths
	DBPath             string `yaml:"db_path"`     // Overrides the derived path when set
	ThreadNum          int    `yaml:"thread_num"`
	IDRange            int    `yaml:"id_range"`
	OpsPerThread       int64  `yaml:"ops_per_thread"`
	DestroyBeforeStart bool   `yaml:"destroy_before_start"`
	TSType             string `yaml:"ts_type"` // "embed_asc", "embed_desc" or "udt"
	Engine             string `yaml:"engine"`  // "pebble" or "memtable"
	LoadTimestamp      uint64 `yaml:"load_timestamp"`
	Verify             bool   `yaml:"verify"` // Scan the store after the run and check record counts
	Seed               int64  `yaml:"seed"`   // 0 picks a time-based seed
}

// EngineConfig holds storage engine tuning.
type EngineConfig struct {
	MemtableSizeBytes uint64 `yaml:"memtable_size_bytes"`
	BloomBitsPerKey   int    `yaml:"bloom_bits_per_key"`
	Sync              bool   `yaml:"sync"`
}

// LoggingConfig holds logging-specific configurations.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // e.g., "debug", "info", "warn", "error"
	Output string `yaml:"output"` // e.g., "stdout", "stderr", "file", "none"
	File   string `yaml:"file"`   // Path to the log file, used if output is "file"
}

// TracingConfig holds configuration for distributed tracing.
type TracingConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Endpoint string `yaml:"endpoint"` // e.g., "localhost:4317" for gRPC OTLP collector
	Protocol string `yaml:"protocol"` // "grpc" or "http"
}

// DebugConfig holds debugging-related configurations.
type DebugConfig struct {
	Enabled         bool   `yaml:"enabled"`
	ListenAddress   string `yaml:"listen_address"`
	PProfEnabled    bool   `yaml:"pprof_enabled"`
	MetricsEnabled  bool   `yaml:"metrics_enabled"`
	StatsvizEnabled bool   `yaml:"statsviz_enabled"`
}

// MonitoringConfig controls host resource sampling during a run.
type MonitoringConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Interval string `yaml:"interval"`
}

// Config is the top-level configuration struct.
type Config struct {
	Benchmark  BenchmarkConfig  `yaml:"benchmark"`
	Engine     EngineConfig     `yaml:"engine"`
	Logging    LoggingConfig    `yaml:"logging"`
	Tracing    TracingConfig    `yaml:"tracing"`
	Debug      DebugConfig      `yaml:"debug"`
	Monitoring MonitoringConfig `yaml:"monitoring"`
}

// ParseDuration parses a duration string. Returns the default duration if the string is empty or invalid.
// Logs a warning if the string is invalid but not empty.
func ParseDuration(durationStr string, defaultDuration time.Duration, logger *slog.Logger) time.Duration {
	if durationStr == "" || durationStr == "0" {
		return defaultDuration
	}
	d, err := time.ParseDuration(durationStr)
	if err != nil {
		if logger != nil {
			logger.Warn("Invalid duration format, using default", "input", durationStr, "default", defaultDuration.String(), "error", err)
		}
		return defaultDuration
	}
	return d
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Benchmark: BenchmarkConfig{
			Mode:               ModeReadModifyWrite,
			PathPrefix:         "/tmp/versionbench",
			ThreadNum:          16,
			IDRange:            1000,
			OpsPerThread:       1000000,
			DestroyBeforeStart: true,
			TSType:             core.StrategyEmbedAsc.String(),
			Engine:             "pebble",
		},
		Engine: EngineConfig{
			MemtableSizeBytes: 64 * 1024 * 1024, // 64 MiB
			BloomBitsPerKey:   10,
			Sync:              false,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Output: "stderr",
			File:   "versionbench.log",
		},
		Tracing: TracingConfig{
			Enabled:  false,
			Endpoint: "localhost:4317",
			Protocol: "grpc",
		},
		Debug: DebugConfig{
			Enabled:         false,
			ListenAddress:   "localhost:6060",
			PProfEnabled:    true,
			MetricsEnabled:  true,
			StatsvizEnabled: true,
		},
		Monitoring: MonitoringConfig{
			Enabled:  true,
			Interval: "5s",
		},
	}
}

// Load reads configuration from an io.Reader.
// This is the core logic, separated for testability.
func Load(r io.Reader) (*Config, error) {
	cfg := Default()

	// If the reader is nil, it's like an empty file, return defaults.
	if r == nil {
		return cfg, nil
	}

	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read config data: %w", err)
	}
	if len(data) == 0 {
		return cfg, nil
	}

	// Unmarshal YAML into the config struct, overwriting defaults
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config yaml: %w", err)
	}
	return cfg, nil
}

// LoadConfig reads configuration from a YAML file by path.
func LoadConfig(path string) (*Config, error) {
	file, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			// If file doesn't exist, return default config by calling Load with a nil reader.
			return Load(nil)
		}
		return nil, fmt.Errorf("failed to open config file %s: %w", path, err)
	}
	defer file.Close()

	return Load(file)
}

// Strategy parses the configured ts_type.
func (b *BenchmarkConfig) Strategy() (core.Strategy, error) {
	return core.ParseStrategy(b.TSType)
}

// ResolvedDBPath returns DBPath, or <path_prefix>/test_<id_range>_<ts_type>
// when DBPath is empty.
func (b *BenchmarkConfig) ResolvedDBPath() string {
	if b.DBPath != "" {
		return b.DBPath
	}
	name := b.TSType
	if s, err := b.Strategy(); err == nil {
		name = s.String()
	}
	return filepath.Join(b.PathPrefix, fmt.Sprintf("test_%d_%s", b.IDRange, name))
}

// Validate reports every invalid setting at once.
func (c *Config) Validate() error {
	var errs []error
	b := &c.Benchmark

	switch b.Mode {
	case ModeLoad, ModeReadModifyWrite:
	default:
		errs = append(errs, fmt.Errorf("benchmark.mode must be %q or %q, got %q", ModeLoad, ModeReadModifyWrite, b.Mode))
	}
	if b.ThreadNum <= 0 || b.ThreadNum > math.MaxInt32 {
		errs = append(errs, fmt.Errorf("benchmark.thread_num must be in [1, %d], got %d", math.MaxInt32, b.ThreadNum))
	}
	if b.IDRange <= 0 || b.IDRange > math.MaxInt32 {
		errs = append(errs, fmt.Errorf("benchmark.id_range must be in [1, %d], got %d", math.MaxInt32, b.IDRange))
	}
	if b.OpsPerThread < 0 {
		errs = append(errs, fmt.Errorf("benchmark.ops_per_thread must not be negative, got %d", b.OpsPerThread))
	}
	s, err := b.Strategy()
	if err != nil {
		errs = append(errs, fmt.Errorf("benchmark.ts_type: %w", err))
	} else if s == core.StrategyEmbedDesc && b.LoadTimestamp > core.MaxDescTimestamp {
		errs = append(errs, fmt.Errorf("benchmark.load_timestamp: %w", core.ErrTimestampOutOfRange))
	}
	switch strings.ToLower(b.Engine) {
	case "pebble", "memtable":
	default:
		errs = append(errs, fmt.Errorf("benchmark.engine must be \"pebble\" or \"memtable\", got %q", b.Engine))
	}
	if b.DBPath == "" && b.PathPrefix == "" && strings.ToLower(b.Engine) == "pebble" {
		errs = append(errs, errors.New("benchmark.db_path or benchmark.path_prefix must be set"))
	}

	switch strings.ToLower(c.Logging.Level) {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("logging.level %q is not one of debug, info, warn, error", c.Logging.Level))
	}
	switch strings.ToLower(c.Logging.Output) {
	case "stdout", "stderr", "none":
	case "file":
		if c.Logging.File == "" {
			errs = append(errs, errors.New("logging.file must be set when logging.output is \"file\""))
		}
	default:
		errs = append(errs, fmt.Errorf("logging.output %q is not one of stdout, stderr, file, none", c.Logging.Output))
	}
	if c.Tracing.Enabled {
		switch strings.ToLower(c.Tracing.Protocol) {
		case "grpc", "http":
		default:
			errs = append(errs, fmt.Errorf("tracing.protocol must be \"grpc\" or \"http\", got %q", c.Tracing.Protocol))
		}
	}
	return errors.Join(errs...)
}
