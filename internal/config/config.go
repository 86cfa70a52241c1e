package config

import (
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"strings"
	"time"

	"github.com/SteelMorgan/binary-file-source/internal/domain"
	"github.com/SteelMorgan/binary-file-source/internal/retry"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// EnvPrefix prefixes every environment override.
// BINSOURCE_CHECK_INTERVAL_MS sets check-interval-ms,
// BINSOURCE_SINK__KAFKA__BROKERS sets sink.kafka.brokers.
const EnvPrefix = "BINSOURCE_"

// Config holds all configuration for the application
type Config struct {
	// Connector settings
	UseDirectoryWatcher  bool   `koanf:"use-directory-watcher" yaml:"use-directory-watcher"`
	DirectoryPath        string `koanf:"directory-path" yaml:"directory-path"`
	CheckIntervalMs      int    `koanf:"check-interval-ms" yaml:"check-interval-ms"`
	FilePath             string `koanf:"file-path" yaml:"file-path"`
	FilePattern          string `koanf:"file-pattern" yaml:"file-pattern"`
	SchemaName           string `koanf:"schema-name" yaml:"schema-name"`
	TopicName            string `koanf:"topic-name" yaml:"topic-name"`
	MaxChunkBytes        int    `koanf:"max-chunk-bytes" yaml:"max-chunk-bytes"`
	MaxRecordsPerCycle   int    `koanf:"max-records-per-cycle" yaml:"max-records-per-cycle"`
	ForgetAfterMs        int    `koanf:"forget-after-ms" yaml:"forget-after-ms"`
	UnavailableWarnAfter int    `koanf:"unavailable-warn-after" yaml:"unavailable-warn-after"`
	FSEvents             bool   `koanf:"fs-events" yaml:"fs-events"` // wake polls on filesystem events

	Offsets    OffsetsConfig    `koanf:"offsets" yaml:"offsets"`
	Sink       SinkConfig       `koanf:"sink" yaml:"sink"`
	ClickHouse ClickHouseConfig `koanf:"clickhouse" yaml:"clickhouse"`
	Retry      RetryConfig      `koanf:"retry" yaml:"retry"`

	// Observability
	Log     LogConfig     `koanf:"log" yaml:"log"`
	Tracing TracingConfig `koanf:"tracing" yaml:"tracing"`
	Metrics MetricsConfig `koanf:"metrics" yaml:"metrics"`
}

type OffsetsConfig struct {
	Path     string `koanf:"path" yaml:"path"`
	InMemory bool   `koanf:"in-memory" yaml:"in-memory"` // dry runs: nothing survives a restart
}

type SinkConfig struct {
	Kind  string      `koanf:"kind" yaml:"kind"` // kafka|stdout
	Kafka KafkaConfig `koanf:"kafka" yaml:"kafka"`
}

type KafkaConfig struct {
	Brokers      []string `koanf:"brokers" yaml:"brokers"`
	RequiredAcks int      `koanf:"required-acks" yaml:"required-acks"` // 0,1,-1
	ClientID     string   `koanf:"client-id" yaml:"client-id"`
}

type ClickHouseConfig struct {
	Enabled  bool   `koanf:"enabled" yaml:"enabled"` // mirror committed progress
	Host     string `koanf:"host" yaml:"host"`
	Port     int    `koanf:"port" yaml:"port"`
	Database string `koanf:"database" yaml:"database"`
}

type RetryConfig struct {
	MaxAttempts    int     `koanf:"max-attempts" yaml:"max-attempts"`
	InitialDelayMs int     `koanf:"initial-delay-ms" yaml:"initial-delay-ms"`
	MaxDelayMs     int     `koanf:"max-delay-ms" yaml:"max-delay-ms"`
	Multiplier     float64 `koanf:"multiplier" yaml:"multiplier"`
}

// Backoff converts the retry keys to a retry policy
func (r RetryConfig) Backoff() retry.Config {
	return retry.Config{
		MaxAttempts:  r.MaxAttempts,
		InitialDelay: time.Duration(r.InitialDelayMs) * time.Millisecond,
		MaxDelay:     time.Duration(r.MaxDelayMs) * time.Millisecond,
		Multiplier:   r.Multiplier,
	}
}

type LogConfig struct {
	Level string `koanf:"level" yaml:"level"`
	File  string `koanf:"file" yaml:"file"`
}

type TracingConfig struct {
	Enabled  bool   `koanf:"enabled" yaml:"enabled"`
	Endpoint string `koanf:"endpoint" yaml:"endpoint"`
	Protocol string `koanf:"protocol" yaml:"protocol"` // grpc|http
	// share of poll cycles traced, 0 uses the default
	SampleRatio float64 `koanf:"sample-ratio" yaml:"sample-ratio"`
}

type MetricsConfig struct {
	Port int `koanf:"port" yaml:"port"` // 0 disables the endpoint
}

// Load merges the YAML file (if present) with environment overrides,
// applies defaults and validates the result
func Load(path string) (*Config, error) {
	k := koanf.New(".")
	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil &&
			!errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("failed to read environment: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	applyDefaults(cfg, k)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// envKey maps BINSOURCE_SINK__KAFKA__CLIENT_ID to sink.kafka.client-id
func envKey(s string) string {
	s = strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
	s = strings.ReplaceAll(s, "__", ".")
	return strings.ReplaceAll(s, "_", "-")
}

func applyDefaults(c *Config, k *koanf.Koanf) {
	if !k.Exists("use-directory-watcher") {
		c.UseDirectoryWatcher = true
	}
	if c.DirectoryPath == "" && c.UseDirectoryWatcher {
		c.DirectoryPath = "./tmp"
	}
	if !k.Exists("check-interval-ms") {
		c.CheckIntervalMs = 1000
	}
	if c.SchemaName == "" {
		c.SchemaName = "filebinaryschema"
	}
	if c.TopicName == "" {
		c.TopicName = "file-binary"
	}
	if c.MaxChunkBytes == 0 {
		c.MaxChunkBytes = 64 * 1024
	}
	if c.MaxRecordsPerCycle == 0 {
		c.MaxRecordsPerCycle = 100
	}
	if !k.Exists("forget-after-ms") {
		c.ForgetAfterMs = 60_000
	}
	if c.UnavailableWarnAfter == 0 {
		c.UnavailableWarnAfter = 3
	}

	if c.Offsets.Path == "" {
		c.Offsets.Path = "binsource-offsets.db"
	}
	if c.Sink.Kind == "" {
		c.Sink.Kind = "stdout"
	}
	if !k.Exists("sink.kafka.required-acks") {
		c.Sink.Kafka.RequiredAcks = -1
	}
	if c.Sink.Kafka.ClientID == "" {
		c.Sink.Kafka.ClientID = "binary-file-source"
	}

	if c.ClickHouse.Host == "" {
		c.ClickHouse.Host = "localhost"
	}
	if c.ClickHouse.Port == 0 {
		c.ClickHouse.Port = 9000
	}
	if c.ClickHouse.Database == "" {
		c.ClickHouse.Database = "ingest"
	}

	if c.Retry.MaxAttempts == 0 {
		c.Retry.MaxAttempts = 3
	}
	if c.Retry.InitialDelayMs == 0 {
		c.Retry.InitialDelayMs = 100
	}
	if c.Retry.MaxDelayMs == 0 {
		c.Retry.MaxDelayMs = 5000
	}
	if c.Retry.Multiplier == 0 {
		c.Retry.Multiplier = 2.0
	}

	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Tracing.Protocol == "" {
		c.Tracing.Protocol = "grpc"
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if _, err := c.Settings(); err != nil {
		return err
	}
	if c.Offsets.Path == "" && !c.Offsets.InMemory {
		return fmt.Errorf("%w: offsets.path", domain.ErrConfigurationMissing)
	}
	switch c.Sink.Kind {
	case "stdout":
	case "kafka":
		if len(c.Sink.Kafka.Brokers) == 0 {
			return fmt.Errorf("%w: sink.kafka.brokers", domain.ErrConfigurationMissing)
		}
		if a := c.Sink.Kafka.RequiredAcks; a < -1 || a > 1 {
			return fmt.Errorf("sink.kafka.required-acks must be -1, 0 or 1, got %d", a)
		}
	default:
		return fmt.Errorf("unknown sink.kind %q (use 'kafka' or 'stdout')", c.Sink.Kind)
	}
	if c.ClickHouse.Enabled && (c.ClickHouse.Port <= 0 || c.ClickHouse.Port > 65535) {
		return fmt.Errorf("clickhouse.port must be between 1 and 65535")
	}
	if c.Retry.MaxAttempts < 1 {
		return fmt.Errorf("retry.max-attempts must be at least 1")
	}
	if c.Tracing.Enabled && c.Tracing.Protocol != "grpc" && c.Tracing.Protocol != "http" {
		return fmt.Errorf("tracing.protocol must be 'grpc' or 'http'")
	}
	if c.Tracing.SampleRatio < 0 || c.Tracing.SampleRatio > 1 {
		return fmt.Errorf("tracing.sample-ratio must be between 0 and 1")
	}
	if c.Metrics.Port < 0 || c.Metrics.Port > 65535 {
		return fmt.Errorf("metrics.port must be between 0 and 65535")
	}
	return nil
}

// Settings is the typed view of the connector settings consumed by the
// ingestion task. The two watch modes are mutually exclusive: directory mode
// only uses the directory path, single-file mode only the file path.
type Settings struct {
	Mode                 domain.WatchMode
	Path                 string
	PollInterval         time.Duration
	MaxChunkBytes        int
	MaxRecordsPerCycle   int
	ForgetAfter          time.Duration
	FilePattern          string
	UnavailableWarnAfter int
	Topic                string
	SchemaName           string
}

// Settings validates the connector keys and resolves the watch mode
func (c *Config) Settings() (Settings, error) {
	s := Settings{
		PollInterval:         time.Duration(c.CheckIntervalMs) * time.Millisecond,
		MaxChunkBytes:        c.MaxChunkBytes,
		MaxRecordsPerCycle:   c.MaxRecordsPerCycle,
		ForgetAfter:          time.Duration(c.ForgetAfterMs) * time.Millisecond,
		UnavailableWarnAfter: c.UnavailableWarnAfter,
		Topic:                c.TopicName,
		SchemaName:           c.SchemaName,
	}

	if c.UseDirectoryWatcher {
		if c.DirectoryPath == "" {
			return Settings{}, fmt.Errorf("%w: directory-path", domain.ErrConfigurationMissing)
		}
		if c.FilePattern != "" {
			if _, err := filepath.Match(c.FilePattern, ""); err != nil {
				return Settings{}, fmt.Errorf("invalid file-pattern %q: %w", c.FilePattern, err)
			}
		}
		s.Mode = domain.ModeDirectory
		s.Path = c.DirectoryPath
		s.FilePattern = c.FilePattern
	} else {
		if c.FilePath == "" {
			return Settings{}, fmt.Errorf("%w: file-path", domain.ErrConfigurationMissing)
		}
		s.Mode = domain.ModeSingleFile
		s.Path = c.FilePath
	}

	if err := s.Validate(); err != nil {
		return Settings{}, err
	}
	return s, nil
}

// Validate checks the typed settings
func (s Settings) Validate() error {
	if s.Path == "" {
		return fmt.Errorf("%w: path", domain.ErrConfigurationMissing)
	}
	if s.Topic == "" {
		return fmt.Errorf("%w: topic-name", domain.ErrConfigurationMissing)
	}
	if s.SchemaName == "" {
		return fmt.Errorf("%w: schema-name", domain.ErrConfigurationMissing)
	}
	if s.PollInterval <= 0 {
		return fmt.Errorf("check-interval-ms must be > 0")
	}
	if s.MaxChunkBytes <= 0 {
		return fmt.Errorf("max-chunk-bytes must be > 0")
	}
	if s.MaxRecordsPerCycle <= 0 {
		return fmt.Errorf("max-records-per-cycle must be > 0")
	}
	if s.ForgetAfter < 0 {
		return fmt.Errorf("forget-after-ms must not be negative")
	}
	if s.UnavailableWarnAfter < 1 {
		return fmt.Errorf("unavailable-warn-after must be at least 1")
	}
	return nil
}
