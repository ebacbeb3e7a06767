package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"

	"github.com/TacoronteRiveroCristian/backup-influxdb/internal/util"
	"github.com/TacoronteRiveroCristian/backup-influxdb/internal/validation"
)

// Backup modes.
const (
	ModeIncremental = "incremental"
	ModeRange       = "range"
)

// GlobalConfig holds deployment-level settings. The network name is consumed
// by the container wiring around the service, not by the core itself, but it
// is accepted so real configuration files load unchanged.
type GlobalConfig struct {
	Network string `yaml:"network"`
}

// DatabaseMapping pairs a source database with its destination name.
type DatabaseMapping struct {
	Name        string `yaml:"name"`
	Destination string `yaml:"destination"`
}

// SourceConfig holds the source InfluxDB endpoint configuration.
type SourceConfig struct {
	URL       string            `yaml:"url"`
	SSL       bool              `yaml:"ssl"`
	VerifySSL bool              `yaml:"verify_ssl"`
	User      string            `yaml:"user"`
	Password  string            `yaml:"password"`
	Databases []DatabaseMapping `yaml:"databases"`
	Prefix    string            `yaml:"prefix"`
	Suffix    string            `yaml:"suffix"`
	GroupBy   string            `yaml:"group_by"`
}

// DestinationConfig holds the destination InfluxDB endpoint configuration.
type DestinationConfig struct {
	URL       string `yaml:"url"`
	SSL       bool   `yaml:"ssl"`
	VerifySSL bool   `yaml:"verify_ssl"`
	User      string `yaml:"user"`
	Password  string `yaml:"password"`
}

// FieldFilterConfig filters fields of a single measurement.
type FieldFilterConfig struct {
	Include []string `yaml:"include"`
	Exclude []string `yaml:"exclude"`
	Types   []string `yaml:"types"`
}

// MeasurementSpec holds per-measurement overrides.
type MeasurementSpec struct {
	Fields FieldFilterConfig `yaml:"fields"`
}

// MeasurementsConfig holds the global measurement filter plus per-measurement
// field filters.
type MeasurementsConfig struct {
	Include  []string                   `yaml:"include"`
	Exclude  []string                   `yaml:"exclude"`
	Specific map[string]MeasurementSpec `yaml:"specific"`
}

// RangeConfig bounds a range-mode backup. Timestamps are ISO-8601 with a Z
// suffix.
type RangeConfig struct {
	StartDate string `yaml:"start_date"`
	EndDate   string `yaml:"end_date"`
}

// IncrementalConfig configures incremental mode. An empty schedule means run
// once and exit.
type IncrementalConfig struct {
	Schedule string `yaml:"schedule"`
}

// MetricsConfig configures the optional Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
	Port    int  `yaml:"port"`
}

// OptionsConfig holds backup behavior options. Timeout and delay values are
// expressed in seconds, matching the on-disk configuration format.
type OptionsConfig struct {
	BackupMode                  string            `yaml:"backup_mode"`
	Range                       RangeConfig       `yaml:"range"`
	Incremental                 IncrementalConfig `yaml:"incremental"`
	TimeoutClient               int               `yaml:"timeout_client"`
	Retries                     int               `yaml:"retries"`
	RetryDelay                  float64           `yaml:"retry_delay"`
	InitialConnectionRetryDelay float64           `yaml:"initial_connection_retry_delay"`
	DaysOfPagination            int               `yaml:"days_of_pagination"`
	ParallelWorkers             int               `yaml:"parallel_workers"`
	BatchSize                   int               `yaml:"batch_size"`
	FieldObsoleteThreshold      string            `yaml:"field_obsolete_threshold"`
	LogLevel                    string            `yaml:"log_level"`
	LogFormat                   string            `yaml:"log_format"`
	Metrics                     MetricsConfig     `yaml:"metrics"`
}

// Config represents one backup process configuration.
type Config struct {
	Name         string             `yaml:"-"`
	Global       GlobalConfig       `yaml:"global"`
	Source       SourceConfig       `yaml:"source"`
	Destination  DestinationConfig  `yaml:"destination"`
	Measurements MeasurementsConfig `yaml:"measurements"`
	Options      OptionsConfig      `yaml:"options"`
}

// LoadConfig loads a configuration from a YAML file. The configuration name
// is derived from the file basename.
func LoadConfig(filePath string) (*Config, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	base := filepath.Base(filePath)
	cfg.Name = strings.TrimSuffix(base, filepath.Ext(base))

	setDefaults(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// setDefaults sets default values for unspecified configuration.
func setDefaults(cfg *Config) {
	if cfg.Options.BackupMode == "" {
		cfg.Options.BackupMode = ModeIncremental
	}
	if cfg.Options.TimeoutClient == 0 {
		cfg.Options.TimeoutClient = 30
	}
	if cfg.Options.Retries == 0 {
		cfg.Options.Retries = 3
	}
	if cfg.Options.RetryDelay == 0 {
		cfg.Options.RetryDelay = 5
	}
	if cfg.Options.InitialConnectionRetryDelay == 0 {
		cfg.Options.InitialConnectionRetryDelay = 10
	}
	if cfg.Options.DaysOfPagination == 0 {
		cfg.Options.DaysOfPagination = 7
	}
	if cfg.Options.ParallelWorkers == 0 {
		cfg.Options.ParallelWorkers = 4
	}
	if cfg.Options.BatchSize == 0 {
		cfg.Options.BatchSize = 5000
	}
	if cfg.Options.LogLevel == "" {
		cfg.Options.LogLevel = "info"
	}
	if cfg.Options.LogFormat == "" {
		cfg.Options.LogFormat = "console"
	}
	if cfg.Options.Metrics.Port == 0 {
		cfg.Options.Metrics.Port = 9273
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if err := validation.ValidateURL(c.Source.URL); err != nil {
		return fmt.Errorf("source.url: %w", err)
	}
	if err := validation.ValidateURL(c.Destination.URL); err != nil {
		return fmt.Errorf("destination.url: %w", err)
	}
	if c.Source.SSL && !strings.HasPrefix(c.Source.URL, "https://") {
		return fmt.Errorf("source.ssl is enabled but source.url is not https")
	}
	if c.Destination.SSL && !strings.HasPrefix(c.Destination.URL, "https://") {
		return fmt.Errorf("destination.ssl is enabled but destination.url is not https")
	}

	for _, db := range c.Source.Databases {
		if err := validation.ValidateDatabaseName(db.Name); err != nil {
			return fmt.Errorf("source.databases: %w", err)
		}
		if db.Destination != "" {
			if err := validation.ValidateDatabaseName(db.Destination); err != nil {
				return fmt.Errorf("source.databases: %w", err)
			}
		}
	}

	switch c.Options.BackupMode {
	case ModeIncremental:
		if c.Options.Incremental.Schedule != "" {
			if _, err := cron.ParseStandard(c.Options.Incremental.Schedule); err != nil {
				return fmt.Errorf("options.incremental.schedule: %w", err)
			}
		}
	case ModeRange:
		start, err := time.Parse(time.RFC3339, c.Options.Range.StartDate)
		if err != nil {
			return fmt.Errorf("options.range.start_date: %w", err)
		}
		end, err := time.Parse(time.RFC3339, c.Options.Range.EndDate)
		if err != nil {
			return fmt.Errorf("options.range.end_date: %w", err)
		}
		if !start.Before(end) {
			return fmt.Errorf("options.range: start_date must be before end_date")
		}
	default:
		return fmt.Errorf("options.backup_mode must be %q or %q, got %q",
			ModeIncremental, ModeRange, c.Options.BackupMode)
	}

	if c.Options.TimeoutClient <= 0 {
		return fmt.Errorf("options.timeout_client must be positive")
	}
	if c.Options.Retries < 0 {
		return fmt.Errorf("options.retries must not be negative")
	}
	if c.Options.RetryDelay < 0 {
		return fmt.Errorf("options.retry_delay must not be negative")
	}
	if c.Options.DaysOfPagination <= 0 {
		return fmt.Errorf("options.days_of_pagination must be positive")
	}
	if c.Options.ParallelWorkers <= 0 {
		return fmt.Errorf("options.parallel_workers must be positive")
	}
	if c.Options.BatchSize <= 0 {
		return fmt.Errorf("options.batch_size must be positive")
	}

	if c.Options.FieldObsoleteThreshold != "" {
		if _, err := util.ParseDuration(c.Options.FieldObsoleteThreshold); err != nil {
			return fmt.Errorf("options.field_obsolete_threshold: %w", err)
		}
	}

	for _, t := range allFieldTypes(c) {
		switch t {
		case "numeric", "string", "boolean":
		default:
			return fmt.Errorf("measurements.specific: unknown field type %q", t)
		}
	}

	switch c.Options.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("options.log_level must be one of debug, info, warn, error")
	}
	switch c.Options.LogFormat {
	case "console", "json":
	default:
		return fmt.Errorf("options.log_format must be console or json")
	}

	return nil
}

func allFieldTypes(c *Config) []string {
	var types []string
	for _, spec := range c.Measurements.Specific {
		types = append(types, spec.Fields.Types...)
	}
	return types
}

// ClientTimeout returns the per-request HTTP timeout.
func (c *Config) ClientTimeout() time.Duration {
	return time.Duration(c.Options.TimeoutClient) * time.Second
}

// RetryDelay returns the delay between retry attempts.
func (c *Config) RetryDelay() time.Duration {
	return time.Duration(c.Options.RetryDelay * float64(time.Second))
}

// InitialConnectionRetryDelay returns the startup connection backoff.
func (c *Config) InitialConnectionRetryDelay() time.Duration {
	return time.Duration(c.Options.InitialConnectionRetryDelay * float64(time.Second))
}

// PageSpan returns the time window length used for pagination.
func (c *Config) PageSpan() time.Duration {
	return time.Duration(c.Options.DaysOfPagination) * 24 * time.Hour
}

// RangeWindow returns the configured range-mode bounds. Only valid after
// Validate has accepted a range-mode configuration.
func (c *Config) RangeWindow() (time.Time, time.Time) {
	start, _ := time.Parse(time.RFC3339, c.Options.Range.StartDate)
	end, _ := time.Parse(time.RFC3339, c.Options.Range.EndDate)
	return start, end
}

// Schedule returns the cron expression for incremental mode, or "" when the
// backup should run once.
func (c *Config) Schedule() string {
	if c.Options.BackupMode != ModeIncremental {
		return ""
	}
	return strings.TrimSpace(c.Options.Incremental.Schedule)
}

// FinalDatabaseName resolves the destination database name for a source
// database. An explicit mapping wins; otherwise prefix/suffix decoration is
// applied to the source name.
func (c *Config) FinalDatabaseName(sourceName, explicit string) string {
	if explicit != "" {
		return explicit
	}
	return c.Source.Prefix + sourceName + c.Source.Suffix
}

// ShouldBackupMeasurement applies the global measurement include/exclude
// filter. When both lists are present the include list wins and the exclude
// list is applied afterwards.
func (c *Config) ShouldBackupMeasurement(measurement string) bool {
	if len(c.Measurements.Include) > 0 {
		if !contains(c.Measurements.Include, measurement) {
			return false
		}
	}
	return !contains(c.Measurements.Exclude, measurement)
}

// ShouldBackupField applies the per-measurement field filter and the allowed
// type filter. The type filter defaults to all types.
func (c *Config) ShouldBackupField(measurement, field, fieldType string) bool {
	spec, ok := c.Measurements.Specific[measurement]
	if !ok {
		return true
	}

	if len(spec.Fields.Types) > 0 && !contains(spec.Fields.Types, fieldType) {
		return false
	}

	if len(spec.Fields.Include) > 0 {
		if !contains(spec.Fields.Include, field) {
			return false
		}
	}
	return !contains(spec.Fields.Exclude, field)
}

func contains(list []string, s string) bool {
	for _, item := range list {
		if item == s {
			return true
		}
	}
	return false
}
