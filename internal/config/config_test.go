package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const minimalYAML = `
global:
  network: backups
source:
  url: http://source:8086
  databases:
    - name: telemetry
      destination: telemetry_backup
destination:
  url: http://dest:8086
options:
  backup_mode: incremental
`

func writeConfig(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig(writeConfig(t, "edge01.yaml", minimalYAML))
	require.NoError(t, err)

	assert.Equal(t, "edge01", cfg.Name)
	assert.Equal(t, ModeIncremental, cfg.Options.BackupMode)
	assert.Equal(t, 30*time.Second, cfg.ClientTimeout())
	assert.Equal(t, 3, cfg.Options.Retries)
	assert.Equal(t, 5*time.Second, cfg.RetryDelay())
	assert.Equal(t, 10*time.Second, cfg.InitialConnectionRetryDelay())
	assert.Equal(t, 7*24*time.Hour, cfg.PageSpan())
	assert.Equal(t, 4, cfg.Options.ParallelWorkers)
	assert.Equal(t, 5000, cfg.Options.BatchSize)
	assert.Equal(t, "info", cfg.Options.LogLevel)
}

func TestLoadConfigRangeMode(t *testing.T) {
	cfg, err := LoadConfig(writeConfig(t, "hist.yaml", `
source:
  url: http://source:8086
destination:
  url: http://dest:8086
options:
  backup_mode: range
  range:
    start_date: "2023-01-01T00:00:00Z"
    end_date: "2023-12-31T23:59:59Z"
  days_of_pagination: 1
  parallel_workers: 8
`))
	require.NoError(t, err)

	start, end := cfg.RangeWindow()
	assert.Equal(t, time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC), start)
	assert.Equal(t, time.Date(2023, 12, 31, 23, 59, 59, 0, time.UTC), end)
	assert.Equal(t, 24*time.Hour, cfg.PageSpan())
	assert.Empty(t, cfg.Schedule())
}

func TestLoadConfigInvalid(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"bad mode", `
source: {url: "http://s:8086"}
destination: {url: "http://d:8086"}
options: {backup_mode: snapshot}
`},
		{"range without dates", `
source: {url: "http://s:8086"}
destination: {url: "http://d:8086"}
options: {backup_mode: range}
`},
		{"range start after end", `
source: {url: "http://s:8086"}
destination: {url: "http://d:8086"}
options:
  backup_mode: range
  range: {start_date: "2024-01-01T00:00:00Z", end_date: "2023-01-01T00:00:00Z"}
`},
		{"missing source url", `
destination: {url: "http://d:8086"}
options: {backup_mode: incremental}
`},
		{"bad cron", `
source: {url: "http://s:8086"}
destination: {url: "http://d:8086"}
options:
  backup_mode: incremental
  incremental: {schedule: "not a cron"}
`},
		{"bad obsolete threshold", `
source: {url: "http://s:8086"}
destination: {url: "http://d:8086"}
options: {backup_mode: incremental, field_obsolete_threshold: "10x"}
`},
		{"bad field type", `
source: {url: "http://s:8086"}
destination: {url: "http://d:8086"}
measurements:
  specific:
    weather:
      fields: {types: [decimal]}
options: {backup_mode: incremental}
`},
		{"reserved database", `
source:
  url: "http://s:8086"
  databases: [{name: _internal, destination: x}]
destination: {url: "http://d:8086"}
options: {backup_mode: incremental}
`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadConfig(writeConfig(t, "bad.yaml", tt.yaml))
			assert.Error(t, err)
		})
	}
}

func TestShouldBackupMeasurement(t *testing.T) {
	cfg := &Config{}
	assert.True(t, cfg.ShouldBackupMeasurement("anything"))

	cfg.Measurements.Include = []string{"weather"}
	assert.True(t, cfg.ShouldBackupMeasurement("weather"))
	assert.False(t, cfg.ShouldBackupMeasurement("power"))

	// Include wins, exclude is applied after it.
	cfg.Measurements.Exclude = []string{"weather", "power"}
	assert.False(t, cfg.ShouldBackupMeasurement("weather"))

	cfg.Measurements.Include = nil
	cfg.Measurements.Exclude = []string{"power"}
	assert.True(t, cfg.ShouldBackupMeasurement("weather"))
	assert.False(t, cfg.ShouldBackupMeasurement("power"))
}

func TestShouldBackupField(t *testing.T) {
	cfg := &Config{
		Measurements: MeasurementsConfig{
			Specific: map[string]MeasurementSpec{
				"weather": {Fields: FieldFilterConfig{
					Include: []string{"temperature", "irradiance"},
					Exclude: []string{"irradiance"},
					Types:   []string{"numeric"},
				}},
			},
		},
	}

	assert.True(t, cfg.ShouldBackupField("weather", "temperature", "numeric"))
	assert.False(t, cfg.ShouldBackupField("weather", "temperature", "string"))
	assert.False(t, cfg.ShouldBackupField("weather", "irradiance", "numeric"))
	assert.False(t, cfg.ShouldBackupField("weather", "humidity", "numeric"))

	// Measurements without a specific spec accept everything.
	assert.True(t, cfg.ShouldBackupField("power", "voltage", "string"))
}

func TestFinalDatabaseName(t *testing.T) {
	cfg := &Config{}
	cfg.Source.Prefix = "bak_"
	cfg.Source.Suffix = "_v1"

	assert.Equal(t, "explicit", cfg.FinalDatabaseName("telemetry", "explicit"))
	assert.Equal(t, "bak_telemetry_v1", cfg.FinalDatabaseName("telemetry", ""))
}
