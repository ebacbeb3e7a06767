package runner

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/TacoronteRiveroCristian/backup-influxdb/internal/backup"
	"github.com/TacoronteRiveroCristian/backup-influxdb/internal/config"
	"github.com/TacoronteRiveroCristian/backup-influxdb/internal/logging"
	"github.com/TacoronteRiveroCristian/backup-influxdb/internal/metrics"
	"github.com/TacoronteRiveroCristian/backup-influxdb/internal/server"
)

// Process exit codes.
const (
	ExitOK            = 0
	ExitConfigInvalid = 2
	ExitFieldsFailed  = 3
	ExitUnreachable   = 4
)

// Options holds the CLI-level settings for a run.
type Options struct {
	ConfigPath   string
	ValidateOnly bool
	Verbose      bool
}

// result is the terminal state of one configuration task.
type result struct {
	config string
	err    error
}

// DiscoverConfigs resolves a path to the list of configuration files it
// denotes: the file itself, or every *.yaml / *.yml inside a directory,
// sorted for deterministic startup order.
func DiscoverConfigs(path string) ([]string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("configuration path not found: %w", err)
	}

	if !info.IsDir() {
		return []string{path}, nil
	}

	entries, err := os.ReadDir(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read configuration directory: %w", err)
	}

	var files []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if strings.HasSuffix(name, ".yaml") || strings.HasSuffix(name, ".yml") {
			files = append(files, filepath.Join(path, name))
		}
	}
	sort.Strings(files)

	if len(files) == 0 {
		return nil, fmt.Errorf("no configuration files found in %s", path)
	}
	return files, nil
}

// Run fans out across all discovered configurations. Each configuration runs
// as a fully isolated task with its own clients, worker pool, metrics and
// logger scope; a panic in one configuration cannot affect the others. The
// returned exit code reflects the worst outcome across configurations.
func Run(ctx context.Context, opts Options, baseLogger *zap.Logger) int {
	files, err := DiscoverConfigs(opts.ConfigPath)
	if err != nil {
		baseLogger.Error("Configuration discovery failed", zap.Error(err))
		return ExitConfigInvalid
	}

	baseLogger.Info("Configurations discovered", zap.Int("count", len(files)))

	configs := make([]*config.Config, 0, len(files))
	var invalid bool
	for _, file := range files {
		cfg, err := config.LoadConfig(file)
		if err != nil {
			baseLogger.Error("Invalid configuration",
				zap.String("file", file),
				zap.Error(err))
			invalid = true
			continue
		}
		baseLogger.Info("Configuration loaded",
			zap.String("config", cfg.Name),
			zap.String("mode", cfg.Options.BackupMode))
		configs = append(configs, cfg)
	}
	if invalid {
		return ExitConfigInvalid
	}

	results := make(chan result, len(configs))
	var wg sync.WaitGroup

	for _, cfg := range configs {
		wg.Add(1)
		go func(cfg *config.Config) {
			defer wg.Done()
			results <- runConfig(ctx, cfg, opts)
		}(cfg)
	}

	wg.Wait()
	close(results)

	var unreachable, failed bool
	var allErrs error
	for res := range results {
		if res.err == nil {
			continue
		}
		allErrs = multierr.Append(allErrs, fmt.Errorf("%s: %w", res.config, res.err))
		switch {
		case errors.Is(res.err, backup.ErrEndpointUnreachable):
			unreachable = true
		default:
			failed = true
		}
	}

	if allErrs != nil {
		baseLogger.Error("One or more configurations failed", zap.Error(allErrs))
	}

	switch {
	case unreachable:
		return ExitUnreachable
	case failed:
		return ExitFieldsFailed
	default:
		return ExitOK
	}
}

// runConfig runs a single configuration to completion with panic isolation.
func runConfig(ctx context.Context, cfg *config.Config, opts Options) (res result) {
	res.config = cfg.Name

	logger, err := logging.New(cfg.Options.LogLevel, cfg.Options.LogFormat, opts.Verbose)
	if err != nil {
		res.err = err
		return res
	}
	logger = logger.With(zap.String("config", cfg.Name))
	defer logger.Sync()

	defer func() {
		if r := recover(); r != nil {
			logger.Error("Configuration task panicked", zap.Any("panic", r))
			res.err = fmt.Errorf("panic: %v", r)
		}
	}()

	var m *metrics.Metrics
	var metricsServer *server.MetricsServer
	if cfg.Options.Metrics.Enabled && !opts.ValidateOnly {
		m = metrics.NewMetrics(cfg.Name)
		metricsServer = server.NewMetricsServer(&server.MetricsServerConfig{
			Port: cfg.Options.Metrics.Port,
		}, logger)
		metricsServer.Start()
		defer metricsServer.Stop()
	}

	orch := backup.New(cfg, logger, m)

	if opts.ValidateOnly {
		res.err = orch.Validate(ctx)
		return res
	}

	if metricsServer != nil {
		if err := orch.WaitForEndpoints(ctx); err != nil {
			res.err = err
			return res
		}
		metricsServer.SetReady(true)
	}

	res.err = orch.Run(ctx)
	if errors.Is(res.err, context.Canceled) {
		res.err = nil
	}
	return res
}
