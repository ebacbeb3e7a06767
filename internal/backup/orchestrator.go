package backup

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/TacoronteRiveroCristian/backup-influxdb/internal/catalog"
	"github.com/TacoronteRiveroCristian/backup-influxdb/internal/config"
	"github.com/TacoronteRiveroCristian/backup-influxdb/internal/influx"
	"github.com/TacoronteRiveroCristian/backup-influxdb/internal/metrics"
	"github.com/TacoronteRiveroCristian/backup-influxdb/internal/scheduler"
	"github.com/TacoronteRiveroCristian/backup-influxdb/internal/util/workerpool"
)

// Sentinel errors mapped to process exit codes by the runner.
var (
	ErrEndpointUnreachable = errors.New("endpoint unreachable")
	ErrFieldsFailed        = errors.New("one or more fields failed")
)

// Orchestrator runs the backup for one configuration: endpoint checks,
// destination preparation, field discovery, job submission and reporting.
// It exclusively owns the field refs and outcomes of its configuration.
type Orchestrator struct {
	cfg     *config.Config
	source  *influx.Client
	dest    *influx.Client
	catalog *catalog.Catalog
	metrics *metrics.Metrics
	logger  *zap.Logger
	now     func() time.Time
}

// New constructs the orchestrator and its two clients. The metrics argument
// may be nil when the metrics endpoint is disabled.
func New(cfg *config.Config, logger *zap.Logger, m *metrics.Metrics) *Orchestrator {
	source := influx.NewClient(&influx.Config{
		URL:        cfg.Source.URL,
		Username:   cfg.Source.User,
		Password:   cfg.Source.Password,
		VerifySSL:  cfg.Source.VerifySSL,
		Timeout:    cfg.ClientTimeout(),
		Retries:    cfg.Options.Retries,
		RetryDelay: cfg.RetryDelay(),
	}, logger.Named("source"))

	dest := influx.NewClient(&influx.Config{
		URL:        cfg.Destination.URL,
		Username:   cfg.Destination.User,
		Password:   cfg.Destination.Password,
		VerifySSL:  cfg.Destination.VerifySSL,
		Timeout:    cfg.ClientTimeout(),
		Retries:    cfg.Options.Retries,
		RetryDelay: cfg.RetryDelay(),
	}, logger.Named("destination"))

	return &Orchestrator{
		cfg:     cfg,
		source:  source,
		dest:    dest,
		catalog: catalog.New(source, cfg, logger),
		metrics: m,
		logger:  logger,
		now:     time.Now,
	}
}

// WaitForEndpoints pings both endpoints, backing off by the initial
// connection retry delay between rounds until the retry budget elapses.
// This tolerates boot-order races with a sidecar InfluxDB.
func (o *Orchestrator) WaitForEndpoints(ctx context.Context) error {
	delay := o.cfg.InitialConnectionRetryDelay()
	budget := o.cfg.Options.Retries
	if budget < 1 {
		budget = 1
	}

	var lastErr error
	for attempt := 1; attempt <= budget; attempt++ {
		if lastErr = o.pingBoth(ctx); lastErr == nil {
			return nil
		}
		if attempt == budget {
			break
		}

		o.logger.Warn("Endpoint not reachable yet, waiting",
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", budget),
			zap.Duration("retry_delay", delay),
			zap.Error(lastErr))

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}

	return fmt.Errorf("%w: %v", ErrEndpointUnreachable, lastErr)
}

func (o *Orchestrator) pingBoth(ctx context.Context) error {
	if err := o.source.Ping(ctx); err != nil {
		return fmt.Errorf("source ping failed: %w", err)
	}
	if err := o.dest.Ping(ctx); err != nil {
		return fmt.Errorf("destination ping failed: %w", err)
	}
	return nil
}

// resolvedPair is one source database with its resolved destination name.
type resolvedPair struct {
	Source      string
	Destination string
}

// databasePairs resolves the configured database pairs, enumerating all
// source databases when none are configured.
func (o *Orchestrator) databasePairs(ctx context.Context) ([]resolvedPair, error) {
	if len(o.cfg.Source.Databases) > 0 {
		pairs := make([]resolvedPair, 0, len(o.cfg.Source.Databases))
		for _, mapping := range o.cfg.Source.Databases {
			pairs = append(pairs, resolvedPair{
				Source:      mapping.Name,
				Destination: o.cfg.FinalDatabaseName(mapping.Name, mapping.Destination),
			})
		}
		return pairs, nil
	}

	o.logger.Info("No databases configured, enumerating all source databases")
	names, err := o.source.Databases(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to enumerate source databases: %w", err)
	}

	pairs := make([]resolvedPair, 0, len(names))
	for _, name := range names {
		pairs = append(pairs, resolvedPair{
			Source:      name,
			Destination: o.cfg.FinalDatabaseName(name, ""),
		})
	}
	return pairs, nil
}

// Validate performs the startup steps without copying data: endpoint checks,
// destination database creation and field discovery.
func (o *Orchestrator) Validate(ctx context.Context) error {
	if err := o.WaitForEndpoints(ctx); err != nil {
		return err
	}

	pairs, err := o.databasePairs(ctx)
	if err != nil {
		return err
	}

	for _, pair := range pairs {
		if err := o.dest.EnsureDatabase(ctx, pair.Destination); err != nil {
			return fmt.Errorf("failed to create destination database %s: %w", pair.Destination, err)
		}
		active, obsolete, err := o.catalog.Fields(ctx, pair.Source)
		if err != nil {
			return err
		}
		o.logger.Info("Validation passed",
			zap.String("source_db", pair.Source),
			zap.String("destination_db", pair.Destination),
			zap.Int("fields", len(active)),
			zap.Int("obsolete", len(obsolete)))
	}
	return nil
}

// RunOnce executes one full backup pass over all configured database pairs
// and returns the aggregated report.
func (o *Orchestrator) RunOnce(ctx context.Context) (*Report, error) {
	report := &Report{
		Config:    o.cfg.Name,
		RunID:     uuid.NewString(),
		Mode:      o.cfg.Options.BackupMode,
		StartedAt: o.now(),
		Workers:   o.cfg.Options.ParallelWorkers,
	}
	logger := o.logger.With(zap.String("run_id", report.RunID))

	logger.Info("Backup run starting",
		zap.String("mode", report.Mode),
		zap.Int("workers", report.Workers))

	if err := o.WaitForEndpoints(ctx); err != nil {
		return report, err
	}

	pairs, err := o.databasePairs(ctx)
	if err != nil {
		return report, err
	}

	var rangeStart, rangeEnd int64
	if o.cfg.Options.BackupMode == config.ModeRange {
		start, end := o.cfg.RangeWindow()
		rangeStart = start.UnixNano()
		rangeEnd = end.UnixNano()
	}

	watermarks := NewWatermarkStore(o.dest)
	var tasks []workerpool.Task

	for _, pair := range pairs {
		if err := o.dest.EnsureDatabase(ctx, pair.Destination); err != nil {
			return report, fmt.Errorf("failed to create destination database %s: %w", pair.Destination, err)
		}

		active, obsolete, err := o.catalog.Fields(ctx, pair.Source)
		if err != nil {
			return report, err
		}

		for _, ref := range obsolete {
			report.Outcomes = append(report.Outcomes, workerpool.Outcome{
				Ref:    ref,
				Status: workerpool.StatusSkipped,
				Reason: "obsolete",
			})
		}

		// Tag keys are fetched once per measurement and shared by its jobs.
		tagsByMeasurement := make(map[string][]string)
		for _, ref := range active {
			if _, ok := tagsByMeasurement[ref.Measurement]; ok {
				continue
			}
			tags, err := o.source.TagKeys(ctx, pair.Source, ref.Measurement)
			if err != nil {
				return report, fmt.Errorf("failed to list tag keys of %s.%s: %w", pair.Source, ref.Measurement, err)
			}
			tagsByMeasurement[ref.Measurement] = tags
		}

		for _, ref := range active {
			job := NewJob(o.source, o.dest, watermarks, JobParams{
				Ref:        ref,
				SourceDB:   pair.Source,
				DestDB:     pair.Destination,
				Tags:       tagsByMeasurement[ref.Measurement],
				GroupBy:    o.cfg.Source.GroupBy,
				Mode:       o.cfg.Options.BackupMode,
				RangeStart: rangeStart,
				RangeEnd:   rangeEnd,
				PageSpan:   o.cfg.PageSpan(),
				BatchSize:  o.cfg.Options.BatchSize,
				Retries:    o.cfg.Options.Retries,
				RetryDelay: o.cfg.RetryDelay(),
			}, logger)
			tasks = append(tasks, workerpool.Task{Ref: ref, Run: job.Run})
		}
	}

	pool := workerpool.New(o.cfg.Options.ParallelWorkers, logger)
	if o.metrics != nil {
		o.metrics.WorkersConfigured.Set(float64(pool.Workers()))
	}

	for outcome := range pool.Run(ctx, tasks) {
		report.Outcomes = append(report.Outcomes, outcome)
		if o.metrics != nil {
			o.metrics.ObserveField(string(outcome.Status),
				outcome.RecordsRead, outcome.RecordsWritten, outcome.Duration)
		}
	}

	report.WallTime = time.Since(report.StartedAt)
	report.Log(logger)

	if o.metrics != nil {
		o.metrics.ObserveRun(report.FailedCount(), report.WallTime, report.Efficiency())
	}

	return report, nil
}

// Run executes the backup according to the configured mode. Range mode and
// unscheduled incremental mode run once; incremental mode with a schedule
// keeps running until ctx is cancelled, skipping ticks that would overlap
// the previous run.
func (o *Orchestrator) Run(ctx context.Context) error {
	expr := o.cfg.Schedule()
	if expr == "" {
		report, err := o.RunOnce(ctx)
		if err != nil {
			return err
		}
		if report.FailedCount() > 0 {
			return fmt.Errorf("%w: %d of %d", ErrFieldsFailed, report.FailedCount(), len(report.Outcomes))
		}
		return nil
	}

	sched, err := scheduler.New(expr, o.logger)
	if err != nil {
		return err
	}
	if o.metrics != nil {
		sched.OnSkip(o.metrics.ScheduleTicksSkipped.Inc)
	}

	var sawFailure bool
	runErr := sched.Run(ctx, func(tickCtx context.Context) {
		report, err := o.RunOnce(tickCtx)
		if err != nil && !errors.Is(err, context.Canceled) {
			o.logger.Error("Scheduled backup run failed", zap.Error(err))
			sawFailure = true
			return
		}
		if report != nil && report.FailedCount() > 0 {
			sawFailure = true
		}
	})

	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		return runErr
	}
	if sawFailure {
		return ErrFieldsFailed
	}
	return nil
}
