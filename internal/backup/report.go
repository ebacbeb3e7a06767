package backup

import (
	"time"

	"go.uber.org/zap"

	"github.com/TacoronteRiveroCristian/backup-influxdb/internal/util/workerpool"
)

// Report aggregates the per-field outcomes of one configuration run.
type Report struct {
	Config    string
	RunID     string
	Mode      string
	StartedAt time.Time
	WallTime  time.Duration
	Workers   int
	Outcomes  []workerpool.Outcome
}

// Counts returns the number of successful, skipped and failed fields.
func (r *Report) Counts() (success, skipped, failed int) {
	for _, o := range r.Outcomes {
		switch o.Status {
		case workerpool.StatusSuccess:
			success++
		case workerpool.StatusSkipped:
			skipped++
		case workerpool.StatusFailed:
			failed++
		}
	}
	return success, skipped, failed
}

// FailedCount returns the number of failed fields.
func (r *Report) FailedCount() int {
	_, _, failed := r.Counts()
	return failed
}

// RecordsRead sums records read across all fields.
func (r *Report) RecordsRead() int64 {
	var total int64
	for _, o := range r.Outcomes {
		total += o.RecordsRead
	}
	return total
}

// RecordsWritten sums records written across all fields.
func (r *Report) RecordsWritten() int64 {
	var total int64
	for _, o := range r.Outcomes {
		total += o.RecordsWritten
	}
	return total
}

// WorkersUsed returns the number of distinct worker tags that ran jobs.
func (r *Report) WorkersUsed() int {
	tags := make(map[string]struct{})
	for _, o := range r.Outcomes {
		if o.WorkerTag != "" {
			tags[o.WorkerTag] = struct{}{}
		}
	}
	return len(tags)
}

// AverageJobDuration returns the mean wall time of non-skipped jobs.
func (r *Report) AverageJobDuration() time.Duration {
	var total time.Duration
	var count int
	for _, o := range r.Outcomes {
		if o.Status == workerpool.StatusSkipped {
			continue
		}
		total += o.Duration
		count++
	}
	if count == 0 {
		return 0
	}
	return total / time.Duration(count)
}

// Efficiency returns the parallel efficiency percentage: the summed per-job
// wall time divided by aggregate wall time times worker count. Below 50% the
// pool spent most of its capacity idle.
func (r *Report) Efficiency() float64 {
	if r.WallTime <= 0 || r.Workers <= 0 {
		return 0
	}
	var jobTotal time.Duration
	for _, o := range r.Outcomes {
		jobTotal += o.Duration
	}
	return float64(jobTotal) / (float64(r.WallTime) * float64(r.Workers)) * 100
}

// Log writes the report summary.
func (r *Report) Log(logger *zap.Logger) {
	success, skipped, failed := r.Counts()
	efficiency := r.Efficiency()

	logger.Info("Backup run completed",
		zap.String("run_id", r.RunID),
		zap.String("mode", r.Mode),
		zap.Int("fields_total", len(r.Outcomes)),
		zap.Int("fields_success", success),
		zap.Int("fields_skipped", skipped),
		zap.Int("fields_failed", failed),
		zap.Int64("records_read", r.RecordsRead()),
		zap.Int64("records_written", r.RecordsWritten()),
		zap.Duration("wall_time", r.WallTime),
		zap.Int("workers_used", r.WorkersUsed()),
		zap.Duration("avg_job_duration", r.AverageJobDuration()),
		zap.Float64("parallel_efficiency_pct", efficiency))

	if efficiency > 0 && efficiency < 50 {
		logger.Warn("Parallel efficiency below 50%, consider lowering parallel_workers",
			zap.Float64("parallel_efficiency_pct", efficiency),
			zap.Int("workers", r.Workers))
	}

	for _, o := range r.Outcomes {
		if o.Status == workerpool.StatusFailed {
			logger.Error("Field failed",
				zap.String("field_ref", o.Ref.String()),
				zap.Int("attempts", o.Attempts),
				zap.Error(o.Err))
		}
	}
}
