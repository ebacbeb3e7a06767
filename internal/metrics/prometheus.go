package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for one backup configuration.
type Metrics struct {
	RunsTotal            *prometheus.CounterVec
	RunDuration          prometheus.Histogram
	FieldsTotal          *prometheus.CounterVec
	JobDuration          prometheus.Histogram
	RecordsReadTotal     prometheus.Counter
	RecordsWrittenTotal  prometheus.Counter
	ParallelEfficiency   prometheus.Gauge
	WorkersConfigured    prometheus.Gauge
	ScheduleTicksSkipped prometheus.Counter
}

// NewMetrics creates and registers all Prometheus metrics for a
// configuration.
func NewMetrics(configName string) *Metrics {
	labels := prometheus.Labels{"config": configName}

	return &Metrics{
		RunsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace:   "influxbackup",
			Subsystem:   "run",
			Name:        "total",
			Help:        "Total number of backup runs by result",
			ConstLabels: labels,
		}, []string{"result"}),
		RunDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace:   "influxbackup",
			Subsystem:   "run",
			Name:        "duration_seconds",
			Help:        "Histogram of backup run wall time",
			ConstLabels: labels,
			Buckets:     prometheus.ExponentialBuckets(1, 2, 14), // 1s to ~2.3h
		}),
		FieldsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace:   "influxbackup",
			Subsystem:   "fields",
			Name:        "total",
			Help:        "Total number of processed fields by status",
			ConstLabels: labels,
		}, []string{"status"}),
		JobDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace:   "influxbackup",
			Subsystem:   "fields",
			Name:        "duration_seconds",
			Help:        "Histogram of per-field job wall time",
			ConstLabels: labels,
			Buckets:     prometheus.DefBuckets,
		}),
		RecordsReadTotal: promauto.NewCounter(prometheus.CounterOpts{
			Namespace:   "influxbackup",
			Subsystem:   "records",
			Name:        "read_total",
			Help:        "Total number of records read from the source",
			ConstLabels: labels,
		}),
		RecordsWrittenTotal: promauto.NewCounter(prometheus.CounterOpts{
			Namespace:   "influxbackup",
			Subsystem:   "records",
			Name:        "written_total",
			Help:        "Total number of records written to the destination",
			ConstLabels: labels,
		}),
		ParallelEfficiency: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace:   "influxbackup",
			Subsystem:   "run",
			Name:        "parallel_efficiency_percent",
			Help:        "Parallel efficiency of the last backup run",
			ConstLabels: labels,
		}),
		WorkersConfigured: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace:   "influxbackup",
			Subsystem:   "pool",
			Name:        "workers",
			Help:        "Configured number of parallel workers",
			ConstLabels: labels,
		}),
		ScheduleTicksSkipped: promauto.NewCounter(prometheus.CounterOpts{
			Namespace:   "influxbackup",
			Subsystem:   "scheduler",
			Name:        "ticks_skipped_total",
			Help:        "Schedule ticks skipped because the previous run was still active",
			ConstLabels: labels,
		}),
	}
}

// ObserveField records one field outcome.
func (m *Metrics) ObserveField(status string, recordsRead, recordsWritten int64, duration time.Duration) {
	m.FieldsTotal.WithLabelValues(status).Inc()
	m.JobDuration.Observe(duration.Seconds())
	m.RecordsReadTotal.Add(float64(recordsRead))
	m.RecordsWrittenTotal.Add(float64(recordsWritten))
}

// ObserveRun records one completed run.
func (m *Metrics) ObserveRun(failedFields int, wallTime time.Duration, efficiency float64) {
	result := "success"
	if failedFields > 0 {
		result = "failed"
	}
	m.RunsTotal.WithLabelValues(result).Inc()
	m.RunDuration.Observe(wallTime.Seconds())
	m.ParallelEfficiency.Set(efficiency)
}
