package backup

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/TacoronteRiveroCristian/backup-influxdb/internal/catalog"
	"github.com/TacoronteRiveroCristian/backup-influxdb/internal/config"
	"github.com/TacoronteRiveroCristian/backup-influxdb/internal/influx"
	"github.com/TacoronteRiveroCristian/backup-influxdb/internal/util/workerpool"
)

// errDrained signals that a window was cut short by cancellation after the
// in-flight batch was flushed.
var errDrained = errors.New("job drained after cancellation")

// drainFlushTimeout bounds the final batch write after the job context is
// already cancelled.
const drainFlushTimeout = 30 * time.Second

// JobParams configures one field backup job.
type JobParams struct {
	Ref        catalog.FieldRef
	SourceDB   string
	DestDB     string
	Tags       []string
	GroupBy    string
	Mode       string
	RangeStart int64
	RangeEnd   int64
	PageSpan   time.Duration
	BatchSize  int
	Retries    int
	RetryDelay time.Duration
}

// Job copies one field from source to destination: resolve the resume point,
// iterate time windows, stream each window's points and write them in
// batches, in ascending time order. With group_by unset that order is global;
// with group_by set the source returns one series per tag group, so the
// guarantee holds within each batch and within each group but not across
// batches that span groups.
type Job struct {
	source     *influx.Client
	dest       *influx.Client
	watermarks *WatermarkStore
	params     JobParams
	logger     *zap.Logger
	now        func() time.Time
}

// NewJob creates a field backup job.
func NewJob(source, dest *influx.Client, watermarks *WatermarkStore, params JobParams, logger *zap.Logger) *Job {
	if params.Retries < 1 {
		params.Retries = 1
	}
	return &Job{
		source:     source,
		dest:       dest,
		watermarks: watermarks,
		params:     params,
		logger:     logger,
		now:        time.Now,
	}
}

// Run executes the job and reports its outcome. It is the closure submitted
// to the worker pool.
func (j *Job) Run(ctx context.Context, workerTag string) workerpool.Outcome {
	start := time.Now()
	logger := j.logger.With(
		zap.String("worker", workerTag),
		zap.String("measurement", j.params.Ref.Measurement),
		zap.String("field", j.params.Ref.Field))

	outcome := workerpool.Outcome{Ref: j.params.Ref, Attempts: 1}

	window, skipReason, err := j.resolveWindow(ctx)
	if err != nil {
		outcome.Status = workerpool.StatusFailed
		outcome.Err = fmt.Errorf("failed to resolve resume point: %w", err)
		outcome.Duration = time.Since(start)
		return outcome
	}
	if skipReason != "" {
		outcome.Status = workerpool.StatusSkipped
		outcome.Reason = skipReason
		outcome.Duration = time.Since(start)
		return outcome
	}

	total, cerr := j.source.CountFieldRange(ctx, j.params.SourceDB, j.params.Ref.Measurement, j.params.Ref.Field, window)
	if cerr != nil {
		logger.Debug("Record count unavailable", zap.Error(cerr))
		total = -1
	}

	logger.Info("Field backup starting",
		zap.Time("from", time.Unix(0, window.Start).UTC()),
		zap.Time("to", time.Unix(0, window.End).UTC()),
		zap.Bool("resumed", window.StartExclusive),
		zap.Int64("records_expected", total))

	cursor := window.Start
	exclusive := window.StartExclusive
	span := j.params.PageSpan.Nanoseconds()
	windowIdx := 0

	for cursor < window.End {
		// Cancellation is observed at window boundaries.
		if ctx.Err() != nil {
			outcome.Status = workerpool.StatusSuccess
			outcome.Partial = true
			outcome.Reason = "cancelled"
			outcome.Duration = time.Since(start)
			return outcome
		}

		winEnd := cursor + span
		if winEnd > window.End {
			winEnd = window.End
		}
		w := influx.Window{Start: cursor, End: winEnd, StartExclusive: exclusive}
		windowIdx++

		read, written, attempts, err := j.copyWindow(ctx, w, logger)
		outcome.RecordsRead += read
		outcome.RecordsWritten += written
		outcome.Attempts += attempts - 1

		if err != nil {
			if errors.Is(err, errDrained) || errors.Is(err, context.Canceled) {
				logger.Info("Field backup drained after cancellation",
					zap.Int("window", windowIdx),
					zap.Int64("records_written", outcome.RecordsWritten))
				outcome.Status = workerpool.StatusSuccess
				outcome.Partial = true
				outcome.Reason = "cancelled"
				outcome.Duration = time.Since(start)
				return outcome
			}
			outcome.Status = workerpool.StatusFailed
			outcome.Err = fmt.Errorf("window %d [%s, %s) failed: %w",
				windowIdx,
				time.Unix(0, w.Start).UTC().Format(time.RFC3339Nano),
				time.Unix(0, w.End).UTC().Format(time.RFC3339Nano),
				err)
			outcome.Duration = time.Since(start)
			return outcome
		}

		logger.Debug("Window copied",
			zap.Int("window", windowIdx),
			zap.Int64("records", written))

		cursor = winEnd
		exclusive = false
	}

	outcome.Status = workerpool.StatusSuccess
	outcome.Duration = time.Since(start)
	return outcome
}

// resolveWindow derives the job's overall [start, end) bounds. The resume
// point comes from the destination; a found watermark makes the lower bound
// strict (time > last) so the last written point is never copied again.
func (j *Job) resolveWindow(ctx context.Context) (influx.Window, string, error) {
	ref := j.params.Ref

	last, found, err := j.watermarks.ResumeTime(ctx, j.params.DestDB, ref.Measurement, ref.Field)
	if err != nil {
		return influx.Window{}, "", err
	}

	if j.params.Mode == config.ModeRange {
		w := influx.Window{Start: j.params.RangeStart, End: j.params.RangeEnd}
		if found && last >= w.Start {
			if last >= w.End {
				return influx.Window{}, "range already backed up", nil
			}
			w.Start = last
			w.StartExclusive = true
		}
		return w, "", nil
	}

	end := j.now().UnixNano()

	if found {
		if last >= end {
			return influx.Window{}, "no new data", nil
		}
		return influx.Window{Start: last, End: end, StartExclusive: true}, "", nil
	}

	first, ok, err := j.source.FirstFieldWriteTime(ctx, j.params.SourceDB, ref.Measurement, ref.Field)
	if err != nil {
		return influx.Window{}, "", err
	}
	if !ok {
		return influx.Window{}, "no source data", nil
	}
	if first >= end {
		return influx.Window{}, "no new data", nil
	}
	return influx.Window{Start: first, End: end}, "", nil
}

// copyWindow copies one time window, retrying transient failures. After a
// mid-stream failure the resume point is re-derived from the destination so
// the replay starts after the last batch that landed.
func (j *Job) copyWindow(ctx context.Context, w influx.Window, logger *zap.Logger) (read, written int64, attempts int, err error) {
	ref := j.params.Ref

	for attempts = 1; ; attempts++ {
		r, wr, cerr := j.copyWindowOnce(ctx, w)
		read += r
		written += wr

		if cerr == nil || errors.Is(cerr, errDrained) {
			return read, written, attempts, cerr
		}
		if !influx.IsRetriable(cerr) || attempts >= j.params.Retries {
			return read, written, attempts, cerr
		}

		logger.Warn("Window copy failed, retrying",
			zap.Int("attempt", attempts),
			zap.Int("max_attempts", j.params.Retries),
			zap.Error(cerr))

		last, found, derr := j.watermarks.ResumeTime(ctx, j.params.DestDB, ref.Measurement, ref.Field)
		if derr == nil && found && last >= w.Start && last < w.End {
			w.Start = last
			w.StartExclusive = true
		}

		select {
		case <-ctx.Done():
			return read, written, attempts, ctx.Err()
		case <-time.After(j.params.RetryDelay):
		}
	}
}

// copyWindowOnce streams one window from the source and writes it to the
// destination in batches. Memory stays bounded by the batch size. On
// cancellation the current batch is flushed before returning (drain, not
// drop), so the next run's watermark reflects everything that was streamed.
func (j *Job) copyWindowOnce(ctx context.Context, w influx.Window) (read, written int64, err error) {
	ref := j.params.Ref
	batch := make([]influx.Point, 0, j.params.BatchSize)

	flush := func(flushCtx context.Context) error {
		if len(batch) == 0 {
			return nil
		}
		// With group_by set the source streams one time-ordered series per
		// tag group; sorting the batch restores time order across groups.
		sort.SliceStable(batch, func(a, b int) bool { return batch[a].Timestamp < batch[b].Timestamp })
		if err := j.dest.WriteBatch(flushCtx, j.params.DestDB, ref.Measurement, batch); err != nil {
			return err
		}
		written += int64(len(batch))
		batch = batch[:0]
		return nil
	}

	qerr := j.source.QueryFieldWindow(ctx, j.params.SourceDB, ref.Measurement, ref.Field, ref.Native,
		j.params.Tags, w, j.params.GroupBy, func(p influx.Point) error {
			read++
			batch = append(batch, p)
			if len(batch) >= j.params.BatchSize {
				return flush(ctx)
			}
			return nil
		})

	if qerr != nil {
		if errors.Is(qerr, context.Canceled) {
			flushCtx, cancel := context.WithTimeout(context.Background(), drainFlushTimeout)
			defer cancel()
			if ferr := flush(flushCtx); ferr != nil {
				return read, written, fmt.Errorf("drain flush failed: %w", ferr)
			}
			return read, written, errDrained
		}
		return read, written, qerr
	}

	if err := flush(ctx); err != nil {
		return read, written, err
	}
	return read, written, nil
}
