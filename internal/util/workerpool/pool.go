package workerpool

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/TacoronteRiveroCristian/backup-influxdb/internal/catalog"
)

// Status is the terminal state of one field backup job.
type Status string

const (
	StatusSuccess Status = "success"
	StatusSkipped Status = "skipped"
	StatusFailed  Status = "failed"
)

// Outcome is the per-field result a job reports back to the orchestrator.
type Outcome struct {
	Ref            catalog.FieldRef
	Status         Status
	Reason         string
	RecordsRead    int64
	RecordsWritten int64
	Attempts       int
	Duration       time.Duration
	Partial        bool
	WorkerTag      string
	Err            error
}

// Task is one unit of submitted work: a field ref and the job closure that
// processes it. The closure receives the worker tag for log correlation.
type Task struct {
	Ref catalog.FieldRef
	Run func(ctx context.Context, workerTag string) Outcome
}

// Pool executes field backup jobs on a bounded set of workers. Each worker
// carries a stable short tag (T01..Tn) included in all its log records.
type Pool struct {
	workers int
	logger  *zap.Logger
}

// New creates a pool with the given worker count.
func New(workers int, logger *zap.Logger) *Pool {
	if workers <= 0 {
		workers = 4
	}
	return &Pool{workers: workers, logger: logger}
}

// Workers returns the configured worker count.
func (p *Pool) Workers() int {
	return p.workers
}

// Run executes all tasks and returns a channel that yields outcomes as they
// complete. The channel is closed once every task has finished. All tasks
// are fed through an internal queue, so submission never deadlocks; workers
// observe ctx cooperatively and tasks started after cancellation report a
// skipped outcome.
func (p *Pool) Run(ctx context.Context, tasks []Task) <-chan Outcome {
	queue := make(chan Task)
	outcomes := make(chan Outcome, len(tasks))

	var wg sync.WaitGroup
	for i := 0; i < p.workers; i++ {
		tag := fmt.Sprintf("T%02d", i+1)
		wg.Add(1)
		go func() {
			defer wg.Done()
			p.worker(ctx, tag, queue, outcomes)
		}()
	}

	go func() {
		defer close(queue)
		for _, task := range tasks {
			queue <- task
		}
	}()

	go func() {
		wg.Wait()
		close(outcomes)
	}()

	return outcomes
}

func (p *Pool) worker(ctx context.Context, tag string, queue <-chan Task, outcomes chan<- Outcome) {
	logger := p.logger.With(zap.String("worker", tag))

	for task := range queue {
		if ctx.Err() != nil {
			outcomes <- Outcome{
				Ref:       task.Ref,
				Status:    StatusSkipped,
				Reason:    "cancelled before start",
				WorkerTag: tag,
			}
			continue
		}

		start := time.Now()
		outcome := p.safeRun(ctx, tag, task)
		outcome.WorkerTag = tag
		if outcome.Duration == 0 {
			outcome.Duration = time.Since(start)
		}

		switch outcome.Status {
		case StatusFailed:
			logger.Error("Field job failed",
				zap.String("field_ref", task.Ref.String()),
				zap.Duration("duration", outcome.Duration),
				zap.Error(outcome.Err))
		case StatusSkipped:
			logger.Info("Field job skipped",
				zap.String("field_ref", task.Ref.String()),
				zap.String("reason", outcome.Reason))
		default:
			logger.Info("Field job completed",
				zap.String("field_ref", task.Ref.String()),
				zap.Int64("records_written", outcome.RecordsWritten),
				zap.Duration("duration", outcome.Duration))
		}

		outcomes <- outcome
	}
}

// safeRun executes a job closure with panic recovery so one misbehaving
// field cannot take down the whole configuration.
func (p *Pool) safeRun(ctx context.Context, tag string, task Task) (outcome Outcome) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("Field job panic recovered",
				zap.String("worker", tag),
				zap.String("field_ref", task.Ref.String()),
				zap.Any("panic", r))
			outcome = Outcome{
				Ref:    task.Ref,
				Status: StatusFailed,
				Err:    fmt.Errorf("job panicked: %v", r),
			}
		}
	}()

	return task.Run(ctx, tag)
}
