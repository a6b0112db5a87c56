package pagegen

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-co-op/gocron/v2"
	"go.uber.org/zap"

	"github.com/eringen/pagegen/logfields"
	"github.com/eringen/pagegen/pipeline"
)

type queuedJobs interface {
	ListQueuedJobs(ctx context.Context) ([]string, error)
}

type jobStarter interface {
	Start(ctx context.Context, jobID string) error
}

// Dispatcher periodically starts QUEUED jobs on the runner.
type Dispatcher struct {
	scheduler gocron.Scheduler
	queue     queuedJobs
	runner    jobStarter
	log       *zap.Logger
}

// NewDispatcher creates a dispatcher that polls queue every interval.
func NewDispatcher(queue queuedJobs, runner jobStarter, interval time.Duration, log *zap.Logger) (*Dispatcher, error) {
	s, err := gocron.NewScheduler()
	if err != nil {
		return nil, fmt.Errorf("create scheduler: %w", err)
	}
	d := &Dispatcher{scheduler: s, queue: queue, runner: runner, log: log}
	_, err = s.NewJob(
		gocron.DurationJob(interval),
		gocron.NewTask(d.Dispatch, context.Background()),
		gocron.WithName("dispatch-queued-jobs"),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		_ = s.Shutdown()
		return nil, fmt.Errorf("schedule dispatch: %w", err)
	}
	return d, nil
}

// Dispatch starts every QUEUED job once and returns how many started. Jobs
// another instance claimed first are skipped.
func (d *Dispatcher) Dispatch(ctx context.Context) int {
	ids, err := d.queue.ListQueuedJobs(ctx)
	if err != nil {
		d.log.Error("list queued jobs", logfields.Error(err))
		return 0
	}
	started := 0
	for _, id := range ids {
		err := d.runner.Start(ctx, id)
		switch {
		case err == nil:
			started++
		case errors.Is(err, pipeline.ErrNotStartable):
			d.log.Debug("queued job already claimed", logfields.JobID(id))
		case errors.Is(err, pipeline.ErrRunnerClosed):
			return started
		default:
			d.log.Error("start queued job", logfields.JobID(id), logfields.Error(err))
		}
	}
	return started
}

// Start begins polling.
func (d *Dispatcher) Start() {
	d.scheduler.Start()
}

// Stop shuts the scheduler down, waiting for a running dispatch to return.
func (d *Dispatcher) Stop() error {
	return d.scheduler.Shutdown()
}
