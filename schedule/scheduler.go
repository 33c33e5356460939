package schedule

import (
	"context"
	"errors"
	"fmt"
	"time"

	logging "github.com/ipfs/go-log/v2"
	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"

	"github.com/web3vx/aptos-indexer-processors/wait"
)

var log = logging.Logger("processor/schedule")

// A Job is a long running unit of work. Run blocks until the context is done
// or an error occurs, and may be called again to retry, so implementations
// must reset any necessary state on entry.
type Job interface {
	Run(context.Context) error
}

// Locker is a lock a job must hold while executing, typically a Postgres
// advisory lock keeping two instances off the same tables.
type Locker interface {
	Lock(context.Context) error
	Unlock(context.Context) error
}

type JobConfig struct {
	// Name is a human readable name for the job for use in logging.
	Name string

	// Job is the job to execute.
	Job Job

	// Locker is an optional lock taken before the job runs.
	Locker Locker

	// RestartOnFailure restarts the job when it stops with an error.
	RestartOnFailure bool

	// RestartOnCompletion restarts the job when it stops without error.
	RestartOnCompletion bool

	// RestartDelay is how long to wait before a restart.
	RestartDelay time.Duration
}

// Scheduler runs a fixed set of jobs concurrently and stops them all when any
// job fails terminally or the context is done.
type Scheduler struct {
	jobs     []*JobConfig
	jobDelay time.Duration
}

// NewScheduler creates a scheduler for the given jobs. jobDelay staggers job
// starts to avoid a thundering herd against the source and the database.
func NewScheduler(jobDelay time.Duration, jobs ...*JobConfig) *Scheduler {
	if jobDelay == 0 {
		jobDelay = 100 * time.Millisecond
	}
	return &Scheduler{
		jobs:     jobs,
		jobDelay: jobDelay,
	}
}

// Run starts all jobs and blocks until they have stopped.
func (s *Scheduler) Run(ctx context.Context) error {
	grp, ctx := errgroup.WithContext(ctx)

	for _, jc := range s.jobs {
		jc := jc
		grp.Go(func() error {
			return s.execute(ctx, jc)
		})
		_ = wait.SleepWithJitter(ctx, s.jobDelay, 2)
	}

	return grp.Wait()
}

func (s *Scheduler) execute(ctx context.Context, jc *JobConfig) error {
	jlog := log.With("name", jc.Name)

	if jc.Locker != nil {
		if err := jc.Locker.Lock(ctx); err != nil {
			return fmt.Errorf("job %q: %w", jc.Name, err)
		}
		defer func() {
			if err := jc.Locker.Unlock(context.Background()); err != nil {
				jlog.Errorw("failed to unlock", "error", err)
			}
		}()
	}

	for {
		jlog.Info("job starting")
		err := s.runOnce(ctx, jc)

		if errors.Is(err, context.Canceled) || ctx.Err() != nil {
			jlog.Info("job stopped")
			return multierr.Append(err, ctx.Err())
		}

		if err != nil {
			if !jc.RestartOnFailure {
				jlog.Errorw("job exited with failure", "error", err)
				return fmt.Errorf("job %q: %w", jc.Name, err)
			}
			jlog.Errorw("job failed, restarting", "error", err, "delay", jc.RestartDelay)
		} else {
			if !jc.RestartOnCompletion {
				jlog.Info("job exited cleanly")
				return nil
			}
			jlog.Infow("job completed, restarting", "delay", jc.RestartDelay)
		}

		if err := wait.SleepWithJitter(ctx, jc.RestartDelay, 1); err != nil {
			return err
		}
	}
}

// runOnce isolates a single Run call so a panicking job is turned into a
// restartable error instead of taking the process down.
func (s *Scheduler) runOnce(ctx context.Context, jc *JobConfig) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("job %q panicked: %v", jc.Name, r)
		}
	}()
	return jc.Job.Run(ctx)
}
