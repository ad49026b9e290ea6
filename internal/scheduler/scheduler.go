// Package scheduler runs the periodic jobs that keep live state honest
// between events: unrealized P&L refresh, protective-order reconciliation,
// orphan-position sweep, and liquidation retention. The forced-liquidation
// cascade tick is not one of these — internal/cascade.Detector drives its
// own ticker on a fixed 10s interval (the strategy's
// cascade_tick_interval_seconds is stored but not read by the detector) and
// is started/stopped alongside this scheduler, not re-invoked through cron.
package scheduler

import (
	"context"
	"sync/atomic"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// Job is one periodic unit of work. Run receives the scheduler's context,
// which is cancelled when Start's parent context is cancelled, or by Stop
// once every running invocation has returned.
type Job interface {
	Name() string
	Run(ctx context.Context) error
}

// Scheduler registers jobs against cron schedules and guards each against
// overlapping ticks: a job still running when its next tick fires is
// skipped rather than queued or run concurrently with itself.
type Scheduler struct {
	cron   *cron.Cron
	log    zerolog.Logger
	ctx    context.Context
	cancel context.CancelFunc
}

// New creates a Scheduler. Cron expressions are parsed with seconds
// granularity so sub-minute jobs (the 5s exit monitor, the 30s protective
// reconciliation) can be expressed directly.
func New(log zerolog.Logger) *Scheduler {
	return &Scheduler{
		cron: cron.New(cron.WithSeconds()),
		log:  log.With().Str("component", "scheduler").Logger(),
	}
}

// Start begins running registered jobs. The given context bounds every
// job invocation; cancelling it cancels the context in-flight jobs receive.
func (s *Scheduler) Start(ctx context.Context) {
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.cron.Start()
	s.log.Info().Msg("scheduler started")
}

// Stop stops scheduling new ticks, blocks until every running job
// invocation has returned, and then cancels the job context.
func (s *Scheduler) Stop() {
	cronCtx := s.cron.Stop()
	<-cronCtx.Done()
	if s.cancel != nil {
		s.cancel()
	}
	s.log.Info().Msg("scheduler stopped")
}

// AddJob registers a job against a cron schedule, e.g. "@every 5s" or
// "0 */2 * * * *". A tick that fires while the previous invocation of the
// same job is still running is skipped and logged, never queued.
func (s *Scheduler) AddJob(schedule string, job Job) error {
	var busy int32

	_, err := s.cron.AddFunc(schedule, func() {
		if !atomic.CompareAndSwapInt32(&busy, 0, 1) {
			s.log.Debug().Str("job", job.Name()).Msg("tick already in progress, skipping")
			return
		}
		defer atomic.StoreInt32(&busy, 0)

		if err := job.Run(s.ctx); err != nil {
			s.log.Error().Err(err).Str("job", job.Name()).Msg("job failed")
			return
		}
		s.log.Debug().Str("job", job.Name()).Msg("job completed")
	})
	if err != nil {
		return err
	}

	s.log.Info().Str("schedule", schedule).Str("job", job.Name()).Msg("job registered")
	return nil
}

// RunNow executes a job immediately, bypassing its schedule and the overlap
// guard. Nothing in the engine calls it; the operator HTTP surface has no
// route that triggers a job.
func (s *Scheduler) RunNow(ctx context.Context, job Job) error {
	s.log.Info().Str("job", job.Name()).Msg("running job on demand")
	return job.Run(ctx)
}
