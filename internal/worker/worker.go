// Package worker triggers the reconciliation sweeps on cron schedules and
// hands their results to a notify.Publisher.
package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/example/desk-scheduler/internal/application"
	"github.com/example/desk-scheduler/internal/config"
	"github.com/example/desk-scheduler/internal/notify"
)

// ErrUnknownJob is returned by Run for a job name it does not know.
var ErrUnknownJob = errors.New("worker: unknown job")

// Sweeper is the part of the sweep service the runner drives.
type Sweeper interface {
	RunExpirySweep(ctx context.Context) (application.SweepReport, error)
	RunNoShowSweep(ctx context.Context) (application.SweepReport, error)
	RunDeskResetSweep(ctx context.Context) (application.SweepReport, error)
	CollectUpcomingReminders(ctx context.Context, window time.Duration) ([]application.Reservation, error)
}

// Jobs lists the job names in the order the CLI shows them.
func Jobs() []string {
	return []string{application.JobExpiry, application.JobNoShow, application.JobDeskReset, application.JobReminders}
}

// Runner owns the cron scheduler.
type Runner struct {
	sweeps         Sweeper
	publisher      notify.Publisher
	reminderWindow time.Duration
	timeout        time.Duration
	location       *time.Location
	logger         *zap.Logger
	cron           *cron.Cron
	base           context.Context
}

// Option configures a Runner.
type Option func(*Runner)

// WithJobTimeout bounds every scheduled run.
func WithJobTimeout(d time.Duration) Option {
	return func(r *Runner) {
		if d > 0 {
			r.timeout = d
		}
	}
}

// WithLocation evaluates cron specs in loc.
func WithLocation(loc *time.Location) Option {
	return func(r *Runner) {
		if loc != nil {
			r.location = loc
		}
	}
}

// New registers a cron entry for every non-empty spec in schedule.
func New(sweeps Sweeper, publisher notify.Publisher, schedule config.ScheduleConfig, reminderWindow time.Duration, logger *zap.Logger, opts ...Option) (*Runner, error) {
	if sweeps == nil {
		return nil, fmt.Errorf("worker: sweeper is required")
	}
	if logger == nil {
		logger = zap.L()
	}
	if publisher == nil {
		publisher = notify.NewLogPublisher(logger)
	}
	if reminderWindow <= 0 {
		reminderWindow = time.Hour
	}

	logger = logger.With(zap.String("component", "worker"))
	r := &Runner{
		sweeps:         sweeps,
		publisher:      publisher,
		reminderWindow: reminderWindow,
		timeout:        5 * time.Minute,
		location:       time.UTC,
		logger:         logger,
		base:           context.Background(),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.cron = newCron(logger, r.location)

	specs := map[string]string{
		application.JobExpiry:    schedule.Expiry,
		application.JobNoShow:    schedule.NoShow,
		application.JobDeskReset: schedule.DeskReset,
		application.JobReminders: schedule.Reminders,
	}
	for _, job := range Jobs() {
		spec := specs[job]
		if spec == "" {
			logger.Info("job disabled", zap.String("job", job))
			continue
		}
		job := job
		if _, err := r.cron.AddFunc(spec, func() { r.scheduled(job) }); err != nil {
			return nil, fmt.Errorf("worker: schedule %s %q: %w", job, spec, err)
		}
	}
	return r, nil
}

func newCron(logger *zap.Logger, loc *time.Location) *cron.Cron {
	cronLogger := zapCronLogger{logger: logger.Sugar()}
	return cron.New(
		cron.WithLocation(loc),
		cron.WithLogger(cronLogger),
		cron.WithChain(cron.Recover(cronLogger), cron.SkipIfStillRunning(cronLogger)),
	)
}

// Entries reports how many jobs are scheduled.
func (r *Runner) Entries() int {
	return len(r.cron.Entries())
}

// Start begins running scheduled jobs. Runs derive their context from ctx.
func (r *Runner) Start(ctx context.Context) {
	r.base = ctx
	r.cron.Start()
	r.logger.Info("worker started", zap.Int("jobs", r.Entries()))
}

// Stop stops scheduling and waits for running jobs until ctx is done.
func (r *Runner) Stop(ctx context.Context) error {
	done := r.cron.Stop()
	select {
	case <-done.Done():
		r.logger.Info("worker stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *Runner) scheduled(job string) {
	ctx, cancel := context.WithTimeout(r.base, r.timeout)
	defer cancel()
	if err := r.Run(ctx, job); err != nil {
		r.logger.Error("job failed", zap.String("job", job), zap.Error(err))
	}
}

// Run executes one job now and publishes what it produced. The desk reset
// job runs the expiry sweep first so that finished reservations are closed
// before desks are released.
func (r *Runner) Run(ctx context.Context, job string) error {
	started := time.Now()
	logger := r.logger.With(zap.String("job", job))

	var err error
	switch job {
	case application.JobExpiry:
		err = r.sweep(ctx, r.sweeps.RunExpirySweep)
	case application.JobNoShow:
		err = r.sweep(ctx, r.sweeps.RunNoShowSweep)
	case application.JobDeskReset:
		err = r.sweep(ctx, r.sweeps.RunExpirySweep)
		if err == nil {
			err = r.sweep(ctx, r.sweeps.RunDeskResetSweep)
		}
	case application.JobReminders:
		err = r.reminders(ctx)
	default:
		return fmt.Errorf("%w: %q", ErrUnknownJob, job)
	}

	logger.Debug("job finished", zap.Duration("duration", time.Since(started)), zap.Error(err))
	return err
}

func (r *Runner) sweep(ctx context.Context, run func(context.Context) (application.SweepReport, error)) error {
	report, err := run(ctx)
	// Publish what was applied even when some rows failed.
	if len(report.Changes) > 0 {
		if pubErr := r.publisher.PublishChanges(ctx, report.Changes); pubErr != nil {
			r.logger.Warn("publish changes failed", zap.String("job", report.Job), zap.Error(pubErr))
		}
	}
	return err
}

func (r *Runner) reminders(ctx context.Context) error {
	upcoming, err := r.sweeps.CollectUpcomingReminders(ctx, r.reminderWindow)
	if err != nil {
		return err
	}
	sent, err := r.publisher.PublishReminders(ctx, upcoming)
	if err != nil {
		return err
	}
	r.logger.Info("reminders dispatched", zap.Int("candidates", len(upcoming)), zap.Int("sent", sent))
	return nil
}

// zapCronLogger adapts zap to cron.Logger.
type zapCronLogger struct {
	logger *zap.SugaredLogger
}

func (l zapCronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debugw(msg, keysAndValues...)
}

func (l zapCronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Errorw(msg, append(keysAndValues, "error", err)...)
}
