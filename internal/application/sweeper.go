package application

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/example/desk-scheduler/internal/persistence"
)

// Sweep job names.
const (
	JobExpiry    = "expiry"
	JobNoShow    = "no_show"
	JobDeskReset = "desk_reset"
	JobReminders = "reminders"
)

// DefaultNoShowGrace is how long after its start an unattended reservation
// becomes a no-show.
const DefaultNoShowGrace = time.Hour

// SweepService runs the periodic reconciliation passes. Every row update
// goes through the same guarded transition as the interactive operations.
type SweepService struct {
	desks        persistence.DeskRepository
	reservations persistence.ReservationRepository
	cache        *AvailabilityCache
	noShowGrace  time.Duration
	now          func() time.Time
	logger       *zap.Logger
}

// NewSweepService constructs a sweep service with the provided dependencies.
func NewSweepService(desks persistence.DeskRepository, reservations persistence.ReservationRepository, cache *AvailabilityCache, noShowGrace time.Duration, now func() time.Time) *SweepService {
	return NewSweepServiceWithLogger(desks, reservations, cache, noShowGrace, now, nil)
}

// NewSweepServiceWithLogger constructs a sweep service with a specified logger.
func NewSweepServiceWithLogger(desks persistence.DeskRepository, reservations persistence.ReservationRepository, cache *AvailabilityCache, noShowGrace time.Duration, now func() time.Time, logger *zap.Logger) *SweepService {
	if noShowGrace <= 0 {
		noShowGrace = DefaultNoShowGrace
	}
	if now == nil {
		now = time.Now
	}
	return &SweepService{
		desks:        desks,
		reservations: reservations,
		cache:        cache,
		noShowGrace:  noShowGrace,
		now:          now,
		logger:       defaultLogger(logger),
	}
}

func (s *SweepService) loggerWith(ctx context.Context, operation string, fields ...zap.Field) *zap.Logger {
	return serviceLogger(ctx, s.logger, "SweepService", operation, fields...)
}

func (s *SweepService) ready() error {
	if s == nil {
		return fmt.Errorf("SweepService is nil")
	}
	if s.desks == nil || s.reservations == nil {
		return fmt.Errorf("sweep repositories not configured")
	}
	return nil
}

// RunExpirySweep completes every Active reservation that ended before now.
func (s *SweepService) RunExpirySweep(ctx context.Context) (SweepReport, error) {
	if err := s.ready(); err != nil {
		return SweepReport{Job: JobExpiry}, err
	}
	now := s.now().UTC()
	return s.sweep(ctx, JobExpiry, ActionComplete, now, persistence.ReservationFilter{
		Statuses:   []persistence.ReservationStatus{persistence.ReservationActive},
		EndsBefore: &now,
	})
}

// RunNoShowSweep marks as no-show every Active reservation that started more
// than the grace period ago without a check-in.
func (s *SweepService) RunNoShowSweep(ctx context.Context) (SweepReport, error) {
	if err := s.ready(); err != nil {
		return SweepReport{Job: JobNoShow}, err
	}
	now := s.now().UTC()
	cutoff := now.Add(-s.noShowGrace)
	checkedIn := false
	return s.sweep(ctx, JobNoShow, ActionNoShow, now, persistence.ReservationFilter{
		Statuses:     []persistence.ReservationStatus{persistence.ReservationActive},
		StartsBefore: &cutoff,
		CheckedIn:    &checkedIn,
	})
}

func (s *SweepService) sweep(ctx context.Context, job string, action Action, now time.Time, filter persistence.ReservationFilter) (report SweepReport, err error) {
	report.Job = job
	logger := s.loggerWith(ctx, job)
	defer func() {
		fields := []zap.Field{
			zap.Int("scanned", report.Scanned),
			zap.Int("applied", report.Applied),
			zap.Int("skipped", report.Skipped),
		}
		if err != nil {
			logger.Error("sweep failed", append(fields, zap.Error(err))...)
			return
		}
		logger.Info("sweep finished", fields...)
	}()

	candidates, err := s.reservations.ListReservations(ctx, filter)
	if err != nil {
		return
	}
	report.Scanned = len(candidates)

	lc := lifecycle{desks: s.desks, reservations: s.reservations, cache: s.cache}
	var failures []error
	for _, res := range candidates {
		if ctxErr := ctx.Err(); ctxErr != nil {
			failures = append(failures, ctxErr)
			break
		}
		result, applyErr := lc.apply(ctx, logger, res, action, now)
		if applyErr != nil {
			failures = append(failures, fmt.Errorf("reservation %s: %w", res.ID, applyErr))
			report.Skipped++
			continue
		}
		if !result.Applied {
			report.Skipped++
			continue
		}
		report.Applied++
		report.Changes = append(report.Changes, result.Changes...)
	}
	err = errors.Join(failures...)
	return
}

// RunDeskResetSweep forces every desk outside maintenance back to available.
// It does not look at reservations; desks that hold an Active reservation
// covering now are counted in ResetWhileReserved.
func (s *SweepService) RunDeskResetSweep(ctx context.Context) (report SweepReport, err error) {
	report.Job = JobDeskReset
	if err = s.ready(); err != nil {
		return
	}

	logger := s.loggerWith(ctx, JobDeskReset)
	defer func() {
		if err != nil {
			logger.Error("sweep failed", zap.Error(err))
			return
		}
		logger.Info("sweep finished",
			zap.Int("applied", report.Applied),
			zap.Int("reset_while_reserved", report.ResetWhileReserved),
		)
	}()

	now := s.now().UTC()
	changed, err := s.desks.ResetDeskStatuses(ctx, persistence.DeskMaintenance, persistence.DeskAvailable, now)
	if err != nil {
		return
	}
	report.Scanned = len(changed)
	report.Applied = len(changed)
	for _, id := range changed {
		report.Changes = append(report.Changes, deskStatusChanged(id, persistence.DeskAvailable, now))
	}
	if len(changed) > 0 {
		s.cache.Invalidate()
	}

	until := now.Add(time.Nanosecond)
	active, listErr := s.reservations.ListReservations(ctx, persistence.ReservationFilter{
		Statuses:     []persistence.ReservationStatus{persistence.ReservationActive},
		OverlapsFrom: &now,
		OverlapsTo:   &until,
	})
	if listErr != nil {
		logger.Warn("could not count reserved desks", zap.Error(listErr))
		return
	}
	reserved := make(map[string]struct{})
	for _, r := range active {
		reserved[r.DeskID] = struct{}{}
	}
	for _, id := range changed {
		if _, ok := reserved[id]; ok {
			report.ResetWhileReserved++
		}
	}
	if report.ResetWhileReserved > 0 {
		logger.Warn("desks reset while reserved", zap.Int("reset_while_reserved", report.ResetWhileReserved))
	}
	return
}

// CollectUpcomingReminders returns the Active reservations starting after
// now and no later than now plus window. It changes nothing.
func (s *SweepService) CollectUpcomingReminders(ctx context.Context, window time.Duration) ([]Reservation, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	if window <= 0 {
		return nil, ErrInvalidRange
	}

	now := s.now().UTC()
	limit := now.Add(window).Add(time.Nanosecond)
	rows, err := s.reservations.ListReservations(ctx, persistence.ReservationFilter{
		Statuses:     []persistence.ReservationStatus{persistence.ReservationActive},
		StartsAfter:  &now,
		StartsBefore: &limit,
	})
	if err != nil {
		return nil, err
	}
	s.loggerWith(ctx, JobReminders).Debug("reminders collected", zap.Int("count", len(rows)))
	return rows, nil
}
