package application

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/example/desk-scheduler/internal/persistence"
	"github.com/example/desk-scheduler/internal/scheduler"
)

// Action is a lifecycle operation on a reservation.
type Action string

const (
	ActionCheckIn  Action = "check_in"
	ActionCancel   Action = "cancel"
	ActionComplete Action = "complete"
	ActionNoShow   Action = "no_show"
)

// planTransition returns the guarded transition for action, or false when the
// reservation is not in a state the action accepts.
func planTransition(res Reservation, action Action, now time.Time) (persistence.Transition, bool) {
	if res.Status.Terminal() {
		return persistence.Transition{}, false
	}

	t := persistence.Transition{
		ReservationID: res.ID,
		From:          persistence.ReservationActive,
		To:            persistence.ReservationActive,
		At:            now,
	}
	switch action {
	case ActionCheckIn:
		if res.CheckInAt != nil {
			return persistence.Transition{}, false
		}
		at := now
		t.RequireNoCheckIn = true
		t.CheckInAt = &at
	case ActionCancel:
		t.To = persistence.ReservationCancelled
	case ActionComplete:
		t.To = persistence.ReservationCompleted
	case ActionNoShow:
		if res.CheckInAt != nil {
			return persistence.Transition{}, false
		}
		t.RequireNoCheckIn = true
		t.To = persistence.ReservationNoShow
	default:
		return persistence.Transition{}, false
	}
	return t, true
}

// DeriveDeskStatus computes the cached desk status from the Active
// reservations on the desk. Maintenance is only left by an explicit request.
func DeriveDeskStatus(current DeskStatus, active []Reservation, now time.Time) DeskStatus {
	if current == persistence.DeskMaintenance {
		return current
	}
	status := persistence.DeskAvailable
	for _, r := range active {
		if r.Status != persistence.ReservationActive {
			continue
		}
		if !(scheduler.Interval{Start: r.Start, End: r.End}).Contains(now) {
			continue
		}
		if r.CheckInAt != nil {
			return persistence.DeskOccupied
		}
		status = persistence.DeskReserved
	}
	return status
}

// lifecycle applies guarded transitions and keeps the cached desk status in
// step. It is shared by the interactive and the reconciliation paths.
type lifecycle struct {
	desks        persistence.DeskRepository
	reservations persistence.ReservationRepository
	cache        *AvailabilityCache
}

func (l lifecycle) apply(ctx context.Context, logger *zap.Logger, res Reservation, action Action, now time.Time) (TransitionResult, error) {
	result := TransitionResult{Action: action, Reservation: res}

	t, ok := planTransition(res, action, now)
	if !ok {
		return result, nil
	}

	updated, err := l.reservations.ApplyTransition(ctx, t)
	switch {
	case errors.Is(err, persistence.ErrPreconditionFailed):
		// Lost a race; report the row as it is now.
		if updated.ID != "" {
			result.Reservation = updated
		}
		return result, nil
	case errors.Is(err, persistence.ErrNotFound):
		return result, ErrNotFound
	case err != nil:
		return result, fmt.Errorf("apply %s: %w", action, err)
	}

	result.Applied = true
	result.Reservation = updated
	result.Changes = append(result.Changes, reservationStatusChanged(updated, now))

	if change, ok := l.refreshDesk(ctx, logger, updated.DeskID, now); ok {
		result.Changes = append(result.Changes, change)
	}
	l.cache.Invalidate()
	return result, nil
}

// refreshDesk recomputes the desk status. Failures are logged, the
// reservation change already happened.
func (l lifecycle) refreshDesk(ctx context.Context, logger *zap.Logger, deskID string, now time.Time) (Change, bool) {
	desk, err := l.desks.GetDesk(ctx, deskID)
	if err != nil {
		logger.Warn("desk status refresh failed", zap.String("desk_id", deskID), zap.Error(err))
		return Change{}, false
	}

	at := now
	until := now.Add(time.Nanosecond)
	active, err := l.reservations.ListReservations(ctx, persistence.ReservationFilter{
		DeskID:       deskID,
		Statuses:     []persistence.ReservationStatus{persistence.ReservationActive},
		OverlapsFrom: &at,
		OverlapsTo:   &until,
	})
	if err != nil {
		logger.Warn("desk status refresh failed", zap.String("desk_id", deskID), zap.Error(err))
		return Change{}, false
	}

	status := DeriveDeskStatus(desk.Status, active, now)
	if status == desk.Status {
		return Change{}, false
	}
	if err := l.desks.UpdateDeskStatus(ctx, deskID, status, now); err != nil {
		logger.Warn("desk status refresh failed", zap.String("desk_id", deskID), zap.Error(err))
		return Change{}, false
	}
	return deskStatusChanged(deskID, status, now), true
}

func toBookings(reservations []Reservation) []scheduler.Booking {
	bookings := make([]scheduler.Booking, 0, len(reservations))
	for _, r := range reservations {
		bookings = append(bookings, scheduler.Booking{
			ID:       r.ID,
			DeskID:   r.DeskID,
			Interval: scheduler.Interval{Start: r.Start, End: r.End},
			Active:   r.Status == persistence.ReservationActive,
		})
	}
	return bookings
}
