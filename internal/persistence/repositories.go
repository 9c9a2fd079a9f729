package persistence

import (
	"context"
	"time"
)

// DeskFilter narrows desk queries.
type DeskFilter struct {
	AreaID          string
	Type            DeskType
	ExcludeStatuses []DeskStatus
}

// DeskRepository stores the desk catalog and the cached desk status.
type DeskRepository interface {
	CreateDesk(ctx context.Context, desk Desk) error
	GetDesk(ctx context.Context, id string) (Desk, error)
	ListDesks(ctx context.Context, filter DeskFilter) ([]Desk, error)
	UpdateDeskStatus(ctx context.Context, id string, status DeskStatus, at time.Time) error
	// ResetDeskStatuses sets every desk not in except and not already in to
	// status to, and returns the ids it changed.
	ResetDeskStatuses(ctx context.Context, except DeskStatus, to DeskStatus, at time.Time) ([]string, error)
}

// ReservationFilter narrows reservation queries. Zero values do not filter.
type ReservationFilter struct {
	UserID   string
	DeskID   string
	Statuses []ReservationStatus
	// OverlapsFrom/OverlapsTo select reservations whose [Start, End)
	// intersects the window. Both must be set to apply.
	OverlapsFrom *time.Time
	OverlapsTo   *time.Time
	StartsAfter  *time.Time
	StartsBefore *time.Time
	EndsBefore   *time.Time
	CheckedIn    *bool
}

// ConflictCheck inspects the Active reservations on a desk that overlap a
// candidate and returns a non-nil error to veto the insert.
type ConflictCheck func(existing []Reservation) error

// ReservationRepository stores reservations. Rows are never deleted.
type ReservationRepository interface {
	// CreateReservationChecked serialises writers on the desk, loads the
	// Active reservations overlapping r, runs check and inserts r only when
	// check returns nil.
	CreateReservationChecked(ctx context.Context, r Reservation, check ConflictCheck) error
	GetReservation(ctx context.Context, id string) (Reservation, error)
	ListReservations(ctx context.Context, filter ReservationFilter) ([]Reservation, error)
	// ApplyTransition returns ErrPreconditionFailed when the guard no longer
	// holds and ErrNotFound when the reservation does not exist.
	ApplyTransition(ctx context.Context, t Transition) (Reservation, error)
}

// Matches reports whether r satisfies the filter. Stores that evaluate
// filters in memory share this predicate.
func (f ReservationFilter) Matches(r Reservation) bool {
	if f.UserID != "" && r.UserID != f.UserID {
		return false
	}
	if f.DeskID != "" && r.DeskID != f.DeskID {
		return false
	}
	if len(f.Statuses) > 0 {
		found := false
		for _, s := range f.Statuses {
			if r.Status == s {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if f.OverlapsFrom != nil && f.OverlapsTo != nil {
		if !(r.Start.Before(*f.OverlapsTo) && f.OverlapsFrom.Before(r.End)) {
			return false
		}
	}
	if f.StartsAfter != nil && !r.Start.After(*f.StartsAfter) {
		return false
	}
	if f.StartsBefore != nil && !r.Start.Before(*f.StartsBefore) {
		return false
	}
	if f.EndsBefore != nil && !r.End.Before(*f.EndsBefore) {
		return false
	}
	if f.CheckedIn != nil && (r.CheckInAt != nil) != *f.CheckedIn {
		return false
	}
	return true
}

// Matches reports whether d satisfies the filter.
func (f DeskFilter) Matches(d Desk) bool {
	if f.AreaID != "" && d.AreaID != f.AreaID {
		return false
	}
	if f.Type != "" && d.Type != f.Type {
		return false
	}
	for _, s := range f.ExcludeStatuses {
		if d.Status == s {
			return false
		}
	}
	return true
}
