package application

import (
	"time"

	"github.com/example/desk-scheduler/internal/persistence"
	"github.com/example/desk-scheduler/internal/scheduler"
)

// The application layer works on the persistence records directly.
type (
	Desk              = persistence.Desk
	DeskStatus        = persistence.DeskStatus
	DeskType          = persistence.DeskType
	Reservation       = persistence.Reservation
	ReservationStatus = persistence.ReservationStatus
	ReservationType   = persistence.ReservationType
)

// CreateReservationParams captures the input required to book a desk.
// Pattern and RecurrenceEnd are only read for recurring reservations.
type CreateReservationParams struct {
	UserID        string
	DeskID        string
	Start         time.Time
	End           time.Time
	Notes         string
	Type          ReservationType
	Pattern       string
	RecurrenceEnd *time.Time
}

// SkippedOccurrence is a recurring occurrence that was not created because
// the desk was already taken.
type SkippedOccurrence struct {
	Index     int
	Start     time.Time
	End       time.Time
	Conflicts []scheduler.Conflict
}

// CreateResult reports the parent reservation, the occurrences created under
// it and the occurrences skipped due to conflicts.
type CreateResult struct {
	Reservation Reservation
	Occurrences []Reservation
	Skipped     []SkippedOccurrence
	Changes     []Change
}

// TransitionResult reports the outcome of a lifecycle action. Applied is false
// when the reservation was not in a state that allows the action.
type TransitionResult struct {
	Applied     bool
	Action      Action
	Reservation Reservation
	Changes     []Change
}

// Err returns ErrIllegalTransition when the action was refused.
func (r TransitionResult) Err() error {
	if r.Applied {
		return nil
	}
	return ErrIllegalTransition
}

// ListReservationsParams filters reservation listings.
type ListReservationsParams struct {
	UserID   string
	DeskID   string
	Statuses []ReservationStatus
	From     *time.Time
	To       *time.Time
}

// CreateDeskParams captures the input required to register a desk.
type CreateDeskParams struct {
	Name     string
	Number   string
	AreaID   string
	Type     DeskType
	Capacity int
	Features map[string]string
}

// AvailabilityQuery selects a window on a calendar date. Nil From and To fall
// back to the configured workday, a zero Date to today.
type AvailabilityQuery struct {
	Date     time.Time
	From     *time.Duration
	To       *time.Duration
	AreaID   string
	DeskType DeskType
}

// SweepReport summarises one run of a reconciliation job.
type SweepReport struct {
	Job                string
	Scanned            int
	Applied            int
	Skipped            int
	ResetWhileReserved int
	Changes            []Change
}
