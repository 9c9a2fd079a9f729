package application

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/example/desk-scheduler/internal/scheduler"
)

var (
	// ErrNotFound is returned when the requested resource does not exist.
	ErrNotFound = errors.New("application: not found")
	// ErrInvalidInterval is returned when a reservation does not start before it ends.
	ErrInvalidInterval = errors.New("application: start must be before end")
	// ErrPastStart is returned when a new reservation starts in the past.
	ErrPastStart = errors.New("application: start is in the past")
	// ErrMissingRecurrenceFields is returned when a recurring reservation lacks
	// a valid pattern or end date.
	ErrMissingRecurrenceFields = errors.New("application: recurrence pattern and end date are required")
	// ErrInvalidRecurrenceEndDate is returned when the series would end before it starts
	// or would produce too many occurrences.
	ErrInvalidRecurrenceEndDate = errors.New("application: invalid recurrence end date")
	// ErrDeskConflict is returned when the desk is already reserved for an overlapping interval.
	ErrDeskConflict = errors.New("application: desk already reserved for this time")
	// ErrIllegalTransition is returned when a lifecycle action is not allowed in the current state.
	ErrIllegalTransition = errors.New("application: illegal status transition")
	// ErrInvalidRange is returned when an availability window does not end after it starts.
	ErrInvalidRange = errors.New("application: end time must be after start time")
	// ErrUnknownDesk is returned when a reservation references a desk that does not exist.
	ErrUnknownDesk = errors.New("application: unknown desk")
)

// ValidationError captures field level validation issues that callers can surface to users.
// The sentinel causes remain reachable through errors.Is.
type ValidationError struct {
	FieldErrors map[string]string
	causes      []error
}

// Error implements the error interface.
func (v *ValidationError) Error() string {
	if v == nil {
		return ""
	}
	if len(v.FieldErrors) == 0 {
		return "validation failed"
	}
	fields := make([]string, 0, len(v.FieldErrors))
	for field := range v.FieldErrors {
		fields = append(fields, field)
	}
	sort.Strings(fields)
	parts := make([]string, 0, len(fields))
	for _, field := range fields {
		parts = append(parts, field+": "+v.FieldErrors[field])
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

// Unwrap exposes the sentinel errors behind the field messages.
func (v *ValidationError) Unwrap() []error {
	if v == nil {
		return nil
	}
	return v.causes
}

// HasErrors reports whether any field level issues were recorded.
func (v *ValidationError) HasErrors() bool {
	return v != nil && len(v.FieldErrors) > 0
}

// add records a field level validation error.
func (v *ValidationError) add(field, message string, cause error) {
	if v.FieldErrors == nil {
		v.FieldErrors = make(map[string]string)
	}
	v.FieldErrors[field] = message
	if cause != nil {
		v.causes = append(v.causes, cause)
	}
}

// ConflictError lists the reservations that block a candidate interval.
type ConflictError struct {
	DeskID    string
	Interval  scheduler.Interval
	Conflicts []scheduler.Conflict
}

// Error implements the error interface.
func (e *ConflictError) Error() string {
	ids := make([]string, 0, len(e.Conflicts))
	for _, c := range e.Conflicts {
		ids = append(ids, c.WithBookingID)
	}
	return fmt.Sprintf("%v: desk %s %s-%s overlaps %s", ErrDeskConflict, e.DeskID,
		e.Interval.Start.Format("2006-01-02T15:04Z07:00"), e.Interval.End.Format("15:04Z07:00"), strings.Join(ids, ", "))
}

// Unwrap returns ErrDeskConflict.
func (e *ConflictError) Unwrap() error {
	return ErrDeskConflict
}
