package testfixtures

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/example/desk-scheduler/internal/persistence"
	"github.com/example/desk-scheduler/internal/scheduler"
)

var (
	deskCounter        uint64
	reservationCounter uint64
)

// Monday 2030-03-04 08:00 UTC, far enough ahead that new reservations never
// start in the past.
var referenceTime = time.Date(2030, time.March, 4, 8, 0, 0, 0, time.UTC)

// ReferenceTime returns the canonical baseline timestamp used by fixtures.
func ReferenceTime() time.Time {
	return referenceTime
}

// ----------------------------- Desk fixtures -----------------------------

// DeskOption configures the generated desk.
type DeskOption func(*persistence.Desk)

// NewDesk returns a deterministic available desk with optional overrides.
func NewDesk(opts ...DeskOption) persistence.Desk {
	idx := atomic.AddUint64(&deskCounter, 1)
	desk := persistence.Desk{
		ID:        fmt.Sprintf("desk-%03d", idx),
		Name:      fmt.Sprintf("Desk %03d", idx),
		Number:    fmt.Sprintf("D-%03d", idx),
		AreaID:    "north",
		Type:      persistence.DeskRegular,
		Capacity:  1,
		Status:    persistence.DeskAvailable,
		CreatedAt: referenceTime,
		UpdatedAt: referenceTime,
	}
	for _, opt := range opts {
		opt(&desk)
	}
	return desk
}

// WithDeskID overrides the generated desk ID.
func WithDeskID(id string) DeskOption {
	return func(d *persistence.Desk) {
		d.ID = id
	}
}

// WithDeskNumber overrides the generated desk number.
func WithDeskNumber(number string) DeskOption {
	return func(d *persistence.Desk) {
		d.Number = number
	}
}

// WithDeskArea places the desk in an area.
func WithDeskArea(areaID string) DeskOption {
	return func(d *persistence.Desk) {
		d.AreaID = areaID
	}
}

// WithDeskType sets the desk type.
func WithDeskType(t persistence.DeskType) DeskOption {
	return func(d *persistence.Desk) {
		d.Type = t
	}
}

// WithDeskStatus sets the cached desk status.
func WithDeskStatus(status persistence.DeskStatus) DeskOption {
	return func(d *persistence.Desk) {
		d.Status = status
	}
}

// WithDeskFeatures sets the desk feature map.
func WithDeskFeatures(features map[string]string) DeskOption {
	return func(d *persistence.Desk) {
		d.Features = features
	}
}

// -------------------------- Reservation fixtures --------------------------

// ReservationOption configures the generated reservation.
type ReservationOption func(*persistence.Reservation)

// NewReservation returns an Active single reservation on deskID for the
// hour after ReferenceTime.
func NewReservation(deskID string, opts ...ReservationOption) persistence.Reservation {
	idx := atomic.AddUint64(&reservationCounter, 1)
	start := referenceTime.Add(time.Hour)
	r := persistence.Reservation{
		ID:        fmt.Sprintf("reservation-%03d", idx),
		UserID:    "user-1",
		DeskID:    deskID,
		Start:     start,
		End:       start.Add(time.Hour),
		Status:    persistence.ReservationActive,
		Type:      persistence.ReservationSingle,
		CreatedAt: referenceTime,
		UpdatedAt: referenceTime,
	}
	for _, opt := range opts {
		opt(&r)
	}
	return r
}

// WithReservationID overrides the generated reservation ID.
func WithReservationID(id string) ReservationOption {
	return func(r *persistence.Reservation) {
		r.ID = id
	}
}

// WithReservationUser sets the owning user.
func WithReservationUser(userID string) ReservationOption {
	return func(r *persistence.Reservation) {
		r.UserID = userID
	}
}

// WithReservationWindow sets the reserved interval.
func WithReservationWindow(start, end time.Time) ReservationOption {
	return func(r *persistence.Reservation) {
		r.Start = start.UTC()
		r.End = end.UTC()
	}
}

// WithReservationStatus sets the lifecycle status.
func WithReservationStatus(status persistence.ReservationStatus) ReservationOption {
	return func(r *persistence.Reservation) {
		r.Status = status
	}
}

// WithReservationCheckIn marks the reservation as checked in at t.
func WithReservationCheckIn(t time.Time) ReservationOption {
	return func(r *persistence.Reservation) {
		at := t.UTC()
		r.CheckInAt = &at
	}
}

// WithReservationParent links the reservation to a recurring parent.
func WithReservationParent(parentID string) ReservationOption {
	return func(r *persistence.Reservation) {
		id := parentID
		r.ParentID = &id
	}
}

// ReservationInterval returns the reservation window as an interval.
func ReservationInterval(r persistence.Reservation) scheduler.Interval {
	return scheduler.Interval{Start: r.Start, End: r.End}
}
