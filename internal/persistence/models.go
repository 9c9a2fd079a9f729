package persistence

import "time"

// DeskStatus is the cached occupancy signal of a desk.
type DeskStatus string

const (
	DeskAvailable   DeskStatus = "available"
	DeskOccupied    DeskStatus = "occupied"
	DeskReserved    DeskStatus = "reserved"
	DeskMaintenance DeskStatus = "maintenance"
)

// Valid reports whether s is a known desk status.
func (s DeskStatus) Valid() bool {
	switch s {
	case DeskAvailable, DeskOccupied, DeskReserved, DeskMaintenance:
		return true
	}
	return false
}

// DeskType classifies a desk.
type DeskType string

const (
	DeskRegular  DeskType = "regular"
	DeskStanding DeskType = "standing"
	DeskMeeting  DeskType = "meeting"
	DeskManager  DeskType = "manager"
)

// Valid reports whether t is a known desk type.
func (t DeskType) Valid() bool {
	switch t {
	case DeskRegular, DeskStanding, DeskMeeting, DeskManager:
		return true
	}
	return false
}

// Desk represents a bookable desk in the office catalog.
type Desk struct {
	ID        string
	Name      string
	Number    string
	AreaID    string
	Type      DeskType
	Capacity  int
	Features  map[string]string
	Status    DeskStatus
	CreatedAt time.Time
	UpdatedAt time.Time
}

// ReservationStatus is the lifecycle state of a reservation.
type ReservationStatus string

const (
	ReservationActive    ReservationStatus = "active"
	ReservationCompleted ReservationStatus = "completed"
	ReservationCancelled ReservationStatus = "cancelled"
	ReservationNoShow    ReservationStatus = "no_show"
)

// Terminal reports whether no further transition can leave s.
func (s ReservationStatus) Terminal() bool {
	return s != ReservationActive
}

// ReservationType distinguishes one-off reservations from recurring ones.
type ReservationType string

const (
	ReservationSingle    ReservationType = "single"
	ReservationRecurring ReservationType = "recurring"
)

// Reservation is a booking of one desk by one user for a time window.
// Start and End are UTC instants. RecurrenceEnd is a calendar date held as
// midnight UTC.
type Reservation struct {
	ID            string
	UserID        string
	DeskID        string
	Start         time.Time
	End           time.Time
	Status        ReservationStatus
	Type          ReservationType
	Pattern       string
	RecurrenceEnd *time.Time
	ParentID      *string
	Notes         string
	CheckInAt     *time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Transition is a guarded status change applied as a compare-and-swap: it
// only takes effect while the reservation is still in From, and, when
// RequireNoCheckIn is set, has not been checked in.
type Transition struct {
	ReservationID    string
	From             ReservationStatus
	To               ReservationStatus
	RequireNoCheckIn bool
	CheckInAt        *time.Time
	At               time.Time
}
