package application

import "time"

// ChangeKind labels entries on the change feed.
type ChangeKind string

const (
	ChangeReservationCreated ChangeKind = "reservation.created"
	ChangeReservationStatus  ChangeKind = "reservation.status"
	ChangeDeskStatus         ChangeKind = "desk.status"
)

// Change is an observable state change emitted by a mutating operation.
type Change struct {
	Kind          ChangeKind `json:"kind"`
	ReservationID string     `json:"reservation_id,omitempty"`
	DeskID        string     `json:"desk_id"`
	UserID        string     `json:"user_id,omitempty"`
	Status        string     `json:"status"`
	At            time.Time  `json:"at"`
}

func reservationCreated(r Reservation, at time.Time) Change {
	return Change{
		Kind:          ChangeReservationCreated,
		ReservationID: r.ID,
		DeskID:        r.DeskID,
		UserID:        r.UserID,
		Status:        string(r.Status),
		At:            at,
	}
}

func reservationStatusChanged(r Reservation, at time.Time) Change {
	return Change{
		Kind:          ChangeReservationStatus,
		ReservationID: r.ID,
		DeskID:        r.DeskID,
		UserID:        r.UserID,
		Status:        string(r.Status),
		At:            at,
	}
}

func deskStatusChanged(deskID string, status DeskStatus, at time.Time) Change {
	return Change{Kind: ChangeDeskStatus, DeskID: deskID, Status: string(status), At: at}
}
