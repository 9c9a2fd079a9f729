package scheduler

// Booking is the minimal view of a reservation needed for conflict detection.
type Booking struct {
	ID       string
	DeskID   string
	Interval Interval
	Active   bool
}

// Conflict identifies an existing booking that overlaps a candidate interval.
type Conflict struct {
	WithBookingID string
	DeskID        string
	Interval      Interval
}

// DetectConflicts returns every active booking on deskID that overlaps the
// candidate interval. The booking identified by excludingID is ignored so an
// existing reservation can be validated in place.
func DetectConflicts(existing []Booking, deskID string, candidate Interval, excludingID string) []Conflict {
	var conflicts []Conflict
	for _, booking := range existing {
		if !booking.Active || booking.DeskID != deskID {
			continue
		}
		if excludingID != "" && booking.ID == excludingID {
			continue
		}
		if !booking.Interval.Overlaps(candidate) {
			continue
		}
		conflicts = append(conflicts, Conflict{
			WithBookingID: booking.ID,
			DeskID:        booking.DeskID,
			Interval:      booking.Interval,
		})
	}
	return conflicts
}

// HasConflict reports whether any active booking on deskID overlaps candidate.
func HasConflict(existing []Booking, deskID string, candidate Interval, excludingID string) bool {
	return len(DetectConflicts(existing, deskID, candidate, excludingID)) > 0
}

// OccupiedDesks returns the set of desk ids holding an active booking that
// overlaps window.
func OccupiedDesks(existing []Booking, window Interval) map[string]struct{} {
	occupied := make(map[string]struct{})
	for _, booking := range existing {
		if booking.Active && booking.Interval.Overlaps(window) {
			occupied[booking.DeskID] = struct{}{}
		}
	}
	return occupied
}
