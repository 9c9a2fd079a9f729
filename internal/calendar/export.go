// Package calendar renders reservations as an iCalendar feed.
package calendar

import (
	"io"
	"strings"
	"time"

	ical "github.com/arran4/golang-ical"

	"github.com/example/desk-scheduler/internal/persistence"
)

const productID = "-//deskd//desk reservations//EN"

// Export writes reservations as VEVENTs. deskNames maps desk ids to the
// label used in the summary and location; unknown desks fall back to the id.
func Export(w io.Writer, reservations []persistence.Reservation, deskNames map[string]string, stamp time.Time) error {
	cal := ical.NewCalendar()
	cal.SetMethod(ical.MethodPublish)
	cal.SetProductId(productID)
	cal.SetName("Desk reservations")

	for _, r := range reservations {
		desk := deskNames[r.DeskID]
		if desk == "" {
			desk = r.DeskID
		}

		event := cal.AddEvent(r.ID + "@deskd")
		event.SetDtStampTime(stamp.UTC())
		event.SetCreatedTime(r.CreatedAt.UTC())
		event.SetModifiedAt(r.UpdatedAt.UTC())
		event.SetStartAt(r.Start.UTC())
		event.SetEndAt(r.End.UTC())
		event.SetSummary("Desk " + desk)
		event.SetLocation(desk)
		event.SetProperty(ical.ComponentPropertyStatus, eventStatus(r.Status))
		if notes := strings.TrimSpace(r.Notes); notes != "" {
			event.SetDescription(notes)
		}
		if r.ParentID != nil {
			event.SetProperty(ical.ComponentPropertyRelatedTo, *r.ParentID+"@deskd")
		}
	}

	return cal.SerializeTo(w)
}

func eventStatus(s persistence.ReservationStatus) string {
	switch s {
	case persistence.ReservationActive, persistence.ReservationCompleted:
		return string(ical.ObjectStatusConfirmed)
	default:
		return string(ical.ObjectStatusCancelled)
	}
}
