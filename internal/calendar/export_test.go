package calendar

import (
	"bytes"
	"testing"
	"time"

	ical "github.com/arran4/golang-ical"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/desk-scheduler/internal/persistence"
)

func TestExport(t *testing.T) {
	start := time.Date(2030, time.March, 4, 9, 0, 0, 0, time.UTC)
	parent := "r1"
	reservations := []persistence.Reservation{
		{ID: "r1", DeskID: "d1", Start: start, End: start.Add(time.Hour), Status: persistence.ReservationActive, Notes: "standup", CreatedAt: start, UpdatedAt: start},
		{ID: "r2", DeskID: "d9", Start: start.AddDate(0, 0, 1), End: start.AddDate(0, 0, 1).Add(time.Hour), Status: persistence.ReservationCancelled, ParentID: &parent, CreatedAt: start, UpdatedAt: start},
	}

	var buf bytes.Buffer
	require.NoError(t, Export(&buf, reservations, map[string]string{"d1": "A-01"}, start))

	cal, err := ical.ParseCalendar(&buf)
	require.NoError(t, err)
	events := cal.Events()
	require.Len(t, events, 2)

	first := events[0]
	assert.Equal(t, "r1@deskd", first.GetProperty(ical.ComponentPropertyUniqueId).Value)
	assert.Equal(t, "Desk A-01", first.GetProperty(ical.ComponentPropertySummary).Value)
	assert.Equal(t, "standup", first.GetProperty(ical.ComponentPropertyDescription).Value)
	assert.Equal(t, "CONFIRMED", first.GetProperty(ical.ComponentPropertyStatus).Value)
	gotStart, err := first.GetStartAt()
	require.NoError(t, err)
	assert.True(t, start.Equal(gotStart))

	second := events[1]
	assert.Equal(t, "Desk d9", second.GetProperty(ical.ComponentPropertySummary).Value)
	assert.Equal(t, "CANCELLED", second.GetProperty(ical.ComponentPropertyStatus).Value)
	assert.Equal(t, "r1@deskd", second.GetProperty(ical.ComponentPropertyRelatedTo).Value)
	assert.Nil(t, second.GetProperty(ical.ComponentPropertyDescription))
}

func TestExport_Empty(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Export(&buf, nil, nil, time.Now()))
	assert.Contains(t, buf.String(), "BEGIN:VCALENDAR")
	assert.NotContains(t, buf.String(), "BEGIN:VEVENT")
}
