package http

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/example/desk-scheduler/internal/application"
	"github.com/example/desk-scheduler/internal/persistence"
	"github.com/example/desk-scheduler/internal/testfixtures"
)

type capturingPublisher struct {
	mu      sync.Mutex
	changes []application.Change
}

func (p *capturingPublisher) PublishChanges(_ context.Context, changes []application.Change) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.changes = append(p.changes, changes...)
	return nil
}

func (p *capturingPublisher) kinds() []application.ChangeKind {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]application.ChangeKind, 0, len(p.changes))
	for _, c := range p.changes {
		out = append(out, c.Kind)
	}
	return out
}

type routerFixture struct {
	handler   http.Handler
	services  *testfixtures.Services
	clock     *testfixtures.Clock
	publisher *capturingPublisher
}

func newRouterFixture(t *testing.T) *routerFixture {
	t.Helper()

	factory := testfixtures.NewServiceFactory()
	services := factory.NewMemoryServices()
	publisher := &capturingPublisher{}
	logger := zap.NewNop()

	ctx := context.Background()
	require.NoError(t, services.Desks.CreateDesk(ctx, testfixtures.NewDesk(testfixtures.WithDeskID("desk-1"), testfixtures.WithDeskArea("north"))))
	require.NoError(t, services.Desks.CreateDesk(ctx, testfixtures.NewDesk(testfixtures.WithDeskID("desk-2"), testfixtures.WithDeskArea("south"))))

	handler := NewRouter(RouterConfig{
		Reservations: NewReservationHandler(services.ReservationService, logger,
			WithDeskCatalog(services.DeskService),
			WithChangePublisher(publisher),
			WithClock(factory.Clock.Now),
		),
		Desks: NewDeskHandler(services.DeskService, publisher, logger),
		Middleware: []func(http.Handler) http.Handler{
			RequestLogger(logger),
			Recoverer(logger),
			RequireUser(logger),
		},
	})

	return &routerFixture{handler: handler, services: services, clock: factory.Clock, publisher: publisher}
}

func (f *routerFixture) do(t *testing.T, method, target, userID string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(payload)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, target, reader)
	if userID != "" {
		req.Header.Set(userIDHeader, userID)
	}
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	return rec
}

func (f *routerFixture) book(t *testing.T, userID, deskID string, start time.Time, d time.Duration) reservationDTO {
	t.Helper()

	rec := f.do(t, http.MethodPost, "/reservations", userID, map[string]string{
		"desk_id":    deskID,
		"start_time": start.Format(time.RFC3339),
		"end_time":   start.Add(d).Format(time.RFC3339),
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var resp createReservationResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp.Reservation
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) errorResponse {
	t.Helper()
	var resp errorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp
}

func TestRouterHealthzSkipsUserHeader(t *testing.T) {
	f := newRouterFixture(t)

	rec := f.do(t, http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", rec.Body.String())
	assert.NotEmpty(t, rec.Header().Get(requestIDHeader))
}

func TestRouterRequiresUserHeader(t *testing.T) {
	f := newRouterFixture(t)

	rec := f.do(t, http.MethodGet, "/reservations", "", nil)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, errMissingUserID.Error(), decodeError(t, rec).Message)
}

func TestRouterPropagatesRequestID(t *testing.T) {
	f := newRouterFixture(t)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set(requestIDHeader, "req-42")
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)

	assert.Equal(t, "req-42", rec.Header().Get(requestIDHeader))
}

func TestCreateReservationAndConflict(t *testing.T) {
	f := newRouterFixture(t)
	start := f.clock.Now().Add(time.Hour)

	created := f.book(t, "alice", "desk-1", start, time.Hour)
	assert.Equal(t, "alice", created.UserID)
	assert.Equal(t, "active", created.Status)
	assert.Equal(t, "single", created.ReservationType)
	assert.Contains(t, f.publisher.kinds(), application.ChangeReservationCreated)

	rec := f.do(t, http.MethodPost, "/reservations", "bob", map[string]string{
		"desk_id":    "desk-1",
		"start_time": start.Add(30 * time.Minute).Format(time.RFC3339),
		"end_time":   start.Add(90 * time.Minute).Format(time.RFC3339),
	})
	require.Equal(t, http.StatusConflict, rec.Code)
	resp := decodeError(t, rec)
	assert.Equal(t, "DESK_CONFLICT", resp.ErrorCode)
	require.Len(t, resp.Conflicts, 1)
	assert.Equal(t, created.ID, resp.Conflicts[0].ReservationID)

	// Touching intervals do not conflict.
	f.book(t, "bob", "desk-1", start.Add(time.Hour), time.Hour)
}

func TestCreateReservationValidation(t *testing.T) {
	f := newRouterFixture(t)
	start := f.clock.Now().Add(time.Hour)

	rec := f.do(t, http.MethodPost, "/reservations", "alice", map[string]string{
		"desk_id":    "desk-1",
		"start_time": start.Format(time.RFC3339),
		"end_time":   start.Format(time.RFC3339),
	})
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Contains(t, decodeError(t, rec).Errors, "end_time")

	rec = f.do(t, http.MethodPost, "/reservations", "alice", map[string]string{
		"desk_id":          "desk-1",
		"start_time":       start.Format(time.RFC3339),
		"end_time":         start.Add(time.Hour).Format(time.RFC3339),
		"reservation_type": "recurring",
	})
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	errs := decodeError(t, rec).Errors
	assert.Contains(t, errs, "recurrence_pattern")
	assert.Contains(t, errs, "recurrence_end_date")

	rec = f.do(t, http.MethodPost, "/reservations", "alice", map[string]string{
		"desk_id":    "desk-missing",
		"start_time": start.Format(time.RFC3339),
		"end_time":   start.Add(time.Hour).Format(time.RFC3339),
	})
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, "UNKNOWN_DESK", decodeError(t, rec).ErrorCode)

	rec = f.do(t, http.MethodPost, "/reservations", "alice", map[string]string{
		"desk_id":    "desk-1",
		"start_time": "tomorrow at nine",
		"end_time":   start.Add(time.Hour).Format(time.RFC3339),
	})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, decodeError(t, rec).Message, "start_time")

	rec = f.do(t, http.MethodPost, "/reservations", "alice", map[string]string{
		"desk_id":    "desk-1",
		"start_time": start.Format(time.RFC3339),
		"end_time":   "2030-03-04 10:00",
	})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, decodeError(t, rec).Message, "end_time")

	req := httptest.NewRequest(http.MethodPost, "/reservations", strings.NewReader("{"))
	req.Header.Set(userIDHeader, "alice")
	bad := httptest.NewRecorder()
	f.handler.ServeHTTP(bad, req)
	assert.Equal(t, http.StatusBadRequest, bad.Code)
}

func TestCreateRecurringReservationReportsSkipped(t *testing.T) {
	f := newRouterFixture(t)
	start := f.clock.Now().Add(time.Hour)

	blocker := f.book(t, "bob", "desk-1", start.AddDate(0, 0, 2), time.Hour)

	rec := f.do(t, http.MethodPost, "/reservations", "alice", map[string]string{
		"desk_id":             "desk-1",
		"start_time":          start.Format(time.RFC3339),
		"end_time":            start.Add(time.Hour).Format(time.RFC3339),
		"reservation_type":    "recurring",
		"recurrence_pattern":  "daily",
		"recurrence_end_date": start.AddDate(0, 0, 4).Format(time.DateOnly),
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var resp createReservationResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "daily", resp.Reservation.RecurrencePattern)
	require.Len(t, resp.Skipped, 1)
	require.Len(t, resp.Skipped[0].Conflicts, 1)
	assert.Equal(t, blocker.ID, resp.Skipped[0].Conflicts[0].ReservationID)
	for _, occ := range resp.Occurrences {
		require.NotNil(t, occ.ParentID)
		assert.Equal(t, resp.Reservation.ID, *occ.ParentID)
	}
}

func TestLifecycleEndpoints(t *testing.T) {
	f := newRouterFixture(t)
	start := f.clock.Now().Add(time.Hour)
	created := f.book(t, "alice", "desk-1", start, time.Hour)

	f.clock.Set(start.Add(5 * time.Minute))

	rec := f.do(t, http.MethodPost, "/reservations/"+created.ID+"/check-in", "bob", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = f.do(t, http.MethodPost, "/reservations/"+created.ID+"/check-in", "alice", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var resp reservationResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.NotEmpty(t, resp.Reservation.CheckInTime)
	assert.Contains(t, f.publisher.kinds(), application.ChangeDeskStatus)

	desk, err := f.services.Desks.GetDesk(context.Background(), "desk-1")
	require.NoError(t, err)
	assert.Equal(t, persistence.DeskOccupied, desk.Status)

	rec = f.do(t, http.MethodPost, "/reservations/"+created.ID+"/check-in", "alice", nil)
	require.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "ILLEGAL_TRANSITION", decodeError(t, rec).ErrorCode)

	rec = f.do(t, http.MethodPost, "/reservations/"+created.ID+"/complete", "alice", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = f.do(t, http.MethodPost, "/reservations/"+created.ID+"/cancel", "alice", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = f.do(t, http.MethodGet, "/reservations/"+created.ID+"/cancel", "alice", nil)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)

	rec = f.do(t, http.MethodPost, "/reservations/"+created.ID+"/archive", "alice", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = f.do(t, http.MethodGet, "/reservations/missing", "alice", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCurrentAndUpcoming(t *testing.T) {
	f := newRouterFixture(t)
	start := f.clock.Now().Add(time.Hour)
	first := f.book(t, "alice", "desk-1", start, time.Hour)
	second := f.book(t, "alice", "desk-2", start.Add(3*time.Hour), time.Hour)

	rec := f.do(t, http.MethodGet, "/reservations/current", "alice", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = f.do(t, http.MethodGet, "/reservations/upcoming", "alice", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var upcoming listReservationsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &upcoming))
	require.Len(t, upcoming.Reservations, 2)
	assert.Equal(t, first.ID, upcoming.Reservations[0].ID)
	assert.Equal(t, second.ID, upcoming.Reservations[1].ID)

	f.clock.Set(start.Add(10 * time.Minute))
	rec = f.do(t, http.MethodGet, "/reservations/current", "alice", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var current reservationResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &current))
	assert.Equal(t, first.ID, current.Reservation.ID)

	rec = f.do(t, http.MethodGet, "/reservations/current", "bob", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestListAndCalendar(t *testing.T) {
	f := newRouterFixture(t)
	start := f.clock.Now().Add(time.Hour)
	mine := f.book(t, "alice", "desk-1", start, time.Hour)
	f.book(t, "bob", "desk-2", start, time.Hour)

	rec := f.do(t, http.MethodGet, "/reservations?status=active", "alice", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var list listReservationsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	require.Len(t, list.Reservations, 1)
	assert.Equal(t, mine.ID, list.Reservations[0].ID)

	window := "start=" + start.Format(time.RFC3339) + "&end=" + start.Add(time.Hour).Format(time.RFC3339)
	rec = f.do(t, http.MethodGet, "/reservations/calendar?"+window, "alice", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	require.Len(t, list.Reservations, 1)
	assert.Equal(t, mine.ID, list.Reservations[0].ID)

	rec = f.do(t, http.MethodGet, "/reservations/calendar?"+window+"&desk_id=desk-2", "alice", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	list = listReservationsResponse{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	assert.Empty(t, list.Reservations)

	rec = f.do(t, http.MethodGet, "/reservations/calendar?"+window+"&desk_id=desk-2", "bob", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	require.Len(t, list.Reservations, 1)
	assert.Equal(t, "desk-2", list.Reservations[0].DeskID)
	assert.Equal(t, "bob", list.Reservations[0].UserID)

	inverted := "start=" + start.Add(time.Hour).Format(time.RFC3339) + "&end=" + start.Format(time.RFC3339)
	rec = f.do(t, http.MethodGet, "/reservations/calendar?"+inverted, "alice", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodGet, "/reservations?from=yesterday", "alice", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCalendarICS(t *testing.T) {
	f := newRouterFixture(t)
	start := f.clock.Now().Add(time.Hour)
	created := f.book(t, "alice", "desk-1", start, time.Hour)

	rec := f.do(t, http.MethodGet, "/reservations/calendar.ics", "alice", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "text/calendar")
	body := rec.Body.String()
	assert.Contains(t, body, "BEGIN:VCALENDAR")
	assert.Contains(t, body, created.ID+"@deskd")
	assert.Contains(t, body, "SUMMARY:Desk Desk ")
}

func TestDeskEndpoints(t *testing.T) {
	f := newRouterFixture(t)

	rec := f.do(t, http.MethodPost, "/desks", "admin", map[string]any{
		"name":        "Standing by the window",
		"desk_number": "S-1",
		"area_id":     "north",
		"desk_type":   "standing",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var created deskResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	assert.Equal(t, "standing", created.Desk.Type)
	assert.Equal(t, 1, created.Desk.Capacity)

	rec = f.do(t, http.MethodPost, "/desks", "admin", map[string]any{"name": "Dup", "desk_number": "S-1"})
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Contains(t, decodeError(t, rec).Errors, "desk_number")

	rec = f.do(t, http.MethodGet, "/desks?area=north", "admin", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var list listDesksResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	assert.Len(t, list.Desks, 2)

	rec = f.do(t, http.MethodGet, "/desks/"+created.Desk.ID, "admin", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = f.do(t, http.MethodGet, "/desks/nope", "admin", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAvailabilityAndMaintenance(t *testing.T) {
	f := newRouterFixture(t)
	start := f.clock.Now().Add(2 * time.Hour) // 10:00
	f.book(t, "alice", "desk-1", start, time.Hour)

	date := start.Format(time.DateOnly)
	rec := f.do(t, http.MethodGet, "/desks/available?date="+date+"&time_from=10:30&time_to=11:30", "bob", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var list listDesksResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	require.Len(t, list.Desks, 1)
	assert.Equal(t, "desk-2", list.Desks[0].ID)

	rec = f.do(t, http.MethodGet, "/desks/available?date="+date+"&time_from=11:00&time_to=12:00", "bob", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	assert.Len(t, list.Desks, 2)

	rec = f.do(t, http.MethodPut, "/desks/desk-2/maintenance", "admin", map[string]bool{"enabled": true})
	require.Equal(t, http.StatusOK, rec.Code)
	var desk deskResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &desk))
	assert.Equal(t, "maintenance", desk.Desk.Status)
	assert.Contains(t, f.publisher.kinds(), application.ChangeDeskStatus)

	rec = f.do(t, http.MethodGet, "/desks/available?date="+date+"&time_from=11:00&time_to=12:00", "bob", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	require.Len(t, list.Desks, 1)
	assert.Equal(t, "desk-1", list.Desks[0].ID)

	rec = f.do(t, http.MethodGet, "/desks/available?date="+date+"&time_from=12:00&time_to=11:00", "bob", nil)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	rec = f.do(t, http.MethodGet, "/desks/available?time_from=noon", "bob", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodPut, "/desks/desk-2/maintenance", "admin", map[string]string{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodPost, "/desks/desk-2/maintenance", "admin", map[string]bool{"enabled": false})
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}
