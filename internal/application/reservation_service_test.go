package application

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/desk-scheduler/internal/persistence"
	"github.com/example/desk-scheduler/internal/scheduler"
)

func TestCreateReservation_Single(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.seedDesk(t, "d1", persistence.DeskAvailable)

	result, err := h.reservations.CreateReservation(context.Background(), CreateReservationParams{
		UserID: "u1",
		DeskID: "d1",
		Start:  at(4, 9, 0),
		End:    at(4, 10, 0),
		Notes:  "  window seat  ",
	})
	require.NoError(t, err)

	res := result.Reservation
	assert.Equal(t, "res-001", res.ID)
	assert.Equal(t, persistence.ReservationActive, res.Status)
	assert.Equal(t, persistence.ReservationSingle, res.Type)
	assert.Equal(t, "window seat", res.Notes)
	assert.Nil(t, res.ParentID)
	assert.Empty(t, result.Occurrences)
	require.Len(t, result.Changes, 1)
	assert.Equal(t, ChangeReservationCreated, result.Changes[0].Kind)

	stored, err := h.reservations.GetReservation(context.Background(), res.ID)
	require.NoError(t, err)
	assert.Equal(t, res.Start, stored.Start)
	assert.Equal(t, persistence.DeskAvailable, h.deskStatus(t, "d1"))
}

func TestCreateReservation_BackToBackAllowed(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.seedDesk(t, "d1", persistence.DeskAvailable)

	h.book(t, "u1", "d1", at(4, 9, 0), at(4, 10, 0))
	h.book(t, "u2", "d1", at(4, 10, 0), at(4, 11, 0))

	rows, err := h.reservations.ListReservations(context.Background(), ListReservationsParams{DeskID: "d1"})
	require.NoError(t, err)
	assert.Len(t, rows, 2)
}

func TestCreateReservation_Conflict(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.seedDesk(t, "d1", persistence.DeskAvailable)
	first := h.book(t, "u1", "d1", at(4, 9, 0), at(4, 11, 0))

	_, err := h.reservations.CreateReservation(context.Background(), CreateReservationParams{
		UserID: "u2",
		DeskID: "d1",
		Start:  at(4, 10, 0),
		End:    at(4, 12, 0),
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrDeskConflict)
	assert.Equal(t, "conflict", ErrorKind(err))

	var conflict *ConflictError
	require.ErrorAs(t, err, &conflict)
	require.Len(t, conflict.Conflicts, 1)
	assert.Equal(t, first.ID, conflict.Conflicts[0].WithBookingID)
}

func TestCreateReservation_CancelledDoesNotBlock(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.seedDesk(t, "d1", persistence.DeskAvailable)
	first := h.book(t, "u1", "d1", at(4, 9, 0), at(4, 11, 0))

	result, err := h.reservations.Cancel(context.Background(), first.ID)
	require.NoError(t, err)
	require.True(t, result.Applied)

	h.book(t, "u2", "d1", at(4, 9, 0), at(4, 11, 0))
}

func TestCreateReservation_Validation(t *testing.T) {
	t.Parallel()

	endDate := time.Date(2030, time.March, 1, 0, 0, 0, 0, time.UTC)
	cases := []struct {
		name   string
		params CreateReservationParams
		want   error
		field  string
	}{
		{
			name:   "start equals end",
			params: CreateReservationParams{UserID: "u1", DeskID: "d1", Start: at(4, 9, 0), End: at(4, 9, 0)},
			want:   ErrInvalidInterval,
			field:  "end_time",
		},
		{
			name:   "start after end",
			params: CreateReservationParams{UserID: "u1", DeskID: "d1", Start: at(4, 10, 0), End: at(4, 9, 0)},
			want:   ErrInvalidInterval,
			field:  "end_time",
		},
		{
			name:   "past start",
			params: CreateReservationParams{UserID: "u1", DeskID: "d1", Start: at(4, 7, 0), End: at(4, 9, 0)},
			want:   ErrPastStart,
			field:  "start_time",
		},
		{
			name: "recurring without pattern",
			params: CreateReservationParams{UserID: "u1", DeskID: "d1", Start: at(4, 9, 0), End: at(4, 10, 0),
				Type: persistence.ReservationRecurring, RecurrenceEnd: &endDate},
			want:  ErrMissingRecurrenceFields,
			field: "recurrence_pattern",
		},
		{
			name: "recurring without end date",
			params: CreateReservationParams{UserID: "u1", DeskID: "d1", Start: at(4, 9, 0), End: at(4, 10, 0),
				Type: persistence.ReservationRecurring, Pattern: "daily"},
			want:  ErrMissingRecurrenceFields,
			field: "recurrence_end_date",
		},
		{
			name: "end date before start",
			params: CreateReservationParams{UserID: "u1", DeskID: "d1", Start: at(4, 9, 0), End: at(4, 10, 0),
				Type: persistence.ReservationRecurring, Pattern: "weekly", RecurrenceEnd: &endDate},
			want:  ErrInvalidRecurrenceEndDate,
			field: "recurrence_end_date",
		},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			h := newHarness(t)
			h.seedDesk(t, "d1", persistence.DeskAvailable)

			_, err := h.reservations.CreateReservation(context.Background(), tc.params)
			require.Error(t, err)
			assert.ErrorIs(t, err, tc.want)

			var vErr *ValidationError
			require.ErrorAs(t, err, &vErr)
			assert.Contains(t, vErr.FieldErrors, tc.field)

			rows, listErr := h.store.ListReservations(context.Background(), persistence.ReservationFilter{})
			require.NoError(t, listErr)
			assert.Empty(t, rows)
		})
	}
}

func TestCreateReservation_UnknownDesk(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	_, err := h.reservations.CreateReservation(context.Background(), CreateReservationParams{
		UserID: "u1",
		DeskID: "missing",
		Start:  at(4, 9, 0),
		End:    at(4, 10, 0),
	})
	assert.ErrorIs(t, err, ErrUnknownDesk)
}

func TestCreateReservation_RecurringSkipsConflicts(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.seedDesk(t, "d1", persistence.DeskAvailable)
	blocker := h.book(t, "u2", "d1", at(6, 9, 30), at(6, 10, 30))

	until := time.Date(2030, time.March, 8, 0, 0, 0, 0, time.UTC)
	result, err := h.reservations.CreateReservation(context.Background(), CreateReservationParams{
		UserID:        "u1",
		DeskID:        "d1",
		Start:         at(4, 9, 0),
		End:           at(4, 10, 0),
		Notes:         "standup",
		Type:          persistence.ReservationRecurring,
		Pattern:       "Daily",
		RecurrenceEnd: &until,
	})
	require.NoError(t, err)

	parent := result.Reservation
	assert.Equal(t, "daily", parent.Pattern)
	require.NotNil(t, parent.RecurrenceEnd)
	assert.True(t, until.Equal(*parent.RecurrenceEnd))

	require.Len(t, result.Occurrences, 3)
	wantStarts := []time.Time{at(5, 9, 0), at(7, 9, 0), at(8, 9, 0)}
	for i, occ := range result.Occurrences {
		assert.True(t, wantStarts[i].Equal(occ.Start), "occurrence %d starts %s", i, occ.Start)
		assert.Equal(t, time.Hour, occ.End.Sub(occ.Start))
		require.NotNil(t, occ.ParentID)
		assert.Equal(t, parent.ID, *occ.ParentID)
		assert.Equal(t, "standup", occ.Notes)
		assert.Equal(t, parent.Pattern, occ.Pattern)
		assert.Equal(t, "d1", occ.DeskID)
	}

	require.Len(t, result.Skipped, 1)
	assert.True(t, at(6, 9, 0).Equal(result.Skipped[0].Start))
	require.Len(t, result.Skipped[0].Conflicts, 1)
	assert.Equal(t, blocker.ID, result.Skipped[0].Conflicts[0].WithBookingID)
	assert.Len(t, result.Changes, 4)
}

func TestCreateReservation_ConcurrentOverlapYieldsOneWinner(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.seedDesk(t, "d1", persistence.DeskAvailable)

	const attempts = 24
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int
		conflicts int
		others    []error
	)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			offset := time.Duration(i%4) * 15 * time.Minute
			_, err := h.reservations.CreateReservation(context.Background(), CreateReservationParams{
				UserID: "u1",
				DeskID: "d1",
				Start:  at(4, 9, 0).Add(offset),
				End:    at(4, 11, 0).Add(offset),
			})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				succeeded++
			case errors.Is(err, ErrDeskConflict):
				conflicts++
			default:
				others = append(others, err)
			}
		}(i)
	}
	wg.Wait()

	assert.Empty(t, others)
	assert.Equal(t, 1, succeeded)
	assert.Equal(t, attempts-1, conflicts)

	rows, err := h.store.ListReservations(context.Background(), persistence.ReservationFilter{
		DeskID:   "d1",
		Statuses: []persistence.ReservationStatus{persistence.ReservationActive},
	})
	require.NoError(t, err)
	assert.Len(t, rows, 1)
}

func TestCheckConflict(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.seedDesk(t, "d1", persistence.DeskAvailable)
	existing := h.book(t, "u1", "d1", at(4, 9, 0), at(4, 10, 0))

	ctx := context.Background()
	overlap := scheduler.Interval{Start: at(4, 9, 30), End: at(4, 10, 30)}
	adjacent := scheduler.Interval{Start: at(4, 10, 0), End: at(4, 11, 0)}

	got, err := h.reservations.CheckConflict(ctx, "d1", overlap, "")
	require.NoError(t, err)
	assert.True(t, got)

	got, err = h.reservations.CheckConflict(ctx, "d1", overlap, existing.ID)
	require.NoError(t, err)
	assert.False(t, got)

	got, err = h.reservations.CheckConflict(ctx, "d1", adjacent, "")
	require.NoError(t, err)
	assert.False(t, got)
}

func TestLifecycleOperations(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("check in occupies desk and is accepted once", func(t *testing.T) {
		t.Parallel()
		h := newHarness(t)
		h.seedDesk(t, "d1", persistence.DeskAvailable)
		res := h.book(t, "u1", "d1", at(4, 9, 0), at(4, 11, 0))

		h.clock.Set(at(4, 9, 5))
		result, err := h.reservations.CheckIn(ctx, res.ID)
		require.NoError(t, err)
		require.True(t, result.Applied)
		require.NotNil(t, result.Reservation.CheckInAt)
		assert.True(t, at(4, 9, 5).Equal(*result.Reservation.CheckInAt))
		assert.Equal(t, persistence.ReservationActive, result.Reservation.Status)
		assert.Equal(t, persistence.DeskOccupied, h.deskStatus(t, "d1"))

		again, err := h.reservations.CheckIn(ctx, res.ID)
		require.NoError(t, err)
		assert.False(t, again.Applied)
		assert.ErrorIs(t, again.Err(), ErrIllegalTransition)
		assert.True(t, at(4, 9, 5).Equal(*again.Reservation.CheckInAt))
	})

	t.Run("no-show refused after check in", func(t *testing.T) {
		t.Parallel()
		h := newHarness(t)
		h.seedDesk(t, "d1", persistence.DeskAvailable)
		res := h.book(t, "u1", "d1", at(4, 9, 0), at(4, 11, 0))

		h.clock.Set(at(4, 9, 5))
		_, err := h.reservations.CheckIn(ctx, res.ID)
		require.NoError(t, err)

		result, err := h.reservations.MarkNoShow(ctx, res.ID)
		require.NoError(t, err)
		assert.False(t, result.Applied)

		stored, err := h.reservations.GetReservation(ctx, res.ID)
		require.NoError(t, err)
		assert.Equal(t, persistence.ReservationActive, stored.Status)
	})

	t.Run("terminal states refuse every action", func(t *testing.T) {
		t.Parallel()
		h := newHarness(t)
		h.seedDesk(t, "d1", persistence.DeskAvailable)
		res := h.book(t, "u1", "d1", at(4, 9, 0), at(4, 11, 0))

		completed, err := h.reservations.Complete(ctx, res.ID)
		require.NoError(t, err)
		require.True(t, completed.Applied)
		assert.Equal(t, persistence.ReservationCompleted, completed.Reservation.Status)

		for name, op := range map[string]func(context.Context, string) (TransitionResult, error){
			"cancel":   h.reservations.Cancel,
			"complete": h.reservations.Complete,
			"check-in": h.reservations.CheckIn,
			"no-show":  h.reservations.MarkNoShow,
		} {
			result, err := op(ctx, res.ID)
			require.NoError(t, err, name)
			assert.False(t, result.Applied, name)
			assert.Equal(t, persistence.ReservationCompleted, result.Reservation.Status, name)
		}
	})

	t.Run("complete frees an occupied desk", func(t *testing.T) {
		t.Parallel()
		h := newHarness(t)
		h.seedDesk(t, "d1", persistence.DeskAvailable)
		res := h.book(t, "u1", "d1", at(4, 9, 0), at(4, 11, 0))

		h.clock.Set(at(4, 9, 5))
		_, err := h.reservations.CheckIn(ctx, res.ID)
		require.NoError(t, err)

		result, err := h.reservations.Complete(ctx, res.ID)
		require.NoError(t, err)
		require.True(t, result.Applied)
		assert.Equal(t, persistence.DeskAvailable, h.deskStatus(t, "d1"))
		require.Len(t, result.Changes, 2)
		assert.Equal(t, ChangeDeskStatus, result.Changes[1].Kind)
	})

	t.Run("unknown reservation", func(t *testing.T) {
		t.Parallel()
		h := newHarness(t)
		_, err := h.reservations.Cancel(ctx, "missing")
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestCurrentAndUpcomingReservations(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.seedDesk(t, "d1", persistence.DeskAvailable)
	h.seedDesk(t, "d2", persistence.DeskAvailable)
	ctx := context.Background()

	morning := h.book(t, "u1", "d1", at(4, 9, 0), at(4, 10, 0))
	later := h.book(t, "u1", "d2", at(4, 14, 0), at(4, 15, 0))
	tomorrow := h.book(t, "u1", "d1", at(5, 9, 0), at(5, 10, 0))
	h.book(t, "u2", "d2", at(4, 9, 0), at(4, 10, 0))

	current, err := h.reservations.CurrentReservation(ctx, "u1")
	require.NoError(t, err)
	assert.Nil(t, current)

	h.clock.Set(at(4, 10, 0))
	current, err = h.reservations.CurrentReservation(ctx, "u1")
	require.NoError(t, err)
	require.NotNil(t, current)
	assert.Equal(t, morning.ID, current.ID)

	upcoming, err := h.reservations.UpcomingReservations(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, upcoming, 2)
	assert.Equal(t, later.ID, upcoming[0].ID)
	assert.Equal(t, tomorrow.ID, upcoming[1].ID)
}

func TestListReservations_Window(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.seedDesk(t, "d1", persistence.DeskAvailable)
	ctx := context.Background()

	h.book(t, "u1", "d1", at(4, 9, 0), at(4, 10, 0))
	second := h.book(t, "u1", "d1", at(5, 9, 0), at(5, 10, 0))

	from := at(5, 0, 0)
	to := at(6, 0, 0)
	rows, err := h.reservations.ListReservations(ctx, ListReservationsParams{UserID: "u1", From: &from, To: &to})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, second.ID, rows[0].ID)

	_, err = h.reservations.ListReservations(ctx, ListReservationsParams{From: &to, To: &from})
	assert.ErrorIs(t, err, ErrInvalidRange)
}
