package application

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/example/desk-scheduler/internal/persistence"
	"github.com/example/desk-scheduler/internal/persistence/memory"
	"github.com/example/desk-scheduler/internal/recurrence"
)

// Monday, 08:00 UTC.
var monday = time.Date(2030, time.March, 4, 8, 0, 0, 0, time.UTC)

func at(day int, hour, minute int) time.Time {
	return time.Date(2030, time.March, day, hour, minute, 0, 0, time.UTC)
}

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Set(t time.Time) {
	c.mu.Lock()
	c.now = t
	c.mu.Unlock()
}

type harness struct {
	store        *memory.Storage
	clock        *testClock
	cache        *AvailabilityCache
	reservations *ReservationService
	desks        *DeskService
	sweeps       *SweepService
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	var counter uint64
	ids := func() string {
		return fmt.Sprintf("res-%03d", atomic.AddUint64(&counter, 1))
	}
	clock := &testClock{now: monday}
	store := memory.New()
	cache := NewAvailabilityCache(time.Minute, 16, clock.Now)
	logger := zap.NewNop()

	return &harness{
		store:        store,
		clock:        clock,
		cache:        cache,
		reservations: NewReservationServiceWithLogger(store, store, recurrence.NewEngine(time.UTC), cache, ids, clock.Now, logger),
		desks:        NewDeskServiceWithLogger(store, store, cache, DefaultAvailabilitySettings(), ids, clock.Now, logger),
		sweeps:       NewSweepServiceWithLogger(store, store, cache, time.Hour, clock.Now, logger),
	}
}

func (h *harness) seedDesk(t *testing.T, id string, status persistence.DeskStatus) {
	t.Helper()
	require.NoError(t, h.store.CreateDesk(context.Background(), persistence.Desk{
		ID:       id,
		Name:     "Desk " + id,
		Number:   "N-" + id,
		AreaID:   "north",
		Type:     persistence.DeskRegular,
		Capacity: 1,
		Status:   status,
	}))
}

func (h *harness) book(t *testing.T, userID, deskID string, start, end time.Time) Reservation {
	t.Helper()
	result, err := h.reservations.CreateReservation(context.Background(), CreateReservationParams{
		UserID: userID,
		DeskID: deskID,
		Start:  start,
		End:    end,
	})
	require.NoError(t, err)
	return result.Reservation
}

func (h *harness) deskStatus(t *testing.T, id string) persistence.DeskStatus {
	t.Helper()
	desk, err := h.store.GetDesk(context.Background(), id)
	require.NoError(t, err)
	return desk.Status
}
