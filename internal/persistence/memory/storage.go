// Package memory provides an in-process implementation of the persistence
// repositories. It backs tests and the "memory" store driver.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/example/desk-scheduler/internal/persistence"
)

// Storage keeps desks and reservations in maps guarded by a RWMutex.
// Checked inserts additionally hold a per-desk mutex so that the conflict
// check and the insert happen without another writer on the same desk.
type Storage struct {
	mu           sync.RWMutex
	desks        map[string]persistence.Desk
	reservations map[string]persistence.Reservation

	locksMu   sync.Mutex
	deskLocks map[string]*sync.Mutex
}

var (
	_ persistence.DeskRepository        = (*Storage)(nil)
	_ persistence.ReservationRepository = (*Storage)(nil)
)

// New returns an empty Storage.
func New() *Storage {
	return &Storage{
		desks:        make(map[string]persistence.Desk),
		reservations: make(map[string]persistence.Reservation),
		deskLocks:    make(map[string]*sync.Mutex),
	}
}

// Close releases resources held by the storage. No-op.
func (s *Storage) Close() error {
	return nil
}

// Migrate initialises the storage. No-op.
func (s *Storage) Migrate(context.Context) error {
	return nil
}

// --- DeskRepository implementation ---

// CreateDesk stores a new desk. Desk numbers are unique.
func (s *Storage) CreateDesk(ctx context.Context, desk persistence.Desk) error {
	if desk.ID == "" || desk.Number == "" {
		return persistence.ErrConstraintViolation
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.desks[desk.ID]; ok {
		return fmt.Errorf("memory: desk %s: %w", desk.ID, persistence.ErrDuplicate)
	}
	for _, existing := range s.desks {
		if existing.Number == desk.Number {
			return fmt.Errorf("memory: desk number %s: %w", desk.Number, persistence.ErrDuplicate)
		}
	}

	s.desks[desk.ID] = cloneDesk(desk)
	return nil
}

// GetDesk retrieves a desk by ID.
func (s *Storage) GetDesk(ctx context.Context, id string) (persistence.Desk, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	desk, ok := s.desks[id]
	if !ok {
		return persistence.Desk{}, persistence.ErrNotFound
	}
	return cloneDesk(desk), nil
}

// ListDesks returns the desks matching filter ordered by number.
func (s *Storage) ListDesks(ctx context.Context, filter persistence.DeskFilter) ([]persistence.Desk, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	desks := make([]persistence.Desk, 0, len(s.desks))
	for _, desk := range s.desks {
		if !filter.Matches(desk) {
			continue
		}
		desks = append(desks, cloneDesk(desk))
	}

	sort.Slice(desks, func(i, j int) bool {
		if desks[i].Number == desks[j].Number {
			return desks[i].ID < desks[j].ID
		}
		return desks[i].Number < desks[j].Number
	})
	return desks, nil
}

// UpdateDeskStatus sets the cached status of one desk.
func (s *Storage) UpdateDeskStatus(ctx context.Context, id string, status persistence.DeskStatus, at time.Time) error {
	if !status.Valid() {
		return persistence.ErrConstraintViolation
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	desk, ok := s.desks[id]
	if !ok {
		return persistence.ErrNotFound
	}
	desk.Status = status
	desk.UpdatedAt = at
	s.desks[id] = desk
	return nil
}

// ResetDeskStatuses moves every desk outside except to status to.
func (s *Storage) ResetDeskStatuses(ctx context.Context, except, to persistence.DeskStatus, at time.Time) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	changed := make([]string, 0)
	for id, desk := range s.desks {
		if desk.Status == except || desk.Status == to {
			continue
		}
		desk.Status = to
		desk.UpdatedAt = at
		s.desks[id] = desk
		changed = append(changed, id)
	}
	sort.Strings(changed)
	return changed, nil
}

// --- ReservationRepository implementation ---

// CreateReservationChecked inserts r after check approves the Active
// reservations that overlap it on the same desk.
func (s *Storage) CreateReservationChecked(ctx context.Context, r persistence.Reservation, check persistence.ConflictCheck) error {
	if r.ID == "" || !r.Start.Before(r.End) {
		return persistence.ErrConstraintViolation
	}

	lock := s.deskLock(r.DeskID)
	lock.Lock()
	defer lock.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.RLock()
	_, deskExists := s.desks[r.DeskID]
	_, duplicate := s.reservations[r.ID]
	var overlapping []persistence.Reservation
	if deskExists && !duplicate {
		overlapping = s.overlappingLocked(r)
	}
	s.mu.RUnlock()

	if !deskExists {
		return fmt.Errorf("memory: desk %s: %w", r.DeskID, persistence.ErrForeignKeyViolation)
	}
	if duplicate {
		return fmt.Errorf("memory: reservation %s: %w", r.ID, persistence.ErrDuplicate)
	}

	if check != nil {
		if err := check(overlapping); err != nil {
			return err
		}
	}

	s.mu.Lock()
	s.reservations[r.ID] = cloneReservation(r)
	s.mu.Unlock()
	return nil
}

// GetReservation retrieves a reservation by ID.
func (s *Storage) GetReservation(ctx context.Context, id string) (persistence.Reservation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.reservations[id]
	if !ok {
		return persistence.Reservation{}, persistence.ErrNotFound
	}
	return cloneReservation(r), nil
}

// ListReservations returns the reservations matching filter ordered by start.
func (s *Storage) ListReservations(ctx context.Context, filter persistence.ReservationFilter) ([]persistence.Reservation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]persistence.Reservation, 0)
	for _, r := range s.reservations {
		if filter.Matches(r) {
			out = append(out, cloneReservation(r))
		}
	}
	sortReservations(out)
	return out, nil
}

// ApplyTransition applies t when its guard still holds.
func (s *Storage) ApplyTransition(ctx context.Context, t persistence.Transition) (persistence.Reservation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.reservations[t.ReservationID]
	if !ok {
		return persistence.Reservation{}, persistence.ErrNotFound
	}
	if r.Status != t.From || (t.RequireNoCheckIn && r.CheckInAt != nil) {
		return cloneReservation(r), persistence.ErrPreconditionFailed
	}

	r.Status = t.To
	if t.CheckInAt != nil {
		at := *t.CheckInAt
		r.CheckInAt = &at
	}
	r.UpdatedAt = t.At
	s.reservations[r.ID] = r
	return cloneReservation(r), nil
}

func (s *Storage) deskLock(deskID string) *sync.Mutex {
	s.locksMu.Lock()
	defer s.locksMu.Unlock()

	lock, ok := s.deskLocks[deskID]
	if !ok {
		lock = &sync.Mutex{}
		s.deskLocks[deskID] = lock
	}
	return lock
}

func (s *Storage) overlappingLocked(candidate persistence.Reservation) []persistence.Reservation {
	filter := persistence.ReservationFilter{
		DeskID:       candidate.DeskID,
		Statuses:     []persistence.ReservationStatus{persistence.ReservationActive},
		OverlapsFrom: &candidate.Start,
		OverlapsTo:   &candidate.End,
	}
	out := make([]persistence.Reservation, 0)
	for _, r := range s.reservations {
		if filter.Matches(r) {
			out = append(out, cloneReservation(r))
		}
	}
	sortReservations(out)
	return out
}

// --- Helpers ---

func sortReservations(rs []persistence.Reservation) {
	sort.Slice(rs, func(i, j int) bool {
		if rs[i].Start.Equal(rs[j].Start) {
			return rs[i].ID < rs[j].ID
		}
		return rs[i].Start.Before(rs[j].Start)
	})
}

func cloneDesk(desk persistence.Desk) persistence.Desk {
	var features map[string]string
	if desk.Features != nil {
		features = make(map[string]string, len(desk.Features))
		for k, v := range desk.Features {
			features[k] = v
		}
	}
	desk.Features = features
	return desk
}

func cloneReservation(r persistence.Reservation) persistence.Reservation {
	if r.RecurrenceEnd != nil {
		copy := *r.RecurrenceEnd
		r.RecurrenceEnd = &copy
	}
	if r.ParentID != nil {
		copy := *r.ParentID
		r.ParentID = &copy
	}
	if r.CheckInAt != nil {
		copy := *r.CheckInAt
		r.CheckInAt = &copy
	}
	return r
}
