package application

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/example/desk-scheduler/internal/persistence"
	"github.com/example/desk-scheduler/internal/scheduler"
)

// AvailabilitySettings holds the defaults used by availability queries.
type AvailabilitySettings struct {
	Location     *time.Location
	WorkdayStart time.Duration
	WorkdayEnd   time.Duration
}

// DefaultAvailabilitySettings returns a 09:00 to 18:00 UTC workday.
func DefaultAvailabilitySettings() AvailabilitySettings {
	return AvailabilitySettings{Location: time.UTC, WorkdayStart: 9 * time.Hour, WorkdayEnd: 18 * time.Hour}
}

// DeskService manages the desk catalog and answers availability queries.
type DeskService struct {
	desks        persistence.DeskRepository
	reservations persistence.ReservationRepository
	cache        *AvailabilityCache
	settings     AvailabilitySettings
	idGenerator  func() string
	now          func() time.Time
	logger       *zap.Logger
}

// NewDeskService constructs a desk service with the provided dependencies.
func NewDeskService(desks persistence.DeskRepository, reservations persistence.ReservationRepository, cache *AvailabilityCache, settings AvailabilitySettings, idGenerator func() string, now func() time.Time) *DeskService {
	return NewDeskServiceWithLogger(desks, reservations, cache, settings, idGenerator, now, nil)
}

// NewDeskServiceWithLogger constructs a desk service with a specified logger.
func NewDeskServiceWithLogger(desks persistence.DeskRepository, reservations persistence.ReservationRepository, cache *AvailabilityCache, settings AvailabilitySettings, idGenerator func() string, now func() time.Time, logger *zap.Logger) *DeskService {
	if settings.Location == nil {
		settings.Location = time.UTC
	}
	if settings.WorkdayEnd <= settings.WorkdayStart {
		defaults := DefaultAvailabilitySettings()
		settings.WorkdayStart, settings.WorkdayEnd = defaults.WorkdayStart, defaults.WorkdayEnd
	}
	if idGenerator == nil {
		idGenerator = func() string { return "" }
	}
	if now == nil {
		now = time.Now
	}
	return &DeskService{
		desks:        desks,
		reservations: reservations,
		cache:        cache,
		settings:     settings,
		idGenerator:  idGenerator,
		now:          now,
		logger:       defaultLogger(logger),
	}
}

func (s *DeskService) loggerWith(ctx context.Context, operation string, fields ...zap.Field) *zap.Logger {
	return serviceLogger(ctx, s.logger, "DeskService", operation, fields...)
}

// CreateDesk validates input and registers a new desk as available.
func (s *DeskService) CreateDesk(ctx context.Context, params CreateDeskParams) (desk Desk, err error) {
	if s == nil {
		err = fmt.Errorf("DeskService is nil")
		return
	}
	if s.desks == nil {
		err = fmt.Errorf("desk repository not configured")
		return
	}

	logger := s.loggerWith(ctx, "CreateDesk", zap.String("desk_number", params.Number))
	defer func() {
		if err != nil {
			logger.Error("failed to create desk", zap.Error(err), zap.String("error_kind", ErrorKind(err)))
			return
		}
		logger.Info("desk created", zap.String("desk_id", desk.ID))
	}()

	vErr := &ValidationError{}
	name := strings.TrimSpace(params.Name)
	number := strings.TrimSpace(params.Number)
	if name == "" {
		vErr.add("name", "name is required", nil)
	}
	if number == "" {
		vErr.add("desk_number", "desk number is required", nil)
	}
	deskType := params.Type
	if deskType == "" {
		deskType = persistence.DeskRegular
	}
	if !deskType.Valid() {
		vErr.add("desk_type", "unknown desk type", nil)
	}
	capacity := params.Capacity
	if capacity == 0 {
		capacity = 1
	}
	if capacity < 0 {
		vErr.add("capacity", "capacity must be positive", nil)
	}
	if vErr.HasErrors() {
		err = vErr
		return
	}

	now := s.now().UTC()
	desk = Desk{
		ID:        s.idGenerator(),
		Name:      name,
		Number:    number,
		AreaID:    strings.TrimSpace(params.AreaID),
		Type:      deskType,
		Capacity:  capacity,
		Features:  params.Features,
		Status:    persistence.DeskAvailable,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err = s.desks.CreateDesk(ctx, desk); err != nil {
		if errors.Is(err, persistence.ErrDuplicate) {
			vErr.add("desk_number", "desk number already exists", err)
			err = vErr
		}
		return
	}
	s.cache.Invalidate()
	return
}

// GetDesk loads a desk by id.
func (s *DeskService) GetDesk(ctx context.Context, id string) (Desk, error) {
	if s == nil || s.desks == nil {
		return Desk{}, fmt.Errorf("desk repository not configured")
	}
	desk, err := s.desks.GetDesk(ctx, id)
	if err != nil {
		return Desk{}, mapReservationRepoError(err)
	}
	return desk, nil
}

// ListDesks returns desks narrowed by area and type.
func (s *DeskService) ListDesks(ctx context.Context, areaID string, deskType DeskType) ([]Desk, error) {
	if s == nil || s.desks == nil {
		return nil, fmt.Errorf("desk repository not configured")
	}
	return s.desks.ListDesks(ctx, persistence.DeskFilter{AreaID: areaID, Type: deskType})
}

// SetMaintenance puts a desk into or takes it out of maintenance. Leaving
// maintenance recomputes the status from the reservations covering now.
func (s *DeskService) SetMaintenance(ctx context.Context, id string, enabled bool) (desk Desk, changes []Change, err error) {
	if s == nil {
		err = fmt.Errorf("DeskService is nil")
		return
	}
	if s.desks == nil || s.reservations == nil {
		err = fmt.Errorf("desk repositories not configured")
		return
	}

	logger := s.loggerWith(ctx, "SetMaintenance", zap.String("desk_id", id), zap.Bool("enabled", enabled))
	defer func() {
		if err != nil {
			logger.Error("failed to change maintenance", zap.Error(err), zap.String("error_kind", ErrorKind(err)))
			return
		}
		logger.Info("maintenance changed", zap.String("status", string(desk.Status)))
	}()

	desk, err = s.desks.GetDesk(ctx, id)
	if err != nil {
		err = mapReservationRepoError(err)
		return
	}

	now := s.now().UTC()
	target := persistence.DeskMaintenance
	if !enabled {
		until := now.Add(time.Nanosecond)
		var active []Reservation
		active, err = s.reservations.ListReservations(ctx, persistence.ReservationFilter{
			DeskID:       id,
			Statuses:     []persistence.ReservationStatus{persistence.ReservationActive},
			OverlapsFrom: &now,
			OverlapsTo:   &until,
		})
		if err != nil {
			return
		}
		target = DeriveDeskStatus(persistence.DeskAvailable, active, now)
	}
	if target == desk.Status {
		return
	}

	if err = s.desks.UpdateDeskStatus(ctx, id, target, now); err != nil {
		err = mapReservationRepoError(err)
		return
	}
	desk.Status = target
	desk.UpdatedAt = now
	changes = append(changes, deskStatusChanged(id, target, now))
	s.cache.Invalidate()
	return
}

// FindAvailable returns the desks with no Active reservation overlapping the
// requested window, leaving out desks in maintenance or currently occupied.
func (s *DeskService) FindAvailable(ctx context.Context, query AvailabilityQuery) (desks []Desk, err error) {
	if s == nil {
		err = fmt.Errorf("DeskService is nil")
		return
	}
	if s.desks == nil || s.reservations == nil {
		err = fmt.Errorf("desk repositories not configured")
		return
	}

	window, err := s.availabilityWindow(query)
	if err != nil {
		return nil, err
	}

	logger := s.loggerWith(ctx, "FindAvailable",
		zap.Time("from", window.Start),
		zap.Time("to", window.End),
		zap.String("area_id", query.AreaID),
		zap.String("desk_type", string(query.DeskType)),
	)
	defer func() {
		if err != nil {
			logger.Error("failed to query availability", zap.Error(err), zap.String("error_kind", ErrorKind(err)))
			return
		}
		logger.Debug("availability computed", zap.Int("desks", len(desks)))
	}()

	key := buildAvailabilityKey(window.Start, window.End, query.AreaID, query.DeskType)
	if cached, ok := s.cache.Get(key); ok {
		desks = cached
		return
	}
	generation := s.cache.Generation()

	var candidates []Desk
	candidates, err = s.desks.ListDesks(ctx, persistence.DeskFilter{
		AreaID:          query.AreaID,
		Type:            query.DeskType,
		ExcludeStatuses: []persistence.DeskStatus{persistence.DeskMaintenance, persistence.DeskOccupied},
	})
	if err != nil {
		return
	}

	from, to := window.Start, window.End
	var active []Reservation
	active, err = s.reservations.ListReservations(ctx, persistence.ReservationFilter{
		Statuses:     []persistence.ReservationStatus{persistence.ReservationActive},
		OverlapsFrom: &from,
		OverlapsTo:   &to,
	})
	if err != nil {
		return
	}

	taken := scheduler.OccupiedDesks(toBookings(active), window)
	desks = make([]Desk, 0, len(candidates))
	for _, d := range candidates {
		if _, ok := taken[d.ID]; ok {
			continue
		}
		desks = append(desks, d)
	}

	s.cache.Store(key, generation, desks)
	return
}

// availabilityWindow resolves the query date and clock bounds in the
// configured location.
func (s *DeskService) availabilityWindow(query AvailabilityQuery) (scheduler.Interval, error) {
	vErr := &ValidationError{}
	if query.DeskType != "" && !query.DeskType.Valid() {
		vErr.add("desk_type", "unknown desk type", nil)
	}

	from, to := s.settings.WorkdayStart, s.settings.WorkdayEnd
	if query.From != nil {
		from = *query.From
	}
	if query.To != nil {
		to = *query.To
	}
	if from < 0 || to > 24*time.Hour {
		vErr.add("time_from", "time must be within the day", ErrInvalidRange)
	} else if to <= from {
		vErr.add("time_to", "end time must be after start time", ErrInvalidRange)
	}
	if vErr.HasErrors() {
		return scheduler.Interval{}, vErr
	}

	loc := s.settings.Location
	date := query.Date
	if date.IsZero() {
		date = s.now().In(loc)
	}
	y, m, d := date.Date()
	start := clockOn(y, m, d, from, loc)
	end := clockOn(y, m, d, to, loc)
	window, err := scheduler.NewInterval(start, end)
	if err != nil {
		return scheduler.Interval{}, err
	}
	return window.UTC(), nil
}

// clockOn returns the wall clock time offset from midnight on the given date.
func clockOn(y int, m time.Month, d int, offset time.Duration, loc *time.Location) time.Time {
	hour := int(offset / time.Hour)
	minute := int(offset % time.Hour / time.Minute)
	second := int(offset % time.Minute / time.Second)
	return time.Date(y, m, d, hour, minute, second, 0, loc)
}
