package application

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/example/desk-scheduler/internal/persistence"
	"github.com/example/desk-scheduler/internal/recurrence"
	"github.com/example/desk-scheduler/internal/scheduler"
)

// ReservationService orchestrates validation, conflict checks and lifecycle
// transitions for desk reservations.
type ReservationService struct {
	desks        persistence.DeskRepository
	reservations persistence.ReservationRepository
	engine       *recurrence.Engine
	cache        *AvailabilityCache
	idGenerator  func() string
	now          func() time.Time
	logger       *zap.Logger
}

// NewReservationService constructs a reservation service with the provided dependencies.
func NewReservationService(desks persistence.DeskRepository, reservations persistence.ReservationRepository, engine *recurrence.Engine, cache *AvailabilityCache, idGenerator func() string, now func() time.Time) *ReservationService {
	return NewReservationServiceWithLogger(desks, reservations, engine, cache, idGenerator, now, nil)
}

// NewReservationServiceWithLogger constructs a reservation service with a specified logger.
func NewReservationServiceWithLogger(desks persistence.DeskRepository, reservations persistence.ReservationRepository, engine *recurrence.Engine, cache *AvailabilityCache, idGenerator func() string, now func() time.Time, logger *zap.Logger) *ReservationService {
	if engine == nil {
		engine = recurrence.NewEngine(time.UTC)
	}
	if idGenerator == nil {
		idGenerator = func() string { return "" }
	}
	if now == nil {
		now = time.Now
	}
	return &ReservationService{
		desks:        desks,
		reservations: reservations,
		engine:       engine,
		cache:        cache,
		idGenerator:  idGenerator,
		now:          now,
		logger:       defaultLogger(logger),
	}
}

func (s *ReservationService) loggerWith(ctx context.Context, operation string, fields ...zap.Field) *zap.Logger {
	return serviceLogger(ctx, s.logger, "ReservationService", operation, fields...)
}

func (s *ReservationService) lifecycle() lifecycle {
	return lifecycle{desks: s.desks, reservations: s.reservations, cache: s.cache}
}

// CreateReservation books a desk. Recurring reservations create the parent
// first and then one child per generated occurrence; occurrences that
// conflict are skipped and reported in the result.
func (s *ReservationService) CreateReservation(ctx context.Context, params CreateReservationParams) (result CreateResult, err error) {
	if s == nil {
		err = fmt.Errorf("ReservationService is nil")
		return
	}
	if s.desks == nil || s.reservations == nil {
		err = fmt.Errorf("reservation repositories not configured")
		return
	}

	logger := s.loggerWith(ctx, "CreateReservation",
		zap.String("user_id", params.UserID),
		zap.String("desk_id", params.DeskID),
	)
	defer func() {
		if err != nil {
			logger.Error("failed to create reservation", zap.Error(err), zap.String("error_kind", ErrorKind(err)))
			return
		}
		logger.Info("reservation created",
			zap.String("reservation_id", result.Reservation.ID),
			zap.Int("occurrences", len(result.Occurrences)),
			zap.Int("skipped", len(result.Skipped)),
		)
	}()

	now := s.now().UTC()
	parent, occurrences, vErr := s.prepareCreate(params, now)
	if vErr.HasErrors() {
		err = vErr
		return
	}

	if _, err = s.desks.GetDesk(ctx, parent.DeskID); err != nil {
		if errors.Is(err, persistence.ErrNotFound) {
			err = ErrUnknownDesk
		}
		return
	}

	if err = s.insertChecked(ctx, parent); err != nil {
		return
	}
	result.Reservation = parent
	result.Changes = append(result.Changes, reservationCreated(parent, now))

	for _, occ := range occurrences {
		if err = ctx.Err(); err != nil {
			return
		}
		child := parent
		child.ID = s.idGenerator()
		child.Start = occ.Start.UTC()
		child.End = occ.End.UTC()
		parentID := parent.ID
		child.ParentID = &parentID

		insertErr := s.insertChecked(ctx, child)
		var conflict *ConflictError
		if errors.As(insertErr, &conflict) {
			result.Skipped = append(result.Skipped, SkippedOccurrence{
				Index:     occ.Index,
				Start:     child.Start,
				End:       child.End,
				Conflicts: conflict.Conflicts,
			})
			logger.Warn("recurring occurrence skipped",
				zap.Int("index", occ.Index),
				zap.Time("start", child.Start),
				zap.Error(insertErr),
			)
			continue
		}
		if insertErr != nil {
			err = insertErr
			return
		}
		result.Occurrences = append(result.Occurrences, child)
		result.Changes = append(result.Changes, reservationCreated(child, now))
	}

	if change, ok := s.lifecycle().refreshDesk(ctx, logger, parent.DeskID, now); ok {
		result.Changes = append(result.Changes, change)
	}
	s.cache.Invalidate()
	return
}

// prepareCreate validates params and returns the parent reservation together
// with the occurrences to create under it.
func (s *ReservationService) prepareCreate(params CreateReservationParams, now time.Time) (Reservation, []recurrence.Occurrence, *ValidationError) {
	vErr := &ValidationError{}

	userID := strings.TrimSpace(params.UserID)
	deskID := strings.TrimSpace(params.DeskID)
	if userID == "" {
		vErr.add("user_id", "user is required", nil)
	}
	if deskID == "" {
		vErr.add("desk_id", "desk is required", nil)
	}

	interval, ivErr := scheduler.NewInterval(params.Start, params.End)
	if ivErr != nil {
		vErr.add("end_time", "end time must be after start time", ErrInvalidInterval)
	} else if interval = interval.UTC(); interval.Start.Before(now) {
		vErr.add("start_time", "start time cannot be in the past", ErrPastStart)
	}

	kind := params.Type
	if kind == "" {
		kind = persistence.ReservationSingle
	}

	res := Reservation{
		ID:        s.idGenerator(),
		UserID:    userID,
		DeskID:    deskID,
		Start:     interval.Start,
		End:       interval.End,
		Status:    persistence.ReservationActive,
		Type:      kind,
		Notes:     strings.TrimSpace(params.Notes),
		CreatedAt: now,
		UpdatedAt: now,
	}

	var occurrences []recurrence.Occurrence
	switch kind {
	case persistence.ReservationSingle:
	case persistence.ReservationRecurring:
		pattern, patternErr := recurrence.ParsePattern(params.Pattern)
		if patternErr != nil {
			vErr.add("recurrence_pattern", "a valid recurrence pattern is required", ErrMissingRecurrenceFields)
		}
		if params.RecurrenceEnd == nil || params.RecurrenceEnd.IsZero() {
			vErr.add("recurrence_end_date", "recurrence end date is required", ErrMissingRecurrenceFields)
		}
		if vErr.HasErrors() {
			return res, nil, vErr
		}

		y, m, d := params.RecurrenceEnd.Date()
		until := time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
		var genErr error
		occurrences, genErr = s.engine.GenerateOccurrences(recurrence.Rule{Pattern: pattern, Until: until}, res.Start, res.End)
		switch {
		case errors.Is(genErr, recurrence.ErrInvalidUntil):
			vErr.add("recurrence_end_date", "recurrence end date cannot be before the start date", ErrInvalidRecurrenceEndDate)
		case errors.Is(genErr, recurrence.ErrTooManyOccurrences):
			vErr.add("recurrence_end_date", "recurrence produces too many occurrences", genErr)
		case genErr != nil:
			vErr.add("recurrence_pattern", genErr.Error(), ErrMissingRecurrenceFields)
		}
		res.Pattern = string(pattern)
		res.RecurrenceEnd = &until
	default:
		vErr.add("reservation_type", "reservation type must be single or recurring", nil)
	}

	return res, occurrences, vErr
}

// insertChecked runs the conflict check and the insert as one atomic step on
// the desk.
func (s *ReservationService) insertChecked(ctx context.Context, r Reservation) error {
	candidate := scheduler.Interval{Start: r.Start, End: r.End}
	err := s.reservations.CreateReservationChecked(ctx, r, func(existing []Reservation) error {
		conflicts := scheduler.DetectConflicts(toBookings(existing), r.DeskID, candidate, r.ID)
		if len(conflicts) > 0 {
			return &ConflictError{DeskID: r.DeskID, Interval: candidate, Conflicts: conflicts}
		}
		return nil
	})
	var conflict *ConflictError
	if errors.As(err, &conflict) {
		return conflict
	}
	return mapReservationRepoError(err)
}

// CheckConflict reports whether an Active reservation on the desk overlaps
// the interval, ignoring excludingID.
func (s *ReservationService) CheckConflict(ctx context.Context, deskID string, interval scheduler.Interval, excludingID string) (bool, error) {
	if s == nil || s.reservations == nil {
		return false, fmt.Errorf("reservation repositories not configured")
	}
	from, to := interval.Start, interval.End
	existing, err := s.reservations.ListReservations(ctx, persistence.ReservationFilter{
		DeskID:       deskID,
		Statuses:     []persistence.ReservationStatus{persistence.ReservationActive},
		OverlapsFrom: &from,
		OverlapsTo:   &to,
	})
	if err != nil {
		return false, mapReservationRepoError(err)
	}
	return scheduler.HasConflict(toBookings(existing), deskID, interval, excludingID), nil
}

// GetReservation loads a reservation by id.
func (s *ReservationService) GetReservation(ctx context.Context, id string) (Reservation, error) {
	if s == nil || s.reservations == nil {
		return Reservation{}, fmt.Errorf("reservation repositories not configured")
	}
	res, err := s.reservations.GetReservation(ctx, id)
	if err != nil {
		return Reservation{}, mapReservationRepoError(err)
	}
	return res, nil
}

// CheckIn records the arrival of the user. It is accepted once, while Active.
func (s *ReservationService) CheckIn(ctx context.Context, id string) (TransitionResult, error) {
	return s.transition(ctx, "CheckIn", id, ActionCheckIn)
}

// Cancel moves an Active reservation to Cancelled.
func (s *ReservationService) Cancel(ctx context.Context, id string) (TransitionResult, error) {
	return s.transition(ctx, "Cancel", id, ActionCancel)
}

// Complete moves an Active reservation to Completed.
func (s *ReservationService) Complete(ctx context.Context, id string) (TransitionResult, error) {
	return s.transition(ctx, "Complete", id, ActionComplete)
}

// MarkNoShow moves an Active reservation that was never checked in to NoShow.
func (s *ReservationService) MarkNoShow(ctx context.Context, id string) (TransitionResult, error) {
	return s.transition(ctx, "MarkNoShow", id, ActionNoShow)
}

func (s *ReservationService) transition(ctx context.Context, operation, id string, action Action) (result TransitionResult, err error) {
	if s == nil {
		err = fmt.Errorf("ReservationService is nil")
		return
	}
	if s.desks == nil || s.reservations == nil {
		err = fmt.Errorf("reservation repositories not configured")
		return
	}

	logger := s.loggerWith(ctx, operation, zap.String("reservation_id", id))
	defer func() {
		switch {
		case err != nil:
			logger.Error("failed to apply transition", zap.Error(err), zap.String("error_kind", ErrorKind(err)))
		case !result.Applied:
			logger.Info("transition refused", zap.String("status", string(result.Reservation.Status)))
		default:
			logger.Info("transition applied", zap.String("status", string(result.Reservation.Status)))
		}
	}()

	var current Reservation
	current, err = s.reservations.GetReservation(ctx, id)
	if err != nil {
		err = mapReservationRepoError(err)
		return
	}

	result, err = s.lifecycle().apply(ctx, logger, current, action, s.now().UTC())
	return
}

// CurrentReservation returns the user's Active reservation covering now, or
// nil when there is none.
func (s *ReservationService) CurrentReservation(ctx context.Context, userID string) (*Reservation, error) {
	if s == nil || s.reservations == nil {
		return nil, fmt.Errorf("reservation repositories not configured")
	}
	now := s.now().UTC()
	startsBefore := now.Add(time.Nanosecond)
	rows, err := s.reservations.ListReservations(ctx, persistence.ReservationFilter{
		UserID:       userID,
		Statuses:     []persistence.ReservationStatus{persistence.ReservationActive},
		StartsBefore: &startsBefore,
	})
	if err != nil {
		return nil, mapReservationRepoError(err)
	}
	// Both bounds are inclusive here.
	for _, r := range rows {
		if !r.End.Before(now) {
			found := r
			return &found, nil
		}
	}
	return nil, nil
}

// UpcomingReservations returns the user's Active reservations starting after
// now, ordered by start time.
func (s *ReservationService) UpcomingReservations(ctx context.Context, userID string) ([]Reservation, error) {
	if s == nil || s.reservations == nil {
		return nil, fmt.Errorf("reservation repositories not configured")
	}
	now := s.now().UTC()
	rows, err := s.reservations.ListReservations(ctx, persistence.ReservationFilter{
		UserID:      userID,
		Statuses:    []persistence.ReservationStatus{persistence.ReservationActive},
		StartsAfter: &now,
	})
	if err != nil {
		return nil, mapReservationRepoError(err)
	}
	return rows, nil
}

// ListReservations returns reservations matching params. From and To select
// reservations overlapping the window; either bound may be omitted.
func (s *ReservationService) ListReservations(ctx context.Context, params ListReservationsParams) ([]Reservation, error) {
	if s == nil || s.reservations == nil {
		return nil, fmt.Errorf("reservation repositories not configured")
	}
	if params.From != nil && params.To != nil && !params.To.After(*params.From) {
		return nil, ErrInvalidRange
	}

	filter := persistence.ReservationFilter{
		UserID:   params.UserID,
		DeskID:   params.DeskID,
		Statuses: params.Statuses,
	}
	from := time.Time{}
	to := time.Date(9999, 12, 31, 0, 0, 0, 0, time.UTC)
	if params.From != nil {
		from = params.From.UTC()
	}
	if params.To != nil {
		to = params.To.UTC()
	}
	if params.From != nil || params.To != nil {
		filter.OverlapsFrom = &from
		filter.OverlapsTo = &to
	}

	rows, err := s.reservations.ListReservations(ctx, filter)
	if err != nil {
		return nil, mapReservationRepoError(err)
	}
	return rows, nil
}

func mapReservationRepoError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, persistence.ErrNotFound):
		return ErrNotFound
	case errors.Is(err, persistence.ErrForeignKeyViolation):
		return ErrUnknownDesk
	default:
		return err
	}
}
