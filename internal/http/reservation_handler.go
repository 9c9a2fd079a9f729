package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/example/desk-scheduler/internal/application"
	"github.com/example/desk-scheduler/internal/calendar"
	"github.com/example/desk-scheduler/internal/persistence"
	"github.com/example/desk-scheduler/internal/scheduler"
)

type reservationService interface {
	CreateReservation(ctx context.Context, params application.CreateReservationParams) (application.CreateResult, error)
	GetReservation(ctx context.Context, id string) (application.Reservation, error)
	CheckIn(ctx context.Context, id string) (application.TransitionResult, error)
	Cancel(ctx context.Context, id string) (application.TransitionResult, error)
	Complete(ctx context.Context, id string) (application.TransitionResult, error)
	MarkNoShow(ctx context.Context, id string) (application.TransitionResult, error)
	CurrentReservation(ctx context.Context, userID string) (*application.Reservation, error)
	UpcomingReservations(ctx context.Context, userID string) ([]application.Reservation, error)
	ListReservations(ctx context.Context, params application.ListReservationsParams) ([]application.Reservation, error)
}

type deskCatalog interface {
	ListDesks(ctx context.Context, areaID string, deskType application.DeskType) ([]application.Desk, error)
}

// ChangePublisher forwards state changes produced by a request.
type ChangePublisher interface {
	PublishChanges(ctx context.Context, changes []application.Change) error
}

type ReservationHandler struct {
	service   reservationService
	desks     deskCatalog
	publisher ChangePublisher
	now       func() time.Time
	logger    *zap.Logger
	responder responder
}

// ReservationHandlerOption customises a ReservationHandler.
type ReservationHandlerOption func(*ReservationHandler)

// WithDeskCatalog resolves desk names for the iCalendar export.
func WithDeskCatalog(desks deskCatalog) ReservationHandlerOption {
	return func(h *ReservationHandler) { h.desks = desks }
}

// WithChangePublisher publishes the changes produced by writes.
func WithChangePublisher(p ChangePublisher) ReservationHandlerOption {
	return func(h *ReservationHandler) { h.publisher = p }
}

// WithClock overrides the clock used to stamp exports.
func WithClock(now func() time.Time) ReservationHandlerOption {
	return func(h *ReservationHandler) {
		if now != nil {
			h.now = now
		}
	}
}

func NewReservationHandler(service reservationService, logger *zap.Logger, opts ...ReservationHandlerOption) *ReservationHandler {
	h := &ReservationHandler{
		service:   service,
		now:       time.Now,
		logger:    defaultLogger(logger),
		responder: newResponder(logger),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

func (h *ReservationHandler) Create(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.service == nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	var req reservationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.responder.writeError(r.Context(), w, http.StatusBadRequest, errBadRequestBody)
		return
	}

	userID, _ := UserIDFromContext(r.Context())
	params, err := req.toParams(userID)
	if err != nil {
		h.responder.writeError(r.Context(), w, http.StatusBadRequest, err)
		return
	}

	result, err := h.service.CreateReservation(r.Context(), params)
	if err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}
	h.publish(r.Context(), result.Changes)

	h.responder.writeJSON(r.Context(), w, http.StatusCreated, createReservationResponse{
		Reservation: toReservationDTO(result.Reservation),
		Occurrences: toReservationDTOs(result.Occurrences),
		Skipped:     toSkippedDTOs(result.Skipped),
	})
}

func (h *ReservationHandler) Get(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.service == nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	res, ok := h.ownedReservation(w, r)
	if !ok {
		return
	}
	h.responder.writeJSON(r.Context(), w, http.StatusOK, reservationResponse{Reservation: toReservationDTO(res)})
}

func (h *ReservationHandler) List(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.service == nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	userID, _ := UserIDFromContext(r.Context())
	params, err := buildListParams(r.URL.Query())
	if err != nil {
		h.responder.writeError(r.Context(), w, http.StatusBadRequest, err)
		return
	}
	params.UserID = userID

	rows, err := h.service.ListReservations(r.Context(), params)
	if err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}
	h.responder.writeJSON(r.Context(), w, http.StatusOK, listReservationsResponse{Reservations: toReservationDTOs(rows)})
}

func (h *ReservationHandler) Current(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.service == nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	userID, _ := UserIDFromContext(r.Context())
	current, err := h.service.CurrentReservation(r.Context(), userID)
	if err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}
	if current == nil {
		h.responder.writeJSON(r.Context(), w, http.StatusNotFound, errorResponse{Message: "no current reservation"})
		return
	}
	h.responder.writeJSON(r.Context(), w, http.StatusOK, reservationResponse{Reservation: toReservationDTO(*current)})
}

func (h *ReservationHandler) Upcoming(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.service == nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	userID, _ := UserIDFromContext(r.Context())
	rows, err := h.service.UpcomingReservations(r.Context(), userID)
	if err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}
	h.responder.writeJSON(r.Context(), w, http.StatusOK, listReservationsResponse{Reservations: toReservationDTOs(rows)})
}

// Calendar lists the caller's Active reservations overlapping start/end,
// optionally for a single desk.
func (h *ReservationHandler) Calendar(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.service == nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	query := r.URL.Query()
	from, err := parseQueryTime(query, "start")
	if err != nil {
		h.responder.writeError(r.Context(), w, http.StatusBadRequest, err)
		return
	}
	to, err := parseQueryTime(query, "end")
	if err != nil {
		h.responder.writeError(r.Context(), w, http.StatusBadRequest, err)
		return
	}

	userID, _ := UserIDFromContext(r.Context())
	rows, err := h.service.ListReservations(r.Context(), application.ListReservationsParams{
		UserID:   userID,
		DeskID:   strings.TrimSpace(query.Get("desk_id")),
		Statuses: []application.ReservationStatus{persistence.ReservationActive},
		From:     from,
		To:       to,
	})
	if err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}
	h.responder.writeJSON(r.Context(), w, http.StatusOK, listReservationsResponse{Reservations: toReservationDTOs(rows)})
}

// ICS renders the caller's Active reservations as an iCalendar feed.
func (h *ReservationHandler) ICS(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.service == nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	userID, _ := UserIDFromContext(r.Context())
	rows, err := h.service.ListReservations(r.Context(), application.ListReservationsParams{
		UserID:   userID,
		Statuses: []application.ReservationStatus{persistence.ReservationActive},
	})
	if err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}

	names := map[string]string{}
	if h.desks != nil {
		desks, err := h.desks.ListDesks(r.Context(), "", "")
		if err != nil {
			h.responder.handleServiceError(r.Context(), w, err)
			return
		}
		for _, d := range desks {
			names[d.ID] = d.Name
		}
	}

	w.Header().Set("Content-Type", "text/calendar; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	if err := calendar.Export(w, rows, names, h.now()); err != nil {
		h.responder.loggerFor(r.Context()).Error("failed to render calendar", zap.Error(err))
	}
}

func (h *ReservationHandler) CheckIn(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, application.ActionCheckIn)
}

func (h *ReservationHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, application.ActionCancel)
}

func (h *ReservationHandler) Complete(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, application.ActionComplete)
}

func (h *ReservationHandler) NoShow(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, application.ActionNoShow)
}

func (h *ReservationHandler) transition(w http.ResponseWriter, r *http.Request, action application.Action) {
	if h == nil || h.service == nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	res, ok := h.ownedReservation(w, r)
	if !ok {
		return
	}

	var result application.TransitionResult
	var err error
	switch action {
	case application.ActionCheckIn:
		result, err = h.service.CheckIn(r.Context(), res.ID)
	case application.ActionCancel:
		result, err = h.service.Cancel(r.Context(), res.ID)
	case application.ActionComplete:
		result, err = h.service.Complete(r.Context(), res.ID)
	default:
		result, err = h.service.MarkNoShow(r.Context(), res.ID)
	}
	if err == nil {
		err = result.Err()
	}
	if err != nil {
		handlerLogger(r.Context(), h.logger, "ReservationHandler", string(action),
			zap.String("reservation_id", res.ID),
		).Info("lifecycle action refused", zap.String("error_kind", application.ErrorKind(err)))
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}
	h.publish(r.Context(), result.Changes)

	h.responder.writeJSON(r.Context(), w, http.StatusOK, reservationResponse{Reservation: toReservationDTO(result.Reservation)})
}

// ownedReservation loads the reservation named by the path. Reservations of
// other users answer 404.
func (h *ReservationHandler) ownedReservation(w http.ResponseWriter, r *http.Request) (application.Reservation, bool) {
	id, ok := ReservationIDFromContext(r.Context())
	if !ok || strings.TrimSpace(id) == "" {
		h.responder.writeError(r.Context(), w, http.StatusBadRequest, errInvalidReservationID)
		return application.Reservation{}, false
	}

	res, err := h.service.GetReservation(r.Context(), id)
	if err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return application.Reservation{}, false
	}
	if userID, _ := UserIDFromContext(r.Context()); res.UserID != userID {
		h.responder.handleServiceError(r.Context(), w, application.ErrNotFound)
		return application.Reservation{}, false
	}
	return res, true
}

func (h *ReservationHandler) publish(ctx context.Context, changes []application.Change) {
	if h.publisher == nil || len(changes) == 0 {
		return
	}
	if err := h.publisher.PublishChanges(ctx, changes); err != nil {
		h.responder.loggerFor(ctx).Warn("failed to publish changes", zap.Error(err), zap.Int("changes", len(changes)))
	}
}

type reservationRequest struct {
	DeskID            string `json:"desk_id"`
	StartTime         string `json:"start_time"`
	EndTime           string `json:"end_time"`
	Notes             string `json:"notes"`
	ReservationType   string `json:"reservation_type"`
	RecurrencePattern string `json:"recurrence_pattern"`
	RecurrenceEndDate string `json:"recurrence_end_date"`
}

func (r reservationRequest) toParams(userID string) (application.CreateReservationParams, error) {
	params := application.CreateReservationParams{
		UserID:  userID,
		DeskID:  strings.TrimSpace(r.DeskID),
		Notes:   r.Notes,
		Type:    application.ReservationType(strings.TrimSpace(r.ReservationType)),
		Pattern: strings.TrimSpace(r.RecurrencePattern),
	}
	var err error
	if params.Start, err = parseTime("start_time", r.StartTime); err != nil {
		return params, err
	}
	if params.End, err = parseTime("end_time", r.EndTime); err != nil {
		return params, err
	}
	if params.Type == "" {
		params.Type = persistence.ReservationSingle
	}
	if value := strings.TrimSpace(r.RecurrenceEndDate); value != "" {
		date, err := time.Parse(time.DateOnly, value)
		if err != nil {
			return params, errors.New("recurrence_end_date must be YYYY-MM-DD")
		}
		params.RecurrenceEnd = &date
	}
	return params, nil
}

// parseTime reads an RFC 3339 timestamp. An empty value yields the zero time
// and is left to service validation.
func parseTime(field, value string) (time.Time, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, nil
	}
	ts, err := time.Parse(time.RFC3339Nano, value)
	if err != nil {
		return time.Time{}, errors.New(field + " must be an RFC 3339 timestamp")
	}
	return ts, nil
}

func parseQueryTime(values url.Values, key string) (*time.Time, error) {
	raw := strings.TrimSpace(values.Get(key))
	if raw == "" {
		return nil, nil
	}
	ts, err := parseTime(key, raw)
	if err != nil {
		return nil, err
	}
	return &ts, nil
}

func buildListParams(values url.Values) (application.ListReservationsParams, error) {
	params := application.ListReservationsParams{
		DeskID: strings.TrimSpace(values.Get("desk_id")),
	}
	if raw := strings.TrimSpace(values.Get("status")); raw != "" {
		for _, part := range strings.Split(raw, ",") {
			if part = strings.TrimSpace(part); part != "" {
				params.Statuses = append(params.Statuses, application.ReservationStatus(part))
			}
		}
	}

	var err error
	if params.From, err = parseQueryTime(values, "from"); err != nil {
		return params, err
	}
	if params.To, err = parseQueryTime(values, "to"); err != nil {
		return params, err
	}
	return params, nil
}

type reservationResponse struct {
	Reservation reservationDTO `json:"reservation"`
}

type listReservationsResponse struct {
	Reservations []reservationDTO `json:"reservations"`
}

type createReservationResponse struct {
	Reservation reservationDTO   `json:"reservation"`
	Occurrences []reservationDTO `json:"occurrences,omitempty"`
	Skipped     []skippedDTO     `json:"skipped,omitempty"`
}

type reservationDTO struct {
	ID                string  `json:"id"`
	UserID            string  `json:"user_id"`
	DeskID            string  `json:"desk_id"`
	StartTime         string  `json:"start_time"`
	EndTime           string  `json:"end_time"`
	Status            string  `json:"status"`
	ReservationType   string  `json:"reservation_type"`
	RecurrencePattern string  `json:"recurrence_pattern,omitempty"`
	RecurrenceEndDate string  `json:"recurrence_end_date,omitempty"`
	ParentID          *string `json:"parent_reservation_id,omitempty"`
	Notes             string  `json:"notes,omitempty"`
	CheckInTime       string  `json:"check_in_time,omitempty"`
	CreatedAt         string  `json:"created_at"`
	UpdatedAt         string  `json:"updated_at"`
}

func toReservationDTO(r application.Reservation) reservationDTO {
	dto := reservationDTO{
		ID:                r.ID,
		UserID:            r.UserID,
		DeskID:            r.DeskID,
		StartTime:         formatTime(r.Start),
		EndTime:           formatTime(r.End),
		Status:            string(r.Status),
		ReservationType:   string(r.Type),
		RecurrencePattern: r.Pattern,
		ParentID:          r.ParentID,
		Notes:             r.Notes,
		CreatedAt:         formatTime(r.CreatedAt),
		UpdatedAt:         formatTime(r.UpdatedAt),
	}
	if r.RecurrenceEnd != nil {
		dto.RecurrenceEndDate = r.RecurrenceEnd.UTC().Format(time.DateOnly)
	}
	if r.CheckInAt != nil {
		dto.CheckInTime = formatTime(*r.CheckInAt)
	}
	return dto
}

func toReservationDTOs(rows []application.Reservation) []reservationDTO {
	out := make([]reservationDTO, 0, len(rows))
	for _, r := range rows {
		out = append(out, toReservationDTO(r))
	}
	return out
}

type skippedDTO struct {
	Index     int           `json:"index"`
	StartTime string        `json:"start_time"`
	EndTime   string        `json:"end_time"`
	Conflicts []conflictDTO `json:"conflicts,omitempty"`
}

func toSkippedDTOs(skipped []application.SkippedOccurrence) []skippedDTO {
	if len(skipped) == 0 {
		return nil
	}
	out := make([]skippedDTO, 0, len(skipped))
	for _, s := range skipped {
		out = append(out, skippedDTO{
			Index:     s.Index,
			StartTime: formatTime(s.Start),
			EndTime:   formatTime(s.End),
			Conflicts: toConflictDTOs(s.Conflicts),
		})
	}
	return out
}

type conflictDTO struct {
	ReservationID string `json:"reservation_id"`
	DeskID        string `json:"desk_id"`
	StartTime     string `json:"start_time"`
	EndTime       string `json:"end_time"`
}

func toConflictDTOs(conflicts []scheduler.Conflict) []conflictDTO {
	if len(conflicts) == 0 {
		return nil
	}
	out := make([]conflictDTO, 0, len(conflicts))
	for _, c := range conflicts {
		out = append(out, conflictDTO{
			ReservationID: c.WithBookingID,
			DeskID:        c.DeskID,
			StartTime:     formatTime(c.Interval.Start),
			EndTime:       formatTime(c.Interval.End),
		})
	}
	return out
}

func formatTime(ts time.Time) string {
	if ts.IsZero() {
		return ""
	}
	return ts.UTC().Format(time.RFC3339)
}
