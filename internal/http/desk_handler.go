package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/example/desk-scheduler/internal/application"
	"github.com/example/desk-scheduler/internal/config"
)

type deskService interface {
	CreateDesk(ctx context.Context, params application.CreateDeskParams) (application.Desk, error)
	GetDesk(ctx context.Context, id string) (application.Desk, error)
	ListDesks(ctx context.Context, areaID string, deskType application.DeskType) ([]application.Desk, error)
	SetMaintenance(ctx context.Context, id string, enabled bool) (application.Desk, []application.Change, error)
	FindAvailable(ctx context.Context, query application.AvailabilityQuery) ([]application.Desk, error)
}

type DeskHandler struct {
	service   deskService
	publisher ChangePublisher
	logger    *zap.Logger
	responder responder
}

func NewDeskHandler(service deskService, publisher ChangePublisher, logger *zap.Logger) *DeskHandler {
	return &DeskHandler{
		service:   service,
		publisher: publisher,
		logger:    defaultLogger(logger),
		responder: newResponder(logger),
	}
}

func (h *DeskHandler) List(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.service == nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	query := r.URL.Query()
	desks, err := h.service.ListDesks(r.Context(), strings.TrimSpace(query.Get("area")), application.DeskType(strings.TrimSpace(query.Get("type"))))
	if err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}
	h.responder.writeJSON(r.Context(), w, http.StatusOK, listDesksResponse{Desks: toDeskDTOs(desks)})
}

func (h *DeskHandler) Create(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.service == nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	var req deskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.responder.writeError(r.Context(), w, http.StatusBadRequest, errBadRequestBody)
		return
	}

	desk, err := h.service.CreateDesk(r.Context(), application.CreateDeskParams{
		Name:     strings.TrimSpace(req.Name),
		Number:   strings.TrimSpace(req.Number),
		AreaID:   strings.TrimSpace(req.AreaID),
		Type:     application.DeskType(strings.TrimSpace(req.Type)),
		Capacity: req.Capacity,
		Features: req.Features,
	})
	if err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}
	h.responder.writeJSON(r.Context(), w, http.StatusCreated, deskResponse{Desk: toDeskDTO(desk)})
}

func (h *DeskHandler) Get(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.service == nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	id, ok := DeskIDFromContext(r.Context())
	if !ok || strings.TrimSpace(id) == "" {
		h.responder.writeError(r.Context(), w, http.StatusBadRequest, errInvalidDeskID)
		return
	}

	desk, err := h.service.GetDesk(r.Context(), id)
	if err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}
	h.responder.writeJSON(r.Context(), w, http.StatusOK, deskResponse{Desk: toDeskDTO(desk)})
}

// Available answers which desks are free for a window on a date. Omitted
// clock bounds fall back to the configured workday.
func (h *DeskHandler) Available(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.service == nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	values := r.URL.Query()
	query := application.AvailabilityQuery{
		AreaID:   strings.TrimSpace(values.Get("area")),
		DeskType: application.DeskType(strings.TrimSpace(values.Get("type"))),
	}
	if raw := strings.TrimSpace(values.Get("date")); raw != "" {
		date, err := time.Parse(time.DateOnly, raw)
		if err != nil {
			h.responder.writeError(r.Context(), w, http.StatusBadRequest, errors.New("date must be YYYY-MM-DD"))
			return
		}
		query.Date = date
	}
	for _, bound := range []struct {
		key    string
		target **time.Duration
	}{{"time_from", &query.From}, {"time_to", &query.To}} {
		raw := strings.TrimSpace(values.Get(bound.key))
		if raw == "" {
			continue
		}
		offset, err := config.ParseClock(raw)
		if err != nil {
			h.responder.writeError(r.Context(), w, http.StatusBadRequest, errors.New(bound.key+" must be HH:MM"))
			return
		}
		*bound.target = &offset
	}

	desks, err := h.service.FindAvailable(r.Context(), query)
	if err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}
	h.responder.writeJSON(r.Context(), w, http.StatusOK, listDesksResponse{Desks: toDeskDTOs(desks)})
}

func (h *DeskHandler) SetMaintenance(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.service == nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	id, ok := DeskIDFromContext(r.Context())
	if !ok || strings.TrimSpace(id) == "" {
		h.responder.writeError(r.Context(), w, http.StatusBadRequest, errInvalidDeskID)
		return
	}

	var req maintenanceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Enabled == nil {
		h.responder.writeError(r.Context(), w, http.StatusBadRequest, errBadRequestBody)
		return
	}

	desk, changes, err := h.service.SetMaintenance(r.Context(), id, *req.Enabled)
	if err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}
	if h.publisher != nil && len(changes) > 0 {
		if err := h.publisher.PublishChanges(r.Context(), changes); err != nil {
			handlerLogger(r.Context(), h.logger, "DeskHandler", "SetMaintenance",
				zap.String("desk_id", id),
			).Warn("failed to publish changes", zap.Error(err))
		}
	}
	h.responder.writeJSON(r.Context(), w, http.StatusOK, deskResponse{Desk: toDeskDTO(desk)})
}

type deskRequest struct {
	Name     string            `json:"name"`
	Number   string            `json:"desk_number"`
	AreaID   string            `json:"area_id"`
	Type     string            `json:"desk_type"`
	Capacity int               `json:"capacity"`
	Features map[string]string `json:"features"`
}

type maintenanceRequest struct {
	Enabled *bool `json:"enabled"`
}

type deskResponse struct {
	Desk deskDTO `json:"desk"`
}

type listDesksResponse struct {
	Desks []deskDTO `json:"desks"`
}

type deskDTO struct {
	ID        string            `json:"id"`
	Name      string            `json:"name"`
	Number    string            `json:"desk_number"`
	AreaID    string            `json:"area_id,omitempty"`
	Type      string            `json:"desk_type"`
	Capacity  int               `json:"capacity"`
	Features  map[string]string `json:"features,omitempty"`
	Status    string            `json:"status"`
	CreatedAt string            `json:"created_at"`
	UpdatedAt string            `json:"updated_at"`
}

func toDeskDTO(d application.Desk) deskDTO {
	return deskDTO{
		ID:        d.ID,
		Name:      d.Name,
		Number:    d.Number,
		AreaID:    d.AreaID,
		Type:      string(d.Type),
		Capacity:  d.Capacity,
		Features:  d.Features,
		Status:    string(d.Status),
		CreatedAt: formatTime(d.CreatedAt),
		UpdatedAt: formatTime(d.UpdatedAt),
	}
}

func toDeskDTOs(desks []application.Desk) []deskDTO {
	out := make([]deskDTO, 0, len(desks))
	for _, d := range desks {
		out = append(out, toDeskDTO(d))
	}
	return out
}
