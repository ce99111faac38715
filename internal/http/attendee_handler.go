package http

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/example/event-checkin/internal/persistence"
)

type attendeeService interface {
	ListAttendees(ctx context.Context) ([]persistence.Attendee, error)
	AddAttendee(ctx context.Context, name, group string) (persistence.Attendee, error)
	SetPresence(ctx context.Context, id string, present bool) (persistence.Attendee, error)
	RemoveAttendee(ctx context.Context, id string) (bool, error)
	ClearAttendees(ctx context.Context) error
}

type AttendeeHandler struct {
	service   attendeeService
	responder responder
	logger    *slog.Logger
}

func NewAttendeeHandler(service attendeeService, logger *slog.Logger) *AttendeeHandler {
	base := defaultLogger(logger)
	return &AttendeeHandler{service: service, responder: newResponder(base), logger: base}
}

func (h *AttendeeHandler) log(ctx context.Context, operation string, attrs ...any) *slog.Logger {
	if h == nil {
		return slog.Default()
	}
	return handlerLogger(ctx, h.logger, "AttendeeHandler", operation, attrs...)
}

func (h *AttendeeHandler) List(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.service == nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	attendees, err := h.service.ListAttendees(r.Context())
	if err != nil {
		h.log(r.Context(), "List").ErrorContext(r.Context(), "attendee list failed", "error", err, "error_kind", persistence.ErrorKind(err))
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}
	h.responder.writeJSON(r.Context(), w, http.StatusOK, attendeesResponse{Attendees: toAttendeeDTOs(attendees)})
}

func (h *AttendeeHandler) Create(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.service == nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	var req attendeeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.log(r.Context(), "Create", "error_kind", "bad_request").WarnContext(r.Context(), "failed to decode attendee request", "error", err)
		h.responder.writeError(r.Context(), w, http.StatusBadRequest, errBadRequestBody)
		return
	}

	logger := h.log(r.Context(), "Create")
	attendee, err := h.service.AddAttendee(r.Context(), req.Name, req.Group)
	if err != nil {
		logger.WarnContext(r.Context(), "attendee registration failed", "error", err, "error_kind", persistence.ErrorKind(err))
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}

	logger.With("attendee_id", attendee.ID).InfoContext(r.Context(), "attendee registered")
	h.responder.writeJSON(r.Context(), w, http.StatusCreated, attendeeResponse{Attendee: toAttendeeDTO(attendee)})
}

func (h *AttendeeHandler) SetPresence(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.service == nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	attendeeID, ok := AttendeeIDFromContext(r.Context())
	if !ok || strings.TrimSpace(attendeeID) == "" {
		h.responder.writeError(r.Context(), w, http.StatusBadRequest, errInvalidAttendeeID)
		return
	}

	var req presenceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Present == nil {
		h.log(r.Context(), "SetPresence", "attendee_id", attendeeID, "error_kind", "bad_request").WarnContext(r.Context(), "failed to decode presence request", "error", err)
		h.responder.writeError(r.Context(), w, http.StatusBadRequest, errBadRequestBody)
		return
	}

	logger := h.log(r.Context(), "SetPresence", "attendee_id", attendeeID)
	attendee, err := h.service.SetPresence(r.Context(), attendeeID, *req.Present)
	if err != nil {
		logger.WarnContext(r.Context(), "presence update failed", "error", err, "error_kind", persistence.ErrorKind(err))
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}

	logger.InfoContext(r.Context(), "presence updated", "present", attendee.Present)
	h.responder.writeJSON(r.Context(), w, http.StatusOK, attendeeResponse{Attendee: toAttendeeDTO(attendee)})
}

func (h *AttendeeHandler) Delete(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.service == nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	attendeeID, ok := AttendeeIDFromContext(r.Context())
	if !ok || strings.TrimSpace(attendeeID) == "" {
		h.responder.writeError(r.Context(), w, http.StatusBadRequest, errInvalidAttendeeID)
		return
	}

	logger := h.log(r.Context(), "Delete", "attendee_id", attendeeID)
	removed, err := h.service.RemoveAttendee(r.Context(), attendeeID)
	if err != nil {
		logger.ErrorContext(r.Context(), "attendee removal failed", "error", err, "error_kind", persistence.ErrorKind(err))
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}

	logger.InfoContext(r.Context(), "attendee removal handled", "removed", removed)
	w.WriteHeader(http.StatusNoContent)
}

func (h *AttendeeHandler) Clear(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.service == nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}
	if !confirmed(r) {
		h.responder.writeError(r.Context(), w, http.StatusBadRequest, errConfirmRequired)
		return
	}

	logger := h.log(r.Context(), "Clear")
	if err := h.service.ClearAttendees(r.Context()); err != nil {
		logger.ErrorContext(r.Context(), "attendee clear failed", "error", err, "error_kind", persistence.ErrorKind(err))
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}

	logger.InfoContext(r.Context(), "attendees cleared")
	w.WriteHeader(http.StatusNoContent)
}

type attendeeRequest struct {
	Name  string `json:"name"`
	Group string `json:"group"`
}

type presenceRequest struct {
	Present *bool `json:"present"`
}

type attendeeDTO struct {
	ID          string  `json:"id"`
	Name        string  `json:"name"`
	Group       string  `json:"group"`
	Present     bool    `json:"present"`
	ArrivalTime *string `json:"arrivalTime"`
	CreatedAt   string  `json:"createdAt"`
	UpdatedAt   string  `json:"updatedAt"`
}

type attendeeResponse struct {
	Attendee attendeeDTO `json:"attendee"`
}

type attendeesResponse struct {
	Attendees []attendeeDTO `json:"attendees"`
}

func toAttendeeDTO(attendee persistence.Attendee) attendeeDTO {
	dto := attendeeDTO{
		ID:        attendee.ID,
		Name:      attendee.Name,
		Group:     attendee.Group,
		Present:   attendee.Present,
		CreatedAt: attendee.CreatedAt.UTC().Format(time.RFC3339Nano),
		UpdatedAt: attendee.UpdatedAt.UTC().Format(time.RFC3339Nano),
	}
	if attendee.ArrivalTime != nil {
		arrival := attendee.ArrivalTime.UTC().Format(time.RFC3339Nano)
		dto.ArrivalTime = &arrival
	}
	return dto
}

func toAttendeeDTOs(attendees []persistence.Attendee) []attendeeDTO {
	out := make([]attendeeDTO, 0, len(attendees))
	for _, attendee := range attendees {
		out = append(out, toAttendeeDTO(attendee))
	}
	return out
}
