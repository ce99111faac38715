package http

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/example/event-checkin/internal/draw"
	"github.com/example/event-checkin/internal/persistence"
)

type attendeeLister interface {
	ListAttendees(ctx context.Context) ([]persistence.Attendee, error)
}

type DrawHandler struct {
	attendees attendeeLister
	drawer    *draw.Drawer
	responder responder
	logger    *slog.Logger
}

func NewDrawHandler(attendees attendeeLister, drawer *draw.Drawer, logger *slog.Logger) *DrawHandler {
	base := defaultLogger(logger)
	if drawer == nil {
		drawer = draw.New(nil)
	}
	return &DrawHandler{attendees: attendees, drawer: drawer, responder: newResponder(base), logger: base}
}

func (h *DrawHandler) log(ctx context.Context, operation string, attrs ...any) *slog.Logger {
	if h == nil {
		return slog.Default()
	}
	return handlerLogger(ctx, h.logger, "DrawHandler", operation, attrs...)
}

func (h *DrawHandler) Groups(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.attendees == nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	var req groupDrawRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.responder.writeError(r.Context(), w, http.StatusBadRequest, errBadRequestBody)
		return
	}

	logger := h.log(r.Context(), "Groups", "groups", req.Groups, "size", req.Size)
	attendees, err := h.attendees.ListAttendees(r.Context())
	if err != nil {
		logger.ErrorContext(r.Context(), "attendee list failed", "error", err)
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}
	groups, err := h.drawer.Groups(attendees, req.Groups, req.Size)
	if err != nil {
		logger.WarnContext(r.Context(), "group draw rejected", "error", err)
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}

	resp := groupDrawResponse{Groups: make([][]attendeeDTO, 0, len(groups))}
	for _, group := range groups {
		resp.Groups = append(resp.Groups, toAttendeeDTOs(group))
	}
	logger.InfoContext(r.Context(), "groups drawn")
	h.responder.writeJSON(r.Context(), w, http.StatusOK, resp)
}

func (h *DrawHandler) Prize(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.attendees == nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	logger := h.log(r.Context(), "Prize")
	attendees, err := h.attendees.ListAttendees(r.Context())
	if err != nil {
		logger.ErrorContext(r.Context(), "attendee list failed", "error", err)
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}
	winner, err := h.drawer.Prize(attendees)
	if err != nil {
		logger.WarnContext(r.Context(), "prize draw rejected", "error", err)
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}

	logger.InfoContext(r.Context(), "prize drawn", "attendee_id", winner.ID)
	h.responder.writeJSON(r.Context(), w, http.StatusOK, attendeeResponse{Attendee: toAttendeeDTO(winner)})
}

type groupDrawRequest struct {
	Groups int `json:"groups"`
	Size   int `json:"size"`
}

type groupDrawResponse struct {
	Groups [][]attendeeDTO `json:"groups"`
}
