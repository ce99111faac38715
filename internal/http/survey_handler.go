package http

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/example/event-checkin/internal/gateway"
	"github.com/example/event-checkin/internal/persistence"
)

type surveyService interface {
	ListSurveys(ctx context.Context) ([]persistence.SurveyResponse, error)
	AddSurvey(ctx context.Context, input gateway.SurveyInput) (persistence.SurveyResponse, error)
	ClearSurveys(ctx context.Context) error
}

type SurveyHandler struct {
	service   surveyService
	responder responder
	logger    *slog.Logger
}

func NewSurveyHandler(service surveyService, logger *slog.Logger) *SurveyHandler {
	base := defaultLogger(logger)
	return &SurveyHandler{service: service, responder: newResponder(base), logger: base}
}

func (h *SurveyHandler) log(ctx context.Context, operation string, attrs ...any) *slog.Logger {
	if h == nil {
		return slog.Default()
	}
	return handlerLogger(ctx, h.logger, "SurveyHandler", operation, attrs...)
}

func (h *SurveyHandler) List(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.service == nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	surveys, err := h.service.ListSurveys(r.Context())
	if err != nil {
		h.log(r.Context(), "List").ErrorContext(r.Context(), "survey list failed", "error", err, "error_kind", persistence.ErrorKind(err))
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}
	h.responder.writeJSON(r.Context(), w, http.StatusOK, surveysResponse{Surveys: toSurveyDTOs(surveys)})
}

func (h *SurveyHandler) Create(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.service == nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	var req gateway.SurveyInput
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.log(r.Context(), "Create", "error_kind", "bad_request").WarnContext(r.Context(), "failed to decode survey request", "error", err)
		h.responder.writeError(r.Context(), w, http.StatusBadRequest, errBadRequestBody)
		return
	}

	logger := h.log(r.Context(), "Create")
	survey, err := h.service.AddSurvey(r.Context(), req)
	if err != nil {
		logger.WarnContext(r.Context(), "survey submission failed", "error", err, "error_kind", persistence.ErrorKind(err))
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}

	logger.With("survey_id", survey.ID).InfoContext(r.Context(), "survey recorded")
	h.responder.writeJSON(r.Context(), w, http.StatusCreated, surveyResponse{Survey: toSurveyDTO(survey)})
}

func (h *SurveyHandler) Clear(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.service == nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}
	if !confirmed(r) {
		h.responder.writeError(r.Context(), w, http.StatusBadRequest, errConfirmRequired)
		return
	}

	logger := h.log(r.Context(), "Clear")
	if err := h.service.ClearSurveys(r.Context()); err != nil {
		logger.ErrorContext(r.Context(), "survey clear failed", "error", err, "error_kind", persistence.ErrorKind(err))
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}

	logger.InfoContext(r.Context(), "surveys cleared")
	w.WriteHeader(http.StatusNoContent)
}

type surveyDTO struct {
	ID               string `json:"id"`
	ParticipantName  string `json:"participantName,omitempty"`
	Score            int    `json:"score"`
	QualityRating    int    `json:"qualityRating"`
	InstructorRating int    `json:"instructorRating"`
	Comments         string `json:"comments,omitempty"`
	CreatedAt        string `json:"createdAt"`
}

type surveyResponse struct {
	Survey surveyDTO `json:"survey"`
}

type surveysResponse struct {
	Surveys []surveyDTO `json:"surveys"`
}

func toSurveyDTO(survey persistence.SurveyResponse) surveyDTO {
	return surveyDTO{
		ID:               survey.ID,
		ParticipantName:  survey.ParticipantName,
		Score:            survey.Score,
		QualityRating:    survey.QualityRating,
		InstructorRating: survey.InstructorRating,
		Comments:         survey.Comments,
		CreatedAt:        survey.CreatedAt.UTC().Format(time.RFC3339Nano),
	}
}

func toSurveyDTOs(surveys []persistence.SurveyResponse) []surveyDTO {
	out := make([]surveyDTO, 0, len(surveys))
	for _, survey := range surveys {
		out = append(out, toSurveyDTO(survey))
	}
	return out
}
