package http

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/example/event-checkin/internal/persistence"
)

// maxSnapshotBytes bounds uploaded snapshot documents.
const maxSnapshotBytes = 10 << 20

type snapshotService interface {
	ExportSnapshot(ctx context.Context) (persistence.Snapshot, error)
	ImportSnapshot(ctx context.Context, snapshot persistence.Snapshot) error
}

type SnapshotHandler struct {
	service   snapshotService
	responder responder
	logger    *slog.Logger
}

func NewSnapshotHandler(service snapshotService, logger *slog.Logger) *SnapshotHandler {
	base := defaultLogger(logger)
	return &SnapshotHandler{service: service, responder: newResponder(base), logger: base}
}

func (h *SnapshotHandler) log(ctx context.Context, operation string, attrs ...any) *slog.Logger {
	if h == nil {
		return slog.Default()
	}
	return handlerLogger(ctx, h.logger, "SnapshotHandler", operation, attrs...)
}

func (h *SnapshotHandler) Export(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.service == nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	logger := h.log(r.Context(), "Export")
	snapshot, err := h.service.ExportSnapshot(r.Context())
	if err != nil {
		logger.ErrorContext(r.Context(), "snapshot export failed", "error", err, "error_kind", persistence.ErrorKind(err))
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}

	filename := fmt.Sprintf("checkin-snapshot-%s.json", snapshot.ExportedAt.Format("2006-01-02"))
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	logger.InfoContext(r.Context(), "snapshot exported", "attendees", len(snapshot.Attendees), "surveys", len(snapshot.Surveys))
	h.responder.writeJSON(r.Context(), w, http.StatusOK, snapshot)
}

func (h *SnapshotHandler) Import(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.service == nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}
	if !confirmed(r) {
		h.responder.writeError(r.Context(), w, http.StatusBadRequest, errConfirmRequired)
		return
	}

	logger := h.log(r.Context(), "Import")
	snapshot, err := persistence.DecodeSnapshot(http.MaxBytesReader(w, r.Body, maxSnapshotBytes))
	if err != nil {
		logger.WarnContext(r.Context(), "snapshot rejected", "error", err, "error_kind", persistence.ErrorKind(err))
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}
	if err := h.service.ImportSnapshot(r.Context(), snapshot); err != nil {
		logger.ErrorContext(r.Context(), "snapshot import failed", "error", err, "error_kind", persistence.ErrorKind(err))
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}

	logger.InfoContext(r.Context(), "snapshot imported",
		"has_attendees", snapshot.HasAttendees(), "has_surveys", snapshot.HasSurveys())
	w.WriteHeader(http.StatusNoContent)
}
