package http

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/example/event-checkin/internal/app"
	"github.com/example/event-checkin/internal/gateway"
)

type statsSource interface {
	Stats() gateway.Stats
}

type connectivity interface {
	Status() app.Status
	NetworkLost(ctx context.Context)
	NetworkRestored(ctx context.Context) (bool, error)
}

// StatusHandler serves summaries, storage status and connectivity changes.
type StatusHandler struct {
	stats        statsSource
	connectivity connectivity
	responder    responder
	logger       *slog.Logger
}

func NewStatusHandler(stats statsSource, conn connectivity, logger *slog.Logger) *StatusHandler {
	base := defaultLogger(logger)
	return &StatusHandler{stats: stats, connectivity: conn, responder: newResponder(base), logger: base}
}

func (h *StatusHandler) log(ctx context.Context, operation string, attrs ...any) *slog.Logger {
	if h == nil {
		return slog.Default()
	}
	return handlerLogger(ctx, h.logger, "StatusHandler", operation, attrs...)
}

func (h *StatusHandler) Stats(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.stats == nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}
	h.responder.writeJSON(r.Context(), w, http.StatusOK, h.stats.Stats())
}

func (h *StatusHandler) Status(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.connectivity == nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}
	h.responder.writeJSON(r.Context(), w, http.StatusOK, h.connectivity.Status())
}

func (h *StatusHandler) Online(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.connectivity == nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	logger := h.log(r.Context(), "Online")
	restored, err := h.connectivity.NetworkRestored(r.Context())
	if err != nil {
		logger.WarnContext(r.Context(), "reconnect did not complete", "error", err)
	}
	logger.InfoContext(r.Context(), "connectivity restored", "preferred_store", restored)
	h.responder.writeJSON(r.Context(), w, http.StatusOK, h.connectivity.Status())
}

func (h *StatusHandler) Offline(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.connectivity == nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	h.connectivity.NetworkLost(r.Context())
	h.log(r.Context(), "Offline").InfoContext(r.Context(), "connectivity lost")
	h.responder.writeJSON(r.Context(), w, http.StatusOK, h.connectivity.Status())
}
