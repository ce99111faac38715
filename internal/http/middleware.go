package http

import (
	"errors"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/example/event-checkin/internal/auth"
	"github.com/example/event-checkin/internal/logging"
)

// AdminPasswordHeader carries the administrator password.
const AdminPasswordHeader = "X-Admin-Password"

var (
	errMissingAdminPassword = errors.New("administrator password required")
	errAdminPasswordDenied  = errors.New("administrator password rejected")
)

// RequireAdmin admits requests whose AdminPasswordHeader matches the encoded
// argon2id hash.
func RequireAdmin(passwordHash string, logger *slog.Logger) func(http.Handler) http.Handler {
	responder := newResponder(logger)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			password := r.Header.Get(AdminPasswordHeader)
			if password == "" {
				responder.writeError(r.Context(), w, http.StatusUnauthorized, errMissingAdminPassword)
				return
			}

			if err := auth.VerifyPassword(passwordHash, password); err != nil {
				if errors.Is(err, auth.ErrPasswordMismatch) {
					responder.writeError(r.Context(), w, http.StatusForbidden, errAdminPasswordDenied)
					return
				}
				responder.loggerFor(r.Context()).ErrorContext(r.Context(), "administrator password hash is unusable", "error", err)
				responder.writeJSON(r.Context(), w, http.StatusInternalServerError, errorResponse{Message: statusMessage(http.StatusInternalServerError)})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func RequestLogger(base *slog.Logger) func(http.Handler) http.Handler {
	if base == nil {
		base = slog.Default()
	}
	var counter atomic.Uint64

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := counter.Add(1)
			logger := base.With(
				"request_id", id,
				"method", r.Method,
				"path", r.URL.Path,
			)

			ctx := logging.ContextWithLogger(r.Context(), logger)
			start := time.Now()
			logger.InfoContext(ctx, "request started")
			next.ServeHTTP(w, r.WithContext(ctx))
			logger.InfoContext(ctx, "request completed", "duration", time.Since(start))
		})
	}
}
