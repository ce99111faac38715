package gateway

import (
	"context"
	"log/slog"

	"github.com/example/event-checkin/internal/logging"
)

func (g *Gateway) loggerWith(ctx context.Context, operation string, attrs ...any) *slog.Logger {
	logger := logging.FromContext(ctx)
	if logger == nil {
		logger = g.logger
	}
	pairs := []any{"service", "Gateway"}
	if operation != "" {
		pairs = append(pairs, "operation", operation)
	}
	return logger.With(append(pairs, attrs...)...)
}
