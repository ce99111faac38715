package http

import "context"

type contextKey string

const attendeeIDContextKey contextKey = "attendee_id"

// ContextWithAttendeeID injects the attendee identifier resolved from the request path.
func ContextWithAttendeeID(ctx context.Context, attendeeID string) context.Context {
	return context.WithValue(ctx, attendeeIDContextKey, attendeeID)
}

// AttendeeIDFromContext extracts an attendee identifier previously associated with the context.
func AttendeeIDFromContext(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(attendeeIDContextKey).(string)
	return id, ok
}
