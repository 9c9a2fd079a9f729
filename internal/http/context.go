package http

import "context"

type contextKey string

const (
	userIDContextKey        contextKey = "user_id"
	reservationIDContextKey contextKey = "reservation_id"
	deskIDContextKey        contextKey = "desk_id"
)

// ContextWithUserID returns a derived context carrying the caller's user id.
func ContextWithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, userIDContextKey, userID)
}

// UserIDFromContext extracts the caller's user id if available.
func UserIDFromContext(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(userIDContextKey).(string)
	return id, ok && id != ""
}

// ContextWithReservationID injects the reservation identifier resolved from the request path.
func ContextWithReservationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, reservationIDContextKey, id)
}

// ReservationIDFromContext extracts a reservation identifier previously associated with the context.
func ReservationIDFromContext(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(reservationIDContextKey).(string)
	return id, ok
}

// ContextWithDeskID injects the desk identifier resolved from the request path.
func ContextWithDeskID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, deskIDContextKey, id)
}

// DeskIDFromContext extracts a desk identifier previously associated with the context.
func DeskIDFromContext(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(deskIDContextKey).(string)
	return id, ok
}
