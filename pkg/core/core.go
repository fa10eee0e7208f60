package core

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/google/uuid"
)

// AuthKey is a custom context key type for storing the auth token in context.
type AuthKey struct{}

// RequestIDKey is a custom context key type for storing the request ID in context.
type RequestIDKey struct{}

// UserKey is a custom context key type for storing the authenticated user in context.
type UserKey struct{}

// AuthenticatedUser is the identity carried by a validated access token.
// The access-control middleware places it in the request context so tool
// handlers can personalize responses.
type AuthenticatedUser struct {
	ID    string
	Email string
}

// WithRequestID returns a new context with a generated request ID set.
func WithRequestID(ctx context.Context) context.Context {
	reqID := uuid.New().String()
	return context.WithValue(ctx, RequestIDKey{}, reqID)
}

// withAuthKey returns a new context with the provided auth token set.
func withAuthKey(ctx context.Context, auth string) context.Context {
	return context.WithValue(ctx, AuthKey{}, auth)
}

// AuthFromRequest extracts the Authorization header from the HTTP request
// and stores it in the context. Used for HTTP transports.
func AuthFromRequest(ctx context.Context, r *http.Request) context.Context {
	return withAuthKey(ctx, r.Header.Get("Authorization"))
}

// TokenFromContext retrieves the auth token from the context.
// Returns the token string if present, or an error if missing.
func TokenFromContext(ctx context.Context) (string, error) {
	auth, ok := ctx.Value(AuthKey{}).(string)
	if !ok {
		return "", fmt.Errorf("missing auth")
	}
	return auth, nil
}

// WithUser returns a new context with the authenticated user set.
func WithUser(ctx context.Context, user *AuthenticatedUser) context.Context {
	return context.WithValue(ctx, UserKey{}, user)
}

// UserFromContext retrieves the authenticated user from the context.
// Returns an error if no user has been set.
func UserFromContext(ctx context.Context) (*AuthenticatedUser, error) {
	user, ok := ctx.Value(UserKey{}).(*AuthenticatedUser)
	if !ok || user == nil {
		return nil, fmt.Errorf("missing user")
	}
	return user, nil
}

// LoggerFromCtx returns a slog.Logger with request_id field if present in context.
// If no request ID is found, it returns the default logger.
// This allows for structured logging with request context.
func LoggerFromCtx(ctx context.Context) *slog.Logger {
	reqID, _ := ctx.Value(RequestIDKey{}).(string)
	if reqID != "" {
		return slog.Default().With("request_id", reqID)
	}
	return slog.Default()
}
