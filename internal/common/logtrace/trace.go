package logtrace

import (
	"context"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

type ctxKey struct{}

var requestIDKey = ctxKey{}

// NewRequestID returns a time-ordered UUIDv7 string. It falls back to a
// random v4 id if the v7 generator fails.
func NewRequestID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}

// WithRequestID returns a copy of ctx carrying the request id.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey, id)
}

// RequestIdFromContext extracts the request ID from the context.
// Returns an empty string if the context is nil or if no request ID is found.
func RequestIdFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	r, ok := ctx.Value(requestIDKey).(string)
	if !ok {
		return ""
	}
	return r
}

// Logger returns the global logger annotated with the request id in ctx, if any.
func Logger(ctx context.Context) zerolog.Logger {
	if id := RequestIdFromContext(ctx); id != "" {
		return log.With().Str("request_id", id).Logger()
	}
	return log.Logger
}
