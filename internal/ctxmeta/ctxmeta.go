// Package ctxmeta carries correlation ids through context: the request id
// for API calls, the tick id for work done inside one poll tick. The log
// handler stamps both onto every record.
package ctxmeta

import (
	"context"

	"github.com/google/uuid"
)

type requestIDKey struct{}
type tickIDKey struct{}

// NewID generates a random UUID v4 correlation id.
func NewID() string {
	return uuid.NewString()
}

// WithRequestID returns a copy of ctx with the request ID attached.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, id)
}

// RequestID extracts the request ID from ctx. Returns "" if absent.
func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

// WithTickID returns a copy of ctx with the poll tick ID attached.
func WithTickID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, tickIDKey{}, id)
}

// TickID extracts the poll tick ID from ctx. Returns "" if absent.
func TickID(ctx context.Context) string {
	id, _ := ctx.Value(tickIDKey{}).(string)
	return id
}
