// Package corrid attaches a fresh correlation identifier to each scheduled
// job execution so every downstream log line and analytics event can be
// traced back to a single run.
package corrid

import (
	"context"

	"github.com/google/uuid"
)

type ctxKey struct{}

// New generates a fresh correlation ID.
func New() string {
	return uuid.NewString()
}

// WithContext returns a context carrying the correlation ID.
func WithContext(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, ctxKey{}, id)
}

// FromContext returns the correlation ID attached to ctx, or "" if none.
func FromContext(ctx context.Context) string {
	v, _ := ctx.Value(ctxKey{}).(string)
	return v
}
