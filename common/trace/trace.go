// Package trace provides trace ID generation and context propagation so
// every log line emitted while serving one chat turn can be correlated.
package trace

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// traceKey is the unexported context key used to store the trace ID.
type traceKey struct{}

// GenerateID returns a new random trace ID of the form "t_<32 hex chars>".
func GenerateID() string {
	id, err := uuid.NewRandom()
	if err != nil {
		// Only possible if the system random source fails.
		return fmt.Sprintf("t_%d", time.Now().UnixNano())
	}
	return "t_" + strings.ReplaceAll(id.String(), "-", "")
}

// WithTraceID returns a child context carrying the given trace ID.
func WithTraceID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, traceKey{}, id)
}

// FromContext extracts the trace ID from ctx, returning "" if absent.
func FromContext(ctx context.Context) string {
	if v, ok := ctx.Value(traceKey{}).(string); ok {
		return v
	}
	return ""
}

// Ensure returns ctx unchanged if it already carries a trace ID, or a child
// context with a fresh one otherwise.
func Ensure(ctx context.Context) context.Context {
	if FromContext(ctx) != "" {
		return ctx
	}
	return WithTraceID(ctx, GenerateID())
}
