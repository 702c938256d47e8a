package errors

import (
	"context"
	"errors"
	"fmt"
)

// ContextKey is a type for context keys to avoid collisions.
type ContextKey string

const (
	// Context keys for error metadata.
	ContextKeyServer    ContextKey = "server"
	ContextKeyTransport ContextKey = "transport"
	ContextKeyTool      ContextKey = "tool"
	ContextKeyResource  ContextKey = "resource"
	ContextKeyPrompt    ContextKey = "prompt"
	ContextKeyTraceID   ContextKey = "trace_id"
)

// contextMapping defines a mapping between context keys and field names.
type contextMapping struct {
	key   ContextKey
	field string
}

// getContextMappings returns all context mappings to reduce complexity.
func getContextMappings() []contextMapping {
	return []contextMapping{
		{ContextKeyServer, "server"},
		{ContextKeyTransport, "transport"},
		{ContextKeyTool, "tool"},
		{ContextKeyResource, "resource"},
		{ContextKeyPrompt, "prompt"},
		{ContextKeyTraceID, "trace_id"},
	}
}

// FromContext extracts error context from a context.Context and adds it to the error.
func FromContext(ctx context.Context, err error) *FleetError {
	if err == nil {
		return nil
	}

	var fe *FleetError
	if !errors.As(err, &fe) {
		fe = Wrap(err, err.Error())
	}

	// Add context values using a loop to reduce complexity
	for _, mapping := range getContextMappings() {
		if value := ctx.Value(mapping.key); value != nil {
			fe = fe.WithContext(mapping.field, value)
		}
	}

	return fe
}

// WrapContext wraps an error with context information.
func WrapContext(ctx context.Context, err error, message string) *FleetError {
	if err == nil {
		return nil
	}

	return FromContext(ctx, Wrap(err, message))
}

// WrapContextf wraps an error with formatted message and context.
func WrapContextf(ctx context.Context, err error, format string, args ...interface{}) *FleetError {
	if err == nil {
		return nil
	}

	return FromContext(ctx, Wrap(err, fmt.Sprintf(format, args...)))
}

// NewWithContext creates a new error with context information.
func NewWithContext(ctx context.Context, errType ErrorType, message string) *FleetError {
	return FromContext(ctx, New(errType, message))
}

// EnrichWithServer adds server and transport information to the context.
func EnrichWithServer(ctx context.Context, server, transport string) context.Context {
	if server != "" {
		ctx = context.WithValue(ctx, ContextKeyServer, server)
	}

	if transport != "" {
		ctx = context.WithValue(ctx, ContextKeyTransport, transport)
	}

	return ctx
}

// EnrichWithTool adds tool information to the context.
func EnrichWithTool(ctx context.Context, tool string) context.Context {
	if tool != "" {
		ctx = context.WithValue(ctx, ContextKeyTool, tool)
	}

	return ctx
}

// EnrichWithTraceID adds trace ID to the context.
func EnrichWithTraceID(ctx context.Context, traceID string) context.Context {
	if traceID != "" {
		ctx = context.WithValue(ctx, ContextKeyTraceID, traceID)
	}

	return ctx
}
