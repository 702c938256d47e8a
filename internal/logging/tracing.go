package logging

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"
)

// loggingContextKey is a type for logging-specific context keys.
type loggingContextKey string

const (
	// ID generation sizes.
	traceIDSize   = 16 // Bytes for trace ID
	requestIDSize = 8  // Bytes for request ID

	// Context keys for logging and tracing.
	loggingContextKeyTraceID          loggingContextKey = "trace_id"
	loggingContextKeyRequestID        loggingContextKey = "request_id"
	loggingContextKeyRequestStartTime loggingContextKey = "request_start_time"
	loggingContextKeyServer           loggingContextKey = "server"
	loggingContextKeyTransport        loggingContextKey = "transport"
	loggingContextKeyTool             loggingContextKey = "tool"
)

// GenerateTraceID generates a unique trace ID.
func GenerateTraceID() string {
	b := make([]byte, traceIDSize)
	if _, err := rand.Read(b); err != nil {
		// Fallback to timestamp-based ID
		return fmt.Sprintf("trace_%d", time.Now().UnixNano())
	}

	return hex.EncodeToString(b)
}

// GenerateRequestID generates a unique request ID.
func GenerateRequestID() string {
	b := make([]byte, requestIDSize)
	if _, err := rand.Read(b); err != nil {
		// Fallback to timestamp-based ID
		return fmt.Sprintf("req_%d", time.Now().UnixNano())
	}

	return hex.EncodeToString(b)
}

// ContextWithTracing adds tracing information to context.
func ContextWithTracing(ctx context.Context, traceID, requestID string) context.Context {
	ctx = context.WithValue(ctx, loggingContextKeyTraceID, traceID)
	ctx = context.WithValue(ctx, loggingContextKeyRequestID, requestID)
	ctx = context.WithValue(ctx, loggingContextKeyRequestStartTime, time.Now())

	return ctx
}

// ContextWithServer adds server and transport information to context.
func ContextWithServer(ctx context.Context, server, transport string) context.Context {
	if server != "" {
		ctx = context.WithValue(ctx, loggingContextKeyServer, server)
	}

	if transport != "" {
		ctx = context.WithValue(ctx, loggingContextKeyTransport, transport)
	}

	return ctx
}

// ContextWithTool adds tool information to context.
func ContextWithTool(ctx context.Context, tool string) context.Context {
	if tool != "" {
		ctx = context.WithValue(ctx, loggingContextKeyTool, tool)
	}

	return ctx
}

// GetTraceID retrieves trace ID from context.
func GetTraceID(ctx context.Context) string {
	if traceID := ctx.Value(loggingContextKeyTraceID); traceID != nil {
		if traceIDStr, ok := traceID.(string); ok {
			return traceIDStr
		}
	}

	return ""
}

// GetRequestID retrieves request ID from context.
func GetRequestID(ctx context.Context) string {
	if requestID := ctx.Value(loggingContextKeyRequestID); requestID != nil {
		if reqIDStr, ok := requestID.(string); ok {
			return reqIDStr
		}
	}

	return ""
}

// GetRequestDuration calculates request duration from context.
func GetRequestDuration(ctx context.Context) time.Duration {
	if startTime := ctx.Value(loggingContextKeyRequestStartTime); startTime != nil {
		if startTimeVal, ok := startTime.(time.Time); ok {
			return time.Since(startTimeVal)
		}
	}

	return 0
}
