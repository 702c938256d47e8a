package errors

import (
	"context"
	"errors"
	"io"
	"strings"
	"time"
)

// Error codes for session operations.
const (
	ErrCodeConnectionFailed  = "SESSION_CONNECTION_FAILED"
	ErrCodeConnectionTimeout = "SESSION_CONNECTION_TIMEOUT"
	ErrCodeCallFailed        = "SESSION_CALL_FAILED"
	ErrCodeCallTimeout       = "SESSION_CALL_TIMEOUT"
	ErrCodeCircuitOpen       = "SESSION_CIRCUIT_OPEN"
	ErrCodeNotConnected      = "SESSION_NOT_CONNECTED"
	ErrCodeCapability        = "SESSION_CAPABILITY_UNSUPPORTED"
	ErrCodeStdioFailed       = "SESSION_STDIO_FAILED"
	ErrCodeSSEFailed         = "SESSION_SSE_FAILED"
	ErrCodeHTTPFailed        = "SESSION_HTTP_FAILED"
)

// CreateConnectionError creates an error for connection failures.
func CreateConnectionError(serverName, transport, message string, cause error) *FleetError {
	var err *FleetError
	if cause != nil {
		err = WrapWithType(cause, TypeConnection, message)
	} else {
		err = New(TypeConnection, message)
	}

	return err.
		WithComponent("session").
		WithOperation("connect").
		WithContext("server_name", serverName).
		WithContext("transport", transport).
		WithContext("code", ErrCodeConnectionFailed).
		AsRetryable()
}

// CreateConnectionTimeoutError creates an error for connection timeouts.
func CreateConnectionTimeoutError(serverName string, timeout time.Duration) *FleetError {
	return NewTimeoutError("connection to server "+serverName, nil).
		WithComponent("session").
		WithContext("server_name", serverName).
		WithContext("timeout", timeout.String()).
		WithContext("code", ErrCodeConnectionTimeout)
}

// CreateCallError creates an error for failed tool calls.
func CreateCallError(serverName, toolName string, cause error) *FleetError {
	return WrapWithType(cause, TypeCall, "tool call failed").
		WithComponent("session").
		WithOperation("call_tool").
		WithContext("server_name", serverName).
		WithContext("tool_name", toolName).
		WithContext("code", ErrCodeCallFailed)
}

// CreateCallTimeoutError creates an error for tool calls exceeding their deadline.
func CreateCallTimeoutError(serverName, toolName string, timeout time.Duration) *FleetError {
	return NewTimeoutError("tool call "+toolName, nil).
		WithComponent("session").
		WithContext("server_name", serverName).
		WithContext("tool_name", toolName).
		WithContext("timeout", timeout.String()).
		WithContext("code", ErrCodeCallTimeout)
}

// CreateCircuitOpenError creates an error for calls rejected by the breaker.
func CreateCircuitOpenError(serverName, reason string) *FleetError {
	return New(TypeCircuitOpen, reason).
		WithComponent("session").
		WithOperation("call_tool").
		WithContext("server_name", serverName).
		WithContext("code", ErrCodeCircuitOpen)
}

// CreateNotConnectedError creates an error for calls against a disconnected session.
func CreateNotConnectedError(serverName string) *FleetError {
	return New(TypeConnection, "server "+serverName+" is not connected").
		WithComponent("session").
		WithContext("server_name", serverName).
		WithContext("code", ErrCodeNotConnected)
}

// CreateCapabilityError creates an error for operations the server does not support.
func CreateCapabilityError(serverName, capability string) *FleetError {
	return New(TypeCapability, "server "+serverName+" does not support "+capability).
		WithComponent("session").
		WithContext("server_name", serverName).
		WithContext("capability", capability).
		WithContext("code", ErrCodeCapability)
}

// IsDisconnect reports whether an error indicates the underlying connection
// is gone, so the session should flip to disconnected rather than just
// counting a call failure. Transport errors do not share a sentinel type
// across stdio, SSE, and streamable HTTP, so this falls back on the error
// text in the same way each transport phrases connection loss.
func IsDisconnect(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrClosedPipe) {
		return true
	}

	if errors.Is(err, context.Canceled) {
		return true
	}

	msg := strings.ToLower(err.Error())

	for _, marker := range []string{
		"connection",
		"closed",
		"broken pipe",
		"transport",
	} {
		if strings.Contains(msg, marker) {
			return true
		}
	}

	return false
}

// IsUnsupported reports whether an error means the server does not
// implement the requested method. Servers phrase this differently, so the
// check is again text based.
func IsUnsupported(err error) bool {
	if err == nil {
		return false
	}

	if IsType(err, TypeCapability) {
		return true
	}

	msg := strings.ToLower(err.Error())

	for _, marker := range []string{
		"method not found",
		"not implemented",
		"not supported",
		"unsupported",
	} {
		if strings.Contains(msg, marker) {
			return true
		}
	}

	return false
}
