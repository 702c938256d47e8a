// Package errors provides error handling utilities for the fleet manager.
// It includes error wrapping, classification, and context management.
package errors

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"strings"
)

// ErrorType represents the category of an error.
type ErrorType string

const (
	// Stack capture configuration.
	stackSkipFrames = 2  // Number of stack frames to skip when capturing
	maxStackDepth   = 10 // Maximum stack depth to capture

	// Error types for classification.
	TypeConfig      ErrorType = "CONFIG"
	TypeConnection  ErrorType = "CONNECTION"
	TypeCall        ErrorType = "CALL"
	TypeTimeout     ErrorType = "TIMEOUT"
	TypeCircuitOpen ErrorType = "CIRCUIT_OPEN"
	TypeCapability  ErrorType = "CAPABILITY"
	TypeNotFound    ErrorType = "NOT_FOUND"
	TypeCanceled    ErrorType = "CANCELED"
	TypeInternal    ErrorType = "INTERNAL"
)

// Error severity levels.
type Severity string

const (
	SeverityLow      Severity = "LOW"
	SeverityMedium   Severity = "MEDIUM"
	SeverityHigh     Severity = "HIGH"
	SeverityCritical Severity = "CRITICAL"
)

// FleetError is the base error type for all fleet manager errors.
type FleetError struct {
	Type      ErrorType              `json:"type"`
	Message   string                 `json:"message"`
	Code      string                 `json:"code,omitempty"`
	Cause     error                  `json:"-"`
	Context   map[string]interface{} `json:"context,omitempty"`
	Stack     []string               `json:"stack,omitempty"`
	Severity  Severity               `json:"severity"`
	Retryable bool                   `json:"retryable"`
	Component string                 `json:"component,omitempty"`
	Operation string                 `json:"operation,omitempty"`
}

// Error implements the error interface.
func (e *FleetError) Error() string {
	var b strings.Builder

	if e.Component != "" {
		b.WriteString("[")
		b.WriteString(e.Component)
		b.WriteString("] ")
	}

	if e.Operation != "" {
		b.WriteString(e.Operation)
		b.WriteString(": ")
	}

	b.WriteString(string(e.Type))
	b.WriteString(": ")
	b.WriteString(e.Message)

	if e.Cause != nil {
		b.WriteString(": ")
		b.WriteString(e.Cause.Error())
	}

	return b.String()
}

// Unwrap returns the underlying cause of the error.
func (e *FleetError) Unwrap() error {
	return e.Cause
}

// Is implements error matching for errors.Is.
func (e *FleetError) Is(target error) bool {
	t, ok := target.(*FleetError)
	if !ok {
		return false
	}

	return e.Type == t.Type && e.Code == t.Code
}

// WithContext adds context information to the error.
func (e *FleetError) WithContext(key string, value interface{}) *FleetError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}

	e.Context[key] = value

	return e
}

// WithOperation sets the operation that caused the error.
func (e *FleetError) WithOperation(operation string) *FleetError {
	e.Operation = operation

	return e
}

// WithComponent sets the component that generated the error.
func (e *FleetError) WithComponent(component string) *FleetError {
	e.Component = component

	return e
}

// AsRetryable marks the error as retryable.
func (e *FleetError) AsRetryable() *FleetError {
	e.Retryable = true

	return e
}

// New creates a new FleetError with stack trace.
func New(errType ErrorType, message string) *FleetError {
	return &FleetError{
		Type:      errType,
		Message:   message,
		Stack:     captureStack(stackSkipFrames),
		Severity:  getSeverityForType(errType),
		Retryable: isRetryableType(errType),
	}
}

// Wrap wraps an existing error with additional context.
func Wrap(err error, message string) *FleetError {
	if err == nil {
		return nil
	}

	// If it's already a FleetError, preserve its properties
	var fe *FleetError
	if errors.As(err, &fe) {
		return &FleetError{
			Type:      fe.Type,
			Message:   message,
			Cause:     fe,
			Context:   fe.Context,
			Stack:     captureStack(stackSkipFrames),
			Severity:  fe.Severity,
			Retryable: fe.Retryable,
			Component: fe.Component,
			Operation: fe.Operation,
		}
	}

	// Otherwise, create a new internal error
	return &FleetError{
		Type:      TypeInternal,
		Message:   message,
		Cause:     err,
		Stack:     captureStack(stackSkipFrames),
		Severity:  SeverityMedium,
		Retryable: false,
	}
}

// WrapWithType wraps an error with a specific type.
func WrapWithType(err error, errType ErrorType, message string) *FleetError {
	if err == nil {
		return nil
	}

	return &FleetError{
		Type:      errType,
		Message:   message,
		Cause:     err,
		Stack:     captureStack(stackSkipFrames),
		Severity:  getSeverityForType(errType),
		Retryable: isRetryableType(errType),
	}
}

// Wrapf wraps an error with formatted message.
func Wrapf(err error, format string, args ...interface{}) *FleetError {
	if err == nil {
		return nil
	}

	return Wrap(err, fmt.Sprintf(format, args...))
}

// IsType checks if an error is of a specific type.
func IsType(err error, errType ErrorType) bool {
	var fe *FleetError
	if errors.As(err, &fe) {
		return fe.Type == errType
	}

	return false
}

// IsRetryable checks if an error is retryable.
func IsRetryable(err error) bool {
	var fe *FleetError
	if errors.As(err, &fe) {
		return fe.Retryable
	}

	// Check for standard retryable errors
	if errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, context.Canceled) {
		return true
	}

	// Check for temporary network errors
	if temp, ok := err.(interface{ Temporary() bool }); ok {
		return temp.Temporary()
	}

	return false
}

// Helper functions.

func captureStack(skip int) []string {
	var stack []string

	for i := skip; i < skip+maxStackDepth; i++ {
		pc, file, line, ok := runtime.Caller(i)
		if !ok {
			break
		}

		fn := runtime.FuncForPC(pc)
		if fn != nil {
			stack = append(stack, fmt.Sprintf("%s:%d %s", file, line, fn.Name()))
		}
	}

	return stack
}

func getSeverityForType(errType ErrorType) Severity {
	switch errType {
	case TypeInternal:
		return SeverityHigh
	case TypeConnection, TypeTimeout:
		return SeverityMedium
	case TypeConfig, TypeNotFound, TypeCapability:
		return SeverityLow
	case TypeCircuitOpen, TypeCall:
		return SeverityMedium
	case TypeCanceled:
		return SeverityLow
	default:
		return SeverityMedium
	}
}

func isRetryableType(errType ErrorType) bool {
	switch errType {
	case TypeConnection, TypeTimeout:
		return true
	case TypeConfig, TypeNotFound, TypeCapability, TypeCircuitOpen, TypeCall, TypeInternal, TypeCanceled:
		return false
	default:
		return false
	}
}

// Convenience functions for creating common errors

func NewConfigError(message string) *FleetError {
	return New(TypeConfig, message)
}

func NewNotFoundError(resource string) *FleetError {
	return New(TypeNotFound, resource + " not found")
}

func NewInternalError(message string) *FleetError {
	return New(TypeInternal, message)
}

func NewTimeoutError(operation string, cause error) *FleetError {
	if cause != nil {
		return WrapWithType(cause, TypeTimeout, "operation " + operation + " timed out").
			WithOperation(operation)
	}
	// If no cause, create a new error
	return New(TypeTimeout, "operation " + operation + " timed out").
		WithOperation(operation)
}

// Standard sentinel errors.
var (
	ErrServerNotFound = NewNotFoundError("server")
	ErrToolNotFound   = NewNotFoundError("tool")
	ErrNotConnected   = New(TypeConnection, "server not connected")
	ErrInternal       = NewInternalError("internal error")
)
