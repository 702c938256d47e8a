package errors

import (
	"errors"

	"github.com/mcpfleet/mcpfleet/internal/metrics"
)

const (
	// unknownValue is used when a metric label value is not available.
	unknownValue = "unknown"
)

// RecordErrorMetrics records error metrics based on FleetError details.
func RecordErrorMetrics(err *FleetError, registry *metrics.Registry) {
	if err == nil || registry == nil {
		return
	}

	// Get error code from context
	code := ""
	if codeVal, ok := err.Context["code"].(string); ok {
		code = codeVal
	}

	if code == "" {
		code = unknownValue
	}

	// Get component and operation, with defaults
	component := err.Component
	if component == "" {
		component = unknownValue
	}

	operation := err.Operation
	if operation == "" {
		operation = unknownValue
	}

	registry.IncrementErrors(code, component, operation)
	registry.IncrementErrorsByType(string(err.Type))
	registry.IncrementErrorsByComponent(component)
	registry.IncrementRetryableErrors(err.Retryable)

	severityStr := getSeverityString(err.Severity)
	registry.IncrementErrorsBySeverity(severityStr)

	registry.IncrementErrorsByOperation(operation, component)
}

// RecordError is a helper to record error metrics if the error is a FleetError.
func RecordError(err error, registry *metrics.Registry) {
	var fe *FleetError
	if errors.As(err, &fe) {
		RecordErrorMetrics(fe, registry)
	}
}

// getSeverityString converts severity enum to string.
func getSeverityString(severity Severity) string {
	switch severity {
	case SeverityLow:
		return "low"
	case SeverityMedium:
		return "medium"
	case SeverityHigh:
		return "high"
	case SeverityCritical:
		return "critical"
	default:
		return "unknown_" + string(severity)
	}
}
