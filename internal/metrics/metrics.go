// Package metrics provides Prometheus metrics collection and reporting for the fleet manager.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	// unknownValue is used when a metric label value is not available.
	unknownValue = "unknown"
)

// Registry holds all Prometheus metrics. A nil *Registry is valid:
// every method is a no-op, so callers that run without metrics skip
// instrumentation instead of guarding each call site.
type Registry struct {
	prom *prometheus.Registry

	// Server connection metrics
	ServersConfigured prometheus.Gauge
	ServersConnected  prometheus.Gauge
	ConnectsTotal     *prometheus.CounterVec
	DisconnectsTotal  *prometheus.CounterVec
	ReconnectsTotal   *prometheus.CounterVec

	// Tool call metrics
	ToolCallsTotal   *prometheus.CounterVec
	ToolCallDuration *prometheus.HistogramVec
	CallsInFlight    prometheus.Gauge

	// Resource and prompt metrics
	ResourceReadsTotal *prometheus.CounterVec
	PromptGetsTotal    *prometheus.CounterVec

	// Registration index metrics
	ToolsRegistered     prometheus.Gauge
	ResourcesRegistered prometheus.Gauge
	PromptsRegistered   prometheus.Gauge

	// Circuit breaker metrics
	CircuitBreakerState *prometheus.GaugeVec

	// Heartbeat metrics
	HeartbeatsTotal   *prometheus.CounterVec
	HeartbeatInterval *prometheus.GaugeVec

	// Error metrics
	ErrorsTotal       *prometheus.CounterVec
	ErrorsByType      *prometheus.CounterVec
	ErrorsByComponent *prometheus.CounterVec
	ErrorRetryable    *prometheus.CounterVec
	ErrorsBySeverity  *prometheus.CounterVec
	ErrorsByOperation *prometheus.CounterVec
}

// createConnectionMetrics creates server connection metrics.
// nolint:ireturn // Prometheus interfaces
func createConnectionMetrics(factory promauto.Factory) (
	prometheus.Gauge,
	prometheus.Gauge,
	*prometheus.CounterVec,
	*prometheus.CounterVec,
	*prometheus.CounterVec,
) {
	configured := factory.NewGauge(prometheus.GaugeOpts{
		Name: "mcpfleet_servers_configured",
		Help: "Number of configured MCP servers",
	})
	connected := factory.NewGauge(prometheus.GaugeOpts{
		Name: "mcpfleet_servers_connected",
		Help: "Number of currently connected MCP servers",
	})
	connects := factory.NewCounterVec(prometheus.CounterOpts{
		Name: "mcpfleet_server_connects_total",
		Help: "Total connection attempts by server and outcome",
	}, []string{"server", "status"})
	disconnects := factory.NewCounterVec(prometheus.CounterOpts{
		Name: "mcpfleet_server_disconnects_total",
		Help: "Total disconnects observed by server",
	}, []string{"server"})
	reconnects := factory.NewCounterVec(prometheus.CounterOpts{
		Name: "mcpfleet_server_reconnects_total",
		Help: "Total reconnection attempts by server and outcome",
	}, []string{"server", "status"})

	return configured, connected, connects, disconnects, reconnects
}

// createCallMetrics creates tool call metrics.
// nolint:ireturn // Prometheus interfaces
func createCallMetrics(
	factory promauto.Factory,
) (*prometheus.CounterVec, *prometheus.HistogramVec, prometheus.Gauge) {
	callsTotal := factory.NewCounterVec(prometheus.CounterOpts{
		Name: "mcpfleet_tool_calls_total",
		Help: "Total number of tool calls by server, tool, and outcome",
	}, []string{"server", "tool", "status"})
	callDuration := factory.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "mcpfleet_tool_call_duration_seconds",
		Help:    "Tool call duration in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"server", "tool"})
	callsInFlight := factory.NewGauge(prometheus.GaugeOpts{
		Name: "mcpfleet_tool_calls_in_flight",
		Help: "Number of tool calls currently executing",
	})

	return callsTotal, callDuration, callsInFlight
}

// InitializeMetricsRegistry creates and configures a metrics collection registry.
func InitializeMetricsRegistry() *Registry {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	configured, connected, connects, disconnects, reconnects := createConnectionMetrics(factory)
	callsTotal, callDuration, callsInFlight := createCallMetrics(factory)

	errorMetrics := createErrorMetrics(factory)
	capabilityMetrics := createCapabilityMetrics(factory)
	heartbeatMetrics := createHeartbeatMetrics(factory)

	return &Registry{
		prom:                reg,
		ServersConfigured:   configured,
		ServersConnected:    connected,
		ConnectsTotal:       connects,
		DisconnectsTotal:    disconnects,
		ReconnectsTotal:     reconnects,
		ToolCallsTotal:      callsTotal,
		ToolCallDuration:    callDuration,
		CallsInFlight:       callsInFlight,
		ResourceReadsTotal:  capabilityMetrics.resourceReads,
		PromptGetsTotal:     capabilityMetrics.promptGets,
		ToolsRegistered:     capabilityMetrics.tools,
		ResourcesRegistered: capabilityMetrics.resources,
		PromptsRegistered:   capabilityMetrics.prompts,
		CircuitBreakerState: heartbeatMetrics.circuitBreaker,
		HeartbeatsTotal:     heartbeatMetrics.heartbeats,
		HeartbeatInterval:   heartbeatMetrics.interval,
		ErrorsTotal:         errorMetrics.total,
		ErrorsByType:        errorMetrics.byType,
		ErrorsByComponent:   errorMetrics.byComponent,
		ErrorRetryable:      errorMetrics.retryable,
		ErrorsBySeverity:    errorMetrics.bySeverity,
		ErrorsByOperation:   errorMetrics.byOperation,
	}
}

// Gatherer exposes the underlying registry for the metrics HTTP handler.
func (r *Registry) Gatherer() prometheus.Gatherer {
	if r == nil {
		return prometheus.NewRegistry()
	}

	return r.prom
}

type errorMetricsSet struct {
	total       *prometheus.CounterVec
	byType      *prometheus.CounterVec
	byComponent *prometheus.CounterVec
	retryable   *prometheus.CounterVec
	bySeverity  *prometheus.CounterVec
	byOperation *prometheus.CounterVec
}

func createErrorMetrics(factory promauto.Factory) errorMetricsSet {
	return errorMetricsSet{
		total: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "mcpfleet_errors_total",
			Help: "Total number of errors by code and component",
		}, []string{"code", "component", "operation"}),
		byType: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "mcpfleet_errors_by_type_total",
			Help: "Total number of errors by error type",
		}, []string{"type"}),
		byComponent: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "mcpfleet_errors_by_component_total",
			Help: "Total number of errors by component",
		}, []string{"component"}),
		retryable: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "mcpfleet_errors_retryable_total",
			Help: "Total number of retryable vs non-retryable errors",
		}, []string{"retryable"}),
		bySeverity: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "mcpfleet_errors_by_severity_total",
			Help: "Total number of errors by severity level",
		}, []string{"severity"}),
		byOperation: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "mcpfleet_errors_by_operation_total",
			Help: "Total number of errors by operation",
		}, []string{"operation", "component"}),
	}
}

type capabilityMetricsSet struct {
	resourceReads *prometheus.CounterVec
	promptGets    *prometheus.CounterVec
	tools         prometheus.Gauge
	resources     prometheus.Gauge
	prompts       prometheus.Gauge
}

func createCapabilityMetrics(factory promauto.Factory) capabilityMetricsSet {
	return capabilityMetricsSet{
		resourceReads: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "mcpfleet_resource_reads_total",
			Help: "Total resource reads by server and outcome",
		}, []string{"server", "status"}),
		promptGets: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "mcpfleet_prompt_gets_total",
			Help: "Total prompt fetches by server and outcome",
		}, []string{"server", "status"}),
		tools: factory.NewGauge(prometheus.GaugeOpts{
			Name: "mcpfleet_tools_registered",
			Help: "Number of tools currently registered across all servers",
		}),
		resources: factory.NewGauge(prometheus.GaugeOpts{
			Name: "mcpfleet_resources_registered",
			Help: "Number of resources currently registered across all servers",
		}),
		prompts: factory.NewGauge(prometheus.GaugeOpts{
			Name: "mcpfleet_prompts_registered",
			Help: "Number of prompts currently registered across all servers",
		}),
	}
}

type heartbeatMetricsSet struct {
	circuitBreaker *prometheus.GaugeVec
	heartbeats     *prometheus.CounterVec
	interval       *prometheus.GaugeVec
}

func createHeartbeatMetrics(factory promauto.Factory) heartbeatMetricsSet {
	return heartbeatMetricsSet{
		circuitBreaker: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "mcpfleet_circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=open, 2=half-open)",
		}, []string{"server"}),
		heartbeats: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "mcpfleet_heartbeats_total",
			Help: "Total heartbeat probes by server and outcome",
		}, []string{"server", "status"}),
		interval: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "mcpfleet_heartbeat_interval_seconds",
			Help: "Current adaptive heartbeat interval per server",
		}, []string{"server"}),
	}
}

// SetServersConfigured sets the configured server count.
func (r *Registry) SetServersConfigured(n int) {
	if r == nil {
		return
	}

	r.ServersConfigured.Set(float64(n))
}

// SetServersConnected sets the connected server count.
func (r *Registry) SetServersConnected(n int) {
	if r == nil {
		return
	}

	r.ServersConnected.Set(float64(n))
}

// IncrementConnects increments connection attempts with an outcome label.
func (r *Registry) IncrementConnects(server string, success bool) {
	if r == nil {
		return
	}

	r.ConnectsTotal.WithLabelValues(server, statusLabel(success)).Inc()
}

// IncrementDisconnects increments observed disconnects.
func (r *Registry) IncrementDisconnects(server string) {
	if r == nil {
		return
	}

	r.DisconnectsTotal.WithLabelValues(server).Inc()
}

// IncrementReconnects increments reconnection attempts with an outcome label.
func (r *Registry) IncrementReconnects(server string, success bool) {
	if r == nil {
		return
	}

	r.ReconnectsTotal.WithLabelValues(server, statusLabel(success)).Inc()
}

// IncrementToolCalls increments tool call count.
func (r *Registry) IncrementToolCalls(server, tool string, success bool) {
	if r == nil {
		return
	}

	r.ToolCallsTotal.WithLabelValues(server, tool, statusLabel(success)).Inc()
}

// RecordToolCallDuration records tool call duration.
func (r *Registry) RecordToolCallDuration(server, tool string, duration time.Duration) {
	if r == nil {
		return
	}

	r.ToolCallDuration.WithLabelValues(server, tool).Observe(duration.Seconds())
}

// IncrementCallsInFlight increments in-flight tool calls.
func (r *Registry) IncrementCallsInFlight() {
	if r == nil {
		return
	}

	r.CallsInFlight.Inc()
}

// DecrementCallsInFlight decrements in-flight tool calls.
func (r *Registry) DecrementCallsInFlight() {
	if r == nil {
		return
	}

	r.CallsInFlight.Dec()
}

// IncrementResourceReads increments resource read count.
func (r *Registry) IncrementResourceReads(server string, success bool) {
	if r == nil {
		return
	}

	r.ResourceReadsTotal.WithLabelValues(server, statusLabel(success)).Inc()
}

// IncrementPromptGets increments prompt fetch count.
func (r *Registry) IncrementPromptGets(server string, success bool) {
	if r == nil {
		return
	}

	r.PromptGetsTotal.WithLabelValues(server, statusLabel(success)).Inc()
}

// SetRegisteredCounts sets the registration index gauges.
func (r *Registry) SetRegisteredCounts(tools, resources, prompts int) {
	if r == nil {
		return
	}

	r.ToolsRegistered.Set(float64(tools))
	r.ResourcesRegistered.Set(float64(resources))
	r.PromptsRegistered.Set(float64(prompts))
}

// SetCircuitBreakerState sets circuit breaker state.
func (r *Registry) SetCircuitBreakerState(server string, state float64) {
	if r == nil {
		return
	}

	r.CircuitBreakerState.WithLabelValues(server).Set(state)
}

// IncrementHeartbeats increments heartbeat probe count.
func (r *Registry) IncrementHeartbeats(server string, success bool) {
	if r == nil {
		return
	}

	r.HeartbeatsTotal.WithLabelValues(server, statusLabel(success)).Inc()
}

// SetHeartbeatInterval records the current adaptive interval for a server.
func (r *Registry) SetHeartbeatInterval(server string, interval time.Duration) {
	if r == nil {
		return
	}

	r.HeartbeatInterval.WithLabelValues(server).Set(interval.Seconds())
}

// IncrementErrors increments error count with detailed labels.
func (r *Registry) IncrementErrors(code, component, operation string) {
	if r == nil {
		return
	}

	r.ErrorsTotal.WithLabelValues(code, component, operation).Inc()
}

// IncrementErrorsByType increments errors by type.
func (r *Registry) IncrementErrorsByType(errorType string) {
	if r == nil {
		return
	}

	r.ErrorsByType.WithLabelValues(errorType).Inc()
}

// IncrementErrorsByComponent increments errors by component.
func (r *Registry) IncrementErrorsByComponent(component string) {
	if r == nil {
		return
	}

	r.ErrorsByComponent.WithLabelValues(component).Inc()
}

// IncrementRetryableErrors increments retryable/non-retryable error count.
func (r *Registry) IncrementRetryableErrors(retryable bool) {
	if r == nil {
		return
	}

	retryableStr := "false"
	if retryable {
		retryableStr = "true"
	}

	r.ErrorRetryable.WithLabelValues(retryableStr).Inc()
}

// IncrementErrorsBySeverity increments errors by severity level.
func (r *Registry) IncrementErrorsBySeverity(severity string) {
	if r == nil {
		return
	}

	r.ErrorsBySeverity.WithLabelValues(severity).Inc()
}

// IncrementErrorsByOperation increments errors by operation.
func (r *Registry) IncrementErrorsByOperation(operation, component string) {
	if r == nil {
		return
	}

	if operation == "" {
		operation = unknownValue
	}

	if component == "" {
		component = unknownValue
	}

	r.ErrorsByOperation.WithLabelValues(operation, component).Inc()
}

func statusLabel(success bool) string {
	if success {
		return "success"
	}

	return "error"
}
