package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestInitializeMetricsRegistry(t *testing.T) {
	t.Parallel()

	reg := InitializeMetricsRegistry()

	if reg == nil {
		t.Fatal("Expected registry to be created")
	}

	verifyMetricsInitialized(t, reg)

	if reg.Gatherer() == nil {
		t.Error("Expected gatherer to be available")
	}
}

func verifyMetricsInitialized(t *testing.T, reg *Registry) {
	t.Helper()

	metricChecks := []struct {
		name   string
		metric interface{}
	}{
		{"ServersConfigured", reg.ServersConfigured},
		{"ServersConnected", reg.ServersConnected},
		{"ConnectsTotal", reg.ConnectsTotal},
		{"DisconnectsTotal", reg.DisconnectsTotal},
		{"ReconnectsTotal", reg.ReconnectsTotal},
		{"ToolCallsTotal", reg.ToolCallsTotal},
		{"ToolCallDuration", reg.ToolCallDuration},
		{"CallsInFlight", reg.CallsInFlight},
		{"ResourceReadsTotal", reg.ResourceReadsTotal},
		{"PromptGetsTotal", reg.PromptGetsTotal},
		{"ToolsRegistered", reg.ToolsRegistered},
		{"ResourcesRegistered", reg.ResourcesRegistered},
		{"PromptsRegistered", reg.PromptsRegistered},
		{"CircuitBreakerState", reg.CircuitBreakerState},
		{"HeartbeatsTotal", reg.HeartbeatsTotal},
		{"HeartbeatInterval", reg.HeartbeatInterval},
		{"ErrorsTotal", reg.ErrorsTotal},
	}

	for _, check := range metricChecks {
		if check.metric == nil {
			t.Errorf("%s not initialized", check.name)
		}
	}
}

func TestRegistry_ConnectionMetrics(t *testing.T) {
	t.Parallel()

	reg := InitializeMetricsRegistry()

	reg.SetServersConfigured(4)
	reg.SetServersConnected(3)

	if got := testutil.ToFloat64(reg.ServersConfigured); got != 4 {
		t.Errorf("Expected ServersConfigured to be 4, got %f", got)
	}

	if got := testutil.ToFloat64(reg.ServersConnected); got != 3 {
		t.Errorf("Expected ServersConnected to be 3, got %f", got)
	}

	reg.IncrementConnects("files", true)
	reg.IncrementConnects("files", false)
	reg.IncrementConnects("files", false)

	if got := testutil.ToFloat64(reg.ConnectsTotal.WithLabelValues("files", "success")); got != 1 {
		t.Errorf("Expected 1 successful connect, got %f", got)
	}

	if got := testutil.ToFloat64(reg.ConnectsTotal.WithLabelValues("files", "error")); got != 2 {
		t.Errorf("Expected 2 failed connects, got %f", got)
	}

	reg.IncrementDisconnects("files")
	reg.IncrementReconnects("files", true)

	if got := testutil.ToFloat64(reg.DisconnectsTotal.WithLabelValues("files")); got != 1 {
		t.Errorf("Expected 1 disconnect, got %f", got)
	}

	if got := testutil.ToFloat64(reg.ReconnectsTotal.WithLabelValues("files", "success")); got != 1 {
		t.Errorf("Expected 1 successful reconnect, got %f", got)
	}
}

func TestRegistry_ToolCallMetrics(t *testing.T) {
	t.Parallel()

	reg := InitializeMetricsRegistry()

	reg.IncrementToolCalls("files", "read_file", true)
	reg.IncrementToolCalls("files", "read_file", true)
	reg.IncrementToolCalls("files", "read_file", false)
	reg.RecordToolCallDuration("files", "read_file", 150*time.Millisecond)

	if got := testutil.ToFloat64(reg.ToolCallsTotal.WithLabelValues("files", "read_file", "success")); got != 2 {
		t.Errorf("Expected 2 successful calls, got %f", got)
	}

	if got := testutil.ToFloat64(reg.ToolCallsTotal.WithLabelValues("files", "read_file", "error")); got != 1 {
		t.Errorf("Expected 1 failed call, got %f", got)
	}

	reg.IncrementCallsInFlight()
	reg.IncrementCallsInFlight()
	reg.DecrementCallsInFlight()

	if got := testutil.ToFloat64(reg.CallsInFlight); got != 1 {
		t.Errorf("Expected 1 call in flight, got %f", got)
	}
}

func TestRegistry_CapabilityMetrics(t *testing.T) {
	t.Parallel()

	reg := InitializeMetricsRegistry()

	reg.IncrementResourceReads("docs", true)
	reg.IncrementPromptGets("docs", false)
	reg.SetRegisteredCounts(12, 3, 2)

	if got := testutil.ToFloat64(reg.ResourceReadsTotal.WithLabelValues("docs", "success")); got != 1 {
		t.Errorf("Expected 1 resource read, got %f", got)
	}

	if got := testutil.ToFloat64(reg.PromptGetsTotal.WithLabelValues("docs", "error")); got != 1 {
		t.Errorf("Expected 1 failed prompt get, got %f", got)
	}

	if got := testutil.ToFloat64(reg.ToolsRegistered); got != 12 {
		t.Errorf("Expected 12 registered tools, got %f", got)
	}

	if got := testutil.ToFloat64(reg.ResourcesRegistered); got != 3 {
		t.Errorf("Expected 3 registered resources, got %f", got)
	}

	if got := testutil.ToFloat64(reg.PromptsRegistered); got != 2 {
		t.Errorf("Expected 2 registered prompts, got %f", got)
	}
}

func TestRegistry_HeartbeatMetrics(t *testing.T) {
	t.Parallel()

	reg := InitializeMetricsRegistry()

	reg.IncrementHeartbeats("files", true)
	reg.IncrementHeartbeats("files", false)
	reg.SetHeartbeatInterval("files", 90*time.Second)
	reg.SetCircuitBreakerState("files", 1)

	if got := testutil.ToFloat64(reg.HeartbeatsTotal.WithLabelValues("files", "success")); got != 1 {
		t.Errorf("Expected 1 successful heartbeat, got %f", got)
	}

	if got := testutil.ToFloat64(reg.HeartbeatInterval.WithLabelValues("files")); got != 90 {
		t.Errorf("Expected interval 90s, got %f", got)
	}

	if got := testutil.ToFloat64(reg.CircuitBreakerState.WithLabelValues("files")); got != 1 {
		t.Errorf("Expected breaker state 1, got %f", got)
	}
}

func TestRegistry_ErrorMetrics(t *testing.T) {
	t.Parallel()

	reg := InitializeMetricsRegistry()

	reg.IncrementErrors("SESSION_CALL_FAILED", "session", "call_tool")
	reg.IncrementErrorsByType("CALL")
	reg.IncrementErrorsByComponent("session")
	reg.IncrementRetryableErrors(true)
	reg.IncrementErrorsBySeverity("medium")
	reg.IncrementErrorsByOperation("call_tool", "session")
	reg.IncrementErrorsByOperation("", "")

	if got := testutil.ToFloat64(reg.ErrorsTotal.WithLabelValues("SESSION_CALL_FAILED", "session", "call_tool")); got != 1 {
		t.Errorf("Expected 1 error, got %f", got)
	}

	if got := testutil.ToFloat64(reg.ErrorsByOperation.WithLabelValues("unknown", "unknown")); got != 1 {
		t.Errorf("Expected empty labels mapped to unknown, got %f", got)
	}
}

func TestRegistry_NilSafe(t *testing.T) {
	t.Parallel()

	var reg *Registry

	reg.SetServersConfigured(3)
	reg.SetServersConnected(2)
	reg.IncrementConnects("files", true)
	reg.IncrementDisconnects("files")
	reg.IncrementReconnects("files", false)
	reg.IncrementToolCalls("files", "read", true)
	reg.RecordToolCallDuration("files", "read", 50*time.Millisecond)
	reg.IncrementCallsInFlight()
	reg.DecrementCallsInFlight()
	reg.IncrementResourceReads("files", true)
	reg.IncrementPromptGets("files", false)
	reg.SetRegisteredCounts(5, 2, 1)
	reg.SetCircuitBreakerState("files", 1)
	reg.IncrementHeartbeats("files", true)
	reg.SetHeartbeatInterval("files", 90*time.Second)
	reg.IncrementErrors("SESSION_CALL_FAILED", "session", "call_tool")
	reg.IncrementErrorsByType("CALL")
	reg.IncrementErrorsByComponent("session")
	reg.IncrementRetryableErrors(true)
	reg.IncrementErrorsBySeverity("medium")
	reg.IncrementErrorsByOperation("call_tool", "session")

	if reg.Gatherer() == nil {
		t.Error("Expected a usable gatherer from a nil registry")
	}
}
