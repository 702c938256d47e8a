package fleet

import (
	"github.com/mcpfleet/mcpfleet/pkg/circuit"
)

// ToolInfo describes one callable tool discovered on a server.
type ToolInfo struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	InputSchema any    `json:"input_schema,omitempty"`
	Server      string `json:"server"`
}

// ResourceInfo describes one readable resource discovered on a server.
type ResourceInfo struct {
	URI         string `json:"uri"`
	Name        string `json:"name,omitempty"`
	Description string `json:"description,omitempty"`
	MIMEType    string `json:"mime_type,omitempty"`
	Server      string `json:"server"`
}

// PromptInfo describes one prompt template discovered on a server.
type PromptInfo struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Server      string `json:"server"`
}

// CallResult is the uniform outcome of a tool call. Call paths never
// return errors; every failure mode lands in this struct.
type CallResult struct {
	Success       bool    `json:"success"`
	Content       string  `json:"content,omitempty"`
	Error         string  `json:"error,omitempty"`
	DurationMS    float64 `json:"duration_ms"`
	CircuitBroken bool    `json:"circuit_broken,omitempty"`
}

// ServerStatus is a point-in-time snapshot of one server for external
// observers.
type ServerStatus struct {
	Name                 string         `json:"name"`
	Transport            string         `json:"transport"`
	Enabled              bool           `json:"enabled"`
	Connected            bool           `json:"connected"`
	ToolCount            int            `json:"tool_count"`
	SupportsResources    bool           `json:"supports_resources"`
	SupportsPrompts      bool           `json:"supports_prompts"`
	ConsecutiveFailures  int            `json:"consecutive_failures"`
	HeartbeatIntervalSec float64        `json:"heartbeat_interval_seconds"`
	CircuitBreaker       circuit.Status `json:"circuit_breaker"`
}

// ManagerStatus is the aggregate view over every registered server.
type ManagerStatus struct {
	TotalServers        int                     `json:"total_servers"`
	ConnectedServers    int                     `json:"connected_servers"`
	DisconnectedServers int                     `json:"disconnected_servers"`
	TotalTools          int                     `json:"total_tools"`
	TotalResources      int                     `json:"total_resources"`
	TotalPrompts        int                     `json:"total_prompts"`
	HeartbeatRunning    bool                    `json:"heartbeat_running"`
	Servers             map[string]ServerStatus `json:"servers"`
}

// GlobalStats aggregates call counters across the whole manager.
type GlobalStats struct {
	TotalCalls     int64   `json:"total_calls"`
	SuccessCalls   int64   `json:"success_calls"`
	FailedCalls    int64   `json:"failed_calls"`
	UptimeSeconds  float64 `json:"uptime_seconds"`
	CallsPerMinute float64 `json:"calls_per_minute"`
}

// AllStats is the full statistics snapshot returned by GetAllStats.
type AllStats struct {
	Global  GlobalStats                         `json:"global"`
	Servers map[string]ServerStatsSnapshot      `json:"servers"`
	Tools   map[string]map[string]ToolCallStats `json:"tools"`
}

// StatusCallback is invoked whenever the heartbeat loop detects a server
// failure or attempts a reconnect. Called from the heartbeat goroutine.
type StatusCallback func(server string, connected bool)
