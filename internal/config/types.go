// Package config defines configuration structures for the fleet manager.
package config

import (
	"time"
)

// Transport kinds for MCP servers.
const (
	TransportStdio      = "stdio"
	TransportSSE        = "sse"
	TransportHTTPStream = "http"
)

// Config represents the complete configuration for the fleet manager.
type Config struct {
	Version int            `mapstructure:"version"`
	Manager ManagerConfig  `mapstructure:"manager"`
	Servers []ServerConfig `mapstructure:"servers"`
	Metrics MetricsConfig  `mapstructure:"metrics"`
	Logging LoggingConfig  `mapstructure:"logging"`
	Tracing TracingConfig  `mapstructure:"tracing"`
}

// ManagerConfig represents manager-level settings.
type ManagerConfig struct {
	ToolPrefix           string               `mapstructure:"tool_prefix"`
	RetryAttempts        int                  `mapstructure:"retry_attempts"`
	RetryInterval        time.Duration        `mapstructure:"retry_interval"`
	CallTimeout          time.Duration        `mapstructure:"call_timeout"`
	ConnectTimeout       time.Duration        `mapstructure:"connect_timeout"`
	ReadTimeout          time.Duration        `mapstructure:"read_timeout"`
	HealthCheckTimeout   time.Duration        `mapstructure:"health_check_timeout"`
	ProbeTimeout         time.Duration        `mapstructure:"probe_timeout"`
	AutoReconnect        bool                 `mapstructure:"auto_reconnect"`
	MaxReconnectAttempts int                  `mapstructure:"max_reconnect_attempts"`
	EnableResources      bool                 `mapstructure:"enable_resources"`
	EnablePrompts        bool                 `mapstructure:"enable_prompts"`
	Heartbeat            HeartbeatConfig      `mapstructure:"heartbeat"`
	CircuitBreaker       CircuitBreakerConfig `mapstructure:"circuit_breaker"`
}

// HeartbeatConfig represents adaptive heartbeat tuning.
type HeartbeatConfig struct {
	Enabled       bool          `mapstructure:"enabled"`
	Interval      time.Duration `mapstructure:"interval"`
	Adaptive      bool          `mapstructure:"adaptive"`
	MaxMultiplier float64       `mapstructure:"max_multiplier"`
}

// CircuitBreakerConfig represents circuit breaker thresholds.
type CircuitBreakerConfig struct {
	FailureThreshold int           `mapstructure:"failure_threshold"`
	RecoveryTimeout  time.Duration `mapstructure:"recovery_timeout"`
	HalfOpenMaxCalls int           `mapstructure:"half_open_max_calls"`
}

// ServerConfig represents one MCP server registration.
type ServerConfig struct {
	Name      string            `mapstructure:"name"`
	Enabled   bool              `mapstructure:"enabled"`
	Transport string            `mapstructure:"transport"` // "stdio", "sse", "http"
	Command   string            `mapstructure:"command"`
	Args      []string          `mapstructure:"args"`
	Env       map[string]string `mapstructure:"env"`
	URL       string            `mapstructure:"url"`
	Headers   map[string]string `mapstructure:"headers"`
}

// MetricsConfig represents metrics configuration.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Host    string `mapstructure:"host"`
	Port    int    `mapstructure:"port"`
	Path    string `mapstructure:"path"`
}

// LoggingConfig represents logging configuration.
type LoggingConfig struct {
	Level         string `mapstructure:"level"`
	Format        string `mapstructure:"format"`
	IncludeCaller bool   `mapstructure:"include_caller"`
}

// TracingConfig represents the distributed tracing configuration.
type TracingConfig struct {
	Enabled        bool    `mapstructure:"enabled"`
	ServiceName    string  `mapstructure:"service_name"`
	ServiceVersion string  `mapstructure:"service_version"`
	Environment    string  `mapstructure:"environment"`
	SamplerType    string  `mapstructure:"sampler_type"`
	SamplerParam   float64 `mapstructure:"sampler_param"`
	ExporterType   string  `mapstructure:"exporter_type"`
	OTLPEndpoint   string  `mapstructure:"otlp_endpoint"`
	OTLPInsecure   bool    `mapstructure:"otlp_insecure"`
}
