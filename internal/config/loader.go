package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	defaultRetryAttempts        = 3
	defaultRetryInterval        = 5 * time.Second
	defaultCallTimeout          = 60 * time.Second
	defaultConnectTimeout       = 60 * time.Second
	defaultReadTimeout          = 300 * time.Second
	defaultHealthCheckTimeout   = 10 * time.Second
	defaultProbeTimeout         = 30 * time.Second
	defaultHeartbeatInterval    = 60 * time.Second
	defaultHeartbeatMultiplier  = 3.0
	defaultMaxReconnectAttempts = 3
	defaultFailureThreshold     = 5
	defaultRecoveryTimeout      = 60 * time.Second
	defaultMetricsPort          = 9090
)

// LoadConfig loads configuration from file.
func LoadConfig(configPath string) (*Config, error) {
	v := viper.New()

	// Set defaults
	setDefaults(v)

	// Set config file
	v.SetConfigFile(configPath)

	// Enable environment variable support
	v.SetEnvPrefix("MCPFLEET")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Read config file
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	// Unmarshal configuration
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	// Validate configuration
	if err := ValidateConfig(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &cfg, nil
}

// setManagerDefaults sets manager-related defaults.
func setManagerDefaults(v *viper.Viper) {
	v.SetDefault("version", 1)
	v.SetDefault("manager.tool_prefix", "mcp")
	v.SetDefault("manager.retry_attempts", defaultRetryAttempts)
	v.SetDefault("manager.retry_interval", defaultRetryInterval)
	v.SetDefault("manager.call_timeout", defaultCallTimeout)
	v.SetDefault("manager.connect_timeout", defaultConnectTimeout)
	v.SetDefault("manager.read_timeout", defaultReadTimeout)
	v.SetDefault("manager.health_check_timeout", defaultHealthCheckTimeout)
	v.SetDefault("manager.probe_timeout", defaultProbeTimeout)
	v.SetDefault("manager.auto_reconnect", true)
	v.SetDefault("manager.max_reconnect_attempts", defaultMaxReconnectAttempts)
	v.SetDefault("manager.enable_resources", true)
	v.SetDefault("manager.enable_prompts", true)
	v.SetDefault("manager.heartbeat.enabled", true)
	v.SetDefault("manager.heartbeat.interval", defaultHeartbeatInterval)
	v.SetDefault("manager.heartbeat.adaptive", true)
	v.SetDefault("manager.heartbeat.max_multiplier", defaultHeartbeatMultiplier)
	v.SetDefault("manager.circuit_breaker.failure_threshold", defaultFailureThreshold)
	v.SetDefault("manager.circuit_breaker.recovery_timeout", defaultRecoveryTimeout)
	v.SetDefault("manager.circuit_breaker.half_open_max_calls", 1)
}

// setOperationalDefaults sets operational defaults.
func setOperationalDefaults(v *viper.Viper) {
	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.host", "0.0.0.0")
	v.SetDefault("metrics.port", defaultMetricsPort)
	v.SetDefault("metrics.path", "/metrics")
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("tracing.enabled", false)
	v.SetDefault("tracing.service_name", "mcpfleet")
	v.SetDefault("tracing.sampler_type", "ratio")
	v.SetDefault("tracing.sampler_param", 1.0)
	v.SetDefault("tracing.exporter_type", "otlp")
}

func setDefaults(v *viper.Viper) {
	setManagerDefaults(v)
	setOperationalDefaults(v)
}
