package config

import (
	"fmt"
	"net/url"
	"strings"

	customerrors "github.com/mcpfleet/mcpfleet/internal/errors"
)

// ValidateConfig validates the entire configuration.
func ValidateConfig(config *Config) error {
	if err := validateBasicConfig(config); err != nil {
		return err
	}

	if err := validateManagerConfig(&config.Manager); err != nil {
		return customerrors.Wrap(err, "invalid manager configuration").
			WithComponent("config")
	}

	return validateServers(config.Servers)
}

// validateBasicConfig validates basic configuration parameters.
func validateBasicConfig(config *Config) error {
	if config == nil {
		return customerrors.NewConfigError("config cannot be nil").
			WithComponent("config")
	}

	// Validate version
	if config.Version != 1 {
		return customerrors.NewConfigError(fmt.Sprintf("unsupported config version: %d", config.Version)).
			WithComponent("config").
			WithContext("version", config.Version)
	}

	return nil
}

// validateManagerConfig validates manager-level settings.
func validateManagerConfig(mgr *ManagerConfig) error {
	if mgr.RetryAttempts < 1 {
		return customerrors.NewConfigError("retry_attempts must be at least 1")
	}

	if mgr.CallTimeout <= 0 {
		return customerrors.NewConfigError("call_timeout must be positive")
	}

	if mgr.Heartbeat.Enabled && mgr.Heartbeat.Interval <= 0 {
		return customerrors.NewConfigError("heartbeat interval must be positive when enabled")
	}

	if mgr.Heartbeat.Adaptive && mgr.Heartbeat.MaxMultiplier < 1 {
		return customerrors.NewConfigError("heartbeat max_multiplier must be at least 1")
	}

	return nil
}

// validateServers validates every server entry and rejects duplicate names.
func validateServers(servers []ServerConfig) error {
	seen := make(map[string]struct{}, len(servers))

	for i := range servers {
		srv := &servers[i]

		if err := ValidateServerConfig(srv); err != nil {
			return customerrors.Wrapf(err, "invalid server configuration %q", srv.Name).
				WithComponent("config")
		}

		if _, dup := seen[srv.Name]; dup {
			return customerrors.NewConfigError("duplicate server name: " + srv.Name).
				WithComponent("config").
				WithContext("server_name", srv.Name)
		}

		seen[srv.Name] = struct{}{}
	}

	return nil
}

// ValidateServerConfig validates a single server registration.
func ValidateServerConfig(srv *ServerConfig) error {
	if srv.Name == "" {
		return customerrors.NewConfigError("server name is required")
	}

	switch srv.Transport {
	case TransportStdio:
		if strings.TrimSpace(srv.Command) == "" {
			return customerrors.NewConfigError("stdio transport requires a command").
				WithContext("server_name", srv.Name)
		}

	case TransportSSE, TransportHTTPStream:
		if srv.URL == "" {
			return customerrors.NewConfigError(srv.Transport + " transport requires a url").
				WithContext("server_name", srv.Name)
		}

		parsed, err := url.Parse(srv.URL)
		if err != nil || parsed.Scheme == "" || parsed.Host == "" {
			return customerrors.NewConfigError("invalid server url: " + srv.URL).
				WithContext("server_name", srv.Name)
		}

	default:
		return customerrors.NewConfigError("unknown transport: " + srv.Transport).
			WithContext("server_name", srv.Name)
	}

	return nil
}
