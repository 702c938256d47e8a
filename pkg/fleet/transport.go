package fleet

import (
	"fmt"
	"net/http"
	"os"
	"os/exec"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/mcpfleet/mcpfleet/internal/config"
)

const streamableMaxRetries = 3

// headerRoundTripper injects configured headers (auth tokens and the
// like) into every outbound request of an SSE or streamable HTTP
// transport.
type headerRoundTripper struct {
	base    http.RoundTripper
	headers map[string]string
}

func (h *headerRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	clone := req.Clone(req.Context())

	for k, v := range h.headers {
		clone.Header.Set(k, v)
	}

	return h.base.RoundTrip(clone)
}

// buildHTTPClient assembles the HTTP client shared by the SSE and
// streamable transports, layering header injection and an optional
// instrumentation wrapper over the default transport. The client
// carries no overall Timeout: the SSE and streamable transports hold
// GET streams open for the lifetime of the connection, and a wall-clock
// deadline would sever a healthy stream. The read timeout instead
// bounds how long each request may wait for response headers;
// individual operations are bounded by their per-call contexts.
func buildHTTPClient(cfg *config.ServerConfig, readTimeout time.Duration, wrap func(*http.Client) *http.Client) *http.Client {
	base := http.DefaultTransport.(*http.Transport).Clone()
	base.ResponseHeaderTimeout = readTimeout

	var rt http.RoundTripper = base

	if len(cfg.Headers) > 0 {
		rt = &headerRoundTripper{base: rt, headers: cfg.Headers}
	}

	client := &http.Client{Transport: rt}

	if wrap != nil {
		client = wrap(client)
	}

	return client
}

// buildTransport constructs the MCP transport for a server config. The
// transport kind is a closed set; validation has already rejected
// anything else, but an unknown kind still errors rather than panics.
func buildTransport(cfg *config.ServerConfig, readTimeout time.Duration, wrap func(*http.Client) *http.Client) (mcp.Transport, error) {
	switch cfg.Transport {
	case config.TransportStdio:
		cmd := exec.Command(cfg.Command, cfg.Args...)
		cmd.Env = os.Environ()

		for k, v := range cfg.Env {
			cmd.Env = append(cmd.Env, k+"="+v)
		}

		return &mcp.CommandTransport{Command: cmd}, nil

	case config.TransportSSE:
		return &mcp.SSEClientTransport{
			Endpoint:   cfg.URL,
			HTTPClient: buildHTTPClient(cfg, readTimeout, wrap),
		}, nil

	case config.TransportHTTPStream:
		return &mcp.StreamableClientTransport{
			Endpoint:   cfg.URL,
			HTTPClient: buildHTTPClient(cfg, readTimeout, wrap),
			MaxRetries: streamableMaxRetries,
		}, nil

	default:
		return nil, fmt.Errorf("unknown transport: %s", cfg.Transport)
	}
}
