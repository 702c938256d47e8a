package fleet

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap/zaptest"

	"github.com/mcpfleet/mcpfleet/internal/config"
	"github.com/mcpfleet/mcpfleet/internal/metrics"
)

// fakeConn is a scriptable rpc implementation.
type fakeConn struct {
	mu sync.Mutex

	tools     []*mcp.Tool
	resources []*mcp.Resource
	prompts   []*mcp.Prompt

	listToolsErr     error
	listResourcesErr error
	listPromptsErr   error

	callResult *mcp.CallToolResult
	callErr    error

	readResult *mcp.ReadResourceResult
	readErr    error

	promptResult *mcp.GetPromptResult
	promptErr    error

	listCount int
	callCount int
	closed    bool
}

func (f *fakeConn) ListTools(_ context.Context, _ *mcp.ListToolsParams) (*mcp.ListToolsResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.listCount++

	if f.listToolsErr != nil {
		return nil, f.listToolsErr
	}

	return &mcp.ListToolsResult{Tools: f.tools}, nil
}

func (f *fakeConn) CallTool(_ context.Context, _ *mcp.CallToolParams) (*mcp.CallToolResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.callCount++

	if f.callErr != nil {
		return nil, f.callErr
	}

	if f.callResult != nil {
		return f.callResult, nil
	}

	return &mcp.CallToolResult{}, nil
}

func (f *fakeConn) ListResources(_ context.Context, _ *mcp.ListResourcesParams) (*mcp.ListResourcesResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.listResourcesErr != nil {
		return nil, f.listResourcesErr
	}

	return &mcp.ListResourcesResult{Resources: f.resources}, nil
}

func (f *fakeConn) ReadResource(_ context.Context, _ *mcp.ReadResourceParams) (*mcp.ReadResourceResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.readErr != nil {
		return nil, f.readErr
	}

	if f.readResult != nil {
		return f.readResult, nil
	}

	return &mcp.ReadResourceResult{}, nil
}

func (f *fakeConn) ListPrompts(_ context.Context, _ *mcp.ListPromptsParams) (*mcp.ListPromptsResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.listPromptsErr != nil {
		return nil, f.listPromptsErr
	}

	return &mcp.ListPromptsResult{Prompts: f.prompts}, nil
}

func (f *fakeConn) GetPrompt(_ context.Context, _ *mcp.GetPromptParams) (*mcp.GetPromptResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.promptErr != nil {
		return nil, f.promptErr
	}

	if f.promptResult != nil {
		return f.promptResult, nil
	}

	return &mcp.GetPromptResult{}, nil
}

func (f *fakeConn) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.closed = true

	return nil
}

func (f *fakeConn) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.callCount
}

func (f *fakeConn) listCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.listCount
}

func (f *fakeConn) setListToolsErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.listToolsErr = err
}

func (f *fakeConn) setCallErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.callErr = err
}

func (f *fakeConn) wasClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.closed
}

// dialScript drives the session dial seam: it pops errors off the queue
// until empty, then hands out the fake connection.
type dialScript struct {
	mu    sync.Mutex
	errs  []error
	conn  *fakeConn
	dials int
}

func (d *dialScript) dial(_ context.Context) (rpc, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.dials++

	if len(d.errs) > 0 {
		err := d.errs[0]
		d.errs = d.errs[1:]

		return nil, err
	}

	return d.conn, nil
}

func (d *dialScript) dialCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()

	return d.dials
}

func testManagerConfig() config.ManagerConfig {
	return config.ManagerConfig{
		ToolPrefix:           "mcp",
		RetryAttempts:        3,
		RetryInterval:        5 * time.Millisecond,
		CallTimeout:          2 * time.Second,
		ConnectTimeout:       2 * time.Second,
		ReadTimeout:          2 * time.Second,
		HealthCheckTimeout:   2 * time.Second,
		ProbeTimeout:         2 * time.Second,
		AutoReconnect:        true,
		MaxReconnectAttempts: 3,
		EnableResources:      false,
		EnablePrompts:        false,
		Heartbeat: config.HeartbeatConfig{
			Enabled:       true,
			Interval:      60 * time.Second,
			Adaptive:      true,
			MaxMultiplier: 3.0,
		},
		CircuitBreaker: config.CircuitBreakerConfig{
			FailureThreshold: 5,
			RecoveryTimeout:  60 * time.Second,
			HalfOpenMaxCalls: 1,
		},
	}
}

func testServerConfig(name string) config.ServerConfig {
	return config.ServerConfig{
		Name:      name,
		Enabled:   true,
		Transport: config.TransportStdio,
		Command:   "mcp-server-" + name,
	}
}

// newTestSession wires a session to a scripted dial.
func newTestSession(t *testing.T, name string, script *dialScript) *Session {
	t.Helper()

	session := NewSession(testServerConfig(name), testManagerConfig(),
		zaptest.NewLogger(t), metrics.InitializeMetricsRegistry(), nil)
	session.dial = script.dial

	return session
}

// newTestManager wires a manager whose sessions all dial through
// per-server scripts.
func newTestManager(t *testing.T, cfg config.ManagerConfig, scripts map[string]*dialScript) *Manager {
	t.Helper()

	m := NewManager(cfg, zaptest.NewLogger(t), metrics.InitializeMetricsRegistry(), nil)
	m.newSession = func(serverCfg config.ServerConfig) *Session {
		session := NewSession(serverCfg, cfg, zaptest.NewLogger(t), m.registry, nil)
		if script, ok := scripts[serverCfg.Name]; ok {
			session.dial = script.dial
		}

		return session
	}

	return m
}

func connectedTestSession(t *testing.T, name string, conn *fakeConn) *Session {
	t.Helper()

	session := newTestSession(t, name, &dialScript{conn: conn})
	if err := session.Connect(context.Background()); err != nil {
		t.Fatalf("connect failed: %v", err)
	}

	return session
}
