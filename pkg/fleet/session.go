package fleet

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"

	"github.com/mcpfleet/mcpfleet/internal/config"
	customerrors "github.com/mcpfleet/mcpfleet/internal/errors"
	"github.com/mcpfleet/mcpfleet/internal/metrics"
	"github.com/mcpfleet/mcpfleet/pkg/circuit"
)

// rpc is the slice of the MCP client session the fleet session depends
// on. *mcp.ClientSession satisfies it; tests substitute fakes.
type rpc interface {
	ListTools(ctx context.Context, params *mcp.ListToolsParams) (*mcp.ListToolsResult, error)
	CallTool(ctx context.Context, params *mcp.CallToolParams) (*mcp.CallToolResult, error)
	ListResources(ctx context.Context, params *mcp.ListResourcesParams) (*mcp.ListResourcesResult, error)
	ReadResource(ctx context.Context, params *mcp.ReadResourceParams) (*mcp.ReadResourceResult, error)
	ListPrompts(ctx context.Context, params *mcp.ListPromptsParams) (*mcp.ListPromptsResult, error)
	GetPrompt(ctx context.Context, params *mcp.GetPromptParams) (*mcp.GetPromptResult, error)
	Close() error
}

// Session owns one logical server connection end to end: transport
// lifecycle, capability discovery, call path, circuit breaker, and
// statistics. It survives disconnect/reconnect cycles and is destroyed
// only when its server is removed from the manager.
type Session struct {
	cfg    config.ServerConfig
	mgrCfg config.ManagerConfig

	logger   *zap.Logger
	registry *metrics.Registry
	breaker  *circuit.Breaker

	// dial establishes the physical connection. Overridable for tests.
	dial func(ctx context.Context) (rpc, error)

	// lifecycleMu serializes connect/disconnect/cleanup so two
	// concurrent reconnect attempts cannot race.
	lifecycleMu sync.Mutex

	// stateMu guards everything below it.
	stateMu           sync.RWMutex
	conn              rpc
	connected         bool
	tools             []ToolInfo
	resources         []ResourceInfo
	prompts           []PromptInfo
	supportsResources bool
	supportsPrompts   bool
	heartbeatInterval time.Duration

	stats     *serverStats
	toolStats map[string]*toolStats
	toolMu    sync.Mutex
}

// NewSession creates a session for a server config. The session starts
// disconnected; the manager drives Connect.
func NewSession(cfg config.ServerConfig, mgrCfg config.ManagerConfig, logger *zap.Logger, registry *metrics.Registry, httpWrap func(*http.Client) *http.Client) *Session {
	s := &Session{
		cfg:    cfg,
		mgrCfg: mgrCfg,
		logger: logger.With(
			zap.String("server", cfg.Name),
			zap.String("transport", cfg.Transport),
		),
		registry: registry,
		breaker: circuit.NewBreaker(circuit.Config{
			FailureThreshold: mgrCfg.CircuitBreaker.FailureThreshold,
			RecoveryTimeout:  mgrCfg.CircuitBreaker.RecoveryTimeout,
			HalfOpenMaxCalls: mgrCfg.CircuitBreaker.HalfOpenMaxCalls,
		}),
		heartbeatInterval: mgrCfg.Heartbeat.Interval,
		stats:             &serverStats{},
		toolStats:         make(map[string]*toolStats),
	}

	s.dial = func(ctx context.Context) (rpc, error) {
		transport, err := buildTransport(&s.cfg, s.mgrCfg.ReadTimeout, httpWrap)
		if err != nil {
			return nil, err
		}

		client := mcp.NewClient(&mcp.Implementation{
			Name:    "mcpfleet",
			Version: "1.0.0",
		}, &mcp.ClientOptions{})

		return client.Connect(ctx, transport, nil)
	}

	return s
}

// Name returns the configured server name.
func (s *Session) Name() string {
	return s.cfg.Name
}

// Config returns a copy of the server config.
func (s *Session) Config() config.ServerConfig {
	return s.cfg
}

// Enabled reports whether the server is enabled.
func (s *Session) Enabled() bool {
	return s.cfg.Enabled
}

// Connected reports whether the session believes its connection is live.
func (s *Session) Connected() bool {
	s.stateMu.RLock()
	defer s.stateMu.RUnlock()

	return s.connected
}

// Connect establishes the physical connection, runs the handshake, and
// discovers the server's tools. Returns nil immediately if already
// connected. Never panics; all failure paths release partially acquired
// resources and return an error.
func (s *Session) Connect(ctx context.Context) error {
	s.lifecycleMu.Lock()
	defer s.lifecycleMu.Unlock()

	if s.Connected() {
		return nil
	}

	connectCtx, cancel := context.WithTimeout(ctx, s.mgrCfg.ConnectTimeout)
	defer cancel()

	conn, err := s.dial(connectCtx)
	if err != nil {
		s.cleanupLocked()
		s.registry.IncrementConnects(s.cfg.Name, false)

		return s.classifyConnectError(err)
	}

	tools, err := s.discoverTools(connectCtx, conn)
	if err != nil {
		// The handshake succeeded but tool discovery did not; release
		// the half-built connection before reporting failure.
		closeQuietly(conn, s.logger)
		s.cleanupLocked()
		s.registry.IncrementConnects(s.cfg.Name, false)

		return customerrors.CreateConnectionError(s.cfg.Name, s.cfg.Transport, "tool discovery failed", err)
	}

	s.stateMu.Lock()
	s.conn = conn
	s.connected = true
	s.tools = tools
	s.stateMu.Unlock()

	s.stats.recordConnect()
	s.breaker.Reset()
	s.registry.IncrementConnects(s.cfg.Name, true)
	s.registry.SetCircuitBreakerState(s.cfg.Name, s.breaker.GetStateFloat())

	s.logger.Info("connected", zap.Int("tools", len(tools)))

	return nil
}

// classifyConnectError maps a dial failure onto the error taxonomy. A
// canceled context is not retryable; retry loops must stop rather than
// redial against a context that will never succeed.
func (s *Session) classifyConnectError(err error) error {
	switch {
	case errors.Is(err, context.Canceled):
		return customerrors.WrapWithType(err, customerrors.TypeCanceled, "connect canceled").
			WithComponent("session").
			WithContext("server_name", s.cfg.Name)
	case errors.Is(err, context.DeadlineExceeded):
		return customerrors.CreateConnectionTimeoutError(s.cfg.Name, s.mgrCfg.ConnectTimeout)
	default:
		return customerrors.CreateConnectionError(s.cfg.Name, s.cfg.Transport, "connect failed", err)
	}
}

// discoverTools fetches the tool list from a fresh connection.
func (s *Session) discoverTools(ctx context.Context, conn rpc) ([]ToolInfo, error) {
	result, err := conn.ListTools(ctx, &mcp.ListToolsParams{})
	if err != nil {
		return nil, err
	}

	tools := make([]ToolInfo, 0, len(result.Tools))
	for _, tool := range result.Tools {
		tools = append(tools, ToolInfo{
			Name:        tool.Name,
			Description: tool.Description,
			InputSchema: tool.InputSchema,
			Server:      s.cfg.Name,
		})
	}

	return tools, nil
}

// Disconnect tears the connection down. Idempotent; every release step
// runs independently so one failure cannot short-circuit the rest.
func (s *Session) Disconnect() {
	s.lifecycleMu.Lock()
	defer s.lifecycleMu.Unlock()

	s.stateMu.RLock()
	wasConnected := s.connected
	s.stateMu.RUnlock()

	s.cleanupLocked()

	if wasConnected {
		s.stats.recordDisconnect()
		s.registry.IncrementDisconnects(s.cfg.Name)
	}
}

// cleanupLocked releases the transport handle and clears capability
// state. Callers hold lifecycleMu.
func (s *Session) cleanupLocked() {
	s.stateMu.Lock()
	conn := s.conn
	s.conn = nil
	s.connected = false
	s.tools = nil
	s.resources = nil
	s.prompts = nil
	s.supportsResources = false
	s.supportsPrompts = false
	s.stateMu.Unlock()

	if conn != nil {
		closeQuietly(conn, s.logger)
	}
}

// closeQuietly closes a connection, logging rather than propagating any
// release failure.
func closeQuietly(conn rpc, logger *zap.Logger) {
	defer func() {
		if r := recover(); r != nil {
			logger.Warn("panic during connection close", zap.Any("panic", r))
		}
	}()

	if err := conn.Close(); err != nil {
		logger.Debug("connection close failed", zap.Error(err))
	}
}

// Call issues one tool call. It never returns an error; every failure
// mode is folded into the CallResult. The circuit breaker is consulted
// before any I/O, and call failures feed back into it.
func (s *Session) Call(ctx context.Context, toolName string, args map[string]any) CallResult {
	allowed, reason := s.breaker.CanExecute()
	if !allowed {
		openErr := customerrors.CreateCircuitOpenError(s.cfg.Name, reason)
		s.logger.Debug("call rejected by circuit breaker",
			zap.String("tool", toolName),
			zap.Error(openErr))

		return CallResult{
			Success:       false,
			Error:         reason,
			CircuitBroken: true,
		}
	}

	if s.breaker.GetState() == circuit.StateHalfOpen {
		s.breaker.MarkHalfOpenCall()
	}

	stats := s.statsForTool(toolName)

	s.stateMu.RLock()
	conn := s.conn
	connected := s.connected
	s.stateMu.RUnlock()

	if !connected || conn == nil {
		stats.recordFailure("not connected")
		s.recordCallFailure(toolName)

		return CallResult{
			Success: false,
			Error:   fmt.Sprintf("server %s is not connected", s.cfg.Name),
		}
	}

	callCtx, cancel := context.WithTimeout(ctx, s.mgrCfg.CallTimeout)
	defer cancel()

	s.registry.IncrementCallsInFlight()
	start := time.Now()

	result, err := conn.CallTool(callCtx, &mcp.CallToolParams{
		Name:      toolName,
		Arguments: args,
	})

	elapsed := time.Since(start)
	s.registry.DecrementCallsInFlight()
	s.registry.RecordToolCallDuration(s.cfg.Name, toolName, elapsed)

	if err != nil {
		// A call that ran out its deadline reports the configured timeout
		// rather than the raw context error.
		if errors.Is(err, context.DeadlineExceeded) {
			err = customerrors.CreateCallTimeoutError(s.cfg.Name, toolName, s.mgrCfg.CallTimeout)
		}

		stats.recordFailure(err.Error())
		s.recordCallFailure(toolName)
		s.handlePossibleDisconnect(err)

		return CallResult{
			Success:    false,
			Error:      err.Error(),
			DurationMS: float64(elapsed.Milliseconds()),
		}
	}

	content := flattenContent(result.Content)

	if result.IsError {
		stats.recordFailure(content)
		s.recordCallFailure(toolName)

		return CallResult{
			Success:    false,
			Error:      content,
			DurationMS: float64(elapsed.Milliseconds()),
		}
	}

	stats.recordSuccess(elapsed)
	s.breaker.RecordSuccess()
	s.registry.IncrementToolCalls(s.cfg.Name, toolName, true)
	s.registry.SetCircuitBreakerState(s.cfg.Name, s.breaker.GetStateFloat())

	return CallResult{
		Success:    true,
		Content:    content,
		DurationMS: float64(elapsed.Milliseconds()),
	}
}

// recordCallFailure feeds one failure into the breaker and metrics.
func (s *Session) recordCallFailure(toolName string) {
	s.breaker.RecordFailure()
	s.registry.IncrementToolCalls(s.cfg.Name, toolName, false)
	s.registry.SetCircuitBreakerState(s.cfg.Name, s.breaker.GetStateFloat())
}

// handlePossibleDisconnect flips the session to disconnected when a call
// error indicates the transport itself died. This is the only path by
// which the heartbeat loop learns about a mid-call death before its next
// tick.
func (s *Session) handlePossibleDisconnect(err error) {
	if !customerrors.IsDisconnect(err) {
		return
	}

	s.stateMu.Lock()
	wasConnected := s.connected
	s.connected = false
	s.stateMu.Unlock()

	if wasConnected {
		s.stats.recordDisconnect()
		s.registry.IncrementDisconnects(s.cfg.Name)
		s.logger.Warn("connection lost during call", zap.Error(err))
	}
}

// flattenContent folds MCP content blocks into a single string. Text
// blocks pass through; binary blocks are summarized by byte count since
// the payload is opaque; anything else is rendered by type name.
func flattenContent(blocks []mcp.Content) string {
	parts := make([]string, 0, len(blocks))

	for _, block := range blocks {
		switch c := block.(type) {
		case *mcp.TextContent:
			parts = append(parts, c.Text)
		case *mcp.ImageContent:
			parts = append(parts, fmt.Sprintf("[binary: %d bytes]", len(c.Data)))
		case *mcp.AudioContent:
			parts = append(parts, fmt.Sprintf("[binary: %d bytes]", len(c.Data)))
		default:
			parts = append(parts, fmt.Sprintf("[%T]", block))
		}
	}

	return strings.Join(parts, "\n")
}

// FetchResources probes the server's resource capability. A server not
// supporting resources is a normal outcome: the support flag clears and
// the probe returns false without raising. Any other failure logs a
// warning and also returns false.
func (s *Session) FetchResources(ctx context.Context) bool {
	s.stateMu.RLock()
	conn := s.conn
	connected := s.connected
	s.stateMu.RUnlock()

	if !connected || conn == nil {
		return false
	}

	probeCtx, cancel := context.WithTimeout(ctx, s.mgrCfg.ProbeTimeout)
	defer cancel()

	result, err := conn.ListResources(probeCtx, &mcp.ListResourcesParams{})
	if err != nil {
		s.setResources(nil, false)

		if customerrors.IsUnsupported(err) {
			s.logger.Debug("resources not supported",
				zap.Error(customerrors.CreateCapabilityError(s.cfg.Name, "resources")))
		} else {
			s.logger.Warn("resource probe failed", zap.Error(err))
		}

		return false
	}

	resources := make([]ResourceInfo, 0, len(result.Resources))
	for _, res := range result.Resources {
		resources = append(resources, ResourceInfo{
			URI:         res.URI,
			Name:        res.Name,
			Description: res.Description,
			MIMEType:    res.MIMEType,
			Server:      s.cfg.Name,
		})
	}

	s.setResources(resources, true)
	s.logger.Debug("resources discovered", zap.Int("count", len(resources)))

	return true
}

func (s *Session) setResources(resources []ResourceInfo, supported bool) {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()

	s.resources = resources
	s.supportsResources = supported
}

// FetchPrompts probes the server's prompt capability with the same
// semantics as FetchResources.
func (s *Session) FetchPrompts(ctx context.Context) bool {
	s.stateMu.RLock()
	conn := s.conn
	connected := s.connected
	s.stateMu.RUnlock()

	if !connected || conn == nil {
		return false
	}

	probeCtx, cancel := context.WithTimeout(ctx, s.mgrCfg.ProbeTimeout)
	defer cancel()

	result, err := conn.ListPrompts(probeCtx, &mcp.ListPromptsParams{})
	if err != nil {
		s.setPrompts(nil, false)

		if customerrors.IsUnsupported(err) {
			s.logger.Debug("prompts not supported",
				zap.Error(customerrors.CreateCapabilityError(s.cfg.Name, "prompts")))
		} else {
			s.logger.Warn("prompt probe failed", zap.Error(err))
		}

		return false
	}

	prompts := make([]PromptInfo, 0, len(result.Prompts))
	for _, p := range result.Prompts {
		prompts = append(prompts, PromptInfo{
			Name:        p.Name,
			Description: p.Description,
			Server:      s.cfg.Name,
		})
	}

	s.setPrompts(prompts, true)
	s.logger.Debug("prompts discovered", zap.Int("count", len(prompts)))

	return true
}

func (s *Session) setPrompts(prompts []PromptInfo, supported bool) {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()

	s.prompts = prompts
	s.supportsPrompts = supported
}

// ReadResource reads one resource body. Unlike tool calls this surfaces
// errors directly; the caller decides whether to fall back to another
// server.
func (s *Session) ReadResource(ctx context.Context, uri string) (string, error) {
	s.stateMu.RLock()
	conn := s.conn
	connected := s.connected
	s.stateMu.RUnlock()

	if !connected || conn == nil {
		return "", customerrors.CreateNotConnectedError(s.cfg.Name)
	}

	readCtx, cancel := context.WithTimeout(ctx, s.mgrCfg.CallTimeout)
	defer cancel()

	result, err := conn.ReadResource(readCtx, &mcp.ReadResourceParams{URI: uri})
	if err != nil {
		s.registry.IncrementResourceReads(s.cfg.Name, false)

		return "", customerrors.WrapWithType(err, customerrors.TypeCall, "resource read failed").
			WithContext("server_name", s.cfg.Name).
			WithContext("uri", uri)
	}

	parts := make([]string, 0, len(result.Contents))
	for _, content := range result.Contents {
		if content.Text != "" {
			parts = append(parts, content.Text)
		}
	}

	s.registry.IncrementResourceReads(s.cfg.Name, true)

	return strings.Join(parts, "\n"), nil
}

// GetPrompt renders one prompt template. Message contents are flattened
// to "[role]: text" lines.
func (s *Session) GetPrompt(ctx context.Context, name string, args map[string]string) (string, error) {
	s.stateMu.RLock()
	conn := s.conn
	connected := s.connected
	s.stateMu.RUnlock()

	if !connected || conn == nil {
		return "", customerrors.CreateNotConnectedError(s.cfg.Name)
	}

	getCtx, cancel := context.WithTimeout(ctx, s.mgrCfg.CallTimeout)
	defer cancel()

	result, err := conn.GetPrompt(getCtx, &mcp.GetPromptParams{
		Name:      name,
		Arguments: args,
	})
	if err != nil {
		s.registry.IncrementPromptGets(s.cfg.Name, false)

		return "", customerrors.WrapWithType(err, customerrors.TypeCall, "prompt fetch failed").
			WithContext("server_name", s.cfg.Name).
			WithContext("prompt", name)
	}

	parts := make([]string, 0, len(result.Messages))

	for _, msg := range result.Messages {
		if text, ok := msg.Content.(*mcp.TextContent); ok {
			parts = append(parts, fmt.Sprintf("[%s]: %s", msg.Role, text.Text))
		}
	}

	s.registry.IncrementPromptGets(s.cfg.Name, true)

	return strings.Join(parts, "\n"), nil
}

// CheckHealth issues a liveness probe under a short timeout. Success
// stamps the heartbeat timestamp; failure flips the session to
// disconnected. Reconnection is the caller's job.
func (s *Session) CheckHealth(ctx context.Context) bool {
	s.stateMu.RLock()
	conn := s.conn
	connected := s.connected
	s.stateMu.RUnlock()

	if !connected || conn == nil {
		return false
	}

	healthCtx, cancel := context.WithTimeout(ctx, s.mgrCfg.HealthCheckTimeout)
	defer cancel()

	// Liveness is probed with a tool-list query, not a ping; the result is
	// discarded.
	if _, err := conn.ListTools(healthCtx, &mcp.ListToolsParams{}); err != nil {
		s.registry.IncrementHeartbeats(s.cfg.Name, false)

		s.stateMu.Lock()
		wasConnected := s.connected
		s.connected = false
		s.stateMu.Unlock()

		if wasConnected {
			s.stats.recordDisconnect()
			s.registry.IncrementDisconnects(s.cfg.Name)
		}

		s.logger.Warn("health check failed", zap.Error(err))

		return false
	}

	s.stats.recordHeartbeat()
	s.registry.IncrementHeartbeats(s.cfg.Name, true)

	return true
}

// statsForTool returns the stats bucket for a tool, creating it on first
// use.
func (s *Session) statsForTool(name string) *toolStats {
	s.toolMu.Lock()
	defer s.toolMu.Unlock()

	stats, ok := s.toolStats[name]
	if !ok {
		stats = &toolStats{}
		s.toolStats[name] = stats
	}

	return stats
}

// Tools returns a copy of the discovered tool list.
func (s *Session) Tools() []ToolInfo {
	s.stateMu.RLock()
	defer s.stateMu.RUnlock()

	out := make([]ToolInfo, len(s.tools))
	copy(out, s.tools)

	return out
}

// Resources returns a copy of the discovered resource list.
func (s *Session) Resources() []ResourceInfo {
	s.stateMu.RLock()
	defer s.stateMu.RUnlock()

	out := make([]ResourceInfo, len(s.resources))
	copy(out, s.resources)

	return out
}

// Prompts returns a copy of the discovered prompt list.
func (s *Session) Prompts() []PromptInfo {
	s.stateMu.RLock()
	defer s.stateMu.RUnlock()

	out := make([]PromptInfo, len(s.prompts))
	copy(out, s.prompts)

	return out
}

// SupportsResources reports the last resource-probe outcome.
func (s *Session) SupportsResources() bool {
	s.stateMu.RLock()
	defer s.stateMu.RUnlock()

	return s.supportsResources
}

// SupportsPrompts reports the last prompt-probe outcome.
func (s *Session) SupportsPrompts() bool {
	s.stateMu.RLock()
	defer s.stateMu.RUnlock()

	return s.supportsPrompts
}

// HeartbeatInterval returns the session's current adaptive interval.
func (s *Session) HeartbeatInterval() time.Duration {
	s.stateMu.RLock()
	defer s.stateMu.RUnlock()

	return s.heartbeatInterval
}

// SetHeartbeatInterval updates the session's adaptive interval. Only the
// heartbeat loop calls this.
func (s *Session) SetHeartbeatInterval(d time.Duration) {
	s.stateMu.Lock()
	s.heartbeatInterval = d
	s.stateMu.Unlock()

	s.registry.SetHeartbeatInterval(s.cfg.Name, d)
}

// ResetCircuitBreaker forces the session's breaker back to closed.
func (s *Session) ResetCircuitBreaker() {
	s.breaker.Reset()
	s.registry.SetCircuitBreakerState(s.cfg.Name, s.breaker.GetStateFloat())
}

// Status returns a point-in-time snapshot for external observers.
func (s *Session) Status() ServerStatus {
	s.stateMu.RLock()
	defer s.stateMu.RUnlock()

	return ServerStatus{
		Name:                 s.cfg.Name,
		Transport:            s.cfg.Transport,
		Enabled:              s.cfg.Enabled,
		Connected:            s.connected,
		ToolCount:            len(s.tools),
		SupportsResources:    s.supportsResources,
		SupportsPrompts:      s.supportsPrompts,
		ConsecutiveFailures:  s.stats.getConsecutiveFailures(),
		HeartbeatIntervalSec: s.heartbeatInterval.Seconds(),
		CircuitBreaker:       s.breaker.GetStatus(),
	}
}

// StatsSnapshot returns a copy of the session's connection statistics.
func (s *Session) StatsSnapshot() ServerStatsSnapshot {
	return s.stats.snapshot()
}

// ToolStatsSnapshot returns per-tool call statistics.
func (s *Session) ToolStatsSnapshot() map[string]ToolCallStats {
	s.toolMu.Lock()
	defer s.toolMu.Unlock()

	out := make(map[string]ToolCallStats, len(s.toolStats))
	for name, stats := range s.toolStats {
		out[name] = stats.snapshot()
	}

	return out
}
