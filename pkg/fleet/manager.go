package fleet

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/mcpfleet/mcpfleet/internal/config"
	customerrors "github.com/mcpfleet/mcpfleet/internal/errors"
	"github.com/mcpfleet/mcpfleet/internal/logging"
	"github.com/mcpfleet/mcpfleet/internal/metrics"
	"github.com/mcpfleet/mcpfleet/internal/tracing"
)

// uriKeyReplacer folds URI punctuation into underscores so resource keys
// stay flat identifiers.
var uriKeyReplacer = strings.NewReplacer("://", "_", "/", "_", ".", "_")

// toolEntry binds an indexed tool to its owning session. Ownership is
// carried explicitly on the entry so unregistration matches on the owner
// rather than on key-prefix parsing.
type toolEntry struct {
	info    ToolInfo
	session *Session
}

type resourceEntry struct {
	info    ResourceInfo
	session *Session
}

type promptEntry struct {
	info    PromptInfo
	session *Session
}

// Manager owns every server session plus the derived tool, resource, and
// prompt indices. One instance is shared across the application by
// explicit handoff. All index mutation is serialized by the manager
// lock; calls on different servers run fully in parallel.
type Manager struct {
	cfg      config.ManagerConfig
	logger   *zap.Logger
	registry *metrics.Registry
	httpWrap func(*http.Client) *http.Client

	// newSession builds a session for a server config. Overridable for
	// tests.
	newSession func(config.ServerConfig) *Session

	// tracer, when set, puts every tool call inside a span.
	tracer *tracing.OTelTracer

	mu        sync.RWMutex
	sessions  map[string]*Session
	tools     map[string]toolEntry
	resources map[string]resourceEntry
	prompts   map[string]promptEntry

	callbackMu     sync.Mutex
	statusCallback StatusCallback

	statsMu      sync.Mutex
	totalCalls   int64
	successCalls int64
	failedCalls  int64
	startTime    time.Time

	hbMu      sync.Mutex
	hbRunning bool
	hbCancel  context.CancelFunc
	hbDone    chan struct{}
}

// NewManager creates a manager. httpWrap, when non-nil, instruments the
// HTTP client handed to SSE and streamable transports; pass the tracer's
// client wrapper or nil.
func NewManager(cfg config.ManagerConfig, logger *zap.Logger, registry *metrics.Registry, httpWrap func(*http.Client) *http.Client) *Manager {
	m := &Manager{
		cfg:       cfg,
		logger:    logger.Named("manager"),
		registry:  registry,
		httpWrap:  httpWrap,
		sessions:  make(map[string]*Session),
		tools:     make(map[string]toolEntry),
		resources: make(map[string]resourceEntry),
		prompts:   make(map[string]promptEntry),
		startTime: time.Now(),
	}

	m.newSession = func(serverCfg config.ServerConfig) *Session {
		return NewSession(serverCfg, m.cfg, m.logger, m.registry, m.httpWrap)
	}

	return m
}

// toolKeyFor derives the global index key for a tool. Tools that already
// carry the full prefix keep their name unchanged so re-bridged servers
// do not stack prefixes.
func (m *Manager) toolKeyFor(server, tool string) string {
	qualified := fmt.Sprintf("%s_%s_", m.cfg.ToolPrefix, server)
	if strings.HasPrefix(tool, qualified) {
		return tool
	}

	return qualified + tool
}

func (m *Manager) resourceKeyFor(server, uri string) string {
	return fmt.Sprintf("%s_%s_res_%s", m.cfg.ToolPrefix, server, uriKeyReplacer.Replace(uri))
}

func (m *Manager) promptKeyFor(server, name string) string {
	return fmt.Sprintf("%s_%s_prompt_%s", m.cfg.ToolPrefix, server, name)
}

// AddServer registers a server and, when enabled, connects it with the
// configured retry policy. A duplicate name is rejected before any
// session is created. When every connect attempt fails the session
// remains registered so a later reconnect can still succeed; the error
// reports the failure.
func (m *Manager) AddServer(ctx context.Context, serverCfg config.ServerConfig) error {
	m.mu.Lock()
	if _, exists := m.sessions[serverCfg.Name]; exists {
		m.mu.Unlock()

		return customerrors.NewConfigError(
			fmt.Sprintf("server %s already exists", serverCfg.Name),
		).WithContext("server_name", serverCfg.Name)
	}

	session := m.newSession(serverCfg)
	m.sessions[serverCfg.Name] = session
	m.registry.SetServersConfigured(len(m.sessions))
	m.mu.Unlock()

	if !serverCfg.Enabled {
		m.logger.Info("server registered but disabled", zap.String("server", serverCfg.Name))

		return nil
	}

	if err := m.connectWithRetries(ctx, session); err != nil {
		m.logger.Error("server connect exhausted all attempts",
			zap.String("server", serverCfg.Name),
			zap.Int("attempts", m.cfg.RetryAttempts),
			zap.Error(err))

		return err
	}

	m.registerSession(session)
	m.probeCapabilities(ctx, session)
	m.refreshGauges()

	return nil
}

// connectWithRetries drives one session through the bounded retry loop.
// The sleep between attempts honors caller cancellation.
func (m *Manager) connectWithRetries(ctx context.Context, session *Session) error {
	var lastErr error

	for attempt := 1; attempt <= m.cfg.RetryAttempts; attempt++ {
		lastErr = session.Connect(ctx)
		if lastErr == nil {
			return nil
		}

		customerrors.RecordError(lastErr, m.registry)

		// Cancellation and config-class failures will not improve on a
		// redial; stop the loop instead of burning the remaining attempts.
		if !customerrors.IsRetryable(lastErr) {
			return lastErr
		}

		if attempt < m.cfg.RetryAttempts {
			m.logger.Warn("connect attempt failed, retrying",
				zap.String("server", session.Name()),
				zap.Int("attempt", attempt),
				zap.Int("max_attempts", m.cfg.RetryAttempts),
				zap.Duration("retry_interval", m.cfg.RetryInterval),
				zap.Error(lastErr))

			select {
			case <-ctx.Done():
				return customerrors.WrapWithType(ctx.Err(), customerrors.TypeCanceled, "connect canceled")
			case <-time.After(m.cfg.RetryInterval):
			}
		}
	}

	return lastErr
}

// registerSession publishes the session's discovered tools into the
// global index.
func (m *Manager) registerSession(session *Session) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, tool := range session.Tools() {
		key := m.toolKeyFor(session.Name(), tool.Name)
		m.tools[key] = toolEntry{info: tool, session: session}
		m.logger.Debug("tool registered", zap.String("key", key))
	}
}

// unregisterSessionLocked removes every index entry owned by the named
// server. Caller holds m.mu.
func (m *Manager) unregisterSessionLocked(serverName string) {
	for key, entry := range m.tools {
		if entry.info.Server == serverName {
			delete(m.tools, key)
		}
	}

	for key, entry := range m.resources {
		if entry.info.Server == serverName {
			delete(m.resources, key)
		}
	}

	for key, entry := range m.prompts {
		if entry.info.Server == serverName {
			delete(m.prompts, key)
		}
	}
}

// probeCapabilities runs the optional resource and prompt discovery for
// a freshly connected session.
func (m *Manager) probeCapabilities(ctx context.Context, session *Session) {
	if m.cfg.EnableResources && session.FetchResources(ctx) {
		m.registerResources(session)
	}

	if m.cfg.EnablePrompts && session.FetchPrompts(ctx) {
		m.registerPrompts(session)
	}
}

func (m *Manager) registerResources(session *Session) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, res := range session.Resources() {
		key := m.resourceKeyFor(session.Name(), res.URI)
		m.resources[key] = resourceEntry{info: res, session: session}
		m.logger.Debug("resource registered", zap.String("key", key))
	}
}

func (m *Manager) registerPrompts(session *Session) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, prompt := range session.Prompts() {
		key := m.promptKeyFor(session.Name(), prompt.Name)
		m.prompts[key] = promptEntry{info: prompt, session: session}
		m.logger.Debug("prompt registered", zap.String("key", key))
	}
}

// RemoveServer disconnects a server and deletes it together with every
// index entry it owns.
func (m *Manager) RemoveServer(name string) error {
	m.mu.Lock()
	session, ok := m.sessions[name]
	if !ok {
		m.mu.Unlock()

		return customerrors.ErrServerNotFound
	}

	m.unregisterSessionLocked(name)
	delete(m.sessions, name)
	m.registry.SetServersConfigured(len(m.sessions))
	m.mu.Unlock()

	session.Disconnect()
	m.refreshGauges()
	m.logger.Info("server removed", zap.String("server", name))

	return nil
}

// ReconnectServer tears down the named server's connection and retries
// it under the same retry policy as AddServer, re-registering its tools
// and re-probing optional capabilities on success.
func (m *Manager) ReconnectServer(ctx context.Context, name string) error {
	m.mu.Lock()
	session, ok := m.sessions[name]
	if !ok {
		m.mu.Unlock()

		return customerrors.ErrServerNotFound
	}

	m.unregisterSessionLocked(name)
	m.mu.Unlock()

	session.Disconnect()

	if err := m.connectWithRetries(ctx, session); err != nil {
		session.stats.recordReconnect(false)
		m.registry.IncrementReconnects(name, false)
		m.refreshGauges()

		return err
	}

	m.registerSession(session)
	m.probeCapabilities(ctx, session)
	session.stats.recordReconnect(true)
	m.registry.IncrementReconnects(name, true)
	m.refreshGauges()
	m.logger.Info("server reconnected", zap.String("server", name))

	return nil
}

// CallTool resolves a global tool key and delegates to the owning
// session. An unknown key is answered locally without any network
// traffic. Global call counters track every attempt.
func (m *Manager) CallTool(ctx context.Context, toolKey string, args map[string]any) CallResult {
	m.mu.RLock()
	entry, ok := m.tools[toolKey]
	m.mu.RUnlock()

	if !ok {
		return CallResult{
			Success: false,
			Error:   fmt.Sprintf("tool %s not found", toolKey),
		}
	}

	m.statsMu.Lock()
	m.totalCalls++
	m.statsMu.Unlock()

	ctx = logging.ContextWithTracing(ctx, logging.GenerateTraceID(), logging.GenerateRequestID())
	ctx = logging.ContextWithServer(ctx, entry.info.Server, entry.session.Config().Transport)
	ctx = logging.ContextWithTool(ctx, entry.info.Name)

	if m.tracer != nil {
		var span trace.Span
		ctx, span = m.tracer.StartSpan(ctx, "fleet.call_tool")
		defer span.End()

		m.tracer.SetSpanAttributes(ctx, map[string]interface{}{
			"mcp.server": entry.info.Server,
			"mcp.tool":   entry.info.Name,
		})
	}

	result := entry.session.Call(ctx, entry.info.Name, args)

	if m.tracer != nil {
		m.tracer.SetSpanAttributes(ctx, map[string]interface{}{
			"mcp.success":     result.Success,
			"mcp.duration_ms": result.DurationMS,
		})

		if !result.Success {
			m.tracer.RecordError(ctx, errors.New(result.Error))
		}
	}

	m.statsMu.Lock()
	if result.Success {
		m.successCalls++
	} else {
		m.failedCalls++
	}
	m.statsMu.Unlock()

	if !result.Success {
		callErr := customerrors.CreateCallError(entry.info.Server, entry.info.Name, errors.New(result.Error))
		customerrors.RecordError(callErr, m.registry)
		logging.LogError(ctx, m.logger, "tool call failed", callErr,
			zap.Float64("duration_ms", result.DurationMS))
	} else {
		logging.LogDebug(ctx, m.logger, "tool call completed",
			zap.Float64("duration_ms", result.DurationMS))
	}

	return result
}

// FetchResourcesForServer re-probes one server's resources and refreshes
// the resource index on success.
func (m *Manager) FetchResourcesForServer(ctx context.Context, name string) bool {
	m.mu.RLock()
	session, ok := m.sessions[name]
	m.mu.RUnlock()

	if !ok || !session.Connected() {
		return false
	}

	if !session.FetchResources(ctx) {
		return false
	}

	m.registerResources(session)
	m.refreshGauges()

	return true
}

// FetchPromptsForServer re-probes one server's prompts and refreshes the
// prompt index on success.
func (m *Manager) FetchPromptsForServer(ctx context.Context, name string) bool {
	m.mu.RLock()
	session, ok := m.sessions[name]
	m.mu.RUnlock()

	if !ok || !session.Connected() {
		return false
	}

	if !session.FetchPrompts(ctx) {
		return false
	}

	m.registerPrompts(session)
	m.refreshGauges()

	return true
}

// ReadResource reads a resource body. With a server name the call goes
// straight to that session. Without one the resource index is consulted
// first; as a last resort every connected session claiming resource
// support is tried in turn until one succeeds.
func (m *Manager) ReadResource(ctx context.Context, uri, serverName string) (string, error) {
	ctx = context.WithValue(ctx, customerrors.ContextKeyResource, uri)

	if serverName != "" {
		m.mu.RLock()
		session, ok := m.sessions[serverName]
		m.mu.RUnlock()

		if !ok {
			return "", customerrors.ErrServerNotFound
		}

		content, err := session.ReadResource(ctx, uri)
		if err != nil {
			return "", customerrors.WrapContextf(ctx, err, "read resource %s from server %s", uri, serverName)
		}

		return content, nil
	}

	m.mu.RLock()
	var owner *Session
	for _, entry := range m.resources {
		if entry.info.URI == uri {
			owner = entry.session

			break
		}
	}

	candidates := make([]*Session, 0, len(m.sessions))
	for _, session := range m.sessions {
		candidates = append(candidates, session)
	}
	m.mu.RUnlock()

	if owner != nil {
		return owner.ReadResource(ctx, uri)
	}

	// Last resort sweep. Sequential on purpose: each probe is bounded by
	// the per-call timeout and the first hit wins.
	for _, session := range candidates {
		if !session.Connected() || !session.SupportsResources() {
			continue
		}

		content, err := session.ReadResource(ctx, uri)
		if err == nil {
			return content, nil
		}
	}

	return "", customerrors.FromContext(ctx, customerrors.NewNotFoundError("resource "+uri))
}

// GetPrompt renders a prompt template. With a server name the call goes
// straight to that session; otherwise the prompt index resolves the
// owner.
func (m *Manager) GetPrompt(ctx context.Context, name string, args map[string]string, serverName string) (string, error) {
	ctx = context.WithValue(ctx, customerrors.ContextKeyPrompt, name)

	if serverName != "" {
		m.mu.RLock()
		session, ok := m.sessions[serverName]
		m.mu.RUnlock()

		if !ok {
			return "", customerrors.ErrServerNotFound
		}

		return session.GetPrompt(ctx, name, args)
	}

	m.mu.RLock()
	var owner *Session
	for _, entry := range m.prompts {
		if entry.info.Name == name {
			owner = entry.session

			break
		}
	}
	m.mu.RUnlock()

	if owner == nil {
		return "", customerrors.FromContext(ctx, customerrors.NewNotFoundError("prompt "+name))
	}

	text, err := owner.GetPrompt(ctx, name, args)
	if err != nil {
		return "", customerrors.WrapContext(ctx, err, "render prompt "+name)
	}

	return text, nil
}

// ResetCircuitBreaker forces the named server's breaker back to closed.
func (m *Manager) ResetCircuitBreaker(name string) error {
	m.mu.RLock()
	session, ok := m.sessions[name]
	m.mu.RUnlock()

	if !ok {
		return customerrors.ErrServerNotFound
	}

	session.ResetCircuitBreaker()

	return nil
}

// SetTracer enables per-call tracing. Set once during startup, before
// any calls flow.
func (m *Manager) SetTracer(tracer *tracing.OTelTracer) {
	m.tracer = tracer
}

// SetStatusCallback installs the observer notified on heartbeat-detected
// failures and reconnect attempts.
func (m *Manager) SetStatusCallback(cb StatusCallback) {
	m.callbackMu.Lock()
	defer m.callbackMu.Unlock()

	m.statusCallback = cb
}

// notifyStatusChange fires the status callback. A panicking callback is
// contained; observers cannot take the heartbeat loop down.
func (m *Manager) notifyStatusChange(server string, connected bool) {
	m.callbackMu.Lock()
	cb := m.statusCallback
	m.callbackMu.Unlock()

	if cb == nil {
		return
	}

	defer func() {
		if r := recover(); r != nil {
			m.logger.Warn("status callback panicked", zap.Any("panic", r))
		}
	}()

	cb(server, connected)
}

// Tools returns a copy of the global tool index.
func (m *Manager) Tools() map[string]ToolInfo {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make(map[string]ToolInfo, len(m.tools))
	for key, entry := range m.tools {
		out[key] = entry.info
	}

	return out
}

// Resources returns a copy of the global resource index.
func (m *Manager) Resources() map[string]ResourceInfo {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make(map[string]ResourceInfo, len(m.resources))
	for key, entry := range m.resources {
		out[key] = entry.info
	}

	return out
}

// Prompts returns a copy of the global prompt index.
func (m *Manager) Prompts() map[string]PromptInfo {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make(map[string]PromptInfo, len(m.prompts))
	for key, entry := range m.prompts {
		out[key] = entry.info
	}

	return out
}

// ConnectedServers lists servers whose sessions report a live
// connection.
func (m *Manager) ConnectedServers() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]string, 0, len(m.sessions))
	for name, session := range m.sessions {
		if session.Connected() {
			out = append(out, name)
		}
	}

	return out
}

// DisconnectedServers lists enabled servers currently without a live
// connection.
func (m *Manager) DisconnectedServers() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]string, 0, len(m.sessions))
	for name, session := range m.sessions {
		if session.Enabled() && !session.Connected() {
			out = append(out, name)
		}
	}

	return out
}

// GetStatus returns the aggregate manager view. Every value is a copy;
// callers cannot reach live state through it.
func (m *Manager) GetStatus() ManagerStatus {
	m.mu.RLock()
	defer m.mu.RUnlock()

	status := ManagerStatus{
		TotalServers:     len(m.sessions),
		TotalTools:       len(m.tools),
		TotalResources:   len(m.resources),
		TotalPrompts:     len(m.prompts),
		HeartbeatRunning: m.heartbeatRunning(),
		Servers:          make(map[string]ServerStatus, len(m.sessions)),
	}

	for name, session := range m.sessions {
		serverStatus := session.Status()
		status.Servers[name] = serverStatus

		if serverStatus.Connected {
			status.ConnectedServers++
		} else if serverStatus.Enabled {
			status.DisconnectedServers++
		}
	}

	return status
}

// GetAllStats returns global, per-server, and per-tool statistics.
func (m *Manager) GetAllStats() AllStats {
	m.mu.RLock()
	sessions := make(map[string]*Session, len(m.sessions))
	for name, session := range m.sessions {
		sessions[name] = session
	}
	m.mu.RUnlock()

	m.statsMu.Lock()
	global := GlobalStats{
		TotalCalls:   m.totalCalls,
		SuccessCalls: m.successCalls,
		FailedCalls:  m.failedCalls,
	}
	m.statsMu.Unlock()

	uptime := time.Since(m.startTime)
	global.UptimeSeconds = uptime.Seconds()
	if uptime > 0 {
		global.CallsPerMinute = float64(global.TotalCalls) / uptime.Minutes()
	}

	stats := AllStats{
		Global:  global,
		Servers: make(map[string]ServerStatsSnapshot, len(sessions)),
		Tools:   make(map[string]map[string]ToolCallStats, len(sessions)),
	}

	for name, session := range sessions {
		stats.Servers[name] = session.StatsSnapshot()

		toolStats := session.ToolStatsSnapshot()
		if len(toolStats) > 0 {
			stats.Tools[name] = toolStats
		}
	}

	return stats
}

// GetToolStats returns the statistics bucket behind one global tool key.
func (m *Manager) GetToolStats(toolKey string) (ToolCallStats, bool) {
	m.mu.RLock()
	entry, ok := m.tools[toolKey]
	m.mu.RUnlock()

	if !ok {
		return ToolCallStats{}, false
	}

	stats, ok := entry.session.ToolStatsSnapshot()[entry.info.Name]

	return stats, ok
}

// refreshGauges pushes current registry sizes into the metrics gauges.
func (m *Manager) refreshGauges() {
	m.mu.RLock()
	connected := 0
	for _, session := range m.sessions {
		if session.Connected() {
			connected++
		}
	}

	tools, resources, prompts := len(m.tools), len(m.resources), len(m.prompts)
	m.mu.RUnlock()

	m.registry.SetServersConnected(connected)
	m.registry.SetRegisteredCounts(tools, resources, prompts)
}

// Shutdown stops the heartbeat loop, waits for it, then disconnects
// every session and clears all indices.
func (m *Manager) Shutdown() {
	m.StopHeartbeat()

	m.mu.Lock()
	sessions := make([]*Session, 0, len(m.sessions))
	for _, session := range m.sessions {
		sessions = append(sessions, session)
	}

	m.sessions = make(map[string]*Session)
	m.tools = make(map[string]toolEntry)
	m.resources = make(map[string]resourceEntry)
	m.prompts = make(map[string]promptEntry)
	m.mu.Unlock()

	for _, session := range sessions {
		session.Disconnect()
	}

	m.registry.SetServersConfigured(0)
	m.registry.SetServersConnected(0)
	m.registry.SetRegisteredCounts(0, 0, 0)
	m.logger.Info("manager shut down")
}
