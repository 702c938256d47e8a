package fleet

import (
	"sync"
	"time"
)

// ToolCallStats is a per-tool call counter snapshot.
type ToolCallStats struct {
	TotalCalls    int64      `json:"total_calls"`
	SuccessCalls  int64      `json:"success_calls"`
	FailedCalls   int64      `json:"failed_calls"`
	SuccessRate   float64    `json:"success_rate"`
	AvgDurationMS float64    `json:"avg_duration_ms"`
	LastCallTime  *time.Time `json:"last_call_time,omitempty"`
	LastError     string     `json:"last_error,omitempty"`
}

// toolStats accumulates call outcomes for one tool. Calls on the same
// session may run concurrently, so all mutation is mutex guarded.
type toolStats struct {
	mu            sync.Mutex
	totalCalls    int64
	successCalls  int64
	failedCalls   int64
	totalDuration time.Duration
	lastCall      time.Time
	lastError     string
}

func (s *toolStats) recordSuccess(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.totalCalls++
	s.successCalls++
	s.totalDuration += d
	s.lastCall = time.Now()
}

func (s *toolStats) recordFailure(errText string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.totalCalls++
	s.failedCalls++
	s.lastCall = time.Now()
	s.lastError = errText
}

// snapshot returns a copy with derived rates. Success rate is a
// percentage of total calls; the average duration only covers successful
// calls since failures often fail fast and would skew it.
func (s *toolStats) snapshot() ToolCallStats {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := ToolCallStats{
		TotalCalls:   s.totalCalls,
		SuccessCalls: s.successCalls,
		FailedCalls:  s.failedCalls,
		LastError:    s.lastError,
	}

	if s.totalCalls > 0 {
		snap.SuccessRate = float64(s.successCalls) / float64(s.totalCalls) * 100
	}

	if s.successCalls > 0 {
		snap.AvgDurationMS = float64(s.totalDuration.Milliseconds()) / float64(s.successCalls)
	}

	if !s.lastCall.IsZero() {
		last := s.lastCall
		snap.LastCallTime = &last
	}

	return snap
}

// ServerStatsSnapshot is a copy of one server's connection statistics.
type ServerStatsSnapshot struct {
	TotalConnects       int64      `json:"total_connects"`
	TotalDisconnects    int64      `json:"total_disconnects"`
	TotalReconnects     int64      `json:"total_reconnects"`
	ConsecutiveFailures int        `json:"consecutive_failures"`
	ConnectedSince      *time.Time `json:"connected_since,omitempty"`
	LastDisconnect      *time.Time `json:"last_disconnect,omitempty"`
	LastHeartbeat       *time.Time `json:"last_heartbeat,omitempty"`
}

// serverStats tracks connection-level events for one server.
type serverStats struct {
	mu                  sync.Mutex
	totalConnects       int64
	totalDisconnects    int64
	totalReconnects     int64
	consecutiveFailures int
	connectedSince      time.Time
	lastDisconnect      time.Time
	lastHeartbeat       time.Time
}

// recordConnect marks a successful connection. A fresh connection wipes
// the consecutive failure streak.
func (s *serverStats) recordConnect() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.totalConnects++
	s.consecutiveFailures = 0
	s.connectedSince = time.Now()
}

func (s *serverStats) recordDisconnect() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.totalDisconnects++
	s.lastDisconnect = time.Now()
	s.connectedSince = time.Time{}
}

// recordReconnect marks a reconnection attempt. Success clears the
// failure streak like a fresh connect; failure extends it.
func (s *serverStats) recordReconnect(success bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.totalReconnects++

	if success {
		s.consecutiveFailures = 0
		s.connectedSince = time.Now()
	} else {
		s.consecutiveFailures++
	}
}

func (s *serverStats) recordHeartbeat() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.lastHeartbeat = time.Now()
}

func (s *serverStats) getConsecutiveFailures() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.consecutiveFailures
}

func (s *serverStats) getLastHeartbeat() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.lastHeartbeat
}

func (s *serverStats) snapshot() ServerStatsSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := ServerStatsSnapshot{
		TotalConnects:       s.totalConnects,
		TotalDisconnects:    s.totalDisconnects,
		TotalReconnects:     s.totalReconnects,
		ConsecutiveFailures: s.consecutiveFailures,
	}

	if !s.connectedSince.IsZero() {
		since := s.connectedSince
		snap.ConnectedSince = &since
	}

	if !s.lastDisconnect.IsZero() {
		d := s.lastDisconnect
		snap.LastDisconnect = &d
	}

	if !s.lastHeartbeat.IsZero() {
		hb := s.lastHeartbeat
		snap.LastHeartbeat = &hb
	}

	return snap
}
