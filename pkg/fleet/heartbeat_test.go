package fleet

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHeartbeatIntervalFloor(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		base time.Duration
		want time.Duration
	}{
		{"half base above minimum", 120 * time.Second, 60 * time.Second},
		{"clamped to minimum", 40 * time.Second, 30 * time.Second},
		{"default base", 60 * time.Second, 30 * time.Second},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := heartbeatIntervalFloor(tt.base); got != tt.want {
				t.Errorf("heartbeatIntervalFloor(%v) = %v, want %v", tt.base, got, tt.want)
			}
		})
	}
}

func TestHeartbeatIntervalCeiling(t *testing.T) {
	t.Parallel()

	if got := heartbeatIntervalCeiling(60*time.Second, 3.0); got != 180*time.Second {
		t.Errorf("ceiling = %v, want 180s", got)
	}
}

// markHeartbeatDue backdates a session's last heartbeat so the next tick
// considers it due.
func markHeartbeatDue(session *Session) {
	session.stats.mu.Lock()
	session.stats.lastHeartbeat = time.Now().Add(-24 * time.Hour)
	session.stats.mu.Unlock()
}

func TestCheckSessionWidensIntervalWhenStable(t *testing.T) {
	t.Parallel()

	conn := &fakeConn{}
	m := newTestManager(t, testManagerConfig(), map[string]*dialScript{
		"math": {conn: conn},
	})
	require.NoError(t, m.AddServer(context.Background(), testServerConfig("math")))

	m.mu.RLock()
	session := m.sessions["math"]
	m.mu.RUnlock()

	m.checkSession(context.Background(), session)
	assert.Equal(t, 72*time.Second, session.HeartbeatInterval())

	// Repeated healthy checks keep widening but never pass the ceiling.
	for i := 0; i < 20; i++ {
		markHeartbeatDue(session)
		m.checkSession(context.Background(), session)
	}

	assert.Equal(t, 180*time.Second, session.HeartbeatInterval())
}

func TestCheckSessionSkipsWhenNotDue(t *testing.T) {
	t.Parallel()

	conn := &fakeConn{}
	m := newTestManager(t, testManagerConfig(), map[string]*dialScript{
		"math": {conn: conn},
	})
	require.NoError(t, m.AddServer(context.Background(), testServerConfig("math")))

	m.mu.RLock()
	session := m.sessions["math"]
	m.mu.RUnlock()

	require.True(t, session.CheckHealth(context.Background()))
	before := conn.listCalls()

	m.checkSession(context.Background(), session)

	if got := conn.listCalls(); got != before {
		t.Errorf("check fired before 90%% of the interval elapsed: %d -> %d", before, got)
	}
}

func TestCheckSessionFailureResetsInterval(t *testing.T) {
	t.Parallel()

	conn := &fakeConn{}

	cfg := testManagerConfig()
	cfg.AutoReconnect = false

	m := newTestManager(t, cfg, map[string]*dialScript{"math": {conn: conn}})
	require.NoError(t, m.AddServer(context.Background(), testServerConfig("math")))

	m.mu.RLock()
	session := m.sessions["math"]
	m.mu.RUnlock()

	session.SetHeartbeatInterval(150 * time.Second)

	var (
		mu       sync.Mutex
		observed []bool
	)

	m.SetStatusCallback(func(server string, connected bool) {
		mu.Lock()
		observed = append(observed, connected)
		mu.Unlock()
	})

	markHeartbeatDue(session)
	conn.setListToolsErr(errors.New("transport gone"))
	m.checkSession(context.Background(), session)

	assert.Equal(t, 60*time.Second, session.HeartbeatInterval())
	assert.False(t, session.Connected())

	mu.Lock()
	defer mu.Unlock()
	require.NotEmpty(t, observed)
	assert.False(t, observed[0])
}

func TestCheckSessionReconnectsDisconnected(t *testing.T) {
	t.Parallel()

	conn := &fakeConn{tools: []*mcp.Tool{{Name: "add"}}}
	script := &dialScript{conn: conn}
	m := newTestManager(t, testManagerConfig(), map[string]*dialScript{"math": script})
	require.NoError(t, m.AddServer(context.Background(), testServerConfig("math")))

	m.mu.RLock()
	session := m.sessions["math"]
	m.mu.RUnlock()

	session.Disconnect()
	markHeartbeatDue(session)
	m.checkSession(context.Background(), session)

	assert.True(t, session.Connected())
	assert.Contains(t, m.Tools(), "mcp_math_add")
	assert.Equal(t, int64(1), session.StatsSnapshot().TotalReconnects)
}

func TestCheckSessionParksExhaustedServer(t *testing.T) {
	t.Parallel()

	m := newTestManager(t, testManagerConfig(), map[string]*dialScript{
		"math": {conn: &fakeConn{}},
	})
	require.NoError(t, m.AddServer(context.Background(), testServerConfig("math")))

	m.mu.RLock()
	session := m.sessions["math"]
	m.mu.RUnlock()

	session.Disconnect()

	session.stats.mu.Lock()
	session.stats.consecutiveFailures = 3
	session.stats.mu.Unlock()

	markHeartbeatDue(session)
	m.checkSession(context.Background(), session)

	// Budget spent: parked at the ceiling, never fully abandoned.
	assert.Equal(t, 180*time.Second, session.HeartbeatInterval())
	assert.False(t, session.Connected())
}

func TestCheckSessionDisconnectedUsesFloor(t *testing.T) {
	t.Parallel()

	// Reconnect fails; the interval should sit at the floor so the next
	// retry comes quickly.
	script := &dialScript{
		conn: &fakeConn{},
		errs: []error{errors.New("x"), errors.New("x"), errors.New("x")},
	}
	m := newTestManager(t, testManagerConfig(), map[string]*dialScript{"math": script})

	cfg := testServerConfig("math")
	require.Error(t, m.AddServer(context.Background(), cfg))

	m.mu.RLock()
	session := m.sessions["math"]
	m.mu.RUnlock()

	script.mu.Lock()
	script.errs = []error{errors.New("still down"), errors.New("still down"), errors.New("still down")}
	script.mu.Unlock()

	markHeartbeatDue(session)
	m.checkSession(context.Background(), session)

	assert.Equal(t, 30*time.Second, session.HeartbeatInterval())
	assert.False(t, session.Connected())
	assert.Equal(t, 1, session.stats.getConsecutiveFailures())
}

func TestStartStopHeartbeat(t *testing.T) {
	t.Parallel()

	m := newTestManager(t, testManagerConfig(), nil)

	m.StartHeartbeat()
	assert.True(t, m.heartbeatRunning())

	// Idempotent start.
	m.StartHeartbeat()

	done := make(chan struct{})
	go func() {
		m.StopHeartbeat()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("StopHeartbeat did not return")
	}

	assert.False(t, m.heartbeatRunning())

	// Stopping again is a no-op.
	m.StopHeartbeat()
}

func TestStartHeartbeatDisabled(t *testing.T) {
	t.Parallel()

	cfg := testManagerConfig()
	cfg.Heartbeat.Enabled = false

	m := newTestManager(t, cfg, nil)

	m.StartHeartbeat()
	assert.False(t, m.heartbeatRunning())
}

func TestRunHeartbeatTickEmptyRegistry(t *testing.T) {
	t.Parallel()

	m := newTestManager(t, testManagerConfig(), nil)

	assert.True(t, m.runHeartbeatTick(context.Background()))
}
