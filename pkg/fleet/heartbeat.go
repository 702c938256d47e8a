package fleet

import (
	"context"
	"time"

	"go.uber.org/zap"
)

const (
	// heartbeatFloor is the absolute minimum check interval. The
	// effective floor is the larger of this and half the base interval.
	heartbeatFloor = 30 * time.Second

	// heartbeatGrowth widens a stable server's interval per healthy
	// check.
	heartbeatGrowth = 1.2

	// heartbeatDueFraction lets a check fire slightly before a server's
	// own deadline so loop-wakeup jitter never pushes it past due.
	heartbeatDueFraction = 0.9

	// heartbeatErrBackoff is the fixed sleep after a failed loop
	// iteration.
	heartbeatErrBackoff = 5 * time.Second
)

// StartHeartbeat launches the background liveness loop. A second call
// while the loop runs is a no-op, as is any call when heartbeats are
// disabled in config.
func (m *Manager) StartHeartbeat() {
	m.hbMu.Lock()
	defer m.hbMu.Unlock()

	if m.hbRunning {
		m.logger.Warn("heartbeat loop already running")

		return
	}

	if !m.cfg.Heartbeat.Enabled {
		m.logger.Info("heartbeat disabled")

		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	m.hbCancel = cancel
	m.hbDone = make(chan struct{})
	m.hbRunning = true

	go m.heartbeatLoop(ctx)

	mode := "fixed"
	if m.cfg.Heartbeat.Adaptive {
		mode = "adaptive"
	}

	m.logger.Info("heartbeat loop started",
		zap.String("mode", mode),
		zap.Duration("base_interval", m.cfg.Heartbeat.Interval))
}

// StopHeartbeat cancels the loop and waits for it to unwind. Safe to
// call when the loop never started. The wait guarantees no tick observes
// the registry mid-teardown.
func (m *Manager) StopHeartbeat() {
	m.hbMu.Lock()
	if !m.hbRunning {
		m.hbMu.Unlock()

		return
	}

	cancel := m.hbCancel
	done := m.hbDone
	m.hbRunning = false
	m.hbMu.Unlock()

	cancel()
	<-done
	m.logger.Info("heartbeat loop stopped")
}

func (m *Manager) heartbeatRunning() bool {
	m.hbMu.Lock()
	defer m.hbMu.Unlock()

	return m.hbRunning
}

// heartbeatLoop drives the adaptive liveness schedule. Each session
// carries its own interval; the loop sleeps for the minimum across all
// of them so no server is checked later than its own deadline, floored
// so it never busy-spins. A panicking iteration logs, backs off, and
// resumes; only cancellation ends the loop.
func (m *Manager) heartbeatLoop(ctx context.Context) {
	defer close(m.hbDone)

	base := m.cfg.Heartbeat.Interval
	floor := heartbeatIntervalFloor(base)

	for {
		sleep := m.minHeartbeatInterval(base)
		if sleep < floor {
			sleep = floor
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(sleep):
		}

		if !m.runHeartbeatTick(ctx) {
			select {
			case <-ctx.Done():
				return
			case <-time.After(heartbeatErrBackoff):
			}
		}
	}
}

func heartbeatIntervalFloor(base time.Duration) time.Duration {
	floor := base / 2
	if floor < heartbeatFloor {
		floor = heartbeatFloor
	}

	return floor
}

func heartbeatIntervalCeiling(base time.Duration, multiplier float64) time.Duration {
	return time.Duration(float64(base) * multiplier)
}

// minHeartbeatInterval returns the smallest per-session interval, or the
// base when no sessions exist yet.
func (m *Manager) minHeartbeatInterval(base time.Duration) time.Duration {
	m.mu.RLock()
	defer m.mu.RUnlock()

	min := base
	for _, session := range m.sessions {
		if interval := session.HeartbeatInterval(); interval < min {
			min = interval
		}
	}

	return min
}

// runHeartbeatTick executes one sweep over all sessions. Returns false
// when the sweep panicked so the loop can back off.
func (m *Manager) runHeartbeatTick(ctx context.Context) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("heartbeat tick panicked", zap.Any("panic", r))
			ok = false
		}
	}()

	m.mu.RLock()
	sessions := make([]*Session, 0, len(m.sessions))
	for _, session := range m.sessions {
		sessions = append(sessions, session)
	}
	m.mu.RUnlock()

	for _, session := range sessions {
		if ctx.Err() != nil {
			return true
		}

		if !session.Enabled() {
			continue
		}

		m.checkSession(ctx, session)
	}

	return true
}

// checkSession applies the heartbeat policy to one session: health-check
// connected servers and widen or reset their interval by outcome; retry
// disconnected servers under the reconnect budget, parking them at the
// ceiling once the budget is spent.
func (m *Manager) checkSession(ctx context.Context, session *Session) {
	base := m.cfg.Heartbeat.Interval
	adaptive := m.cfg.Heartbeat.Adaptive
	floor := heartbeatIntervalFloor(base)
	ceiling := heartbeatIntervalCeiling(base, m.cfg.Heartbeat.MaxMultiplier)

	interval := session.HeartbeatInterval()
	if last := session.stats.getLastHeartbeat(); !last.IsZero() {
		due := time.Duration(float64(interval) * heartbeatDueFraction)
		if time.Since(last) < due {
			return
		}
	}

	if session.Connected() {
		if session.CheckHealth(ctx) {
			if adaptive && session.stats.getConsecutiveFailures() == 0 {
				next := time.Duration(float64(interval) * heartbeatGrowth)
				if next > ceiling {
					next = ceiling
				}

				if next != interval {
					session.SetHeartbeatInterval(next)
					m.logger.Debug("heartbeat interval widened",
						zap.String("server", session.Name()),
						zap.Duration("interval", next))
				}
			}

			return
		}

		m.logger.Warn("heartbeat failed, connection may be lost",
			zap.String("server", session.Name()))

		if adaptive {
			session.SetHeartbeatInterval(base)
		}

		m.notifyStatusChange(session.Name(), false)

		if m.cfg.AutoReconnect {
			m.tryReconnect(ctx, session)
		}

		return
	}

	// Found disconnected at wake time. Retry quickly while the budget
	// lasts, then park at the ceiling so the server keeps being checked
	// without being hammered.
	failures := session.stats.getConsecutiveFailures()

	switch {
	case m.cfg.AutoReconnect && failures < m.cfg.MaxReconnectAttempts:
		if adaptive {
			session.SetHeartbeatInterval(floor)
		}

		m.logger.Info("server disconnected, attempting reconnect",
			zap.String("server", session.Name()),
			zap.Int("failures", failures),
			zap.Int("max_attempts", m.cfg.MaxReconnectAttempts))
		m.tryReconnect(ctx, session)

	case failures >= m.cfg.MaxReconnectAttempts:
		if adaptive {
			session.SetHeartbeatInterval(ceiling)
		}

		m.logger.Debug("reconnect budget exhausted, backing off",
			zap.String("server", session.Name()))
	}
}

// tryReconnect runs one budget-gated reconnection attempt and notifies
// observers of the outcome.
func (m *Manager) tryReconnect(ctx context.Context, session *Session) bool {
	if session.stats.getConsecutiveFailures() >= m.cfg.MaxReconnectAttempts {
		m.logger.Warn("reconnect suppressed, failure streak at limit",
			zap.String("server", session.Name()),
			zap.Int("max_attempts", m.cfg.MaxReconnectAttempts))

		return false
	}

	err := m.ReconnectServer(ctx, session.Name())
	m.notifyStatusChange(session.Name(), session.Connected())

	return err == nil
}
