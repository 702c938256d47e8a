package circuit

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

const (
	testFailureThreshold = 3
	testRecoveryTimeout  = 50 * time.Millisecond
)

func testBreaker() *Breaker {
	return NewBreaker(Config{
		FailureThreshold: testFailureThreshold,
		RecoveryTimeout:  testRecoveryTimeout,
		HalfOpenMaxCalls: 1,
	})
}

func TestState_String(t *testing.T) {
	tests := []struct {
		state    State
		expected string
	}{
		{StateClosed, "closed"},
		{StateOpen, "open"},
		{StateHalfOpen, "half_open"},
		{State(99), "unknown"},
	}

	for _, tt := range tests {
		t.Run(tt.expected, func(t *testing.T) {
			if got := tt.state.String(); got != tt.expected {
				t.Errorf("State.String() = %v, want %v", got, tt.expected)
			}
		})
	}
}

func TestNewBreaker_Defaults(t *testing.T) {
	b := NewBreaker(Config{})

	if b.cfg.FailureThreshold != DefaultFailureThreshold {
		t.Errorf("Expected failure threshold %d, got %d", DefaultFailureThreshold, b.cfg.FailureThreshold)
	}

	if b.cfg.RecoveryTimeout != DefaultRecoveryTimeout {
		t.Errorf("Expected recovery timeout %v, got %v", DefaultRecoveryTimeout, b.cfg.RecoveryTimeout)
	}

	if b.cfg.HalfOpenMaxCalls != DefaultHalfOpenMaxCalls {
		t.Errorf("Expected half-open max calls %d, got %d", DefaultHalfOpenMaxCalls, b.cfg.HalfOpenMaxCalls)
	}

	if b.GetState() != StateClosed {
		t.Errorf("Expected initial state closed, got %v", b.GetState())
	}
}

func TestBreaker_OpensAtThreshold(t *testing.T) {
	b := testBreaker()

	for i := 0; i < testFailureThreshold-1; i++ {
		b.RecordFailure()

		if b.GetState() != StateClosed {
			t.Fatalf("Expected closed after %d failures, got %v", i+1, b.GetState())
		}
	}

	b.RecordFailure()

	if b.GetState() != StateOpen {
		t.Errorf("Expected open after %d failures, got %v", testFailureThreshold, b.GetState())
	}

	ok, reason := b.CanExecute()
	if ok {
		t.Error("Expected execution denied while open")
	}

	if reason == "" {
		t.Error("Expected a denial reason while open")
	}
}

func TestBreaker_SuccessResetsFailureCount(t *testing.T) {
	b := testBreaker()

	b.RecordFailure()
	b.RecordFailure()
	b.RecordSuccess()

	// The streak broke, so the threshold count starts over.
	for i := 0; i < testFailureThreshold-1; i++ {
		b.RecordFailure()
	}

	if b.GetState() != StateClosed {
		t.Errorf("Expected closed, got %v", b.GetState())
	}
}

func TestBreaker_HalfOpenAfterRecoveryTimeout(t *testing.T) {
	b := testBreaker()

	for i := 0; i < testFailureThreshold; i++ {
		b.RecordFailure()
	}

	require.Equal(t, StateOpen, b.GetState())

	ok, _ := b.CanExecute()
	require.False(t, ok, "expected denial before recovery timeout")

	time.Sleep(testRecoveryTimeout + 10*time.Millisecond)

	ok, reason := b.CanExecute()
	require.True(t, ok, "expected trial call allowed after recovery timeout, got reason %q", reason)
	require.Equal(t, StateHalfOpen, b.GetState())

	// Only one trial allowed until it resolves.
	b.MarkHalfOpenCall()

	ok, reason = b.CanExecute()
	require.False(t, ok)
	require.Contains(t, reason, "half-open")
}

func TestBreaker_HalfOpenSuccessCloses(t *testing.T) {
	b := testBreaker()

	for i := 0; i < testFailureThreshold; i++ {
		b.RecordFailure()
	}

	time.Sleep(testRecoveryTimeout + 10*time.Millisecond)

	ok, _ := b.CanExecute()
	require.True(t, ok)

	b.MarkHalfOpenCall()
	b.RecordSuccess()

	if b.GetState() != StateClosed {
		t.Errorf("Expected closed after half-open success, got %v", b.GetState())
	}

	status := b.GetStatus()
	if status.FailureCount != 0 {
		t.Errorf("Expected failure count reset to 0, got %d", status.FailureCount)
	}

	ok, _ = b.CanExecute()
	if !ok {
		t.Error("Expected execution allowed after close")
	}
}

func TestBreaker_HalfOpenFailureReopens(t *testing.T) {
	b := testBreaker()

	for i := 0; i < testFailureThreshold; i++ {
		b.RecordFailure()
	}

	time.Sleep(testRecoveryTimeout + 10*time.Millisecond)

	ok, _ := b.CanExecute()
	require.True(t, ok)

	b.MarkHalfOpenCall()
	b.RecordFailure()

	if b.GetState() != StateOpen {
		t.Errorf("Expected open after half-open failure, got %v", b.GetState())
	}

	// The failed trial restarts the recovery clock.
	ok, _ = b.CanExecute()
	if ok {
		t.Error("Expected denial immediately after reopening")
	}
}

func TestBreaker_Reset(t *testing.T) {
	b := testBreaker()

	for i := 0; i < testFailureThreshold; i++ {
		b.RecordFailure()
	}

	require.Equal(t, StateOpen, b.GetState())

	b.Reset()

	if b.GetState() != StateClosed {
		t.Errorf("Expected closed after reset, got %v", b.GetState())
	}

	status := b.GetStatus()
	if status.FailureCount != 0 || status.SuccessCount != 0 {
		t.Errorf("Expected counters zeroed after reset, got failures=%d successes=%d",
			status.FailureCount, status.SuccessCount)
	}

	ok, _ := b.CanExecute()
	if !ok {
		t.Error("Expected execution allowed after reset")
	}
}

func TestBreaker_GetStatus(t *testing.T) {
	b := testBreaker()

	status := b.GetStatus()
	require.Equal(t, "closed", status.State)
	require.Equal(t, testFailureThreshold, status.FailureThreshold)
	require.Nil(t, status.TimeSinceLastFailure, "expected nil before any failure")

	b.RecordFailure()
	b.RecordSuccess()

	status = b.GetStatus()
	require.NotNil(t, status.TimeSinceLastFailure)
	require.GreaterOrEqual(t, *status.TimeSinceLastFailure, 0.0)
	require.Equal(t, 1, status.SuccessCount)
}

func TestBreaker_ConcurrentAccess(t *testing.T) {
	b := NewBreaker(Config{FailureThreshold: 1000, RecoveryTimeout: time.Minute})

	var wg sync.WaitGroup

	for i := 0; i < 10; i++ {
		wg.Add(1)

		go func(n int) {
			defer wg.Done()

			for j := 0; j < 50; j++ {
				if n%2 == 0 {
					b.RecordSuccess()
				} else {
					b.RecordFailure()
				}

				b.CanExecute()
				b.GetStatus()
			}
		}(i)
	}

	wg.Wait()

	if b.GetState() != StateClosed {
		t.Errorf("Expected closed below threshold, got %v", b.GetState())
	}
}
