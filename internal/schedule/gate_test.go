package schedule

import (
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

func TestShouldJoinNow(t *testing.T) {
	base := time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)

	g := NewGate(base.Add(3*time.Minute), 2*time.Minute, 20*time.Second)
	now := base
	g.now = func() time.Time { return now }

	if g.ShouldJoinNow() {
		t.Fatal("window must be closed 3 minutes before start")
	}

	now = base.Add(59 * time.Second)
	if g.ShouldJoinNow() {
		t.Fatal("window must still be closed just before start minus grace")
	}

	// Exactly start minus grace: the window opens.
	now = base.Add(time.Minute)
	if !g.ShouldJoinNow() {
		t.Fatal("window must open at start minus grace")
	}

	t.Run("zero start joins immediately", func(t *testing.T) {
		g := NewGate(time.Time{}, 2*time.Minute, 20*time.Second)
		if !g.ShouldJoinNow() {
			t.Fatal("zero start must join immediately")
		}
		if g.Remaining() != 0 {
			t.Fatalf("remaining = %s, want 0", g.Remaining())
		}
	})

	t.Run("remaining floors at zero", func(t *testing.T) {
		g := NewGate(base, 2*time.Minute, 20*time.Second)
		g.now = func() time.Time { return base.Add(time.Hour) }
		if g.Remaining() != 0 {
			t.Fatalf("remaining = %s, want 0", g.Remaining())
		}
	})

	t.Run("remaining counts down to start", func(t *testing.T) {
		g := NewGate(base.Add(3*time.Minute), 2*time.Minute, 20*time.Second)
		g.now = func() time.Time { return base }
		if g.Remaining() != 3*time.Minute {
			t.Fatalf("remaining = %s, want 3m", g.Remaining())
		}
	})
}

func TestGateImmediateAttempt(t *testing.T) {
	var attempts atomic.Int32
	done := make(chan struct{})

	g := NewGate(time.Time{}, 0, 0)
	g.Start(Callbacks{Attempt: func() error {
		attempts.Add(1)
		close(done)
		return nil
	}})

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("attempt never fired")
	}
	if attempts.Load() != 1 {
		t.Fatalf("attempts = %d, want 1", attempts.Load())
	}

	g.mu.Lock()
	stopped := g.stopped
	g.mu.Unlock()
	if !stopped {
		t.Fatal("gate must stop after a successful join")
	}
}

func TestGateTooEarlyReArms(t *testing.T) {
	var attempts atomic.Int32
	done := make(chan struct{})

	g := NewGate(time.Time{}, 0, 10*time.Millisecond)
	g.Start(Callbacks{Attempt: func() error {
		n := attempts.Add(1)
		if n < 3 {
			return ErrTooEarly
		}
		close(done)
		return nil
	}})

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("gate never joined after too-early rejections")
	}
	if attempts.Load() != 3 {
		t.Fatalf("attempts = %d, want 3", attempts.Load())
	}
}

func TestGateTerminalFailureStopsPolling(t *testing.T) {
	var attempts atomic.Int32
	failed := make(chan error, 1)

	g := NewGate(time.Time{}, 0, 10*time.Millisecond)
	g.Start(Callbacks{
		Attempt: func() error {
			attempts.Add(1)
			return errors.New("network down")
		},
		Failed: func(err error) { failed <- err },
	})

	select {
	case err := <-failed:
		if err == nil {
			t.Fatal("expected a terminal error")
		}
	case <-time.After(time.Second):
		t.Fatal("Failed callback never fired")
	}

	// No further polls after the terminal failure.
	time.Sleep(50 * time.Millisecond)
	if attempts.Load() != 1 {
		t.Fatalf("attempts = %d, want 1", attempts.Load())
	}
}

func TestGateJoinNowBypassesPoll(t *testing.T) {
	var attempts atomic.Int32
	done := make(chan struct{})

	// Far-future start and a poll interval the test never reaches.
	g := NewGate(time.Now().Add(time.Hour), 2*time.Minute, time.Hour)
	g.Start(Callbacks{Attempt: func() error {
		attempts.Add(1)
		close(done)
		return nil
	}})

	if attempts.Load() != 0 {
		t.Fatal("attempt must not fire while waiting")
	}

	g.JoinNow()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("JoinNow did not issue the attempt")
	}
}

func TestGateStopCancelsTimers(t *testing.T) {
	var attempts atomic.Int32

	g := NewGate(time.Now().Add(time.Hour), 2*time.Minute, 10*time.Millisecond)
	g.Start(Callbacks{Attempt: func() error {
		attempts.Add(1)
		return nil
	}})

	g.Stop()
	time.Sleep(50 * time.Millisecond)
	if attempts.Load() != 0 {
		t.Fatalf("attempts after Stop = %d, want 0", attempts.Load())
	}

	// JoinNow after Stop is a no-op.
	g.JoinNow()
	if attempts.Load() != 0 {
		t.Fatal("JoinNow must be a no-op after Stop")
	}
}
