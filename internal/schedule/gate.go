// Package schedule gates when a participant may join a scheduled
// session. The local grace-period window is advisory; the call service's
// "not before" rejection is authoritative and simply re-arms polling.
package schedule

import (
	"errors"
	"sync"
	"time"

	logging "github.com/ipfs/go-log/v2"
)

var log = logging.Logger("schedule")

// ErrTooEarly is the distinguished "not before" rejection from the call
// service. A join attempt failing with it keeps the gate waiting; any
// other error is terminal.
var ErrTooEarly = errors.New("join not allowed yet")

const (
	DefaultGracePeriod  = 2 * time.Minute
	DefaultPollInterval = 20 * time.Second

	// Cosmetic countdown tick. Dropping it never affects correctness.
	countdownTick = time.Second
)

// Callbacks wires a Gate to its owner.
type Callbacks struct {
	// Attempt issues the join. ErrTooEarly re-arms polling; nil stops
	// the gate; anything else is reported through Failed and stops it.
	Attempt func() error

	// Countdown receives the remaining time once a second while
	// waiting. May be nil.
	Countdown func(remaining time.Duration)

	// Failed receives the terminal join error. May be nil.
	Failed func(err error)
}

// Gate decides when the join attempt may be issued. One gate per call
// session; discarded after the first successful join or terminal error.
type Gate struct {
	start time.Time // zero means join immediately
	grace time.Duration
	poll  time.Duration

	now func() time.Time

	mu      sync.Mutex
	cb      Callbacks
	started bool
	stopped bool
	stopCh  chan struct{}
}

// NewGate builds a gate for a session scheduled at start. A zero start
// means "join immediately". Non-positive durations fall back to the
// defaults.
func NewGate(start time.Time, grace, poll time.Duration) *Gate {
	if grace <= 0 {
		grace = DefaultGracePeriod
	}
	if poll <= 0 {
		poll = DefaultPollInterval
	}
	return &Gate{
		start:  start,
		grace:  grace,
		poll:   poll,
		now:    time.Now,
		stopCh: make(chan struct{}),
	}
}

// ShouldJoinNow reports whether the local join window is open.
func (g *Gate) ShouldJoinNow() bool {
	return g.shouldJoinAt(g.now())
}

func (g *Gate) shouldJoinAt(t time.Time) bool {
	if g.start.IsZero() {
		return true
	}
	return !t.Before(g.start.Add(-g.grace))
}

// Remaining returns the time until the scheduled start, floored at zero.
func (g *Gate) Remaining() time.Duration {
	if g.start.IsZero() {
		return 0
	}
	d := g.start.Sub(g.now())
	if d < 0 {
		return 0
	}
	return d
}

// Start begins gating. If the window is already open the attempt fires
// immediately; otherwise the countdown and poll timers run until the
// attempt succeeds, fails terminally, or Stop is called.
func (g *Gate) Start(cb Callbacks) {
	g.mu.Lock()
	if g.started || g.stopped {
		g.mu.Unlock()
		return
	}
	g.started = true
	g.cb = cb
	g.mu.Unlock()

	// The local window may be open while the service still refuses
	// early entry; its rejection re-arms polling below.
	if g.ShouldJoinNow() && g.try() {
		return
	}

	log.Infof("gate: waiting %s until join window opens", g.Remaining())
	go g.wait()
}

// JoinNow bypasses the poll and issues the attempt immediately. If the
// service still rejects with ErrTooEarly the gate keeps waiting.
func (g *Gate) JoinNow() {
	g.mu.Lock()
	if !g.started || g.stopped {
		g.mu.Unlock()
		return
	}
	g.mu.Unlock()
	g.try()
}

// Stop cancels both timers. Idempotent; called on success, on terminal
// failure, and on session teardown.
func (g *Gate) Stop() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.stopped {
		return
	}
	g.stopped = true
	close(g.stopCh)
}

func (g *Gate) wait() {
	countdown := time.NewTicker(countdownTick)
	defer countdown.Stop()
	poll := time.NewTicker(g.poll)
	defer poll.Stop()

	for {
		select {
		case <-g.stopCh:
			return
		case <-countdown.C:
			g.mu.Lock()
			cb := g.cb.Countdown
			g.mu.Unlock()
			if cb != nil {
				cb(g.Remaining())
			}
		case <-poll.C:
			if !g.ShouldJoinNow() {
				continue
			}
			if g.try() {
				return
			}
		}
	}
}

// try issues one attempt. Returns true when the gate is done (joined or
// terminally failed).
func (g *Gate) try() bool {
	g.mu.Lock()
	if g.stopped {
		g.mu.Unlock()
		return true
	}
	attempt := g.cb.Attempt
	failed := g.cb.Failed
	g.mu.Unlock()

	if attempt == nil {
		g.Stop()
		return true
	}

	err := attempt()
	switch {
	case err == nil:
		g.Stop()
		return true
	case errors.Is(err, ErrTooEarly):
		log.Infof("gate: service rejected early join, still waiting")
		return false
	default:
		log.Warnf("gate: join failed: %v", err)
		if failed != nil {
			failed(err)
		}
		g.Stop()
		return true
	}
}
