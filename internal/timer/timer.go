// Package timer implements the one-shot and repeating timer service used by
// every protocol actor in this module. Expiration always arrives as a
// message on the owning actor's inbound channel, and a cancelled timer must
// never fire: New takes the deliver closure the caller uses to post onto
// its own channel, and Stop makes every in-flight callback a no-op even if
// time.Timer already fired into the runtime's internal queue.
package timer

import (
	"sync"
	"time"
)

// Timer is a cancellable, optionally repeating timer with a remaining-time
// query (section 4.2).
type Timer struct {
	mu       sync.Mutex
	t        *time.Timer
	interval time.Duration
	deadline time.Time
	repeat   bool
	stopped  bool
	deliver  func()
}

// New starts a timer that calls deliver after d. If repeat is true, deliver
// is called every d until Stop is called.
func New(d time.Duration, repeat bool, deliver func()) *Timer {
	tm := &Timer{interval: d, repeat: repeat, deliver: deliver, deadline: time.Now().Add(d)}
	tm.t = time.AfterFunc(d, tm.fire)
	return tm
}

func (tm *Timer) fire() {
	tm.mu.Lock()
	if tm.stopped {
		tm.mu.Unlock()
		return
	}
	if tm.repeat {
		tm.deadline = time.Now().Add(tm.interval)
		tm.t = time.AfterFunc(tm.interval, tm.fire)
	}
	deliver := tm.deliver
	tm.mu.Unlock()
	deliver()
}

// Reset restarts the timer at its full interval, or at d if d > 0.
func (tm *Timer) Reset(d ...time.Duration) {
	tm.mu.Lock()
	defer tm.mu.Unlock()
	if len(d) > 0 && d[0] > 0 {
		tm.interval = d[0]
	}
	tm.stopped = false
	tm.t.Stop()
	tm.deadline = time.Now().Add(tm.interval)
	tm.t = time.AfterFunc(tm.interval, tm.fire)
}

// Stop cancels the timer. A timer stopped before firing never delivers,
// even if it had already raced into the runtime's ready queue.
func (tm *Timer) Stop() {
	tm.mu.Lock()
	defer tm.mu.Unlock()
	tm.stopped = true
	tm.t.Stop()
}

// Remaining returns the time left until the next expiration, floored at 0.
func (tm *Timer) Remaining() time.Duration {
	tm.mu.Lock()
	defer tm.mu.Unlock()
	if tm.stopped {
		return 0
	}
	if d := time.Until(tm.deadline); d > 0 {
		return d
	}
	return 0
}
