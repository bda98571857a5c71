// Package interrupt aborts an in-flight request shortly before the platform
// deadline so application error paths still get a chance to run.
package interrupt

import (
	"errors"
	"sync"
	"time"
)

var (
	// ErrDeadlineReached is reported when the interrupter cut a request off.
	ErrDeadlineReached = errors.New("interrupt: deadline reached")
	// ErrUnavailable means Enable was called with no transport attached.
	ErrUnavailable = errors.New("interrupt: no transport attached")
)

// Aborter unblocks whatever read is currently in flight.
type Aborter interface {
	Abort()
}

// Interrupter arms a one-shot abort one second before the platform deadline.
// One instance serves one handler; Reset must run before the next invocation.
type Interrupter struct {
	mu      sync.Mutex
	aborter Aborter
	timer   *time.Timer
	fired   bool
}

func New() *Interrupter {
	return &Interrupter{}
}

// Attach binds the transport whose read the abort will unblock.
func (i *Interrupter) Attach(a Aborter) {
	i.mu.Lock()
	i.aborter = a
	i.mu.Unlock()
}

// Delay converts the time remaining before the deadline into the arming
// delay: max(1, floor(remainingMs/1000) - 1) seconds.
func Delay(remaining time.Duration) time.Duration {
	seconds := remaining.Milliseconds()/1000 - 1
	if seconds < 1 {
		seconds = 1
	}
	return time.Duration(seconds) * time.Second
}

// Enable arms the timer. Re-arming replaces the pending timer, so calling it
// twice in one invocation is harmless.
func (i *Interrupter) Enable(remaining time.Duration) error {
	i.mu.Lock()
	defer i.mu.Unlock()

	if i.aborter == nil {
		return ErrUnavailable
	}

	if i.timer != nil {
		i.timer.Stop()
	}
	i.fired = false
	i.timer = time.AfterFunc(Delay(remaining), i.fire)
	return nil
}

func (i *Interrupter) fire() {
	i.mu.Lock()
	// Reset may have won the race; a disarmed timer must not abort the
	// next invocation's request.
	if i.timer == nil {
		i.mu.Unlock()
		return
	}
	i.fired = true
	a := i.aborter
	i.mu.Unlock()

	if a != nil {
		a.Abort()
	}
}

// Reset disarms the timer. It is idempotent and safe before any Enable.
func (i *Interrupter) Reset() {
	i.mu.Lock()
	if i.timer != nil {
		i.timer.Stop()
		i.timer = nil
	}
	i.mu.Unlock()
}

// Fired reports whether the timer went off since the last Enable. The flag
// survives Reset so the handler can still translate the aborted read after
// disarming.
func (i *Interrupter) Fired() bool {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.fired
}
