package debounce

import (
	"sync"
	"time"
)

// Trailing is a trailing-edge debouncer: fn runs once after the last Trigger
// in a burst, coalescing rapid location updates into a single pipeline run.
type Trailing struct {
	window time.Duration
	fn     func()

	mu      sync.Mutex
	timer   *time.Timer
	stopped bool
}

func NewTrailing(window time.Duration, fn func()) *Trailing {
	return &Trailing{window: window, fn: fn}
}

// Trigger (re)arms the timer. Calls within the window supersede each other so
// fn observes only the settled state.
func (t *Trailing) Trigger() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.stopped {
		return
	}
	if t.timer != nil {
		t.timer.Stop()
	}
	t.timer = time.AfterFunc(t.window, t.fn)
}

// Stop cancels any pending run. Safe to call more than once; a stopped
// debouncer drops further triggers silently.
func (t *Trailing) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stopped = true
	if t.timer != nil {
		t.timer.Stop()
		t.timer = nil
	}
}
