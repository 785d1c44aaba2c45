package trigger

import (
	"sync"
	"time"
)

// WatchdogInterval is how long the stream socket may sit idle before
// the watchdog forces it closed. Re-armed at the top of every
// consumer iteration, so it never fires while frames flow faster
// than this.
const WatchdogInterval = 300 * time.Millisecond

// Watchdog closes the stream socket when no frame has been processed
// for an interval. A socket that has been blocking in a write for
// the whole interval is stuck; closing it surfaces the error to the
// writer and forces a clean reconnect at the next packet boundary.
type Watchdog struct {
	mu      sync.Mutex
	timer   *time.Timer
	d       time.Duration
	expire  func()
	stopped bool
}

// NewWatchdog creates a disarmed watchdog that runs expire on the
// timer goroutine when the interval elapses without an Arm.
func NewWatchdog(d time.Duration, expire func()) *Watchdog {
	w := &Watchdog{d: d, expire: expire}
	w.timer = time.AfterFunc(d, w.fire)
	w.timer.Stop()
	return w
}

// Arm restarts the countdown. Called once per consumer iteration.
func (w *Watchdog) Arm() {
	w.mu.Lock()
	if !w.stopped {
		w.timer.Reset(w.d)
	}
	w.mu.Unlock()
}

// Stop disarms the watchdog permanently.
func (w *Watchdog) Stop() {
	w.mu.Lock()
	w.stopped = true
	w.timer.Stop()
	w.mu.Unlock()
}

func (w *Watchdog) fire() {
	w.mu.Lock()
	stopped := w.stopped
	w.mu.Unlock()
	if !stopped {
		w.expire()
	}
}
