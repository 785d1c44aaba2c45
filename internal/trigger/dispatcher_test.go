package trigger_test

import (
	"sync/atomic"
	"syscall"
	"testing"
	"time"

	"github.com/AlecFessler/hand-motion-capture/internal/camera"
	"github.com/AlecFessler/hand-motion-capture/internal/framequeue"
	"github.com/AlecFessler/hand-motion-capture/internal/trigger"
)

type fakeQueuer struct {
	calls atomic.Int32
	err   error
}

func (f *fakeQueuer) QueueRequest() error {
	f.calls.Add(1)
	return f.err
}

type fakeSink struct {
	disconnects atomic.Int32
}

func (f *fakeSink) Disconnect() { f.disconnects.Add(1) }

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(time.Millisecond)
	}
}

// TestDispatcherTriggerQueuesCapture validates the GPIO path: a
// SIGUSR1 delivered while running queues exactly one capture
// request; one delivered while stopped queues nothing.
func TestDispatcherTriggerQueuesCapture(t *testing.T) {
	queuer := &fakeQueuer{}
	sink := &fakeSink{}
	var running atomic.Bool
	counter := framequeue.NewCounting(4)

	d := trigger.NewDispatcher(queuer, sink, &running, counter)
	d.Start()

	// Not running yet: trigger must be refused.
	syscall.Kill(syscall.Getpid(), syscall.SIGUSR1)
	time.Sleep(50 * time.Millisecond)
	if n := queuer.calls.Load(); n != 0 {
		t.Fatalf("trigger queued %d requests before running", n)
	}

	running.Store(true)
	syscall.Kill(syscall.Getpid(), syscall.SIGUSR1)
	waitFor(t, "capture request", func() bool { return queuer.calls.Load() == 1 })

	// Backpressure errors are logged, not fatal: the dispatcher
	// keeps serving triggers.
	queuer.err = camera.ErrBufferNotReady
	syscall.Kill(syscall.Getpid(), syscall.SIGUSR1)
	waitFor(t, "refused request", func() bool { return queuer.calls.Load() == 2 })

	// Shut the dispatcher down to release the signal handlers.
	syscall.Kill(syscall.Getpid(), syscall.SIGTERM)
	<-d.Done()
}

// TestDispatcherShutdown validates the SIGTERM path: running clears,
// the counter receives one frameless post to unblock the consumer,
// and the socket is dropped.
func TestDispatcherShutdown(t *testing.T) {
	queuer := &fakeQueuer{}
	sink := &fakeSink{}
	var running atomic.Bool
	running.Store(true)
	counter := framequeue.NewCounting(4)

	d := trigger.NewDispatcher(queuer, sink, &running, counter)
	d.Start()

	syscall.Kill(syscall.Getpid(), syscall.SIGTERM)
	select {
	case <-d.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("dispatcher did not shut down on SIGTERM")
	}

	if running.Load() {
		t.Fatal("running still set after shutdown")
	}
	if counter.Value() != 1 {
		t.Fatalf("counter = %d after shutdown, want exactly one wakeup post", counter.Value())
	}
	if sink.disconnects.Load() == 0 {
		t.Fatal("socket not dropped on shutdown")
	}
}

// TestDispatcherWatchdogSignal validates SIGUSR2 parity with the
// in-process watchdog: the socket is dropped, nothing else changes.
func TestDispatcherWatchdogSignal(t *testing.T) {
	queuer := &fakeQueuer{}
	sink := &fakeSink{}
	var running atomic.Bool
	running.Store(true)
	counter := framequeue.NewCounting(4)

	d := trigger.NewDispatcher(queuer, sink, &running, counter)
	d.Start()

	syscall.Kill(syscall.Getpid(), syscall.SIGUSR2)
	waitFor(t, "socket drop", func() bool { return sink.disconnects.Load() == 1 })

	if !running.Load() || queuer.calls.Load() != 0 {
		t.Fatal("watchdog signal disturbed unrelated state")
	}

	syscall.Kill(syscall.Getpid(), syscall.SIGTERM)
	<-d.Done()
}
