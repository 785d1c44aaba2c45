package trigger

import (
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"

	"github.com/AlecFessler/hand-motion-capture/internal/camera"
	"github.com/AlecFessler/hand-motion-capture/internal/framequeue"
)

// CaptureQueuer is the slice of the camera handler the dispatcher
// needs.
type CaptureQueuer interface {
	QueueRequest() error
}

// Disconnector is the slice of the stream sink the dispatcher needs.
type Disconnector interface {
	Disconnect()
}

// Dispatcher drains process signals on a dedicated goroutine and
// drives the pipeline objects directly, replacing the async signal
// handlers of a classic realtime process. The channel is buffered
// generously; the GPIO driver fires at frame rate and each dispatch
// is a few channel operations.
//
//	SIGUSR1          GPIO edge → queue one capture request
//	SIGUSR2          kernel watchdog parity → drop the stream socket
//	SIGINT, SIGTERM  shutdown → clear running, unblock the consumer
type Dispatcher struct {
	queuer  CaptureQueuer
	sink    Disconnector
	running *atomic.Bool
	counter *framequeue.Counting

	sigCh chan os.Signal
	done  chan struct{}
}

// NewDispatcher wires the dispatcher to the pipeline's live objects.
func NewDispatcher(queuer CaptureQueuer, sink Disconnector, running *atomic.Bool, counter *framequeue.Counting) *Dispatcher {
	return &Dispatcher{
		queuer:  queuer,
		sink:    sink,
		running: running,
		counter: counter,
		sigCh:   make(chan os.Signal, 64),
		done:    make(chan struct{}),
	}
}

// Start installs the signal dispositions and begins dispatching.
// Must run before the kernel driver is registered so the first
// trigger cannot race the consumer's readiness handshake.
func (d *Dispatcher) Start() {
	signal.Notify(d.sigCh, syscall.SIGUSR1, syscall.SIGUSR2, syscall.SIGINT, syscall.SIGTERM)
	go d.loop()
}

// Done closes when a shutdown signal has been dispatched.
func (d *Dispatcher) Done() <-chan struct{} {
	return d.done
}

func (d *Dispatcher) loop() {
	for sig := range d.sigCh {
		switch sig {
		case syscall.SIGUSR1:
			if !d.running.Load() {
				continue
			}
			if err := d.queuer.QueueRequest(); err != nil {
				if errors.Is(err, camera.ErrBufferNotReady) {
					slog.Error("capture trigger refused, pipeline behind", "error", err)
				} else {
					slog.Error("capture trigger failed", "error", err)
				}
				continue
			}
			slog.Debug("capture request queued")

		case syscall.SIGUSR2:
			d.sink.Disconnect()
			slog.Info("stream socket dropped by watchdog signal")

		case syscall.SIGINT, syscall.SIGTERM:
			// Release ordering: the consumer re-checks running after
			// every semaphore wait, so the store below followed by
			// one frameless post guarantees it observes the shutdown.
			d.running.Store(false)
			d.counter.Post()
			d.sink.Disconnect()
			signal.Stop(d.sigCh)
			close(d.done)
			return
		}
	}
}
