package streamer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"sync/atomic"

	"github.com/AlecFessler/hand-motion-capture/internal/camera"
	"github.com/AlecFessler/hand-motion-capture/internal/codec"
	"github.com/AlecFessler/hand-motion-capture/internal/framequeue"
	"github.com/AlecFessler/hand-motion-capture/internal/rtsched"
	"github.com/AlecFessler/hand-motion-capture/internal/trigger"
)

// Config carries what the consumer loop needs beyond its
// collaborators.
type Config struct {
	// RecordingCPU is the core the loop's OS thread is pinned to.
	RecordingCPU int
	// Connect bounds the initial connection attempt.
	Connect ConnectConfig
}

// Streamer is the pipeline's consumer: it waits on the queue counter,
// dequeues DMA frames, encodes them, and streams the packets. It owns
// the only OS thread with realtime scheduling.
//
// Suspension points are exactly: the counter wait, blocking socket
// writes inside the sink, and the blocking dial during reconnection.
type Streamer struct {
	queue   *framequeue.SPSC[camera.Frame]
	counter *framequeue.Counting
	enc     codec.Encoder
	sink    *Sink
	wd      *trigger.Watchdog
	running *atomic.Bool
	cfg     Config

	// ready closes once the loop thread is realtime and connected;
	// start is closed by the coordinator after it flips running.
	// The handshake keeps the first GPIO trigger from racing ahead
	// of the consumer: until running is true the dispatcher refuses
	// triggers, so the backpressure check can never pass against an
	// un-drained queue.
	ready chan struct{}
	start chan struct{}
	done  chan struct{}
	err   error
}

// New wires a streamer. The watchdog must already point at the same
// sink's Disconnect.
func New(
	cfg Config,
	queue *framequeue.SPSC[camera.Frame],
	counter *framequeue.Counting,
	enc codec.Encoder,
	sink *Sink,
	wd *trigger.Watchdog,
	running *atomic.Bool,
) *Streamer {
	return &Streamer{
		queue:   queue,
		counter: counter,
		enc:     enc,
		sink:    sink,
		wd:      wd,
		running: running,
		cfg:     cfg,
		ready:   make(chan struct{}),
		start:   make(chan struct{}),
		done:    make(chan struct{}),
	}
}

// Run executes the consumer loop on its own locked OS thread. It
// signals Ready after realtime setup and the initial connect, then
// blocks until Begin, then consumes until running clears.
func (s *Streamer) Run(ctx context.Context) {
	defer close(s.done)

	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	if err := rtsched.PinThread(s.cfg.RecordingCPU); err != nil {
		s.err = err
		close(s.ready)
		return
	}
	if err := rtsched.SetFIFOMaxPriority(); err != nil {
		s.err = err
		close(s.ready)
		return
	}
	if err := s.sink.Connect(ctx, s.cfg.Connect); err != nil {
		s.err = fmt.Errorf("streamer: initial connect: %w", err)
		close(s.ready)
		return
	}

	close(s.ready)
	select {
	case <-s.start:
	case <-ctx.Done():
		return
	}

	s.loop()
	s.finish()
}

// Ready closes once the loop is initialized (or failed; check Err).
func (s *Streamer) Ready() <-chan struct{} { return s.ready }

// Begin releases the loop after the coordinator has set running.
func (s *Streamer) Begin() { close(s.start) }

// Done closes when the loop has exited and the stream is closed.
func (s *Streamer) Done() <-chan struct{} { return s.done }

// Err reports an initialization or teardown failure.
func (s *Streamer) Err() error { return s.err }

func (s *Streamer) loop() {
	for s.running.Load() {
		s.wd.Arm()
		s.counter.Wait()

		// The wait may have been a frameless shutdown post.
		if !s.running.Load() {
			return
		}
		f := s.queue.Dequeue()
		if f == nil {
			continue
		}

		if err := s.enc.Encode(f, s.sink.WritePacket); err != nil {
			if errors.Is(err, ErrTransmit) {
				// Packet lost; the sink redials at the next packet.
				slog.Error("frame transmit failed", "seq", f.Seq, "error", err)
				continue
			}
			slog.Error("frame encode failed", "seq", f.Seq, "error", err)
		}
	}
}

// finish drains the encoder and closes the stream with the sentinel
// so the receiver can flush its decoder and terminate cleanly.
func (s *Streamer) finish() {
	s.wd.Stop()

	if err := s.enc.Flush(s.sink.WritePacket); err != nil {
		slog.Warn("encoder flush failed", "error", err)
	}
	if err := s.sink.WriteEndOfStream(); err != nil {
		slog.Warn("end of stream sentinel not delivered", "error", err)
	}
	s.sink.Close()
	slog.Info("stream closed")
}
