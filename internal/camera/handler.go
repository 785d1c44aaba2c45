package camera

import (
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/AlecFessler/hand-motion-capture/internal/framequeue"
)

// Config carries the capture settings the handler needs.
type Config struct {
	Width       int
	Height      int
	BufferCount int
	Controls    Controls
}

// Handler owns the camera source, the DMA buffer table, and the
// reusable request ring. It translates "capture one frame" requests
// into source submissions and delivers completed frames to the SPSC
// queue.
//
// Buffer accounting invariant: at any instant every buffer is in
// exactly one of {hardware-owned, in-queue, in-flight-to-consumer},
// and the three counts sum to BufferCount. The backpressure check in
// QueueRequest is what keeps the hardware from being handed a buffer
// the consumer still holds.
type Handler struct {
	src     Source
	queue   *framequeue.SPSC[Frame]
	counter *framequeue.Counting

	frames     []Frame // one per DMA buffer, reused in place
	nextReqIdx int     // cursor into the request ring, producer-side only
	frameBytes int
	numBufs    int

	seq atomic.Uint64
}

// New initializes the camera end to end: frame geometry, source
// acquisition, exact-match stream configuration, DMA buffer mapping,
// completion hookup, and capture start with fixed controls.
//
// Initialization is fail-fast: on any error the source is closed and
// no partial state survives.
func New(cfg Config, src Source, queue *framequeue.SPSC[Frame], counter *framequeue.Counting) (*Handler, error) {
	stream := StreamConfig{
		PixelFormat: PixelFormatYUV420,
		Width:       cfg.Width,
		Height:      cfg.Height,
		BufferCount: cfg.BufferCount,
	}
	frameBytes := stream.FrameBytes()
	if frameBytes <= 0 {
		return nil, fmt.Errorf("camera: invalid frame geometry %dx%d", cfg.Width, cfg.Height)
	}

	h := &Handler{
		src:        src,
		queue:      queue,
		counter:    counter,
		frameBytes: frameBytes,
		numBufs:    cfg.BufferCount,
	}

	if err := src.Open(); err != nil {
		return nil, fmt.Errorf("camera: open source: %w", err)
	}

	validation, err := src.Configure(stream)
	if err != nil {
		src.Close()
		return nil, fmt.Errorf("camera: configure stream: %w", err)
	}
	switch validation {
	case ConfigValid:
	case ConfigAdjusted:
		// An adjusted configuration would silently change the frame
		// geometry under the encoder; treat it the same as invalid.
		src.Close()
		return nil, fmt.Errorf("%w: source adjusted %dx%d %s", ErrConfigRejected, cfg.Width, cfg.Height, stream.PixelFormat)
	case ConfigInvalid:
		src.Close()
		return nil, fmt.Errorf("%w: source rejected %dx%d %s", ErrConfigRejected, cfg.Width, cfg.Height, stream.PixelFormat)
	}

	bufs, err := src.MapBuffers(cfg.BufferCount, frameBytes)
	if err != nil {
		src.Close()
		return nil, fmt.Errorf("camera: map buffers: %w", err)
	}
	if len(bufs) != cfg.BufferCount {
		src.Close()
		return nil, fmt.Errorf("camera: mapped %d buffers, want %d", len(bufs), cfg.BufferCount)
	}

	h.frames = make([]Frame, cfg.BufferCount)
	for i, b := range bufs {
		if len(b) != frameBytes {
			src.Close()
			return nil, fmt.Errorf("camera: buffer %d is %d bytes, want %d", i, len(b), frameBytes)
		}
		h.frames[i] = Frame{Cookie: i, Data: b}
	}

	src.OnRequestComplete(h.requestComplete)

	if err := src.Start(cfg.Controls); err != nil {
		src.Close()
		return nil, fmt.Errorf("camera: start capture: %w", err)
	}

	slog.Info("camera started",
		"width", cfg.Width,
		"height", cfg.Height,
		"frame_bytes", frameBytes,
		"dma_buffers", cfg.BufferCount,
	)
	return h, nil
}

// FrameBytes returns the per-frame byte count.
func (h *Handler) FrameBytes() int {
	return h.frameBytes
}

// QueueRequest submits the next capture request in the ring. Called
// from the trigger dispatch path on every GPIO edge; it must not
// allocate.
//
// Before submitting, the semaphore count is checked against
// BufferCount-2. The counter may lag the queue by one while the
// consumer sits between Wait and Dequeue, and it may carry one
// frameless shutdown post, so the margin of two guarantees a free
// buffer in both cases. Exceeding the margin means the consumer is
// not keeping up with the trigger: ErrBufferNotReady, and the request
// is not submitted.
func (h *Handler) QueueRequest() error {
	if h.counter.Value() > h.numBufs-2 {
		return ErrBufferNotReady
	}

	if err := h.src.QueueRequest(h.nextReqIdx); err != nil {
		return fmt.Errorf("%w: cookie %d: %s", ErrQueueFailed, h.nextReqIdx, err)
	}

	h.nextReqIdx++
	h.nextReqIdx %= h.numBufs
	return nil
}

// requestComplete runs on the source's goroutine when a capture
// request finishes. Cancelled completions are the normal teardown
// path and return silently; failed captures are logged and not
// published. Otherwise the filled buffer's frame is
// stamped and published: enqueue, then post, in that order, so the
// consumer woken by the post always finds the frame.
func (h *Handler) requestComplete(c Completion) {
	switch c.Status {
	case StatusCancelled:
		return
	case StatusError:
		slog.Error("capture request failed", "cookie", c.Cookie)
		return
	}

	f := &h.frames[c.Cookie]
	f.Seq = h.seq.Add(1)
	f.TimestampNS = c.SensorTimestampNS
	if f.TimestampNS == 0 {
		f.TimestampNS = uint64(time.Now().UnixNano())
	}

	if !h.queue.Enqueue(f) {
		// Cannot happen while the backpressure margin holds; a full
		// queue here means a buffer was submitted that the consumer
		// still owned.
		slog.Error("frame queue full, dropping completion", "cookie", c.Cookie, "seq", f.Seq)
		return
	}
	if !h.counter.Post() {
		slog.Error("queue counter at capacity on post", "cookie", c.Cookie, "seq", f.Seq)
	}
}

// Close tears down capture in the strict order the vendor stack
// requires: stop the camera, then release buffers, camera, and
// manager via the source's Close.
func (h *Handler) Close() error {
	if err := h.src.Stop(); err != nil {
		slog.Warn("camera stop failed", "error", err)
	}
	if err := h.src.Close(); err != nil {
		return fmt.Errorf("camera: close source: %w", err)
	}
	slog.Info("camera stopped")
	return nil
}
