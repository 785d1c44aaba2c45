// Package camera owns the capture side of the pipeline: the vendor
// source contract, the DMA buffer bookkeeping, and the handler that
// turns GPIO-triggered capture requests into frames on the SPSC
// queue.
package camera

// PixelFormat identifies a raw frame layout.
type PixelFormat int

const (
	// PixelFormatYUV420 is planar 4:2:0; total bytes = W*H*3/2.
	PixelFormatYUV420 PixelFormat = iota
)

// String returns the format's conventional name.
func (p PixelFormat) String() string {
	switch p {
	case PixelFormatYUV420:
		return "YUV420"
	default:
		return "unknown"
	}
}

// StreamConfig describes the capture stream requested from a Source.
type StreamConfig struct {
	PixelFormat PixelFormat
	Width       int
	Height      int
	BufferCount int
}

// FrameBytes returns the per-frame byte count for the configured
// format and size.
func (c StreamConfig) FrameBytes() int {
	switch c.PixelFormat {
	case PixelFormatYUV420:
		y := c.Width * c.Height
		return y + y/4 + y/4
	default:
		return 0
	}
}

// Validation is the outcome of applying a StreamConfig to a Source.
type Validation int

const (
	// ConfigValid means the source accepted the configuration as-is.
	ConfigValid Validation = iota
	// ConfigAdjusted means the source altered the configuration to
	// make it work. The handler rejects this: capture requires an
	// exact match.
	ConfigAdjusted
	// ConfigInvalid means the source cannot satisfy the
	// configuration at all.
	ConfigInvalid
)

// CompletionStatus reports how a capture request finished.
type CompletionStatus int

const (
	// StatusComplete means the buffer holds a captured frame.
	StatusComplete CompletionStatus = iota
	// StatusCancelled means the request was aborted by Stop; the
	// buffer holds nothing useful. Normal during teardown.
	StatusCancelled
	// StatusError means the capture failed.
	StatusError
)

// Completion is delivered by the source when a queued request
// finishes. It is invoked on the source's own goroutine, which must
// be assumed to preempt the consumer at any point.
type Completion struct {
	// Cookie is the index of the DMA buffer the request filled.
	Cookie int
	Status CompletionStatus
	// SensorTimestampNS is the capture timestamp in nanoseconds on
	// the monotonic clock, or 0 if the source cannot provide one.
	SensorTimestampNS uint64
}

// Source is the contract the camera vendor stack fulfils. The
// production implementation is GstSource; tests substitute a fake.
//
// Call order: Open → Configure → MapBuffers → OnRequestComplete →
// Start → (QueueRequest)* → Stop → Close. QueueRequest may be called
// concurrently with completions but only from one goroutine.
type Source interface {
	// Open starts the vendor manager and acquires the first camera.
	Open() error

	// Configure applies the stream configuration and reports whether
	// the source accepted, adjusted, or rejected it.
	Configure(cfg StreamConfig) (Validation, error)

	// MapBuffers allocates and memory-maps count DMA buffers of
	// frameBytes each. The buffer at index i answers to cookie i for
	// the lifetime of the source.
	MapBuffers(count, frameBytes int) ([][]byte, error)

	// OnRequestComplete installs the completion callback. Must be
	// called before Start.
	OnRequestComplete(fn func(Completion))

	// QueueRequest submits the capture request owning the given
	// cookie. It must not allocate; it is reached from the trigger
	// dispatch path.
	QueueRequest(cookie int) error

	// Start begins capture with the given controls applied.
	Start(ctrl Controls) error

	// Stop halts capture. In-flight requests complete with
	// StatusCancelled.
	Stop() error

	// Close releases buffers, the camera, and the manager, in that
	// order. The source is unusable afterwards.
	Close() error
}
