package camera

import "errors"

var (
	// ErrBufferNotReady means the consumer has fallen behind the
	// trigger rate and no DMA buffer is safely available for a new
	// capture request. Not recoverable in-process; the operator is
	// expected to lower the framerate or exposure.
	ErrBufferNotReady = errors.New("camera: buffer not ready for requeuing")

	// ErrQueueFailed means the vendor source rejected a request
	// submission.
	ErrQueueFailed = errors.New("camera: failed to queue request")

	// ErrNoCamera means enumeration found no capture device.
	ErrNoCamera = errors.New("camera: no cameras available")

	// ErrConfigRejected means the source could not apply the stream
	// configuration exactly as requested.
	ErrConfigRejected = errors.New("camera: configuration rejected")
)
