// Package codec wraps the video encoder and decoder behind narrow
// contracts so the pipeline treats them as opaque. The production
// implementations sit on go-astiav (ffmpeg); tests substitute fakes.
package codec

import (
	"errors"

	"github.com/AlecFessler/hand-motion-capture/internal/camera"
)

var (
	// ErrAgain means the decoder needs more input before it can emit
	// another frame.
	ErrAgain = errors.New("codec: need more input")

	// ErrEndOfStream means the decoder has been flushed and drained;
	// no further frames will be emitted.
	ErrEndOfStream = errors.New("codec: end of stream")
)

// PacketFunc receives one fully wire-framed packet per encoder
// output. Implementations own transmission; the encoder is oblivious
// to sockets.
type PacketFunc func(pkt []byte) error

// Encoder compresses raw YUV420 frames. Packets are emitted in input
// order, each already carrying the wire header with the source
// frame's timestamp.
type Encoder interface {
	// Encode submits one frame and forwards every packet the codec
	// produces for it to onPacket.
	Encode(f *camera.Frame, onPacket PacketFunc) error

	// Flush drains the codec's internal latency; any remaining
	// packets go to onPacket.
	Flush(onPacket PacketFunc) error

	Close() error
}

// Decoder consumes encoded packets and yields raw frames. Input
// packets and output frames are not 1:1: the codec may buffer several
// packets before the first frame appears.
type Decoder interface {
	// SendPacket submits one encoded packet.
	SendPacket(b []byte) error

	// ReceiveFrame copies the next decoded frame into dst and returns
	// its size. ErrAgain when the codec needs more input, ErrEndOfStream
	// once a flushed codec has fully drained.
	ReceiveFrame(dst []byte) (int, error)

	// Flush signals end of input; subsequent ReceiveFrame calls drain
	// buffered frames and then return ErrEndOfStream.
	Flush() error

	Close() error
}
