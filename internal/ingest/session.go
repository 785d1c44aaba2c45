package ingest

import (
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/AlecFessler/hand-motion-capture/internal/codec"
	"github.com/AlecFessler/hand-motion-capture/internal/wire"
)

// EncodedFrameBufSize caps a single encoded frame on the wire. A
// size field above this is a protocol violation and terminates the
// connection.
const EncodedFrameBufSize = 1 << 20

// ErrProtocol covers framing violations: short reads, oversized
// frames, decoder rejection, timestamp/frame accounting breaks. A
// protocol error terminates its connection only.
var ErrProtocol = errors.New("ingest: protocol error")

// FrameFunc receives each decoded frame paired with its dequeued
// wire timestamp. The frame slice is reused across calls; receivers
// must copy what they keep.
type FrameFunc func(timestampNS uint64, frame []byte) error

// Session decodes one connection's stream. It owns the decoder, the
// timestamp queue, and the reusable encoded/decoded buffers.
//
// The read loop walks the framing state machine: an 8-byte timestamp
// slot (or the end-of-stream sentinel), a 4-byte size, the frame
// bytes, then a decoder drain. After the sentinel the decoder is
// flushed and drained to exhaustion.
type Session struct {
	camera  string
	dec     codec.Decoder
	tsq     *TimestampQueue
	encBuf  []byte
	decBuf  []byte
	onFrame FrameFunc

	frames uint64
}

// NewSession builds a session around an open decoder. decodedBytes
// sizes the output buffer (W*H*3/2 for YUV420 output).
func NewSession(camera string, dec codec.Decoder, decodedBytes int, onFrame FrameFunc) *Session {
	return &Session{
		camera:  camera,
		dec:     dec,
		tsq:     NewTimestampQueue(),
		encBuf:  make([]byte, EncodedFrameBufSize),
		decBuf:  make([]byte, decodedBytes),
		onFrame: onFrame,
	}
}

// Run consumes the stream until the end-of-stream sentinel or an
// error. A clean sentinel returns nil after the decoder drains; any
// framing violation returns an error wrapping ErrProtocol.
func (s *Session) Run(r io.Reader) error {
	var hdr [wire.HeaderLen]byte

	for {
		if _, err := io.ReadFull(r, hdr[:wire.TimestampLen]); err != nil {
			return fmt.Errorf("%w: reading timestamp: %s", ErrProtocol, err)
		}

		if wire.IsEndOfStream(hdr[:wire.TimestampLen]) {
			slog.Info("end of stream received", "camera", s.camera)
			return s.flushAndDrain()
		}

		ts := wire.Timestamp(hdr[:wire.TimestampLen])
		if !s.tsq.Enqueue(ts) {
			slog.Warn("timestamp regressed on wire",
				"camera", s.camera,
				"timestamp_ns", ts,
			)
		}

		if _, err := io.ReadFull(r, hdr[wire.TimestampLen:]); err != nil {
			return fmt.Errorf("%w: reading frame size: %s", ErrProtocol, err)
		}
		size := wire.FrameSize(hdr[wire.TimestampLen:])
		if size > EncodedFrameBufSize {
			return fmt.Errorf("%w: frame of %d bytes exceeds %d byte buffer", ErrProtocol, size, EncodedFrameBufSize)
		}

		if _, err := io.ReadFull(r, s.encBuf[:size]); err != nil {
			return fmt.Errorf("%w: reading %d frame bytes: %s", ErrProtocol, size, err)
		}
		slog.Debug("packet received",
			"camera", s.camera,
			"bytes", size,
			"timestamp_ns", ts,
		)

		if err := s.dec.SendPacket(s.encBuf[:size]); err != nil {
			return fmt.Errorf("%w: decoder rejected packet: %s", ErrProtocol, err)
		}
		if err := s.drainDecoder(); err != nil {
			if errors.Is(err, io.EOF) {
				// Decoder signalled end of stream on its own.
				slog.Info("decoder ended stream", "camera", s.camera)
				return nil
			}
			return err
		}
	}
}

// drainDecoder pulls every frame the decoder is ready to emit,
// pairing each with the next queued timestamp.
func (s *Session) drainDecoder() error {
	for {
		n, err := s.dec.ReceiveFrame(s.decBuf)
		if errors.Is(err, codec.ErrAgain) {
			return nil
		}
		if errors.Is(err, codec.ErrEndOfStream) {
			return io.EOF
		}
		if err != nil {
			return fmt.Errorf("%w: decode: %s", ErrProtocol, err)
		}

		ts, ok := s.tsq.Dequeue()
		if !ok {
			return fmt.Errorf("%w: decoder emitted more frames than packets received", ErrProtocol)
		}
		s.frames++
		slog.Debug("frame decoded",
			"camera", s.camera,
			"bytes", n,
			"timestamp_ns", ts,
		)
		if s.onFrame != nil {
			if err := s.onFrame(ts, s.decBuf[:n]); err != nil {
				return fmt.Errorf("ingest: frame sink: %w", err)
			}
		}
	}
}

// flushAndDrain runs the decoder to exhaustion after the sentinel.
func (s *Session) flushAndDrain() error {
	if err := s.dec.Flush(); err != nil {
		return fmt.Errorf("%w: flush decoder: %s", ErrProtocol, err)
	}
	err := s.drainDecoder()
	if errors.Is(err, io.EOF) || err == nil {
		slog.Info("stream drained",
			"camera", s.camera,
			"frames", s.frames,
			"timestamps_pending", s.tsq.Len(),
		)
		return nil
	}
	return err
}

// Frames returns the number of decoded frames delivered so far.
func (s *Session) Frames() uint64 { return s.frames }

// Timestamps exposes the queue for invariant checks.
func (s *Session) Timestamps() *TimestampQueue { return s.tsq }
