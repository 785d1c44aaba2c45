package codec

import (
	"errors"
	"fmt"

	"github.com/asticode/go-astiav"
)

// H264Decoder decodes an H.264 elementary stream with ffmpeg,
// surfacing the codec's native send/receive drain semantics through
// the Decoder contract.
type H264Decoder struct {
	codecCtx *astiav.CodecContext
	frame    *astiav.Frame
	pkt      *astiav.Packet
	flushed  bool
}

// NewH264Decoder opens an H.264 decoder. Output geometry comes from
// the stream itself; a caller buffer smaller than the decoded frame
// surfaces as a truncation error from ReceiveFrame.
func NewH264Decoder() (*H264Decoder, error) {
	avCodec := astiav.FindDecoder(astiav.CodecIDH264)
	if avCodec == nil {
		return nil, fmt.Errorf("codec: h264 decoder not available")
	}

	cc := astiav.AllocCodecContext(avCodec)
	if cc == nil {
		return nil, fmt.Errorf("codec: alloc decoder context")
	}
	if err := cc.Open(avCodec, nil); err != nil {
		cc.Free()
		return nil, fmt.Errorf("codec: open decoder: %w", err)
	}

	return &H264Decoder{
		codecCtx: cc,
		frame:    astiav.AllocFrame(),
		pkt:      astiav.AllocPacket(),
	}, nil
}

// SendPacket submits one encoded packet to the decoder.
func (d *H264Decoder) SendPacket(b []byte) error {
	if d.flushed {
		return fmt.Errorf("codec: send after flush")
	}
	if err := d.pkt.FromData(b); err != nil {
		return fmt.Errorf("codec: wrap packet: %w", err)
	}
	err := d.codecCtx.SendPacket(d.pkt)
	d.pkt.Unref()
	if err != nil {
		return fmt.Errorf("codec: send packet: %w", err)
	}
	return nil
}

// ReceiveFrame copies the next decoded frame into dst. ErrAgain when
// the codec holds no complete frame yet; ErrEndOfStream once a
// flushed codec is fully drained.
func (d *H264Decoder) ReceiveFrame(dst []byte) (int, error) {
	err := d.codecCtx.ReceiveFrame(d.frame)
	if errors.Is(err, astiav.ErrEagain) {
		return 0, ErrAgain
	}
	if errors.Is(err, astiav.ErrEof) {
		return 0, ErrEndOfStream
	}
	if err != nil {
		return 0, fmt.Errorf("codec: receive frame: %w", err)
	}

	b, err := d.frame.Data().Bytes(1)
	if err != nil {
		d.frame.Unref()
		return 0, fmt.Errorf("codec: read frame data: %w", err)
	}
	n := copy(dst, b)
	d.frame.Unref()
	if n < len(b) {
		return n, fmt.Errorf("codec: frame truncated, %d of %d bytes", n, len(b))
	}
	return n, nil
}

// Flush signals end of input; the decoder switches to draining.
func (d *H264Decoder) Flush() error {
	if d.flushed {
		return nil
	}
	d.flushed = true
	if err := d.codecCtx.SendPacket(nil); err != nil {
		return fmt.Errorf("codec: flush decoder: %w", err)
	}
	return nil
}

// Close releases the codec context and reusable buffers.
func (d *H264Decoder) Close() error {
	d.pkt.Free()
	d.frame.Free()
	d.codecCtx.Free()
	return nil
}
