package codec

import (
	"errors"
	"fmt"
	"time"

	"github.com/asticode/go-astiav"

	"github.com/AlecFessler/hand-motion-capture/internal/camera"
	"github.com/AlecFessler/hand-motion-capture/internal/wire"
)

// H264Encoder encodes YUV420 frames with ffmpeg's H.264 encoder and
// frames each output packet for the wire. The frame, packet, and
// scratch buffer are allocated once and reused; Encode performs no
// per-call allocation beyond slice growth in the scratch buffer.
type H264Encoder struct {
	codecCtx *astiav.CodecContext
	frame    *astiav.Frame
	pkt      *astiav.Packet

	scratch []byte
	pts     int64
	lastTS  uint64
}

// NewH264Encoder configures a fixed-framerate H.264 encoder for WxH
// YUV420 input. frameDuration pins the timebase; the GOP spans one
// second so a reconnecting receiver resynchronizes within a second.
func NewH264Encoder(width, height int, frameDuration time.Duration) (*H264Encoder, error) {
	avCodec := astiav.FindEncoder(astiav.CodecIDH264)
	if avCodec == nil {
		return nil, fmt.Errorf("codec: h264 encoder not available")
	}

	cc := astiav.AllocCodecContext(avCodec)
	if cc == nil {
		return nil, fmt.Errorf("codec: alloc encoder context")
	}

	fps := int((time.Second + frameDuration/2) / frameDuration)
	if fps < 1 {
		fps = 1
	}
	cc.SetWidth(width)
	cc.SetHeight(height)
	cc.SetPixelFormat(astiav.PixelFormatYuv420P)
	cc.SetTimeBase(astiav.NewRational(1, fps))
	cc.SetFramerate(astiav.NewRational(fps, 1))
	cc.SetGopSize(fps)

	if err := cc.Open(avCodec, nil); err != nil {
		cc.Free()
		return nil, fmt.Errorf("codec: open encoder: %w", err)
	}

	frame := astiav.AllocFrame()
	frame.SetWidth(width)
	frame.SetHeight(height)
	frame.SetPixelFormat(astiav.PixelFormatYuv420P)
	if err := frame.AllocBuffer(1); err != nil {
		frame.Free()
		cc.Free()
		return nil, fmt.Errorf("codec: alloc frame buffer: %w", err)
	}

	return &H264Encoder{
		codecCtx: cc,
		frame:    frame,
		pkt:      astiav.AllocPacket(),
	}, nil
}

// Encode submits one captured frame and streams out every packet the
// codec produces. Each packet carries the submitting frame's capture
// timestamp in its wire header; the receiver's timestamp queue
// absorbs the codec's packet latency.
func (e *H264Encoder) Encode(f *camera.Frame, onPacket PacketFunc) error {
	if err := e.frame.Data().SetBytes(f.Data, 1); err != nil {
		return fmt.Errorf("codec: load frame data: %w", err)
	}
	e.frame.SetPts(e.pts)
	e.pts++
	e.lastTS = f.TimestampNS

	if err := e.codecCtx.SendFrame(e.frame); err != nil {
		return fmt.Errorf("codec: send frame: %w", err)
	}
	return e.drainPackets(f.TimestampNS, onPacket)
}

// Flush drains the encoder's internal latency. Trailing packets reuse
// the last submitted frame's timestamp; the receiver pairs frames by
// queue position, not by header value.
func (e *H264Encoder) Flush(onPacket PacketFunc) error {
	if err := e.codecCtx.SendFrame(nil); err != nil {
		return fmt.Errorf("codec: flush encoder: %w", err)
	}
	return e.drainPackets(e.lastTS, onPacket)
}

func (e *H264Encoder) drainPackets(timestampNS uint64, onPacket PacketFunc) error {
	for {
		err := e.codecCtx.ReceivePacket(e.pkt)
		if errors.Is(err, astiav.ErrEagain) || errors.Is(err, astiav.ErrEof) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("codec: receive packet: %w", err)
		}

		e.scratch = wire.AppendPacket(e.scratch[:0], timestampNS, e.pkt.Data())
		sendErr := onPacket(e.scratch)
		e.pkt.Unref()
		if sendErr != nil {
			return sendErr
		}
	}
}

// Close releases the codec context and reusable buffers.
func (e *H264Encoder) Close() error {
	e.pkt.Free()
	e.frame.Free()
	e.codecCtx.Free()
	return nil
}
