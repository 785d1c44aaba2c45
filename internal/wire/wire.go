// Package wire defines the packet framing shared by the camera node
// and the ingest server.
//
// Every encoded frame travels as:
//
//	u64 timestamp_ns (big-endian)
//	u32 frame_size   (big-endian)
//	u8  frame_bytes[frame_size]
//
// A stream is closed by a bare 8-byte sentinel occupying the
// timestamp slot; no size or payload follows it.
package wire

import (
	"bytes"
	"encoding/binary"
)

const (
	// TimestampLen is the wire size of the timestamp header field.
	TimestampLen = 8
	// SizeLen is the wire size of the frame size header field.
	SizeLen = 4
	// HeaderLen is the total header size preceding the payload.
	HeaderLen = TimestampLen + SizeLen
)

// EndOfStream is the sentinel written into the timestamp slot to mark
// the end of a stream. The receiver must compare the raw 8 bytes, not
// the decoded integer.
var EndOfStream = [TimestampLen]byte{'E', 'O', 'S', 'T', 'R', 'E', 'A', 'M'}

// AppendPacket appends a fully framed packet to dst and returns the
// extended slice. The payload is copied; dst may be reused across
// calls to amortize allocation.
func AppendPacket(dst []byte, timestampNS uint64, payload []byte) []byte {
	var hdr [HeaderLen]byte
	binary.BigEndian.PutUint64(hdr[:TimestampLen], timestampNS)
	binary.BigEndian.PutUint32(hdr[TimestampLen:], uint32(len(payload)))
	dst = append(dst, hdr[:]...)
	return append(dst, payload...)
}

// Timestamp decodes the timestamp field from an 8-byte header slice.
func Timestamp(b []byte) uint64 {
	return binary.BigEndian.Uint64(b[:TimestampLen])
}

// FrameSize decodes the frame size field from a 4-byte header slice.
func FrameSize(b []byte) uint32 {
	return binary.BigEndian.Uint32(b[:SizeLen])
}

// IsEndOfStream reports whether an 8-byte timestamp slot holds the
// end-of-stream sentinel.
func IsEndOfStream(b []byte) bool {
	return bytes.Equal(b[:TimestampLen], EndOfStream[:])
}
