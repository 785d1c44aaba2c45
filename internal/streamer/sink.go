// Package streamer runs the realtime consumer side of the camera
// node: the encode loop fed by the SPSC queue, and the reconnecting
// TCP sink the encoded packets flow into.
package streamer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync/atomic"
	"time"

	"github.com/AlecFessler/hand-motion-capture/internal/wire"
)

// ErrTransmit means a packet could not be written; the packet is lost
// and the sink will redial at the next packet boundary.
var ErrTransmit = errors.New("streamer: transmit failed")

// ConnectConfig bounds the initial-connect retry loop.
type ConnectConfig struct {
	MaxRetries    int
	RetryDelay    time.Duration
	MaxRetryDelay time.Duration
}

// DefaultConnectConfig returns the standard backoff bounds.
func DefaultConnectConfig() ConnectConfig {
	return ConnectConfig{
		MaxRetries:    5,
		RetryDelay:    1 * time.Second,
		MaxRetryDelay: 30 * time.Second,
	}
}

// Sink owns the stream socket. The encode loop is the only writer;
// the watchdog and the shutdown path are the only closers. A close
// racing a write is tolerated: the write surfaces an error, the
// packet is lost, and the next packet redials.
type Sink struct {
	addr string
	conn atomic.Pointer[net.TCPConn]

	dialer net.Dialer
}

// NewSink creates a sink for the given host:port. No connection is
// attempted until Connect.
func NewSink(addr string) *Sink {
	return &Sink{addr: addr}
}

// Connect establishes the initial connection with capped exponential
// backoff. Gives up after the initial attempt plus cfg.MaxRetries
// retries have failed, or when ctx is cancelled.
func (s *Sink) Connect(ctx context.Context, cfg ConnectConfig) error {
	var retries int
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		err := s.dial(ctx)
		if err == nil {
			slog.Info("stream connection established", "addr", s.addr)
			return nil
		}
		slog.Error("stream connection failed", "addr", s.addr, "error", err)

		retries++
		if retries > cfg.MaxRetries {
			return fmt.Errorf("streamer: connect %s: max retries exceeded (%d attempts)", s.addr, retries)
		}

		delay := cfg.RetryDelay * time.Duration(1<<uint(retries-1))
		if delay > cfg.MaxRetryDelay {
			delay = cfg.MaxRetryDelay
		}
		slog.Warn("retrying stream connection",
			"attempt", retries,
			"max_retries", cfg.MaxRetries,
			"delay", delay,
		)
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (s *Sink) dial(ctx context.Context) error {
	c, err := s.dialer.DialContext(ctx, "tcp", s.addr)
	if err != nil {
		return err
	}
	tc := c.(*net.TCPConn)
	tc.SetNoDelay(true)
	if old := s.conn.Swap(tc); old != nil {
		old.Close()
	}
	return nil
}

// WritePacket writes one wire-framed packet in full. If the socket is
// absent (watchdog or peer dropped it) a single redial is attempted
// first; if that or the write fails the packet is lost and
// ErrTransmit is returned. net will retry EINTR and short writes
// internally, so a non-nil error here is a dead connection.
func (s *Sink) WritePacket(pkt []byte) error {
	conn := s.conn.Load()
	if conn == nil {
		if err := s.dial(context.Background()); err != nil {
			return fmt.Errorf("%w: redial %s: %s", ErrTransmit, s.addr, err)
		}
		slog.Info("stream connection re-established", "addr", s.addr)
		conn = s.conn.Load()
	}

	for written := 0; written < len(pkt); {
		n, err := conn.Write(pkt[written:])
		written += n
		if err != nil {
			s.dropConn(conn)
			return fmt.Errorf("%w: wrote %d of %d bytes: %s", ErrTransmit, written, len(pkt), err)
		}
	}
	return nil
}

// WriteEndOfStream emits the 8-byte sentinel that closes the stream.
func (s *Sink) WriteEndOfStream() error {
	return s.WritePacket(wire.EndOfStream[:])
}

// Disconnect force-closes the socket. Called by the watchdog and the
// shutdown path; safe against a concurrent write, which will fail and
// trigger a redial.
func (s *Sink) Disconnect() {
	if conn := s.conn.Swap(nil); conn != nil {
		conn.Close()
	}
}

// Connected reports whether a socket is currently held.
func (s *Sink) Connected() bool {
	return s.conn.Load() != nil
}

// Close drops the connection for good.
func (s *Sink) Close() error {
	s.Disconnect()
	return nil
}

func (s *Sink) dropConn(conn *net.TCPConn) {
	if s.conn.CompareAndSwap(conn, nil) {
		conn.Close()
	}
}
