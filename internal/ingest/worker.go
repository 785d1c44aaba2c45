package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"runtime"
	"sync"

	"github.com/google/uuid"

	"github.com/AlecFessler/hand-motion-capture/internal/codec"
	"github.com/AlecFessler/hand-motion-capture/internal/config"
	"github.com/AlecFessler/hand-motion-capture/internal/rtsched"
)

// DecoderFactory opens a fresh decoder for each connection; decoder
// state never spans connections.
type DecoderFactory func() (codec.Decoder, error)

// Worker serves one camera: it listens on the camera's port, accepts
// one connection at a time, and runs each connection's session on an
// OS thread pinned to the camera's core. Connections are
// re-established at packet boundaries only; a connection that dies
// mid-frame is simply terminated and the listener accepts the next.
type Worker struct {
	route      config.CameraRoute
	frameBytes int
	newDecoder DecoderFactory
	onFrame    FrameFunc

	listening     chan struct{}
	listeningOnce sync.Once
	addr          string
}

// NewWorker wires a worker for one camera route.
func NewWorker(route config.CameraRoute, frameBytes int, newDecoder DecoderFactory, onFrame FrameFunc) *Worker {
	return &Worker{
		route:      route,
		frameBytes: frameBytes,
		newDecoder: newDecoder,
		onFrame:    onFrame,
		listening:  make(chan struct{}),
	}
}

// Listening closes once the worker's listener is accepting, or the
// worker failed before reaching it; check Run's error either way.
func (w *Worker) Listening() <-chan struct{} { return w.listening }

// Addr returns the bound listen address once Listening has closed.
func (w *Worker) Addr() string { return w.addr }

// Run accepts and serves connections until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) error {
	defer w.listeningOnce.Do(func() { close(w.listening) })

	runtime.LockOSThread()
	defer runtime.UnlockOSThread()
	if err := rtsched.PinThread(w.route.Core); err != nil {
		return fmt.Errorf("ingest: worker %s: %w", w.route.Name, err)
	}

	lc := net.ListenConfig{}
	ln, err := lc.Listen(ctx, "tcp", fmt.Sprintf(":%d", w.route.Port))
	if err != nil {
		return fmt.Errorf("ingest: worker %s: listen :%d: %w", w.route.Name, w.route.Port, err)
	}
	defer ln.Close()
	w.addr = ln.Addr().String()
	w.listeningOnce.Do(func() { close(w.listening) })
	slog.Info("ingest worker listening",
		"camera", w.route.Name,
		"port", w.route.Port,
		"core", w.route.Core,
	)

	// Close the listener when ctx ends so Accept unblocks.
	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("ingest: worker %s: accept: %w", w.route.Name, err)
		}
		w.serve(conn)
		if ctx.Err() != nil {
			return nil
		}
	}
}

func (w *Worker) serve(conn net.Conn) {
	defer conn.Close()

	sessionID := uuid.New().String()
	slog.Info("stream connected",
		"camera", w.route.Name,
		"remote", conn.RemoteAddr().String(),
		"session", sessionID,
	)

	dec, err := w.newDecoder()
	if err != nil {
		slog.Error("decoder unavailable",
			"camera", w.route.Name,
			"session", sessionID,
			"error", err,
		)
		return
	}
	defer dec.Close()

	session := NewSession(w.route.Name, dec, w.frameBytes, w.onFrame)
	if err := session.Run(conn); err != nil {
		if errors.Is(err, ErrProtocol) {
			slog.Error("connection terminated",
				"camera", w.route.Name,
				"session", sessionID,
				"error", err,
			)
		} else {
			slog.Error("session failed",
				"camera", w.route.Name,
				"session", sessionID,
				"error", err,
			)
		}
		return
	}
	slog.Info("stream complete",
		"camera", w.route.Name,
		"session", sessionID,
		"frames", session.Frames(),
	)
}
