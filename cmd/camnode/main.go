// Command camnode runs the camera side of the capture pipeline:
// GPIO-triggered capture into DMA buffers, zero-copy handoff to a
// realtime encode loop, and length-framed H.264 streaming over TCP.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"sync/atomic"

	"golang.org/x/sys/unix"

	"github.com/AlecFessler/hand-motion-capture/internal/camera"
	"github.com/AlecFessler/hand-motion-capture/internal/codec"
	"github.com/AlecFessler/hand-motion-capture/internal/config"
	"github.com/AlecFessler/hand-motion-capture/internal/framequeue"
	"github.com/AlecFessler/hand-motion-capture/internal/logging"
	"github.com/AlecFessler/hand-motion-capture/internal/streamer"
	"github.com/AlecFessler/hand-motion-capture/internal/trigger"
)

func main() {
	configPath := flag.String("config", "config.txt", "path to configuration file")
	debug := flag.Bool("debug", false, "enable debug logging")
	flag.Parse()

	os.Exit(run(*configPath, *debug))
}

func run(configPath string, debug bool) int {
	cfg, err := config.LoadNode(configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}

	closeLog, err := logging.Setup(cfg.LogFile, debug)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	defer closeLog()

	if err := runPipeline(cfg); err != nil {
		slog.Error("camnode failed", "error", err)
		return exitCode(err)
	}
	return 0
}

// runPipeline brings the pipeline up in dependency order, runs until
// a shutdown signal, and tears down in reverse.
func runPipeline(cfg *config.Node) error {
	frameQueue := framequeue.NewSPSC[camera.Frame](cfg.DMABuffers)
	queueCounter := framequeue.NewCounting(cfg.DMABuffers)

	cam, err := camera.New(
		camera.Config{
			Width:       cfg.FrameWidth,
			Height:      cfg.FrameHeight,
			BufferCount: cfg.DMABuffers,
			Controls:    camera.DefaultControls(cfg.FrameDurationMin, cfg.FrameDurationMax),
		},
		camera.NewGstSource(),
		frameQueue,
		queueCounter,
	)
	if err != nil {
		return err
	}
	defer cam.Close()

	enc, err := codec.NewH264Encoder(cfg.FrameWidth, cfg.FrameHeight, cfg.FrameDurationMin)
	if err != nil {
		return err
	}
	defer enc.Close()

	sink := streamer.NewSink(cfg.ServerAddr())
	wd := trigger.NewWatchdog(trigger.WatchdogInterval, sink.Disconnect)

	var running atomic.Bool
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stream := streamer.New(
		streamer.Config{
			RecordingCPU: cfg.RecordingCPU,
			Connect:      streamer.DefaultConnectConfig(),
		},
		frameQueue, queueCounter, enc, sink, wd, &running,
	)
	go stream.Run(ctx)

	// Readiness handshake: the consumer must be realtime, connected,
	// and consuming before the first trigger can queue a capture
	// request, or the backpressure check could pass against an
	// un-drained queue.
	<-stream.Ready()
	if err := stream.Err(); err != nil {
		return err
	}
	running.Store(true)
	stream.Begin()

	dispatcher := trigger.NewDispatcher(cam, sink, &running, queueCounter)
	dispatcher.Start()

	if err := trigger.RegisterPID(trigger.ProcGPIOPIDPath); err != nil {
		running.Store(false)
		queueCounter.Post()
		return err
	}
	slog.Info("registered with gpio driver", "pid", os.Getpid())

	<-dispatcher.Done()
	slog.Info("shutting down")

	<-stream.Done()
	return stream.Err()
}

// exitCode preserves the errno of init failures for the operator,
// matching the convention of exiting with -errno.
func exitCode(err error) int {
	var errno unix.Errno
	if errors.As(err, &errno) {
		return -int(errno)
	}
	var pathErr *os.PathError
	if errors.As(err, &pathErr) {
		if errors.As(pathErr.Err, &errno) {
			return -int(errno)
		}
	}
	return 1
}
