// Command ingestd receives camera streams, decodes them, and hands
// timestamped frames to the dataset pipeline. One worker per
// configured camera, each pinned to its own core.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/coreos/go-systemd/v22/daemon"

	"github.com/AlecFessler/hand-motion-capture/internal/codec"
	"github.com/AlecFessler/hand-motion-capture/internal/config"
	"github.com/AlecFessler/hand-motion-capture/internal/fanout"
	"github.com/AlecFessler/hand-motion-capture/internal/ingest"
	"github.com/AlecFessler/hand-motion-capture/internal/logging"
)

func main() {
	configPath := flag.String("config", "server.txt", "path to configuration file")
	debug := flag.Bool("debug", false, "enable debug logging")
	flag.Parse()

	cfg, err := config.LoadServer(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	if _, err := logging.Setup("", *debug); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	if err := run(cfg); err != nil {
		slog.Error("ingestd failed", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Server) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	frameBytes := cfg.FrameWidth * cfg.FrameHeight * 3 / 2

	bus := fanout.New()
	defer bus.Close()

	var sinkDone <-chan struct{}
	if cfg.DatasetDir != "" {
		frames, err := bus.Subscribe("dataset", 64)
		if err != nil {
			return err
		}
		sink := ingest.NewDatasetSink(cfg.DatasetDir, frames)
		go sink.Run(ctx)
		sinkDone = sink.Done()
		slog.Info("dataset sink enabled", "dir", cfg.DatasetDir)
	}

	var wg sync.WaitGroup
	errCh := make(chan error, len(cfg.Cameras))
	workers := make([]*ingest.Worker, 0, len(cfg.Cameras))

	for _, route := range cfg.Cameras {
		route := route
		onFrame := func(ts uint64, frame []byte) error {
			return bus.Publish(ctx, route.Name, ts, frame)
		}
		w := ingest.NewWorker(route, frameBytes, func() (codec.Decoder, error) {
			return codec.NewH264Decoder()
		}, onFrame)
		workers = append(workers, w)

		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := w.Run(ctx); err != nil {
				errCh <- err
			}
		}()
	}

	for _, w := range workers {
		<-w.Listening()
	}
	if ok, err := daemon.SdNotify(false, daemon.SdNotifyReady); err != nil {
		slog.Warn("sd_notify failed", "error", err)
	} else if ok {
		slog.Debug("sd_notify ready sent")
	}
	slog.Info("all ingest workers listening", "cameras", len(cfg.Cameras))

	var runErr error
	select {
	case sig := <-sigCh:
		slog.Info("received shutdown signal", "signal", sig)
	case runErr = <-errCh:
	}
	cancel()
	wg.Wait()
	bus.Close()
	if sinkDone != nil {
		<-sinkDone
	}
	return runErr
}
