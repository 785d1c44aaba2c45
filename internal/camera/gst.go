package camera

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/tinyzimmer/go-gst/gst"
	"github.com/tinyzimmer/go-gst/gst/app"
	"golang.org/x/sys/unix"
)

// GstSource implements Source on top of a GStreamer pipeline:
//
//	libcamerasrc → capsfilter(I420, WxH, fps) → appsink
//
// The pipeline is push-based while the Source contract is
// request-driven, so the appsink callback consumes one outstanding
// request cookie per sample: the sample is copied into that cookie's
// mapped buffer and a completion fires. Samples arriving with no
// outstanding request belong to the hardware and are discarded
// without touching any mapped buffer.
type GstSource struct {
	pipeline   *gst.Pipeline
	src        *gst.Element
	capsfilter *gst.Element
	appsink    *app.Sink

	cfg        StreamConfig
	configured bool

	bufs [][]byte // unix.Mmap regions, index = cookie

	// pending holds cookies of submitted-but-unfilled requests,
	// oldest first. Channel ops are the only synchronization between
	// QueueRequest and the appsink goroutine.
	pending chan int

	mu       sync.Mutex
	complete func(Completion)
	started  bool
}

// NewGstSource returns an unopened source.
func NewGstSource() *GstSource {
	return &GstSource{}
}

// Open initializes GStreamer and acquires the camera element. A
// missing libcamerasrc element means no camera stack is present.
func (g *GstSource) Open() error {
	gst.Init(nil)

	pipeline, err := gst.NewPipeline("")
	if err != nil {
		return fmt.Errorf("gst: create pipeline: %w", err)
	}

	src, err := gst.NewElement("libcamerasrc")
	if err != nil {
		return fmt.Errorf("%w: libcamerasrc unavailable: %s", ErrNoCamera, err)
	}

	g.pipeline = pipeline
	g.src = src
	return nil
}

// Configure builds the fixed-format capture chain. Only exact YUV420
// with even dimensions is reported Valid; odd dimensions would be
// rounded by the converter, so they come back Adjusted, and anything
// else is Invalid.
func (g *GstSource) Configure(cfg StreamConfig) (Validation, error) {
	if g.pipeline == nil {
		return ConfigInvalid, fmt.Errorf("gst: source not open")
	}
	if cfg.PixelFormat != PixelFormatYUV420 {
		return ConfigInvalid, nil
	}
	if cfg.Width <= 0 || cfg.Height <= 0 || cfg.BufferCount < 1 {
		return ConfigInvalid, nil
	}
	if cfg.Width%2 != 0 || cfg.Height%2 != 0 {
		return ConfigAdjusted, nil
	}

	capsfilter, err := gst.NewElement("capsfilter")
	if err != nil {
		return ConfigInvalid, fmt.Errorf("gst: create capsfilter: %w", err)
	}
	capsfilter.SetProperty("caps", gst.NewCapsFromString(buildCaps(cfg, 0)))

	appsink, err := app.NewAppSink()
	if err != nil {
		return ConfigInvalid, fmt.Errorf("gst: create appsink: %w", err)
	}
	appsink.SetProperty("sync", false)
	appsink.SetProperty("max-buffers", cfg.BufferCount)
	appsink.SetProperty("drop", false)

	g.pipeline.AddMany(g.src, capsfilter, appsink.Element)
	if err := gst.ElementLinkMany(g.src, capsfilter, appsink.Element); err != nil {
		return ConfigInvalid, fmt.Errorf("gst: link pipeline: %w", err)
	}

	appsink.SetCallbacks(&app.SinkCallbacks{
		NewSampleFunc: g.onNewSample,
	})

	g.capsfilter = capsfilter
	g.appsink = appsink
	g.cfg = cfg
	g.pending = make(chan int, cfg.BufferCount)
	g.configured = true
	return ConfigValid, nil
}

// MapBuffers allocates count anonymous shared mappings standing in
// for the DMA buffers libcamera would export. Cookie i maps to
// bufs[i] for the lifetime of the source.
func (g *GstSource) MapBuffers(count, frameBytes int) ([][]byte, error) {
	if !g.configured {
		return nil, fmt.Errorf("gst: source not configured")
	}
	bufs := make([][]byte, 0, count)
	for i := 0; i < count; i++ {
		b, err := unix.Mmap(-1, 0, frameBytes,
			unix.PROT_READ|unix.PROT_WRITE,
			unix.MAP_SHARED|unix.MAP_ANONYMOUS)
		if err != nil {
			for _, m := range bufs {
				unix.Munmap(m)
			}
			return nil, fmt.Errorf("gst: mmap buffer %d: %w", i, err)
		}
		bufs = append(bufs, b)
	}
	g.bufs = bufs
	return bufs, nil
}

// OnRequestComplete installs the completion callback.
func (g *GstSource) OnRequestComplete(fn func(Completion)) {
	g.mu.Lock()
	g.complete = fn
	g.mu.Unlock()
}

// QueueRequest hands the cookie's buffer back to the hardware side.
// Wait-free: a single channel send into a ring sized to the buffer
// count. A full ring means every buffer is already hardware-owned,
// which the handler's backpressure check should have prevented.
func (g *GstSource) QueueRequest(cookie int) error {
	if cookie < 0 || cookie >= len(g.bufs) {
		return fmt.Errorf("gst: cookie %d out of range", cookie)
	}
	select {
	case g.pending <- cookie:
		return nil
	default:
		return fmt.Errorf("gst: all %d requests outstanding", cap(g.pending))
	}
}

// Start applies controls and sets the pipeline playing. Frame
// duration bounds become the caps framerate; controls libcamerasrc
// does not expose through GStreamer are logged and rely on the tuning
// file on target.
func (g *GstSource) Start(ctrl Controls) error {
	if !g.configured {
		return fmt.Errorf("gst: source not configured")
	}

	if ctrl.FrameDurationMin > 0 {
		fps := int((time.Second + ctrl.FrameDurationMin/2) / ctrl.FrameDurationMin)
		if fps < 1 {
			fps = 1
		}
		g.capsfilter.SetProperty("caps", gst.NewCapsFromString(buildCaps(g.cfg, fps)))
	}

	// libcamerasrc exposes only a subset of the control surface;
	// exposure, gain, white balance, and lens position come from the
	// camera tuning file on the target.
	slog.Info("camera controls",
		"frame_duration_min", ctrl.FrameDurationMin,
		"frame_duration_max", ctrl.FrameDurationMax,
		"exposure_time", ctrl.ExposureTime,
		"lens_position", ctrl.LensPosition,
		"analogue_gain", ctrl.AnalogueGain,
		"ae", ctrl.AutoExposure,
		"awb", ctrl.AutoWhiteBalance,
		"af", ctrl.AutoFocus,
		"hdr", ctrl.HDR,
		"stats_output", ctrl.StatsOutput,
	)

	if err := g.pipeline.SetState(gst.StatePlaying); err != nil {
		return fmt.Errorf("gst: set pipeline playing: %w", err)
	}
	g.mu.Lock()
	g.started = true
	g.mu.Unlock()
	return nil
}

// Stop halts the pipeline and cancels every outstanding request.
func (g *GstSource) Stop() error {
	g.mu.Lock()
	wasStarted := g.started
	g.started = false
	complete := g.complete
	g.mu.Unlock()

	if !wasStarted {
		return nil
	}
	if err := g.pipeline.SetState(gst.StateNull); err != nil {
		return fmt.Errorf("gst: set pipeline null: %w", err)
	}

	// Drain outstanding cookies; each aborted request completes with
	// StatusCancelled so the handler's accounting stays balanced.
	for {
		select {
		case cookie := <-g.pending:
			if complete != nil {
				complete(Completion{Cookie: cookie, Status: StatusCancelled})
			}
		default:
			return nil
		}
	}
}

// Close unmaps the buffers and releases the pipeline.
func (g *GstSource) Close() error {
	g.Stop()
	var firstErr error
	for i, b := range g.bufs {
		if err := unix.Munmap(b); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("gst: munmap buffer %d: %w", i, err)
		}
	}
	g.bufs = nil
	if g.pipeline != nil {
		g.pipeline.SetState(gst.StateNull)
		g.pipeline = nil
	}
	return firstErr
}

// onNewSample runs on the streaming thread for every capture the
// hardware produces. If a request is outstanding, the sample fills
// that cookie's buffer and completes the request; otherwise the
// sample is hardware-paced output nobody asked for and is dropped.
func (g *GstSource) onNewSample(sink *app.Sink) gst.FlowReturn {
	sample := sink.PullSample()
	if sample == nil {
		slog.Warn("gst: failed to pull sample from appsink")
		return gst.FlowOK
	}

	var cookie int
	select {
	case cookie = <-g.pending:
	default:
		// No outstanding request; frame stays hardware-owned.
		return gst.FlowOK
	}

	buffer := sample.GetBuffer()
	if buffer == nil {
		slog.Warn("gst: sample carried no buffer", "cookie", cookie)
		g.completeWith(Completion{Cookie: cookie, Status: StatusError})
		return gst.FlowOK
	}

	mapInfo := buffer.Map(gst.MapRead)
	data := mapInfo.Bytes()
	if len(data) != len(g.bufs[cookie]) {
		buffer.Unmap()
		slog.Error("gst: sample size mismatch",
			"cookie", cookie,
			"got", len(data),
			"want", len(g.bufs[cookie]),
		)
		g.completeWith(Completion{Cookie: cookie, Status: StatusError})
		return gst.FlowOK
	}
	copy(g.bufs[cookie], data)
	buffer.Unmap()

	ts := uint64(buffer.PresentationTimestamp())
	g.completeWith(Completion{
		Cookie:            cookie,
		Status:            StatusComplete,
		SensorTimestampNS: ts,
	})
	return gst.FlowOK
}

func (g *GstSource) completeWith(c Completion) {
	g.mu.Lock()
	fn := g.complete
	g.mu.Unlock()
	if fn != nil {
		fn(c)
	}
}

// buildCaps renders the fixed-format caps string; fps 0 omits the
// framerate constraint.
func buildCaps(cfg StreamConfig, fps int) string {
	if fps > 0 {
		return fmt.Sprintf("video/x-raw,format=I420,width=%d,height=%d,framerate=%d/1",
			cfg.Width, cfg.Height, fps)
	}
	return fmt.Sprintf("video/x-raw,format=I420,width=%d,height=%d", cfg.Width, cfg.Height)
}
