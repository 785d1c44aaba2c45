package camera_test

import (
	"errors"
	"testing"

	"github.com/AlecFessler/hand-motion-capture/internal/camera"
	"github.com/AlecFessler/hand-motion-capture/internal/framequeue"
)

// fakeSource implements camera.Source in-memory. Queued requests sit
// in submitted until the test fires completions, standing in for the
// hardware's fill latency.
type fakeSource struct {
	validation camera.Validation
	bufs       [][]byte
	complete   func(camera.Completion)

	opened    bool
	closed    bool
	started   bool
	stopped   bool
	submitted []int
}

func newFakeSource() *fakeSource {
	return &fakeSource{validation: camera.ConfigValid}
}

func (f *fakeSource) Open() error { f.opened = true; return nil }

func (f *fakeSource) Configure(cfg camera.StreamConfig) (camera.Validation, error) {
	return f.validation, nil
}

func (f *fakeSource) MapBuffers(count, frameBytes int) ([][]byte, error) {
	f.bufs = make([][]byte, count)
	for i := range f.bufs {
		f.bufs[i] = make([]byte, frameBytes)
	}
	return f.bufs, nil
}

func (f *fakeSource) OnRequestComplete(fn func(camera.Completion)) { f.complete = fn }

func (f *fakeSource) QueueRequest(cookie int) error {
	f.submitted = append(f.submitted, cookie)
	return nil
}

func (f *fakeSource) Start(ctrl camera.Controls) error { f.started = true; return nil }
func (f *fakeSource) Stop() error                      { f.stopped = true; return nil }
func (f *fakeSource) Close() error                     { f.closed = true; return nil }

// fill completes the oldest submitted request with a capture.
func (f *fakeSource) fill(ts uint64) {
	cookie := f.submitted[0]
	f.submitted = f.submitted[1:]
	f.complete(camera.Completion{
		Cookie:            cookie,
		Status:            camera.StatusComplete,
		SensorTimestampNS: ts,
	})
}

func newHandler(t *testing.T, src camera.Source, bufs int) (*camera.Handler, *framequeue.SPSC[camera.Frame], *framequeue.Counting) {
	t.Helper()
	queue := framequeue.NewSPSC[camera.Frame](bufs)
	counter := framequeue.NewCounting(bufs)
	h, err := camera.New(camera.Config{
		Width:       64,
		Height:      48,
		BufferCount: bufs,
		Controls:    camera.Controls{},
	}, src, queue, counter)
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}
	return h, queue, counter
}

// TestInitRejectsAdjustedConfig validates exact-match configuration.
//
// Contract:
//   - both Adjusted and Invalid validation outcomes abort init
//   - the source is closed on the failure path
func TestInitRejectsAdjustedConfig(t *testing.T) {
	for _, v := range []camera.Validation{camera.ConfigAdjusted, camera.ConfigInvalid} {
		src := newFakeSource()
		src.validation = v

		_, err := camera.New(camera.Config{Width: 64, Height: 48, BufferCount: 4},
			src, framequeue.NewSPSC[camera.Frame](4), framequeue.NewCounting(4))
		if !errors.Is(err, camera.ErrConfigRejected) {
			t.Fatalf("validation %v: err = %v, want ErrConfigRejected", v, err)
		}
		if !src.closed {
			t.Fatalf("validation %v: source not closed after failed init", v)
		}
	}
}

// TestQueueRequestAdvancesRing validates the request cursor: cookies
// are submitted in ring order, wrapping at the buffer count.
func TestQueueRequestAdvancesRing(t *testing.T) {
	src := newFakeSource()
	h, queue, counter := newHandler(t, src, 4)

	wantCookies := []int{0, 1, 2, 3, 0}
	for i, wc := range wantCookies {
		if err := h.QueueRequest(); err != nil {
			t.Fatalf("QueueRequest() #%d: %v", i, err)
		}
		// Complete and consume each cycle so backpressure never trips.
		src.fill(uint64(i + 1))
		counter.Wait()
		f := queue.Dequeue()
		if f == nil || f.Cookie != wc {
			t.Fatalf("request #%d used cookie %v, want %d", i, f, wc)
		}
	}
}

// TestBackpressureBoundary validates the N-2 margin exactly.
//
// Contract (with N = 4):
//   - sem count N-2 = 2: QueueRequest succeeds
//   - sem count N-1 = 3: QueueRequest fails ErrBufferNotReady and
//     nothing is submitted
func TestBackpressureBoundary(t *testing.T) {
	src := newFakeSource()
	h, _, counter := newHandler(t, src, 4)

	counter.Post()
	counter.Post() // count = N-2

	if err := h.QueueRequest(); err != nil {
		t.Fatalf("QueueRequest() at count N-2: %v", err)
	}
	submitted := len(src.submitted)

	counter.Post() // count = N-1
	if err := h.QueueRequest(); !errors.Is(err, camera.ErrBufferNotReady) {
		t.Fatalf("QueueRequest() at count N-1 = %v, want ErrBufferNotReady", err)
	}
	if len(src.submitted) != submitted {
		t.Fatal("request submitted despite backpressure refusal")
	}
}

// TestCompletionDeliversFrame validates the producer path: a
// completed request enqueues the cookie's frame and posts the
// counter, in that order, so a woken consumer always finds a frame.
func TestCompletionDeliversFrame(t *testing.T) {
	src := newFakeSource()
	h, queue, counter := newHandler(t, src, 4)

	if err := h.QueueRequest(); err != nil {
		t.Fatalf("QueueRequest(): %v", err)
	}
	src.fill(12345)

	if counter.Value() != 1 {
		t.Fatalf("counter = %d after completion, want 1", counter.Value())
	}
	counter.Wait()
	f := queue.Dequeue()
	if f == nil {
		t.Fatal("no frame enqueued by completion")
	}
	if f.Cookie != 0 || f.TimestampNS != 12345 || f.Seq != 1 {
		t.Fatalf("frame = {cookie %d ts %d seq %d}, want {0 12345 1}", f.Cookie, f.TimestampNS, f.Seq)
	}
	if &f.Data[0] != &src.bufs[0][0] {
		t.Fatal("frame does not alias the DMA buffer (copy detected)")
	}
}

// TestCancelledCompletionNoOps validates the teardown path: a
// cancelled request must not touch the queue or the counter.
func TestCancelledCompletionNoOps(t *testing.T) {
	src := newFakeSource()
	_, queue, counter := newHandler(t, src, 4)

	src.complete(camera.Completion{Cookie: 0, Status: camera.StatusCancelled})

	if counter.Value() != 0 || queue.Len() != 0 {
		t.Fatalf("cancelled completion leaked: counter %d, queue %d", counter.Value(), queue.Len())
	}
}

// TestBufferConservation validates the accounting invariant: across
// an interleaving of requests, completions, and consumes,
// buffers-in-queue + consumer-held + hardware-owned never exceeds N.
func TestBufferConservation(t *testing.T) {
	src := newFakeSource()
	h, queue, counter := newHandler(t, src, 4)

	const n = 4
	consumerHeld := 0
	completions := 0

	check := func(step string) {
		inHW := len(src.submitted)
		inQueue := queue.Len()
		free := n - inHW - inQueue - consumerHeld
		if free < 0 {
			t.Fatalf("%s: conservation broken: hw %d + queue %d + held %d > %d",
				step, inHW, inQueue, consumerHeld, n)
		}
	}

	for cycle := 0; cycle < 3; cycle++ {
		if err := h.QueueRequest(); err != nil {
			t.Fatalf("cycle %d: QueueRequest(): %v", cycle, err)
		}
		check("after request")

		src.fill(uint64(100 + cycle))
		completions++
		check("after completion")

		counter.Wait()
		if f := queue.Dequeue(); f == nil {
			t.Fatalf("cycle %d: no frame after completion", cycle)
		}
		consumerHeld = 1 // held until the next request reuses the slot
		check("after consume")
		consumerHeld = 0
	}

	// Exactly one completion fired per accepted request.
	if completions != 3 || len(src.submitted) != 0 {
		t.Fatalf("completions %d, outstanding %d; want 3, 0", completions, len(src.submitted))
	}
}
