package fanout_test

import (
	"context"
	"testing"
	"time"

	"github.com/AlecFessler/hand-motion-capture/internal/fanout"
)

// TestPublishDeliversToAllSubscribers validates lossless fan-out:
// every subscriber sees every frame, in publish order.
func TestPublishDeliversToAllSubscribers(t *testing.T) {
	bus := fanout.New()
	defer bus.Close()

	a, err := bus.Subscribe("sink-a", 8)
	if err != nil {
		t.Fatalf("Subscribe(a): %v", err)
	}
	b, err := bus.Subscribe("sink-b", 8)
	if err != nil {
		t.Fatalf("Subscribe(b): %v", err)
	}

	ctx := context.Background()
	for i := 0; i < 5; i++ {
		if err := bus.Publish(ctx, "cam0", uint64(i*100), []byte{byte(i)}); err != nil {
			t.Fatalf("Publish #%d: %v", i, err)
		}
	}

	for name, ch := range map[string]<-chan fanout.Frame{"a": a, "b": b} {
		for i := 0; i < 5; i++ {
			f := <-ch
			if f.TimestampNS != uint64(i*100) || f.Data[0] != byte(i) {
				t.Fatalf("sink %s frame %d = {ts %d data %v}", name, i, f.TimestampNS, f.Data)
			}
		}
	}

	if stats := bus.Stats(); stats.Published != 5 || stats.Subscribers != 2 {
		t.Fatalf("Stats() = %+v", stats)
	}
}

// TestPublishCopiesData validates the reuse contract: mutating the
// source buffer after Publish must not affect delivered frames.
func TestPublishCopiesData(t *testing.T) {
	bus := fanout.New()
	defer bus.Close()

	ch, _ := bus.Subscribe("sink", 1)
	buf := []byte{1, 2, 3}
	bus.Publish(context.Background(), "cam0", 1, buf)
	buf[0] = 99

	f := <-ch
	if f.Data[0] != 1 {
		t.Fatal("delivered frame aliases the publisher's buffer")
	}
}

// TestPublishBlocksOnFullMailbox validates the no-drop policy:
// Publish blocks on a full subscriber until it consumes or the
// context ends, and never discards a frame.
func TestPublishBlocksOnFullMailbox(t *testing.T) {
	bus := fanout.New()
	defer bus.Close()

	ch, _ := bus.Subscribe("slow", 1)
	ctx := context.Background()

	bus.Publish(ctx, "cam0", 1, nil) // fills the mailbox

	blocked := make(chan error, 1)
	go func() {
		blocked <- bus.Publish(ctx, "cam0", 2, nil)
	}()

	select {
	case err := <-blocked:
		t.Fatalf("Publish returned %v with a full mailbox", err)
	case <-time.After(20 * time.Millisecond):
	}

	<-ch // consume; publisher unblocks
	if err := <-blocked; err != nil {
		t.Fatalf("Publish after consume: %v", err)
	}

	// Context cancellation releases a blocked publisher. Frame 2 now
	// occupies the mailbox; drain it so frame 3 can refill it.
	<-ch
	bus.Publish(ctx, "cam0", 3, nil) // fills the mailbox
	cctx, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	if err := bus.Publish(cctx, "cam0", 4, nil); err == nil {
		t.Fatal("Publish did not honor context cancellation")
	}
}

// TestUnsubscribeAndClose validates teardown: unsubscribing closes
// the channel, duplicate ids are rejected, and a closed bus refuses
// publishes.
func TestUnsubscribeAndClose(t *testing.T) {
	bus := fanout.New()

	ch, _ := bus.Subscribe("sink", 1)
	if _, err := bus.Subscribe("sink", 1); err == nil {
		t.Fatal("duplicate Subscribe accepted")
	}

	bus.Unsubscribe("sink")
	if _, ok := <-ch; ok {
		t.Fatal("channel open after Unsubscribe")
	}
	bus.Unsubscribe("sink") // idempotent

	bus.Close()
	if err := bus.Publish(context.Background(), "cam0", 1, nil); err == nil {
		t.Fatal("Publish accepted on closed bus")
	}
}
