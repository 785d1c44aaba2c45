package framequeue

// Counting is a counting semaphore pairing the SPSC queue. Its value
// tracks the number of enqueued frames, except for two tolerated
// skews:
//
//   - it may lag the queue by one while the consumer sits between
//     Wait and Dequeue, and
//   - it may be posted once without a frame to unblock the consumer
//     at shutdown.
//
// Both are absorbed by the camera handler's backpressure margin and
// by the consumer treating a nil Dequeue as a spurious wakeup.
type Counting struct {
	slots chan struct{}
}

// NewCounting creates a semaphore with value 0 and the given maximum.
func NewCounting(capacity int) *Counting {
	if capacity < 1 {
		capacity = 1
	}
	return &Counting{slots: make(chan struct{}, capacity)}
}

// Post increments the semaphore. Non-blocking; returns false if the
// value is already at capacity, which upstream treats as a logic
// error the same way a full queue is.
func (s *Counting) Post() bool {
	select {
	case s.slots <- struct{}{}:
		return true
	default:
		return false
	}
}

// Wait blocks until the value is positive, then decrements it.
func (s *Counting) Wait() {
	<-s.slots
}

// TryWait decrements the value if it is positive, without blocking.
func (s *Counting) TryWait() bool {
	select {
	case <-s.slots:
		return true
	default:
		return false
	}
}

// Value returns a racy snapshot of the current count. Used only by
// the backpressure heuristic, which has a built-in margin.
func (s *Counting) Value() int {
	return len(s.slots)
}

// Cap returns the semaphore's maximum value.
func (s *Counting) Cap() int {
	return cap(s.slots)
}
