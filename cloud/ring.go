package cloud

import "sync"

// FrameRing is the bounded outbound audio buffer. On overflow it evicts the
// oldest frame rather than rejecting the write: once the buffer is saturated
// stale audio has no value, recency does. Multiple producers (the audio
// pipeline, re-queues from the sender loop) share it with one consumer.
type FrameRing struct {
	mu      sync.Mutex
	buf     [][]byte
	head    int
	size    int
	dropped uint64

	signal chan struct{}
}

// NewFrameRing allocates a ring holding at most capacity frames.
func NewFrameRing(capacity int) *FrameRing {
	return &FrameRing{
		buf:    make([][]byte, capacity),
		signal: make(chan struct{}, 1),
	}
}

// Push appends a frame, evicting the oldest when full.
func (r *FrameRing) Push(frame []byte) {
	r.mu.Lock()
	if r.size == len(r.buf) {
		r.head = (r.head + 1) % len(r.buf)
		r.size--
		r.dropped++
	}
	r.buf[(r.head+r.size)%len(r.buf)] = frame
	r.size++
	r.mu.Unlock()

	select {
	case r.signal <- struct{}{}:
	default:
	}
}

// Requeue puts a frame back at the front of the ring; the sender uses it
// when a dequeued frame could not be transmitted. When the ring is full the
// frame is the oldest element, so the same drop-oldest policy discards it.
func (r *FrameRing) Requeue(frame []byte) {
	r.mu.Lock()
	if r.size == len(r.buf) {
		r.dropped++
		r.mu.Unlock()
		return
	}
	r.head = (r.head - 1 + len(r.buf)) % len(r.buf)
	r.buf[r.head] = frame
	r.size++
	r.mu.Unlock()
}

// Pop removes and returns the oldest frame.
func (r *FrameRing) Pop() ([]byte, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.size == 0 {
		return nil, false
	}
	frame := r.buf[r.head]
	r.buf[r.head] = nil
	r.head = (r.head + 1) % len(r.buf)
	r.size--
	return frame, true
}

// Len returns the number of buffered frames.
func (r *FrameRing) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.size
}

// Dropped returns how many frames the overflow policy has evicted.
func (r *FrameRing) Dropped() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.dropped
}

// C signals that at least one frame may be available. The signal is
// coalesced; consumers drain with Pop until it returns false.
func (r *FrameRing) C() <-chan struct{} {
	return r.signal
}

// wake nudges the consumer without adding a frame, used after a reconnect
// so frames buffered while offline start draining.
func (r *FrameRing) wake() {
	select {
	case r.signal <- struct{}{}:
	default:
	}
}
