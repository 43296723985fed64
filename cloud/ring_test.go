package cloud

import (
	"fmt"
	"testing"
)

func TestRingDropOldest(t *testing.T) {
	const capacity = 100
	ring := NewFrameRing(capacity)

	// capacity+k pushes while disconnected keep exactly the most recent
	// capacity frames.
	const k = 25
	for i := 0; i < capacity+k; i++ {
		ring.Push([]byte(fmt.Sprintf("frame-%d", i)))
	}

	if ring.Len() != capacity {
		t.Fatalf("ring holds %d frames, want %d", ring.Len(), capacity)
	}
	if ring.Dropped() != k {
		t.Errorf("dropped %d frames, want %d", ring.Dropped(), k)
	}

	// Remaining frames are k..capacity+k-1 in capture order.
	for i := 0; i < capacity; i++ {
		frame, ok := ring.Pop()
		if !ok {
			t.Fatalf("ring empty after %d pops", i)
		}
		want := fmt.Sprintf("frame-%d", i+k)
		if string(frame) != want {
			t.Fatalf("pop %d = %q, want %q", i, frame, want)
		}
	}
	if _, ok := ring.Pop(); ok {
		t.Error("ring should be empty")
	}
}

func TestRingRequeue(t *testing.T) {
	ring := NewFrameRing(3)
	ring.Push([]byte("a"))
	ring.Push([]byte("b"))

	frame, _ := ring.Pop()
	ring.Requeue(frame)

	got, _ := ring.Pop()
	if string(got) != "a" {
		t.Errorf("requeued frame not at front: got %q", got)
	}

	// Requeue into a full ring discards the frame: it is the oldest.
	ring.Push([]byte("c"))
	ring.Push([]byte("d"))
	ring.Push([]byte("e"))
	dropped := ring.Dropped()
	ring.Requeue([]byte("old"))
	if ring.Len() != 3 {
		t.Errorf("full ring grew to %d on requeue", ring.Len())
	}
	if ring.Dropped() != dropped+1 {
		t.Errorf("requeue overflow not counted as drop")
	}
	if got, _ := ring.Pop(); string(got) != "c" {
		t.Errorf("head after rejected requeue = %q, want %q", got, "c")
	}
}

func TestRingSignal(t *testing.T) {
	ring := NewFrameRing(2)
	select {
	case <-ring.C():
		t.Fatal("empty ring signalled")
	default:
	}

	ring.Push([]byte("x"))
	select {
	case <-ring.C():
	default:
		t.Fatal("push did not signal")
	}
}
