package glasses

import (
	"fmt"
	"log"
	"sync"
	"time"
)

// ArmWriter is the queue's view of the connection layer: raw writes plus
// per-arm availability. The manager implements it; the queue never touches
// LinkState directly.
type ArmWriter interface {
	WriteArm(side Side, data []byte) error
	ArmReady(side Side) bool
}

// ErrAckTimeout is reported when an arm does not acknowledge a command
// within the configured window.
var ErrAckTimeout = fmt.Errorf("ack timeout")

// ErrQueueStopped is reported to waiters when the queue shuts down while a
// command is in flight or still queued.
var ErrQueueStopped = fmt.Errorf("command queue stopped")

type ackKey struct {
	side   Side
	opcode byte
}

// ackRegistry routes ack-bearing notifications to the waiter blocked on the
// matching (arm, opcode) pair.
type ackRegistry struct {
	mu      sync.Mutex
	waiters map[ackKey]chan byte
}

func newAckRegistry() *ackRegistry {
	return &ackRegistry{waiters: make(map[ackKey]chan byte)}
}

// expect registers a waiter for one ack. The returned channel is buffered
// so delivery never blocks the notification path.
func (r *ackRegistry) expect(side Side, opcode byte) chan byte {
	ch := make(chan byte, 1)
	r.mu.Lock()
	r.waiters[ackKey{side, opcode}] = ch
	r.mu.Unlock()
	return ch
}

func (r *ackRegistry) cancel(side Side, opcode byte) {
	r.mu.Lock()
	delete(r.waiters, ackKey{side, opcode})
	r.mu.Unlock()
}

// Deliver hands an ack status byte to the matching waiter, if any. Acks
// with no waiter are dropped; late acks after a timeout are expected and
// harmless.
func (r *ackRegistry) Deliver(side Side, opcode byte, status byte) {
	r.mu.Lock()
	ch, ok := r.waiters[ackKey{side, opcode}]
	if ok {
		delete(r.waiters, ackKey{side, opcode})
	}
	r.mu.Unlock()
	if ok {
		select {
		case ch <- status:
		default:
		}
	}
}

// CommandQueue serializes outbound commands to the pair. A single worker
// fully processes one Command before dequeuing the next: per target arm it
// writes the command's chunks back-to-back with a small inter-chunk delay,
// then blocks for that arm's ack with a bounded timeout. A timed-out
// command is retried from its first chunk up to MaxAttempts, after which it
// is reported and the queue moves on. The per-command settle delay between
// commands paces the radio; removing it corrupts writes on real hardware.
type CommandQueue struct {
	cfg    *Config
	writer ArmWriter
	acks   *ackRegistry

	queue    chan *Command
	stopChan chan struct{}
	stopOnce sync.Once
	done     chan struct{}
}

// NewCommandQueue creates a stopped queue; Start launches the worker.
func NewCommandQueue(cfg *Config, writer ArmWriter) *CommandQueue {
	return &CommandQueue{
		cfg:      cfg,
		writer:   writer,
		acks:     newAckRegistry(),
		queue:    make(chan *Command, 64),
		stopChan: make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Acks exposes the registry so the notification path can release waiters.
func (q *CommandQueue) Acks() *ackRegistry {
	return q.acks
}

// Start launches the worker goroutine.
func (q *CommandQueue) Start() {
	go q.worker()
}

// Stop shuts the worker down and wakes any blocked ack waiter with a
// failure result.
func (q *CommandQueue) Stop() {
	q.stopOnce.Do(func() { close(q.stopChan) })
	<-q.done
}

// Enqueue adds a command to the FIFO. A full queue rejects rather than
// blocks the caller.
func (q *CommandQueue) Enqueue(cmd *Command) error {
	select {
	case q.queue <- cmd:
		return nil
	case <-q.stopChan:
		return ErrQueueStopped
	default:
		return fmt.Errorf("command queue full")
	}
}

func (q *CommandQueue) worker() {
	defer close(q.done)
	for {
		select {
		case <-q.stopChan:
			q.drain()
			return
		case cmd := <-q.queue:
			err := q.process(cmd)
			if err != nil {
				log.Printf("QUEUE: command 0x%02X failed: %v", cmd.Opcode, err)
			}
			q.report(cmd, err)

			delay := cmd.InterCommandDelay
			if delay == 0 {
				delay = q.cfg.InterCommandDelay
			}
			select {
			case <-time.After(delay):
			case <-q.stopChan:
				q.drain()
				return
			}
		}
	}
}

// drain fails any still-queued commands so their waiters are not parked.
func (q *CommandQueue) drain() {
	for {
		select {
		case cmd := <-q.queue:
			q.report(cmd, ErrQueueStopped)
		default:
			return
		}
	}
}

func (q *CommandQueue) report(cmd *Command, err error) {
	if cmd.Result == nil {
		return
	}
	select {
	case cmd.Result <- err:
	default:
	}
}

// process retries the full command, not just the failing chunk: the
// firmware treats a re-sent command as idempotent.
func (q *CommandQueue) process(cmd *Command) error {
	attempts := cmd.MaxAttempts
	if attempts <= 0 {
		attempts = q.cfg.MaxAttempts
	}

	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		err = q.sendOnce(cmd)
		if err == nil {
			return nil
		}
		if err == ErrQueueStopped {
			return err
		}
		log.Printf("QUEUE: command 0x%02X attempt %d/%d: %v", cmd.Opcode, attempt, attempts, err)
	}
	return err
}

// sendOnce writes the command to every targeted arm in left-to-right order,
// waiting for each arm's ack before moving to the next. Arms that are not
// ready are skipped rather than failed.
func (q *CommandQueue) sendOnce(cmd *Command) error {
	for _, side := range []Side{Left, Right} {
		if !cmd.Targets.Has(side) {
			continue
		}
		if !q.writer.ArmReady(side) {
			continue
		}
		if err := q.sendToArm(side, cmd); err != nil {
			return fmt.Errorf("%s arm: %w", side, err)
		}
	}
	return nil
}

func (q *CommandQueue) sendToArm(side Side, cmd *Command) error {
	var ackCh chan byte
	if cmd.AckRequired {
		ackCh = q.acks.expect(side, cmd.Opcode)
	}

	for i, pkt := range cmd.Packets {
		if i > 0 {
			select {
			case <-time.After(q.cfg.InterChunkDelay):
			case <-q.stopChan:
				q.acks.cancel(side, cmd.Opcode)
				return ErrQueueStopped
			}
		}
		if err := q.writer.WriteArm(side, pkt); err != nil {
			if cmd.AckRequired {
				q.acks.cancel(side, cmd.Opcode)
			}
			return err
		}
	}

	if !cmd.AckRequired {
		return nil
	}

	select {
	case status := <-ackCh:
		expected := q.cfg.ackByte(cmd.Opcode)
		if status != expected {
			return fmt.Errorf("ack status 0x%02X, want 0x%02X", status, expected)
		}
		return nil
	case <-time.After(q.cfg.AckTimeout):
		q.acks.cancel(side, cmd.Opcode)
		return ErrAckTimeout
	case <-q.stopChan:
		q.acks.cancel(side, cmd.Opcode)
		return ErrQueueStopped
	}
}
