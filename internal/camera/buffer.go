package camera

import (
	"sync"
	"time"
)

// frameBuffer is a two-slot swap buffer between the capture goroutine
// and frame consumers. The capture side always writes the inactive
// slot and swaps it in only after the write completes, so readers
// never observe a partially written frame. Readers block on a
// condition variable until a frame newer than the one they last saw
// is published, the buffer closes, or their deadline passes.
type frameBuffer struct {
	mu     sync.Mutex
	cond   *sync.Cond
	slots  [2]*Frame
	active int // index of the slot readers see; -1 until first publish
	seq    uint64
	closed bool

	// Overwrite accounting. A publish that replaces a frame no reader
	// ever saw counts as a drop.
	lastRead uint64
	dropped  uint64
}

// BufferStats is a snapshot of buffer counters.
type BufferStats struct {
	Published uint64
	Dropped   uint64
}

func newFrameBuffer() *frameBuffer {
	b := &frameBuffer{active: -1}
	b.cond = sync.NewCond(&b.mu)
	return b
}

// Publish stamps the frame with the next sequence number, installs it
// in the inactive slot and swaps. Returns the assigned sequence.
func (b *frameBuffer) Publish(f *Frame) uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return b.seq
	}

	b.seq++
	f.Seq = b.seq

	next := 0
	if b.active == 0 {
		next = 1
	}
	if prev := b.slots[next]; prev != nil && prev.Seq > b.lastRead {
		b.dropped++
	}
	b.slots[next] = f
	b.active = next

	b.cond.Broadcast()
	return f.Seq
}

// Next blocks until a frame with Seq > afterSeq is available, then
// returns it. Returns ErrAcquisitionTimeout when the deadline passes
// first and ErrStopped when the buffer is closed.
func (b *frameBuffer) Next(afterSeq uint64, timeout time.Duration) (*Frame, error) {
	deadline := time.Now().Add(timeout)

	// sync.Cond has no deadline support, so a timer wakes all waiters
	// and each re-checks its own deadline.
	stop := time.AfterFunc(timeout, func() {
		b.mu.Lock()
		b.cond.Broadcast()
		b.mu.Unlock()
	})
	defer stop.Stop()

	b.mu.Lock()
	defer b.mu.Unlock()
	for {
		if b.closed {
			return nil, ErrStopped
		}
		if b.active >= 0 && b.slots[b.active].Seq > afterSeq {
			f := b.slots[b.active]
			if f.Seq > b.lastRead {
				b.lastRead = f.Seq
			}
			return f, nil
		}
		if !time.Now().Before(deadline) {
			return nil, ErrAcquisitionTimeout
		}
		b.cond.Wait()
	}
}

// Latest returns the current frame without waiting, or false when
// nothing has been published yet.
func (b *frameBuffer) Latest() (*Frame, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.active < 0 {
		return nil, false
	}
	f := b.slots[b.active]
	if f.Seq > b.lastRead {
		b.lastRead = f.Seq
	}
	return f, true
}

// Close wakes all waiting readers. Further publishes are ignored.
func (b *frameBuffer) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	b.cond.Broadcast()
}

// Stats returns a snapshot of publish and drop counters.
func (b *frameBuffer) Stats() BufferStats {
	b.mu.Lock()
	defer b.mu.Unlock()
	return BufferStats{Published: b.seq, Dropped: b.dropped}
}
