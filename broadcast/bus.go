// Package broadcast fans timestamped audio chunks out to listeners over a
// bounded ring. Slow receivers are never disconnected: the bus drops the
// oldest chunks and tells the receiver how many it missed, letting it resume
// from live data. Epoch stamping lets listeners detect stream restarts.
package broadcast

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// DefaultDepth is the ring capacity used by NewBus.
const DefaultDepth = 512

var (
	// ErrEmpty is returned by TryRecv when no chunk is queued.
	ErrEmpty = errors.New("broadcast: no chunk available")

	// ErrClosed is returned once the bus has been closed and the
	// receiver has drained its backlog.
	ErrClosed = errors.New("broadcast: bus closed")
)

// LaggedError reports that a receiver fell behind and the bus dropped
// chunks it had not yet consumed. The receiver stays subscribed; the next
// call resumes from the oldest retained chunk.
type LaggedError struct {
	Count uint64
}

func (e *LaggedError) Error() string {
	return fmt.Sprintf("broadcast: receiver lagged, %d chunks dropped", e.Count)
}

// Chunk is one unit of encoded audio on the bus.
type Chunk struct {
	// Payload is complete encoded frames, safe to emit on its own given
	// the stream header.
	Payload []byte

	// AudioTimestamp is seconds of audio since the logical start of the
	// broadcast, monotone within an epoch.
	AudioTimestamp float64

	// Epoch identifies the encoder generation that produced the chunk.
	Epoch uint64
}

// Bus is a bounded single-producer broadcast ring.
type Bus struct {
	mu      sync.Mutex
	ring    []Chunk
	depth   int
	headSeq uint64 // sequence of ring[0]
	nextSeq uint64 // sequence the next Send will take
	epoch   uint64
	closed  bool

	// notify is closed and replaced on every Send, Close and MarkEpoch;
	// receivers wait on it instead of polling.
	notify chan struct{}
}

// NewBus returns a bus retaining up to depth chunks. Non-positive depth
// falls back to DefaultDepth.
func NewBus(depth int) *Bus {
	if depth <= 0 {
		depth = DefaultDepth
	}
	return &Bus{
		ring:   make([]Chunk, 0, depth),
		depth:  depth,
		notify: make(chan struct{}),
	}
}

// Send publishes a chunk, stamping it with the current epoch, and returns
// the sequence number the chunk was published at. When the ring is full the
// oldest chunk is dropped. Sending on a closed bus is a no-op.
func (b *Bus) Send(payload []byte, audioTimestamp float64) uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return b.nextSeq
	}

	if len(b.ring) == b.depth {
		copy(b.ring, b.ring[1:])
		b.ring = b.ring[:b.depth-1]
		b.headSeq++
	}
	b.ring = append(b.ring, Chunk{
		Payload:        payload,
		AudioTimestamp: audioTimestamp,
		Epoch:          b.epoch,
	})
	seq := b.nextSeq
	b.nextSeq++

	b.wakeLocked()
	return seq
}

// MarkEpoch increments the epoch and discards all buffered chunks, so no
// receiver observes pre-restart bytes after the boundary. Returns the new
// epoch.
func (b *Bus) MarkEpoch() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.epoch++
	b.headSeq = b.nextSeq
	b.ring = b.ring[:0]
	b.wakeLocked()
	return b.epoch
}

// Epoch returns the current epoch.
func (b *Bus) Epoch() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.epoch
}

// Subscribe returns a receiver positioned at the live edge: it will see
// only chunks sent after this call, never backlog.
func (b *Bus) Subscribe() *Receiver {
	b.mu.Lock()
	defer b.mu.Unlock()
	return &Receiver{bus: b, seq: b.nextSeq}
}

// Close wakes all blocked receivers. Receivers drain anything still queued
// for them, then get ErrClosed.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true
	b.wakeLocked()
}

func (b *Bus) wakeLocked() {
	close(b.notify)
	b.notify = make(chan struct{})
}

// Receiver is one subscriber's cursor into the bus. Not safe for concurrent
// use by multiple goroutines.
type Receiver struct {
	bus *Bus
	seq uint64
}

// TryRecv returns the next chunk without blocking. It returns ErrEmpty when
// caught up, a LaggedError once per overrun, and ErrClosed after the bus is
// closed and drained.
func (r *Receiver) TryRecv() (Chunk, error) {
	b := r.bus
	b.mu.Lock()
	defer b.mu.Unlock()
	return r.recvLocked()
}

// SkipPast moves the cursor just beyond seq unless it has already passed
// it. A reader that was handed a replayed copy of a published chunk uses
// this so it does not consume the live copy as well.
func (r *Receiver) SkipPast(seq uint64) {
	b := r.bus
	b.mu.Lock()
	if r.seq <= seq {
		r.seq = seq + 1
	}
	b.mu.Unlock()
}

// Recv blocks until a chunk is available, the bus closes, or ctx is done.
func (r *Receiver) Recv(ctx context.Context) (Chunk, error) {
	b := r.bus
	for {
		b.mu.Lock()
		chunk, err := r.recvLocked()
		notify := b.notify
		b.mu.Unlock()

		if err != ErrEmpty {
			return chunk, err
		}

		select {
		case <-notify:
		case <-ctx.Done():
			return Chunk{}, ctx.Err()
		}
	}
}

func (r *Receiver) recvLocked() (Chunk, error) {
	b := r.bus

	if r.seq < b.headSeq {
		missed := b.headSeq - r.seq
		r.seq = b.headSeq
		return Chunk{}, &LaggedError{Count: missed}
	}
	if r.seq < b.nextSeq {
		chunk := b.ring[r.seq-b.headSeq]
		r.seq++
		return chunk, nil
	}
	if b.closed {
		return Chunk{}, ErrClosed
	}
	return Chunk{}, ErrEmpty
}
