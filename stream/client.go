// Package stream serves one connected listener from the broadcast bus: a
// per-client io.Reader that replays the cached stream header and then
// follows the live edge, plus the handle that ties a broadcast together
// with its client registry.
package stream

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/coissac/pmomusic-sub002/broadcast"
)

// retryInterval is how long a client waits before polling the bus again
// when it has caught up to the live edge.
const retryInterval = 10 * time.Millisecond

// ClientStream adapts one bus subscription to an io.Reader suitable for an
// HTTP response body. The first reads serve the cached stream header so a
// decoder can start mid-broadcast; after that the client follows live
// chunks. A client that falls behind skips ahead rather than being
// disconnected.
type ClientStream struct {
	id     string
	ctx    context.Context
	rx     *broadcast.Receiver
	header *broadcast.HeaderCache
	log    *slog.Logger

	buf       []byte
	streaming bool
	epoch     uint64

	// closed may be set by Close from a different goroutine than the
	// one calling Read.
	closed atomic.Bool
}

// NewClientStream subscribes to the bus and returns a reader bound to ctx.
// A nil header cache means the stream joins live with no preamble.
func NewClientStream(ctx context.Context, bus *broadcast.Bus, header *broadcast.HeaderCache, log *slog.Logger) *ClientStream {
	if log == nil {
		log = slog.Default()
	}
	id := uuid.NewString()
	return &ClientStream{
		id:     id,
		ctx:    ctx,
		rx:     bus.Subscribe(),
		header: header,
		log:    log.With("component", "client", "client_id", id),
	}
}

// ID returns the client's identifier.
func (c *ClientStream) ID() string { return c.id }

// Epoch returns the epoch of the last chunk the client consumed.
func (c *ClientStream) Epoch() uint64 { return c.epoch }

// Read implements io.Reader. It returns io.EOF once the bus is closed and
// the local buffer is drained, and the context error if the client's
// context trips while waiting for data.
func (c *ClientStream) Read(p []byte) (int, error) {
	if c.closed.Load() {
		return 0, io.EOF
	}

	if !c.streaming {
		if c.header != nil {
			if hdr, seq, published, ok := c.header.TryGetAt(); ok {
				c.buf = hdr
				// The replay already covers the header's live copy;
				// consuming it from the bus too would emit the header
				// twice and break the bitstream.
				if published {
					c.rx.SkipPast(seq)
				}
			}
		}
		c.streaming = true
	}

	for len(c.buf) == 0 {
		if c.closed.Load() {
			return 0, io.EOF
		}
		chunk, err := c.rx.TryRecv()
		switch {
		case err == nil:
			c.epoch = chunk.Epoch
			c.buf = chunk.Payload
		case errors.Is(err, broadcast.ErrEmpty):
			if err := c.wait(); err != nil {
				return 0, err
			}
		case errors.Is(err, broadcast.ErrClosed):
			c.closed.Store(true)
			return 0, io.EOF
		default:
			var lagged *broadcast.LaggedError
			if errors.As(err, &lagged) {
				c.log.Warn("client lagged, skipping ahead", "dropped", lagged.Count)
				continue
			}
			return 0, err
		}
	}

	n := copy(p, c.buf)
	c.buf = c.buf[n:]
	return n, nil
}

func (c *ClientStream) wait() error {
	timer := time.NewTimer(retryInterval)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-c.ctx.Done():
		return c.ctx.Err()
	}
}
