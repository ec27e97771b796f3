package stream

import (
	"context"
	"log/slog"
	"sync"

	"github.com/coissac/pmomusic-sub002/broadcast"
)

// Handle bundles everything a broadcast exposes to its listeners: the chunk
// bus, the header cache, the metadata cell and the active-client count.
// When the last client disconnects the handle invokes its idle callback,
// which the owner typically uses to stop the encoder pipeline.
type Handle struct {
	Bus      *broadcast.Bus
	Header   *broadcast.HeaderCache
	Metadata *broadcast.MetadataCell

	log    *slog.Logger
	onIdle func()

	mu     sync.Mutex
	active int
}

// NewHandle creates a handle around a fresh bus, header cache and metadata
// cell. onIdle may be nil.
func NewHandle(busDepth int, log *slog.Logger, onIdle func()) *Handle {
	if log == nil {
		log = slog.Default()
	}
	return &Handle{
		Bus:      broadcast.NewBus(busDepth),
		Header:   broadcast.NewHeaderCache(),
		Metadata: broadcast.NewMetadataCell(),
		log:      log.With("component", "stream"),
		onIdle:   onIdle,
	}
}

// ActiveClients returns the number of connected clients.
func (h *Handle) ActiveClients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.active
}

// Client is a connected listener. Closing it releases the registry slot;
// reads after Close return io.EOF.
type Client struct {
	*ClientStream

	handle    *Handle
	closeOnce sync.Once
}

// NewClient registers a listener and returns its reader.
func (h *Handle) NewClient(ctx context.Context) *Client {
	cs := NewClientStream(ctx, h.Bus, h.Header, h.log)

	h.mu.Lock()
	h.active++
	active := h.active
	h.mu.Unlock()

	h.log.Info("client connected", "client_id", cs.ID(), "active", active)
	return &Client{ClientStream: cs, handle: h}
}

// Close releases the client. When it was the last one, the handle's idle
// callback fires.
func (c *Client) Close() error {
	c.closeOnce.Do(func() {
		h := c.handle
		h.mu.Lock()
		h.active--
		active := h.active
		h.mu.Unlock()

		c.closed.Store(true)
		h.log.Info("client disconnected", "client_id", c.ID(), "active", active)
		if active == 0 && h.onIdle != nil {
			h.onIdle()
		}
	})
	return nil
}
