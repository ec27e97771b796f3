package broadcast

import "sync"

// HeaderCache holds the stream header (for FLAC, everything from "fLaC" up
// to the first audio frame) that every new listener must receive before any
// live chunk. It is written once per encoder generation and read by every
// connecting client.
type HeaderCache struct {
	mu      sync.RWMutex
	header  []byte
	seq     uint64
	haveSeq bool
}

// NewHeaderCache returns an empty cache.
func NewHeaderCache() *HeaderCache {
	return &HeaderCache{}
}

// Set replaces the cached header with one that has no live counterpart on
// the bus.
func (c *HeaderCache) Set(header []byte) {
	c.mu.Lock()
	c.header = header
	c.haveSeq = false
	c.mu.Unlock()
}

// SetAt replaces the cached header with bytes that were also published on
// the bus at seq, so a reader served the replay can skip the live copy.
func (c *HeaderCache) SetAt(header []byte, seq uint64) {
	c.mu.Lock()
	c.header = header
	c.seq = seq
	c.haveSeq = true
	c.mu.Unlock()
}

// TryGet returns a copy of the header without blocking. It reports false
// when no header is cached yet or a writer currently holds the lock; the
// caller is expected to retry shortly.
func (c *HeaderCache) TryGet() ([]byte, bool) {
	header, _, _, ok := c.TryGetAt()
	return header, ok
}

// TryGetAt is TryGet plus the bus sequence of the header's live copy.
// published reports whether that sequence is known.
func (c *HeaderCache) TryGetAt() (header []byte, seq uint64, published bool, ok bool) {
	if !c.mu.TryRLock() {
		return nil, 0, false, false
	}
	defer c.mu.RUnlock()

	if c.header == nil {
		return nil, 0, false, false
	}
	out := make([]byte, len(c.header))
	copy(out, c.header)
	return out, c.seq, c.haveSeq, true
}
