package broadcast

import (
	"encoding/json"
	"sync"
)

// MetadataSnapshot is the now-playing state published alongside the audio
// stream. AudioTimestampSec pins the snapshot to a position in the stream
// so clients can line metadata up with what they are hearing.
type MetadataSnapshot struct {
	Title             string  `json:"title"`
	Artist            string  `json:"artist"`
	Album             string  `json:"album"`
	DurationSec       float64 `json:"duration"`
	CoverURL          string  `json:"cover"`
	TrackNumber       int     `json:"track_number"`
	AudioTimestampSec float64 `json:"audio_timestamp_sec"`
	Version           uint64  `json:"version"`
}

// MetadataCell holds the latest snapshot, versioned so pollers can detect
// changes cheaply.
type MetadataCell struct {
	mu      sync.RWMutex
	current MetadataSnapshot
}

// NewMetadataCell returns a cell with a zero snapshot at version 0.
func NewMetadataCell() *MetadataCell {
	return &MetadataCell{}
}

// Update replaces the snapshot, bumping the version. The caller's Version
// field is ignored.
func (c *MetadataCell) Update(snap MetadataSnapshot) uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()

	snap.Version = c.current.Version + 1
	c.current = snap
	return snap.Version
}

// Snapshot returns the latest state.
func (c *MetadataCell) Snapshot() MetadataSnapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.current
}

// MarshalJSON lets a cell be embedded directly in an HTTP response.
func (c *MetadataCell) MarshalJSON() ([]byte, error) {
	return json.Marshal(c.Snapshot())
}
