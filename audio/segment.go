// Package audio defines the PCM segment stream flowing between pipeline
// stages and the capacitive buffer that smooths it before encoding.
package audio

import "github.com/coissac/pmomusic-sub002/broadcast"

// MarkerKind tags a control segment. Data segments carry MarkerNone.
type MarkerKind int

const (
	// MarkerNone means the segment carries PCM data.
	MarkerNone MarkerKind = iota

	// MarkerReset restarts the logical timeline: downstream stages drop
	// queued state and begin again at timestamp zero.
	MarkerReset

	// MarkerTrackBoundary separates tracks; it carries the next track's
	// metadata snapshot.
	MarkerTrackBoundary

	// MarkerHeartbeat keeps the pipeline alive during silence.
	MarkerHeartbeat

	// MarkerEnd ends the stream; downstream stages flush and stop.
	MarkerEnd
)

func (k MarkerKind) String() string {
	switch k {
	case MarkerNone:
		return "none"
	case MarkerReset:
		return "reset"
	case MarkerTrackBoundary:
		return "track-boundary"
	case MarkerHeartbeat:
		return "heartbeat"
	case MarkerEnd:
		return "end"
	}
	return "unknown"
}

// Segment is one unit on a pipeline channel, either PCM data or a marker.
type Segment struct {
	// TimestampSec is seconds since the logical start of the stream.
	TimestampSec float64

	// PCM is interleaved samples; nil for markers.
	PCM []byte

	// Frames is the number of sample frames in PCM, zero when unknown.
	Frames int

	// SampleRate in Hz, zero when unknown.
	SampleRate int

	Marker MarkerKind

	// Metadata travels on track-boundary markers.
	Metadata *broadcast.MetadataSnapshot
}

// IsMarker reports whether the segment is control rather than data.
func (s *Segment) IsMarker() bool { return s.Marker != MarkerNone }

// DurationSec returns the segment's exact duration, or ok=false when frames
// or sample rate are unknown and the caller must estimate.
func (s *Segment) DurationSec() (float64, bool) {
	if s.Frames > 0 && s.SampleRate > 0 {
		return float64(s.Frames) / float64(s.SampleRate), true
	}
	return 0, false
}

// DataSegment builds a PCM segment.
func DataSegment(ts float64, pcm []byte, frames, sampleRate int) *Segment {
	return &Segment{TimestampSec: ts, PCM: pcm, Frames: frames, SampleRate: sampleRate}
}

// MarkerSegment builds a control segment.
func MarkerSegment(ts float64, kind MarkerKind) *Segment {
	return &Segment{TimestampSec: ts, Marker: kind}
}
