package sink

import (
	"bytes"

	"github.com/coissac/pmomusic-sub002/flac"
	"github.com/coissac/pmomusic-sub002/ogg"
)

// Container abstracts the framing of an encoded stream so the broadcaster
// engine can cut it into self-contained chunks without knowing the format.
type Container interface {
	Name() string

	// CutBoundary returns how many bytes of data form complete units
	// safe to broadcast, and the number of audio samples those bytes
	// carry. Zero means buffer more input.
	CutBoundary(data []byte) (int, uint64)

	// IsHeader reports whether data begins with the stream header that
	// late joiners need before any cut chunk.
	IsHeader(data []byte) bool
}

var flacMagic = []byte("fLaC")

// FLACContainer cuts a raw FLAC stream at validated frame boundaries.
type FLACContainer struct{}

func (FLACContainer) Name() string { return "flac" }

func (FLACContainer) CutBoundary(data []byte) (int, uint64) {
	return flac.FindCompleteFramesWithSamples(data)
}

func (FLACContainer) IsHeader(data []byte) bool {
	return bytes.HasPrefix(data, flacMagic)
}

// OggFLACContainer cuts an Ogg-FLAC stream at page boundaries, deriving
// sample counts from granule position deltas. It is stateful: each instance
// follows exactly one stream.
type OggFLACContainer struct {
	lastGranule uint64
	haveGranule bool
}

func NewOggFLACContainer() *OggFLACContainer {
	return &OggFLACContainer{}
}

func (*OggFLACContainer) Name() string { return "ogg" }

// CutBoundary consumes whole pages. The granule of the last complete page
// relative to the previous cut gives the sample count; pages with no
// packet boundary carry granule -1 and are skipped for accounting.
func (c *OggFLACContainer) CutBoundary(data []byte) (int, uint64) {
	const noGranule = ^uint64(0)

	total := 0
	granule := noGranule
	for {
		n, ok := ogg.CompletePageLength(data[total:])
		if !ok {
			break
		}
		if g := ogg.PageGranule(data[total : total+n]); g != noGranule {
			granule = g
		}
		total += n
	}
	if total == 0 {
		return 0, 0
	}

	var samples uint64
	if granule != noGranule {
		if c.haveGranule {
			if granule > c.lastGranule {
				samples = granule - c.lastGranule
			}
		} else {
			samples = granule
		}
		c.lastGranule = granule
		c.haveGranule = true
	}
	return total, samples
}

// IsHeader reports a beginning-of-stream page.
func (*OggFLACContainer) IsHeader(data []byte) bool {
	if len(data) < 6 || !bytes.HasPrefix(data, []byte("OggS")) {
		return false
	}
	return data[5]&ogg.FlagBOS != 0
}
