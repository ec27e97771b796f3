package audio

import (
	"context"
	"log/slog"
)

const (
	// defaultChunkDuration is assumed when a chunk's duration cannot be
	// computed or estimated.
	defaultChunkDuration = 0.050

	// maxTimestampDelta caps duration estimates against timestamp jumps.
	maxTimestampDelta = 10.0
)

// CapacitiveBuffer accumulates a configurable number of seconds of audio
// before releasing it downstream. Once full it holds roughly that level,
// forwarding segments at the rate they arrive; when the consumer is slow
// the blocking sends push backpressure upstream while the buffer absorbs
// the difference.
type CapacitiveBuffer struct {
	capacitySec float64
	log         *slog.Logger

	queue       []queued
	bufferedSec float64

	prevTS  float64
	haveTS  bool
	chunks  uint64
	flushes uint64
}

type queued struct {
	seg      *Segment
	duration float64
}

// NewCapacitiveBuffer returns a buffer holding capacitySec seconds.
// Negative capacities are treated as zero (pure passthrough).
func NewCapacitiveBuffer(capacitySec float64, log *slog.Logger) *CapacitiveBuffer {
	if capacitySec < 0 {
		capacitySec = 0
	}
	if log == nil {
		log = slog.Default()
	}
	return &CapacitiveBuffer{
		capacitySec: capacitySec,
		log:         log.With("component", "capacitor"),
	}
}

// BufferedSec returns the seconds of audio currently queued.
func (b *CapacitiveBuffer) BufferedSec() float64 { return b.bufferedSec }

// Run moves segments from in to out until in closes or ctx is cancelled,
// then flushes whatever remains. Markers pass through immediately; a reset
// marker first discards the queue and the duration estimator.
func (b *CapacitiveBuffer) Run(ctx context.Context, in <-chan *Segment, out chan<- *Segment) error {
	b.log.Info("capacitive buffer started", "capacity_sec", b.capacitySec)

loop:
	for {
		// Above capacity: drain before accepting more input. The
		// blocking send is what slows the producer down.
		if b.bufferedSec >= b.capacitySec && len(b.queue) > 0 {
			b.flushOne(out)
			continue
		}

		var seg *Segment
		select {
		case <-ctx.Done():
			b.log.Debug("capacitive buffer cancelled")
			break loop
		case s, ok := <-in:
			if !ok {
				b.log.Debug("capacitive buffer input closed")
				break loop
			}
			seg = s
		}

		if seg.IsMarker() {
			if seg.Marker == MarkerReset {
				b.queue = b.queue[:0]
				b.bufferedSec = 0
				b.prevTS = 0
				b.haveTS = true
				b.chunks = 0
				b.flushes = 0
				b.log.Debug("reset marker, buffer cleared")
			}
			out <- seg
			continue
		}

		b.chunks++
		duration, ok := seg.DurationSec()
		if !ok {
			duration = b.estimateDuration(seg.TimestampSec)
		}
		b.queue = append(b.queue, queued{seg: seg, duration: duration})
		b.bufferedSec += duration

		// Drain as fast as the consumer accepts; the buffer level
		// grows only while the send below is waiting.
		b.flushOne(out)
	}

	b.log.Info("flushing remaining buffer",
		"buffered_sec", b.bufferedSec, "items", len(b.queue))
	for len(b.queue) > 0 {
		b.flushOne(out)
	}
	return nil
}

// estimateDuration derives a chunk duration from the timestamp delta when
// frame counts are unavailable.
func (b *CapacitiveBuffer) estimateDuration(ts float64) float64 {
	if !b.haveTS {
		b.prevTS = ts
		b.haveTS = true
		return defaultChunkDuration
	}

	delta := ts - b.prevTS
	b.prevTS = ts
	if delta < 0 {
		delta = 0
	} else if delta > maxTimestampDelta {
		delta = maxTimestampDelta
	}
	if delta == 0 {
		return defaultChunkDuration
	}
	return delta
}

func (b *CapacitiveBuffer) flushOne(out chan<- *Segment) {
	if len(b.queue) == 0 {
		return
	}
	item := b.queue[0]
	b.queue = b.queue[1:]
	b.flushes++
	b.bufferedSec -= item.duration
	if b.bufferedSec < 0 {
		b.bufferedSec = 0
	}
	out <- item.seg
}
