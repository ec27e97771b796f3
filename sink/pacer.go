package sink

import (
	"errors"
	"log/slog"
	"time"
)

// ErrSkipFrame tells the broadcaster to drop a chunk that is already behind
// real time; sending it would only grow the client's delay.
var ErrSkipFrame = errors.New("sink: frame behind real time, skip")

// Pacer compares audio timestamps against a wall clock started at the first
// chunk. It never sleeps: chunks ahead of real time rely on downstream
// backpressure, chunks behind it are droppable. A timestamp returning near
// zero after the clock has run resets the clock (stream restart).
type Pacer struct {
	start       time.Time
	maxLeadTime float64
	log         *slog.Logger
}

// NewPacer creates a pacer. maxLeadTime only controls diagnostics; zero
// disables the lead warning entirely.
func NewPacer(maxLeadTime float64, label string, log *slog.Logger) *Pacer {
	if maxLeadTime < 0 {
		maxLeadTime = 0
	}
	if log == nil {
		log = slog.Default()
	}
	return &Pacer{
		start:       time.Now(),
		maxLeadTime: maxLeadTime,
		log:         log.With("component", "pacer", "container", label),
	}
}

// Check returns ErrSkipFrame when the chunk at audioTimestamp is late, nil
// otherwise.
func (p *Pacer) Check(audioTimestamp float64) error {
	if audioTimestamp < 0.1 && time.Since(p.start).Seconds() > 1.0 {
		p.start = time.Now()
		p.log.Info("timestamp returned to zero, resetting clock")
	}

	elapsed := time.Since(p.start).Seconds()
	lead := audioTimestamp - elapsed

	if lead < 0 {
		p.log.Warn("dropping late chunk",
			"audio_ts", audioTimestamp, "elapsed", elapsed, "lag", -lead)
		return ErrSkipFrame
	}

	if p.maxLeadTime > 0 && lead > p.maxLeadTime {
		p.log.Debug("running ahead of real time",
			"lead", lead, "max_lead", p.maxLeadTime)
	}
	return nil
}
