package sink

import (
	"context"
	"log/slog"

	"github.com/coissac/pmomusic-sub002/audio"
	"github.com/coissac/pmomusic-sub002/broadcast"
	"github.com/coissac/pmomusic-sub002/stream"
)

// SinkOptions is the configuration surface of one streaming sink branch.
type SinkOptions struct {
	// Ogg selects the Ogg-FLAC container; false produces raw FLAC.
	Ogg bool

	CompressionLevel int
	Verify           bool
	BitsPerSample    int
	Channels         int

	// RestartOnTrackBoundary restarts the encoder at each track boundary
	// so every track opens with fresh header metadata.
	RestartOnTrackBoundary bool

	// EnableTotalSamples advertises track length in the stream header.
	// Raw FLAC live streams must keep this off or players stop at the
	// first track's advertised end.
	EnableTotalSamples bool

	DefaultTitle  string
	DefaultArtist string

	// BroadcastMaxLeadTime bounds the pacer's lead diagnostics; zero
	// disables pacing entirely.
	BroadcastMaxLeadTime float64

	BusDepth int

	// BufferCapacitySec sizes the upstream capacitive buffer.
	BufferCapacitySec float64

	// AutoStop stops the sink when the last client disconnects.
	AutoStop bool
}

// FLACDefaults configures a raw FLAC live branch.
func FLACDefaults() SinkOptions {
	return SinkOptions{
		CompressionLevel:  5,
		BitsPerSample:     16,
		Channels:          2,
		BusDepth:          broadcast.DefaultDepth,
		BufferCapacitySec: 3.0,
	}
}

// OggDefaults configures an Ogg-FLAC branch. Ogg streams carry per-track
// granule accounting, so advertising track length is safe there.
func OggDefaults() SinkOptions {
	opts := FLACDefaults()
	opts.Ogg = true
	opts.EnableTotalSamples = true
	opts.RestartOnTrackBoundary = true
	return opts
}

// Sink consumes the capacitive buffer's output and drives one encoder
// lifecycle, reacting to markers for resets, track changes and shutdown.
type Sink struct {
	opts      SinkOptions
	handle    *stream.Handle
	lifecycle *Lifecycle
	log       *slog.Logger
	stop      context.CancelFunc
}

// NewSink builds a sink branch around an encoder and returns the stream
// handle the HTTP layer serves clients from.
func NewSink(enc Encoder, opts SinkOptions, log *slog.Logger) (*Sink, *stream.Handle) {
	if log == nil {
		log = slog.Default()
	}

	s := &Sink{opts: opts}
	s.log = log.With("component", "sink", "container", containerName(opts))

	s.handle = stream.NewHandle(opts.BusDepth, log, func() {
		if opts.AutoStop && s.stop != nil {
			s.log.Info("last client disconnected, stopping sink")
			s.stop()
		}
	})

	var pacer *Pacer
	if opts.BroadcastMaxLeadTime > 0 {
		pacer = NewPacer(opts.BroadcastMaxLeadTime, containerName(opts), log)
	}

	encOpts := EncoderOptions{
		CompressionLevel: opts.CompressionLevel,
		Verify:           opts.Verify,
		Ogg:              opts.Ogg,
	}
	format := PCMFormat{Channels: opts.Channels, BitsPerSample: opts.BitsPerSample}

	newCut := func() Container { return FLACContainer{} }
	if opts.Ogg {
		newCut = func() Container { return NewOggFLACContainer() }
	}

	s.lifecycle = NewLifecycle(enc, newCut, s.handle.Bus, s.handle.Header, format, encOpts, pacer, log)
	return s, s.handle
}

func containerName(opts SinkOptions) string {
	if opts.Ogg {
		return "ogg"
	}
	return "flac"
}

// Handle returns the sink's stream handle.
func (s *Sink) Handle() *stream.Handle { return s.handle }

// Lifecycle exposes the encoder lifecycle, mainly for inspection in tests.
func (s *Sink) Lifecycle() *Lifecycle { return s.lifecycle }

// Run consumes segments until the input closes, an end marker arrives, or
// the context trips. The encoder starts lazily on the first data segment,
// once the sample rate is known. Always closes the bus on the way out so
// clients observe a clean end of stream.
func (s *Sink) Run(ctx context.Context, in <-chan *audio.Segment) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	s.stop = cancel

	defer s.lifecycle.CloseAndJoin()
	s.log.Info("sink started")

	for {
		var seg *audio.Segment
		select {
		case <-ctx.Done():
			s.log.Info("sink cancelled")
			return nil
		case next, ok := <-in:
			if !ok {
				s.log.Info("sink input closed")
				return nil
			}
			seg = next
		}

		if !seg.IsMarker() {
			if err := s.feed(ctx, seg); err != nil {
				return err
			}
			continue
		}

		switch seg.Marker {
		case audio.MarkerReset:
			s.handle.Bus.MarkEpoch()
			snap := s.handle.Metadata.Snapshot()
			snap.AudioTimestampSec = 0
			s.handle.Metadata.Update(snap)
			s.log.Info("stream reset")

		case audio.MarkerTrackBoundary:
			s.updateMetadata(seg)
			s.prepareTrackLength(seg)
			if s.opts.RestartOnTrackBoundary && s.lifecycle.format.SampleRate > 0 {
				if err := s.lifecycle.RestartForNewTrack(ctx); err != nil {
					s.log.Error("encoder restart failed", "error", err)
					return err
				}
			}

		case audio.MarkerHeartbeat:
			// Keepalive only.

		case audio.MarkerEnd:
			s.log.Info("end of stream marker")
			return nil
		}
	}
}

func (s *Sink) feed(ctx context.Context, seg *audio.Segment) error {
	if s.lifecycle.format.SampleRate == 0 {
		if seg.SampleRate <= 0 {
			return ErrNoSampleRate
		}
		s.log.Info("detected sample rate", "sample_rate", seg.SampleRate)
		if err := s.lifecycle.Initialize(ctx, seg.SampleRate, 0); err != nil {
			return err
		}
	}

	if _, err := s.lifecycle.Write(seg.PCM); err != nil {
		// The encoder went away mid-write; treat as end of this branch.
		s.log.Warn("pcm write failed", "error", err)
		return nil
	}
	return nil
}

// prepareTrackLength feeds the next track's sample count into the encoder
// options, or clears it so a previous track's length cannot leak into a
// stream that must not advertise one.
func (s *Sink) prepareTrackLength(seg *audio.Segment) {
	if !s.opts.EnableTotalSamples {
		s.lifecycle.SetTotalSamples(0)
		return
	}

	sr := s.lifecycle.format.SampleRate
	if m := seg.Metadata; m != nil && m.DurationSec > 0 && sr > 0 {
		s.lifecycle.SetTotalSamples(uint64(m.DurationSec*float64(sr) + 0.5))
		return
	}
	s.lifecycle.SetTotalSamples(0)
}

func (s *Sink) updateMetadata(seg *audio.Segment) {
	snap := broadcast.MetadataSnapshot{
		Title:             s.opts.DefaultTitle,
		Artist:            s.opts.DefaultArtist,
		AudioTimestampSec: seg.TimestampSec,
	}
	if m := seg.Metadata; m != nil {
		if m.Title != "" {
			snap.Title = m.Title
		}
		if m.Artist != "" {
			snap.Artist = m.Artist
		}
		snap.Album = m.Album
		snap.DurationSec = m.DurationSec
		snap.CoverURL = m.CoverURL
		snap.TrackNumber = m.TrackNumber
	}
	v := s.handle.Metadata.Update(snap)
	s.log.Debug("metadata updated",
		"version", v, "artist", snap.Artist, "title", snap.Title,
		"audio_ts", snap.AudioTimestampSec)
}
