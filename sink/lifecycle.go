package sink

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"sync"
	"sync/atomic"

	"github.com/coissac/pmomusic-sub002/broadcast"
)

var (
	// ErrNoSampleRate reports an encoder start attempted before the
	// sample rate is known.
	ErrNoSampleRate = errors.New("sink: sample rate not initialized")

	// ErrPCMConsumed reports a second attempt to hand out the PCM read
	// end of the pipe.
	ErrPCMConsumed = errors.New("sink: pcm reader already consumed")
)

// readChunkSize is the read granularity against the encoder output.
const readChunkSize = 8192

// Lifecycle owns one encoder generation at a time: the PCM pipe feeding it,
// the broadcaster goroutine cutting its output into container chunks, and
// the running timestamp offset that keeps the client-visible clock
// monotonic across track restarts.
type Lifecycle struct {
	enc    Encoder
	newCut func() Container
	bus    *broadcast.Bus
	header *broadcast.HeaderCache
	pacer  *Pacer
	log    *slog.Logger

	format PCMFormat
	opts   EncoderOptions

	mu      sync.Mutex
	running bool
	pr      *io.PipeReader
	pw      *io.PipeWriter
	prUsed  bool
	done    chan struct{}
	offset  float64

	lastTS atomic.Uint64 // float64 bits, written only by the broadcaster
	chunks atomic.Uint64
}

// NewLifecycle prepares a lifecycle around an encoder and a container
// cutter factory (each generation gets a fresh cutter, since Ogg cutters
// are stateful). format.SampleRate may be zero until Initialize.
func NewLifecycle(enc Encoder, newCut func() Container, bus *broadcast.Bus, header *broadcast.HeaderCache, format PCMFormat, opts EncoderOptions, pacer *Pacer, log *slog.Logger) *Lifecycle {
	if log == nil {
		log = slog.Default()
	}
	pr, pw := io.Pipe()
	return &Lifecycle{
		enc:    enc,
		newCut: newCut,
		bus:    bus,
		header: header,
		pacer:  pacer,
		log:    log.With("component", "lifecycle"),
		format: format,
		opts:   opts,
		pr:     pr,
		pw:     pw,
	}
}

// Write feeds PCM bytes to the current encoder generation.
func (l *Lifecycle) Write(p []byte) (int, error) {
	l.mu.Lock()
	pw := l.pw
	l.mu.Unlock()
	return pw.Write(p)
}

// SetTotalSamples updates the advertised track length for the next encoder
// generation. Zero clears it, which live raw FLAC streams require.
func (l *Lifecycle) SetTotalSamples(total uint64) {
	l.mu.Lock()
	l.opts.TotalSamples = total
	l.mu.Unlock()
}

// TimestampOffset returns the accumulated offset carried across restarts.
func (l *Lifecycle) TimestampOffset() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.offset
}

// LastTimestamp returns the audio timestamp of the newest chunk the current
// generation has published.
func (l *Lifecycle) LastTimestamp() float64 {
	return math.Float64frombits(l.lastTS.Load())
}

// ChunksSent returns the number of chunks published across all generations.
func (l *Lifecycle) ChunksSent() uint64 { return l.chunks.Load() }

// Initialize starts the encoder and its broadcaster. It is a no-op while a
// generation is already running. A zero sample rate and a consumed PCM
// reader are configuration errors; a failing encoder start is a processing
// error.
func (l *Lifecycle) Initialize(ctx context.Context, sampleRate int, timestampOffset float64) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.running {
		return nil
	}
	if sampleRate <= 0 {
		return ErrNoSampleRate
	}
	if l.prUsed {
		return ErrPCMConsumed
	}

	l.format.SampleRate = sampleRate
	l.prUsed = true

	encoded, err := l.enc.Start(ctx, l.pr, l.format, l.opts)
	if err != nil {
		return fmt.Errorf("sink: starting encoder: %w", err)
	}
	l.log.Info("encoder started",
		"sample_rate", sampleRate, "offset_sec", timestampOffset, "ogg", l.opts.Ogg)

	l.lastTS.Store(0)
	l.running = true
	l.done = make(chan struct{})
	go l.broadcastLoop(encoded, sampleRate, timestampOffset, l.done)
	return nil
}

// RestartForNewTrack finishes the current generation and starts a fresh one
// so the next track gets its own stream header. The time already streamed
// accumulates into the offset; the bus epoch advances so no subscriber sees
// bytes from both generations interleaved.
func (l *Lifecycle) RestartForNewTrack(ctx context.Context) error {
	l.mu.Lock()
	if !l.running {
		l.mu.Unlock()
		return ErrNoSampleRate
	}
	sampleRate := l.format.SampleRate
	pw := l.pw
	done := l.done
	l.mu.Unlock()

	pw.Close()
	<-done

	last := l.LastTimestamp()

	l.mu.Lock()
	l.offset += last
	l.log.Debug("encoder generation finished",
		"last_ts", last, "new_offset", l.offset)

	l.bus.MarkEpoch()
	l.running = false
	l.prUsed = false
	l.pr, l.pw = io.Pipe()
	l.mu.Unlock()

	return l.Initialize(ctx, sampleRate, 0)
}

// CloseAndJoin ends the stream: closes the PCM side, waits for the
// broadcaster to flush, and closes the bus.
func (l *Lifecycle) CloseAndJoin() {
	l.mu.Lock()
	pw := l.pw
	done := l.done
	l.mu.Unlock()

	pw.Close()
	if done != nil {
		<-done
	}
	l.bus.Close()
}

// broadcastLoop reads encoded output, cuts it at container boundaries, and
// publishes chunks stamped with audio timestamps derived from the sample
// count. Errors are logged, never propagated: one broken broadcaster must
// not take down track transitions for everyone else.
func (l *Lifecycle) broadcastLoop(encoded io.ReadCloser, sampleRate int, offset float64, done chan struct{}) {
	defer close(done)
	defer encoded.Close()

	cutter := l.newCut()
	buf := make([]byte, readChunkSize)
	var pending []byte
	var totalSamples uint64
	headerCaptured := false

	publish := func(chunk []byte, samples uint64) {
		totalSamples += samples
		ts := offset + float64(totalSamples)/float64(sampleRate)

		isHeader := !headerCaptured && cutter.IsHeader(chunk)
		if isHeader {
			headerCaptured = true
			l.log.Info("stream header captured", "bytes", len(chunk), "container", cutter.Name())
		}

		if l.pacer != nil {
			if err := l.pacer.Check(ts); err != nil {
				if isHeader {
					l.header.Set(chunk)
				}
				return
			}
		}

		// Recording the header's bus position lets a client that replays
		// it from the cache skip the live copy instead of emitting the
		// header twice.
		seq := l.bus.Send(chunk, ts)
		if isHeader {
			l.header.SetAt(chunk, seq)
		}
		l.lastTS.Store(math.Float64bits(ts))
		l.chunks.Add(1)
	}

	for {
		n, err := encoded.Read(buf)
		if n > 0 {
			pending = append(pending, buf[:n]...)
			for {
				cut, samples := cutter.CutBoundary(pending)
				if cut == 0 {
					break
				}
				chunk := make([]byte, cut)
				copy(chunk, pending[:cut])
				pending = pending[:copy(pending, pending[cut:])]
				publish(chunk, samples)
			}
		}
		if err != nil {
			if err != io.EOF {
				l.log.Error("encoder read failed", "error", err)
			}
			break
		}
	}

	// The tail holds the final, no-longer-cuttable frame. It is complete
	// now that the encoder has finished, so release it.
	if len(pending) > 0 {
		chunk := make([]byte, len(pending))
		copy(chunk, pending)
		publish(chunk, 0)
	}

	l.log.Info("broadcaster finished",
		"total_samples", totalSamples, "chunks", l.chunks.Load())
}
