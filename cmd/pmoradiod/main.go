package main

import (
	"context"
	"encoding/binary"
	"fmt"
	"log/slog"
	"math"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	"github.com/coissac/pmomusic-sub002/audio"
	"github.com/coissac/pmomusic-sub002/broadcast"
	"github.com/coissac/pmomusic-sub002/sink"
)

var version = "dev"

func main() {
	level := slog.LevelInfo
	if os.Getenv("DEBUG") != "" {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	var (
		flacPath    = pflag.String("flac", envOr("FLAC_PATH", "flac"), "path to the flac binary")
		sampleRate  = pflag.Int("sample-rate", envOrInt("SAMPLE_RATE", 44100), "PCM sample rate in Hz")
		compression = pflag.Int("compression", envOrInt("FLAC_COMPRESSION", 5), "FLAC compression level 0-8")
		bufferSec   = pflag.Float64("buffer", envOrFloat("BUFFER_SEC", 3.0), "capacitive buffer capacity in seconds")
		busDepth    = pflag.Int("bus-depth", envOrInt("BUS_DEPTH", broadcast.DefaultDepth), "broadcast ring depth in chunks")
		trackSec    = pflag.Float64("track-sec", envOrFloat("TRACK_SEC", 30.0), "synthetic track length in seconds")
		withOgg     = pflag.Bool("ogg", os.Getenv("OGG_SINK") != "", "also run an Ogg-FLAC branch")
		station     = pflag.String("station", envOr("STATION_NAME", "PMO Radio"), "station name used as default metadata")
	)
	pflag.Parse()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		slog.Info("received signal, shutting down", "signal", sig)
		cancel()
	}()

	slog.Info("pmoradiod starting",
		"version", version,
		"sample_rate", *sampleRate,
		"buffer_sec", *bufferSec,
		"ogg", *withOgg,
	)

	g, ctx := errgroup.WithContext(ctx)

	flacOpts := sink.FLACDefaults()
	flacOpts.CompressionLevel = *compression
	flacOpts.BusDepth = *busDepth
	flacOpts.BufferCapacitySec = *bufferSec
	flacOpts.DefaultArtist = *station

	enc := &sink.CLIEncoder{Path: *flacPath}
	flacSink, flacHandle := sink.NewSink(enc, flacOpts, slog.Default())

	source := make(chan *audio.Segment, 16)
	buffered := make(chan *audio.Segment, 16)

	branches := 1
	if *withOgg {
		branches = 2
	}
	outs := audio.Fork(ctx, buffered, branches, 16)

	g.Go(func() error {
		defer close(source)
		return runToneSource(ctx, source, *sampleRate, *trackSec)
	})

	g.Go(func() error {
		defer close(buffered)
		buf := audio.NewCapacitiveBuffer(*bufferSec, slog.Default())
		return buf.Run(ctx, source, buffered)
	})

	g.Go(func() error {
		return flacSink.Run(ctx, outs[0])
	})

	if *withOgg {
		oggOpts := sink.OggDefaults()
		oggOpts.CompressionLevel = *compression
		oggOpts.BusDepth = *busDepth
		oggOpts.DefaultArtist = *station
		oggSink, oggHandle := sink.NewSink(enc, oggOpts, slog.Default())
		slog.Info("ogg branch ready", "clients", oggHandle.ActiveClients())

		g.Go(func() error {
			return oggSink.Run(ctx, outs[1])
		})
	}

	// Serving clients over HTTP is the embedding application's job: it
	// calls flacHandle.NewClient per connection and copies the reader
	// into the response, optionally through an icy.Writer.
	slog.Info("flac branch ready", "clients", flacHandle.ActiveClients())

	if err := g.Wait(); err != nil && ctx.Err() == nil {
		slog.Error("pipeline failed", "error", err)
		os.Exit(1)
	}
	slog.Info("pmoradiod stopped")
}

// runToneSource produces a stereo A440 sine as S16LE segments of 50 ms,
// with a track boundary every trackSec seconds. Stands in for a real
// playlist source.
func runToneSource(ctx context.Context, out chan<- *audio.Segment, sampleRate int, trackSec float64) error {
	const chunkSec = 0.050
	frames := int(float64(sampleRate) * chunkSec)
	tick := time.NewTicker(time.Duration(chunkSec * float64(time.Second)))
	defer tick.Stop()

	step := 2 * math.Pi * 440 / float64(sampleRate)
	var ts, phase, nextCut float64
	var track int

	for {
		select {
		case <-ctx.Done():
			select {
			case out <- audio.MarkerSegment(ts, audio.MarkerEnd):
			default:
			}
			return nil
		case <-tick.C:
		}

		if ts >= nextCut {
			track++
			boundary := audio.MarkerSegment(ts, audio.MarkerTrackBoundary)
			boundary.Metadata = &broadcast.MetadataSnapshot{
				Title:       fmt.Sprintf("Test Tone %d", track),
				Artist:      "Signal Generator",
				DurationSec: trackSec,
				TrackNumber: track,
			}
			select {
			case out <- boundary:
			case <-ctx.Done():
				return nil
			}
			nextCut += trackSec
		}

		pcm := make([]byte, frames*4)
		for i := 0; i < frames; i++ {
			sample := int16(math.Sin(phase) * 0.2 * math.MaxInt16)
			phase += step
			binary.LittleEndian.PutUint16(pcm[i*4:], uint16(sample))
			binary.LittleEndian.PutUint16(pcm[i*4+2:], uint16(sample))
		}

		seg := audio.DataSegment(ts, pcm, frames, sampleRate)
		select {
		case out <- seg:
		case <-ctx.Done():
			return nil
		}
		ts += chunkSec
	}
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envOrInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		var n int
		if _, err := fmt.Sscanf(v, "%d", &n); err == nil {
			return n
		}
	}
	return def
}

func envOrFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		var f float64
		if _, err := fmt.Sscanf(v, "%f", &f); err == nil {
			return f
		}
	}
	return def
}
