package sink

import (
	"bytes"
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coissac/pmomusic-sub002/audio"
	"github.com/coissac/pmomusic-sub002/broadcast"
	"github.com/coissac/pmomusic-sub002/ogg"
)

func crc8Ref(data []byte) byte {
	var crc byte
	for _, b := range data {
		crc ^= b
		for i := 0; i < 8; i++ {
			if crc&0x80 != 0 {
				crc = (crc << 1) ^ 0x07
			} else {
				crc <<= 1
			}
		}
	}
	return crc
}

// frame192 builds a frame with a valid 192-sample header followed by a zero
// payload that cannot contain a sync pattern.
func frame192(number byte) []byte {
	hdr := []byte{0xFF, 0xF8, 0x19, 0x18, number}
	hdr = append(hdr, crc8Ref(hdr))
	return append(hdr, make([]byte, 10)...)
}

func flacFixture() []byte {
	stream := append([]byte("fLaC"), make([]byte, 16)...)
	for i := byte(0); i < 4; i++ {
		stream = append(stream, frame192(i)...)
	}
	return stream
}

// stubEncoder consumes the PCM feed and, once it ends, emits a fixed
// encoded stream.
type stubEncoder struct {
	output []byte
}

func (s stubEncoder) Start(_ context.Context, pcm io.Reader, _ PCMFormat, _ EncoderOptions) (io.ReadCloser, error) {
	pr, pw := io.Pipe()
	go func() {
		io.Copy(io.Discard, pcm)
		pw.Write(s.output)
		pw.Close()
	}()
	return pr, nil
}

func TestFLACContainerCutAndHeader(t *testing.T) {
	t.Parallel()

	c := FLACContainer{}
	data := flacFixture()

	cut, samples := c.CutBoundary(data)
	require.Greater(t, cut, 0)
	// Three of the four frames are provably complete.
	assert.Equal(t, uint64(3*192), samples)
	assert.Equal(t, len(data)-len(frame192(3)), cut)

	assert.True(t, c.IsHeader(data))
	assert.False(t, c.IsHeader(frame192(0)))

	// Not enough evidence for a boundary.
	cut, samples = c.CutBoundary(frame192(0))
	assert.Equal(t, 0, cut)
	assert.Equal(t, uint64(0), samples)
}

func TestOggContainerGranuleDeltas(t *testing.T) {
	t.Parallel()

	c := NewOggFLACContainer()

	first := ogg.SinglePacketPage(ogg.FlagBOS, 576, 1, 0, []byte("a")).Encode()
	second := ogg.SinglePacketPage(0, 1152, 1, 1, []byte("b")).Encode()

	cut, samples := c.CutBoundary(append(append([]byte{}, first...), second...))
	assert.Equal(t, len(first)+len(second), cut)
	assert.Equal(t, uint64(1152), samples)

	third := ogg.SinglePacketPage(0, 1728, 1, 2, []byte("c")).Encode()
	cut, samples = c.CutBoundary(third)
	assert.Equal(t, len(third), cut)
	assert.Equal(t, uint64(576), samples)

	// Partial page: buffer more.
	cut, _ = c.CutBoundary(third[:10])
	assert.Equal(t, 0, cut)

	assert.True(t, c.IsHeader(first))
	assert.False(t, c.IsHeader(second))
}

func TestPacerDropsLateFrames(t *testing.T) {
	t.Parallel()

	p := NewPacer(2.0, "flac", nil)
	p.start = time.Now().Add(-500 * time.Millisecond)

	assert.ErrorIs(t, p.Check(0.2), ErrSkipFrame)
	assert.NoError(t, p.Check(1.0))
}

func TestPacerResetsOnTopZero(t *testing.T) {
	t.Parallel()

	p := NewPacer(2.0, "flac", nil)
	p.start = time.Now().Add(-5 * time.Second)

	// Near-zero timestamp long after start means the stream restarted.
	assert.NoError(t, p.Check(0.05))
	assert.Less(t, time.Since(p.start), time.Second)
}

func newTestLifecycle(t *testing.T) (*Lifecycle, *broadcast.Bus, *broadcast.HeaderCache) {
	t.Helper()
	bus := broadcast.NewBus(64)
	header := broadcast.NewHeaderCache()
	lc := NewLifecycle(
		stubEncoder{output: flacFixture()},
		func() Container { return FLACContainer{} },
		bus, header,
		PCMFormat{Channels: 2, BitsPerSample: 16},
		EncoderOptions{},
		nil, nil,
	)
	return lc, bus, header
}

func TestLifecyclePublishesAndCachesHeader(t *testing.T) {
	t.Parallel()

	lc, bus, header := newTestLifecycle(t)
	rx := bus.Subscribe()

	// 192 Hz makes each 192-sample frame exactly one second.
	require.NoError(t, lc.Initialize(context.Background(), 192, 0))
	_, err := lc.Write([]byte("pcm"))
	require.NoError(t, err)
	lc.CloseAndJoin()

	first, err := rx.Recv(context.Background())
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(first.Payload, []byte("fLaC")))
	assert.InDelta(t, 3.0, first.AudioTimestamp, 1e-9)

	// The tail frame is released at end of stream.
	tail, err := rx.Recv(context.Background())
	require.NoError(t, err)
	assert.Equal(t, frame192(3), tail.Payload)

	_, err = rx.Recv(context.Background())
	assert.ErrorIs(t, err, broadcast.ErrClosed)

	cached, ok := header.TryGet()
	require.True(t, ok)
	assert.True(t, bytes.HasPrefix(cached, []byte("fLaC")))
}

func TestLifecycleInitializeGuards(t *testing.T) {
	t.Parallel()

	lc, _, _ := newTestLifecycle(t)
	assert.ErrorIs(t, lc.Initialize(context.Background(), 0, 0), ErrNoSampleRate)

	require.NoError(t, lc.Initialize(context.Background(), 192, 0))
	// Second call while running is a no-op.
	require.NoError(t, lc.Initialize(context.Background(), 192, 0))
	lc.CloseAndJoin()
}

func TestLifecycleRestartAccumulatesOffset(t *testing.T) {
	t.Parallel()

	lc, bus, _ := newTestLifecycle(t)
	rx := bus.Subscribe()

	require.NoError(t, lc.Initialize(context.Background(), 192, 0))
	assert.Equal(t, 0.0, lc.TimestampOffset())

	// Each generation streams 3 provably complete frames of one second.
	require.NoError(t, lc.RestartForNewTrack(context.Background()))
	assert.InDelta(t, 3.0, lc.TimestampOffset(), 1e-9)
	assert.Equal(t, uint64(1), bus.Epoch())

	require.NoError(t, lc.RestartForNewTrack(context.Background()))
	assert.InDelta(t, 6.0, lc.TimestampOffset(), 1e-9)
	assert.Equal(t, uint64(2), bus.Epoch())

	lc.CloseAndJoin()

	// Post-restart chunks carry the new epoch; the epoch mark dropped
	// everything published before it.
	var sawEpoch2 bool
	for {
		chunk, err := rx.Recv(context.Background())
		if errors.Is(err, broadcast.ErrClosed) {
			break
		}
		var lagged *broadcast.LaggedError
		if errors.As(err, &lagged) {
			continue
		}
		require.NoError(t, err)
		assert.Equal(t, uint64(2), chunk.Epoch)
		sawEpoch2 = true
	}
	assert.True(t, sawEpoch2)
}

func TestSinkRunEndToEnd(t *testing.T) {
	t.Parallel()

	opts := FLACDefaults()
	opts.DefaultArtist = "PMO Radio"
	s, handle := NewSink(stubEncoder{output: flacFixture()}, opts, nil)

	client := handle.NewClient(context.Background())
	defer client.Close()

	in := make(chan *audio.Segment, 8)
	in <- audio.DataSegment(0, []byte("pcm pcm"), 1344, 192)
	boundary := audio.MarkerSegment(7, audio.MarkerTrackBoundary)
	boundary.Metadata = &broadcast.MetadataSnapshot{Title: "Song", Artist: "Band", DurationSec: 180}
	in <- boundary
	in <- audio.MarkerSegment(7, audio.MarkerEnd)

	require.NoError(t, s.Run(context.Background(), in))

	got, err := io.ReadAll(client)
	require.NoError(t, err)
	assert.Equal(t, flacFixture(), got)

	// A client connected before the header publish gets exactly one copy
	// of it: the cache replay covers the live chunk, never both.
	assert.Equal(t, 1, bytes.Count(got, []byte("fLaC")))

	snap := handle.Metadata.Snapshot()
	assert.Equal(t, "Song", snap.Title)
	assert.Equal(t, "Band", snap.Artist)
	assert.Equal(t, uint64(1), snap.Version)
	assert.Equal(t, 7.0, snap.AudioTimestampSec)
}

func TestSinkMetadataDefaults(t *testing.T) {
	t.Parallel()

	opts := FLACDefaults()
	opts.DefaultTitle = "PMO Radio"
	opts.DefaultArtist = "Various"
	s, handle := NewSink(stubEncoder{}, opts, nil)

	boundary := audio.MarkerSegment(0, audio.MarkerTrackBoundary)
	boundary.Metadata = &broadcast.MetadataSnapshot{Album: "Live"}

	in := make(chan *audio.Segment, 2)
	in <- boundary
	close(in)
	require.NoError(t, s.Run(context.Background(), in))

	snap := handle.Metadata.Snapshot()
	assert.Equal(t, "PMO Radio", snap.Title)
	assert.Equal(t, "Various", snap.Artist)
	assert.Equal(t, "Live", snap.Album)
}

func TestSinkResetMarksEpoch(t *testing.T) {
	t.Parallel()

	s, handle := NewSink(stubEncoder{}, FLACDefaults(), nil)

	in := make(chan *audio.Segment, 2)
	in <- audio.MarkerSegment(0, audio.MarkerReset)
	close(in)
	require.NoError(t, s.Run(context.Background(), in))

	assert.Equal(t, uint64(1), handle.Bus.Epoch())
	assert.Equal(t, uint64(1), handle.Metadata.Snapshot().Version)
}

func TestSinkRejectsUnknownSampleRate(t *testing.T) {
	t.Parallel()

	s, _ := NewSink(stubEncoder{}, FLACDefaults(), nil)

	in := make(chan *audio.Segment, 1)
	in <- audio.DataSegment(0, []byte("x"), 0, 0)
	assert.ErrorIs(t, s.Run(context.Background(), in), ErrNoSampleRate)
}
