// Package sink turns a PCM segment stream into a live encoded broadcast:
// it feeds an external FLAC encoder, cuts the encoded byte stream at
// container boundaries, and publishes timestamped chunks to a broadcast
// bus with the stream header cached for late joiners.
package sink

import (
	"context"
	"io"
)

// PCMFormat describes the raw samples fed to an encoder: interleaved,
// little-endian, signed.
type PCMFormat struct {
	SampleRate    int
	Channels      int
	BitsPerSample int
}

// BytesPerFrame returns the size of one interleaved sample frame.
func (f PCMFormat) BytesPerFrame() int {
	return f.Channels * f.BitsPerSample / 8
}

// EncoderOptions tunes a single encoder run.
type EncoderOptions struct {
	// CompressionLevel is the FLAC level 0..8.
	CompressionLevel int

	// Verify enables decode-while-encoding verification.
	Verify bool

	// TotalSamples, when non-zero, is written into the stream header.
	// Live streams must leave it zero: the total is unknowable and
	// clients would truncate playback at the advertised length.
	TotalSamples uint64

	// Ogg selects an Ogg-FLAC container instead of raw FLAC.
	Ogg bool

	// Tags are Vorbis-comment style key/value pairs (TITLE, ARTIST, ...).
	Tags map[string]string
}

// Encoder starts an encoding run over a PCM reader and returns the encoded
// byte stream. The run ends when the PCM reader is exhausted; closing the
// returned reader aborts it early.
type Encoder interface {
	Start(ctx context.Context, pcm io.Reader, format PCMFormat, opts EncoderOptions) (io.ReadCloser, error)
}
