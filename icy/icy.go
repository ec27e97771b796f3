// Package icy interleaves ICY (SHOUTcast-style) metadata blocks into an
// audio byte stream at a fixed interval, letting metadata-aware players
// display now-playing titles over a plain HTTP audio response.
package icy

import (
	"fmt"
	"io"

	"github.com/coissac/pmomusic-sub002/broadcast"
)

// DefaultMetaInt is the standard byte interval between metadata blocks.
const DefaultMetaInt = 16000

// maxBlockText is the largest metadata text a block can carry: the length
// prefix counts 16-byte units in a single byte.
const maxBlockText = 255 * 16

// Writer copies an audio stream to its destination, inserting one metadata
// block every MetaInt audio bytes. The block carries the current snapshot
// when its version changed since the previous block, and is a single zero
// byte otherwise.
type Writer struct {
	dst     io.Writer
	meta    *broadcast.MetadataCell
	metaInt int

	sinceBlock  int
	lastVersion uint64
	cached      []byte
}

// NewWriter wraps dst. A non-positive metaInt falls back to DefaultMetaInt.
func NewWriter(dst io.Writer, meta *broadcast.MetadataCell, metaInt int) *Writer {
	if metaInt <= 0 {
		metaInt = DefaultMetaInt
	}
	return &Writer{dst: dst, meta: meta, metaInt: metaInt}
}

// MetaInt returns the active interval, for the icy-metaint response header.
func (w *Writer) MetaInt() int { return w.metaInt }

// Write implements io.Writer over the audio bytes. The returned count is
// the number of audio bytes consumed; injected metadata is not counted.
func (w *Writer) Write(p []byte) (int, error) {
	written := 0
	for written < len(p) {
		if w.sinceBlock == w.metaInt {
			if err := w.writeBlock(); err != nil {
				return written, err
			}
			w.sinceBlock = 0
		}

		n := w.metaInt - w.sinceBlock
		if n > len(p)-written {
			n = len(p) - written
		}
		m, err := w.dst.Write(p[written : written+n])
		written += m
		w.sinceBlock += m
		if err != nil {
			return written, err
		}
	}
	return written, nil
}

func (w *Writer) writeBlock() error {
	snap := w.meta.Snapshot()
	if snap.Version != w.lastVersion {
		w.lastVersion = snap.Version
		w.cached = FormatBlock(snap)
		_, err := w.dst.Write(w.cached)
		return err
	}
	_, err := w.dst.Write([]byte{0})
	return err
}

// FormatBlock renders a snapshot as an ICY metadata block: a length byte
// counting 16-byte units, then the StreamTitle string zero-padded to that
// length.
func FormatBlock(snap broadcast.MetadataSnapshot) []byte {
	title := snap.Title
	if title == "" {
		title = "Unknown"
	}
	artist := snap.Artist
	if artist == "" {
		artist = "Unknown Artist"
	}

	text := fmt.Sprintf("StreamTitle='%s - %s';", artist, title)
	if snap.CoverURL != "" {
		text += fmt.Sprintf("StreamUrl='%s';", snap.CoverURL)
	}
	if len(text) > maxBlockText {
		text = text[:maxBlockText]
	}

	padded := (len(text) + 15) / 16 * 16
	block := make([]byte, 1+padded)
	block[0] = byte(padded / 16)
	copy(block[1:], text)
	return block
}
