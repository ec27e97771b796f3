// Package ogg parses Ogg logical bitstreams: a stateful packet assembler
// that validates page structure and CRC-32, reassembles packets split
// across pages, and enforces a single bitstream serial per instance. Page
// encoding helpers cover the producer side.
package ogg

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
)

// DefaultMaxSyncSearch bounds the bytes scanned for the capture pattern
// before giving up, capping memory growth against garbage prefixes such as
// HTTP headers.
const DefaultMaxSyncSearch = 64 * 1024

// ReaderOptions configures a PacketReader.
type ReaderOptions struct {
	// ValidateCRC enables page CRC-32 verification.
	ValidateCRC bool

	// FindSync enables scanning for the "OggS" capture pattern before the
	// first page, discarding any garbage prefix.
	FindSync bool

	// MaxSyncSearch is the search window for FindSync.
	MaxSyncSearch int
}

// DefaultReaderOptions validates CRCs and searches for sync within the
// default window.
func DefaultReaderOptions() ReaderOptions {
	return ReaderOptions{
		ValidateCRC:   true,
		FindSync:      true,
		MaxSyncSearch: DefaultMaxSyncSearch,
	}
}

// PacketReader assembles logical packets from a raw Ogg byte stream. It owns
// its read loop: unlike the FLAC scanner it is stateful across calls and any
// structural error terminates the instance.
type PacketReader struct {
	r        io.Reader
	opts     ReaderOptions
	current  []byte
	queue    [][]byte
	finished bool

	serial     uint32
	haveSerial bool

	syncBuf []byte
	synced  bool
}

// NewPacketReader wraps r with the given options.
func NewPacketReader(r io.Reader, opts ReaderOptions) *PacketReader {
	if opts.MaxSyncSearch <= 0 {
		opts.MaxSyncSearch = DefaultMaxSyncSearch
	}
	return &PacketReader{
		r:      r,
		opts:   opts,
		synced: !opts.FindSync,
	}
}

// Serial returns the bitstream serial number once the first page has been
// read.
func (pr *PacketReader) Serial() (uint32, bool) {
	return pr.serial, pr.haveSerial
}

// NextPacket returns the next complete packet, or io.EOF once the stream has
// cleanly ended. Structural errors (bad capture pattern, version, CRC,
// serial change, inconsistent continuation) are permanent for this reader.
func (pr *PacketReader) NextPacket() ([]byte, error) {
	for {
		if len(pr.queue) > 0 {
			packet := pr.queue[0]
			pr.queue = pr.queue[1:]
			return packet, nil
		}
		if pr.finished {
			return nil, io.EOF
		}
		if err := pr.readPage(); err != nil {
			pr.finished = true
			return nil, err
		}
	}
}

// readBytes fills buf, consuming the sync buffer before the underlying
// reader. Returns the number of bytes obtained; short counts mean EOF.
func (pr *PacketReader) readBytes(buf []byte) (int, error) {
	total := 0

	if len(pr.syncBuf) > 0 {
		n := copy(buf, pr.syncBuf)
		pr.syncBuf = pr.syncBuf[n:]
		total += n
	}

	for total < len(buf) {
		n, err := pr.r.Read(buf[total:])
		total += n
		if err != nil {
			if err == io.EOF {
				return total, nil
			}
			return total, err
		}
		if n == 0 {
			break
		}
	}
	return total, nil
}

// readFull reads len(buf) bytes. A clean EOF before any byte was read
// reports ok=false with no error; EOF mid-structure is ErrTruncated.
func (pr *PacketReader) readFull(buf []byte) (bool, error) {
	n, err := pr.readBytes(buf)
	if err != nil {
		return false, fmt.Errorf("ogg: read page: %w", err)
	}
	if n == 0 && len(buf) > 0 {
		return false, nil
	}
	if n < len(buf) {
		return false, ErrTruncated
	}
	return true, nil
}

// findSync scans for the capture pattern, buffering up to MaxSyncSearch
// bytes and discarding any prefix before the match.
func (pr *PacketReader) findSync() error {
	if pr.synced {
		return nil
	}

	scanned := 0
	chunk := make([]byte, 1024)
	for scanned < pr.opts.MaxSyncSearch {
		n, err := pr.r.Read(chunk)
		if n > 0 {
			pr.syncBuf = append(pr.syncBuf, chunk[:n]...)
			scanned += n

			if pos := bytes.Index(pr.syncBuf, []byte(capturePattern)); pos >= 0 {
				pr.syncBuf = pr.syncBuf[pos:]
				pr.synced = true
				return nil
			}

			// Only the last 3 bytes can still start a split pattern.
			if len(pr.syncBuf) > 3 {
				pr.syncBuf = pr.syncBuf[len(pr.syncBuf)-3:]
			}
		}
		if err != nil {
			return fmt.Errorf("ogg: searching for capture pattern: %w", ErrNoSync)
		}
	}

	return fmt.Errorf("ogg: no capture pattern in first %d bytes: %w", pr.opts.MaxSyncSearch, ErrNoSync)
}

// readPage reads one page, validates it, and appends its completed packets
// to the queue.
func (pr *PacketReader) readPage() error {
	if pr.opts.FindSync {
		if err := pr.findSync(); err != nil {
			return err
		}
	}

	var header [pageHeaderSize]byte
	ok, err := pr.readFull(header[:])
	if err != nil {
		return err
	}
	if !ok {
		// Clean end of input before any header byte.
		pr.finished = true
		return nil
	}

	if string(header[0:4]) != capturePattern {
		return ErrBadCapture
	}
	if header[4] != 0 {
		return fmt.Errorf("ogg: version %d: %w", header[4], ErrBadVersion)
	}

	headerType := header[5]
	serial := binary.LittleEndian.Uint32(header[14:18])

	if pr.haveSerial {
		if serial != pr.serial {
			return fmt.Errorf("ogg: serial %#x after %#x: %w", serial, pr.serial, ErrMultipleStreams)
		}
	} else {
		pr.serial = serial
		pr.haveSerial = true
	}

	segCount := int(header[26])
	segTable := make([]byte, segCount)
	if ok, err := pr.readFull(segTable); err != nil {
		return err
	} else if !ok && segCount > 0 {
		return ErrTruncated
	}

	dataLen := 0
	for _, lace := range segTable {
		dataLen += int(lace)
	}
	data := make([]byte, dataLen)
	if ok, err := pr.readFull(data); err != nil {
		return err
	} else if !ok && dataLen > 0 {
		return ErrTruncated
	}

	if pr.opts.ValidateCRC {
		stored := binary.LittleEndian.Uint32(header[22:26])
		crcHeader := header
		crcHeader[22], crcHeader[23], crcHeader[24], crcHeader[25] = 0, 0, 0, 0

		crc := crcUpdate(0, crcHeader[:])
		crc = crcUpdate(crc, segTable)
		crc = crcUpdate(crc, data)
		if crc != stored {
			return fmt.Errorf("ogg: computed %#08x, stored %#08x: %w", crc, stored, ErrBadCRC)
		}
	}

	continued := headerType&FlagContinuation != 0
	if continued && len(pr.current) == 0 {
		return fmt.Errorf("ogg: continuation flag without pending packet: %w", ErrBadContinuation)
	}
	if !continued && len(pr.current) > 0 {
		return fmt.Errorf("ogg: pending packet without continuation flag: %w", ErrBadContinuation)
	}

	offset := 0
	for _, lace := range segTable {
		end := offset + int(lace)
		pr.current = append(pr.current, data[offset:end]...)
		offset = end

		// A lace below 255 terminates the packet.
		if lace < 255 {
			pr.queue = append(pr.queue, pr.current)
			pr.current = nil
		}
	}

	if headerType&FlagEOS != 0 && len(pr.current) == 0 {
		pr.finished = true
	}

	return nil
}
