// Package flac locates and validates FLAC frame boundaries in a raw
// elementary stream. The sync pattern (0xFF 0xF8-0xFE) appears randomly
// inside compressed audio data, so a candidate is only trusted after the
// complete frame header decodes to known field values and its CRC-8
// matches. Boundary detection additionally requires a second validated
// sync further along before any bytes are declared safe to release.
package flac

// fixedHeaderSize is the non-variable prefix of a frame header: sync code,
// blocking strategy, block-size code, sample-rate code, channel assignment,
// bits-per-sample code and reserved bits.
const fixedHeaderSize = 4

// fixedHeader holds the decoded codes from the 4-byte frame header prefix.
type fixedHeader struct {
	blockSizeCode  uint8
	sampleRateCode uint8
}

// parseFixedHeader validates the 4-byte prefix at offset. It rejects any
// reserved bit or reserved field code outright; a partially valid header is
// never accepted.
func parseFixedHeader(data []byte, offset int) (fixedHeader, bool) {
	var h fixedHeader

	if offset < 0 || offset+fixedHeaderSize > len(data) {
		return h, false
	}

	// Sync code: 0xFF followed by 0b111110xx.
	if data[offset] != 0xFF || data[offset+1] < 0xF8 {
		return h, false
	}

	// Reserved bit in byte 1 must be 0.
	if data[offset+1]&0x02 != 0 {
		return h, false
	}

	byte2 := data[offset+2]
	byte3 := data[offset+3]

	h.blockSizeCode = (byte2 >> 4) & 0x0F
	h.sampleRateCode = byte2 & 0x0F

	// Sample-rate code 0xF is invalid.
	if h.sampleRateCode == 0x0F {
		return h, false
	}

	// Channel assignments 0xB-0xF are reserved.
	if (byte3>>4)&0x0F >= 0x0B {
		return h, false
	}

	// Bits-per-sample codes 3 and 7 are reserved.
	bps := (byte3 >> 1) & 0x07
	if bps == 0x03 || bps == 0x07 {
		return h, false
	}

	// Final reserved bit must be 0.
	if byte3&0x01 != 0 {
		return h, false
	}

	// Block-size code 0 is reserved.
	if h.blockSizeCode == 0 {
		return h, false
	}

	return h, true
}

// ParseBlockSize validates the frame header prefix at offset and decodes the
// block size (sample count) from its fixed table. Codes 6 and 7 defer the
// block size to an 8- or 16-bit field at the end of the header; those are
// rejected here and only resolved by the full-header functions.
func ParseBlockSize(data []byte, offset int) (int, bool) {
	h, ok := parseFixedHeader(data, offset)
	if !ok {
		return 0, false
	}

	switch {
	case h.blockSizeCode == 1:
		return 192, true
	case h.blockSizeCode >= 2 && h.blockSizeCode <= 5:
		return 576 << (h.blockSizeCode - 2), true
	case h.blockSizeCode >= 8:
		return 256 << (h.blockSizeCode - 8), true
	default:
		// Codes 6 and 7 carry the block size out of band.
		return 0, false
	}
}

// frameNumberLength walks the UTF-8-style frame/sample number starting at
// pos: 1-7 bytes using the same leading-ones-count encoding as UTF-8, with
// continuation bytes matching 10xxxxxx.
func frameNumberLength(data []byte, pos int) (int, bool) {
	if pos >= len(data) {
		return 0, false
	}

	b := data[pos]
	var n int
	switch {
	case b&0x80 == 0:
		n = 1
	case b&0xE0 == 0xC0:
		n = 2
	case b&0xF0 == 0xE0:
		n = 3
	case b&0xF8 == 0xF0:
		n = 4
	case b&0xFC == 0xF8:
		n = 5
	case b&0xFE == 0xFC:
		n = 6
	case b == 0xFE:
		n = 7
	default:
		// 10xxxxxx is only valid as a continuation byte.
		return 0, false
	}

	if pos+n > len(data) {
		return 0, false
	}
	for i := 1; i < n; i++ {
		if data[pos+i]&0xC0 != 0x80 {
			return 0, false
		}
	}
	return n, true
}

// headerLayout walks a full frame header at offset: fixed prefix, variable
// frame/sample number, optional out-of-band block size and sample rate, and
// the trailing CRC-8 byte. It returns the total header length and the
// frame's sample count (resolving codes 6/7 from their trailing fields).
func headerLayout(data []byte, offset int) (length, samples int, ok bool) {
	h, hok := parseFixedHeader(data, offset)
	if !hok {
		return 0, 0, false
	}

	pos := offset + fixedHeaderSize

	n, nok := frameNumberLength(data, pos)
	if !nok {
		return 0, 0, false
	}
	pos += n

	switch h.blockSizeCode {
	case 6:
		if pos+1 > len(data) {
			return 0, 0, false
		}
		samples = int(data[pos]) + 1
		pos++
	case 7:
		if pos+2 > len(data) {
			return 0, 0, false
		}
		samples = int(data[pos])<<8 | int(data[pos+1])
		samples++
		pos += 2
	case 1:
		samples = 192
	default:
		if h.blockSizeCode >= 2 && h.blockSizeCode <= 5 {
			samples = 576 << (h.blockSizeCode - 2)
		} else {
			samples = 256 << (h.blockSizeCode - 8)
		}
	}

	switch h.sampleRateCode {
	case 12:
		pos++
	case 13, 14:
		pos += 2
	}

	// Trailing CRC-8 byte.
	pos++
	if pos > len(data) {
		return 0, 0, false
	}

	return pos - offset, samples, true
}

// FrameHeaderLength returns the full byte length of the frame header at
// offset, including the trailing CRC-8 byte. It reports false on any
// truncation, malformed continuation byte, or invalid field code.
func FrameHeaderLength(data []byte, offset int) (int, bool) {
	length, _, ok := headerLayout(data, offset)
	return length, ok
}

// ValidateHeaderCRC reports whether the frame header at offset carries a
// matching CRC-8 over all header bytes preceding the CRC byte itself.
func ValidateHeaderCRC(data []byte, offset int) bool {
	length, _, ok := headerLayout(data, offset)
	if !ok {
		return false
	}
	return crc8(data[offset:offset+length-1]) == data[offset+length-1]
}

// isSyncCandidate reports whether a two-byte sync pattern starts at i.
func isSyncCandidate(data []byte, i int) bool {
	return data[i] == 0xFF && data[i+1] >= 0xF8 && data[i+1] <= 0xFE
}

// FindCompleteFramesBoundary scans data for validated frame headers and
// returns the offset of the last one. Everything strictly before that offset
// is guaranteed to contain only complete frames; the caller keeps bytes from
// the offset onward for the next pass. With fewer than two validated syncs
// there is not enough evidence to guarantee even one complete frame and 0 is
// returned, meaning "buffer more data". This never fails: absence of a
// boundary is the only signal.
func FindCompleteFramesBoundary(data []byte) int {
	boundary, _ := FindCompleteFramesWithSamples(data)
	return boundary
}

// FindCompleteFramesWithSamples is FindCompleteFramesBoundary plus sample
// accounting: it sums the sample counts of all complete frames (every
// validated frame except the last, which may be truncated). Used to keep a
// running total-sample counter in lockstep with the bytes released, e.g. for
// Ogg granule positions.
func FindCompleteFramesWithSamples(data []byte) (int, uint64) {
	if len(data) < fixedHeaderSize {
		return 0, 0
	}

	var (
		positions []int
		samples   []int
	)
	for i := 0; i < len(data)-1; i++ {
		if !isSyncCandidate(data, i) {
			continue
		}
		if !ValidateHeaderCRC(data, i) {
			continue
		}
		_, n, ok := headerLayout(data, i)
		if !ok {
			continue
		}
		positions = append(positions, i)
		samples = append(samples, n)
	}

	if len(positions) < 2 {
		return 0, 0
	}

	var total uint64
	for _, n := range samples[:len(samples)-1] {
		total += uint64(n)
	}
	return positions[len(positions)-1], total
}
