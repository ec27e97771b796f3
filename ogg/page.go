package ogg

import "encoding/binary"

// Page header-type flags.
const (
	// FlagContinuation marks a page whose first segment continues a
	// packet begun on the previous page.
	FlagContinuation = 0x01

	// FlagBOS marks the first page of a logical bitstream.
	FlagBOS = 0x02

	// FlagEOS marks the last page of a logical bitstream.
	FlagEOS = 0x04
)

const (
	// pageHeaderSize is the fixed portion of a page header, before the
	// segment table.
	pageHeaderSize = 27

	capturePattern = "OggS"
)

// Page is a single Ogg page ready to be encoded. The packet reader does not
// use this type; it exists for the producer side (cutting an encoded stream
// into page-aligned chunks) and for building test fixtures.
type Page struct {
	HeaderType byte
	GranulePos uint64
	Serial     uint32
	Sequence   uint32
	Segments   []byte
	Payload    []byte
}

// BuildSegmentTable returns the lacing values for a single packet of the
// given length: 255-byte segments followed by one terminator below 255 (a
// zero-length segment when the packet length is an exact multiple of 255).
func BuildSegmentTable(packetLen int) []byte {
	full := packetLen / 255
	rest := packetLen % 255

	table := make([]byte, full+1)
	for i := 0; i < full; i++ {
		table[i] = 255
	}
	table[full] = byte(rest)
	return table
}

// Encode serializes the page with a correct CRC-32. The CRC is computed over
// the whole page with the CRC field zeroed.
func (p *Page) Encode() []byte {
	headerSize := pageHeaderSize + len(p.Segments)
	data := make([]byte, headerSize+len(p.Payload))

	copy(data[0:4], capturePattern)
	data[4] = 0 // version
	data[5] = p.HeaderType
	binary.LittleEndian.PutUint64(data[6:14], p.GranulePos)
	binary.LittleEndian.PutUint32(data[14:18], p.Serial)
	binary.LittleEndian.PutUint32(data[18:22], p.Sequence)
	// CRC at 22:26 is filled below.
	data[26] = byte(len(p.Segments))
	copy(data[27:], p.Segments)
	copy(data[headerSize:], p.Payload)

	crc := crcUpdate(0, data)
	binary.LittleEndian.PutUint32(data[22:26], crc)
	return data
}

// SinglePacketPage builds a page carrying exactly one complete packet.
func SinglePacketPage(headerType byte, granule uint64, serial, seq uint32, packet []byte) *Page {
	return &Page{
		HeaderType: headerType,
		GranulePos: granule,
		Serial:     serial,
		Sequence:   seq,
		Segments:   BuildSegmentTable(len(packet)),
		Payload:    packet,
	}
}

// CompletePageLength inspects data for a full page starting at offset 0 and
// returns its total encoded length. It reports false when data does not hold
// a complete page (caller should buffer more) without validating the CRC;
// use a PacketReader for full validation.
func CompletePageLength(data []byte) (int, bool) {
	if len(data) < pageHeaderSize {
		return 0, false
	}
	if string(data[0:4]) != capturePattern {
		return 0, false
	}
	segments := int(data[26])
	total := pageHeaderSize + segments
	if len(data) < total {
		return 0, false
	}
	for _, lace := range data[pageHeaderSize : pageHeaderSize+segments] {
		total += int(lace)
	}
	if len(data) < total {
		return 0, false
	}
	return total, true
}

// PageGranule returns the granule position of a page known to start at
// offset 0 of data.
func PageGranule(data []byte) uint64 {
	return binary.LittleEndian.Uint64(data[6:14])
}
