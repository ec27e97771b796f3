package ogg

// Ogg CRC-32 with polynomial 0x04C11DB7, MSB-first, init 0, no final XOR.
//
// This is NOT the IEEE CRC-32 (reflected 0xEDB88320); hash/crc32 cannot
// compute it.
var crcTable [256]uint32

func init() {
	for i := 0; i < 256; i++ {
		crc := uint32(i) << 24
		for j := 0; j < 8; j++ {
			if crc&0x80000000 != 0 {
				crc = (crc << 1) ^ 0x04C11DB7
			} else {
				crc <<= 1
			}
		}
		crcTable[i] = crc
	}
}

func crcUpdate(crc uint32, data []byte) uint32 {
	for _, b := range data {
		crc = (crc << 8) ^ crcTable[byte(crc>>24)^b]
	}
	return crc
}
