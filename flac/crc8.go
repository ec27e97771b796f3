package flac

// FLAC frame header CRC-8 with polynomial x^8+x^2+x+1 (0x07), init 0,
// no final XOR.
var crc8Table [256]uint8

func init() {
	for i := 0; i < 256; i++ {
		crc := uint8(i)
		for j := 0; j < 8; j++ {
			if crc&0x80 != 0 {
				crc = (crc << 1) ^ 0x07
			} else {
				crc <<= 1
			}
		}
		crc8Table[i] = crc
	}
}

func crc8(data []byte) uint8 {
	var crc uint8
	for _, b := range data {
		crc = crc8Table[crc^b]
	}
	return crc
}
