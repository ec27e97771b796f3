package flac

import (
	"math/rand"
	"testing"
)

// makeHeader builds a frame header from the fixed prefix bytes and the
// variable frame-number bytes, appending a correct CRC-8.
func makeHeader(byte1, byte2, byte3 byte, rest ...byte) []byte {
	h := append([]byte{0xFF, byte1, byte2, byte3}, rest...)
	return append(h, crc8(h))
}

// header192 is a valid header for a 192-sample frame: block-size code 1,
// sample-rate code 9 (44.1 kHz), stereo, 16 bits per sample, frame number 0.
func header192() []byte {
	return makeHeader(0xF8, 0x19, 0x18, 0x00)
}

func TestParseBlockSize_Valid(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name  string
		byte2 byte
		want  int
	}{
		{"code1_192", 0x19, 192},
		{"code2_576", 0x29, 576},
		{"code5_4608", 0x59, 4608},
		{"code8_256", 0x89, 256},
		{"code12_4096", 0xC9, 4096},
		{"code15_32768", 0xF9, 32768},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			data := []byte{0xFF, 0xF8, tc.byte2, 0x18}
			got, ok := ParseBlockSize(data, 0)
			if !ok {
				t.Fatalf("ParseBlockSize rejected valid header %#x", tc.byte2)
			}
			if got != tc.want {
				t.Errorf("block size = %d, want %d", got, tc.want)
			}
		})
	}
}

func TestParseBlockSize_Rejections(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		data []byte
	}{
		{"truncated", []byte{0xFF, 0xF8, 0x19}},
		{"bad_sync_byte0", []byte{0xFE, 0xF8, 0x19, 0x18}},
		{"bad_sync_byte1", []byte{0xFF, 0xF0, 0x19, 0x18}},
		{"reserved_bit_byte1", []byte{0xFF, 0xFA, 0x19, 0x18}},
		{"sample_rate_sentinel", []byte{0xFF, 0xF8, 0x1F, 0x18}},
		{"channel_reserved", []byte{0xFF, 0xF8, 0x19, 0xB8}},
		{"bps_reserved_3", []byte{0xFF, 0xF8, 0x19, 0x16}},
		{"bps_reserved_7", []byte{0xFF, 0xF8, 0x19, 0x1E}},
		{"final_reserved_bit", []byte{0xFF, 0xF8, 0x19, 0x19}},
		{"block_size_reserved_0", []byte{0xFF, 0xF8, 0x09, 0x18}},
		{"block_size_code_6", []byte{0xFF, 0xF8, 0x69, 0x18}},
		{"block_size_code_7", []byte{0xFF, 0xF8, 0x79, 0x18}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, ok := ParseBlockSize(tc.data, 0); ok {
				t.Error("ParseBlockSize accepted invalid header")
			}
		})
	}
}

func TestFrameHeaderLength(t *testing.T) {
	t.Parallel()

	// Minimal header: 4-byte prefix + 1-byte number + CRC.
	if n, ok := FrameHeaderLength(header192(), 0); !ok || n != 6 {
		t.Errorf("minimal header length = %d, %v; want 6, true", n, ok)
	}

	// Two-byte frame number.
	h := makeHeader(0xF8, 0x19, 0x18, 0xC2, 0x80)
	if n, ok := FrameHeaderLength(h, 0); !ok || n != 7 {
		t.Errorf("2-byte number header length = %d, %v; want 7, true", n, ok)
	}

	// Block-size code 6 adds one out-of-band byte.
	h = makeHeader(0xF8, 0x69, 0x18, 0x00, 0xBF)
	if n, ok := FrameHeaderLength(h, 0); !ok || n != 7 {
		t.Errorf("code-6 header length = %d, %v; want 7, true", n, ok)
	}

	// Block-size code 7 adds two, sample-rate code 13 adds two more.
	h = makeHeader(0xF8, 0x7D, 0x18, 0x00, 0x0F, 0xFF, 0xAC, 0x44)
	if n, ok := FrameHeaderLength(h, 0); !ok || n != 10 {
		t.Errorf("code-7/sr-13 header length = %d, %v; want 10, true", n, ok)
	}

	// Malformed continuation byte.
	h = makeHeader(0xF8, 0x19, 0x18, 0xC2, 0x00)
	if _, ok := FrameHeaderLength(h, 0); ok {
		t.Error("accepted malformed continuation byte")
	}

	// Bare continuation byte as the frame number.
	h = makeHeader(0xF8, 0x19, 0x18, 0x80)
	if _, ok := FrameHeaderLength(h, 0); ok {
		t.Error("accepted leading continuation byte")
	}

	// Truncated before the CRC byte.
	full := header192()
	if _, ok := FrameHeaderLength(full[:len(full)-1], 0); ok {
		t.Error("accepted truncated header")
	}
}

func TestValidateHeaderCRC(t *testing.T) {
	t.Parallel()

	h := header192()
	if !ValidateHeaderCRC(h, 0) {
		t.Fatal("valid header rejected")
	}

	bad := append([]byte(nil), h...)
	bad[len(bad)-1] ^= 0x01
	if ValidateHeaderCRC(bad, 0) {
		t.Error("corrupted CRC accepted")
	}

	// Corrupting a header byte must also fail.
	bad = append([]byte(nil), h...)
	bad[4] ^= 0x40
	if ValidateHeaderCRC(bad, 0) {
		t.Error("corrupted frame number accepted")
	}
}

// crc8Direct is a bit-at-a-time reference implementation used to verify the
// table-driven version.
func crc8Direct(data []byte) uint8 {
	var crc uint8
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

func TestCRC8_TableMatchesDirect(t *testing.T) {
	t.Parallel()

	rng := rand.New(rand.NewSource(1))
	for i := 0; i < 1000; i++ {
		buf := make([]byte, 1+rng.Intn(64))
		rng.Read(buf)
		if got, want := crc8(buf), crc8Direct(buf); got != want {
			t.Fatalf("crc8 mismatch on %x: table %#x, direct %#x", buf, got, want)
		}
	}
}

func TestFindCompleteFramesBoundary_RequiresTwoSyncs(t *testing.T) {
	t.Parallel()

	if got := FindCompleteFramesBoundary(nil); got != 0 {
		t.Errorf("empty buffer boundary = %d, want 0", got)
	}
	if got := FindCompleteFramesBoundary([]byte{0xFF, 0xF8}); got != 0 {
		t.Errorf("short buffer boundary = %d, want 0", got)
	}

	// One validated header plus filler is not enough evidence.
	data := append(header192(), make([]byte, 500)...)
	if got := FindCompleteFramesBoundary(data); got != 0 {
		t.Errorf("single frame boundary = %d, want 0", got)
	}
}

func TestFindCompleteFramesBoundary_TwoFrames(t *testing.T) {
	t.Parallel()

	first := header192()
	var data []byte
	data = append(data, first...)
	data = append(data, make([]byte, 2000)...)
	second := len(data)
	data = append(data, header192()...)
	data = append(data, make([]byte, 100)...)

	got := FindCompleteFramesBoundary(data)
	if got != second {
		t.Fatalf("boundary = %d, want %d", got, second)
	}

	// Re-scanning the released bytes finds no further boundary: the single
	// remaining sync is not enough on its own.
	if again := FindCompleteFramesBoundary(data[:got]); again != 0 {
		t.Errorf("rescan boundary = %d, want 0", again)
	}
}

func TestFindCompleteFramesBoundary_RejectsFalsePositive(t *testing.T) {
	t.Parallel()

	// A sync-looking pattern with the reserved bit set must not count as a
	// frame start, even between two genuine frames.
	var data []byte
	data = append(data, header192()...)
	data = append(data, 0xFF, 0xFA, 0x19, 0x18, 0x00, 0x00)
	second := len(data)
	data = append(data, header192()...)
	data = append(data, 0x00, 0x00)

	if got := FindCompleteFramesBoundary(data); got != second {
		t.Errorf("boundary = %d, want %d", got, second)
	}
}

func TestFindCompleteFramesWithSamples_EndToEnd(t *testing.T) {
	t.Parallel()

	// Three valid 192-sample frames, 2000 zero filler bytes, two more frames.
	var data []byte
	for i := 0; i < 3; i++ {
		data = append(data, header192()...)
	}
	fillerEnd := len(data) + 2000
	data = append(data, make([]byte, 2000)...)
	for i := 0; i < 2; i++ {
		data = append(data, header192()...)
	}

	boundary, samples := FindCompleteFramesWithSamples(data)
	if boundary <= fillerEnd {
		t.Fatalf("boundary = %d, want > %d (past the filler region)", boundary, fillerEnd)
	}
	if want := uint64(192 * 4); samples != want {
		t.Errorf("samples = %d, want %d", samples, want)
	}
}

func TestFindCompleteFramesWithSamples_OutOfBandBlockSize(t *testing.T) {
	t.Parallel()

	// Code-6 frame advertising 100 samples (value 99), then a plain frame.
	first := makeHeader(0xF8, 0x69, 0x18, 0x00, 99)
	var data []byte
	data = append(data, first...)
	data = append(data, make([]byte, 50)...)
	data = append(data, header192()...)
	data = append(data, make([]byte, 10)...)

	boundary, samples := FindCompleteFramesWithSamples(data)
	if boundary != len(first)+50 {
		t.Fatalf("boundary = %d, want %d", boundary, len(first)+50)
	}
	if samples != 100 {
		t.Errorf("samples = %d, want 100", samples)
	}
}
