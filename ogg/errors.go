package ogg

import "errors"

// Sentinel errors for Ogg page parsing and packet assembly. Structural
// errors are unrecoverable for the assembler instance that reported them.
var (
	// ErrBadCapture indicates a page did not start with the "OggS"
	// capture pattern.
	ErrBadCapture = errors.New("ogg: invalid capture pattern")

	// ErrBadVersion indicates a page with a stream structure version
	// other than 0.
	ErrBadVersion = errors.New("ogg: unsupported page version")

	// ErrBadCRC indicates the page CRC-32 does not match the computed
	// value, typically data corruption.
	ErrBadCRC = errors.New("ogg: page CRC mismatch")

	// ErrMultipleStreams indicates a second bitstream serial number was
	// seen. One assembler handles exactly one logical bitstream.
	ErrMultipleStreams = errors.New("ogg: multiple logical bitstreams unsupported")

	// ErrBadContinuation indicates the page's continuation flag is
	// inconsistent with the assembler's packet state.
	ErrBadContinuation = errors.New("ogg: inconsistent continuation flag")

	// ErrTruncated indicates the input ended in the middle of a page
	// structure.
	ErrTruncated = errors.New("ogg: truncated page")

	// ErrNoSync indicates no capture pattern was found within the sync
	// search window.
	ErrNoSync = errors.New("ogg: no capture pattern found")
)
