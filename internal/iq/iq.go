// Package iq defines the complex baseband sample model shared by the
// acquisition and analysis stages, and the conversion routines from the
// native wire encodings produced by SDR hardware and recorded captures.
package iq

import (
	"fmt"
	"time"
)

// Format identifies the native on-the-wire sample encoding of a source.
type Format string

const (
	// FormatU8 is interleaved unsigned 8-bit I/Q, the rtl-sdr native format.
	FormatU8 Format = "u8"

	// FormatI16 is interleaved signed 16-bit little-endian I/Q.
	FormatI16 Format = "i16"

	// FormatF32 is interleaved 32-bit little-endian IEEE 754 I/Q.
	FormatF32 Format = "f32"
)

// ParseFormat validates a format string from configuration.
func ParseFormat(s string) (Format, error) {
	switch f := Format(s); f {
	case FormatU8, FormatI16, FormatF32:
		return f, nil
	default:
		return "", fmt.Errorf("unknown sample format %q", s)
	}
}

// BytesPerSample returns the number of raw bytes one complex sample
// occupies in this format (I and Q components combined).
func (f Format) BytesPerSample() int {
	switch f {
	case FormatU8:
		return 2
	case FormatI16:
		return 4
	case FormatF32:
		return 8
	default:
		return 0
	}
}

func (f Format) String() string {
	return string(f)
}

// Block is a fixed-size chunk of normalized complex baseband samples.
// Exactly one pipeline stage owns a Block at any instant; ownership is
// handed over atomically through the ring buffer and a Block is never
// mutated after the producer releases it.
type Block struct {
	// Samples holds normalized complex samples, |I| and |Q| bounded to
	// the source's dynamic range (at most 1.0 in magnitude per component).
	Samples []complex64

	// Seq is a strictly increasing block sequence number with no gaps
	// under normal operation.
	Seq uint64

	// Offset is the stream sample index of Samples[0], counted from the
	// first sample the source produced.
	Offset uint64

	// Timestamp is the acquisition time of Samples[0].
	Timestamp time.Time
}

// EndOffset returns the stream sample index one past the last sample
// in the block.
func (b *Block) EndOffset() uint64 {
	return b.Offset + uint64(len(b.Samples))
}
