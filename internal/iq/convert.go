package iq

import (
	"encoding/binary"
	"fmt"
	"math"
)

// u8LUT maps a raw rtl-sdr byte to its normalized component value.
// Unsigned bytes are centered symmetrically around zero and scaled to
// unit magnitude: (v - 127.5) / 127.5.
var u8LUT = func() [256]float32 {
	var lut [256]float32
	for i := range lut {
		lut[i] = (float32(i) - 127.5) / 127.5
	}
	return lut
}()

// Convert decodes interleaved native-encoded I/Q bytes into normalized
// complex samples. It is a pure function: deterministic, no shared
// state, safe to call from the acquisition goroutine.
//
// dst must have room for len(raw)/f.BytesPerSample() samples; the
// number of samples written is returned. raw must contain whole
// samples only.
func Convert(f Format, raw []byte, dst []complex64) (int, error) {
	bps := f.BytesPerSample()
	if bps == 0 {
		return 0, fmt.Errorf("cannot convert format %q", f)
	}
	if len(raw)%bps != 0 {
		return 0, fmt.Errorf("raw length %d is not a multiple of sample size %d", len(raw), bps)
	}

	n := len(raw) / bps
	if len(dst) < n {
		return 0, fmt.Errorf("destination too small: need %d samples, have %d", n, len(dst))
	}

	switch f {
	case FormatU8:
		convertU8(raw, dst[:n])
	case FormatI16:
		convertI16(raw, dst[:n])
	case FormatF32:
		convertF32(raw, dst[:n])
	}
	return n, nil
}

func convertU8(raw []byte, dst []complex64) {
	for i := range dst {
		dst[i] = complex(u8LUT[raw[2*i]], u8LUT[raw[2*i+1]])
	}
}

func convertI16(raw []byte, dst []complex64) {
	const scale = 1.0 / 32768.0
	for i := range dst {
		re := int16(binary.LittleEndian.Uint16(raw[4*i:]))
		im := int16(binary.LittleEndian.Uint16(raw[4*i+2:]))
		dst[i] = complex(float32(re)*scale, float32(im)*scale)
	}
}

func convertF32(raw []byte, dst []complex64) {
	for i := range dst {
		re := math.Float32frombits(binary.LittleEndian.Uint32(raw[8*i:]))
		im := math.Float32frombits(binary.LittleEndian.Uint32(raw[8*i+4:]))
		dst[i] = complex(re, im)
	}
}
