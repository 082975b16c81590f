package iq

import (
	"encoding/binary"
	"math"
	"testing"
)

func TestParseFormat(t *testing.T) {
	tests := []struct {
		in      string
		want    Format
		wantErr bool
	}{
		{"u8", FormatU8, false},
		{"i16", FormatI16, false},
		{"f32", FormatF32, false},
		{"u16", "", true},
		{"", "", true},
	}

	for _, tc := range tests {
		t.Run(tc.in, func(t *testing.T) {
			got, err := ParseFormat(tc.in)
			if tc.wantErr {
				if err == nil {
					t.Fatalf("ParseFormat(%q): expected error", tc.in)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseFormat(%q): %v", tc.in, err)
			}
			if got != tc.want {
				t.Errorf("ParseFormat(%q) = %q, want %q", tc.in, got, tc.want)
			}
		})
	}
}

func TestConvertU8(t *testing.T) {
	// Extremes and center of the unsigned byte range.
	raw := []byte{0, 255, 128, 127}
	dst := make([]complex64, 2)

	n, err := Convert(FormatU8, raw, dst)
	if err != nil {
		t.Fatalf("Convert: %v", err)
	}
	if n != 2 {
		t.Fatalf("expected 2 samples, got %d", n)
	}

	// 0 maps to -1.0, 255 maps to +1.0; the mapping is symmetric around
	// 127.5 so 127 and 128 land equally close to zero on either side.
	if got := real(dst[0]); got != -1.0 {
		t.Errorf("byte 0: expected -1.0, got %f", got)
	}
	if got := imag(dst[0]); got != 1.0 {
		t.Errorf("byte 255: expected 1.0, got %f", got)
	}
	if got, want := real(dst[1]), float32(0.5/127.5); got != want {
		t.Errorf("byte 128: expected %f, got %f", want, got)
	}
	if got, want := imag(dst[1]), float32(-0.5/127.5); got != want {
		t.Errorf("byte 127: expected %f, got %f", want, got)
	}
}

func TestConvertI16(t *testing.T) {
	raw := make([]byte, 8)
	for i, v := range []int16{-32768, 16384, 0, -16384} {
		binary.LittleEndian.PutUint16(raw[2*i:], uint16(v))
	}

	dst := make([]complex64, 2)
	if _, err := Convert(FormatI16, raw, dst); err != nil {
		t.Fatalf("Convert: %v", err)
	}

	if got := real(dst[0]); got != -1.0 {
		t.Errorf("expected -1.0, got %f", got)
	}
	if got := imag(dst[0]); got != 0.5 {
		t.Errorf("expected 0.5, got %f", got)
	}
	if got := real(dst[1]); got != 0 {
		t.Errorf("expected 0, got %f", got)
	}
	if got := imag(dst[1]); got != -0.5 {
		t.Errorf("expected -0.5, got %f", got)
	}
}

func TestConvertF32RoundTrip(t *testing.T) {
	want := []complex64{complex(0.25, -0.75), complex(-1, 1)}

	raw := make([]byte, 16)
	for i, s := range want {
		binary.LittleEndian.PutUint32(raw[8*i:], math.Float32bits(real(s)))
		binary.LittleEndian.PutUint32(raw[8*i+4:], math.Float32bits(imag(s)))
	}

	dst := make([]complex64, 2)
	if _, err := Convert(FormatF32, raw, dst); err != nil {
		t.Fatalf("Convert: %v", err)
	}
	for i := range want {
		if dst[i] != want[i] {
			t.Errorf("sample %d: expected %v, got %v", i, want[i], dst[i])
		}
	}
}

func TestConvertErrors(t *testing.T) {
	dst := make([]complex64, 4)

	if _, err := Convert(FormatU8, []byte{1, 2, 3}, dst); err == nil {
		t.Error("expected error for partial sample")
	}
	if _, err := Convert(FormatU8, []byte{1, 2, 3, 4}, dst[:1]); err == nil {
		t.Error("expected error for short destination")
	}
	if _, err := Convert(Format("nope"), []byte{1, 2}, dst); err == nil {
		t.Error("expected error for unknown format")
	}
}
