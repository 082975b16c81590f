// Package dsp implements the spectral front end: extraction of
// fixed-length, possibly overlapping frames from the incoming block
// stream, windowing, the forward FFT and per-bin power estimation.
package dsp

import (
	"fmt"
	"time"

	"github.com/mjibson/go-dsp/fft"

	"github.com/rkarpov/carrierwatch/internal/iq"
)

// Frame is a fixed-length window of consecutive samples handed to the
// analyzer. Frames are transient and never persisted.
type Frame struct {
	Samples   []complex64
	Offset    uint64 // stream sample index of Samples[0]
	Timestamp time.Time
}

// Spectrum holds per-bin power values computed from one frame. Bin i
// covers the frequency offset BinFrequency(i) relative to the tuner
// center; bins above N/2 alias to negative offsets.
type Spectrum struct {
	Power      []float64
	Offset     uint64 // stream sample index of the source frame's first sample
	Timestamp  time.Time
	SampleRate float64
}

// BinWidth returns the width of one frequency bin in Hz.
func (s *Spectrum) BinWidth() float64 {
	return s.SampleRate / float64(len(s.Power))
}

// BinFrequency returns the signed frequency offset of bin i in Hz,
// relative to the stream center frequency.
func (s *Spectrum) BinFrequency(i int) float64 {
	n := len(s.Power)
	if i > n/2 {
		i -= n
	}
	return float64(i) * s.BinWidth()
}

// WrapBin maps a signed bin number onto a spectrum index, so callers
// can address negative-frequency bins directly.
func (s *Spectrum) WrapBin(bin int) int {
	n := len(s.Power)
	return ((bin % n) + n) % n
}

// Analyzer turns frames into power spectra. It is purely functional
// with respect to its input: no state is retained between calls beyond
// preallocated scratch space, so spectra depend only on the frame.
type Analyzer struct {
	frameLen   int
	sampleRate float64
	coeffs     []float64
	winEnergy  float64 // sum of squared window coefficients

	scratch []complex128
}

// NewAnalyzer creates an analyzer for frames of length frameLen, which
// must be a power of two.
func NewAnalyzer(frameLen int, sampleRate float64, win Window) (*Analyzer, error) {
	if frameLen < 2 || frameLen&(frameLen-1) != 0 {
		return nil, fmt.Errorf("frame length %d is not a power of two", frameLen)
	}
	if sampleRate <= 0 {
		return nil, fmt.Errorf("invalid sample rate %f", sampleRate)
	}

	coeffs := win.Coefficients(frameLen)
	var energy float64
	for _, c := range coeffs {
		energy += c * c
	}

	return &Analyzer{
		frameLen:   frameLen,
		sampleRate: sampleRate,
		coeffs:     coeffs,
		winEnergy:  energy,
		scratch:    make([]complex128, frameLen),
	}, nil
}

// FrameLen returns the transform length.
func (a *Analyzer) FrameLen() int {
	return a.frameLen
}

// Analyze windows the frame, computes the forward FFT and converts the
// transform output to power per bin. Power is the squared magnitude
// normalized by the window energy, keeping values comparable across
// window shapes.
func (a *Analyzer) Analyze(f Frame) (*Spectrum, error) {
	if len(f.Samples) != a.frameLen {
		return nil, fmt.Errorf("frame length %d, want %d", len(f.Samples), a.frameLen)
	}

	for i, s := range f.Samples {
		w := a.coeffs[i]
		a.scratch[i] = complex(float64(real(s))*w, float64(imag(s))*w)
	}

	out := fft.FFT(a.scratch)

	power := make([]float64, a.frameLen)
	for i, c := range out {
		re, im := real(c), imag(c)
		power[i] = (re*re + im*im) / a.winEnergy
	}

	return &Spectrum{
		Power:      power,
		Offset:     f.Offset,
		Timestamp:  f.Timestamp,
		SampleRate: a.sampleRate,
	}, nil
}

// Framer slices the continuous block stream into fixed-length frames at
// a fixed hop cadence, carrying overlap history across block boundaries
// so frame timing is independent of block sizes.
type Framer struct {
	frameLen int
	hop      int
	rate     float64

	buf        []complex64
	bufOffset  uint64 // stream sample index of buf[0]
	epoch      time.Time
	epochValid bool
	epochOff   uint64
}

// NewFramer creates a framer producing frames of frameLen samples every
// hop samples. hop must be in [1, frameLen].
func NewFramer(frameLen int, hop int, sampleRate float64) (*Framer, error) {
	if frameLen < 1 {
		return nil, fmt.Errorf("invalid frame length %d", frameLen)
	}
	if hop < 1 || hop > frameLen {
		return nil, fmt.Errorf("hop %d out of range [1, %d]", hop, frameLen)
	}
	if sampleRate <= 0 {
		return nil, fmt.Errorf("invalid sample rate %f", sampleRate)
	}
	return &Framer{frameLen: frameLen, hop: hop, rate: sampleRate}, nil
}

// Hop returns the frame cadence in samples.
func (fr *Framer) Hop() int {
	return fr.hop
}

// Feed appends a block and returns every complete frame now available,
// in stream order. Frame sample slices are copies; the block may be
// reused afterwards.
func (fr *Framer) Feed(b *iq.Block) []Frame {
	// A discontinuity (card replay jumps between snippets) invalidates
	// the carried overlap; restart framing at the new offset.
	if !fr.epochValid || b.Offset != fr.bufOffset+uint64(len(fr.buf)) {
		fr.buf = fr.buf[:0]
		fr.epoch = b.Timestamp
		fr.epochOff = b.Offset
		fr.bufOffset = b.Offset
		fr.epochValid = true
	}
	fr.buf = append(fr.buf, b.Samples...)

	var frames []Frame
	for len(fr.buf) >= fr.frameLen {
		samples := make([]complex64, fr.frameLen)
		copy(samples, fr.buf[:fr.frameLen])

		frames = append(frames, Frame{
			Samples:   samples,
			Offset:    fr.bufOffset,
			Timestamp: fr.timestampAt(fr.bufOffset),
		})

		fr.buf = fr.buf[fr.hop:]
		fr.bufOffset += uint64(fr.hop)
	}

	// Reclaim the consumed prefix so the carry buffer stays bounded.
	if cap(fr.buf) > 4*fr.frameLen {
		compact := make([]complex64, len(fr.buf), 2*fr.frameLen+len(fr.buf))
		copy(compact, fr.buf)
		fr.buf = compact
	}

	return frames
}

func (fr *Framer) timestampAt(offset uint64) time.Time {
	elapsed := float64(offset-fr.epochOff) / fr.rate
	return fr.epoch.Add(time.Duration(elapsed * float64(time.Second)))
}
