// Package source abstracts where baseband samples come from: a raw
// capture file, a previously recorded card file, or live SDR hardware.
// Every variant satisfies the same reader contract and delivers blocks
// in strictly increasing sequence order.
package source

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/rkarpov/carrierwatch/internal/iq"
)

const (
	// VariantIQFile replays a raw native-encoded capture file.
	VariantIQFile Variant = "iq-file"

	// VariantCardFile re-emits the snippets of a recorded card file,
	// for offline re-analysis.
	VariantCardFile Variant = "card-file"

	// VariantRTLSDR streams from rtl-sdr hardware through the rtl_sdr
	// helper binary.
	VariantRTLSDR Variant = "rtl-sdr"
)

// Variant names a sample source backend.
type Variant string

// ErrEndOfStream is returned by NextBlock when a replay source is
// exhausted. It signals an orderly pipeline shutdown, not a fault.
var ErrEndOfStream = errors.New("end of sample stream")

// Source produces fixed-size sample blocks until the stream ends.
// Implementations are not safe for concurrent use; the acquisition
// goroutine is the only caller.
type Source interface {
	// NextBlock returns the next block in sequence, ErrEndOfStream when
	// the stream is exhausted, or a fatal source error.
	NextBlock(ctx context.Context) (*iq.Block, error)

	// SampleRate returns the stream's sample rate in samples/second.
	SampleRate() float64

	Close() error
}

// Overflower is implemented by sources that can lose samples inside
// the device itself, exposing the cumulative count for diagnostics.
type Overflower interface {
	Overflows() uint64
}

// Config carries the values every backend may need; each variant reads
// the subset that applies to it.
type Config struct {
	Variant    Variant
	Path       string    // capture or card file (file variants)
	Format     iq.Format // native sample encoding (iq-file, rtl-sdr)
	SampleRate float64   // samples per second
	BlockSize  int       // samples per block
	CenterFreq float64   // tuner center frequency in Hz (rtl-sdr)
	Gain       float64   // tuner gain in dB (rtl-sdr)
	DeviceIdx  int       // tuner device index (rtl-sdr)
	BinPath    string    // optional rtl_sdr binary override (rtl-sdr)
}

func (c *Config) validate() error {
	if c.SampleRate <= 0 {
		return fmt.Errorf("invalid sample rate %f", c.SampleRate)
	}
	if c.BlockSize < 1 {
		return fmt.Errorf("invalid block size %d", c.BlockSize)
	}
	switch c.Variant {
	case VariantIQFile, VariantCardFile:
		if c.Path == "" {
			return fmt.Errorf("%s source requires a path", c.Variant)
		}
	case VariantRTLSDR:
		if c.CenterFreq <= 0 {
			return fmt.Errorf("rtl-sdr source requires a center frequency")
		}
	default:
		return fmt.Errorf("unknown source variant %q", c.Variant)
	}
	return nil
}

// Open creates the backend for the configured variant. The context
// bounds the lifetime of any spawned helper process.
func Open(ctx context.Context, cfg Config, logger *slog.Logger) (Source, error) {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("source config: %w", err)
	}

	switch cfg.Variant {
	case VariantIQFile:
		return openIQFile(cfg)
	case VariantCardFile:
		return openCardFile(cfg)
	case VariantRTLSDR:
		return openTuner(ctx, cfg, logger)
	}
	panic("unreachable")
}
