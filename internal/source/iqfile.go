package source

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/rkarpov/carrierwatch/internal/iq"
)

// iqFileSource replays a raw native-encoded capture sequentially.
// Timestamps are synthesized from the sample rate so replayed detection
// behaves like the original acquisition.
type iqFileSource struct {
	file   *os.File
	reader *bufio.Reader

	format iq.Format
	rate   float64
	raw    []byte

	seq    uint64
	offset uint64
	start  time.Time
	done   bool
}

func openIQFile(cfg Config) (*iqFileSource, error) {
	if _, err := iq.ParseFormat(string(cfg.Format)); err != nil {
		return nil, err
	}

	f, err := os.Open(cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("opening capture: %w", err)
	}

	return &iqFileSource{
		file:   f,
		reader: bufio.NewReaderSize(f, 1<<16),
		format: cfg.Format,
		rate:   cfg.SampleRate,
		raw:    make([]byte, cfg.BlockSize*cfg.Format.BytesPerSample()),
		start:  time.Now().UTC(),
	}, nil
}

func (s *iqFileSource) NextBlock(ctx context.Context) (*iq.Block, error) {
	if s.done {
		return nil, ErrEndOfStream
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	n, err := io.ReadFull(s.reader, s.raw)
	switch {
	case errors.Is(err, io.EOF):
		return nil, ErrEndOfStream

	case errors.Is(err, io.ErrUnexpectedEOF):
		// Deliver the short final block, trimmed to whole samples.
		s.done = true
		n -= n % s.format.BytesPerSample()
		if n == 0 {
			return nil, ErrEndOfStream
		}

	case err != nil:
		return nil, fmt.Errorf("reading capture: %w", err)
	}

	samples := make([]complex64, n/s.format.BytesPerSample())
	if _, err := iq.Convert(s.format, s.raw[:n], samples); err != nil {
		return nil, err
	}

	b := &iq.Block{
		Samples:   samples,
		Seq:       s.seq,
		Offset:    s.offset,
		Timestamp: s.start.Add(time.Duration(float64(s.offset) / s.rate * float64(time.Second))),
	}
	s.seq++
	s.offset += uint64(len(samples))
	return b, nil
}

func (s *iqFileSource) SampleRate() float64 {
	return s.rate
}

func (s *iqFileSource) Close() error {
	return s.file.Close()
}
