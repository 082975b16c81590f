package source

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/rkarpov/carrierwatch/internal/iq"
	"github.com/rkarpov/carrierwatch/internal/storage"
)

// cardFileSource re-emits the raw snippets of previously captured
// cards as sample blocks, letting the whole analysis chain run again
// over recorded events.
type cardFileSource struct {
	cards storage.CardSource
	rate  float64
	seq   uint64
}

func openCardFile(cfg Config) (*cardFileSource, error) {
	cards, err := storage.OpenCards(cfg.Path)
	if err != nil {
		return nil, err
	}
	return &cardFileSource{cards: cards, rate: cfg.SampleRate}, nil
}

func (s *cardFileSource) NextBlock(ctx context.Context) (*iq.Block, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	for {
		c, err := s.cards.Next()
		if errors.Is(err, io.EOF) {
			return nil, ErrEndOfStream
		}
		if err != nil {
			return nil, fmt.Errorf("reading card: %w", err)
		}
		if len(c.Snippet) == 0 {
			continue
		}

		b := &iq.Block{
			Samples:   c.Snippet,
			Seq:       s.seq,
			Offset:    c.StartOffset,
			Timestamp: c.Start,
		}
		s.seq++
		return b, nil
	}
}

func (s *cardFileSource) SampleRate() float64 {
	return s.rate
}

func (s *cardFileSource) Close() error {
	return s.cards.Close()
}
