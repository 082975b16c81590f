// Package pipeline wires the acquisition and analysis stages together
// and runs them to completion.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/rkarpov/carrierwatch/internal/card"
	"github.com/rkarpov/carrierwatch/internal/detect"
	"github.com/rkarpov/carrierwatch/internal/dsp"
	"github.com/rkarpov/carrierwatch/internal/emit"
	"github.com/rkarpov/carrierwatch/internal/iq"
	"github.com/rkarpov/carrierwatch/internal/ring"
	"github.com/rkarpov/carrierwatch/internal/source"
)

// WithLogger sets the logger used for per-card and lifecycle events.
func WithLogger(logger *slog.Logger) func(*Pipeline) {
	return func(p *Pipeline) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// Stats is a snapshot of pipeline counters.
type Stats struct {
	Blocks         uint64
	Samples        uint64
	Dropped        uint64
	Spectra        uint64
	Cards          uint64
	DiscardedShort uint64
}

// Pipeline connects a sample source to a card sink through the ring
// buffer, spectral analyzer and detection engine. Two goroutines run
// the stages; the ring is their only shared state.
type Pipeline struct {
	source   source.Source
	ring     *ring.Ring
	framer   *dsp.Framer
	analyzer *dsp.Analyzer
	engine   *detect.Engine
	sink     emit.Sink

	logger *slog.Logger

	blocks  atomic.Uint64
	samples atomic.Uint64
	spectra atomic.Uint64
	cards   atomic.Uint64
}

// New creates a Pipeline from already-constructed stages. The pipeline
// does not own the source or sink; the caller closes them after Run
// returns.
func New(src source.Source, buf *ring.Ring, framer *dsp.Framer, analyzer *dsp.Analyzer, engine *detect.Engine, sink emit.Sink, options ...func(*Pipeline)) *Pipeline {
	p := Pipeline{
		source:   src,
		ring:     buf,
		framer:   framer,
		analyzer: analyzer,
		engine:   engine,
		sink:     sink,
		logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
	}

	for _, option := range options {
		option(&p)
	}

	return &p
}

// Run executes the pipeline until the source is exhausted, the context
// is cancelled, or a stage fails. Whatever the cause, shutdown follows
// the same sequence: the ring is closed, remaining buffered blocks are
// drained through analysis, in-progress events are force-closed, and
// the sink is flushed.
func (p *Pipeline) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	var acquireErr, analyzeErr error

	wg.Add(1)
	go func() {
		defer wg.Done()
		defer p.ring.Close()

		if err := p.acquire(ctx); err != nil {
			acquireErr = err
			cancel()
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()

		if err := p.analyze(ctx); err != nil {
			analyzeErr = err
			cancel()
			// A producer waiting in Push under the blocking policy only
			// wakes on ring close; with analysis gone, nothing else ever
			// frees a slot.
			p.ring.Close()
		}
	}()

	wg.Wait()
	return errors.Join(acquireErr, analyzeErr)
}

// acquire reads blocks from the source and pushes them into the ring
// until end of stream or cancellation.
func (p *Pipeline) acquire(ctx context.Context) error {
	for {
		b, err := p.source.NextBlock(ctx)
		switch {
		case errors.Is(err, source.ErrEndOfStream):
			p.logger.Debug("source exhausted")
			return nil
		case errors.Is(err, context.Canceled):
			return nil
		case err != nil:
			return fmt.Errorf("reading source: %w", err)
		}

		p.blocks.Add(1)
		p.samples.Add(uint64(len(b.Samples)))

		if !p.ring.Push(b) {
			p.logger.Warn("block dropped",
				slog.Uint64("seq", b.Seq),
				slog.Uint64("total_dropped", p.ring.Dropped()))
		}

		if ctx.Err() != nil {
			return nil
		}
	}
}

// analyze drains the ring, turning blocks into spectra and spectra
// into cards. It keeps draining after the ring closes so buffered
// blocks are never discarded, then force-closes any active events.
func (p *Pipeline) analyze(ctx context.Context) (err error) {
	defer func() {
		for _, c := range p.engine.Flush() {
			if emitErr := p.emitCard(c); emitErr != nil && err == nil {
				err = emitErr
			}
		}
		if flushErr := p.sink.Flush(); flushErr != nil && err == nil {
			err = fmt.Errorf("flushing sink: %w", flushErr)
		}
	}()

	for {
		// The ring is always closed by the acquisition goroutine on
		// its way out, so draining with a background context cannot
		// hang; using ctx here would race cancellation against the
		// final drain.
		b, popErr := p.ring.Pop(context.Background())
		if errors.Is(popErr, ring.ErrClosed) {
			return nil
		}
		if popErr != nil {
			return fmt.Errorf("popping block: %w", popErr)
		}

		if err := p.process(b); err != nil {
			return err
		}
	}
}

func (p *Pipeline) process(b *iq.Block) error {
	p.engine.Observe(b)

	for _, frame := range p.framer.Feed(b) {
		spec, err := p.analyzer.Analyze(frame)
		if err != nil {
			return fmt.Errorf("analyzing frame: %w", err)
		}
		p.spectra.Add(1)

		for _, c := range p.engine.Feed(spec) {
			if err := p.emitCard(c); err != nil {
				return err
			}
		}
	}
	return nil
}

func (p *Pipeline) emitCard(c *card.Card) error {
	if err := p.sink.Emit(c); err != nil {
		return fmt.Errorf("emitting card: %w", err)
	}
	p.cards.Add(1)

	p.logger.Info("card emitted",
		slog.Uint64("seq", c.Seq),
		slog.Int("bin", c.Bin),
		slog.Float64("freq_offset_hz", c.FreqOffset),
		slog.Duration("duration", c.Duration),
		slog.Float64("peak_power", c.PeakPower))
	return nil
}

// Stats returns a snapshot of the pipeline counters. Safe to call
// concurrently with Run.
func (p *Pipeline) Stats() Stats {
	return Stats{
		Blocks:         p.blocks.Load(),
		Samples:        p.samples.Load(),
		Dropped:        p.ring.Dropped(),
		Spectra:        p.spectra.Load(),
		Cards:          p.cards.Load(),
		DiscardedShort: p.engine.DiscardedShort(),
	}
}
