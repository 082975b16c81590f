package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"

	"github.com/rkarpov/carrierwatch/internal/detect"
	"github.com/rkarpov/carrierwatch/internal/dsp"
	"github.com/rkarpov/carrierwatch/internal/emit"
	"github.com/rkarpov/carrierwatch/internal/iq"
	"github.com/rkarpov/carrierwatch/internal/pipeline"
	"github.com/rkarpov/carrierwatch/internal/ring"
	"github.com/rkarpov/carrierwatch/internal/source"
)

// Run builds the detection pipeline from the configuration and drives
// it until the source drains or the context is cancelled.
func Run(ctx context.Context, config *Config, logger *slog.Logger) error {
	session := uuid.New()

	src, err := createSource(ctx, config, logger)
	if err != nil {
		return fmt.Errorf("creating source: %w", err)
	}

	sink, err := createSink(ctx, config, session)
	if err != nil {
		return errors.Join(fmt.Errorf("creating sink: %w", err), src.Close())
	}

	p, err := createPipeline(config, session, src, sink, logger)
	if err != nil {
		return errors.Join(err, sink.Close(), src.Close())
	}

	rate, prefix := humanize.ComputeSI(float64(config.Input.SampleRate))
	logger.Info("detector starting",
		slog.String("session", session.String()),
		slog.String("input", config.Input.Variant),
		slog.String("sample_rate", fmt.Sprintf("%.6g %sHz", rate, prefix)),
		slog.String("output", config.Output.Path))

	started := time.Now()
	runErr := p.Run(ctx)

	stats := p.Stats()
	logger.Info("detector stopped",
		slog.String("elapsed", time.Since(started).Round(time.Millisecond).String()),
		slog.String("blocks", humanize.Comma(int64(stats.Blocks))),
		slog.String("samples", humanize.Comma(int64(stats.Samples))),
		slog.String("dropped_blocks", humanize.Comma(int64(stats.Dropped))),
		slog.String("spectra", humanize.Comma(int64(stats.Spectra))),
		slog.String("cards", humanize.Comma(int64(stats.Cards))),
		slog.String("discarded_short", humanize.Comma(int64(stats.DiscardedShort))))

	if o, ok := src.(source.Overflower); ok && o.Overflows() > 0 {
		logger.Warn("device reported overflows",
			slog.Uint64("count", o.Overflows()))
	}

	return errors.Join(runErr, sink.Close(), src.Close())
}

func createSource(ctx context.Context, config *Config, logger *slog.Logger) (source.Source, error) {
	var format iq.Format
	if config.Input.Format != "" {
		var err error
		if format, err = iq.ParseFormat(config.Input.Format); err != nil {
			return nil, err
		}
	}

	return source.Open(ctx, source.Config{
		Variant:    source.Variant(config.Input.Variant),
		Path:       config.Input.Path,
		Format:     format,
		SampleRate: float64(config.Input.SampleRate),
		BlockSize:  config.Input.BlockSize,
		CenterFreq: float64(config.Input.CenterFreq),
		Gain:       config.Input.Gain,
		DeviceIdx:  config.Input.DeviceIndex,
		BinPath:    config.Input.BinPath,
	}, logger)
}

func createSink(ctx context.Context, config *Config, session uuid.UUID) (emit.Sink, error) {
	encoding, err := emit.ParseEncoding(config.Output.Encoding)
	if err != nil {
		return nil, err
	}

	return emit.Open(ctx, emit.Config{
		Encoding: encoding,
		Path:     config.Output.Path,
	}, session, config.Input.Variant, config)
}

func createPipeline(config *Config, session uuid.UUID, src source.Source, sink emit.Sink, logger *slog.Logger) (*pipeline.Pipeline, error) {
	policy, err := ring.ParsePolicy(config.Buffer.Policy)
	if err != nil {
		return nil, err
	}
	buf, err := ring.New(config.Buffer.Capacity, policy)
	if err != nil {
		return nil, fmt.Errorf("creating ring buffer: %w", err)
	}

	win, err := dsp.ParseWindow(config.DSP.Window)
	if err != nil {
		return nil, err
	}
	framer, err := dsp.NewFramer(config.DSP.FrameLen, config.DSP.Hop, src.SampleRate())
	if err != nil {
		return nil, fmt.Errorf("creating framer: %w", err)
	}
	analyzer, err := dsp.NewAnalyzer(config.DSP.FrameLen, src.SampleRate(), win)
	if err != nil {
		return nil, fmt.Errorf("creating analyzer: %w", err)
	}

	mode, err := detect.ParseThresholdMode(config.Detect.Mode)
	if err != nil {
		return nil, err
	}
	engine, err := detect.NewEngine(session, detect.Config{
		FrameLen:   config.DSP.FrameLen,
		Hop:        config.DSP.Hop,
		SampleRate: src.SampleRate(),
		BinLow:     config.Detect.BinLow,
		BinHigh:    config.Detect.BinHigh,
		GroupSize:  config.Detect.GroupSize,
		PeakFilter: config.Detect.PeakFilter,
		Mode:       mode,
		Threshold:  config.Detect.Threshold,
		MarginDB:   config.Detect.MarginDB,
		NoiseDecay: config.Detect.NoiseDecay,
		HoldOff:    config.Detect.HoldOff,
		MinDwell:   time.Duration(config.Detect.MinDwell),
		MaxSnippet: config.Detect.MaxSnippet,
	})
	if err != nil {
		return nil, fmt.Errorf("creating detection engine: %w", err)
	}

	return pipeline.New(src, buf, framer, analyzer, engine, sink, pipeline.WithLogger(logger)), nil
}
