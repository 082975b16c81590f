package app

import (
	"context"
	"errors"
	"fmt"
	"image/jpeg"
	"image/png"
	"io"
	"log/slog"
	"os"

	"github.com/rkarpov/carrierwatch/internal/card"
	"github.com/rkarpov/carrierwatch/internal/storage"
)

func Run(ctx context.Context, config *Config, logger *slog.Logger) error {
	cards, err := readCards(config.CardPath)
	if err != nil {
		return err
	}
	if len(cards) == 0 {
		return errors.New("card file contains no events with snippets")
	}

	logger.Info("loaded cards",
		slog.Int("count", len(cards)),
		slog.String("path", config.CardPath))

	renderer, err := NewWaterfallRenderer(config)
	if err != nil {
		return fmt.Errorf("creating renderer: %w", err)
	}

	img, bounds, err := renderer.Render(cards)
	if err != nil {
		return fmt.Errorf("rendering waterfall: %w", err)
	}

	if !config.NoAnnotations {
		annotator, err := NewAnnotator(config.FontPath)
		if err != nil {
			return fmt.Errorf("creating annotator: %w", err)
		}
		if err := annotator.Annotate(img, cards, renderer, config); err != nil {
			return fmt.Errorf("annotating: %w", err)
		}
	}

	logger.Info("writing image",
		slog.String("destination", config.OutputFile),
		slog.String("format", string(config.Format)),
		slog.Int("width", img.Bounds().Dx()),
		slog.Int("height", img.Bounds().Dy()),
		slog.String("min_power", fmt.Sprintf("%0.2fdB", bounds.Min)),
		slog.String("max_power", fmt.Sprintf("%0.2fdB", bounds.Max)))

	out, err := os.Create(config.OutputFile)
	if err != nil {
		return err
	}
	defer out.Close()

	switch config.Format {
	case ImagePNG:
		err = png.Encode(out, img)

	case ImageJPEG:
		err = jpeg.Encode(out, img, &jpeg.Options{
			Quality: 98,
		})
	}
	if err != nil {
		return fmt.Errorf("encoding image: %w", err)
	}
	return nil
}

func readCards(path string) ([]*card.Card, error) {
	src, err := storage.OpenCards(path)
	if err != nil {
		return nil, err
	}
	defer src.Close()

	var cards []*card.Card
	for {
		c, err := src.Next()
		if errors.Is(err, io.EOF) {
			return cards, nil
		}
		if err != nil {
			return nil, fmt.Errorf("reading card: %w", err)
		}
		if len(c.Snippet) == 0 {
			continue
		}
		cards = append(cards, c)
	}
}
