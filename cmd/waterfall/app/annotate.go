package app

import (
	"fmt"
	"image"
	"os"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/golang/freetype"
	"golang.org/x/image/font"

	"github.com/rkarpov/carrierwatch/internal/card"
)

const (
	dpi     float64 = 72
	size    float64 = 12
	spacing float64 = 1.1
)

type Annotator struct {
	context *freetype.Context
}

// NewAnnotator loads a TTF font from disk and prepares a drawing
// context for it.
func NewAnnotator(fontPath string) (*Annotator, error) {
	fontBytes, err := os.ReadFile(fontPath)
	if err != nil {
		return nil, fmt.Errorf("reading font: %w", err)
	}

	parsedFont, err := freetype.ParseFont(fontBytes)
	if err != nil {
		return nil, fmt.Errorf("parsing font: %w", err)
	}

	context := freetype.NewContext()
	context.SetDPI(dpi)
	context.SetFont(parsedFont)
	context.SetFontSize(size)
	context.SetSrc(image.White)
	context.SetHinting(font.HintingFull)

	return &Annotator{context: context}, nil
}

// Annotate draws the frequency scale and one label per event.
func (a *Annotator) Annotate(img *image.RGBA, cards []*card.Card, renderer *WaterfallRenderer, config *Config) error {
	a.context.SetClip(img.Bounds())
	a.context.SetDst(img)

	if config.SampleRate > 0 {
		a.drawFreqScale(img, config)
	}
	a.drawEventLabels(img, cards, renderer.CardTops())

	return nil
}

// drawFreqScale marks frequency offsets along the top edge, center
// frequency in the middle of the image.
func (a *Annotator) drawFreqScale(img *image.RGBA, config *Config) {
	width := img.Bounds().Dx()
	count := width / 160
	if count < 2 {
		count = 2
	}

	hzPerLabel := config.SampleRate / float64(count)
	pxPerLabel := width / count

	for si := 0; si < count; si++ {
		hz := -config.SampleRate/2 + float64(si)*hzPerLabel
		px := si * pxPerLabel

		// guideline on the exact frequency
		for i := 0; i < 14; i++ {
			img.Set(px, i, image.White)
		}

		pt := freetype.Pt(px+3, 12)
		_, _ = a.context.DrawString(a.humanHz(hz), pt)
	}
}

// drawEventLabels writes one summary line at the top row of each
// rendered card.
func (a *Annotator) drawEventLabels(img *image.RGBA, cards []*card.Card, tops []int) {
	for i, c := range cards {
		if i >= len(tops) {
			break
		}

		label := fmt.Sprintf("#%d %s +%s @ %s",
			c.Seq,
			c.Start.UTC().Format(time.TimeOnly),
			c.Duration.Round(time.Millisecond),
			a.humanHz(c.FreqOffset))

		// tick along the left edge of the event
		for x := 0; x < 20; x++ {
			img.Set(x, tops[i], image.White)
		}

		pt := freetype.Pt(24, tops[i]+int(size))
		_, _ = a.context.DrawString(label, pt)
	}
}

func (a *Annotator) humanHz(hz float64) string {
	fract, suffix := humanize.ComputeSI(hz)
	return fmt.Sprintf("%0.2f %sHz", fract, suffix)
}
