package app

import (
	"fmt"
	"image"
	"image/color"
	"math"

	"github.com/lucasb-eyer/go-colorful"

	"github.com/rkarpov/carrierwatch/internal/card"
	"github.com/rkarpov/carrierwatch/internal/dsp"
)

const (
	hueStart = 236.0
	hueEnd   = 0.0

	// dbFloor caps how far down an empty bin can drag the power scale.
	dbFloor = -140.0

	separatorRows = 2
)

var separatorColor = color.RGBA{R: 0x30, G: 0x30, B: 0x30, A: 0xff}

// PowerBounds is the dB range mapped onto the color ramp.
type PowerBounds struct {
	Min float64
	Max float64
}

// WaterfallRenderer recomputes each card's snippet spectra and stacks
// them into one image, newest card at the bottom.
type WaterfallRenderer struct {
	analyzer *dsp.Analyzer
	frameLen int
	hop      int

	minPower *float64
	maxPower *float64

	// cardTops records the first image row of every rendered card, for
	// the annotator.
	cardTops []int
}

func NewWaterfallRenderer(config *Config) (*WaterfallRenderer, error) {
	rate := config.SampleRate
	if rate <= 0 {
		rate = 1 // bins are labeled directly when no rate is given
	}

	analyzer, err := dsp.NewAnalyzer(config.FrameLen, rate, dsp.WindowHann)
	if err != nil {
		return nil, err
	}

	return &WaterfallRenderer{
		analyzer: analyzer,
		frameLen: config.FrameLen,
		hop:      config.FrameLen / 4,
		minPower: config.MinPower,
		maxPower: config.MaxPower,
	}, nil
}

// CardTops returns the first image row of each rendered card, in the
// order the cards were given to Render.
func (r *WaterfallRenderer) CardTops() []int {
	return r.cardTops
}

// Render produces the stacked waterfall and the power bounds used for
// the color scale.
func (r *WaterfallRenderer) Render(cards []*card.Card) (*image.RGBA, PowerBounds, error) {
	rows := make([][][]float64, len(cards))

	bounds := PowerBounds{Min: math.Inf(1), Max: math.Inf(-1)}
	for i, c := range cards {
		cardRows, err := r.snippetRows(c)
		if err != nil {
			return nil, bounds, fmt.Errorf("card %d: %w", c.Seq, err)
		}
		rows[i] = cardRows

		for _, row := range cardRows {
			for _, db := range row {
				if db < bounds.Min {
					bounds.Min = db
				}
				if db > bounds.Max {
					bounds.Max = db
				}
			}
		}
	}

	if r.minPower != nil {
		bounds.Min = *r.minPower
	}
	if r.maxPower != nil {
		bounds.Max = *r.maxPower
	}
	if bounds.Max <= bounds.Min {
		bounds.Max = bounds.Min + 1
	}

	height := separatorRows * (len(cards) - 1)
	for _, cardRows := range rows {
		height += len(cardRows)
	}

	img := image.NewRGBA(image.Rect(0, 0, r.frameLen, height))
	r.cardTops = r.cardTops[:0]

	y := 0
	for i, cardRows := range rows {
		if i > 0 {
			for sy := 0; sy < separatorRows; sy++ {
				for x := 0; x < r.frameLen; x++ {
					img.Set(x, y, separatorColor)
				}
				y++
			}
		}

		r.cardTops = append(r.cardTops, y)
		for _, row := range cardRows {
			for x := 0; x < r.frameLen; x++ {
				img.Set(x, y, pixelColor(row[x], bounds))
			}
			y++
		}
	}

	return img, bounds, nil
}

// snippetRows turns one snippet into dB spectra rows, low frequencies
// on the left of each row and the center frequency in the middle.
func (r *WaterfallRenderer) snippetRows(c *card.Card) ([][]float64, error) {
	snippet := c.Snippet
	if len(snippet) < r.frameLen {
		padded := make([]complex64, r.frameLen)
		copy(padded, snippet)
		snippet = padded
	}

	var rows [][]float64
	for pos := 0; pos+r.frameLen <= len(snippet); pos += r.hop {
		spec, err := r.analyzer.Analyze(dsp.Frame{
			Samples: snippet[pos : pos+r.frameLen],
			Offset:  c.StartOffset + uint64(pos),
		})
		if err != nil {
			return nil, err
		}

		row := make([]float64, r.frameLen)
		for x := 0; x < r.frameLen; x++ {
			bin := x - r.frameLen/2
			p := spec.Power[spec.WrapBin(bin)]
			row[x] = math.Max(10*math.Log10(p+1e-30), dbFloor)
		}
		rows = append(rows, row)
	}
	return rows, nil
}

func pixelColor(db float64, bounds PowerBounds) color.Color {
	span := bounds.Max - bounds.Min
	hPerDB := (hueStart - hueEnd) / span

	hue := hueStart - (db-bounds.Min)*hPerDB
	hue = math.Min(math.Max(hue, hueEnd), hueStart)

	return colorful.Hsv(hue, 1, 0.90)
}
