package app

import (
	"errors"
	"flag"
	"fmt"
	"strings"
)

const (
	ImagePNG  = "png"
	ImageJPEG = "jpeg"
)

type ImageFormat string

type Config struct {
	CardPath      string
	OutputFile    string
	Format        ImageFormat
	FontPath      string
	FrameLen      int
	SampleRate    float64
	MaxPower      *float64
	MinPower      *float64
	Verbose       bool
	NoAnnotations bool
}

var validImageFormats = map[ImageFormat]struct{}{
	ImagePNG:  {},
	ImageJPEG: {},
}

func NewConfig() *Config {
	return &Config{
		Format:   ImagePNG,
		FrameLen: 256,
	}
}

func NewConfigFromCLI() (*Config, error) {
	c := NewConfig()

	var imageFormat string
	var minPower, maxPower float64
	flag.StringVar(&c.CardPath, "in", "", "Path to the card file or archive")
	flag.StringVar(&c.OutputFile, "o", "", "Path to the output file")
	flag.StringVar(&imageFormat, "f", string(ImagePNG), "Output image format. [png, jpeg]")
	flag.StringVar(&c.FontPath, "font", "", "Path to a TTF font for annotations")
	flag.IntVar(&c.FrameLen, "frame", 256, "FFT length for snippet spectra (power of two)")
	flag.Float64Var(&c.SampleRate, "rate", 0, "Sample rate in Hz, for frequency axis labels")
	flag.Float64Var(&minPower, "min-power", 0, "Define a manual minimum power in dB (format nn.n)")
	flag.Float64Var(&maxPower, "max-power", 0, "Define a manual maximum power in dB (format nn.n)")
	flag.BoolVar(&c.Verbose, "verbose", false, "Enable more verbose output")
	flag.BoolVar(&c.NoAnnotations, "no-annotations", false, "Disable annotations such as per-event labels")
	flag.Parse()

	imageFormat = strings.ToLower(imageFormat)

	flag.Visit(func(f *flag.Flag) {
		if f.Name == "min-power" {
			c.MinPower = &minPower
		}
		if f.Name == "max-power" {
			c.MaxPower = &maxPower
		}
	})

	var err error
	if c.CardPath == "" {
		err = errors.New("card file path is required")
	} else if c.OutputFile == "" {
		err = errors.New("output file is required")
	} else if _, ok := validImageFormats[ImageFormat(imageFormat)]; !ok {
		err = fmt.Errorf("invalid image format: %s", imageFormat)
	} else if c.FrameLen < 2 || c.FrameLen&(c.FrameLen-1) != 0 {
		err = fmt.Errorf("invalid frame length: %d", c.FrameLen)
	} else if !c.NoAnnotations && c.FontPath == "" {
		err = errors.New("font path is required unless annotations are disabled")
	}

	if err != nil {
		flag.Usage()
		return nil, err
	}

	c.Format = ImageFormat(imageFormat)
	c.OutputFile = fmt.Sprintf("%s.%s", c.OutputFile, c.Format)
	return c, nil
}
