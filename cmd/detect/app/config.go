package app

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/dustin/go-humanize"
	"gopkg.in/yaml.v3"
)

// Frequency accepts plain numbers or SI-suffixed strings ("2.4M",
// "450k") in YAML and holds the value in Hz.
type Frequency float64

func (f *Frequency) UnmarshalYAML(value *yaml.Node) error {
	v, _, err := humanize.ParseSI(value.Value)
	if err != nil {
		return fmt.Errorf("app.Frequency: failed to parse: %s", err)
	}

	*f = Frequency(v)
	return nil
}

// TimeDuration accepts Go duration strings ("250ms") in YAML.
type TimeDuration time.Duration

func (d *TimeDuration) UnmarshalYAML(value *yaml.Node) error {
	duration, err := time.ParseDuration(value.Value)
	if err != nil {
		return fmt.Errorf("app.TimeDuration: failed to parse: %s", err)
	}

	*d = TimeDuration(duration)
	return nil
}

func (d *TimeDuration) MarshalYAML() (interface{}, error) {
	return time.Duration(*d).String(), nil
}

// Config represents the main application configuration
type Config struct {
	Settings Settings     `yaml:"settings"`
	Input    InputConfig  `yaml:"input"`
	DSP      DSPConfig    `yaml:"dsp"`
	Detect   DetectConfig `yaml:"detect"`
	Buffer   BufferConfig `yaml:"buffer"`
	Output   OutputConfig `yaml:"output"`
}

// Settings represents global application settings
type Settings struct {
	LogLevel string `yaml:"logLevel"`
}

// Level maps the configured name onto a slog level, defaulting to Info.
func (s Settings) Level() slog.Level {
	switch s.LogLevel {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// InputConfig selects and parameterizes the sample source
type InputConfig struct {
	Variant     string    `yaml:"variant"`    // iq-file | card-file | rtl-sdr
	Path        string    `yaml:"path"`       // capture or card file
	Format      string    `yaml:"format"`     // u8 | i16 | f32
	SampleRate  Frequency `yaml:"sampleRate"` // samples per second
	BlockSize   int       `yaml:"blockSize"`  // samples per block
	CenterFreq  Frequency `yaml:"centerFreq"` // tuner center frequency, Hz
	Gain        float64   `yaml:"gain"`       // tuner gain, dB
	DeviceIndex int       `yaml:"deviceIndex"`
	BinPath     string    `yaml:"binPath"` // rtl_sdr binary override
}

// DSPConfig parameterizes the spectral analyzer
type DSPConfig struct {
	FrameLen int    `yaml:"frameLen"` // FFT length, power of two
	Hop      int    `yaml:"hop"`      // samples between frames
	Window   string `yaml:"window"`   // hann | hamming | blackman | ...
}

// DetectConfig parameterizes the detection engine
type DetectConfig struct {
	Mode       string       `yaml:"mode"`      // fixed | auto
	Threshold  float64      `yaml:"threshold"` // fixed-mode power threshold
	MarginDB   float64      `yaml:"marginDb"`  // auto-mode margin over floor
	NoiseDecay float64      `yaml:"noiseDecay"`
	HoldOff    int          `yaml:"holdOff"`  // below-threshold spectra tolerated
	MinDwell   TimeDuration `yaml:"minDwell"` // shortest reportable event
	BinLow     int          `yaml:"binLow"`   // monitored window, signed bins
	BinHigh    int          `yaml:"binHigh"`
	GroupSize  int          `yaml:"groupSize"`
	PeakFilter []float64    `yaml:"peakFilter"` // matched FIR weights, optional
	MaxSnippet int          `yaml:"maxSnippet"` // samples kept per card
}

// BufferConfig parameterizes the block ring buffer
type BufferConfig struct {
	Capacity int    `yaml:"capacity"`
	Policy   string `yaml:"policy"` // block | drop-oldest | drop-newest
}

// OutputConfig selects the card sink
type OutputConfig struct {
	Encoding string `yaml:"encoding"` // text | binary | sqlite
	Path     string `yaml:"path"`
}

const (
	defaultBlockSize  = 16384
	defaultFrameLen   = 1024
	defaultCapacity   = 64
	defaultPolicy     = "drop-oldest"
	defaultWindow     = "hann"
	defaultMode       = "auto"
	defaultMarginDB   = 10
	defaultHoldOff    = 2
	defaultMaxSnippet = 1 << 20
)

// LoadConfig reads and parses the YAML configuration file, filling in
// defaults for omitted values.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	if config.Input.BlockSize == 0 {
		config.Input.BlockSize = defaultBlockSize
	}
	if config.DSP.FrameLen == 0 {
		config.DSP.FrameLen = defaultFrameLen
	}
	if config.DSP.Hop == 0 {
		config.DSP.Hop = config.DSP.FrameLen / 2
	}
	if config.DSP.Window == "" {
		config.DSP.Window = defaultWindow
	}
	if config.Detect.Mode == "" {
		config.Detect.Mode = defaultMode
	}
	if config.Detect.MarginDB == 0 {
		config.Detect.MarginDB = defaultMarginDB
	}
	if config.Detect.HoldOff == 0 {
		config.Detect.HoldOff = defaultHoldOff
	}
	if config.Detect.MaxSnippet == 0 {
		config.Detect.MaxSnippet = defaultMaxSnippet
	}
	if config.Detect.BinLow == 0 && config.Detect.BinHigh == 0 {
		// Whole usable spectrum, excluding the DC bin's mirror edge.
		config.Detect.BinLow = -(config.DSP.FrameLen/2 - 1)
		config.Detect.BinHigh = config.DSP.FrameLen/2 - 1
	}
	if config.Buffer.Capacity == 0 {
		config.Buffer.Capacity = defaultCapacity
	}
	if config.Buffer.Policy == "" {
		config.Buffer.Policy = defaultPolicy
	}

	return &config, nil
}
