// Package detect implements the per-bin threshold/hold-off state
// machine that turns a stream of power spectra into discrete card
// records. Detector state lives in flat slices indexed by bin group and
// is owned exclusively by the analysis goroutine; no locking is needed.
package detect

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/rkarpov/carrierwatch/internal/card"
	"github.com/rkarpov/carrierwatch/internal/dsp"
	"github.com/rkarpov/carrierwatch/internal/iq"
)

const (
	// ThresholdFixed compares bin power against a configured value.
	ThresholdFixed ThresholdMode = "fixed"

	// ThresholdAuto tracks a per-group noise floor while IDLE and
	// triggers a configured margin above it.
	ThresholdAuto ThresholdMode = "auto"
)

// ThresholdMode selects the detection threshold policy.
type ThresholdMode string

// ParseThresholdMode validates a mode string from configuration.
func ParseThresholdMode(s string) (ThresholdMode, error) {
	switch m := ThresholdMode(s); m {
	case ThresholdFixed, ThresholdAuto:
		return m, nil
	default:
		return "", fmt.Errorf("unknown threshold mode %q", s)
	}
}

const (
	defaultGroupSize  = 1
	defaultNoiseDecay = 0.9
)

// Config describes one detection engine instance.
type Config struct {
	// FrameLen is the transform length of incoming spectra.
	FrameLen int

	// Hop is the spectrum cadence in samples.
	Hop int

	// SampleRate in samples per second.
	SampleRate float64

	// BinLow and BinHigh bound the monitored frequency window as
	// signed bin numbers, inclusive; negative bins address frequencies
	// below the tuner center.
	BinLow, BinHigh int

	// GroupSize merges this many contiguous bins into one detector
	// state, tolerating frequency drift within the group. Zero means 1.
	GroupSize int

	// PeakFilter holds matched FIR weights, normalized so their squares
	// sum to one, correlated across the group's bins before the peak
	// search. Matching the expected peak shape gives a better estimate
	// of the peak energy for signals wider than one bin; the largest
	// weight marks the peak position. Empty disables filtering.
	PeakFilter []float64

	// Mode selects the threshold policy.
	Mode ThresholdMode

	// Threshold is the fixed detection power (ThresholdFixed).
	Threshold float64

	// MarginDB is the trigger margin above the tracked noise floor
	// (ThresholdAuto).
	MarginDB float64

	// NoiseDecay is the exponential decay of the IDLE noise floor
	// tracker, in (0, 1); larger means slower adaptation. Zero means
	// the default.
	NoiseDecay float64

	// HoldOff is the number of consecutive below-threshold spectra
	// tolerated before an active detection closes.
	HoldOff int

	// MinDwell is the minimum event duration; shorter crossings are
	// discarded as noise.
	MinDwell time.Duration

	// MaxSnippet bounds the raw samples captured per card.
	MaxSnippet int
}

func (c *Config) validate() error {
	if c.FrameLen < 2 {
		return fmt.Errorf("invalid frame length %d", c.FrameLen)
	}
	if c.Hop < 1 || c.Hop > c.FrameLen {
		return fmt.Errorf("hop %d out of range [1, %d]", c.Hop, c.FrameLen)
	}
	if c.SampleRate <= 0 {
		return fmt.Errorf("invalid sample rate %f", c.SampleRate)
	}
	half := c.FrameLen / 2
	if c.BinLow < -half || c.BinHigh >= c.FrameLen || c.BinLow > c.BinHigh {
		return fmt.Errorf("bin window [%d, %d] out of range for %d bins", c.BinLow, c.BinHigh, c.FrameLen)
	}
	if _, err := ParseThresholdMode(string(c.Mode)); err != nil {
		return err
	}
	if c.Mode == ThresholdFixed && c.Threshold <= 0 {
		return fmt.Errorf("fixed threshold must be positive, got %f", c.Threshold)
	}
	if c.HoldOff < 0 {
		return fmt.Errorf("negative hold-off %d", c.HoldOff)
	}
	if c.MinDwell < 0 {
		return fmt.Errorf("negative minimum dwell %s", c.MinDwell)
	}
	if c.MaxSnippet < 0 {
		return fmt.Errorf("negative snippet limit %d", c.MaxSnippet)
	}
	if c.NoiseDecay < 0 || c.NoiseDecay >= 1 {
		return fmt.Errorf("noise decay %f out of [0, 1)", c.NoiseDecay)
	}
	for _, w := range c.PeakFilter {
		if w < 0 {
			return fmt.Errorf("negative peak filter weight %f", w)
		}
	}
	return nil
}

type detectorState uint8

const (
	stateIdle detectorState = iota
	stateActive
)

// binState holds one detector's accumulated event data. A state is
// ACTIVE for at most one contiguous span before re-entering IDLE, so
// cards from the same group never overlap in time.
type binState struct {
	state       detectorState
	startOffset uint64
	startTime   time.Time
	peakPower   float64
	peakBin     int // signed bin of the peak
	noise       float64
	holdOff     int
	lastAbove   uint64 // offset of the most recent above-threshold spectrum
	snippet     []complex64
	collectedTo uint64
}

// group is one monitored contiguous run of signed bins.
type group struct {
	low, high int // signed bins, inclusive
}

// Engine converts spectra into cards. It must be fed spectra in strict
// arrival order by a single goroutine.
type Engine struct {
	cfg         Config
	session     uuid.UUID
	margin      float64
	filterDelay int

	groups []group
	states []binState
	floors []float64
	primed bool

	history *history

	emitSeq        uint64
	discardedShort uint64
}

// NewEngine creates a detection engine for the given session.
func NewEngine(session uuid.UUID, cfg Config) (*Engine, error) {
	if cfg.GroupSize == 0 {
		cfg.GroupSize = defaultGroupSize
	}
	if cfg.NoiseDecay == 0 {
		cfg.NoiseDecay = defaultNoiseDecay
	}
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("detector config: %w", err)
	}

	var groups []group
	for low := cfg.BinLow; low <= cfg.BinHigh; low += cfg.GroupSize {
		high := low + cfg.GroupSize - 1
		if high > cfg.BinHigh {
			high = cfg.BinHigh
		}
		groups = append(groups, group{low: low, high: high})
	}

	// History must retain every sample between two consecutive spectrum
	// feeds plus one full frame of overlap.
	histLen := 8 * cfg.FrameLen
	if cfg.MaxSnippet > 0 && histLen < 2*cfg.Hop+cfg.FrameLen {
		histLen = 2*cfg.Hop + cfg.FrameLen
	}

	// The filtered response to a peak arrives where the largest weight
	// lines up with it; the peak search shifts its result back by that
	// delay.
	delay := 0
	if n := len(cfg.PeakFilter); n > 0 {
		max := 0
		for i, w := range cfg.PeakFilter {
			if w > cfg.PeakFilter[max] {
				max = i
			}
		}
		delay = n - max - 1
	}

	return &Engine{
		cfg:         cfg,
		session:     session,
		margin:      marginFactor(cfg.MarginDB),
		filterDelay: delay,
		groups:      groups,
		states:      make([]binState, len(groups)),
		floors:      make([]float64, len(groups)),
		history:     newHistory(histLen),
	}, nil
}

// Observe extends the raw-sample history with a freshly dequeued block.
// It must be called before feeding the spectra derived from the block.
func (e *Engine) Observe(b *iq.Block) {
	if e.cfg.MaxSnippet > 0 {
		e.history.append(b)
	}
}

// Feed evaluates one spectrum against every monitored bin group and
// returns the cards of any detections that closed, ordered by start
// offset. Spectra must arrive in stream order.
func (e *Engine) Feed(spec *dsp.Spectrum) []*card.Card {
	if len(spec.Power) != e.cfg.FrameLen {
		return nil
	}

	if !e.primed {
		for gi, g := range e.groups {
			p, _ := e.groupPeak(spec, g)
			e.floors[gi] = p
		}
		e.primed = true
	}

	var closed []*card.Card
	for gi := range e.groups {
		if c := e.feedGroup(gi, spec); c != nil {
			closed = append(closed, c)
		}
	}

	// Simultaneous closings are emitted oldest-first.
	for i := 1; i < len(closed); i++ {
		for j := i; j > 0 && closed[j].StartOffset < closed[j-1].StartOffset; j-- {
			closed[j], closed[j-1] = closed[j-1], closed[j]
		}
	}
	return closed
}

func (e *Engine) feedGroup(gi int, spec *dsp.Spectrum) *card.Card {
	st := &e.states[gi]
	power, bin := e.groupPeak(spec, e.groups[gi])
	threshold := e.threshold(gi)

	switch {
	case st.state == stateIdle && power >= threshold:
		st.state = stateActive
		st.startOffset = spec.Offset
		st.startTime = spec.Timestamp
		st.peakPower = power
		st.peakBin = bin
		st.holdOff = 0
		st.lastAbove = spec.Offset
		st.snippet = nil
		st.collectedTo = spec.Offset
		if e.cfg.Mode == ThresholdAuto {
			st.noise = e.floors[gi]
		} else {
			st.noise = SpectrumNoise(spec.Power, power)
		}
		e.collect(st, spec.Offset+uint64(e.cfg.Hop))

	case st.state == stateIdle:
		// Track the noise floor only while idle so active carriers do
		// not inflate it.
		d := e.cfg.NoiseDecay
		e.floors[gi] = d*e.floors[gi] + (1-d)*power

	case power >= threshold: // active, signal still present
		if power > st.peakPower {
			st.peakPower = power
			st.peakBin = bin
		}
		st.holdOff = 0
		st.lastAbove = spec.Offset
		e.collect(st, spec.Offset+uint64(e.cfg.Hop))

	default: // active, below threshold
		st.holdOff++
		e.collect(st, spec.Offset+uint64(e.cfg.Hop))
		if st.holdOff > e.cfg.HoldOff {
			return e.close(st)
		}
	}
	return nil
}

// groupPeak returns the strongest power within the group's bins and the
// signed bin where it occurred.
func (e *Engine) groupPeak(spec *dsp.Spectrum, g group) (float64, int) {
	if len(e.cfg.PeakFilter) > 0 {
		return e.filteredPeak(spec, g)
	}

	best := -1.0
	bestBin := g.low
	for b := g.low; b <= g.high; b++ {
		p := spec.Power[spec.WrapBin(b)]
		if p > best {
			best = p
			bestBin = b
		}
	}
	return best, bestBin
}

// filteredPeak correlates the group's bins with the squared filter
// weights in the power domain and locates the maximum of the filtered
// response. Bins below the group's low edge contribute nothing, as if
// the filter started from rest there.
func (e *Engine) filteredPeak(spec *dsp.Spectrum, g group) (float64, int) {
	w := e.cfg.PeakFilter
	n := len(w)

	best := -1.0
	bestBin := g.low
	for b := g.low; b <= g.high; b++ {
		var acc float64
		for j, c := range w {
			src := b - (n - 1 - j)
			if src < g.low {
				continue
			}
			acc += c * c * spec.Power[spec.WrapBin(src)]
		}
		if acc > best {
			best = acc
			bestBin = b
		}
	}

	bin := bestBin - e.filterDelay
	if bin < g.low {
		bin = g.low
	}
	return best, bin
}

func (e *Engine) threshold(gi int) float64 {
	if e.cfg.Mode == ThresholdFixed {
		return e.cfg.Threshold
	}
	return e.floors[gi] * e.margin
}

// collect grows the in-progress snippet from the sample history up to
// the given stream offset, bounded by the snippet limit.
func (e *Engine) collect(st *binState, upTo uint64) {
	if e.cfg.MaxSnippet == 0 || len(st.snippet) >= e.cfg.MaxSnippet {
		return
	}
	if max := st.startOffset + uint64(e.cfg.MaxSnippet); upTo > max {
		upTo = max
	}
	if upTo <= st.collectedTo {
		return
	}
	st.snippet = e.history.slice(st.collectedTo, upTo, st.snippet)
	st.collectedTo = upTo
}

// close ends an active detection. The event spans from its first to one
// hop past its last above-threshold spectrum; crossings shorter than
// the minimum dwell are counted and dropped.
func (e *Engine) close(st *binState) *card.Card {
	defer func() { *st = binState{} }()

	durationSamples := st.lastAbove + uint64(e.cfg.Hop) - st.startOffset
	duration := time.Duration(float64(durationSamples) / e.cfg.SampleRate * float64(time.Second))
	if duration < e.cfg.MinDwell {
		e.discardedShort++
		return nil
	}

	snippet := st.snippet
	if limit := int(durationSamples); limit < len(snippet) {
		snippet = snippet[:limit]
	}

	e.emitSeq++
	binWidth := e.cfg.SampleRate / float64(e.cfg.FrameLen)
	return &card.Card{
		Session:     e.session,
		Seq:         e.emitSeq,
		Start:       st.startTime,
		StartOffset: st.startOffset,
		Duration:    duration,
		Bin:         st.peakBin,
		FreqOffset:  float64(st.peakBin) * binWidth,
		PeakPower:   st.peakPower,
		NoiseFloor:  st.noise,
		Snippet:     snippet,
	}
}

// Flush force-closes every active detection, as on stream end or
// shutdown, and returns the resulting cards ordered by start offset.
func (e *Engine) Flush() []*card.Card {
	var closed []*card.Card
	for gi := range e.states {
		st := &e.states[gi]
		if st.state != stateActive {
			continue
		}
		if c := e.close(st); c != nil {
			closed = append(closed, c)
		}
	}
	for i := 1; i < len(closed); i++ {
		for j := i; j > 0 && closed[j].StartOffset < closed[j-1].StartOffset; j-- {
			closed[j], closed[j-1] = closed[j-1], closed[j]
		}
	}
	return closed
}

// DiscardedShort returns the cumulative count of crossings dropped for
// failing the minimum dwell.
func (e *Engine) DiscardedShort() uint64 {
	return e.discardedShort
}

// NoiseFloor exposes the current tracked floor of the group containing
// the given signed bin, for diagnostics.
func (e *Engine) NoiseFloor(bin int) float64 {
	for gi, g := range e.groups {
		if bin >= g.low && bin <= g.high {
			return e.floors[gi]
		}
	}
	return 0
}
