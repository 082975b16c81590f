// Package card defines the event record produced by the detection
// engine and its persisted encodings. A card is the unit of output of
// the whole sensor.
package card

import (
	"time"

	"github.com/google/uuid"
)

// Card is a persisted record of one detected transient signal event.
// It is immutable once emitted and self-contained: the raw snippet
// lets downstream multi-station tooling re-analyze the event without
// access to the original stream.
type Card struct {
	// Session identifies the detector run that produced the card.
	Session uuid.UUID

	// Seq is the emission sequence number within the session.
	Seq uint64

	// Start is the wall-clock time of the first above-threshold
	// spectrum of the event.
	Start time.Time

	// StartOffset is the stream sample index corresponding to Start.
	StartOffset uint64

	// Duration spans from the first to the last above-threshold
	// spectrum, in real time.
	Duration time.Duration

	// Bin is the signed frequency bin of the event's peak; negative
	// bins lie below the tuner center frequency.
	Bin int

	// FreqOffset is Bin expressed in Hz relative to the tuner center.
	FreqOffset float64

	// PeakPower is the highest per-bin power observed while the event
	// was active (window-energy normalized, linear scale).
	PeakPower float64

	// NoiseFloor is the estimated per-bin noise power at the moment the
	// event opened.
	NoiseFloor float64

	// Snippet holds the raw complex samples spanning the event, bounded
	// by the configured snippet limit.
	Snippet []complex64
}
