package detect

import "math"

// SpectrumNoise estimates the per-bin noise power of one spectrum.
// The total spectrum energy is reduced by twice the peak's power to
// compensate for both the detected carrier and its modulation energy,
// then spread over the remaining bins.
func SpectrumNoise(power []float64, peak float64) float64 {
	if len(power) < 2 {
		return 0
	}
	var total float64
	for _, p := range power {
		total += p
	}
	noise := (total - 2*peak) / float64(len(power)-1)
	if noise < 0 {
		return 0
	}
	return noise
}

// marginFactor converts a dB margin into a linear power factor.
func marginFactor(db float64) float64 {
	return math.Pow(10, db/10)
}
