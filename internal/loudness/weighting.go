package loudness

import "math"

const (
	minAudibleHz = 20.0
	maxAudibleHz = 20000.0
)

// Compensation is a coarse inverse of a small-microphone frequency response:
// low-frequency roll-off, a resonance peak and high-frequency roll-off.
type Compensation struct {
	LowCornerHz       float64
	LowBoostDb        float64
	NotchCenterHz     float64
	NotchDepthDb      float64
	NotchWidthOctaves float64
	HighCornerHz      float64
	HighBoostDb       float64
}

// AWeighting returns the IEC 61672 A-weighting gain in dB, normalised to
// 0 dB at 1 kHz.
func AWeighting(f float64) float64 {
	if f <= 0 {
		return math.Inf(-1)
	}
	f2 := f * f
	const (
		c1 = 20.598997 * 20.598997
		c2 = 107.65265 * 107.65265
		c3 = 737.86223 * 737.86223
		c4 = 12194.217 * 12194.217
	)
	ra := c4 * f2 * f2 / ((f2 + c1) * math.Sqrt((f2+c2)*(f2+c3)) * (f2 + c4))
	return 20*math.Log10(ra) + 2.0
}

// Gain returns the compensation in dB at f.
func (c Compensation) Gain(f float64) float64 {
	g := 0.0
	if c.LowCornerHz > minAudibleHz && f < c.LowCornerHz {
		// Linear in log-frequency from 0 dB at the corner to LowBoostDb at 20 Hz.
		span := math.Log2(c.LowCornerHz / minAudibleHz)
		g += c.LowBoostDb * math.Log2(c.LowCornerHz/math.Max(f, minAudibleHz)) / span
	}
	if c.NotchCenterHz > 0 && c.NotchWidthOctaves > 0 {
		oct := math.Log2(f / c.NotchCenterHz)
		g -= c.NotchDepthDb * math.Exp(-(oct*oct)/(2*c.NotchWidthOctaves*c.NotchWidthOctaves))
	}
	if c.HighCornerHz > 0 && c.HighCornerHz < maxAudibleHz && f > c.HighCornerHz {
		span := math.Log2(maxAudibleHz / c.HighCornerHz)
		g += c.HighBoostDb * math.Log2(math.Min(f, maxAudibleHz)/c.HighCornerHz) / span
	}
	return g
}

// Weight is the total correction applied to a bin centred on f. Frequencies
// outside the audible band get -Inf so they contribute no power.
func (c Compensation) Weight(f float64) float64 {
	if f < minAudibleHz || f > maxAudibleHz {
		return math.Inf(-1)
	}
	return AWeighting(f) + c.Gain(f)
}

// WeightTable computes the per-bin weights for a transform of fftSize
// samples at sampleRate; it has fftSize/2 entries.
func WeightTable(sampleRate, fftSize int, c Compensation) []float64 {
	bins := fftSize / 2
	table := make([]float64, bins)
	if sampleRate <= 0 || fftSize <= 0 {
		for i := range table {
			table[i] = math.Inf(-1)
		}
		return table
	}
	binHz := float64(sampleRate) / float64(fftSize)
	for i := range table {
		table[i] = c.Weight(float64(i) * binHz)
	}
	return table
}
