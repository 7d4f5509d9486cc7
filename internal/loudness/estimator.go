// Package loudness turns frequency snapshots into calibrated, A-weighted
// decibel estimates.
package loudness

import (
	"math"

	"soundmeter/internal/config"
	"soundmeter/internal/model"
)

const DefaultSilenceEpsilon = 1e-15

type Params struct {
	DeviceOffsetDb float64
	Compensation   Compensation
	SilenceEpsilon float64
}

func ParamsFromConfig(cfg config.LoudnessConfig) Params {
	return Params{
		DeviceOffsetDb: cfg.DeviceOffsetDb,
		Compensation: Compensation{
			LowCornerHz:       cfg.LowCornerHz,
			LowBoostDb:        cfg.LowBoostDb,
			NotchCenterHz:     cfg.NotchCenterHz,
			NotchDepthDb:      cfg.NotchDepthDb,
			NotchWidthOctaves: cfg.NotchWidthOctaves,
			HighCornerHz:      cfg.HighCornerHz,
			HighBoostDb:       cfg.HighBoostDb,
		},
		SilenceEpsilon: DefaultSilenceEpsilon,
	}
}

// Estimator holds the weight table for one acquisition session. It is safe
// for concurrent use since the table is never written after construction.
type Estimator struct {
	weights []float64
	params  Params
}

func NewEstimator(sampleRate, fftSize int, params Params) *Estimator {
	if params.SilenceEpsilon <= 0 {
		params.SilenceEpsilon = DefaultSilenceEpsilon
	}
	return &Estimator{
		weights: WeightTable(sampleRate, fftSize, params.Compensation),
		params:  params,
	}
}

func (e *Estimator) Weights() []float64 {
	out := make([]float64, len(e.weights))
	copy(out, e.weights)
	return out
}

// Estimate converts per-bin dBFS magnitudes into a decibel reading in
// [0, 120]. Silence and numeric underflow yield 0.
func (e *Estimator) Estimate(magnitudesDb []float64, calibrationOffsetDb float64) float64 {
	n := len(magnitudesDb)
	if len(e.weights) < n {
		n = len(e.weights)
	}
	total := 0.0
	for i := 0; i < n; i++ {
		w := e.weights[i]
		raw := magnitudesDb[i]
		if math.IsInf(w, -1) || math.IsNaN(raw) || math.IsInf(raw, -1) {
			continue
		}
		p := math.Pow(10, (raw+w)/10)
		if math.IsInf(p, 1) {
			// Anything this loud clamps to the ceiling below.
			return model.MaxDecibels
		}
		total += p
	}
	if !(total >= e.params.SilenceEpsilon) {
		return 0
	}
	dbfs := 10 * math.Log10(total)
	return Clamp(dbfs + e.params.DeviceOffsetDb + calibrationOffsetDb)
}

func Clamp(v float64) float64 {
	if math.IsNaN(v) || v < model.MinDecibels {
		return model.MinDecibels
	}
	if v > model.MaxDecibels {
		return model.MaxDecibels
	}
	return v
}

// Zone classifies a reading against the traffic-light boundaries.
func Zone(value float64, zones model.Zones) model.Zone {
	switch {
	case value >= zones.RedDb:
		return model.ZoneRed
	case value >= zones.OrangeDb:
		return model.ZoneYellow
	default:
		return model.ZoneGreen
	}
}
