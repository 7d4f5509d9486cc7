package acquisition

import (
	"context"
	"encoding/binary"
	"math"
	"math/cmplx"
	"sync"

	"gonum.org/v1/gonum/dsp/fourier"
)

// FrequencySnapshot holds per-bin magnitudes in dBFS. Bin i is centred on
// i*SampleRate/FFTSize Hz. Zero amplitude is -Inf.
type FrequencySnapshot struct {
	SampleRate int
	FFTSize    int
	Magnitudes []float64
}

func SilentSnapshot(sampleRate, fftSize int) FrequencySnapshot {
	mags := make([]float64, fftSize/2)
	for i := range mags {
		mags[i] = math.Inf(-1)
	}
	return FrequencySnapshot{SampleRate: sampleRate, FFTSize: fftSize, Magnitudes: mags}
}

type Config struct {
	Device     string
	SampleRate int
	FFTSize    int
	// SmoothingTimeConstant blends each frame with the previous one, in [0,1).
	SmoothingTimeConstant float64
}

type state int

const (
	stateUninitialized state = iota
	stateActive
	stateReleased
)

// Analyzer owns one capture device and its audio context.
type Analyzer struct {
	cfg    Config
	actx   Context
	device CaptureDevice

	mu       sync.Mutex
	state    state
	ring     []float64
	pos      int
	filled   int
	window   []float64
	fft      *fourier.FFT
	frame    []float64
	coeffs   []complex128
	smoothed []float64
}

func newAnalyzer(cfg Config) *Analyzer {
	n := cfg.FFTSize
	return &Analyzer{
		cfg:      cfg,
		ring:     make([]float64, n),
		window:   blackman(n),
		fft:      fourier.NewFFT(n),
		frame:    make([]float64, n),
		smoothed: make([]float64, n/2),
	}
}

// Open starts capturing from actx and takes ownership of it: actx is closed
// by Release, or before Open returns on any error.
func Open(ctx context.Context, actx Context, cfg Config) (*Analyzer, error) {
	a := newAnalyzer(cfg)
	a.actx = actx

	dev, err := pickDevice(actx, cfg.Device)
	if err != nil {
		actx.Close()
		return nil, err
	}
	capture, err := actx.NewCapture(dev, CaptureConfig{SampleRate: uint32(cfg.SampleRate), Channels: 1})
	if err != nil {
		actx.Close()
		return nil, classify("opening capture", err)
	}
	capture.SetCallback(a.write)

	errc := make(chan error, 1)
	go func() { errc <- capture.Start() }()
	select {
	case err := <-errc:
		if err != nil {
			capture.ClearCallback()
			capture.Close()
			actx.Close()
			return nil, classify("starting capture", err)
		}
	case <-ctx.Done():
		// The start may still complete; tear down whatever it produced.
		go func() {
			if <-errc == nil {
				capture.Stop()
			}
			capture.ClearCallback()
			capture.Close()
			actx.Close()
		}()
		return nil, ctx.Err()
	}

	a.mu.Lock()
	a.device = capture
	a.state = stateActive
	a.mu.Unlock()
	return a, nil
}

func (a *Analyzer) SampleRate() int { return a.cfg.SampleRate }
func (a *Analyzer) FFTSize() int    { return a.cfg.FFTSize }

func (a *Analyzer) write(data []byte, _ uint32) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.state == stateReleased {
		return
	}
	n := len(a.ring)
	for i := 0; i+1 < len(data); i += 2 {
		s := int16(binary.LittleEndian.Uint16(data[i:]))
		a.ring[a.pos] = float64(s) / 32768.0
		a.pos = (a.pos + 1) % n
		if a.filled < n {
			a.filled++
		}
	}
}

// Snapshot returns the spectrum of the most recent FFTSize samples. It is
// silent until a full frame has been buffered and after Release.
func (a *Analyzer) Snapshot() FrequencySnapshot {
	a.mu.Lock()
	defer a.mu.Unlock()
	n := len(a.ring)
	if a.state != stateActive || a.filled < n {
		return SilentSnapshot(a.cfg.SampleRate, n)
	}
	for i := 0; i < n; i++ {
		a.frame[i] = a.ring[(a.pos+i)%n] * a.window[i]
	}
	a.coeffs = a.fft.Coefficients(a.coeffs, a.frame)

	k := a.cfg.SmoothingTimeConstant
	mags := make([]float64, n/2)
	for i := range mags {
		m := cmplx.Abs(a.coeffs[i]) / float64(n)
		if k > 0 {
			m = k*a.smoothed[i] + (1-k)*m
			a.smoothed[i] = m
		}
		if m > 0 {
			mags[i] = 20 * math.Log10(m)
		} else {
			mags[i] = math.Inf(-1)
		}
	}
	return FrequencySnapshot{SampleRate: a.cfg.SampleRate, FFTSize: n, Magnitudes: mags}
}

// Release stops and closes the device and the audio context. It is safe to
// call more than once.
func (a *Analyzer) Release() {
	a.mu.Lock()
	if a.state == stateReleased {
		a.mu.Unlock()
		return
	}
	a.state = stateReleased
	dev := a.device
	a.device = nil
	a.mu.Unlock()

	if dev != nil {
		dev.ClearCallback()
		dev.Stop()
		dev.Close()
	}
	if a.actx != nil {
		a.actx.Close()
	}
}

func blackman(n int) []float64 {
	const alpha = 0.16
	a0 := (1 - alpha) / 2
	a1 := 0.5
	a2 := alpha / 2
	w := make([]float64, n)
	for i := range w {
		x := float64(i) / float64(n)
		w[i] = a0 - a1*math.Cos(2*math.Pi*x) + a2*math.Cos(4*math.Pi*x)
	}
	return w
}
