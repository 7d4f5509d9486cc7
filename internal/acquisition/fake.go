package acquisition

import (
	"encoding/binary"
	"math"
	"sync"
	"time"
)

const fakeChunkFrames = 1024

// Tone describes the signal produced by the fake backend.
type Tone struct {
	FrequencyHz float64
	Amplitude   float64 // linear, full scale = 1
	SampleRate  int
	Realtime    bool
}

func DefaultTone() Tone {
	return Tone{FrequencyHz: 1000, Amplitude: 0.01, SampleRate: 48000, Realtime: true}
}

type FakeContext struct {
	tone     Tone
	StartErr error

	mu      sync.Mutex
	closed  bool
	capture *FakeCapture
}

func NewFakeContext(tone Tone) *FakeContext {
	return &FakeContext{tone: tone}
}

func (f *FakeContext) Devices() ([]DeviceInfo, error) {
	return []DeviceInfo{{ID: "fake", Name: "Fake Tone Generator"}}, nil
}

func (f *FakeContext) NewCapture(_ *DeviceInfo, config CaptureConfig) (CaptureDevice, error) {
	tone := f.tone
	if config.SampleRate > 0 {
		tone.SampleRate = int(config.SampleRate)
	}
	c := &FakeCapture{tone: tone, startErr: f.StartErr}
	f.mu.Lock()
	f.capture = c
	f.mu.Unlock()
	return c, nil
}

func (f *FakeContext) Close() {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
}

func (f *FakeContext) Closed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

// Capture returns the most recently created capture.
func (f *FakeContext) Capture() *FakeCapture {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.capture
}

type FakeCapture struct {
	tone     Tone
	startErr error

	mu      sync.Mutex
	cb      DataCallback
	phase   float64
	stopCh  chan struct{}
	done    chan struct{}
	started bool
	closed  bool
}

func (f *FakeCapture) SetCallback(cb DataCallback) {
	f.mu.Lock()
	f.cb = cb
	f.mu.Unlock()
}

func (f *FakeCapture) ClearCallback() {
	f.mu.Lock()
	f.cb = nil
	f.mu.Unlock()
}

// Feed pushes frames of the configured tone synchronously.
func (f *FakeCapture) Feed(frames int) {
	f.mu.Lock()
	cb := f.cb
	data := f.generate(frames)
	f.mu.Unlock()
	if cb != nil {
		cb(data, uint32(frames))
	}
}

// FeedPCM pushes raw samples synchronously.
func (f *FakeCapture) FeedPCM(samples []int16) {
	data := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(data[i*2:], uint16(s))
	}
	f.mu.Lock()
	cb := f.cb
	f.mu.Unlock()
	if cb != nil {
		cb(data, uint32(len(samples)))
	}
}

func (f *FakeCapture) generate(frames int) []byte {
	data := make([]byte, frames*2)
	step := 2 * math.Pi * f.tone.FrequencyHz / float64(f.tone.SampleRate)
	for i := 0; i < frames; i++ {
		v := f.tone.Amplitude * math.Sin(f.phase)
		f.phase += step
		s := int16(math.Max(-32768, math.Min(32767, v*32768)))
		binary.LittleEndian.PutUint16(data[i*2:], uint16(s))
	}
	f.phase = math.Mod(f.phase, 2*math.Pi)
	return data
}

func (f *FakeCapture) Start() error {
	if f.startErr != nil {
		return f.startErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.started = true
	if !f.tone.Realtime {
		return nil
	}
	f.stopCh = make(chan struct{})
	f.done = make(chan struct{})
	interval := time.Duration(fakeChunkFrames) * time.Second / time.Duration(f.tone.SampleRate)
	go func(stop, done chan struct{}) {
		defer close(done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				f.Feed(fakeChunkFrames)
			}
		}
	}(f.stopCh, f.done)
	return nil
}

func (f *FakeCapture) Stop() {
	f.mu.Lock()
	stop, done := f.stopCh, f.done
	f.stopCh, f.done = nil, nil
	f.started = false
	f.mu.Unlock()
	if stop != nil {
		close(stop)
		<-done
	}
}

func (f *FakeCapture) Close() {
	f.Stop()
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
}

func (f *FakeCapture) Closed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}
