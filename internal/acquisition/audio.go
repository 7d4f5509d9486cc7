// Package acquisition captures microphone audio and exposes it as periodic
// frequency-domain snapshots.
package acquisition

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrPermissionDenied       = errors.New("microphone permission denied")
	ErrUnsupportedEnvironment = errors.New("audio capture not supported in this environment")
	ErrDeviceError            = errors.New("audio device error")
	ErrReleased               = errors.New("analyzer already released")
)

// DataCallback receives little-endian signed 16-bit mono PCM.
type DataCallback func(data []byte, frameCount uint32)

type CaptureConfig struct {
	SampleRate uint32
	Channels   uint32
}

type DeviceInfo struct {
	ID   string // opaque platform-specific identifier
	Name string
}

type Context interface {
	Devices() ([]DeviceInfo, error)
	NewCapture(device *DeviceInfo, config CaptureConfig) (CaptureDevice, error)
	Close()
}

type CaptureDevice interface {
	Start() error
	Stop()
	Close()
	SetCallback(cb DataCallback)
	ClearCallback()
}

// NewContext opens the named backend: "auto" picks the platform default,
// "fake" returns a tone generator.
func NewContext(backend string) (Context, error) {
	switch strings.ToLower(strings.TrimSpace(backend)) {
	case "", "auto", "native":
		ctx, err := newPlatformContext()
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrUnsupportedEnvironment, err)
		}
		return ctx, nil
	case "fake":
		return NewFakeContext(DefaultTone()), nil
	default:
		return nil, fmt.Errorf("%w: unknown backend %q", ErrUnsupportedEnvironment, backend)
	}
}

// classify maps backend errors onto the acquisition taxonomy.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrPermissionDenied) || errors.Is(err, ErrUnsupportedEnvironment) || errors.Is(err, ErrDeviceError) {
		return fmt.Errorf("%s: %w", op, err)
	}
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "denied"), strings.Contains(msg, "permission"), strings.Contains(msg, "not permitted"):
		return fmt.Errorf("%s: %w: %v", op, ErrPermissionDenied, err)
	case strings.Contains(msg, "not supported"), strings.Contains(msg, "no backend"):
		return fmt.Errorf("%s: %w: %v", op, ErrUnsupportedEnvironment, err)
	}
	return fmt.Errorf("%s: %w: %v", op, ErrDeviceError, err)
}

func pickDevice(ctx Context, name string) (*DeviceInfo, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, nil
	}
	devices, err := ctx.Devices()
	if err != nil {
		return nil, classify("enumerating devices", err)
	}
	lower := strings.ToLower(name)
	for i := range devices {
		if devices[i].ID == name || strings.Contains(strings.ToLower(devices[i].Name), lower) {
			return &devices[i], nil
		}
	}
	return nil, fmt.Errorf("%w: no capture device matching %q", ErrDeviceError, name)
}
