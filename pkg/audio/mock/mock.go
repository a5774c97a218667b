// Package mock provides an in-memory [audio.Device] for unit tests.
//
// The mock records every lifecycle call so that tests can assert on call
// counts and ordering, and exposes exported fields that control return values.
// Frames are injected with [Device.Emit], which calls the sink exactly as a
// real device callback would.
//
// Typical usage:
//
//	dev := &mock.Device{Rate: 48000}
//	opener := dev.Opener()
//	// ... hand opener to the code under test, then:
//	dev.Emit(audio.Frame{Samples: make([]float32, 480), SampleRate: 48000})
package mock

import (
	"sync"

	"github.com/MrWong99/salescopilot/pkg/audio"
)

// Device is a mock implementation of [audio.Device].
type Device struct {
	mu   sync.Mutex
	sink func(audio.Frame)

	// Rate is returned by SampleRate. Defaults to 48000 when zero.
	Rate int

	// OpenError, when non-nil, is returned by the opener from [Device.Opener].
	OpenError error

	// StartError is returned by Start.
	StartError error

	// StopError is returned by Stop.
	StopError error

	// CloseError is returned by Close.
	CloseError error

	// Calls records lifecycle calls in order ("open", "start", "stop", "close").
	Calls []string

	running bool
}

// Opener returns an [audio.DeviceOpener] that hands out d.
func (d *Device) Opener() audio.DeviceOpener {
	return func(sink func(audio.Frame)) (audio.Device, error) {
		d.mu.Lock()
		defer d.mu.Unlock()
		d.Calls = append(d.Calls, "open")
		if d.OpenError != nil {
			return nil, d.OpenError
		}
		d.sink = sink
		return d, nil
	}
}

// SampleRate implements [audio.Device].
func (d *Device) SampleRate() int {
	if d.Rate == 0 {
		return 48000
	}
	return d.Rate
}

// Start implements [audio.Device].
func (d *Device) Start() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.Calls = append(d.Calls, "start")
	if d.StartError != nil {
		return d.StartError
	}
	d.running = true
	return nil
}

// Stop implements [audio.Device].
func (d *Device) Stop() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.Calls = append(d.Calls, "stop")
	d.running = false
	return d.StopError
}

// Close implements [audio.Device].
func (d *Device) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.Calls = append(d.Calls, "close")
	d.running = false
	return d.CloseError
}

// Emit delivers f to the sink if the device is running. It reports whether
// the frame was delivered.
func (d *Device) Emit(f audio.Frame) bool {
	d.mu.Lock()
	sink, running := d.sink, d.running
	d.mu.Unlock()
	if !running || sink == nil {
		return false
	}
	sink(f)
	return true
}

// CallLog returns a copy of the recorded lifecycle calls.
func (d *Device) CallLog() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]string, len(d.Calls))
	copy(out, d.Calls)
	return out
}
