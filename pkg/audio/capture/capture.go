// Package capture opens microphone capture devices through miniaudio (via
// github.com/gen2brain/malgo) and adapts them to [audio.Device].
//
// Devices are opened for mono float32 capture. The data callback converts the
// raw bytes into a preallocated sample buffer and hands an [audio.Frame] to
// the sink; the frame's Samples slice is only valid for the duration of the
// call.
package capture

import (
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"sync"

	"github.com/gen2brain/malgo"

	"github.com/MrWong99/salescopilot/pkg/audio"
)

// Config selects and parameterises the capture device.
type Config struct {
	// DeviceName selects a capture device by case-insensitive substring of
	// its name. Empty selects the system default.
	DeviceName string

	// SampleRate requests a device rate in Hz. Zero lets the backend choose
	// its native rate.
	SampleRate int

	// PeriodMillis is the callback period. Zero uses the backend default.
	PeriodMillis int
}

// Device is a malgo-backed [audio.Device].
type Device struct {
	mctx *malgo.AllocatedContext
	dev  *malgo.Device
	sink func(audio.Frame)
	rate int
	buf  []float32

	stopOnce  sync.Once
	stopErr   error
	closeOnce sync.Once
}

var _ audio.Device = (*Device)(nil)

// Opener returns an [audio.DeviceOpener] that opens devices with cfg.
func Opener(cfg Config) audio.DeviceOpener {
	return func(sink func(audio.Frame)) (audio.Device, error) {
		return Open(cfg, sink)
	}
}

// Open initialises the backend context and the capture device. The device is
// not started; call Start. Any failure is reported as
// [audio.ErrDeviceAccessDenied].
func Open(cfg Config, sink func(audio.Frame)) (*Device, error) {
	if sink == nil {
		return nil, errNoSink
	}
	mctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, func(msg string) {
		slog.Debug("capture: backend", "msg", strings.TrimSpace(msg))
	})
	if err != nil {
		return nil, fmt.Errorf("capture: init context: %w: %w", audio.ErrDeviceAccessDenied, err)
	}

	dcfg := malgo.DefaultDeviceConfig(malgo.Capture)
	dcfg.Capture.Format = malgo.FormatF32
	dcfg.Capture.Channels = 1
	dcfg.Alsa.NoMMap = 1
	if cfg.SampleRate > 0 {
		dcfg.SampleRate = uint32(cfg.SampleRate)
	}
	if cfg.PeriodMillis > 0 {
		dcfg.PeriodSizeInMilliseconds = uint32(cfg.PeriodMillis)
	}
	if cfg.DeviceName != "" {
		id, err := findDevice(mctx, cfg.DeviceName)
		if err != nil {
			freeContext(mctx)
			return nil, err
		}
		dcfg.Capture.DeviceID = id.Pointer()
	}

	d := &Device{mctx: mctx, sink: sink}
	dev, err := malgo.InitDevice(mctx.Context, dcfg, malgo.DeviceCallbacks{Data: d.onData})
	if err != nil {
		freeContext(mctx)
		return nil, fmt.Errorf("capture: init device: %w: %w", audio.ErrDeviceAccessDenied, err)
	}
	d.dev = dev
	d.rate = int(dev.SampleRate())
	// Room for a generous period so the callback never grows the buffer.
	d.buf = make([]float32, d.rate)
	slog.Info("capture: device opened", "rate", d.rate, "device", cfg.DeviceName)
	return d, nil
}

// SampleRate implements [audio.Device].
func (d *Device) SampleRate() int { return d.rate }

// Start implements [audio.Device].
func (d *Device) Start() error {
	if err := d.dev.Start(); err != nil {
		return fmt.Errorf("capture: start: %w: %w", audio.ErrDeviceAccessDenied, err)
	}
	return nil
}

// Stop implements [audio.Device].
func (d *Device) Stop() error {
	d.stopOnce.Do(func() {
		if err := d.dev.Stop(); err != nil {
			d.stopErr = fmt.Errorf("capture: stop: %w", err)
		}
	})
	return d.stopErr
}

// Close implements [audio.Device]. It releases the device and the backend
// context.
func (d *Device) Close() error {
	var err error
	d.closeOnce.Do(func() {
		d.dev.Uninit()
		err = d.mctx.Uninit()
		d.mctx.Free()
	})
	if err != nil {
		return fmt.Errorf("capture: close: %w", err)
	}
	return nil
}

// onData is the miniaudio data callback. It runs on the backend's real-time
// thread.
func (d *Device) onData(_, in []byte, frames uint32) {
	n := int(frames)
	if n > len(d.buf) {
		n = len(d.buf)
	}
	if len(in) < n*4 {
		n = len(in) / 4
	}
	for i := 0; i < n; i++ {
		d.buf[i] = math.Float32frombits(binary.LittleEndian.Uint32(in[i*4:]))
	}
	d.sink(audio.Frame{Samples: d.buf[:n], SampleRate: d.rate})
}

// Devices lists the names of the available capture devices.
func Devices() ([]string, error) {
	mctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		return nil, fmt.Errorf("capture: init context: %w", err)
	}
	defer freeContext(mctx)

	infos, err := mctx.Devices(malgo.Capture)
	if err != nil {
		return nil, fmt.Errorf("capture: list devices: %w", err)
	}
	names := make([]string, 0, len(infos))
	for _, info := range infos {
		names = append(names, info.Name())
	}
	return names, nil
}

func findDevice(mctx *malgo.AllocatedContext, name string) (malgo.DeviceID, error) {
	infos, err := mctx.Devices(malgo.Capture)
	if err != nil {
		return malgo.DeviceID{}, fmt.Errorf("capture: list devices: %w: %w", audio.ErrDeviceAccessDenied, err)
	}
	want := strings.ToLower(name)
	for _, info := range infos {
		if strings.Contains(strings.ToLower(info.Name()), want) {
			return info.ID, nil
		}
	}
	return malgo.DeviceID{}, fmt.Errorf("capture: no device matching %q: %w", name, audio.ErrDeviceAccessDenied)
}

func freeContext(mctx *malgo.AllocatedContext) {
	if err := mctx.Uninit(); err != nil {
		slog.Warn("capture: uninit context", "err", err)
	}
	mctx.Free()
}

// errNoSink is returned by Open when sink is nil.
var errNoSink = errors.New("capture: nil sink")
