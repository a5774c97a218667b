package audio

// Device is an opened capture device. Frames are delivered to the sink
// registered when the device was opened, from the audio subsystem's own
// real-time thread, between Start and Stop.
//
// Implementations are provided by platform-specific packages (see
// audio/capture). Stop and Close must be safe to call more than once.
type Device interface {
	// SampleRate returns the rate, in Hz, of the frames the device delivers.
	SampleRate() int

	// Start begins capturing.
	Start() error

	// Stop halts capturing. No frames are delivered after Stop returns.
	Stop() error

	// Close releases the device and its backend context.
	Close() error
}

// DeviceOpener opens a capture device that delivers mono frames to sink.
// Implementations return an error wrapping [ErrDeviceAccessDenied] when the
// device is missing or access is refused.
type DeviceOpener func(sink func(Frame)) (Device, error)
