// Package audio implements the capture-side audio path of the copilot client:
// float sample frames from a capture device or a decoded file are resampled to
// the 16 kHz transport rate, converted to 16-bit PCM, and cut into fixed-size
// chunks ready to be written to the transcription transport.
//
// The hot path ([Resampler.Process], [ChunkBuffer.Push], [Pipeline.Process])
// runs inside the audio device callback and therefore never blocks and never
// allocates beyond its preallocated buffers.
package audio

import "errors"

// TargetSampleRate is the sample rate expected by the transcription service.
const TargetSampleRate = 16000

// DefaultChunkSamples is the number of PCM16 samples per transport frame. It
// must match the value the remote service expects.
const DefaultChunkSamples = 4096

// BytesPerSample is the size of one little-endian PCM16 sample.
const BytesPerSample = 2

var (
	// ErrDeviceAccessDenied is returned when the capture device cannot be
	// opened, either because it does not exist or access was refused.
	ErrDeviceAccessDenied = errors.New("audio: capture device unavailable")

	// ErrDecode is returned when an audio file cannot be decoded.
	ErrDecode = errors.New("audio: decode failure")
)

// Frame is one block of mono audio as delivered by a source.
type Frame struct {
	// Samples holds floating-point samples, nominally in [-1, 1].
	Samples []float32

	// SampleRate is the rate of Samples in Hz.
	SampleRate int
}

// Chunk is a completed transport frame of little-endian PCM16 bytes. A Chunk
// handed to a consumer is never written to again.
type Chunk []byte

// Samples returns the number of PCM16 samples in c.
func (c Chunk) Samples() int { return len(c) / BytesPerSample }
