package audio

import (
	"fmt"
	"math"
)

// Resampler converts float samples at a source rate into PCM16 samples at a
// destination rate by nearest-neighbour decimation. The accumulator counts in
// units of the destination rate and carries the remainder between calls, so
// after N input samples exactly floor(N*dstRate/srcRate) samples have been
// emitted, however the input was split. There is no anti-aliasing filter.
//
// A Resampler belongs to one stream and is not safe for concurrent use.
type Resampler struct {
	srcRate int
	dstRate int
	acc     int
}

// NewResampler returns a Resampler from srcRate to dstRate. Both rates must be
// positive.
func NewResampler(srcRate, dstRate int) (*Resampler, error) {
	if srcRate <= 0 || dstRate <= 0 {
		return nil, fmt.Errorf("audio: invalid resample rates %d -> %d", srcRate, dstRate)
	}
	return &Resampler{srcRate: srcRate, dstRate: dstRate}, nil
}

// Ratio returns srcRate / dstRate.
func (r *Resampler) Ratio() float64 { return float64(r.srcRate) / float64(r.dstRate) }

// SourceRate returns the rate the Resampler expects its input in.
func (r *Resampler) SourceRate() int { return r.srcRate }

// Process feeds samples through the resampler and calls emit for every output
// sample, in order. It returns the number of samples emitted. Empty input or
// input containing NaN produces no output and leaves the accumulator as it
// was.
func (r *Resampler) Process(samples []float32, emit func(int16)) int {
	if len(samples) == 0 || hasNaN(samples) {
		return 0
	}
	n := 0
	for _, s := range samples {
		r.acc += r.dstRate
		for r.acc >= r.srcRate {
			r.acc -= r.srcRate
			emit(ToPCM16(s))
			n++
		}
	}
	return n
}

// Reset clears the fractional accumulator.
func (r *Resampler) Reset() { r.acc = 0 }

// ToPCM16 clamps s to [-1, 1] and scales it to a signed 16-bit sample. Negative
// values scale by 32768 and non-negative values by 32767, so -1 maps to -32768
// and 1 maps to 32767. The remote service depends on this exact mapping.
func ToPCM16(s float32) int16 {
	if s > 1 {
		s = 1
	} else if s < -1 {
		s = -1
	}
	if s < 0 {
		return int16(s * 0x8000)
	}
	return int16(s * 0x7FFF)
}

// ResampleAll resamples a whole buffer in one pass. The result is identical to
// feeding samples through a fresh [Resampler] in any number of calls.
func ResampleAll(samples []float32, srcRate, dstRate int) ([]int16, error) {
	r, err := NewResampler(srcRate, dstRate)
	if err != nil {
		return nil, err
	}
	out := make([]int16, 0, len(samples)*dstRate/srcRate+1)
	r.Process(samples, func(s int16) { out = append(out, s) })
	return out, nil
}

// EncodePCM16 returns samples as little-endian bytes.
func EncodePCM16(samples []int16) []byte {
	out := make([]byte, len(samples)*BytesPerSample)
	for i, s := range samples {
		out[i*2] = byte(s)
		out[i*2+1] = byte(s >> 8)
	}
	return out
}

func hasNaN(samples []float32) bool {
	for _, s := range samples {
		if math.IsNaN(float64(s)) {
			return true
		}
	}
	return false
}
