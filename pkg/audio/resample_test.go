package audio_test

import (
	"math"
	"testing"

	"github.com/MrWong99/salescopilot/pkg/audio"
)

func TestToPCM16(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		in   float32
		want int16
	}{
		{"zero", 0, 0},
		{"positive full scale", 1, 32767},
		{"negative full scale", -1, -32768},
		{"positive half", 0.5, 16383},
		{"negative half", -0.5, -16384},
		{"clamp above", 2.5, 32767},
		{"clamp below", -7, -32768},
		{"tiny positive truncates", 1e-6, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := audio.ToPCM16(tt.in); got != tt.want {
				t.Errorf("ToPCM16(%v) = %d, want %d", tt.in, got, tt.want)
			}
		})
	}
}

func TestNewResampler_InvalidRates(t *testing.T) {
	t.Parallel()

	for _, rates := range [][2]int{{0, 16000}, {48000, 0}, {-1, 16000}} {
		if _, err := audio.NewResampler(rates[0], rates[1]); err == nil {
			t.Errorf("NewResampler(%d, %d): expected error", rates[0], rates[1])
		}
	}
}

func TestResampler_OutputCount(t *testing.T) {
	t.Parallel()

	rates := []int{16000, 22050, 32000, 44100, 48000, 96000}
	sizes := []int{1, 7, 128, 480, 1023, 4410}
	for _, src := range rates {
		for _, n := range sizes {
			r, err := audio.NewResampler(src, audio.TargetSampleRate)
			if err != nil {
				t.Fatalf("NewResampler: %v", err)
			}
			got := r.Process(make([]float32, n), func(int16) {})
			exact := float64(n) / r.Ratio()
			if float64(got) < math.Floor(exact) || float64(got) > math.Ceil(exact) {
				t.Errorf("src=%d n=%d: got %d samples, want in [floor, ceil] of %.3f", src, n, got, exact)
			}
		}
	}
}

func TestResampler_WholeRatiosAreExact(t *testing.T) {
	t.Parallel()

	tests := []struct {
		src, n, want int
	}{
		{22050, 4410, 3200},
		{44100, 4410, 1600},
		{48000, 48000, 16000},
		{11025, 441, 640},
	}
	for _, tt := range tests {
		r, _ := audio.NewResampler(tt.src, audio.TargetSampleRate)
		if got := r.Process(make([]float32, tt.n), func(int16) {}); got != tt.want {
			t.Errorf("src=%d n=%d: got %d samples, want %d", tt.src, tt.n, got, tt.want)
		}
	}
}

func TestResampler_LongStreamDoesNotDrift(t *testing.T) {
	t.Parallel()

	// One minute of 44.1 kHz audio delivered in 10 ms callbacks.
	r, _ := audio.NewResampler(44100, audio.TargetSampleRate)
	buf := make([]float32, 441)
	total := 0
	for range 6000 {
		total += r.Process(buf, func(int16) {})
	}
	if total != 60*audio.TargetSampleRate {
		t.Errorf("got %d samples for 60s, want %d", total, 60*audio.TargetSampleRate)
	}
}

func TestResampler_Continuity(t *testing.T) {
	t.Parallel()

	for _, src := range []int{44100, 48000, 22050, 37000} {
		whole, _ := audio.NewResampler(src, audio.TargetSampleRate)
		split, _ := audio.NewResampler(src, audio.TargetSampleRate)

		buf := make([]float32, 3001)
		oneShot := whole.Process(buf, func(int16) {})

		var inParts int
		for _, part := range [][]float32{buf[:17], buf[17:1000], buf[1000:2999], buf[2999:]} {
			inParts += split.Process(part, func(int16) {})
		}
		if d := oneShot - inParts; d < -1 || d > 1 {
			t.Errorf("src=%d: one call produced %d samples, split calls %d", src, oneShot, inParts)
		}
	}
}

func TestResampler_Passthrough(t *testing.T) {
	t.Parallel()

	r, _ := audio.NewResampler(audio.TargetSampleRate, audio.TargetSampleRate)
	in := []float32{0, 0.25, -0.25, 1, -1}
	var out []int16
	for i := 0; i < 1000; i++ {
		r.Process(in, func(s int16) { out = append(out, s) })
	}
	if len(out) != 5000 {
		t.Fatalf("got %d samples, want 5000", len(out))
	}
	want := []int16{0, 8191, -8192, 32767, -32768}
	for i, s := range out[len(out)-5:] {
		if s != want[i] {
			t.Errorf("sample %d = %d, want %d", i, s, want[i])
		}
	}
}

func TestResampler_PicksCurrentSample(t *testing.T) {
	t.Parallel()

	r, _ := audio.NewResampler(48000, audio.TargetSampleRate)
	var out []int16
	r.Process([]float32{0.1, 0.2, 1, 0.3, 0.4, -1}, func(s int16) { out = append(out, s) })
	if len(out) != 2 || out[0] != 32767 || out[1] != -32768 {
		t.Errorf("got %v, want [32767 -32768]", out)
	}
}

func TestResampler_MalformedFrame(t *testing.T) {
	t.Parallel()

	r, _ := audio.NewResampler(48000, audio.TargetSampleRate)
	count := func(in []float32) int { return r.Process(in, func(int16) {}) }

	if n := count([]float32{0}); n != 0 {
		t.Fatalf("first sample: got %d outputs, want 0", n)
	}
	if n := count(nil); n != 0 {
		t.Errorf("empty frame: got %d outputs, want 0", n)
	}
	if n := count([]float32{0, float32(math.NaN()), 0}); n != 0 {
		t.Errorf("NaN frame: got %d outputs, want 0", n)
	}
	// The accumulator still holds one sample, so two more complete a period.
	if n := count([]float32{0, 0}); n != 1 {
		t.Errorf("after malformed frames: got %d outputs, want 1", n)
	}
}

func TestResampler_Reset(t *testing.T) {
	t.Parallel()

	r, _ := audio.NewResampler(48000, audio.TargetSampleRate)
	r.Process([]float32{0, 0}, func(int16) {})
	r.Reset()
	if n := r.Process([]float32{0}, func(int16) {}); n != 0 {
		t.Errorf("after Reset: got %d outputs, want 0", n)
	}
}

func TestResampleAll_MatchesIncremental(t *testing.T) {
	t.Parallel()

	in := make([]float32, 44100)
	for i := range in {
		in[i] = float32(math.Sin(float64(i) / 10))
	}
	bulk, err := audio.ResampleAll(in, 44100, audio.TargetSampleRate)
	if err != nil {
		t.Fatalf("ResampleAll: %v", err)
	}

	r, _ := audio.NewResampler(44100, audio.TargetSampleRate)
	var inc []int16
	for off := 0; off < len(in); off += 441 {
		r.Process(in[off:off+441], func(s int16) { inc = append(inc, s) })
	}
	if len(bulk) != len(inc) {
		t.Fatalf("bulk produced %d samples, incremental %d", len(bulk), len(inc))
	}
	for i := range bulk {
		if bulk[i] != inc[i] {
			t.Fatalf("sample %d differs: bulk %d, incremental %d", i, bulk[i], inc[i])
		}
	}
}

func TestEncodePCM16(t *testing.T) {
	t.Parallel()

	got := audio.EncodePCM16([]int16{1, -1, 32767, -32768})
	want := []byte{0x01, 0x00, 0xFF, 0xFF, 0xFF, 0x7F, 0x00, 0x80}
	if string(got) != string(want) {
		t.Errorf("EncodePCM16 = % x, want % x", got, want)
	}
}
