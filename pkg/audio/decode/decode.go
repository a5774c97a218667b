// Package decode turns encoded audio files into mono float frames and
// resamples them in bulk to the transport rate.
//
// WAV, MP3, FLAC and Ogg Vorbis are decoded with github.com/gopxl/beep.
// Resampling supports two qualities: [QualityNearest] reproduces the live
// capture path bit for bit (see [audio.ResampleAll]), and [QualityHigh] uses
// the band-limited polyphase resampler from
// github.com/tphakala/go-audio-resampling.
package decode

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/gopxl/beep"
	"github.com/gopxl/beep/flac"
	"github.com/gopxl/beep/mp3"
	"github.com/gopxl/beep/vorbis"
	"github.com/gopxl/beep/wav"
	resampling "github.com/tphakala/go-audio-resampling"

	"github.com/MrWong99/salescopilot/pkg/audio"
)

// Format identifies a container/codec.
type Format string

const (
	FormatWAV    Format = "wav"
	FormatMP3    Format = "mp3"
	FormatFLAC   Format = "flac"
	FormatVorbis Format = "ogg"
)

// Quality selects the bulk resampling algorithm.
type Quality string

const (
	// QualityNearest is nearest-neighbour decimation, identical to live capture.
	QualityNearest Quality = "nearest"

	// QualityHigh is band-limited polyphase resampling.
	QualityHigh Quality = "high"
)

// readBlock is the number of stereo frames pulled from a beep stream per call.
const readBlock = 4096

// File decodes the file at path, picking the decoder from the extension and
// falling back to the file header.
func File(path string) (audio.Frame, error) {
	f, err := os.Open(path)
	if err != nil {
		return audio.Frame{}, fmt.Errorf("decode: %w: %w", audio.ErrDecode, err)
	}
	br := bufio.NewReader(f)
	format, ok := formatFromExt(path)
	if !ok {
		head, _ := br.Peek(12)
		if format, ok = Sniff(head); !ok {
			_ = f.Close()
			return audio.Frame{}, fmt.Errorf("decode: %s: unrecognised format: %w", filepath.Base(path), audio.ErrDecode)
		}
	}
	return Decode(readCloser{Reader: br, Closer: f}, format)
}

// Decode reads the whole stream rc in the given format and returns it as a
// single mono frame at the source rate. Stereo sources are averaged to mono.
// rc is closed before Decode returns.
func Decode(rc io.ReadCloser, format Format) (audio.Frame, error) {
	stream, bf, err := open(rc, format)
	if err != nil {
		_ = rc.Close()
		return audio.Frame{}, fmt.Errorf("decode: %s: %w: %w", format, audio.ErrDecode, err)
	}
	defer stream.Close()

	var samples []float32
	if n := stream.Len(); n > 0 {
		samples = make([]float32, 0, n)
	}
	gain := fullScale(format, bf)
	buf := make([][2]float64, readBlock)
	for {
		n, ok := stream.Stream(buf)
		for _, s := range buf[:n] {
			samples = append(samples, float32(gain*(s[0]+s[1])/2))
		}
		if !ok {
			break
		}
	}
	if err := stream.Err(); err != nil {
		return audio.Frame{}, fmt.Errorf("decode: %s: %w: %w", format, audio.ErrDecode, err)
	}
	if len(samples) == 0 {
		return audio.Frame{}, fmt.Errorf("decode: %s: no audio: %w", format, audio.ErrDecode)
	}
	return audio.Frame{Samples: samples, SampleRate: int(bf.SampleRate)}, nil
}

// Resample converts f to PCM16 at dstRate.
func Resample(f audio.Frame, dstRate int, q Quality) ([]int16, error) {
	switch q {
	case QualityNearest, "":
		return audio.ResampleAll(f.Samples, f.SampleRate, dstRate)
	case QualityHigh:
		return resampleHigh(f, dstRate)
	default:
		return nil, fmt.Errorf("decode: unknown resample quality %q", q)
	}
}

func resampleHigh(f audio.Frame, dstRate int) ([]int16, error) {
	if f.SampleRate == dstRate {
		return audio.ResampleAll(f.Samples, f.SampleRate, dstRate)
	}
	rs, err := resampling.New(&resampling.Config{
		InputRate:  float64(f.SampleRate),
		OutputRate: float64(dstRate),
		Channels:   1,
		Quality:    resampling.QualitySpec{Preset: resampling.QualityHigh},
	})
	if err != nil {
		return nil, fmt.Errorf("decode: create resampler: %w", err)
	}
	in := make([]float64, len(f.Samples))
	for i, s := range f.Samples {
		in[i] = float64(s)
	}
	out, err := rs.Process(in)
	if err != nil {
		return nil, fmt.Errorf("decode: resample: %w", err)
	}
	pcm := make([]int16, len(out))
	for i, s := range out {
		pcm[i] = audio.ToPCM16(float32(s))
	}
	return pcm, nil
}

// fullScale returns the factor that maps decoded samples onto [-1, 1].
// beep's WAV decoder divides signed 16- and 24-bit PCM by 2^n-1 instead of
// 2^(n-1), which halves the amplitude; 8-bit and the compressed formats are
// already full scale.
func fullScale(format Format, bf beep.Format) float64 {
	if format != FormatWAV {
		return 1
	}
	switch bf.Precision {
	case 2:
		return float64(1<<16-1) / float64(1<<15)
	case 3:
		return float64(1<<24-1) / float64(1<<23)
	}
	return 1
}

func open(rc io.ReadCloser, format Format) (beep.StreamSeekCloser, beep.Format, error) {
	switch format {
	case FormatWAV:
		return wav.Decode(rc)
	case FormatMP3:
		return mp3.Decode(rc)
	case FormatFLAC:
		return flac.Decode(rc)
	case FormatVorbis:
		return vorbis.Decode(rc)
	default:
		return nil, beep.Format{}, fmt.Errorf("unsupported format %q", format)
	}
}

func formatFromExt(path string) (Format, bool) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".wav", ".wave":
		return FormatWAV, true
	case ".mp3":
		return FormatMP3, true
	case ".flac":
		return FormatFLAC, true
	case ".ogg", ".oga":
		return FormatVorbis, true
	}
	return "", false
}

// Sniff guesses the format from the first bytes of a file.
func Sniff(head []byte) (Format, bool) {
	switch {
	case len(head) >= 12 && bytes.Equal(head[:4], []byte("RIFF")) && bytes.Equal(head[8:12], []byte("WAVE")):
		return FormatWAV, true
	case bytes.HasPrefix(head, []byte("fLaC")):
		return FormatFLAC, true
	case bytes.HasPrefix(head, []byte("OggS")):
		return FormatVorbis, true
	case bytes.HasPrefix(head, []byte("ID3")),
		len(head) >= 2 && head[0] == 0xFF && head[1]&0xE0 == 0xE0:
		return FormatMP3, true
	}
	return "", false
}

type readCloser struct {
	io.Reader
	io.Closer
}
