package stream

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/MrWong99/salescopilot/pkg/audio"
	"github.com/MrWong99/salescopilot/pkg/audio/decode"
)

// PlaybackConfig parameterises the file playback simulator.
type PlaybackConfig struct {
	// Path is the audio file to stream.
	Path string

	// ChunkSamples is the PCM16 samples per transport frame.
	// Default: [audio.DefaultChunkSamples].
	ChunkSamples int

	// Interval is the pause between two chunks. Zero paces at real time,
	// i.e. one chunk per chunk duration.
	Interval time.Duration

	// Quality selects the bulk resampler. Default: [decode.QualityNearest].
	Quality decode.Quality
}

// Playback simulates live capture from a pre-recorded file: it decodes and
// resamples the whole file up front, then releases one chunk per tick once
// the session is open.
type Playback struct {
	cfg    PlaybackConfig
	decode func(path string) (audio.Frame, error)

	chunks []audio.Chunk
	out    chan audio.Chunk

	mu       sync.Mutex
	begun    bool
	stopped  bool
	stop     chan struct{}
	finished chan struct{}
}

var _ Source = (*Playback)(nil)

// NewPlayback returns a playback source for cfg.
func NewPlayback(cfg PlaybackConfig) *Playback {
	if cfg.ChunkSamples <= 0 {
		cfg.ChunkSamples = audio.DefaultChunkSamples
	}
	if cfg.Interval <= 0 {
		cfg.Interval = ChunkDuration(cfg.ChunkSamples)
	}
	if cfg.Quality == "" {
		cfg.Quality = decode.QualityNearest
	}
	return &Playback{
		cfg:      cfg,
		decode:   decode.File,
		out:      make(chan audio.Chunk),
		stop:     make(chan struct{}),
		finished: make(chan struct{}),
	}
}

// ChunkDuration returns the real-time duration of n samples at
// [audio.TargetSampleRate].
func ChunkDuration(n int) time.Duration {
	return time.Duration(n) * time.Second / audio.TargetSampleRate
}

// Kind implements [Source].
func (p *Playback) Kind() string { return "playback" }

// Start decodes, resamples and chunks the file. Decode failures wrap
// [audio.ErrDecode].
func (p *Playback) Start(ctx context.Context) error {
	f, err := p.decode(p.cfg.Path)
	if err != nil {
		return fmt.Errorf("stream: playback: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	pcm, err := decode.Resample(f, audio.TargetSampleRate, p.cfg.Quality)
	if err != nil {
		return fmt.Errorf("stream: playback: %w", err)
	}
	p.chunks = audio.Split(pcm, p.cfg.ChunkSamples)
	slog.Info("stream: playback decoded",
		"path", p.cfg.Path,
		"source_rate", f.SampleRate,
		"samples", len(pcm),
		"chunks", len(p.chunks),
		"interval", p.cfg.Interval,
	)
	return nil
}

// Chunks implements [Source].
func (p *Playback) Chunks() <-chan audio.Chunk { return p.out }

// Len returns the number of chunks prepared by Start.
func (p *Playback) Len() int { return len(p.chunks) }

// Begin starts the pacing ticker.
func (p *Playback) Begin() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.begun || p.stopped {
		return
	}
	p.begun = true
	go p.pace()
}

func (p *Playback) pace() {
	defer close(p.finished)
	defer close(p.out)

	ticker := time.NewTicker(p.cfg.Interval)
	defer ticker.Stop()
	for _, c := range p.chunks {
		select {
		case <-ticker.C:
		case <-p.stop:
			return
		}
		select {
		case p.out <- c:
		case <-p.stop:
			return
		}
	}
}

// Stop implements [Source]. It cancels the pacing ticker; chunks not yet
// released are discarded.
func (p *Playback) Stop() error {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return nil
	}
	p.stopped = true
	close(p.stop)
	begun := p.begun
	p.mu.Unlock()

	if begun {
		<-p.finished
	} else {
		close(p.out)
	}
	return nil
}
