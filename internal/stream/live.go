package stream

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/MrWong99/salescopilot/internal/observe"
	"github.com/MrWong99/salescopilot/pkg/audio"
)

// LiveConfig parameterises the live capture path.
type LiveConfig struct {
	// ChunkSamples is the PCM16 samples per transport frame.
	ChunkSamples int

	// QueueDepth bounds the chunks waiting between the audio callback and
	// the send loop.
	QueueDepth int
}

// LiveSource streams microphone audio. It owns the capture device and the
// processing graph ([audio.Pipeline]) between the device callback and the
// session.
type LiveSource struct {
	open    audio.DeviceOpener
	cfg     LiveConfig
	metrics *observe.Metrics

	pipe atomic.Pointer[audio.Pipeline]

	mu      sync.Mutex
	dev     audio.Device
	stopped bool
}

var _ Source = (*LiveSource)(nil)

// NewLiveSource returns a source that opens its device with open. A nil m
// uses [observe.DefaultMetrics].
func NewLiveSource(open audio.DeviceOpener, cfg LiveConfig, m *observe.Metrics) *LiveSource {
	if m == nil {
		m = observe.DefaultMetrics()
	}
	return &LiveSource{open: open, cfg: cfg, metrics: m}
}

// Kind implements [Source].
func (s *LiveSource) Kind() string { return "live" }

// Start opens and starts the capture device. Capture begins immediately;
// chunks produced before the session opens are dropped by the session.
func (s *LiveSource) Start(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return errors.New("stream: live source stopped")
	}

	dev, err := s.open(func(f audio.Frame) {
		if p := s.pipe.Load(); p != nil {
			p.Process(f)
		}
	})
	if err != nil {
		return fmt.Errorf("stream: open capture: %w", err)
	}

	pipe, err := audio.NewPipeline(dev.SampleRate(),
		audio.WithChunkSamples(s.cfg.ChunkSamples),
		audio.WithQueueDepth(s.cfg.QueueDepth),
		audio.WithDropHook(func(r audio.DropReason) {
			s.metrics.RecordFrameDropped(context.Background(), string(r))
		}),
	)
	if err != nil {
		return errors.Join(fmt.Errorf("stream: build pipeline: %w", err), dev.Close())
	}
	s.pipe.Store(pipe)
	s.dev = dev

	if err := dev.Start(); err != nil {
		pipe.Disconnect()
		closeErr := dev.Close()
		s.dev = nil
		return errors.Join(fmt.Errorf("stream: start capture: %w", err), closeErr)
	}
	return nil
}

// Chunks implements [Source].
func (s *LiveSource) Chunks() <-chan audio.Chunk {
	if p := s.pipe.Load(); p != nil {
		return p.Chunks()
	}
	return nil
}

// Begin implements [Source]. Live capture is already running.
func (s *LiveSource) Begin() {}

// Stop implements [Source].
func (s *LiveSource) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return nil
	}
	s.stopped = true

	var errs []error
	if s.dev != nil {
		if err := s.dev.Stop(); err != nil {
			errs = append(errs, fmt.Errorf("stream: halt capture: %w", err))
		}
	}
	if p := s.pipe.Load(); p != nil {
		p.Disconnect()
	}
	if s.dev != nil {
		if err := s.dev.Close(); err != nil {
			errs = append(errs, fmt.Errorf("stream: release capture: %w", err))
		}
	}
	return errors.Join(errs...)
}

// Dropped returns the number of chunks dropped in the audio callback because
// the send loop fell behind.
func (s *LiveSource) Dropped() uint64 {
	if p := s.pipe.Load(); p != nil {
		return p.Dropped()
	}
	return 0
}
