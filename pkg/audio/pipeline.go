package audio

import (
	"sync"
	"sync/atomic"
)

// DropReason explains why a chunk never reached the transport.
type DropReason string

const (
	// DropBackpressure means the consumer fell behind and the chunk queue
	// was full when the producer tried to hand a chunk over.
	DropBackpressure DropReason = "backpressure"

	// DropNotOpen means the chunk was ready before the transport opened.
	DropNotOpen DropReason = "not_open"

	// DropClosed means the transport was already closed.
	DropClosed DropReason = "closed"
)

// PipelineOption configures a [Pipeline].
type PipelineOption func(*Pipeline)

// DefaultQueueDepth is the number of completed chunks that may wait for the
// consumer when no depth is configured.
const DefaultQueueDepth = 64

// WithChunkSamples sets the chunk capacity in samples. Non-positive values
// keep [DefaultChunkSamples].
func WithChunkSamples(n int) PipelineOption {
	return func(p *Pipeline) {
		if n > 0 {
			p.chunkSamples = n
		}
	}
}

// WithQueueDepth sets how many completed chunks may wait for the consumer
// before new ones are dropped. Non-positive values keep [DefaultQueueDepth].
func WithQueueDepth(n int) PipelineOption {
	return func(p *Pipeline) {
		if n > 0 {
			p.queueDepth = n
		}
	}
}

// WithDropHook registers fn to be called, from the producing goroutine, for
// every chunk dropped because the queue was full. fn must not block.
func WithDropHook(fn func(DropReason)) PipelineOption {
	return func(p *Pipeline) { p.onDrop = fn }
}

// Pipeline is the processing graph between a capture device and the stream
// session: it resamples incoming frames to [TargetSampleRate], packs the
// result into chunks and hands completed chunks to a single consumer over a
// bounded channel.
//
// [Pipeline.Process] is designed to be called from a real-time audio
// callback: it never blocks, and a full queue drops the chunk instead of
// waiting. [Pipeline.Disconnect] detaches the graph, flushes the partial
// chunk and closes the channel returned by [Pipeline.Chunks].
type Pipeline struct {
	chunkSamples int
	queueDepth   int
	onDrop       func(DropReason)

	mu           sync.Mutex
	resampler    *Resampler
	chunks       *ChunkBuffer
	push         func(int16)
	out          chan Chunk
	disconnected bool

	dropped atomic.Uint64
}

// NewPipeline returns a Pipeline for frames sampled at srcRate.
func NewPipeline(srcRate int, opts ...PipelineOption) (*Pipeline, error) {
	p := &Pipeline{
		chunkSamples: DefaultChunkSamples,
		queueDepth:   DefaultQueueDepth,
	}
	for _, o := range opts {
		o(p)
	}
	r, err := NewResampler(srcRate, TargetSampleRate)
	if err != nil {
		return nil, err
	}
	p.resampler = r
	p.out = make(chan Chunk, p.queueDepth)
	p.chunks = NewChunkBuffer(p.chunkSamples, p.handoff)
	p.push = p.chunks.Push
	return p, nil
}

// Process pushes one frame through the graph. Frames arriving after
// Disconnect are ignored.
func (p *Pipeline) Process(f Frame) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.disconnected {
		return
	}
	p.resampler.Process(f.Samples, p.push)
}

// Chunks returns the channel completed chunks are delivered on.
func (p *Pipeline) Chunks() <-chan Chunk { return p.out }

// Disconnect flushes the partial chunk and closes the chunk channel. It is
// safe to call more than once.
func (p *Pipeline) Disconnect() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.disconnected {
		return
	}
	p.disconnected = true
	p.chunks.Flush()
	close(p.out)
}

// Dropped returns the number of chunks dropped because the queue was full.
func (p *Pipeline) Dropped() uint64 { return p.dropped.Load() }

// handoff runs with p.mu held.
func (p *Pipeline) handoff(c Chunk) {
	select {
	case p.out <- c:
	default:
		p.dropped.Add(1)
		if p.onDrop != nil {
			p.onDrop(DropBackpressure)
		}
	}
}
