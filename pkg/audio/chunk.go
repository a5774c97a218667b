package audio

// ChunkBuffer accumulates PCM16 samples into fixed-capacity chunks. Each time
// the active chunk fills it is handed to the emit callback as a fresh copy and
// the buffer starts over, so a consumer never observes later writes.
//
// A ChunkBuffer is not safe for concurrent use.
type ChunkBuffer struct {
	buf  []byte
	n    int
	emit func(Chunk)
}

// NewChunkBuffer returns a ChunkBuffer holding capacity samples per chunk. A
// non-positive capacity selects [DefaultChunkSamples].
func NewChunkBuffer(capacity int, emit func(Chunk)) *ChunkBuffer {
	if capacity <= 0 {
		capacity = DefaultChunkSamples
	}
	return &ChunkBuffer{
		buf:  make([]byte, capacity*BytesPerSample),
		emit: emit,
	}
}

// Push appends one sample, emitting the chunk when it becomes full.
func (b *ChunkBuffer) Push(s int16) {
	b.buf[b.n] = byte(s)
	b.buf[b.n+1] = byte(s >> 8)
	b.n += BytesPerSample
	if b.n == len(b.buf) {
		b.emitActive()
	}
}

// Flush emits the pending partial chunk. It emits nothing when the buffer is
// empty, so a stream ending exactly on a chunk boundary never produces an
// empty frame.
func (b *ChunkBuffer) Flush() {
	if b.n == 0 {
		return
	}
	b.emitActive()
}

// Len returns the number of samples pending in the active chunk.
func (b *ChunkBuffer) Len() int { return b.n / BytesPerSample }

// Cap returns the chunk capacity in samples.
func (b *ChunkBuffer) Cap() int { return len(b.buf) / BytesPerSample }

func (b *ChunkBuffer) emitActive() {
	out := make(Chunk, b.n)
	copy(out, b.buf[:b.n])
	b.n = 0
	b.emit(out)
}

// Split cuts samples into chunks of capacity samples each. The last chunk
// holds the remainder and is omitted when empty.
func Split(samples []int16, capacity int) []Chunk {
	var chunks []Chunk
	cb := NewChunkBuffer(capacity, func(c Chunk) { chunks = append(chunks, c) })
	for _, s := range samples {
		cb.Push(s)
	}
	cb.Flush()
	return chunks
}
