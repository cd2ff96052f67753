package chunker

import (
	"time"

	"github.com/scribelabs/scribe-core/internal/audio"
)

// Chunk is a bounded span of PCM audio submitted as one transcription unit.
type Chunk struct {
	Seq         int
	StartOffset time.Duration
	Duration    time.Duration
	PCM         []byte
}

// Buffer accumulates fixed-size PCM frames and emits a Chunk as soon as the
// configured chunk duration is crossed. Sequence numbers are monotonically
// increasing and no chunk is ever re-emitted. Buffer is not safe for
// concurrent use; the capture loop is its only caller.
type Buffer struct {
	format      audio.Format
	targetBytes int

	pending []byte
	seq     int
	offset  time.Duration
	emitted int
}

func NewBuffer(format audio.Format, chunkDuration time.Duration) *Buffer {
	target := format.FrameBytes(chunkDuration)
	if target <= 0 {
		target = format.BytesPerSecond()
	}
	return &Buffer{format: format, targetBytes: target}
}

// Add appends one frame. When the accumulated audio crosses the chunk
// duration threshold, the completed chunk is returned and the buffer resets.
func (b *Buffer) Add(frame []byte) (Chunk, bool) {
	b.pending = append(b.pending, frame...)
	if len(b.pending) < b.targetBytes {
		return Chunk{}, false
	}
	return b.emit(), true
}

// Flush emits whatever is buffered, even below the threshold. An empty
// buffer yields nothing.
func (b *Buffer) Flush() (Chunk, bool) {
	if len(b.pending) == 0 {
		return Chunk{}, false
	}
	return b.emit(), true
}

// Emitted reports how many chunks have been produced so far.
func (b *Buffer) Emitted() int {
	return b.emitted
}

// BufferedDuration reports the audio currently held below the threshold.
func (b *Buffer) BufferedDuration() time.Duration {
	return b.format.Duration(len(b.pending))
}

func (b *Buffer) emit() Chunk {
	pcm := b.pending
	b.pending = nil
	dur := b.format.Duration(len(pcm))
	chunk := Chunk{
		Seq:         b.seq,
		StartOffset: b.offset,
		Duration:    dur,
		PCM:         pcm,
	}
	b.seq++
	b.offset += dur
	b.emitted++
	return chunk
}
