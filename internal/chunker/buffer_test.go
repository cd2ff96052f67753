package chunker

import (
	"testing"
	"time"

	"github.com/scribelabs/scribe-core/internal/audio"
)

func testFormat() audio.Format {
	return audio.Format{SampleRate: 16000, Channels: 1, BytesPerSample: 2}
}

func TestEmitsAtThreshold(t *testing.T) {
	format := testFormat()
	buf := NewBuffer(format, time.Second)
	frame := make([]byte, format.FrameBytes(100*time.Millisecond))

	for i := 0; i < 9; i++ {
		if _, ok := buf.Add(frame); ok {
			t.Fatalf("chunk emitted early at frame %d", i)
		}
	}
	chunk, ok := buf.Add(frame)
	if !ok {
		t.Fatal("expected chunk at threshold")
	}
	if chunk.Seq != 0 {
		t.Fatalf("expected seq 0, got %d", chunk.Seq)
	}
	if chunk.Duration != time.Second {
		t.Fatalf("expected 1s chunk, got %v", chunk.Duration)
	}
	if len(chunk.PCM) != format.BytesPerSecond() {
		t.Fatalf("expected %d bytes, got %d", format.BytesPerSecond(), len(chunk.PCM))
	}
}

func TestSequenceAndOffsetAdvance(t *testing.T) {
	format := testFormat()
	buf := NewBuffer(format, time.Second)
	frame := make([]byte, format.BytesPerSecond())

	first, ok := buf.Add(frame)
	if !ok {
		t.Fatal("expected first chunk")
	}
	second, ok := buf.Add(frame)
	if !ok {
		t.Fatal("expected second chunk")
	}
	if second.Seq != first.Seq+1 {
		t.Fatalf("expected consecutive sequence numbers, got %d then %d", first.Seq, second.Seq)
	}
	if second.StartOffset != time.Second {
		t.Fatalf("expected second chunk offset 1s, got %v", second.StartOffset)
	}
	if buf.Emitted() != 2 {
		t.Fatalf("expected 2 emitted, got %d", buf.Emitted())
	}
}

func TestFlushEmitsPartial(t *testing.T) {
	format := testFormat()
	buf := NewBuffer(format, time.Second)
	frame := make([]byte, format.FrameBytes(300*time.Millisecond))

	if _, ok := buf.Add(frame); ok {
		t.Fatal("partial frame should not emit")
	}
	if buf.BufferedDuration() != 300*time.Millisecond {
		t.Fatalf("expected 300ms buffered, got %v", buf.BufferedDuration())
	}

	chunk, ok := buf.Flush()
	if !ok {
		t.Fatal("expected flush to emit the partial chunk")
	}
	if chunk.Duration != 300*time.Millisecond {
		t.Fatalf("expected 300ms chunk, got %v", chunk.Duration)
	}

	if _, ok := buf.Flush(); ok {
		t.Fatal("empty buffer must not emit on flush")
	}
}

func TestFlushAfterEmitKeepsSequence(t *testing.T) {
	format := testFormat()
	buf := NewBuffer(format, time.Second)

	if _, ok := buf.Add(make([]byte, format.BytesPerSecond())); !ok {
		t.Fatal("expected full chunk")
	}
	buf.Add(make([]byte, format.FrameBytes(200*time.Millisecond)))

	chunk, ok := buf.Flush()
	if !ok {
		t.Fatal("expected partial chunk on flush")
	}
	if chunk.Seq != 1 {
		t.Fatalf("expected seq 1 after one emitted chunk, got %d", chunk.Seq)
	}
	if chunk.StartOffset != time.Second {
		t.Fatalf("expected offset 1s, got %v", chunk.StartOffset)
	}
}
