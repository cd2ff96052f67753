package transcribe

import (
	"context"
	"fmt"
	"time"

	"github.com/scribelabs/scribe-core/internal/chunker"
)

// GapMarker is inserted into the transcript in place of a chunk whose
// transcription permanently failed, so the omission is never silent.
const GapMarker = "[transcription unavailable]"

// Segment is the transcribed text and billing metadata for one chunk.
// Segments are ordered by Seq; once appended to a meeting transcript they
// are immutable.
type Segment struct {
	Seq      int           `json:"seq"`
	Text     string        `json:"text"`
	Duration time.Duration `json:"duration"`
	Cost     float64       `json:"cost_usd"`
	Gap      bool          `json:"gap,omitempty"`
}

// Transcriber abstracts speech-to-text backends.
type Transcriber interface {
	Transcribe(ctx context.Context, pcm []byte, sampleRate, channels int) (string, error)
}

// FailedError reports a chunk whose transcription failed after all retry
// attempts. It carries the original chunk so the caller can decide to skip,
// requeue, or abort.
type FailedError struct {
	Chunk chunker.Chunk
	Err   error
}

func (e *FailedError) Error() string {
	return fmt.Sprintf("transcription failed for chunk %d: %v", e.Chunk.Seq, e.Err)
}

func (e *FailedError) Unwrap() error {
	return e.Err
}
