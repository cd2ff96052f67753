package transcript

import (
	"strings"
	"sync"

	"github.com/scribelabs/scribe-core/internal/transcribe"
)

// Accumulator maintains the ordered, growing transcript of one meeting.
//
// Segments may arrive out of order when transcription calls complete at
// different speeds; a sequence-indexed reordering buffer holds them back
// until every lower-sequence segment has been committed. Committed segments
// are immutable and notify is invoked for each one, in sequence order.
type Accumulator struct {
	mu       sync.Mutex
	next     int
	pending  map[int]transcribe.Segment
	segments []transcribe.Segment
	notify   func(transcribe.Segment)
}

func NewAccumulator(notify func(transcribe.Segment)) *Accumulator {
	return &Accumulator{
		pending: make(map[int]transcribe.Segment),
		notify:  notify,
	}
}

// Append inserts one segment. Out-of-order segments are buffered; every
// in-order run is committed immediately.
func (a *Accumulator) Append(seg transcribe.Segment) {
	a.mu.Lock()
	if seg.Seq < a.next {
		// Already committed; sequence numbers are never reused.
		a.mu.Unlock()
		return
	}
	a.pending[seg.Seq] = seg

	var committed []transcribe.Segment
	for {
		next, ok := a.pending[a.next]
		if !ok {
			break
		}
		delete(a.pending, a.next)
		a.segments = append(a.segments, next)
		committed = append(committed, next)
		a.next++
	}
	notify := a.notify
	a.mu.Unlock()

	if notify != nil {
		for _, s := range committed {
			notify(s)
		}
	}
}

// Snapshot returns the transcript text and a copy of the committed segments.
func (a *Accumulator) Snapshot() (string, []transcribe.Segment) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return joinSegments(a.segments), append([]transcribe.Segment(nil), a.segments...)
}

// Text returns the transcript assembled from committed segments.
func (a *Accumulator) Text() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return joinSegments(a.segments)
}

// Committed reports how many segments have been committed in order.
func (a *Accumulator) Committed() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.next
}

func joinSegments(segments []transcribe.Segment) string {
	var sb strings.Builder
	for _, seg := range segments {
		text := strings.TrimSpace(seg.Text)
		if text == "" {
			continue
		}
		if sb.Len() > 0 {
			sb.WriteString(" ")
		}
		sb.WriteString(text)
	}
	return sb.String()
}
