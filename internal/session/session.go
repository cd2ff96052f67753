package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/scribelabs/scribe-core/internal/audio"
	"github.com/scribelabs/scribe-core/internal/chunker"
	"github.com/scribelabs/scribe-core/internal/config"
	"github.com/scribelabs/scribe-core/internal/ledger"
	"github.com/scribelabs/scribe-core/internal/summary"
	"github.com/scribelabs/scribe-core/internal/transcribe"
	"github.com/scribelabs/scribe-core/internal/transcript"
)

// Session owns the lifecycle of one recording: a capture goroutine feeds the
// chunk buffer, completed chunks flow through a bounded channel to a
// dispatch goroutine that transcribes them one at a time. Capture never
// blocks on a transcription call; ordering is guaranteed by single-flight
// dispatch plus the accumulator's sequence reordering.
type Session struct {
	cfg        config.SessionConfig
	src        audio.Source
	buf        *chunker.Buffer
	client     *transcribe.Client
	costs      *ledger.Ledger
	acc        *transcript.Accumulator
	summarizer summary.Generator
	saver      Saver
	log        *slog.Logger
	metrics    *metrics
	onStatus   func(meetingID string, status Status, costUSD float64)

	chunks         chan chunker.Chunk
	captureCtx     context.Context
	stopCapture    context.CancelFunc
	dispatchCtx    context.Context
	cancelDispatch context.CancelFunc
	captureDone    chan struct{}
	dispatchDone   chan struct{}
	doneCh         chan struct{}

	mu       sync.Mutex
	meeting  *Meeting
	abortErr error
	gaps     int
	dropped  int
	saveErr  error
}

func (s *Session) start() {
	go s.captureLoop()
	go s.dispatchLoop()
	go s.supervise()
}

func (s *Session) captureLoop() {
	defer close(s.captureDone)
	defer close(s.chunks)
	defer s.src.Close()

	for {
		frame, err := s.src.ReadFrame(s.captureCtx)
		if err != nil {
			if s.captureCtx.Err() != nil {
				// Cooperative stop: submit the partial final chunk.
				if chunk, ok := s.buf.Flush(); ok {
					s.chunks <- chunk
				}
				return
			}
			s.mu.Lock()
			s.abortErr = err
			s.mu.Unlock()
			s.log.Error("audio capture failed, aborting session",
				slog.String("error", err.Error()))
			return
		}
		if chunk, ok := s.buf.Add(frame); ok {
			s.chunks <- chunk
		}
	}
}

func (s *Session) dispatchLoop() {
	defer close(s.dispatchDone)

	for chunk := range s.chunks {
		seg, err := s.client.Transcribe(s.dispatchCtx, chunk)
		if err != nil {
			dropped := s.dispatchCtx.Err() != nil
			s.mu.Lock()
			s.gaps++
			if dropped {
				s.dropped++
			}
			s.mu.Unlock()
			if dropped {
				s.log.Warn("chunk dropped during drain",
					slog.Int("chunk_seq", chunk.Seq))
			} else {
				s.log.Warn("chunk transcription permanently failed, recording gap",
					slog.Int("chunk_seq", chunk.Seq),
					slog.String("error", err.Error()))
			}
			s.metrics.recordFailure(s.dispatchCtx)
			seg = transcribe.Segment{
				Seq:      chunk.Seq,
				Text:     transcribe.GapMarker,
				Duration: chunk.Duration,
				Gap:      true,
			}
		} else {
			if _, lerr := s.costs.Record(chunk.Duration); lerr != nil {
				s.log.Warn("cost entry rejected", slog.String("error", lerr.Error()))
			}
			s.metrics.recordSegment(s.dispatchCtx, seg)
		}
		s.acc.Append(seg)
	}
}

func (s *Session) supervise() {
	<-s.captureDone

	drain := time.Duration(s.cfg.DrainTimeoutSec) * time.Second
	select {
	case <-s.dispatchDone:
	case <-time.After(drain):
		s.log.Warn("drain timeout reached, remaining chunks will be dropped",
			slog.Duration("timeout", drain))
		s.cancelDispatch()
		<-s.dispatchDone
	}

	s.finalize()
	close(s.doneCh)
}

func (s *Session) finalize() {
	text, segs := s.acc.Snapshot()
	now := time.Now().UTC()

	s.mu.Lock()
	m := s.meeting
	m.Transcript = text
	m.Segments = segs
	m.CostUSD = s.costs.Total()
	m.AudioSeconds = s.costs.TotalDuration().Seconds()
	m.EndedAt = &now
	m.GapCount = s.gaps
	m.DroppedChunks = s.dropped
	aborted := s.abortErr != nil
	if aborted {
		m.AbortReason = s.abortErr.Error()
	}
	s.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	if aborted {
		s.setStatus(StatusAborted)
	} else {
		s.summarize(ctx, m, text)
		s.setStatus(StatusFinalized)
	}

	s.persist(ctx, m)
}

func (s *Session) summarize(ctx context.Context, m *Meeting, text string) {
	if s.summarizer == nil || strings.TrimSpace(text) == "" {
		return
	}
	sum, err := s.summarizer.Summarize(ctx, text, m.Participants)
	if err != nil {
		s.log.Warn("summarization unavailable, finalizing without summary",
			slog.String("meeting_id", m.ID),
			slog.String("error", err.Error()))
		s.mu.Lock()
		m.SummaryPending = true
		s.mu.Unlock()
		return
	}
	s.mu.Lock()
	m.Summary = &sum
	s.mu.Unlock()
}

func (s *Session) persist(ctx context.Context, m *Meeting) {
	if s.saver == nil {
		return
	}
	operation := func() (struct{}, error) {
		return struct{}{}, s.saver.SaveMeeting(ctx, m)
	}
	expo := backoff.NewExponentialBackOff()
	if _, err := backoff.Retry(ctx, operation,
		backoff.WithBackOff(expo),
		backoff.WithMaxTries(3),
	); err != nil {
		s.log.Error("failed to persist meeting, data retained in memory",
			slog.String("meeting_id", m.ID),
			slog.String("error", err.Error()))
		s.mu.Lock()
		s.saveErr = fmt.Errorf("persist meeting %s: %w", m.ID, err)
		s.mu.Unlock()
	}
}

// Stop signals capture to cease, waits for in-flight transcription work to
// drain (bounded by the drain timeout), finalizes and returns the meeting.
func (s *Session) Stop(ctx context.Context) (*Meeting, error) {
	s.mu.Lock()
	stopping := s.meeting.Status == StatusRecording
	if stopping {
		s.meeting.Status = StatusStopping
	}
	s.mu.Unlock()
	if stopping {
		s.notifyStatus(StatusStopping)
	}

	s.stopCapture()

	select {
	case <-s.doneCh:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.saveErr != nil && s.saver != nil {
		// Finalize save is retryable; accrued data is never discarded.
		if err := s.saver.SaveMeeting(ctx, s.meeting); err != nil {
			return s.meeting, fmt.Errorf("persist meeting %s: %w", s.meeting.ID, err)
		}
		s.saveErr = nil
	}
	return s.meeting, nil
}

// Snapshot returns the live transcript, cost and elapsed time. Safe to poll
// at any time while the session exists.
func (s *Session) Snapshot() Snapshot {
	text := s.acc.Text()
	committed := s.acc.Committed()
	total := s.costs.Total()

	s.mu.Lock()
	defer s.mu.Unlock()
	elapsed := time.Since(s.meeting.StartedAt)
	if s.meeting.EndedAt != nil {
		elapsed = s.meeting.EndedAt.Sub(s.meeting.StartedAt)
	}
	return Snapshot{
		MeetingID:      s.meeting.ID,
		Status:         s.meeting.Status,
		Text:           text,
		CostUSD:        total,
		ElapsedSeconds: elapsed.Seconds(),
		Segments:       committed,
		GapCount:       s.gaps,
	}
}

func (s *Session) setStatus(status Status) {
	s.mu.Lock()
	s.meeting.Status = status
	s.mu.Unlock()
	s.notifyStatus(status)
}

// notifyStatus delivers lifecycle transitions synchronously; transitions are
// causally ordered, so subscribers always observe recording before stopping
// before the terminal state.
func (s *Session) notifyStatus(status Status) {
	if s.onStatus == nil {
		return
	}
	s.onStatus(s.meeting.ID, status, s.costs.Total())
}

func (s *Session) done() bool {
	select {
	case <-s.doneCh:
		return true
	default:
		return false
	}
}

var errNilSource = errors.New("session requires an audio source")
