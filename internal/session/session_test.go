package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/scribelabs/scribe-core/internal/audio"
	"github.com/scribelabs/scribe-core/internal/config"
	"github.com/scribelabs/scribe-core/internal/summary"
	"github.com/scribelabs/scribe-core/internal/transcribe"
)

func newLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

func testConfig() config.Config {
	cfg := config.Default()
	cfg.Chunker.ChunkDurationMS = 50
	cfg.Transcription.MaxAttempts = 1
	cfg.Transcription.InitialBackoffMS = 1
	cfg.Transcription.MaxBackoffMS = 2
	cfg.Session.DrainTimeoutSec = 5
	return cfg
}

func testFormat() audio.Format {
	return audio.Format{SampleRate: 16000, Channels: 1, BytesPerSample: 2}
}

// frames builds n scripted frames of the given duration.
func frames(format audio.Format, n int, d time.Duration) [][]byte {
	out := make([][]byte, n)
	for i := range out {
		out[i] = make([]byte, format.FrameBytes(d))
	}
	return out
}

// scriptedSource returns a mock device that serves the given frames and then
// either blocks until stopped or fails with the terminal error.
func scriptedSource(format audio.Format, script [][]byte, terminal error) *audio.MockSource {
	src := audio.NewMockSource(format, 25*time.Millisecond)
	src.Frames = script
	src.ErrAfterFrames = terminal
	return src
}

// memorySaver records saves and can be told to fail the first n attempts.
type memorySaver struct {
	mu       sync.Mutex
	failures int
	attempts int
	saved    *Meeting
}

func (m *memorySaver) SaveMeeting(_ context.Context, meeting *Meeting) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.attempts++
	if m.attempts <= m.failures {
		return fmt.Errorf("disk full")
	}
	copied := *meeting
	m.saved = &copied
	return nil
}

func (m *memorySaver) lastSaved() *Meeting {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saved
}

// selectiveTranscriber fails every attempt for the listed call numbers
// (1-based) and succeeds otherwise.
type selectiveTranscriber struct {
	mu       sync.Mutex
	calls    int
	failCall map[int]bool
}

func (s *selectiveTranscriber) Transcribe(_ context.Context, _ []byte, _, _ int) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.failCall[s.calls] {
		return "", errors.New("upstream error")
	}
	return fmt.Sprintf("segment %d", s.calls), nil
}

// stalledTranscriber never answers; every call blocks until its context is
// canceled.
type stalledTranscriber struct{}

func (stalledTranscriber) Transcribe(ctx context.Context, _ []byte, _, _ int) (string, error) {
	<-ctx.Done()
	return "", ctx.Err()
}

func failingSummarizer(err error) summary.Generator {
	return summarizerFunc(func(context.Context, string, []string) (summary.Summary, error) {
		return summary.Summary{}, err
	})
}

type summarizerFunc func(context.Context, string, []string) (summary.Summary, error)

func (f summarizerFunc) Summarize(ctx context.Context, transcript string, participants []string) (summary.Summary, error) {
	return f(ctx, transcript, participants)
}

func testDeps(src audio.Source, backend transcribe.Transcriber, saver Saver) Deps {
	return Deps{
		Source:      src,
		Format:      testFormat(),
		Transcriber: backend,
		Summarizer:  summary.NewMockGenerator(),
		Saver:       saver,
	}
}

func waitForSegments(t *testing.T, r *Registry, id string, n int) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		snap, err := r.LiveSnapshot(id)
		if err != nil {
			t.Fatalf("live snapshot: %v", err)
		}
		if snap.Segments >= n {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %d segments", n)
}

func waitForStatus(t *testing.T, r *Registry, id string, want Status) Snapshot {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		snap, err := r.LiveSnapshot(id)
		if err != nil {
			t.Fatalf("live snapshot: %v", err)
		}
		if snap.Status == want {
			return snap
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for status %q", want)
	return Snapshot{}
}

func TestMeetingLifecycle(t *testing.T) {
	format := testFormat()
	// Four 25ms frames fill two 50ms chunks; the fifth stays buffered until
	// stop flushes it.
	src := scriptedSource(format, frames(format, 5, 25*time.Millisecond), nil)
	saver := &memorySaver{}
	registry := NewRegistry(testConfig(), newLogger())

	meeting, err := registry.StartMeeting(context.Background(), "weekly sync",
		[]string{"dana", "lee"}, testDeps(src, &selectiveTranscriber{}, saver))
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if meeting.Status != StatusRecording {
		t.Fatalf("expected recording status, got %q", meeting.Status)
	}

	waitForSegments(t, registry, meeting.ID, 2)

	final, err := registry.StopMeeting(context.Background(), meeting.ID)
	if err != nil {
		t.Fatalf("stop: %v", err)
	}
	if final.Status != StatusFinalized {
		t.Fatalf("expected finalized, got %q", final.Status)
	}
	if len(final.Segments) != 3 {
		t.Fatalf("expected 2 full chunks plus flushed partial, got %d segments", len(final.Segments))
	}
	if final.Transcript == "" {
		t.Fatal("expected non-empty transcript")
	}
	if final.Summary == nil {
		t.Fatal("expected summary on clean stop")
	}
	if final.EndedAt == nil {
		t.Fatal("expected ended_at to be set")
	}

	// 50ms + 50ms + 25ms of audio at the default rate.
	wantCost := 0.125 / 60.0 * 0.006
	if math.Abs(final.CostUSD-wantCost) > 1e-12 {
		t.Fatalf("expected cost %.12f, got %.12f", wantCost, final.CostUSD)
	}
	if math.Abs(final.AudioSeconds-0.125) > 1e-9 {
		t.Fatalf("expected 0.125 audio seconds, got %f", final.AudioSeconds)
	}

	if saved := saver.lastSaved(); saved == nil || saved.ID != meeting.ID {
		t.Fatal("expected finalized meeting to be persisted")
	}
}

func TestSecondStartRejectedWhileRecording(t *testing.T) {
	format := testFormat()
	src := scriptedSource(format, frames(format, 2, 25*time.Millisecond), nil)
	registry := NewRegistry(testConfig(), newLogger())

	first, err := registry.StartMeeting(context.Background(), "first", nil,
		testDeps(src, &selectiveTranscriber{}, &memorySaver{}))
	if err != nil {
		t.Fatalf("start: %v", err)
	}

	other := scriptedSource(format, nil, nil)
	if _, err := registry.StartMeeting(context.Background(), "second", nil,
		testDeps(other, &selectiveTranscriber{}, &memorySaver{})); !errors.Is(err, ErrAlreadyActive) {
		t.Fatalf("expected ErrAlreadyActive, got %v", err)
	}

	// The original meeting is unaffected by the rejected start.
	snap, err := registry.LiveSnapshot(first.ID)
	if err != nil {
		t.Fatalf("live snapshot: %v", err)
	}
	if snap.Status != StatusRecording && snap.Status != StatusFinalized {
		t.Fatalf("unexpected status %q", snap.Status)
	}

	if _, err := registry.StopMeeting(context.Background(), first.ID); err != nil {
		t.Fatalf("stop: %v", err)
	}
}

func TestDeviceDisconnectAbortsWithAccruedData(t *testing.T) {
	format := testFormat()
	// Two full chunks, then a partial frame, then the device drops. The
	// partial audio must not produce a third segment.
	script := frames(format, 5, 25*time.Millisecond)
	src := scriptedSource(format, script, audio.ErrDeviceDisconnected)
	saver := &memorySaver{}
	registry := NewRegistry(testConfig(), newLogger())

	meeting, err := registry.StartMeeting(context.Background(), "doomed", nil,
		testDeps(src, &selectiveTranscriber{}, saver))
	if err != nil {
		t.Fatalf("start: %v", err)
	}

	waitForStatus(t, registry, meeting.ID, StatusAborted)

	final, err := registry.StopMeeting(context.Background(), meeting.ID)
	if err != nil {
		t.Fatalf("stop: %v", err)
	}
	if final.Status != StatusAborted {
		t.Fatalf("expected aborted, got %q", final.Status)
	}
	if len(final.Segments) != 2 {
		t.Fatalf("expected exactly the 2 completed chunks, got %d", len(final.Segments))
	}
	if final.Summary != nil {
		t.Fatal("aborted meetings must not be summarized")
	}
	if final.AbortReason != audio.ErrDeviceDisconnected.Error() {
		t.Fatalf("expected device error as abort reason, got %q", final.AbortReason)
	}

	wantCost := 0.1 / 60.0 * 0.006
	if math.Abs(final.CostUSD-wantCost) > 1e-12 {
		t.Fatalf("expected cost for 2 chunks %.12f, got %.12f", wantCost, final.CostUSD)
	}

	if saved := saver.lastSaved(); saved == nil || saved.Status != StatusAborted {
		t.Fatal("aborted meeting with accrued data must be persisted")
	}
}

func TestTranscriptionFailureRecordsGap(t *testing.T) {
	format := testFormat()
	src := scriptedSource(format, frames(format, 6, 25*time.Millisecond), nil)
	backend := &selectiveTranscriber{failCall: map[int]bool{2: true}}
	registry := NewRegistry(testConfig(), newLogger())

	meeting, err := registry.StartMeeting(context.Background(), "flaky", nil,
		testDeps(src, backend, &memorySaver{}))
	if err != nil {
		t.Fatalf("start: %v", err)
	}

	waitForSegments(t, registry, meeting.ID, 3)

	final, err := registry.StopMeeting(context.Background(), meeting.ID)
	if err != nil {
		t.Fatalf("stop: %v", err)
	}
	if final.Status != StatusFinalized {
		t.Fatalf("expected finalized despite gap, got %q", final.Status)
	}
	if final.GapCount != 1 {
		t.Fatalf("expected 1 gap, got %d", final.GapCount)
	}
	if !strings.Contains(final.Transcript, transcribe.GapMarker) {
		t.Fatalf("expected gap marker in transcript: %q", final.Transcript)
	}

	var gaps int
	for _, seg := range final.Segments {
		if seg.Gap {
			gaps++
			if seg.Cost != 0 {
				t.Fatal("failed chunks must not be billed")
			}
		}
	}
	if gaps != 1 {
		t.Fatalf("expected 1 gap segment, got %d", gaps)
	}

	// Only the successful chunks are billed: 2 of the 3 full chunks.
	wantCost := 0.1 / 60.0 * 0.006
	if math.Abs(final.CostUSD-wantCost) > 1e-12 {
		t.Fatalf("expected cost %.12f, got %.12f", wantCost, final.CostUSD)
	}
}

func TestSummarizerFailureLeavesSummaryPending(t *testing.T) {
	format := testFormat()
	src := scriptedSource(format, frames(format, 2, 25*time.Millisecond), nil)
	registry := NewRegistry(testConfig(), newLogger())

	deps := testDeps(src, &selectiveTranscriber{}, &memorySaver{})
	deps.Summarizer = failingSummarizer(summary.ErrUnavailable)

	meeting, err := registry.StartMeeting(context.Background(), "no summary", nil, deps)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	waitForSegments(t, registry, meeting.ID, 1)

	final, err := registry.StopMeeting(context.Background(), meeting.ID)
	if err != nil {
		t.Fatalf("stop: %v", err)
	}
	if final.Status != StatusFinalized {
		t.Fatalf("summarizer failure must not block finalize, got %q", final.Status)
	}
	if final.Summary != nil {
		t.Fatal("expected nil summary")
	}
	if !final.SummaryPending {
		t.Fatal("expected summary_pending flag")
	}
	if final.Transcript == "" {
		t.Fatal("transcript must survive summarizer failure")
	}
}

func TestPersistenceRetriesWithoutDataLoss(t *testing.T) {
	format := testFormat()
	src := scriptedSource(format, frames(format, 2, 25*time.Millisecond), nil)
	saver := &memorySaver{failures: 2}
	registry := NewRegistry(testConfig(), newLogger())

	meeting, err := registry.StartMeeting(context.Background(), "retry save", nil,
		testDeps(src, &selectiveTranscriber{}, saver))
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	waitForSegments(t, registry, meeting.ID, 1)

	final, err := registry.StopMeeting(context.Background(), meeting.ID)
	if err != nil {
		t.Fatalf("expected save to succeed within retries: %v", err)
	}
	if saved := saver.lastSaved(); saved == nil || saved.Transcript != final.Transcript {
		t.Fatal("expected meeting persisted after transient failures")
	}
}

func TestStopReattemptsFailedSave(t *testing.T) {
	format := testFormat()
	src := scriptedSource(format, frames(format, 2, 25*time.Millisecond), nil)
	// Finalize burns 3 attempts; the stop-path retry succeeds on the 4th.
	saver := &memorySaver{failures: 3}
	registry := NewRegistry(testConfig(), newLogger())

	meeting, err := registry.StartMeeting(context.Background(), "stubborn disk", nil,
		testDeps(src, &selectiveTranscriber{}, saver))
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	waitForSegments(t, registry, meeting.ID, 1)

	final, err := registry.StopMeeting(context.Background(), meeting.ID)
	if err != nil {
		t.Fatalf("stop should retry the save: %v", err)
	}
	if final.Transcript == "" {
		t.Fatal("accrued transcript must never be discarded")
	}
	if saved := saver.lastSaved(); saved == nil {
		t.Fatal("expected save to succeed on the stop retry")
	}
}

func TestStopDrainTimeoutDropsBlockedChunks(t *testing.T) {
	format := testFormat()
	// Four frames fill exactly two chunks; the backend never answers, so stop
	// must give up after the drain timeout instead of blocking forever.
	src := scriptedSource(format, frames(format, 4, 25*time.Millisecond), nil)
	saver := &memorySaver{}
	cfg := testConfig()
	cfg.Session.DrainTimeoutSec = 1
	registry := NewRegistry(cfg, newLogger())

	meeting, err := registry.StartMeeting(context.Background(), "stalled backend", nil,
		testDeps(src, stalledTranscriber{}, saver))
	if err != nil {
		t.Fatalf("start: %v", err)
	}

	// Let capture enqueue both chunks behind the stuck dispatch.
	time.Sleep(250 * time.Millisecond)

	started := time.Now()
	final, err := registry.StopMeeting(context.Background(), meeting.ID)
	if err != nil {
		t.Fatalf("stop: %v", err)
	}
	if elapsed := time.Since(started); elapsed > 4*time.Second {
		t.Fatalf("stop took %v, expected it bounded by the drain timeout", elapsed)
	}
	if final.Status != StatusFinalized {
		t.Fatalf("expected finalized, got %q", final.Status)
	}
	if final.DroppedChunks != 2 {
		t.Fatalf("expected 2 dropped chunks, got %d", final.DroppedChunks)
	}
	if final.GapCount != 2 {
		t.Fatalf("expected every dropped chunk recorded as a gap, got %d", final.GapCount)
	}
	if len(final.Segments) != 2 {
		t.Fatalf("expected 2 gap segments, got %d", len(final.Segments))
	}
	for _, seg := range final.Segments {
		if !seg.Gap {
			t.Fatalf("segment %d should be a gap marker", seg.Seq)
		}
	}
	if final.CostUSD != 0 {
		t.Fatalf("dropped chunks must not be billed, got %f", final.CostUSD)
	}
	if saved := saver.lastSaved(); saved == nil || saved.DroppedChunks != 2 {
		t.Fatal("expected dropped-chunk count to be persisted")
	}
}

func TestStatusEventsDeliverInLifecycleOrder(t *testing.T) {
	format := testFormat()
	src := scriptedSource(format, frames(format, 2, 25*time.Millisecond), nil)
	registry := NewRegistry(testConfig(), newLogger())

	var mu sync.Mutex
	var seen []Status
	deps := testDeps(src, &selectiveTranscriber{}, &memorySaver{})
	deps.OnStatus = func(_ string, status Status, _ float64) {
		mu.Lock()
		seen = append(seen, status)
		mu.Unlock()
	}

	meeting, err := registry.StartMeeting(context.Background(), "ordered lifecycle", nil, deps)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	waitForSegments(t, registry, meeting.ID, 1)

	if _, err := registry.StopMeeting(context.Background(), meeting.ID); err != nil {
		t.Fatalf("stop: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	want := []Status{StatusRecording, StatusStopping, StatusFinalized}
	if len(seen) != len(want) {
		t.Fatalf("expected transitions %v, got %v", want, seen)
	}
	for i := range want {
		if seen[i] != want[i] {
			t.Fatalf("transition %d: expected %q in %v", i, want[i], seen)
		}
	}
}

func TestStopUnknownMeeting(t *testing.T) {
	registry := NewRegistry(testConfig(), newLogger())
	if _, err := registry.StopMeeting(context.Background(), "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if _, err := registry.LiveSnapshot("missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestSegmentsArriveInOrder(t *testing.T) {
	format := testFormat()
	src := scriptedSource(format, frames(format, 8, 25*time.Millisecond), nil)
	registry := NewRegistry(testConfig(), newLogger())

	var mu sync.Mutex
	var order []int
	deps := testDeps(src, &selectiveTranscriber{}, &memorySaver{})
	deps.OnSegment = func(_ string, seg transcribe.Segment) {
		mu.Lock()
		order = append(order, seg.Seq)
		mu.Unlock()
	}

	meeting, err := registry.StartMeeting(context.Background(), "ordered", nil, deps)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	waitForSegments(t, registry, meeting.ID, 4)

	if _, err := registry.StopMeeting(context.Background(), meeting.ID); err != nil {
		t.Fatalf("stop: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	for i, seq := range order {
		if seq != i {
			t.Fatalf("segment %d arrived with seq %d, order %v", i, seq, order)
		}
	}
}
