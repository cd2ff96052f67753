package session

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/scribelabs/scribe-core/internal/audio"
	"github.com/scribelabs/scribe-core/internal/chunker"
	"github.com/scribelabs/scribe-core/internal/config"
	"github.com/scribelabs/scribe-core/internal/ledger"
	"github.com/scribelabs/scribe-core/internal/summary"
	"github.com/scribelabs/scribe-core/internal/transcribe"
	"github.com/scribelabs/scribe-core/internal/transcript"
)

// Deps are the collaborators a Registry wires into each new session.
type Deps struct {
	Source      audio.Source
	Format      audio.Format
	Transcriber transcribe.Transcriber
	Summarizer  summary.Generator
	Saver       Saver

	// OnSegment fires for every committed transcript segment, in sequence
	// order. OnStatus fires on each lifecycle transition.
	OnSegment func(meetingID string, seg transcribe.Segment)
	OnStatus  func(meetingID string, status Status, costUSD float64)
}

// Registry enforces the single-active-meeting rule and tracks the session
// for the life of the process so finished meetings remain inspectable until
// the next one starts.
type Registry struct {
	cfg     config.Config
	log     *slog.Logger
	metrics *metrics

	mu     sync.Mutex
	active *Session
}

func NewRegistry(cfg config.Config, log *slog.Logger) *Registry {
	return &Registry{
		cfg:     cfg,
		log:     log.With(slog.String("component", "session-registry")),
		metrics: newMetrics(),
	}
}

// StartMeeting opens the audio source and begins capture. It fails with
// ErrAlreadyActive if another meeting is still recording; a finished session
// is replaced silently.
func (r *Registry) StartMeeting(ctx context.Context, name string, participants []string, deps Deps) (*Meeting, error) {
	if deps.Source == nil {
		return nil, errNilSource
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.active != nil && !r.active.done() {
		return nil, ErrAlreadyActive
	}

	if err := deps.Source.Open(ctx); err != nil {
		return nil, fmt.Errorf("open audio source: %w", err)
	}

	meeting := &Meeting{
		ID:           uuid.NewString(),
		Name:         name,
		Participants: participants,
		StartedAt:    time.Now().UTC(),
		Status:       StatusRecording,
	}

	chunkDuration := time.Duration(r.cfg.Chunker.ChunkDurationMS) * time.Millisecond
	costs := ledger.New(r.cfg.Transcription.RatePerMinute)

	sess := &Session{
		cfg:        r.cfg.Session,
		src:        deps.Source,
		buf:        chunker.NewBuffer(deps.Format, chunkDuration),
		client:     transcribe.NewClient(r.cfg.Transcription, deps.Format, deps.Transcriber, r.log),
		costs:      costs,
		summarizer: deps.Summarizer,
		saver:      deps.Saver,
		log:        r.log.With(slog.String("meeting_id", meeting.ID)),
		metrics:    r.metrics,
		onStatus:   deps.OnStatus,
		meeting:    meeting,

		chunks:       make(chan chunker.Chunk, r.cfg.Chunker.QueueDepth),
		captureDone:  make(chan struct{}),
		dispatchDone: make(chan struct{}),
		doneCh:       make(chan struct{}),
	}
	sess.captureCtx, sess.stopCapture = context.WithCancel(context.Background())
	sess.dispatchCtx, sess.cancelDispatch = context.WithCancel(context.Background())

	onSegment := deps.OnSegment
	sess.acc = transcript.NewAccumulator(func(seg transcribe.Segment) {
		if onSegment != nil {
			onSegment(meeting.ID, seg)
		}
	})

	r.active = sess
	sess.notifyStatus(StatusRecording)
	sess.start()
	r.metrics.recordStart(ctx)

	r.log.Info("meeting started",
		slog.String("meeting_id", meeting.ID),
		slog.String("name", name),
		slog.Int("participants", len(participants)))
	return meeting, nil
}

// StopMeeting ends the active meeting and returns the finalized record.
func (r *Registry) StopMeeting(ctx context.Context, id string) (*Meeting, error) {
	sess, err := r.lookup(id)
	if err != nil {
		return nil, err
	}

	meeting, err := sess.Stop(ctx)
	if err != nil {
		return meeting, err
	}

	r.log.Info("meeting stopped",
		slog.String("meeting_id", meeting.ID),
		slog.String("status", string(meeting.Status)),
		slog.Float64("cost_usd", meeting.CostUSD))
	return meeting, nil
}

// LiveSnapshot returns the current state of the given meeting.
func (r *Registry) LiveSnapshot(id string) (Snapshot, error) {
	sess, err := r.lookup(id)
	if err != nil {
		return Snapshot{}, err
	}
	return sess.Snapshot(), nil
}

// ActiveMeetingID reports the id of the current session, finished or not.
func (r *Registry) ActiveMeetingID() (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.active == nil {
		return "", false
	}
	return r.active.meeting.ID, true
}

// Close stops any active recording during daemon shutdown.
func (r *Registry) Close(ctx context.Context) error {
	r.mu.Lock()
	sess := r.active
	r.mu.Unlock()

	if sess == nil || sess.done() {
		return nil
	}
	_, err := sess.Stop(ctx)
	return err
}

func (r *Registry) lookup(id string) (*Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.active == nil || r.active.meeting.ID != id {
		return nil, ErrNotFound
	}
	return r.active, nil
}
