package session

import (
	"context"
	"errors"
	"time"

	"github.com/scribelabs/scribe-core/internal/summary"
	"github.com/scribelabs/scribe-core/internal/transcribe"
)

// Status is the lifecycle state of a meeting.
type Status string

const (
	StatusIdle      Status = "idle"
	StatusRecording Status = "recording"
	StatusStopping  Status = "stopping"
	StatusFinalized Status = "finalized"
	StatusAborted   Status = "aborted"
)

var (
	// ErrAlreadyActive rejects a start request while another meeting is
	// recording. Only one meeting may record at a time per agent.
	ErrAlreadyActive = errors.New("a meeting is already recording")
	// ErrNotFound means no active session matches the requested meeting id.
	ErrNotFound = errors.New("no active meeting with that id")
)

// Meeting is the record of one recording session. It is owned exclusively by
// its session while active and handed to the store on finalize.
type Meeting struct {
	ID             string               `json:"id"`
	Name           string               `json:"name"`
	Participants   []string             `json:"participants"`
	StartedAt      time.Time            `json:"started_at"`
	EndedAt        *time.Time           `json:"ended_at,omitempty"`
	Status         Status               `json:"status"`
	Transcript     string               `json:"transcript"`
	Segments       []transcribe.Segment `json:"segments,omitempty"`
	CostUSD        float64              `json:"cost_usd"`
	AudioSeconds   float64              `json:"audio_seconds"`
	Summary        *summary.Summary     `json:"summary,omitempty"`
	SummaryPending bool                 `json:"summary_pending,omitempty"`
	GapCount       int                  `json:"gap_count,omitempty"`
	DroppedChunks  int                  `json:"dropped_chunks,omitempty"`
	AbortReason    string               `json:"abort_reason,omitempty"`
}

// Snapshot is a point-in-time view of an active meeting, safe to poll.
type Snapshot struct {
	MeetingID      string  `json:"meeting_id"`
	Status         Status  `json:"status"`
	Text           string  `json:"text"`
	CostUSD        float64 `json:"cost_usd"`
	ElapsedSeconds float64 `json:"elapsed_seconds"`
	Segments       int     `json:"segments"`
	GapCount       int     `json:"gap_count,omitempty"`
}

// Saver persists finished meetings. The session calls it only at finalize,
// never during active recording.
type Saver interface {
	SaveMeeting(ctx context.Context, m *Meeting) error
}
