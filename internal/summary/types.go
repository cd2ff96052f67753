package summary

import (
	"context"
	"errors"
	"fmt"

	"github.com/scribelabs/scribe-core/internal/config"
)

// ErrUnavailable signals the summarization backend could not be reached.
// The session finalizes without a summary and marks the meeting for later
// regeneration; the transcript and cost are never lost.
var ErrUnavailable = errors.New("summarization unavailable")

// ActionItem is one task extracted from a meeting.
type ActionItem struct {
	Owner       string `json:"owner"`
	Description string `json:"description"`
	DueDate     string `json:"due_date,omitempty"`
}

// Summary is the structured result of summarizing a finished transcript.
type Summary struct {
	KeyPoints   []string     `json:"key_points"`
	Decisions   []string     `json:"decisions"`
	ActionItems []ActionItem `json:"action_items"`
}

// Generator abstracts summarization backends. One stateless call over the
// complete transcript; retries are the caller's decision.
type Generator interface {
	Summarize(ctx context.Context, transcript string, participants []string) (Summary, error)
}

// NewGenerator builds the configured backend.
func NewGenerator(cfg config.SummaryConfig) (Generator, error) {
	switch cfg.Mode {
	case "mock":
		return NewMockGenerator(), nil
	case "exec":
		return NewExecGenerator(cfg.Command)
	case "openai":
		return NewOpenAIGenerator(cfg), nil
	default:
		return nil, fmt.Errorf("unknown summary mode %q", cfg.Mode)
	}
}
