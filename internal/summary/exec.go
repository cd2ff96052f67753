package summary

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"sync"

	"github.com/mattn/go-shellwords"
)

// execGenerator pipes the transcript to an external command and expects a
// Summary JSON object on stdout.
type execGenerator struct {
	cmd []string
	mu  sync.Mutex
}

type execInput struct {
	Transcript   string   `json:"transcript"`
	Participants []string `json:"participants"`
}

func NewExecGenerator(command string) (Generator, error) {
	parser := shellwords.NewParser()
	args, err := parser.Parse(command)
	if err != nil {
		return nil, fmt.Errorf("parse summary command: %w", err)
	}
	if len(args) == 0 {
		return nil, fmt.Errorf("summary command is empty")
	}
	return &execGenerator{cmd: args}, nil
}

func (g *execGenerator) Summarize(ctx context.Context, transcript string, participants []string) (Summary, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	input, err := json.Marshal(execInput{Transcript: transcript, Participants: participants})
	if err != nil {
		return Summary{}, err
	}

	cmd := exec.CommandContext(ctx, g.cmd[0], g.cmd[1:]...)
	cmd.Stdin = bytes.NewReader(input)
	output, err := cmd.Output()
	if err != nil {
		return Summary{}, fmt.Errorf("%w: summary command failed: %v", ErrUnavailable, err)
	}
	return parseSummary(output)
}
