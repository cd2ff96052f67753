package transcribe

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"sync"

	"github.com/mattn/go-shellwords"
	"github.com/scribelabs/scribe-core/internal/config"
)

// execTranscriber shells out to a local STT tool (whisper.cpp, vosk, ...)
// that accepts a WAV file and prints JSON on stdout.
type execTranscriber struct {
	cmd []string
	cfg config.TranscriptionConfig
	mu  sync.Mutex
}

type execResult struct {
	Text string `json:"text"`
}

func NewExecTranscriber(cfg config.TranscriptionConfig) (Transcriber, error) {
	parser := shellwords.NewParser()
	args, err := parser.Parse(cfg.Command)
	if err != nil {
		return nil, fmt.Errorf("parse transcription command: %w", err)
	}
	if len(args) == 0 {
		return nil, fmt.Errorf("transcription command is empty")
	}
	return &execTranscriber{cmd: args, cfg: cfg}, nil
}

func (t *execTranscriber) Transcribe(ctx context.Context, pcm []byte, sampleRate, channels int) (string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	path, err := tempWav(pcm, sampleRate, channels)
	if err != nil {
		return "", err
	}
	defer os.Remove(path)

	args := append([]string{}, t.cmd[1:]...)
	args = append(args, "--audio", path)
	if t.cfg.Model != "" {
		args = append(args, "--model", t.cfg.Model)
	}
	if t.cfg.Language != "" {
		args = append(args, "--language", t.cfg.Language)
	}

	command := exec.CommandContext(ctx, t.cmd[0], args...)
	var stdout bytes.Buffer
	var stderr bytes.Buffer
	command.Stdout = &stdout
	command.Stderr = &stderr

	if err := command.Run(); err != nil {
		return "", fmt.Errorf("transcription command failed: %w: %s", err, stderr.String())
	}

	var resp execResult
	if err := json.Unmarshal(stdout.Bytes(), &resp); err != nil {
		return "", fmt.Errorf("decode transcription response: %w", err)
	}
	return resp.Text, nil
}
