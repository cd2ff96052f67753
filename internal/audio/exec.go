package audio

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"sync"

	"github.com/mattn/go-shellwords"
	"github.com/scribelabs/scribe-core/internal/config"
)

// execSource captures audio by running an external command (ffmpeg, arecord,
// sox, ...) that writes raw little-endian PCM to stdout. The optional
// {device} placeholder in the command is replaced with the configured device.
type execSource struct {
	cmd       []string
	format    Format
	frameSize int

	mu      sync.Mutex
	proc    *exec.Cmd
	stdout  io.ReadCloser
	cancel  context.CancelFunc
	started bool
}

func newExecSource(cfg config.AudioConfig, format Format, frameSize int) (Source, error) {
	command := strings.ReplaceAll(cfg.Command, "{device}", cfg.Device)
	parser := shellwords.NewParser()
	args, err := parser.Parse(command)
	if err != nil {
		return nil, fmt.Errorf("parse audio command: %w", err)
	}
	if len(args) == 0 {
		return nil, fmt.Errorf("audio command is empty")
	}
	return &execSource{cmd: args, format: format, frameSize: frameSize}, nil
}

func (s *execSource) Open(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return fmt.Errorf("audio source already open")
	}

	procCtx, cancel := context.WithCancel(context.Background())
	cmd := exec.CommandContext(procCtx, s.cmd[0], s.cmd[1:]...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		cancel()
		return fmt.Errorf("audio command stdout: %w", err)
	}
	if err := cmd.Start(); err != nil {
		cancel()
		return fmt.Errorf("%w: start %q: %v", ErrDeviceUnavailable, s.cmd[0], err)
	}

	s.proc = cmd
	s.stdout = stdout
	s.cancel = cancel
	s.started = true
	return nil
}

func (s *execSource) ReadFrame(ctx context.Context) ([]byte, error) {
	s.mu.Lock()
	stdout := s.stdout
	started := s.started
	s.mu.Unlock()
	if !started || stdout == nil {
		return nil, ErrDeviceUnavailable
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	frame := make([]byte, s.frameSize)
	if _, err := io.ReadFull(stdout, frame); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, fmt.Errorf("%w: capture process ended", ErrDeviceDisconnected)
		}
		return nil, fmt.Errorf("%w: %v", ErrDeviceDisconnected, err)
	}
	return frame, nil
}

func (s *execSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.started {
		return nil
	}
	s.started = false
	if s.cancel != nil {
		s.cancel()
	}
	if s.stdout != nil {
		_ = s.stdout.Close()
	}
	if s.proc != nil {
		_ = s.proc.Wait()
	}
	return nil
}

// FormatFor returns the PCM format a configured source produces.
func FormatFor(cfg config.AudioConfig) Format {
	return Format{SampleRate: cfg.SampleRate, Channels: cfg.Channels, BytesPerSample: 2}
}

// NewSource builds a Source from configuration.
func NewSource(cfg config.AudioConfig) (Source, error) {
	format := FormatFor(cfg)
	frameDuration := msToDuration(cfg.FrameDurationMS)
	switch cfg.Mode {
	case "mock":
		src := NewMockSource(format, frameDuration)
		src.FrameInterval = frameDuration
		return src, nil
	case "exec":
		return newExecSource(cfg, format, format.FrameBytes(frameDuration))
	default:
		return nil, fmt.Errorf("unknown audio mode %q", cfg.Mode)
	}
}
