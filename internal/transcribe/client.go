package transcribe

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/scribelabs/scribe-core/internal/audio"
	"github.com/scribelabs/scribe-core/internal/chunker"
	"github.com/scribelabs/scribe-core/internal/config"
)

// Client submits audio chunks to a Transcriber backend, retrying transient
// failures with bounded exponential backoff and pricing each successful call
// at the configured per-minute rate.
type Client struct {
	cfg     config.TranscriptionConfig
	format  audio.Format
	backend Transcriber
	log     *slog.Logger
}

func NewClient(cfg config.TranscriptionConfig, format audio.Format, backend Transcriber, log *slog.Logger) *Client {
	return &Client{
		cfg:     cfg,
		format:  format,
		backend: backend,
		log:     log.With(slog.String("component", "transcription-client")),
	}
}

// Transcribe converts one chunk into a Segment. After exhausting retries it
// returns a *FailedError carrying the chunk; the session decides whether to
// skip, requeue, or abort.
func (c *Client) Transcribe(ctx context.Context, chunk chunker.Chunk) (Segment, error) {
	reqTimeout := time.Duration(c.cfg.RequestTimeoutMS) * time.Millisecond
	attempt := 0

	operation := func() (string, error) {
		attempt++
		callCtx := ctx
		var cancel context.CancelFunc
		if reqTimeout > 0 {
			callCtx, cancel = context.WithTimeout(ctx, reqTimeout)
			defer cancel()
		}
		text, err := c.backend.Transcribe(callCtx, chunk.PCM, c.format.SampleRate, c.format.Channels)
		if err != nil {
			c.log.Warn("transcription attempt failed",
				slog.Int("chunk_seq", chunk.Seq),
				slog.Int("attempt", attempt),
				slog.String("error", err.Error()))
			return "", err
		}
		return text, nil
	}

	expo := backoff.NewExponentialBackOff()
	if c.cfg.InitialBackoffMS > 0 {
		expo.InitialInterval = time.Duration(c.cfg.InitialBackoffMS) * time.Millisecond
	}
	if c.cfg.MaxBackoffMS > 0 {
		expo.MaxInterval = time.Duration(c.cfg.MaxBackoffMS) * time.Millisecond
	}

	text, err := backoff.Retry(ctx, operation,
		backoff.WithBackOff(expo),
		backoff.WithMaxTries(uint(c.cfg.MaxAttempts)),
	)
	if err != nil {
		return Segment{}, &FailedError{Chunk: chunk, Err: err}
	}

	return Segment{
		Seq:      chunk.Seq,
		Text:     text,
		Duration: chunk.Duration,
		Cost:     c.Cost(chunk.Duration),
	}, nil
}

// Cost prices a span of audio at the configured per-minute rate.
func (c *Client) Cost(d time.Duration) float64 {
	return d.Seconds() / 60.0 * c.cfg.RatePerMinute
}

// NewTranscriber builds the configured backend.
func NewTranscriber(cfg config.TranscriptionConfig) (Transcriber, error) {
	switch cfg.Mode {
	case "mock":
		return NewMockTranscriber(), nil
	case "exec":
		return NewExecTranscriber(cfg)
	case "openai":
		return NewOpenAITranscriber(cfg), nil
	default:
		return nil, fmt.Errorf("unknown transcription mode %q", cfg.Mode)
	}
}
