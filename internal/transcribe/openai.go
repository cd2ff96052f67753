package transcribe

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/cenkalti/backoff/v5"
	"github.com/scribelabs/scribe-core/internal/config"
)

// openAITranscriber calls the OpenAI audio transcriptions endpoint with a
// multipart WAV payload. Rate limits and server errors are retryable; other
// client errors are permanent.
type openAITranscriber struct {
	cfg    config.TranscriptionConfig
	client *http.Client
}

type openAIResponse struct {
	Text string `json:"text"`
}

func NewOpenAITranscriber(cfg config.TranscriptionConfig) Transcriber {
	return &openAITranscriber{cfg: cfg, client: http.DefaultClient}
}

func (t *openAITranscriber) Transcribe(ctx context.Context, pcm []byte, sampleRate, channels int) (string, error) {
	path, err := tempWav(pcm, sampleRate, channels)
	if err != nil {
		return "", backoff.Permanent(err)
	}
	defer os.Remove(path)

	body, contentType, err := t.buildPayload(path)
	if err != nil {
		return "", backoff.Permanent(err)
	}

	endpoint := strings.TrimSuffix(t.cfg.Endpoint, "/") + "/audio/transcriptions"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, body)
	if err != nil {
		return "", backoff.Permanent(err)
	}
	req.Header.Set("Authorization", "Bearer "+t.cfg.APIKey)
	req.Header.Set("Content-Type", contentType)

	resp, err := t.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		data, _ := io.ReadAll(resp.Body)
		err := fmt.Errorf("transcription backend status %d: %s", resp.StatusCode, string(data))
		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			return "", err
		}
		return "", backoff.Permanent(err)
	}

	var out openAIResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decode transcription response: %w", err)
	}
	return strings.TrimSpace(out.Text), nil
}

func (t *openAITranscriber) buildPayload(path string) (io.Reader, string, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, "", err
	}
	defer file.Close()

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	if err := mw.WriteField("model", t.cfg.Model); err != nil {
		return nil, "", err
	}
	if t.cfg.Language != "" {
		if err := mw.WriteField("language", t.cfg.Language); err != nil {
			return nil, "", err
		}
	}
	if err := mw.WriteField("response_format", "json"); err != nil {
		return nil, "", err
	}
	fw, err := mw.CreateFormFile("file", filepath.Base(path))
	if err != nil {
		return nil, "", err
	}
	if _, err := io.Copy(fw, file); err != nil {
		return nil, "", err
	}
	if err := mw.Close(); err != nil {
		return nil, "", err
	}
	return &body, mw.FormDataContentType(), nil
}
