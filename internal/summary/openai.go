package summary

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/scribelabs/scribe-core/internal/config"
)

// openAIGenerator summarizes a transcript with a chat-completions call that
// requests a strict JSON object response.
type openAIGenerator struct {
	cfg    config.SummaryConfig
	client *http.Client
}

func NewOpenAIGenerator(cfg config.SummaryConfig) Generator {
	return &openAIGenerator{cfg: cfg, client: http.DefaultClient}
}

type chatRequest struct {
	Model          string        `json:"model"`
	Messages       []chatMessage `json:"messages"`
	MaxTokens      int           `json:"max_tokens,omitempty"`
	Temperature    float64       `json:"temperature,omitempty"`
	ResponseFormat *respFormat   `json:"response_format,omitempty"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type respFormat struct {
	Type string `json:"type"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

const systemPrompt = "You are an expert meeting analyst. Respond with a JSON object " +
	`containing "key_points" (array of strings), "decisions" (array of strings) and ` +
	`"action_items" (array of objects with "owner", "description" and optional "due_date").`

func (g *openAIGenerator) Summarize(ctx context.Context, transcript string, participants []string) (Summary, error) {
	prompt := buildPrompt(transcript, participants)
	payload := chatRequest{
		Model: g.cfg.Model,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: prompt},
		},
		MaxTokens:      g.cfg.MaxTokens,
		Temperature:    g.cfg.Temperature,
		ResponseFormat: &respFormat{Type: "json_object"},
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return Summary{}, err
	}

	endpoint := strings.TrimSuffix(g.cfg.Endpoint, "/") + "/chat/completions"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return Summary{}, err
	}
	req.Header.Set("Authorization", "Bearer "+g.cfg.APIKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.client.Do(req)
	if err != nil {
		return Summary{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		data, _ := io.ReadAll(resp.Body)
		return Summary{}, fmt.Errorf("%w: status %d: %s", ErrUnavailable, resp.StatusCode, string(data))
	}

	var out chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return Summary{}, fmt.Errorf("decode summary response: %w", err)
	}
	if len(out.Choices) == 0 {
		return Summary{}, fmt.Errorf("summary response had no choices")
	}
	return parseSummary([]byte(out.Choices[0].Message.Content))
}

func buildPrompt(transcript string, participants []string) string {
	var sb strings.Builder
	if len(participants) > 0 {
		sb.WriteString("Participants: ")
		sb.WriteString(strings.Join(participants, ", "))
		sb.WriteString("\n\n")
	}
	sb.WriteString("Summarize the following meeting transcript:\n\n")
	sb.WriteString(transcript)
	return sb.String()
}

func parseSummary(data []byte) (Summary, error) {
	var s Summary
	if err := json.Unmarshal(data, &s); err != nil {
		return Summary{}, fmt.Errorf("parse summary JSON: %w", err)
	}
	return s, nil
}
