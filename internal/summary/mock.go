package summary

import (
	"context"
	"fmt"
	"strings"
)

type mockGenerator struct{}

func NewMockGenerator() Generator {
	return &mockGenerator{}
}

func (m *mockGenerator) Summarize(_ context.Context, transcript string, participants []string) (Summary, error) {
	words := len(strings.Fields(transcript))
	return Summary{
		KeyPoints: []string{fmt.Sprintf("Discussed %d words across %d participants", words, len(participants))},
		Decisions: []string{},
		ActionItems: []ActionItem{
			{Owner: firstOr(participants, "unassigned"), Description: "Review meeting notes"},
		},
	}, nil
}

func firstOr(values []string, fallback string) string {
	if len(values) > 0 {
		return values[0]
	}
	return fallback
}
