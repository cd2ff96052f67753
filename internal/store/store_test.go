package store

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/scribelabs/scribe-core/internal/config"
	"github.com/scribelabs/scribe-core/internal/session"
	"github.com/scribelabs/scribe-core/internal/summary"
	"github.com/scribelabs/scribe-core/internal/transcribe"
)

func newLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

func openStore(t *testing.T, cfg config.StoreConfig) *Store {
	t.Helper()
	if cfg.Path == "" {
		cfg.Path = filepath.Join(t.TempDir(), "meetings.db")
	}
	s, err := Open(context.Background(), cfg, newLogger())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func sampleMeeting(id string, started time.Time) *session.Meeting {
	ended := started.Add(10 * time.Minute)
	return &session.Meeting{
		ID:           id,
		Name:         "weekly sync",
		Participants: []string{"dana", "lee"},
		StartedAt:    started,
		EndedAt:      &ended,
		Status:       session.StatusFinalized,
		Transcript:   "we agreed to ship on friday",
		Segments: []transcribe.Segment{
			{Seq: 0, Text: "we agreed to ship on friday", Duration: 5 * time.Second, Cost: 0.0005},
		},
		CostUSD:      0.0005,
		AudioSeconds: 5,
		Summary: &summary.Summary{
			KeyPoints: []string{"ship friday"},
			Decisions: []string{"release friday"},
			ActionItems: []summary.ActionItem{
				{Owner: "dana", Description: "cut the release"},
			},
		},
	}
}

func TestSaveAndLoadRoundTrip(t *testing.T) {
	s := openStore(t, config.StoreConfig{})
	started := time.Date(2026, 8, 20, 9, 0, 0, 0, time.UTC)
	m := sampleMeeting("meeting-1", started)

	if err := s.SaveMeeting(context.Background(), m); err != nil {
		t.Fatalf("save: %v", err)
	}

	got, err := s.LoadMeeting(context.Background(), "meeting-1")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got.Name != m.Name || got.Transcript != m.Transcript {
		t.Fatalf("round trip mismatch: %+v", got)
	}
	if len(got.Participants) != 2 || got.Participants[0] != "dana" {
		t.Fatalf("participants mismatch: %v", got.Participants)
	}
	if len(got.Segments) != 1 || got.Segments[0].Text != m.Segments[0].Text {
		t.Fatalf("segments mismatch: %+v", got.Segments)
	}
	if got.Summary == nil || got.Summary.KeyPoints[0] != "ship friday" {
		t.Fatalf("summary mismatch: %+v", got.Summary)
	}
	if got.CostUSD != m.CostUSD {
		t.Fatalf("expected cost %f, got %f", m.CostUSD, got.CostUSD)
	}
	if !got.StartedAt.Equal(started) {
		t.Fatalf("expected started %v, got %v", started, got.StartedAt)
	}
	if got.EndedAt == nil || !got.EndedAt.Equal(*m.EndedAt) {
		t.Fatalf("ended_at mismatch: %v", got.EndedAt)
	}
}

func TestSaveIsIdempotent(t *testing.T) {
	s := openStore(t, config.StoreConfig{})
	m := sampleMeeting("meeting-1", time.Now().UTC())

	if err := s.SaveMeeting(context.Background(), m); err != nil {
		t.Fatalf("first save: %v", err)
	}
	m.SummaryPending = true
	m.Summary = nil
	if err := s.SaveMeeting(context.Background(), m); err != nil {
		t.Fatalf("second save: %v", err)
	}

	got, err := s.LoadMeeting(context.Background(), "meeting-1")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if !got.SummaryPending || got.Summary != nil {
		t.Fatalf("expected updated row, got %+v", got)
	}

	list, err := s.ListMeetings(context.Background(), "", 10)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 1 {
		t.Fatalf("expected a single row after re-save, got %d", len(list))
	}
}

func TestLoadMissingMeeting(t *testing.T) {
	s := openStore(t, config.StoreConfig{})
	if _, err := s.LoadMeeting(context.Background(), "nope"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestListFiltersByStatus(t *testing.T) {
	s := openStore(t, config.StoreConfig{})
	base := time.Date(2026, 8, 20, 9, 0, 0, 0, time.UTC)

	ok := sampleMeeting("done", base)
	if err := s.SaveMeeting(context.Background(), ok); err != nil {
		t.Fatalf("save: %v", err)
	}
	bad := sampleMeeting("crashed", base.Add(time.Hour))
	bad.Status = session.StatusAborted
	bad.AbortReason = "audio device disconnected"
	if err := s.SaveMeeting(context.Background(), bad); err != nil {
		t.Fatalf("save: %v", err)
	}

	aborted, err := s.ListMeetings(context.Background(), "aborted", 10)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(aborted) != 1 || aborted[0].ID != "crashed" {
		t.Fatalf("expected only the aborted meeting, got %+v", aborted)
	}
	if aborted[0].AbortReason != "audio device disconnected" {
		t.Fatalf("expected abort reason to round trip, got %q", aborted[0].AbortReason)
	}

	all, err := s.ListMeetings(context.Background(), "", 10)
	if err != nil {
		t.Fatalf("list all: %v", err)
	}
	if len(all) != 2 || all[0].ID != "crashed" {
		t.Fatalf("expected newest first, got %+v", all)
	}
}

func TestSearchMatchesNameAndTranscript(t *testing.T) {
	s := openStore(t, config.StoreConfig{})
	base := time.Now().UTC()

	m1 := sampleMeeting("m1", base)
	m1.Name = "quarterly planning"
	m1.Transcript = "budget review and headcount"
	m2 := sampleMeeting("m2", base.Add(time.Minute))
	m2.Name = "standup"
	m2.Transcript = "blocked on the budget approval"
	for _, m := range []*session.Meeting{m1, m2} {
		if err := s.SaveMeeting(context.Background(), m); err != nil {
			t.Fatalf("save: %v", err)
		}
	}

	hits, err := s.SearchMeetings(context.Background(), "budget", 10)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(hits) != 2 {
		t.Fatalf("expected 2 transcript hits, got %d", len(hits))
	}

	hits, err = s.SearchMeetings(context.Background(), "planning", 10)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(hits) != 1 || hits[0].ID != "m1" {
		t.Fatalf("expected name hit for m1, got %+v", hits)
	}
}

func TestPruneByAgeAndCount(t *testing.T) {
	s := openStore(t, config.StoreConfig{RetentionDays: 1, MaxMeetings: 1})

	s.clock = func() time.Time { return time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC) }
	old := sampleMeeting("old", time.Date(2025, 12, 1, 0, 0, 0, 0, time.UTC))
	if err := s.SaveMeeting(context.Background(), old); err != nil {
		t.Fatalf("save: %v", err)
	}
	recent := sampleMeeting("recent", time.Date(2025, 12, 31, 23, 0, 0, 0, time.UTC))
	if err := s.SaveMeeting(context.Background(), recent); err != nil {
		t.Fatalf("save: %v", err)
	}

	if err := s.Prune(context.Background()); err != nil {
		t.Fatalf("prune: %v", err)
	}

	if _, err := s.LoadMeeting(context.Background(), "old"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected old meeting pruned, got %v", err)
	}
	if _, err := s.LoadMeeting(context.Background(), "recent"); err != nil {
		t.Fatalf("recent meeting must survive prune: %v", err)
	}
}
