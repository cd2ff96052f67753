package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/scribelabs/scribe-core/internal/config"
	"github.com/scribelabs/scribe-core/internal/session"
	_ "modernc.org/sqlite"
)

// ErrNotFound means no meeting row matched the requested id.
var ErrNotFound = errors.New("meeting not found")

// Store persists finished meetings in SQLite. Transcript segments, the
// participant list and the summary are stored as JSON columns; everything
// the list and search endpoints need is a plain column.
type Store struct {
	db    *sql.DB
	cfg   config.StoreConfig
	log   *slog.Logger
	clock func() time.Time
}

// Open initializes the meeting store according to config.
func Open(ctx context.Context, cfg config.StoreConfig, log *slog.Logger) (*Store, error) {
	dir := filepath.Dir(cfg.Path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
	}

	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=foreign_keys(ON)", cfg.Path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	s := &Store{db: db, cfg: cfg, log: log, clock: time.Now}

	if err := s.initSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}

	if cfg.VacuumOnStart {
		if err := s.vacuum(ctx); err != nil {
			log.Warn("meeting store vacuum failed", slog.String("error", err.Error()))
		}
	}

	if err := s.Prune(ctx); err != nil {
		log.Warn("meeting store prune on start failed", slog.String("error", err.Error()))
	}

	return s, nil
}

func (s *Store) initSchema(ctx context.Context) error {
	ddl := `
CREATE TABLE IF NOT EXISTS meetings (
    id TEXT PRIMARY KEY,
    name TEXT NOT NULL,
    participants TEXT,
    status TEXT NOT NULL,
    started_at TIMESTAMP NOT NULL,
    ended_at TIMESTAMP,
    transcript TEXT,
    segments TEXT,
    cost_usd REAL NOT NULL DEFAULT 0,
    audio_seconds REAL NOT NULL DEFAULT 0,
    summary TEXT,
    summary_pending INTEGER NOT NULL DEFAULT 0,
    gap_count INTEGER NOT NULL DEFAULT 0,
    dropped_chunks INTEGER NOT NULL DEFAULT 0,
    abort_reason TEXT NOT NULL DEFAULT '',
    saved_at TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_meetings_started ON meetings(started_at);
CREATE INDEX IF NOT EXISTS idx_meetings_status ON meetings(status);
`
	_, err := s.db.ExecContext(ctx, ddl)
	return err
}

func (s *Store) vacuum(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, "VACUUM")
	return err
}

// Close releases underlying resources.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// SaveMeeting upserts a finished meeting. Finalize retries call this
// repeatedly, so the write must be idempotent.
func (s *Store) SaveMeeting(ctx context.Context, m *session.Meeting) error {
	participants, err := json.Marshal(m.Participants)
	if err != nil {
		return fmt.Errorf("encode participants: %w", err)
	}
	segments, err := json.Marshal(m.Segments)
	if err != nil {
		return fmt.Errorf("encode segments: %w", err)
	}
	var summaryJSON any
	if m.Summary != nil {
		data, err := json.Marshal(m.Summary)
		if err != nil {
			return fmt.Errorf("encode summary: %w", err)
		}
		summaryJSON = string(data)
	}
	var endedAt any
	if m.EndedAt != nil {
		endedAt = m.EndedAt.UTC()
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO meetings(id, name, participants, status, started_at, ended_at,
		    transcript, segments, cost_usd, audio_seconds, summary, summary_pending,
		    gap_count, dropped_chunks, abort_reason, saved_at)
		 VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
		    name=excluded.name, participants=excluded.participants,
		    status=excluded.status, ended_at=excluded.ended_at,
		    transcript=excluded.transcript, segments=excluded.segments,
		    cost_usd=excluded.cost_usd, audio_seconds=excluded.audio_seconds,
		    summary=excluded.summary, summary_pending=excluded.summary_pending,
		    gap_count=excluded.gap_count, dropped_chunks=excluded.dropped_chunks,
		    abort_reason=excluded.abort_reason, saved_at=excluded.saved_at`,
		m.ID, m.Name, string(participants), string(m.Status), m.StartedAt.UTC(), endedAt,
		m.Transcript, string(segments), m.CostUSD, m.AudioSeconds, summaryJSON,
		boolToInt(m.SummaryPending), m.GapCount, m.DroppedChunks, m.AbortReason, s.clock().UTC())
	return err
}

// LoadMeeting retrieves one meeting by id.
func (s *Store) LoadMeeting(ctx context.Context, id string) (*session.Meeting, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, name, participants, status, started_at, ended_at, transcript,
		    segments, cost_usd, audio_seconds, summary, summary_pending, gap_count,
		    dropped_chunks, abort_reason
		 FROM meetings WHERE id = ?`, id)
	m, err := scanMeeting(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return m, err
}

// ListMeetings returns the most recent meetings, newest first, optionally
// filtered by status.
func (s *Store) ListMeetings(ctx context.Context, status string, limit int) ([]*session.Meeting, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `SELECT id, name, participants, status, started_at, ended_at, transcript,
	    segments, cost_usd, audio_seconds, summary, summary_pending, gap_count,
	    dropped_chunks, abort_reason
	 FROM meetings`
	args := []any{}
	if status != "" {
		query += ` WHERE status = ?`
		args = append(args, status)
	}
	query += ` ORDER BY started_at DESC LIMIT ?`
	args = append(args, limit)
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanMeetings(rows)
}

// SearchMeetings matches the query against meeting names and transcripts.
func (s *Store) SearchMeetings(ctx context.Context, query string, limit int) ([]*session.Meeting, error) {
	if limit <= 0 {
		limit = 50
	}
	pattern := "%" + query + "%"
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, participants, status, started_at, ended_at, transcript,
		    segments, cost_usd, audio_seconds, summary, summary_pending, gap_count,
		    dropped_chunks, abort_reason
		 FROM meetings WHERE name LIKE ? OR transcript LIKE ?
		 ORDER BY started_at DESC LIMIT ?`, pattern, pattern, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanMeetings(rows)
}

// Prune applies the configured retention: age cutoff and a row count cap.
func (s *Store) Prune(ctx context.Context) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	if s.cfg.RetentionDays > 0 {
		cutoff := s.clock().Add(-time.Duration(s.cfg.RetentionDays) * 24 * time.Hour)
		if _, err = tx.ExecContext(ctx, `DELETE FROM meetings WHERE started_at < ?`, cutoff.UTC()); err != nil {
			return err
		}
	}
	if s.cfg.MaxMeetings > 0 {
		_, err = tx.ExecContext(ctx, `DELETE FROM meetings WHERE id IN (
			SELECT id FROM meetings ORDER BY started_at DESC LIMIT -1 OFFSET ?
		)`, s.cfg.MaxMeetings)
		if err != nil {
			return err
		}
	}
	err = tx.Commit()
	return err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMeeting(row rowScanner) (*session.Meeting, error) {
	var (
		m              session.Meeting
		participants   sql.NullString
		endedAt        sql.NullString
		startedAt      string
		segments       sql.NullString
		summaryJSON    sql.NullString
		summaryPending int
	)
	err := row.Scan(&m.ID, &m.Name, &participants, &m.Status, &startedAt, &endedAt,
		&m.Transcript, &segments, &m.CostUSD, &m.AudioSeconds, &summaryJSON,
		&summaryPending, &m.GapCount, &m.DroppedChunks, &m.AbortReason)
	if err != nil {
		return nil, err
	}
	if ts, err := time.Parse(time.RFC3339Nano, startedAt); err == nil {
		m.StartedAt = ts
	}
	if endedAt.Valid {
		if ts, err := time.Parse(time.RFC3339Nano, endedAt.String); err == nil {
			m.EndedAt = &ts
		}
	}
	if participants.Valid && participants.String != "" {
		if err := json.Unmarshal([]byte(participants.String), &m.Participants); err != nil {
			return nil, fmt.Errorf("decode participants: %w", err)
		}
	}
	if segments.Valid && segments.String != "" {
		if err := json.Unmarshal([]byte(segments.String), &m.Segments); err != nil {
			return nil, fmt.Errorf("decode segments: %w", err)
		}
	}
	if summaryJSON.Valid && summaryJSON.String != "" {
		if err := json.Unmarshal([]byte(summaryJSON.String), &m.Summary); err != nil {
			return nil, fmt.Errorf("decode summary: %w", err)
		}
	}
	m.SummaryPending = summaryPending != 0
	return &m, nil
}

func scanMeetings(rows *sql.Rows) ([]*session.Meeting, error) {
	var meetings []*session.Meeting
	for rows.Next() {
		m, err := scanMeeting(rows)
		if err != nil {
			return nil, err
		}
		meetings = append(meetings, m)
	}
	return meetings, rows.Err()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
