// Package ledger persists the durable output of transcription sessions in
// PostgreSQL: meeting session rows, recorded audio artifacts, and transcript
// segments. It is the collaborator the session manager forwards segments to;
// it never touches the control connection itself.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Schema is the SQL DDL for the ledger tables. Execute it via [Store.Migrate]
// or apply it manually during deployment.
const Schema = `
CREATE TABLE IF NOT EXISTS meeting_sessions (
    id         TEXT PRIMARY KEY,
    title      TEXT NOT NULL DEFAULT '',
    started_at TIMESTAMPTZ NOT NULL DEFAULT now(),
    created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS recordings (
    id                 BIGSERIAL PRIMARY KEY,
    session_id         TEXT NOT NULL REFERENCES meeting_sessions(id),
    file_path          TEXT NOT NULL,
    started_at         TIMESTAMPTZ NOT NULL,
    stopped_at         TIMESTAMPTZ NOT NULL,
    duration_estimate_ms BIGINT NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_recordings_session ON recordings(session_id);

CREATE TABLE IF NOT EXISTS transcript_segments (
    id           BIGSERIAL PRIMARY KEY,
    session_id   TEXT NOT NULL REFERENCES meeting_sessions(id),
    speaker_id   TEXT NOT NULL,
    speaker_name TEXT,
    text         TEXT NOT NULL,
    start_ms     BIGINT NOT NULL,
    end_ms       BIGINT NOT NULL,
    created_at   TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_transcript_segments_session ON transcript_segments(session_id);
CREATE INDEX IF NOT EXISTS idx_transcript_segments_speaker ON transcript_segments(session_id, speaker_id);
`

// Audio artifact framing: mono 16-bit PCM at 16 kHz behind a fixed WAV
// header. Duration is estimated from raw size, not by decoding the file.
const (
	wavHeaderBytes = 44
	bytesPerSecond = 32000
)

// ErrNotFound is returned when a referenced session does not exist.
var ErrNotFound = errors.New("ledger: not found")

// MeetingSession is one meeting tracked by the shell.
type MeetingSession struct {
	ID        string
	Title     string
	StartedAt time.Time
}

// Recording describes one persisted audio artifact.
type Recording struct {
	SessionID        string
	FilePath         string
	StartedAt        time.Time
	StoppedAt        time.Time
	DurationEstimate time.Duration
}

// SegmentRow is one persisted transcript segment. SpeakerName is the
// user-assigned display name, empty until a rename attaches one.
type SegmentRow struct {
	ID          int64
	SessionID   string
	SpeakerID   string
	SpeakerName string
	Text        string
	StartMs     int64
	EndMs       int64
}

// DB is the database interface used by [Store]. Both *pgxpool.Pool and
// *pgx.Conn satisfy this interface.
type DB interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// Store is the PostgreSQL-backed recording ledger.
// All methods are safe for concurrent use.
type Store struct {
	db DB
}

// NewStore creates a Store using the given connection or pool. The caller is
// responsible for calling [Store.Migrate] before issuing queries.
func NewStore(db DB) *Store {
	return &Store{db: db}
}

// Open establishes a connection pool to the database at dsn, verifies it with
// a ping, and runs [Store.Migrate]. The returned pool is owned by the caller
// and must be closed on shutdown.
func Open(ctx context.Context, dsn string) (*Store, *pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, nil, fmt.Errorf("ledger: create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("ledger: ping: %w", err)
	}
	s := NewStore(pool)
	if err := s.Migrate(ctx); err != nil {
		pool.Close()
		return nil, nil, err
	}
	return s, pool, nil
}

// Migrate executes the [Schema] DDL.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("ledger: migrate: %w", err)
	}
	return nil
}

// CreateSession mints a meeting session row and returns it.
func (s *Store) CreateSession(ctx context.Context, title string) (MeetingSession, error) {
	ms := MeetingSession{ID: uuid.NewString(), Title: title}

	const q = `
		INSERT INTO meeting_sessions (id, title)
		VALUES ($1, $2)
		RETURNING started_at`

	if err := s.db.QueryRow(ctx, q, ms.ID, ms.Title).Scan(&ms.StartedAt); err != nil {
		return MeetingSession{}, fmt.Errorf("ledger: create session: %w", err)
	}
	return ms, nil
}

// GetSession fetches one meeting session. Returns [ErrNotFound] when no row
// with the given id exists.
func (s *Store) GetSession(ctx context.Context, id string) (MeetingSession, error) {
	const q = `SELECT id, title, started_at FROM meeting_sessions WHERE id = $1`

	var ms MeetingSession
	err := s.db.QueryRow(ctx, q, id).Scan(&ms.ID, &ms.Title, &ms.StartedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return MeetingSession{}, fmt.Errorf("%w: session %q", ErrNotFound, id)
	}
	if err != nil {
		return MeetingSession{}, fmt.Errorf("ledger: get session: %w", err)
	}
	return ms, nil
}

// RecordStop persists the recording produced by a completed session. The
// duration estimate comes from the artifact's on-disk size; a missing or
// unreadable artifact records a zero estimate rather than failing the stop.
func (s *Store) RecordStop(ctx context.Context, sessionID, filePath string, startedAt, stoppedAt time.Time) (Recording, error) {
	rec := Recording{
		SessionID: sessionID,
		FilePath:  filePath,
		StartedAt: startedAt,
		StoppedAt: stoppedAt,
	}
	if fi, err := os.Stat(filePath); err == nil {
		rec.DurationEstimate = EstimateDuration(fi.Size())
	}

	const q = `
		INSERT INTO recordings (session_id, file_path, started_at, stopped_at, duration_estimate_ms)
		VALUES ($1, $2, $3, $4, $5)`

	_, err := s.db.Exec(ctx, q,
		rec.SessionID, rec.FilePath, rec.StartedAt, rec.StoppedAt,
		rec.DurationEstimate.Milliseconds(),
	)
	if err != nil {
		return Recording{}, fmt.Errorf("ledger: record stop: %w", err)
	}
	return rec, nil
}

// EstimateDuration converts an artifact's raw byte size to estimated audio
// duration under the fixed 32,000 bytes/second payload rate, after the fixed
// header offset. Sizes at or below the header estimate as zero.
func EstimateDuration(sizeBytes int64) time.Duration {
	payload := sizeBytes - wavHeaderBytes
	if payload <= 0 {
		return 0
	}
	return time.Duration(payload) * time.Second / bytesPerSecond
}

// AppendSegment appends one transcript row for sessionID.
func (s *Store) AppendSegment(ctx context.Context, sessionID string, seg SegmentRow) error {
	const q = `
		INSERT INTO transcript_segments (session_id, speaker_id, text, start_ms, end_ms)
		VALUES ($1, $2, $3, $4, $5)`

	_, err := s.db.Exec(ctx, q, sessionID, seg.SpeakerID, seg.Text, seg.StartMs, seg.EndMs)
	if err != nil {
		return fmt.Errorf("ledger: append segment: %w", err)
	}
	return nil
}

// Segments returns all transcript rows for sessionID in the order they were
// received.
func (s *Store) Segments(ctx context.Context, sessionID string) ([]SegmentRow, error) {
	const q = `
		SELECT id, session_id, speaker_id, COALESCE(speaker_name, ''), text, start_ms, end_ms
		FROM   transcript_segments
		WHERE  session_id = $1
		ORDER  BY id`

	rows, err := s.db.Query(ctx, q, sessionID)
	if err != nil {
		return nil, fmt.Errorf("ledger: segments: %w", err)
	}
	defer rows.Close()

	var out []SegmentRow
	for rows.Next() {
		var r SegmentRow
		if err := rows.Scan(&r.ID, &r.SessionID, &r.SpeakerID, &r.SpeakerName, &r.Text, &r.StartMs, &r.EndMs); err != nil {
			return nil, fmt.Errorf("ledger: scan segment: %w", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ledger: segments: %w", err)
	}
	return out, nil
}

// RenameSpeaker attaches a display name to every transcript row in sessionID
// sharing speakerID. Returns the number of rows rewritten.
func (s *Store) RenameSpeaker(ctx context.Context, sessionID, speakerID, name string) (int64, error) {
	const q = `
		UPDATE transcript_segments
		SET    speaker_name = $3
		WHERE  session_id = $1 AND speaker_id = $2`

	tag, err := s.db.Exec(ctx, q, sessionID, speakerID, name)
	if err != nil {
		return 0, fmt.Errorf("ledger: rename speaker: %w", err)
	}
	return tag.RowsAffected(), nil
}

// SpeakerNames returns the distinct display names ever assigned via
// [Store.RenameSpeaker], most recently used first. Used to seed rename
// suggestions.
func (s *Store) SpeakerNames(ctx context.Context) ([]string, error) {
	const q = `
		SELECT speaker_name
		FROM   transcript_segments
		WHERE  speaker_name IS NOT NULL AND speaker_name <> ''
		GROUP  BY speaker_name
		ORDER  BY max(id) DESC`

	rows, err := s.db.Query(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("ledger: speaker names: %w", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var n string
		if err := rows.Scan(&n); err != nil {
			return nil, fmt.Errorf("ledger: scan speaker name: %w", err)
		}
		names = append(names, n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ledger: speaker names: %w", err)
	}
	return names, nil
}
