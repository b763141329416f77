package ledger_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/meetmate/meetmate/internal/ledger"
)

// ── duration estimation ───────────────────────────────────────────────────────

func TestEstimateDuration(t *testing.T) {
	tests := []struct {
		name  string
		bytes int64
		want  time.Duration
	}{
		{"empty file", 0, 0},
		{"header only", 44, 0},
		{"below header", 30, 0},
		{"one second", 44 + 32000, time.Second},
		{"half second", 44 + 16000, 500 * time.Millisecond},
		{"one minute", 44 + 60*32000, time.Minute},
		{"one byte of payload", 45, time.Second / 32000},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ledger.EstimateDuration(tt.bytes); got != tt.want {
				t.Errorf("EstimateDuration(%d) = %v, want %v", tt.bytes, got, tt.want)
			}
		})
	}
}

// ── PostgreSQL integration ────────────────────────────────────────────────────

// testDSN returns the test database DSN from the environment, or skips the
// test if MEETMATE_TEST_POSTGRES_DSN is not set.
func testDSN(t *testing.T) string {
	t.Helper()
	dsn := os.Getenv("MEETMATE_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("MEETMATE_TEST_POSTGRES_DSN not set — skipping PostgreSQL integration tests")
	}
	return dsn
}

// newTestStore opens a fresh [ledger.Store] with a clean schema.
func newTestStore(t *testing.T) *ledger.Store {
	t.Helper()
	dsn := testDSN(t)
	ctx := context.Background()

	cleanPool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		t.Fatalf("pool: %v", err)
	}
	for _, stmt := range []string{
		"DROP TABLE IF EXISTS transcript_segments CASCADE",
		"DROP TABLE IF EXISTS recordings CASCADE",
		"DROP TABLE IF EXISTS meeting_sessions CASCADE",
	} {
		if _, err := cleanPool.Exec(ctx, stmt); err != nil {
			t.Fatalf("drop schema: %v", err)
		}
	}
	cleanPool.Close()

	store, pool, err := ledger.Open(ctx, dsn)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(pool.Close)
	return store
}

func TestStore_SessionRoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	ms, err := store.CreateSession(ctx, "Sprint planning")
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	if ms.ID == "" {
		t.Fatal("CreateSession returned an empty id")
	}

	got, err := store.GetSession(ctx, ms.ID)
	if err != nil {
		t.Fatalf("GetSession: %v", err)
	}
	if got.Title != "Sprint planning" {
		t.Errorf("title: got %q, want %q", got.Title, "Sprint planning")
	}

	if _, err := store.GetSession(ctx, "no-such-session"); !errors.Is(err, ledger.ErrNotFound) {
		t.Errorf("GetSession(missing): got %v, want ErrNotFound", err)
	}
}

func TestStore_SegmentsAndRename(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	ms, err := store.CreateSession(ctx, "Standup")
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}

	segs := []ledger.SegmentRow{
		{SpeakerID: "SPEAKER_00", Text: "first", StartMs: 0, EndMs: 800},
		{SpeakerID: "SPEAKER_01", Text: "second", StartMs: 800, EndMs: 1500},
		{SpeakerID: "SPEAKER_00", Text: "third", StartMs: 1500, EndMs: 2200},
	}
	for _, seg := range segs {
		if err := store.AppendSegment(ctx, ms.ID, seg); err != nil {
			t.Fatalf("AppendSegment: %v", err)
		}
	}

	got, err := store.Segments(ctx, ms.ID)
	if err != nil {
		t.Fatalf("Segments: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("segments: got %d, want 3", len(got))
	}
	for i, want := range segs {
		if got[i].Text != want.Text || got[i].SpeakerID != want.SpeakerID {
			t.Errorf("segment %d: got %+v, want text %q speaker %q", i, got[i], want.Text, want.SpeakerID)
		}
		if got[i].SpeakerName != "" {
			t.Errorf("segment %d: speaker_name %q before any rename", i, got[i].SpeakerName)
		}
	}

	n, err := store.RenameSpeaker(ctx, ms.ID, "SPEAKER_00", "Alice")
	if err != nil {
		t.Fatalf("RenameSpeaker: %v", err)
	}
	if n != 2 {
		t.Errorf("rows renamed: got %d, want 2", n)
	}

	got, err = store.Segments(ctx, ms.ID)
	if err != nil {
		t.Fatalf("Segments after rename: %v", err)
	}
	if got[0].SpeakerName != "Alice" || got[1].SpeakerName != "" || got[2].SpeakerName != "Alice" {
		t.Errorf("speaker names after rename: got %q, %q, %q", got[0].SpeakerName, got[1].SpeakerName, got[2].SpeakerName)
	}

	names, err := store.SpeakerNames(ctx)
	if err != nil {
		t.Fatalf("SpeakerNames: %v", err)
	}
	if len(names) != 1 || names[0] != "Alice" {
		t.Errorf("speaker names: got %v, want [Alice]", names)
	}
}

func TestStore_RecordStop(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	ms, err := store.CreateSession(ctx, "Recorded meeting")
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}

	// Two seconds of payload behind the header.
	path := filepath.Join(t.TempDir(), ms.ID+".wav")
	if err := os.WriteFile(path, make([]byte, 44+2*32000), 0o644); err != nil {
		t.Fatalf("write artifact: %v", err)
	}

	begun := time.Now().Add(-2 * time.Second)
	rec, err := store.RecordStop(ctx, ms.ID, path, begun, time.Now())
	if err != nil {
		t.Fatalf("RecordStop: %v", err)
	}
	if rec.DurationEstimate != 2*time.Second {
		t.Errorf("duration estimate: got %v, want 2s", rec.DurationEstimate)
	}
}

func TestStore_RecordStopMissingArtifact(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	ms, err := store.CreateSession(ctx, "Vanished artifact")
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}

	// The artifact is gone; the stop must still be recorded, with a zero
	// estimate.
	rec, err := store.RecordStop(ctx, ms.ID, "/nonexistent/path.wav", time.Now(), time.Now())
	if err != nil {
		t.Fatalf("RecordStop: %v", err)
	}
	if rec.DurationEstimate != 0 {
		t.Errorf("duration estimate: got %v, want 0 for a missing file", rec.DurationEstimate)
	}
}
