// Package app wires the MeetMate subsystems into a running backend.
//
// The App struct owns the full lifecycle: New creates and connects the
// ledger, session manager, event hub, and control server; Run serves until
// the context ends; Shutdown finalizes any in-progress recording session and
// tears everything down in order.
//
// App is also the control server's backend: it mediates between the session
// manager and the recording ledger, so the glue that persists artifacts and
// segments lives here rather than in either collaborator.
//
// For testing, inject fakes via functional options (WithStore, WithDialer,
// WithMetrics). When an option is not provided, New creates real
// implementations from the config.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/sync/errgroup"

	"github.com/meetmate/meetmate/internal/api"
	"github.com/meetmate/meetmate/internal/config"
	"github.com/meetmate/meetmate/internal/health"
	"github.com/meetmate/meetmate/internal/ledger"
	"github.com/meetmate/meetmate/internal/observe"
	"github.com/meetmate/meetmate/internal/session"
	"github.com/meetmate/meetmate/internal/socket"
	"github.com/meetmate/meetmate/internal/speaker"
	"github.com/meetmate/meetmate/internal/wire"
)

// persistTimeout bounds ledger writes triggered by session events, which run
// outside any request context.
const persistTimeout = 5 * time.Second

// App owns all subsystem lifetimes.
type App struct {
	cfg     *config.Config
	store   *ledger.Store
	pool    *pgxpool.Pool
	dialer  socket.Dialer
	client  *socket.Client
	manager *session.Manager
	hub     *api.Hub
	server  *api.Server
	metrics *observe.Metrics
	matcher *speaker.Matcher

	// stopOnce guards the Shutdown path.
	stopOnce sync.Once
}

// Compile-time interface check.
var _ api.Backend = (*App)(nil)

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithStore injects a ledger store instead of opening one from config.
func WithStore(s *ledger.Store) Option {
	return func(a *App) { a.store = s }
}

// WithDialer injects a socket dialer instead of creating a [socket.Client].
func WithDialer(d socket.Dialer) Option {
	return func(a *App) { a.dialer = d }
}

// WithMetrics injects a metrics instance instead of the process default.
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// New creates an App by wiring all subsystems together.
func New(ctx context.Context, cfg *config.Config, opts ...Option) (*App, error) {
	a := &App{cfg: cfg}
	for _, o := range opts {
		o(a)
	}

	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}
	if a.store == nil {
		store, pool, err := ledger.Open(ctx, cfg.Storage.PostgresDSN)
		if err != nil {
			return nil, fmt.Errorf("app: open ledger: %w", err)
		}
		a.store = store
		a.pool = pool
	}
	if a.dialer == nil {
		a.client = socket.NewClient()
		a.dialer = a.client
	}

	a.hub = api.NewHub()
	a.matcher = speaker.New()
	a.manager = session.NewManager(session.Config{
		ServiceURL:     cfg.AudioService.URL,
		Dialer:         a.dialer,
		ConnectTimeout: cfg.AudioService.ConnectTimeout.Std(),
		StopTimeout:    cfg.AudioService.StopTimeout.Std(),
		OnSegment:      a.onSegment,
		OnStateChanged: a.onStateChanged,
	})

	hc := health.New(health.Checker{Name: "database", Check: a.pingStore})
	a.server = api.NewServer(cfg.Server.ListenAddr, a, a.hub, hc, a.metrics)

	return a, nil
}

// Run serves the control server until ctx ends, then stops listening. Final
// session teardown happens in [App.Shutdown], which main calls afterwards
// with its own bounded context.
func (a *App) Run(ctx context.Context) error {
	slog.Info("control server listening", "addr", a.cfg.Server.ListenAddr)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(a.server.ListenAndServe)
	g.Go(func() error {
		<-gctx.Done()
		stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return a.server.Shutdown(stopCtx)
	})
	return g.Wait()
}

// Shutdown finalizes any in-progress recording session with a bounded stop
// handshake — so the audio artifact is finalized rather than truncated
// mid-write — and then releases all resources. Safe to call more than once.
func (a *App) Shutdown(ctx context.Context) error {
	a.stopOnce.Do(func() {
		if a.manager.State() != session.StateIdle {
			slog.Info("shutdown: finalizing in-progress session")
			a.StopRecording(ctx)
		}
		if a.client != nil {
			a.client.Close()
		}
		if a.pool != nil {
			a.pool.Close()
		}
	})
	return nil
}

// ─── api.Backend ─────────────────────────────────────────────────────────────

// StartRecording implements [api.Backend]. An empty sessionID mints a new
// meeting session row; a non-empty one must already exist in the ledger.
func (a *App) StartRecording(ctx context.Context, sessionID string, inputDeviceID *int) (string, error) {
	if sessionID == "" {
		ms, err := a.store.CreateSession(ctx, "Meeting "+time.Now().Format("2006-01-02 15:04"))
		if err != nil {
			return "", err
		}
		sessionID = ms.ID
	} else if _, err := a.store.GetSession(ctx, sessionID); err != nil {
		return "", err
	}

	if err := os.MkdirAll(a.cfg.Recordings.Dir, 0o755); err != nil {
		return "", fmt.Errorf("app: create recordings dir: %w", err)
	}
	outputPath := filepath.Join(a.cfg.Recordings.Dir, sessionID+".wav")

	tc := a.cfg.Transcription
	if inputDeviceID == nil {
		inputDeviceID = tc.InputDeviceID
	}
	opts := session.StartOptions{
		InputDeviceID:             inputDeviceID,
		Mode:                      string(tc.Mode),
		DiarizationEnabled:        tc.DiarizationEnabled,
		HuggingFaceToken:          tc.HuggingFaceToken,
		LocalDiarizationModelPath: tc.LocalDiarizationModelPath,
		DeepgramAPIKey:            tc.Deepgram.APIKey,
		DeepgramModel:             tc.Deepgram.Model,
	}

	started := time.Now()
	err := a.manager.Start(ctx, sessionID, outputPath, opts)
	a.metrics.StartDuration.Record(ctx, time.Since(started).Seconds())
	if err != nil {
		a.metrics.RecordSessionStart(ctx, "error")
		a.metrics.RecordSessionError(ctx, "connect")
		return sessionID, err
	}
	a.metrics.RecordSessionStart(ctx, "ok")
	return sessionID, nil
}

// StopRecording implements [api.Backend]. When the service confirms an
// artifact, the recording is written to the ledger before returning.
func (a *App) StopRecording(ctx context.Context) string {
	info := a.manager.Info()

	started := time.Now()
	path := a.manager.Stop(ctx, info.SessionID)
	a.metrics.StopDuration.Record(ctx, time.Since(started).Seconds())

	if path != "" && info.SessionID != "" {
		pctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
		defer cancel()
		rec, err := a.store.RecordStop(pctx, info.SessionID, path, info.StartedAt, time.Now().UTC())
		if err != nil {
			slog.Warn("app: recording not persisted", "session_id", info.SessionID, "path", path, "err", err)
		} else {
			slog.Info("app: recording persisted",
				"session_id", info.SessionID,
				"path", path,
				"duration_estimate", rec.DurationEstimate,
			)
		}
	}
	return path
}

// Recording implements [api.Backend].
func (a *App) Recording() bool {
	return a.manager.Status()
}

// ListInputs implements [api.Backend].
func (a *App) ListInputs(ctx context.Context) ([]wire.InputDevice, error) {
	return a.manager.ListInputs(ctx)
}

// Segments implements [api.Backend].
func (a *App) Segments(ctx context.Context, sessionID string) ([]ledger.SegmentRow, error) {
	if _, err := a.store.GetSession(ctx, sessionID); err != nil {
		return nil, err
	}
	return a.store.Segments(ctx, sessionID)
}

// RenameSpeaker implements [api.Backend].
func (a *App) RenameSpeaker(ctx context.Context, sessionID, speakerID, name string) (int64, error) {
	if _, err := a.store.GetSession(ctx, sessionID); err != nil {
		return 0, err
	}
	return a.store.RenameSpeaker(ctx, sessionID, speakerID, name)
}

// SuggestSpeakers implements [api.Backend]. Candidates come from display
// names assigned in past rename operations, most recent first; ties in the
// ranking preserve that recency order.
func (a *App) SuggestSpeakers(ctx context.Context, query string) ([]speaker.Suggestion, error) {
	names, err := a.store.SpeakerNames(ctx)
	if err != nil {
		return nil, err
	}
	return a.matcher.Rank(query, names), nil
}

// ─── session event bridge ────────────────────────────────────────────────────

// onSegment persists one transcript segment and pushes it to the UI. It runs
// synchronously on the session manager's event path, so rows are inserted in
// the order the service sent them.
func (a *App) onSegment(sessionID string, seg session.Segment) {
	a.metrics.SegmentsReceived.Add(context.Background(), 1)

	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()
	err := a.store.AppendSegment(ctx, sessionID, ledger.SegmentRow{
		SpeakerID: seg.SpeakerID,
		Text:      seg.Text,
		StartMs:   seg.StartMs,
		EndMs:     seg.EndMs,
	})
	if err != nil {
		slog.Warn("app: segment not persisted", "session_id", sessionID, "err", err)
	}

	a.hub.PublishSegment(sessionID, seg)
}

// onStateChanged mirrors recording-state transitions into the active-session
// gauge and pushes them to the UI. The manager fires this exactly once per
// transition, so the gauge stays at 0 or 1.
func (a *App) onStateChanged(st session.RecordingState) {
	ctx := context.Background()
	if st.Recording {
		a.metrics.ActiveSessions.Add(ctx, 1)
	} else {
		a.metrics.ActiveSessions.Add(ctx, -1)
		if st.Err != "" {
			a.metrics.RecordSessionError(ctx, "active")
		}
	}
	a.hub.PublishState(st)
}

// pingStore is the database readiness check.
func (a *App) pingStore(ctx context.Context) error {
	if a.pool == nil {
		return nil
	}
	return a.pool.Ping(ctx)
}

// Manager returns the session manager, for tests and the shutdown path.
func (a *App) Manager() *session.Manager { return a.manager }
