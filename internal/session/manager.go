// Package session implements the transcription session manager: the state
// machine that owns the exclusive control connection to the MeetMate audio
// service and drives it through the start/running/stop protocol.
//
// The manager exposes a small command surface (Start, Stop, Status,
// ListInputs) and two outbound event streams delivered through callbacks:
// transcript segments and recording-state changes. Only one session
// connection exists at any instant; issuing Start while a previous attempt is
// pending or active tears the previous connection down first ("last start
// wins").
//
// All exported methods are safe for concurrent use.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/meetmate/meetmate/internal/socket"
	"github.com/meetmate/meetmate/internal/wire"
)

// Default timeout bounds. The stop bound is generous so the peer can flush a
// final transcription chunk and finalize the audio artifact.
const (
	DefaultConnectTimeout = 5 * time.Second
	DefaultStopTimeout    = 60 * time.Second
)

// State is the session manager's lifecycle state.
type State int

const (
	// StateIdle means no connection exists.
	StateIdle State = iota

	// StateConnecting means the socket is open and the start handshake is
	// awaiting the service's ready reply.
	StateConnecting

	// StateActive means ready was received and recording is in progress.
	StateActive

	// StateStopping means stop was sent and the manager awaits confirmation.
	StateStopping
)

// String returns the lowercase state name.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateActive:
		return "active"
	case StateStopping:
		return "stopping"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// RecordingState is the single source of truth broadcast to the UI layer.
// Recording is true iff a connection is open and has completed its start
// handshake. Err carries the reason when recording ended abnormally.
type RecordingState struct {
	Recording bool
	Err       string
}

// Segment is one attributed, timestamped span of transcribed speech,
// forwarded verbatim in the order the service sent it.
type Segment struct {
	SpeakerID string
	Text      string
	StartMs   int64
	EndMs     int64
}

// Info describes the session currently owned by the manager.
type Info struct {
	SessionID  string
	OutputPath string
	StartedAt  time.Time
}

// StartOptions carries the transcription and diarization configuration sent
// with the start command.
type StartOptions struct {
	InputDeviceID             *int
	Mode                      string
	DiarizationEnabled        bool
	HuggingFaceToken          string
	LocalDiarizationModelPath string
	DeepgramAPIKey            string
	DeepgramModel             string
}

// Config holds all dependencies for a [Manager].
type Config struct {
	// ServiceURL is the audio service endpoint, e.g. "ws://127.0.0.1:8765".
	ServiceURL string

	// Dialer establishes connections. Production code passes a
	// [socket.Client]; tests pass a scripted fake.
	Dialer socket.Dialer

	// ConnectTimeout bounds the start handshake and list_inputs queries.
	// Zero means [DefaultConnectTimeout].
	ConnectTimeout time.Duration

	// StopTimeout bounds the wait for stop confirmation.
	// Zero means [DefaultStopTimeout].
	StopTimeout time.Duration

	// OnSegment is invoked for every segment received while a session is
	// active or stopping. May be nil.
	OnSegment func(sessionID string, seg Segment)

	// OnStateChanged is invoked exactly once per transition into or out of
	// the active state. May be nil.
	OnStateChanged func(st RecordingState)
}

// Manager is the transcription session state machine.
type Manager struct {
	url            string
	dialer         socket.Dialer
	connectTimeout time.Duration
	stopTimeout    time.Duration
	onSegment      func(string, Segment)
	onState        func(RecordingState)

	mu        sync.Mutex
	state     State
	conn      socket.Conn
	gen       uint64 // bumped per start attempt; stale connection events are dropped
	info      Info
	recording bool
	pending   *pendingOp
}

// opKind discriminates the operation a pendingOp settles.
type opKind int

const (
	opStart opKind = iota
	opStop
)

// pendingOp is the single in-flight start or stop operation. It settles
// exactly once: result fields are written before done is closed and never
// written again.
type pendingOp struct {
	kind    opKind
	timer   *time.Timer
	done    chan struct{}
	settled bool

	err       error  // start result
	audioPath string // stop result; empty when nothing was confirmed
}

// ErrSuperseded is the failure reason of a start attempt torn down by a
// newer start ("last start wins").
var ErrSuperseded = errors.New("session: superseded by a newer start")

// ErrStopped is the failure reason of a start attempt aborted by stop
// before the ready handshake completed.
var ErrStopped = errors.New("session: stopped before ready")

// NewManager creates a Manager in the idle state.
func NewManager(cfg Config) *Manager {
	m := &Manager{
		url:            cfg.ServiceURL,
		dialer:         cfg.Dialer,
		connectTimeout: cfg.ConnectTimeout,
		stopTimeout:    cfg.StopTimeout,
		onSegment:      cfg.OnSegment,
		onState:        cfg.OnStateChanged,
	}
	if m.connectTimeout <= 0 {
		m.connectTimeout = DefaultConnectTimeout
	}
	if m.stopTimeout <= 0 {
		m.stopTimeout = DefaultStopTimeout
	}
	return m
}

// Start begins recording sessionID, writing the audio artifact to outputPath.
// It blocks until the service confirms with ready, replies with an error,
// the connect timeout fires, or ctx is cancelled.
//
// Calling Start while a previous session is connecting or active tears the
// previous connection down first; the superseded start attempt fails with
// [ErrSuperseded].
func (m *Manager) Start(ctx context.Context, sessionID, outputPath string, opts StartOptions) error {
	var after []func()

	m.mu.Lock()
	// Last start wins: tear down whatever is in flight.
	after = append(after, m.teardownLocked(ErrSuperseded, "")...)

	m.gen++
	gen := m.gen
	m.state = StateConnecting
	m.info = Info{SessionID: sessionID, OutputPath: outputPath, StartedAt: time.Now().UTC()}
	p := &pendingOp{kind: opStart, done: make(chan struct{})}
	m.pending = p
	m.mu.Unlock()
	runAll(after)

	slog.Info("session: starting", "session_id", sessionID, "output_path", outputPath, "mode", opts.Mode)

	// The connect bound covers the dial too, not just the ready wait: a
	// blackholed endpoint must not hang Start past the timeout.
	dialCtx, cancel := context.WithTimeout(ctx, m.connectTimeout)
	conn, err := m.dialer.OpenSession(dialCtx, m.url)
	cancel()

	m.mu.Lock()
	if p.settled {
		// A stop or newer start aborted this attempt while dialing.
		res := p.err
		m.mu.Unlock()
		if conn != nil {
			conn.Close()
		}
		return res
	}
	if err != nil {
		m.settleStartLocked(p, fmt.Errorf("session: connect: %w", err))
		m.state = StateIdle
		m.mu.Unlock()
		return p.err
	}
	m.conn = conn
	p.timer = time.AfterFunc(m.connectTimeout, func() { m.opTimeout(p, gen) })
	m.mu.Unlock()

	go m.consume(gen, conn)

	cmd := wire.Start{
		SessionID:                 sessionID,
		OutputPath:                outputPath,
		InputDeviceID:             opts.InputDeviceID,
		TranscriptionMode:         opts.Mode,
		DiarizationEnabled:        opts.DiarizationEnabled,
		HuggingFaceToken:          opts.HuggingFaceToken,
		LocalDiarizationModelPath: opts.LocalDiarizationModelPath,
		DeepgramAPIKey:            opts.DeepgramAPIKey,
		DeepgramModel:             opts.DeepgramModel,
	}
	if err := conn.Send(ctx, cmd); err != nil {
		m.mu.Lock()
		after = m.failConnectLocked(gen, p, fmt.Errorf("session: send start: %w", err))
		m.mu.Unlock()
		runAll(after)
		return p.err
	}

	select {
	case <-p.done:
	case <-ctx.Done():
		m.mu.Lock()
		after = m.failConnectLocked(gen, p, fmt.Errorf("session: start: %w", ctx.Err()))
		m.mu.Unlock()
		runAll(after)
	}
	return p.err
}

// Stop ends the session. It always resolves: the returned audio path is empty
// when nothing was confirmed (no active session, stop timeout, or connection
// failure). A missing confirmation never blocks shutdown beyond the stop
// timeout bound.
//
// Calling Stop while the start handshake is pending aborts the connect.
func (m *Manager) Stop(ctx context.Context, sessionID string) string {
	var after []func()

	m.mu.Lock()
	if sessionID != "" && m.info.SessionID != "" && sessionID != m.info.SessionID {
		slog.Warn("session: stop for unknown session", "requested", sessionID, "current", m.info.SessionID)
	}

	switch m.state {
	case StateIdle:
		m.mu.Unlock()
		return ""

	case StateConnecting:
		after = m.teardownLocked(ErrStopped, "")
		m.mu.Unlock()
		runAll(after)
		return ""

	case StateStopping:
		// A stop is already in flight; wait for the same confirmation.
		p := m.pending
		m.mu.Unlock()
		if p == nil {
			return ""
		}
		return m.awaitStop(ctx, p)
	}

	// StateActive.
	conn := m.conn
	gen := m.gen
	p := &pendingOp{kind: opStop, done: make(chan struct{})}
	m.pending = p
	m.state = StateStopping
	p.timer = time.AfterFunc(m.stopTimeout, func() { m.opTimeout(p, gen) })
	sid := m.info.SessionID
	m.mu.Unlock()

	slog.Info("session: stopping", "session_id", sid)

	if err := conn.Send(ctx, wire.Stop{}); err != nil {
		m.mu.Lock()
		if !p.settled {
			m.settleStopLocked(p, "")
			after = m.teardownConnLocked(err.Error())
		}
		m.mu.Unlock()
		runAll(after)
		return ""
	}
	return m.awaitStop(ctx, p)
}

// awaitStop waits for p to settle, forcing teardown if ctx ends first.
func (m *Manager) awaitStop(ctx context.Context, p *pendingOp) string {
	select {
	case <-p.done:
	case <-ctx.Done():
		m.mu.Lock()
		var after []func()
		if !p.settled {
			m.settleStopLocked(p, "")
			after = m.teardownConnLocked("")
		}
		m.mu.Unlock()
		runAll(after)
	}
	return p.audioPath
}

// Status reports whether a session is active: the connection is open and has
// completed its start handshake. Pure read, no I/O.
func (m *Manager) Status() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state == StateActive
}

// State returns the current lifecycle state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Info returns metadata about the session currently owned by the manager.
// Zero value when idle.
func (m *Manager) Info() Info {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state == StateIdle {
		return Info{}
	}
	return m.info
}

// ListInputs fetches a snapshot of the service's capture devices over an
// independent short-lived connection. The connection is closed on every
// return path; the main session connection is not touched.
func (m *Manager) ListInputs(ctx context.Context) ([]wire.InputDevice, error) {
	dialCtx, cancel := context.WithTimeout(ctx, m.connectTimeout)
	conn, err := m.dialer.DialQuery(dialCtx, m.url)
	cancel()
	if err != nil {
		return nil, fmt.Errorf("session: list inputs: %w", err)
	}
	defer conn.Close()

	if err := conn.Send(ctx, wire.ListInputs{}); err != nil {
		return nil, fmt.Errorf("session: list inputs: %w", err)
	}

	timer := time.NewTimer(m.connectTimeout)
	defer timer.Stop()

	for {
		select {
		case ev, ok := <-conn.Events():
			if !ok {
				return nil, errors.New("session: list inputs: connection closed")
			}
			if ev.Err != nil {
				return nil, fmt.Errorf("session: list inputs: %w", ev.Err)
			}
			switch msg := ev.Msg.(type) {
			case wire.Inputs:
				return msg.Devices, nil
			case wire.Error:
				return nil, fmt.Errorf("session: list inputs: %s", msg.Message)
			default:
				// Not a reply to list_inputs; keep waiting.
			}
		case <-timer.C:
			return nil, errors.New("session: list inputs: timed out")
		case <-ctx.Done():
			return nil, fmt.Errorf("session: list inputs: %w", ctx.Err())
		}
	}
}

// ─── event handling ──────────────────────────────────────────────────────────

// consume feeds events from one connection into the state machine until the
// connection ends. Transition logic runs synchronously per event, so no two
// transitions race on the same connection.
func (m *Manager) consume(gen uint64, conn socket.Conn) {
	for ev := range conn.Events() {
		if ev.Err != nil {
			m.connLost(gen, ev.Err)
			return
		}
		m.handleMessage(gen, ev.Msg)
	}
	m.connLost(gen, errors.New("session: connection closed"))
}

// handleMessage applies one inbound message to the state machine.
func (m *Manager) handleMessage(gen uint64, msg wire.Message) {
	var after []func()

	m.mu.Lock()
	if gen != m.gen {
		// Stale connection; its listeners were detached.
		m.mu.Unlock()
		return
	}

	switch msg := msg.(type) {
	case wire.Ready:
		if m.state == StateConnecting && m.pending != nil && m.pending.kind == opStart {
			m.settleStartLocked(m.pending, nil)
			m.state = StateActive
			after = append(after, m.setRecordingLocked(true, ""))
			slog.Info("session: active", "session_id", m.info.SessionID)
		}

	case wire.Segment:
		// Segments arriving while stopping are the peer's final flush and
		// are forwarded the same as active-state segments.
		if m.state == StateActive || m.state == StateStopping {
			after = append(after, m.forwardSegmentLocked(msg))
		}

	case wire.Stopped:
		if m.state == StateStopping && m.pending != nil {
			m.settleStopLocked(m.pending, msg.AudioPath)
			after = append(after, m.teardownConnLocked("")...)
			slog.Info("session: stopped", "session_id", m.info.SessionID, "audio_path", msg.AudioPath)
		}

	case wire.Error:
		after = m.handleErrorLocked(msg.Message)

	case wire.Inputs:
		// Replies to list_inputs never arrive on the session connection.
	}
	m.mu.Unlock()
	runAll(after)
}

// handleErrorLocked applies a protocol-level error message.
func (m *Manager) handleErrorLocked(reason string) []func() {
	switch m.state {
	case StateConnecting:
		if m.pending != nil {
			m.settleStartLocked(m.pending, fmt.Errorf("session: service error: %s", reason))
		}
		return m.teardownConnLocked("")
	case StateActive:
		slog.Warn("session: service error while active", "session_id", m.info.SessionID, "message", reason)
		return m.teardownConnLocked(reason)
	case StateStopping:
		if m.pending != nil {
			m.settleStopLocked(m.pending, "")
		}
		return m.teardownConnLocked(reason)
	}
	return nil
}

// connLost handles the session connection ending, either from a read error
// or from the event channel closing.
func (m *Manager) connLost(gen uint64, cause error) {
	var after []func()

	m.mu.Lock()
	if gen != m.gen || m.state == StateIdle {
		m.mu.Unlock()
		return
	}

	switch m.state {
	case StateConnecting:
		if m.pending != nil {
			m.settleStartLocked(m.pending, fmt.Errorf("session: %w", cause))
		}
		after = m.teardownConnLocked("")
	case StateActive:
		slog.Warn("session: connection lost", "session_id", m.info.SessionID, "err", cause)
		after = m.teardownConnLocked(cause.Error())
	case StateStopping:
		if m.pending != nil {
			m.settleStopLocked(m.pending, "")
		}
		after = m.teardownConnLocked("")
	}
	m.mu.Unlock()
	runAll(after)
}

// opTimeout fires when an in-flight operation's timer expires. The timer is
// cancelled the instant a terminal reply arrives, and the settled guard makes
// a stale firing harmless.
func (m *Manager) opTimeout(p *pendingOp, gen uint64) {
	var after []func()

	m.mu.Lock()
	if p.settled || gen != m.gen {
		m.mu.Unlock()
		return
	}
	switch p.kind {
	case opStart:
		m.settleStartLocked(p, errors.New("session: timed out waiting for ready"))
		after = m.teardownConnLocked("")
	case opStop:
		slog.Warn("session: stop confirmation timed out; forcing close", "session_id", m.info.SessionID)
		m.settleStopLocked(p, "")
		after = m.teardownConnLocked("")
	}
	m.mu.Unlock()
	runAll(after)
}

// ─── locked helpers ──────────────────────────────────────────────────────────

// settleStartLocked resolves a start operation exactly once.
func (m *Manager) settleStartLocked(p *pendingOp, err error) {
	if p.settled {
		return
	}
	p.settled = true
	if p.timer != nil {
		p.timer.Stop()
	}
	p.err = err
	close(p.done)
	if m.pending == p {
		m.pending = nil
	}
}

// settleStopLocked resolves a stop operation exactly once.
func (m *Manager) settleStopLocked(p *pendingOp, audioPath string) {
	if p.settled {
		return
	}
	p.settled = true
	if p.timer != nil {
		p.timer.Stop()
	}
	p.audioPath = audioPath
	close(p.done)
	if m.pending == p {
		m.pending = nil
	}
}

// teardownConnLocked closes the session connection, returns to idle, and
// reports the recording-state broadcast to run after unlock. errMsg is the
// abnormal-end reason shown to the UI, empty for clean stops.
func (m *Manager) teardownConnLocked(errMsg string) []func() {
	var after []func()
	if conn := m.conn; conn != nil {
		m.conn = nil
		after = append(after, conn.Close)
	}
	m.state = StateIdle
	if f := m.setRecordingLocked(false, errMsg); f != nil {
		after = append(after, f)
	}
	return after
}

// teardownLocked aborts any in-flight operation with reason and tears the
// connection down. Used by last-start-wins and by stop-before-ready.
func (m *Manager) teardownLocked(reason error, errMsg string) []func() {
	if p := m.pending; p != nil {
		switch p.kind {
		case opStart:
			m.settleStartLocked(p, reason)
		case opStop:
			m.settleStopLocked(p, "")
		}
	}
	if m.state == StateIdle && m.conn == nil {
		return nil
	}
	return m.teardownConnLocked(errMsg)
}

// setRecordingLocked updates the recording flag and returns the broadcast to
// run after unlock, or nil when the flag did not change. This is the only
// path through which the UI learns recording status, so it must fire exactly
// once per transition.
func (m *Manager) setRecordingLocked(rec bool, errMsg string) func() {
	if m.recording == rec {
		return nil
	}
	m.recording = rec
	handler := m.onState
	if handler == nil {
		return nil
	}
	st := RecordingState{Recording: rec, Err: errMsg}
	return func() { handler(st) }
}

// forwardSegmentLocked captures the segment callback for invocation after
// unlock. Segments are forwarded verbatim: no buffering, reordering, or
// deduplication.
func (m *Manager) forwardSegmentLocked(msg wire.Segment) func() {
	handler := m.onSegment
	if handler == nil {
		return nil
	}
	sid := m.info.SessionID
	seg := Segment{SpeakerID: msg.Speaker, Text: msg.Text, StartMs: msg.StartMs, EndMs: msg.EndMs}
	return func() { handler(sid, seg) }
}

// failConnectLocked settles a start attempt that failed after the connection
// was opened.
func (m *Manager) failConnectLocked(gen uint64, p *pendingOp, err error) []func() {
	if p.settled || gen != m.gen {
		return nil
	}
	m.settleStartLocked(p, err)
	return m.teardownConnLocked("")
}

// runAll invokes deferred callbacks in order, outside the manager lock.
func runAll(fns []func()) {
	for _, f := range fns {
		if f != nil {
			f()
		}
	}
}
