// Package api serves the local HTTP control surface consumed by the UI
// layer: recording commands, input device queries, the live event stream,
// transcript access, and health/metrics endpoints. The server binds to
// loopback; it is not an outward-facing API.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/meetmate/meetmate/internal/health"
	"github.com/meetmate/meetmate/internal/ledger"
	"github.com/meetmate/meetmate/internal/observe"
	"github.com/meetmate/meetmate/internal/speaker"
	"github.com/meetmate/meetmate/internal/wire"
)

// noDeadline clears a connection's write deadline for streaming responses.
var noDeadline = time.Time{}

// Backend is the application surface the control server exposes. *app.App is
// the production implementation; tests substitute fakes.
type Backend interface {
	// StartRecording begins a recording session and returns its id. When
	// sessionID is empty a new meeting session is minted.
	StartRecording(ctx context.Context, sessionID string, inputDeviceID *int) (string, error)

	// StopRecording ends the session. The returned path is empty when no
	// artifact was confirmed. It always resolves.
	StopRecording(ctx context.Context) string

	// Recording reports whether a session is currently active.
	Recording() bool

	// ListInputs queries the audio service for capture devices.
	ListInputs(ctx context.Context) ([]wire.InputDevice, error)

	// Segments returns the persisted transcript rows for a session.
	Segments(ctx context.Context, sessionID string) ([]ledger.SegmentRow, error)

	// RenameSpeaker attaches a display name to all rows sharing a speaker id
	// and returns the number of rows rewritten.
	RenameSpeaker(ctx context.Context, sessionID, speakerID, name string) (int64, error)

	// SuggestSpeakers ranks previously used display names against query.
	SuggestSpeakers(ctx context.Context, query string) ([]speaker.Suggestion, error)
}

// Server is the control HTTP server.
type Server struct {
	backend Backend
	hub     *Hub
	srv     *http.Server
}

// NewServer builds the control server on addr. The health handler and
// metrics are wired into the route table; pass observe.DefaultMetrics()
// outside of tests.
func NewServer(addr string, backend Backend, hub *Hub, hc *health.Handler, m *observe.Metrics) *Server {
	s := &Server{backend: backend, hub: hub}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/recording/start", s.handleStart)
	mux.HandleFunc("POST /api/recording/stop", s.handleStop)
	mux.HandleFunc("GET /api/recording/status", s.handleStatus)
	mux.HandleFunc("GET /api/inputs", s.handleInputs)
	mux.HandleFunc("GET /api/events", hub.serveEvents)
	mux.HandleFunc("GET /api/sessions/{id}/segments", s.handleSegments)
	mux.HandleFunc("POST /api/sessions/{id}/speakers/rename", s.handleRename)
	mux.HandleFunc("GET /api/speakers/suggest", s.handleSuggest)
	mux.HandleFunc("GET /healthz", hc.Healthz)
	mux.HandleFunc("GET /readyz", hc.Readyz)
	mux.Handle("GET /metrics", promhttp.Handler())

	s.srv = &http.Server{
		Addr:              addr,
		Handler:           observe.Middleware(m)(mux),
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// Handler returns the server's root handler, for tests.
func (s *Server) Handler() http.Handler { return s.srv.Handler }

// ListenAndServe serves until the listener fails or [Server.Shutdown] runs.
func (s *Server) ListenAndServe() error {
	err := s.srv.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

// ─── handlers ────────────────────────────────────────────────────────────────

type startRequest struct {
	SessionID     string `json:"session_id"`
	InputDeviceID *int   `json:"input_device_id"`
}

type startResponse struct {
	Success   bool   `json:"success"`
	Error     string `json:"error,omitempty"`
	SessionID string `json:"session_id,omitempty"`
}

// handleStart maps the UI's start command onto the session manager. Failures
// are reported in the response body, not as transport errors: the UI shows
// the reason and offers a fresh attempt.
func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	var req startRequest
	// An empty body means "mint a session, default device".
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeJSON(w, http.StatusBadRequest, startResponse{Error: "invalid request body"})
		return
	}

	sessionID, err := s.backend.StartRecording(r.Context(), req.SessionID, req.InputDeviceID)
	if err != nil {
		observe.Logger(r.Context()).Warn("api: start failed", "session_id", req.SessionID, "err", err)
		writeJSON(w, http.StatusOK, startResponse{Success: false, Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, startResponse{Success: true, SessionID: sessionID})
}

type stopResponse struct {
	AudioPath *string `json:"audio_path"`
}

// handleStop always answers 200: a missing confirmation is reported as a
// null audio path, never as an error.
func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	path := s.backend.StopRecording(r.Context())
	resp := stopResponse{}
	if path != "" {
		resp.AudioPath = &path
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]bool{"recording": s.backend.Recording()})
}

func (s *Server) handleInputs(w http.ResponseWriter, r *http.Request) {
	devices, err := s.backend.ListInputs(r.Context())
	if err != nil {
		writeError(w, http.StatusBadGateway, err)
		return
	}
	if devices == nil {
		devices = []wire.InputDevice{}
	}
	writeJSON(w, http.StatusOK, devices)
}

func (s *Server) handleSegments(w http.ResponseWriter, r *http.Request) {
	rows, err := s.backend.Segments(r.Context(), r.PathValue("id"))
	if err != nil {
		if errors.Is(err, ledger.ErrNotFound) {
			writeError(w, http.StatusNotFound, err)
			return
		}
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if rows == nil {
		rows = []ledger.SegmentRow{}
	}
	writeJSON(w, http.StatusOK, rows)
}

type renameRequest struct {
	SpeakerID string `json:"speaker_id"`
	Name      string `json:"name"`
}

func (s *Server) handleRename(w http.ResponseWriter, r *http.Request) {
	var req renameRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, errors.New("invalid request body"))
		return
	}
	if req.SpeakerID == "" || req.Name == "" {
		writeError(w, http.StatusBadRequest, errors.New("speaker_id and name are required"))
		return
	}

	if _, err := s.backend.RenameSpeaker(r.Context(), r.PathValue("id"), req.SpeakerID, req.Name); err != nil {
		if errors.Is(err, ledger.ErrNotFound) {
			writeError(w, http.StatusNotFound, err)
			return
		}
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleSuggest(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query().Get("q")
	if q == "" {
		writeJSON(w, http.StatusOK, []speaker.Suggestion{})
		return
	}
	suggestions, err := s.backend.SuggestSpeakers(r.Context(), q)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if suggestions == nil {
		suggestions = []speaker.Suggestion{}
	}
	writeJSON(w, http.StatusOK, suggestions)
}

// ─── helpers ─────────────────────────────────────────────────────────────────

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
