package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"

	"github.com/meetmate/meetmate/internal/session"
)

// event is one Server-Sent Event queued for delivery: a name ("segment" or
// "state") and a pre-marshalled JSON payload.
type event struct {
	name string
	data []byte
}

// segmentPayload is the SSE body for transcript segments.
type segmentPayload struct {
	SessionID string `json:"session_id"`
	SpeakerID string `json:"speaker_id"`
	Text      string `json:"text"`
	StartMs   int64  `json:"start_ms"`
	EndMs     int64  `json:"end_ms"`
}

// statePayload is the SSE body for recording-state changes.
type statePayload struct {
	Recording bool   `json:"recording"`
	Error     string `json:"error,omitempty"`
}

// Hub fans live session events out to connected UI clients over SSE.
// All methods are safe for concurrent use.
type Hub struct {
	mu   sync.Mutex
	subs map[chan event]struct{}
}

// NewHub creates an empty Hub.
func NewHub() *Hub {
	return &Hub{subs: make(map[chan event]struct{})}
}

// PublishSegment pushes one transcript segment to all subscribers.
func (h *Hub) PublishSegment(sessionID string, seg session.Segment) {
	data, err := json.Marshal(segmentPayload{
		SessionID: sessionID,
		SpeakerID: seg.SpeakerID,
		Text:      seg.Text,
		StartMs:   seg.StartMs,
		EndMs:     seg.EndMs,
	})
	if err != nil {
		return
	}
	h.broadcast(event{name: "segment", data: data})
}

// PublishState pushes one recording-state change to all subscribers.
func (h *Hub) PublishState(st session.RecordingState) {
	data, err := json.Marshal(statePayload{Recording: st.Recording, Error: st.Err})
	if err != nil {
		return
	}
	h.broadcast(event{name: "state", data: data})
}

// broadcast delivers ev to every subscriber. Slow clients whose buffers are
// full drop the event rather than blocking the session manager's callback.
func (h *Hub) broadcast(ev event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for ch := range h.subs {
		select {
		case ch <- ev:
		default:
			slog.Debug("api: dropping event for slow subscriber", "event", ev.name)
		}
	}
}

// subscribe registers a new subscriber channel.
func (h *Hub) subscribe() chan event {
	ch := make(chan event, 64)
	h.mu.Lock()
	h.subs[ch] = struct{}{}
	h.mu.Unlock()
	return ch
}

// unsubscribe removes a subscriber channel.
func (h *Hub) unsubscribe(ch chan event) {
	h.mu.Lock()
	delete(h.subs, ch)
	h.mu.Unlock()
}

// serveEvents streams hub events to one client until the client disconnects.
func (h *Hub) serveEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	// SSE connections are long-lived; lift the server's write deadline.
	rc := http.NewResponseController(w)
	_ = rc.SetWriteDeadline(noDeadline)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ch := h.subscribe()
	defer h.unsubscribe(ch)

	for {
		select {
		case ev := <-ch:
			if _, err := w.Write([]byte("event: " + ev.name + "\ndata: " + string(ev.data) + "\n\n")); err != nil {
				return
			}
			flusher.Flush()
		case <-r.Context().Done():
			return
		}
	}
}
