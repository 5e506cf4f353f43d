package api

import (
	crand "crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"

	"github.com/verdant-data/maturity.report/internal/decision"
	"github.com/verdant-data/maturity.report/internal/httputil"
)

// outputsHub fans decision updates out to SSE subscribers. Slow readers
// are skipped, never waited on, so publishing from the tick loop stays
// non-blocking.
type outputsHub struct {
	mu   sync.Mutex
	subs map[string]chan decision.Outputs
}

func newOutputsHub() *outputsHub {
	return &outputsHub{subs: make(map[string]chan decision.Outputs)}
}

// subscriberID generates a subscriber ID (8 random bytes, hex encoded).
func subscriberID() string {
	b := make([]byte, 8)
	crand.Read(b)
	return hex.EncodeToString(b)
}

func (h *outputsHub) subscribe() (string, chan decision.Outputs) {
	id := subscriberID()
	ch := make(chan decision.Outputs, 4)
	h.mu.Lock()
	defer h.mu.Unlock()
	h.subs[id] = ch
	return id, ch
}

func (h *outputsHub) unsubscribe(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if ch, ok := h.subs[id]; ok {
		close(ch)
		delete(h.subs, id)
	}
}

func (h *outputsHub) publish(out decision.Outputs) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, ch := range h.subs {
		select {
		case ch <- out:
		default:
			// subscriber busy; skip so the publisher never blocks
		}
	}
}

// PublishOutputs pushes a decision update to all /api/events subscribers.
// Wire it to the mapper's change callback.
func (s *Server) PublishOutputs(out decision.Outputs) {
	s.hub.publish(out)
}

// alertRequest is the body of POST /api/control/alert.
type alertRequest struct {
	Action string `json:"action"`
}

// controlAlert asserts or clears the manual override. The change lands in
// the same AlertMonitor the UART sticky bit feeds, so all control surfaces
// agree.
func (s *Server) controlAlert(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httputil.MethodNotAllowed(w)
		return
	}

	var req alertRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.BadRequest(w, "Invalid request body")
		return
	}

	switch req.Action {
	case "assert":
		s.pipe.Alerts().Assert()
	case "clear":
		s.pipe.Alerts().Clear()
	default:
		httputil.BadRequest(w, "Invalid 'action': want assert or clear")
		return
	}

	if s.db != nil {
		if err := s.db.RecordControlEvent("http", "alert_"+req.Action, r.RemoteAddr); err != nil {
			httputil.InternalServerError(w, fmt.Sprintf("Failed to record control event: %v", err))
			return
		}
	}

	httputil.WriteJSONOK(w, map[string]interface{}{
		"action": req.Action,
		"active": s.pipe.Alerts().Active(),
	})
}

// streamEvents issues Server-Sent Events for every decision change.
func (s *Server) streamEvents(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		httputil.InternalServerError(w, "Streaming unsupported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // Disable buffering for nginx

	id, c := s.hub.subscribe()
	defer s.hub.unsubscribe(id)

	// Send the current state first so clients render without waiting for
	// a change.
	if payload, err := json.Marshal(s.pipe.Outputs()); err == nil {
		fmt.Fprintf(w, "data: %s\n\n", payload)
	}
	flusher.Flush()

	for {
		select {
		case out, ok := <-c:
			if !ok {
				return
			}
			payload, err := json.Marshal(out)
			if err != nil {
				continue
			}
			if _, err := fmt.Fprintf(w, "data: %s\n\n", payload); err != nil {
				return
			}
			flusher.Flush()
		case <-r.Context().Done():
			return
		}
	}
}
