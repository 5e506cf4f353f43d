package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/verdant-data/maturity.report/internal/decision"
)

func postAlert(t *testing.T, ts *testServer, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/api/control/alert", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	ts.mux.ServeHTTP(rec, req)
	return rec
}

func TestServer_ControlAlert_AssertAndClear(t *testing.T) {
	ts := newTestServer(t, "")

	rec := postAlert(t, ts, `{"action":"assert"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if !ts.p.Alerts().Active() {
		t.Error("expected alert active after assert")
	}

	var resp map[string]interface{}
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp["active"] != true {
		t.Errorf("active = %v, want true", resp["active"])
	}

	rec = postAlert(t, ts, `{"action":"clear"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rec.Code)
	}
	if ts.p.Alerts().Active() {
		t.Error("expected alert inactive after clear")
	}

	// Both actions land in the control log.
	events, err := ts.db.ControlEvents(10)
	if err != nil {
		t.Fatalf("ControlEvents failed: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("got %d control events, want 2", len(events))
	}
	if events[0].Kind != "alert_clear" || events[1].Kind != "alert_assert" {
		t.Errorf("control kinds = %q, %q", events[0].Kind, events[1].Kind)
	}
	if events[0].Source != "http" {
		t.Errorf("control source = %q, want http", events[0].Source)
	}
}

func TestServer_ControlAlert_BadRequests(t *testing.T) {
	ts := newTestServer(t, "")

	if rec := postAlert(t, ts, `{"action":"detonate"}`); rec.Code != http.StatusBadRequest {
		t.Errorf("unknown action: expected status 400, got %d", rec.Code)
	}
	if rec := postAlert(t, ts, `not json`); rec.Code != http.StatusBadRequest {
		t.Errorf("bad body: expected status 400, got %d", rec.Code)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/control/alert", nil)
	rec := httptest.NewRecorder()
	ts.mux.ServeHTTP(rec, req)
	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("GET: expected status 405, got %d", rec.Code)
	}
}

func TestServer_StreamEvents(t *testing.T) {
	ts := newTestServer(t, "")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	req := httptest.NewRequest(http.MethodGet, "/api/events", nil).WithContext(ctx)
	rec := httptest.NewRecorder()

	done := make(chan struct{})
	go func() {
		defer close(done)
		ts.mux.ServeHTTP(rec, req)
	}()

	// Wait for the handler to subscribe before publishing.
	deadline := time.Now().Add(2 * time.Second)
	for {
		ts.srv.hub.mu.Lock()
		n := len(ts.srv.hub.subs)
		ts.srv.hub.mu.Unlock()
		if n == 1 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("handler never subscribed")
		}
		time.Sleep(time.Millisecond)
	}

	ts.srv.PublishOutputs(decision.Outputs{Ready: true, Effective: true, Buzzer: true})

	// Give the handler a moment to drain the channel, then end the stream.
	time.Sleep(50 * time.Millisecond)
	cancel()
	<-done

	body := rec.Body.String()
	if ct := rec.Header().Get("Content-Type"); ct != "text/event-stream" {
		t.Errorf("content type = %q, want text/event-stream", ct)
	}
	if strings.Count(body, "data: ") < 2 {
		t.Errorf("expected initial snapshot plus published update, got:\n%s", body)
	}
	if !strings.Contains(body, `"buzzer":true`) {
		t.Errorf("expected published outputs in stream, got:\n%s", body)
	}
}
