package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/verdant-data/maturity.report/internal/db"
)

// seedObservations inserts a run with n observations one minute apart
// starting at base, and returns the run.
func seedObservations(t *testing.T, ts *testServer, n int, base time.Time) *db.Run {
	t.Helper()

	run := &db.Run{Device: "harvester-test", WeightsVersion: "ref-2024.1"}
	if err := ts.db.CreateRun(run); err != nil {
		t.Fatalf("CreateRun failed: %v", err)
	}

	for i := 0; i < n; i++ {
		obs := &db.Observation{
			RunID:          run.ID,
			AvgGreen:       148,
			AvgRed:         56,
			AvgBright:      88,
			HeightEstimate: 9,
			PixelCount:     200,
			RangeCM:        15,
			EchoMicros:     960,
			InputVector:    0b0011,
			HiddenState:    0b0101,
			ScoreNotMature: 3,
			ScoreMature:    1,
			CreatedAt:      base.Add(time.Duration(i) * time.Minute),
		}
		if err := ts.db.RecordObservation(obs); err != nil {
			t.Fatalf("RecordObservation failed: %v", err)
		}
	}
	return run
}

func TestServer_ListObservations(t *testing.T) {
	ts := newTestServer(t, "")
	base := time.Unix(1700000000, 0)
	seedObservations(t, ts, 3, base)

	rec := ts.get(t, "/api/observations?units=mm")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rec.Code, rec.Body.String())
	}

	var got []observationResponse
	if err := json.NewDecoder(rec.Body).Decode(&got); err != nil {
		t.Fatalf("failed to decode observations: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("got %d observations, want 3", len(got))
	}

	// Newest first; range converted to millimetres.
	first := got[0]
	if !first.CreatedAt.Equal(base.Add(2 * time.Minute)) {
		t.Errorf("first observation at %v, want newest", first.CreatedAt)
	}
	want := observationResponse{
		Observation:   first.Observation,
		RangeDistance: 150,
		RangeUnits:    "mm",
	}
	if diff := cmp.Diff(want, first); diff != "" {
		t.Errorf("observation mismatch (-want +got):\n%s", diff)
	}
}

func TestServer_ListObservations_Filters(t *testing.T) {
	ts := newTestServer(t, "")
	base := time.Unix(1700000000, 0)
	run := seedObservations(t, ts, 3, base)

	rec := ts.get(t, fmt.Sprintf("/api/observations?run=%s&since=%d", run.ID, base.Add(time.Minute).Unix()))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rec.Code)
	}

	var got []observationResponse
	if err := json.NewDecoder(rec.Body).Decode(&got); err != nil {
		t.Fatalf("failed to decode observations: %v", err)
	}
	if len(got) != 2 {
		t.Errorf("got %d observations since base+1m, want 2", len(got))
	}

	rec = ts.get(t, "/api/observations?run=no-such-run")
	var empty []observationResponse
	if err := json.NewDecoder(rec.Body).Decode(&empty); err != nil {
		t.Fatalf("failed to decode observations: %v", err)
	}
	if len(empty) != 0 {
		t.Errorf("got %d observations for unknown run, want 0", len(empty))
	}
}

func TestServer_ListObservations_BadParams(t *testing.T) {
	ts := newTestServer(t, "")

	for _, path := range []string{
		"/api/observations?limit=zero",
		"/api/observations?limit=-1",
		"/api/observations?since=yesterday",
		"/api/observations?units=furlong",
	} {
		rec := ts.get(t, path)
		if rec.Code != http.StatusBadRequest {
			t.Errorf("%s: expected status 400, got %d", path, rec.Code)
		}
	}
}

func TestServer_ListRuns(t *testing.T) {
	ts := newTestServer(t, "")
	run := seedObservations(t, ts, 1, time.Unix(1700000000, 0))

	rec := ts.get(t, "/api/runs")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rec.Code)
	}

	var runs []db.Run
	if err := json.NewDecoder(rec.Body).Decode(&runs); err != nil {
		t.Fatalf("failed to decode runs: %v", err)
	}
	if len(runs) != 1 {
		t.Fatalf("got %d runs, want 1", len(runs))
	}
	if runs[0].ID != run.ID {
		t.Errorf("run ID = %q, want %q", runs[0].ID, run.ID)
	}
	if runs[0].WeightsVersion != "ref-2024.1" {
		t.Errorf("weights version = %q, want ref-2024.1", runs[0].WeightsVersion)
	}
}

func TestServer_ShowStats(t *testing.T) {
	ts := newTestServer(t, "")
	for i := uint64(1); i <= 4; i++ {
		ts.h.Add(historyRecord(i))
	}

	rec := ts.get(t, "/api/stats")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rec.Code)
	}

	var stats statsResponse
	if err := json.NewDecoder(rec.Body).Decode(&stats); err != nil {
		t.Fatalf("failed to decode stats: %v", err)
	}
	if stats.Run.Records != 4 {
		t.Errorf("run records = %d, want 4", stats.Run.Records)
	}
	if stats.Run.GreenMean != 148 {
		t.Errorf("green mean = %f, want 148", stats.Run.GreenMean)
	}
	if stats.Frames != 0 {
		t.Errorf("frames = %d, want 0 on a fresh pipeline", stats.Frames)
	}
}
