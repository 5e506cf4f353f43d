package api

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/verdant-data/maturity.report/internal/db"
	"github.com/verdant-data/maturity.report/internal/httputil"
	"github.com/verdant-data/maturity.report/internal/monitor"
	"github.com/verdant-data/maturity.report/internal/uart"
	"github.com/verdant-data/maturity.report/internal/units"
)

// observationResponse carries a stored observation plus the range converted
// to the requested units. The raw range_cm column rides along unchanged so
// clients that want the stored value still get it.
type observationResponse struct {
	db.Observation
	RangeDistance float64 `json:"range_distance"`
	RangeUnits    string  `json:"range_units"`
}

// listObservations serves stored inference rows.
// Query params:
//   - run (optional) filters to one run ID
//   - since (optional) unix seconds lower bound
//   - limit (optional; default 100)
//   - units (optional; cm, mm, or in; defaults to the server units)
func (s *Server) listObservations(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}

	limit := 100
	if l := r.URL.Query().Get("limit"); l != "" {
		parsed, err := strconv.Atoi(l)
		if err != nil || parsed < 1 {
			httputil.BadRequest(w, "Invalid 'limit' parameter")
			return
		}
		limit = parsed
	}

	var since time.Time
	if v := r.URL.Query().Get("since"); v != "" {
		parsed, err := strconv.ParseInt(v, 10, 64)
		if err != nil || parsed < 0 {
			httputil.BadRequest(w, "Invalid 'since' parameter")
			return
		}
		since = time.Unix(parsed, 0)
	}

	selectedUnits := s.units
	if u := r.URL.Query().Get("units"); u != "" {
		if !units.IsValid(u) {
			httputil.BadRequest(w, fmt.Sprintf("Invalid 'units' parameter. Valid options: %s", units.GetValidUnitsString()))
			return
		}
		selectedUnits = u
	}

	observations, err := s.db.Observations(r.URL.Query().Get("run"), since, limit)
	if err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("Failed to retrieve observations: %v", err))
		return
	}

	resp := make([]observationResponse, len(observations))
	for i, obs := range observations {
		resp[i] = observationResponse{
			Observation:   obs,
			RangeDistance: units.ConvertDistance(float64(obs.RangeCM), selectedUnits),
			RangeUnits:    selectedUnits,
		}
	}

	httputil.WriteJSONOK(w, resp)
}

func (s *Server) listRuns(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}

	runs, err := s.db.Runs()
	if err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("Failed to retrieve runs: %v", err))
		return
	}

	httputil.WriteJSONOK(w, runs)
}

// statsResponse joins the in-memory run summary with the device counters.
type statsResponse struct {
	Run     monitor.RunStats  `json:"run"`
	Frames  uint64            `json:"frames"`
	Empty   uint64            `json:"empty_frames"`
	Decoder uart.DecoderStats `json:"decoder"`
	Dropped uint64            `json:"dropped_triggers"`
}

func (s *Server) showStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}

	frameStats := s.pipe.FrameStats()
	resp := statsResponse{
		Run:     monitor.Summarize(s.history.Records()),
		Frames:  frameStats.Frames,
		Empty:   frameStats.Empty,
		Decoder: s.pipe.DecoderStats(),
		Dropped: s.pipe.EngineSnapshot().Dropped,
	}

	httputil.WriteJSONOK(w, resp)
}
