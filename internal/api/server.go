package api

import (
	"encoding/json"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/verdant-data/maturity.report/internal/bnn"
	"github.com/verdant-data/maturity.report/internal/camera"
	"github.com/verdant-data/maturity.report/internal/db"
	"github.com/verdant-data/maturity.report/internal/decision"
	"github.com/verdant-data/maturity.report/internal/httputil"
	"github.com/verdant-data/maturity.report/internal/monitor"
	"github.com/verdant-data/maturity.report/internal/pipeline"
	"github.com/verdant-data/maturity.report/internal/rangefinder"
	"github.com/verdant-data/maturity.report/internal/uart"
	"github.com/verdant-data/maturity.report/internal/version"
)

// ANSI escape codes for cyan and reset
const colorCyan = "\033[36m"
const colorReset = "\033[0m"
const colorYellow = "\033[33m"
const colorBoldGreen = "\033[1;32m"
const colorBoldRed = "\033[1;31m"

// ServerConfig wires the HTTP surface to the running harvester.
type ServerConfig struct {
	Pipeline *pipeline.Pipeline
	DB       *db.DB
	History  *monitor.History
	DeviceID string
	Units    string // distance units served by default: cm, mm, or in
	PlotDir  string // base directory for saved plot PNGs; empty disables
	RunID    string // active harvest run, reported in /api/status
}

type Server struct {
	pipe     *pipeline.Pipeline
	db       *db.DB
	history  *monitor.History
	deviceID string
	units    string
	plotDir  string
	runID    string
	started  time.Time

	hub *outputsHub
}

func NewServer(cfg ServerConfig) *Server {
	units := cfg.Units
	if units == "" {
		units = "cm"
	}
	return &Server{
		pipe:     cfg.Pipeline,
		db:       cfg.DB,
		history:  cfg.History,
		deviceID: cfg.DeviceID,
		units:    units,
		plotDir:  cfg.PlotDir,
		runID:    cfg.RunID,
		started:  time.Now(),
		hub:      newOutputsHub(),
	}
}

type loggingResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (lrw *loggingResponseWriter) WriteHeader(code int) {
	lrw.statusCode = code
	lrw.ResponseWriter.WriteHeader(code)
}

func (lrw *loggingResponseWriter) Flush() {
	if flusher, ok := lrw.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

func statusCodeColor(statusCode int) string {
	switch {
	case statusCode >= 200 && statusCode < 300:
		return colorBoldGreen + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 300 && statusCode < 400:
		return colorYellow + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 400 && statusCode < 500:
		return colorBoldRed + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 500:
		return colorBoldRed + strconv.Itoa(statusCode) + colorReset
	default:
		return strconv.Itoa(statusCode)
	}
}

// LoggingMiddleware logs method, path, query, status, and duration
func LoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		lrw := &loggingResponseWriter{w, http.StatusOK}
		next.ServeHTTP(lrw, r)
		log.Printf(
			"[%s] %s %s%s%s %vms",
			statusCodeColor(lrw.statusCode), r.Method,
			colorCyan, r.RequestURI, colorReset,
			float64(time.Since(start).Nanoseconds())/1e6,
		)
	})
}

// ServeMux builds the harvester route table. Chart pages and the tsweb
// debug surface mount alongside the JSON API so one listener serves all
// of it.
func (s *Server) ServeMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/status", s.showStatus)
	mux.HandleFunc("/api/healthz", s.healthz)
	mux.HandleFunc("/api/config", s.showConfig)
	mux.HandleFunc("/api/observations", s.listObservations)
	mux.HandleFunc("/api/runs", s.listRuns)
	mux.HandleFunc("/api/stats", s.showStats)
	mux.HandleFunc("/api/control/alert", s.controlAlert)
	mux.HandleFunc("/api/events", s.streamEvents)
	mux.HandleFunc("/monitor/plots/save", s.savePlots)

	if s.history != nil {
		monitor.NewCharts(s.history, s.deviceID).Register(mux)
	}

	if s.db != nil {
		debug := s.db.AttachAdminRoutes(mux)
		debug.KVFunc("Frames", func() interface{} {
			st := s.pipe.FrameStats()
			return st.Frames
		})
		debug.KVFunc("Inferences", func() interface{} {
			return s.pipe.EngineSnapshot().Completed
		})
		debug.KVFunc("Alert active", func() interface{} {
			return s.pipe.Alerts().Active()
		})
	}

	return mux
}

// statusResponse is the full device snapshot served at /api/status.
type statusResponse struct {
	Device        string                   `json:"device"`
	RunID         string                   `json:"run_id,omitempty"`
	Version       string                   `json:"version"`
	GitSHA        string                   `json:"git_sha"`
	UptimeSeconds float64                  `json:"uptime_seconds"`
	Outputs       decision.Outputs         `json:"outputs"`
	Frame         *camera.FrameFeatures    `json:"frame,omitempty"`
	Range         *rangefinder.RangeSample `json:"range,omitempty"`
	Engine        bnn.Snapshot             `json:"engine"`
	AlertActive   bool                     `json:"alert_active"`
	Frames        camera.Stats             `json:"frames"`
	Decoder       uart.DecoderStats        `json:"decoder"`
	Alerts        uart.AlertStats          `json:"alerts"`
}

func (s *Server) showStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}

	resp := statusResponse{
		Device:        s.deviceID,
		RunID:         s.runID,
		Version:       version.Version,
		GitSHA:        version.GitSHA,
		UptimeSeconds: time.Since(s.started).Seconds(),
		Outputs:       s.pipe.Outputs(),
		Engine:        s.pipe.EngineSnapshot(),
		AlertActive:   s.pipe.Alerts().Active(),
		Frames:        s.pipe.FrameStats(),
		Decoder:       s.pipe.DecoderStats(),
		Alerts:        s.pipe.AlertStats(),
	}
	if frame, ok := s.pipe.LatestFrame(); ok {
		resp.Frame = &frame
	}
	if rng, ok := s.pipe.LatestRange(); ok {
		resp.Range = &rng
	}

	httputil.WriteJSONOK(w, resp)
}

func (s *Server) healthz(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSONOK(w, map[string]string{"status": "ok"})
}

func (s *Server) showConfig(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}

	config := map[string]interface{}{
		"units":  s.units,
		"device": s.deviceID,
	}

	if err := json.NewEncoder(w).Encode(config); err != nil {
		httputil.InternalServerError(w, "Failed to write config")
		return
	}
}
