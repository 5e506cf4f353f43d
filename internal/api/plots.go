package api

import (
	"fmt"
	"net/http"
	"os"
	"strings"

	"github.com/verdant-data/maturity.report/internal/httputil"
	"github.com/verdant-data/maturity.report/internal/monitor"
	"github.com/verdant-data/maturity.report/internal/security"
)

// savePlots renders the current inference history to PNG files under the
// configured plot directory. The optional label form value names the run
// subdirectory; it is sanitized and the final path validated so operator
// input cannot escape the plot root.
func (s *Server) savePlots(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httputil.MethodNotAllowed(w)
		return
	}

	if s.plotDir == "" || s.history == nil {
		httputil.WriteJSONError(w, http.StatusNotFound, "Plot output not configured")
		return
	}

	label := strings.TrimSpace(r.FormValue("label"))
	if label != "" {
		label = security.SanitizeFilename(label)
	}

	// The validator canonicalizes through the existing tree, so the plot
	// root must exist before the target is checked.
	if err := os.MkdirAll(s.plotDir, 0755); err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("Failed to create plot dir: %v", err))
		return
	}

	dir := monitor.MakePlotOutputDir(s.plotDir, label)
	if err := security.ValidatePathWithinDirectory(dir, s.plotDir); err != nil {
		httputil.BadRequest(w, fmt.Sprintf("Invalid plot path: %v", err))
		return
	}

	rp := monitor.NewRunPlotter(s.deviceID)
	if err := rp.Start(dir); err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("Failed to start plotter: %v", err))
		return
	}
	for _, rec := range s.history.Records() {
		rp.Sample(rec)
	}
	rp.Stop()

	count, err := rp.GeneratePlots()
	if err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("Failed to generate plots: %v", err))
		return
	}

	httputil.WriteJSONOK(w, map[string]interface{}{
		"plots": count,
		"dir":   dir,
	})
}
