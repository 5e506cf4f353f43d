package monitor

import (
	"fmt"
	"image/color"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
)

// RunPlotter records inference results over a harvesting run for offline
// visualization. It samples each completed inference while enabled,
// accumulating time series that can be plotted after the run.
type RunPlotter struct {
	mu        sync.Mutex
	enabled   bool
	outputDir string
	deviceID  string

	samples []PlotSample

	// startTime is the timestamp of the first sample, used for titles
	startTime time.Time
}

// PlotSample represents one inference in plottable form
type PlotSample struct {
	Index     int
	Timestamp time.Time
	// Frame features
	AvgGreen  float64
	AvgRed    float64
	AvgBright float64
	Height    float64
	// Range measurement, valid only when RangeOK
	RangeCM float64
	RangeOK bool
	// Classifier result
	ScoreNotMature float64
	ScoreMature    float64
	Effective      bool
}

// NewRunPlotter creates a plotter for the given device.
func NewRunPlotter(deviceID string) *RunPlotter {
	return &RunPlotter{deviceID: deviceID}
}

// Start initializes the plotter for a new run.
// outputDir should be a timestamped directory (e.g., "plots/row-4/20260826_091503")
func (rp *RunPlotter) Start(outputDir string) error {
	rp.mu.Lock()
	defer rp.mu.Unlock()

	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return fmt.Errorf("failed to create output dir: %w", err)
	}

	rp.outputDir = outputDir
	rp.enabled = true
	rp.startTime = time.Time{}
	rp.samples = nil
	return nil
}

// Stop disables sampling. Call GeneratePlots() to produce output files.
func (rp *RunPlotter) Stop() {
	rp.mu.Lock()
	defer rp.mu.Unlock()
	rp.enabled = false
}

// IsEnabled returns true if the plotter is currently recording.
func (rp *RunPlotter) IsEnabled() bool {
	rp.mu.Lock()
	defer rp.mu.Unlock()
	return rp.enabled
}

// Sample captures one completed inference.
// Call this once per inference during replay or live harvesting.
func (rp *RunPlotter) Sample(rec Record) {
	rp.mu.Lock()
	defer rp.mu.Unlock()

	if !rp.enabled {
		return
	}

	if rp.startTime.IsZero() {
		rp.startTime = rec.Timestamp
	}

	rp.samples = append(rp.samples, PlotSample{
		Index:          int(rec.Index),
		Timestamp:      rec.Timestamp,
		AvgGreen:       float64(rec.Frame.AvgGreen),
		AvgRed:         float64(rec.Frame.AvgRed),
		AvgBright:      float64(rec.Frame.AvgBright),
		Height:         float64(rec.Frame.HeightEstimate),
		RangeCM:        float64(rec.Range.DistanceCM),
		RangeOK:        rec.RangeOK,
		ScoreNotMature: float64(rec.Engine.Scores[0]),
		ScoreMature:    float64(rec.Engine.Scores[1]),
		Effective:      rec.Outputs.Effective,
	})
}

// GetOutputDir returns the current output directory for plots.
func (rp *RunPlotter) GetOutputDir() string {
	rp.mu.Lock()
	defer rp.mu.Unlock()
	return rp.outputDir
}

// GetSampleCount returns the number of samples collected.
func (rp *RunPlotter) GetSampleCount() int {
	rp.mu.Lock()
	defer rp.mu.Unlock()
	return len(rp.samples)
}

// GeneratePlots creates PNG files for the run: frame features, class
// scores, and measured range over inference index.
// Returns the number of plots generated and any error.
func (rp *RunPlotter) GeneratePlots() (int, error) {
	rp.mu.Lock()
	defer rp.mu.Unlock()

	if rp.outputDir == "" {
		return 0, fmt.Errorf("no output directory configured")
	}

	if len(rp.samples) == 0 {
		return 0, nil
	}

	sort.Slice(rp.samples, func(a, b int) bool {
		return rp.samples[a].Index < rp.samples[b].Index
	})

	plotCount := 0

	if err := rp.generateFeaturePlot(); err != nil {
		return plotCount, fmt.Errorf("features: %w", err)
	}
	plotCount++

	if err := rp.generateScorePlot(); err != nil {
		return plotCount, fmt.Errorf("scores: %w", err)
	}
	plotCount++

	generated, err := rp.generateRangePlot()
	if err != nil {
		return plotCount, fmt.Errorf("range: %w", err)
	}
	if generated {
		plotCount++
	}

	return plotCount, nil
}

// generateFeaturePlot draws the four frame features as one line each.
func (rp *RunPlotter) generateFeaturePlot() error {
	p := plot.New()
	p.Title.Text = fmt.Sprintf("%s - Frame Features", rp.deviceID)
	p.X.Label.Text = "Inference"
	p.Y.Label.Text = "8-bit value"

	series := []struct {
		name string
		pick func(PlotSample) float64
	}{
		{"avg_green", func(s PlotSample) float64 { return s.AvgGreen }},
		{"avg_red", func(s PlotSample) float64 { return s.AvgRed }},
		{"avg_bright", func(s PlotSample) float64 { return s.AvgBright }},
		{"height_estimate", func(s PlotSample) float64 { return s.Height }},
	}

	colors := generateColors(len(series))

	for i, sd := range series {
		pts := make(plotter.XYs, 0, len(rp.samples))
		for _, s := range rp.samples {
			pts = append(pts, plotter.XY{X: float64(s.Index), Y: sd.pick(s)})
		}

		line, err := plotter.NewLine(pts)
		if err != nil {
			return err
		}
		line.Color = colors[i]
		line.Width = vg.Points(1)
		p.Add(line)
		p.Legend.Add(sd.name, line)
	}

	p.Legend.Top = true
	p.Legend.Left = false
	p.Legend.XOffs = -10
	p.Legend.YOffs = -10

	file := filepath.Join(rp.outputDir, "features.png")
	if err := p.Save(14*vg.Inch, 6*vg.Inch, file); err != nil {
		return fmt.Errorf("save features plot: %w", err)
	}

	return nil
}

// generateScorePlot draws the two class scores plus an override marker line.
func (rp *RunPlotter) generateScorePlot() error {
	p := plot.New()
	p.Title.Text = fmt.Sprintf("%s - Class Scores", rp.deviceID)
	p.X.Label.Text = "Inference"
	p.Y.Label.Text = "Match score"

	notMaturePts := make(plotter.XYs, 0, len(rp.samples))
	maturePts := make(plotter.XYs, 0, len(rp.samples))
	effectivePts := make(plotter.XYs, 0, len(rp.samples))
	for _, s := range rp.samples {
		notMaturePts = append(notMaturePts, plotter.XY{X: float64(s.Index), Y: s.ScoreNotMature})
		maturePts = append(maturePts, plotter.XY{X: float64(s.Index), Y: s.ScoreMature})
		// Effective decisions sit above the 0..4 score band.
		y := 0.0
		if s.Effective {
			y = 4.5
		}
		effectivePts = append(effectivePts, plotter.XY{X: float64(s.Index), Y: y})
	}

	colors := generateColors(3)

	for i, sd := range []struct {
		name string
		pts  plotter.XYs
	}{
		{"score_not_mature", notMaturePts},
		{"score_mature", maturePts},
		{"effective", effectivePts},
	} {
		line, err := plotter.NewLine(sd.pts)
		if err != nil {
			return err
		}
		line.Color = colors[i]
		line.Width = vg.Points(1)
		p.Add(line)
		p.Legend.Add(sd.name, line)
	}

	p.Legend.Top = true
	p.Legend.Left = false
	p.Legend.XOffs = -10
	p.Legend.YOffs = -10

	file := filepath.Join(rp.outputDir, "scores.png")
	if err := p.Save(14*vg.Inch, 6*vg.Inch, file); err != nil {
		return fmt.Errorf("save scores plot: %w", err)
	}

	return nil
}

// generateRangePlot draws measured range when any sample carried one.
// Returns false without error when the run had no range data.
func (rp *RunPlotter) generateRangePlot() (bool, error) {
	pts := make(plotter.XYs, 0, len(rp.samples))
	for _, s := range rp.samples {
		if !s.RangeOK {
			continue
		}
		pts = append(pts, plotter.XY{X: float64(s.Index), Y: s.RangeCM})
	}
	if len(pts) == 0 {
		return false, nil
	}

	p := plot.New()
	p.Title.Text = fmt.Sprintf("%s - Canopy Range", rp.deviceID)
	p.X.Label.Text = "Inference"
	p.Y.Label.Text = "Range (cm)"

	line, err := plotter.NewLine(pts)
	if err != nil {
		return false, err
	}
	line.Color = color.RGBA{R: 0x26, G: 0x82, B: 0x8e, A: 255}
	line.Width = vg.Points(1)
	p.Add(line)
	p.Legend.Add("range_cm", line)

	p.Legend.Top = true
	p.Legend.Left = false
	p.Legend.XOffs = -10
	p.Legend.YOffs = -10

	file := filepath.Join(rp.outputDir, "range_cm.png")
	if err := p.Save(14*vg.Inch, 6*vg.Inch, file); err != nil {
		return false, fmt.Errorf("save range plot: %w", err)
	}

	return true, nil
}

// generateColors creates a palette of distinct colors for plot lines
func generateColors(n int) []color.Color {
	if n <= 0 {
		return nil
	}

	colors := make([]color.Color, n)
	for i := 0; i < n; i++ {
		hue := float64(i) / float64(n)
		r, g, b := hslToRGB(hue, 0.7, 0.5)
		colors[i] = color.RGBA{R: r, G: g, B: b, A: 255}
	}
	return colors
}

// hslToRGB converts HSL to RGB (0-255 range)
func hslToRGB(h, s, l float64) (r, g, b uint8) {
	var rf, gf, bf float64

	if s == 0 {
		rf, gf, bf = l, l, l
	} else {
		var q float64
		if l < 0.5 {
			q = l * (1 + s)
		} else {
			q = l + s - l*s
		}
		p := 2*l - q
		rf = hueToRGB(p, q, h+1.0/3.0)
		gf = hueToRGB(p, q, h)
		bf = hueToRGB(p, q, h-1.0/3.0)
	}

	return uint8(rf * 255), uint8(gf * 255), uint8(bf * 255)
}

// hueToRGB converts a hue component to an RGB channel value
func hueToRGB(p, q, t float64) float64 {
	if t < 0 {
		t += 1
	}
	if t > 1 {
		t -= 1
	}
	if t < 1.0/6.0 {
		return p + (q-p)*6*t
	}
	if t < 1.0/2.0 {
		return q
	}
	if t < 2.0/3.0 {
		return p + (q-p)*(2.0/3.0-t)*6
	}
	return p
}

// FormatTimestamp generates a timestamp string for directory naming.
func FormatTimestamp(t time.Time) string {
	return t.Format("20060102_150405")
}

// MakePlotOutputDir creates a timestamped output directory name for plots.
// For capture replays: plots/<capture_basename>/<timestamp>
// For live data: plots/live_<timestamp>
func MakePlotOutputDir(baseDir, captureFile string) string {
	ts := FormatTimestamp(time.Now())
	if captureFile != "" {
		base := filepath.Base(captureFile)
		ext := filepath.Ext(base)
		name := base[:len(base)-len(ext)]
		return filepath.Join(baseDir, name, ts)
	}
	return filepath.Join(baseDir, "live_"+ts)
}
