package monitor

import (
	"bytes"
	"fmt"
	"html"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"

	"github.com/verdant-data/maturity.report/internal/httputil"
)

// echartsAssetsPrefix is the script host baked into rendered chart pages.
// The harvester UI is reached over the tailnet, so the public asset host
// is fine; swap this for a local mirror if the unit must run air-gapped.
const echartsAssetsPrefix = "https://go-echarts.github.io/go-echarts-assets/assets/"

// dashboardHTML frames the individual chart endpoints. Paths match the
// mounts installed by Register.
const dashboardHTML = `<!DOCTYPE html>
<html>
<head>
<title>Harvester Debug Charts</title>
<style>
body { background: #111; color: #ddd; font-family: sans-serif; margin: 0; padding: 1em; }
h1 { font-size: 1.2em; }
iframe { width: 100%%; height: 500px; border: 1px solid #333; background: #1a1a1a; margin-bottom: 1em; }
</style>
</head>
<body>
<h1>Harvester Debug Charts: device %s</h1>
<iframe src="/monitor/features"></iframe>
<iframe src="/monitor/scores"></iframe>
<iframe src="/monitor/range"></iframe>
<iframe src="/monitor/summary"></iframe>
</body>
</html>
`

// Charts serves debugging-only visualisations (no auth) of the inference
// history, for eyeballing a run without pulling the database.
type Charts struct {
	history  *History
	deviceID string
}

// NewCharts builds chart handlers over the given history.
func NewCharts(h *History, deviceID string) *Charts {
	return &Charts{history: h, deviceID: deviceID}
}

// Register mounts the chart routes on mux. Kept here so the dashboard
// iframe paths and the mounts cannot drift apart.
func (c *Charts) Register(mux *http.ServeMux) {
	mux.HandleFunc("/monitor", c.HandleDashboard)
	mux.HandleFunc("/monitor/features", c.HandleFeatureChart)
	mux.HandleFunc("/monitor/scores", c.HandleScoreChart)
	mux.HandleFunc("/monitor/range", c.HandleRangeChart)
	mux.HandleFunc("/monitor/summary", c.HandleSummaryChart)
}

// maxPointsParam reads the optional max_points query parameter, bounding
// the rendered payload size.
func maxPointsParam(r *http.Request, def int) int {
	maxPoints := def
	if mp := r.URL.Query().Get("max_points"); mp != "" {
		if v, err := strconv.Atoi(mp); err == nil && v > 10 && v <= 50000 {
			maxPoints = v
		}
	}
	return maxPoints
}

// strideFor downsamples n records to stay within maxPoints.
func strideFor(n, maxPoints int) int {
	if n <= maxPoints {
		return 1
	}
	return int(math.Ceil(float64(n) / float64(maxPoints)))
}

// HandleDashboard renders a simple dashboard with iframes to the debug charts.
func (c *Charts) HandleDashboard(w http.ResponseWriter, r *http.Request) {
	doc := fmt.Sprintf(dashboardHTML, html.EscapeString(c.deviceID))

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write([]byte(doc))
}

// HandleFeatureChart renders a scatter (HTML) of the four frame features
// against inference index using go-echarts.
// Query params:
//   - max_points (optional; default 2000) to reduce payload size
func (c *Charts) HandleFeatureChart(w http.ResponseWriter, r *http.Request) {
	recs := c.history.Records()
	if len(recs) == 0 {
		httputil.WriteJSONError(w, http.StatusNotFound, "no inference history available")
		return
	}

	maxPoints := maxPointsParam(r, 2000)
	stride := strideFor(len(recs), maxPoints)

	green := make([]opts.ScatterData, 0, len(recs)/stride+1)
	red := make([]opts.ScatterData, 0, len(recs)/stride+1)
	bright := make([]opts.ScatterData, 0, len(recs)/stride+1)
	height := make([]opts.ScatterData, 0, len(recs)/stride+1)
	maxIdx := float64(0)
	for i := 0; i < len(recs); i += stride {
		rec := recs[i]
		x := float64(rec.Index)
		if x > maxIdx {
			maxIdx = x
		}
		green = append(green, opts.ScatterData{Value: []interface{}{x, float64(rec.Frame.AvgGreen)}})
		red = append(red, opts.ScatterData{Value: []interface{}{x, float64(rec.Frame.AvgRed)}})
		bright = append(bright, opts.ScatterData{Value: []interface{}{x, float64(rec.Frame.AvgBright)}})
		height = append(height, opts.ScatterData{Value: []interface{}{x, float64(rec.Frame.HeightEstimate)}})
	}

	scatter := charts.NewScatter()
	scatter.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: "Harvester Frame Features", Theme: "dark", Width: "100%", Height: "460px", AssetsHost: echartsAssetsPrefix}),
		charts.WithTitleOpts(opts.Title{Title: "Frame Features", Subtitle: fmt.Sprintf("device=%s records=%d stride=%d", c.deviceID, len(recs), stride)}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithXAxisOpts(opts.XAxis{Min: 0, Max: maxIdx + 1, Name: "Inference", NameLocation: "middle", NameGap: 25}),
		charts.WithYAxisOpts(opts.YAxis{Min: 0, Max: 255, Name: "8-bit value", NameLocation: "middle", NameGap: 30}),
	)

	scatter.AddSeries("avg_green", green, charts.WithScatterChartOpts(opts.ScatterChart{SymbolSize: 4}))
	scatter.AddSeries("avg_red", red, charts.WithScatterChartOpts(opts.ScatterChart{SymbolSize: 4}))
	scatter.AddSeries("avg_bright", bright, charts.WithScatterChartOpts(opts.ScatterChart{SymbolSize: 4}))
	scatter.AddSeries("height_estimate", height, charts.WithScatterChartOpts(opts.ScatterChart{SymbolSize: 4}))

	var buf bytes.Buffer
	if err := scatter.Render(&buf); err != nil {
		httputil.WriteJSONError(w, http.StatusInternalServerError, fmt.Sprintf("failed to render chart: %v", err))
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(buf.Bytes())
}

// HandleScoreChart renders the per-class match scores over inference index.
// The two series sit in the 0..4 band, so ties and flips are easy to spot.
func (c *Charts) HandleScoreChart(w http.ResponseWriter, r *http.Request) {
	recs := c.history.Records()
	if len(recs) == 0 {
		httputil.WriteJSONError(w, http.StatusNotFound, "no inference history available")
		return
	}

	maxPoints := maxPointsParam(r, 2000)
	stride := strideFor(len(recs), maxPoints)

	notMature := make([]opts.ScatterData, 0, len(recs)/stride+1)
	mature := make([]opts.ScatterData, 0, len(recs)/stride+1)
	effective := make([]opts.ScatterData, 0, len(recs)/stride+1)
	maxIdx := float64(0)
	for i := 0; i < len(recs); i += stride {
		rec := recs[i]
		x := float64(rec.Index)
		if x > maxIdx {
			maxIdx = x
		}
		notMature = append(notMature, opts.ScatterData{Value: []interface{}{x, float64(rec.Engine.Scores[0])}})
		mature = append(mature, opts.ScatterData{Value: []interface{}{x, float64(rec.Engine.Scores[1])}})
		if rec.Outputs.Effective {
			// Pinned above the score band so overrides stand out.
			effective = append(effective, opts.ScatterData{Value: []interface{}{x, 4.5}})
		}
	}

	scatter := charts.NewScatter()
	scatter.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: "Harvester Class Scores", Theme: "dark", Width: "100%", Height: "460px", AssetsHost: echartsAssetsPrefix}),
		charts.WithTitleOpts(opts.Title{Title: "Class Scores", Subtitle: fmt.Sprintf("device=%s records=%d stride=%d", c.deviceID, len(recs), stride)}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithXAxisOpts(opts.XAxis{Min: 0, Max: maxIdx + 1, Name: "Inference", NameLocation: "middle", NameGap: 25}),
		charts.WithYAxisOpts(opts.YAxis{Min: 0, Max: 5, Name: "Match score", NameLocation: "middle", NameGap: 30}),
	)

	scatter.AddSeries("score_not_mature", notMature, charts.WithScatterChartOpts(opts.ScatterChart{SymbolSize: 5}))
	scatter.AddSeries("score_mature", mature, charts.WithScatterChartOpts(opts.ScatterChart{SymbolSize: 5}))
	scatter.AddSeries("effective", effective, charts.WithScatterChartOpts(opts.ScatterChart{SymbolSize: 7}))

	var buf bytes.Buffer
	if err := scatter.Render(&buf); err != nil {
		httputil.WriteJSONError(w, http.StatusInternalServerError, fmt.Sprintf("failed to render chart: %v", err))
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(buf.Bytes())
}

// HandleRangeChart renders measured range against inference index, colored
// by the raw echo pulse width so sensor glitches show up as off-palette
// points at plausible distances.
func (c *Charts) HandleRangeChart(w http.ResponseWriter, r *http.Request) {
	recs := c.history.Records()
	if len(recs) == 0 {
		httputil.WriteJSONError(w, http.StatusNotFound, "no inference history available")
		return
	}

	maxPoints := maxPointsParam(r, 2000)
	stride := strideFor(len(recs), maxPoints)

	data := make([]opts.ScatterData, 0, len(recs)/stride+1)
	maxIdx := float64(0)
	maxEcho := float64(0)
	for i := 0; i < len(recs); i += stride {
		rec := recs[i]
		if !rec.RangeOK {
			continue
		}
		x := float64(rec.Index)
		if x > maxIdx {
			maxIdx = x
		}
		echo := float64(rec.Range.EchoMicros)
		if echo > maxEcho {
			maxEcho = echo
		}
		data = append(data, opts.ScatterData{Value: []interface{}{x, float64(rec.Range.DistanceCM), echo}})
	}
	if len(data) == 0 {
		httputil.WriteJSONError(w, http.StatusNotFound, "no range measurements in history")
		return
	}
	if maxEcho == 0 {
		maxEcho = 1
	}

	scatter := charts.NewScatter()
	scatter.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: "Harvester Range", Theme: "dark", Width: "100%", Height: "460px", AssetsHost: echartsAssetsPrefix}),
		charts.WithTitleOpts(opts.Title{Title: "Canopy Range", Subtitle: fmt.Sprintf("device=%s records=%d stride=%d", c.deviceID, len(recs), stride)}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithXAxisOpts(opts.XAxis{Min: 0, Max: maxIdx + 1, Name: "Inference", NameLocation: "middle", NameGap: 25}),
		charts.WithYAxisOpts(opts.YAxis{Min: 0, Max: 255, Name: "Range (cm)", NameLocation: "middle", NameGap: 30}),
		charts.WithVisualMapOpts(opts.VisualMap{
			Show:       opts.Bool(true),
			Calculable: opts.Bool(true),
			Min:        0,
			Max:        float32(maxEcho),
			Dimension:  "2",
			InRange:    &opts.VisualMapInRange{Color: []string{"#440154", "#482777", "#3e4989", "#31688e", "#26828e", "#1f9e89", "#35b779", "#6ece58", "#b5de2b", "#fde725"}},
		}),
	)

	scatter.AddSeries("range_cm", data, charts.WithScatterChartOpts(opts.ScatterChart{SymbolSize: 5}))

	var buf bytes.Buffer
	if err := scatter.Render(&buf); err != nil {
		httputil.WriteJSONError(w, http.StatusInternalServerError, fmt.Sprintf("failed to render chart: %v", err))
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(buf.Bytes())
}

// HandleSummaryChart renders a simple bar chart of decision counts over the
// held history. Serves zeros rather than erroring when the history is
// empty, so the dashboard iframe always loads.
func (c *Charts) HandleSummaryChart(w http.ResponseWriter, r *http.Request) {
	stats := Summarize(c.history.Records())

	x := []string{"Inferences", "Mature", "Alerts", "Buzzer on"}
	y := []opts.BarData{
		{Value: stats.Records},
		{Value: stats.Mature},
		{Value: stats.Alerts},
		{Value: stats.Buzzer},
	}

	bar := charts.NewBar()
	bar.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{Width: "100%", Height: "460px", AssetsHost: echartsAssetsPrefix}),
		charts.WithTitleOpts(opts.Title{Title: "Decision Summary", Subtitle: time.Now().Format(time.RFC3339)}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
	)
	bar.SetXAxis(x).
		AddSeries("decisions", y,
			charts.WithLabelOpts(opts.Label{Show: opts.Bool(true), Position: "top"}),
		)

	page := components.NewPage()
	page.SetAssetsHost(echartsAssetsPrefix)
	page.AddCharts(bar)

	var buf bytes.Buffer
	if err := page.Render(&buf); err != nil {
		httputil.WriteJSONError(w, http.StatusInternalServerError, fmt.Sprintf("render error: %v", err))
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(buf.Bytes())
}
