package monitor

import (
	"time"

	"gonum.org/v1/gonum/stat"
)

// RunStats aggregates a window of inference records for the stats API and
// the summary chart.
type RunStats struct {
	Records int `json:"records"`
	Mature  int `json:"mature"`
	Alerts  int `json:"alerts"`
	Buzzer  int `json:"buzzer"`

	MatureFraction float64 `json:"mature_fraction"`

	GreenMean    float64 `json:"green_mean"`
	GreenStdDev  float64 `json:"green_std_dev"`
	BrightMean   float64 `json:"bright_mean"`
	BrightStdDev float64 `json:"bright_std_dev"`
	HeightMean   float64 `json:"height_mean"`
	RangeMeanCM  float64 `json:"range_mean_cm"`

	// ScoreMarginMean is mean(score_mature - score_not_mature). Hovering
	// near zero means the classifier is riding the tie-break.
	ScoreMarginMean float64 `json:"score_margin_mean"`

	WindowStart time.Time `json:"window_start"`
	WindowEnd   time.Time `json:"window_end"`
}

// Summarize reduces records to run statistics. An empty window yields the
// zero value, so callers can serve it without NaN leaking into JSON.
func Summarize(records []Record) RunStats {
	var rs RunStats
	if len(records) == 0 {
		return rs
	}

	greens := make([]float64, 0, len(records))
	brights := make([]float64, 0, len(records))
	heights := make([]float64, 0, len(records))
	ranges := make([]float64, 0, len(records))
	margins := make([]float64, 0, len(records))

	rs.Records = len(records)
	rs.WindowStart = records[0].Timestamp
	rs.WindowEnd = records[len(records)-1].Timestamp

	for _, rec := range records {
		if rec.Outputs.Effective {
			rs.Mature++
		}
		if rec.Outputs.Alert {
			rs.Alerts++
		}
		if rec.Outputs.Buzzer {
			rs.Buzzer++
		}

		greens = append(greens, float64(rec.Frame.AvgGreen))
		brights = append(brights, float64(rec.Frame.AvgBright))
		heights = append(heights, float64(rec.Frame.HeightEstimate))
		margins = append(margins, float64(rec.Engine.Scores[1])-float64(rec.Engine.Scores[0]))
		if rec.RangeOK {
			ranges = append(ranges, float64(rec.Range.DistanceCM))
		}
	}

	rs.MatureFraction = float64(rs.Mature) / float64(rs.Records)

	rs.GreenMean = stat.Mean(greens, nil)
	rs.BrightMean = stat.Mean(brights, nil)
	rs.HeightMean = stat.Mean(heights, nil)
	rs.ScoreMarginMean = stat.Mean(margins, nil)
	if len(ranges) > 0 {
		rs.RangeMeanCM = stat.Mean(ranges, nil)
	}

	// Sample deviation needs two points; report zero spread below that
	// rather than NaN.
	if len(records) >= 2 {
		rs.GreenStdDev = stat.StdDev(greens, nil)
		rs.BrightStdDev = stat.StdDev(brights, nil)
	}

	return rs
}
