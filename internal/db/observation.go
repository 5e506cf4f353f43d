package db

import (
	"fmt"
	"strings"
	"time"
)

// Observation is one completed inference: the frame and range snapshots
// that fed it, the engine state it produced, and the decision that left
// the device.
type Observation struct {
	ID             int64     `json:"id"`
	RunID          string    `json:"run_id"`
	AvgGreen       uint8     `json:"avg_green"`
	AvgRed         uint8     `json:"avg_red"`
	AvgBright      uint8     `json:"avg_bright"`
	HeightEstimate uint8     `json:"height_estimate"`
	PixelCount     int       `json:"pixel_count"`
	RangeCM        uint8     `json:"range_cm"`
	EchoMicros     int64     `json:"echo_micros"`
	InputVector    uint8     `json:"input_vector"`
	HiddenState    uint8     `json:"hidden_state"`
	ScoreNotMature uint8     `json:"score_not_mature"`
	ScoreMature    uint8     `json:"score_mature"`
	Prediction     bool      `json:"prediction"`
	Alert          bool      `json:"alert"`
	Effective      bool      `json:"effective"`
	CreatedAt      time.Time `json:"created_at"`
}

// RecordObservation inserts one observation and writes the assigned ID
// back. A zero CreatedAt takes the current time.
func (db *DB) RecordObservation(obs *Observation) error {
	if obs.CreatedAt.IsZero() {
		obs.CreatedAt = time.Now()
	}

	result, err := db.Exec(
		`INSERT INTO observations (
			run_id, avg_green, avg_red, avg_bright, height_estimate,
			pixel_count, range_cm, echo_micros, input_vector, hidden_state,
			score_not_mature, score_mature, prediction, alert, effective,
			created_at_unix
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		obs.RunID, obs.AvgGreen, obs.AvgRed, obs.AvgBright, obs.HeightEstimate,
		obs.PixelCount, obs.RangeCM, obs.EchoMicros, obs.InputVector, obs.HiddenState,
		obs.ScoreNotMature, obs.ScoreMature, obs.Prediction, obs.Alert, obs.Effective,
		obs.CreatedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to record observation: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert ID: %w", err)
	}
	obs.ID = id
	return nil
}

// Observations retrieves recent observations newest first, optionally
// filtered to one run. limit <= 0 takes 500.
func (db *DB) Observations(runID string, since time.Time, limit int) ([]Observation, error) {
	if limit <= 0 {
		limit = 500
	}

	query := `SELECT
		id, run_id, avg_green, avg_red, avg_bright, height_estimate,
		pixel_count, range_cm, echo_micros, input_vector, hidden_state,
		score_not_mature, score_mature, prediction, alert, effective,
		created_at_unix
	FROM observations`
	var conds []string
	var args []interface{}
	if runID != "" {
		conds = append(conds, "run_id = ?")
		args = append(args, runID)
	}
	if !since.IsZero() {
		conds = append(conds, "created_at_unix >= ?")
		args = append(args, since.Unix())
	}
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY created_at_unix DESC, id DESC LIMIT ?"
	args = append(args, limit)

	rows, err := db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query observations: %w", err)
	}
	defer rows.Close()

	var observations []Observation
	for rows.Next() {
		var obs Observation
		var createdUnix int64

		if err := rows.Scan(
			&obs.ID, &obs.RunID, &obs.AvgGreen, &obs.AvgRed, &obs.AvgBright,
			&obs.HeightEstimate, &obs.PixelCount, &obs.RangeCM, &obs.EchoMicros,
			&obs.InputVector, &obs.HiddenState, &obs.ScoreNotMature,
			&obs.ScoreMature, &obs.Prediction, &obs.Alert, &obs.Effective,
			&createdUnix,
		); err != nil {
			return nil, fmt.Errorf("failed to scan observation: %w", err)
		}

		obs.CreatedAt = time.Unix(createdUnix, 0)
		observations = append(observations, obs)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return observations, nil
}

// RunSummary aggregates one run's observations.
type RunSummary struct {
	RunID        string `json:"run_id"`
	Observations int64  `json:"observations"`
	Mature       int64  `json:"mature"`
	Alerts       int64  `json:"alerts"`
	FirstUnix    int64  `json:"first_unix"`
	LastUnix     int64  `json:"last_unix"`
}

// SummarizeRun counts a run's observations, how many carried the mature
// decision, and how many were taken under an alert.
func (db *DB) SummarizeRun(runID string) (RunSummary, error) {
	summary := RunSummary{RunID: runID}
	err := db.QueryRow(
		`SELECT COUNT(*),
			COALESCE(SUM(effective), 0),
			COALESCE(SUM(alert), 0),
			COALESCE(MIN(created_at_unix), 0),
			COALESCE(MAX(created_at_unix), 0)
		 FROM observations WHERE run_id = ?`,
		runID,
	).Scan(&summary.Observations, &summary.Mature, &summary.Alerts,
		&summary.FirstUnix, &summary.LastUnix)
	if err != nil {
		return RunSummary{}, fmt.Errorf("failed to summarize run: %w", err)
	}
	return summary, nil
}
