package db

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Run represents one harvester session: process start to stop, under one
// weights version on one device.
type Run struct {
	ID             string     `json:"id"`
	Device         string     `json:"device"`
	WeightsVersion string     `json:"weights_version"`
	StartedAt      time.Time  `json:"started_at"`
	EndedAt        *time.Time `json:"ended_at"`
	Notes          *string    `json:"notes"`
}

// CreateRun inserts a new run. A missing ID gets a fresh UUID, a zero
// StartedAt the current time; both are written back to run.
func (db *DB) CreateRun(run *Run) error {
	if run.ID == "" {
		run.ID = uuid.NewString()
	}
	if run.StartedAt.IsZero() {
		run.StartedAt = time.Now()
	}

	_, err := db.Exec(
		`INSERT INTO runs (id, device, weights_version, started_at_unix, notes)
		 VALUES (?, ?, ?, ?, ?)`,
		run.ID, run.Device, run.WeightsVersion, run.StartedAt.Unix(), run.Notes,
	)
	if err != nil {
		return fmt.Errorf("failed to create run: %w", err)
	}
	return nil
}

// EndRun stamps the run's end time.
func (db *DB) EndRun(id string) error {
	result, err := db.Exec(
		"UPDATE runs SET ended_at_unix = ? WHERE id = ?",
		time.Now().Unix(), id,
	)
	if err != nil {
		return fmt.Errorf("failed to end run: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check end run: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("run not found")
	}
	return nil
}

// GetRun retrieves a run by ID.
func (db *DB) GetRun(id string) (*Run, error) {
	var run Run
	var startedUnix int64
	var endedUnix sql.NullInt64

	err := db.QueryRow(
		`SELECT id, device, weights_version, started_at_unix, ended_at_unix, notes
		 FROM runs WHERE id = ?`,
		id,
	).Scan(&run.ID, &run.Device, &run.WeightsVersion, &startedUnix, &endedUnix, &run.Notes)

	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("run not found")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get run: %w", err)
	}

	run.StartedAt = time.Unix(startedUnix, 0)
	if endedUnix.Valid {
		ended := time.Unix(endedUnix.Int64, 0)
		run.EndedAt = &ended
	}
	return &run, nil
}

// Runs retrieves the most recent runs, newest first.
func (db *DB) Runs() ([]Run, error) {
	rows, err := db.Query(
		`SELECT id, device, weights_version, started_at_unix, ended_at_unix, notes
		 FROM runs ORDER BY started_at_unix DESC LIMIT 100`,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var run Run
		var startedUnix int64
		var endedUnix sql.NullInt64

		if err := rows.Scan(&run.ID, &run.Device, &run.WeightsVersion, &startedUnix, &endedUnix, &run.Notes); err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}

		run.StartedAt = time.Unix(startedUnix, 0)
		if endedUnix.Valid {
			ended := time.Unix(endedUnix.Int64, 0)
			run.EndedAt = &ended
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return runs, nil
}
