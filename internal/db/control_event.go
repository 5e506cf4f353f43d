package db

import (
	"fmt"
	"time"
)

// ControlEvent is one action on the alert channel or one line of pod
// chatter worth keeping: source names the surface (serial, http, mqtt,
// pod), kind the action.
type ControlEvent struct {
	ID        int64     `json:"id"`
	Source    string    `json:"source"`
	Kind      string    `json:"kind"`
	Payload   string    `json:"payload"`
	CreatedAt time.Time `json:"created_at"`
}

func (e *ControlEvent) String() string {
	return fmt.Sprintf("Source: %s, Kind: %s, Payload: %s", e.Source, e.Kind, e.Payload)
}

// RecordControlEvent inserts one control event.
func (db *DB) RecordControlEvent(source, kind, payload string) error {
	_, err := db.Exec(
		"INSERT INTO control_events (source, kind, payload, created_at_unix) VALUES (?, ?, ?, ?)",
		source, kind, payload, time.Now().Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to record control event: %w", err)
	}
	return nil
}

// ControlEvents retrieves recent control events newest first. limit <= 0
// takes 200.
func (db *DB) ControlEvents(limit int) ([]ControlEvent, error) {
	if limit <= 0 {
		limit = 200
	}

	rows, err := db.Query(
		`SELECT id, source, kind, payload, created_at_unix
		 FROM control_events ORDER BY created_at_unix DESC, id DESC LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query control events: %w", err)
	}
	defer rows.Close()

	var events []ControlEvent
	for rows.Next() {
		var event ControlEvent
		var createdUnix int64

		if err := rows.Scan(&event.ID, &event.Source, &event.Kind, &event.Payload, &createdUnix); err != nil {
			return nil, fmt.Errorf("failed to scan control event: %w", err)
		}

		event.CreatedAt = time.Unix(createdUnix, 0)
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return events, nil
}
