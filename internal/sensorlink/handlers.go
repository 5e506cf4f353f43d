package sensorlink

import (
	"fmt"
	"log"
	"strings"

	"github.com/verdant-data/maturity.report/internal/db"
)

// CurrentIdent holds the latest identity line received from the pod and
// is intentionally package-level so admin routes or tests can inspect it.
var CurrentIdent string

// HandleIdent records the pod's identity announcement, normally seen once
// at power-on.
func HandleIdent(d *db.DB, payload string) error {
	CurrentIdent = strings.TrimSpace(payload)
	log.Printf("Pod Ident Line: %+v", payload)
	return d.RecordControlEvent("pod", EventTypeIdent, CurrentIdent)
}

// HandleNotice records a pod diagnostic comment line.
func HandleNotice(d *db.DB, payload string) error {
	log.Printf("Pod Notice Line: %+v", payload)
	return d.RecordControlEvent("pod", EventTypeNotice, strings.TrimSpace(payload))
}

// HandleEvent routes one pod report line to its handler. Echo reports are
// owned by the measurement path and pass through untouched here.
func HandleEvent(d *db.DB, payload string) error {
	switch ClassifyLine(payload) {
	case EventTypeEcho:
		// consumed by the range measurement in flight
	case EventTypeIdent:
		if err := HandleIdent(d, payload); err != nil {
			return fmt.Errorf("failed to handle ident event: %v", err)
		}
	case EventTypeNotice:
		if err := HandleNotice(d, payload); err != nil {
			return fmt.Errorf("failed to handle notice event: %v", err)
		}
	default:
		log.Printf("unknown report line: %s", payload)
	}
	return nil
}
