package db

import (
	"path/filepath"
	"strings"
	"testing"
)

func TestLatestMigrationVersion(t *testing.T) {
	latest, err := LatestMigrationVersion()
	if err != nil {
		t.Fatalf("LatestMigrationVersion failed: %v", err)
	}
	if latest < 3 {
		t.Errorf("latest = %d, want at least 3", latest)
	}
}

func TestMigrateDownThenUp(t *testing.T) {
	db := setupTestDB(t)

	before, _, err := db.MigrateVersion()
	if err != nil {
		t.Fatalf("MigrateVersion failed: %v", err)
	}

	if err := db.MigrateDown(); err != nil {
		t.Fatalf("MigrateDown failed: %v", err)
	}
	after, dirty, err := db.MigrateVersion()
	if err != nil {
		t.Fatalf("MigrateVersion failed: %v", err)
	}
	if after != before-1 || dirty {
		t.Errorf("version after down = %d dirty=%v, want %d clean", after, dirty, before-1)
	}

	if err := db.MigrateUp(); err != nil {
		t.Fatalf("MigrateUp failed: %v", err)
	}
	final, _, err := db.MigrateVersion()
	if err != nil {
		t.Fatalf("MigrateVersion failed: %v", err)
	}
	if final != before {
		t.Errorf("version after up = %d, want %d", final, before)
	}
}

func TestMigrateDown_RemovesControlEvents(t *testing.T) {
	db := setupTestDB(t)

	// Version 3 only adds indexes; two steps down drops control_events.
	if err := db.MigrateDown(); err != nil {
		t.Fatalf("MigrateDown failed: %v", err)
	}
	if err := db.MigrateDown(); err != nil {
		t.Fatalf("MigrateDown failed: %v", err)
	}

	var count int
	err := db.QueryRow(
		"SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name='control_events'",
	).Scan(&count)
	if err != nil {
		t.Fatalf("failed to check control_events: %v", err)
	}
	if count != 0 {
		t.Error("control_events should be gone at version 1")
	}
}

func TestMigrateUp_Idempotent(t *testing.T) {
	db := setupTestDB(t)

	if err := db.MigrateUp(); err != nil {
		t.Errorf("second MigrateUp should be a no-op, got %v", err)
	}
}

func TestCheckMigrations(t *testing.T) {
	db := setupTestDB(t)
	if err := db.CheckMigrations(); err != nil {
		t.Errorf("fresh database should pass the check, got %v", err)
	}
}

func TestCheckMigrations_BareDatabase(t *testing.T) {
	db, err := OpenDB(filepath.Join(t.TempDir(), "bare.db"))
	if err != nil {
		t.Fatalf("OpenDB failed: %v", err)
	}
	defer db.Close()

	err = db.CheckMigrations()
	if err == nil || !strings.Contains(err.Error(), "migrate up") {
		t.Errorf("bare database check = %v, want out-of-date error", err)
	}
}

func TestBaselineAtVersion(t *testing.T) {
	db, err := OpenDB(filepath.Join(t.TempDir(), "baseline.db"))
	if err != nil {
		t.Fatalf("OpenDB failed: %v", err)
	}
	defer db.Close()

	if err := db.BaselineAtVersion(1); err != nil {
		t.Fatalf("BaselineAtVersion failed: %v", err)
	}

	version, dirty, err := db.MigrateVersion()
	if err != nil {
		t.Fatalf("MigrateVersion failed: %v", err)
	}
	if version != 1 || dirty {
		t.Errorf("version = %d dirty=%v, want 1 clean", version, dirty)
	}

	if err := db.BaselineAtVersion(2); err == nil {
		t.Error("second baseline should fail")
	}
}

func TestGetMigrationStatus(t *testing.T) {
	db := setupTestDB(t)

	status, err := db.GetMigrationStatus()
	if err != nil {
		t.Fatalf("GetMigrationStatus failed: %v", err)
	}
	if exists, _ := status["schema_migrations_exists"].(bool); !exists {
		t.Error("schema_migrations_exists should be true after NewDB")
	}
}
