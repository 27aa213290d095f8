package database

import (
	"path/filepath"
	"testing"
)

func setupTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("Failed to open database: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func sampleActivity(id, athleteID int64) *Activity {
	date := "2026-07-01T08:00:00Z"
	return &Activity{
		ID:         id,
		AthleteID:  athleteID,
		Name:       "Morning Run",
		Distance:   5000,
		MovingTime: 1500,
		Type:       "Run",
		StartDate:  &date,
	}
}

func TestUpsertAndGetActivity(t *testing.T) {
	db := setupTestDB(t)

	if err := db.UpsertActivity(sampleActivity(101, 1)); err != nil {
		t.Fatalf("Upsert failed: %v", err)
	}

	stored, err := db.GetActivity(101, 1)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if stored == nil {
		t.Fatal("Activity not found")
	}
	if stored.Name != "Morning Run" || stored.Distance != 5000 {
		t.Errorf("Unexpected activity: %+v", stored)
	}
	if stored.StartDate == nil || *stored.StartDate != "2026-07-01T08:00:00Z" {
		t.Errorf("Start date not stored: %v", stored.StartDate)
	}
}

func TestUpsertActivityReplacesFields(t *testing.T) {
	db := setupTestDB(t)

	if err := db.UpsertActivity(sampleActivity(101, 1)); err != nil {
		t.Fatalf("Upsert failed: %v", err)
	}

	updated := sampleActivity(101, 1)
	updated.Name = "Renamed Run"
	updated.Distance = 6000
	if err := db.UpsertActivity(updated); err != nil {
		t.Fatalf("Second upsert failed: %v", err)
	}

	stored, _ := db.GetActivity(101, 1)
	if stored.Name != "Renamed Run" || stored.Distance != 6000 {
		t.Errorf("Upsert did not replace fields: %+v", stored)
	}

	count, _ := db.CountActivitiesByAthlete(1)
	if count != 1 {
		t.Errorf("Expected 1 activity, got %d", count)
	}
}

func TestUpsertActivityKeepsOwner(t *testing.T) {
	db := setupTestDB(t)

	if err := db.UpsertActivity(sampleActivity(101, 1)); err != nil {
		t.Fatalf("Upsert failed: %v", err)
	}

	// Same id, different athlete: the conflict branch must not fire
	hijack := sampleActivity(101, 2)
	hijack.Name = "Stolen Run"
	if err := db.UpsertActivity(hijack); err != nil {
		t.Fatalf("Conflicting upsert errored: %v", err)
	}

	original, _ := db.GetActivity(101, 1)
	if original == nil || original.Name != "Morning Run" {
		t.Errorf("Original record changed: %+v", original)
	}
	if moved, _ := db.GetActivity(101, 2); moved != nil {
		t.Error("Record moved between athletes")
	}
}

func TestGetActivityMissing(t *testing.T) {
	db := setupTestDB(t)

	stored, err := db.GetActivity(404, 1)
	if err != nil {
		t.Fatalf("Get errored: %v", err)
	}
	if stored != nil {
		t.Errorf("Expected nil for missing activity, got %+v", stored)
	}
}

func TestGetActivityScopedToAthlete(t *testing.T) {
	db := setupTestDB(t)

	if err := db.UpsertActivity(sampleActivity(101, 1)); err != nil {
		t.Fatalf("Upsert failed: %v", err)
	}

	stored, err := db.GetActivity(101, 2)
	if err != nil {
		t.Fatalf("Get errored: %v", err)
	}
	if stored != nil {
		t.Error("Another athlete's scope returned the record")
	}
}

func TestPatchActivity(t *testing.T) {
	db := setupTestDB(t)

	if err := db.UpsertActivity(sampleActivity(101, 1)); err != nil {
		t.Fatalf("Upsert failed: %v", err)
	}

	rows, err := db.PatchActivity(101, 1, map[string]any{"name": "Patched"})
	if err != nil {
		t.Fatalf("Patch failed: %v", err)
	}
	if rows != 1 {
		t.Errorf("Expected 1 row changed, got %d", rows)
	}

	stored, _ := db.GetActivity(101, 1)
	if stored.Name != "Patched" {
		t.Errorf("Patch not applied: %+v", stored)
	}
	if stored.Type != "Run" {
		t.Errorf("Untouched column changed: %+v", stored)
	}
}

func TestPatchActivityMissingIsNoOp(t *testing.T) {
	db := setupTestDB(t)

	rows, err := db.PatchActivity(404, 1, map[string]any{"name": "Ghost"})
	if err != nil {
		t.Fatalf("Patch errored: %v", err)
	}
	if rows != 0 {
		t.Errorf("Expected 0 rows changed, got %d", rows)
	}
}

func TestPatchActivityEmptyColumns(t *testing.T) {
	db := setupTestDB(t)

	rows, err := db.PatchActivity(101, 1, map[string]any{})
	if err != nil {
		t.Fatalf("Patch errored: %v", err)
	}
	if rows != 0 {
		t.Errorf("Expected no-op, got %d rows", rows)
	}
}

func TestDeleteActivityIdempotent(t *testing.T) {
	db := setupTestDB(t)

	if err := db.UpsertActivity(sampleActivity(101, 1)); err != nil {
		t.Fatalf("Upsert failed: %v", err)
	}

	if err := db.DeleteActivity(101, 1); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if err := db.DeleteActivity(101, 1); err != nil {
		t.Errorf("Second delete errored: %v", err)
	}
	if stored, _ := db.GetActivity(101, 1); stored != nil {
		t.Error("Activity still present")
	}
}
