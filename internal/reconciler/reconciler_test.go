package reconciler

import (
	"path/filepath"
	"testing"

	"fittalk-gateway/internal/database"
	"fittalk-gateway/internal/provider"
)

func setupTest(t *testing.T) (*database.DB, *Reconciler) {
	t.Helper()
	db, err := database.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("Failed to open database: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db, New(db)
}

func sampleActivity() *provider.Activity {
	return &provider.Activity{
		ID:         101,
		Athlete:    provider.Athlete{ID: 1},
		Name:       "Morning Run",
		Distance:   5000,
		MovingTime: 1500,
		Type:       "Run",
		StartDate:  "2026-07-01T08:00:00Z",
	}
}

func TestUpsertIsIdempotent(t *testing.T) {
	db, r := setupTest(t)

	for i := 0; i < 3; i++ {
		if err := r.Upsert(sampleActivity(), 1); err != nil {
			t.Fatalf("Upsert %d failed: %v", i, err)
		}
	}

	count, err := db.CountActivitiesByAthlete(1)
	if err != nil {
		t.Fatalf("Count failed: %v", err)
	}
	if count != 1 {
		t.Errorf("Expected 1 activity after redelivery, got %d", count)
	}
}

func TestUpsertStampsOwnerFromEvent(t *testing.T) {
	db, r := setupTest(t)

	// The payload claims athlete 99 but the event owner is athlete 1
	payload := sampleActivity()
	payload.Athlete.ID = 99
	if err := r.Upsert(payload, 1); err != nil {
		t.Fatalf("Upsert failed: %v", err)
	}

	stored, err := db.GetActivity(101, 1)
	if err != nil {
		t.Fatalf("GetActivity failed: %v", err)
	}
	if stored == nil {
		t.Fatal("Activity not stored under the event owner")
	}
	if stored.AthleteID != 1 {
		t.Errorf("Expected athlete 1, got %d", stored.AthleteID)
	}
}

func TestUpsertRefusesOwnershipRelabel(t *testing.T) {
	db, r := setupTest(t)

	if err := r.Upsert(sampleActivity(), 1); err != nil {
		t.Fatalf("Initial upsert failed: %v", err)
	}

	// A later event for the same activity id with a different owner must not
	// move the record between athletes
	relabeled := sampleActivity()
	relabeled.Name = "Stolen Run"
	if err := r.Upsert(relabeled, 2); err != nil {
		t.Fatalf("Relabel upsert errored: %v", err)
	}

	original, err := db.GetActivity(101, 1)
	if err != nil {
		t.Fatalf("GetActivity failed: %v", err)
	}
	if original == nil {
		t.Fatal("Original record disappeared")
	}
	if original.Name != "Morning Run" {
		t.Errorf("Conflicting owner overwrote the record: %+v", original)
	}
	if moved, _ := db.GetActivity(101, 2); moved != nil {
		t.Error("Record was relabeled to a different athlete")
	}
}

func TestPatchMapsEventFields(t *testing.T) {
	db, r := setupTest(t)

	if err := r.Upsert(sampleActivity(), 1); err != nil {
		t.Fatalf("Upsert failed: %v", err)
	}

	changed, err := r.Patch(101, 1, map[string]any{
		"title":   "Renamed Run",
		"type":    "TrailRun",
		"private": "true",
	})
	if err != nil {
		t.Fatalf("Patch failed: %v", err)
	}
	if !changed {
		t.Error("Expected patch to change the record")
	}

	stored, err := db.GetActivity(101, 1)
	if err != nil || stored == nil {
		t.Fatalf("GetActivity failed: %v", err)
	}
	if stored.Name != "Renamed Run" || stored.Type != "TrailRun" {
		t.Errorf("Patch not applied: %+v", stored)
	}
	// The unmapped field changed nothing else
	if stored.Distance != 5000 {
		t.Errorf("Unrelated column changed: %+v", stored)
	}
}

func TestPatchUnknownRecordIsNoOp(t *testing.T) {
	_, r := setupTest(t)

	changed, err := r.Patch(404, 1, map[string]any{"title": "Ghost"})
	if err != nil {
		t.Fatalf("Patch errored: %v", err)
	}
	if changed {
		t.Error("Patch of an unknown record reported a change")
	}
}

func TestPatchOnlyUnmappedKeysIsNoOp(t *testing.T) {
	db, r := setupTest(t)

	if err := r.Upsert(sampleActivity(), 1); err != nil {
		t.Fatalf("Upsert failed: %v", err)
	}

	changed, err := r.Patch(101, 1, map[string]any{"private": "true", "visibility": "followers"})
	if err != nil {
		t.Fatalf("Patch errored: %v", err)
	}
	if changed {
		t.Error("Patch with no mapped keys reported a change")
	}

	stored, _ := db.GetActivity(101, 1)
	if stored.Name != "Morning Run" {
		t.Errorf("Record changed unexpectedly: %+v", stored)
	}
}

func TestDeleteIsIdempotent(t *testing.T) {
	db, r := setupTest(t)

	if err := r.Upsert(sampleActivity(), 1); err != nil {
		t.Fatalf("Upsert failed: %v", err)
	}

	if err := r.Delete(101, 1); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if err := r.Delete(101, 1); err != nil {
		t.Errorf("Redelivered delete errored: %v", err)
	}

	if stored, _ := db.GetActivity(101, 1); stored != nil {
		t.Error("Activity still present after delete")
	}
}

func TestDeleteScopedToOwner(t *testing.T) {
	db, r := setupTest(t)

	if err := r.Upsert(sampleActivity(), 1); err != nil {
		t.Fatalf("Upsert failed: %v", err)
	}

	// A delete event with the wrong owner must not remove the record
	if err := r.Delete(101, 2); err != nil {
		t.Fatalf("Delete errored: %v", err)
	}
	if stored, _ := db.GetActivity(101, 1); stored == nil {
		t.Error("Delete with mismatched owner removed the record")
	}
}
