package database

import (
	"testing"
)

func TestEnqueueAndClaimSyncJob(t *testing.T) {
	db := setupTestDB(t)

	id, err := db.EnqueueSyncJob(1, "backfill_activities")
	if err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}
	if id == 0 {
		t.Fatal("Expected a job id")
	}

	job, err := db.ClaimSyncJob()
	if err != nil {
		t.Fatalf("Claim failed: %v", err)
	}
	if job == nil {
		t.Fatal("Expected a job")
	}
	if job.AthleteID != 1 || job.JobType != "backfill_activities" {
		t.Errorf("Unexpected job: %+v", job)
	}
}

func TestClaimSyncJobEmptyQueue(t *testing.T) {
	db := setupTestDB(t)

	job, err := db.ClaimSyncJob()
	if err != nil {
		t.Fatalf("Claim errored: %v", err)
	}
	if job != nil {
		t.Errorf("Expected nil on empty queue, got %+v", job)
	}
}

func TestClaimSyncJobIsExclusive(t *testing.T) {
	db := setupTestDB(t)

	if _, err := db.EnqueueSyncJob(1, "backfill_activities"); err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}

	first, err := db.ClaimSyncJob()
	if err != nil || first == nil {
		t.Fatalf("First claim failed: job=%v err=%v", first, err)
	}

	// The same job must not be claimable while its lock is fresh
	second, err := db.ClaimSyncJob()
	if err != nil {
		t.Fatalf("Second claim errored: %v", err)
	}
	if second != nil {
		t.Errorf("Claimed job was claimed again: %+v", second)
	}
}

func TestClaimSyncJobOrdersByID(t *testing.T) {
	db := setupTestDB(t)

	for athlete := int64(1); athlete <= 3; athlete++ {
		if _, err := db.EnqueueSyncJob(athlete, "backfill_activities"); err != nil {
			t.Fatalf("Enqueue failed: %v", err)
		}
	}

	for athlete := int64(1); athlete <= 3; athlete++ {
		job, err := db.ClaimSyncJob()
		if err != nil || job == nil {
			t.Fatalf("Claim failed: %v", err)
		}
		if job.AthleteID != athlete {
			t.Errorf("Expected athlete %d, got %d", athlete, job.AthleteID)
		}
	}
}

func TestDeleteSyncJob(t *testing.T) {
	db := setupTestDB(t)

	if _, err := db.EnqueueSyncJob(1, "backfill_activities"); err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}
	job, _ := db.ClaimSyncJob()

	if err := db.DeleteSyncJob(job.ID); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}

	length, err := db.GetSyncJobQueueLength()
	if err != nil {
		t.Fatalf("Queue length failed: %v", err)
	}
	if length != 0 {
		t.Errorf("Expected empty queue, got %d", length)
	}
}

func TestReleaseSyncJobBacksOff(t *testing.T) {
	db := setupTestDB(t)

	if _, err := db.EnqueueSyncJob(1, "backfill_activities"); err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}
	job, _ := db.ClaimSyncJob()

	released, err := db.ReleaseSyncJob(job.ID, job.RetryCount, "provider unavailable")
	if err != nil {
		t.Fatalf("Release failed: %v", err)
	}
	if !released {
		t.Fatal("First release should keep the job")
	}

	// The job is retained but not ready until its backoff elapses
	total, _ := db.GetSyncJobQueueLength()
	ready, _ := db.GetReadySyncJobQueueLength()
	if total != 1 || ready != 0 {
		t.Errorf("Expected 1 backed-off job, got total=%d ready=%d", total, ready)
	}

	if job, _ := db.ClaimSyncJob(); job != nil {
		t.Errorf("Backed-off job should not be claimable: %+v", job)
	}
}

func TestReleaseSyncJobDropsAfterMaxRetries(t *testing.T) {
	db := setupTestDB(t)

	if _, err := db.EnqueueSyncJob(1, "backfill_activities"); err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}
	job, _ := db.ClaimSyncJob()

	released, err := db.ReleaseSyncJob(job.ID, MaxRetries, "still failing")
	if err != nil {
		t.Fatalf("Release failed: %v", err)
	}
	if released {
		t.Error("Job past max retries should be dropped")
	}

	length, _ := db.GetSyncJobQueueLength()
	if length != 0 {
		t.Errorf("Dropped job still in queue: %d", length)
	}
}
