package database

import (
	"database/sql"
	"fmt"
	"time"
)

// Activity represents a Strava activity owned by a single athlete
type Activity struct {
	ID                 int64
	AthleteID          int64
	Name               string
	Distance           float64
	MovingTime         int64
	ElapsedTime        int64
	TotalElevationGain float64
	Type               string
	StartDate          *string
	CreatedAt          int64
	UpdatedAt          int64
}

// UpsertActivity inserts or replaces an activity keyed by its provider ID.
// The athlete_id column is never changed by the conflict branch: a conflicting
// row owned by a different athlete is left untouched, so a relabeled upstream
// payload cannot move a record between tenants.
func (db *DB) UpsertActivity(a *Activity) error {
	now := time.Now().Unix()

	_, err := db.conn.Exec(`
		INSERT INTO activities (
			id, athlete_id, name, distance, moving_time, elapsed_time,
			total_elevation_gain, type, start_date, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			distance = excluded.distance,
			moving_time = excluded.moving_time,
			elapsed_time = excluded.elapsed_time,
			total_elevation_gain = excluded.total_elevation_gain,
			type = excluded.type,
			start_date = excluded.start_date,
			updated_at = excluded.updated_at
		WHERE activities.athlete_id = excluded.athlete_id
	`, a.ID, a.AthleteID, a.Name, a.Distance, a.MovingTime, a.ElapsedTime,
		a.TotalElevationGain, a.Type, a.StartDate, now, now)

	if err != nil {
		return fmt.Errorf("failed to upsert activity: %w", err)
	}
	return nil
}

// GetActivity retrieves an activity by ID scoped to its owning athlete
func (db *DB) GetActivity(activityID, athleteID int64) (*Activity, error) {
	var a Activity
	err := db.conn.QueryRow(`
		SELECT id, athlete_id, name, distance, moving_time, elapsed_time,
		       total_elevation_gain, type, start_date, created_at, updated_at
		FROM activities WHERE id = ? AND athlete_id = ?
	`, activityID, athleteID).Scan(
		&a.ID, &a.AthleteID, &a.Name, &a.Distance, &a.MovingTime, &a.ElapsedTime,
		&a.TotalElevationGain, &a.Type, &a.StartDate, &a.CreatedAt, &a.UpdatedAt,
	)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get activity: %w", err)
	}
	return &a, nil
}

// PatchActivity updates only the provided columns for an activity scoped to
// its owning athlete. Returns the number of rows changed; zero means the
// record does not exist locally (or is owned by another athlete) and the
// patch was a no-op.
func (db *DB) PatchActivity(activityID, athleteID int64, columns map[string]any) (int64, error) {
	if len(columns) == 0 {
		return 0, nil
	}

	query := "UPDATE activities SET "
	args := make([]any, 0, len(columns)+3)
	first := true
	for col, val := range columns {
		if !first {
			query += ", "
		}
		query += col + " = ?"
		args = append(args, val)
		first = false
	}
	query += ", updated_at = ? WHERE id = ? AND athlete_id = ?"
	args = append(args, time.Now().Unix(), activityID, athleteID)

	result, err := db.conn.Exec(query, args...)
	if err != nil {
		return 0, fmt.Errorf("failed to patch activity: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return rows, nil
}

// DeleteActivity removes an activity scoped to its owning athlete.
// Deleting a record that does not exist is success, not an error.
func (db *DB) DeleteActivity(activityID, athleteID int64) error {
	_, err := db.conn.Exec(`
		DELETE FROM activities WHERE id = ? AND athlete_id = ?
	`, activityID, athleteID)

	if err != nil {
		return fmt.Errorf("failed to delete activity: %w", err)
	}
	return nil
}

// CountActivitiesByAthlete returns the number of activities owned by an athlete
func (db *DB) CountActivitiesByAthlete(athleteID int64) (int, error) {
	var count int
	err := db.conn.QueryRow(`
		SELECT COUNT(*) FROM activities WHERE athlete_id = ?
	`, athleteID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count activities: %w", err)
	}
	return count, nil
}
