// Package reconciler converges the local activity mirror with provider
// webhook events. All operations are idempotent: redelivered events settle
// into the same final state.
package reconciler

import (
	"log/slog"

	"fittalk-gateway/internal/database"
	"fittalk-gateway/internal/provider"
)

// Reconciler applies provider activity state to the local mirror
type Reconciler struct {
	db     *database.DB
	logger *slog.Logger
}

// New creates a new reconciler
func New(db *database.DB) *Reconciler {
	return &Reconciler{
		db:     db,
		logger: slog.Default(),
	}
}

// Upsert stores a provider activity payload. The row is stamped with the
// owner id from the triggering event, never the id embedded in the payload,
// so a mislabeled payload cannot claim another athlete's record.
func (r *Reconciler) Upsert(activity *provider.Activity, ownerID int64) error {
	act := &database.Activity{
		ID:                 activity.ID,
		AthleteID:          ownerID,
		Name:               activity.Name,
		Distance:           activity.Distance,
		MovingTime:         activity.MovingTime,
		ElapsedTime:        activity.ElapsedTime,
		TotalElevationGain: activity.TotalElevationGain,
		Type:               activity.Type,
	}
	if activity.StartDate != "" {
		act.StartDate = &activity.StartDate
	}
	return r.db.UpsertActivity(act)
}

// Patch applies the changed fields from an update event. Only recognized
// keys are mapped to columns; everything else is ignored. Returns whether a
// local record changed; patching an unknown record is a no-op, not an error.
func (r *Reconciler) Patch(activityID, athleteID int64, updates map[string]any) (bool, error) {
	columns := make(map[string]any)
	for key, value := range updates {
		s, ok := value.(string)
		if !ok {
			continue
		}
		switch key {
		case "title":
			columns["name"] = s
		case "type":
			columns["type"] = s
		}
	}
	if len(columns) == 0 {
		return false, nil
	}

	rows, err := r.db.PatchActivity(activityID, athleteID, columns)
	if err != nil {
		return false, err
	}
	if rows == 0 {
		r.logger.Debug("Patch for unknown activity ignored",
			"activity_id", activityID,
			"athlete_id", athleteID)
	}
	return rows > 0, nil
}

// Delete removes a local activity. Deleting an already absent record
// succeeds.
func (r *Reconciler) Delete(activityID, athleteID int64) error {
	return r.db.DeleteActivity(activityID, athleteID)
}
