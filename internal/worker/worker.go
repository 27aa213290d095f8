// Package worker drains the sync job queue in the background. Jobs are
// claimed atomically, so multiple instances sharing a database never process
// the same job twice concurrently.
package worker

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"fittalk-gateway/internal/database"
	"fittalk-gateway/internal/errs"
	"fittalk-gateway/internal/metrics"
	"fittalk-gateway/internal/oauth"
	"fittalk-gateway/internal/provider"
	"fittalk-gateway/internal/reconciler"
)

const (
	defaultPollInterval = 10 * time.Second

	// backfillPageSize is the provider's maximum page size; fewer pages
	// means fewer requests against the rate limit
	backfillPageSize = 100
)

// Worker processes queued sync jobs
type Worker struct {
	db           *database.DB
	tokens       *oauth.TokenManager
	client       *provider.Client
	reconciler   *reconciler.Reconciler
	pollInterval time.Duration
	logger       *slog.Logger
}

// New creates a new worker
func New(db *database.DB, tokens *oauth.TokenManager, client *provider.Client, rec *reconciler.Reconciler) *Worker {
	return &Worker{
		db:           db,
		tokens:       tokens,
		client:       client,
		reconciler:   rec,
		pollInterval: defaultPollInterval,
		logger:       slog.Default(),
	}
}

// Start runs the worker loop until the context is cancelled
func (w *Worker) Start(ctx context.Context) {
	w.logger.Info("Worker starting", "poll_interval", w.pollInterval)
	metrics.WorkerActive.Set(1)
	defer metrics.WorkerActive.Set(0)

	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	// Drain anything already queued before the first tick
	w.poll(ctx)

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("Worker stopping")
			return
		case <-ticker.C:
			w.poll(ctx)
		}
	}
}

// poll claims and processes jobs until the queue is drained
func (w *Worker) poll(ctx context.Context) {
	for ctx.Err() == nil {
		job, err := w.db.ClaimSyncJob()
		if err != nil {
			w.logger.Error("Failed to claim sync job", "error", err)
			return
		}
		if job == nil {
			metrics.WorkerPollCyclesTotal.WithLabelValues(metrics.OutcomeIdle).Inc()
			return
		}

		metrics.WorkerPollCyclesTotal.WithLabelValues(metrics.OutcomeSyncJobFound).Inc()
		w.process(ctx, job)
	}
}

func (w *Worker) process(ctx context.Context, job *database.SyncJob) {
	logger := w.logger.With(
		"job_id", job.ID,
		"job_type", job.JobType,
		"athlete_id", job.AthleteID,
		"retry_count", job.RetryCount,
	)
	start := time.Now()

	var err error
	switch job.JobType {
	case oauth.JobTypeBackfill:
		err = w.backfill(ctx, job.AthleteID)
	default:
		logger.Warn("Dropping job with unknown type")
		w.finish(job, metrics.ResultDropped, start, logger)
		return
	}

	if err == nil {
		metrics.SyncJobsCompletedTotal.WithLabelValues(job.JobType).Inc()
		w.finish(job, metrics.ResultSuccess, start, logger)
		return
	}

	if errs.IsAuth(err) {
		// The athlete disconnected or the grant is revoked; retrying
		// cannot succeed
		logger.Info("Dropping job for unauthorized athlete", "error", err)
		w.finish(job, metrics.ResultDropped, start, logger)
		return
	}

	logger.Warn("Sync job failed", "error", err)
	released, rerr := w.db.ReleaseSyncJob(job.ID, job.RetryCount, err.Error())
	if rerr != nil {
		logger.Error("Failed to release sync job", "error", rerr)
		return
	}

	result := metrics.ResultRetry
	if !released {
		logger.Error("Dropping job after max retries")
		result = metrics.ResultDropped
	} else {
		metrics.QueueRetryTotal.WithLabelValues(metrics.QueueTypeSyncJob,
			fmt.Sprintf("%d", job.RetryCount+1)).Inc()
	}
	metrics.QueueDequeueTotal.WithLabelValues(metrics.QueueTypeSyncJob, result).Inc()
	metrics.QueueProcessingDuration.WithLabelValues(metrics.QueueTypeSyncJob, result).
		Observe(time.Since(start).Seconds())
}

// finish removes a job from the queue and records its outcome
func (w *Worker) finish(job *database.SyncJob, result string, start time.Time, logger *slog.Logger) {
	if err := w.db.DeleteSyncJob(job.ID); err != nil {
		logger.Error("Failed to delete sync job", "error", err)
		return
	}
	metrics.QueueDequeueTotal.WithLabelValues(metrics.QueueTypeSyncJob, result).Inc()
	metrics.QueueProcessingDuration.WithLabelValues(metrics.QueueTypeSyncJob, result).
		Observe(time.Since(start).Seconds())
	if result == metrics.ResultSuccess {
		logger.Info("Sync job completed", "duration", time.Since(start))
	}
}

// backfill pages through the athlete's full activity history and mirrors
// every activity. Re-running after a partial failure re-upserts the same
// rows, so interrupted backfills are safe to retry.
func (w *Worker) backfill(ctx context.Context, athleteID int64) error {
	total := 0
	for page := 1; ; page++ {
		accessToken, err := w.tokens.GetValidToken(ctx, athleteID)
		if err != nil {
			return err
		}

		activities, hasMore, err := w.client.ListActivities(ctx, accessToken, page, backfillPageSize)
		if err != nil {
			return fmt.Errorf("failed to list page %d: %w", page, err)
		}

		for _, activity := range activities {
			if err := w.reconciler.Upsert(&activity, athleteID); err != nil {
				return err
			}
		}
		total += len(activities)

		if !hasMore {
			break
		}
	}

	metrics.BackfillActivitiesCount.Observe(float64(total))
	w.logger.Info("Backfill complete", "athlete_id", athleteID, "activities", total)
	return nil
}
