package laurel

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/empyre-fit/empyre/internal/metrics"
	"github.com/empyre-fit/empyre/internal/storage"
)

const historyLimit = 50

// JobStore abstracts the job queue and the collections the worker reads
// and writes.
type JobStore interface {
	ClaimNextJob(ctx context.Context, types []string) (*storage.Job, error)
	CompleteJob(ctx context.Context, id string) error
	FailJob(ctx context.Context, id string, errMsg string) error
	GetProgressLog(ctx context.Context, id string) (storage.ProgressLog, error)
	ListProgressLogs(ctx context.Context, userID string, limit int) ([]storage.ProgressLog, error)
	HasLaurelFor(ctx context.Context, sourceID, laurelType string) (bool, error)
	AwardLaurel(ctx context.Context, l storage.Laurel) error
}

// Worker processes award_laurel jobs from the SQLite job queue.
type Worker struct {
	store  JobStore
	poll   time.Duration
	logger *slog.Logger
}

// NewWorker creates a Worker. If pollInterval is <= 0, it defaults to 500ms.
func NewWorker(store JobStore, pollInterval time.Duration) *Worker {
	if pollInterval <= 0 {
		pollInterval = 500 * time.Millisecond
	}
	return &Worker{
		store:  store,
		poll:   pollInterval,
		logger: slog.Default(),
	}
}

// Run polls for jobs until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}

		done, err := w.RunOnce(ctx)
		if err != nil {
			w.logger.Error("laurel worker iteration failed", "error", err)
		}
		if done {
			continue
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(w.poll):
		}
	}
}

// RunOnce claims and processes a single award_laurel job.
// Returns true if a job was processed (regardless of success/failure).
func (w *Worker) RunOnce(ctx context.Context) (bool, error) {
	job, err := w.store.ClaimNextJob(ctx, []string{storage.JobAwardLaurel})
	if err != nil {
		return false, fmt.Errorf("claiming job: %w", err)
	}
	if job == nil {
		return false, nil
	}

	if err := w.processJob(ctx, job); err != nil {
		w.logger.Warn("laurel job failed", "job_id", job.ID, "attempt", job.Attempts, "error", err)
		if failErr := w.store.FailJob(ctx, job.ID, err.Error()); failErr != nil {
			w.logger.Error("failed to mark job as failed", "job_id", job.ID, "error", failErr)
		}
		return true, nil
	}

	if err := w.store.CompleteJob(ctx, job.ID); err != nil {
		return true, fmt.Errorf("completing job %s: %w", job.ID, err)
	}
	return true, nil
}

type awardPayload struct {
	ProgressLogID string `json:"progress_log_id"`
}

// processJob is idempotent: laurels already recorded for the log are
// skipped, so a retried job never double-awards.
func (w *Worker) processJob(ctx context.Context, job *storage.Job) error {
	var payload awardPayload
	if err := json.Unmarshal([]byte(job.PayloadJSON), &payload); err != nil {
		return fmt.Errorf("parsing payload: %w", err)
	}

	log, err := w.store.GetProgressLog(ctx, payload.ProgressLogID)
	if err != nil {
		return fmt.Errorf("loading progress log %s: %w", payload.ProgressLogID, err)
	}

	history, err := w.store.ListProgressLogs(ctx, log.UserID, historyLimit)
	if err != nil {
		return fmt.Errorf("loading history for %s: %w", log.UserID, err)
	}
	previous := make([]storage.ProgressLog, 0, len(history))
	for _, h := range history {
		if h.ID != log.ID && !h.CreatedAt.After(log.CreatedAt) {
			previous = append(previous, h)
		}
	}

	for _, a := range Evaluate(log, previous) {
		exists, err := w.store.HasLaurelFor(ctx, log.ID, a.Type)
		if err != nil {
			return fmt.Errorf("checking laurel %s: %w", a.Type, err)
		}
		if exists {
			continue
		}
		l := storage.Laurel{
			ID:          uuid.New().String(),
			UserID:      log.UserID,
			LaurelType:  a.Type,
			Points:      a.Points,
			Description: a.Description,
			SourceID:    log.ID,
			CreatedAt:   time.Now().UTC(),
		}
		if err := w.store.AwardLaurel(ctx, l); err != nil {
			return fmt.Errorf("awarding %s: %w", a.Type, err)
		}
		metrics.RecordLaurel(a.Type)
		w.logger.Info("laurel awarded", "user_id", log.UserID, "laurel_type", a.Type, "points", a.Points)
	}
	return nil
}

// Manual builds a laurel granted outside the rules. Points default to
// DefaultManualPoints when nil.
func Manual(userID, laurelType string, points *int, description string) (storage.Laurel, error) {
	if userID == "" || laurelType == "" {
		return storage.Laurel{}, fmt.Errorf("user_id and laurel_type are required")
	}
	p := DefaultManualPoints
	if points != nil {
		p = *points
	}
	if p < 0 {
		return storage.Laurel{}, fmt.Errorf("points must not be negative, got %d", p)
	}
	return storage.Laurel{
		ID:          uuid.New().String(),
		UserID:      userID,
		LaurelType:  laurelType,
		Points:      p,
		Description: description,
		CreatedAt:   time.Now().UTC(),
	}, nil
}
