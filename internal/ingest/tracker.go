package ingest

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/edudata-io/sis-sync/internal/models"
)

// RunStore is the slice of the database store the run tracker needs.
type RunStore interface {
	CreateSyncRun(ctx context.Context, run *models.SyncRun) error
	UpdateSyncRun(ctx context.Context, run *models.SyncRun) error
	CreateRunSchools(ctx context.Context, schools []*models.SyncRunSchool) error
	UpdateRunSchool(ctx context.Context, school *models.SyncRunSchool) error
	MarkRunSchoolsRunning(ctx context.Context, runID string, at time.Time) error
}

// RunTracker persists the state of a sync run and its per-school jobs at
// job boundaries.
type RunTracker struct {
	store  RunStore
	logger *logrus.Logger
}

// NewRunTracker creates a new run tracker
func NewRunTracker(store RunStore, logger *logrus.Logger) *RunTracker {
	return &RunTracker{store: store, logger: logger}
}

// StartRun persists a new run with its school rows pending, then flips them
// all to running.
func (t *RunTracker) StartRun(ctx context.Context, run *models.SyncRun, schools []*models.SyncRunSchool) error {
	if err := t.store.CreateSyncRun(ctx, run); err != nil {
		return err
	}
	if err := t.store.CreateRunSchools(ctx, schools); err != nil {
		return err
	}
	if len(schools) == 0 {
		return nil
	}
	return t.store.MarkRunSchoolsRunning(ctx, run.ID, run.StartedAt)
}

// FinishSchool records a school job's terminal state. Each row is written
// exactly once; the error message is truncated to maxErrLen runes.
func (t *RunTracker) FinishSchool(ctx context.Context, school *models.SyncRunSchool, status models.SchoolStatus, errMsg string, maxErrLen int, at time.Time) {
	school.Status = status
	school.ErrorMessage = truncate(errMsg, maxErrLen)
	school.FinishedAt = &at

	if err := t.store.UpdateRunSchool(ctx, school); err != nil {
		t.logger.WithFields(logrus.Fields{
			"run_id": school.RunID,
			"school": school.SchoolName,
		}).WithError(err).Error("Failed to persist school job state")
	}
}

// FinishRun records the run's terminal state
func (t *RunTracker) FinishRun(ctx context.Context, run *models.SyncRun, at time.Time) {
	run.FinishedAt = &at
	if err := t.store.UpdateSyncRun(ctx, run); err != nil {
		t.logger.WithField("run_id", run.ID).WithError(err).Error("Failed to persist run state")
	}
}

func truncate(s string, max int) string {
	if max <= 0 {
		return s
	}
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max]) + "..."
}
