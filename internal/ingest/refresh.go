package ingest

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/sirupsen/logrus"
)

// RefreshRunner executes one named step of the downstream reporting
// pipeline. The pipeline's internals are opaque to the orchestrator.
type RefreshRunner interface {
	RunStep(ctx context.Context, schoolID int64, academicYear int, step string) error
}

// RefreshPipeline triggers the downstream reporting refresh after a
// successful load. It runs as an observable async task: Trigger returns a
// channel carrying the pipeline's single outcome, and a failure is logged
// but never propagated into the sync run's own result.
type RefreshPipeline struct {
	steps  []string
	runner RefreshRunner
	logger *logrus.Logger
}

// NewRefreshPipeline creates a new refresh pipeline trigger
func NewRefreshPipeline(steps []string, runner RefreshRunner, logger *logrus.Logger) *RefreshPipeline {
	return &RefreshPipeline{steps: steps, runner: runner, logger: logger}
}

// Trigger starts the refresh pipeline for one school and year. The steps
// run in order; the first failure stops the pipeline and is reported on the
// returned channel (buffered, never blocks the pipeline goroutine).
func (p *RefreshPipeline) Trigger(ctx context.Context, schoolID int64, academicYear int) <-chan error {
	done := make(chan error, 1)

	go func() {
		var result error
		for _, step := range p.steps {
			if err := p.runner.RunStep(ctx, schoolID, academicYear, step); err != nil {
				result = fmt.Errorf("refresh step %s failed: %w", step, err)
				break
			}
		}
		if result != nil {
			p.logger.WithField("school_id", schoolID).WithError(result).Warn("Downstream refresh pipeline failed")
		} else {
			p.logger.WithField("school_id", schoolID).Debug("Downstream refresh pipeline completed")
		}
		done <- result
	}()

	return done
}

// SQLRefreshRunner executes refresh steps as database procedures.
type SQLRefreshRunner struct {
	db *sql.DB
}

// NewSQLRefreshRunner creates a runner backed by database procedures
func NewSQLRefreshRunner(db *sql.DB) *SQLRefreshRunner {
	return &SQLRefreshRunner{db: db}
}

// RunStep invokes one named refresh procedure
func (r *SQLRefreshRunner) RunStep(ctx context.Context, schoolID int64, academicYear int, step string) error {
	_, err := r.db.ExecContext(ctx, fmt.Sprintf("SELECT %s($1, $2)", step), schoolID, academicYear)
	if err != nil {
		return fmt.Errorf("failed to run refresh procedure %s: %w", step, err)
	}
	return nil
}
