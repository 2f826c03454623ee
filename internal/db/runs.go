package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/edudata-io/sis-sync/internal/models"
)

// CreateSyncRun persists a new run in the running state
func (s *PostgresStore) CreateSyncRun(ctx context.Context, run *models.SyncRun) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sync_runs (
			id, scope, academic_year, triggered_by, status,
			total_schools, schools_succeeded, schools_failed,
			error_summary, started_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`,
		run.ID,
		run.Scope,
		run.AcademicYear,
		run.TriggeredBy,
		run.Status,
		run.TotalSchools,
		run.SchoolsSucceeded,
		run.SchoolsFailed,
		run.ErrorSummary,
		run.StartedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create sync run: %w", err)
	}
	return nil
}

// UpdateSyncRun updates a run's status, totals, and timestamps
func (s *PostgresStore) UpdateSyncRun(ctx context.Context, run *models.SyncRun) error {
	var finishedAt sql.NullTime
	if run.FinishedAt != nil {
		finishedAt = sql.NullTime{Time: *run.FinishedAt, Valid: true}
	}

	result, err := s.db.ExecContext(ctx, `
		UPDATE sync_runs SET
			status = $1,
			total_schools = $2,
			schools_succeeded = $3,
			schools_failed = $4,
			error_summary = $5,
			finished_at = $6
		WHERE id = $7
	`,
		run.Status,
		run.TotalSchools,
		run.SchoolsSucceeded,
		run.SchoolsFailed,
		run.ErrorSummary,
		finishedAt,
		run.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update sync run: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("sync run not found: %s", run.ID)
	}

	return nil
}

// GetSyncRun retrieves one run by id
func (s *PostgresStore) GetSyncRun(ctx context.Context, runID string) (*models.SyncRun, error) {
	var run models.SyncRun
	var errorSummary sql.NullString
	var finishedAt sql.NullTime

	err := s.db.QueryRowContext(ctx, `
		SELECT id, scope, academic_year, triggered_by, status,
			total_schools, schools_succeeded, schools_failed,
			error_summary, started_at, finished_at
		FROM sync_runs WHERE id = $1
	`, runID).Scan(
		&run.ID,
		&run.Scope,
		&run.AcademicYear,
		&run.TriggeredBy,
		&run.Status,
		&run.TotalSchools,
		&run.SchoolsSucceeded,
		&run.SchoolsFailed,
		&errorSummary,
		&run.StartedAt,
		&finishedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	} else if err != nil {
		return nil, fmt.Errorf("failed to get sync run: %w", err)
	}

	run.ErrorSummary = errorSummary.String
	if finishedAt.Valid {
		run.FinishedAt = &finishedAt.Time
	}

	return &run, nil
}

// ListSyncRuns retrieves the most recent runs, newest first
func (s *PostgresStore) ListSyncRuns(ctx context.Context, limit int) ([]*models.SyncRun, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, scope, academic_year, triggered_by, status,
			total_schools, schools_succeeded, schools_failed,
			error_summary, started_at, finished_at
		FROM sync_runs
		ORDER BY started_at DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query sync runs: %w", err)
	}
	defer rows.Close()

	var runs []*models.SyncRun
	for rows.Next() {
		var run models.SyncRun
		var errorSummary sql.NullString
		var finishedAt sql.NullTime
		if err := rows.Scan(
			&run.ID,
			&run.Scope,
			&run.AcademicYear,
			&run.TriggeredBy,
			&run.Status,
			&run.TotalSchools,
			&run.SchoolsSucceeded,
			&run.SchoolsFailed,
			&errorSummary,
			&run.StartedAt,
			&finishedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan sync run row: %w", err)
		}
		run.ErrorSummary = errorSummary.String
		if finishedAt.Valid {
			run.FinishedAt = &finishedAt.Time
		}
		runs = append(runs, &run)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating sync run rows: %w", err)
	}

	return runs, nil
}

// CreateRunSchools persists the per-school rows of a run, all pending
func (s *PostgresStore) CreateRunSchools(ctx context.Context, schools []*models.SyncRunSchool) error {
	if len(schools) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO sync_run_schools (run_id, tenant_id, school_name, source, status)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare run school statement: %w", err)
	}
	defer stmt.Close()

	for _, school := range schools {
		if err := stmt.QueryRowContext(ctx,
			school.RunID,
			school.TenantID,
			school.SchoolName,
			school.Source,
			school.Status,
		).Scan(&school.ID); err != nil {
			return fmt.Errorf("failed to insert run school for %s: %w", school.SchoolName, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit run school transaction: %w", err)
	}

	return nil
}

// UpdateRunSchool records a school job's terminal state
func (s *PostgresStore) UpdateRunSchool(ctx context.Context, school *models.SyncRunSchool) error {
	var finishedAt sql.NullTime
	if school.FinishedAt != nil {
		finishedAt = sql.NullTime{Time: *school.FinishedAt, Valid: true}
	}

	_, err := s.db.ExecContext(ctx, `
		UPDATE sync_run_schools SET
			status = $1,
			error_message = $2,
			finished_at = $3
		WHERE id = $4
	`, school.Status, school.ErrorMessage, finishedAt, school.ID)
	if err != nil {
		return fmt.Errorf("failed to update run school: %w", err)
	}

	return nil
}

// MarkRunSchoolsRunning flips every school row of a run to running
func (s *PostgresStore) MarkRunSchoolsRunning(ctx context.Context, runID string, at time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE sync_run_schools SET status = $1, started_at = $2
		WHERE run_id = $3
	`, models.SchoolStatusRunning, at, runID)
	if err != nil {
		return fmt.Errorf("failed to mark run schools running: %w", err)
	}
	return nil
}

// ListRunSchools retrieves the per-school rows of a run
func (s *PostgresStore) ListRunSchools(ctx context.Context, runID string) ([]*models.SyncRunSchool, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, run_id, tenant_id, school_name, source, status,
			error_message, started_at, finished_at
		FROM sync_run_schools
		WHERE run_id = $1
		ORDER BY id
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to query run schools: %w", err)
	}
	defer rows.Close()

	var schools []*models.SyncRunSchool
	for rows.Next() {
		var school models.SyncRunSchool
		var errorMessage sql.NullString
		var startedAt, finishedAt sql.NullTime
		if err := rows.Scan(
			&school.ID,
			&school.RunID,
			&school.TenantID,
			&school.SchoolName,
			&school.Source,
			&school.Status,
			&errorMessage,
			&startedAt,
			&finishedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan run school row: %w", err)
		}
		school.ErrorMessage = errorMessage.String
		if startedAt.Valid {
			school.StartedAt = &startedAt.Time
		}
		if finishedAt.Valid {
			school.FinishedAt = &finishedAt.Time
		}
		schools = append(schools, &school)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating run school rows: %w", err)
	}

	return schools, nil
}
