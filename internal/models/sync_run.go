package models

import (
	"encoding/json"
	"fmt"
	"time"
)

// RunStatus is the lifecycle state of a SyncRun. A run is terminal once its
// status leaves StatusRunning.
type RunStatus string

const (
	RunStatusRunning   RunStatus = "running"
	RunStatusCompleted RunStatus = "completed"
	RunStatusFailed    RunStatus = "failed"
	RunStatusCancelled RunStatus = "cancelled"
)

// SchoolStatus is the lifecycle state of one tenant's job within a run.
// Skipped means the run was cancelled before or while the job ran; failed
// means the job itself raised an error.
type SchoolStatus string

const (
	SchoolStatusPending   SchoolStatus = "pending"
	SchoolStatusRunning   SchoolStatus = "running"
	SchoolStatusCompleted SchoolStatus = "completed"
	SchoolStatusFailed    SchoolStatus = "failed"
	SchoolStatusSkipped   SchoolStatus = "skipped"
)

// SyncRun tracks one orchestrator invocation covering one or more tenants.
type SyncRun struct {
	ID               string     `json:"id"`
	Scope            string     `json:"scope"`
	AcademicYear     int        `json:"academic_year"`
	TriggeredBy      string     `json:"triggered_by"`
	Status           RunStatus  `json:"status"`
	TotalSchools     int        `json:"total_schools"`
	SchoolsSucceeded int        `json:"schools_succeeded"`
	SchoolsFailed    int        `json:"schools_failed"`
	ErrorSummary     string     `json:"error_summary,omitempty"`
	StartedAt        time.Time  `json:"started_at"`
	FinishedAt       *time.Time `json:"finished_at,omitempty"`
}

// SyncRunSchool tracks one tenant's job within a SyncRun. Rows are created
// before dispatch and updated exactly once at completion, failure, or
// cancellation.
type SyncRunSchool struct {
	ID           int64        `json:"id"`
	RunID        string       `json:"run_id"`
	TenantID     int64        `json:"tenant_id"`
	SchoolName   string       `json:"school_name"`
	Source       string       `json:"source"`
	Status       SchoolStatus `json:"status"`
	ErrorMessage string       `json:"error_message,omitempty"`
	StartedAt    *time.Time   `json:"started_at,omitempty"`
	FinishedAt   *time.Time   `json:"finished_at,omitempty"`
}

// String returns the JSON representation of the run, used in log lines.
func (r *SyncRun) String() string {
	data, err := json.Marshal(r)
	if err != nil {
		return fmt.Sprintf(`{"error":"failed to marshal sync run: %v"}`, err)
	}
	return string(data)
}
