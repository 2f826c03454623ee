package ingest

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/edudata-io/sis-sync/internal/config"
	apperrors "github.com/edudata-io/sis-sync/internal/errors"
	"github.com/edudata-io/sis-sync/internal/metrics"
	"github.com/edudata-io/sis-sync/internal/models"
)

// SequenceFunc returns the ordered ingestion steps for a source.
type SequenceFunc func(source string) []Step

// RunScope is the resolved set of tenants one run covers. Scope resolution
// itself (explicit list, node-derived, "all active") happens upstream of
// the orchestrator.
type RunScope struct {
	Tenants      []models.TenantConfig
	Description  string
	AcademicYear int
	TriggeredBy  string
}

// Orchestrator fans out one ingestion task per tenant, tracks run state,
// and supports cooperative cancellation keyed by run id.
type Orchestrator struct {
	tracker  *RunTracker
	sequence SequenceFunc
	refresh  *RefreshPipeline
	cfg      *config.SyncConfig
	logger   *logrus.Logger
	now      func() time.Time

	mu      sync.Mutex
	cancels map[string]context.CancelFunc
}

// OrchestratorOption allows configuring the orchestrator
type OrchestratorOption func(*Orchestrator)

// WithRefreshPipeline attaches the downstream reporting trigger fired after
// each tenant's successful sequence.
func WithRefreshPipeline(p *RefreshPipeline) OrchestratorOption {
	return func(o *Orchestrator) {
		o.refresh = p
	}
}

// WithNow overrides the orchestrator's clock, used in tests.
func WithNow(now func() time.Time) OrchestratorOption {
	return func(o *Orchestrator) {
		o.now = now
	}
}

// NewOrchestrator creates a new sync orchestrator
func NewOrchestrator(tracker *RunTracker, sequence SequenceFunc, cfg *config.SyncConfig, logger *logrus.Logger, opts ...OrchestratorOption) *Orchestrator {
	o := &Orchestrator{
		tracker:  tracker,
		sequence: sequence,
		cfg:      cfg,
		logger:   logger,
		now:      time.Now,
		cancels:  make(map[string]context.CancelFunc),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Start launches a run in the background and returns its id immediately.
// Progress is visible through the persisted run and school rows.
func (o *Orchestrator) Start(scope RunScope) (string, error) {
	eligible, run, schools, err := o.prepare(context.Background(), scope)
	if err != nil {
		return "", err
	}

	go func() {
		o.execute(context.Background(), run, schools, eligible, scope.AcademicYear)
	}()

	return run.ID, nil
}

// Execute runs a sync to completion and returns the aggregate result. Used
// by the scheduler and anywhere a blocking run is wanted.
func (o *Orchestrator) Execute(ctx context.Context, scope RunScope) (*models.SyncRun, error) {
	eligible, run, schools, err := o.prepare(ctx, scope)
	if err != nil {
		return nil, err
	}
	return o.execute(ctx, run, schools, eligible, scope.AcademicYear), nil
}

// Cancel fires the cancellation signal for a running run. Tenant tasks
// observe it before their next step; steps already in flight are allowed to
// finish. Returns false when no such run is active.
func (o *Orchestrator) Cancel(runID string) bool {
	o.mu.Lock()
	cancel, ok := o.cancels[runID]
	o.mu.Unlock()
	if ok {
		cancel()
	}
	return ok
}

// CancelAll fires cancellation for every active run, used at shutdown.
func (o *Orchestrator) CancelAll() {
	o.mu.Lock()
	defer o.mu.Unlock()
	for _, cancel := range o.cancels {
		cancel()
	}
}

// prepare creates the run and its school rows. Tenants without an upstream
// school identifier cannot be fetched and are excluded before dispatch, not
// counted as failed.
func (o *Orchestrator) prepare(ctx context.Context, scope RunScope) ([]models.TenantConfig, *models.SyncRun, []*models.SyncRunSchool, error) {
	eligible := make([]models.TenantConfig, 0, len(scope.Tenants))
	for _, tenant := range scope.Tenants {
		if tenant.ExternalSchoolID == "" {
			o.logger.WithFields(logrus.Fields{
				"school": tenant.Name,
				"source": tenant.Source,
			}).Warn("Tenant has no upstream school identifier, excluding from run")
			continue
		}
		eligible = append(eligible, tenant)
	}

	run := &models.SyncRun{
		ID:           uuid.NewString(),
		Scope:        scope.Description,
		AcademicYear: scope.AcademicYear,
		TriggeredBy:  scope.TriggeredBy,
		Status:       models.RunStatusRunning,
		TotalSchools: len(eligible),
		StartedAt:    o.now(),
	}

	schools := make([]*models.SyncRunSchool, len(eligible))
	for i, tenant := range eligible {
		schools[i] = &models.SyncRunSchool{
			RunID:      run.ID,
			TenantID:   tenant.ID,
			SchoolName: tenant.Name,
			Source:     tenant.Source,
			Status:     models.SchoolStatusPending,
		}
	}

	if err := o.tracker.StartRun(ctx, run, schools); err != nil {
		return nil, nil, nil, fmt.Errorf("failed to start sync run: %w", err)
	}

	return eligible, run, schools, nil
}

type tenantOutcome struct {
	school *models.SyncRunSchool
	err    error
}

func (o *Orchestrator) execute(ctx context.Context, run *models.SyncRun, schools []*models.SyncRunSchool, eligible []models.TenantConfig, academicYear int) *models.SyncRun {
	logger := o.logger.WithField("run_id", run.ID)

	if len(eligible) == 0 {
		run.Status = models.RunStatusCompleted
		o.tracker.FinishRun(ctx, run, o.now())
		metrics.RunsTotal.WithLabelValues(string(run.Status)).Inc()
		logger.Info("Sync run completed with zero schools in scope")
		return run
	}

	// The cancellation signal gates step starts only. Steps themselves run
	// on the parent context so an in-flight call or transaction is never
	// interrupted mid-way.
	runCtx, cancel := context.WithCancel(context.Background())
	defer cancel()
	o.mu.Lock()
	o.cancels[run.ID] = cancel
	o.mu.Unlock()
	defer func() {
		o.mu.Lock()
		delete(o.cancels, run.ID)
		o.mu.Unlock()
	}()

	logger.WithField("schools", len(eligible)).Info("Dispatching tenant ingestion tasks")

	outcomes := make(chan tenantOutcome, len(eligible))
	var wg sync.WaitGroup
	for i, tenant := range eligible {
		wg.Add(1)
		go func(tenant models.TenantConfig, school *models.SyncRunSchool) {
			defer wg.Done()
			metrics.SchoolsInFlight.Inc()
			defer metrics.SchoolsInFlight.Dec()
			outcomes <- tenantOutcome{school: school, err: o.runTenant(ctx, runCtx, tenant, school, academicYear)}
		}(tenant, schools[i])
	}
	wg.Wait()
	close(outcomes)

	succeeded, failed := 0, 0
	cancelled := runCtx.Err() != nil
	var failures []string
	for outcome := range outcomes {
		switch {
		case outcome.err == nil:
			succeeded++
		case apperrors.IsCancelled(outcome.err):
			cancelled = true
		default:
			failed++
			failures = append(failures, fmt.Sprintf("%s: %v", outcome.school.SchoolName, outcome.err))
		}
	}

	run.SchoolsSucceeded = succeeded
	run.SchoolsFailed = failed
	run.ErrorSummary = summarize(failures, o.cfg.ErrorSummaryLimit, o.cfg.ErrorMessageLimit)

	switch {
	case cancelled:
		run.Status = models.RunStatusCancelled
	case failed == len(eligible):
		run.Status = models.RunStatusFailed
	default:
		run.Status = models.RunStatusCompleted
	}

	o.tracker.FinishRun(ctx, run, o.now())
	metrics.RunsTotal.WithLabelValues(string(run.Status)).Inc()

	logger.WithFields(logrus.Fields{
		"status":    run.Status,
		"succeeded": succeeded,
		"failed":    failed,
	}).Info("Sync run finished")

	return run
}

// runTenant executes one tenant's ordered step sequence, checking the
// cancellation signal before every step and recording the school row's
// terminal state itself.
func (o *Orchestrator) runTenant(ctx, runCtx context.Context, tenant models.TenantConfig, school *models.SyncRunSchool, academicYear int) error {
	tc := NewTenantContext(tenant, academicYear, o.logger)

	for _, step := range o.sequence(tenant.Source) {
		if runCtx.Err() != nil {
			err := apperrors.NewCancelledError(step.Name)
			o.tracker.FinishSchool(ctx, school, models.SchoolStatusSkipped, "", o.cfg.ErrorMessageLimit, o.now())
			tc.Logger.WithField("step", step.Name).Info("Cancellation observed, skipping remaining steps")
			return err
		}

		tc.Logger.WithField("step", step.Name).Info("Running ingestion step")
		if err := step.Run(ctx, tc); err != nil {
			wrapped := fmt.Errorf("step %s: %w", step.Name, err)
			o.tracker.FinishSchool(ctx, school, models.SchoolStatusFailed, wrapped.Error(), o.cfg.ErrorMessageLimit, o.now())
			tc.Logger.WithField("step", step.Name).WithError(err).Error("Ingestion step failed")
			return wrapped
		}
	}

	o.tracker.FinishSchool(ctx, school, models.SchoolStatusCompleted, "", o.cfg.ErrorMessageLimit, o.now())
	tc.Logger.Info("Tenant ingestion completed")

	if o.refresh != nil && tc.SchoolID.Valid {
		// Observable fire-and-forget: the outcome is logged by the
		// pipeline itself and never affects this run's result.
		o.refresh.Trigger(ctx, tc.SchoolID.Int64, academicYear)
	}

	return nil
}

// summarize joins the first few per-tenant failures into the run-level
// error summary.
func summarize(failures []string, maxEntries, maxLen int) string {
	if len(failures) == 0 {
		return ""
	}
	entries := failures
	suffix := ""
	if maxEntries > 0 && len(failures) > maxEntries {
		entries = failures[:maxEntries]
		suffix = fmt.Sprintf(" (and %d more)", len(failures)-maxEntries)
	}
	return truncate(strings.Join(entries, "; ")+suffix, maxLen)
}
