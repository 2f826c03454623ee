package api

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/edudata-io/sis-sync/internal/ingest"
	"github.com/edudata-io/sis-sync/internal/models"
)

// TenantStore resolves sync scopes into tenant configs and reads run state
// for the admin surface.
type TenantStore interface {
	ListActiveTenants(ctx context.Context) ([]models.TenantConfig, error)
	GetTenants(ctx context.Context, ids []int64) ([]models.TenantConfig, error)
	GetSyncRun(ctx context.Context, runID string) (*models.SyncRun, error)
	ListSyncRuns(ctx context.Context, limit int) ([]*models.SyncRun, error)
	ListRunSchools(ctx context.Context, runID string) ([]*models.SyncRunSchool, error)
}

type Handler struct {
	orchestrator *ingest.Orchestrator
	store        TenantStore
	academicYear int
	logger       *logrus.Logger
}

func NewHandler(orchestrator *ingest.Orchestrator, store TenantStore, academicYear int, logger *logrus.Logger) *Handler {
	return &Handler{
		orchestrator: orchestrator,
		store:        store,
		academicYear: academicYear,
		logger:       logger,
	}
}

// StartSyncRequest is the body of POST /sync/runs
type StartSyncRequest struct {
	TenantIDs    []int64 `json:"tenant_ids"`
	AcademicYear int     `json:"academic_year"`
	TriggeredBy  string  `json:"triggered_by"`
}

// StartSyncResponse is returned when a run has been dispatched
type StartSyncResponse struct {
	RunID string `json:"run_id"`
}

// ErrorResponse is the generic error body
type ErrorResponse struct {
	Error string `json:"error"`
}

// StartSync godoc
// @Summary Start a sync run
// @Description Starts a sync run for the given tenants, or all active tenants when none are given
// @Tags sync
// @Accept json
// @Produce json
// @Param request body StartSyncRequest true "Run scope"
// @Success 202 {object} StartSyncResponse
// @Failure 400 {object} ErrorResponse
// @Failure 500 {object} ErrorResponse
// @Router /sync/runs [post]
func (h *Handler) StartSync(c *gin.Context) {
	var req StartSyncRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
		return
	}

	var tenants []models.TenantConfig
	var err error
	description := "all-active"
	if len(req.TenantIDs) > 0 {
		tenants, err = h.store.GetTenants(c.Request.Context(), req.TenantIDs)
		description = "explicit"
	} else {
		tenants, err = h.store.ListActiveTenants(c.Request.Context())
	}
	if err != nil {
		h.logger.WithError(err).Error("Failed to resolve sync scope")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "failed to resolve sync scope"})
		return
	}

	year := req.AcademicYear
	if year == 0 {
		year = h.academicYear
	}
	triggeredBy := req.TriggeredBy
	if triggeredBy == "" {
		triggeredBy = "api"
	}

	runID, err := h.orchestrator.Start(ingest.RunScope{
		Tenants:      tenants,
		Description:  description,
		AcademicYear: year,
		TriggeredBy:  triggeredBy,
	})
	if err != nil {
		h.logger.WithError(err).Error("Failed to start sync run")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "failed to start sync run"})
		return
	}

	c.JSON(http.StatusAccepted, StartSyncResponse{RunID: runID})
}

// GetRun godoc
// @Summary Get a sync run
// @Description Returns a run's aggregate state and its per-school rows
// @Tags sync
// @Produce json
// @Param id path string true "Run ID"
// @Success 200 {object} RunDetailResponse
// @Failure 404 {object} ErrorResponse
// @Failure 500 {object} ErrorResponse
// @Router /sync/runs/{id} [get]
func (h *Handler) GetRun(c *gin.Context) {
	runID := c.Param("id")

	run, err := h.store.GetSyncRun(c.Request.Context(), runID)
	if err != nil {
		h.logger.WithError(err).Error("Failed to get sync run")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "failed to get sync run"})
		return
	}
	if run == nil {
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "sync run not found"})
		return
	}

	schools, err := h.store.ListRunSchools(c.Request.Context(), runID)
	if err != nil {
		h.logger.WithError(err).Error("Failed to list run schools")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "failed to list run schools"})
		return
	}

	c.JSON(http.StatusOK, RunDetailResponse{Run: run, Schools: schools})
}

// RunDetailResponse pairs a run with its per-school rows
type RunDetailResponse struct {
	Run     *models.SyncRun         `json:"run"`
	Schools []*models.SyncRunSchool `json:"schools"`
}

// ListRuns godoc
// @Summary List sync runs
// @Description Returns the most recent sync runs, newest first
// @Tags sync
// @Produce json
// @Param limit query int false "Number of runs to return" default(20)
// @Success 200 {array} models.SyncRun
// @Failure 500 {object} ErrorResponse
// @Router /sync/runs [get]
func (h *Handler) ListRuns(c *gin.Context) {
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "20"))
	if err != nil || limit <= 0 {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid limit parameter"})
		return
	}

	runs, err := h.store.ListSyncRuns(c.Request.Context(), limit)
	if err != nil {
		h.logger.WithError(err).Error("Failed to list sync runs")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "failed to list sync runs"})
		return
	}

	c.JSON(http.StatusOK, runs)
}

// CancelRun godoc
// @Summary Cancel a sync run
// @Description Fires the cooperative cancellation signal for a running sync
// @Tags sync
// @Produce json
// @Param id path string true "Run ID"
// @Success 202 {object} map[string]string
// @Failure 404 {object} ErrorResponse
// @Router /sync/runs/{id}/cancel [post]
func (h *Handler) CancelRun(c *gin.Context) {
	runID := c.Param("id")
	if !h.orchestrator.Cancel(runID) {
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "no active run with that id"})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"status": "cancelling"})
}
