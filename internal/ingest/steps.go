package ingest

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/edudata-io/sis-sync/internal/config"
	"github.com/edudata-io/sis-sync/internal/db"
	"github.com/edudata-io/sis-sync/internal/metrics"
	"github.com/edudata-io/sis-sync/internal/models"
	"github.com/edudata-io/sis-sync/internal/upstream"
)

// Fetcher is the slice of the upstream client the ingestion steps use.
type Fetcher interface {
	GetJSON(ctx context.Context, tenant models.TenantConfig, path string, query url.Values, result interface{}) error
	GetRaw(ctx context.Context, tenant models.TenantConfig, path string, query url.Values) ([]byte, error)
}

// Loader is the slice of the bulk loader the ingestion steps use.
type Loader interface {
	Load(ctx context.Context, spec db.TableSpec, rows [][]interface{}) (int, error)
}

// RefResolver bulk-resolves external identifiers to internal keys.
type RefResolver interface {
	ResolveStudents(ctx context.Context, schoolID int64, refs []string) (map[string]int64, error)
	ResolveClasses(ctx context.Context, schoolID int64, refs []string) (map[string]int64, error)
}

// SchoolStore registers destination school rows.
type SchoolStore interface {
	UpsertSchool(ctx context.Context, school *models.School) (int64, error)
}

// Step is one named ingestion operation within a tenant's sequence.
type Step struct {
	Name string
	Run  func(ctx context.Context, tc *TenantContext) error
}

// endpoints lists the per-source API paths. {school} is replaced with the
// tenant's upstream-native school identifier.
type endpoints struct {
	school      string
	students    string
	staff       string
	classes     string
	allocations string
	attendance  string
	plans       string
	results     string
}

var sourceEndpoints = map[string]endpoints{
	models.SourceSomtoday: {
		school:      "/rest/v1/schools/{school}",
		students:    "/rest/v1/schools/{school}/students",
		staff:       "/rest/v1/schools/{school}/staff",
		classes:     "/rest/v1/schools/{school}/groups",
		allocations: "/rest/v1/schools/{school}/placements",
		attendance:  "/rest/v1/schools/{school}/absences",
		plans:       "/rest/v1/schools/{school}/schedule",
	},
	models.SourceMagister: {
		school:      "/api/schools/{school}",
		students:    "/api/schools/{school}/students",
		staff:       "/api/schools/{school}/employees",
		classes:     "/api/schools/{school}/classes",
		allocations: "/api/schools/{school}/enrollments",
		attendance:  "/api/schools/{school}/absences",
		results:     "/api/schools/{school}/results/export",
	},
}

// JobSet composes the upstream client, collector, bulk loader, and resolver
// into the named ingestion steps the orchestrator schedules per tenant.
type JobSet struct {
	fetch     Fetcher
	collector *upstream.Collector
	store     SchoolStore
	loader    Loader
	resolver  RefResolver
	cfg       *config.SyncConfig
	now       func() time.Time
}

// NewJobSet creates the ingestion step factory
func NewJobSet(fetch Fetcher, collector *upstream.Collector, store SchoolStore, loader Loader, resolver RefResolver, cfg *config.SyncConfig) *JobSet {
	return &JobSet{
		fetch:     fetch,
		collector: collector,
		store:     store,
		loader:    loader,
		resolver:  resolver,
		cfg:       cfg,
		now:       time.Now,
	}
}

// SequenceFor returns the ordered ingestion steps for one source. Later
// steps depend on earlier ones having populated lookup data, so order is
// fixed per source.
func (j *JobSet) SequenceFor(source string) []Step {
	eps := sourceEndpoints[source]

	steps := []Step{
		{Name: "school", Run: j.stepSchool(eps)},
		{Name: "students", Run: j.stepStudents(eps)},
		{Name: "staff", Run: j.stepStaff(eps)},
		{Name: "classes", Run: j.stepClasses(eps)},
		{Name: "allocations", Run: j.stepAllocations(eps)},
		{Name: "attendance", Run: j.stepAttendance(eps)},
	}

	switch source {
	case models.SourceSomtoday:
		steps = append(steps, Step{Name: "plans", Run: j.stepPlans(eps)})
	case models.SourceMagister:
		steps = append(steps, Step{Name: "assessments", Run: j.stepAssessments(eps)})
	}

	return steps
}

// fetchList pages through one list endpoint, normalizing each page's
// payload shape into a flat record list.
func (j *JobSet) fetchList(ctx context.Context, tc *TenantContext, path string, extra url.Values) ([]models.RawRecord, error) {
	return j.collector.Collect(ctx, func(ctx context.Context, offset, limit int) ([]models.RawRecord, error) {
		query := url.Values{}
		for k, vs := range extra {
			query[k] = vs
		}
		query.Set("offset", strconv.Itoa(offset))
		query.Set("limit", strconv.Itoa(limit))

		var payload json.RawMessage
		if err := j.fetch.GetJSON(ctx, tc.Tenant, expandPath(path, tc), query, &payload); err != nil {
			return nil, err
		}
		return upstream.NormalizeRecords(payload)
	})
}

func (j *JobSet) stepSchool(eps endpoints) func(context.Context, *TenantContext) error {
	return func(ctx context.Context, tc *TenantContext) error {
		var payload json.RawMessage
		if err := j.fetch.GetJSON(ctx, tc.Tenant, expandPath(eps.school, tc), nil, &payload); err != nil {
			return err
		}
		records, err := upstream.NormalizeRecords(payload)
		if err != nil {
			return err
		}

		name := tc.Tenant.Name
		if len(records) > 0 {
			if n := stringField(records[0], schoolNameKeys...); n != "" {
				name = n
			}
		}

		id, err := j.store.UpsertSchool(ctx, &models.School{
			TenantID:   tc.Tenant.ID,
			ExternalID: tc.Tenant.ExternalSchoolID,
			Name:       name,
			Source:     tc.Tenant.Source,
		})
		if err != nil {
			return err
		}

		tc.SchoolID = sql.NullInt64{Int64: id, Valid: true}
		return nil
	}
}

func (j *JobSet) stepStudents(eps endpoints) func(context.Context, *TenantContext) error {
	return func(ctx context.Context, tc *TenantContext) error {
		records, err := j.fetchList(ctx, tc, eps.students, nil)
		if err != nil {
			return err
		}
		return j.loadRows(ctx, tc, studentsTable, transformStudents(tc, records))
	}
}

func (j *JobSet) stepStaff(eps endpoints) func(context.Context, *TenantContext) error {
	return func(ctx context.Context, tc *TenantContext) error {
		records, err := j.fetchList(ctx, tc, eps.staff, nil)
		if err != nil {
			return err
		}
		return j.loadRows(ctx, tc, staffTable, transformStaff(tc, records))
	}
}

func (j *JobSet) stepClasses(eps endpoints) func(context.Context, *TenantContext) error {
	return func(ctx context.Context, tc *TenantContext) error {
		query := url.Values{}
		query.Set("year", strconv.Itoa(tc.AcademicYear))
		records, err := j.fetchList(ctx, tc, eps.classes, query)
		if err != nil {
			return err
		}
		return j.loadRows(ctx, tc, classesTable, transformClasses(tc, records))
	}
}

func (j *JobSet) stepAllocations(eps endpoints) func(context.Context, *TenantContext) error {
	return func(ctx context.Context, tc *TenantContext) error {
		query := url.Values{}
		query.Set("year", strconv.Itoa(tc.AcademicYear))
		records, err := j.fetchList(ctx, tc, eps.allocations, query)
		if err != nil {
			return err
		}

		studentRefs, classRefs, err := j.resolveRefs(ctx, tc, records, true, true)
		if err != nil {
			return err
		}

		rows := transformAllocations(tc, records, studentRefs, classRefs)
		countGaps("class_allocations", rows, 1, 2)
		return j.loadRows(ctx, tc, allocationsTable, rows)
	}
}

func (j *JobSet) stepAttendance(eps endpoints) func(context.Context, *TenantContext) error {
	return func(ctx context.Context, tc *TenantContext) error {
		start, end := academicYearRange(tc.AcademicYear, j.now())
		records, err := j.collector.CollectRange(ctx, start, end, j.cfg.Upstream.MaxDateSpan,
			func(ctx context.Context, from, to time.Time) ([]models.RawRecord, error) {
				query := url.Values{}
				query.Set("from", from.Format("2006-01-02"))
				query.Set("to", to.Format("2006-01-02"))
				return j.fetchList(ctx, tc, eps.attendance, query)
			})
		if err != nil {
			return err
		}

		studentRefs, _, err := j.resolveRefs(ctx, tc, records, true, false)
		if err != nil {
			return err
		}

		rows := transformAttendance(tc, records, studentRefs)
		countGaps("attendance_entries", rows, 1)
		return j.loadRows(ctx, tc, attendanceTable, rows)
	}
}

func (j *JobSet) stepPlans(eps endpoints) func(context.Context, *TenantContext) error {
	return func(ctx context.Context, tc *TenantContext) error {
		start, end := academicYearRange(tc.AcademicYear, j.now())
		records, err := j.collector.CollectRange(ctx, start, end, j.cfg.Upstream.MaxDateSpan,
			func(ctx context.Context, from, to time.Time) ([]models.RawRecord, error) {
				query := url.Values{}
				query.Set("from", from.Format("2006-01-02"))
				query.Set("to", to.Format("2006-01-02"))
				return j.fetchList(ctx, tc, eps.plans, query)
			})
		if err != nil {
			return err
		}

		_, classRefs, err := j.resolveRefs(ctx, tc, records, false, true)
		if err != nil {
			return err
		}

		rows := transformPlans(tc, records, classRefs)
		countGaps("plan_entries", rows, 1)
		return j.loadRows(ctx, tc, planTable, rows)
	}
}

// stepAssessments ingests the tabular result export: download, parse, then
// the same resolve/transform/load path as the JSON endpoints.
func (j *JobSet) stepAssessments(eps endpoints) func(context.Context, *TenantContext) error {
	return func(ctx context.Context, tc *TenantContext) error {
		query := url.Values{}
		query.Set("year", strconv.Itoa(tc.AcademicYear))
		data, err := j.fetch.GetRaw(ctx, tc.Tenant, expandPath(eps.results, tc), query)
		if err != nil {
			return err
		}

		records, err := parseResultExport(data)
		if err != nil {
			return err
		}

		studentRefs, _, err := j.resolveRefs(ctx, tc, records, true, false)
		if err != nil {
			return err
		}

		rows := transformAssessments(tc, records, studentRefs)
		countGaps("assessment_results", rows, 1)
		return j.loadRows(ctx, tc, assessmentsTable, rows)
	}
}

func (j *JobSet) loadRows(ctx context.Context, tc *TenantContext, spec db.TableSpec, rows [][]interface{}) error {
	inserted, err := j.loader.Load(ctx, spec, rows)
	if err != nil {
		return err
	}
	metrics.RowsLoaded.WithLabelValues(spec.Table).Add(float64(inserted))
	tc.Logger.WithField("table", spec.Table).WithField("rows", inserted).Info("Loaded rows")
	return nil
}

// resolveRefs bulk-resolves the student and/or class references appearing
// in a record set. Unresolved references stay absent; the transforms then
// persist those foreign keys as null.
func (j *JobSet) resolveRefs(ctx context.Context, tc *TenantContext, records []models.RawRecord, students, classes bool) (map[string]int64, map[string]int64, error) {
	studentRefs := map[string]int64{}
	classRefs := map[string]int64{}

	if !tc.SchoolID.Valid {
		return studentRefs, classRefs, nil
	}

	var err error
	if students {
		studentRefs, err = j.resolver.ResolveStudents(ctx, tc.SchoolID.Int64, collectRefs(records, allocStudentKeys))
		if err != nil {
			return nil, nil, fmt.Errorf("failed to resolve student references: %w", err)
		}
	}
	if classes {
		classRefs, err = j.resolver.ResolveClasses(ctx, tc.SchoolID.Int64, collectRefs(records, allocClassKeys))
		if err != nil {
			return nil, nil, fmt.Errorf("failed to resolve class references: %w", err)
		}
	}

	return studentRefs, classRefs, nil
}

// countGaps records unresolved foreign keys (null at the given row indexes)
// as a metric. A gap is not an error.
func countGaps(entity string, rows [][]interface{}, indexes ...int) {
	gaps := 0
	for _, row := range rows {
		for _, i := range indexes {
			if key, ok := row[i].(sql.NullInt64); ok && !key.Valid {
				gaps++
			}
		}
	}
	if gaps > 0 {
		metrics.ResolutionGaps.WithLabelValues(entity).Add(float64(gaps))
	}
}

func expandPath(path string, tc *TenantContext) string {
	return strings.ReplaceAll(path, "{school}", url.PathEscape(tc.Tenant.ExternalSchoolID))
}

// academicYearRange returns the date window for date-bounded endpoints: the
// school year's August 1st through today, capped at the year's July 31st.
func academicYearRange(year int, now time.Time) (time.Time, time.Time) {
	start := time.Date(year, time.August, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(year+1, time.July, 31, 0, 0, 0, 0, time.UTC)
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	if today.Before(end) {
		end = today
	}
	if end.Before(start) {
		end = start
	}
	return start, end
}
