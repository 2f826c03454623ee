package ingest

import (
	"database/sql"

	"github.com/sirupsen/logrus"

	"github.com/edudata-io/sis-sync/internal/models"
)

// TenantContext carries the per-tenant state of one ingestion task. One
// value is constructed per tenant task and threaded explicitly through every
// step, so concurrent tenants never share mutable state.
type TenantContext struct {
	Tenant       models.TenantConfig
	AcademicYear int

	// SchoolID is the internal surrogate key for the tenant's school, set
	// by the school step. Later steps carry it into every row they load; it
	// stays null when the school could not be registered.
	SchoolID sql.NullInt64

	Logger *logrus.Entry
}

// NewTenantContext creates the ingestion context for one tenant task
func NewTenantContext(tenant models.TenantConfig, academicYear int, logger *logrus.Logger) *TenantContext {
	return &TenantContext{
		Tenant:       tenant,
		AcademicYear: academicYear,
		Logger: logger.WithFields(logrus.Fields{
			"school": tenant.Name,
			"source": tenant.Source,
		}),
	}
}
