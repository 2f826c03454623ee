package db

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/lib/pq"

	"github.com/edudata-io/sis-sync/internal/models"
)

const tenantColumns = `id, name, source, base_url, token_url, client_id, client_secret, external_school_id, active`

// ListActiveTenants retrieves every active tenant config across both sources
func (s *PostgresStore) ListActiveTenants(ctx context.Context) ([]models.TenantConfig, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+tenantColumns+` FROM tenant_configs
		WHERE active = TRUE
		ORDER BY source, name
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query tenant configs: %w", err)
	}
	defer rows.Close()

	return scanTenants(rows)
}

// GetTenants retrieves the tenant configs with the given ids
func (s *PostgresStore) GetTenants(ctx context.Context, ids []int64) ([]models.TenantConfig, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+tenantColumns+` FROM tenant_configs
		WHERE id = ANY($1)
		ORDER BY source, name
	`, pq.Array(ids))
	if err != nil {
		return nil, fmt.Errorf("failed to query tenant configs: %w", err)
	}
	defer rows.Close()

	return scanTenants(rows)
}

func scanTenants(rows *sql.Rows) ([]models.TenantConfig, error) {
	var tenants []models.TenantConfig
	for rows.Next() {
		var t models.TenantConfig
		var externalID sql.NullString
		if err := rows.Scan(
			&t.ID,
			&t.Name,
			&t.Source,
			&t.BaseURL,
			&t.TokenURL,
			&t.ClientID,
			&t.ClientSecret,
			&externalID,
			&t.Active,
		); err != nil {
			return nil, fmt.Errorf("failed to scan tenant config row: %w", err)
		}
		t.ExternalSchoolID = externalID.String
		tenants = append(tenants, t)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating tenant config rows: %w", err)
	}

	return tenants, nil
}

// UpsertSchool inserts or updates the destination school row for a tenant
// and returns its internal surrogate key.
func (s *PostgresStore) UpsertSchool(ctx context.Context, school *models.School) (int64, error) {
	var id int64
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO schools (tenant_id, external_id, name, source, created_at, updated_at)
		VALUES ($1, $2, $3, $4, NOW(), NOW())
		ON CONFLICT (source, external_id) DO UPDATE SET
			name = EXCLUDED.name,
			tenant_id = EXCLUDED.tenant_id,
			updated_at = NOW()
		RETURNING id
	`, school.TenantID, school.ExternalID, school.Name, school.Source).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("failed to upsert school: %w", err)
	}
	school.ID = id
	return id, nil
}
