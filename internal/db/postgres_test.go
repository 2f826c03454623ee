package db

import (
	"context"
	"io"
	"os"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edudata-io/sis-sync/internal/models"
)

// setupTestDB connects to the database named by TEST_DB_DSN, or skips. The
// schema is migrated up front and ingestion tables are emptied per test.
func setupTestDB(t *testing.T) *PostgresStore {
	t.Helper()
	dsn := os.Getenv("TEST_DB_DSN")
	if dsn == "" {
		t.Skip("TEST_DB_DSN not set")
	}

	store, err := NewPostgresStore(dsn)
	require.NoError(t, err)
	require.NoError(t, store.Migrate())

	_, err = store.DB().Exec(`
		TRUNCATE tenant_configs, schools, sync_runs, sync_run_schools,
			students, staff_members, school_classes, class_allocations,
			attendance_entries, plan_entries, assessment_results
		RESTART IDENTITY CASCADE
	`)
	require.NoError(t, err)

	t.Cleanup(func() { store.Close() })
	return store
}

// seedTenant inserts one tenant config row and returns its id, satisfying
// the foreign keys on schools and sync_run_schools.
func seedTenant(t *testing.T, store *PostgresStore) int64 {
	t.Helper()
	var id int64
	err := store.DB().QueryRow(`
		INSERT INTO tenant_configs (name, source, base_url, token_url, client_id, client_secret, external_school_id)
		VALUES ('Test College', 'somtoday', 'https://api.test', 'https://auth.test/token', 'client-1', 'secret', 'S100')
		RETURNING id
	`).Scan(&id)
	require.NoError(t, err)
	return id
}

func TestPostgresStore_SchoolOperations(t *testing.T) {
	store := setupTestDB(t)
	ctx := context.Background()
	tenantID := seedTenant(t, store)

	t.Run("upsert school is idempotent", func(t *testing.T) {
		school := &models.School{
			TenantID:   tenantID,
			ExternalID: "S100",
			Name:       "Test College",
			Source:     models.SourceSomtoday,
		}

		id1, err := store.UpsertSchool(ctx, school)
		require.NoError(t, err)

		school.Name = "Test College (renamed)"
		id2, err := store.UpsertSchool(ctx, school)
		require.NoError(t, err)
		assert.Equal(t, id1, id2)
	})
}

func TestPostgresStore_RunLifecycle(t *testing.T) {
	store := setupTestDB(t)
	ctx := context.Background()
	tenantID := seedTenant(t, store)

	run := &models.SyncRun{
		ID:           "11111111-2222-3333-4444-555555555555",
		Scope:        "all-active",
		AcademicYear: 2025,
		TriggeredBy:  "test",
		Status:       models.RunStatusRunning,
		TotalSchools: 1,
		StartedAt:    time.Now().UTC().Truncate(time.Second),
	}
	require.NoError(t, store.CreateSyncRun(ctx, run))

	schools := []*models.SyncRunSchool{
		{RunID: run.ID, TenantID: tenantID, SchoolName: "Test College", Source: models.SourceSomtoday, Status: models.SchoolStatusPending},
	}
	require.NoError(t, store.CreateRunSchools(ctx, schools))
	assert.NotZero(t, schools[0].ID)

	require.NoError(t, store.MarkRunSchoolsRunning(ctx, run.ID, run.StartedAt))

	finished := time.Now().UTC().Truncate(time.Second)
	schools[0].Status = models.SchoolStatusCompleted
	schools[0].FinishedAt = &finished
	require.NoError(t, store.UpdateRunSchool(ctx, schools[0]))

	run.Status = models.RunStatusCompleted
	run.SchoolsSucceeded = 1
	run.FinishedAt = &finished
	require.NoError(t, store.UpdateSyncRun(ctx, run))

	got, err := store.GetSyncRun(ctx, run.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, models.RunStatusCompleted, got.Status)
	assert.Equal(t, 1, got.SchoolsSucceeded)

	gotSchools, err := store.ListRunSchools(ctx, run.ID)
	require.NoError(t, err)
	require.Len(t, gotSchools, 1)
	assert.Equal(t, models.SchoolStatusCompleted, gotSchools[0].Status)

	t.Run("missing run is nil", func(t *testing.T) {
		got, err := store.GetSyncRun(ctx, "99999999-0000-0000-0000-000000000000")
		require.NoError(t, err)
		assert.Nil(t, got)
	})
}

func TestBulkLoaderAgainstDB(t *testing.T) {
	store := setupTestDB(t)
	ctx := context.Background()

	logger := logrus.New()
	logger.SetOutput(io.Discard)
	loader := NewBulkLoader(store.DB(), 65535, logger)

	tenantID := seedTenant(t, store)
	schoolID, err := store.UpsertSchool(ctx, &models.School{
		TenantID: tenantID, ExternalID: "S100", Name: "Test College", Source: models.SourceSomtoday,
	})
	require.NoError(t, err)

	spec := TableSpec{
		Table:       "students",
		Columns:     []string{"school_id", "external_ref", "first_name"},
		ConflictKey: []string{"school_id", "external_ref"},
	}

	rows := [][]interface{}{
		{schoolID, "1001", "Anna"},
		{schoolID, "1002", "Bram"},
	}

	n, err := loader.Load(ctx, spec, rows)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	// Loading the same natural keys again must not duplicate.
	rows[0][2] = "Anna-Maria"
	n, err = loader.Load(ctx, spec, rows)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	var count int
	require.NoError(t, store.DB().QueryRow(`SELECT COUNT(*) FROM students`).Scan(&count))
	assert.Equal(t, 2, count)

	var name string
	require.NoError(t, store.DB().QueryRow(
		`SELECT first_name FROM students WHERE school_id = $1 AND external_ref = $2`,
		schoolID, "1001").Scan(&name))
	assert.Equal(t, "Anna-Maria", name)

	// A batch repeating a natural key (pagination can shift records across
	// page boundaries) must still commit, with the last occurrence winning.
	n, err = loader.Load(ctx, spec, [][]interface{}{
		{schoolID, "1003", "Cas"},
		{schoolID, "1003", "Caspar"},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	require.NoError(t, store.DB().QueryRow(
		`SELECT first_name FROM students WHERE school_id = $1 AND external_ref = $2`,
		schoolID, "1003").Scan(&name))
	assert.Equal(t, "Caspar", name)
}

func TestResolverAgainstDB(t *testing.T) {
	store := setupTestDB(t)
	ctx := context.Background()

	tenantID := seedTenant(t, store)
	schoolID, err := store.UpsertSchool(ctx, &models.School{
		TenantID: tenantID, ExternalID: "S100", Name: "Test College", Source: models.SourceSomtoday,
	})
	require.NoError(t, err)

	_, err = store.DB().Exec(`
		INSERT INTO students (school_id, external_ref, first_name) VALUES
			($1, '1001', 'Anna'),
			($1, 'ST-1002', 'Bram')
	`, schoolID)
	require.NoError(t, err)

	resolver := NewResolver(store.DB(), 1000)
	refs, err := resolver.ResolveStudents(ctx, schoolID, []string{"1001", "1002", "1003"})
	require.NoError(t, err)

	assert.Equal(t, int64(1), refs["1001"])

	// 1002 only exists in its prefixed form; the alternate-form pass finds it
	// and maps it back to the bare number asked about.
	assert.Contains(t, refs, "1002")

	// Unknown identifiers are simply absent.
	assert.NotContains(t, refs, "1003")
}
