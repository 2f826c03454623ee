package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/edudata-io/sis-sync/internal/models"

	_ "github.com/lib/pq"
	"github.com/pressly/goose/v3"
)

type PostgresStore struct {
	db *sql.DB
}

// Store defines the interface for database operations
type Store interface {
	// Tenant operations
	ListActiveTenants(ctx context.Context) ([]models.TenantConfig, error)
	GetTenants(ctx context.Context, ids []int64) ([]models.TenantConfig, error)

	// School operations
	UpsertSchool(ctx context.Context, school *models.School) (int64, error)

	// Run tracking
	CreateSyncRun(ctx context.Context, run *models.SyncRun) error
	UpdateSyncRun(ctx context.Context, run *models.SyncRun) error
	GetSyncRun(ctx context.Context, runID string) (*models.SyncRun, error)
	ListSyncRuns(ctx context.Context, limit int) ([]*models.SyncRun, error)
	CreateRunSchools(ctx context.Context, schools []*models.SyncRunSchool) error
	UpdateRunSchool(ctx context.Context, school *models.SyncRunSchool) error
	ListRunSchools(ctx context.Context, runID string) ([]*models.SyncRunSchool, error)
	MarkRunSchoolsRunning(ctx context.Context, runID string, at time.Time) error
}

func NewPostgresStore(connectionString string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", connectionString)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	// The pool is shared by every concurrent tenant task; it must tolerate
	// full fan-out concurrency.
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(30 * time.Minute)

	return &PostgresStore{db: db}, nil
}

// DB exposes the underlying pool for the bulk loader and resolver, which
// manage their own transactions.
func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

func (s *PostgresStore) Migrate() error {
	if err := goose.SetDialect("postgres"); err != nil {
		return err
	}

	if err := goose.Up(s.db, "internal/db/migrations"); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}

func (s *PostgresStore) Close() error {
	return s.db.Close()
}
