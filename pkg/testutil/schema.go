package testutil

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/larder/larder-backend/pkg/config"
	"github.com/larder/larder-backend/pkg/database"
	"github.com/larder/larder-backend/pkg/logger"
)

// TestSchema is an isolated PostgreSQL schema owned by one test.
// DB is pinned to it through search_path.
type TestSchema struct {
	Name string
	DB   *database.DB
}

// SchemaManager creates and drops per-test schemas on the shared container
type SchemaManager struct {
	admin   *sqlx.DB
	baseDSN string
	log     *logger.Logger
	schemas []*TestSchema
	mu      sync.Mutex
}

// NewSchemaManager creates a manager using admin for DDL and baseURL to
// open schema-pinned connections.
func NewSchemaManager(admin *sqlx.DB, baseURL string, log *logger.Logger) *SchemaManager {
	return &SchemaManager{admin: admin, baseDSN: baseURL, log: log}
}

// Create makes a fresh schema, opens a pool pinned to it and runs migrate.
func (sm *SchemaManager) Create(ctx context.Context, migrate func(context.Context, *database.DB) error) (*TestSchema, error) {
	name := "t_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:16]

	if _, err := sm.admin.ExecContext(ctx, fmt.Sprintf("CREATE SCHEMA %s", name)); err != nil {
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	parsed, err := config.ParseDatabaseURL(sm.baseDSN)
	if err != nil {
		return nil, err
	}
	// lib/pq forwards unknown keys as run-time parameters
	parsed.Options["search_path"] = name

	db, err := database.NewWithDSN(parsed.ToDSN(), sm.log)
	if err != nil {
		return nil, err
	}

	schema := &TestSchema{Name: name, DB: db}
	sm.mu.Lock()
	sm.schemas = append(sm.schemas, schema)
	sm.mu.Unlock()

	if migrate != nil {
		if err := migrate(ctx, db); err != nil {
			return nil, fmt.Errorf("failed to migrate schema %s: %w", name, err)
		}
	}

	return schema, nil
}

// Drop closes the schema's pool and removes the schema with its tables.
func (sm *SchemaManager) Drop(ctx context.Context, s *TestSchema) error {
	s.DB.Close()
	_, err := sm.admin.ExecContext(ctx, fmt.Sprintf("DROP SCHEMA IF EXISTS %s CASCADE", s.Name))
	return err
}

// Cleanup drops every schema created so far.
func (sm *SchemaManager) Cleanup(ctx context.Context) error {
	sm.mu.Lock()
	schemas := sm.schemas
	sm.schemas = nil
	sm.mu.Unlock()

	var firstErr error
	for _, s := range schemas {
		if err := sm.Drop(ctx, s); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
