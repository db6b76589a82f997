package testutil

import (
	"context"
	"sync"
	"testing"

	"github.com/jmoiron/sqlx"

	"github.com/larder/larder-backend/pkg/config"
	"github.com/larder/larder-backend/pkg/database"
	"github.com/larder/larder-backend/pkg/logger"
)

var (
	// Shared across all integration tests in a package
	globalContainer *PostgresContainer
	globalDB        *sqlx.DB
	containerOnce   sync.Once
	containerErr    error
)

// IntegrationSuite provides a base for integration tests with real PostgreSQL
type IntegrationSuite struct {
	Container *PostgresContainer
	RawDB     *sqlx.DB
	Schemas   *SchemaManager
	Logger    *logger.Logger
}

// NewIntegrationSuite starts (or reuses) the shared container.
// Call it from TestMain only when IntegrationEnabled reports true.
//
//	var suite *testutil.IntegrationSuite
//
//	func TestMain(m *testing.M) {
//	    if testutil.IntegrationEnabled() {
//	        s, err := testutil.NewIntegrationSuite(context.Background())
//	        if err != nil {
//	            log.Fatal(err)
//	        }
//	        suite = s
//	    }
//	    code := m.Run()
//	    testutil.TerminateContainer(context.Background())
//	    os.Exit(code)
//	}
func NewIntegrationSuite(ctx context.Context) (*IntegrationSuite, error) {
	container, db, err := getOrCreateContainer(ctx)
	if err != nil {
		return nil, err
	}

	log := logger.NewNop()
	return &IntegrationSuite{
		Container: container,
		RawDB:     db,
		Schemas:   NewSchemaManager(db, container.DSN, log),
		Logger:    log,
	}, nil
}

func getOrCreateContainer(ctx context.Context) (*PostgresContainer, *sqlx.DB, error) {
	containerOnce.Do(func() {
		globalContainer, containerErr = NewPostgresContainer(ctx, DefaultPostgresConfig())
		if containerErr != nil {
			return
		}
		globalDB, containerErr = globalContainer.Connect(ctx)
	})

	return globalContainer, globalDB, containerErr
}

// SetupSchema gives the test its own migrated schema, dropped on cleanup.
func (s *IntegrationSuite) SetupSchema(t *testing.T, ctx context.Context, migrate func(context.Context, *database.DB) error) *database.DB {
	t.Helper()

	schema, err := s.Schemas.Create(ctx, migrate)
	if err != nil {
		t.Fatalf("failed to create test schema: %v", err)
	}

	t.Cleanup(func() {
		if err := s.Schemas.Drop(context.Background(), schema); err != nil {
			t.Logf("warning: failed to drop schema %s: %v", schema.Name, err)
		}
	})

	return schema.DB
}

// TerminateContainer terminates the shared container.
// Only call this in TestMain after all tests have completed.
func TerminateContainer(ctx context.Context) {
	if globalContainer != nil {
		globalContainer.Terminate(ctx)
	}
}

// IntegrationEnabled reports whether container tests were requested.
func IntegrationEnabled() bool {
	return config.IntegrationEnabled()
}

// RequireIntegration skips the test in -short mode or when no suite was started.
func RequireIntegration(t *testing.T, suite *IntegrationSuite) {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	if suite == nil {
		t.Skip("set LARDER_INTEGRATION=1 to run integration tests")
	}
}
