package repository

import (
	"context"
	_ "embed"
	"fmt"

	"github.com/larder/larder-backend/pkg/database"
)

//go:embed schema.sql
var schemaSQL string

// Migrate creates the inventory tables if they do not exist yet.
func Migrate(ctx context.Context, db *database.DB) error {
	if _, err := db.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("failed to apply inventory schema: %w", err)
	}
	return nil
}
