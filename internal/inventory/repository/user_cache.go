package repository

import (
	"context"

	"github.com/larder/larder-backend/pkg/actor"
	"github.com/larder/larder-backend/pkg/database"
)

// UserCacheRepository keeps display data of users referenced by ledger entries
type UserCacheRepository struct {
	db *database.DB
}

// NewUserCacheRepository creates a new user cache repository
func NewUserCacheRepository(db *database.DB) *UserCacheRepository {
	return &UserCacheRepository{db: db}
}

// UpsertUser creates or updates a cached user
func (r *UserCacheRepository) UpsertUser(ctx context.Context, u *actor.CachedUser) error {
	query := `
		INSERT INTO user_cache (user_id, name, email, branch_id, updated_at)
		VALUES ($1, $2, $3, $4, NOW())
		ON CONFLICT (user_id)
		DO UPDATE SET name = $2, email = $3, branch_id = $4, updated_at = NOW()
	`
	_, err := r.db.Conn(ctx).ExecContext(ctx, query, u.UserID, u.Name, u.Email, u.BranchID)
	return mapErr(err)
}

// GetUser gets a cached user by ID
func (r *UserCacheRepository) GetUser(ctx context.Context, userID string) (*actor.CachedUser, error) {
	var u actor.CachedUser
	query := `SELECT user_id, name, email, branch_id FROM user_cache WHERE user_id = $1`
	if err := r.db.Conn(ctx).GetContext(ctx, &u, query, userID); err != nil {
		return nil, notFound(err, "user")
	}
	return &u, nil
}

// DeleteUser removes a cached user. Ledger entries keep the bare user ID.
func (r *UserCacheRepository) DeleteUser(ctx context.Context, userID string) error {
	_, err := r.db.Conn(ctx).ExecContext(ctx, `DELETE FROM user_cache WHERE user_id = $1`, userID)
	return err
}
