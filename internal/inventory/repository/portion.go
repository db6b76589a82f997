package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/larder/larder-backend/internal/inventory/domain"
	"github.com/larder/larder-backend/pkg/database"
)

const portionColumns = `id, batch_id, item_id, branch_id, label, quantity, status, created_at, updated_at`

// PortionRepository handles portion persistence. Portions are never deleted.
type PortionRepository struct {
	db *database.DB
}

// NewPortionRepository creates a new portion repository
func NewPortionRepository(db *database.DB) *PortionRepository {
	return &PortionRepository{db: db}
}

// CreatePortions inserts the portions carved from one batch
func (r *PortionRepository) CreatePortions(ctx context.Context, portions []domain.Portion) error {
	if len(portions) == 0 {
		return nil
	}
	for i := range portions {
		if portions[i].ID == "" {
			portions[i].ID = uuid.New().String()
		}
	}

	query := `
		INSERT INTO portions (id, batch_id, item_id, branch_id, label, quantity, status)
		VALUES (:id, :batch_id, :item_id, :branch_id, :label, :quantity, :status)
	`
	if _, err := r.db.Conn(ctx).NamedExecContext(ctx, query, portions); err != nil {
		return mapErr(err)
	}
	return nil
}

// GetPortion gets a portion by ID
func (r *PortionRepository) GetPortion(ctx context.Context, id string) (*domain.Portion, error) {
	var p domain.Portion
	query := `SELECT ` + portionColumns + ` FROM portions WHERE id = $1`
	if err := r.db.Conn(ctx).GetContext(ctx, &p, query, id); err != nil {
		return nil, notFound(err, "portion")
	}
	return &p, nil
}

// LockPortions locks the given portions in ID order. Unknown IDs are absent from the result.
func (r *PortionRepository) LockPortions(ctx context.Context, ids []string) ([]domain.Portion, error) {
	portions := []domain.Portion{}
	if len(ids) == 0 {
		return portions, nil
	}
	query := `SELECT ` + portionColumns + ` FROM portions WHERE id = ANY($1::uuid[]) ORDER BY id FOR UPDATE`
	if err := r.db.Conn(ctx).SelectContext(ctx, &portions, query, pq.Array(ids)); err != nil {
		return nil, err
	}
	return portions, nil
}

// UpdatePortion writes status and current branch, the only mutable portion fields
func (r *PortionRepository) UpdatePortion(ctx context.Context, p *domain.Portion) error {
	query := `
		UPDATE portions SET status = $2, branch_id = $3, updated_at = NOW()
		WHERE id = $1
		RETURNING updated_at
	`
	err := r.db.Conn(ctx).QueryRowxContext(ctx, query, p.ID, p.Status, p.BranchID).Scan(&p.UpdatedAt)
	return notFound(err, "portion")
}

// ListPortions lists the portions of a batch by label
func (r *PortionRepository) ListPortions(ctx context.Context, batchID string) ([]domain.Portion, error) {
	portions := []domain.Portion{}
	query := `SELECT ` + portionColumns + ` FROM portions WHERE batch_id = $1 ORDER BY label`
	if err := r.db.Conn(ctx).SelectContext(ctx, &portions, query, batchID); err != nil {
		return nil, err
	}
	return portions, nil
}

type itemCount struct {
	ItemID string `db:"item_id"`
	Count  int    `db:"count"`
}

// UnusedCounts counts UNUSED portions per item currently located at a branch
func (r *PortionRepository) UnusedCounts(ctx context.Context, branchID string) (map[string]int, error) {
	var rows []itemCount
	query := `
		SELECT item_id, COUNT(*) AS count
		FROM portions
		WHERE branch_id = $1 AND status = 'UNUSED'
		GROUP BY item_id
	`
	if err := r.db.Conn(ctx).SelectContext(ctx, &rows, query, branchID); err != nil {
		return nil, err
	}

	counts := make(map[string]int, len(rows))
	for _, row := range rows {
		counts[row.ItemID] = row.Count
	}
	return counts, nil
}

type batchCount struct {
	BatchID string `db:"batch_id"`
	Count   int    `db:"count"`
}

// UnusedByBatch counts UNUSED portions per batch currently located at a
// branch, whichever branch received the batch
func (r *PortionRepository) UnusedByBatch(ctx context.Context, branchID string) (map[string]int, error) {
	var rows []batchCount
	query := `
		SELECT batch_id, COUNT(*) AS count
		FROM portions
		WHERE branch_id = $1 AND status = 'UNUSED'
		GROUP BY batch_id
	`
	if err := r.db.Conn(ctx).SelectContext(ctx, &rows, query, branchID); err != nil {
		return nil, err
	}

	counts := make(map[string]int, len(rows))
	for _, row := range rows {
		counts[row.BatchID] = row.Count
	}
	return counts, nil
}
