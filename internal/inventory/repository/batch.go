package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"

	"github.com/larder/larder-backend/internal/inventory/domain"
	"github.com/larder/larder-backend/pkg/database"
)

const batchColumns = `id, item_id, branch_id, batch_number, label, source, source_transfer_id, source_batch_id,
	quantity_received, remaining_quantity, unit_cost, received_at, expiration_date, created_at, updated_at`

// BatchRepository handles batch persistence.
//
// Lock* methods take row locks with FOR UPDATE and must run inside
// database.DB.WithTx. Multi-row locks are always acquired in
// (received_at, id) order.
type BatchRepository struct {
	db *database.DB
}

// NewBatchRepository creates a new batch repository
func NewBatchRepository(db *database.DB) *BatchRepository {
	return &BatchRepository{db: db}
}

// CreateBatch inserts a new batch
func (r *BatchRepository) CreateBatch(ctx context.Context, b *domain.Batch) error {
	if b.ID == "" {
		b.ID = uuid.New().String()
	}
	if b.ReceivedAt.IsZero() {
		b.ReceivedAt = time.Now().UTC()
	}

	query := `
		INSERT INTO batches (
			id, item_id, branch_id, batch_number, label, source, source_transfer_id, source_batch_id,
			quantity_received, remaining_quantity, unit_cost, received_at, expiration_date
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		RETURNING created_at, updated_at
	`

	err := r.db.Conn(ctx).QueryRowxContext(ctx, query,
		b.ID, b.ItemID, b.BranchID, b.BatchNumber, b.Label, b.Source, b.SourceTransferID, b.SourceBatchID,
		b.QuantityReceived, b.RemainingQuantity, b.UnitCost, b.ReceivedAt, b.ExpirationDate,
	).Scan(&b.CreatedAt, &b.UpdatedAt)
	return mapErr(err)
}

// GetBatch gets a batch by ID
func (r *BatchRepository) GetBatch(ctx context.Context, id string) (*domain.Batch, error) {
	var b domain.Batch
	query := `SELECT ` + batchColumns + ` FROM batches WHERE id = $1`
	if err := r.db.Conn(ctx).GetContext(ctx, &b, query, id); err != nil {
		return nil, notFound(err, "batch")
	}
	return &b, nil
}

// LockBatch gets a batch and locks its row
func (r *BatchRepository) LockBatch(ctx context.Context, id string) (*domain.Batch, error) {
	var b domain.Batch
	query := `SELECT ` + batchColumns + ` FROM batches WHERE id = $1 FOR UPDATE`
	if err := r.db.Conn(ctx).GetContext(ctx, &b, query, id); err != nil {
		return nil, notFound(err, "batch")
	}
	return &b, nil
}

// LockBatches locks the given batches. Unknown IDs are simply absent from the result.
func (r *BatchRepository) LockBatches(ctx context.Context, ids []string) ([]domain.Batch, error) {
	batches := []domain.Batch{}
	if len(ids) == 0 {
		return batches, nil
	}
	query := `SELECT ` + batchColumns + ` FROM batches WHERE id = ANY($1::uuid[]) ORDER BY received_at, id FOR UPDATE`
	if err := r.db.Conn(ctx).SelectContext(ctx, &batches, query, pq.Array(ids)); err != nil {
		return nil, err
	}
	return batches, nil
}

// LockAvailableBatches locks every batch of an item at a branch with stock
// left, oldest receipt first.
func (r *BatchRepository) LockAvailableBatches(ctx context.Context, itemID, branchID string) ([]domain.Batch, error) {
	batches := []domain.Batch{}
	query := `
		SELECT ` + batchColumns + ` FROM batches
		WHERE item_id = $1 AND branch_id = $2 AND remaining_quantity > 0
		ORDER BY received_at, id
		FOR UPDATE
	`
	if err := r.db.Conn(ctx).SelectContext(ctx, &batches, query, itemID, branchID); err != nil {
		return nil, err
	}
	return batches, nil
}

// UpdateBatchQuantities writes quantity_received and remaining_quantity
func (r *BatchRepository) UpdateBatchQuantities(ctx context.Context, b *domain.Batch) error {
	query := `
		UPDATE batches SET quantity_received = $2, remaining_quantity = $3, updated_at = NOW()
		WHERE id = $1
		RETURNING updated_at
	`
	err := r.db.Conn(ctx).QueryRowxContext(ctx, query, b.ID, b.QuantityReceived, b.RemainingQuantity).Scan(&b.UpdatedAt)
	return notFound(err, "batch")
}

// UpdateBatchMetadata writes the editable batch fields
func (r *BatchRepository) UpdateBatchMetadata(ctx context.Context, b *domain.Batch) error {
	query := `
		UPDATE batches SET label = $2, source = $3, unit_cost = $4, expiration_date = $5, updated_at = NOW()
		WHERE id = $1
		RETURNING updated_at
	`
	err := r.db.Conn(ctx).QueryRowxContext(ctx, query, b.ID, b.Label, b.Source, b.UnitCost, b.ExpirationDate).Scan(&b.UpdatedAt)
	return notFound(err, "batch")
}

// availableBatch keeps batches with stock at their own branch. Portion
// batches never decrement remaining_quantity, so they count unused
// portions still located there instead.
const availableBatch = `(CASE WHEN EXISTS (
		SELECT 1 FROM items i WHERE i.id = batches.item_id AND i.tracking_type = 'BY_PORTION'
	) THEN EXISTS (
		SELECT 1 FROM portions p
		WHERE p.batch_id = batches.id AND p.branch_id = batches.branch_id AND p.status = 'UNUSED'
	) ELSE remaining_quantity > 0 END)`

// ListBatches lists batches in FIFO order
func (r *BatchRepository) ListBatches(ctx context.Context, f domain.BatchFilter) ([]domain.Batch, int, error) {
	var w where
	if f.ItemID != "" {
		w.add(`item_id = ?`, f.ItemID)
	}
	if f.BranchID != "" {
		w.add(`branch_id = ?`, f.BranchID)
	}
	if f.OnlyAvailable {
		w.addRaw(availableBatch)
	}
	if f.WithExpiry {
		w.addRaw(`expiration_date IS NOT NULL`)
	}

	var total int
	if err := r.db.Conn(ctx).GetContext(ctx, &total, `SELECT COUNT(*) FROM batches`+w.sql(), w.args...); err != nil {
		return nil, 0, err
	}

	limit, args := w.page(f.Page)
	batches := []domain.Batch{}
	query := `SELECT ` + batchColumns + ` FROM batches` + w.sql() + ` ORDER BY received_at, id` + limit
	if err := r.db.Conn(ctx).SelectContext(ctx, &batches, query, args...); err != nil {
		return nil, 0, err
	}
	return batches, total, nil
}

// CountBatches counts the batches ever received for an item
func (r *BatchRepository) CountBatches(ctx context.Context, itemID string) (int, error) {
	var n int
	if err := r.db.Conn(ctx).GetContext(ctx, &n, `SELECT COUNT(*) FROM batches WHERE item_id = $1`, itemID); err != nil {
		return 0, err
	}
	return n, nil
}

type itemTotal struct {
	ItemID string          `db:"item_id"`
	Total  decimal.Decimal `db:"total"`
}

// RemainingTotals sums remaining quantity per measure-tracked item at a branch
func (r *BatchRepository) RemainingTotals(ctx context.Context, branchID string) (map[string]decimal.Decimal, error) {
	var rows []itemTotal
	query := `
		SELECT b.item_id, SUM(b.remaining_quantity) AS total
		FROM batches b
		JOIN items i ON i.id = b.item_id
		WHERE b.branch_id = $1 AND i.tracking_type = 'BY_MEASURE'
		GROUP BY b.item_id
	`
	if err := r.db.Conn(ctx).SelectContext(ctx, &rows, query, branchID); err != nil {
		return nil, err
	}

	totals := make(map[string]decimal.Decimal, len(rows))
	for _, row := range rows {
		totals[row.ItemID] = row.Total
	}
	return totals, nil
}
