package repository

import (
	"context"
	"database/sql"
	"errors"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/larder/larder-backend/internal/inventory/domain"
	"github.com/larder/larder-backend/pkg/database"
)

const itemColumns = `id, name, code, category, unit, tracking_type, days_to_warn_before_expiry, created_at, updated_at`

// ItemRepository handles catalog items and their per-branch stocking settings
type ItemRepository struct {
	db *database.DB
}

// NewItemRepository creates a new item repository
func NewItemRepository(db *database.DB) *ItemRepository {
	return &ItemRepository{db: db}
}

// CreateItem inserts a new item
func (r *ItemRepository) CreateItem(ctx context.Context, item *domain.Item) error {
	if item.ID == "" {
		item.ID = uuid.New().String()
	}

	query := `
		INSERT INTO items (id, name, code, category, unit, tracking_type, days_to_warn_before_expiry)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING created_at, updated_at
	`

	err := r.db.Conn(ctx).QueryRowxContext(ctx, query,
		item.ID, item.Name, item.Code, item.Category, item.Unit, item.TrackingType, item.DaysToWarnBeforeExpiry,
	).Scan(&item.CreatedAt, &item.UpdatedAt)
	return mapErr(err)
}

// GetItem gets an item by ID
func (r *ItemRepository) GetItem(ctx context.Context, id string) (*domain.Item, error) {
	var item domain.Item
	query := `SELECT ` + itemColumns + ` FROM items WHERE id = $1`
	if err := r.db.Conn(ctx).GetContext(ctx, &item, query, id); err != nil {
		return nil, notFound(err, "item")
	}
	return &item, nil
}

// LockItem gets an item and holds its row lock until the transaction ends
func (r *ItemRepository) LockItem(ctx context.Context, id string) (*domain.Item, error) {
	var item domain.Item
	query := `SELECT ` + itemColumns + ` FROM items WHERE id = $1 FOR UPDATE`
	if err := r.db.Conn(ctx).GetContext(ctx, &item, query, id); err != nil {
		return nil, notFound(err, "item")
	}
	return &item, nil
}

// ShareItem gets an item under a shared row lock. It blocks LockItem
// holders, so the tracking type cannot change before the transaction ends.
func (r *ItemRepository) ShareItem(ctx context.Context, id string) (*domain.Item, error) {
	var item domain.Item
	query := `SELECT ` + itemColumns + ` FROM items WHERE id = $1 FOR SHARE`
	if err := r.db.Conn(ctx).GetContext(ctx, &item, query, id); err != nil {
		return nil, notFound(err, "item")
	}
	return &item, nil
}

// UpdateItem updates the mutable item fields
func (r *ItemRepository) UpdateItem(ctx context.Context, item *domain.Item) error {
	query := `
		UPDATE items SET
			name = $2, code = $3, category = $4, unit = $5, tracking_type = $6,
			days_to_warn_before_expiry = $7, updated_at = NOW()
		WHERE id = $1
		RETURNING updated_at
	`

	err := r.db.Conn(ctx).QueryRowxContext(ctx, query,
		item.ID, item.Name, item.Code, item.Category, item.Unit, item.TrackingType, item.DaysToWarnBeforeExpiry,
	).Scan(&item.UpdatedAt)
	return notFound(err, "item")
}

// ListItems lists items ordered by name
func (r *ItemRepository) ListItems(ctx context.Context, f domain.ItemFilter) ([]domain.Item, int, error) {
	var w where
	if f.Search != "" {
		w.add(`(name ILIKE ? OR code ILIKE ?)`, likePattern(f.Search))
	}
	if f.Category != "" {
		w.add(`category = ?`, f.Category)
	}
	if f.TrackingType != "" {
		w.add(`tracking_type = ?`, f.TrackingType)
	}

	var total int
	if err := r.db.Conn(ctx).GetContext(ctx, &total, `SELECT COUNT(*) FROM items`+w.sql(), w.args...); err != nil {
		return nil, 0, err
	}

	limit, args := w.page(f.Page)
	items := []domain.Item{}
	query := `SELECT ` + itemColumns + ` FROM items` + w.sql() + ` ORDER BY name, id` + limit
	if err := r.db.Conn(ctx).SelectContext(ctx, &items, query, args...); err != nil {
		return nil, 0, err
	}
	return items, total, nil
}

// UpsertBranchStock sets the stocking flag and low-stock threshold of an item at a branch
func (r *ItemRepository) UpsertBranchStock(ctx context.Context, bs *domain.BranchStock) error {
	query := `
		INSERT INTO branch_stock (item_id, branch_id, is_stocked, low_stock_threshold, updated_at)
		VALUES ($1, $2, $3, $4, NOW())
		ON CONFLICT (item_id, branch_id)
		DO UPDATE SET is_stocked = $3, low_stock_threshold = $4, updated_at = NOW()
		RETURNING updated_at
	`

	err := r.db.Conn(ctx).QueryRowxContext(ctx, query,
		bs.ItemID, bs.BranchID, bs.IsStocked, bs.LowStockThreshold,
	).Scan(&bs.UpdatedAt)
	return mapErr(err)
}

// GetBranchStock returns the branch settings of an item. An item never
// configured for the branch comes back unstocked with a zero threshold.
func (r *ItemRepository) GetBranchStock(ctx context.Context, itemID, branchID string) (*domain.BranchStock, error) {
	var bs domain.BranchStock
	query := `
		SELECT item_id, branch_id, is_stocked, low_stock_threshold, updated_at
		FROM branch_stock WHERE item_id = $1 AND branch_id = $2
	`
	err := r.db.Conn(ctx).GetContext(ctx, &bs, query, itemID, branchID)
	if errors.Is(err, sql.ErrNoRows) {
		return &domain.BranchStock{ItemID: itemID, BranchID: branchID, LowStockThreshold: decimal.Zero}, nil
	}
	if err != nil {
		return nil, err
	}
	return &bs, nil
}

// ListBranchStock lists the settings of every item configured at a branch
func (r *ItemRepository) ListBranchStock(ctx context.Context, branchID string) ([]domain.BranchStock, error) {
	rows := []domain.BranchStock{}
	query := `
		SELECT item_id, branch_id, is_stocked, low_stock_threshold, updated_at
		FROM branch_stock WHERE branch_id = $1
		ORDER BY item_id
	`
	if err := r.db.Conn(ctx).SelectContext(ctx, &rows, query, branchID); err != nil {
		return nil, err
	}
	return rows, nil
}

// StockedBranches returns every branch that stocks at least one item
func (r *ItemRepository) StockedBranches(ctx context.Context) ([]string, error) {
	branches := []string{}
	query := `SELECT DISTINCT branch_id FROM branch_stock WHERE is_stocked ORDER BY branch_id`
	if err := r.db.Conn(ctx).SelectContext(ctx, &branches, query); err != nil {
		return nil, err
	}
	return branches, nil
}
