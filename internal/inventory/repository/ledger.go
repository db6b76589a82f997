package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/larder/larder-backend/internal/inventory/domain"
	"github.com/larder/larder-backend/pkg/database"
)

const ledgerColumns = `id, batch_id, portion_id, item_id, branch_id, user_id, sale_id, transfer_id, action, details, created_at`

// LedgerRepository appends and reads ledger entries. It exposes no update or delete.
type LedgerRepository struct {
	db *database.DB
}

// NewLedgerRepository creates a new ledger repository
func NewLedgerRepository(db *database.DB) *LedgerRepository {
	return &LedgerRepository{db: db}
}

// AppendEntry inserts one ledger entry
func (r *LedgerRepository) AppendEntry(ctx context.Context, e *domain.LedgerEntry) error {
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	if len(e.Details) == 0 {
		e.Details = []byte("{}")
	}

	query := `
		INSERT INTO ledger_entries (id, batch_id, portion_id, item_id, branch_id, user_id, sale_id, transfer_id, action, details)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING created_at
	`
	err := r.db.Conn(ctx).QueryRowxContext(ctx, query,
		e.ID, e.BatchID, e.PortionID, e.ItemID, e.BranchID, e.UserID, e.SaleID, e.TransferID, e.Action, e.Details,
	).Scan(&e.CreatedAt)
	return mapErr(err)
}

// GetEntry gets a ledger entry by ID
func (r *LedgerRepository) GetEntry(ctx context.Context, id string) (*domain.LedgerEntry, error) {
	var e domain.LedgerEntry
	query := `SELECT ` + ledgerColumns + ` FROM ledger_entries WHERE id = $1`
	if err := r.db.Conn(ctx).GetContext(ctx, &e, query, id); err != nil {
		return nil, notFound(err, "ledger entry")
	}
	return &e, nil
}

// LastAdjustment returns the latest ADJUSTMENT_* entry recorded for a portion
func (r *LedgerRepository) LastAdjustment(ctx context.Context, portionID string) (*domain.LedgerEntry, error) {
	var e domain.LedgerEntry
	query := `
		SELECT ` + ledgerColumns + ` FROM ledger_entries
		WHERE portion_id = $1 AND action LIKE 'ADJUSTMENT\_%'
		ORDER BY created_at DESC, id DESC
		LIMIT 1
	`
	if err := r.db.Conn(ctx).GetContext(ctx, &e, query, portionID); err != nil {
		return nil, notFound(err, "adjustment entry")
	}
	return &e, nil
}

// SaleDeducted takes a transaction-scoped advisory lock on the sale line,
// so concurrent deliveries of the same sale queue up behind the first
// writer, then reports whether that line already has a deduction entry.
func (r *LedgerRepository) SaleDeducted(ctx context.Context, saleID, itemID, branchID string) (bool, error) {
	conn := r.db.Conn(ctx)
	if _, err := conn.ExecContext(ctx, `SELECT pg_advisory_xact_lock(hashtext($1), hashtext($2))`, saleID, itemID+"/"+branchID); err != nil {
		return false, err
	}

	var done bool
	query := `
		SELECT EXISTS (
			SELECT 1 FROM ledger_entries
			WHERE sale_id = $1 AND item_id = $2 AND branch_id = $3 AND action = 'DEDUCTED_FOR_SALE'
		)
	`
	if err := conn.GetContext(ctx, &done, query, saleID, itemID, branchID); err != nil {
		return false, err
	}
	return done, nil
}

// BatchEntries lists a batch's entries with the given actions, oldest first
func (r *LedgerRepository) BatchEntries(ctx context.Context, batchID string, actions ...domain.LogAction) ([]domain.LedgerEntry, error) {
	entries := []domain.LedgerEntry{}
	names := make([]string, len(actions))
	for i, a := range actions {
		names[i] = string(a)
	}

	query := `
		SELECT ` + ledgerColumns + ` FROM ledger_entries
		WHERE batch_id = $1 AND action = ANY($2)
		ORDER BY created_at, id
	`
	if err := r.db.Conn(ctx).SelectContext(ctx, &entries, query, batchID, pq.Array(names)); err != nil {
		return nil, err
	}
	return entries, nil
}

// SearchEntries lists entries newest first, joined with item, batch, portion and user names
func (r *LedgerRepository) SearchEntries(ctx context.Context, f domain.LedgerFilter) ([]domain.LedgerRecord, int, error) {
	var w where
	if f.BatchID != "" {
		w.add(`l.batch_id = ?`, f.BatchID)
	}
	if f.PortionID != "" {
		w.add(`l.portion_id = ?`, f.PortionID)
	}
	if f.ItemID != "" {
		w.add(`l.item_id = ?`, f.ItemID)
	}
	if f.BranchID != "" {
		w.add(`l.branch_id = ?`, f.BranchID)
	}
	if f.SaleID != "" {
		w.add(`l.sale_id = ?`, f.SaleID)
	}
	if len(f.Actions) > 0 {
		names := make([]string, len(f.Actions))
		for i, a := range f.Actions {
			names[i] = string(a)
		}
		w.add(`l.action = ANY(?)`, pq.Array(names))
	}
	if f.From != nil {
		w.add(`l.created_at >= ?`, *f.From)
	}
	if f.To != nil {
		w.add(`l.created_at < ?`, *f.To)
	}
	if f.Search != "" {
		w.add(`(i.name ILIKE ? OR i.code ILIKE ? OR b.batch_number ILIKE ? OR p.label ILIKE ? OR u.name ILIKE ?)`,
			likePattern(f.Search))
	}

	from := `
		FROM ledger_entries l
		JOIN items i ON i.id = l.item_id
		JOIN batches b ON b.id = l.batch_id
		LEFT JOIN portions p ON p.id = l.portion_id
		LEFT JOIN user_cache u ON u.user_id = l.user_id
	`

	var total int
	if err := r.db.Conn(ctx).GetContext(ctx, &total, `SELECT COUNT(*)`+from+w.sql(), w.args...); err != nil {
		return nil, 0, err
	}

	limit, args := w.page(f.Page)
	records := []domain.LedgerRecord{}
	query := `
		SELECT l.id, l.batch_id, l.portion_id, l.item_id, l.branch_id, l.user_id, l.sale_id, l.transfer_id,
		       l.action, l.details, l.created_at,
		       i.name AS item_name, i.code AS item_code, b.batch_number,
		       p.label AS portion_label, u.name AS user_name` + from + w.sql() + `
		ORDER BY l.created_at DESC, l.id DESC` + limit
	if err := r.db.Conn(ctx).SelectContext(ctx, &records, query, args...); err != nil {
		return nil, 0, err
	}
	return records, total, nil
}
